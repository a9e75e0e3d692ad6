package resultschema

import "testing"

func TestParseExtractsHostsAndPlugins(t *testing.T) {
	result, err := Parse([]byte(fixtureDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.ScanMetadata.ScanName != "weekly-scan" {
		t.Fatalf("expected scan name weekly-scan, got %q", result.ScanMetadata.ScanName)
	}
	if len(result.Vulnerabilities) != 2 {
		t.Fatalf("expected 2 vulnerabilities, got %d", len(result.Vulnerabilities))
	}

	first := result.Vulnerabilities[0]
	if first["host"] != "10.0.0.5" || first["plugin_id"] != "1001" {
		t.Fatalf("unexpected first vulnerability: %v", first)
	}
	cves, ok := first["cve"].([]string)
	if !ok || len(cves) != 2 {
		t.Fatalf("expected 2 repeated cve child elements collected into a slice, got %v", first["cve"])
	}
	if score, ok := first["cvss_base_score"].(float64); !ok || score != 5.3 {
		t.Fatalf("expected cvss_base_score coerced to float64(5.3), got %v", first["cvss_base_score"])
	}
	if first["exploit_available"] != true {
		t.Fatalf("expected exploit_available coerced to bool true, got %v", first["exploit_available"])
	}

	second := result.Vulnerabilities[1]
	if second["exploit_available"] != false {
		t.Fatalf("expected exploit_available coerced to bool false, got %v", second["exploit_available"])
	}
	if _, hasCVE := second["cve"]; hasCVE {
		t.Fatalf("expected a plugin with no cve children to omit the field, got %v", second["cve"])
	}
}

func TestParseDefaultsMissingScanName(t *testing.T) {
	result, err := Parse([]byte(`<NessusClientData_v2><Report></Report></NessusClientData_v2>`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.ScanMetadata.ScanName != "Unknown" {
		t.Fatalf("expected scan name to default to Unknown, got %q", result.ScanMetadata.ScanName)
	}
	if len(result.Vulnerabilities) != 0 {
		t.Fatalf("expected no vulnerabilities for an empty report, got %d", len(result.Vulnerabilities))
	}
}

func TestParseRejectsMalformedXML(t *testing.T) {
	if _, err := Parse([]byte("not xml at all <<<")); err == nil {
		t.Fatalf("expected an error parsing malformed XML")
	}
}
