package resultschema

import "testing"

func sampleVulns() []Vulnerability {
	return []Vulnerability{
		{"host": "10.0.0.5", "severity": "3", "cvss_base_score": 7.5, "exploit_available": true, "cve": []string{"CVE-2020-0001"}},
		{"host": "10.0.0.6", "severity": "1", "cvss_base_score": 2.0, "exploit_available": false, "cve": []string{"CVE-2019-9999"}},
	}
}

func TestApplyFiltersStringSubstringMatchIsCaseInsensitive(t *testing.T) {
	out := ApplyFilters(sampleVulns(), map[string]any{"host": "0.0.5"})
	if len(out) != 1 || out[0]["host"] != "10.0.0.5" {
		t.Fatalf("expected substring match on host, got %v", out)
	}
	out = ApplyFilters([]Vulnerability{{"plugin_name": "OpenSSH Weak Ciphers"}}, map[string]any{"plugin_name": "openssh"})
	if len(out) != 1 {
		t.Fatalf("expected case-insensitive substring match on plugin_name, got %v", out)
	}
}

func TestApplyFiltersNumericOperatorPrefix(t *testing.T) {
	out := ApplyFilters(sampleVulns(), map[string]any{"cvss_base_score": ">5"})
	if len(out) != 1 || out[0]["host"] != "10.0.0.5" {
		t.Fatalf("expected numeric filter >5 to match only the 7.5 score, got %v", out)
	}
}

func TestApplyFiltersBooleanExactMatch(t *testing.T) {
	out := ApplyFilters(sampleVulns(), map[string]any{"exploit_available": true})
	if len(out) != 1 || out[0]["host"] != "10.0.0.5" {
		t.Fatalf("expected boolean filter to match only exploit_available=true, got %v", out)
	}
}

func TestApplyFiltersSliceSubstringMatch(t *testing.T) {
	out := ApplyFilters(sampleVulns(), map[string]any{"cve": "2019"})
	if len(out) != 1 || out[0]["host"] != "10.0.0.6" {
		t.Fatalf("expected slice-field substring match on cve, got %v", out)
	}
}

func TestApplyFiltersANDsAcrossFields(t *testing.T) {
	out := ApplyFilters(sampleVulns(), map[string]any{"severity": "3", "exploit_available": true})
	if len(out) != 1 {
		t.Fatalf("expected AND logic across filters to narrow to 1, got %d", len(out))
	}
	out = ApplyFilters(sampleVulns(), map[string]any{"severity": "3", "exploit_available": false})
	if len(out) != 0 {
		t.Fatalf("expected mismatched AND filters to yield zero results, got %d", len(out))
	}
}

func TestApplyFiltersMissingFieldExcludes(t *testing.T) {
	out := ApplyFilters(sampleVulns(), map[string]any{"nonexistent_field": "x"})
	if len(out) != 0 {
		t.Fatalf("expected vulnerabilities lacking the filtered field to be excluded, got %d", len(out))
	}
}

func TestApplyFiltersEmptyIsNoOp(t *testing.T) {
	out := ApplyFilters(sampleVulns(), nil)
	if len(out) != 2 {
		t.Fatalf("expected nil filters to be a no-op, got %d", len(out))
	}
}
