package validator

import "testing"

func withCredentialedChecks(status string) []byte {
	return []byte(`<?xml version="1.0"?>
<NessusClientData_v2>
  <Report>
    <ReportHost>
      <ReportItem pluginID="19506" severity="0">
        <plugin_output>Information about this scan :

Nessus version : 10.0.0
Credentialed checks : ` + status + `
</plugin_output>
      </ReportItem>
      <ReportItem pluginID="10180" severity="2"></ReportItem>
    </ReportHost>
  </Report>
</NessusClientData_v2>`)
}

func TestValidateTooSmallFails(t *testing.T) {
	result := Validate([]byte("short"), ScanTypeUntrusted, 0)
	if result.Valid {
		t.Fatalf("expected a tiny artifact to fail validation")
	}
	if result.AuthenticationStatus != AuthUnknown {
		t.Fatalf("expected auth status unknown for a structurally invalid artifact, got %s", result.AuthenticationStatus)
	}
}

func TestValidateMalformedXMLFails(t *testing.T) {
	junk := make([]byte, 60)
	for i := range junk {
		junk[i] = '<'
	}
	result := Validate(junk, ScanTypeUntrusted, 0)
	if result.Valid {
		t.Fatalf("expected malformed xml to fail validation")
	}
}

func TestValidateNoHostsFails(t *testing.T) {
	doc := []byte(`<NessusClientData_v2><Report name="empty-report-with-a-long-enough-name-to-clear-the-size-floor"></Report></NessusClientData_v2>`)
	result := Validate(doc, ScanTypeUntrusted, 0)
	if result.Valid {
		t.Fatalf("expected a report with zero hosts to fail validation")
	}
}

func TestValidateUntrustedIsNotApplicable(t *testing.T) {
	result := Validate(withCredentialedChecks("no"), ScanTypeUntrusted, 0)
	if !result.Valid {
		t.Fatalf("expected untrusted scan to validate regardless of credential status: %s", result.Error)
	}
	if result.AuthenticationStatus != AuthNotApplicable {
		t.Fatalf("expected not_applicable for untrusted scan, got %s", result.AuthenticationStatus)
	}
}

func TestValidateTrustedScanSuccessfulAuth(t *testing.T) {
	result := Validate(withCredentialedChecks("yes"), ScanTypeAuthenticated, 0)
	if !result.Valid {
		t.Fatalf("expected successful credentialed scan to validate: %s", result.Error)
	}
	if result.AuthenticationStatus != AuthSuccess {
		t.Fatalf("expected success, got %s", result.AuthenticationStatus)
	}
}

func TestValidateTrustedScanFailedAuthFailsValidation(t *testing.T) {
	result := Validate(withCredentialedChecks("no"), ScanTypeAuthenticated, 0)
	if result.Valid {
		t.Fatalf("expected a trusted scan with failed credentialed checks to fail validation")
	}
	if result.AuthenticationStatus != AuthFailed {
		t.Fatalf("expected failed, got %s", result.AuthenticationStatus)
	}
	if result.Error == "" {
		t.Fatalf("expected a descriptive error message naming credentialed-checks and plugin count")
	}
}

func TestValidateTrustedScanPartialAuthWarns(t *testing.T) {
	result := Validate(withCredentialedChecks("partial"), ScanTypeAuthenticatedPrivileged, 0)
	if !result.Valid {
		t.Fatalf("expected partial auth to still validate (with a warning): %s", result.Error)
	}
	if result.AuthenticationStatus != AuthPartial {
		t.Fatalf("expected partial, got %s", result.AuthenticationStatus)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning about partial authentication")
	}
}

func TestValidateInfersSuccessFromAuthPluginCountWhenCredStatusAbsent(t *testing.T) {
	items := ""
	for i := 0; i < 5; i++ {
		items += `<ReportItem pluginID="20811" severity="1"></ReportItem>`
	}
	doc := []byte(`<NessusClientData_v2><Report><ReportHost>` + items + `</ReportHost></Report></NessusClientData_v2>`)
	result := Validate(doc, ScanTypeAuthenticated, 0)
	if !result.Valid {
		t.Fatalf("expected inferred success from auth plugin count: %s", result.Error)
	}
	if result.AuthenticationStatus != AuthSuccess {
		t.Fatalf("expected success inferred from >=5 auth-only plugins, got %s", result.AuthenticationStatus)
	}
	if result.Stats.AuthPluginsFound != 5 {
		t.Fatalf("expected auth_plugins_found=5, got %d", result.Stats.AuthPluginsFound)
	}
}

func TestValidateFewerThanMinimumAuthPluginsFailsTrustedScan(t *testing.T) {
	doc := []byte(`<NessusClientData_v2><Report><ReportHost>
		<ReportItem pluginID="20811" severity="1"></ReportItem>
	</ReportHost></Report></NessusClientData_v2>`)
	result := Validate(doc, ScanTypeAuthenticated, 0)
	if result.Valid {
		t.Fatalf("expected a trusted scan with no credential evidence and too few auth plugins to fail")
	}
	if result.AuthenticationStatus != AuthFailed {
		t.Fatalf("expected failed, got %s", result.AuthenticationStatus)
	}
}

func TestValidateExpectedHostsWarning(t *testing.T) {
	doc := []byte(`<NessusClientData_v2><Report><ReportHost>
		<ReportItem pluginID="10180" severity="0"></ReportItem>
	</ReportHost></Report></NessusClientData_v2>`)
	result := Validate(doc, ScanTypeUntrusted, 3)
	if !result.Valid {
		t.Fatalf("expected validation to pass (host shortfall is a warning, not a failure): %s", result.Error)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning about host count shortfall, got %v", result.Warnings)
	}
}

func TestValidateSeverityHistogram(t *testing.T) {
	doc := []byte(`<NessusClientData_v2><Report><ReportHost>
		<ReportItem pluginID="1" severity="4"></ReportItem>
		<ReportItem pluginID="2" severity="3"></ReportItem>
		<ReportItem pluginID="3" severity="2"></ReportItem>
		<ReportItem pluginID="4" severity="1"></ReportItem>
		<ReportItem pluginID="5" severity="0"></ReportItem>
	</ReportHost></Report></NessusClientData_v2>`)
	result := Validate(doc, ScanTypeUntrusted, 0)
	if !result.Valid {
		t.Fatalf("validate: %s", result.Error)
	}
	sc := result.Stats.SeverityCounts
	if sc.Critical != 1 || sc.High != 1 || sc.Medium != 1 || sc.Low != 1 || sc.Info != 1 {
		t.Fatalf("unexpected severity histogram: %+v", sc)
	}
	if result.Stats.TotalVulnerabilities != 4 {
		t.Fatalf("expected total_vulnerabilities to exclude info, got %d", result.Stats.TotalVulnerabilities)
	}
}
