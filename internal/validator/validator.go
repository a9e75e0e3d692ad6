// Package validator examines a task's native result artifact and derives
// an authentication-status verdict for trusted scans (§4.10).
package validator

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// ScanType mirrors the scan_type enum a submission declares.
type ScanType string

const (
	ScanTypeUntrusted               ScanType = "untrusted"
	ScanTypeAuthenticated           ScanType = "authenticated"
	ScanTypeAuthenticatedPrivileged ScanType = "authenticated_privileged"
)

// AuthStatus is the validator's verdict on whether a credentialed scan
// actually authenticated to its targets.
type AuthStatus string

const (
	AuthNotApplicable AuthStatus = "not_applicable"
	AuthSuccess       AuthStatus = "success"
	AuthPartial       AuthStatus = "partial"
	AuthFailed        AuthStatus = "failed"
	AuthUnknown       AuthStatus = "unknown"
)

// scanInfoPluginID is the Nessus "Scan Information" plugin, whose output
// carries the credentialed-checks line.
const scanInfoPluginID = "19506"

// minAuthPlugins is the fallback threshold used to infer a successful
// credentialed scan when plugin 19506's output can't be parsed.
const minAuthPlugins = 5

// authRequiredPlugins only ever fire when the scanner authenticated to the
// target; their presence is evidence of a working credentialed scan.
var authRequiredPlugins = map[string]bool{
	"20811": true, // Windows Compliance Checks
	"21643": true, // Windows Local Security Checks
	"97833": true, // Windows Security Update Check
	"66334": true, // MS Windows Patch Enumeration
	"12634": true, // Unix/Linux Local Security Checks
	"51192": true, // Debian Local Security Checks
	"33851": true, // Red Hat Local Security Checks
	"22869": true, // Installed Software Enumeration
}

// minArtifactSize is a low threshold (real Nessus exports run far larger)
// chosen so unit tests can use minimal fixtures.
const minArtifactSize = 50

// SeverityCounts buckets ReportItem severities (0-4, 4 highest).
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Stats is the artifact-derived metadata attached to the task record.
type Stats struct {
	FileSizeBytes          int            `json:"file_size_bytes"`
	HostsScanned           int            `json:"hosts_scanned"`
	TotalPlugins           int            `json:"total_plugins"`
	AuthPluginsFound       int            `json:"auth_plugins_found"`
	CredentialedStatusRaw  string         `json:"credentialed_status_raw,omitempty"`
	SeverityCounts         SeverityCounts `json:"severity_counts"`
	TotalVulnerabilities   int            `json:"total_vulnerabilities"`
}

// Result is the validator's verdict.
type Result struct {
	Valid                bool
	Error                string
	Warnings             []string
	Stats                Stats
	AuthenticationStatus AuthStatus
}

type rawReportItem struct {
	PluginID     string `xml:"pluginID,attr"`
	Severity     string `xml:"severity,attr"`
	PluginOutput string `xml:"plugin_output"`
}

type rawReportHost struct {
	Items []rawReportItem `xml:"ReportItem"`
}

type rawReport struct {
	Hosts []rawReportHost `xml:"ReportHost"`
}

type rawDocument struct {
	XMLName xml.Name  `xml:"NessusClientData_v2"`
	Report  rawReport `xml:"Report"`
}

// Validate checks a result artifact's structure and, for trusted scan
// types, its authentication evidence. expectedHosts of 0 skips the host
// count check.
func Validate(artifact []byte, scanType ScanType, expectedHosts int) Result {
	size := len(artifact)
	if size < minArtifactSize {
		return Result{
			Valid:                false,
			Error:                fmt.Sprintf("results file too small (%d bytes)", size),
			Stats:                Stats{FileSizeBytes: size},
			AuthenticationStatus: AuthUnknown,
		}
	}

	var doc rawDocument
	if err := xml.Unmarshal(artifact, &doc); err != nil {
		return Result{
			Valid:                false,
			Error:                fmt.Sprintf("invalid xml: %v", err),
			Stats:                Stats{FileSizeBytes: size},
			AuthenticationStatus: AuthUnknown,
		}
	}

	stats := Stats{FileSizeBytes: size, HostsScanned: len(doc.Report.Hosts)}
	if stats.HostsScanned == 0 {
		return Result{
			Valid:                false,
			Error:                "no hosts in scan results",
			Stats:                stats,
			AuthenticationStatus: AuthUnknown,
		}
	}

	var warnings []string
	if expectedHosts > 0 && stats.HostsScanned < expectedHosts {
		warnings = append(warnings, fmt.Sprintf("host count (%d) less than expected (%d)", stats.HostsScanned, expectedHosts))
	}

	var allItems []rawReportItem
	for _, host := range doc.Report.Hosts {
		allItems = append(allItems, host.Items...)
	}
	stats.TotalPlugins = len(allItems)

	authPluginCount := 0
	for _, item := range allItems {
		if authRequiredPlugins[item.PluginID] {
			authPluginCount++
		}
	}
	stats.AuthPluginsFound = authPluginCount

	credStatus := parseCredentialedStatus(allItems)
	stats.CredentialedStatusRaw = credStatus

	authStatus := deriveAuthStatus(scanType, credStatus, authPluginCount)

	if scanType == ScanTypeAuthenticated || scanType == ScanTypeAuthenticatedPrivileged {
		if authStatus == AuthFailed {
			rawDescription := credStatus
			if rawDescription == "" {
				rawDescription = "not found"
			}
			return Result{
				Valid: false,
				Error: fmt.Sprintf(
					"authentication failed for %s scan. plugin 19506 reports: credentialed checks = %s. only %d authenticated plugins found (minimum: %d). results contain only network-level data",
					scanType, rawDescription, authPluginCount, minAuthPlugins,
				),
				Warnings:             warnings,
				Stats:                stats,
				AuthenticationStatus: authStatus,
			}
		}
		if authStatus == AuthPartial {
			warnings = append(warnings, "partial authentication: some hosts authenticated, some failed")
		}
	}

	severity := SeverityCounts{}
	for _, item := range allItems {
		sev, _ := strconv.Atoi(item.Severity)
		switch sev {
		case 4:
			severity.Critical++
		case 3:
			severity.High++
		case 2:
			severity.Medium++
		case 1:
			severity.Low++
		default:
			severity.Info++
		}
	}
	stats.SeverityCounts = severity
	stats.TotalVulnerabilities = severity.Critical + severity.High + severity.Medium + severity.Low

	return Result{
		Valid:                true,
		Warnings:             warnings,
		Stats:                stats,
		AuthenticationStatus: authStatus,
	}
}

func deriveAuthStatus(scanType ScanType, credStatus string, authPluginCount int) AuthStatus {
	switch {
	case scanType == ScanTypeUntrusted:
		return AuthNotApplicable
	case credStatus == "yes":
		return AuthSuccess
	case credStatus == "no":
		return AuthFailed
	case credStatus == "partial":
		return AuthPartial
	case authPluginCount >= minAuthPlugins:
		return AuthSuccess
	case scanType == ScanTypeAuthenticated || scanType == ScanTypeAuthenticatedPrivileged:
		return AuthFailed
	default:
		return AuthUnknown
	}
}

// parseCredentialedStatus looks for plugin 19506's "Credentialed checks :
// yes|no|partial" line. Returns "" when not found.
func parseCredentialedStatus(items []rawReportItem) string {
	for _, item := range items {
		if item.PluginID != scanInfoPluginID {
			continue
		}
		for _, line := range strings.Split(item.PluginOutput, "\n") {
			lower := strings.ToLower(line)
			if !strings.Contains(lower, "credentialed checks") {
				continue
			}
			switch {
			case strings.Contains(lower, "yes"):
				return "yes"
			case strings.Contains(lower, "no"):
				return "no"
			case strings.Contains(lower, "partial"):
				return "partial"
			}
		}
	}
	return ""
}
