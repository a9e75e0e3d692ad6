// Package resultschema parses the native Nessus result document into
// vulnerability records, applies schema-profile projection and filters, and
// renders the JSON-lines wire format (§4.9).
package resultschema

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Vulnerability is a per-finding record. Its shape is inherently variable
// (a .nessus ReportItem's children differ plugin to plugin) so it is kept
// as a generic field map rather than a fixed struct; callers use Get-style
// helpers or direct indexing.
type Vulnerability map[string]any

// ScanMetadata is the handful of descriptive fields taken from the
// top-level Report element.
type ScanMetadata struct {
	ScanName string
}

// ParseResult is a fully parsed document, ready for filtering/projection.
type ParseResult struct {
	ScanMetadata    ScanMetadata
	Vulnerabilities []Vulnerability
}

type rawChild struct {
	XMLName xml.Name
	Content string `xml:",chardata"`
}

type rawReportItem struct {
	PluginID     string     `xml:"pluginID,attr"`
	PluginName   string     `xml:"pluginName,attr"`
	PluginFamily string     `xml:"pluginFamily,attr"`
	Severity     string     `xml:"severity,attr"`
	Port         string     `xml:"port,attr"`
	SvcName      string     `xml:"svc_name,attr"`
	Protocol     string     `xml:"protocol,attr"`
	Children     []rawChild `xml:",any"`
}

type rawReportHost struct {
	Name  string          `xml:"name,attr"`
	Items []rawReportItem `xml:"ReportItem"`
}

type rawReport struct {
	Name  string          `xml:"name,attr"`
	Hosts []rawReportHost `xml:"ReportHost"`
}

type rawDocument struct {
	XMLName xml.Name  `xml:"NessusClientData_v2"`
	Report  rawReport `xml:"Report"`
}

// floatFields are the child tags whose text is coerced to a float64, per
// the converter this was adapted from; the raw string is kept if the text
// doesn't parse.
var floatFields = map[string]bool{
	"cvss_base_score":  true,
	"cvss3_base_score": true,
	"cvss_score":       true,
}

// Parse decodes a native .nessus document into scan metadata plus a flat
// list of vulnerability records, one per ReportItem.
func Parse(data []byte) (*ParseResult, error) {
	var doc rawDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse nessus document: %w", err)
	}

	scanName := doc.Report.Name
	if scanName == "" {
		scanName = "Unknown"
	}

	result := &ParseResult{ScanMetadata: ScanMetadata{ScanName: scanName}}

	for _, host := range doc.Report.Hosts {
		for _, item := range host.Items {
			vuln := Vulnerability{
				"type":          "vulnerability",
				"host":          host.Name,
				"plugin_id":     item.PluginID,
				"plugin_name":   item.PluginName,
				"plugin_family": item.PluginFamily,
				"severity":      item.Severity,
				"port":          item.Port,
				"svc_name":      item.SvcName,
				"protocol":      item.Protocol,
			}

			for _, child := range item.Children {
				tag := child.XMLName.Local
				text := child.Content

				switch {
				case tag == "cve":
					cves, _ := vuln["cve"].([]string)
					vuln["cve"] = append(cves, text)
				case floatFields[tag]:
					if text == "" {
						vuln[tag] = nil
						continue
					}
					f, err := strconv.ParseFloat(text, 64)
					if err != nil {
						vuln[tag] = text
						continue
					}
					vuln[tag] = f
				case tag == "exploit_available":
					vuln[tag] = strings.EqualFold(text, "true")
				default:
					vuln[tag] = text
				}
			}

			result.Vulnerabilities = append(result.Vulnerabilities, vuln)
		}
	}

	return result, nil
}
