package resultschema

import (
	"encoding/json"
	"io"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 40
	minPageSize     = 10
	maxPageSize     = 100
)

// Options controls Convert's projection, filtering, and pagination.
type Options struct {
	SchemaProfile string
	CustomFields  []string
	Filters       map[string]any
	Page          int
	PageSize      int
}

func (o Options) withDefaults() Options {
	if o.SchemaProfile == "" {
		o.SchemaProfile = DefaultProfile
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}

type schemaLine struct {
	Type                 string `json:"type"`
	Profile              string `json:"profile"`
	Fields               any    `json:"fields"`
	FiltersApplied       any    `json:"filters_applied"`
	TotalVulnerabilities int    `json:"total_vulnerabilities"`
	TotalPages           int    `json:"total_pages"`
}

type scanMetadataLine struct {
	Type     string `json:"type"`
	ScanName string `json:"scan_name"`
}

type paginationLine struct {
	Type       string `json:"type"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
	HasNext    bool   `json:"has_next"`
	NextPage   *int   `json:"next_page"`
}

// Convert parses nessusData, projects/filters/paginates the resulting
// vulnerability list per opts, and streams the JSON-lines document (schema
// record, scan_metadata record, vulnerability records, pagination record)
// to w.
func Convert(w io.Writer, nessusData []byte, opts Options) error {
	opts = opts.withDefaults()

	parsed, err := Parse(nessusData)
	if err != nil {
		return err
	}

	profile := opts.SchemaProfile
	var fields []string
	if len(opts.CustomFields) > 0 {
		fields = opts.CustomFields
		profile = "custom"
	} else {
		fields, err = SchemaFields(opts.SchemaProfile, nil)
		if err != nil {
			return err
		}
	}

	vulns := parsed.Vulnerabilities
	if fields != nil {
		projected := make([]Vulnerability, len(vulns))
		for i, v := range vulns {
			projected[i] = projectFields(v, fields)
		}
		vulns = projected
	}
	if len(opts.Filters) > 0 {
		vulns = ApplyFilters(vulns, opts.Filters)
	}

	total := len(vulns)
	var pageVulns []Vulnerability
	var totalPages int
	pageSize := opts.PageSize

	if opts.Page == 0 {
		pageVulns = vulns
		totalPages = 1
	} else {
		if pageSize < minPageSize {
			pageSize = minPageSize
		}
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}
		if total > 0 {
			totalPages = (total + pageSize - 1) / pageSize
		} else {
			totalPages = 1
		}
		start := (opts.Page - 1) * pageSize
		end := start + pageSize
		if start < 0 {
			start = 0
		}
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		pageVulns = vulns[start:end]
	}

	enc := json.NewEncoder(w)

	var fieldsOut any = "all"
	if fields != nil {
		fieldsOut = fields
	}
	filtersOut := opts.Filters
	if filtersOut == nil {
		filtersOut = map[string]any{}
	}
	if err := enc.Encode(schemaLine{
		Type:                 "schema",
		Profile:              profile,
		Fields:               fieldsOut,
		FiltersApplied:       filtersOut,
		TotalVulnerabilities: total,
		TotalPages:           totalPages,
	}); err != nil {
		return err
	}

	if err := enc.Encode(scanMetadataLine{Type: "scan_metadata", ScanName: parsed.ScanMetadata.ScanName}); err != nil {
		return err
	}

	for _, v := range pageVulns {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}

	if opts.Page != 0 {
		hasNext := opts.Page < totalPages
		var nextPage *int
		if hasNext {
			n := opts.Page + 1
			nextPage = &n
		}
		if err := enc.Encode(paginationLine{
			Type:       "pagination",
			Page:       opts.Page,
			PageSize:   pageSize,
			TotalPages: totalPages,
			HasNext:    hasNext,
			NextPage:   nextPage,
		}); err != nil {
			return err
		}
	}

	return nil
}

func projectFields(vuln Vulnerability, fields []string) Vulnerability {
	vulnType, _ := vuln["type"].(string)
	if vulnType == "" {
		vulnType = "vulnerability"
	}
	projected := Vulnerability{"type": vulnType}
	for _, field := range fields {
		if v, ok := vuln[field]; ok {
			projected[field] = v
		}
	}
	return projected
}
