package resultschema

import (
	"errors"
	"fmt"
)

const DefaultProfile = "brief"

var minimalFields = []string{"host", "plugin_id", "severity", "cve", "cvss_score", "exploit_available"}
var summaryFields = append(append([]string{}, minimalFields...), "plugin_name", "cvss3_base_score", "synopsis")
var briefFields = append(append([]string{}, summaryFields...), "description", "solution")

// schemas maps profile name to its field list; "full" has a nil list,
// meaning no projection (every field is kept).
var schemas = map[string][]string{
	"minimal": minimalFields,
	"summary": summaryFields,
	"brief":   briefFields,
	"full":    nil,
}

// ErrCustomFieldsWithNonDefaultProfile is returned when a caller supplies
// custom_fields alongside a profile other than the default ("brief").
var ErrCustomFieldsWithNonDefaultProfile = errors.New("cannot specify both a non-default schema_profile and custom_fields")

// SchemaFields resolves a profile name (and optional custom field list) to
// the field set the converter should project. A nil return means "full":
// no projection at all.
func SchemaFields(profile string, customFields []string) ([]string, error) {
	if profile != DefaultProfile && len(customFields) > 0 {
		return nil, fmt.Errorf("%w: profile=%q", ErrCustomFieldsWithNonDefaultProfile, profile)
	}
	if len(customFields) > 0 {
		return customFields, nil
	}
	fields, ok := schemas[profile]
	if !ok {
		return nil, fmt.Errorf("invalid schema profile: %s", profile)
	}
	return fields, nil
}
