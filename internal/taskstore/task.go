// Package taskstore is the content-addressed, per-task local directory: one
// metadata record plus, once available, the native scan artifact.
package taskstore

import (
	"time"

	"github.com/scanorch/scanorch/internal/lifecycle"
)

type ScanType string

const (
	ScanTypeUntrusted               ScanType = "untrusted"
	ScanTypeAuthenticated           ScanType = "authenticated"
	ScanTypeAuthenticatedPrivileged ScanType = "authenticated_privileged"
)

// ValidEscalationMethods is the fixed enumerated set a credential descriptor's
// escalation_method must belong to.
var ValidEscalationMethods = map[string]bool{
	"Nothing":             true,
	"sudo":                true,
	"su":                  true,
	"su+sudo":             true,
	"pbrun":               true,
	"dzdo":                true,
	".k5login":            true,
	"Cisco 'enable'":      true,
	"Checkpoint Gaia 'expert'": true,
}

// CredentialDescriptor carries the trusted-scan auth material. When the
// Store has an encryptor (see Store.WithEncryptor), Password is encrypted in
// task.json and decrypted by every Store read; Username and
// EscalationMethod are stored as plaintext.
type CredentialDescriptor struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	EscalationMethod string `json:"escalation_method,omitempty"`
}

// Validate enforces §4.5's credential mapping rule: a bad descriptor must
// never reach the scanner.
func (c *CredentialDescriptor) Validate() error {
	if c == nil {
		return nil
	}
	if c.Username == "" {
		return ErrCredentialMissingUsername
	}
	if c.Password == "" {
		return ErrCredentialMissingPassword
	}
	method := c.EscalationMethod
	if method == "" {
		method = "Nothing"
	}
	if !ValidEscalationMethods[method] {
		return ErrCredentialInvalidEscalation
	}
	return nil
}

// Payload is the client-supplied request body: targets, a human-readable
// name, optional description/credentials, and the requested schema profile.
type Payload struct {
	Targets       string                 `json:"targets"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Credentials   *CredentialDescriptor  `json:"credentials,omitempty"`
	SchemaProfile string                 `json:"schema_profile,omitempty"`
}

// ValidationStats mirrors the validator's derived counts (§4.10).
type ValidationStats struct {
	FileSizeBytes        int64          `json:"file_size_bytes"`
	HostsScanned         int            `json:"hosts_scanned"`
	TotalPlugins         int            `json:"total_plugins"`
	AuthPluginsFound     int            `json:"auth_plugins_found"`
	SeverityCounts       map[string]int `json:"severity_counts,omitempty"`
	TotalVulnerabilities int            `json:"total_vulnerabilities"`
}

const (
	AuthNotApplicable = "not_applicable"
	AuthSuccess       = "success"
	AuthPartial       = "partial"
	AuthFailed        = "failed"
	AuthUnknown       = "unknown"
)

// Task is the durable record of one scan request (§3 DATA MODEL).
type Task struct {
	TaskID            string            `json:"task_id"`
	TraceID           string            `json:"trace_id"`
	ScanType          ScanType          `json:"scan_type"`
	ScannerPool       string            `json:"scanner_pool"`
	ScannerType       string            `json:"scanner_type"`
	ScannerInstanceID string            `json:"scanner_instance_id,omitempty"`
	Status            lifecycle.Status  `json:"status"`
	Payload           Payload           `json:"payload"`
	UpstreamScanID    int               `json:"upstream_scan_id,omitempty"`
	Progress          int               `json:"progress,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	ValidationStats      *ValidationStats `json:"validation_stats,omitempty"`
	ValidationWarnings   []string         `json:"validation_warnings,omitempty"`
	AuthenticationStatus string           `json:"authentication_status,omitempty"`
}
