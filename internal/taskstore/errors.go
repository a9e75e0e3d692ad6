package taskstore

import "errors"

var (
	ErrTaskExists    = errors.New("task already exists")
	ErrTaskNotFound  = errors.New("task not found")
	ErrArtifactExists = errors.New("artifact already written")

	ErrCredentialMissingUsername   = errors.New("credential descriptor requires username")
	ErrCredentialMissingPassword   = errors.New("credential descriptor requires password")
	ErrCredentialInvalidEscalation = errors.New("credential descriptor has an unsupported escalation_method")
)
