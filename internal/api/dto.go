package api

import "github.com/scanorch/scanorch/internal/taskstore"

// taskView is the task record as returned over the API: identical to
// taskstore.Task except the credential password, which is never echoed
// back once submitted.
type taskView struct {
	*taskstore.Task
	Payload payloadView `json:"payload"`
}

type payloadView struct {
	Targets       string                 `json:"targets"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Credentials   *credentialView        `json:"credentials,omitempty"`
	SchemaProfile string                 `json:"schema_profile,omitempty"`
}

type credentialView struct {
	Username         string `json:"username"`
	EscalationMethod string `json:"escalation_method,omitempty"`
}

func toTaskView(t *taskstore.Task) *taskView {
	view := &taskView{
		Task: t,
		Payload: payloadView{
			Targets:       t.Payload.Targets,
			Name:          t.Payload.Name,
			Description:   t.Payload.Description,
			SchemaProfile: t.Payload.SchemaProfile,
		},
	}
	if t.Payload.Credentials != nil {
		view.Payload.Credentials = &credentialView{
			Username:         t.Payload.Credentials.Username,
			EscalationMethod: t.Payload.Credentials.EscalationMethod,
		}
	}
	return view
}
