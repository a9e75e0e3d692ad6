package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scanorch/scanorch/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to its status code via apierr and writes a
// {"error": "..."} body, matching §6's unchanged error taxonomy.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.StatusCode(err), map[string]string{"error": err.Error()})
}

func tagNotFound(err error, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return apierr.ErrNotFound
	}
	return err
}
