package http

import (
	"encoding/json"
	"net/http"

	"github.com/krypkey/krypkey/internal/kerr"
)

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error to its HTTP status. Internal errors
// are not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	status := kerr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
