package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/krypkey/krypkey/internal/middleware"
	"github.com/krypkey/krypkey/internal/models"
)

// CredentialService defines the canonical-store operations required by
// the HTTP handlers.
type CredentialService interface {
	Add(ctx context.Context, principal string, c models.Credential, rootSecret string) (models.Credential, error)
	List(ctx context.Context, principal, rootSecret string) ([]models.Credential, error)
	Delete(ctx context.Context, principal, id string) error
}

// CredentialHandler handles HTTP requests for the durable credential
// store.
type CredentialHandler struct {
	Credentials CredentialService
}

// Add handles POST /api/add-password. The root secret arrives as
// privateKey and keys the field protection; it is used and discarded.
func (h *CredentialHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.Credential
		PrivateKey string `json:"privateKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	saved, err := h.Credentials.Add(r.Context(), principal, req.Credential, req.PrivateKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// List handles POST /api/passwords. POST rather than GET because the
// body carries the root secret needed to reveal protected fields.
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrivateKey string `json:"privateKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	creds, err := h.Credentials.List(r.Context(), principal, req.PrivateKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if creds == nil {
		creds = []models.Credential{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"passwords": creds})
}

// Delete handles POST /api/delete-password.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if err := h.Credentials.Delete(r.Context(), principal, req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
