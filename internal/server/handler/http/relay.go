package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/krypkey/krypkey/internal/middleware"
	"github.com/krypkey/krypkey/internal/models"
)

// RelayService defines the queue operations required by the HTTP
// handlers.
type RelayService interface {
	AddPending(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error)
	GetPending(ctx context.Context, sessionID, principal string) ([]models.PendingCredential, error)
	MarkSaved(ctx context.Context, sessionID, principal string, ids []string) error
	HasPending(ctx context.Context, sessionID string) (bool, error)
	ProcessPending(ctx context.Context, sessionID, principal, rootSecret string) (int, error)
}

// RelayHandler handles HTTP requests for the pending-credential queue.
type RelayHandler struct {
	Relay RelayService
}

// AddPending handles POST /api/pending-password. The extension queues a
// capture; the password field is the transit-ciphered payload.
func (h *RelayHandler) AddPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string          `json:"sessionId"`
		Title     string          `json:"title"`
		Password  string          `json:"password"`
		Category  models.Category `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	id, err := h.Relay.AddPending(r.Context(), req.SessionID, req.Title, req.Password, req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetPending handles POST /api/pending-passwords: the session's unsaved
// queue, oldest first.
func (h *RelayHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	pending, err := h.Relay.GetPending(r.Context(), req.SessionID, principal)
	if err != nil {
		writeError(w, err)
		return
	}
	if pending == nil {
		pending = []models.PendingCredential{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pendingPasswords": pending})
}

// MarkSaved handles POST /api/mark-saved. The mobile app confirms which
// queue entries it durably persisted.
func (h *RelayHandler) MarkSaved(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID   string   `json:"sessionId"`
		PasswordIDs []string `json:"passwordIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if err := h.Relay.MarkSaved(r.Context(), req.SessionID, principal, req.PasswordIDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HasPending handles POST /api/has-pending-passwords. Unauthenticated so
// the locked extension can decide whether to prompt for unlock.
func (h *RelayHandler) HasPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	has, err := h.Relay.HasPending(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasPendingPasswords": has})
}

// ProcessPending handles POST /api/process-passwords: the server-side
// merge of the session's queue into the caller's credential store.
func (h *RelayHandler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"sessionId"`
		PrivateKey string `json:"privateKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	count, err := h.Relay.ProcessPending(r.Context(), req.SessionID, principal, req.PrivateKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processedCount": count})
}
