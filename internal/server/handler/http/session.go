// Package http provides the HTTP handlers and routing for the pairing
// broker, the pending-credential relay, and the credential store.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/krypkey/krypkey/internal/middleware"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/service"
)

// BrokerService defines the pairing operations required by the HTTP
// handlers.
type BrokerService interface {
	CreateSession(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error)
	AuthenticateSession(ctx context.Context, sessionID, principal, deviceName, rootSecret string) (string, error)
	CheckSession(ctx context.Context, sessionID string) (*service.SessionStatus, error)
	ListSessions(ctx context.Context, principal string, pendingOnly bool) ([]models.Session, error)
	DeleteSession(ctx context.Context, sessionID, principal string) error
}

// SessionHandler handles HTTP requests for the pairing handshake and
// session lifecycle.
type SessionHandler struct {
	Broker BrokerService
}

// CreateSession handles POST /api/create-session. The extension submits
// the session id it embedded in the QR code; the broker registers it
// unauthenticated.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID     string `json:"sessionId"`
		DeviceName    string `json:"deviceName"`
		ExpirySeconds int    `json:"expirySeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	s, err := h.Broker.CreateSession(r.Context(), req.SessionID, req.DeviceName, req.ExpirySeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// Authenticate handles POST /api/authenticate. The mobile device claims
// the scanned session; the principal comes from its own bearer token,
// and privateKey is the root secret the extension will need for field
// protection.
func (h *SessionHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"sessionId"`
		DeviceName string `json:"deviceName"`
		PrivateKey string `json:"privateKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	token, err := h.Broker.AuthenticateSession(r.Context(), req.SessionID, principal, req.DeviceName, req.PrivateKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     token,
		"username":  principal,
		"sessionId": req.SessionID,
	})
}

// Check handles POST /api/check-session, the extension's polling
// endpoint. Until the claim lands the body is {"authenticated": false};
// afterwards the token, principal, and root secret ride along.
func (h *SessionHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	status, err := h.Broker.CheckSession(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"authenticated": status.Authenticated}
	if status.Authenticated {
		resp["token"] = status.Token
		resp["username"] = status.Principal
		resp["privateKey"] = status.RootSecret
	}
	writeJSON(w, http.StatusOK, resp)
}

// List handles GET /api/sessions. With ?pendingOnly=true only sessions
// still holding unsaved relayed credentials are returned.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	pendingOnly := r.URL.Query().Get("pendingOnly") == "true"

	sessions, err := h.Broker.ListSessions(r.Context(), principal, pendingOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Delete handles POST /api/delete-session and POST /api/logout. Both
// revoke the session; logout is the extension's own sign-out.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	principal := middleware.PrincipalFromContext(r.Context())
	if err := h.Broker.DeleteSession(r.Context(), req.SessionID, principal); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
