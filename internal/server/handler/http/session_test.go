package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/service"
)

func postJSON(t *testing.T, h http.Handler, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateSession(t *testing.T) {
	broker := &mockBrokerService{
		CreateSessionFunc: func(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error) {
			if sessionID != "sess-1" || expirySeconds != 7200 {
				t.Errorf("unexpected args: %s %d", sessionID, expirySeconds)
			}
			now := time.Now()
			return &models.Session{
				SessionID:  sessionID,
				DeviceName: "Extension",
				CreatedAt:  now,
				ExpiresAt:  now.Add(2 * time.Hour),
			}, nil
		},
	}
	h := testRouter(broker, nil, nil, nil)

	rec := postJSON(t, h, "/api/create-session", `{"sessionId":"sess-1","expirySeconds":7200}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; want 201", rec.Code)
	}
	var resp models.Session
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.SessionID != "sess-1" || resp.Authenticated {
		t.Errorf("unexpected session: %+v", resp)
	}
}

func TestCreateSession_Duplicate(t *testing.T) {
	broker := &mockBrokerService{
		CreateSessionFunc: func(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error) {
			return nil, kerr.Conflictf("session %s already exists", sessionID)
		},
	}
	h := testRouter(broker, nil, nil, nil)

	rec := postJSON(t, h, "/api/create-session", `{"sessionId":"dup"}`, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d; want 409", rec.Code)
	}
}

func TestAuthenticate(t *testing.T) {
	broker := &mockBrokerService{
		AuthenticateSessionFunc: func(ctx context.Context, sessionID, principal, deviceName, rootSecret string) (string, error) {
			if principal != "alice" || rootSecret != "root-secret" {
				t.Errorf("unexpected args: %s %s", principal, rootSecret)
			}
			return "tok-1", nil
		},
	}
	h := testRouter(broker, nil, nil, nil)

	rec := postJSON(t, h, "/api/authenticate",
		`{"sessionId":"sess-1","deviceName":"Pixel","privateKey":"root-secret"}`, "tok-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	var resp map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp["token"] != "tok-1" || resp["sessionId"] != "sess-1" || resp["username"] != "alice" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestAuthenticate_SecondClaim(t *testing.T) {
	broker := &mockBrokerService{
		AuthenticateSessionFunc: func(ctx context.Context, sessionID, principal, deviceName, rootSecret string) (string, error) {
			return "", kerr.Conflictf("session %s already authenticated", sessionID)
		},
	}
	h := testRouter(broker, nil, nil, nil)

	rec := postJSON(t, h, "/api/authenticate", `{"sessionId":"sess-1"}`, "tok-1")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d; want 409", rec.Code)
	}
}

func TestAuthenticate_RequiresToken(t *testing.T) {
	h := testRouter(nil, nil, nil, nil)

	rec := postJSON(t, h, "/api/authenticate", `{"sessionId":"sess-1"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d; want 401", rec.Code)
	}
}

func TestCheck_BeforeAndAfterClaim(t *testing.T) {
	authenticated := false
	broker := &mockBrokerService{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*service.SessionStatus, error) {
			if !authenticated {
				return &service.SessionStatus{}, nil
			}
			return &service.SessionStatus{
				Authenticated: true,
				Principal:     "alice",
				Token:         "tok-1",
				RootSecret:    "root-secret",
			}, nil
		},
	}
	h := testRouter(broker, nil, nil, nil)

	rec := postJSON(t, h, "/api/check-session", `{"sessionId":"sess-1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	var before map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&before)
	if before["authenticated"] != false {
		t.Errorf("authenticated = %v; want false", before["authenticated"])
	}
	if _, leaked := before["token"]; leaked {
		t.Error("token present before claim")
	}

	authenticated = true
	rec = postJSON(t, h, "/api/check-session", `{"sessionId":"sess-1"}`, "")
	var after map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&after)
	if after["authenticated"] != true || after["token"] != "tok-1" || after["privateKey"] != "root-secret" {
		t.Errorf("unexpected response after claim: %v", after)
	}
}

func TestCheck_ExpiredSession(t *testing.T) {
	broker := &mockBrokerService{
		CheckSessionFunc: func(ctx context.Context, sessionID string) (*service.SessionStatus, error) {
			return nil, kerr.NotFoundf("session %s", sessionID)
		},
	}
	h := testRouter(broker, nil, nil, nil)

	rec := postJSON(t, h, "/api/check-session", `{"sessionId":"gone"}`, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", rec.Code)
	}
}

func TestListSessions_RequiresToken(t *testing.T) {
	h := testRouter(nil, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d; want 401", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	broker := &mockBrokerService{
		ListSessionsFunc: func(ctx context.Context, principal string, pendingOnly bool) ([]models.Session, error) {
			if principal != "alice" {
				t.Errorf("principal = %q; want alice", principal)
			}
			if !pendingOnly {
				t.Error("expected pendingOnly from query")
			}
			return []models.Session{{SessionID: "sess-1", Principal: "alice", Authenticated: true}}, nil
		},
	}
	h := testRouter(broker, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/sessions?pendingOnly=true", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	var resp struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].SessionID != "sess-1" {
		t.Errorf("unexpected sessions: %+v", resp.Sessions)
	}
}

func TestDeleteSession(t *testing.T) {
	broker := &mockBrokerService{
		DeleteSessionFunc: func(ctx context.Context, sessionID, principal string) error {
			if sessionID != "sess-1" || principal != "alice" {
				t.Errorf("unexpected args: %s %s", sessionID, principal)
			}
			return nil
		},
	}
	h := testRouter(broker, nil, nil, nil)

	rec := postJSON(t, h, "/api/delete-session", `{"sessionId":"sess-1"}`, "tok-1")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d; want 200", rec.Code)
	}

	rec = postJSON(t, h, "/api/logout", `{"sessionId":"sess-1"}`, "tok-1")
	if rec.Code != http.StatusOK {
		t.Errorf("logout status = %d; want 200", rec.Code)
	}
}
