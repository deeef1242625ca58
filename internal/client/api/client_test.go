package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/krypkey/krypkey/internal/kerr"
)

func TestCheckSession_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/check-session" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["sessionId"] != "sess-1" {
			t.Errorf("sessionId = %q", req["sessionId"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"authenticated": true,
			"token":         "tok-1",
			"username":      "alice",
			"privateKey":    "root-secret",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	res, err := c.CheckSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("CheckSession returned error: %v", err)
	}
	if !res.Authenticated || res.Token != "tok-1" || res.RootSecret != "root-secret" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestDo_SendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sessions": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	c.SetToken("tok-1")
	if _, err := c.ListSessions(context.Background(), false); err != nil {
		t.Fatalf("ListSessions returned error: %v", err)
	}
}

func TestDo_ClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, kerr.ErrValidation},
		{http.StatusUnauthorized, kerr.ErrAuth},
		{http.StatusNotFound, kerr.ErrNotFound},
		{http.StatusConflict, kerr.ErrConflict},
		{http.StatusInternalServerError, kerr.ErrTransient},
		{http.StatusBadGateway, kerr.ErrTransient},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		c := New(srv.URL, srv.Client())
		_, err := c.CheckSession(context.Background(), "sess-1")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error = %v; want %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestDo_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, nil)
	_, err := c.CheckSession(context.Background(), "sess-1")
	if !errors.Is(err, kerr.ErrTransient) {
		t.Errorf("error = %v; want transient", err)
	}
}
