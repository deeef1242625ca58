// Package api is the typed HTTP client for the pairing and sync API,
// shared by the extension and the mobile app.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
)

// Client talks to one broker instance. The zero token means
// unauthenticated; SetToken installs the bearer token after pairing or
// login.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New constructs a Client for the given base URL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SetToken installs the bearer token used on protected endpoints.
func (c *Client) SetToken(token string) { c.token = token }

// Token returns the currently installed bearer token.
func (c *Client) Token() string { return c.token }

// do posts body as JSON and decodes the response into out (when out is
// non-nil). Non-2xx statuses are classified into the error taxonomy by
// status code, so callers can tell transient broker trouble from
// permanent rejection.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return kerr.Transientf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %w",
			method, path, strings.TrimSpace(string(msg)), kerr.FromStatus(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Register creates an account and returns the bearer token.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/register",
		map[string]string{"username": username, "password": password}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Login signs in and returns the bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/login",
		map[string]string{"username": username, "password": password}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// CreateSession registers a pairing session under the caller-chosen id.
func (c *Client) CreateSession(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error) {
	var s models.Session
	err := c.do(ctx, http.MethodPost, "/api/create-session", map[string]any{
		"sessionId":     sessionID,
		"deviceName":    deviceName,
		"expirySeconds": expirySeconds,
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Authenticate claims a scanned session for the signed-in principal,
// returning the session-scoped token. The caller's own bearer token
// names the principal.
func (c *Client) Authenticate(ctx context.Context, sessionID, deviceName, rootSecret string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/authenticate", map[string]string{
		"sessionId":  sessionID,
		"deviceName": deviceName,
		"privateKey": rootSecret,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// CheckResult is one poll's view of the pairing state.
type CheckResult struct {
	Authenticated bool   `json:"authenticated"`
	Token         string `json:"token"`
	Username      string `json:"username"`
	RootSecret    string `json:"privateKey"`
}

// CheckSession polls the pairing state of a session.
func (c *Client) CheckSession(ctx context.Context, sessionID string) (*CheckResult, error) {
	var resp CheckResult
	err := c.do(ctx, http.MethodPost, "/api/check-session",
		map[string]string{"sessionId": sessionID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSessions returns the principal's paired sessions. pendingOnly
// restricts the list to sessions with unsaved relayed credentials.
func (c *Client) ListSessions(ctx context.Context, pendingOnly bool) ([]models.Session, error) {
	path := "/api/sessions"
	if pendingOnly {
		path += "?pendingOnly=true"
	}
	var resp struct {
		Sessions []models.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// DeleteSession revokes one of the principal's sessions.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/delete-session",
		map[string]string{"sessionId": sessionID}, nil)
}

// Logout revokes the extension's own session.
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/logout",
		map[string]string{"sessionId": sessionID}, nil)
}

// AddPending queues one capture on the session. payload is the
// transit-ciphered field document.
func (c *Client) AddPending(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/pending-password", map[string]any{
		"sessionId": sessionID,
		"title":     title,
		"password":  payload,
		"category":  category,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetPending returns the session's unsaved queue entries.
func (c *Client) GetPending(ctx context.Context, sessionID string) ([]models.PendingCredential, error) {
	var resp struct {
		PendingPasswords []models.PendingCredential `json:"pendingPasswords"`
	}
	err := c.do(ctx, http.MethodPost, "/api/pending-passwords",
		map[string]string{"sessionId": sessionID}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.PendingPasswords, nil
}

// MarkSaved confirms that the given queue entries were durably persisted.
func (c *Client) MarkSaved(ctx context.Context, sessionID string, ids []string) error {
	return c.do(ctx, http.MethodPost, "/api/mark-saved", map[string]any{
		"sessionId":   sessionID,
		"passwordIds": ids,
	}, nil)
}

// HasPending reports whether the session holds unsaved queue entries.
func (c *Client) HasPending(ctx context.Context, sessionID string) (bool, error) {
	var resp struct {
		HasPendingPasswords bool `json:"hasPendingPasswords"`
	}
	err := c.do(ctx, http.MethodPost, "/api/has-pending-passwords",
		map[string]string{"sessionId": sessionID}, &resp)
	if err != nil {
		return false, err
	}
	return resp.HasPendingPasswords, nil
}

// ProcessPending asks the broker to merge the session's queue into the
// principal's store, returning the number of entries persisted.
func (c *Client) ProcessPending(ctx context.Context, sessionID, rootSecret string) (int, error) {
	var resp struct {
		ProcessedCount int `json:"processedCount"`
	}
	err := c.do(ctx, http.MethodPost, "/api/process-passwords", map[string]string{
		"sessionId":  sessionID,
		"privateKey": rootSecret,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ProcessedCount, nil
}

// AddPassword persists one credential in the canonical store.
func (c *Client) AddPassword(ctx context.Context, cred models.Credential, rootSecret string) (*models.Credential, error) {
	body := struct {
		models.Credential
		PrivateKey string `json:"privateKey"`
	}{Credential: cred, PrivateKey: rootSecret}

	var saved models.Credential
	if err := c.do(ctx, http.MethodPost, "/api/add-password", body, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// ListPasswords returns the principal's credentials with secrets
// revealed.
func (c *Client) ListPasswords(ctx context.Context, rootSecret string) ([]models.Credential, error) {
	var resp struct {
		Passwords []models.Credential `json:"passwords"`
	}
	err := c.do(ctx, http.MethodPost, "/api/passwords",
		map[string]string{"privateKey": rootSecret}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Passwords, nil
}

// DeletePassword removes one credential from the canonical store.
func (c *Client) DeletePassword(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/delete-password",
		map[string]string{"id": id}, nil)
}
