// Package extension implements the browser-extension side of pairing:
// it publishes a QR handshake, polls the broker until the mobile device
// claims the session, and relays captured credentials.
package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krypkey/krypkey/internal/client/api"
	"github.com/krypkey/krypkey/internal/client/store"
	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/qr"
	"github.com/krypkey/krypkey/internal/transit"
)

// State is the pairing lifecycle position.
type State int

const (
	// StateIdle means no pairing attempt is in flight.
	StateIdle State = iota
	// StateAwaitingScan means a QR code is displayed and the client is
	// polling for the mobile claim.
	StateAwaitingScan
	// StateAuthenticated means the session was claimed; the root secret
	// sits ciphered in the store until unlock.
	StateAuthenticated
	// StateUnlocked means the user unlocked and secrets are usable.
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingScan:
		return "awaiting-scan"
	case StateAuthenticated:
		return "authenticated"
	case StateUnlocked:
		return "unlocked"
	}
	return "unknown"
}

// API is the broker surface the extension uses.
type API interface {
	CreateSession(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error)
	CheckSession(ctx context.Context, sessionID string) (*api.CheckResult, error)
	AddPending(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error)
	GetPending(ctx context.Context, sessionID string) ([]models.PendingCredential, error)
	HasPending(ctx context.Context, sessionID string) (bool, error)
	Logout(ctx context.Context, sessionID string) error
	SetToken(token string)
}

// Config tunes the pairing loop.
type Config struct {
	DeviceName    string
	ExpirySeconds int
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

// Store keys. The root secret is never stored bare: it is
// transit-ciphered under the session token first.
const (
	keySessionID  = "sessionId"
	keyToken      = "token"
	keyUsername   = "username"
	keyRootSecret = "rootSecret"
	keyQueue      = "offlineQueue"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 120 * time.Second
)

// pendingCapture is one offline-queued relay submission.
type pendingCapture struct {
	Title    string          `json:"title"`
	Payload  string          `json:"payload"`
	Category models.Category `json:"category"`
}

// PollingClient drives the extension's pairing state machine. All
// methods are safe for concurrent use.
type PollingClient struct {
	api    API
	store  store.SecureStore
	cipher transit.Cipher
	cfg    Config

	mu         sync.Mutex
	state      State
	sessionID  string
	token      string
	rootSecret string
	attempt    int
	cancel     context.CancelFunc
	queue      []pendingCapture
}

// New constructs a PollingClient. Persisted pairing state in the store
// is resumed: a stored token puts the client straight into the
// authenticated (still locked) state.
func New(a API, s store.SecureStore, cipher transit.Cipher, cfg Config) *PollingClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Extension"
	}
	c := &PollingClient{api: a, store: s, cipher: cipher, cfg: cfg, state: StateIdle}
	if tok, ok := s.Get(keyToken); ok && tok != "" {
		c.token = tok
		c.sessionID, _ = s.Get(keySessionID)
		c.state = StateAuthenticated
		a.SetToken(tok)
	}
	if raw, ok := s.Get(keyQueue); ok {
		_ = json.Unmarshal([]byte(raw), &c.queue)
	}
	return c
}

// State returns the current lifecycle position.
func (c *PollingClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the active session id, empty when idle.
func (c *PollingClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// StartPairing begins a fresh pairing attempt and returns the QR
// handshake text to display. Any prior attempt is cancelled first; a
// late poll reply from the old attempt cannot disturb the new one.
func (c *PollingClient) StartPairing(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	sessionID := uuid.NewString()
	s, err := c.api.CreateSession(ctx, sessionID, c.cfg.DeviceName, c.cfg.ExpirySeconds)
	if err != nil {
		return "", err
	}
	code := qr.Encode(sessionID, s.CreatedAt, c.cfg.ExpirySeconds)

	pollCtx, cancel := context.WithTimeout(context.Background(), c.cfg.PollTimeout)

	c.mu.Lock()
	if attempt != c.attempt {
		// A newer attempt started while we were registering.
		c.mu.Unlock()
		cancel()
		return "", kerr.Conflictf("pairing attempt superseded")
	}
	c.sessionID = sessionID
	c.state = StateAwaitingScan
	c.cancel = cancel
	c.mu.Unlock()

	go c.poll(pollCtx, sessionID, attempt)
	return code, nil
}

// poll asks the broker for the session state every interval until the
// claim lands, the timeout passes, or a newer attempt supersedes this
// one.
func (c *PollingClient) poll(ctx context.Context, sessionID string, attempt int) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if attempt == c.attempt && c.state == StateAwaitingScan {
				c.state = StateIdle
				c.sessionID = ""
			}
			c.mu.Unlock()
			return
		case <-ticker.C:
			res, err := c.api.CheckSession(ctx, sessionID)
			if err != nil {
				// Missing session means it expired server-side.
				if errors.Is(err, kerr.ErrNotFound) {
					c.mu.Lock()
					if attempt == c.attempt {
						c.state = StateIdle
						c.sessionID = ""
					}
					c.mu.Unlock()
					return
				}
				continue
			}
			if !res.Authenticated {
				continue
			}
			if c.completePairing(sessionID, attempt, res) {
				// Captures queued before the claim landed go out now.
				_ = c.FlushQueue(ctx)
				return
			}
		}
	}
}

// completePairing installs the claim result. Returns false when the
// attempt went stale while the poll was in flight.
func (c *PollingClient) completePairing(sessionID string, attempt int, res *api.CheckResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if attempt != c.attempt {
		return false
	}
	c.sessionID = sessionID
	c.token = res.Token
	c.rootSecret = ""
	c.state = StateAuthenticated
	c.api.SetToken(res.Token)

	_ = c.store.Set(keySessionID, sessionID)
	_ = c.store.Set(keyToken, res.Token)
	_ = c.store.Set(keyUsername, res.Username)
	if res.RootSecret != "" {
		if wire, err := transit.EncryptToString(c.cipher, res.RootSecret, res.Token); err == nil {
			_ = c.store.Set(keyRootSecret, wire)
		}
	}
	return true
}

// Unlock reveals the cached root secret and moves to the unlocked
// state. Any offline-queued captures are flushed on the way.
func (c *PollingClient) Unlock(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateAuthenticated && c.state != StateUnlocked {
		c.mu.Unlock()
		return kerr.Authf("not paired")
	}
	wire, ok := c.store.Get(keyRootSecret)
	if !ok {
		c.mu.Unlock()
		return kerr.NotFoundf("no cached root secret")
	}
	secret, err := transit.DecryptString(c.cipher, wire, c.token)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.rootSecret = secret
	c.state = StateUnlocked
	c.mu.Unlock()

	return c.FlushQueue(ctx)
}

// RootSecret returns the revealed root secret. Empty until unlock.
func (c *PollingClient) RootSecret() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rootSecret
}

// Capture relays one credential captured in the browser. The field
// document is ciphered under the session token before it leaves the
// process. Before pairing, or when the broker is unreachable, the
// capture lands in the offline queue and is retried by FlushQueue once
// a session token exists.
func (c *PollingClient) Capture(ctx context.Context, title string, fields any, category models.Category) error {
	if title == "" {
		return kerr.Validationf("capture title is required")
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal capture: %w", err)
	}

	c.mu.Lock()
	sessionID, token := c.sessionID, c.token
	c.mu.Unlock()

	if token == "" {
		// Not paired yet. The payload stays plain until flush, which
		// ciphers it under the token the claim brings.
		c.enqueue(pendingCapture{Title: title, Payload: string(doc), Category: category})
		return nil
	}

	payload, err := transit.EncryptToString(c.cipher, string(doc), token)
	if err != nil {
		return err
	}

	_, err = c.api.AddPending(ctx, sessionID, title, payload, category)
	if kerr.IsTransient(err) {
		c.enqueue(pendingCapture{Title: title, Payload: payload, Category: category})
		return nil
	}
	return err
}

func (c *PollingClient) enqueue(p pendingCapture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, p)
	c.persistQueue()
}

func (c *PollingClient) persistQueue() {
	raw, err := json.Marshal(c.queue)
	if err != nil {
		return
	}
	_ = c.store.Set(keyQueue, string(raw))
}

// FlushQueue pushes every offline-queued capture to the relay in order,
// skipping titles the session already holds pending server-side. The
// first transient failure stops the pass; unflushed entries stay queued.
// A no-op before pairing: the queue waits for a session token.
func (c *PollingClient) FlushQueue(ctx context.Context) error {
	c.mu.Lock()
	sessionID, token := c.sessionID, c.token
	pending := make([]pendingCapture, len(c.queue))
	copy(pending, c.queue)
	c.mu.Unlock()

	if token == "" || len(pending) == 0 {
		return nil
	}

	relayed, err := c.api.GetPending(ctx, sessionID)
	if err != nil {
		return err
	}
	queued := make(map[string]bool, len(relayed))
	for _, p := range relayed {
		queued[normalizeTitle(p.Title)] = true
	}

	flushed := 0
	for _, p := range pending {
		if queued[normalizeTitle(p.Title)] {
			flushed++
			continue
		}
		payload := p.Payload
		if !transit.IsWireForm(payload) {
			// A pre-pairing capture, still plain; cipher it now.
			payload, err = transit.EncryptToString(c.cipher, payload, token)
			if err != nil {
				flushed++
				continue
			}
		}
		if _, err := c.api.AddPending(ctx, sessionID, p.Title, payload, p.Category); err != nil {
			if kerr.IsTransient(err) {
				c.trimQueue(flushed)
				return err
			}
			// Permanent rejection: drop the entry and keep going.
			flushed++
			continue
		}
		queued[normalizeTitle(p.Title)] = true
		flushed++
	}
	c.trimQueue(flushed)
	return nil
}

// trimQueue drops the first n entries. Captures enqueued while a flush
// was in flight sit past the flushed prefix and survive.
func (c *PollingClient) trimQueue(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= len(c.queue) {
		c.queue = nil
	} else {
		c.queue = append([]pendingCapture(nil), c.queue[n:]...)
	}
	c.persistQueue()
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// HasPending asks the broker whether relayed captures await the mobile
// app.
func (c *PollingClient) HasPending(ctx context.Context) (bool, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return false, kerr.Authf("not paired")
	}
	return c.api.HasPending(ctx, sessionID)
}

// Logout revokes the session server-side and wipes all local state.
func (c *PollingClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.attempt++
	c.sessionID = ""
	c.token = ""
	c.rootSecret = ""
	c.queue = nil
	c.state = StateIdle
	c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		return err
	}
	if sessionID == "" {
		return nil
	}
	if err := c.api.Logout(ctx, sessionID); err != nil && !errors.Is(err, kerr.ErrNotFound) {
		return err
	}
	return nil
}
