package service

import (
	"context"
	"sync"
	"time"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/token"
)

// Session lifetime bounds. Requests outside the window are clamped, not
// rejected, so an extension with a stale config still pairs.
const (
	MinSessionLifetime     = time.Hour
	MaxSessionLifetime     = 720 * time.Hour
	DefaultSessionLifetime = 7200 * time.Second
)

// SessionRepository defines the persistence operations the broker needs.
type SessionRepository interface {
	Create(ctx context.Context, s models.Session) error
	Authenticate(ctx context.Context, sessionID, principal, deviceName, token string) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	ListByPrincipal(ctx context.Context, principal string, pendingOnly bool) ([]models.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// SessionStatus is what a polling extension learns about its session. The
// root secret rides along only once the mobile device has authenticated.
type SessionStatus struct {
	Authenticated bool
	Principal     string
	Token         string
	RootSecret    string
}

// Broker mediates the pairing handshake: the extension registers a
// session, the mobile device claims it, and the extension polls until the
// claim lands. Root secrets live only in the in-process cache, never in
// the database.
type Broker struct {
	sessions SessionRepository
	tokens   *token.Manager
	lifetime time.Duration
	secrets  *secretCache
}

// NewBroker constructs a Broker. defaultLifetime <= 0 selects
// DefaultSessionLifetime.
func NewBroker(sessions SessionRepository, tokens *token.Manager, defaultLifetime time.Duration) *Broker {
	if defaultLifetime <= 0 {
		defaultLifetime = DefaultSessionLifetime
	}
	return &Broker{
		sessions: sessions,
		tokens:   tokens,
		lifetime: clampLifetime(defaultLifetime),
		secrets:  newSecretCache(),
	}
}

func clampLifetime(d time.Duration) time.Duration {
	if d < MinSessionLifetime {
		return MinSessionLifetime
	}
	if d > MaxSessionLifetime {
		return MaxSessionLifetime
	}
	return d
}

// CreateSession registers a fresh unauthenticated session under the
// caller-chosen id. expirySeconds <= 0 selects the broker default.
func (b *Broker) CreateSession(ctx context.Context, sessionID, deviceName string, expirySeconds int) (*models.Session, error) {
	if sessionID == "" {
		return nil, kerr.Validationf("session id is required")
	}
	if deviceName == "" {
		deviceName = "Extension"
	}
	lifetime := b.lifetime
	if expirySeconds > 0 {
		lifetime = clampLifetime(time.Duration(expirySeconds) * time.Second)
	}
	now := time.Now()
	s := models.Session{
		SessionID:  sessionID,
		DeviceName: deviceName,
		CreatedAt:  now,
		ExpiresAt:  now.Add(lifetime),
	}
	if err := b.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AuthenticateSession claims a session for a principal. It mints the
// session-scoped token, flips the authenticated flag exactly once, and
// caches the root secret for the extension's next successful check. A
// second claim on the same session is a conflict, not a token rotation.
func (b *Broker) AuthenticateSession(ctx context.Context, sessionID, principal, deviceName, rootSecret string) (string, error) {
	if sessionID == "" || principal == "" {
		return "", kerr.Validationf("session id and username are required")
	}
	tok, err := b.tokens.Mint(principal)
	if err != nil {
		return "", err
	}
	if err := b.sessions.Authenticate(ctx, sessionID, principal, deviceName, tok); err != nil {
		return "", err
	}
	if rootSecret != "" {
		b.secrets.put(sessionID, rootSecret)
	}
	return tok, nil
}

// CheckSession reports the session's pairing state to a polling
// extension. Before authentication the status carries no token or secret;
// afterwards it carries both. An expired or unknown session is not found.
func (b *Broker) CheckSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	s, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	status := &SessionStatus{Authenticated: s.Authenticated}
	if s.Authenticated {
		status.Principal = s.Principal
		status.Token = s.Token
		status.RootSecret, _ = b.secrets.get(sessionID)
	}
	return status, nil
}

// ListSessions returns the principal's active paired sessions. With
// pendingOnly set, only sessions still holding unsaved relayed
// credentials are returned.
func (b *Broker) ListSessions(ctx context.Context, principal string, pendingOnly bool) ([]models.Session, error) {
	return b.sessions.ListByPrincipal(ctx, principal, pendingOnly)
}

// DeleteSession revokes one of the principal's sessions. Ownership is
// checked first so one user cannot tear down another's pairing.
func (b *Broker) DeleteSession(ctx context.Context, sessionID, principal string) error {
	s, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Principal != principal {
		return kerr.Authf("session %s does not belong to %s", sessionID, principal)
	}
	if err := b.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	b.secrets.drop(sessionID)
	return nil
}

// EvictSecret drops the cached root secret without touching the session
// row. The reaper calls this when it removes expired sessions.
func (b *Broker) EvictSecret(sessionID string) {
	b.secrets.drop(sessionID)
}

// secretCache holds root secrets keyed by session id. Memory only: a
// broker restart forgets every secret and the extension re-pairs.
type secretCache struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func newSecretCache() *secretCache {
	return &secretCache{secrets: make(map[string]string)}
}

func (c *secretCache) put(sessionID, secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets[sessionID] = secret
}

func (c *secretCache) get(sessionID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.secrets[sessionID]
	return s, ok
}

func (c *secretCache) drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.secrets, sessionID)
}
