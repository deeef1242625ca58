package mobile

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/krypkey/krypkey/internal/client/store"
	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/qr"
	"github.com/krypkey/krypkey/internal/transit"
)

// VaultAPI is the full broker surface the mobile app uses.
type VaultAPI interface {
	API
	Register(ctx context.Context, username, password string) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, sessionID, deviceName, rootSecret string) (string, error)
	DeletePassword(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, sessionID string) error
	SetToken(token string)
}

// Store keys. The offline queue is persisted with secret fields
// protected under the root secret.
const (
	keyToken    = "token"
	keyUsername = "username"
	keyOffline  = "offlineVault"
)

// Vault is the mobile app's credential client: account session, root
// secret, offline capture queue, and the reconciler that drains it.
type Vault struct {
	api    VaultAPI
	store  store.SecureStore
	cipher transit.Cipher
	rec    *SyncReconciler

	mu         sync.Mutex
	username   string
	rootSecret string
	offline    []models.Credential
}

// NewVault constructs a Vault. A persisted account session is resumed;
// the root secret is never persisted and must be supplied via Unlock.
func NewVault(a VaultAPI, s store.SecureStore, cipher transit.Cipher, reconcileDelay time.Duration) *Vault {
	v := &Vault{
		api:    a,
		store:  s,
		cipher: cipher,
		rec:    NewSyncReconciler(a, cipher, reconcileDelay),
	}
	if tok, ok := s.Get(keyToken); ok && tok != "" {
		a.SetToken(tok)
		v.username, _ = s.Get(keyUsername)
	}
	return v
}

// Register creates an account and signs the vault in.
func (v *Vault) Register(ctx context.Context, username, password string) error {
	token, err := v.api.Register(ctx, username, password)
	if err != nil {
		return err
	}
	return v.install(username, token)
}

// Login signs the vault in.
func (v *Vault) Login(ctx context.Context, username, password string) error {
	token, err := v.api.Login(ctx, username, password)
	if err != nil {
		return err
	}
	return v.install(username, token)
}

func (v *Vault) install(username, token string) error {
	v.mu.Lock()
	v.username = username
	v.mu.Unlock()
	v.api.SetToken(token)
	if err := v.store.Set(keyToken, token); err != nil {
		return err
	}
	return v.store.Set(keyUsername, username)
}

// Unlock supplies the root secret and loads the persisted offline
// queue.
func (v *Vault) Unlock(rootSecret string) error {
	if rootSecret == "" {
		return kerr.Validationf("root secret is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rootSecret = rootSecret

	raw, ok := v.store.Get(keyOffline)
	if !ok || raw == "" {
		return nil
	}
	var protected []models.Credential
	if err := json.Unmarshal([]byte(raw), &protected); err != nil {
		return kerr.Validationf("corrupt offline queue: %v", err)
	}
	v.offline = v.offline[:0]
	for _, c := range protected {
		revealed, err := models.RevealSensitive(c, v.cipher, rootSecret)
		if err != nil {
			return err
		}
		v.offline = append(v.offline, revealed)
	}
	return nil
}

// Username returns the signed-in principal, empty when signed out.
func (v *Vault) Username() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.username
}

// ScanAndAuthenticate claims the session named by a scanned QR code and
// immediately runs a sync pass so relayed captures land without waiting
// for the next manual sync. Stale or malformed codes are rejected
// before any network call.
func (v *Vault) ScanAndAuthenticate(ctx context.Context, code, deviceName string) (string, error) {
	v.mu.Lock()
	username, rootSecret := v.username, v.rootSecret
	v.mu.Unlock()
	if username == "" {
		return "", kerr.Authf("not signed in")
	}
	if rootSecret == "" {
		return "", kerr.Authf("vault is locked")
	}

	p, err := qr.Decode(code)
	if err != nil {
		return "", err
	}
	if _, err := v.api.Authenticate(ctx, p.SessionID, deviceName, rootSecret); err != nil {
		return "", err
	}
	if _, err := v.Sync(ctx); err != nil && err != ErrBusy {
		return p.SessionID, err
	}
	return p.SessionID, nil
}

// Capture queues one locally captured credential for the next sync
// pass.
func (v *Vault) Capture(c models.Credential) error {
	if c.Title == "" {
		return kerr.Validationf("credential title is required")
	}
	c.Category = models.NormalizeCategory(c.Category)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offline = append(v.offline, c)
	return v.persistOfflineLocked()
}

// AddCredential persists one credential immediately, falling back to
// the offline queue when the broker is unreachable.
func (v *Vault) AddCredential(ctx context.Context, c models.Credential) error {
	v.mu.Lock()
	rootSecret := v.rootSecret
	v.mu.Unlock()
	if rootSecret == "" {
		return kerr.Authf("vault is locked")
	}
	_, err := v.api.AddPassword(ctx, c, rootSecret)
	if kerr.IsTransient(err) {
		return v.Capture(c)
	}
	return err
}

// Credentials lists the canonical store with secrets revealed.
func (v *Vault) Credentials(ctx context.Context) ([]models.Credential, error) {
	v.mu.Lock()
	rootSecret := v.rootSecret
	v.mu.Unlock()
	if rootSecret == "" {
		return nil, kerr.Authf("vault is locked")
	}
	return v.api.ListPasswords(ctx, rootSecret)
}

// DeleteCredential removes one credential from the canonical store.
func (v *Vault) DeleteCredential(ctx context.Context, id string) error {
	return v.api.DeletePassword(ctx, id)
}

// Sessions lists the principal's paired sessions.
func (v *Vault) Sessions(ctx context.Context, pendingOnly bool) ([]models.Session, error) {
	return v.api.ListSessions(ctx, pendingOnly)
}

// RevokeSession tears down one paired session.
func (v *Vault) RevokeSession(ctx context.Context, sessionID string) error {
	return v.api.DeleteSession(ctx, sessionID)
}

// OfflineCount returns the size of the local capture queue.
func (v *Vault) OfflineCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.offline)
}

// Sync runs one reconciliation pass over the relay queues and the
// offline queue. A pass already in flight yields ErrBusy.
func (v *Vault) Sync(ctx context.Context) (Report, error) {
	v.mu.Lock()
	rootSecret := v.rootSecret
	offline := make([]models.Credential, len(v.offline))
	copy(offline, v.offline)
	v.mu.Unlock()
	if rootSecret == "" {
		return Report{}, kerr.Authf("vault is locked")
	}

	report, left, err := v.rec.Reconcile(ctx, rootSecret, offline)
	if err == ErrBusy {
		return report, err
	}

	v.mu.Lock()
	v.offline = left
	persistErr := v.persistOfflineLocked()
	v.mu.Unlock()

	if err != nil {
		return report, err
	}
	return report, persistErr
}

// persistOfflineLocked writes the offline queue with secret fields
// protected. Caller holds v.mu. Before unlock the queue is persisted
// as captured.
func (v *Vault) persistOfflineLocked() error {
	out := make([]models.Credential, 0, len(v.offline))
	for _, c := range v.offline {
		if v.rootSecret != "" {
			protected, err := models.ProtectSensitive(c, v.cipher, v.rootSecret)
			if err != nil {
				return err
			}
			c = protected
		}
		out = append(out, c)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return v.store.Set(keyOffline, string(raw))
}

// Logout signs out and wipes local state. The canonical store is
// untouched.
func (v *Vault) Logout() error {
	v.mu.Lock()
	v.username = ""
	v.rootSecret = ""
	v.offline = nil
	v.mu.Unlock()
	v.api.SetToken("")
	return v.store.Clear()
}
