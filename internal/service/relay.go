package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/transit"
)

// RelayRepository defines the queue operations the relay needs.
type RelayRepository interface {
	Append(ctx context.Context, p models.PendingCredential) error
	ListUnsaved(ctx context.Context, sessionID string) ([]models.PendingCredential, error)
	MarkSaved(ctx context.Context, sessionID string, ids []string) error
	HasUnsaved(ctx context.Context, sessionID string) (bool, error)
}

// CredentialStore is the slice of the canonical store the relay merge
// uses.
type CredentialStore interface {
	Add(ctx context.Context, principal string, c models.Credential, rootSecret string) (models.Credential, error)
	List(ctx context.Context, principal, rootSecret string) ([]models.Credential, error)
}

// Relay queues credentials captured on a paired extension until the
// mobile app, or the extension itself once unlocked, merges them into the
// canonical store. Delivery is at-least-once: entries stay queued through
// failed merges and only a confirmed persist marks them saved.
type Relay struct {
	sessions SessionRepository
	queue    RelayRepository
	store    CredentialStore
	cipher   transit.Cipher
}

// NewRelay constructs a Relay over the given collaborators.
func NewRelay(sessions SessionRepository, queue RelayRepository, store CredentialStore, cipher transit.Cipher) *Relay {
	return &Relay{sessions: sessions, queue: queue, store: store, cipher: cipher}
}

// AddPending queues one captured credential on the session. The session
// must be authenticated and unexpired; the payload arrives already
// transit-ciphered under the session token and is stored opaque.
func (r *Relay) AddPending(ctx context.Context, sessionID, title, payload string, category models.Category) (string, error) {
	if title == "" {
		return "", kerr.Validationf("title is required")
	}
	if payload == "" {
		return "", kerr.Validationf("payload is required")
	}
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !s.Authenticated {
		return "", kerr.Authf("session %s is not authenticated", sessionID)
	}
	p := models.PendingCredential{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Title:     title,
		Payload:   payload,
		Category:  models.NormalizeCategory(category),
		CreatedAt: time.Now(),
	}
	if err := r.queue.Append(ctx, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// GetPending returns the session's unsaved queue entries, oldest first.
func (r *Relay) GetPending(ctx context.Context, sessionID, principal string) ([]models.PendingCredential, error) {
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Principal != principal {
		return nil, kerr.Authf("session %s does not belong to %s", sessionID, principal)
	}
	return r.queue.ListUnsaved(ctx, sessionID)
}

// MarkSaved records that the caller durably persisted the given entries.
func (r *Relay) MarkSaved(ctx context.Context, sessionID, principal string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Principal != principal {
		return kerr.Authf("session %s does not belong to %s", sessionID, principal)
	}
	return r.queue.MarkSaved(ctx, sessionID, ids)
}

// HasPending reports whether the session still holds unsaved entries.
// Unlike the other queue reads this one is unauthenticated: the extension
// asks it before the user has unlocked.
func (r *Relay) HasPending(ctx context.Context, sessionID string) (bool, error) {
	if _, err := r.sessions.Get(ctx, sessionID); err != nil {
		return false, err
	}
	return r.queue.HasUnsaved(ctx, sessionID)
}

// ProcessPending merges the session's queued entries into the canonical
// store on the caller's behalf. Each payload is deciphered with the
// session token, parsed, deduplicated against the store and the entries
// merged earlier in the same pass, then persisted protected under the
// root secret. Both merged and duplicate entries are marked saved; an
// entry whose persist fails stays queued for the next pass. Returns the
// number of entries actually persisted.
func (r *Relay) ProcessPending(ctx context.Context, sessionID, principal, rootSecret string) (int, error) {
	if rootSecret == "" {
		return 0, kerr.Validationf("root secret is required")
	}
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !s.Authenticated || s.Principal != principal {
		return 0, kerr.Authf("session %s does not belong to %s", sessionID, principal)
	}

	pending, err := r.queue.ListUnsaved(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	existing, err := r.store.List(ctx, principal, rootSecret)
	if err != nil {
		return 0, err
	}
	seen := make(map[models.MatchKey]bool, len(existing))
	for _, c := range existing {
		seen[c.MatchKey()] = true
	}

	var (
		processed int
		saved     []string
	)
	for _, p := range pending {
		c, err := decodePending(r.cipher, p, s.Token)
		if err != nil {
			// Undecipherable entries are consumed, not retried forever.
			saved = append(saved, p.ID)
			continue
		}
		key := c.MatchKey()
		if seen[key] {
			saved = append(saved, p.ID)
			continue
		}
		if _, err := r.store.Add(ctx, principal, c, rootSecret); err != nil {
			continue
		}
		seen[key] = true
		processed++
		saved = append(saved, p.ID)
	}

	if err := r.queue.MarkSaved(ctx, sessionID, saved); err != nil {
		return processed, err
	}
	return processed, nil
}

// decodePending turns one queue entry back into a plaintext credential.
// The payload is the transit wire form of a JSON field document keyed by
// the session token; a payload that never went through the cipher is
// parsed as-is.
func decodePending(cipher transit.Cipher, p models.PendingCredential, token string) (models.Credential, error) {
	plain := p.Payload
	if transit.IsWireForm(p.Payload) {
		var err error
		plain, err = transit.DecryptString(cipher, p.Payload, token)
		if err != nil {
			return models.Credential{}, err
		}
	}
	return models.ParsePayload(p.Title, p.Category, plain)
}
