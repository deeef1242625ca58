package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/transit"
)

// CredentialRepository defines the persistence operations the canonical
// store needs.
type CredentialRepository interface {
	Add(ctx context.Context, principal string, c models.Credential) error
	ListByPrincipal(ctx context.Context, principal string) ([]models.Credential, error)
	Delete(ctx context.Context, principal, id string) error
}

// Credentials is the canonical per-principal store. Secret fields are
// transit-protected with the caller-supplied root secret at the write
// boundary and revealed at the read boundary, so the database never sees
// them in the clear.
type Credentials struct {
	repo   CredentialRepository
	cipher transit.Cipher
}

// NewCredentials constructs the store over the given repository and cipher.
func NewCredentials(repo CredentialRepository, cipher transit.Cipher) *Credentials {
	return &Credentials{repo: repo, cipher: cipher}
}

// Add validates, protects and persists one credential. A missing id gets
// a fresh uuid; timestamps are stamped here so every write path agrees.
// A MatchKey duplicate is not written: the existing credential comes
// back instead, so sync passes never overwrite.
func (s *Credentials) Add(ctx context.Context, principal string, c models.Credential, rootSecret string) (models.Credential, error) {
	if c.Title == "" {
		return models.Credential{}, kerr.Validationf("credential title is required")
	}
	if rootSecret == "" {
		return models.Credential{}, kerr.Validationf("root secret is required")
	}
	c.Category = models.NormalizeCategory(c.Category)

	existing, err := s.List(ctx, principal, rootSecret)
	if err != nil {
		return models.Credential{}, err
	}
	key := c.MatchKey()
	for _, e := range existing {
		if e.MatchKey() == key {
			return e, nil
		}
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	protected, err := models.ProtectSensitive(c, s.cipher, rootSecret)
	if err != nil {
		return models.Credential{}, err
	}
	if err := s.repo.Add(ctx, principal, protected); err != nil {
		return models.Credential{}, err
	}
	return c, nil
}

// List returns the principal's credentials with secret fields revealed.
func (s *Credentials) List(ctx context.Context, principal, rootSecret string) ([]models.Credential, error) {
	if rootSecret == "" {
		return nil, kerr.Validationf("root secret is required")
	}
	stored, err := s.repo.ListByPrincipal(ctx, principal)
	if err != nil {
		return nil, err
	}
	out := make([]models.Credential, 0, len(stored))
	for _, c := range stored {
		revealed, err := models.RevealSensitive(c, s.cipher, rootSecret)
		if err != nil {
			return nil, err
		}
		out = append(out, revealed)
	}
	return out, nil
}

// Delete removes one credential owned by the principal.
func (s *Credentials) Delete(ctx context.Context, principal, id string) error {
	if id == "" {
		return kerr.Validationf("credential id is required")
	}
	return s.repo.Delete(ctx, principal, id)
}
