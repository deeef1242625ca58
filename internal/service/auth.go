// Package service provides business logic for user authentication, pairing
// sessions, the pending-credential relay, and the canonical credential
// store, delegating persistence to repository interfaces.
package service

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/token"
)

// UserRepository defines the persistence operations required by the
// authentication service.
type UserRepository interface {
	// Create registers a new user with the given bcrypt hash.
	Create(ctx context.Context, username string, passwordHash []byte) error
	// Get fetches one user by username.
	Get(ctx context.Context, username string) (*models.User, error)
}

// Auth implements the user-auth collaborator: registration, login, and
// bearer-token verification for the protected endpoints.
type Auth struct {
	repo   UserRepository
	tokens *token.Manager
}

// NewAuth constructs an Auth service using the provided repository and
// token manager.
func NewAuth(repo UserRepository, tokens *token.Manager) *Auth {
	return &Auth{repo: repo, tokens: tokens}
}

// Register creates a user and returns a bearer token for them.
func (a *Auth) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", kerr.Validationf("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	if err := a.repo.Create(ctx, username, hash); err != nil {
		return "", err
	}
	return a.tokens.Mint(username)
}

// Login verifies the password and returns a fresh bearer token. The root
// secret the mobile client sends along is deliberately ignored here: it
// never reaches durable storage.
func (a *Auth) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", kerr.Validationf("username and password are required")
	}
	u, err := a.repo.Get(ctx, username)
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return "", kerr.Authf("bad password for %s", username)
	}
	return a.tokens.Mint(username)
}

// VerifyToken returns the principal a bearer token is scoped to.
func (a *Auth) VerifyToken(tokenString string) (string, error) {
	return a.tokens.Verify(tokenString)
}
