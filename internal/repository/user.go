package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
)

// PostgresUserRepository implements user persistence for the auth
// collaborator.
type PostgresUserRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresUserRepository creates a repository over the given database
// connection.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

// Create registers a new user. A taken username is a conflict.
func (r *PostgresUserRepository) Create(ctx context.Context, username string, passwordHash []byte) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3)
	`, username, passwordHash, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return kerr.Conflictf("user %s already exists", username)
		}
		return fmt.Errorf("Create user: %w", err)
	}
	return nil
}

// Get fetches one user by username.
func (r *PostgresUserRepository) Get(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := r.DB.QueryRowContext(ctx, `
		SELECT username, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, kerr.NotFoundf("user %s", username)
	}
	if err != nil {
		return nil, fmt.Errorf("Get user: %w", err)
	}
	return &u, nil
}
