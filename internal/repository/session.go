// Package repository provides PostgreSQL persistence for pairing sessions,
// the pending-credential relay queue, canonical credentials, and users.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// PostgresSessionRepository implements pairing-session persistence against
// a PostgreSQL database. Every read filters on expires_at so an expired
// session is indistinguishable from one that never existed.
type PostgresSessionRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresSessionRepository creates a repository over the given
// database connection.
func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{DB: db}
}

// Create persists a new unauthenticated session. A duplicate session id is
// a conflict.
func (r *PostgresSessionRepository) Create(ctx context.Context, s models.Session) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sessions (session_id, device_name, authenticated, created_at, expires_at)
		VALUES ($1, $2, FALSE, $3, $4)
	`, s.SessionID, s.DeviceName, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return kerr.Conflictf("session %s already exists", s.SessionID)
		}
		return fmt.Errorf("Create session: %w", err)
	}
	return nil
}

// Authenticate flips the session to authenticated and records principal,
// device name and scoped token in a single guarded UPDATE. The guard
// (authenticated = FALSE AND unexpired) makes the flip atomic and
// once-only: concurrent authenticate calls race on the row and exactly one
// wins. When no row is updated, the session is either gone/expired
// (not found) or already authenticated (conflict).
func (r *PostgresSessionRepository) Authenticate(ctx context.Context, sessionID, principal, deviceName, token string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sessions
		   SET authenticated = TRUE, principal = $2, device_name = $3, token = $4
		 WHERE session_id = $1 AND authenticated = FALSE AND expires_at > now()
	`, sessionID, principal, deviceName, token)
	if err != nil {
		return fmt.Errorf("Authenticate session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Authenticate session: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var authenticated bool
	err = r.DB.QueryRowContext(ctx, `
		SELECT authenticated FROM sessions WHERE session_id = $1 AND expires_at > now()
	`, sessionID).Scan(&authenticated)
	if err == sql.ErrNoRows {
		return kerr.NotFoundf("session %s", sessionID)
	}
	if err != nil {
		return fmt.Errorf("Authenticate session: %w", err)
	}
	if authenticated {
		return kerr.Conflictf("session %s already authenticated", sessionID)
	}
	return kerr.NotFoundf("session %s", sessionID)
}

// Get fetches one unexpired session.
func (r *PostgresSessionRepository) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		s         models.Session
		principal sql.NullString
		tok       sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT session_id, principal, device_name, token, authenticated, created_at, expires_at
		  FROM sessions WHERE session_id = $1 AND expires_at > now()
	`, sessionID).Scan(&s.SessionID, &principal, &s.DeviceName, &tok, &s.Authenticated, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, kerr.NotFoundf("session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("Get session: %w", err)
	}
	s.Principal = principal.String
	s.Token = tok.String
	return &s, nil
}

// ListByPrincipal returns the principal's authenticated, unexpired
// sessions, newest first. With pendingOnly set, only sessions holding at
// least one unsaved queue entry are returned.
func (r *PostgresSessionRepository) ListByPrincipal(ctx context.Context, principal string, pendingOnly bool) ([]models.Session, error) {
	query := `
		SELECT s.session_id, s.principal, s.device_name, s.token, s.authenticated, s.created_at, s.expires_at
		  FROM sessions s
		 WHERE s.principal = $1 AND s.authenticated = TRUE AND s.expires_at > now()`
	if pendingOnly {
		query += `
		   AND EXISTS (
		       SELECT 1 FROM pending_credentials p
		        WHERE p.session_id = s.session_id AND p.saved = FALSE)`
	}
	query += `
		 ORDER BY s.created_at DESC`

	rows, err := r.DB.QueryContext(ctx, query, principal)
	if err != nil {
		return nil, fmt.Errorf("ListByPrincipal: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var (
			s    models.Session
			prin sql.NullString
			tok  sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &prin, &s.DeviceName, &tok, &s.Authenticated, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		s.Principal = prin.String
		s.Token = tok.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Delete removes a session and, via cascade, its queue.
func (r *PostgresSessionRepository) Delete(ctx context.Context, sessionID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("Delete session: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return kerr.NotFoundf("session %s", sessionID)
	}
	return nil
}
