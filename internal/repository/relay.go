package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/krypkey/krypkey/internal/models"
)

// PostgresRelayRepository implements the per-session pending-credential
// queue. Appends are row inserts and mark-saved is a per-id update, so the
// extension and the mobile app can act on the same session concurrently
// without broker-side read-modify-write.
type PostgresRelayRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresRelayRepository creates a repository over the given database
// connection.
func NewPostgresRelayRepository(db *sql.DB) *PostgresRelayRepository {
	return &PostgresRelayRepository{DB: db}
}

// Append adds one entry to the session's queue. Duplicate submissions
// create duplicate rows by design; dedup belongs to the reconciler.
func (r *PostgresRelayRepository) Append(ctx context.Context, p models.PendingCredential) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO pending_credentials (id, session_id, title, payload, category, saved, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
	`, p.ID, p.SessionID, p.Title, p.Payload, string(p.Category), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("Append pending credential: %w", err)
	}
	return nil
}

// ListUnsaved returns the session's not-yet-merged entries, oldest first.
func (r *PostgresRelayRepository) ListUnsaved(ctx context.Context, sessionID string) ([]models.PendingCredential, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, session_id, title, payload, category, saved, created_at
		  FROM pending_credentials
		 WHERE session_id = $1 AND saved = FALSE
		 ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ListUnsaved: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingCredential
	for rows.Next() {
		var p models.PendingCredential
		var category string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Title, &p.Payload, &category, &p.Saved, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		p.Category = models.Category(category)
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// MarkSaved flips the given entries to saved. Re-marking an already-saved
// id, or naming an id that does not exist, is a no-op.
func (r *PostgresRelayRepository) MarkSaved(ctx context.Context, sessionID string, ids []string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE pending_credentials SET saved = TRUE
		 WHERE session_id = $1 AND id = ANY($2)
	`, sessionID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("MarkSaved: %w", err)
	}
	return nil
}

// HasUnsaved reports whether the session holds any not-yet-merged entry.
// Pure read, cheap enough for UI prompts.
func (r *PostgresRelayRepository) HasUnsaved(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM pending_credentials WHERE session_id = $1 AND saved = FALSE)
	`, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasUnsaved: %w", err)
	}
	return exists, nil
}
