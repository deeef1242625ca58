package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
)

// PostgresCredentialRepository implements the canonical per-principal
// credential store. The variant fields travel as one opaque JSON document
// in the data column; the envelope columns exist for queries.
type PostgresCredentialRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresCredentialRepository creates a repository over the given
// database connection.
func NewPostgresCredentialRepository(db *sql.DB) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{DB: db}
}

// Add inserts a new credential. The store is add-only from the sync
// subsystem's point of view: there is no upsert here.
func (r *PostgresCredentialRepository) Add(ctx context.Context, principal string, c models.Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("Add credential: marshal: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO credentials (id, principal, title, category, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, principal, c.Title, string(c.Category), string(data), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("Add credential: %w", err)
	}
	return nil
}

// ListByPrincipal fetches all credentials for the principal.
func (r *PostgresCredentialRepository) ListByPrincipal(ctx context.Context, principal string) ([]models.Credential, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT data FROM credentials WHERE principal = $1 ORDER BY created_at
	`, principal)
	if err != nil {
		return nil, fmt.Errorf("ListByPrincipal credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var c models.Credential
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("unmarshal credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Delete removes one credential owned by the principal.
func (r *PostgresCredentialRepository) Delete(ctx context.Context, principal, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM credentials WHERE principal = $1 AND id = $2
	`, principal, id)
	if err != nil {
		return fmt.Errorf("Delete credential: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return kerr.NotFoundf("credential %s", id)
	}
	return nil
}
