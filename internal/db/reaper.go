package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartSessionReaper deletes expired pairing sessions with interval.
// Expired sessions already behave as nonexistent to every reader (all
// queries filter on expires_at); the reaper only reclaims the rows, and
// the pending_credentials cascade goes with them. onReap receives the
// ids of removed sessions so callers can drop per-session state; it may
// be nil.
func StartSessionReaper(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	log *zap.Logger,
	onReap func(sessionIDs []string),
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ids, err := reapExpired(ctx, db)
				if err != nil {
					log.Error("failed to reap expired sessions", zap.Error(err))
					continue
				}
				if len(ids) == 0 {
					continue
				}
				if onReap != nil {
					onReap(ids)
				}
				log.Info("reaped expired sessions", zap.Int("removed", len(ids)))
			}
		}
	}()
}

func reapExpired(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
        DELETE FROM sessions
         WHERE expires_at <= now()
        RETURNING session_id
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
