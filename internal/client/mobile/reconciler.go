// Package mobile implements the phone side of pairing: claiming
// scanned sessions, the local vault with its offline queue, and the
// reconciler that merges relayed captures into the canonical store.
package mobile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/krypkey/krypkey/internal/kerr"
	"github.com/krypkey/krypkey/internal/models"
	"github.com/krypkey/krypkey/internal/transit"
)

// ErrBusy is returned when a reconciliation pass is already running.
// Callers simply wait for the running pass; its result covers them.
var ErrBusy = errors.New("sync already in progress")

// Report summarizes one reconciliation pass.
type Report struct {
	// Saved counts candidates persisted to the canonical store.
	Saved int
	// Failed counts candidates whose persist failed; they stay queued.
	Failed int
	// Skipped counts candidates dropped as duplicates.
	Skipped int
}

// API is the broker surface the reconciler uses.
type API interface {
	ListSessions(ctx context.Context, pendingOnly bool) ([]models.Session, error)
	GetPending(ctx context.Context, sessionID string) ([]models.PendingCredential, error)
	MarkSaved(ctx context.Context, sessionID string, ids []string) error
	AddPassword(ctx context.Context, cred models.Credential, rootSecret string) (*models.Credential, error)
	ListPasswords(ctx context.Context, rootSecret string) ([]models.Credential, error)
}

// SyncReconciler merges two candidate sets into the canonical store:
// relayed captures queued on the principal's paired sessions, and the
// vault's own offline queue. At most one pass runs at a time; persists
// within a pass are sequential with a spacing delay so a large backlog
// does not hammer the broker.
type SyncReconciler struct {
	api    API
	cipher transit.Cipher
	delay  time.Duration

	mu   sync.Mutex
	busy bool
}

// NewSyncReconciler constructs a reconciler. delay is the pause between
// consecutive persists; zero disables the spacing.
func NewSyncReconciler(a API, cipher transit.Cipher, delay time.Duration) *SyncReconciler {
	return &SyncReconciler{api: a, cipher: cipher, delay: delay}
}

// candidate is one credential waiting to be merged, together with the
// relay bookkeeping needed to consume it.
type candidate struct {
	cred      models.Credential
	sessionID string
	relayID   string
	offlineIx int
}

// Reconcile runs one merge pass. offline is the vault's local queue;
// the returned slice holds the entries that are still unmerged after
// the pass (failed persists). Duplicate candidates, against the store
// or within the pass, are counted skipped and consumed.
func (r *SyncReconciler) Reconcile(ctx context.Context, rootSecret string, offline []models.Credential) (Report, []models.Credential, error) {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return Report{}, offline, ErrBusy
	}
	r.busy = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	var report Report

	candidates, err := r.collect(ctx, offline)
	if err != nil {
		return report, offline, err
	}
	if len(candidates) == 0 {
		return report, nil, nil
	}

	existing, err := r.api.ListPasswords(ctx, rootSecret)
	if err != nil {
		return report, offline, err
	}
	seen := make(map[models.MatchKey]bool, len(existing))
	for _, c := range existing {
		seen[c.MatchKey()] = true
	}

	consumedRelay := make(map[string][]string)
	keepOffline := make([]bool, len(offline))

	for i, cand := range candidates {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return report, remaining(offline, keepOffline, candidates[i:]), ctx.Err()
			case <-time.After(r.delay):
			}
		}

		key := cand.cred.MatchKey()
		if seen[key] {
			report.Skipped++
			if cand.relayID != "" {
				consumedRelay[cand.sessionID] = append(consumedRelay[cand.sessionID], cand.relayID)
			}
			continue
		}
		if _, err := r.api.AddPassword(ctx, cand.cred, rootSecret); err != nil {
			report.Failed++
			if cand.offlineIx >= 0 {
				keepOffline[cand.offlineIx] = true
			}
			continue
		}
		seen[key] = true
		report.Saved++
		if cand.relayID != "" {
			consumedRelay[cand.sessionID] = append(consumedRelay[cand.sessionID], cand.relayID)
		}
	}

	for sessionID, ids := range consumedRelay {
		// Mark-saved failures are harmless: the entries reappear next
		// pass and dedup skips them again.
		_ = r.api.MarkSaved(ctx, sessionID, ids)
	}

	var left []models.Credential
	for i, keep := range keepOffline {
		if keep {
			left = append(left, offline[i])
		}
	}
	return report, left, nil
}

// collect gathers the pass's candidates: relayed captures first, oldest
// session first, then the offline queue in capture order.
func (r *SyncReconciler) collect(ctx context.Context, offline []models.Credential) ([]candidate, error) {
	sessions, err := r.api.ListSessions(ctx, true)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, s := range sessions {
		pending, err := r.api.GetPending(ctx, s.SessionID)
		if err != nil {
			if kerr.IsTransient(err) {
				continue
			}
			return nil, err
		}
		for _, p := range pending {
			cred, err := decodeRelayed(r.cipher, p, s.Token)
			if err != nil {
				// Undecodable entries are consumed so they stop
				// resurfacing.
				_ = r.api.MarkSaved(ctx, s.SessionID, []string{p.ID})
				continue
			}
			candidates = append(candidates, candidate{
				cred:      cred,
				sessionID: s.SessionID,
				relayID:   p.ID,
				offlineIx: -1,
			})
		}
	}
	for i, c := range offline {
		candidates = append(candidates, candidate{cred: c, offlineIx: i})
	}
	return candidates, nil
}

// remaining rebuilds the offline queue when a pass aborts mid-way:
// everything already marked keep plus every offline candidate not yet
// visited.
func remaining(offline []models.Credential, keep []bool, unvisited []candidate) []models.Credential {
	pending := make(map[int]bool)
	for _, c := range unvisited {
		if c.offlineIx >= 0 {
			pending[c.offlineIx] = true
		}
	}
	var left []models.Credential
	for i := range offline {
		if keep[i] || pending[i] {
			left = append(left, offline[i])
		}
	}
	return left
}

// decodeRelayed turns one relay entry into a plaintext credential. The
// payload deciphers under the session token into a JSON field document
// for the entry's category.
func decodeRelayed(cipher transit.Cipher, p models.PendingCredential, token string) (models.Credential, error) {
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
