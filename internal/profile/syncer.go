// Package profile keeps the denormalized profile record in sync after
// authentication changes. The sync is fire-and-forget: it runs on its own
// worker, never blocks the authentication path, and failures only reach the
// log sink.
package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shelfmark/shelfmark/internal/platform"
)

const (
	defaultQueueSize = 256
	syncTimeout      = 10 * time.Second
)

// Store persists profile records.
type Store interface {
	UpsertProfile(ctx context.Context, p platform.Profile) error
}

// Syncer runs profile upserts on a background worker.
type Syncer struct {
	store Store
	queue chan platform.Profile
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewSyncer creates a syncer and starts its worker.
func NewSyncer(store Store) *Syncer {
	s := &Syncer{
		store: store,
		queue: make(chan platform.Profile, defaultQueueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue schedules a profile sync. Never blocks: when the queue is full the
// sync is dropped and logged, because a lost sync must not slow down or fail
// the authentication call that triggered it. Safe to call concurrently with
// Close; a sync arriving during shutdown is dropped, never a panic.
func (s *Syncer) Enqueue(p platform.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		log.Warn().
			Str("user_id", p.UserID.String()).
			Msg("Profile sync dropped, syncer is shutting down")
		return
	}

	select {
	case s.queue <- p:
	default:
		log.Warn().
			Str("user_id", p.UserID.String()).
			Msg("Profile sync queue full, dropping sync")
	}
}

// Close stops accepting work and waits for the worker to drain, up to the
// context deadline. Idempotent.
func (s *Syncer) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) run() {
	defer close(s.done)

	for p := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		err := s.store.UpsertProfile(ctx, p)
		cancel()

		switch {
		case err == nil:
			log.Debug().
				Str("user_id", p.UserID.String()).
				Msg("Profile synced")
		case errors.Is(err, platform.ErrProfileOrphaned):
			// The account was deleted while this sync was queued. Expected
			// when a registration was compensated; nothing to do.
			log.Debug().
				Str("user_id", p.UserID.String()).
				Msg("Profile sync skipped, principal gone")
		default:
			log.Error().
				Err(err).
				Str("user_id", p.UserID.String()).
				Msg("Profile sync failed")
		}
	}
}
