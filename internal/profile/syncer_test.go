package profile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shelfmark/shelfmark/internal/platform"
)

type recordingStore struct {
	mu       sync.Mutex
	upserts  []platform.Profile
	err      error
	upserted chan struct{}
}

func (s *recordingStore) UpsertProfile(ctx context.Context, p platform.Profile) error {
	s.mu.Lock()
	s.upserts = append(s.upserts, p)
	s.mu.Unlock()
	if s.upserted != nil {
		s.upserted <- struct{}{}
	}
	return s.err
}

func TestSyncerEnqueue(t *testing.T) {
	store := &recordingStore{upserted: make(chan struct{}, 1)}
	s := NewSyncer(store)
	defer s.Close(context.Background())

	p := platform.Profile{UserID: uuid.New(), Email: "reader@example.com"}
	s.Enqueue(p)

	select {
	case <-store.upserted:
	case <-time.After(2 * time.Second):
		t.Fatal("profile was never synced")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, []platform.Profile{p}, store.upserts)
}

func TestSyncerClose_DrainsQueue(t *testing.T) {
	store := &recordingStore{}
	s := NewSyncer(store)

	for i := 0; i < 10; i++ {
		s.Enqueue(platform.Profile{UserID: uuid.New()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.upserts, 10)
}

func TestSyncerEnqueue_AfterCloseIsDropped(t *testing.T) {
	store := &recordingStore{}
	s := NewSyncer(store)
	require.NoError(t, s.Close(context.Background()))

	// A login finishing during shutdown must not panic on the closed
	// queue; the sync is dropped like any other overflow.
	s.Enqueue(platform.Profile{UserID: uuid.New()})

	// Closing again is a no-op.
	require.NoError(t, s.Close(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Empty(t, store.upserts)
}

func TestSyncer_OrphanedProfileIsNotAFailure(t *testing.T) {
	store := &recordingStore{err: platform.ErrProfileOrphaned, upserted: make(chan struct{}, 1)}
	s := NewSyncer(store)
	defer s.Close(context.Background())

	s.Enqueue(platform.Profile{UserID: uuid.New()})

	select {
	case <-store.upserted:
	case <-time.After(2 * time.Second):
		t.Fatal("profile sync never ran")
	}
	// The worker must survive the orphan and keep processing.
	s.Enqueue(platform.Profile{UserID: uuid.New()})
	select {
	case <-store.upserted:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after orphaned profile")
	}
}
