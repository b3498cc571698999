package tenant

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manager holds one tenant context per authenticated principal for the life
// of their session. Contexts are created lazily, dropped on sign-out and
// evicted after an idle period so abandoned sessions do not accumulate.
type Manager struct {
	dir      Directory
	statsTTL time.Duration
	idleTTL  time.Duration

	mu       sync.Mutex
	contexts map[uuid.UUID]*Context
}

// NewManager creates a context manager.
func NewManager(dir Directory, statsTTL, idleTTL time.Duration) *Manager {
	return &Manager{
		dir:      dir,
		statsTTL: statsTTL,
		idleTTL:  idleTTL,
		contexts: make(map[uuid.UUID]*Context),
	}
}

// Acquire returns the principal's tenant context, creating it on first use.
func (m *Manager) Acquire(userID uuid.UUID) *Context {
	m.mu.Lock()
	c, ok := m.contexts[userID]
	if !ok {
		c = newContext(userID, m.dir, m.statsTTL)
		m.contexts[userID] = c
	}
	m.mu.Unlock()

	c.touch()
	return c
}

// Drop removes the principal's tenant context. Called on sign-out.
func (m *Manager) Drop(userID uuid.UUID) {
	m.mu.Lock()
	c, ok := m.contexts[userID]
	if ok {
		delete(m.contexts, userID)
	}
	m.mu.Unlock()

	if ok {
		c.Clear()
	}
}

// Sweep evicts contexts idle for longer than the idle TTL. Scheduled from
// main; returns the number of evicted contexts.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var evicted []*Context
	for userID, c := range m.contexts {
		if c.idleSince().Before(cutoff) {
			delete(m.contexts, userID)
			evicted = append(evicted, c)
		}
	}
	remaining := len(m.contexts)
	m.mu.Unlock()

	for _, c := range evicted {
		c.Clear()
	}

	if len(evicted) > 0 {
		log.Debug().
			Int("evicted", len(evicted)).
			Int("remaining", remaining).
			Msg("Swept idle tenant contexts")
	}
	return len(evicted)
}
