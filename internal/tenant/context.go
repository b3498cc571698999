// Package tenant owns the answer to "who am I acting as, in which
// organization, with which privileges". Every route consumes this package's
// contract instead of calling the data platform directly.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/internal/platform"
)

// Directory is the slice of the data platform the tenant context needs.
type Directory interface {
	ListOrganizations(ctx context.Context, userID uuid.UUID) ([]platform.DirectoryEntry, error)
	SwitchOrganization(ctx context.Context, userID, orgID uuid.UUID) error
	CreateOrganization(ctx context.Context, userID uuid.UUID, name, slug, description, contactEmail string) (*platform.CreateOrgResult, error)
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*platform.Organization, error)
	OrganizationStats(ctx context.Context, orgID uuid.UUID) (*platform.OrgStats, error)
}

// State of a principal's tenant resolution.
type State int

const (
	// StateUnresolved means the directory has not been consulted yet, or the
	// last consultation failed and must be retried.
	StateUnresolved State = iota
	// StateNoTenant means the principal has zero memberships.
	StateNoTenant
	// StateResolved means exactly one organization is current.
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateNoTenant:
		return "no_tenant"
	case StateResolved:
		return "resolved"
	default:
		return "unresolved"
	}
}

// ErrRoleUnknown is returned when the directory reports a role outside the
// known hierarchy.
var ErrRoleUnknown = errors.New("directory returned an unknown role")

// Context holds one principal's active organization, role and derived flags.
//
// All transitions are applied as a single state replacement under the mutex,
// so a reader can never observe a new organization paired with a stale role.
// Every mutation attempt takes a generation ticket; a mutation whose network
// calls finish after a newer mutation started is discarded wholesale
// (latest wins), which closes the lost-update race between rapid switches.
type Context struct {
	userID uuid.UUID
	dir    Directory

	statsTTL time.Duration

	// opMu serializes resolve/switch causal chains so their platform calls
	// never interleave; mu only guards the in-memory state.
	opMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	state     State
	org       *platform.Organization
	role      Role
	entries   []platform.DirectoryEntry
	stats     *platform.OrgStats
	statsAt   time.Time
	lastTouch time.Time
}

func newContext(userID uuid.UUID, dir Directory, statsTTL time.Duration) *Context {
	return &Context{
		userID:    userID,
		dir:       dir,
		statsTTL:  statsTTL,
		state:     StateUnresolved,
		lastTouch: time.Now(),
	}
}

// Snapshot is a consistent read of the context for rendering and gating.
type Snapshot struct {
	UserID        uuid.UUID
	State         State
	Organization  *platform.Organization
	Role          Role
	Capabilities  Capabilities
	Organizations []platform.DirectoryEntry
	Stats         *platform.OrgStats
}

// Snapshot returns a consistent view of the current state.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		UserID:        c.userID,
		State:         c.state,
		Organization:  c.org,
		Role:          c.role,
		Organizations: c.entries,
		Stats:         c.stats,
	}
	if c.state == StateResolved {
		snap.Capabilities = c.role.Capabilities()
	}
	return snap
}

// begin takes a generation ticket for a mutation attempt.
func (c *Context) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return c.gen
}

// commit applies fn only if no newer mutation started since gen was taken.
// Returns false when the attempt was superseded.
func (c *Context) commit(gen uint64, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	fn()
	return true
}

func (c *Context) resetLocked() {
	c.state = StateUnresolved
	c.org = nil
	c.role = ""
	c.entries = nil
	c.stats = nil
	c.statsAt = time.Time{}
}

// EnsureResolved runs the Unresolved -> NoTenant | Resolved transition if it
// has not happened yet. A failure leaves the context Unresolved so the next
// request retries instead of seeing half-updated state.
func (c *Context) EnsureResolved(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnresolved {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.resolve(ctx)
}

// Refresh re-runs the full resolution regardless of current state.
func (c *Context) Refresh(ctx context.Context) error {
	gen := c.begin()
	c.commit(gen, c.resetLocked)
	return c.resolve(ctx)
}

func (c *Context) resolve(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	// A competing request may have resolved while we waited for the lock.
	c.mu.Lock()
	if c.state != StateUnresolved {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	gen := c.begin()

	entries, err := c.dir.ListOrganizations(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}

	if len(entries) == 0 {
		c.commit(gen, func() {
			c.resetLocked()
			c.state = StateNoTenant
		})
		return nil
	}

	current, marked := pickCurrent(entries)
	if !marked {
		// Defensive: memberships exist but none is marked current. Promote
		// the earliest-joined membership; the choice must be deterministic,
		// never dependent on backend list order.
		if err := c.dir.SwitchOrganization(ctx, c.userID, current.OrganizationID); err != nil {
			return fmt.Errorf("failed to promote organization %s: %w", current.Slug, err)
		}
		// The listing predates the promotion; patch it so the committed
		// organizations list agrees on which membership is current.
		for i := range entries {
			entries[i].IsCurrent = entries[i].OrganizationID == current.OrganizationID
		}
	}

	role, ok := ParseRole(current.Role)
	if !ok {
		return fmt.Errorf("%w: %q", ErrRoleUnknown, current.Role)
	}

	org, err := c.dir.GetOrganization(ctx, current.OrganizationID)
	if err != nil {
		// Directory listed fine but details failed: do not keep stale data.
		c.commit(gen, c.resetLocked)
		return fmt.Errorf("failed to load organization %s: %w", current.Slug, err)
	}

	c.commit(gen, func() {
		c.state = StateResolved
		c.org = org
		c.role = role
		c.entries = entries
		c.stats = nil
		c.statsAt = time.Time{}
	})
	return nil
}

// pickCurrent returns the entry marked current, or the earliest-joined entry
// when nothing is marked.
func pickCurrent(entries []platform.DirectoryEntry) (platform.DirectoryEntry, bool) {
	earliest := entries[0]
	for _, entry := range entries {
		if entry.IsCurrent {
			return entry, true
		}
		if entry.JoinedAt.Before(earliest.JoinedAt) {
			earliest = entry
		}
	}
	return earliest, false
}

// Switch makes orgID the current organization. On any failure the previous
// state is left untouched (platform rejection) or dropped back to Unresolved
// (partial fetch), never half-updated.
func (c *Context) Switch(ctx context.Context, orgID uuid.UUID) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	gen := c.begin()

	if err := c.dir.SwitchOrganization(ctx, c.userID, orgID); err != nil {
		// Not a member or transient failure: nothing was committed, the
		// previously active organization stays as it was.
		return err
	}

	entries, err := c.dir.ListOrganizations(ctx, c.userID)
	if err != nil {
		c.commit(gen, c.resetLocked)
		return fmt.Errorf("failed to refresh organizations: %w", err)
	}

	var role Role
	found := false
	for _, entry := range entries {
		if entry.OrganizationID == orgID {
			parsed, ok := ParseRole(entry.Role)
			if !ok {
				return fmt.Errorf("%w: %q", ErrRoleUnknown, entry.Role)
			}
			role = parsed
			found = true
			break
		}
	}
	if !found {
		c.commit(gen, c.resetLocked)
		return platform.ErrNotAMember
	}

	org, err := c.dir.GetOrganization(ctx, orgID)
	if err != nil {
		c.commit(gen, c.resetLocked)
		return fmt.Errorf("failed to load organization: %w", err)
	}

	c.commit(gen, func() {
		c.state = StateResolved
		c.org = org
		c.role = role
		c.entries = entries
		c.stats = nil
		c.statsAt = time.Time{}
	})
	return nil
}

// CreateOrganization creates an organization with the principal as owner.
// The platform marks the new organization current, so on success the context
// is re-resolved and lands on it.
func (c *Context) CreateOrganization(ctx context.Context, name, slug, description, contactEmail string) (*platform.CreateOrgResult, error) {
	result, err := c.dir.CreateOrganization(ctx, c.userID, name, slug, description, contactEmail)
	if err != nil {
		return nil, err
	}

	if err := c.Refresh(ctx); err != nil {
		// The organization exists; only the local view is behind. The next
		// request's resolution will catch up.
		return result, fmt.Errorf("organization created but context refresh failed: %w", err)
	}
	return result, nil
}

// Clear drops all tenant state. Called on sign-out.
func (c *Context) Clear() {
	gen := c.begin()
	c.commit(gen, c.resetLocked)
}

// Stats returns the usage stats for the current organization, refreshing
// them when forced or stale. Returns nil without error when there is no
// current organization.
func (c *Context) Stats(ctx context.Context, force bool) (*platform.OrgStats, error) {
	c.mu.Lock()
	if c.state != StateResolved {
		c.mu.Unlock()
		return nil, nil
	}
	if !force && c.stats != nil && time.Since(c.statsAt) < c.statsTTL {
		stats := c.stats
		c.mu.Unlock()
		return stats, nil
	}
	orgID := c.org.ID
	gen := c.gen
	c.mu.Unlock()

	stats, err := c.dir.OrganizationStats(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization stats: %w", err)
	}

	// A switch may have superseded this refresh; only cache when the stats
	// still belong to the current organization.
	if c.commit(gen, func() {
		c.stats = stats
		c.statsAt = time.Now()
	}) {
		return stats, nil
	}
	return nil, nil
}

func (c *Context) touch() {
	c.mu.Lock()
	c.lastTouch = time.Now()
	c.mu.Unlock()
}

func (c *Context) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTouch
}
