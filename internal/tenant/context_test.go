package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shelfmark/shelfmark/internal/platform"
)

// fakeDirectory is an in-memory Directory with injectable failures.
type fakeDirectory struct {
	mu      sync.Mutex
	entries []platform.DirectoryEntry
	orgs    map[uuid.UUID]*platform.Organization
	stats   map[uuid.UUID]*platform.OrgStats

	listErr   error
	switchErr error
	getErr    error
	statsErr  error

	switchCalls []uuid.UUID
	statsCalls  int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		orgs:  make(map[uuid.UUID]*platform.Organization),
		stats: make(map[uuid.UUID]*platform.OrgStats),
	}
}

func (f *fakeDirectory) addMembership(role string, isCurrent bool, joinedAt time.Time) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()

	orgID := uuid.New()
	f.entries = append(f.entries, platform.DirectoryEntry{
		OrganizationID: orgID,
		Name:           "Library " + orgID.String()[:8],
		Slug:           "lib-" + orgID.String()[:8],
		Role:           role,
		IsCurrent:      isCurrent,
		JoinedAt:       joinedAt,
	})
	f.orgs[orgID] = &platform.Organization{ID: orgID, Name: "Library", SubscriptionPlan: "free"}
	f.stats[orgID] = &platform.OrgStats{TotalBooks: 42}
	return orgID
}

func (f *fakeDirectory) ListOrganizations(ctx context.Context, userID uuid.UUID) ([]platform.DirectoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]platform.DirectoryEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeDirectory) SwitchOrganization(ctx context.Context, userID, orgID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchCalls = append(f.switchCalls, orgID)
	if f.switchErr != nil {
		return f.switchErr
	}

	found := false
	for i := range f.entries {
		if f.entries[i].OrganizationID == orgID {
			found = true
		}
	}
	if !found {
		return platform.ErrNotAMember
	}
	for i := range f.entries {
		f.entries[i].IsCurrent = f.entries[i].OrganizationID == orgID
	}
	return nil
}

func (f *fakeDirectory) CreateOrganization(ctx context.Context, userID uuid.UUID, name, slug, description, contactEmail string) (*platform.CreateOrgResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	orgID := uuid.New()
	for i := range f.entries {
		f.entries[i].IsCurrent = false
	}
	f.entries = append(f.entries, platform.DirectoryEntry{
		OrganizationID: orgID,
		Name:           name,
		Slug:           slug,
		Role:           "owner",
		IsCurrent:      true,
		JoinedAt:       time.Now(),
	})
	f.orgs[orgID] = &platform.Organization{ID: orgID, Name: name, Slug: slug}
	f.stats[orgID] = &platform.OrgStats{}
	return &platform.CreateOrgResult{OrganizationID: orgID, Slug: slug}, nil
}

func (f *fakeDirectory) GetOrganization(ctx context.Context, orgID uuid.UUID) (*platform.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	org, ok := f.orgs[orgID]
	if !ok {
		return nil, platform.ErrOrgNotFound
	}
	copied := *org
	return &copied, nil
}

func (f *fakeDirectory) OrganizationStats(ctx context.Context, orgID uuid.UUID) (*platform.OrgStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	stats, ok := f.stats[orgID]
	if !ok {
		return nil, platform.ErrOrgNotFound
	}
	copied := *stats
	return &copied, nil
}

func newTestContext(dir Directory) *Context {
	return newContext(uuid.New(), dir, time.Minute)
}

func TestEnsureResolved_NoMemberships(t *testing.T) {
	dir := newFakeDirectory()
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))

	snap := c.Snapshot()
	require.Equal(t, StateNoTenant, snap.State)
	require.Nil(t, snap.Organization)
	require.Empty(t, snap.Organizations)
	require.Equal(t, Capabilities{}, snap.Capabilities)
}

func TestEnsureResolved_SingleMembership(t *testing.T) {
	dir := newFakeDirectory()
	orgID := dir.addMembership("librarian", true, time.Now())
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))

	snap := c.Snapshot()
	require.Equal(t, StateResolved, snap.State)
	require.Equal(t, orgID, snap.Organization.ID)
	require.Equal(t, RoleLibrarian, snap.Role)
	require.True(t, snap.Capabilities.CanManageBooks)
	require.False(t, snap.Capabilities.CanManageMembers)
	require.Len(t, snap.Organizations, 1)
}

func TestEnsureResolved_ListFailureLeavesUnresolved(t *testing.T) {
	dir := newFakeDirectory()
	dir.addMembership("member", true, time.Now())
	dir.listErr = errors.New("platform down")
	c := newTestContext(dir)

	require.Error(t, c.EnsureResolved(context.Background()))
	require.Equal(t, StateUnresolved, c.Snapshot().State)

	// The next attempt retries from scratch.
	dir.mu.Lock()
	dir.listErr = nil
	dir.mu.Unlock()
	require.NoError(t, c.EnsureResolved(context.Background()))
	require.Equal(t, StateResolved, c.Snapshot().State)
}

func TestEnsureResolved_DetailsFailureLeavesUnresolved(t *testing.T) {
	dir := newFakeDirectory()
	dir.addMembership("admin", true, time.Now())
	dir.getErr = errors.New("platform down")
	c := newTestContext(dir)

	require.Error(t, c.EnsureResolved(context.Background()))

	snap := c.Snapshot()
	require.Equal(t, StateUnresolved, snap.State)
	require.Nil(t, snap.Organization)
	require.Empty(t, snap.Organizations)
}

func TestEnsureResolved_PromotesEarliestJoined(t *testing.T) {
	dir := newFakeDirectory()
	dir.addMembership("member", false, time.Now())
	earliest := dir.addMembership("admin", false, time.Now().Add(-48*time.Hour))
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))

	snap := c.Snapshot()
	require.Equal(t, StateResolved, snap.State)
	require.Equal(t, earliest, snap.Organization.ID)
	require.Equal(t, RoleAdmin, snap.Role)

	// The organizations list must agree with the promotion: exactly the
	// promoted membership is reported current.
	var current []uuid.UUID
	for _, entry := range snap.Organizations {
		if entry.IsCurrent {
			current = append(current, entry.OrganizationID)
		}
	}
	require.Equal(t, []uuid.UUID{earliest}, current)

	// The promotion is written back so the next session agrees.
	dir.mu.Lock()
	defer dir.mu.Unlock()
	require.Equal(t, []uuid.UUID{earliest}, dir.switchCalls)
}

func TestEnsureResolved_UnknownRole(t *testing.T) {
	dir := newFakeDirectory()
	dir.addMembership("superuser", true, time.Now())
	c := newTestContext(dir)

	err := c.EnsureResolved(context.Background())
	require.ErrorIs(t, err, ErrRoleUnknown)
	require.Equal(t, StateUnresolved, c.Snapshot().State)
}

func TestSwitch(t *testing.T) {
	dir := newFakeDirectory()
	first := dir.addMembership("admin", true, time.Now())
	second := dir.addMembership("member", false, time.Now())
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))
	require.Equal(t, first, c.Snapshot().Organization.ID)

	require.NoError(t, c.Switch(context.Background(), second))

	snap := c.Snapshot()
	require.Equal(t, StateResolved, snap.State)
	require.Equal(t, second, snap.Organization.ID)
	require.Equal(t, RoleMember, snap.Role)
	require.False(t, snap.Capabilities.CanManageBooks)
	require.Nil(t, snap.Stats, "stats belong to the previous organization")
}

func TestSwitch_NotAMemberLeavesStateUntouched(t *testing.T) {
	dir := newFakeDirectory()
	first := dir.addMembership("owner", true, time.Now())
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))

	err := c.Switch(context.Background(), uuid.New())
	require.ErrorIs(t, err, platform.ErrNotAMember)

	snap := c.Snapshot()
	require.Equal(t, StateResolved, snap.State)
	require.Equal(t, first, snap.Organization.ID)
	require.Equal(t, RoleOwner, snap.Role)
}

func TestRefresh_PicksUpNewMemberships(t *testing.T) {
	dir := newFakeDirectory()
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))
	require.Equal(t, StateNoTenant, c.Snapshot().State)

	orgID := dir.addMembership("member", true, time.Now())

	require.NoError(t, c.Refresh(context.Background()))

	snap := c.Snapshot()
	require.Equal(t, StateResolved, snap.State)
	require.Equal(t, orgID, snap.Organization.ID)
}

func TestCreateOrganization_ResolvesOntoNewOrg(t *testing.T) {
	dir := newFakeDirectory()
	dir.addMembership("member", true, time.Now())
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))

	result, err := c.CreateOrganization(context.Background(), "Branch Library", "branch-library", "", "")
	require.NoError(t, err)
	require.Equal(t, "branch-library", result.Slug)

	snap := c.Snapshot()
	require.Equal(t, StateResolved, snap.State)
	require.Equal(t, result.OrganizationID, snap.Organization.ID)
	require.Equal(t, RoleOwner, snap.Role)
	require.Len(t, snap.Organizations, 2)
}

func TestClear(t *testing.T) {
	dir := newFakeDirectory()
	dir.addMembership("admin", true, time.Now())
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))
	c.Clear()

	snap := c.Snapshot()
	require.Equal(t, StateUnresolved, snap.State)
	require.Nil(t, snap.Organization)
	require.Empty(t, snap.Organizations)
}

func TestStats_NilWhenNotResolved(t *testing.T) {
	dir := newFakeDirectory()
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))
	require.Equal(t, StateNoTenant, c.Snapshot().State)

	stats, err := c.Stats(context.Background(), false)
	require.NoError(t, err)
	require.Nil(t, stats)
	require.Zero(t, dir.statsCalls)
}

func TestStats_CachedUntilForced(t *testing.T) {
	dir := newFakeDirectory()
	dir.addMembership("member", true, time.Now())
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))

	first, err := c.Stats(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 42, first.TotalBooks)

	_, err = c.Stats(context.Background(), false)
	require.NoError(t, err)

	dir.mu.Lock()
	calls := dir.statsCalls
	dir.mu.Unlock()
	require.Equal(t, 1, calls, "second read must come from cache")

	_, err = c.Stats(context.Background(), true)
	require.NoError(t, err)

	dir.mu.Lock()
	calls = dir.statsCalls
	dir.mu.Unlock()
	require.Equal(t, 2, calls, "forced refresh must hit the directory")
}

func TestStats_ExpiresAfterTTL(t *testing.T) {
	dir := newFakeDirectory()
	dir.addMembership("member", true, time.Now())
	c := newContext(uuid.New(), dir, time.Millisecond)

	require.NoError(t, c.EnsureResolved(context.Background()))

	_, err := c.Stats(context.Background(), false)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = c.Stats(context.Background(), false)
	require.NoError(t, err)

	dir.mu.Lock()
	defer dir.mu.Unlock()
	require.Equal(t, 2, dir.statsCalls)
}

func TestSnapshot_ConsistentUnderConcurrentSwitches(t *testing.T) {
	dir := newFakeDirectory()
	first := dir.addMembership("admin", true, time.Now())
	second := dir.addMembership("member", false, time.Now())
	c := newTestContext(dir)

	require.NoError(t, c.EnsureResolved(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		target := first
		if i%2 == 0 {
			target = second
		}
		wg.Add(1)
		go func(orgID uuid.UUID) {
			defer wg.Done()
			_ = c.Switch(context.Background(), orgID)
		}(target)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			snap := c.Snapshot()
			if snap.State != StateResolved || snap.Organization == nil {
				continue
			}
			// The role must always match the organization it was loaded with.
			switch snap.Organization.ID {
			case first:
				require.Equal(t, RoleAdmin, snap.Role)
			case second:
				require.Equal(t, RoleMember, snap.Role)
			}
		}
	}()

	wg.Wait()
	<-done
}
