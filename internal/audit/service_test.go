package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

type memoryTimelineRepo struct {
	entries []Entry
	got     Filter
}

func (m *memoryTimelineRepo) Timeline(_ context.Context, filter Filter) ([]Entry, int64, error) {
	m.got = filter
	var out []Entry
	for _, e := range m.entries {
		if filter.Branch != "" && e.Branch != filter.Branch {
			continue
		}
		out = append(out, e)
	}
	return out, int64(len(out)), nil
}

func TestTimelineScopesRestrictedRolesToOwnBranch(t *testing.T) {
	repo := &memoryTimelineRepo{entries: []Entry{
		{ID: 1, Action: "sales.checkout", Branch: "central"},
		{ID: 2, Action: "sales.checkout", Branch: "north"},
	}}
	svc := NewService(repo)

	ctx := shared.ContextWithIdentity(context.Background(),
		shared.Identity{UserID: 7, Role: shared.RoleStaff, Branch: "central"})
	page, err := svc.Timeline(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, "central", repo.got.Branch)
	require.Len(t, page.Entries, 1)

	_, err = svc.Timeline(ctx, Filter{Branch: "north"})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestTimelineAdminSeesAllBranches(t *testing.T) {
	repo := &memoryTimelineRepo{entries: []Entry{
		{ID: 1, Branch: "central"},
		{ID: 2, Branch: "north"},
	}}
	svc := NewService(repo)

	ctx := shared.ContextWithIdentity(context.Background(),
		shared.Identity{UserID: 1, Role: shared.RoleAdmin})
	page, err := svc.Timeline(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)
}

func TestTimelineRequiresIdentity(t *testing.T) {
	svc := NewService(&memoryTimelineRepo{})
	_, err := svc.Timeline(context.Background(), Filter{})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}
