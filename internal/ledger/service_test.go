package ledger

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

type memoryLedgerRepo struct {
	entries       map[int64]Entry
	nextID        int64
	balanceWrites int
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{entries: make(map[int64]Entry)}
}

func (r *memoryLedgerRepo) Insert(ctx context.Context, e Entry) (int64, error) {
	r.nextID++
	e.ID = r.nextID
	r.entries[e.ID] = e
	return e.ID, nil
}

func (r *memoryLedgerRepo) Get(ctx context.Context, id int64) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, shared.ErrNotFound
	}
	return e, nil
}

func (r *memoryLedgerRepo) Update(ctx context.Context, e Entry) error {
	if _, ok := r.entries[e.ID]; !ok {
		return shared.ErrNotFound
	}
	r.entries[e.ID] = e
	return nil
}

func (r *memoryLedgerRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.entries[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *memoryLedgerRepo) LatestByInsertion(ctx context.Context, source MoneySource, branch string) (Entry, error) {
	var latest Entry
	found := false
	for _, e := range r.entries {
		if e.Source != source || e.Branch != branch {
			continue
		}
		if !found || e.ID > latest.ID {
			latest = e
			found = true
		}
	}
	if !found {
		return Entry{}, ErrNoEntries
	}
	return latest, nil
}

func (r *memoryLedgerRepo) ListPair(ctx context.Context, source MoneySource, branch string) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if e.Source == source && e.Branch == branch {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryLedgerRepo) UpdateBalances(ctx context.Context, id int64, before, after int64) error {
	e, ok := r.entries[id]
	if !ok {
		return shared.ErrNotFound
	}
	e.BalanceBefore = before
	e.BalanceAfter = after
	r.entries[id] = e
	r.balanceWrites++
	return nil
}

func (r *memoryLedgerRepo) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (r *memoryLedgerRepo) ListPairs(ctx context.Context) ([]Pair, error) {
	seen := map[Pair]bool{}
	var pairs []Pair
	for _, e := range r.entries {
		p := Pair{Source: e.Source, Branch: e.Branch}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

type noopAudit struct{}

func (noopAudit) Record(ctx context.Context, log shared.AuditLog) error { return nil }

func newTestService(repo *memoryLedgerRepo) *Service {
	return NewService(repo, noopAudit{}, shared.NewKeyedMutex(), nil, slog.Default(), nil)
}

type recordingPairLock struct {
	acquired []string
	released int
}

func (r *recordingPairLock) Acquire(_ context.Context, key string) (func(), error) {
	r.acquired = append(r.acquired, key)
	return func() { r.released++ }, nil
}

func adminCtx() context.Context {
	return shared.ContextWithIdentity(context.Background(), shared.Identity{
		UserID: 1, Role: shared.RoleAdmin, Branch: "central",
	})
}

func staffCtx(branch string) context.Context {
	return shared.ContextWithIdentity(context.Background(), shared.Identity{
		UserID: 2, Role: shared.RoleStaff, Branch: branch,
	})
}

func TestAppendComputesRunningBalance(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := adminCtx()

	first, err := svc.Append(ctx, AppendInput{
		Direction: DirectionInflow, Amount: 1_000_000,
		Source: SourceCash, Branch: "Branch A", Kind: KindManual,
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, first.BalanceBefore)
	require.EqualValues(t, 1_000_000, first.BalanceAfter)

	second, err := svc.Append(ctx, AppendInput{
		Direction: DirectionOutflow, Amount: 400_000,
		Source: SourceCash, Branch: "Branch A", Kind: KindManual,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1_000_000, second.BalanceBefore)
	require.EqualValues(t, 600_000, second.BalanceAfter)

	balance, err := svc.CurrentBalance(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	require.EqualValues(t, 600_000, balance)
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	svc := newTestService(newMemoryLedgerRepo())
	ctx := adminCtx()

	_, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 0, Source: SourceCash, Branch: "Branch A"})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 100, Source: "crypto", Branch: "Branch A"})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.Append(ctx, AppendInput{Direction: "sideways", Amount: 100, Source: SourceCash, Branch: "Branch A"})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestBalancesArePerPair(t *testing.T) {
	svc := newTestService(newMemoryLedgerRepo())
	ctx := adminCtx()

	_, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 500, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)
	cardEntry, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 300, Source: SourceCard, Branch: "Branch A"})
	require.NoError(t, err)
	require.EqualValues(t, 0, cardEntry.BalanceBefore)

	otherBranch, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 700, Source: SourceCash, Branch: "Branch B"})
	require.NoError(t, err)
	require.EqualValues(t, 0, otherBranch.BalanceBefore)
}

func TestCurrentBalanceEmptyPair(t *testing.T) {
	svc := newTestService(newMemoryLedgerRepo())
	balance, err := svc.CurrentBalance(context.Background(), SourceEWallet, "Branch A")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func requireContinuity(t *testing.T, entries []Entry) {
	t.Helper()
	var running int64
	for i, e := range entries {
		require.EqualValues(t, running, e.BalanceBefore, "entry %d balance_before", i)
		require.EqualValues(t, running+e.Signed(), e.BalanceAfter, "entry %d balance_after", i)
		running = e.BalanceAfter
	}
}

func TestReindexRepairsBackdatedEntry(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := adminCtx()

	_, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 1000, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)
	_, err = svc.Append(ctx, AppendInput{Direction: DirectionOutflow, Amount: 200, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)

	// Back-dated entry lands first in business-date order but derived its
	// balance from insertion order.
	yesterday := time.Now().Add(-24 * time.Hour)
	backdated, err := svc.Append(ctx, AppendInput{
		Direction: DirectionInflow, Amount: 500,
		Source: SourceCash, Branch: "Branch A", OccurredAt: yesterday,
	})
	require.NoError(t, err)
	require.EqualValues(t, 800, backdated.BalanceBefore)

	final, err := svc.Reindex(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	require.EqualValues(t, 1300, final)

	entries, err := repo.ListPair(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	requireContinuity(t, entries)
	require.EqualValues(t, 0, entries[0].BalanceBefore)
	require.EqualValues(t, 500, entries[0].BalanceAfter)
}

func TestReindexIdempotent(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := adminCtx()

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: int64(100 * (i + 1)), Source: SourceCash, Branch: "Branch A"})
		require.NoError(t, err)
	}
	_, err := svc.Reindex(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	writesAfterFirst := repo.balanceWrites

	_, err = svc.Reindex(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	require.Equal(t, writesAfterFirst, repo.balanceWrites, "second reindex must not write")
}

func TestUpdateAmountTriggersReindex(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := adminCtx()

	first, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 1000, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)
	_, err = svc.Append(ctx, AppendInput{Direction: DirectionOutflow, Amount: 300, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)

	newAmount := int64(2000)
	_, err = svc.Update(ctx, first.ID, UpdateInput{Amount: &newAmount})
	require.NoError(t, err)

	entries, err := repo.ListPair(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	requireContinuity(t, entries)
	require.EqualValues(t, 1700, entries[len(entries)-1].BalanceAfter)
}

func TestUpdateMovingEntryReindexesBothPairs(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := adminCtx()

	moved, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 400, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)
	_, err = svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 100, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)
	_, err = svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 50, Source: SourceCard, Branch: "Branch A"})
	require.NoError(t, err)

	card := SourceCard
	_, err = svc.Update(ctx, moved.ID, UpdateInput{Source: &card})
	require.NoError(t, err)

	cashEntries, err := repo.ListPair(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	requireContinuity(t, cashEntries)
	require.Len(t, cashEntries, 1)
	require.EqualValues(t, 100, cashEntries[0].BalanceAfter)

	cardEntries, err := repo.ListPair(ctx, SourceCard, "Branch A")
	require.NoError(t, err)
	requireContinuity(t, cardEntries)
	require.Len(t, cardEntries, 2)
}

func TestDeleteTriggersReindex(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := adminCtx()

	first, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 1000, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)
	_, err = svc.Append(ctx, AppendInput{Direction: DirectionOutflow, Amount: 250, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, first.ID))

	entries, err := repo.ListPair(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	requireContinuity(t, entries)
	require.EqualValues(t, -250, entries[0].BalanceAfter)

	err = svc.Delete(ctx, first.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLockedEntryRequiresPrivilege(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)

	entry, err := svc.Append(adminCtx(), AppendInput{
		Direction: DirectionInflow, Amount: 900,
		Source: SourceCash, Branch: "Branch A", Locked: true,
	})
	require.NoError(t, err)

	label := "edited"
	_, err = svc.Update(staffCtx("Branch A"), entry.ID, UpdateInput{Label: &label})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	err = svc.Delete(staffCtx("Branch A"), entry.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.Update(adminCtx(), entry.ID, UpdateInput{Label: &label})
	require.NoError(t, err)
}

func TestCrossBranchAccessDenied(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)

	entry, err := svc.Append(adminCtx(), AppendInput{
		Direction: DirectionInflow, Amount: 100,
		Source: SourceCash, Branch: "Branch B",
	})
	require.NoError(t, err)

	err = svc.Delete(staffCtx("Branch A"), entry.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestAppendAndReindexHoldPairLock(t *testing.T) {
	repo := newMemoryLedgerRepo()
	pairLock := &recordingPairLock{}
	svc := NewService(repo, noopAudit{}, shared.NewKeyedMutex(), pairLock, slog.Default(), nil)
	ctx := adminCtx()

	_, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 100, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)
	_, err = svc.Reindex(ctx, SourceCash, "Branch A")
	require.NoError(t, err)

	// Both operations take the same cross-process key, so an API append and
	// a worker reindex on one balance chain exclude each other.
	key := shared.LedgerPairKey(string(SourceCash), "Branch A")
	require.Equal(t, []string{key, key}, pairLock.acquired)
	require.Equal(t, 2, pairLock.released)
}

func TestCheckPairReportsDrift(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := adminCtx()

	_, err := svc.Append(ctx, AppendInput{Direction: DirectionInflow, Amount: 100, Source: SourceCash, Branch: "Branch A"})
	require.NoError(t, err)
	drifted, err := svc.CheckPair(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	require.False(t, drifted)

	// Corrupt the stored balance directly.
	for id, e := range repo.entries {
		e.BalanceAfter += 5
		repo.entries[id] = e
	}
	drifted, err = svc.CheckPair(ctx, SourceCash, "Branch A")
	require.NoError(t, err)
	require.True(t, drifted)
}
