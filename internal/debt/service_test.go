package debt

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

type memoryDebtRepo struct {
	records    map[Kind][]Record
	nextID     int64
	failUpdate bool
}

func newMemoryDebtRepo() *memoryDebtRepo {
	return &memoryDebtRepo{records: map[Kind][]Record{}, nextID: 1}
}

func (m *memoryDebtRepo) add(kind Kind, rec Record) Record {
	rec.ID = m.nextID
	m.nextID++
	if rec.PartyKey == "" {
		rec.PartyKey = shared.PartyKey(rec.Name, rec.Phone)
	}
	m.records[kind] = append(m.records[kind], rec)
	return rec
}

func (m *memoryDebtRepo) ListRecords(_ context.Context, kind Kind, partyKey string) ([]Record, error) {
	var out []Record
	for _, rec := range m.records[kind] {
		if rec.PartyKey == partyKey {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryDebtRepo) ListAllRecords(_ context.Context, kind Kind, filter ListFilter) ([]Record, error) {
	var out []Record
	for _, rec := range m.records[kind] {
		if filter.Branch != "" && rec.Branch != filter.Branch {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryDebtRepo) UpdatePaid(_ context.Context, kind Kind, recordID int64, paid int64) error {
	for i := range m.records[kind] {
		if m.records[kind][i].ID == recordID {
			m.records[kind][i].Paid = paid
			return nil
		}
	}
	return shared.ErrNotFound
}

// UpdateIdentity mirrors the real repository's all-or-nothing behavior:
// with failUpdate set, nothing mutates.
func (m *memoryDebtRepo) UpdateIdentity(_ context.Context, kind Kind, up IdentityUpdate) error {
	if m.failUpdate {
		return errors.New("update refused")
	}
	for i := range m.records[kind] {
		rec := &m.records[kind][i]
		if paid, ok := up.PaidByID[rec.ID]; ok {
			rec.Paid = paid
		}
		if rec.PartyKey == up.OldKey {
			rec.Name = up.Name
			rec.Phone = up.Phone
			rec.PartyKey = up.NewKey
		}
	}
	return nil
}

type recordingLedger struct {
	entries []ledger.AppendInput
}

func (r *recordingLedger) Append(_ context.Context, in ledger.AppendInput) (ledger.Entry, error) {
	r.entries = append(r.entries, in)
	return ledger.Entry{ID: int64(len(r.entries))}, nil
}

func staffCtx(branch string) context.Context {
	return shared.ContextWithIdentity(context.Background(),
		shared.Identity{UserID: 7, Role: shared.RoleStaff, Branch: branch})
}

func newTestService(repo RepositoryPort, cashier LedgerPort) *Service {
	return NewService(repo, cashier, nil, shared.NewKeyedMutex(), nil, slog.Default())
}

func TestPaymentAllocatesOldestFirst(t *testing.T) {
	repo := newMemoryDebtRepo()
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first := repo.add(KindCustomer, Record{
		Name: "Anna", ProductRef: "phone-a", Quantity: 1, UnitPrice: 500_000,
		Date: day, Branch: "central",
	})
	second := repo.add(KindCustomer, Record{
		Name: "Anna", ProductRef: "phone-b", Quantity: 1, UnitPrice: 300_000,
		Date: day.Add(time.Hour), Branch: "central",
	})

	cashier := &recordingLedger{}
	svc := newTestService(repo, cashier)

	result, err := svc.ApplyPayment(staffCtx("central"), KindCustomer,
		Identity{Name: "Anna"}, 600_000, nil)
	require.NoError(t, err)
	require.Equal(t, int64(600_000), result.PaidApplied)
	require.Equal(t, int64(200_000), result.NewOutstanding)

	records, err := repo.ListRecords(context.Background(), KindCustomer, Identity{Name: "Anna"}.Key())
	require.NoError(t, err)
	require.Equal(t, first.ID, records[0].ID)
	require.Equal(t, int64(500_000), records[0].Paid)
	require.Equal(t, second.ID, records[1].ID)
	require.Equal(t, int64(100_000), records[1].Paid)
}

func TestPaymentAbsorbsExcess(t *testing.T) {
	repo := newMemoryDebtRepo()
	repo.add(KindCustomer, Record{
		Name: "Bo", Quantity: 1, UnitPrice: 100_000, Branch: "central",
		Date: time.Now(),
	})

	cashier := &recordingLedger{}
	svc := newTestService(repo, cashier)

	result, err := svc.ApplyPayment(staffCtx("central"), KindCustomer,
		Identity{Name: "Bo"}, 150_000, nil)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), result.PaidApplied)
	require.Equal(t, int64(0), result.NewOutstanding)

	// The cashbook still records the full amount received.
	require.Len(t, cashier.entries, 1)
	require.Equal(t, int64(150_000), cashier.entries[0].Amount)
}

func TestPaymentRejectsAllocationMismatch(t *testing.T) {
	repo := newMemoryDebtRepo()
	repo.add(KindCustomer, Record{Name: "Bo", Quantity: 1, UnitPrice: 100_000, Date: time.Now()})

	svc := newTestService(repo, &recordingLedger{})
	_, err := svc.ApplyPayment(staffCtx("central"), KindCustomer,
		Identity{Name: "Bo"}, 90_000,
		[]ledger.Allocation{{Source: ledger.SourceCash, Amount: 50_000}, {Source: ledger.SourceCard, Amount: 30_000}})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestPaymentUnknownDebtor(t *testing.T) {
	svc := newTestService(newMemoryDebtRepo(), &recordingLedger{})
	_, err := svc.ApplyPayment(staffCtx("central"), KindCustomer,
		Identity{Name: "Nobody"}, 10_000, nil)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPaymentPostsOneEntryPerAllocation(t *testing.T) {
	repo := newMemoryDebtRepo()
	repo.add(KindCustomer, Record{
		Name: "Anna", Quantity: 1, UnitPrice: 600_000, Branch: "central", Date: time.Now(),
	})

	cashier := &recordingLedger{}
	svc := newTestService(repo, cashier)

	_, err := svc.ApplyPayment(staffCtx("central"), KindCustomer,
		Identity{Name: "Anna"}, 0,
		[]ledger.Allocation{
			{Source: ledger.SourceCash, Amount: 400_000},
			{Source: ledger.SourceCard, Amount: 200_000},
		})
	require.NoError(t, err)

	require.Len(t, cashier.entries, 2)
	for _, entry := range cashier.entries {
		require.Equal(t, ledger.DirectionInflow, entry.Direction)
		require.Equal(t, ledger.KindDebtSettlement, entry.Kind)
		require.True(t, entry.Locked)
		require.True(t, entry.AutoGenerated)
	}
	require.Equal(t, ledger.SourceCash, cashier.entries[0].Source)
	require.Equal(t, ledger.SourceCard, cashier.entries[1].Source)
}

func TestSupplierPaymentIsOutflow(t *testing.T) {
	repo := newMemoryDebtRepo()
	repo.add(KindSupplier, Record{
		Name: "Acme Parts", Quantity: 10, UnitPrice: 20_000, Branch: "central", Date: time.Now(),
	})

	cashier := &recordingLedger{}
	svc := newTestService(repo, cashier)

	_, err := svc.ApplyPayment(staffCtx("central"), KindSupplier,
		Identity{Name: "Acme Parts"}, 50_000, nil)
	require.NoError(t, err)
	require.Len(t, cashier.entries, 1)
	require.Equal(t, ledger.DirectionOutflow, cashier.entries[0].Direction)
	require.Equal(t, "Acme Parts", cashier.entries[0].SupplierName)
	require.Empty(t, cashier.entries[0].CustomerName)
}

func TestDebtIncreaseFloorsPaidAtZero(t *testing.T) {
	repo := newMemoryDebtRepo()
	repo.add(KindCustomer, Record{
		Name: "Anna", Quantity: 1, UnitPrice: 100_000, Paid: 30_000,
		Branch: "central", Date: time.Now(),
	})

	cashier := &recordingLedger{}
	svc := newTestService(repo, cashier)

	result, err := svc.ApplyDebtIncrease(staffCtx("central"), KindCustomer,
		Identity{Name: "Anna"}, 50_000)
	require.NoError(t, err)
	require.Equal(t, int64(30_000), result.Added)
	require.Equal(t, int64(100_000), result.NewOutstanding)

	require.Len(t, cashier.entries, 1)
	require.Equal(t, ledger.DirectionOutflow, cashier.entries[0].Direction)
}

func TestDebtIncreaseTargetsMostRecentRecord(t *testing.T) {
	repo := newMemoryDebtRepo()
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	older := repo.add(KindCustomer, Record{
		Name: "Anna", Quantity: 1, UnitPrice: 100_000, Paid: 100_000, Date: day, Branch: "central",
	})
	newer := repo.add(KindCustomer, Record{
		Name: "Anna", Quantity: 1, UnitPrice: 100_000, Paid: 100_000, Date: day.Add(time.Hour), Branch: "central",
	})

	svc := newTestService(repo, &recordingLedger{})
	result, err := svc.ApplyDebtIncrease(staffCtx("central"), KindCustomer,
		Identity{Name: "Anna"}, 40_000)
	require.NoError(t, err)
	require.Equal(t, int64(40_000), result.Added)

	records, _ := repo.ListRecords(context.Background(), KindCustomer, Identity{Name: "Anna"}.Key())
	require.Equal(t, older.ID, records[0].ID)
	require.Equal(t, int64(100_000), records[0].Paid)
	require.Equal(t, newer.ID, records[1].ID)
	require.Equal(t, int64(60_000), records[1].Paid)
}

func TestUpdateIdentityRedistributesPaid(t *testing.T) {
	repo := newMemoryDebtRepo()
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.add(KindCustomer, Record{Name: "Ana", Quantity: 1, UnitPrice: 300_000, Paid: 300_000, Date: day})
	repo.add(KindCustomer, Record{Name: "Ana", Quantity: 1, UnitPrice: 200_000, Paid: 200_000, Date: day.Add(time.Hour)})

	svc := newTestService(repo, &recordingLedger{})
	newPaid := int64(100_000)
	err := svc.UpdateIdentity(context.Background(), KindCustomer,
		Identity{Name: "Ana"}, Identity{Name: "Anna", Phone: "555"}, &newPaid)
	require.NoError(t, err)

	records, err := repo.ListRecords(context.Background(), KindCustomer, Identity{Name: "Anna", Phone: "555"}.Key())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Anna", records[0].Name)
	require.Equal(t, int64(100_000), records[0].Paid)
	require.Equal(t, int64(0), records[1].Paid)

	// The old key no longer resolves.
	old, err := repo.ListRecords(context.Background(), KindCustomer, Identity{Name: "Ana"}.Key())
	require.NoError(t, err)
	require.Empty(t, old)
}

func TestUpdateIdentityFailureLeavesRecordsUntouched(t *testing.T) {
	repo := newMemoryDebtRepo()
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.add(KindCustomer, Record{Name: "Ana", Quantity: 1, UnitPrice: 300_000, Paid: 300_000, Date: day})
	repo.add(KindCustomer, Record{Name: "Ana", Quantity: 1, UnitPrice: 200_000, Paid: 200_000, Date: day.Add(time.Hour)})
	repo.failUpdate = true

	svc := newTestService(repo, &recordingLedger{})
	newPaid := int64(100_000)
	err := svc.UpdateIdentity(context.Background(), KindCustomer,
		Identity{Name: "Ana"}, Identity{Name: "Anna", Phone: "555"}, &newPaid)
	require.Error(t, err)

	// Rename and paid redistribution travel as one unit: after the failure
	// the old identity still resolves with its paid amounts intact.
	records, err := repo.ListRecords(context.Background(), KindCustomer, Identity{Name: "Ana"}.Key())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(300_000), records[0].Paid)
	require.Equal(t, int64(200_000), records[1].Paid)
}

func TestUpdateIdentityRejectsOverpaidTotal(t *testing.T) {
	repo := newMemoryDebtRepo()
	repo.add(KindCustomer, Record{Name: "Ana", Quantity: 1, UnitPrice: 100_000, Date: time.Now()})

	svc := newTestService(repo, &recordingLedger{})
	newPaid := int64(150_000)
	err := svc.UpdateIdentity(context.Background(), KindCustomer,
		Identity{Name: "Ana"}, Identity{Name: "Ana"}, &newPaid)
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestListDebtorsGroupsByIdentity(t *testing.T) {
	repo := newMemoryDebtRepo()
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.add(KindCustomer, Record{Name: "Anna", Quantity: 1, UnitPrice: 500_000, Date: day, Branch: "central"})
	repo.add(KindCustomer, Record{Name: "anna", Quantity: 1, UnitPrice: 300_000, Paid: 100_000, Date: day.Add(time.Hour), Branch: "central"})
	repo.add(KindCustomer, Record{Name: "Bo", Quantity: 1, UnitPrice: 50_000, Paid: 50_000, Date: day, Branch: "central"})

	svc := newTestService(repo, &recordingLedger{})
	debtors, err := svc.ListDebtors(staffCtx("central"), KindCustomer, ListFilter{Branch: "central"})
	require.NoError(t, err)

	// "Anna" and "anna" normalize to the same identity; settled Bo is hidden.
	require.Len(t, debtors, 1)
	require.Equal(t, int64(800_000), debtors[0].TotalBilled)
	require.Equal(t, int64(100_000), debtors[0].TotalPaid)
	require.Equal(t, int64(700_000), debtors[0].Outstanding)
	require.Len(t, debtors[0].Lines, 2)

	all, err := svc.ListDebtors(staffCtx("central"), KindCustomer, ListFilter{Branch: "central", IncludeSettled: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestOverpaidRecordNeverOffsetsDebt(t *testing.T) {
	repo := newMemoryDebtRepo()
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	// Paid beyond billed on one record must not reduce another record's debt.
	repo.add(KindCustomer, Record{Name: "Cy", Quantity: 1, UnitPrice: 100_000, Paid: 150_000, Date: day})
	repo.add(KindCustomer, Record{Name: "Cy", Quantity: 1, UnitPrice: 200_000, Date: day.Add(time.Hour)})

	svc := newTestService(repo, &recordingLedger{})
	debtors, err := svc.ListDebtors(context.Background(), KindCustomer, ListFilter{})
	require.NoError(t, err)
	require.Len(t, debtors, 1)
	require.Equal(t, int64(200_000), debtors[0].Outstanding)
}
