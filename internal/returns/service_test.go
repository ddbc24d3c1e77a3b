package returns

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlas-retail/atlas-pos/internal/inventory"
	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/sales"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

type memoryReturnRepo struct {
	records map[int64]Record
	nextID  int64
}

func newMemoryReturnRepo() *memoryReturnRepo {
	return &memoryReturnRepo{records: map[int64]Record{}, nextID: 1}
}

func (m *memoryReturnRepo) Insert(_ context.Context, rec Record) (int64, error) {
	for _, existing := range m.records {
		if existing.Kind == rec.Kind && existing.OriginalID == rec.OriginalID && existing.Status != StatusCancelled {
			return 0, fmt.Errorf("returns: %s line %d already has an active return: %w",
				rec.Kind, rec.OriginalID, shared.ErrInvalidState)
		}
	}
	rec.ID = m.nextID
	m.nextID++
	m.records[rec.ID] = rec
	return rec.ID, nil
}

func (m *memoryReturnRepo) Get(_ context.Context, id int64) (Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (m *memoryReturnRepo) Cancel(_ context.Context, id int64) error {
	rec, ok := m.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	rec.Status = StatusCancelled
	m.records[id] = rec
	return nil
}

func (m *memoryReturnRepo) List(_ context.Context, _ ListFilter) ([]Record, error) {
	var out []Record
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

type fakeSales struct {
	lines map[int64]*sales.Line
}

func newFakeSales(lines ...sales.Line) *fakeSales {
	f := &fakeSales{lines: map[int64]*sales.Line{}}
	for i := range lines {
		l := lines[i]
		f.lines[l.ID] = &l
	}
	return f
}

func (f *fakeSales) Get(_ context.Context, id int64) (sales.Line, error) {
	l, ok := f.lines[id]
	if !ok {
		return sales.Line{}, shared.ErrNotFound
	}
	return *l, nil
}

func (f *fakeSales) ListBatch(_ context.Context, batchID uuid.UUID) ([]sales.Line, error) {
	var out []sales.Line
	for _, l := range f.lines {
		if l.BatchID == batchID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeSales) MarkReturned(_ context.Context, ids []int64, returnID int64) error {
	for _, id := range ids {
		if l, ok := f.lines[id]; ok {
			l.Returned = true
			l.ReturnID = returnID
		}
	}
	return nil
}

func (f *fakeSales) ReducePaid(_ context.Context, id int64, delta int64) error {
	l, ok := f.lines[id]
	if !ok {
		return shared.ErrNotFound
	}
	l.AmountPaid -= delta
	if l.AmountPaid < 0 {
		l.AmountPaid = 0
	}
	return nil
}

type fakeStock struct {
	lines    map[int64]*inventory.Line
	restored []string
	deleted  []int64
}

func newFakeStock(lines ...inventory.Line) *fakeStock {
	f := &fakeStock{lines: map[int64]*inventory.Line{}}
	for i := range lines {
		l := lines[i]
		f.lines[l.ID] = &l
	}
	return f
}

func (f *fakeStock) Get(_ context.Context, id int64) (inventory.Line, error) {
	l, ok := f.lines[id]
	if !ok {
		return inventory.Line{}, shared.ErrNotFound
	}
	return *l, nil
}

func (f *fakeStock) Restore(_ context.Context, productRef, _ string, _ bool, _ int64, _ int64) error {
	f.restored = append(f.restored, productRef)
	return nil
}

func (f *fakeStock) DeleteLine(_ context.Context, id int64) error {
	if _, ok := f.lines[id]; !ok {
		return shared.ErrNotFound
	}
	delete(f.lines, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type recordingLedger struct {
	entries []ledger.AppendInput
}

func (r *recordingLedger) Append(_ context.Context, in ledger.AppendInput) (ledger.Entry, error) {
	r.entries = append(r.entries, in)
	return ledger.Entry{ID: int64(len(r.entries))}, nil
}

func adminCtx() context.Context {
	return shared.ContextWithIdentity(context.Background(),
		shared.Identity{UserID: 1, Role: shared.RoleAdmin, Branch: "central"})
}

func staffCtx(branch string) context.Context {
	return shared.ContextWithIdentity(context.Background(),
		shared.Identity{UserID: 7, Role: shared.RoleStaff, Branch: branch})
}

func newTestService(repo RepositoryPort, salesPort SalesPort, stock StockPort, cashier LedgerPort) *Service {
	return NewService(repo, salesPort, stock, cashier, nil, slog.Default(), nil)
}

func TestSaleReturnSettlesFullyPaidLine(t *testing.T) {
	salesPort := newFakeSales(sales.Line{
		ID: 1, ProductRef: "imei-123", Serialized: true, Quantity: 1,
		UnitPrice: 1_000_000, AmountPaid: 1_000_000, Branch: "central", BatchID: uuid.New(),
	})
	stock := newFakeStock()
	cashier := &recordingLedger{}
	svc := newTestService(newMemoryReturnRepo(), salesPort, stock, cashier)

	rec, err := svc.SaleReturn(staffCtx("central"), Input{
		OriginalID:   1,
		RefundAmount: 1_000_000,
		Allocation:   []ledger.Allocation{{Source: ledger.SourceCash, Amount: 1_000_000}},
		Reason:       "defective",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)

	line, _ := salesPort.Get(context.Background(), 1)
	require.True(t, line.Returned)
	require.Equal(t, rec.ID, line.ReturnID)
	require.Equal(t, int64(0), line.AmountPaid)

	require.Equal(t, []string{"imei-123"}, stock.restored)

	require.Len(t, cashier.entries, 1)
	require.Equal(t, ledger.DirectionOutflow, cashier.entries[0].Direction)
	require.Equal(t, int64(1_000_000), cashier.entries[0].Amount)
	require.Equal(t, ledger.KindSaleReturn, cashier.entries[0].Kind)
	require.Equal(t, rec.ID, cashier.entries[0].RelatedID)
}

func TestSaleReturnRejectsPartialPayment(t *testing.T) {
	salesPort := newFakeSales(sales.Line{
		ID: 1, ProductRef: "imei-123", Quantity: 1,
		UnitPrice: 1_000_000, AmountPaid: 600_000, Branch: "central", BatchID: uuid.New(),
	})
	svc := newTestService(newMemoryReturnRepo(), salesPort, newFakeStock(), &recordingLedger{})

	_, err := svc.SaleReturn(staffCtx("central"), Input{OriginalID: 1, RefundAmount: 1_000_000})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSaleReturnBatchPaidEvaluatedOverBatch(t *testing.T) {
	batch := uuid.New()
	// First line overpaid, second unpaid: the batch as a whole is fully paid.
	salesPort := newFakeSales(
		sales.Line{ID: 1, ProductRef: "a", Quantity: 1, UnitPrice: 300_000, AmountPaid: 500_000, Branch: "central", BatchID: batch},
		sales.Line{ID: 2, ProductRef: "b", Quantity: 1, UnitPrice: 200_000, AmountPaid: 0, Branch: "central", BatchID: batch},
	)
	svc := newTestService(newMemoryReturnRepo(), salesPort, newFakeStock(), &recordingLedger{})

	rec, err := svc.SaleReturn(staffCtx("central"), Input{OriginalID: 1, RefundAmount: 500_000})
	require.NoError(t, err)

	// All sibling lines are flagged; only the first line's paid amount drops.
	first, _ := salesPort.Get(context.Background(), 1)
	second, _ := salesPort.Get(context.Background(), 2)
	require.True(t, first.Returned)
	require.True(t, second.Returned)
	require.Equal(t, rec.ID, second.ReturnID)
	require.Equal(t, int64(0), first.AmountPaid)
	require.Equal(t, int64(0), second.AmountPaid)
}

func TestSaleReturnRejectsAllocationMismatch(t *testing.T) {
	salesPort := newFakeSales(sales.Line{
		ID: 1, Quantity: 1, UnitPrice: 100_000, AmountPaid: 100_000, Branch: "central", BatchID: uuid.New(),
	})
	repo := newMemoryReturnRepo()
	svc := newTestService(repo, salesPort, newFakeStock(), &recordingLedger{})

	_, err := svc.SaleReturn(staffCtx("central"), Input{
		OriginalID:   1,
		RefundAmount: 100_000,
		Allocation:   []ledger.Allocation{{Source: ledger.SourceCash, Amount: 60_000}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
	require.Empty(t, repo.records)
}

func TestSecondActiveReturnRejected(t *testing.T) {
	salesPort := newFakeSales(
		sales.Line{ID: 1, Quantity: 1, UnitPrice: 100_000, AmountPaid: 100_000, Branch: "central", BatchID: uuid.New()},
	)
	repo := newMemoryReturnRepo()
	svc := newTestService(repo, salesPort, newFakeStock(), &recordingLedger{})

	_, err := svc.SaleReturn(staffCtx("central"), Input{OriginalID: 1, RefundAmount: 100_000})
	require.NoError(t, err)

	// The line is now flagged returned, which blocks the retry before the
	// uniqueness check even fires.
	_, err = svc.SaleReturn(staffCtx("central"), Input{OriginalID: 1, RefundAmount: 100_000})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// A direct insert against the same original is blocked by uniqueness.
	_, err = repo.Insert(context.Background(), Record{Kind: KindSale, OriginalID: 1, Status: StatusCompleted})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSaleReturnCrossBranchDenied(t *testing.T) {
	salesPort := newFakeSales(sales.Line{
		ID: 1, Quantity: 1, UnitPrice: 100_000, AmountPaid: 100_000, Branch: "north", BatchID: uuid.New(),
	})
	svc := newTestService(newMemoryReturnRepo(), salesPort, newFakeStock(), &recordingLedger{})

	_, err := svc.SaleReturn(staffCtx("central"), Input{OriginalID: 1, RefundAmount: 100_000})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.SaleReturn(adminCtx(), Input{OriginalID: 1, RefundAmount: 100_000})
	require.NoError(t, err)
}

func TestPurchaseReturnDeletesLineAndPostsInflow(t *testing.T) {
	stock := newFakeStock(inventory.Line{
		ID: 5, ProductRef: "sku-9", Quantity: 10, UnitCost: 50_000,
		SupplierName: "Acme Parts", Branch: "central", Status: inventory.StatusInStock,
	})
	cashier := &recordingLedger{}
	svc := newTestService(newMemoryReturnRepo(), newFakeSales(), stock, cashier)

	rec, err := svc.PurchaseReturn(staffCtx("central"), Input{OriginalID: 5, RefundAmount: 500_000})
	require.NoError(t, err)
	require.Equal(t, KindPurchase, rec.Kind)
	require.Equal(t, []int64{5}, stock.deleted)

	require.Len(t, cashier.entries, 1)
	require.Equal(t, ledger.DirectionInflow, cashier.entries[0].Direction)
	require.Equal(t, ledger.KindPurchaseReturn, cashier.entries[0].Kind)
	require.Equal(t, "Acme Parts", cashier.entries[0].SupplierName)
}

func TestPurchaseReturnRejectsSoldLine(t *testing.T) {
	stock := newFakeStock(inventory.Line{
		ID: 5, ProductRef: "imei-9", Serialized: true, Quantity: 1,
		Branch: "central", Status: inventory.StatusSold, SaleRef: 42,
	})
	svc := newTestService(newMemoryReturnRepo(), newFakeSales(), stock, &recordingLedger{})

	_, err := svc.PurchaseReturn(staffCtx("central"), Input{OriginalID: 5, RefundAmount: 100_000})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Empty(t, stock.deleted)
}

func TestCancelRequiresAdminAndIsOneWay(t *testing.T) {
	salesPort := newFakeSales(sales.Line{
		ID: 1, ProductRef: "imei-1", Quantity: 1, UnitPrice: 100_000, AmountPaid: 100_000,
		Branch: "central", BatchID: uuid.New(),
	})
	stock := newFakeStock()
	cashier := &recordingLedger{}
	svc := newTestService(newMemoryReturnRepo(), salesPort, stock, cashier)

	rec, err := svc.SaleReturn(adminCtx(), Input{OriginalID: 1, RefundAmount: 100_000})
	require.NoError(t, err)

	_, err = svc.Cancel(staffCtx("central"), rec.ID)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	cancelled, err := svc.Cancel(adminCtx(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// Cancellation does not re-reverse the settlement.
	line, _ := salesPort.Get(context.Background(), 1)
	require.True(t, line.Returned)
	require.Len(t, cashier.entries, 1)

	_, err = svc.Cancel(adminCtx(), rec.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
