package returns

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/atlas-retail/atlas-pos/internal/inventory"
	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/observability"
	"github.com/atlas-retail/atlas-pos/internal/sales"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// RepositoryPort persists return records. Insert reports an InvalidState
// error when a non-cancelled record already exists for the original line.
type RepositoryPort interface {
	Insert(ctx context.Context, rec Record) (int64, error)
	Get(ctx context.Context, id int64) (Record, error)
	Cancel(ctx context.Context, id int64) error
	List(ctx context.Context, filter ListFilter) ([]Record, error)
}

// SalesPort exposes the sale-line operations a sale return mutates.
type SalesPort interface {
	Get(ctx context.Context, id int64) (sales.Line, error)
	ListBatch(ctx context.Context, batchID uuid.UUID) ([]sales.Line, error)
	MarkReturned(ctx context.Context, ids []int64, returnID int64) error
	ReducePaid(ctx context.Context, id int64, delta int64) error
}

// StockPort exposes the inventory operations returns touch.
type StockPort interface {
	Get(ctx context.Context, id int64) (inventory.Line, error)
	Restore(ctx context.Context, productRef, branch string, serialized bool, quantity int64, actorID int64) error
	DeleteLine(ctx context.Context, id int64) error
}

// LedgerPort appends the compensating cashbook entries.
type LedgerPort interface {
	Append(ctx context.Context, in ledger.AppendInput) (ledger.Entry, error)
}

// Service settles sale and purchase returns. The settlement is sequenced,
// not transactional: once the return record exists, later step failures are
// logged and surfaced but already-applied steps stay applied.
type Service struct {
	repo    RepositoryPort
	sales   SalesPort
	stock   StockPort
	cashier LedgerPort
	audit   shared.AuditPort
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, salesPort SalesPort, stock StockPort, cashier LedgerPort, audit shared.AuditPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, sales: salesPort, stock: stock, cashier: cashier, audit: audit, logger: logger, metrics: metrics}
}

func validateRefund(in Input) error {
	if in.RefundAmount <= 0 {
		return fmt.Errorf("returns: refund must be positive: %w", shared.ErrInvalidAmount)
	}
	for _, alloc := range in.Allocation {
		if !alloc.Source.Valid() || alloc.Amount <= 0 {
			return fmt.Errorf("returns: bad refund allocation: %w", shared.ErrInvalidAmount)
		}
	}
	if len(in.Allocation) > 0 {
		if total := ledger.AllocationTotal(in.Allocation); total != in.RefundAmount {
			return fmt.Errorf("returns: allocation sum %d does not match refund %d: %w", total, in.RefundAmount, shared.ErrInvalidAmount)
		}
	}
	return nil
}

func defaultAllocation(in Input) []ledger.Allocation {
	if len(in.Allocation) > 0 {
		return in.Allocation
	}
	return []ledger.Allocation{{Source: ledger.SourceCash, Amount: in.RefundAmount}}
}

// SaleReturn reverses a completed sale. The original must be fully paid;
// for batch sales, fully paid is judged over the whole batch. Stock is
// restored, the batch is flagged returned, the representative first line's
// paid amount is reduced, and one outflow entry is posted per allocation
// item.
func (s *Service) SaleReturn(ctx context.Context, in Input) (Record, error) {
	if err := validateRefund(in); err != nil {
		return Record{}, err
	}
	line, err := s.sales.Get(ctx, in.OriginalID)
	if err != nil {
		return Record{}, err
	}
	ident, _ := shared.IdentityFromContext(ctx)
	if !ident.CanAccessBranch(line.Branch) {
		return Record{}, fmt.Errorf("returns: sale line %d belongs to %s: %w", line.ID, line.Branch, shared.ErrPermissionDenied)
	}
	if line.Returned {
		return Record{}, fmt.Errorf("returns: sale line %d already returned: %w", line.ID, shared.ErrInvalidState)
	}

	batch, err := s.sales.ListBatch(ctx, line.BatchID)
	if err != nil {
		return Record{}, err
	}
	if len(batch) == 0 {
		batch = []sales.Line{line}
	}
	var billed, paid int64
	for _, l := range batch {
		billed += l.Billed()
		paid += l.AmountPaid
	}
	if paid < billed {
		return Record{}, fmt.Errorf("returns: sale paid %d of %d, partial-payment returns rejected: %w", paid, billed, shared.ErrInvalidState)
	}

	rec := Record{
		Kind:         KindSale,
		OriginalID:   line.ID,
		ProductRef:   line.ProductRef,
		Quantity:     line.Quantity,
		RefundAmount: in.RefundAmount,
		Allocation:   defaultAllocation(in),
		Reason:       in.Reason,
		Branch:       line.Branch,
		Status:       StatusCompleted,
		CreatedBy:    in.ActorID,
	}
	rec.ID, err = s.repo.Insert(ctx, rec)
	if err != nil {
		s.metrics.ObserveReturn(string(KindSale), "rejected")
		return Record{}, err
	}

	// From here on failures leave a partially-applied settlement. Each step
	// is attempted, failures logged, and the first one surfaced.
	var settleErr error
	note := func(step string, err error) {
		if err == nil {
			return
		}
		s.logger.Warn("sale return step failed", slog.String("step", step),
			slog.Int64("return_id", rec.ID), slog.Any("error", err))
		if settleErr == nil {
			settleErr = fmt.Errorf("returns: %s: %w", step, err)
		}
	}

	ids := make([]int64, 0, len(batch))
	for _, l := range batch {
		ids = append(ids, l.ID)
	}
	note("mark returned", s.sales.MarkReturned(ctx, ids, rec.ID))
	note("restore stock", s.stock.Restore(ctx, line.ProductRef, line.Branch, line.Serialized, line.Quantity, in.ActorID))
	// Paid reduction lands on the batch's first line only.
	note("reduce paid", s.sales.ReducePaid(ctx, batch[0].ID, in.RefundAmount))

	for _, alloc := range rec.Allocation {
		_, err := s.cashier.Append(ctx, ledger.AppendInput{
			Direction:     ledger.DirectionOutflow,
			Amount:        alloc.Amount,
			Source:        alloc.Source,
			Branch:        line.Branch,
			Label:         "sale return refund",
			CustomerName:  line.CustomerName,
			CustomerPhone: line.CustomerPhone,
			RelatedID:     rec.ID,
			Kind:          ledger.KindSaleReturn,
			AutoGenerated: true,
			Locked:        true,
			CreatedBy:     in.ActorID,
		})
		note("post refund", err)
	}

	outcome := "completed"
	if settleErr != nil {
		outcome = "partial"
	}
	s.metrics.ObserveReturn(string(KindSale), outcome)
	s.recordAudit(ctx, "returns.sale", rec, map[string]any{"outcome": outcome})
	if settleErr != nil {
		return rec, fmt.Errorf("returns: sale return %d settled partially: %w", rec.ID, settleErr)
	}
	return rec, nil
}

// PurchaseReturn sends stock back to the supplier. The original purchase
// line must not be sold; it is hard-deleted once the return is recorded.
// Money received back from the supplier is posted as inflow.
func (s *Service) PurchaseReturn(ctx context.Context, in Input) (Record, error) {
	if err := validateRefund(in); err != nil {
		return Record{}, err
	}
	line, err := s.stock.Get(ctx, in.OriginalID)
	if err != nil {
		return Record{}, err
	}
	ident, _ := shared.IdentityFromContext(ctx)
	if !ident.CanAccessBranch(line.Branch) {
		return Record{}, fmt.Errorf("returns: purchase line %d belongs to %s: %w", line.ID, line.Branch, shared.ErrPermissionDenied)
	}
	if line.Status == inventory.StatusSold {
		return Record{}, fmt.Errorf("returns: purchase line %d already sold: %w", line.ID, shared.ErrInvalidState)
	}

	rec := Record{
		Kind:         KindPurchase,
		OriginalID:   line.ID,
		ProductRef:   line.ProductRef,
		Quantity:     line.Quantity,
		RefundAmount: in.RefundAmount,
		Allocation:   defaultAllocation(in),
		Reason:       in.Reason,
		Branch:       line.Branch,
		Status:       StatusCompleted,
		CreatedBy:    in.ActorID,
	}
	rec.ID, err = s.repo.Insert(ctx, rec)
	if err != nil {
		s.metrics.ObserveReturn(string(KindPurchase), "rejected")
		return Record{}, err
	}

	var settleErr error
	note := func(step string, err error) {
		if err == nil {
			return
		}
		s.logger.Warn("purchase return step failed", slog.String("step", step),
			slog.Int64("return_id", rec.ID), slog.Any("error", err))
		if settleErr == nil {
			settleErr = fmt.Errorf("returns: %s: %w", step, err)
		}
	}

	note("delete stock line", s.stock.DeleteLine(ctx, line.ID))
	for _, alloc := range rec.Allocation {
		_, err := s.cashier.Append(ctx, ledger.AppendInput{
			Direction:     ledger.DirectionInflow,
			Amount:        alloc.Amount,
			Source:        alloc.Source,
			Branch:        line.Branch,
			Label:         "purchase return refund",
			SupplierName:  line.SupplierName,
			RelatedID:     rec.ID,
			Kind:          ledger.KindPurchaseReturn,
			AutoGenerated: true,
			Locked:        true,
			CreatedBy:     in.ActorID,
		})
		note("post refund", err)
	}

	outcome := "completed"
	if settleErr != nil {
		outcome = "partial"
	}
	s.metrics.ObserveReturn(string(KindPurchase), outcome)
	s.recordAudit(ctx, "returns.purchase", rec, map[string]any{"outcome": outcome})
	if settleErr != nil {
		return rec, fmt.Errorf("returns: purchase return %d settled partially: %w", rec.ID, settleErr)
	}
	return rec, nil
}

// Cancel flags a return record cancelled. Admin-only and one-way: stock and
// ledger effects of the original settlement are not re-reversed.
func (s *Service) Cancel(ctx context.Context, id int64) (Record, error) {
	ident, ok := shared.IdentityFromContext(ctx)
	if !ok || !ident.Unrestricted() {
		return Record{}, fmt.Errorf("returns: cancellation requires admin: %w", shared.ErrPermissionDenied)
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status == StatusCancelled {
		return Record{}, fmt.Errorf("returns: record %d already cancelled: %w", id, shared.ErrInvalidState)
	}
	if err := s.repo.Cancel(ctx, id); err != nil {
		return Record{}, err
	}
	rec.Status = StatusCancelled
	s.recordAudit(ctx, "returns.cancel", rec, nil)
	return rec, nil
}

// Get loads one return record.
func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.Get(ctx, id)
}

// List returns return records for display.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, action string, rec Record, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["kind"] = string(rec.Kind)
	meta["original_id"] = rec.OriginalID
	meta["refund"] = rec.RefundAmount
	shared.RecordAudit(ctx, s.logger, s.audit, shared.AuditLog{
		ActorID:  rec.CreatedBy,
		Action:   action,
		Entity:   "return_record",
		EntityID: strconv.FormatInt(rec.ID, 10),
		Branch:   rec.Branch,
		Meta:     meta,
	})
}
