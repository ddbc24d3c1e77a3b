package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-retail/atlas-pos/internal/inventory"
	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// RepositoryPort defines data access methods for sale lines.
type RepositoryPort interface {
	Insert(ctx context.Context, line Line) (int64, error)
	Get(ctx context.Context, id int64) (Line, error)
	ListBatch(ctx context.Context, batchID uuid.UUID) ([]Line, error)
	UpdatePaid(ctx context.Context, id int64, paid int64) error
	MarkReturned(ctx context.Context, ids []int64, returnID int64) error
	List(ctx context.Context, filter ListFilter) ([]Line, error)
}

// StockPort consumes inventory for checkouts.
type StockPort interface {
	ConsumeForSale(ctx context.Context, productRef, branch string, quantity, saleRef int64) (inventory.Line, error)
}

// LedgerPort appends cashbook entries for checkout payments.
type LedgerPort interface {
	Append(ctx context.Context, in ledger.AppendInput) (ledger.Entry, error)
}

// IdempotencyPort guards checkouts against double submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates checkouts.
type Service struct {
	repo        RepositoryPort
	stock       StockPort
	cashier     LedgerPort
	idempotency IdempotencyPort
	audit       shared.AuditPort
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, stock StockPort, cashier LedgerPort, idem IdempotencyPort, audit shared.AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, stock: stock, cashier: cashier, idempotency: idem, audit: audit, logger: logger}
}

func (s *Service) validateCheckout(in CheckoutInput) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("sales: checkout requires items: %w", shared.ErrInvalidAmount)
	}
	if in.CustomerName == "" || in.Branch == "" {
		return fmt.Errorf("sales: customer and branch required: %w", shared.ErrInvalidAmount)
	}
	var billed int64
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("sales: quantity must be positive: %w", shared.ErrInvalidAmount)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("sales: unit price must be >= 0: %w", shared.ErrInvalidAmount)
		}
		billed += item.UnitPrice * item.Quantity
	}
	for _, alloc := range in.Paid {
		if !alloc.Source.Valid() || alloc.Amount <= 0 {
			return fmt.Errorf("sales: bad payment allocation: %w", shared.ErrInvalidAmount)
		}
	}
	if paid := ledger.AllocationTotal(in.Paid); paid > billed {
		return fmt.Errorf("sales: paid %d exceeds billed %d: %w", paid, billed, shared.ErrInvalidAmount)
	}
	return nil
}

// Checkout sells one or more items to a customer in a single batch. Stock is
// consumed per item, the initial payment is distributed across the new lines
// oldest-first, and each payment allocation lands in the cashbook. Stock and
// cashbook writes are sequenced without a wrapping transaction; a failure
// partway is surfaced and earlier steps persist.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) ([]Line, error) {
	if err := s.validateCheckout(in); err != nil {
		return nil, err
	}
	if in.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, "sales.checkout"); err != nil {
			return nil, err
		}
	}

	soldAt := in.SoldAt
	if soldAt.IsZero() {
		soldAt = time.Now()
	}
	batchID := uuid.New()
	partyKey := shared.PartyKey(in.CustomerName, in.CustomerPhone)

	lines := make([]Line, 0, len(in.Items))
	for _, item := range in.Items {
		line := Line{
			ProductRef:    item.ProductRef,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			SoldAt:        soldAt,
			CustomerName:  in.CustomerName,
			CustomerPhone: in.CustomerPhone,
			PartyKey:      partyKey,
			Branch:        in.Branch,
			BatchID:       batchID,
			CreatedBy:     in.ActorID,
		}
		id, err := s.repo.Insert(ctx, line)
		if err != nil {
			return nil, s.failCheckout(ctx, in.IdempotencyKey, len(lines), err)
		}
		line.ID = id

		stockLine, err := s.stock.ConsumeForSale(ctx, item.ProductRef, in.Branch, item.Quantity, id)
		if err != nil {
			return nil, s.failCheckout(ctx, in.IdempotencyKey, len(lines)+1, err)
		}
		line.Serialized = stockLine.Serialized
		lines = append(lines, line)
	}

	// Initial payment lands oldest-first across the batch, same rule as
	// debt settlement.
	remaining := ledger.AllocationTotal(in.Paid)
	for i := range lines {
		if remaining <= 0 {
			break
		}
		applied := min64(remaining, lines[i].Billed())
		if err := s.repo.UpdatePaid(ctx, lines[i].ID, applied); err != nil {
			return nil, s.failCheckout(ctx, in.IdempotencyKey, len(lines), err)
		}
		lines[i].AmountPaid = applied
		remaining -= applied
	}

	for _, alloc := range in.Paid {
		_, err := s.cashier.Append(ctx, ledger.AppendInput{
			Direction:     ledger.DirectionInflow,
			Amount:        alloc.Amount,
			Source:        alloc.Source,
			Branch:        in.Branch,
			Label:         "checkout payment",
			CustomerName:  in.CustomerName,
			CustomerPhone: in.CustomerPhone,
			RelatedID:     lines[0].ID,
			Kind:          ledger.KindSale,
			OccurredAt:    soldAt,
			AutoGenerated: true,
			Locked:        true,
			CreatedBy:     in.ActorID,
		})
		if err != nil {
			return lines, fmt.Errorf("sales: checkout recorded but cashbook entry failed: %w", err)
		}
	}

	shared.RecordAudit(ctx, s.logger, s.audit, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "sales.checkout",
		Entity:   "sale_batch",
		EntityID: batchID.String(),
		Branch:   in.Branch,
		Meta: map[string]any{
			"customer": in.CustomerName,
			"items":    len(lines),
			"paid":     ledger.AllocationTotal(in.Paid),
		},
	})
	return lines, nil
}

// failCheckout releases the idempotency key when nothing irreversible has
// happened yet, then wraps the error. stepsApplied > 0 means stock or line
// writes already landed and the key stays to block a blind retry.
func (s *Service) failCheckout(ctx context.Context, key string, stepsApplied int, err error) error {
	if key != "" && s.idempotency != nil && stepsApplied == 0 {
		if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", delErr))
		}
	}
	return fmt.Errorf("sales: checkout failed after %d steps: %w", stepsApplied, err)
}

// Get loads one sale line.
func (s *Service) Get(ctx context.Context, id int64) (Line, error) {
	return s.repo.Get(ctx, id)
}

// ListBatch returns all lines of a checkout batch.
func (s *Service) ListBatch(ctx context.Context, batchID uuid.UUID) ([]Line, error) {
	return s.repo.ListBatch(ctx, batchID)
}

// List returns sale lines for display.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Line, error) {
	return s.repo.List(ctx, filter)
}

// MarkReturned flags lines with a back-reference to the return record.
func (s *Service) MarkReturned(ctx context.Context, ids []int64, returnID int64) error {
	return s.repo.MarkReturned(ctx, ids, returnID)
}

// ReducePaid lowers a line's paid amount by delta, floored at zero.
func (s *Service) ReducePaid(ctx context.Context, id int64, delta int64) error {
	line, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	paid := line.AmountPaid - delta
	if paid < 0 {
		paid = 0
	}
	return s.repo.UpdatePaid(ctx, id, paid)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
