package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// RepositoryPort defines data access methods for purchase lines.
type RepositoryPort interface {
	Insert(ctx context.Context, line Line) (int64, error)
	Get(ctx context.Context, id int64) (Line, error)
	// FindAvailable returns the oldest line that can satisfy a sale of the
	// product ref at the branch: an in-stock serialized line, or a fungible
	// line with positive quantity.
	FindAvailable(ctx context.Context, productRef, branch string) (Line, error)
	// FindSoldSerialized returns the sold serialized line for the product
	// ref at the branch.
	FindSoldSerialized(ctx context.Context, productRef, branch string) (Line, error)
	UpdateStatus(ctx context.Context, id int64, status Status, saleRef int64) error
	AdjustQuantity(ctx context.Context, id int64, delta int64) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter ListFilter) ([]Line, error)
	UpdatePaid(ctx context.Context, id int64, paid int64) error
}

// LedgerPort appends cashbook entries for supplier payments.
type LedgerPort interface {
	Append(ctx context.Context, in ledger.AppendInput) (ledger.Entry, error)
}

// Service coordinates stock intake and the stock-side effects of sales and
// returns.
type Service struct {
	repo    RepositoryPort
	cashier LedgerPort
	audit   shared.AuditPort
	logger  *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cashier LedgerPort, audit shared.AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, cashier: cashier, audit: audit, logger: logger}
}

// Intake records purchased stock and the optional initial supplier payment.
// The payment is distributed across the new lines oldest-first, mirroring
// how debt settlements allocate.
func (s *Service) Intake(ctx context.Context, in IntakeInput) ([]Line, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("inventory: intake requires items: %w", shared.ErrInvalidAmount)
	}
	if in.Branch == "" || in.SupplierName == "" {
		return nil, fmt.Errorf("inventory: branch and supplier required: %w", shared.ErrInvalidAmount)
	}
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrInvalidAmount)
		}
		if item.Serialized && item.Quantity != 1 {
			return nil, fmt.Errorf("inventory: serialized item quantity must be 1: %w", shared.ErrInvalidAmount)
		}
		if item.UnitCost < 0 {
			return nil, fmt.Errorf("inventory: unit cost must be >= 0: %w", shared.ErrInvalidAmount)
		}
	}
	paidTotal := ledger.AllocationTotal(in.Paid)
	if paidTotal < 0 {
		return nil, fmt.Errorf("inventory: paid total must be >= 0: %w", shared.ErrInvalidAmount)
	}
	for _, alloc := range in.Paid {
		if !alloc.Source.Valid() || alloc.Amount <= 0 {
			return nil, fmt.Errorf("inventory: bad payment allocation: %w", shared.ErrInvalidAmount)
		}
	}

	importedAt := in.ImportedAt
	if importedAt.IsZero() {
		importedAt = time.Now()
	}
	partyKey := shared.PartyKey(in.SupplierName, in.SupplierPhone)

	lines := make([]Line, 0, len(in.Items))
	remaining := paidTotal
	for _, item := range in.Items {
		line := Line{
			ProductRef:    item.ProductRef,
			Serialized:    item.Serialized,
			Quantity:      item.Quantity,
			UnitCost:      item.UnitCost,
			ImportedAt:    importedAt,
			SupplierName:  in.SupplierName,
			SupplierPhone: in.SupplierPhone,
			PartyKey:      partyKey,
			Branch:        in.Branch,
			Status:        StatusInStock,
			CreatedBy:     in.ActorID,
		}
		if remaining > 0 {
			applied := min64(remaining, line.Billed())
			line.AmountPaid = applied
			remaining -= applied
		}
		id, err := s.repo.Insert(ctx, line)
		if err != nil {
			return nil, err
		}
		line.ID = id
		lines = append(lines, line)
	}

	for _, alloc := range in.Paid {
		_, err := s.cashier.Append(ctx, ledger.AppendInput{
			Direction:     ledger.DirectionOutflow,
			Amount:        alloc.Amount,
			Source:        alloc.Source,
			Branch:        in.Branch,
			Label:         "stock intake payment",
			SupplierName:  in.SupplierName,
			RelatedID:     lines[0].ID,
			Kind:          ledger.KindPurchase,
			AutoGenerated: true,
			Locked:        true,
			CreatedBy:     in.ActorID,
		})
		if err != nil {
			// The stock rows already exist; surface the failure instead of
			// unwinding them.
			return lines, fmt.Errorf("inventory: intake recorded but cashbook entry failed: %w", err)
		}
	}

	shared.RecordAudit(ctx, s.logger, s.audit, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "inventory.intake",
		Entity:   "purchase_line",
		EntityID: strconv.FormatInt(lines[0].ID, 10),
		Branch:   in.Branch,
		Meta:     map[string]any{"items": len(lines), "paid": paidTotal, "supplier": in.SupplierName},
	})
	return lines, nil
}

// ConsumeForSale marks stock sold for one checkout item. Serialized lines
// flip to sold; fungible lines decrement quantity. Selling an already-sold
// serialized item is an InvalidState.
func (s *Service) ConsumeForSale(ctx context.Context, productRef, branch string, quantity, saleRef int64) (Line, error) {
	if quantity <= 0 {
		return Line{}, fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrInvalidAmount)
	}
	line, err := s.repo.FindAvailable(ctx, productRef, branch)
	if err != nil {
		// Distinguish "sold already" from "never stocked" for serialized refs.
		if sold, soldErr := s.repo.FindSoldSerialized(ctx, productRef, branch); soldErr == nil {
			return Line{}, fmt.Errorf("inventory: %s already sold to sale %d: %w", productRef, sold.SaleRef, shared.ErrInvalidState)
		}
		return Line{}, err
	}
	if line.Serialized {
		if quantity != 1 {
			return Line{}, fmt.Errorf("inventory: serialized sale quantity must be 1: %w", shared.ErrInvalidAmount)
		}
		if err := s.repo.UpdateStatus(ctx, line.ID, StatusSold, saleRef); err != nil {
			return Line{}, err
		}
		line.Status = StatusSold
		line.SaleRef = saleRef
		return line, nil
	}
	if line.Quantity < quantity {
		return Line{}, fmt.Errorf("inventory: only %d of %s in stock: %w", line.Quantity, productRef, shared.ErrInvalidState)
	}
	if err := s.repo.AdjustQuantity(ctx, line.ID, -quantity); err != nil {
		return Line{}, err
	}
	line.Quantity -= quantity
	return line, nil
}

// Restore puts returned goods back in stock. Serialized goods flip the sold
// line back to in-stock and clear its sale metadata; fungible goods
// increment the matching line, creating one as a fallback when none exists.
func (s *Service) Restore(ctx context.Context, productRef, branch string, serialized bool, quantity int64, actorID int64) error {
	if serialized {
		line, err := s.repo.FindSoldSerialized(ctx, productRef, branch)
		if err != nil {
			return err
		}
		return s.repo.UpdateStatus(ctx, line.ID, StatusInStock, 0)
	}
	line, err := s.repo.FindAvailable(ctx, productRef, branch)
	if err == nil {
		return s.repo.AdjustQuantity(ctx, line.ID, quantity)
	}
	// Fallback: the original stock line is gone, create a fresh one so the
	// returned goods are sellable again.
	_, err = s.repo.Insert(ctx, Line{
		ProductRef: productRef,
		Quantity:   quantity,
		ImportedAt: time.Now(),
		Branch:     branch,
		Status:     StatusInStock,
		CreatedBy:  actorID,
	})
	return err
}

// DeleteLine hard-deletes a purchase line. Purchase returns remove the
// original record instead of flagging it.
func (s *Service) DeleteLine(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Get loads one purchase line.
func (s *Service) Get(ctx context.Context, id int64) (Line, error) {
	return s.repo.Get(ctx, id)
}

// List returns purchase lines for display.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Line, error) {
	return s.repo.List(ctx, filter)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
