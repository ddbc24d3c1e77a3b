package debt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// RepositoryPort defines data access over the underlying sale and purchase
// lines. The debt ledger owns no storage of its own.
type RepositoryPort interface {
	// ListRecords returns one identity's records ordered oldest-first.
	ListRecords(ctx context.Context, kind Kind, partyKey string) ([]Record, error)
	// ListAllRecords returns all records matching the filter.
	ListAllRecords(ctx context.Context, kind Kind, filter ListFilter) ([]Record, error)
	// UpdatePaid rewrites the paid amount on one record.
	UpdatePaid(ctx context.Context, kind Kind, recordID int64, paid int64) error
	// UpdateIdentity atomically applies a rename and its paid rewrites.
	UpdateIdentity(ctx context.Context, kind Kind, up IdentityUpdate) error
}

// LedgerPort appends cashbook entries for settlements.
type LedgerPort interface {
	Append(ctx context.Context, in ledger.AppendInput) (ledger.Entry, error)
}

// Service computes outstanding balances and allocates settlements across an
// identity's open records. Mutations for one identity are serialised through
// the keyed mutex so two concurrent payments cannot double-allocate.
type Service struct {
	repo    RepositoryPort
	cashier LedgerPort
	cache   *Cache
	locks   *shared.KeyedMutex
	audit   shared.AuditPort
	logger  *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cashier LedgerPort, cache *Cache, locks *shared.KeyedMutex, audit shared.AuditPort, logger *slog.Logger) *Service {
	if locks == nil {
		locks = shared.NewKeyedMutex()
	}
	return &Service{repo: repo, cashier: cashier, cache: cache, locks: locks, audit: audit, logger: logger}
}

// ListDebtors groups matching records by identity and derives outstanding
// balances, most recent activity first.
func (s *Service) ListDebtors(ctx context.Context, kind Kind, filter ListFilter) ([]Debtor, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("debt: unknown kind %q: %w", kind, shared.ErrInvalidAmount)
	}
	load := func(ctx context.Context) ([]Debtor, error) {
		records, err := s.repo.ListAllRecords(ctx, kind, filter)
		if err != nil {
			return nil, err
		}
		return groupDebtors(records, filter.IncludeSettled), nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.Debtors(ctx, kind, filter, load)
}

func groupDebtors(records []Record, includeSettled bool) []Debtor {
	byKey := make(map[string]*Debtor)
	var order []string
	for _, rec := range records {
		d, ok := byKey[rec.PartyKey]
		if !ok {
			d = &Debtor{Name: rec.Name, Phone: rec.Phone, Key: rec.PartyKey}
			byKey[rec.PartyKey] = d
			order = append(order, rec.PartyKey)
		}
		d.TotalBilled += rec.Billed()
		d.TotalPaid += rec.Paid
		// Summed per record: a settled line never offsets another line's debt.
		d.Outstanding += rec.Outstanding()
		if rec.Date.After(d.LastActivity) {
			d.LastActivity = rec.Date
		}
		d.Lines = append(d.Lines, rec)
	}
	out := make([]Debtor, 0, len(order))
	for _, key := range order {
		d := byKey[key]
		if !includeSettled && d.Outstanding == 0 {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out
}

func validateAllocation(total int64, allocs []ledger.Allocation) (int64, error) {
	for _, alloc := range allocs {
		if !alloc.Source.Valid() || alloc.Amount <= 0 {
			return 0, fmt.Errorf("debt: bad payment allocation: %w", shared.ErrInvalidAmount)
		}
	}
	allocTotal := ledger.AllocationTotal(allocs)
	if len(allocs) > 0 {
		if total > 0 && total != allocTotal {
			return 0, fmt.Errorf("debt: stated total %d does not match allocation sum %d: %w", total, allocTotal, shared.ErrInvalidAmount)
		}
		total = allocTotal
	}
	if total <= 0 {
		return 0, fmt.Errorf("debt: payment must be positive: %w", shared.ErrInvalidAmount)
	}
	return total, nil
}

// ApplyPayment settles an identity's debt oldest-first. Payment beyond the
// total outstanding is absorbed without error; the cashbook still records
// the full amount received.
func (s *Service) ApplyPayment(ctx context.Context, kind Kind, identity Identity, total int64, allocs []ledger.Allocation) (PaymentResult, error) {
	if !kind.Valid() {
		return PaymentResult{}, fmt.Errorf("debt: unknown kind %q: %w", kind, shared.ErrInvalidAmount)
	}
	total, err := validateAllocation(total, allocs)
	if err != nil {
		return PaymentResult{}, err
	}

	key := identity.Key()
	unlock := s.locks.Lock(shared.DebtorLockKey(string(kind), key))
	defer unlock()

	records, err := s.repo.ListRecords(ctx, kind, key)
	if err != nil {
		return PaymentResult{}, err
	}
	if len(records) == 0 {
		return PaymentResult{}, fmt.Errorf("debt: no records for %s %q: %w", kind, identity.Name, shared.ErrNotFound)
	}

	remaining := total
	var newOutstanding int64
	for i := range records {
		rec := &records[i]
		if remaining > 0 {
			if pay := min64(remaining, rec.Outstanding()); pay > 0 {
				rec.Paid += pay
				remaining -= pay
				if err := s.repo.UpdatePaid(ctx, kind, rec.ID, rec.Paid); err != nil {
					return PaymentResult{}, err
				}
			}
		}
		newOutstanding += rec.Outstanding()
	}

	direction := ledger.DirectionInflow
	if kind == KindSupplier {
		direction = ledger.DirectionOutflow
	}
	if err := s.postSettlement(ctx, direction, identity, records, total, allocs, "debt settlement"); err != nil {
		return PaymentResult{}, err
	}

	s.bumpCache(ctx)
	s.recordAudit(ctx, "debt.pay", kind, identity, map[string]any{
		"total":       total,
		"applied":     total - remaining,
		"outstanding": newOutstanding,
	})
	return PaymentResult{PaidApplied: total - remaining, NewOutstanding: newOutstanding}, nil
}

// ApplyDebtIncrease manually inflates an identity's debt by lowering the
// paid amount of its single most recent record, floored at zero.
func (s *Service) ApplyDebtIncrease(ctx context.Context, kind Kind, identity Identity, amount int64) (IncreaseResult, error) {
	if !kind.Valid() {
		return IncreaseResult{}, fmt.Errorf("debt: unknown kind %q: %w", kind, shared.ErrInvalidAmount)
	}
	if amount <= 0 {
		return IncreaseResult{}, fmt.Errorf("debt: increase must be positive: %w", shared.ErrInvalidAmount)
	}

	key := identity.Key()
	unlock := s.locks.Lock(shared.DebtorLockKey(string(kind), key))
	defer unlock()

	records, err := s.repo.ListRecords(ctx, kind, key)
	if err != nil {
		return IncreaseResult{}, err
	}
	if len(records) == 0 {
		return IncreaseResult{}, fmt.Errorf("debt: no records for %s %q: %w", kind, identity.Name, shared.ErrNotFound)
	}

	latest := &records[len(records)-1]
	oldPaid := latest.Paid
	latest.Paid -= amount
	if latest.Paid < 0 {
		latest.Paid = 0
	}
	if err := s.repo.UpdatePaid(ctx, kind, latest.ID, latest.Paid); err != nil {
		return IncreaseResult{}, err
	}
	added := oldPaid - latest.Paid

	var newOutstanding int64
	for _, rec := range records {
		newOutstanding += rec.Outstanding()
	}

	// Modeled as money leaving the till for both kinds.
	if _, err := s.cashier.Append(ctx, ledger.AppendInput{
		Direction:     ledger.DirectionOutflow,
		Amount:        amount,
		Source:        ledger.SourceCash,
		Branch:        latest.Branch,
		Label:         "debt increase",
		CustomerName:  customerName(kind, identity),
		CustomerPhone: customerPhone(kind, identity),
		SupplierName:  supplierName(kind, identity),
		RelatedID:     latest.ID,
		Kind:          ledger.KindAdjustment,
		AutoGenerated: true,
		Locked:        true,
		CreatedBy:     actorID(ctx),
	}); err != nil {
		return IncreaseResult{}, err
	}

	s.bumpCache(ctx)
	s.recordAudit(ctx, "debt.increase", kind, identity, map[string]any{
		"amount": amount, "added": added, "outstanding": newOutstanding,
	})
	return IncreaseResult{Added: added, NewOutstanding: newOutstanding}, nil
}

// UpdateIdentity renames an identity across all its records and optionally
// redistributes a new aggregate paid total oldest-first.
func (s *Service) UpdateIdentity(ctx context.Context, kind Kind, oldIdentity, newIdentity Identity, newPaidTotal *int64) error {
	if !kind.Valid() {
		return fmt.Errorf("debt: unknown kind %q: %w", kind, shared.ErrInvalidAmount)
	}
	if newIdentity.Name == "" {
		return fmt.Errorf("debt: new identity name required: %w", shared.ErrInvalidAmount)
	}

	oldKey := oldIdentity.Key()
	unlock := s.locks.Lock(shared.DebtorLockKey(string(kind), oldKey))
	defer unlock()

	records, err := s.repo.ListRecords(ctx, kind, oldKey)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("debt: no records for %s %q: %w", kind, oldIdentity.Name, shared.ErrNotFound)
	}

	update := IdentityUpdate{
		OldKey: oldKey,
		Name:   newIdentity.Name,
		Phone:  newIdentity.Phone,
		NewKey: newIdentity.Key(),
	}
	if newPaidTotal != nil {
		if *newPaidTotal < 0 {
			return fmt.Errorf("debt: paid total must be >= 0: %w", shared.ErrInvalidAmount)
		}
		var totalBilled int64
		for _, rec := range records {
			totalBilled += rec.Billed()
		}
		if *newPaidTotal > totalBilled {
			return fmt.Errorf("debt: paid total %d exceeds billed total %d: %w", *newPaidTotal, totalBilled, shared.ErrInvalidAmount)
		}
		update.PaidByID = make(map[int64]int64, len(records))
		remaining := *newPaidTotal
		for _, rec := range records {
			paid := min64(remaining, rec.Billed())
			remaining -= paid
			if paid != rec.Paid {
				update.PaidByID[rec.ID] = paid
			}
		}
	}

	if err := s.repo.UpdateIdentity(ctx, kind, update); err != nil {
		return err
	}

	s.bumpCache(ctx)
	s.recordAudit(ctx, "debt.update_identity", kind, newIdentity, map[string]any{
		"old_name": oldIdentity.Name, "old_phone": oldIdentity.Phone,
	})
	return nil
}

// postSettlement emits one cashbook entry per allocation item, or a single
// cash entry when no split was given.
func (s *Service) postSettlement(ctx context.Context, direction ledger.Direction, identity Identity, records []Record, total int64, allocs []ledger.Allocation, label string) error {
	if len(allocs) == 0 {
		allocs = []ledger.Allocation{{Source: ledger.SourceCash, Amount: total}}
	}
	branch := records[len(records)-1].Branch
	if ident, ok := shared.IdentityFromContext(ctx); ok && ident.Branch != "" {
		branch = ident.Branch
	}
	kind := KindCustomer
	if direction == ledger.DirectionOutflow {
		kind = KindSupplier
	}
	for _, alloc := range allocs {
		if _, err := s.cashier.Append(ctx, ledger.AppendInput{
			Direction:     direction,
			Amount:        alloc.Amount,
			Source:        alloc.Source,
			Branch:        branch,
			Label:         label,
			CustomerName:  customerName(kind, identity),
			CustomerPhone: customerPhone(kind, identity),
			SupplierName:  supplierName(kind, identity),
			RelatedID:     records[len(records)-1].ID,
			Kind:          ledger.KindDebtSettlement,
			AutoGenerated: true,
			Locked:        true,
			CreatedBy:     actorID(ctx),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) bumpCache(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump debt cache", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, kind Kind, identity Identity, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["kind"] = string(kind)
	meta["name"] = identity.Name
	var branch string
	if ident, ok := shared.IdentityFromContext(ctx); ok {
		branch = ident.Branch
	}
	shared.RecordAudit(ctx, s.logger, s.audit, shared.AuditLog{
		ActorID:  actorID(ctx),
		Action:   action,
		Entity:   "debtor",
		EntityID: identity.Key(),
		Branch:   branch,
		Meta:     meta,
	})
}

func actorID(ctx context.Context) int64 {
	if ident, ok := shared.IdentityFromContext(ctx); ok {
		return ident.UserID
	}
	return 0
}

func customerName(kind Kind, identity Identity) string {
	if kind == KindCustomer {
		return identity.Name
	}
	return ""
}

func customerPhone(kind Kind, identity Identity) string {
	if kind == KindCustomer {
		return identity.Phone
	}
	return ""
}

func supplierName(kind Kind, identity Identity) string {
	if kind == KindSupplier {
		return identity.Name
	}
	return ""
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
