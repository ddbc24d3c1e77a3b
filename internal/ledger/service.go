package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/atlas-retail/atlas-pos/internal/observability"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// RepositoryPort defines data access methods for the cashbook.
type RepositoryPort interface {
	Insert(ctx context.Context, entry Entry) (int64, error)
	Get(ctx context.Context, id int64) (Entry, error)
	Update(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id int64) error
	// LatestByInsertion returns the most recently inserted entry for the
	// pair, regardless of business date.
	LatestByInsertion(ctx context.Context, source MoneySource, branch string) (Entry, error)
	// ListPair returns all entries for the pair ordered by
	// (occurred_at, recorded_at, id) ascending.
	ListPair(ctx context.Context, source MoneySource, branch string) ([]Entry, error)
	UpdateBalances(ctx context.Context, id int64, before, after int64) error
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
	ListPairs(ctx context.Context) ([]Pair, error)
}

// ErrNoEntries is returned by LatestByInsertion when the pair has no entries.
var ErrNoEntries = errors.New("ledger: no entries for pair")

// PairLockPort acquires a cross-process critical section for one balance
// chain, so the API and worker processes exclude each other.
type PairLockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service maintains the cashbook and its running balances. Appends and
// reindexes for one (money source, branch) pair are serialised through the
// keyed mutex so a reindex never races a concurrent append on the same pair;
// the pair lock extends that exclusion across processes.
type Service struct {
	repo     RepositoryPort
	audit    shared.AuditPort
	locks    *shared.KeyedMutex
	pairLock PairLockPort
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditPort, locks *shared.KeyedMutex, pairLock PairLockPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if locks == nil {
		locks = shared.NewKeyedMutex()
	}
	return &Service{repo: repo, audit: audit, locks: locks, pairLock: pairLock, logger: logger, metrics: metrics}
}

// lockPair takes the in-process mutex first, then the cross-process lock.
// A failed distributed acquire degrades to local-only exclusion.
func (s *Service) lockPair(ctx context.Context, source MoneySource, branch string) func() {
	key := shared.LedgerPairKey(string(source), branch)
	unlock := s.locks.Lock(key)
	if s.pairLock == nil {
		return unlock
	}
	release, err := s.pairLock.Acquire(ctx, key)
	if err != nil {
		s.logger.Warn("acquire pair lock", slog.String("key", key), slog.Any("error", err))
		return unlock
	}
	return func() {
		release()
		unlock()
	}
}

func (s *Service) validateAppend(in AppendInput) error {
	if in.Amount <= 0 {
		return fmt.Errorf("ledger: amount must be a positive integer: %w", shared.ErrInvalidAmount)
	}
	if !in.Direction.Valid() {
		return fmt.Errorf("ledger: unknown direction %q: %w", in.Direction, shared.ErrInvalidAmount)
	}
	if !in.Source.Valid() {
		return fmt.Errorf("ledger: unknown money source %q: %w", in.Source, shared.ErrInvalidAmount)
	}
	if in.Branch == "" {
		return fmt.Errorf("ledger: branch required: %w", shared.ErrInvalidAmount)
	}
	return nil
}

// Append records a cash movement. BalanceBefore is taken from the latest
// prior entry by insertion order; back-dated entries therefore diverge from
// the business-date replay until the pair is reindexed.
func (s *Service) Append(ctx context.Context, in AppendInput) (Entry, error) {
	if err := s.validateAppend(in); err != nil {
		return Entry{}, err
	}

	unlock := s.lockPair(ctx, in.Source, in.Branch)
	defer unlock()

	var before int64
	prev, err := s.repo.LatestByInsertion(ctx, in.Source, in.Branch)
	switch {
	case err == nil:
		before = prev.BalanceAfter
	case errors.Is(err, ErrNoEntries):
		before = 0
	default:
		return Entry{}, err
	}

	now := time.Now()
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	entry := Entry{
		Direction:     in.Direction,
		Amount:        in.Amount,
		Source:        in.Source,
		Branch:        in.Branch,
		Label:         in.Label,
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		SupplierName:  in.SupplierName,
		RelatedID:     in.RelatedID,
		Kind:          in.Kind,
		OccurredAt:    occurred,
		RecordedAt:    now,
		BalanceBefore: before,
		AutoGenerated: in.AutoGenerated,
		Locked:        in.Locked,
		CreatedBy:     in.CreatedBy,
	}
	entry.BalanceAfter = before + entry.Signed()

	id, err := s.repo.Insert(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id

	s.recordAudit(ctx, "ledger.append", id, map[string]any{
		"direction": entry.Direction,
		"amount":    entry.Amount,
		"source":    entry.Source,
		"branch":    entry.Branch,
		"after":     entry.BalanceAfter,
	})
	return entry, nil
}

// Update mutates an entry and repairs the affected pair(s). Locked entries
// require a role with lock override; moving an entry between pairs reindexes
// both the old and the new pair.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Entry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if err := s.authorize(ctx, entry); err != nil {
		return Entry{}, err
	}

	oldSource, oldBranch := entry.Source, entry.Branch
	snapshot := map[string]any{
		"amount": entry.Amount, "label": entry.Label,
		"source": entry.Source, "branch": entry.Branch,
	}

	if in.Label != nil {
		entry.Label = *in.Label
	}
	if in.Amount != nil {
		if *in.Amount <= 0 {
			return Entry{}, fmt.Errorf("ledger: amount must be a positive integer: %w", shared.ErrInvalidAmount)
		}
		entry.Amount = *in.Amount
	}
	if in.Direction != nil {
		if !in.Direction.Valid() {
			return Entry{}, fmt.Errorf("ledger: unknown direction %q: %w", *in.Direction, shared.ErrInvalidAmount)
		}
		entry.Direction = *in.Direction
	}
	if in.Source != nil {
		if !in.Source.Valid() {
			return Entry{}, fmt.Errorf("ledger: unknown money source %q: %w", *in.Source, shared.ErrInvalidAmount)
		}
		entry.Source = *in.Source
	}
	if in.Branch != nil {
		if *in.Branch == "" {
			return Entry{}, fmt.Errorf("ledger: branch required: %w", shared.ErrInvalidAmount)
		}
		entry.Branch = *in.Branch
	}
	if in.OccurredAt != nil {
		entry.OccurredAt = *in.OccurredAt
	}

	if err := s.repo.Update(ctx, entry); err != nil {
		return Entry{}, err
	}

	if _, err := s.Reindex(ctx, oldSource, oldBranch); err != nil {
		return Entry{}, err
	}
	if entry.Source != oldSource || entry.Branch != oldBranch {
		if _, err := s.Reindex(ctx, entry.Source, entry.Branch); err != nil {
			return Entry{}, err
		}
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, "ledger.update", id, map[string]any{
		"before": snapshot,
		"after": map[string]any{
			"amount": updated.Amount, "label": updated.Label,
			"source": updated.Source, "branch": updated.Branch,
		},
	})
	return updated, nil
}

// Delete removes an entry and repairs its pair.
func (s *Service) Delete(ctx context.Context, id int64) error {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, entry); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := s.Reindex(ctx, entry.Source, entry.Branch); err != nil {
		return err
	}
	s.recordAudit(ctx, "ledger.delete", id, map[string]any{
		"amount": entry.Amount, "source": entry.Source, "branch": entry.Branch,
	})
	return nil
}

// Reindex replays the pair's running balance from zero in
// (occurred_at, recorded_at) order and persists every drifted entry. It is
// idempotent: a second run over an already consistent pair writes nothing.
func (s *Service) Reindex(ctx context.Context, source MoneySource, branch string) (int64, error) {
	unlock := s.lockPair(ctx, source, branch)
	defer unlock()

	entries, err := s.repo.ListPair(ctx, source, branch)
	if err != nil {
		return 0, err
	}
	var running int64
	for _, entry := range entries {
		before := running
		after := before + entry.Signed()
		if entry.BalanceBefore != before || entry.BalanceAfter != after {
			if err := s.repo.UpdateBalances(ctx, entry.ID, before, after); err != nil {
				return 0, err
			}
		}
		running = after
	}
	s.metrics.ObserveReindex(string(source))
	return running, nil
}

// CheckPair replays the pair without writing and reports whether any stored
// balance drifted from the recomputed sequence.
func (s *Service) CheckPair(ctx context.Context, source MoneySource, branch string) (bool, error) {
	entries, err := s.repo.ListPair(ctx, source, branch)
	if err != nil {
		return false, err
	}
	var running int64
	for _, entry := range entries {
		before := running
		after := before + entry.Signed()
		if entry.BalanceBefore != before || entry.BalanceAfter != after {
			return true, nil
		}
		running = after
	}
	return false, nil
}

// Pairs lists every (money source, branch) pair present in the cashbook.
func (s *Service) Pairs(ctx context.Context) ([]Pair, error) {
	return s.repo.ListPairs(ctx)
}

// CurrentBalance returns the balance after the most recently inserted entry
// for the pair, or zero when none exist.
func (s *Service) CurrentBalance(ctx context.Context, source MoneySource, branch string) (int64, error) {
	entry, err := s.repo.LatestByInsertion(ctx, source, branch)
	if errors.Is(err, ErrNoEntries) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.BalanceAfter, nil
}

// Get loads one entry.
func (s *Service) Get(ctx context.Context, id int64) (Entry, error) {
	return s.repo.Get(ctx, id)
}

// List returns cashbook entries for display, ordered by business date.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) authorize(ctx context.Context, entry Entry) error {
	ident, ok := shared.IdentityFromContext(ctx)
	if !ok {
		return fmt.Errorf("ledger: caller identity missing: %w", shared.ErrPermissionDenied)
	}
	if !ident.CanAccessBranch(entry.Branch) {
		return fmt.Errorf("ledger: entry belongs to branch %s: %w", entry.Branch, shared.ErrPermissionDenied)
	}
	if entry.Locked && !ident.CanOverrideLock() {
		return fmt.Errorf("ledger: entry %d is locked: %w", entry.ID, shared.ErrPermissionDenied)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entryID int64, meta map[string]any) {
	var actor int64
	var branch string
	if ident, ok := shared.IdentityFromContext(ctx); ok {
		actor = ident.UserID
		branch = ident.Branch
	}
	shared.RecordAudit(ctx, s.logger, s.audit, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "ledger_entry",
		EntityID: strconv.FormatInt(entryID, 10),
		Branch:   branch,
		Meta:     meta,
	})
}
