package ledger

import (
	"time"
)

// Direction marks an entry as money in or money out.
type Direction string

const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
)

// Valid reports whether the direction is a known value.
func (d Direction) Valid() bool {
	return d == DirectionInflow || d == DirectionOutflow
}

// MoneySource enumerates the cash-equivalent channels a balance is tracked
// against.
type MoneySource string

const (
	SourceCash    MoneySource = "cash"
	SourceCard    MoneySource = "card"
	SourceEWallet MoneySource = "ewallet"
)

// Valid reports whether the money source is a known value.
func (m MoneySource) Valid() bool {
	switch m {
	case SourceCash, SourceCard, SourceEWallet:
		return true
	}
	return false
}

// EntryKind identifies what produced a cashbook entry.
type EntryKind string

const (
	KindManual         EntryKind = "manual"
	KindSale           EntryKind = "sale"
	KindPurchase       EntryKind = "purchase"
	KindDebtSettlement EntryKind = "debt-settlement"
	KindAdjustment     EntryKind = "adjustment"
	KindSaleReturn     EntryKind = "sale-return"
	KindPurchaseReturn EntryKind = "purchase-return"
)

// Entry is one cashbook record. BalanceBefore/BalanceAfter are denormalized:
// they are computed at append time from the latest entry by insertion order
// and repaired by Reindex, which replays the pair in business-date order.
type Entry struct {
	ID            int64
	Direction     Direction
	Amount        int64
	Source        MoneySource
	Branch        string
	Label         string
	CustomerName  string
	CustomerPhone string
	SupplierName  string
	RelatedID     int64
	Kind          EntryKind
	OccurredAt    time.Time
	RecordedAt    time.Time
	BalanceBefore int64
	BalanceAfter  int64
	AutoGenerated bool
	Locked        bool
	CreatedBy     int64
}

// Signed returns the amount with the direction applied.
func (e Entry) Signed() int64 {
	if e.Direction == DirectionOutflow {
		return -e.Amount
	}
	return e.Amount
}

// AppendInput describes a new cashbook entry.
type AppendInput struct {
	Direction     Direction
	Amount        int64
	Source        MoneySource
	Branch        string
	Label         string
	CustomerName  string
	CustomerPhone string
	SupplierName  string
	RelatedID     int64
	Kind          EntryKind
	OccurredAt    time.Time
	AutoGenerated bool
	Locked        bool
	CreatedBy     int64
}

// UpdateInput carries the mutable fields of an entry. Nil means unchanged.
type UpdateInput struct {
	Label      *string
	Amount     *int64
	Direction  *Direction
	Source     *MoneySource
	Branch     *string
	OccurredAt *time.Time
}

// ListFilter narrows cashbook listings. Listings order by business date
// descending, unlike balance derivation which follows insertion order.
type ListFilter struct {
	Source MoneySource
	Branch string
	From   time.Time
	To     time.Time
	Limit  int
}

// Pair identifies one running-balance sequence.
type Pair struct {
	Source MoneySource
	Branch string
}

// Allocation splits an amount across money sources. Used by debt payments
// and refund settlements, each item producing one cashbook entry.
type Allocation struct {
	Source MoneySource `json:"money_source"`
	Amount int64       `json:"amount"`
}

// AllocationTotal sums allocation amounts.
func AllocationTotal(allocs []Allocation) int64 {
	var total int64
	for _, a := range allocs {
		total += a.Amount
	}
	return total
}
