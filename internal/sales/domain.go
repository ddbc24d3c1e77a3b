package sales

import (
	"time"

	"github.com/google/uuid"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
)

// Line is one sold unit or accessory line. Lines sold in one checkout share
// a batch id. A line is never hard-deleted once sold; returns flag it with a
// back-reference instead.
type Line struct {
	ID            int64
	ProductRef    string
	Serialized    bool
	Quantity      int64
	UnitPrice     int64
	AmountPaid    int64
	SoldAt        time.Time
	CustomerName  string
	CustomerPhone string
	PartyKey      string
	Branch        string
	BatchID       uuid.UUID
	Returned      bool
	ReturnID      int64
	CreatedBy     int64
	CreatedAt     time.Time
}

// Billed returns the line's billed total.
func (l Line) Billed() int64 {
	return l.UnitPrice * l.Quantity
}

// Outstanding returns the line's unpaid remainder, floored at zero.
func (l Line) Outstanding() int64 {
	if out := l.Billed() - l.AmountPaid; out > 0 {
		return out
	}
	return 0
}

// CheckoutItem is one product in a checkout.
type CheckoutItem struct {
	ProductRef string
	Quantity   int64
	UnitPrice  int64
}

// CheckoutInput describes a single or batch checkout.
type CheckoutInput struct {
	CustomerName  string
	CustomerPhone string
	Branch        string
	Items         []CheckoutItem
	// Paid is the amount handed over at checkout, one cashbook inflow per
	// allocation item. The rest becomes customer debt.
	Paid           []ledger.Allocation
	SoldAt         time.Time
	IdempotencyKey string
	ActorID        int64
}

// ListFilter narrows sale listings.
type ListFilter struct {
	Branch   string
	Search   string
	Returned *bool
	Limit    int
}
