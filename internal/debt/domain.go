package debt

import (
	"time"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Kind selects which side of the book a debt view reads.
type Kind string

const (
	// KindCustomer groups sale lines by customer: money owed to the store.
	KindCustomer Kind = "customer"
	// KindSupplier groups purchase lines by supplier: money the store owes.
	KindSupplier Kind = "supplier"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	return k == KindCustomer || k == KindSupplier
}

// Identity is the legacy free-text identification of a counterparty.
type Identity struct {
	Name  string
	Phone string
}

// Key derives the stable identity key for grouping and locking.
func (i Identity) Key() string {
	return shared.PartyKey(i.Name, i.Phone)
}

// Record is one sale or purchase line viewed through the debt ledger.
type Record struct {
	ID         int64
	ProductRef string
	Quantity   int64
	UnitPrice  int64
	Paid       int64
	Date       time.Time
	Branch     string
	Name       string
	Phone      string
	PartyKey   string
}

// Billed returns the record's billed total.
func (r Record) Billed() int64 {
	return r.UnitPrice * r.Quantity
}

// Outstanding returns the record's own unpaid remainder, floored at zero. A
// settled record never contributes negative debt to offset another record.
func (r Record) Outstanding() int64 {
	if out := r.Billed() - r.Paid; out > 0 {
		return out
	}
	return 0
}

// Debtor is the derived per-identity view: recomputed from source records on
// every read, never persisted.
type Debtor struct {
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Key          string    `json:"key"`
	TotalBilled  int64     `json:"total_billed"`
	TotalPaid    int64     `json:"total_paid"`
	Outstanding  int64     `json:"outstanding"`
	LastActivity time.Time `json:"last_activity"`
	Lines        []Record  `json:"lines"`
}

// ListFilter narrows debtor listings.
type ListFilter struct {
	Branch         string
	Search         string
	IncludeSettled bool
}

// IdentityUpdate carries one identity rewrite: the rename plus any per-record
// paid amounts to rewrite alongside it, applied as a single unit.
type IdentityUpdate struct {
	OldKey   string
	Name     string
	Phone    string
	NewKey   string
	PaidByID map[int64]int64
}

// PaymentResult reports the outcome of a debt settlement.
type PaymentResult struct {
	PaidApplied    int64 `json:"paid_applied"`
	NewOutstanding int64 `json:"new_outstanding"`
}

// IncreaseResult reports the outcome of a manual debt increase.
type IncreaseResult struct {
	Added          int64 `json:"added"`
	NewOutstanding int64 `json:"new_outstanding"`
}
