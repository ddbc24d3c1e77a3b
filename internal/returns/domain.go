package returns

import (
	"time"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
)

// Kind separates sale returns from purchase returns.
type Kind string

const (
	KindSale     Kind = "sale"
	KindPurchase Kind = "purchase"
)

// Status tracks the return record lifecycle. Completed is the created
// state; cancellation is one-way and does not re-reverse stock or ledger
// effects.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Record is one processed return, linked back to the original sale or
// purchase line.
type Record struct {
	ID           int64               `json:"id"`
	Kind         Kind                `json:"kind"`
	OriginalID   int64               `json:"original_id"`
	ProductRef   string              `json:"product_ref"`
	Quantity     int64               `json:"quantity"`
	RefundAmount int64               `json:"refund_amount"`
	Allocation   []ledger.Allocation `json:"allocation"`
	Reason       string              `json:"reason"`
	Branch       string              `json:"branch"`
	Status       Status              `json:"status"`
	CreatedBy    int64               `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Input describes a return request against one original line.
type Input struct {
	OriginalID   int64
	RefundAmount int64
	Allocation   []ledger.Allocation
	Reason       string
	ActorID      int64
}

// ListFilter narrows return listings.
type ListFilter struct {
	Kind   Kind
	Branch string
	Status Status
	Limit  int
}
