package inventory

import (
	"time"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
)

// Status enumerates purchase line states.
type Status string

const (
	// StatusInStock marks a line available for sale.
	StatusInStock Status = "in_stock"
	// StatusSold marks a serialized line consumed by a sale.
	StatusSold Status = "sold"
)

// Line is one purchase record: a serialized unit (tracked by IMEI-style
// product ref, quantity 1) or a fungible accessory (tracked by SKU and
// quantity).
type Line struct {
	ID            int64
	ProductRef    string
	Serialized    bool
	Quantity      int64
	UnitCost      int64
	AmountPaid    int64
	ImportedAt    time.Time
	SupplierName  string
	SupplierPhone string
	PartyKey      string
	Branch        string
	Status        Status
	SaleRef       int64
	CreatedBy     int64
	CreatedAt     time.Time
}

// Billed returns the supplier-billed total of the line.
func (l Line) Billed() int64 {
	return l.UnitCost * l.Quantity
}

// Outstanding returns the unpaid payable toward the supplier, floored at zero.
func (l Line) Outstanding() int64 {
	if out := l.Billed() - l.AmountPaid; out > 0 {
		return out
	}
	return 0
}

// IntakeItem is one product in a stock intake.
type IntakeItem struct {
	ProductRef string
	Serialized bool
	Quantity   int64
	UnitCost   int64
}

// IntakeInput describes a stock intake from a supplier.
type IntakeInput struct {
	SupplierName  string
	SupplierPhone string
	Branch        string
	Items         []IntakeItem
	// Paid is the initial payment toward the supplier, one cashbook
	// outflow per allocation item. May be empty for a full-credit intake.
	Paid       []ledger.Allocation
	ImportedAt time.Time
	ActorID    int64
}

// ListFilter narrows stock listings.
type ListFilter struct {
	Branch string
	Status Status
	Search string
	Limit  int
}
