package inventory

import (
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// StockStatus is derived from available stock against the minimum threshold.
type StockStatus string

const (
	StatusInStock      StockStatus = "IN_STOCK"
	StatusLowStock     StockStatus = "LOW_STOCK"
	StatusOutOfStock   StockStatus = "OUT_OF_STOCK"
	StatusDiscontinued StockStatus = "DISCONTINUED"
)

// Record is the ledger row for one SKU at one branch.
type Record struct {
	BranchID  int64       `json:"branch_id"`
	SKU       string      `json:"sku"`
	Quantity  int64       `json:"quantity"`
	Reserved  int64       `json:"reserved"`
	Available int64       `json:"available"`
	MinStock  int64       `json:"min_stock"`
	MaxStock  int64       `json:"max_stock"`
	Status    StockStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Normalize recomputes the derived columns. DISCONTINUED is kept as set.
func (r *Record) Normalize() {
	r.Available = r.Quantity - r.Reserved
	if r.Available < 0 {
		r.Available = 0
	}
	if r.Status == StatusDiscontinued {
		return
	}
	switch {
	case r.Available <= 0:
		r.Status = StatusOutOfStock
	case r.Available <= r.MinStock:
		r.Status = StatusLowStock
	default:
		r.Status = StatusInStock
	}
}

// Check verifies the stored invariants of a record about to be written.
func (r Record) Check() error {
	if r.Quantity < 0 || r.Reserved < 0 || r.Reserved > r.Quantity {
		return ErrLedgerIntegrity.Detail("branch %d sku %s quantity=%d reserved=%d", r.BranchID, r.SKU, r.Quantity, r.Reserved)
	}
	return nil
}

// Direction of a physical movement.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// MovementKind classifies why stock moved.
type MovementKind string

const (
	MovementSale        MovementKind = "SALE"
	MovementTransferOut MovementKind = "TRANSFER_OUT"
	MovementTransferIn  MovementKind = "TRANSFER_IN"
	MovementReturnIn    MovementKind = "RETURN_IN"
	MovementAdjustment  MovementKind = "ADJUSTMENT"
)

// Movement is an immutable log entry for every physical quantity change.
type Movement struct {
	ID            int64        `json:"id"`
	BranchID      int64        `json:"branch_id"`
	SKU           string       `json:"sku"`
	Direction     Direction    `json:"direction"`
	Kind          MovementKind `json:"kind"`
	Quantity      int64        `json:"quantity"`
	QuantityAfter int64        `json:"quantity_after"`
	RefModule     string       `json:"ref_module"`
	RefID         string       `json:"ref_id"`
	ActorID       int64        `json:"actor_id"`
	Note          string       `json:"note,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Line is a SKU quantity pair used by reservation calls.
type Line struct {
	SKU      string
	Quantity int64
}

// Ref ties ledger effects back to the business document that caused them.
type Ref struct {
	Module  string
	ID      string
	ActorID int64
	Note    string
}

// MergeLines sums quantities per SKU and orders them by SKU so callers
// always lock ledger rows in the same order.
func MergeLines(lines []Line) ([]Line, error) {
	totals := make(map[string]int64, len(lines))
	for _, l := range lines {
		sku := strings.TrimSpace(l.SKU)
		if sku == "" {
			return nil, shared.NewError(shared.ErrValidation, "SKU_REQUIRED", "inventory: sku required")
		}
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity.Detail("sku %s quantity %d", sku, l.Quantity)
		}
		totals[sku] += l.Quantity
	}
	merged := make([]Line, 0, len(totals))
	for sku, qty := range totals {
		merged = append(merged, Line{SKU: sku, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].SKU < merged[j].SKU })
	return merged, nil
}

// LocationStock is the bin-level physical mirror for warehouse branches.
type LocationStock struct {
	BranchID     int64  `json:"branch_id"`
	LocationCode string `json:"location_code"`
	SKU          string `json:"sku"`
	Quantity     int64  `json:"quantity"`
}

// PhysicalMismatch describes a shortfall between ledger and bin stock.
type PhysicalMismatch struct {
	BranchID  int64  `json:"branch_id"`
	SKU       string `json:"sku"`
	Requested int64  `json:"requested"`
	Picked    int64  `json:"picked"`
	RefModule string `json:"ref_module"`
	RefID     string `json:"ref_id"`
}

// Shortfall is the unpicked remainder.
func (m PhysicalMismatch) Shortfall() int64 {
	return m.Requested - m.Picked
}

// MovementFilter narrows movement log queries.
type MovementFilter struct {
	BranchID int64
	SKU      string
	Kind     MovementKind
	Since    time.Time
	Page     shared.Page
}
