package transfers

import (
	"time"

	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Status of a stock transfer.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusReceived  Status = "RECEIVED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// CanApprove reports whether the transfer awaits a decision.
func (s Status) CanApprove() bool { return s == StatusPending }

// CanShip reports whether reserved stock may leave the source.
func (s Status) CanShip() bool { return s == StatusApproved }

// CanReceive reports whether the destination may book the goods.
func (s Status) CanReceive() bool { return s == StatusInTransit }

// CanComplete reports whether a discrepant receipt may be closed.
func (s Status) CanComplete() bool { return s == StatusReceived }

// CanCancel reports whether the transfer can still be called off.
func (s Status) CanCancel() bool { return s == StatusPending || s == StatusApproved }

// Transfer moves stock between two branches.
type Transfer struct {
	ID            int64         `json:"id"`
	Code          string        `json:"code"`
	FromBranchID  int64         `json:"from_branch_id"`
	ToBranchID    int64         `json:"to_branch_id"`
	Status        Status        `json:"status"`
	Items         []Item        `json:"items"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	Note          string        `json:"note,omitempty"`

	RequestedBy  int64      `json:"requested_by"`
	RequestedAt  time.Time  `json:"requested_at"`
	ApprovedBy   *int64     `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ShippedBy    *int64     `json:"shipped_by,omitempty"`
	ShippedAt    *time.Time `json:"shipped_at,omitempty"`
	ReceivedBy   *int64     `json:"received_by,omitempty"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is one SKU on a transfer. Received <= Approved <= Requested always holds.
type Item struct {
	ID                int64  `json:"id"`
	SKU               string `json:"sku"`
	RequestedQuantity int64  `json:"requested_quantity"`
	ApprovedQuantity  int64  `json:"approved_quantity"`
	ReceivedQuantity  int64  `json:"received_quantity"`
}

// Discrepancy records a receipt short of the approved quantity.
type Discrepancy struct {
	SKU      string `json:"sku"`
	Expected int64  `json:"expected"`
	Received int64  `json:"received"`
	Reason   string `json:"reason"`
}

// Missing is the unreceived remainder.
func (d Discrepancy) Missing() int64 { return d.Expected - d.Received }

func (t Transfer) approvedLines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(t.Items))
	for _, it := range t.Items {
		if it.ApprovedQuantity > 0 {
			lines = append(lines, inventory.Line{SKU: it.SKU, Quantity: it.ApprovedQuantity})
		}
	}
	return lines
}

func (t Transfer) receivedLines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(t.Items))
	for _, it := range t.Items {
		if it.ReceivedQuantity > 0 {
			lines = append(lines, inventory.Line{SKU: it.SKU, Quantity: it.ReceivedQuantity})
		}
	}
	return lines
}

// checkQuantities verifies the per-item ordering invariant.
func (t Transfer) checkQuantities() error {
	for _, it := range t.Items {
		if it.ReceivedQuantity < 0 || it.ReceivedQuantity > it.ApprovedQuantity || it.ApprovedQuantity > it.RequestedQuantity {
			return ErrQuantityInvariant.Detail("%s requested=%d approved=%d received=%d", it.SKU, it.RequestedQuantity, it.ApprovedQuantity, it.ReceivedQuantity)
		}
	}
	return nil
}

// RequestInput opens a transfer.
type RequestInput struct {
	FromBranchID int64       `json:"from_branch_id" validate:"required,gt=0"`
	ToBranchID   int64       `json:"to_branch_id" validate:"required,gt=0,nefield=FromBranchID"`
	Items        []LineInput `json:"items" validate:"required,min=1,dive"`
	Note         string      `json:"note" validate:"max=1000"`
}

// LineInput is a SKU quantity pair supplied by callers.
type LineInput struct {
	SKU      string `json:"sku" validate:"required,max=64"`
	Quantity int64  `json:"quantity" validate:"gte=0"`
}

// ApproveInput optionally caps approved quantities per SKU. SKUs left out are
// approved in full.
type ApproveInput struct {
	Overrides []LineInput `json:"overrides" validate:"dive"`
}

// ReceiveLine reports what arrived for one SKU.
type ReceiveLine struct {
	SKU      string `json:"sku" validate:"required,max=64"`
	Quantity int64  `json:"quantity" validate:"gte=0"`
	Reason   string `json:"reason" validate:"max=500"`
}

// ReceiveInput lists receipts. SKUs left out are treated as not received.
type ReceiveInput struct {
	Items []ReceiveLine `json:"items" validate:"dive"`
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	Status   Status
	BranchID int64
	Page     shared.Page
}
