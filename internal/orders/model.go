package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Order is the fulfillment aggregate.
type Order struct {
	ID            int64         `json:"id"`
	Number        string        `json:"order_number"`
	CustomerID    int64         `json:"customer_id"`
	Source        Source        `json:"source"`
	Fulfillment   Fulfillment   `json:"fulfillment"`
	Status        Status        `json:"status"`
	Stage         Stage         `json:"stage"`
	BranchID      *int64        `json:"branch_id,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentRef    string        `json:"payment_reference,omitempty"`

	Items             []Item          `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ShippingFee       decimal.Decimal `json:"shipping_fee"`
	Discount          decimal.Decimal `json:"discount"`
	PromotionDiscount decimal.Decimal `json:"promotion_discount"`
	Total             decimal.Decimal `json:"total"`
	TotalOverride     *Override       `json:"total_override,omitempty"`

	Shipper      *ShipperAssignment `json:"shipper,omitempty"`
	Carrier      *CarrierAssignment `json:"carrier,omitempty"`
	Proof        *DeliveryProof     `json:"delivery_proof,omitempty"`
	Address      string             `json:"shipping_address,omitempty"`
	Note         string             `json:"note,omitempty"`
	CancelReason string             `json:"cancel_reason,omitempty"`

	CatalogStockDeducted bool       `json:"-"`
	BranchReserved       bool       `json:"-"`
	InventoryDeductedAt  *time.Time `json:"inventory_deducted_at,omitempty"`

	StatusHistory []StatusEntry `json:"status_history"`
	StageHistory  []StageEntry  `json:"stage_history"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is an order line with catalog data snapshotted at creation.
type Item struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Override is an audited manual total.
type Override struct {
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason"`
	ActorID int64           `json:"actor_id"`
}

// StatusEntry is one row of the status log. ID is zero until persisted.
type StatusEntry struct {
	ID      int64       `json:"-"`
	Status  Status      `json:"status"`
	ActorID int64       `json:"actor_id"`
	Role    shared.Role `json:"role"`
	Note    string      `json:"note,omitempty"`
	At      time.Time   `json:"at"`
}

// StageEntry is one row of the stage log.
type StageEntry struct {
	ID    int64     `json:"-"`
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`
}

// ShipperAssignment records who is delivering.
type ShipperAssignment struct {
	ShipperID  int64     `json:"shipper_id"`
	AssignedBy int64     `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}

// CarrierAssignment records third-party carrier tracking.
type CarrierAssignment struct {
	Carrier        string     `json:"carrier"`
	TrackingNumber string     `json:"tracking_number"`
	LastEventID    string     `json:"last_event_id,omitempty"`
	LastWebhookAt  *time.Time `json:"last_webhook_at,omitempty"`
}

// DeliveryProof is captured at handover.
type DeliveryProof struct {
	PhotoURLs    []string  `json:"photo_urls,omitempty"`
	SignatureURL string    `json:"signature_url,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Recalculate derives line and order totals from items. Client supplied totals
// never survive this.
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	for i := range o.Items {
		it := &o.Items[i]
		it.LineTotal = it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity))
		subtotal = subtotal.Add(it.LineTotal)
	}
	o.Subtotal = subtotal
	total := subtotal.Add(o.ShippingFee).Sub(o.Discount).Sub(o.PromotionDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total
}

// PayableTotal is what the customer is charged.
func (o Order) PayableTotal() decimal.Decimal {
	if o.TotalOverride != nil {
		return o.TotalOverride.Amount
	}
	return o.Total
}

// Lines returns ledger lines for the order items.
func (o Order) Lines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{SKU: it.SKU, Quantity: it.Quantity})
	}
	merged, err := inventory.MergeLines(lines)
	if err != nil {
		return lines
	}
	return merged
}

// record sets the status and appends to both logs. The stage log only grows when
// the stage actually changes.
func (o *Order) record(status Status, actor shared.Actor, note string, at time.Time) {
	o.Status = status
	o.Stage = status.Stage()
	o.StatusHistory = append(o.StatusHistory, StatusEntry{
		Status:  status,
		ActorID: actor.ID,
		Role:    actor.Role,
		Note:    note,
		At:      at,
	})
	if n := len(o.StageHistory); n == 0 || o.StageHistory[n-1].Stage != o.Stage {
		o.StageHistory = append(o.StageHistory, StageEntry{Stage: o.Stage, At: at})
	}
	o.UpdatedAt = at
}

// visibleTo reports whether the actor may read the order.
func (o Order) visibleTo(actor shared.Actor) bool {
	return actor.Role != shared.RoleCustomer || actor.ID == o.CustomerID
}

// StatusView is the read model returned by GetOrderStatus.
type StatusView struct {
	OrderID       int64         `json:"order_id"`
	Number        string        `json:"order_number"`
	Status        Status        `json:"status"`
	Stage         Stage         `json:"stage"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	StatusHistory []StatusEntry `json:"status_history"`
	StageHistory  []StageEntry  `json:"stage_history"`
}

// ListFilter narrows ListOrders.
type ListFilter struct {
	Status     Status
	BranchID   int64
	CustomerID int64
	Page       shared.Page
}
