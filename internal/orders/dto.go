package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateOrderInput is the payload for CreateOrder. Prices come from the catalog.
type CreateOrderInput struct {
	CustomerID          int64            `json:"customer_id"`
	Source              Source           `json:"source" validate:"required,oneof=ONLINE IN_STORE"`
	Fulfillment         Fulfillment      `json:"fulfillment" validate:"required,oneof=HOME_DELIVERY CLICK_AND_COLLECT IN_STORE"`
	PaymentMethod       PaymentMethod    `json:"payment_method" validate:"required"`
	BranchID            *int64           `json:"branch_id" validate:"omitempty,gt=0"`
	Items               []ItemInput      `json:"items" validate:"required,min=1,dive"`
	ShippingFee         decimal.Decimal  `json:"shipping_fee"`
	Discount            decimal.Decimal  `json:"discount"`
	PromotionDiscount   decimal.Decimal  `json:"promotion_discount"`
	TotalOverride       *decimal.Decimal `json:"total_override"`
	TotalOverrideReason string           `json:"total_override_reason" validate:"max=500"`
	Address             string           `json:"shipping_address" validate:"max=1000"`
	Note                string           `json:"note" validate:"max=1000"`
}

// ItemInput is one requested line.
type ItemInput struct {
	SKU      string `json:"sku" validate:"required,max=64"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

// StatusExtras carries optional data captured alongside a transition.
type StatusExtras struct {
	ShipperID      *int64         `json:"shipper_id" validate:"omitempty,gt=0"`
	Carrier        string         `json:"carrier" validate:"max=100"`
	TrackingNumber string         `json:"tracking_number" validate:"max=100"`
	Proof          *DeliveryProof `json:"proof"`
	Note           string         `json:"note" validate:"max=1000"`
}

// CarrierEvent is a webhook notification from a delivery carrier.
type CarrierEvent struct {
	EventID        string         `json:"event_id" validate:"required,max=200"`
	EventType      string         `json:"event_type" validate:"required"`
	TrackingNumber string         `json:"tracking_number" validate:"required"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Proof          *DeliveryProof `json:"proof"`
}

// WebhookResult reports how a carrier event was handled.
type WebhookResult struct {
	Order     Order `json:"order"`
	Duplicate bool  `json:"duplicate"`
	Ignored   bool  `json:"ignored"`
}

// Payment outcomes.
const (
	PaymentOutcomePaid   = "paid"
	PaymentOutcomeFailed = "failed"
)

// PaymentResult is reported by the payment gateway.
type PaymentResult struct {
	OrderID   int64  `json:"order_id" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required,max=200"`
	Outcome   string `json:"outcome" validate:"required"`
}
