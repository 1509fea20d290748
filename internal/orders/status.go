package orders

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status is the fine-grained order state.
type Status string

// Canonical statuses.
const (
	StatusPendingPayment    Status = "PENDING_PAYMENT"
	StatusPending           Status = "PENDING"
	StatusConfirmed         Status = "CONFIRMED"
	StatusProcessing        Status = "PROCESSING"
	StatusPicking           Status = "PICKING"
	StatusPicked            Status = "PICKED"
	StatusPacked            Status = "PACKED"
	StatusPreparingShipment Status = "PREPARING_SHIPMENT"
	StatusReadyForPickup    Status = "READY_FOR_PICKUP"
	StatusReadyForCashier   Status = "READY_FOR_CASHIER"
	StatusShipping          Status = "SHIPPING"
	StatusOutForDelivery    Status = "OUT_FOR_DELIVERY"
	StatusDeliveryFailed    Status = "DELIVERY_FAILED"
	StatusDelivered         Status = "DELIVERED"
	StatusCollected         Status = "COLLECTED"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
	StatusReturnRequested   Status = "RETURN_REQUESTED"
	StatusReturned          Status = "RETURNED"
)

// Stage is the coarse projection of Status shown to customers and reports.
type Stage string

// Stages.
const (
	StageAwaitingPayment Stage = "AWAITING_PAYMENT"
	StageNew             Stage = "NEW"
	StageConfirmed       Stage = "CONFIRMED"
	StageProcessing      Stage = "PROCESSING"
	StageReady           Stage = "READY"
	StageInTransit       Stage = "IN_TRANSIT"
	StageDelivered       Stage = "DELIVERED"
	StageCompleted       Stage = "COMPLETED"
	StageCancelled       Stage = "CANCELLED"
	StageReturning       Stage = "RETURNING"
	StageReturned        Stage = "RETURNED"
)

var stageOf = map[Status]Stage{
	StatusPendingPayment:    StageAwaitingPayment,
	StatusPending:           StageNew,
	StatusConfirmed:         StageConfirmed,
	StatusProcessing:        StageProcessing,
	StatusPicking:           StageProcessing,
	StatusPicked:            StageProcessing,
	StatusPacked:            StageProcessing,
	StatusPreparingShipment: StageReady,
	StatusReadyForPickup:    StageReady,
	StatusReadyForCashier:   StageReady,
	StatusShipping:          StageInTransit,
	StatusOutForDelivery:    StageInTransit,
	StatusDeliveryFailed:    StageInTransit,
	StatusDelivered:         StageDelivered,
	StatusCollected:         StageDelivered,
	StatusCompleted:         StageCompleted,
	StatusCancelled:         StageCancelled,
	StatusReturnRequested:   StageReturning,
	StatusReturned:          StageReturned,
}

// Legacy and carrier spellings accepted on input.
var statusAliases = map[string]Status{
	"NEW":                  StatusPending,
	"AWAITING_PAYMENT":     StatusPendingPayment,
	"ACCEPTED":             StatusConfirmed,
	"PACKING":              StatusPacked,
	"PICKING_COMPLETE":     StatusPicked,
	"READY_TO_SHIP":        StatusPreparingShipment,
	"SHIPPED":              StatusShipping,
	"IN_TRANSIT":           StatusShipping,
	"READY_FOR_COLLECTION": StatusReadyForPickup,
	"PICKED_UP":            StatusCollected,
	"CANCELED":             StatusCancelled,
	"DONE":                 StatusCompleted,
}

var upper = cases.Upper(language.Und)

// ParseStatus normalises raw input into a canonical status. It is the only place
// aliases are resolved.
func ParseStatus(raw string) (Status, error) {
	key := upper.String(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if alias, ok := statusAliases[key]; ok {
		return alias, nil
	}
	status := Status(key)
	if !status.Valid() {
		return "", ErrUnknownStatus.Detail("%q", raw)
	}
	return status, nil
}

// Valid reports whether s is a canonical status.
func (s Status) Valid() bool {
	_, ok := stageOf[s]
	return ok
}

// Stage derives the coarse stage.
func (s Status) Stage() Stage {
	return stageOf[s]
}

// IsTerminal reports statuses that accept no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusReturned
}

// consumesStock reports statuses at which reserved branch stock is finally deducted.
func (s Status) consumesStock() bool {
	return s == StatusDelivered || s == StatusCollected || s == StatusCompleted
}

// needsBranch reports whether an order must hold a branch reservation to enter s.
func (s Status) needsBranch() bool {
	switch s.Stage() {
	case StageReady, StageInTransit, StageDelivered, StageCompleted:
		return true
	}
	return false
}

// Source is the sales channel.
type Source string

const (
	SourceOnline  Source = "ONLINE"
	SourceInStore Source = "IN_STORE"
)

// Fulfillment is how goods reach the customer.
type Fulfillment string

const (
	FulfillmentHomeDelivery    Fulfillment = "HOME_DELIVERY"
	FulfillmentClickAndCollect Fulfillment = "CLICK_AND_COLLECT"
	FulfillmentInStore         Fulfillment = "IN_STORE"
)

// consistentWith reports whether the fulfillment type fits the channel.
func (f Fulfillment) consistentWith(src Source) bool {
	switch src {
	case SourceInStore:
		return f == FulfillmentInStore
	case SourceOnline:
		return f == FulfillmentHomeDelivery || f == FulfillmentClickAndCollect
	}
	return false
}

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentCOD          PaymentMethod = "COD"
	PaymentCard         PaymentMethod = "CARD"
	PaymentEWallet      PaymentMethod = "EWALLET"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Deferred reports methods confirmed asynchronously by the gateway.
func (m PaymentMethod) Deferred() bool {
	return m == PaymentCard || m == PaymentEWallet || m == PaymentBankTransfer
}

// CollectedOnHandover reports methods settled when goods change hands.
func (m PaymentMethod) CollectedOnHandover() bool {
	return m == PaymentCash || m == PaymentCOD
}

// PaymentStatus tracks settlement.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)
