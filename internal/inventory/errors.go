package inventory

import "github.com/odyssey-erp/fulfillment/internal/shared"

// Domain errors for the branch ledger.
var (
	ErrRecordNotFound    = shared.NewError(shared.ErrNotFound, "INVENTORY_RECORD_NOT_FOUND", "inventory record not found")
	ErrInsufficientStock = shared.NewError(shared.ErrConflict, "INSUFFICIENT_STOCK", "insufficient stock")
	ErrInvalidQuantity   = shared.NewError(shared.ErrValidation, "INVALID_QUANTITY", "quantity must be greater than zero")
	ErrBelowReserved     = shared.NewError(shared.ErrConflict, "QUANTITY_BELOW_RESERVED", "quantity cannot drop below reserved stock")
	ErrInvalidThresholds = shared.NewError(shared.ErrValidation, "INVALID_THRESHOLDS", "min stock must not exceed max stock")
	ErrLedgerIntegrity   = shared.NewError(shared.ErrIntegrity, "LEDGER_INTEGRITY", "ledger invariant violated")
)
