package orders

import "github.com/odyssey-erp/fulfillment/internal/shared"

// Domain errors for orders.
var (
	ErrOrderNotFound = shared.NewError(shared.ErrNotFound, "ORDER_NOT_FOUND", "order not found")
	ErrUnknownStatus = shared.NewError(shared.ErrValidation, CodeUnknownStatus, "unknown order status")

	ErrFulfillmentMismatch = shared.NewError(shared.ErrValidation, "FULFILLMENT_MISMATCH", "fulfillment type does not match order source")
	ErrBranchRequired      = shared.NewError(shared.ErrValidation, "BRANCH_REQUIRED", "a branch is required for this fulfillment type")
	ErrUnknownPayment      = shared.NewError(shared.ErrValidation, "UNKNOWN_PAYMENT_METHOD", "unknown payment method")
	ErrNegativeAmount      = shared.NewError(shared.ErrValidation, "NEGATIVE_AMOUNT", "fees and discounts must not be negative")
	ErrOverrideReason      = shared.NewError(shared.ErrValidation, "OVERRIDE_REASON_REQUIRED", "a total override needs a reason")
	ErrOverrideForbidden   = shared.NewError(shared.ErrForbidden, "OVERRIDE_NOT_PERMITTED", "only managers may override totals")

	ErrBranchInactive       = shared.NewError(shared.ErrConflict, "BRANCH_INACTIVE", "branch is not active")
	ErrPickupNotSupported   = shared.NewError(shared.ErrConflict, "PICKUP_NOT_SUPPORTED", "branch does not offer pickup")
	ErrDeliveryNotSupported = shared.NewError(shared.ErrConflict, "DELIVERY_NOT_SUPPORTED", "branch does not offer home delivery")
	ErrBranchNotAssigned    = shared.NewError(shared.ErrConflict, "BRANCH_NOT_ASSIGNED", "order must be routed to a branch first")
	ErrReassignNotAllowed   = shared.NewError(shared.ErrConflict, "REASSIGN_NOT_ALLOWED", "order can no longer change branch")
	ErrShipperInactive      = shared.NewError(shared.ErrConflict, "SHIPPER_INACTIVE", "shipper is not active")
	ErrShipperMismatch      = shared.NewError(shared.ErrForbidden, "SHIPPER_BRANCH_MISMATCH", "shipper does not belong to the order branch")
	ErrNotOwner             = shared.NewError(shared.ErrForbidden, "NOT_ORDER_OWNER", "order belongs to another customer")
	ErrAssignNotPermitted   = shared.NewError(shared.ErrForbidden, CodeRoleNotPermitted, "role may not route orders")
	ErrPaymentNotPermitted  = shared.NewError(shared.ErrForbidden, CodeRoleNotPermitted, "role may not report payments")

	ErrInvalidCarrierToken = shared.NewError(shared.ErrUnauthorized, "INVALID_CARRIER_TOKEN", "carrier token rejected")
	ErrInvalidPaymentToken = shared.NewError(shared.ErrUnauthorized, "INVALID_PAYMENT_TOKEN", "payment callback token rejected")
	ErrUnknownCarrierEvent = shared.NewError(shared.ErrValidation, "UNKNOWN_CARRIER_EVENT", "unknown carrier event type")
	ErrUnknownPaymentState = shared.NewError(shared.ErrValidation, "UNKNOWN_PAYMENT_OUTCOME", "payment outcome must be paid or failed")
)
