package transfers

import "github.com/odyssey-erp/fulfillment/internal/shared"

var (
	ErrTransferNotFound  = shared.NewError(shared.ErrNotFound, "TRANSFER_NOT_FOUND", "transfer not found")
	ErrSameBranch        = shared.NewError(shared.ErrValidation, "SAME_BRANCH", "source and destination must differ")
	ErrBranchInactive    = shared.NewError(shared.ErrConflict, "BRANCH_INACTIVE", "branch is not active")
	ErrInvalidState      = shared.NewError(shared.ErrConflict, "INVALID_TRANSFER_STATE", "transfer is not in a state that allows this step")
	ErrNothingApproved   = shared.NewError(shared.ErrValidation, "NOTHING_APPROVED", "at least one unit must be approved")
	ErrUnknownSKU        = shared.NewError(shared.ErrValidation, "SKU_NOT_ON_TRANSFER", "sku is not part of the transfer")
	ErrOverReceipt       = shared.NewError(shared.ErrValidation, "RECEIVED_EXCEEDS_APPROVED", "received quantity exceeds approved quantity")
	ErrReasonRequired    = shared.NewError(shared.ErrValidation, "REASON_REQUIRED", "a reason is required")
	ErrNotPermitted      = shared.NewError(shared.ErrForbidden, "ROLE_NOT_PERMITTED", "role may not perform this transfer step")
	ErrQuantityInvariant = shared.NewError(shared.ErrIntegrity, "TRANSFER_QUANTITY_INVARIANT", "received <= approved <= requested violated")
)
