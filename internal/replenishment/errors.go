package replenishment

import "github.com/odyssey-erp/fulfillment/internal/shared"

var (
	ErrSnapshotNotFound = shared.NewError(shared.ErrNotFound, "SNAPSHOT_NOT_FOUND", "no replenishment snapshot")
	ErrRunInProgress    = shared.NewError(shared.ErrConflict, "RUN_IN_PROGRESS", "a replenishment run is already in progress")
	ErrNotPermitted     = shared.NewError(shared.ErrForbidden, "ROLE_NOT_PERMITTED", "role may not trigger replenishment")
)
