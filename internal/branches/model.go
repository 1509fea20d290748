package branches

import (
	"time"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Type distinguishes retail stores from warehouses.
type Type string

const (
	TypeStore     Type = "STORE"
	TypeWarehouse Type = "WAREHOUSE"
)

// Status of a branch.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Branch represents a fulfillment location.
type Branch struct {
	ID               int64     `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	Type             Type      `json:"type"`
	Status           Status    `json:"status"`
	SupportsPickup   bool      `json:"supports_pickup"`
	SupportsDelivery bool      `json:"supports_delivery"`
	Capacity         int       `json:"capacity"`
	ActiveOrders     int       `json:"active_orders"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsActive reports whether the branch accepts work.
func (b Branch) IsActive() bool {
	return b.Status == StatusActive
}

// IsWarehouse reports whether bin stock is tracked for the branch.
func (b Branch) IsWarehouse() bool {
	return b.Type == TypeWarehouse
}

// HasCapacity reports whether one more order fits. Zero capacity means unlimited.
func (b Branch) HasCapacity() bool {
	return b.Capacity <= 0 || b.ActiveOrders < b.Capacity
}

// Shipper is a courier attached to a branch.
type Shipper struct {
	ID       int64  `json:"id"`
	BranchID int64  `json:"branch_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

// ListFilter narrows branch listings.
type ListFilter struct {
	Type       Type
	ActiveOnly bool
	Page       shared.Page
}

var (
	ErrBranchNotFound  = shared.NewError(shared.ErrNotFound, "BRANCH_NOT_FOUND", "branch not found")
	ErrShipperNotFound = shared.NewError(shared.ErrNotFound, "SHIPPER_NOT_FOUND", "shipper not found")
	ErrAtCapacity      = shared.NewError(shared.ErrConflict, "BRANCH_AT_CAPACITY", "branch has reached its order capacity")
	ErrDuplicateCode   = shared.NewError(shared.ErrConflict, "BRANCH_CODE_TAKEN", "branch code already exists")
)
