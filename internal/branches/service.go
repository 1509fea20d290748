package branches

import (
	"context"
	"strings"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Store is the persistence port of the branch directory.
type Store interface {
	List(ctx context.Context, filter ListFilter) ([]Branch, error)
	Get(ctx context.Context, id int64) (Branch, error)
	Create(ctx context.Context, b Branch) (Branch, error)
	Update(ctx context.Context, b Branch) error
	CreateShipper(ctx context.Context, s Shipper) (Shipper, error)
}

type Service struct {
	repo Store
}

func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// BranchForm is the create/update payload.
type BranchForm struct {
	Code             string `json:"code" validate:"required,max=32"`
	Name             string `json:"name" validate:"required,max=120"`
	Address          string `json:"address" validate:"max=255"`
	Type             Type   `json:"type" validate:"required,oneof=STORE WAREHOUSE"`
	Status           Status `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	SupportsPickup   bool   `json:"supports_pickup"`
	SupportsDelivery bool   `json:"supports_delivery"`
	Capacity         int    `json:"capacity" validate:"gte=0"`
}

// ShipperForm registers a courier.
type ShipperForm struct {
	BranchID int64  `json:"branch_id" validate:"required,gt=0"`
	Name     string `json:"name" validate:"required,max=120"`
}

var errDirectoryForbidden = shared.NewError(shared.ErrForbidden, "ROLE_NOT_PERMITTED", "only managers may change the branch directory")

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Branch, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) Get(ctx context.Context, id int64) (Branch, error) {
	if id <= 0 {
		return Branch{}, shared.NewError(shared.ErrValidation, "INVALID_ID", "invalid branch ID")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, form BranchForm, actor shared.Actor) (Branch, error) {
	if !actor.Role.IsElevated() {
		return Branch{}, errDirectoryForbidden
	}
	b, err := s.fromForm(form)
	if err != nil {
		return Branch{}, err
	}
	return s.repo.Create(ctx, b)
}

func (s *Service) Update(ctx context.Context, id int64, form BranchForm, actor shared.Actor) (Branch, error) {
	if !actor.Role.IsElevated() {
		return Branch{}, errDirectoryForbidden
	}
	b, err := s.fromForm(form)
	if err != nil {
		return Branch{}, err
	}
	b.ID = id
	if err := s.repo.Update(ctx, b); err != nil {
		return Branch{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) AddShipper(ctx context.Context, form ShipperForm, actor shared.Actor) (Shipper, error) {
	if !actor.Role.IsElevated() {
		return Shipper{}, errDirectoryForbidden
	}
	if err := shared.ValidateStruct(form); err != nil {
		return Shipper{}, err
	}
	if _, err := s.repo.Get(ctx, form.BranchID); err != nil {
		return Shipper{}, err
	}
	return s.repo.CreateShipper(ctx, Shipper{BranchID: form.BranchID, Name: form.Name, Active: true})
}

func (s *Service) fromForm(form BranchForm) (Branch, error) {
	form.Code = strings.ToUpper(strings.TrimSpace(form.Code))
	form.Name = strings.TrimSpace(form.Name)
	if err := shared.ValidateStruct(form); err != nil {
		return Branch{}, err
	}
	status := form.Status
	if status == "" {
		status = StatusActive
	}
	return Branch{
		Code:             form.Code,
		Name:             form.Name,
		Address:          form.Address,
		Type:             form.Type,
		Status:           status,
		SupportsPickup:   form.SupportsPickup,
		SupportsDelivery: form.SupportsDelivery,
		Capacity:         form.Capacity,
	}, nil
}
