package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, branchID int64, sku string) (Record, error)
	ListBranch(ctx context.Context, branchID int64) ([]Record, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes administrative ledger operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// AdjustInput sets ledger values administratively. Nil fields are left unchanged.
type AdjustInput struct {
	BranchID     int64  `json:"branch_id" validate:"required,gt=0"`
	SKU          string `json:"sku" validate:"required,max=64"`
	Quantity     *int64 `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	MinStock     *int64 `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	MaxStock     *int64 `json:"max_stock,omitempty" validate:"omitempty,gte=0"`
	Discontinued *bool  `json:"discontinued,omitempty"`
	Note         string `json:"note" validate:"max=500"`
}

// BinInput sets the physical quantity held in one warehouse location.
type BinInput struct {
	BranchID     int64  `json:"branch_id" validate:"required,gt=0"`
	LocationCode string `json:"location_code" validate:"required,max=32"`
	SKU          string `json:"sku" validate:"required,max=64"`
	Quantity     int64  `json:"quantity" validate:"gte=0"`
}

var errAdjustForbidden = shared.NewError(shared.ErrForbidden, "ROLE_NOT_PERMITTED", "role may not adjust inventory")

func canAdjust(actor shared.Actor) bool {
	return actor.Role.IsElevated() || actor.Role == shared.RoleWarehouse
}

// Adjust applies a stock count or threshold change. Quantity changes write an
// ADJUSTMENT movement; quantity may never drop below what is reserved.
func (s *Service) Adjust(ctx context.Context, input AdjustInput, actor shared.Actor) (Record, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Record{}, err
	}
	if !canAdjust(actor) {
		return Record{}, errAdjustForbidden
	}
	var out Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecordForUpdate(ctx, input.BranchID, input.SKU)
		if err != nil {
			if !errors.Is(err, ErrRecordNotFound) {
				return err
			}
			rec = Record{BranchID: input.BranchID, SKU: input.SKU}
		}
		before := rec.Quantity
		if input.Quantity != nil {
			if *input.Quantity < rec.Reserved {
				return ErrBelowReserved.Detail("sku %s reserved %d", rec.SKU, rec.Reserved)
			}
			rec.Quantity = *input.Quantity
		}
		if input.MinStock != nil {
			rec.MinStock = *input.MinStock
		}
		if input.MaxStock != nil {
			rec.MaxStock = *input.MaxStock
		}
		if rec.MaxStock > 0 && rec.MinStock > rec.MaxStock {
			return ErrInvalidThresholds
		}
		if input.Discontinued != nil {
			if *input.Discontinued {
				rec.Status = StatusDiscontinued
			} else if rec.Status == StatusDiscontinued {
				rec.Status = ""
			}
		}
		rec.Normalize()
		if err := rec.Check(); err != nil {
			return err
		}
		rec.UpdatedAt = s.now()
		if err := tx.SaveRecord(ctx, rec); err != nil {
			return err
		}
		if delta := rec.Quantity - before; delta != 0 {
			dir, qty := DirectionIn, delta
			if delta < 0 {
				dir, qty = DirectionOut, -delta
			}
			if err := tx.InsertMovement(ctx, Movement{
				BranchID:      rec.BranchID,
				SKU:           rec.SKU,
				Direction:     dir,
				Kind:          MovementAdjustment,
				Quantity:      qty,
				QuantityAfter: rec.Quantity,
				RefModule:     "inventory",
				RefID:         shared.LedgerRowKey(rec.BranchID, rec.SKU),
				ActorID:       actor.ID,
				Note:          input.Note,
				CreatedAt:     s.now(),
			}); err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	s.record(ctx, actor, "inventory:adjust", out, map[string]any{
		"quantity":  out.Quantity,
		"min_stock": out.MinStock,
		"max_stock": out.MaxStock,
		"status":    out.Status,
		"note":      input.Note,
	})
	return out, nil
}

// SetBinStock records the counted quantity of a warehouse location.
func (s *Service) SetBinStock(ctx context.Context, input BinInput, actor shared.Actor) error {
	if err := shared.ValidateStruct(input); err != nil {
		return err
	}
	if !canAdjust(actor) {
		return errAdjustForbidden
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpsertLocation(ctx, LocationStock{
			BranchID:     input.BranchID,
			LocationCode: input.LocationCode,
			SKU:          input.SKU,
			Quantity:     input.Quantity,
		})
	})
}

// GetRecord returns one ledger row.
func (s *Service) GetRecord(ctx context.Context, branchID int64, sku string) (Record, error) {
	rec, err := s.repo.GetRecord(ctx, branchID, sku)
	if err != nil {
		return Record{}, fmt.Errorf("inventory: get %d/%s: %w", branchID, sku, err)
	}
	return rec, nil
}

// ListBranch returns the ledger of one branch.
func (s *Service) ListBranch(ctx context.Context, branchID int64) ([]Record, error) {
	return s.repo.ListBranch(ctx, branchID)
}

// ListMovements pages through the movement log.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, rec Record, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "inventory_record",
		EntityID: shared.LedgerRowKey(rec.BranchID, rec.SKU),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("inventory audit", slog.Any("error", err))
	}
}
