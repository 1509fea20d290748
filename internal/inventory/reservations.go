package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LedgerTx is the transaction-bound view of the branch ledger. Callers obtain one
// from the transaction that also persists the business document.
type LedgerTx interface {
	GetRecordForUpdate(ctx context.Context, branchID int64, sku string) (Record, error)
	SaveRecord(ctx context.Context, rec Record) error
	InsertMovement(ctx context.Context, m Movement) error
}

// Reservations implements reserve, release and deduct against a LedgerTx.
// It holds no state and never opens transactions of its own.
type Reservations struct {
	now func() time.Time
}

// NewReservations constructs the reservation service.
func NewReservations() *Reservations {
	return &Reservations{now: func() time.Time { return time.Now().UTC() }}
}

// Reserve holds stock for every line or for none of them.
func (s *Reservations) Reserve(ctx context.Context, tx LedgerTx, branchID int64, lines []Line) error {
	merged, err := MergeLines(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		rec, err := tx.GetRecordForUpdate(ctx, branchID, line.SKU)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return ErrInsufficientStock.Detail("sku %s not stocked at branch %d", line.SKU, branchID)
			}
			return fmt.Errorf("inventory: load %s: %w", line.SKU, err)
		}
		rec.Normalize()
		if rec.Status == StatusDiscontinued || rec.Available < line.Quantity {
			return ErrInsufficientStock.Detail("sku %s at branch %d: available %d, requested %d", line.SKU, branchID, rec.Available, line.Quantity)
		}
		rec.Reserved += line.Quantity
		if err := s.save(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Release returns held stock, flooring reserved at zero so retried cancels are harmless.
func (s *Reservations) Release(ctx context.Context, tx LedgerTx, branchID int64, lines []Line) error {
	merged, err := MergeLines(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		rec, err := tx.GetRecordForUpdate(ctx, branchID, line.SKU)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				continue
			}
			return fmt.Errorf("inventory: load %s: %w", line.SKU, err)
		}
		rec.Reserved -= line.Quantity
		if rec.Reserved < 0 {
			rec.Reserved = 0
		}
		if err := s.save(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Deduct consumes sold stock: quantity and reserved drop together and a SALE
// movement is logged. Callers guard against running it twice for one order.
func (s *Reservations) Deduct(ctx context.Context, tx LedgerTx, branchID int64, lines []Line, ref Ref) error {
	return s.consume(ctx, tx, branchID, lines, MovementSale, ref, false)
}

// Dispatch consumes stock leaving the branch on a transfer. Unlike Deduct the
// full quantity must already be reserved.
func (s *Reservations) Dispatch(ctx context.Context, tx LedgerTx, branchID int64, lines []Line, ref Ref) error {
	return s.consume(ctx, tx, branchID, lines, MovementTransferOut, ref, true)
}

// Receive adds inbound transfer stock, creating the ledger row when missing.
func (s *Reservations) Receive(ctx context.Context, tx LedgerTx, branchID int64, lines []Line, ref Ref) error {
	return s.add(ctx, tx, branchID, lines, MovementTransferIn, ref)
}

// Restock puts returned goods back on hand after a sale was deducted.
func (s *Reservations) Restock(ctx context.Context, tx LedgerTx, branchID int64, lines []Line, ref Ref) error {
	return s.add(ctx, tx, branchID, lines, MovementReturnIn, ref)
}

func (s *Reservations) consume(ctx context.Context, tx LedgerTx, branchID int64, lines []Line, kind MovementKind, ref Ref, requireReserved bool) error {
	merged, err := MergeLines(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		rec, err := tx.GetRecordForUpdate(ctx, branchID, line.SKU)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return ErrInsufficientStock.Detail("sku %s not stocked at branch %d", line.SKU, branchID)
			}
			return fmt.Errorf("inventory: load %s: %w", line.SKU, err)
		}
		if rec.Quantity < line.Quantity {
			return ErrInsufficientStock.Detail("sku %s at branch %d: quantity %d, requested %d", line.SKU, branchID, rec.Quantity, line.Quantity)
		}
		if requireReserved && rec.Reserved < line.Quantity {
			return ErrInsufficientStock.Detail("sku %s at branch %d: reserved %d, requested %d", line.SKU, branchID, rec.Reserved, line.Quantity)
		}
		rec.Quantity -= line.Quantity
		rec.Reserved -= line.Quantity
		if rec.Reserved < 0 {
			rec.Reserved = 0
		}
		if err := s.save(ctx, tx, rec); err != nil {
			return err
		}
		if err := s.log(ctx, tx, rec, DirectionOut, kind, line.Quantity, ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Reservations) add(ctx context.Context, tx LedgerTx, branchID int64, lines []Line, kind MovementKind, ref Ref) error {
	merged, err := MergeLines(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		rec, err := tx.GetRecordForUpdate(ctx, branchID, line.SKU)
		if err != nil {
			if !errors.Is(err, ErrRecordNotFound) {
				return fmt.Errorf("inventory: load %s: %w", line.SKU, err)
			}
			rec = Record{BranchID: branchID, SKU: line.SKU}
		}
		rec.Quantity += line.Quantity
		if err := s.save(ctx, tx, rec); err != nil {
			return err
		}
		if err := s.log(ctx, tx, rec, DirectionIn, kind, line.Quantity, ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Reservations) save(ctx context.Context, tx LedgerTx, rec Record) error {
	rec.Normalize()
	if err := rec.Check(); err != nil {
		return err
	}
	rec.UpdatedAt = s.now()
	if err := tx.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("inventory: save %s: %w", rec.SKU, err)
	}
	return nil
}

func (s *Reservations) log(ctx context.Context, tx LedgerTx, rec Record, dir Direction, kind MovementKind, qty int64, ref Ref) error {
	m := Movement{
		BranchID:      rec.BranchID,
		SKU:           rec.SKU,
		Direction:     dir,
		Kind:          kind,
		Quantity:      qty,
		QuantityAfter: rec.Quantity,
		RefModule:     ref.Module,
		RefID:         ref.ID,
		ActorID:       ref.ActorID,
		Note:          ref.Note,
		CreatedAt:     s.now(),
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return fmt.Errorf("inventory: movement %s: %w", rec.SKU, err)
	}
	return nil
}
