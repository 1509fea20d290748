package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/branches"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/notify"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Repository is the persistence port of the transfer workflow.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, error)
}

// TxRepository is bound to one transaction. Ledger and bin writes commit with
// the transfer row.
type TxRepository interface {
	inventory.LedgerTx
	inventory.PhysicalTx

	GetBranch(ctx context.Context, id int64) (branches.Branch, error)
	NextCode(ctx context.Context, day time.Time) (string, error)
	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	Insert(ctx context.Context, t *Transfer) error
	Save(ctx context.Context, t *Transfer) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Service runs the transfer state machine.
type Service struct {
	repo         Repository
	reservations *inventory.Reservations
	picker       *inventory.Picker
	events       notify.Emitter
	logger       *slog.Logger
	now          func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, events notify.Emitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		reservations: inventory.NewReservations(),
		picker:       inventory.NewPicker(logger),
		events:       events,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func canRequest(r shared.Role) bool {
	return r.IsElevated() || r == shared.RoleStaff || r == shared.RoleWarehouse || r == shared.RoleSystem
}

func canHandle(r shared.Role) bool {
	return r.IsElevated() || r == shared.RoleStaff || r == shared.RoleWarehouse
}

// Request opens a PENDING transfer. No stock is held until approval.
func (s *Service) Request(ctx context.Context, input RequestInput, actor shared.Actor) (Transfer, error) {
	if !canRequest(actor.Role) {
		return Transfer{}, ErrNotPermitted
	}
	if input.FromBranchID == input.ToBranchID && input.FromBranchID != 0 {
		return Transfer{}, ErrSameBranch
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Transfer{}, err
	}
	requested := make([]inventory.Line, 0, len(input.Items))
	for _, it := range input.Items {
		requested = append(requested, inventory.Line{SKU: it.SKU, Quantity: it.Quantity})
	}
	lines, err := inventory.MergeLines(requested)
	if err != nil {
		return Transfer{}, err
	}

	now := s.now()
	var out Transfer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range []int64{input.FromBranchID, input.ToBranchID} {
			b, err := tx.GetBranch(ctx, id)
			if err != nil {
				return err
			}
			if !b.IsActive() {
				return ErrBranchInactive.Detail("%s", b.Code)
			}
		}
		code, err := tx.NextCode(ctx, now)
		if err != nil {
			return err
		}
		out = Transfer{
			Code:         code,
			FromBranchID: input.FromBranchID,
			ToBranchID:   input.ToBranchID,
			Status:       StatusPending,
			Note:         strings.TrimSpace(input.Note),
			RequestedBy:  actor.ID,
			RequestedAt:  now,
			UpdatedAt:    now,
		}
		for _, l := range lines {
			out.Items = append(out.Items, Item{SKU: l.SKU, RequestedQuantity: l.Quantity})
		}
		return tx.Insert(ctx, &out)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.logger.Info("transfer requested",
		slog.Int64("transfer_id", out.ID),
		slog.String("code", out.Code),
		slog.Int64("from_branch", out.FromBranchID),
		slog.Int64("to_branch", out.ToBranchID))
	s.emit(ctx, out, "", actor)
	return out, nil
}

// Approve fixes approved quantities and reserves them at the source.
func (s *Service) Approve(ctx context.Context, id int64, input ApproveInput, actor shared.Actor) (Transfer, error) {
	if !actor.Role.IsElevated() {
		return Transfer{}, ErrNotPermitted
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Transfer{}, err
	}
	caps := make(map[string]int64, len(input.Overrides))
	for _, o := range input.Overrides {
		caps[strings.TrimSpace(o.SKU)] = o.Quantity
	}
	return s.step(ctx, id, actor, "approve", func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if !t.Status.CanApprove() {
			return ErrInvalidState.Detail("cannot approve a %s transfer", t.Status)
		}
		for sku := range caps {
			if !t.hasSKU(sku) {
				return ErrUnknownSKU.Detail("%s", sku)
			}
		}
		var total int64
		for i := range t.Items {
			it := &t.Items[i]
			it.ApprovedQuantity = it.RequestedQuantity
			if limit, ok := caps[it.SKU]; ok {
				it.ApprovedQuantity = min(it.RequestedQuantity, limit)
			}
			total += it.ApprovedQuantity
		}
		if total == 0 {
			return ErrNothingApproved
		}
		if err := s.reservations.Reserve(ctx, tx, t.FromBranchID, t.approvedLines()); err != nil {
			return err
		}
		t.Status = StatusApproved
		t.ApprovedBy = &actor.ID
		t.ApprovedAt = &now
		return nil
	})
}

// Reject closes a PENDING transfer without touching stock.
func (s *Service) Reject(ctx context.Context, id int64, reason string, actor shared.Actor) (Transfer, error) {
	if !actor.Role.IsElevated() {
		return Transfer{}, ErrNotPermitted
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transfer{}, ErrReasonRequired
	}
	return s.step(ctx, id, actor, "reject", func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if !t.Status.CanApprove() {
			return ErrInvalidState.Detail("cannot reject a %s transfer", t.Status)
		}
		t.Status = StatusRejected
		t.RejectReason = reason
		return nil
	})
}

// Ship dispatches reserved stock from the source. Warehouse sources also pick
// from bins; bin shortfalls are reported but never block the shipment.
func (s *Service) Ship(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	if !canHandle(actor.Role) {
		return Transfer{}, ErrNotPermitted
	}
	var mismatches []inventory.PhysicalMismatch
	t, err := s.step(ctx, id, actor, "ship", func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		mismatches = nil
		if !t.Status.CanShip() {
			return ErrInvalidState.Detail("cannot ship a %s transfer", t.Status)
		}
		source, err := tx.GetBranch(ctx, t.FromBranchID)
		if err != nil {
			return err
		}
		ref := s.ref(*t, actor, "ship "+t.Code)
		if err := s.reservations.Dispatch(ctx, tx, t.FromBranchID, t.approvedLines(), ref); err != nil {
			return err
		}
		if source.IsWarehouse() {
			mismatches = s.picker.Pick(ctx, tx, t.FromBranchID, t.approvedLines(), ref)
		}
		t.Status = StatusInTransit
		t.ShippedBy = &actor.ID
		t.ShippedAt = &now
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	for _, m := range mismatches {
		if s.events != nil {
			s.events.Emit(ctx, notify.EventPhysicalMismatch, fmt.Sprintf("branch-%d", m.BranchID), m)
		}
	}
	return t, nil
}

// Receive books arrived stock at the destination. Any shortfall is recorded as
// a discrepancy and leaves the transfer RECEIVED for review; a full receipt
// completes it.
func (s *Service) Receive(ctx context.Context, id int64, input ReceiveInput, actor shared.Actor) (Transfer, error) {
	if !canHandle(actor.Role) {
		return Transfer{}, ErrNotPermitted
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Transfer{}, err
	}
	return s.step(ctx, id, actor, "receive", func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if !t.Status.CanReceive() {
			return ErrInvalidState.Detail("cannot receive a %s transfer", t.Status)
		}
		got := make(map[string]ReceiveLine, len(input.Items))
		for _, l := range input.Items {
			sku := strings.TrimSpace(l.SKU)
			if !t.hasSKU(sku) {
				return ErrUnknownSKU.Detail("%s", sku)
			}
			prev := got[sku]
			l.Quantity += prev.Quantity
			if l.Reason == "" {
				l.Reason = prev.Reason
			}
			got[sku] = l
		}
		t.Discrepancies = nil
		for i := range t.Items {
			it := &t.Items[i]
			line := got[it.SKU]
			if line.Quantity > it.ApprovedQuantity {
				return ErrOverReceipt.Detail("%s: received %d of %d", it.SKU, line.Quantity, it.ApprovedQuantity)
			}
			it.ReceivedQuantity = line.Quantity
			if it.ReceivedQuantity < it.ApprovedQuantity {
				reason := strings.TrimSpace(line.Reason)
				if reason == "" {
					reason = "short receipt"
				}
				t.Discrepancies = append(t.Discrepancies, Discrepancy{
					SKU:      it.SKU,
					Expected: it.ApprovedQuantity,
					Received: it.ReceivedQuantity,
					Reason:   reason,
				})
			}
		}
		if lines := t.receivedLines(); len(lines) > 0 {
			if err := s.reservations.Receive(ctx, tx, t.ToBranchID, lines, s.ref(*t, actor, "receive "+t.Code)); err != nil {
				return err
			}
		}
		t.ReceivedBy = &actor.ID
		t.ReceivedAt = &now
		if len(t.Discrepancies) > 0 {
			t.Status = StatusReceived
			return nil
		}
		t.Status = StatusCompleted
		t.CompletedAt = &now
		return nil
	})
}

// Complete closes a RECEIVED transfer after its discrepancies were reviewed.
func (s *Service) Complete(ctx context.Context, id int64, actor shared.Actor) (Transfer, error) {
	if !actor.Role.IsElevated() {
		return Transfer{}, ErrNotPermitted
	}
	return s.step(ctx, id, actor, "complete", func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if !t.Status.CanComplete() {
			return ErrInvalidState.Detail("cannot complete a %s transfer", t.Status)
		}
		t.Status = StatusCompleted
		t.CompletedAt = &now
		return nil
	})
}

// Cancel calls off a PENDING or APPROVED transfer, releasing any reservation
// before the status flips.
func (s *Service) Cancel(ctx context.Context, id int64, reason string, actor shared.Actor) (Transfer, error) {
	if !canHandle(actor.Role) {
		return Transfer{}, ErrNotPermitted
	}
	reason = strings.TrimSpace(reason)
	return s.step(ctx, id, actor, "cancel", func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if !t.Status.CanCancel() {
			return ErrInvalidState.Detail("cannot cancel a %s transfer", t.Status)
		}
		if t.Status == StatusApproved {
			if !actor.Role.IsElevated() {
				return ErrNotPermitted.Detail("approved transfers are cancelled by a manager")
			}
			if err := s.reservations.Release(ctx, tx, t.FromBranchID, t.approvedLines()); err != nil {
				return err
			}
		}
		t.Status = StatusCancelled
		t.CancelReason = reason
		t.CancelledAt = &now
		return nil
	})
}

// Get loads a transfer.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// List lists transfers touching a branch or in a status.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.List(ctx, filter)
}

// step loads the transfer under lock, applies mutate, checks the quantity
// invariant, saves and audits. The status event is emitted after commit.
func (s *Service) step(ctx context.Context, id int64, actor shared.Actor, action string, mutate func(context.Context, TxRepository, *Transfer, time.Time) error) (Transfer, error) {
	var (
		out  Transfer
		from Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = t.Status
		now := s.now()
		if err := mutate(ctx, tx, &t, now); err != nil {
			return err
		}
		if err := t.checkQuantities(); err != nil {
			return err
		}
		t.UpdatedAt = now
		if err := tx.Save(ctx, &t); err != nil {
			return err
		}
		out = t
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "transfer." + action,
			Entity:   "stock_transfer",
			EntityID: strconv.FormatInt(t.ID, 10),
			Meta:     map[string]any{"code": t.Code, "from": string(from), "to": string(t.Status)},
			At:       now,
		})
	})
	if err != nil {
		return Transfer{}, err
	}
	s.logger.Info("transfer "+action,
		slog.Int64("transfer_id", out.ID),
		slog.String("from", string(from)),
		slog.String("to", string(out.Status)))
	s.emit(ctx, out, from, actor)
	return out, nil
}

func (s *Service) ref(t Transfer, actor shared.Actor, note string) inventory.Ref {
	return inventory.Ref{Module: "transfer", ID: strconv.FormatInt(t.ID, 10), ActorID: actor.ID, Note: note}
}

func (s *Service) emit(ctx context.Context, t Transfer, from Status, actor shared.Actor) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, notify.EventTransferChanged, fmt.Sprintf("transfer-%d", t.ID), map[string]any{
		"transfer_id":   t.ID,
		"code":          t.Code,
		"from_status":   from,
		"status":        t.Status,
		"from_branch":   t.FromBranchID,
		"to_branch":     t.ToBranchID,
		"discrepancies": len(t.Discrepancies),
		"actor_id":      actor.ID,
	})
}

func (t Transfer) hasSKU(sku string) bool {
	for _, it := range t.Items {
		if it.SKU == sku {
			return true
		}
	}
	return false
}
