package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/fulfillment/internal/branches"
	"github.com/odyssey-erp/fulfillment/internal/catalog"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/notify"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Repository is the persistence port of the orchestrator.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
}

// TxRepository exposes everything an order transaction touches. Ledger, catalog
// and branch writes share the transaction so they commit or roll back together.
type TxRepository interface {
	inventory.LedgerTx

	NextOrderNumber(ctx context.Context, src Source, day time.Time) (string, error)
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	FindByTrackingForUpdate(ctx context.Context, tracking string) (Order, error)
	Insert(ctx context.Context, o *Order) error
	Save(ctx context.Context, o *Order) error

	GetVariant(ctx context.Context, sku string) (catalog.Variant, error)
	DecrementStock(ctx context.Context, sku string, qty int64) error
	IncrementStock(ctx context.Context, sku string, qty int64) error

	GetBranch(ctx context.Context, id int64) (branches.Branch, error)
	IncrementOrderCount(ctx context.Context, id int64) error
	DecrementOrderCount(ctx context.Context, id int64) error
	GetShipper(ctx context.Context, id int64) (branches.Shipper, error)

	ClaimExternalEvent(ctx context.Context, key, module string) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives transition outcomes.
type Metrics interface {
	ObserveTransition(source, from, to string, allowed bool)
}

// Option customises Service.
type Option func(*Service)

// WithCarrierTokenHash sets the bcrypt hash carrier webhooks must match.
func WithCarrierTokenHash(hash string) Option {
	return func(s *Service) { s.carrierHash = []byte(hash) }
}

// WithPaymentTokenHash sets the bcrypt hash payment gateway callbacks must match.
func WithPaymentTokenHash(hash string) Option {
	return func(s *Service) { s.paymentHash = []byte(hash) }
}

// WithFlatShippingFee sets the fee charged on home deliveries that do not
// quote their own.
func WithFlatShippingFee(fee decimal.Decimal) Option {
	return func(s *Service) { s.flatFee = fee }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates order mutations and their inventory side effects.
type Service struct {
	repo         Repository
	reservations *inventory.Reservations
	events       notify.Emitter
	metrics      Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	carrierHash  []byte
	paymentHash  []byte
	flatFee      decimal.Decimal
	now          func() time.Time
}

// NewService constructs the orchestrator.
func NewService(repo Repository, events notify.Emitter, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:         repo,
		reservations: inventory.NewReservations(),
		events:       events,
		logger:       logger,
		tracer:       otel.Tracer("github.com/odyssey-erp/fulfillment/internal/orders"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// statusChange is emitted after commit.
type statusChange struct {
	OrderID int64       `json:"order_id"`
	Number  string      `json:"order_number"`
	From    Status      `json:"from"`
	To      Status      `json:"to"`
	Stage   Stage       `json:"stage"`
	ActorID int64       `json:"actor_id"`
	Role    shared.Role `json:"role"`
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "orders."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateOrder validates, prices, routes and persists a new order.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput, actor shared.Actor) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "CreateOrder", attribute.String("source", string(input.Source)))
	defer func() { endSpan(span, err) }()

	if err := shared.ValidateStruct(input); err != nil {
		return Order{}, err
	}
	if !input.Fulfillment.consistentWith(input.Source) {
		return Order{}, ErrFulfillmentMismatch.Detail("%s cannot be fulfilled as %s", input.Source, input.Fulfillment)
	}
	method := PaymentMethod(strings.ToUpper(string(input.PaymentMethod)))
	if !method.Deferred() && !method.CollectedOnHandover() {
		return Order{}, ErrUnknownPayment.Detail("%q", input.PaymentMethod)
	}
	if input.ShippingFee.IsNegative() || input.Discount.IsNegative() || input.PromotionDiscount.IsNegative() {
		return Order{}, ErrNegativeAmount
	}
	if input.BranchID == nil && input.Fulfillment != FulfillmentHomeDelivery {
		return Order{}, ErrBranchRequired.Detail("%s", input.Fulfillment)
	}
	var override *Override
	if input.TotalOverride != nil {
		if !actor.Role.IsElevated() {
			return Order{}, ErrOverrideForbidden
		}
		reason := strings.TrimSpace(input.TotalOverrideReason)
		if reason == "" {
			return Order{}, ErrOverrideReason
		}
		if input.TotalOverride.IsNegative() {
			return Order{}, ErrNegativeAmount
		}
		override = &Override{Amount: *input.TotalOverride, Reason: reason, ActorID: actor.ID}
	}
	requested := make([]inventory.Line, 0, len(input.Items))
	for _, it := range input.Items {
		requested = append(requested, inventory.Line{SKU: it.SKU, Quantity: it.Quantity})
	}
	lines, err := inventory.MergeLines(requested)
	if err != nil {
		return Order{}, err
	}

	customerID := input.CustomerID
	if actor.Role == shared.RoleCustomer {
		customerID = actor.ID
	}
	shipping := input.ShippingFee
	if input.Fulfillment == FulfillmentHomeDelivery && shipping.IsZero() {
		shipping = s.flatFee
	}
	now := s.now()
	base := Order{
		CustomerID:        customerID,
		Source:            input.Source,
		Fulfillment:       input.Fulfillment,
		PaymentMethod:     method,
		PaymentStatus:     PaymentUnpaid,
		ShippingFee:       shipping,
		Discount:          input.Discount,
		PromotionDiscount: input.PromotionDiscount,
		TotalOverride:     override,
		Address:           strings.TrimSpace(input.Address),
		Note:              strings.TrimSpace(input.Note),
		CreatedAt:         now,
	}
	initial := StatusPending
	if method.Deferred() {
		initial = StatusPendingPayment
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order = base
		for _, line := range lines {
			variant, err := tx.GetVariant(ctx, line.SKU)
			if err != nil {
				return err
			}
			if !variant.Active {
				return catalog.ErrVariantInactive.Detail("%s", line.SKU)
			}
			if input.Source == SourceOnline {
				if err := tx.DecrementStock(ctx, line.SKU, line.Quantity); err != nil {
					return err
				}
			}
			order.Items = append(order.Items, Item{
				SKU:         variant.SKU,
				ProductName: variant.ProductName,
				VariantName: variant.VariantName,
				Quantity:    line.Quantity,
				UnitPrice:   variant.Price,
			})
		}
		order.CatalogStockDeducted = input.Source == SourceOnline

		if input.BranchID != nil {
			if err := s.attachBranch(ctx, tx, &order, *input.BranchID); err != nil {
				return err
			}
		}

		number, err := tx.NextOrderNumber(ctx, order.Source, now)
		if err != nil {
			return err
		}
		order.Number = number
		order.Recalculate()
		order.record(initial, actor, "order created", now)
		if err := tx.Insert(ctx, &order); err != nil {
			return err
		}
		if override != nil {
			return tx.RecordAudit(ctx, shared.AuditLog{
				ActorID:  actor.ID,
				Action:   "order.total_override",
				Entity:   "order",
				EntityID: strconv.FormatInt(order.ID, 10),
				Meta: map[string]any{
					"computed_total": order.Total.String(),
					"override":       override.Amount.String(),
					"reason":         override.Reason,
				},
				At: now,
			})
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger.Info("order created",
		slog.Int64("order_id", order.ID),
		slog.String("order_number", order.Number),
		slog.String("status", string(order.Status)))
	s.emit(ctx, notify.EventOrderCreated, order.ID, map[string]any{
		"order_id":     order.ID,
		"order_number": order.Number,
		"status":       order.Status,
		"source":       order.Source,
		"total":        order.PayableTotal().String(),
		"actor_id":     actor.ID,
	})
	return order, nil
}

// attachBranch validates the branch, takes an order slot and reserves stock.
func (s *Service) attachBranch(ctx context.Context, tx TxRepository, order *Order, branchID int64) error {
	branch, err := tx.GetBranch(ctx, branchID)
	if err != nil {
		return err
	}
	if !branch.IsActive() {
		return ErrBranchInactive.Detail("%s", branch.Code)
	}
	if order.Fulfillment == FulfillmentClickAndCollect && !branch.SupportsPickup {
		return ErrPickupNotSupported.Detail("%s", branch.Code)
	}
	if order.Fulfillment == FulfillmentHomeDelivery && !branch.SupportsDelivery {
		return ErrDeliveryNotSupported.Detail("%s", branch.Code)
	}
	if err := tx.IncrementOrderCount(ctx, branch.ID); err != nil {
		return err
	}
	if err := s.reservations.Reserve(ctx, tx, branch.ID, order.Lines()); err != nil {
		return err
	}
	id := branch.ID
	order.BranchID = &id
	order.BranchReserved = true
	return nil
}

// GetOrder loads an order visible to the actor.
func (s *Service) GetOrder(ctx context.Context, id int64, actor shared.Actor) (Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !order.visibleTo(actor) {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// GetOrderStatus returns the status projection and both history logs.
func (s *Service) GetOrderStatus(ctx context.Context, id int64, actor shared.Actor) (StatusView, error) {
	order, err := s.GetOrder(ctx, id, actor)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		OrderID:       order.ID,
		Number:        order.Number,
		Status:        order.Status,
		Stage:         order.Stage,
		PaymentStatus: order.PaymentStatus,
		StatusHistory: order.StatusHistory,
		StageHistory:  order.StageHistory,
	}, nil
}

// ListOrders lists orders. Customers only ever see their own.
func (s *Service) ListOrders(ctx context.Context, filter ListFilter, actor shared.Actor) ([]Order, error) {
	if actor.Role == shared.RoleCustomer {
		filter.CustomerID = actor.ID
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.List(ctx, filter)
}

// UpdateStatus moves an order to target, applying every side effect in one
// transaction.
func (s *Service) UpdateStatus(ctx context.Context, id int64, target string, actor shared.Actor, extras StatusExtras) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "UpdateStatus", attribute.Int64("order_id", id), attribute.String("target", target))
	defer func() { endSpan(span, err) }()

	status, err := ParseStatus(target)
	if err != nil {
		return Order{}, err
	}
	if err := shared.ValidateStruct(extras); err != nil {
		return Order{}, err
	}
	var change *statusChange
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !order.visibleTo(actor) {
			return ErrOrderNotFound
		}
		change, err = s.transition(ctx, tx, &order, status, actor, extras)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	s.emitChange(ctx, change)
	return order, nil
}

// CancelOrder cancels an order. Customers may only cancel their own.
func (s *Service) CancelOrder(ctx context.Context, id int64, actor shared.Actor, reason string) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "CancelOrder", attribute.Int64("order_id", id))
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	var change *statusChange
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actor.Role == shared.RoleCustomer && order.CustomerID != actor.ID {
			return ErrNotOwner
		}
		if reason != "" {
			order.CancelReason = reason
		}
		change, err = s.transition(ctx, tx, &order, StatusCancelled, actor, StatusExtras{Note: reason})
		return err
	})
	if err != nil {
		return Order{}, err
	}
	s.emitChange(ctx, change)
	return order, nil
}

// AssignBranch routes an order to another branch. Stock is released at the old
// branch and reserved at the new one; if the new branch cannot cover the order
// nothing changes.
func (s *Service) AssignBranch(ctx context.Context, id, branchID int64, actor shared.Actor) (order Order, err error) {
	ctx, span := s.startSpan(ctx, "AssignBranch", attribute.Int64("order_id", id), attribute.Int64("branch_id", branchID))
	defer func() { endSpan(span, err) }()

	if !actor.Role.IsElevated() && actor.Role != shared.RoleStaff && actor.Role != shared.RoleSystem {
		return Order{}, ErrAssignNotPermitted
	}
	var previous *int64
	changed := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.BranchID != nil && *order.BranchID == branchID {
			return nil
		}
		if !reassignable(order) {
			return ErrReassignNotAllowed.Detail("order is %s", order.Status)
		}
		previous = order.BranchID
		if previous != nil {
			if order.BranchReserved {
				if err := s.reservations.Release(ctx, tx, *previous, order.Lines()); err != nil {
					return err
				}
				order.BranchReserved = false
			}
			if err := tx.DecrementOrderCount(ctx, *previous); err != nil {
				return err
			}
		}
		if err := s.attachBranch(ctx, tx, &order, branchID); err != nil {
			return err
		}
		order.Shipper = nil
		order.UpdatedAt = s.now()
		if err := tx.Save(ctx, &order); err != nil {
			return err
		}
		changed = true
		meta := map[string]any{"to_branch": branchID}
		if previous != nil {
			meta["from_branch"] = *previous
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "order.branch_assigned",
			Entity:   "order",
			EntityID: strconv.FormatInt(order.ID, 10),
			Meta:     meta,
			At:       order.UpdatedAt,
		})
	})
	if err != nil {
		return Order{}, err
	}
	if changed {
		s.logger.Info("order routed", slog.Int64("order_id", order.ID), slog.Int64("branch_id", branchID))
		s.emit(ctx, notify.EventOrderBranchAssigned, order.ID, map[string]any{
			"order_id":    order.ID,
			"from_branch": previous,
			"to_branch":   branchID,
			"actor_id":    actor.ID,
		})
	}
	return order, nil
}

// reassignable reports whether stock has not yet left the assigned branch.
func reassignable(o Order) bool {
	if o.InventoryDeductedAt != nil {
		return false
	}
	switch o.Stage {
	case StageAwaitingPayment, StageNew, StageConfirmed, StageProcessing:
		return true
	}
	return false
}

// transition applies an authorised status change and its side effects on tx.
// It returns nil change for no-ops.
func (s *Service) transition(ctx context.Context, tx TxRepository, order *Order, target Status, actor shared.Actor, extras StatusExtras) (*statusChange, error) {
	decision := Decide(Request{Source: order.Source, Current: order.Status, Target: target, Role: actor.Role})
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(order.Source), string(order.Status), string(target), decision.Allowed)
	}
	if !decision.Allowed {
		s.logger.Debug("transition denied",
			slog.Int64("order_id", order.ID),
			slog.String("from", string(order.Status)),
			slog.String("to", string(target)),
			slog.String("code", decision.Code))
		return nil, decision.Err()
	}
	if order.Status == target {
		return nil, nil
	}
	if target.needsBranch() && order.BranchID == nil {
		return nil, ErrBranchNotAssigned.Detail("%s", order.Number)
	}
	now := s.now()
	from := order.Status

	if err := s.applyExtras(ctx, tx, order, actor, extras, now); err != nil {
		return nil, err
	}
	ref := inventory.Ref{Module: "order", ID: strconv.FormatInt(order.ID, 10), ActorID: actor.ID, Note: order.Number}

	switch {
	case target.consumesStock():
		if order.InventoryDeductedAt == nil && order.BranchReserved && order.BranchID != nil {
			if err := s.reservations.Deduct(ctx, tx, *order.BranchID, order.Lines(), ref); err != nil {
				return nil, err
			}
			order.BranchReserved = false
			order.InventoryDeductedAt = &now
		}
		if target == StatusCompleted && order.PaymentMethod.CollectedOnHandover() {
			order.PaymentStatus = PaymentPaid
		}
	case target == StatusCancelled || target == StatusReturned:
		if order.BranchID != nil {
			switch {
			case order.BranchReserved:
				if err := s.reservations.Release(ctx, tx, *order.BranchID, order.Lines()); err != nil {
					return nil, err
				}
				order.BranchReserved = false
			case order.InventoryDeductedAt != nil && target == StatusReturned:
				ref.Note = "return " + order.Number
				if err := s.reservations.Restock(ctx, tx, *order.BranchID, order.Lines(), ref); err != nil {
					return nil, err
				}
			}
		}
		if order.CatalogStockDeducted {
			for _, it := range order.Lines() {
				if err := tx.IncrementStock(ctx, it.SKU, it.Quantity); err != nil {
					return nil, err
				}
			}
			order.CatalogStockDeducted = false
		}
		if order.PaymentStatus == PaymentPaid {
			order.PaymentStatus = PaymentRefunded
		}
	}
	if target.IsTerminal() && order.BranchID != nil {
		if err := tx.DecrementOrderCount(ctx, *order.BranchID); err != nil {
			return nil, err
		}
	}

	order.record(target, actor, extras.Note, now)
	order.Recalculate()
	if err := tx.Save(ctx, order); err != nil {
		return nil, err
	}
	return &statusChange{
		OrderID: order.ID,
		Number:  order.Number,
		From:    from,
		To:      target,
		Stage:   order.Stage,
		ActorID: actor.ID,
		Role:    actor.Role,
	}, nil
}

// applyExtras validates and stores shipper, carrier and proof data.
func (s *Service) applyExtras(ctx context.Context, tx TxRepository, order *Order, actor shared.Actor, extras StatusExtras, now time.Time) error {
	if extras.ShipperID != nil {
		shipper, err := tx.GetShipper(ctx, *extras.ShipperID)
		if err != nil {
			return err
		}
		if !shipper.Active {
			return ErrShipperInactive.Detail("shipper %d", shipper.ID)
		}
		if actor.Role != shared.RoleAdmin && (order.BranchID == nil || *order.BranchID != shipper.BranchID) {
			return ErrShipperMismatch.Detail("shipper %d belongs to branch %d", shipper.ID, shipper.BranchID)
		}
		order.Shipper = &ShipperAssignment{ShipperID: shipper.ID, AssignedBy: actor.ID, AssignedAt: now}
	}
	if tracking := strings.TrimSpace(extras.TrackingNumber); tracking != "" {
		if order.Carrier == nil {
			order.Carrier = &CarrierAssignment{}
		}
		order.Carrier.TrackingNumber = tracking
		if extras.Carrier != "" {
			order.Carrier.Carrier = strings.TrimSpace(extras.Carrier)
		}
	}
	if extras.Proof != nil {
		proof := *extras.Proof
		if proof.CapturedAt.IsZero() {
			proof.CapturedAt = now
		}
		order.Proof = &proof
	}
	return nil
}

func (s *Service) emitChange(ctx context.Context, change *statusChange) {
	if change == nil {
		return
	}
	s.logger.Info("order status changed",
		slog.Int64("order_id", change.OrderID),
		slog.String("from", string(change.From)),
		slog.String("to", string(change.To)),
		slog.String("role", string(change.Role)))
	s.emit(ctx, notify.EventOrderStatusChanged, change.OrderID, change)
}

func (s *Service) emit(ctx context.Context, eventType string, orderID int64, payload any) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, eventType, fmt.Sprintf("order-%d", orderID), payload)
}

// isDenied reports decision errors that a replayed external event may hit
// without being a fault.
func isDenied(err error) bool {
	code := shared.ErrorCode(err)
	return errors.Is(err, shared.ErrConflict) && (code == CodeTransitionNotAllowed || code == CodeTerminalStatus)
}
