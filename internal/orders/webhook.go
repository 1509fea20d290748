package orders

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Idempotency modules for externally keyed events.
const (
	moduleCarrier = "carrier"
	modulePayment = "payment"
)

var carrierStatuses = map[string]Status{
	"PICKED_UP":          StatusShipping,
	"IN_TRANSIT":         StatusShipping,
	"OUT_FOR_DELIVERY":   StatusOutForDelivery,
	"DELIVERED":          StatusDelivered,
	"DELIVERY_FAILED":    StatusDeliveryFailed,
	"FAILED_ATTEMPT":     StatusDeliveryFailed,
	"RETURNED":           StatusReturned,
	"RETURNED_TO_SENDER": StatusReturned,
}

// CarrierStatus maps a carrier event type onto an order status.
func CarrierStatus(eventType string) (Status, bool) {
	key := strings.NewReplacer("-", "_", " ", "_").Replace(upper.String(strings.TrimSpace(eventType)))
	status, ok := carrierStatuses[key]
	return status, ok
}

// VerifyCarrierToken checks a shared secret against the configured hash.
func (s *Service) VerifyCarrierToken(token string) error {
	if len(s.carrierHash) == 0 || token == "" {
		return ErrInvalidCarrierToken
	}
	if err := bcrypt.CompareHashAndPassword(s.carrierHash, []byte(token)); err != nil {
		return ErrInvalidCarrierToken
	}
	return nil
}

// HandlePaymentCallback verifies the gateway secret and applies res as the
// system actor.
func (s *Service) HandlePaymentCallback(ctx context.Context, token string, res PaymentResult) (Order, bool, error) {
	if len(s.paymentHash) == 0 || token == "" {
		return Order{}, false, ErrInvalidPaymentToken
	}
	if err := bcrypt.CompareHashAndPassword(s.paymentHash, []byte(token)); err != nil {
		return Order{}, false, ErrInvalidPaymentToken
	}
	return s.ApplyPaymentResult(ctx, res, shared.SystemActor)
}

// HandleCarrierWebhook applies a carrier event. Each event id is applied at most
// once; replays return the current order flagged as a duplicate. Events that
// arrive after the order has moved past them are acknowledged but not applied.
func (s *Service) HandleCarrierWebhook(ctx context.Context, token string, evt CarrierEvent) (result WebhookResult, err error) {
	ctx, span := s.startSpan(ctx, "HandleCarrierWebhook", attribute.String("event_id", evt.EventID), attribute.String("event_type", evt.EventType))
	defer func() { endSpan(span, err) }()

	if err := s.VerifyCarrierToken(token); err != nil {
		return WebhookResult{}, err
	}
	if err := shared.ValidateStruct(evt); err != nil {
		return WebhookResult{}, err
	}
	target, ok := CarrierStatus(evt.EventType)
	if !ok {
		return WebhookResult{}, ErrUnknownCarrierEvent.Detail("%q", evt.EventType)
	}

	var change *statusChange
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = WebhookResult{}
		change = nil
		order, err := tx.FindByTrackingForUpdate(ctx, strings.TrimSpace(evt.TrackingNumber))
		if err != nil {
			return err
		}
		result.Order = order
		if err := tx.ClaimExternalEvent(ctx, evt.EventID, moduleCarrier); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				result.Duplicate = true
				return nil
			}
			return err
		}

		at := s.now()
		if order.Carrier == nil {
			order.Carrier = &CarrierAssignment{TrackingNumber: evt.TrackingNumber}
		}
		order.Carrier.LastEventID = evt.EventID
		order.Carrier.LastWebhookAt = &at

		change, err = s.transition(ctx, tx, &order, target, shared.SystemActor, StatusExtras{
			Proof: evt.Proof,
			Note:  "carrier " + strings.ToLower(evt.EventType),
		})
		switch {
		case err == nil && change == nil:
			// Already at target; keep the carrier bookkeeping.
			if err := tx.Save(ctx, &order); err != nil {
				return err
			}
		case isDenied(err):
			s.logger.Warn("carrier event not applicable",
				slog.String("event_id", evt.EventID),
				slog.Int64("order_id", order.ID),
				slog.String("status", string(order.Status)),
				slog.String("target", string(target)))
			result.Ignored = true
			if err := tx.Save(ctx, &order); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		result.Order = order
		return nil
	})
	if err != nil {
		return WebhookResult{}, err
	}
	if result.Duplicate {
		s.logger.Info("carrier event replayed", slog.String("event_id", evt.EventID), slog.Int64("order_id", result.Order.ID))
		return result, nil
	}
	s.emitChange(ctx, change)
	return result, nil
}

// ApplyPaymentResult records a gateway outcome. It is idempotent by reference.
func (s *Service) ApplyPaymentResult(ctx context.Context, res PaymentResult, actor shared.Actor) (order Order, duplicate bool, err error) {
	ctx, span := s.startSpan(ctx, "ApplyPaymentResult", attribute.Int64("order_id", res.OrderID), attribute.String("outcome", res.Outcome))
	defer func() { endSpan(span, err) }()

	if actor.Role != shared.RoleSystem && !actor.Role.IsElevated() {
		return Order{}, false, ErrPaymentNotPermitted
	}
	if err := shared.ValidateStruct(res); err != nil {
		return Order{}, false, err
	}
	outcome := strings.ToLower(strings.TrimSpace(res.Outcome))
	if outcome != PaymentOutcomePaid && outcome != PaymentOutcomeFailed {
		return Order{}, false, ErrUnknownPaymentState.Detail("%q", res.Outcome)
	}

	var change *statusChange
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		duplicate = false
		change = nil
		order, err = tx.GetForUpdate(ctx, res.OrderID)
		if err != nil {
			return err
		}
		if err := tx.ClaimExternalEvent(ctx, res.Reference, modulePayment); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				duplicate = true
				return nil
			}
			return err
		}
		system := shared.Actor{ID: actor.ID, Role: shared.RoleSystem}
		switch outcome {
		case PaymentOutcomePaid:
			order.PaymentRef = res.Reference
			order.PaymentStatus = PaymentPaid
			switch order.Status {
			case StatusPendingPayment:
				change, err = s.transition(ctx, tx, &order, StatusPending, system, StatusExtras{Note: "payment " + res.Reference})
				return err
			case StatusCancelled, StatusReturned:
				order.PaymentStatus = PaymentRefunded
			}
		case PaymentOutcomeFailed:
			if order.PaymentStatus == PaymentPaid || order.PaymentStatus == PaymentRefunded {
				s.logger.Warn("payment failure after settlement ignored",
					slog.Int64("order_id", order.ID),
					slog.String("reference", res.Reference),
					slog.String("payment_status", string(order.PaymentStatus)))
				return nil
			}
			order.PaymentRef = res.Reference
			order.PaymentStatus = PaymentFailed
			if order.Status == StatusPendingPayment {
				order.CancelReason = "payment failed"
				change, err = s.transition(ctx, tx, &order, StatusCancelled, system, StatusExtras{Note: "payment failed " + res.Reference})
				return err
			}
		}
		order.UpdatedAt = s.now()
		return tx.Save(ctx, &order)
	})
	if err != nil {
		return Order{}, false, err
	}
	s.logger.Info("payment result applied",
		slog.Int64("order_id", order.ID),
		slog.String("outcome", outcome),
		slog.Bool("duplicate", duplicate))
	s.emitChange(ctx, change)
	return order, duplicate, nil
}
