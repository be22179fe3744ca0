package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Failure reasons recorded on failed orders and their events.
const (
	FailReasonPaymentFailed  = "payment_failed"
	FailReasonSessionExpired = "session_expired"
	FailReasonStale          = "stale_pending"
	FailReasonCancelled      = "cancelled"
)

// reconcilerStore is the slice of the store the reconciler drives. ApplyPaid
// and ApplyFailed own the row locking; the reconciler never sees a partially
// applied transition.
type reconcilerStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ApplyPaid(ctx context.Context, orderID int64, sessionID, paymentIntentID string) (*store.PaidResult, error)
	ApplyFailed(ctx context.Context, orderID int64, sessionID string) (bool, error)
	BackfillGatewaySession(ctx context.Context, orderID int64, sessionID string) error
}

// eventPublisher emits domain events after the database transition committed.
type eventPublisher interface {
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
	PublishEntitlementGranted(ctx context.Context, event *models.EntitlementGrantedEvent) error
}

// Reconciler applies verified gateway events to local orders. Every handler is
// idempotent: the gateway retries deliveries and may send several event types
// for one payment.
type Reconciler struct {
	store     reconcilerStore
	publisher eventPublisher
	logger    *zap.Logger
}

// NewReconciler creates a new webhook reconciler
func NewReconciler(st reconcilerStore, publisher eventPublisher) *Reconciler {
	return &Reconciler{
		store:     st,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// HandleEvent dispatches one verified webhook event. A nil return means the
// event was consumed and the gateway must not redeliver it; that includes
// events for orders this service has no record of.
func (r *Reconciler) HandleEvent(ctx context.Context, event *gateway.Event) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleEvent")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	obj := event.Data.Object
	order, err := r.resolveOrder(ctx, obj)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	if order == nil {
		r.logger.Warn("Webhook event references unknown order",
			zap.String("event_type", event.Type),
			zap.String("session_id", obj.ID))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "unknown_order").Inc()
		return nil
	}

	switch event.Type {
	case gateway.EventCheckoutCompleted:
		if obj.PaymentStatus == gateway.PaymentStatusPaid {
			err = r.markPaid(ctx, order, obj.ID, obj.PaymentIntent, models.PaidTriggerWebhook)
		} else {
			// Async payment method: completion without funds. Remember the
			// session so the follow-up event can be matched, nothing else.
			err = r.store.BackfillGatewaySession(ctx, order.ID, obj.ID)
		}

	case gateway.EventAsyncPaymentSucceeded:
		err = r.markPaid(ctx, order, obj.ID, obj.PaymentIntent, models.PaidTriggerWebhook)

	case gateway.EventCheckoutExpired:
		err = r.markFailed(ctx, order, obj.ID, FailReasonSessionExpired)

	case gateway.EventAsyncPaymentFailed, gateway.EventPaymentIntentFailed:
		err = r.markFailed(ctx, order, obj.ID, FailReasonPaymentFailed)

	default:
		r.logger.Info("Ignoring unhandled webhook event type",
			zap.String("event_type", event.Type))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	return nil
}

// resolveOrder maps a webhook object to a local order via the order id in
// session metadata, falling back to the order number. Returns nil, nil when
// neither resolves.
func (r *Reconciler) resolveOrder(ctx context.Context, obj gateway.EventObject) (*models.Order, error) {
	if raw := obj.Metadata["order_id"]; raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			order, err := r.store.GetOrderByID(ctx, id)
			if err == nil {
				return order, nil
			}
			if err != models.ErrOrderNotFound {
				return nil, err
			}
		}
	}

	if number := obj.Metadata["order_number"]; number != "" {
		order, err := r.store.GetOrderByNumber(ctx, number)
		if err == nil {
			return order, nil
		}
		if err != models.ErrOrderNotFound {
			return nil, err
		}
	}

	return nil, nil
}

// ConfirmSessionPaid is the success-page fallback: the user came back before
// the webhook arrived, the session was fetched from the gateway, and it reports
// paid. Shares the exact transition routine with the webhook path.
func (r *Reconciler) ConfirmSessionPaid(ctx context.Context, order *models.Order, session *gateway.Session) (*store.PaidResult, error) {
	result, err := r.applyPaid(ctx, order, session.ID, session.PaymentIntentID, models.PaidTriggerSuccessPage)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnsureConsistency re-runs the paid pass for an order already recorded as
// paid, so a grant lost to a crash between the status update and a replayed
// event is repaired the next time the order is looked at.
func (r *Reconciler) EnsureConsistency(ctx context.Context, order *models.Order) (*store.PaidResult, error) {
	return r.applyPaid(ctx, order, order.GatewaySessionID.String, order.GatewayPaymentIntentID.String, models.PaidTriggerSuccessPage)
}

func (r *Reconciler) markPaid(ctx context.Context, order *models.Order, sessionID, paymentIntentID, trigger string) error {
	_, err := r.applyPaid(ctx, order, sessionID, paymentIntentID, trigger)
	return err
}

func (r *Reconciler) applyPaid(ctx context.Context, order *models.Order, sessionID, paymentIntentID, trigger string) (*store.PaidResult, error) {
	result, err := r.store.ApplyPaid(ctx, order.ID, sessionID, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("failed to apply paid transition: %w", err)
	}

	switch {
	case result.TerminalFailed:
		// Failed is terminal. A paid notification for a failed order needs a
		// human, not an automatic resurrection.
		r.logger.Warn("Paid notification for terminally failed order",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.String("session_id", sessionID))
		return result, nil

	case result.Transitioned:
		util.OrdersPaidTotal.WithLabelValues(trigger).Inc()
		r.logger.Info("Order marked paid",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.String("trigger", trigger))
		r.publishPaid(ctx, &result.Order, sessionID, paymentIntentID, trigger)

	case result.AlreadyPaid:
		r.logger.Info("Order already paid, re-asserted entitlements",
			zap.Int64("order_id", order.ID),
			zap.Int("granted", len(result.GrantedProductIDs)))
	}

	r.publishGrants(ctx, &result.Order, result.GrantedProductIDs)
	return result, nil
}

func (r *Reconciler) markFailed(ctx context.Context, order *models.Order, sessionID, reason string) error {
	applied, err := r.store.ApplyFailed(ctx, order.ID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to apply failed transition: %w", err)
	}
	if !applied {
		return nil
	}

	util.OrdersFailedTotal.WithLabelValues(reason).Inc()
	r.logger.Info("Order marked failed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("reason", reason))

	event := &models.OrderFailedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderFailed),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Reason:      reason,
	}
	if err := r.publisher.PublishOrderFailed(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderFailed event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return nil
}

func (r *Reconciler) publishPaid(ctx context.Context, order *models.Order, sessionID, paymentIntentID, trigger string) {
	event := &models.OrderPaidEvent{
		BaseEvent:        newBaseEvent(models.EventTypeOrderPaid),
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		UserID:           order.UserID.Int64,
		Total:            order.Total,
		GatewaySessionID: sessionID,
		PaymentIntentID:  paymentIntentID,
		Trigger:          trigger,
	}
	if err := r.publisher.PublishOrderPaid(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderPaid event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (r *Reconciler) publishGrants(ctx context.Context, order *models.Order, productIDs []int64) {
	for _, productID := range productIDs {
		util.EntitlementsGrantedTotal.Inc()
		event := &models.EntitlementGrantedEvent{
			BaseEvent: newBaseEvent(models.EventTypeEntitlementGranted),
			UserID:    order.UserID.Int64,
			ProductID: productID,
			OrderID:   order.ID,
		}
		if err := r.publisher.PublishEntitlementGranted(ctx, event); err != nil {
			r.logger.Error("Failed to publish EntitlementGranted event",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
