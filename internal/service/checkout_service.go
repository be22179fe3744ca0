package service

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"storefront-service/config"
	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// checkoutStore is the slice of the store checkout drives.
type checkoutStore interface {
	FailStalePendingOrders(ctx context.Context, userID int64, cutoff time.Time) (int64, error)
	GetReusablePendingOrder(ctx context.Context, userID int64, cutoff time.Time) (*models.Order, error)
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderLineItem) error
	DeleteOrder(ctx context.Context, orderID int64) error
	SetGatewaySession(ctx context.Context, orderID int64, sessionID string) error
	GetOrderForUser(ctx context.Context, orderNumber string, userID int64) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	GetLineItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderLineItem, error)
	EntitledProductIDs(ctx context.Context, userID int64, productIDs []int64) ([]int64, error)
	ApplyFailed(ctx context.Context, orderID int64, sessionID string) (bool, error)
}

// checkoutCart is the slice of the cart service checkout needs.
type checkoutCart interface {
	ProductIDs(ctx context.Context, sessionID string) ([]int64, error)
	Prune(ctx context.Context, sessionID string, productIDs []int64) error
}

// checkoutPublisher emits order lifecycle events.
type checkoutPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
}

// CheckoutService turns a session cart into a pending order with a gateway
// checkout session, and handles the user-facing return legs.
type CheckoutService struct {
	store      checkoutStore
	cart       checkoutCart
	products   productReader
	pricer     pricer
	gateway    gateway.CheckoutGateway
	reconciler *Reconciler
	publisher  checkoutPublisher
	timing     config.BusinessConfig
	logger     *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	st checkoutStore,
	cart checkoutCart,
	products productReader,
	pricer pricer,
	gw gateway.CheckoutGateway,
	reconciler *Reconciler,
	publisher checkoutPublisher,
	timing config.BusinessConfig,
) *CheckoutService {
	return &CheckoutService{
		store:      st,
		cart:       cart,
		products:   products,
		pricer:     pricer,
		gateway:    gw,
		reconciler: reconciler,
		publisher:  publisher,
		timing:     timing,
		logger:     util.GetLogger(),
	}
}

// CheckoutResult tells the handler where to send the user.
type CheckoutResult struct {
	Order       *models.Order `json:"order"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	// Reused is true when a recent pending order's open session was handed
	// back instead of creating a duplicate.
	Reused bool `json:"reused"`
	// AlreadyPaid is true when the recent pending order turned out to be paid
	// at the gateway; the user goes to the success page, not to payment.
	AlreadyPaid bool `json:"already_paid"`
}

// Begin starts a checkout for the viewer's session cart. It sweeps stale
// pending orders first, reuses a live recent session when one exists, and
// otherwise snapshots the cart into a new pending order with frozen prices
// before creating the gateway session.
func (cs *CheckoutService) Begin(ctx context.Context, viewer models.Viewer, sessionID string) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Begin")
	defer span.End()

	if !viewer.Authenticated() {
		return nil, models.ErrLoginRequired
	}

	now := time.Now()
	swept, err := cs.store.FailStalePendingOrders(ctx, viewer.UserID, now.Add(-cs.timing.StalePendingAge))
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale orders: %w", err)
	}
	if swept > 0 {
		util.OrdersSweptTotal.Add(float64(swept))
		cs.logger.Info("Swept stale pending orders",
			zap.Int64("user_id", viewer.UserID), zap.Int64("count", swept))
	}

	if result, ok, err := cs.tryReuse(ctx, viewer, now); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	items, total, productIDs, err := cs.snapshotCart(ctx, viewer, sessionID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderNumber: newOrderNumber(),
		UserID:      sql.NullInt64{Int64: viewer.UserID, Valid: true},
		Status:      models.OrderStatusPending,
		Total:       total,
	}
	if err := cs.store.CreateOrderWithItems(ctx, order, items); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	util.OrdersCreatedTotal.Inc()

	session, err := cs.gateway.CreateCheckoutSession(ctx, order, items)
	if err != nil {
		util.GatewayErrorsTotal.WithLabelValues("create_session").Inc()
		// No session means no way to pay; leave no half-started order behind.
		if delErr := cs.store.DeleteOrder(ctx, order.ID); delErr != nil {
			cs.logger.Error("Failed to roll back order after gateway error",
				zap.Int64("order_id", order.ID), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	util.CheckoutSessionsCreatedTotal.Inc()

	if err := cs.store.SetGatewaySession(ctx, order.ID, session.ID); err != nil {
		return nil, fmt.Errorf("failed to store session id: %w", err)
	}
	order.GatewaySessionID = sql.NullString{String: session.ID, Valid: true}

	cs.publishCreated(ctx, order, items)
	cs.logger.Info("Checkout started",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("items", len(productIDs)),
		zap.Int64("total", total))

	return &CheckoutResult{Order: order, RedirectURL: session.URL}, nil
}

// tryReuse checks for a recent pending order and resolves it against the
// gateway. A gateway read failure falls through to a fresh checkout; reuse is
// an optimization, never a requirement.
func (cs *CheckoutService) tryReuse(ctx context.Context, viewer models.Viewer, now time.Time) (*CheckoutResult, bool, error) {
	order, err := cs.store.GetReusablePendingOrder(ctx, viewer.UserID, now.Add(-cs.timing.ReuseWindow))
	if err != nil {
		return nil, false, err
	}
	if order == nil {
		return nil, false, nil
	}

	session, err := cs.gateway.RetrieveSession(ctx, order.GatewaySessionID.String)
	if err != nil {
		util.GatewayErrorsTotal.WithLabelValues("retrieve_session").Inc()
		cs.logger.Warn("Failed to resolve reusable session, starting fresh checkout",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, false, nil
	}

	switch {
	case session.PaymentStatus == gateway.PaymentStatusPaid:
		if _, err := cs.reconciler.ConfirmSessionPaid(ctx, order, session); err != nil {
			return nil, false, err
		}
		return &CheckoutResult{Order: order, AlreadyPaid: true}, true, nil

	case session.Status == gateway.SessionStatusOpen && session.URL != "":
		util.OrdersReusedTotal.Inc()
		cs.logger.Info("Reusing pending checkout session",
			zap.Int64("order_id", order.ID),
			zap.String("session_id", session.ID))
		return &CheckoutResult{Order: order, RedirectURL: session.URL, Reused: true}, true, nil

	default:
		// Session died at the gateway; fail the order and start over.
		if err := cs.failOrder(ctx, order, session.ID, FailReasonSessionExpired); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
}

// snapshotCart loads the session cart, drops anything no longer purchasable or
// already owned, and freezes the survivors into line items at their current
// discounted price.
func (cs *CheckoutService) snapshotCart(ctx context.Context, viewer models.Viewer, sessionID string) ([]models.OrderLineItem, int64, []int64, error) {
	ids, err := cs.cart.ProductIDs(ctx, sessionID)
	if err != nil {
		return nil, 0, nil, err
	}
	if len(ids) == 0 {
		return nil, 0, nil, models.ErrEmptyCart
	}

	products, err := cs.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, nil, err
	}

	owned, err := cs.store.EntitledProductIDs(ctx, viewer.UserID, ids)
	if err != nil {
		return nil, 0, nil, err
	}
	ownedSet := make(map[int64]bool, len(owned))
	for _, id := range owned {
		ownedSet[id] = true
	}

	var (
		items      []models.OrderLineItem
		productIDs []int64
		dropped    []int64
		total      int64
	)
	for i := range products {
		product := &products[i]
		if !product.Purchasable() || ownedSet[product.ID] {
			dropped = append(dropped, product.ID)
			continue
		}

		price, err := cs.pricer.DiscountedPrice(ctx, product)
		if err != nil {
			return nil, 0, nil, err
		}

		items = append(items, models.OrderLineItem{
			ProductID:    sql.NullInt64{Int64: product.ID, Valid: true},
			ProductTitle: product.Title,
			ProductPrice: price,
			Quantity:     1,
			LineTotal:    price,
		})
		productIDs = append(productIDs, product.ID)
		total += price
	}

	if len(dropped) > 0 {
		if err := cs.cart.Prune(ctx, sessionID, dropped); err != nil {
			cs.logger.Warn("Failed to prune cart before checkout", zap.Error(err))
		}
	}
	if len(items) == 0 {
		return nil, 0, nil, models.ErrEmptyCart
	}

	return items, total, productIDs, nil
}

// SuccessResult is the outcome of the return-from-gateway success leg.
type SuccessResult struct {
	Order *models.Order `json:"order"`
	// Confirmed is true when the order is paid, whether the webhook got there
	// first or this visit confirmed it against the gateway.
	Confirmed bool `json:"confirmed"`
}

// Success handles the user's return to the success URL. The webhook remains
// the source of truth; this leg only confirms against the gateway when the
// webhook has not landed yet, and repairs grants when it has.
func (cs *CheckoutService) Success(ctx context.Context, viewer models.Viewer, orderNumber, sessionID string) (*SuccessResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Success")
	defer span.End()

	if !viewer.Authenticated() {
		return nil, models.ErrLoginRequired
	}

	order, err := cs.store.GetOrderForUser(ctx, orderNumber, viewer.UserID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusPaid:
		if _, err := cs.reconciler.EnsureConsistency(ctx, order); err != nil {
			return nil, err
		}
		cs.clearPurchased(ctx, sessionID, order.ID)
		return &SuccessResult{Order: order, Confirmed: true}, nil

	case models.OrderStatusPending:
		if !order.GatewaySessionID.Valid || order.GatewaySessionID.String == "" {
			return &SuccessResult{Order: order}, nil
		}

		session, err := cs.gateway.RetrieveSession(ctx, order.GatewaySessionID.String)
		if err != nil {
			util.GatewayErrorsTotal.WithLabelValues("retrieve_session").Inc()
			return &SuccessResult{Order: order}, nil
		}
		if session.PaymentStatus != gateway.PaymentStatusPaid {
			return &SuccessResult{Order: order}, nil
		}

		result, err := cs.reconciler.ConfirmSessionPaid(ctx, order, session)
		if err != nil {
			return nil, err
		}
		cs.clearPurchased(ctx, sessionID, order.ID)
		return &SuccessResult{Order: &result.Order, Confirmed: !result.TerminalFailed}, nil

	default:
		return &SuccessResult{Order: order}, nil
	}
}

// Cancel handles the user's return to the cancel URL: the most recent pending
// order inside the cancel window is failed. The cart is untouched, so the user
// can try again.
func (cs *CheckoutService) Cancel(ctx context.Context, viewer models.Viewer) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Cancel")
	defer span.End()

	if !viewer.Authenticated() {
		return nil, models.ErrLoginRequired
	}

	order, err := cs.store.GetReusablePendingOrder(ctx, viewer.UserID, time.Now().Add(-cs.timing.CancelWindow))
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	if err := cs.failOrder(ctx, order, "", FailReasonCancelled); err != nil {
		return nil, err
	}
	return order, nil
}

// Orders lists the viewer's order history, newest first
func (cs *CheckoutService) Orders(ctx context.Context, viewer models.Viewer) ([]models.Order, error) {
	if !viewer.Authenticated() {
		return nil, models.ErrLoginRequired
	}
	return cs.store.GetOrdersByUserID(ctx, viewer.UserID)
}

// OrderDetail loads one of the viewer's orders with its line items
func (cs *CheckoutService) OrderDetail(ctx context.Context, viewer models.Viewer, orderNumber string) (*models.Order, []models.OrderLineItem, error) {
	if !viewer.Authenticated() {
		return nil, nil, models.ErrLoginRequired
	}

	order, err := cs.store.GetOrderForUser(ctx, orderNumber, viewer.UserID)
	if err != nil {
		return nil, nil, err
	}
	items, err := cs.store.GetLineItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

func (cs *CheckoutService) failOrder(ctx context.Context, order *models.Order, sessionID, reason string) error {
	applied, err := cs.store.ApplyFailed(ctx, order.ID, sessionID)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	util.OrdersFailedTotal.WithLabelValues(reason).Inc()
	event := &models.OrderFailedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderFailed),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Reason:      reason,
	}
	if err := cs.publisher.PublishOrderFailed(ctx, event); err != nil {
		cs.logger.Error("Failed to publish OrderFailed event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return nil
}

func (cs *CheckoutService) clearPurchased(ctx context.Context, sessionID string, orderID int64) {
	items, err := cs.store.GetLineItemsByOrderID(ctx, orderID)
	if err != nil {
		cs.logger.Warn("Failed to load line items for cart cleanup",
			zap.Int64("order_id", orderID), zap.Error(err))
		return
	}

	var ids []int64
	for _, item := range items {
		if item.ProductID.Valid {
			ids = append(ids, item.ProductID.Int64)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := cs.cart.Prune(ctx, sessionID, ids); err != nil {
		cs.logger.Warn("Failed to clear purchased items from cart",
			zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (cs *CheckoutService) publishCreated(ctx context.Context, order *models.Order, items []models.OrderLineItem) {
	data := make([]models.OrderLineItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderLineItemData{
			ProductID:    item.ProductID.Int64,
			ProductTitle: item.ProductTitle,
			ProductPrice: item.ProductPrice,
			Quantity:     item.Quantity,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID.Int64,
		Total:       order.Total,
		Items:       data,
	}
	if err := cs.publisher.PublishOrderCreated(ctx, event); err != nil {
		cs.logger.Error("Failed to publish OrderCreated event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// newOrderNumber generates the opaque identifier exposed in URLs and gateway
// metadata: 16 uppercase hex characters derived from a random UUID.
func newOrderNumber() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:]))[:16]
}
