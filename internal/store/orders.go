package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// PaidResult reports what a single mark-paid-and-grant pass actually changed.
type PaidResult struct {
	Order models.Order
	// Transitioned is true when this call moved the order pending -> paid.
	Transitioned bool
	// AlreadyPaid is true when the order was paid before this call; the pass
	// still backfills blank gateway ids and re-asserts entitlements.
	AlreadyPaid bool
	// TerminalFailed is true when the order was already failed; failed is
	// terminal, so nothing was changed.
	TerminalFailed bool
	// GrantedProductIDs lists products whose entitlement row was created by
	// this call. Replayed events leave it empty.
	GrantedProductIDs []int64
}

// CreateOrderWithItems persists an order and its frozen line items as one
// atomic unit.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderLineItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (order_number, user_id, status, total)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	if err := tx.GetContext(ctx, order, query,
		order.OrderNumber, order.UserID, order.Status, order.Total); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_line_items (order_id, product_id, product_title, product_price, quantity, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].ProductTitle,
			items[i].ProductPrice, items[i].Quantity, items[i].LineTotal); err != nil {
			return fmt.Errorf("failed to create line item: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteOrder removes an order and its line items. Used to roll back a
// checkout attempt whose gateway session could not be created.
func (s *Store) DeleteOrder(ctx context.Context, orderID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_line_items WHERE order_id = $1", orderID); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its opaque order number
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_number = $1", orderNumber)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUser retrieves an order by number, scoped to its owner
func (s *Store) GetOrderForUser(ctx context.Context, orderNumber string, userID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE order_number = $1 AND user_id = $2", orderNumber, userID)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetLineItemsByOrderID retrieves all line items for an order
func (s *Store) GetLineItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_line_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// FailStalePendingOrders marks the user's pending orders older than cutoff as
// failed. Runs lazily at checkout time; there is no background sweeper.
func (s *Store) FailStalePendingOrders(ctx context.Context, userID int64, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE user_id = $2 AND status = $3 AND created_at < $4`,
		models.OrderStatusFailed, userID, models.OrderStatusPending, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetReusablePendingOrder returns the user's newest pending order created
// after cutoff that already holds a gateway session, if any. Guards against
// double-submit creating two orders.
func (s *Store) GetReusablePendingOrder(ctx context.Context, userID int64, cutoff time.Time) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT * FROM orders
		WHERE user_id = $1 AND status = $2 AND created_at >= $3
		  AND gateway_session_id IS NOT NULL AND gateway_session_id <> ''
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, models.OrderStatusPending, cutoff)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetGatewaySession stores the gateway session id on a freshly created order
func (s *Store) SetGatewaySession(ctx context.Context, orderID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET gateway_session_id = $1, updated_at = NOW() WHERE id = $2",
		sessionID, orderID)
	return err
}

// BackfillGatewaySession fills a blank gateway session id under the order row
// lock. Existing values are never overwritten.
func (s *Store) BackfillGatewaySession(ctx context.Context, orderID int64, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var order models.Order
	if err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID); err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if order.GatewaySessionID.Valid && order.GatewaySessionID.String != "" {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET gateway_session_id = $1, updated_at = NOW() WHERE id = $2",
		sessionID, orderID); err != nil {
		return fmt.Errorf("failed to backfill session id: %w", err)
	}

	return tx.Commit()
}

// ApplyPaid is the single mark-paid-and-grant routine invoked from both the
// webhook path and the success-page fallback. The order row is locked for the
// whole status-check, backfill, and grant sequence, so concurrent invocations
// serialize per order and the loser observes already-applied state.
func (s *Store) ApplyPaid(ctx context.Context, orderID int64, sessionID, paymentIntentID string) (*PaidResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	result := &PaidResult{}

	switch order.Status {
	case models.OrderStatusFailed:
		// Failed is terminal; a late paid event must not resurrect the order.
		result.Order = order
		result.TerminalFailed = true
		return result, tx.Commit()

	case models.OrderStatusPaid:
		result.AlreadyPaid = true
		if err := s.backfillGatewayIDsTx(ctx, tx, &order, sessionID, paymentIntentID); err != nil {
			return nil, err
		}

	default:
		order.Status = models.OrderStatusPaid
		if sessionID != "" && (!order.GatewaySessionID.Valid || order.GatewaySessionID.String == "") {
			order.GatewaySessionID = sql.NullString{String: sessionID, Valid: true}
		}
		if paymentIntentID != "" && (!order.GatewayPaymentIntentID.Valid || order.GatewayPaymentIntentID.String == "") {
			order.GatewayPaymentIntentID = sql.NullString{String: paymentIntentID, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, gateway_session_id = $2, gateway_payment_intent_id = $3, updated_at = NOW()
			WHERE id = $4`,
			order.Status, order.GatewaySessionID, order.GatewayPaymentIntentID, order.ID); err != nil {
			return nil, fmt.Errorf("failed to mark order paid: %w", err)
		}
		result.Transitioned = true
	}

	granted, err := s.grantAllForOrderTx(ctx, tx, &order)
	if err != nil {
		return nil, err
	}
	result.GrantedProductIDs = granted
	result.Order = order

	return result, tx.Commit()
}

// ApplyFailed transitions a pending order to failed under the row lock.
// Paid and failed orders are left untouched; returns whether the transition
// was applied by this call.
func (s *Store) ApplyFailed(ctx context.Context, orderID int64, sessionID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return false, models.ErrOrderNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock order: %w", err)
	}

	if order.Status != models.OrderStatusPending {
		return false, tx.Commit()
	}

	session := order.GatewaySessionID
	if sessionID != "" && (!session.Valid || session.String == "") {
		session = sql.NullString{String: sessionID, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, gateway_session_id = $2, updated_at = NOW() WHERE id = $3`,
		models.OrderStatusFailed, session, order.ID); err != nil {
		return false, fmt.Errorf("failed to mark order failed: %w", err)
	}

	return true, tx.Commit()
}

// backfillGatewayIDsTx fills blank gateway ids on an already-paid order.
// A conflicting non-empty value is left alone.
func (s *Store) backfillGatewayIDsTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, sessionID, paymentIntentID string) error {
	changed := false

	if sessionID != "" && (!order.GatewaySessionID.Valid || order.GatewaySessionID.String == "") {
		order.GatewaySessionID = sql.NullString{String: sessionID, Valid: true}
		changed = true
	}
	if paymentIntentID != "" && (!order.GatewayPaymentIntentID.Valid || order.GatewayPaymentIntentID.String == "") {
		order.GatewayPaymentIntentID = sql.NullString{String: paymentIntentID, Valid: true}
		changed = true
	}

	if !changed {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET gateway_session_id = $1, gateway_payment_intent_id = $2, updated_at = NOW()
		WHERE id = $3`,
		order.GatewaySessionID, order.GatewayPaymentIntentID, order.ID); err != nil {
		return fmt.Errorf("failed to backfill gateway ids: %w", err)
	}
	return nil
}
