package store

import (
	"context"
	"fmt"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// grantEntitlementTx performs the get-or-create grant for one (user, product)
// pair inside the caller's transaction. The unique constraint on
// (user_id, product_id) makes replays and racing inserts collapse into a
// single row; a pre-existing row with no order link gets the order backfilled.
func (s *Store) grantEntitlementTx(ctx context.Context, tx *sqlx.Tx, userID, productID, orderID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO access_entitlements (user_id, product_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id) DO NOTHING`,
		userID, productID, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to grant entitlement: %w", err)
	}

	created, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if created > 0 {
		return true, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE access_entitlements SET order_id = $1
		WHERE user_id = $2 AND product_id = $3 AND order_id IS NULL`,
		orderID, userID, productID)
	if err != nil {
		return false, fmt.Errorf("failed to backfill entitlement order: %w", err)
	}
	return false, nil
}

// grantAllForOrderTx grants an entitlement for every line item of the order
// that still links to a live product. Orders whose user was deleted grant
// nothing; the status transition alone is the observable outcome.
func (s *Store) grantAllForOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) ([]int64, error) {
	if !order.UserID.Valid {
		return nil, nil
	}

	var items []models.OrderLineItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_line_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return nil, fmt.Errorf("failed to load line items: %w", err)
	}

	var granted []int64
	for _, item := range items {
		if !item.ProductID.Valid {
			continue
		}

		created, err := s.grantEntitlementTx(ctx, tx, order.UserID.Int64, item.ProductID.Int64, order.ID)
		if err != nil {
			return nil, err
		}
		if created {
			granted = append(granted, item.ProductID.Int64)
		}
	}

	return granted, nil
}

// GrantEntitlement grants access outside the reconciliation path, e.g. an
// administrative grant with no originating order. Returns whether a new row
// was created.
func (s *Store) GrantEntitlement(ctx context.Context, userID, productID int64, orderID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var created bool
	if orderID > 0 {
		created, err = s.grantEntitlementTx(ctx, tx, userID, productID, orderID)
		if err != nil {
			return false, err
		}
	} else {
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO access_entitlements (user_id, product_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, product_id) DO NOTHING`,
			userID, productID)
		if execErr != nil {
			return false, execErr
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return false, raErr
		}
		created = n > 0
	}

	return created, tx.Commit()
}

// HasEntitlement reports whether the user holds an entitlement for the product
func (s *Store) HasEntitlement(ctx context.Context, userID, productID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM access_entitlements WHERE user_id = $1 AND product_id = $2)",
		userID, productID)
	return exists, err
}

// EntitledProductIDs filters the given product ids down to those the user
// already owns
func (s *Store) EntitledProductIDs(ctx context.Context, userID int64, productIDs []int64) ([]int64, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		"SELECT product_id FROM access_entitlements WHERE user_id = ? AND product_id IN (?)",
		userID, productIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var ids []int64
	err = s.db.SelectContext(ctx, &ids, query, args...)
	return ids, err
}

// ProductIDsWithEntitlements filters the given product ids down to those any
// user holds an entitlement for. Drives the soft-remove vs hard-delete branch
// of the admin removal action.
func (s *Store) ProductIDsWithEntitlements(ctx context.Context, productIDs []int64) ([]int64, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		"SELECT DISTINCT product_id FROM access_entitlements WHERE product_id IN (?)", productIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var ids []int64
	err = s.db.SelectContext(ctx, &ids, query, args...)
	return ids, err
}

// ListEntitlementsByUser retrieves a user's entitlements, newest first.
// Removed products are included on purpose: buyers keep what they bought.
func (s *Store) ListEntitlementsByUser(ctx context.Context, userID int64) ([]models.AccessEntitlement, error) {
	var entitlements []models.AccessEntitlement
	err := s.db.SelectContext(ctx, &entitlements,
		"SELECT * FROM access_entitlements WHERE user_id = $1 ORDER BY granted_at DESC", userID)
	return entitlements, err
}

// DeleteEntitlement removes a single entitlement row. This is a rare admin
// operation, never part of any product lifecycle change.
func (s *Store) DeleteEntitlement(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM access_entitlements WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entitlement not found: %d", id)
	}
	return nil
}
