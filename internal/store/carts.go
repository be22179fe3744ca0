package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrCreateCart returns the user's persistent cart, creating it on first use
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err == nil {
		return &cart, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	err = s.db.GetContext(ctx, &cart, `
		INSERT INTO carts (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, updated_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return &cart, nil
}

// GetCartProductIDs returns the product ids in the user's persistent cart
func (s *Store) GetCartProductIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT ci.product_id FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		WHERE c.user_id = $1
		ORDER BY ci.id`, userID)
	return ids, err
}

// AddCartItem records a product in the persistent cart. Already-present
// products are a no-op thanks to the (cart_id, product_id) unique constraint.
func (s *Store) AddCartItem(ctx context.Context, cartID, productID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, 1)
		ON CONFLICT (cart_id, product_id) DO NOTHING`,
		cartID, productID)
	return err
}

// RemoveCartItem removes a product from the persistent cart
func (s *Store) RemoveCartItem(ctx context.Context, cartID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	return err
}

// ReplaceCartItems rewrites the persistent cart to exactly the given set.
// Used after a login merge so session and persistent carts agree.
func (s *Store) ReplaceCartItems(ctx context.Context, cartID int64, productIDs []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}

	for _, pid := range productIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, product_id, quantity)
			VALUES ($1, $2, 1)
			ON CONFLICT (cart_id, product_id) DO NOTHING`, cartID, pid); err != nil {
			return fmt.Errorf("failed to insert cart item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID); err != nil {
		return err
	}

	return tx.Commit()
}

// PruneCartItems deletes the given products from the persistent cart
func (s *Store) PruneCartItems(ctx context.Context, cartID int64, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		"DELETE FROM cart_items WHERE cart_id = ? AND product_id IN (?)", cartID, productIDs)
	if err != nil {
		return err
	}
	query = s.db.Rebind(query)

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// ClearCart empties the persistent cart
func (s *Store) ClearCart(ctx context.Context, cartID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	return err
}
