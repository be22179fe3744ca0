package service

import (
	"context"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// sessionCartStore is the session-scoped cart storage (Redis-backed).
type sessionCartStore interface {
	AddCartEntry(ctx context.Context, sessionID string, productID int64) (bool, error)
	RemoveCartEntry(ctx context.Context, sessionID string, productID int64) (bool, error)
	GetCartProductIDs(ctx context.Context, sessionID string) ([]int64, error)
	PruneCartEntries(ctx context.Context, sessionID string, productIDs []int64) error
	SetCartProductIDs(ctx context.Context, sessionID string, productIDs []int64) error
	MergeCarts(ctx context.Context, fromSessionID, toSessionID string) (int64, error)
	ClearCart(ctx context.Context, sessionID string) error
}

// persistentCartStore is the per-user cart mirror (database-backed).
type persistentCartStore interface {
	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartProductIDs(ctx context.Context, userID int64) ([]int64, error)
	ReplaceCartItems(ctx context.Context, cartID int64, productIDs []int64) error
}

// productReader loads products for validation and pruning.
type productReader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

// pricer resolves the current effective price of a product, deal discounts
// included. Cart totals use live prices; only orders freeze them.
type pricer interface {
	DiscountedPrice(ctx context.Context, product *models.Product) (int64, error)
}

// CartService manages session carts and their persistent per-user mirror.
type CartService struct {
	sessions sessionCartStore
	carts    persistentCartStore
	products productReader
	pricer   pricer
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(sessions sessionCartStore, carts persistentCartStore, products productReader, pricer pricer) *CartService {
	return &CartService{
		sessions: sessions,
		carts:    carts,
		products: products,
		pricer:   pricer,
		logger:   util.GetLogger(),
	}
}

// CartItemView is a cart entry joined with its live product state.
type CartItemView struct {
	Product   models.Product `json:"product"`
	Quantity  int            `json:"quantity"`
	UnitPrice int64          `json:"unit_price"`
	LineTotal int64          `json:"line_total"`
}

// Add puts a product in the session cart. Products that do not exist, are
// inactive, or are removed yield ErrNotPurchasable; a product already in the
// cart yields ErrAlreadyInCart. Quantity is always 1.
func (cs *CartService) Add(ctx context.Context, sessionID string, productID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Add")
	defer span.End()

	product, err := cs.products.GetProductByID(ctx, productID)
	if err == models.ErrProductNotFound {
		return models.ErrNotPurchasable
	}
	if err != nil {
		return fmt.Errorf("failed to load product: %w", err)
	}
	if !product.Purchasable() {
		return models.ErrNotPurchasable
	}

	added, err := cs.sessions.AddCartEntry(ctx, sessionID, productID)
	if err != nil {
		return err
	}
	if !added {
		return models.ErrAlreadyInCart
	}
	return nil
}

// Remove deletes a product from the session cart. Returns false when the
// product was not present.
func (cs *CartService) Remove(ctx context.Context, sessionID string, productID int64) (bool, error) {
	return cs.sessions.RemoveCartEntry(ctx, sessionID, productID)
}

// Items returns the cart joined with live product data. Entries whose product
// has become inactive, removed, or deleted are pruned as a side effect;
// pruning failures are logged and never break the read path.
func (cs *CartService) Items(ctx context.Context, sessionID string) ([]CartItemView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Items")
	defer span.End()

	ids, err := cs.sessions.GetCartProductIDs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []CartItemView{}, nil
	}

	products, err := cs.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	items := make([]CartItemView, 0, len(ids))
	var stale []int64
	for _, id := range ids {
		product, ok := byID[id]
		if !ok || !product.Purchasable() {
			stale = append(stale, id)
			continue
		}

		price, err := cs.pricer.DiscountedPrice(ctx, product)
		if err != nil {
			price = product.Price
		}

		items = append(items, CartItemView{
			Product:   *product,
			Quantity:  1,
			UnitPrice: price,
			LineTotal: price,
		})
	}

	if len(stale) > 0 {
		if err := cs.sessions.PruneCartEntries(ctx, sessionID, stale); err != nil {
			cs.logger.Warn("Failed to prune stale cart entries",
				zap.String("session_id", sessionID),
				zap.Error(err))
		} else {
			util.CartPrunedTotal.Add(float64(len(stale)))
		}
	}

	return items, nil
}

// Total sums the live discounted prices of everything in the cart
func (cs *CartService) Total(ctx context.Context, sessionID string) (int64, error) {
	items, err := cs.Items(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, item := range items {
		total += item.LineTotal
	}
	return total, nil
}

// Clear empties the session cart
func (cs *CartService) Clear(ctx context.Context, sessionID string) error {
	return cs.sessions.ClearCart(ctx, sessionID)
}

// Prune removes specific products from the session cart, e.g. items already
// purchased when checkout starts.
func (cs *CartService) Prune(ctx context.Context, sessionID string, productIDs []int64) error {
	return cs.sessions.PruneCartEntries(ctx, sessionID, productIDs)
}

// ProductIDs exposes the raw cart membership for checkout snapshotting
func (cs *CartService) ProductIDs(ctx context.Context, sessionID string) ([]int64, error) {
	return cs.sessions.GetCartProductIDs(ctx, sessionID)
}

// MergeOnLogin unions the anonymous session cart with the user's persisted
// cart when the session is promoted at login. The union is pruned of anything
// no longer purchasable and written back to both stores, so running the merge
// twice yields the same result.
func (cs *CartService) MergeOnLogin(ctx context.Context, oldSessionID, newSessionID string, userID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.MergeOnLogin")
	defer span.End()

	if oldSessionID != "" && oldSessionID != newSessionID {
		if _, err := cs.sessions.MergeCarts(ctx, oldSessionID, newSessionID); err != nil {
			return fmt.Errorf("failed to merge session carts: %w", err)
		}
	}

	sessionIDs, err := cs.sessions.GetCartProductIDs(ctx, newSessionID)
	if err != nil {
		return err
	}

	persisted, err := cs.carts.GetCartProductIDs(ctx, userID)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool, len(sessionIDs)+len(persisted))
	var union []int64
	for _, id := range append(sessionIDs, persisted...) {
		if !seen[id] {
			seen[id] = true
			union = append(union, id)
		}
	}

	merged, err := cs.prunePurchasable(ctx, union)
	if err != nil {
		return err
	}

	if err := cs.sessions.SetCartProductIDs(ctx, newSessionID, merged); err != nil {
		return err
	}

	cart, err := cs.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return err
	}
	if err := cs.carts.ReplaceCartItems(ctx, cart.ID, merged); err != nil {
		return err
	}

	cs.logger.Info("Cart merged at login",
		zap.Int64("user_id", userID),
		zap.Int("items", len(merged)))
	return nil
}

// SaveForUser mirrors the session cart to the user's persistent cart, the
// logout-boundary counterpart of MergeOnLogin.
func (cs *CartService) SaveForUser(ctx context.Context, sessionID string, userID int64) error {
	ids, err := cs.sessions.GetCartProductIDs(ctx, sessionID)
	if err != nil {
		return err
	}

	kept, err := cs.prunePurchasable(ctx, ids)
	if err != nil {
		return err
	}

	cart, err := cs.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return err
	}
	return cs.carts.ReplaceCartItems(ctx, cart.ID, kept)
}

func (cs *CartService) prunePurchasable(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	products, err := cs.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	purchasable := make(map[int64]bool, len(products))
	for i := range products {
		if products[i].Purchasable() {
			purchasable[products[i].ID] = true
		}
	}

	var kept []int64
	for _, id := range ids {
		if purchasable[id] {
			kept = append(kept, id)
		}
	}
	return kept, nil
}
