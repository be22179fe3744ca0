package service

import (
	"context"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// ProductService covers the catalog, deal banners, and the admin removal
// actions that must respect entitlements.
type ProductService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewProductService creates a new product service
func NewProductService(st *store.Store) *ProductService {
	return &ProductService{
		store:  st,
		logger: util.GetLogger(),
	}
}

// ListCatalog returns the public catalog: active, non-removed products only.
// Entitlement holders see their withdrawn purchases in the purchases listing,
// never here.
func (ps *ProductService) ListCatalog(ctx context.Context) ([]models.Product, error) {
	return ps.store.ListPurchasableProducts(ctx)
}

// GetBySlug loads a product regardless of visibility; callers apply the
// access policy before exposing it.
func (ps *ProductService) GetBySlug(ctx context.Context, slug string) (*models.Product, error) {
	return ps.store.GetProductBySlug(ctx, slug)
}

// DiscountedPrice resolves the live effective price in cents. Banner
// discounts apply to deal products only: a product-specific banner wins over
// the product's category banner.
func (ps *ProductService) DiscountedPrice(ctx context.Context, product *models.Product) (int64, error) {
	if !product.Deal {
		return product.Price, nil
	}

	banners, err := ps.store.ListActiveBanners(ctx)
	if err != nil {
		return product.Price, err
	}

	percent := discountPercentFor(product, banners)
	if percent <= 0 {
		return product.Price, nil
	}
	return product.Price - product.Price*percent/100, nil
}

func discountPercentFor(product *models.Product, banners []models.DealBanner) int64 {
	for _, banner := range banners {
		if banner.ProductID.Valid && banner.ProductID.Int64 == product.ID && banner.DiscountPercent > 0 {
			return banner.DiscountPercent
		}
	}
	if product.CategoryID.Valid {
		for _, banner := range banners {
			if banner.CategoryID.Valid && banner.CategoryID.Int64 == product.CategoryID.Int64 && banner.DiscountPercent > 0 {
				return banner.DiscountPercent
			}
		}
	}
	return 0
}

// RemovalOutcome reports the mixed result of the bulk removal action.
type RemovalOutcome struct {
	SoftRemoved int64 `json:"soft_removed"`
	HardDeleted int64 `json:"hard_deleted"`
}

// RemovePermanently withdraws products from the store. Products someone has
// bought are soft-removed so buyers keep access and line-item history stays
// intact; products nobody ever bought are hard-deleted.
func (ps *ProductService) RemovePermanently(ctx context.Context, productIDs []int64) (*RemovalOutcome, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.RemovePermanently")
	defer span.End()

	outcome := &RemovalOutcome{}
	if len(productIDs) == 0 {
		return outcome, nil
	}

	entitled, err := ps.store.ProductIDsWithEntitlements(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check entitlements: %w", err)
	}

	entitledSet := make(map[int64]bool, len(entitled))
	for _, id := range entitled {
		entitledSet[id] = true
	}

	var toRemove, toDelete []int64
	for _, id := range productIDs {
		if entitledSet[id] {
			toRemove = append(toRemove, id)
		} else {
			toDelete = append(toDelete, id)
		}
	}

	if outcome.SoftRemoved, err = ps.store.SoftRemoveProducts(ctx, toRemove); err != nil {
		return nil, fmt.Errorf("failed to soft-remove products: %w", err)
	}
	if outcome.HardDeleted, err = ps.store.DeleteProducts(ctx, toDelete); err != nil {
		return nil, fmt.Errorf("failed to delete products: %w", err)
	}

	ps.logger.Info("Products removed",
		zap.Int64("soft_removed", outcome.SoftRemoved),
		zap.Int64("hard_deleted", outcome.HardDeleted))
	return outcome, nil
}

// Delete hard-deletes a single product through the generic admin path. It is
// blocked outright while any entitlement references the product; the
// dedicated removal action is the only way to withdraw purchased content.
func (ps *ProductService) Delete(ctx context.Context, productID int64) error {
	entitled, err := ps.store.ProductIDsWithEntitlements(ctx, []int64{productID})
	if err != nil {
		return err
	}
	if len(entitled) > 0 {
		return models.ErrProductEntitled
	}

	_, err = ps.store.DeleteProducts(ctx, []int64{productID})
	return err
}

// SaveBanner persists a deal banner and synchronously resyncs the deal flag
// of every affected product. The resync is an explicit call here, not a
// storage hook, so the side effect is visible in the mutating path.
func (ps *ProductService) SaveBanner(ctx context.Context, banner *models.DealBanner) error {
	var before *models.DealBanner
	if banner.ID != 0 {
		prev, err := ps.store.GetBannerByID(ctx, banner.ID)
		if err == nil {
			before = prev
		}
	}

	if err := ps.store.SaveBanner(ctx, banner); err != nil {
		return fmt.Errorf("failed to save banner: %w", err)
	}

	return ps.syncDealsForBanners(ctx, banner, before)
}

// DeleteBanner deletes a deal banner and resyncs affected products
func (ps *ProductService) DeleteBanner(ctx context.Context, bannerID int64) error {
	banner, err := ps.store.GetBannerByID(ctx, bannerID)
	if err != nil {
		return err
	}

	if err := ps.store.DeleteBanner(ctx, bannerID); err != nil {
		return fmt.Errorf("failed to delete banner: %w", err)
	}

	return ps.syncDealsForBanners(ctx, banner, nil)
}

func (ps *ProductService) syncDealsForBanners(ctx context.Context, banners ...*models.DealBanner) error {
	var productIDs, categoryIDs []int64
	for _, banner := range banners {
		if banner == nil {
			continue
		}
		if banner.ProductID.Valid {
			productIDs = append(productIDs, banner.ProductID.Int64)
		}
		if banner.CategoryID.Valid {
			categoryIDs = append(categoryIDs, banner.CategoryID.Int64)
		}
	}
	return ps.syncDealStatus(ctx, productIDs, categoryIDs)
}

// syncDealStatus recomputes the derived deal flag for the affected products:
// a product is a deal when flagged manually, targeted by an active banner, or
// in a category targeted by an active banner (unless excluded).
func (ps *ProductService) syncDealStatus(ctx context.Context, productIDs, categoryIDs []int64) error {
	if len(productIDs) == 0 && len(categoryIDs) == 0 {
		return nil
	}

	products, err := ps.store.ListProductsForDealSync(ctx, productIDs, categoryIDs)
	if err != nil {
		return err
	}

	banners, err := ps.store.ListActiveBanners(ctx)
	if err != nil {
		return err
	}

	bannerProducts := make(map[int64]bool)
	bannerCategories := make(map[int64]bool)
	for _, banner := range banners {
		if banner.ProductID.Valid {
			bannerProducts[banner.ProductID.Int64] = true
		}
		if banner.CategoryID.Valid {
			bannerCategories[banner.CategoryID.Int64] = true
		}
	}

	var setDeal, clearDeal []int64
	for _, product := range products {
		fromProduct := bannerProducts[product.ID]
		fromCategory := product.CategoryID.Valid &&
			bannerCategories[product.CategoryID.Int64] && !product.DealExclude

		effective := product.DealManual || fromProduct || fromCategory
		switch {
		case effective && !product.Deal:
			setDeal = append(setDeal, product.ID)
		case !effective && product.Deal:
			clearDeal = append(clearDeal, product.ID)
		}
	}

	if err := ps.store.SetProductsDeal(ctx, setDeal, true); err != nil {
		return err
	}
	return ps.store.SetProductsDeal(ctx, clearDeal, false)
}

// BannerDestination resolves where a banner links to, by fixed precedence:
// a live linked product, then a custom URL, then the category-filtered
// catalog, then the deals-filtered catalog. Pure function over the already
// loaded entities.
func BannerDestination(banner models.DealBanner, product *models.Product, category *models.Category) string {
	if product != nil && product.Active && !product.Removed {
		return "/products/" + product.Slug
	}
	if banner.URL != "" {
		return banner.URL
	}
	if category != nil {
		return "/products?cat=" + category.Slug + "&deals=true"
	}
	return "/products?deals=true"
}
