package service

import (
	"context"

	"storefront-service/config"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// entitlementReader answers whether a user owns a product.
type entitlementReader interface {
	HasEntitlement(ctx context.Context, userID, productID int64) (bool, error)
}

// accessCache caches resolved access levels. It is optional; a nil cache
// just resolves every request from the database.
type accessCache interface {
	GetCachedAccess(ctx context.Context, userID, productID int64) (string, error)
	CacheAccess(ctx context.Context, userID, productID int64, level string) error
}

// AccessService is the single authority on who may read what. Every content
// read goes through ResolveRead; handlers never inspect entitlements directly.
type AccessService struct {
	entitlements entitlementReader
	cache        accessCache
	cfg          config.AccessConfig
	logger       *zap.Logger
}

// NewAccessService creates a new access service
func NewAccessService(entitlements entitlementReader, cache accessCache, cfg config.AccessConfig) *AccessService {
	return &AccessService{
		entitlements: entitlements,
		cache:        cache,
		cfg:          cfg,
		logger:       util.GetLogger(),
	}
}

// ResolveRead decides whether the viewer may read the product's full content.
// The checks run in a fixed order so the caller can map the error to the right
// response: login first, then email verification, then ownership. Staff skip
// the ownership check but never the verification check.
func (as *AccessService) ResolveRead(ctx context.Context, viewer models.Viewer, product *models.Product) error {
	if !viewer.Authenticated() {
		return models.ErrLoginRequired
	}
	if as.cfg.RequireVerifiedEmail && !viewer.EmailVerified {
		return models.ErrEmailUnverified
	}
	if viewer.Staff {
		return nil
	}

	entitled, err := as.hasEntitlement(ctx, viewer.UserID, product.ID)
	if err != nil {
		return err
	}
	if !entitled {
		return models.ErrNotEntitled
	}
	return nil
}

// CanPreview reports whether the viewer may see the product's detail page.
// Purchasable products are public; withdrawn and inactive ones stay visible
// only to staff and to buyers who still hold the entitlement.
func (as *AccessService) CanPreview(ctx context.Context, viewer models.Viewer, product *models.Product) (bool, error) {
	if product.Purchasable() {
		return true, nil
	}
	if viewer.Staff {
		return true, nil
	}
	if !viewer.Authenticated() {
		return false, nil
	}
	return as.hasEntitlement(ctx, viewer.UserID, product.ID)
}

// Resolve returns the viewer's access level for a product
func (as *AccessService) Resolve(ctx context.Context, viewer models.Viewer, product *models.Product) (string, error) {
	if err := as.ResolveRead(ctx, viewer, product); err == nil {
		return models.AccessFullRead, nil
	} else if err != models.ErrLoginRequired && err != models.ErrEmailUnverified && err != models.ErrNotEntitled {
		return "", err
	}

	preview, err := as.CanPreview(ctx, viewer, product)
	if err != nil {
		return "", err
	}
	if preview {
		return models.AccessPreview, nil
	}
	return models.AccessNone, nil
}

// CanReview decides whether the viewer may create a review: verified buyers
// only, and never on a withdrawn product.
func (as *AccessService) CanReview(ctx context.Context, viewer models.Viewer, product *models.Product) error {
	if !viewer.Authenticated() {
		return models.ErrLoginRequired
	}
	if product.Removed {
		return models.ErrProductRemoved
	}

	entitled, err := as.hasEntitlement(ctx, viewer.UserID, product.ID)
	if err != nil {
		return err
	}
	if !entitled {
		return models.ErrNotEntitled
	}
	return nil
}

// CanModifyReview decides whether existing reviews of a product may still be
// edited or deleted. Withdrawal freezes them.
func (as *AccessService) CanModifyReview(viewer models.Viewer, product *models.Product) error {
	if !viewer.Authenticated() {
		return models.ErrLoginRequired
	}
	if product.Removed {
		return models.ErrProductRemoved
	}
	return nil
}

// hasEntitlement consults the cache first. A cache failure degrades to the
// database; the decision is never blocked on Redis.
func (as *AccessService) hasEntitlement(ctx context.Context, userID, productID int64) (bool, error) {
	if as.cache != nil {
		level, err := as.cache.GetCachedAccess(ctx, userID, productID)
		if err != nil {
			as.logger.Warn("Access cache read failed",
				zap.Int64("user_id", userID), zap.Error(err))
		} else if level != "" {
			util.AccessCacheHits.WithLabelValues("hit").Inc()
			return level == models.AccessFullRead, nil
		} else {
			util.AccessCacheHits.WithLabelValues("miss").Inc()
		}
	}

	entitled, err := as.entitlements.HasEntitlement(ctx, userID, productID)
	if err != nil {
		return false, err
	}

	if as.cache != nil {
		level := models.AccessNone
		if entitled {
			level = models.AccessFullRead
		}
		if err := as.cache.CacheAccess(ctx, userID, productID, level); err != nil {
			as.logger.Warn("Access cache write failed",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return entitled, nil
}
