package service

import (
	"context"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// reviewStore is the slice of the store reviews need.
type reviewStore interface {
	CreateReview(ctx context.Context, review *models.Review) error
	GetReviewForUser(ctx context.Context, reviewID, userID int64) (*models.Review, error)
	UpdateReview(ctx context.Context, review *models.Review) error
	DeleteReview(ctx context.Context, reviewID int64) error
	ListReviewsByProduct(ctx context.Context, productID int64) ([]models.Review, error)
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

// ReviewService handles verified-buyer reviews. All gating decisions are
// delegated to the access service.
type ReviewService struct {
	store  reviewStore
	access *AccessService
	logger *zap.Logger
}

// NewReviewService creates a new review service
func NewReviewService(st reviewStore, access *AccessService) *ReviewService {
	return &ReviewService{
		store:  st,
		access: access,
		logger: util.GetLogger(),
	}
}

// Create posts a review on a product identified by slug. Only entitled buyers
// may review, one review per product, and withdrawn products accept none.
func (rs *ReviewService) Create(ctx context.Context, viewer models.Viewer, slug string, rating int, title, body string) (*models.Review, error) {
	product, err := rs.store.GetProductBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	if err := rs.access.CanReview(ctx, viewer, product); err != nil {
		return nil, err
	}

	review := &models.Review{
		UserID:    viewer.UserID,
		ProductID: product.ID,
		Rating:    rating,
		Title:     title,
		Body:      body,
	}
	if err := rs.store.CreateReview(ctx, review); err != nil {
		return nil, err
	}

	rs.logger.Info("Review created",
		zap.Int64("user_id", viewer.UserID),
		zap.Int64("product_id", product.ID),
		zap.Int("rating", rating))
	return review, nil
}

// Update edits the viewer's own review. Edits are frozen once the product is
// withdrawn.
func (rs *ReviewService) Update(ctx context.Context, viewer models.Viewer, reviewID int64, rating int, title, body string) (*models.Review, error) {
	review, product, err := rs.loadOwned(ctx, viewer, reviewID)
	if err != nil {
		return nil, err
	}
	if err := rs.access.CanModifyReview(viewer, product); err != nil {
		return nil, err
	}

	review.Rating = rating
	review.Title = title
	review.Body = body
	if err := rs.store.UpdateReview(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

// Delete removes the viewer's own review, with the same withdrawal freeze as
// Update.
func (rs *ReviewService) Delete(ctx context.Context, viewer models.Viewer, reviewID int64) error {
	review, product, err := rs.loadOwned(ctx, viewer, reviewID)
	if err != nil {
		return err
	}
	if err := rs.access.CanModifyReview(viewer, product); err != nil {
		return err
	}
	return rs.store.DeleteReview(ctx, review.ID)
}

// ListForProduct returns a product's reviews, newest first
func (rs *ReviewService) ListForProduct(ctx context.Context, productID int64) ([]models.Review, error) {
	return rs.store.ListReviewsByProduct(ctx, productID)
}

func (rs *ReviewService) loadOwned(ctx context.Context, viewer models.Viewer, reviewID int64) (*models.Review, *models.Product, error) {
	if !viewer.Authenticated() {
		return nil, nil, models.ErrLoginRequired
	}

	review, err := rs.store.GetReviewForUser(ctx, reviewID, viewer.UserID)
	if err != nil {
		return nil, nil, err
	}
	product, err := rs.store.GetProductByID(ctx, review.ProductID)
	if err != nil {
		return nil, nil, err
	}
	return review, product, nil
}
