package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-service/internal/models"
)

// CreateReview inserts a review; the (user_id, product_id) unique constraint
// is the storage-level backstop for the one-review-per-product rule.
func (s *Store) CreateReview(ctx context.Context, review *models.Review) error {
	err := s.db.GetContext(ctx, review, `
		INSERT INTO reviews (user_id, product_id, rating, title, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, product_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		review.UserID, review.ProductID, review.Rating, review.Title, review.Body)
	if err == sql.ErrNoRows {
		return models.ErrAlreadyReviewed
	}
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

// GetReviewForUser retrieves a review by id, scoped to its author
func (s *Store) GetReviewForUser(ctx context.Context, reviewID, userID int64) (*models.Review, error) {
	var review models.Review
	err := s.db.GetContext(ctx, &review,
		"SELECT * FROM reviews WHERE id = $1 AND user_id = $2", reviewID, userID)
	if err == sql.ErrNoRows {
		return nil, models.ErrReviewNotFound
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// UpdateReview updates the mutable fields of a review
func (s *Store) UpdateReview(ctx context.Context, review *models.Review) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET rating = $1, title = $2, body = $3, updated_at = NOW()
		WHERE id = $4`,
		review.Rating, review.Title, review.Body, review.ID)
	return err
}

// DeleteReview deletes a review
func (s *Store) DeleteReview(ctx context.Context, reviewID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM reviews WHERE id = $1", reviewID)
	return err
}

// ListReviewsByProduct retrieves reviews for a product, newest first
func (s *Store) ListReviewsByProduct(ctx context.Context, productID int64) ([]models.Review, error) {
	var reviews []models.Review
	err := s.db.SelectContext(ctx, &reviews,
		"SELECT * FROM reviews WHERE product_id = $1 ORDER BY created_at DESC", productID)
	return reviews, err
}

// HasReview reports whether the user already reviewed the product
func (s *Store) HasReview(ctx context.Context, userID, productID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM reviews WHERE user_id = $1 AND product_id = $2)",
		userID, productID)
	return exists, err
}
