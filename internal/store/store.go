package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductBySlug retrieves a product by slug
func (s *Store) GetProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE slug = $1", slug)
	if err == sql.ErrNoRows {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// ListPurchasableProducts retrieves the public catalog: active and not removed.
// Entitlement holders get no exception here; their purchases surface through
// ListEntitlementsByUser instead.
func (s *Store) ListPurchasableProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE active = TRUE AND removed = FALSE ORDER BY created_at DESC")
	return products, err
}

// SoftRemoveProducts withdraws products from sale while keeping their rows.
// Removed implies inactive; removal is one-way.
func (s *Store) SoftRemoveProducts(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		"UPDATE products SET removed = TRUE, active = FALSE, featured = FALSE, updated_at = NOW() WHERE id IN (?)", ids)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteProducts hard-deletes products. Line items keep their snapshot and
// drop the live link (FK ON DELETE SET NULL); callers must have verified that
// no entitlements reference these products.
func (s *Store) DeleteProducts(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In("DELETE FROM products WHERE id IN (?)", ids)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetProductsDeal flips the derived deal flag for the given products
func (s *Store) SetProductsDeal(ctx context.Context, ids []int64, deal bool) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		"UPDATE products SET deal = ?, updated_at = NOW() WHERE id IN (?)", deal, ids)
	if err != nil {
		return err
	}
	query = s.db.Rebind(query)

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// ListProductsForDealSync loads products affected by a banner change together
// with their category link
func (s *Store) ListProductsForDealSync(ctx context.Context, productIDs, categoryIDs []int64) ([]models.Product, error) {
	if len(productIDs) == 0 && len(categoryIDs) == 0 {
		return []models.Product{}, nil
	}
	if len(productIDs) == 0 {
		productIDs = []int64{0}
	}
	if len(categoryIDs) == 0 {
		categoryIDs = []int64{0}
	}

	query, args, err := sqlx.In(
		"SELECT * FROM products WHERE id IN (?) OR category_id IN (?)", productIDs, categoryIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetCategoryByID retrieves a category by ID
func (s *Store) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	var category models.Category
	err := s.db.GetContext(ctx, &category, "SELECT * FROM categories WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// ListActiveBanners retrieves active deal banners in display order
func (s *Store) ListActiveBanners(ctx context.Context) ([]models.DealBanner, error) {
	var banners []models.DealBanner
	err := s.db.SelectContext(ctx, &banners,
		"SELECT * FROM deal_banners WHERE active = TRUE ORDER BY display_order, created_at DESC")
	return banners, err
}

// SaveBanner inserts or updates a deal banner
func (s *Store) SaveBanner(ctx context.Context, banner *models.DealBanner) error {
	if banner.ID == 0 {
		query := `
			INSERT INTO deal_banners (title, message, product_id, category_id, url, discount_percent, active, display_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at`
		return s.db.GetContext(ctx, banner, query,
			banner.Title, banner.Message, banner.ProductID, banner.CategoryID,
			banner.URL, banner.DiscountPercent, banner.Active, banner.DisplayOrder)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE deal_banners
		SET title = $1, message = $2, product_id = $3, category_id = $4, url = $5,
		    discount_percent = $6, active = $7, display_order = $8
		WHERE id = $9`,
		banner.Title, banner.Message, banner.ProductID, banner.CategoryID,
		banner.URL, banner.DiscountPercent, banner.Active, banner.DisplayOrder, banner.ID)
	return err
}

// GetBannerByID retrieves a deal banner by ID
func (s *Store) GetBannerByID(ctx context.Context, id int64) (*models.DealBanner, error) {
	var banner models.DealBanner
	err := s.db.GetContext(ctx, &banner, "SELECT * FROM deal_banners WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deal banner not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &banner, nil
}

// DeleteBanner deletes a deal banner
func (s *Store) DeleteBanner(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM deal_banners WHERE id = $1", id)
	return err
}
