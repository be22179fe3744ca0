package service

import (
	"database/sql"
	"testing"

	"storefront-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}

func TestDiscountPercentPrecedence(t *testing.T) {
	product := &models.Product{ID: 1, CategoryID: nullID(10), Price: 1000, Deal: true}

	banners := []models.DealBanner{
		{ID: 1, CategoryID: nullID(10), DiscountPercent: 20},
		{ID: 2, ProductID: nullID(1), DiscountPercent: 50},
	}

	assert.Equal(t, int64(50), discountPercentFor(product, banners),
		"product banner wins over category banner")

	assert.Equal(t, int64(20), discountPercentFor(product, banners[:1]),
		"category banner applies when no product banner targets it")

	other := &models.Product{ID: 2, CategoryID: nullID(99), Deal: true}
	assert.Equal(t, int64(0), discountPercentFor(other, banners))

	uncategorized := &models.Product{ID: 3, Deal: true}
	assert.Equal(t, int64(0), discountPercentFor(uncategorized, banners))
}

func TestDiscountIgnoresZeroPercentBanners(t *testing.T) {
	product := &models.Product{ID: 1, CategoryID: nullID(10), Deal: true}

	banners := []models.DealBanner{
		{ID: 1, ProductID: nullID(1), DiscountPercent: 0},
		{ID: 2, CategoryID: nullID(10), DiscountPercent: 15},
	}

	assert.Equal(t, int64(15), discountPercentFor(product, banners),
		"a zero-percent product banner does not mask the category discount")
}

func TestBannerDestinationPrecedence(t *testing.T) {
	live := &models.Product{Slug: "the-entry", Active: true}
	withdrawn := &models.Product{Slug: "gone", Active: false, Removed: true}
	category := &models.Category{Slug: "maps"}

	tests := []struct {
		name     string
		banner   models.DealBanner
		product  *models.Product
		category *models.Category
		want     string
	}{
		{"live product wins", models.DealBanner{URL: "https://example.com"}, live, category, "/products/the-entry"},
		{"withdrawn product falls through to url", models.DealBanner{URL: "https://example.com"}, withdrawn, category, "https://example.com"},
		{"custom url", models.DealBanner{URL: "https://example.com"}, nil, category, "https://example.com"},
		{"category filter", models.DealBanner{}, nil, category, "/products?cat=maps&deals=true"},
		{"deals fallback", models.DealBanner{}, nil, nil, "/products?deals=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BannerDestination(tt.banner, tt.product, tt.category))
		})
	}
}
