package models

import (
	"database/sql"
	"time"
)

// Product is an archive entry offered for sale. Prices are stored in cents.
type Product struct {
	ID          int64         `db:"id" json:"id"`
	Title       string        `db:"title" json:"title"`
	Slug        string        `db:"slug" json:"slug"`
	Tagline     string        `db:"tagline" json:"tagline"`
	Description string        `db:"description" json:"description"`
	Content     string        `db:"content" json:"-"`
	CategoryID  sql.NullInt64 `db:"category_id" json:"category_id,omitempty"`
	Price       int64         `db:"price" json:"price"`
	ImageAlt    string        `db:"image_alt" json:"image_alt,omitempty"`
	Active      bool          `db:"active" json:"active"`
	Removed     bool          `db:"removed" json:"removed"`
	Featured    bool          `db:"featured" json:"featured"`
	Deal        bool          `db:"deal" json:"deal"`
	DealManual  bool          `db:"deal_manual" json:"deal_manual"`
	DealExclude bool          `db:"deal_exclude" json:"deal_exclude"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// Purchasable reports whether the product may be added to a cart or listed.
func (p *Product) Purchasable() bool {
	return p.Active && !p.Removed
}

// Category groups products in the catalog.
type Category struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DealBanner is a promotional banner that may discount a product or a category.
type DealBanner struct {
	ID              int64         `db:"id" json:"id"`
	Title           string        `db:"title" json:"title"`
	Message         string        `db:"message" json:"message"`
	ProductID       sql.NullInt64 `db:"product_id" json:"product_id,omitempty"`
	CategoryID      sql.NullInt64 `db:"category_id" json:"category_id,omitempty"`
	URL             string        `db:"url" json:"url,omitempty"`
	DiscountPercent int64         `db:"discount_percent" json:"discount_percent"`
	Active          bool          `db:"active" json:"active"`
	DisplayOrder    int           `db:"display_order" json:"display_order"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// Order is a purchase attempt. Total and line items are frozen at creation.
type Order struct {
	ID                     int64          `db:"id" json:"id"`
	OrderNumber            string         `db:"order_number" json:"order_number"`
	UserID                 sql.NullInt64  `db:"user_id" json:"user_id,omitempty"`
	Status                 string         `db:"status" json:"status"`
	Total                  int64          `db:"total" json:"total"`
	GatewaySessionID       sql.NullString `db:"gateway_session_id" json:"gateway_session_id,omitempty"`
	GatewayPaymentIntentID sql.NullString `db:"gateway_payment_intent_id" json:"gateway_payment_intent_id,omitempty"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderLineItem snapshots a product inside an order. The live product link is
// nullable so the line item survives product deletion.
type OrderLineItem struct {
	ID           int64         `db:"id" json:"id"`
	OrderID      int64         `db:"order_id" json:"order_id"`
	ProductID    sql.NullInt64 `db:"product_id" json:"product_id,omitempty"`
	ProductTitle string        `db:"product_title" json:"product_title"`
	ProductPrice int64         `db:"product_price" json:"product_price"`
	Quantity     int           `db:"quantity" json:"quantity"`
	LineTotal    int64         `db:"line_total" json:"line_total"`
}

// AccessEntitlement is the authoritative record that a user may read a product.
// At most one row ever exists per (user, product); rows outlive product removal.
type AccessEntitlement struct {
	ID        int64         `db:"id" json:"id"`
	UserID    int64         `db:"user_id" json:"user_id"`
	ProductID int64         `db:"product_id" json:"product_id"`
	OrderID   sql.NullInt64 `db:"order_id" json:"order_id,omitempty"`
	GrantedAt time.Time     `db:"granted_at" json:"granted_at"`
}

// Review is a verified-buyer review, one per user per product.
type Review struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Rating    int       `db:"rating" json:"rating"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Cart is the persistent per-user cart mirrored from the session cart at login.
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem is one product entry in a persistent cart, quantity always 1.
type CartItem struct {
	ID        int64 `db:"id" json:"id"`
	CartID    int64 `db:"cart_id" json:"cart_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// Viewer is the identity snapshot resolved from the external session store.
// The zero value is an anonymous visitor.
type Viewer struct {
	UserID        int64 `json:"user_id"`
	Staff         bool  `json:"staff"`
	EmailVerified bool  `json:"email_verified"`
}

// Authenticated reports whether the viewer is a logged-in user.
func (v Viewer) Authenticated() bool {
	return v.UserID != 0
}

// Order statuses. Pending is the only non-terminal state.
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

// Access levels resolved by the access policy.
const (
	AccessNone     = "none"
	AccessPreview  = "preview"
	AccessFullRead = "full_read"
)
