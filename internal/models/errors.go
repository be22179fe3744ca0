package models

import "errors"

// Sentinel errors shared across services and handlers.
var (
	// ErrProductNotFound indicates the product does not exist or is not
	// visible to the requesting viewer.
	ErrProductNotFound = errors.New("product not found")

	// ErrOrderNotFound indicates the order does not exist or is not owned
	// by the requesting viewer.
	ErrOrderNotFound = errors.New("order not found")

	// ErrEmptyCart is the reported condition when checkout starts with
	// nothing purchasable in the cart. It is not a failure.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrNotPurchasable indicates the product is inactive, removed, or gone.
	ErrNotPurchasable = errors.New("product is not purchasable")

	// ErrAlreadyInCart indicates the product is already present; carts hold
	// each product at most once.
	ErrAlreadyInCart = errors.New("product already in cart")

	// ErrProductEntitled blocks hard deletion of a product that is still
	// referenced by at least one entitlement.
	ErrProductEntitled = errors.New("product has entitlements")

	// ErrProductRemoved blocks review writes once a product is removed.
	ErrProductRemoved = errors.New("product is removed")

	// ErrNotEntitled indicates the viewer holds no entitlement for the product.
	ErrNotEntitled = errors.New("no entitlement for product")

	// ErrAlreadyReviewed indicates the viewer already reviewed the product.
	ErrAlreadyReviewed = errors.New("product already reviewed")

	// ErrEmailUnverified indicates the viewer must verify their email before
	// reading purchased content.
	ErrEmailUnverified = errors.New("email not verified")

	// ErrLoginRequired indicates the action needs an authenticated viewer.
	ErrLoginRequired = errors.New("login required")

	// ErrReviewNotFound indicates the review does not exist or is not owned
	// by the requesting viewer.
	ErrReviewNotFound = errors.New("review not found")
)
