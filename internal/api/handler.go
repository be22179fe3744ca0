package api

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"strconv"
	"time"

	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxWebhookBody bounds how much of a webhook payload is read.
const maxWebhookBody = 1 << 16

// Handler contains HTTP handlers
type Handler struct {
	products   *service.ProductService
	cart       *service.CartService
	checkout   *service.CheckoutService
	access     *service.AccessService
	reviews    *service.ReviewService
	reconciler *service.Reconciler
	gateway    gateway.CheckoutGateway
	store      *store.Store
	sessions   SessionResolver
}

// SessionResolver loads the viewer bound to a session id.
type SessionResolver interface {
	GetViewer(ctx context.Context, sessionID string) (models.Viewer, error)
}

// NewHandler creates a new HTTP handler
func NewHandler(
	products *service.ProductService,
	cart *service.CartService,
	checkout *service.CheckoutService,
	access *service.AccessService,
	reviews *service.ReviewService,
	reconciler *service.Reconciler,
	gw gateway.CheckoutGateway,
	st *store.Store,
	sessions SessionResolver,
) *Handler {
	return &Handler{
		products:   products,
		cart:       cart,
		checkout:   checkout,
		access:     access,
		reviews:    reviews,
		reconciler: reconciler,
		gateway:    gw,
		store:      st,
		sessions:   sessions,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(h.sessionMiddleware())

	router.HandleMethodNotAllowed = true

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/gateway", h.gatewayWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:slug", h.getProduct)
		v1.GET("/products/:slug/content", h.getProductContent)
		v1.GET("/products/:slug/reviews", h.listReviews)
		v1.POST("/products/:slug/reviews", h.createReview)
		v1.PUT("/reviews/:id", h.updateReview)
		v1.DELETE("/reviews/:id", h.deleteReview)

		v1.GET("/banners", h.listBanners)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.DELETE("/cart/items/:productID", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/merge", h.mergeCart)

		v1.POST("/checkout", h.startCheckout)
		v1.GET("/checkout/success/:orderNumber", h.checkoutSuccess)
		v1.GET("/checkout/cancel", h.checkoutCancel)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:orderNumber", h.getOrder)
		v1.GET("/purchases", h.listPurchases)

		admin := v1.Group("/admin", h.requireStaff())
		{
			admin.POST("/products/remove", h.removeProducts)
			admin.DELETE("/products/:id", h.deleteProduct)
			admin.POST("/entitlements", h.grantEntitlement)
			admin.DELETE("/entitlements/:id", h.deleteEntitlement)
			admin.PUT("/banners", h.saveBanner)
			admin.DELETE("/banners/:id", h.deleteBanner)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// sessionMiddleware resolves the viewer for the request's session id. The
// session id comes from the X-Session-ID header, falling back to the
// session_id cookie. Resolution failures degrade to an anonymous viewer.
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetHeader("X-Session-ID")
		if sessionID == "" {
			if cookie, err := c.Cookie("session_id"); err == nil {
				sessionID = cookie
			}
		}
		c.Set("session_id", sessionID)

		viewer := models.Viewer{}
		if sessionID != "" && h.sessions != nil {
			if v, err := h.sessions.GetViewer(c.Request.Context(), sessionID); err == nil {
				viewer = v
			}
		}
		c.Set("viewer", viewer)
		c.Next()
	}
}

func (h *Handler) requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		viewer := currentViewer(c)
		if !viewer.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
			return
		}
		if !viewer.Staff {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Staff only"})
			return
		}
		c.Next()
	}
}

func currentViewer(c *gin.Context) models.Viewer {
	if v, ok := c.Get("viewer"); ok {
		if viewer, ok := v.(models.Viewer); ok {
			return viewer
		}
	}
	return models.Viewer{}
}

func currentSessionID(c *gin.Context) string {
	return c.GetString("session_id")
}

// gatewayWebhook receives payment gateway events. Verification failures are
// 400s so the gateway gives up; processing failures are 500s so it retries.
func (h *Handler) gatewayWebhook(c *gin.Context) {
	signature := c.GetHeader("Gateway-Signature")
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing signature header"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read payload"})
		return
	}

	event, err := h.gateway.VerifySignature(payload, signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook"})
		return
	}

	if err := h.reconciler.HandleEvent(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listProducts returns the public catalog with effective prices
func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.products.ListCatalog(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load catalog"})
		return
	}

	type catalogItem struct {
		models.Product
		EffectivePrice int64 `json:"effective_price"`
	}

	items := make([]catalogItem, 0, len(products))
	for i := range products {
		price, err := h.products.DiscountedPrice(c.Request.Context(), &products[i])
		if err != nil {
			price = products[i].Price
		}
		items = append(items, catalogItem{Product: products[i], EffectivePrice: price})
	}

	c.JSON(http.StatusOK, gin.H{"products": items})
}

// getProduct returns the product detail page data. Invisible products are
// indistinguishable from missing ones.
func (h *Handler) getProduct(c *gin.Context) {
	viewer := currentViewer(c)

	product, err := h.products.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err == models.ErrProductNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load product"})
		return
	}

	visible, err := h.access.CanPreview(c.Request.Context(), viewer, product)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve access"})
		return
	}
	if !visible {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	price, err := h.products.DiscountedPrice(c.Request.Context(), product)
	if err != nil {
		price = product.Price
	}

	level, err := h.access.Resolve(c.Request.Context(), viewer, product)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve access"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product":         product,
		"effective_price": price,
		"access":          level,
	})
}

// getProductContent serves the paid content behind the access policy
func (h *Handler) getProductContent(c *gin.Context) {
	viewer := currentViewer(c)

	product, err := h.products.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err == models.ErrProductNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load product"})
		return
	}

	if err := h.access.ResolveRead(c.Request.Context(), viewer, product); err != nil {
		switch err {
		case models.ErrLoginRequired:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required", "redirect": "/login"})
		case models.ErrEmailUnverified:
			c.JSON(http.StatusForbidden, gin.H{"error": "Email verification required", "redirect": "/account/verify-email"})
		case models.ErrNotEntitled:
			// Hide the existence of products the viewer could never see.
			visible, verr := h.access.CanPreview(c.Request.Context(), viewer, product)
			if verr == nil && !visible {
				c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
				return
			}
			c.JSON(http.StatusForbidden, gin.H{"error": "Purchase required"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve access"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product": gin.H{
			"id":      product.ID,
			"title":   product.Title,
			"slug":    product.Slug,
			"content": product.Content,
		},
	})
}

// listBanners returns the active deal banners with resolved destinations
func (h *Handler) listBanners(c *gin.Context) {
	banners, err := h.store.ListActiveBanners(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load banners"})
		return
	}

	type bannerView struct {
		models.DealBanner
		Destination string `json:"destination"`
	}

	views := make([]bannerView, 0, len(banners))
	for _, banner := range banners {
		var product *models.Product
		var category *models.Category
		if banner.ProductID.Valid {
			product, _ = h.store.GetProductByID(c.Request.Context(), banner.ProductID.Int64)
		}
		if banner.CategoryID.Valid {
			category, _ = h.store.GetCategoryByID(c.Request.Context(), banner.CategoryID.Int64)
		}
		views = append(views, bannerView{
			DealBanner:  banner,
			Destination: service.BannerDestination(banner, product, category),
		})
	}

	c.JSON(http.StatusOK, gin.H{"banners": views})
}

// getCart returns the session cart with live prices
func (h *Handler) getCart(c *gin.Context) {
	sessionID := currentSessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusOK, gin.H{"items": []service.CartItemView{}, "total": 0})
		return
	}

	items, err := h.cart.Items(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}

	var total int64
	for _, item := range items {
		total += item.LineTotal
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

// addCartItem puts a product in the session cart
func (h *Handler) addCartItem(c *gin.Context) {
	sessionID := currentSessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Session required"})
		return
	}

	var req struct {
		ProductID int64 `json:"product_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.cart.Add(c.Request.Context(), sessionID, req.ProductID)
	switch err {
	case nil:
		c.JSON(http.StatusCreated, gin.H{"status": "added"})
	case models.ErrNotPurchasable:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Product is not available"})
	case models.ErrAlreadyInCart:
		c.JSON(http.StatusConflict, gin.H{"error": "Product already in cart"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add to cart"})
	}
}

// removeCartItem removes a product from the session cart
func (h *Handler) removeCartItem(c *gin.Context) {
	sessionID := currentSessionID(c)
	productID, err := strconv.ParseInt(c.Param("productID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	removed, err := h.cart.Remove(c.Request.Context(), sessionID, productID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove from cart"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not in cart"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// clearCart empties the session cart
func (h *Handler) clearCart(c *gin.Context) {
	if err := h.cart.Clear(c.Request.Context(), currentSessionID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cart"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// mergeCart unions the anonymous cart into the logged-in session at the login
// boundary
func (h *Handler) mergeCart(c *gin.Context) {
	viewer := currentViewer(c)
	if !viewer.Authenticated() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
		return
	}

	var req struct {
		OldSessionID string `json:"old_session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.cart.MergeOnLogin(c.Request.Context(), req.OldSessionID, currentSessionID(c), viewer.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to merge cart"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "merged"})
}

// startCheckout turns the session cart into a pending order and returns the
// gateway redirect
func (h *Handler) startCheckout(c *gin.Context) {
	viewer := currentViewer(c)
	result, err := h.checkout.Begin(c.Request.Context(), viewer, currentSessionID(c))
	switch err {
	case nil:
	case models.ErrLoginRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required", "redirect": "/login"})
		return
	case models.ErrEmptyCart:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Cart is empty"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start checkout"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// checkoutSuccess handles the return leg from the gateway
func (h *Handler) checkoutSuccess(c *gin.Context) {
	viewer := currentViewer(c)
	result, err := h.checkout.Success(c.Request.Context(), viewer, c.Param("orderNumber"), currentSessionID(c))
	switch err {
	case nil:
	case models.ErrLoginRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required", "redirect": "/login"})
		return
	case models.ErrOrderNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to confirm order"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// checkoutCancel handles the cancel leg from the gateway
func (h *Handler) checkoutCancel(c *gin.Context) {
	viewer := currentViewer(c)
	order, err := h.checkout.Cancel(c.Request.Context(), viewer)
	switch err {
	case nil:
	case models.ErrLoginRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required", "redirect": "/login"})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel checkout"})
		return
	}

	if order == nil {
		c.JSON(http.StatusOK, gin.H{"status": "nothing_to_cancel"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "order": order})
}

// listOrders returns the viewer's order history
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.checkout.Orders(c.Request.Context(), currentViewer(c))
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	case models.ErrLoginRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load orders"})
	}
}

// getOrder returns one of the viewer's orders with line items
func (h *Handler) getOrder(c *gin.Context) {
	order, items, err := h.checkout.OrderDetail(c.Request.Context(), currentViewer(c), c.Param("orderNumber"))
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
	case models.ErrLoginRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
	case models.ErrOrderNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
	}
}

// listPurchases returns everything the viewer is entitled to read, removed
// products included
func (h *Handler) listPurchases(c *gin.Context) {
	viewer := currentViewer(c)
	if !viewer.Authenticated() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
		return
	}

	entitlements, err := h.store.ListEntitlementsByUser(c.Request.Context(), viewer.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load purchases"})
		return
	}

	ids := make([]int64, 0, len(entitlements))
	for _, e := range entitlements {
		ids = append(ids, e.ProductID)
	}
	products, err := h.store.GetProductsByIDs(c.Request.Context(), ids)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load purchases"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entitlements": entitlements,
		"products":     products,
	})
}

// createReview posts a verified-buyer review
func (h *Handler) createReview(c *gin.Context) {
	var req struct {
		Rating int    `json:"rating" binding:"required,min=1,max=5"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	review, err := h.reviews.Create(c.Request.Context(), currentViewer(c), c.Param("slug"), req.Rating, req.Title, req.Body)
	switch err {
	case nil:
		c.JSON(http.StatusCreated, gin.H{"review": review})
	case models.ErrProductNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
	case models.ErrLoginRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
	case models.ErrProductRemoved:
		c.JSON(http.StatusConflict, gin.H{"error": "Product no longer accepts reviews"})
	case models.ErrNotEntitled:
		c.JSON(http.StatusForbidden, gin.H{"error": "Purchase required to review"})
	case models.ErrAlreadyReviewed:
		c.JSON(http.StatusConflict, gin.H{"error": "Product already reviewed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create review"})
	}
}

// updateReview edits the viewer's own review
func (h *Handler) updateReview(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}

	var req struct {
		Rating int    `json:"rating" binding:"required,min=1,max=5"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	review, err := h.reviews.Update(c.Request.Context(), currentViewer(c), reviewID, req.Rating, req.Title, req.Body)
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"review": review})
	case models.ErrLoginRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
	case models.ErrReviewNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
	case models.ErrProductRemoved:
		c.JSON(http.StatusConflict, gin.H{"error": "Reviews are frozen for this product"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update review"})
	}
}

// deleteReview removes the viewer's own review
func (h *Handler) deleteReview(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}

	err = h.reviews.Delete(c.Request.Context(), currentViewer(c), reviewID)
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	case models.ErrLoginRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
	case models.ErrReviewNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
	case models.ErrProductRemoved:
		c.JSON(http.StatusConflict, gin.H{"error": "Reviews are frozen for this product"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete review"})
	}
}

// listReviews returns a product's reviews
func (h *Handler) listReviews(c *gin.Context) {
	product, err := h.products.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err == models.ErrProductNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load product"})
		return
	}

	reviews, err := h.reviews.ListForProduct(c.Request.Context(), product.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load reviews"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

// removeProducts runs the bulk removal action
func (h *Handler) removeProducts(c *gin.Context) {
	var req struct {
		ProductIDs []int64 `json:"product_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	outcome, err := h.products.RemovePermanently(c.Request.Context(), req.ProductIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove products"})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// deleteProduct hard-deletes a product unless entitlements protect it
func (h *Handler) deleteProduct(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	err = h.products.Delete(c.Request.Context(), productID)
	switch err {
	case nil:
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	case models.ErrProductEntitled:
		c.JSON(http.StatusConflict, gin.H{"error": "Product has buyers, use the removal action"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete product"})
	}
}

// grantEntitlement creates an administrative grant
func (h *Handler) grantEntitlement(c *gin.Context) {
	var req struct {
		UserID    int64 `json:"user_id" binding:"required"`
		ProductID int64 `json:"product_id" binding:"required"`
		OrderID   int64 `json:"order_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	created, err := h.store.GrantEntitlement(c.Request.Context(), req.UserID, req.ProductID, req.OrderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to grant entitlement"})
		return
	}
	if created {
		c.JSON(http.StatusCreated, gin.H{"status": "granted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "already_granted"})
}

// deleteEntitlement revokes a single entitlement
func (h *Handler) deleteEntitlement(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid entitlement ID"})
		return
	}

	if err := h.store.DeleteEntitlement(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entitlement not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// saveBanner creates or updates a deal banner
func (h *Handler) saveBanner(c *gin.Context) {
	var req struct {
		ID              int64  `json:"id"`
		Title           string `json:"title" binding:"required"`
		Message         string `json:"message"`
		ProductID       int64  `json:"product_id"`
		CategoryID      int64  `json:"category_id"`
		URL             string `json:"url"`
		DiscountPercent int64  `json:"discount_percent"`
		Active          bool   `json:"active"`
		DisplayOrder    int    `json:"display_order"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	banner := &models.DealBanner{
		ID:              req.ID,
		Title:           req.Title,
		Message:         req.Message,
		URL:             req.URL,
		DiscountPercent: req.DiscountPercent,
		Active:          req.Active,
		DisplayOrder:    req.DisplayOrder,
	}
	if req.ProductID > 0 {
		banner.ProductID = sql.NullInt64{Int64: req.ProductID, Valid: true}
	}
	if req.CategoryID > 0 {
		banner.CategoryID = sql.NullInt64{Int64: req.CategoryID, Valid: true}
	}

	if err := h.products.SaveBanner(c.Request.Context(), banner); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save banner"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"banner": banner})
}

// deleteBanner removes a deal banner
func (h *Handler) deleteBanner(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid banner ID"})
		return
	}

	if err := h.products.DeleteBanner(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete banner"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
