package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
)

type entKey struct {
	userID    int64
	productID int64
}

// fakeStore is an in-memory stand-in for the order and entitlement tables.
// ApplyPaid and ApplyFailed mirror the real transition rules, including the
// serialization a row lock provides.
type fakeStore struct {
	mu           sync.Mutex
	orders       map[int64]*models.Order
	items        map[int64][]models.OrderLineItem
	entitlements map[entKey]int64
	nextID       int64
	err          error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:       make(map[int64]*models.Order),
		items:        make(map[int64][]models.OrderLineItem),
		entitlements: make(map[entKey]int64),
	}
}

func (f *fakeStore) addOrder(status string, userID int64, sessionID string, createdAt time.Time, productIDs ...int64) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	order := &models.Order{
		ID:          f.nextID,
		OrderNumber: fmt.Sprintf("ORDER%011d", f.nextID),
		UserID:      sql.NullInt64{Int64: userID, Valid: userID != 0},
		Status:      status,
		CreatedAt:   createdAt,
	}
	if sessionID != "" {
		order.GatewaySessionID = sql.NullString{String: sessionID, Valid: true}
	}
	f.orders[order.ID] = order

	for _, pid := range productIDs {
		f.items[order.ID] = append(f.items[order.ID], models.OrderLineItem{
			OrderID:      order.ID,
			ProductID:    sql.NullInt64{Int64: pid, Valid: true},
			ProductTitle: fmt.Sprintf("Product %d", pid),
			ProductPrice: 999,
			Quantity:     1,
			LineTotal:    999,
		})
		order.Total += 999
	}
	return order
}

func (f *fakeStore) addEntitlement(userID, productID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entitlements[entKey{userID, productID}] = 0
}

func (f *fakeStore) hasEntitlement(userID, productID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entitlements[entKey{userID, productID}]
	return ok
}

func (f *fakeStore) orderByID(id int64) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.OrderNumber == orderNumber {
			copied := *order
			return &copied, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (f *fakeStore) GetOrderForUser(ctx context.Context, orderNumber string, userID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.OrderNumber == orderNumber && order.UserID.Valid && order.UserID.Int64 == userID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (f *fakeStore) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []models.Order
	for _, order := range f.orders {
		if order.UserID.Valid && order.UserID.Int64 == userID {
			orders = append(orders, *order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (f *fakeStore) GetLineItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderLineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderLineItem(nil), f.items[orderID]...), nil
}

func (f *fakeStore) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderLineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	copied := *order
	f.orders[order.ID] = &copied
	for i := range items {
		items[i].OrderID = order.ID
	}
	f.items[order.ID] = append([]models.OrderLineItem(nil), items...)
	return nil
}

func (f *fakeStore) DeleteOrder(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, orderID)
	delete(f.items, orderID)
	return nil
}

func (f *fakeStore) SetGatewaySession(ctx context.Context, orderID int64, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	order.GatewaySessionID = sql.NullString{String: sessionID, Valid: true}
	return nil
}

func (f *fakeStore) BackfillGatewaySession(ctx context.Context, orderID int64, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	if sessionID != "" && (!order.GatewaySessionID.Valid || order.GatewaySessionID.String == "") {
		order.GatewaySessionID = sql.NullString{String: sessionID, Valid: true}
	}
	return nil
}

func (f *fakeStore) FailStalePendingOrders(ctx context.Context, userID int64, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var swept int64
	for _, order := range f.orders {
		if order.UserID.Valid && order.UserID.Int64 == userID &&
			order.Status == models.OrderStatusPending && order.CreatedAt.Before(cutoff) {
			order.Status = models.OrderStatusFailed
			swept++
		}
	}
	return swept, nil
}

func (f *fakeStore) GetReusablePendingOrder(ctx context.Context, userID int64, cutoff time.Time) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *models.Order
	for _, order := range f.orders {
		if !order.UserID.Valid || order.UserID.Int64 != userID {
			continue
		}
		if order.Status != models.OrderStatusPending || order.CreatedAt.Before(cutoff) {
			continue
		}
		if !order.GatewaySessionID.Valid || order.GatewaySessionID.String == "" {
			continue
		}
		if newest == nil || order.CreatedAt.After(newest.CreatedAt) {
			newest = order
		}
	}
	if newest == nil {
		return nil, nil
	}
	copied := *newest
	return &copied, nil
}

func (f *fakeStore) EntitledProductIDs(ctx context.Context, userID int64, productIDs []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var owned []int64
	for _, pid := range productIDs {
		if _, ok := f.entitlements[entKey{userID, pid}]; ok {
			owned = append(owned, pid)
		}
	}
	return owned, nil
}

func (f *fakeStore) ApplyPaid(ctx context.Context, orderID int64, sessionID, paymentIntentID string) (*store.PaidResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	order, ok := f.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}

	result := &store.PaidResult{}
	switch order.Status {
	case models.OrderStatusFailed:
		result.Order = *order
		result.TerminalFailed = true
		return result, nil

	case models.OrderStatusPaid:
		result.AlreadyPaid = true
		f.backfill(order, sessionID, paymentIntentID)

	default:
		order.Status = models.OrderStatusPaid
		f.backfill(order, sessionID, paymentIntentID)
		result.Transitioned = true
	}

	if order.UserID.Valid {
		for _, item := range f.items[orderID] {
			if !item.ProductID.Valid {
				continue
			}
			key := entKey{order.UserID.Int64, item.ProductID.Int64}
			if _, exists := f.entitlements[key]; !exists {
				f.entitlements[key] = order.ID
				result.GrantedProductIDs = append(result.GrantedProductIDs, item.ProductID.Int64)
			}
		}
	}

	result.Order = *order
	return result, nil
}

func (f *fakeStore) ApplyFailed(ctx context.Context, orderID int64, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok {
		return false, models.ErrOrderNotFound
	}
	if order.Status != models.OrderStatusPending {
		return false, nil
	}

	order.Status = models.OrderStatusFailed
	f.backfill(order, sessionID, "")
	return true, nil
}

func (f *fakeStore) backfill(order *models.Order, sessionID, paymentIntentID string) {
	if sessionID != "" && (!order.GatewaySessionID.Valid || order.GatewaySessionID.String == "") {
		order.GatewaySessionID = sql.NullString{String: sessionID, Valid: true}
	}
	if paymentIntentID != "" && (!order.GatewayPaymentIntentID.Valid || order.GatewayPaymentIntentID.String == "") {
		order.GatewayPaymentIntentID = sql.NullString{String: paymentIntentID, Valid: true}
	}
}

// fakePublisher records published events.
type fakePublisher struct {
	mu       sync.Mutex
	created  []*models.OrderCreatedEvent
	paid     []*models.OrderPaidEvent
	failed   []*models.OrderFailedEvent
	granted  []*models.EntitlementGrantedEvent
	publishE error
}

func (p *fakePublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, event)
	return p.publishE
}

func (p *fakePublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, event)
	return p.publishE
}

func (p *fakePublisher) PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, event)
	return p.publishE
}

func (p *fakePublisher) PublishEntitlementGranted(ctx context.Context, event *models.EntitlementGrantedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = append(p.granted, event)
	return p.publishE
}

func (p *fakePublisher) paidCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paid)
}

func (p *fakePublisher) grantedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.granted)
}

// fakeGateway is an in-memory payment provider.
type fakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*gateway.Session
	createErr error
	nextID    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*gateway.Session)}
}

func (g *fakeGateway) setSession(session *gateway.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[session.ID] = session
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, order *models.Order, items []models.OrderLineItem) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}

	g.nextID++
	session := &gateway.Session{
		ID:            fmt.Sprintf("cs_fake_%d", g.nextID),
		URL:           fmt.Sprintf("https://pay.example.com/cs_fake_%d", g.nextID),
		Status:        gateway.SessionStatusOpen,
		PaymentStatus: gateway.PaymentStatusUnpaid,
	}
	g.sessions[session.ID] = session
	copied := *session
	return &copied, nil
}

func (g *fakeGateway) RetrieveSession(ctx context.Context, sessionID string) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such session")
	}
	copied := *session
	return &copied, nil
}

func (g *fakeGateway) VerifySignature(payload []byte, signatureHeader string) (*gateway.Event, error) {
	return nil, errors.New("not used in service tests")
}

// fakeSessionCart is an in-memory session cart.
type fakeSessionCart struct {
	mu    sync.Mutex
	carts map[string]map[int64]bool
}

func newFakeSessionCart() *fakeSessionCart {
	return &fakeSessionCart{carts: make(map[string]map[int64]bool)}
}

func (f *fakeSessionCart) cart(sessionID string) map[int64]bool {
	if f.carts[sessionID] == nil {
		f.carts[sessionID] = make(map[int64]bool)
	}
	return f.carts[sessionID]
}

func (f *fakeSessionCart) AddCartEntry(ctx context.Context, sessionID string, productID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.cart(sessionID)
	if cart[productID] {
		return false, nil
	}
	cart[productID] = true
	return true, nil
}

func (f *fakeSessionCart) RemoveCartEntry(ctx context.Context, sessionID string, productID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.cart(sessionID)
	if !cart[productID] {
		return false, nil
	}
	delete(cart, productID)
	return true, nil
}

func (f *fakeSessionCart) GetCartProductIDs(ctx context.Context, sessionID string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id := range f.cart(sessionID) {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeSessionCart) PruneCartEntries(ctx context.Context, sessionID string, productIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := f.cart(sessionID)
	for _, id := range productIDs {
		delete(cart, id)
	}
	return nil
}

func (f *fakeSessionCart) SetCartProductIDs(ctx context.Context, sessionID string, productIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		cart[id] = true
	}
	f.carts[sessionID] = cart
	return nil
}

func (f *fakeSessionCart) MergeCarts(ctx context.Context, fromSessionID, toSessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from := f.cart(fromSessionID)
	to := f.cart(toSessionID)
	var moved int64
	for id := range from {
		if !to[id] {
			to[id] = true
			moved++
		}
	}
	delete(f.carts, fromSessionID)
	return moved, nil
}

func (f *fakeSessionCart) ClearCart(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, sessionID)
	return nil
}

// fakePersistentCart is an in-memory per-user cart mirror.
type fakePersistentCart struct {
	mu     sync.Mutex
	nextID int64
	carts  map[int64]*models.Cart
	items  map[int64][]int64
}

func newFakePersistentCart() *fakePersistentCart {
	return &fakePersistentCart{
		carts: make(map[int64]*models.Cart),
		items: make(map[int64][]int64),
	}
}

func (f *fakePersistentCart) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cart, ok := f.carts[userID]; ok {
		return cart, nil
	}
	f.nextID++
	cart := &models.Cart{ID: f.nextID, UserID: userID}
	f.carts[userID] = cart
	return cart, nil
}

func (f *fakePersistentCart) GetCartProductIDs(ctx context.Context, userID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cart, ok := f.carts[userID]
	if !ok {
		return nil, nil
	}
	return append([]int64(nil), f.items[cart.ID]...), nil
}

func (f *fakePersistentCart) ReplaceCartItems(ctx context.Context, cartID int64, productIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[cartID] = append([]int64(nil), productIDs...)
	return nil
}

// fakeProducts is an in-memory product catalog.
type fakeProducts struct {
	mu   sync.Mutex
	byID map[int64]*models.Product
}

func newFakeProducts(products ...*models.Product) *fakeProducts {
	f := &fakeProducts{byID: make(map[int64]*models.Product)}
	for _, p := range products {
		f.byID[p.ID] = p
	}
	return f
}

func (f *fakeProducts) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.byID[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	copied := *product
	return &copied, nil
}

func (f *fakeProducts) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var products []models.Product
	for _, id := range ids {
		if product, ok := f.byID[id]; ok {
			products = append(products, *product)
		}
	}
	return products, nil
}

// fakePricer returns fixed prices, falling back to the list price.
type fakePricer struct {
	prices map[int64]int64
}

func (f *fakePricer) DiscountedPrice(ctx context.Context, product *models.Product) (int64, error) {
	if price, ok := f.prices[product.ID]; ok {
		return price, nil
	}
	return product.Price, nil
}

// fakeEntitlements answers ownership checks and counts lookups.
type fakeEntitlements struct {
	mu      sync.Mutex
	owned   map[entKey]bool
	lookups int
}

func newFakeEntitlements() *fakeEntitlements {
	return &fakeEntitlements{owned: make(map[entKey]bool)}
}

func (f *fakeEntitlements) grant(userID, productID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owned[entKey{userID, productID}] = true
}

func (f *fakeEntitlements) HasEntitlement(ctx context.Context, userID, productID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.owned[entKey{userID, productID}], nil
}

// fakeAccessCache is an in-memory access decision cache.
type fakeAccessCache struct {
	mu      sync.Mutex
	entries map[entKey]string
}

func newFakeAccessCache() *fakeAccessCache {
	return &fakeAccessCache{entries: make(map[entKey]string)}
}

func (f *fakeAccessCache) GetCachedAccess(ctx context.Context, userID, productID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[entKey{userID, productID}], nil
}

func (f *fakeAccessCache) CacheAccess(ctx context.Context, userID, productID int64, level string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entKey{userID, productID}] = level
	return nil
}
