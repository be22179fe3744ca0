package service

import (
	"context"
	"testing"
	"time"

	"storefront-service/config"
	"storefront-service/internal/gateway"
	"storefront-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutFixture struct {
	store    *fakeStore
	sessions *fakeSessionCart
	products *fakeProducts
	pricer   *fakePricer
	gateway  *fakeGateway
	pub      *fakePublisher
	cart     *CartService
	checkout *CheckoutService
}

func newCheckoutFixture(products ...*models.Product) *checkoutFixture {
	f := &checkoutFixture{
		store:    newFakeStore(),
		sessions: newFakeSessionCart(),
		products: newFakeProducts(products...),
		pricer:   &fakePricer{prices: map[int64]int64{}},
		gateway:  newFakeGateway(),
		pub:      &fakePublisher{},
	}
	f.cart = NewCartService(f.sessions, newFakePersistentCart(), f.products, f.pricer)
	reconciler := NewReconciler(f.store, f.pub)
	f.checkout = NewCheckoutService(
		f.store, f.cart, f.products, f.pricer,
		f.gateway, reconciler, f.pub,
		config.BusinessConfig{
			StalePendingAge: time.Hour,
			ReuseWindow:     15 * time.Minute,
			CancelWindow:    30 * time.Minute,
		})
	return f
}

func buyer() models.Viewer {
	return models.Viewer{UserID: 7, EmailVerified: true}
}

func activeProduct(id int64, price int64) *models.Product {
	return &models.Product{ID: id, Title: "Archive Entry", Slug: "entry", Price: price, Active: true}
}

func TestBeginRequiresLogin(t *testing.T) {
	f := newCheckoutFixture()
	_, err := f.checkout.Begin(context.Background(), models.Viewer{}, "sess")
	assert.ErrorIs(t, err, models.ErrLoginRequired)
}

func TestBeginEmptyCart(t *testing.T) {
	f := newCheckoutFixture()
	_, err := f.checkout.Begin(context.Background(), buyer(), "sess")
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestBeginCreatesOrderWithFrozenPrices(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999), activeProduct(2, 1500))
	f.pricer.prices[2] = 1200

	ctx := context.Background()
	require.NoError(t, f.cart.Add(ctx, "sess", 1))
	require.NoError(t, f.cart.Add(ctx, "sess", 2))

	result, err := f.checkout.Begin(ctx, buyer(), "sess")
	require.NoError(t, err)

	require.NotNil(t, result.Order)
	assert.False(t, result.Reused)
	assert.NotEmpty(t, result.RedirectURL)
	assert.Len(t, result.Order.OrderNumber, 16)
	assert.Equal(t, models.OrderStatusPending, result.Order.Status)
	assert.Equal(t, int64(999+1200), result.Order.Total, "line items freeze the discounted price")
	assert.True(t, result.Order.GatewaySessionID.Valid)

	items, err := f.store.GetLineItemsByOrderID(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1200), items[1].ProductPrice)

	require.Len(t, f.pub.created, 1)
	assert.Equal(t, result.Order.ID, f.pub.created[0].OrderID)
}

func TestBeginDropsOwnedAndUnpurchasable(t *testing.T) {
	inactive := activeProduct(3, 500)
	inactive.Active = false
	f := newCheckoutFixture(activeProduct(1, 999), activeProduct(2, 999), inactive)
	f.store.addEntitlement(7, 2)

	ctx := context.Background()
	require.NoError(t, f.sessions.SetCartProductIDs(ctx, "sess", []int64{1, 2, 3}))

	result, err := f.checkout.Begin(ctx, buyer(), "sess")
	require.NoError(t, err)

	items, err := f.store.GetLineItemsByOrderID(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].ProductID.Int64)

	// Dropped items are pruned from the cart too.
	ids, err := f.sessions.GetCartProductIDs(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestBeginAllItemsOwnedYieldsEmptyCart(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	f.store.addEntitlement(7, 1)

	ctx := context.Background()
	require.NoError(t, f.sessions.SetCartProductIDs(ctx, "sess", []int64{1}))

	_, err := f.checkout.Begin(ctx, buyer(), "sess")
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestBeginReusesRecentPendingOrder(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	existing := f.store.addOrder(models.OrderStatusPending, 7, "cs_live", time.Now().Add(-5*time.Minute), 1)
	f.gateway.setSession(&gateway.Session{
		ID:            "cs_live",
		URL:           "https://pay.example.com/cs_live",
		Status:        gateway.SessionStatusOpen,
		PaymentStatus: gateway.PaymentStatusUnpaid,
	})

	ctx := context.Background()
	require.NoError(t, f.cart.Add(ctx, "sess", 1))

	result, err := f.checkout.Begin(ctx, buyer(), "sess")
	require.NoError(t, err)

	assert.True(t, result.Reused)
	assert.Equal(t, existing.ID, result.Order.ID)
	assert.Equal(t, "https://pay.example.com/cs_live", result.RedirectURL)
	assert.Equal(t, 1, f.store.orderCount(), "no duplicate order")
}

func TestBeginReusedSessionAlreadyPaid(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	existing := f.store.addOrder(models.OrderStatusPending, 7, "cs_paid", time.Now().Add(-5*time.Minute), 1)
	f.gateway.setSession(&gateway.Session{
		ID:            "cs_paid",
		Status:        gateway.SessionStatusComplete,
		PaymentStatus: gateway.PaymentStatusPaid,
	})

	ctx := context.Background()
	require.NoError(t, f.cart.Add(ctx, "sess", 1))

	result, err := f.checkout.Begin(ctx, buyer(), "sess")
	require.NoError(t, err)

	assert.True(t, result.AlreadyPaid)
	assert.Equal(t, models.OrderStatusPaid, f.store.orderByID(existing.ID).Status)
	assert.True(t, f.store.hasEntitlement(7, 1))
}

func TestBeginExpiredSessionStartsFresh(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	stale := f.store.addOrder(models.OrderStatusPending, 7, "cs_dead", time.Now().Add(-5*time.Minute), 1)
	f.gateway.setSession(&gateway.Session{
		ID:            "cs_dead",
		Status:        gateway.SessionStatusExpired,
		PaymentStatus: gateway.PaymentStatusUnpaid,
	})

	ctx := context.Background()
	require.NoError(t, f.cart.Add(ctx, "sess", 1))

	result, err := f.checkout.Begin(ctx, buyer(), "sess")
	require.NoError(t, err)

	assert.False(t, result.Reused)
	assert.NotEqual(t, stale.ID, result.Order.ID)
	assert.Equal(t, models.OrderStatusFailed, f.store.orderByID(stale.ID).Status)
}

func TestBeginGatewayFailureRollsBack(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	f.gateway.createErr = assert.AnError

	ctx := context.Background()
	require.NoError(t, f.cart.Add(ctx, "sess", 1))

	_, err := f.checkout.Begin(ctx, buyer(), "sess")
	require.Error(t, err)
	assert.Equal(t, 0, f.store.orderCount(), "failed checkout leaves no order behind")
}

func TestBeginSweepsStaleOrders(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	old := f.store.addOrder(models.OrderStatusPending, 7, "cs_old", time.Now().Add(-2*time.Hour), 1)

	ctx := context.Background()
	require.NoError(t, f.cart.Add(ctx, "sess", 1))

	result, err := f.checkout.Begin(ctx, buyer(), "sess")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusFailed, f.store.orderByID(old.ID).Status)
	assert.NotEqual(t, old.ID, result.Order.ID)
}

func TestSuccessConfirmsPendingOrder(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	order := f.store.addOrder(models.OrderStatusPending, 7, "cs_1", time.Now(), 1)
	f.gateway.setSession(&gateway.Session{
		ID:              "cs_1",
		Status:          gateway.SessionStatusComplete,
		PaymentStatus:   gateway.PaymentStatusPaid,
		PaymentIntentID: "pi_1",
	})

	ctx := context.Background()
	require.NoError(t, f.sessions.SetCartProductIDs(ctx, "sess", []int64{1, 2}))

	result, err := f.checkout.Success(ctx, buyer(), order.OrderNumber, "sess")
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	got := f.store.orderByID(order.ID)
	assert.Equal(t, models.OrderStatusPaid, got.Status)
	assert.Equal(t, "pi_1", got.GatewayPaymentIntentID.String)
	assert.True(t, f.store.hasEntitlement(7, 1))

	// The purchased product is cleared from the cart, the rest stays.
	ids, err := f.sessions.GetCartProductIDs(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestSuccessPendingUnpaidStaysPending(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	order := f.store.addOrder(models.OrderStatusPending, 7, "cs_1", time.Now(), 1)
	f.gateway.setSession(&gateway.Session{
		ID:            "cs_1",
		Status:        gateway.SessionStatusOpen,
		PaymentStatus: gateway.PaymentStatusUnpaid,
	})

	result, err := f.checkout.Success(context.Background(), buyer(), order.OrderNumber, "sess")
	require.NoError(t, err)

	assert.False(t, result.Confirmed)
	assert.Equal(t, models.OrderStatusPending, f.store.orderByID(order.ID).Status)
	assert.False(t, f.store.hasEntitlement(7, 1))
}

func TestSuccessAlreadyPaidRepairsGrants(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	order := f.store.addOrder(models.OrderStatusPaid, 7, "cs_1", time.Now(), 1)

	result, err := f.checkout.Success(context.Background(), buyer(), order.OrderNumber, "sess")
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	assert.True(t, f.store.hasEntitlement(7, 1), "missing grant is repaired on revisit")
}

func TestSuccessWrongUser(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	order := f.store.addOrder(models.OrderStatusPaid, 7, "cs_1", time.Now(), 1)

	other := models.Viewer{UserID: 8, EmailVerified: true}
	_, err := f.checkout.Success(context.Background(), other, order.OrderNumber, "sess")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestCancelFailsRecentPending(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	order := f.store.addOrder(models.OrderStatusPending, 7, "cs_1", time.Now().Add(-5*time.Minute), 1)

	cancelled, err := f.checkout.Cancel(context.Background(), buyer())
	require.NoError(t, err)

	require.NotNil(t, cancelled)
	assert.Equal(t, order.ID, cancelled.ID)
	assert.Equal(t, models.OrderStatusFailed, f.store.orderByID(order.ID).Status)
	require.Len(t, f.pub.failed, 1)
	assert.Equal(t, FailReasonCancelled, f.pub.failed[0].Reason)
}

func TestCancelOutsideWindowDoesNothing(t *testing.T) {
	f := newCheckoutFixture(activeProduct(1, 999))
	order := f.store.addOrder(models.OrderStatusPending, 7, "cs_1", time.Now().Add(-time.Hour), 1)

	cancelled, err := f.checkout.Cancel(context.Background(), buyer())
	require.NoError(t, err)

	assert.Nil(t, cancelled)
	assert.Equal(t, models.OrderStatusPending, f.store.orderByID(order.ID).Status)
}
