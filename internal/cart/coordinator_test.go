package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/money"
)

type fakeAPI struct {
	mu        sync.Mutex
	cart      Cart
	getErr    error
	updateErr error
	removeErr error
	couponErr error
	addErr    error

	updateStarted chan struct{}
	updateRelease chan struct{}
	removeStarted chan struct{}
	removeRelease chan struct{}

	updates []int
	adds    []int
}

func (f *fakeAPI) Get(context.Context, apiclient.Credentials) (Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return Cart{}, f.getErr
	}
	return f.cart.clone(), nil
}

func (f *fakeAPI) AddItem(_ context.Context, _ apiclient.Credentials, variantID int64, qty int, mode AddMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, qty)
	return f.addErr
}

func (f *fakeAPI) UpdateItem(_ context.Context, _ apiclient.Credentials, itemID int64, qty int) error {
	if f.updateStarted != nil {
		f.updateStarted <- struct{}{}
		<-f.updateRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, qty)
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.cart.Items {
		if f.cart.Items[i].ID == itemID {
			f.cart.Items[i].Qty = qty
		}
	}
	return nil
}

func (f *fakeAPI) RemoveItem(_ context.Context, _ apiclient.Credentials, itemID int64) error {
	if f.removeStarted != nil {
		f.removeStarted <- struct{}{}
		<-f.removeRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	kept := f.cart.Items[:0]
	for _, it := range f.cart.Items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	f.cart.Items = kept
	return nil
}

func (f *fakeAPI) ApplyCoupon(_ context.Context, _ apiclient.Credentials, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.couponErr != nil {
		return f.couponErr
	}
	if code == "" {
		f.cart.Coupon = nil
		return nil
	}
	f.cart.Coupon = &code
	return nil
}

func (f *fakeAPI) lastUpdate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return 0
	}
	return f.updates[len(f.updates)-1]
}

func sampleCart() Cart {
	expected := "2024-06-01"
	return Cart{
		Version: "2024-05-01T10:00:00.000000Z",
		Items: []Item{
			{ID: 1, VariantID: 11, SKU: "TEE-M", Name: "Tee", Attributes: map[string]any{"size": "M"}, Price: money.MustParse("499.00"), Qty: 2},
			{ID: 2, VariantID: 12, SKU: "CAP", Name: "Cap", Price: money.MustParse("299.00"), Qty: 1, Backordered: true, ExpectedDate: &expected},
		},
		Subtotal:   money.MustParse("1297.00"),
		GrandTotal: money.MustParse("1297.00"),
	}
}

func loadedCoordinator(t *testing.T, api *fakeAPI) *Coordinator {
	t.Helper()
	c := NewCoordinator(api, 99)
	require.NoError(t, c.Reload(context.Background(), auth.NewMemoryStore("")))
	return c
}

func apiError(status int, detail string) error {
	return fmt.Errorf("cart: update item: %w", &apiclient.Error{Status: status, Detail: detail})
}

func TestChangeQuantityRollsBackExactly(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)
	before := c.Snapshot()

	api.updateErr = apiError(http.StatusInternalServerError, "")
	err := c.ChangeQuantity(context.Background(), nil, 1, 5)

	require.Error(t, err)
	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, "Could not update quantity.", c.LastError())
	assert.Equal(t, "Could not update quantity.", Message(err))
	assert.False(t, c.Busy(1))
}

func TestChangeQuantityClamps(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)
	ctx := context.Background()

	require.NoError(t, c.ChangeQuantity(ctx, nil, 1, 0))
	assert.Equal(t, 1, api.lastUpdate())

	require.NoError(t, c.ChangeQuantity(ctx, nil, 1, -4))
	assert.Equal(t, 1, api.lastUpdate())

	require.NoError(t, c.ChangeQuantity(ctx, nil, 1, 150))
	assert.Equal(t, 99, api.lastUpdate())

	api.mu.Lock()
	api.cart.MaxQty = 5
	api.mu.Unlock()
	require.NoError(t, c.Reload(ctx, nil))
	require.NoError(t, c.ChangeQuantity(ctx, nil, 1, 10))
	assert.Equal(t, 5, api.lastUpdate())
}

func TestChangeQuantityBusyGating(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)
	api.updateStarted = make(chan struct{})
	api.updateRelease = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- c.ChangeQuantity(context.Background(), nil, 1, 3)
	}()
	<-api.updateStarted

	assert.True(t, c.Busy(1))
	assert.False(t, c.Busy(2))
	item, ok := c.Snapshot().Item(1)
	require.True(t, ok)
	assert.Equal(t, 3, item.Qty, "optimistic quantity visible while in flight")

	assert.ErrorIs(t, c.ChangeQuantity(context.Background(), nil, 1, 4), ErrBusy)
	assert.ErrorIs(t, c.RemoveItem(context.Background(), nil, 1), ErrBusy)

	close(api.updateRelease)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("change quantity did not finish")
	}
	assert.False(t, c.Busy(1))
}

func TestChangeQuantityStockConflict(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)
	before := c.Snapshot()

	api.updateErr = apiError(http.StatusConflict, "Insufficient stock for TEE-M. Available: 3.")
	err := c.ChangeQuantity(context.Background(), nil, 1, 8)

	require.Error(t, err)
	assert.Contains(t, c.LastError(), "3")
	assert.Contains(t, c.LastError(), "left")
	assert.Equal(t, before, c.Snapshot())
}

func TestRateLimitWordingIgnoresDetail(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)
	ctx := context.Background()

	api.updateErr = apiError(http.StatusTooManyRequests, "Request was throttled. Available: 2")
	require.Error(t, c.ChangeQuantity(ctx, nil, 1, 3))
	assert.Equal(t, apiclient.MsgSlowDown, c.LastError())

	api.couponErr = apiError(http.StatusTooManyRequests, "Request was throttled.")
	require.Error(t, c.ApplyCoupon(ctx, nil, "SAVE10"))
	assert.Equal(t, apiclient.MsgSlowDown, c.LastError())

	api.removeErr = apiError(http.StatusTooManyRequests, "Request was throttled.")
	require.Error(t, c.RemoveItem(ctx, nil, 2))
	assert.Equal(t, apiclient.MsgSlowDown, c.LastError())
}

func TestApplyThenRemoveCoupon(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)
	ctx := context.Background()
	require.Nil(t, c.Snapshot().Coupon)

	require.NoError(t, c.ApplyCoupon(ctx, nil, " SAVE10 "))
	assert.Equal(t, "SAVE10", c.Snapshot().CouponCode())

	require.NoError(t, c.RemoveCoupon(ctx, nil))
	assert.Nil(t, c.Snapshot().Coupon)
}

func TestApplyCouponServerDetail(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)

	api.couponErr = apiError(http.StatusBadRequest, "Invalid or expired coupon.")
	require.Error(t, c.ApplyCoupon(context.Background(), nil, "NOPE"))
	assert.Equal(t, "Invalid or expired coupon.", c.LastError())

	api.couponErr = apiError(http.StatusBadRequest, "")
	require.Error(t, c.ApplyCoupon(context.Background(), nil, "NOPE"))
	assert.Equal(t, "Could not apply coupon.", c.LastError())

	require.Error(t, c.ApplyCoupon(context.Background(), nil, "  "))
}

func TestReloadFailureZeroesCart(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)
	require.False(t, c.Snapshot().Empty())

	api.getErr = fmt.Errorf("cart: get: %w", apiclient.ErrTransport)
	err := c.Reload(context.Background(), nil)

	require.Error(t, err)
	snap := c.Snapshot()
	assert.True(t, snap.Empty())
	assert.True(t, snap.Subtotal.IsZero())
	assert.True(t, snap.GrandTotal.IsZero())
	assert.Nil(t, snap.Coupon)
	assert.NotEmpty(t, c.LastError())
}

func TestReloadIgnoresOlderVersion(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)
	current := c.Snapshot()

	api.mu.Lock()
	api.cart.Version = "2024-05-01T09:59:59Z"
	api.cart.Items[0].Qty = 7
	api.mu.Unlock()
	require.NoError(t, c.Reload(context.Background(), nil))
	assert.Equal(t, current, c.Snapshot())

	api.mu.Lock()
	api.cart.Version = "opaque-v2"
	api.mu.Unlock()
	require.NoError(t, c.Reload(context.Background(), nil))
	item, _ := c.Snapshot().Item(1)
	assert.Equal(t, 7, item.Qty, "opaque versions are always applied")
}

func TestRemoveItemKeepsLineUntilReload(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		cart:          sampleCart(),
		removeStarted: make(chan struct{}),
		removeRelease: make(chan struct{}),
	}
	c := loadedCoordinator(t, api)
	before := c.Snapshot()

	var notified int
	unsubscribe := c.Subscribe(func(Cart) { notified++ })
	defer unsubscribe()

	api.removeErr = apiError(http.StatusInternalServerError, "boom")
	done := make(chan error, 1)
	go func() { done <- c.RemoveItem(context.Background(), nil, 2) }()

	<-api.removeStarted
	_, present := c.Snapshot().Item(2)
	assert.True(t, present, "line must stay while the delete is in flight")
	assert.True(t, c.Busy(2))
	assert.ErrorIs(t, c.RemoveItem(context.Background(), nil, 2), ErrBusy)
	close(api.removeRelease)

	err := <-done
	require.Error(t, err)
	assert.Equal(t, before, c.Snapshot())
	assert.Equal(t, "Could not remove item.", c.LastError())
	assert.False(t, c.Busy(2))
	assert.Zero(t, notified)
}

func TestRemoveItemReloadsOnSuccess(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)

	require.NoError(t, c.RemoveItem(context.Background(), nil, 2))
	_, ok := c.Snapshot().Item(2)
	assert.False(t, ok)
	assert.Empty(t, c.LastError())

	api.removeErr = apiError(http.StatusTooManyRequests, "throttled")
	err := c.RemoveItem(context.Background(), nil, 1)
	require.Error(t, err)
	assert.Equal(t, apiclient.MsgSlowDown, Message(err))
	_, ok = c.Snapshot().Item(1)
	assert.True(t, ok)
}

func TestUnknownItem(t *testing.T) {
	t.Parallel()

	c := loadedCoordinator(t, &fakeAPI{cart: sampleCart()})
	assert.ErrorIs(t, c.ChangeQuantity(context.Background(), nil, 404, 2), ErrUnknownItem)
	assert.Equal(t, "That item is no longer in your cart.", Message(ErrUnknownItem))
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	c := loadedCoordinator(t, &fakeAPI{cart: sampleCart()})
	snap := c.Snapshot()
	snap.Items[0].Qty = 50
	snap.Items[0].Attributes["size"] = "XL"

	again := c.Snapshot()
	assert.Equal(t, 2, again.Items[0].Qty)
	assert.Equal(t, "M", again.Items[0].Attributes["size"])
}

func TestAddItemErrors(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{cart: sampleCart()}
	c := loadedCoordinator(t, api)

	api.addErr = fmt.Errorf("cart: add: %w", &apiclient.Error{Status: http.StatusBadRequest, Fields: map[string][]string{"qty": {"Out of stock"}}})
	err := c.AddItem(context.Background(), nil, 11, 1)
	require.Error(t, err)
	assert.Equal(t, "Out of stock", Message(err))

	api.addErr = nil
	require.NoError(t, c.AddItem(context.Background(), nil, 11, 500))
	assert.Equal(t, []int{1, 99}, api.adds)
}

func TestMessageFallbacks(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Message(nil))
	assert.Equal(t, "That item is still updating.", Message(ErrBusy))
	assert.Equal(t, msgLoad, Message(errors.New("boom")))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := NewRegistry(&fakeAPI{}, 99, time.Minute)
	r.now = func() time.Time { return now }

	a := r.For("visitor-a")
	assert.Same(t, a, r.For("visitor-a"))
	assert.NotSame(t, a, r.For("visitor-b"))

	now = now.Add(30 * time.Second)
	r.For("visitor-b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	r.Forget("visitor-b")
	assert.Equal(t, 0, r.Len())
}
