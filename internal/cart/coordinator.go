package cart

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/platform/observability"
)

var (
	// ErrBusy is returned when the line already has a mutation in flight.
	ErrBusy = errors.New("cart: item busy")
	// ErrUnknownItem is returned when the line is not in the current snapshot.
	ErrUnknownItem = errors.New("cart: unknown item")
)

const (
	msgLoad         = "Could not load your cart."
	msgUpdate       = "Could not update quantity."
	msgRemove       = "Could not remove item."
	msgCoupon       = "Could not apply coupon."
	msgCouponRemove = "Could not remove coupon."
	msgAdd          = "Could not add to cart."
)

// API is the backend surface a Coordinator drives.
type API interface {
	Get(ctx context.Context, creds apiclient.Credentials) (Cart, error)
	AddItem(ctx context.Context, creds apiclient.Credentials, variantID int64, qty int, mode AddMode) error
	UpdateItem(ctx context.Context, creds apiclient.Credentials, itemID int64, qty int) error
	RemoveItem(ctx context.Context, creds apiclient.Credentials, itemID int64) error
	ApplyCoupon(ctx context.Context, creds apiclient.Credentials, code string) error
}

// Error carries the user-facing message for a failed cart operation.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string { return "cart: " + e.Op + ": " + e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Message extracts the user-facing text from err.
func Message(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Message
	}
	switch {
	case errors.Is(err, ErrBusy):
		return "That item is still updating."
	case errors.Is(err, ErrUnknownItem):
		return "That item is no longer in your cart."
	case err != nil:
		return apiclient.Describe(err, msgLoad)
	}
	return ""
}

// Coordinator keeps one visitor's cart snapshot consistent with the server.
// Quantity edits are applied optimistically: the snapshot is visible to every
// reader as soon as the write lands, and a failed write restores the snapshot
// captured before it, exactly. Removals wait for the server.
type Coordinator struct {
	api    API
	maxQty int

	mu       sync.Mutex
	snapshot Cart
	loaded   bool
	busy     map[int64]bool
	lastErr  string
	subs     map[int]func(Cart)
	nextSub  int
}

// NewCoordinator returns a Coordinator. maxQty is the line limit used when the cart carries none.
func NewCoordinator(api API, maxQty int) *Coordinator {
	if maxQty <= 0 {
		maxQty = 99
	}
	return &Coordinator{
		api:    api,
		maxQty: maxQty,
		busy:   make(map[int64]bool),
		subs:   make(map[int]func(Cart)),
	}
}

// Snapshot returns a copy of the current cart.
func (c *Coordinator) Snapshot() Cart {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.clone()
}

// Loaded reports whether a reload has ever completed (successfully or not).
func (c *Coordinator) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Busy reports whether the line has a mutation in flight.
func (c *Coordinator) Busy(itemID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[itemID]
}

// LastError returns the message from the most recent failed operation.
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Subscribe registers fn to receive every new snapshot. The returned func unregisters it.
func (c *Coordinator) Subscribe(fn func(Cart)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Clamp bounds qty to [1, max], where max is the cart's own limit or the configured default.
func (c *Coordinator) Clamp(qty int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clampLocked(qty)
}

func (c *Coordinator) clampLocked(qty int) int {
	limit := c.maxQty
	if c.snapshot.MaxQty > 0 {
		limit = c.snapshot.MaxQty
	}
	if qty < 1 {
		return 1
	}
	if qty > limit {
		return limit
	}
	return qty
}

// Reload fetches the server cart. On failure the snapshot becomes an empty cart.
func (c *Coordinator) Reload(ctx context.Context, creds apiclient.Credentials) error {
	fresh, err := c.api.Get(ctx, creds)
	if err != nil {
		msg := apiclient.Describe(err, msgLoad)
		observability.FromContext(ctx).Warn("cart: reload failed", zap.Error(err))
		c.set(Cart{}, msg)
		return &Error{Op: "reload", Message: msg, Err: err}
	}
	c.mu.Lock()
	stale := c.loaded && fresh.olderThan(c.snapshot)
	c.mu.Unlock()
	if stale {
		observability.FromContext(ctx).Debug("cart: ignoring stale reload", zap.String("version", fresh.Version))
		return nil
	}
	c.set(fresh, "")
	return nil
}

// ChangeQuantity sets a line's quantity optimistically, then confirms with the server.
func (c *Coordinator) ChangeQuantity(ctx context.Context, creds apiclient.Credentials, itemID int64, qty int) error {
	c.mu.Lock()
	idx := c.indexLocked(itemID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownItem
	}
	if c.busy[itemID] {
		c.mu.Unlock()
		return ErrBusy
	}
	qty = c.clampLocked(qty)
	prev := c.snapshot.clone()
	next := c.snapshot.clone()
	next.Items[idx].Qty = qty
	c.busy[itemID] = true
	c.lastErr = ""
	c.snapshot = next
	subs := c.subscribersLocked()
	c.mu.Unlock()
	notify(subs, next)

	defer c.release(itemID)

	if err := c.api.UpdateItem(ctx, creds, itemID, qty); err != nil {
		msg := quantityMessage(err)
		observability.FromContext(ctx).Info("cart: quantity change rolled back", zap.Int64("item_id", itemID), zap.Int("qty", qty), zap.Error(err))
		c.set(prev, msg)
		return &Error{Op: "change quantity", Message: msg, Err: err}
	}
	return c.Reload(ctx, creds)
}

// RemoveItem deletes a line on the server. The line stays in the snapshot until
// the reload that follows a successful delete; a failure leaves the snapshot as is.
func (c *Coordinator) RemoveItem(ctx context.Context, creds apiclient.Credentials, itemID int64) error {
	c.mu.Lock()
	if c.indexLocked(itemID) < 0 {
		c.mu.Unlock()
		return ErrUnknownItem
	}
	if c.busy[itemID] {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy[itemID] = true
	c.lastErr = ""
	c.mu.Unlock()

	defer c.release(itemID)

	if err := c.api.RemoveItem(ctx, creds, itemID); err != nil {
		msg := msgRemove
		if apiclient.IsRateLimited(err) {
			msg = apiclient.MsgSlowDown
		}
		observability.FromContext(ctx).Info("cart: remove failed", zap.Int64("item_id", itemID), zap.Error(err))
		c.setError(msg)
		return &Error{Op: "remove item", Message: msg, Err: err}
	}
	return c.Reload(ctx, creds)
}

// ApplyCoupon applies code and reloads so totals reflect the discount.
func (c *Coordinator) ApplyCoupon(ctx context.Context, creds apiclient.Credentials, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		msg := "Enter a coupon code."
		c.setError(msg)
		return &Error{Op: "apply coupon", Message: msg}
	}
	if err := c.api.ApplyCoupon(ctx, creds, code); err != nil {
		msg := couponMessage(err, msgCoupon)
		c.setError(msg)
		return &Error{Op: "apply coupon", Message: msg, Err: err}
	}
	return c.Reload(ctx, creds)
}

// RemoveCoupon clears the applied coupon and reloads.
func (c *Coordinator) RemoveCoupon(ctx context.Context, creds apiclient.Credentials) error {
	if err := c.api.ApplyCoupon(ctx, creds, ""); err != nil {
		msg := couponMessage(err, msgCouponRemove)
		c.setError(msg)
		return &Error{Op: "remove coupon", Message: msg, Err: err}
	}
	return c.Reload(ctx, creds)
}

// AddItem adds qty of a variant (incrementing an existing line) and reloads.
func (c *Coordinator) AddItem(ctx context.Context, creds apiclient.Credentials, variantID int64, qty int) error {
	qty = c.Clamp(qty)
	if err := c.api.AddItem(ctx, creds, variantID, qty, AddInc); err != nil {
		msg := quantityMessage(err)
		if !apiclient.IsConflict(err) && !apiclient.IsRateLimited(err) {
			msg = apiclient.Describe(err, msgAdd)
		}
		c.setError(msg)
		return &Error{Op: "add item", Message: msg, Err: err}
	}
	return c.Reload(ctx, creds)
}

func (c *Coordinator) indexLocked(itemID int64) int {
	for i, it := range c.snapshot.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Coordinator) release(itemID int64) {
	c.mu.Lock()
	delete(c.busy, itemID)
	c.mu.Unlock()
}

func (c *Coordinator) set(next Cart, msg string) {
	c.mu.Lock()
	c.snapshot = next
	c.loaded = true
	c.lastErr = msg
	subs := c.subscribersLocked()
	c.mu.Unlock()
	notify(subs, next)
}

func (c *Coordinator) setError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Coordinator) subscribersLocked() []func(Cart) {
	if len(c.subs) == 0 {
		return nil
	}
	out := make([]func(Cart), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Cart), snapshot Cart) {
	for _, fn := range subs {
		fn(snapshot.clone())
	}
}

func quantityMessage(err error) string {
	switch apiclient.StatusOf(err) {
	case http.StatusConflict:
		return apiclient.StockMessage(err)
	case http.StatusTooManyRequests:
		return apiclient.MsgSlowDown
	}
	return apiclient.Describe(err, msgUpdate)
}

func couponMessage(err error, fallback string) string {
	if apiclient.IsRateLimited(err) {
		return apiclient.MsgSlowDown
	}
	if apiErr, ok := apiclient.AsError(err); ok && strings.TrimSpace(apiErr.Detail) != "" {
		return strings.TrimSpace(apiErr.Detail)
	}
	return fallback
}
