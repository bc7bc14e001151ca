package ui

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/checkout"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
	"finitefield.org/storefront/internal/orders"
)

const quoteIdle = 30 * time.Minute

// quoteBook keeps one quote tracker per visitor so a chosen shipping method
// survives subtotal changes while it is still offered.
type quoteBook struct {
	quoter checkout.Quoter
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*quoteEntry
}

type quoteEntry struct {
	quotes   *checkout.Quotes
	lastSeen time.Time
}

func newQuoteBook(quoter checkout.Quoter, now func() time.Time) *quoteBook {
	return &quoteBook{quoter: quoter, now: now, entries: make(map[string]*quoteEntry)}
}

func (b *quoteBook) For(sessionID string) *checkout.Quotes {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for id, e := range b.entries {
		if now.Sub(e.lastSeen) > quoteIdle {
			delete(b.entries, id)
		}
	}
	e, ok := b.entries[sessionID]
	if !ok {
		e = &quoteEntry{quotes: checkout.NewQuotes(b.quoter)}
		b.entries[sessionID] = e
	}
	e.lastSeen = now
	return e.quotes
}

type checkoutData struct {
	Form           checkout.Form
	Errors         checkout.FieldErrors
	Message        string
	Cart           cart.Cart
	Quotes         []checkout.Quote
	Selected       int64
	QuoteError     string
	IdempotencyKey string
}

type quotesData struct {
	Quotes     []checkout.Quote
	Selected   int64
	QuoteError string
}

// CheckoutForm renders the checkout form, prefilled from the account when signed in.
func (h *Handlers) CheckoutForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := h.store(r)
	coord := h.coordinator(r)
	if err := coord.Reload(ctx, store); err != nil {
		h.flash(r, cart.Message(err))
		custommw.Redirect(w, r, "/cart")
		return
	}
	snapshot := coord.Snapshot()
	if snapshot.Empty() {
		h.flash(r, "Your cart is empty")
		custommw.Redirect(w, r, "/cart")
		return
	}

	form := checkout.Form{Email: store.Email(), Country: checkout.DefaultCountry}
	if _, ok := store.Access(); ok {
		addr, err := h.auth.DefaultAddress(ctx, store)
		if err != nil {
			logger(r).Debug("checkout: default address unavailable", zap.Error(err))
		} else if addr != nil {
			form.FullName, form.Phone = addr.FullName, addr.Phone
			form.Line1, form.Line2 = addr.Line1, addr.Line2
			form.City, form.State = addr.City, addr.State
			form.PostalCode, form.Country = addr.PostalCode, addr.Country
		}
	}

	data := checkoutData{Form: form, Cart: snapshot, IdempotencyKey: ulid.Make().String()}
	h.fillQuotes(r, &data, 0)
	h.render.Page(w, r, http.StatusOK, "checkout", h.view(r, "Checkout", data))
}

// CheckoutQuotes re-prices shipping for the current subtotal and returns the options fragment.
func (h *Handlers) CheckoutQuotes(w http.ResponseWriter, r *http.Request) {
	coord := h.coordinator(r)
	if err := coord.Reload(r.Context(), h.store(r)); err != nil {
		h.render.Fragment(w, r, http.StatusOK, "quotes", quotesData{QuoteError: cart.Message(err)})
		return
	}
	data := checkoutData{Cart: coord.Snapshot()}
	h.fillQuotes(r, &data, formInt64(r, "shipping_method_id"))
	h.render.Fragment(w, r, http.StatusOK, "quotes", quotesData{Quotes: data.Quotes, Selected: data.Selected, QuoteError: data.QuoteError})
}

// PlaceOrder validates the form and submits the order with an idempotency key that
// is reused when the same attempt is resubmitted.
func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := h.store(r)
	coord := h.coordinator(r)
	if err := coord.Reload(ctx, store); err != nil {
		h.flash(r, cart.Message(err))
		custommw.Redirect(w, r, "/cart")
		return
	}
	snapshot := coord.Snapshot()
	if snapshot.Empty() {
		h.flash(r, "Your cart is empty")
		custommw.Redirect(w, r, "/cart")
		return
	}

	form := checkout.Form{
		Email:      r.FormValue("email"),
		FullName:   r.FormValue("full_name"),
		Phone:      r.FormValue("phone"),
		Line1:      r.FormValue("line1"),
		Line2:      r.FormValue("line2"),
		City:       r.FormValue("city"),
		State:      r.FormValue("state"),
		PostalCode: r.FormValue("postal_code"),
		Country:    r.FormValue("country"),
	}.Normalize()
	key := r.FormValue("idempotency_key")
	if key == "" {
		key = ulid.Make().String()
	}
	data := checkoutData{Form: form, Cart: snapshot, IdempotencyKey: key}
	h.fillQuotes(r, &data, formInt64(r, "shipping_method_id"))

	var order orders.Order
	var err error
	if data.Selected == 0 {
		data.Errors = form.Validate()
		data.Errors["shipping_method"] = "Choose a shipping method."
		err = checkout.ErrInvalidForm
	} else {
		order, data.Errors, err = h.checkout.Submit(ctx, store, checkout.Submission{
			Form:             form,
			ShippingMethodID: data.Selected,
			Coupon:           snapshot.CouponCode(),
			IdempotencyKey:   key,
		})
	}
	if err != nil {
		data.Message = checkout.Translate(err)
		status := http.StatusUnprocessableEntity
		if !errors.Is(err, checkout.ErrInvalidForm) && len(data.Errors) == 0 {
			status = http.StatusOK
		}
		h.render.Page(w, r, status, "checkout", h.view(r, "Checkout", data))
		return
	}

	if err := coord.Reload(ctx, store); err != nil {
		logger(r).Debug("checkout: post-order cart reload failed", zap.Error(err))
	}
	h.render.Page(w, r, http.StatusOK, "order_placed", h.view(r, "Order placed", order))
}

func (h *Handlers) fillQuotes(r *http.Request, data *checkoutData, want int64) {
	tracker := h.quotes.For(h.session(r).ID())
	if _, err := tracker.Refresh(r.Context(), h.store(r), data.Cart.Subtotal); err != nil {
		logger(r).Info("checkout: quotes failed", zap.Error(err))
	}
	if want > 0 {
		tracker.Select(want)
	}
	data.Quotes = tracker.List()
	data.QuoteError = tracker.Error()
	if selected, ok := tracker.Selected(); ok {
		data.Selected = selected.ID
	}
}
