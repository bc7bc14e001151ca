package ui

import (
	"math"
	"net/http"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/cart"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
	"finitefield.org/storefront/internal/money"
)

type cartData struct {
	CSRF            string
	Cart            cart.Cart
	Error           string
	MaxQty          int
	FreeShippingGap money.Amount
}

func (h *Handlers) panel(r *http.Request, coord *cart.Coordinator, errMsg string) cartData {
	snapshot := coord.Snapshot()
	return cartData{
		CSRF:            custommw.CSRFTokenFromContext(r.Context()),
		Cart:            snapshot,
		Error:           errMsg,
		MaxQty:          coord.Clamp(math.MaxInt32),
		FreeShippingGap: snapshot.FreeShippingGap(),
	}
}

// Cart renders the cart page from a fresh server read.
func (h *Handlers) Cart(w http.ResponseWriter, r *http.Request) {
	coord := h.coordinator(r)
	msg := ""
	if err := coord.Reload(r.Context(), h.store(r)); err != nil {
		msg = cart.Message(err)
	}
	data := h.panel(r, coord, msg)
	if custommw.WantsFragment(r.Context()) {
		h.render.Fragment(w, r, http.StatusOK, "cart_panel", data)
		return
	}
	h.render.Page(w, r, http.StatusOK, "cart", h.view(r, "Cart", data))
}

// AddToCart adds a variant, incrementing an existing line.
func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	variantID := formInt64(r, "variant_id")
	if variantID <= 0 {
		h.errorPage(w, r, http.StatusBadRequest, "Choose an option first.")
		return
	}
	coord := h.coordinator(r)
	err := coord.AddItem(r.Context(), h.store(r), variantID, formInt(r, "qty", 1))
	if custommw.IsHTMXRequest(r.Context()) {
		status := http.StatusOK
		if err != nil {
			status = http.StatusUnprocessableEntity
		}
		h.render.Fragment(w, r, status, "cart_badge", badgeData{Count: coord.Snapshot().Count(), Error: cart.Message(err)})
		return
	}
	if err != nil {
		h.flash(r, cart.Message(err))
	} else {
		h.flash(r, "Added to cart.")
	}
	custommw.Redirect(w, r, "/cart")
}

type badgeData struct {
	Count int
	Error string
}

// UpdateCartItem changes a line quantity. The coordinator applies it optimistically
// and restores the previous cart if the backend refuses.
func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "That item is no longer in your cart.")
		return
	}
	coord, store := h.coordinator(r), h.store(r)
	if !coord.Loaded() {
		if err := coord.Reload(r.Context(), store); err != nil {
			h.respondCart(w, r, coord, err)
			return
		}
	}
	qty := formInt(r, "qty", 0)
	if item, ok := coord.Snapshot().Item(itemID); ok {
		switch r.FormValue("step") {
		case "inc":
			qty = item.Qty + 1
		case "dec":
			qty = item.Qty - 1
		}
	}
	err := coord.ChangeQuantity(r.Context(), store, itemID, qty)
	h.respondCart(w, r, coord, err)
}

// RemoveCartItem drops a line.
func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "That item is no longer in your cart.")
		return
	}
	coord, store := h.coordinator(r), h.store(r)
	if !coord.Loaded() {
		if err := coord.Reload(r.Context(), store); err != nil {
			h.respondCart(w, r, coord, err)
			return
		}
	}
	err := coord.RemoveItem(r.Context(), store, itemID)
	h.respondCart(w, r, coord, err)
}

// CartCoupon applies or removes the cart coupon.
func (h *Handlers) CartCoupon(w http.ResponseWriter, r *http.Request) {
	coord, store := h.coordinator(r), h.store(r)
	var err error
	if r.FormValue("action") == "remove" {
		err = coord.RemoveCoupon(r.Context(), store)
	} else {
		err = coord.ApplyCoupon(r.Context(), store, r.FormValue("code"))
	}
	h.respondCart(w, r, coord, err)
}

// respondCart swaps the cart panel for htmx, or redirects back to the cart page.
func (h *Handlers) respondCart(w http.ResponseWriter, r *http.Request, coord *cart.Coordinator, err error) {
	msg := cart.Message(err)
	if err != nil {
		logger(r).Info("cart: mutation failed", zap.Error(err))
	}
	if custommw.IsHTMXRequest(r.Context()) {
		h.render.Fragment(w, r, http.StatusOK, "cart_panel", h.panel(r, coord, msg))
		return
	}
	h.flash(r, msg)
	custommw.Redirect(w, r, "/cart")
}
