package ui

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
	"finitefield.org/storefront/internal/wishlist"
)

type wishlistData struct {
	CSRF    string
	Entries []wishlist.Entry
	Notice  string
	Error   string
}

// Wishlist lists saved products. Anonymous visitors are asked to sign in.
func (h *Handlers) Wishlist(w http.ResponseWriter, r *http.Request) {
	store := h.store(r)
	if _, ok := store.Access(); !ok {
		http.Redirect(w, r, loginRedirect("/wishlist"), http.StatusFound)
		return
	}
	data := wishlistData{CSRF: custommw.CSRFTokenFromContext(r.Context())}
	entries, err := h.wishlist.List(r.Context(), store)
	switch {
	case err == nil:
		data.Entries, data.Notice = h.wishlist.Hydrate(r.Context(), entries)
	case apiclient.IsUnauthorized(err):
		_ = store.Clear()
		http.Redirect(w, r, loginRedirect("/wishlist"), http.StatusFound)
		return
	default:
		logger(r).Warn("wishlist: list failed", zap.Error(err))
		data.Error = wishlist.Describe(err)
	}
	if custommw.WantsFragment(r.Context()) {
		h.render.Fragment(w, r, http.StatusOK, "wishlist_list", data)
		return
	}
	h.render.Page(w, r, http.StatusOK, "wishlist", h.view(r, "Wishlist", data))
}

// AddToWishlist saves a product or variant.
func (h *Handlers) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	store := h.store(r)
	if _, ok := store.Access(); !ok {
		custommw.Redirect(w, r, loginRedirect(r.Referer()))
		return
	}
	_, err := h.wishlist.Add(r.Context(), store, formInt64(r, "product_id"), formInt64(r, "variant_id"))
	if err != nil {
		logger(r).Info("wishlist: add failed", zap.Error(err))
		h.flash(r, wishlist.Describe(err))
	} else {
		h.flash(r, "Saved to your wishlist.")
	}
	custommw.Redirect(w, r, "/wishlist")
}

// RemoveFromWishlist deletes an entry.
func (h *Handlers) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		h.errorPage(w, r, http.StatusNotFound, "That item is no longer in your wishlist.")
		return
	}
	if err := h.wishlist.Remove(r.Context(), h.store(r), id); err != nil {
		logger(r).Info("wishlist: remove failed", zap.Int64("entry_id", id), zap.Error(err))
		h.flash(r, wishlist.Describe(err))
	}
	custommw.Redirect(w, r, "/wishlist")
}

func loginRedirect(next string) string {
	if u, err := url.Parse(next); err == nil && u.Path != "" {
		next = u.RequestURI()
	}
	next = safeNext(next, "")
	if next == "" {
		return "/login"
	}
	return "/login?" + url.Values{"next": {next}}.Encode()
}
