package ui

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/backoffice"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/checkout"
	custommw "finitefield.org/storefront/internal/httpserver/middleware"
	"finitefield.org/storefront/internal/money"
	"finitefield.org/storefront/internal/orders"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/requestctx"
	appsession "finitefield.org/storefront/internal/session"
	"finitefield.org/storefront/internal/wishlist"
)

// Dependencies collects the services the UI handlers drive.
type Dependencies struct {
	Catalog    *catalog.Service
	Suggester  *catalog.Suggester
	Pages      *catalog.Pages
	Carts      *cart.Registry
	Checkout   *checkout.Service
	Orders     *orders.Service
	History    *orders.History
	Wishlist   *wishlist.Service
	Auth       *auth.Service
	Backoffice *backoffice.Service
	Renderer   *Renderer
	Formatter  money.Formatter
	BasePath   string
	Now        func() time.Time
}

// Handlers exposes HTTP handlers for storefront and backoffice pages and fragments.
type Handlers struct {
	catalog    *catalog.Service
	suggester  *catalog.Suggester
	pages      *catalog.Pages
	carts      *cart.Registry
	checkout   *checkout.Service
	orders     *orders.Service
	history    *orders.History
	wishlist   *wishlist.Service
	auth       *auth.Service
	backoffice *backoffice.Service
	render     *Renderer
	quotes     *quoteBook
	formatter  money.Formatter
	basePath   string
	now        func() time.Time
}

// NewHandlers wires the UI handler set.
func NewHandlers(deps Dependencies) *Handlers {
	if deps.Renderer == nil {
		panic("ui: renderer is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Handlers{
		catalog:    deps.Catalog,
		suggester:  deps.Suggester,
		pages:      deps.Pages,
		carts:      deps.Carts,
		checkout:   deps.Checkout,
		orders:     deps.Orders,
		history:    deps.History,
		wishlist:   deps.Wishlist,
		auth:       deps.Auth,
		backoffice: deps.Backoffice,
		render:     deps.Renderer,
		quotes:     newQuoteBook(deps.Checkout, now),
		formatter:  deps.Formatter,
		basePath:   custommw.NormaliseBase(deps.BasePath),
		now:        now,
	}
}

// session returns the visitor session. Session middleware always runs first,
// so a missing session is a wiring bug.
func (h *Handlers) session(r *http.Request) *appsession.Session {
	sess, ok := custommw.SessionFromContext(r.Context())
	if !ok {
		panic("ui: session middleware not installed")
	}
	return sess
}

// store adapts the session to the auth.Store the services take.
func (h *Handlers) store(r *http.Request) *auth.SessionStore {
	sess := h.session(r)
	if token, ok := sess.AccessToken(); ok {
		requestctx.SetSubject(r.Context(), auth.Subject(token))
	}
	return auth.NewSessionStore(func() *appsession.Session { return sess })
}

func (h *Handlers) coordinator(r *http.Request) *cart.Coordinator {
	return h.carts.For(h.session(r).ID())
}

// cartSnapshot returns the visitor's cart, loading it from the backend on first use.
func (h *Handlers) cartSnapshot(ctx context.Context, r *http.Request) (cart.Cart, string) {
	coord := h.coordinator(r)
	if !coord.Loaded() {
		if err := coord.Reload(ctx, h.store(r)); err != nil {
			return coord.Snapshot(), cart.Message(err)
		}
	}
	return coord.Snapshot(), coord.LastError()
}

func (h *Handlers) view(r *http.Request, title string, data any) View {
	sess := h.session(r)
	_, signedIn := sess.AccessToken()
	v := View{
		Title:     title,
		CSRFToken: custommw.CSRFTokenFromContext(r.Context()),
		Flash:     sess.TakeFlash(),
		SignedIn:  signedIn,
		Query:     r.URL.Query().Get("q"),
		Data:      data,
	}
	if h.carts != nil && h.coordinator(r).Loaded() {
		v.CartCount = h.coordinator(r).Snapshot().Count()
	}
	if h.pages != nil {
		v.FooterPages = h.pages.Footer()
	}
	if info, ok := custommw.RequestInfoFromContext(r.Context()); ok {
		v.Environment = info.Environment
	}
	if staff, ok := custommw.StaffFromContext(r.Context()); ok {
		v.Backoffice = true
		v.StaffName = staff.DisplayName()
	}
	return v
}

func (h *Handlers) flash(r *http.Request, msg string) {
	if msg != "" {
		h.session(r).SetFlash(msg)
	}
}

// errorPage renders a full error page with the given status.
func (h *Handlers) errorPage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if custommw.IsHTMXRequest(r.Context()) {
		h.render.Fragment(w, r, status, "alert", msg)
		return
	}
	h.render.Page(w, r, status, "error", h.view(r, http.StatusText(status), errorData{Status: status, Message: msg}))
}

// ErrorPage is the handler the recovery middleware renders after a panic.
// It runs outside the session middleware, so the layout renders without visitor state.
func (h *Handlers) ErrorPage(w http.ResponseWriter, r *http.Request) {
	status := http.StatusInternalServerError
	h.render.Page(w, r, status, "error", View{
		Title: http.StatusText(status),
		Data:  errorData{Status: status, Message: "Something went wrong. Please try again."},
	})
}

// NotFound renders the 404 page.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	if _, ok := custommw.SessionFromContext(r.Context()); !ok {
		http.NotFound(w, r)
		return
	}
	h.errorPage(w, r, http.StatusNotFound, "We couldn't find that page.")
}

type errorData struct {
	Status  int
	Message string
}

func logger(r *http.Request) *zap.Logger {
	return observability.FromContext(r.Context())
}
