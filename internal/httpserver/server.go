package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	custommw "finitefield.org/storefront/internal/httpserver/middleware"
	"finitefield.org/storefront/internal/httpserver/ui"
	"finitefield.org/storefront/internal/platform/observability"
)

const (
	defaultMaxBodyBytes = 12 << 20
	requestTimeout      = 60 * time.Second
)

// Config holds runtime options for the storefront HTTP server.
type Config struct {
	Address     string
	BasePath    string
	LoginPath   string
	Environment string
	ProjectID   string
	Logger      *zap.Logger
	Sessions    custommw.SessionStore
	UI          ui.Dependencies
	CSRF        custommw.CSRFConfig

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxBodyBytes caps request bodies, attachments included.
	MaxBodyBytes int64
}

// New constructs the HTTP server with its middleware stack and routes.
func New(cfg Config) (*http.Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("httpserver: session store is required")
	}
	if cfg.UI.Backoffice == nil {
		return nil, errors.New("httpserver: backoffice service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	basePath := normalizeBasePath(cfg.BasePath)
	cfg.UI.BasePath = basePath
	if cfg.UI.Renderer == nil {
		renderer, err := ui.NewRenderer(cfg.UI.Formatter, basePath)
		if err != nil {
			return nil, err
		}
		cfg.UI.Renderer = renderer
	}
	h := ui.NewHandlers(cfg.UI)

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.TraceMiddleware(cfg.ProjectID))
	router.Use(observability.InjectLoggerMiddleware(logger))
	router.Use(observability.RequestLoggerMiddleware())
	router.Use(observability.RecoveryMiddleware(logger, http.HandlerFunc(h.ErrorPage)))
	router.Use(chimw.Timeout(requestTimeout))
	router.Use(chimw.Compress(5))
	router.Use(chimw.RequestSize(maxBody))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	visitor := chi.Chain(
		custommw.RequestInfoMiddleware(basePath, cfg.Environment),
		custommw.HTMX(),
		custommw.Session(cfg.Sessions),
		custommw.CSRF(cfg.CSRF),
	)
	router.NotFound(visitor.HandlerFunc(h.NotFound).ServeHTTP)

	router.Group(func(r chi.Router) {
		r.Use(visitor...)
		mountStorefrontRoutes(r, h)
		mountBackofficeRoutes(r, basePath, h, routeOptions{
			Staff:     cfg.UI.Backoffice,
			LoginPath: firstNonEmpty(cfg.LoginPath, "/login"),
		})
	})

	return &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
	}, nil
}

type routeOptions struct {
	Staff     custommw.StaffChecker
	LoginPath string
}

func mountStorefrontRoutes(r chi.Router, h *ui.Handlers) {
	r.Get("/", h.Home)
	r.Get("/products", h.Products)
	r.Get("/products/{slug}", h.Product)
	r.Get("/search", h.Search)
	RegisterFragment(r, "/search/suggest", h.Suggest)
	r.Get("/pages/{slug}", h.StaticPage)

	r.Get("/cart", h.Cart)
	r.Post("/cart/items", h.AddToCart)
	r.Post("/cart/items/{id}", h.UpdateCartItem)
	r.Post("/cart/items/{id}/delete", h.RemoveCartItem)
	r.Post("/cart/coupon", h.CartCoupon)

	r.Get("/checkout", h.CheckoutForm)
	r.Post("/checkout", h.PlaceOrder)
	r.With(custommw.RequireHTMX()).Post("/checkout/quotes", h.CheckoutQuotes)

	r.Get("/orders", h.Orders)
	r.Get("/orders/{id}", h.Order)
	r.Post("/orders/{id}/returns", h.CreateReturn)
	r.Post("/orders/{id}/returns/{rid}/attachments", h.UploadAttachment)

	r.Get("/wishlist", h.Wishlist)
	r.Post("/wishlist", h.AddToWishlist)
	r.Post("/wishlist/{id}/delete", h.RemoveFromWishlist)

	r.Get("/login", h.LoginForm)
	r.Post("/login", h.LoginSubmit)
	r.Get("/register", h.RegisterForm)
	r.Post("/register", h.RegisterSubmit)
	r.Post("/logout", h.Logout)
}

func mountBackofficeRoutes(router chi.Router, base string, h *ui.Handlers, opts routeOptions) {
	guard := chi.Chain(custommw.NoStore(), custommw.Staff(opts.Staff, opts.LoginPath))
	if base != "/" {
		router.With(guard...).Get(base, h.Dashboard)
	}

	router.Route(base, func(r chi.Router) {
		r.Use(guard...)

		r.Get("/", h.Dashboard)

		r.Get("/banners", h.Banners)
		r.Post("/banners", h.CreateBanner)
		r.Get("/banners/{id}", h.EditBanner)
		r.Post("/banners/{id}", h.UpdateBanner)
		r.Post("/banners/{id}/toggle", h.ToggleBanner)
		r.Post("/banners/{id}/delete", h.DeleteBanner)

		r.Get("/coupons", h.Coupons)
		r.Post("/coupons", h.CreateCoupon)
		r.Post("/coupons/{id}/toggle", h.ToggleCoupon)
		r.Post("/coupons/{id}/delete", h.DeleteCoupon)

		r.Get("/shipping-methods", h.ShippingMethods)
		r.Post("/shipping-methods/{id}/toggle", h.ToggleShippingMethod)
	})
}

func normalizeBasePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/backoffice"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

// RegisterFragment registers a GET handler intended for htmx fragment rendering.
func RegisterFragment(r chi.Router, pattern string, handler http.HandlerFunc) {
	r.With(custommw.RequireHTMX()).Get(pattern, handler)
}
