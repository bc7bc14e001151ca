package testutil

import (
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/backoffice"
	"finitefield.org/storefront/internal/cache"
	"finitefield.org/storefront/internal/cart"
	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/httpserver"
	"finitefield.org/storefront/internal/httpserver/ui"
	"finitefield.org/storefront/internal/money"
	"finitefield.org/storefront/internal/orders"
	"finitefield.org/storefront/internal/session"
	"finitefield.org/storefront/internal/wishlist"
)

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithBasePath sets a custom base path for the backoffice routes.
func WithBasePath(path string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.BasePath = path
	}
}

// WithNow pins the clock the handlers see.
func WithNow(now func() time.Time) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.UI.Now = now
	}
}

// NewServer constructs an httptest server running the storefront stack against the
// backend at backendURL (usually another httptest server faking /api/v1).
func NewServer(t testing.TB, backendURL string, opts ...ServerOption) *httptest.Server {
	t.Helper()

	api, err := apiclient.New(backendURL, apiclient.WithCache(cache.NewMemoryCache(time.Minute)))
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	sessions, err := session.NewManager(session.Config{
		CookieName: "sf_test",
		HashKey:    []byte("0123456789abcdef0123456789abcdef"),
		BlockKey:   []byte("fedcba9876543210fedcba9876543210"),
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	pages, err := catalog.LoadPages()
	if err != nil {
		t.Fatalf("pages: %v", err)
	}

	catalogSvc := catalog.NewService(api)
	ordersSvc := orders.NewService(api)
	cfg := httpserver.Config{
		BasePath:    "/backoffice",
		LoginPath:   "/login",
		Environment: "test",
		Sessions:    sessions,
		UI: ui.Dependencies{
			Catalog: catalogSvc,
			Suggester: catalog.NewSuggester(catalogSvc.Suggest, catalog.SuggesterConfig{
				Debounce: time.Millisecond,
			}),
			Pages:      pages,
			Carts:      cart.NewRegistry(cart.NewService(api), 10, time.Hour),
			Checkout:   checkout.NewService(api),
			Orders:     ordersSvc,
			History:    orders.NewHistory(ordersSvc, ""),
			Wishlist:   wishlist.NewService(api, catalogSvc),
			Auth:       auth.NewService(api),
			Backoffice: backoffice.NewService(api, api),
			Formatter:  money.NewFormatter("INR", "en"),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := httpserver.New(cfg)
	if err != nil {
		t.Fatalf("httpserver: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

// NewClient returns a client that keeps cookies and does not follow redirects.
func NewClient(t testing.TB) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
