package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

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
	"finitefield.org/storefront/internal/platform/config"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/platform/secrets"
	"finitefield.org/storefront/internal/session"
	"finitefield.org/storefront/internal/wishlist"
)

const (
	cartIdleTTL       = 2 * time.Hour
	sweepInterval     = 5 * time.Minute
	suggestRate       = rate.Limit(5)
	suggestBurst      = 10
	shutdownTimeout   = 10 * time.Second
	redisPingDeadline = 3 * time.Second
)

func main() {
	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(os.Getenv("STOREFRONT_GCP_PROJECT_ID")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	store, closeCache := buildCache(ctx, logger, cfg.Cache)
	defer closeCache()

	api, err := apiclient.New(cfg.API.BaseURL,
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithLogger(logger.Named("api")),
		apiclient.WithCache(store),
	)
	if err != nil {
		logger.Fatal("failed to initialise api client", zap.Error(err))
	}

	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.Secure,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Lifetime:     cfg.Session.Lifetime,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	pages, err := catalog.LoadPages()
	if err != nil {
		logger.Fatal("failed to load static pages", zap.Error(err))
	}

	catalogSvc := catalog.NewService(api)
	suggester := catalog.NewSuggester(catalogSvc.Suggest, catalog.SuggesterConfig{
		Debounce: cfg.Search.SuggestDebounce,
		MinChars: cfg.Search.SuggestMinChars,
		Limit:    cfg.Search.SuggestLimit,
		Rate:     suggestRate,
		Burst:    suggestBurst,
	})
	carts := cart.NewRegistry(cart.NewService(api), cfg.Cart.MaxQty, cartIdleTTL)
	ordersSvc := orders.NewService(api)

	srv, err := httpserver.New(httpserver.Config{
		Address:      net.JoinHostPort("", cfg.Server.Port),
		BasePath:     cfg.Backoffice.BasePath,
		LoginPath:    "/login",
		Environment:  cfg.Platform.Environment,
		ProjectID:    cfg.Platform.ProjectID,
		Logger:       logger,
		Sessions:     sessions,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		UI: ui.Dependencies{
			Catalog:    catalogSvc,
			Suggester:  suggester,
			Pages:      pages,
			Carts:      carts,
			Checkout:   checkout.NewService(api),
			Orders:     ordersSvc,
			History:    orders.NewHistory(ordersSvc, cfg.Orders.DemoEmail),
			Wishlist:   wishlist.NewService(api, catalogSvc),
			Auth:       auth.NewService(api),
			Backoffice: backoffice.NewService(api, api),
			Formatter:  money.NewFormatter(cfg.Display.Currency, cfg.Display.Locale),
		},
	})
	if err != nil {
		logger.Fatal("failed to build http server", zap.Error(err))
	}

	go carts.Run(ctx, sweepInterval)
	go sweepSuggestions(ctx, logger, suggester)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	logger.Info("storefront listening",
		zap.String("addr", srv.Addr),
		zap.String("api", cfg.API.BaseURL),
		zap.String("backoffice", cfg.Backoffice.BasePath),
		zap.String("environment", cfg.Platform.Environment),
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return
	}
	logger.Info("storefront stopped")
}

// buildCache picks Redis when configured and reachable, else an in-process cache.
func buildCache(ctx context.Context, logger *zap.Logger, cfg config.CacheConfig) (cache.Store, func()) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(cfg.TTL), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	rc := cache.NewRedisCache(client, cfg.Prefix, cfg.TTL)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingDeadline)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable; using in-process cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = client.Close()
		return cache.NewMemoryCache(cfg.TTL), func() {}
	}
	return rc, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}

func sweepSuggestions(ctx context.Context, logger *zap.Logger, s *catalog.Suggester) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug("suggest: idle visitors dropped", zap.Int("count", n))
			}
		}
	}
}
