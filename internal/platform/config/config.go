package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultSessionCookie      = "storefront_session"
	defaultSessionIdle        = 72 * time.Hour
	defaultSessionLifetime    = 30 * 24 * time.Hour
	defaultCartMaxQty         = 99
	defaultSuggestDebounce    = 250 * time.Millisecond
	defaultSuggestMinChars    = 2
	defaultSuggestLimit       = 8
	defaultCacheTTL           = 2 * time.Minute
	defaultCachePrefix        = "storefront"
	defaultBackofficeBasePath = "/backoffice"
	defaultCurrency           = "INR"
	defaultLocale             = "en-IN"
	defaultEnvironment        = "local"
	defaultLogLevel           = "info"
	minSessionHashKeyLength   = 32
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	API        APIConfig
	Session    SessionConfig
	Cart       CartConfig
	Search     SearchConfig
	Orders     OrdersConfig
	Cache      CacheConfig
	Backoffice BackofficeConfig
	Display    DisplayConfig
	Platform   PlatformConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// APIConfig points the storefront at the commerce backend.
type APIConfig struct {
	BaseURL string
	// Timeout of zero leaves the transport default in place.
	Timeout time.Duration
}

// SessionConfig controls the visitor session cookie.
type SessionConfig struct {
	CookieName  string
	HashKey     string
	BlockKey    string
	Secure      bool
	IdleTimeout time.Duration
	Lifetime    time.Duration
}

// CartConfig holds cart policy defaults used when the backend does not send them.
type CartConfig struct {
	MaxQty int
}

// SearchConfig tunes search-as-you-type suggestions.
type SearchConfig struct {
	SuggestDebounce time.Duration
	SuggestMinChars int
	SuggestLimit    int
}

// OrdersConfig configures order history behaviour.
type OrdersConfig struct {
	// DemoEmail is used for the public order lookup when no email is remembered.
	DemoEmail string
}

// CacheConfig configures the shared response cache for public catalog reads.
type CacheConfig struct {
	RedisAddr string
	TTL       time.Duration
	Prefix    string
}

// BackofficeConfig configures the merchant backoffice mount.
type BackofficeConfig struct {
	BasePath string
}

// DisplayConfig holds presentation defaults.
type DisplayConfig struct {
	Currency string
	Locale   string
}

// PlatformConfig holds deployment-level settings.
type PlatformConfig struct {
	Environment string
	ProjectID   string
	LogLevel    string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns the raw value for key using the same precedence as Load
// (explicit map > OS env > .env). main uses it to bootstrap the secret resolver.
func Lookup(key string, opts ...Option) (string, bool) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		dotEnv = nil
	}
	return newLookup(options, dotEnv)(key)
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := newLookup(options, dotEnvValues)

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_API_BASE_URL", ""), "/"),
			Timeout: durationWithDefault(lookup, "STOREFRONT_API_TIMEOUT", 0),
		},
		Session: SessionConfig{
			CookieName:  stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			HashKey:     stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:    stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			Secure:      boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", false),
			IdleTimeout: durationWithDefault(lookup, "STOREFRONT_SESSION_IDLE_TIMEOUT", defaultSessionIdle),
			Lifetime:    durationWithDefault(lookup, "STOREFRONT_SESSION_LIFETIME", defaultSessionLifetime),
		},
		Cart: CartConfig{
			MaxQty: intWithDefault(lookup, "STOREFRONT_CART_MAX_QTY", defaultCartMaxQty),
		},
		Search: SearchConfig{
			SuggestDebounce: durationWithDefault(lookup, "STOREFRONT_SUGGEST_DEBOUNCE", defaultSuggestDebounce),
			SuggestMinChars: intWithDefault(lookup, "STOREFRONT_SUGGEST_MIN_CHARS", defaultSuggestMinChars),
			SuggestLimit:    intWithDefault(lookup, "STOREFRONT_SUGGEST_LIMIT", defaultSuggestLimit),
		},
		Orders: OrdersConfig{
			DemoEmail: stringWithDefault(lookup, "STOREFRONT_DEMO_EMAIL", ""),
		},
		Cache: CacheConfig{
			RedisAddr: stringWithDefault(lookup, "STOREFRONT_CACHE_REDIS_ADDR", ""),
			TTL:       durationWithDefault(lookup, "STOREFRONT_CACHE_TTL", defaultCacheTTL),
			Prefix:    stringWithDefault(lookup, "STOREFRONT_CACHE_PREFIX", defaultCachePrefix),
		},
		Backoffice: BackofficeConfig{
			BasePath: stringWithDefault(lookup, "STOREFRONT_BACKOFFICE_BASE_PATH", defaultBackofficeBasePath),
		},
		Display: DisplayConfig{
			Currency: strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_CURRENCY", defaultCurrency)),
			Locale:   stringWithDefault(lookup, "STOREFRONT_LOCALE", defaultLocale),
		},
		Platform: PlatformConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_SECURITY_ENVIRONMENT", defaultEnvironment)),
			ProjectID:   stringWithDefault(lookup, "STOREFRONT_GCP_PROJECT_ID", ""),
			LogLevel:    stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		},
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Session.HashKey", &cfg.Session.HashKey},
		{"Session.BlockKey", &cfg.Session.BlockKey},
	}
	for _, sf := range secretFields {
		resolved, err := resolveSecret(ctx, *sf.field, options.secret)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", sf.name, err)
		}
		*sf.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
}

func newLookup(options loaderOptions, dotEnvValues map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}
}

// IsSecretReference reports whether value points at Secret Manager rather than holding a literal.
func IsSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !IsSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.API.BaseURL == "" {
		missing = append(missing, "API.BaseURL")
	} else if u, err := url.Parse(cfg.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "API.BaseURL")
	}
	if len(cfg.Session.HashKey) < minSessionHashKeyLength {
		missing = append(missing, "Session.HashKey")
	}
	if n := len(cfg.Session.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		missing = append(missing, "Session.BlockKey")
	}
	if cfg.Cart.MaxQty <= 0 {
		missing = append(missing, "Cart.MaxQty")
	}
	if cfg.Search.SuggestDebounce < 0 {
		missing = append(missing, "Search.SuggestDebounce")
	}
	if cfg.Search.SuggestLimit <= 0 {
		missing = append(missing, "Search.SuggestLimit")
	}
	if cfg.Cache.TTL <= 0 {
		missing = append(missing, "Cache.TTL")
	}
	if !strings.HasPrefix(cfg.Backoffice.BasePath, "/") || cfg.Backoffice.BasePath == "/" {
		missing = append(missing, "Backoffice.BasePath")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
