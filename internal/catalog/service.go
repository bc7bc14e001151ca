// Package catalog reads the public product catalog, search and homepage content.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/platform/observability"
)

// ErrNotFound is returned when a product slug does not exist or is not active.
var ErrNotFound = errors.New("catalog: not found")

const (
	defaultSearchLimit = 12
	maxSearchLimit     = 50
	railSize           = 8
)

// Cache key prefixes. Banner mutations invalidate ContentCachePrefix.
const (
	CatalogCachePrefix = "catalog/"
	ContentCachePrefix = "content/"
	SearchCachePrefix  = "search/"
)

// Doer is the API client surface used by Service.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Service wraps the public catalog endpoints. Every call is public and cacheable.
type Service struct {
	api Doer
}

// NewService returns a Service.
func NewService(api Doer) *Service {
	return &Service{api: api}
}

// Filter narrows the product list.
type Filter struct {
	Q        string
	Category string
	Brand    string
	PriceMin string
	PriceMax string
	// Ordering is one of name, id, min_price, optionally prefixed with "-".
	Ordering string
	Page     int
	IDs      []int64
	PageSize int
}

var allowedOrdering = map[string]bool{"name": true, "id": true, "min_price": true}

func (f Filter) query() url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			q.Set(key, value)
		}
	}
	set("q", f.Q)
	set("category", f.Category)
	set("brand", f.Brand)
	set("price_min", f.PriceMin)
	set("price_max", f.PriceMax)
	if ord := strings.TrimSpace(f.Ordering); allowedOrdering[strings.TrimPrefix(ord, "-")] {
		q.Set("ordering", ord)
	}
	if f.Page > 1 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if len(f.IDs) > 0 {
		ids := make([]string, 0, len(f.IDs))
		for _, id := range f.IDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		q.Set("ids", strings.Join(ids, ","))
	}
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	return q
}

// FilterFromQuery reads a Filter from storefront query parameters.
func FilterFromQuery(values url.Values) Filter {
	page, _ := strconv.Atoi(values.Get("page"))
	return Filter{
		Q:        values.Get("q"),
		Category: values.Get("category"),
		Brand:    values.Get("brand"),
		PriceMin: values.Get("price_min"),
		PriceMax: values.Get("price_max"),
		Ordering: values.Get("ordering"),
		Page:     page,
	}
}

func cacheKey(prefix string, q url.Values) string {
	if len(q) == 0 {
		return prefix
	}
	// url.Values.Encode sorts by key.
	return prefix + "?" + q.Encode()
}

func (s *Service) get(ctx context.Context, path string, q url.Values, key string, out any) error {
	return s.api.Do(ctx, apiclient.Request{
		Method:   http.MethodGet,
		Path:     path,
		Query:    q,
		Public:   true,
		CacheKey: key,
	}, out)
}

// Products lists active products.
func (s *Service) Products(ctx context.Context, f Filter) (Page[Product], error) {
	q := f.query()
	var page Page[Product]
	if err := s.get(ctx, "/catalog/products/", q, cacheKey(CatalogCachePrefix+"products", q), &page); err != nil {
		return Page[Product]{}, fmt.Errorf("catalog: products: %w", err)
	}
	return page, nil
}

// ProductsByIDs fetches details for ids in one call. Ids absent from the response are
// simply missing from the map.
func (s *Service) ProductsByIDs(ctx context.Context, ids []int64) (map[int64]ProductDetail, error) {
	out := make(map[int64]ProductDetail, len(ids))
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}
	q := Filter{IDs: ids, PageSize: len(ids)}.query()
	var page Page[ProductDetail]
	if err := s.get(ctx, "/catalog/products/", q, cacheKey(CatalogCachePrefix+"products", q), &page); err != nil {
		return nil, fmt.Errorf("catalog: products by id: %w", err)
	}
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for _, p := range page.Results {
		if wanted[p.ID] {
			out[p.ID] = p
		}
	}
	return out, nil
}

// Product fetches one product by slug.
func (s *Service) Product(ctx context.Context, slug string) (ProductDetail, error) {
	slug = strings.Trim(strings.TrimSpace(slug), "/")
	if slug == "" || strings.Contains(slug, "/") {
		return ProductDetail{}, ErrNotFound
	}
	var p ProductDetail
	err := s.get(ctx, "/catalog/products/"+url.PathEscape(slug)+"/", nil, CatalogCachePrefix+"product/"+slug, &p)
	if apiclient.IsNotFound(err) {
		return ProductDetail{}, ErrNotFound
	}
	if err != nil {
		return ProductDetail{}, fmt.Errorf("catalog: product %s: %w", slug, err)
	}
	return p, nil
}

// Trending returns the trending rail.
func (s *Service) Trending(ctx context.Context) ([]Product, error) {
	var list []Product
	if err := s.get(ctx, "/catalog/products/trending/", nil, CatalogCachePrefix+"trending", &list); err != nil {
		return nil, fmt.Errorf("catalog: trending: %w", err)
	}
	return list, nil
}

// New returns the new-arrivals rail.
func (s *Service) New(ctx context.Context) ([]Product, error) {
	var list []Product
	if err := s.get(ctx, "/catalog/products/new/", nil, CatalogCachePrefix+"new", &list); err != nil {
		return nil, fmt.Errorf("catalog: new arrivals: %w", err)
	}
	return list, nil
}

// Categories lists every category.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	var page Page[Category]
	if err := s.get(ctx, "/catalog/categories/", nil, CatalogCachePrefix+"categories", &page); err != nil {
		return nil, fmt.Errorf("catalog: categories: %w", err)
	}
	return page.Results, nil
}

// Nav lists the navigation belt categories.
func (s *Service) Nav(ctx context.Context) ([]NavCategory, error) {
	var list []NavCategory
	if err := s.get(ctx, "/catalog/categories/nav/", nil, CatalogCachePrefix+"nav", &list); err != nil {
		return nil, fmt.Errorf("catalog: nav: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].NavOrder < list[j].NavOrder })
	return list, nil
}

// Brands lists brand names.
func (s *Service) Brands(ctx context.Context) ([]Brand, error) {
	var list []Brand
	if err := s.get(ctx, "/catalog/brands/", nil, CatalogCachePrefix+"brands", &list); err != nil {
		return nil, fmt.Errorf("catalog: brands: %w", err)
	}
	return list, nil
}

// SearchQuery is a limit/offset search.
type SearchQuery struct {
	Q        string
	Brand    string
	Category string
	PriceMin string
	PriceMax string
	Limit    int
	Offset   int
}

// Normalize clamps limit to 1..50 (default 12) and offset to >= 0.
func (sq SearchQuery) Normalize() SearchQuery {
	sq.Q = strings.TrimSpace(sq.Q)
	if sq.Limit <= 0 {
		sq.Limit = defaultSearchLimit
	}
	if sq.Limit > maxSearchLimit {
		sq.Limit = maxSearchLimit
	}
	if sq.Offset < 0 {
		sq.Offset = 0
	}
	return sq
}

// Search runs a full-text search.
func (s *Service) Search(ctx context.Context, sq SearchQuery) (SearchResult, error) {
	sq = sq.Normalize()
	q := url.Values{}
	for key, value := range map[string]string{"q": sq.Q, "brand": sq.Brand, "category": sq.Category, "price_min": sq.PriceMin, "price_max": sq.PriceMax} {
		if value = strings.TrimSpace(value); value != "" {
			q.Set(key, value)
		}
	}
	q.Set("limit", strconv.Itoa(sq.Limit))
	q.Set("offset", strconv.Itoa(sq.Offset))

	var res SearchResult
	if err := s.get(ctx, "/search", q, cacheKey(SearchCachePrefix+"results", q), &res); err != nil {
		return SearchResult{}, fmt.Errorf("catalog: search: %w", err)
	}
	return res, nil
}

// Suggest returns name suggestions for a prefix.
func (s *Service) Suggest(ctx context.Context, q string) ([]string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	query := url.Values{"q": {q}}
	var out struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := s.get(ctx, "/search/suggest", query, cacheKey(SearchCachePrefix+"suggest", query), &out); err != nil {
		return nil, fmt.Errorf("catalog: suggest: %w", err)
	}
	return out.Suggestions, nil
}

// Home loads banners and rails. Rail items are filled from trending, new arrivals or
// the rail's view-all link; a rail that fails to load stays empty.
func (s *Service) Home(ctx context.Context) (Home, error) {
	var home Home
	if err := s.get(ctx, "/content/home", nil, ContentCachePrefix+"home", &home); err != nil {
		return Home{}, fmt.Errorf("catalog: home: %w", err)
	}
	sort.SliceStable(home.Rails, func(i, j int) bool { return home.Rails[i].Sort < home.Rails[j].Sort })

	var g errgroup.Group
	g.SetLimit(4)
	for i := range home.Rails {
		rail := &home.Rails[i]
		g.Go(func() error {
			items, err := s.railItems(ctx, rail.ViewAll)
			if err != nil {
				observability.FromContext(ctx).Warn("catalog: rail load failed",
					zap.String("rail", rail.Title), zap.Error(err))
				return nil
			}
			if len(items) > railSize {
				items = items[:railSize]
			}
			rail.Items = items
			return nil
		})
	}
	_ = g.Wait()
	return home, nil
}

func (s *Service) railItems(ctx context.Context, viewAll string) ([]Product, error) {
	link := strings.TrimSpace(viewAll)
	lower := strings.ToLower(link)
	switch {
	case strings.Contains(lower, "trending"):
		return s.Trending(ctx)
	case strings.Contains(lower, "new"):
		return s.New(ctx)
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil, err
	}
	page, err := s.Products(ctx, FilterFromQuery(u.Query()))
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
