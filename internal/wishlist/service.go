// Package wishlist manages the signed-in visitor's wishlist and hydrates entries
// with product snapshots.
package wishlist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/catalog"
	"finitefield.org/storefront/internal/platform/observability"
)

// ErrInvalidEntry is returned when neither a product nor a variant is given.
var ErrInvalidEntry = errors.New("wishlist: product or variant required")

// MsgHydrationFailed is shown above the list when product details could not be loaded.
const MsgHydrationFailed = "Some product details could not be loaded."

// Entry is one wishlist row. Product is nil until hydrated, and stays nil when the
// product no longer exists.
type Entry struct {
	ID        int64                  `json:"id"`
	ProductID *int64                 `json:"product_id"`
	VariantID *int64                 `json:"variant_id"`
	CreatedAt time.Time              `json:"created_at"`
	Product   *catalog.ProductDetail `json:"-"`
}

// Unavailable reports an entry whose product could not be found.
func (e Entry) Unavailable() bool { return e.Product == nil }

// Variant returns the wished variant from the hydrated product.
func (e Entry) Variant() (catalog.Variant, bool) {
	if e.Product == nil || e.VariantID == nil {
		return catalog.Variant{}, false
	}
	return e.Product.Variant(*e.VariantID)
}

// Wished is Variant for templates: nil when the entry names no variant or it is gone.
func (e Entry) Wished() *catalog.Variant {
	if v, ok := e.Variant(); ok {
		return &v
	}
	return nil
}

// Doer is the API client surface used by Service.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// ProductLookup resolves product ids to details in one batch.
type ProductLookup interface {
	ProductsByIDs(ctx context.Context, ids []int64) (map[int64]catalog.ProductDetail, error)
}

// Service wraps /wishlist/. Every call requires authentication.
type Service struct {
	api      Doer
	products ProductLookup
}

// NewService returns a Service.
func NewService(api Doer, products ProductLookup) *Service {
	return &Service{api: api, products: products}
}

// List returns the wishlist, newest first.
func (s *Service) List(ctx context.Context, creds apiclient.Credentials) ([]Entry, error) {
	var entries []Entry
	err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/wishlist/", Session: creds}, &entries)
	if err != nil {
		return nil, fmt.Errorf("wishlist: list: %w", err)
	}
	return entries, nil
}

// Add wishes for a product, or a specific variant of it. Zero ids are omitted.
func (s *Service) Add(ctx context.Context, creds apiclient.Credentials, productID, variantID int64) (Entry, error) {
	if productID <= 0 && variantID <= 0 {
		return Entry{}, ErrInvalidEntry
	}
	body := map[string]int64{}
	if productID > 0 {
		body["product_id"] = productID
	}
	if variantID > 0 {
		body["variant_id"] = variantID
	}
	var entry Entry
	err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/wishlist/", Body: body, Session: creds}, &entry)
	if err != nil {
		return Entry{}, fmt.Errorf("wishlist: add: %w", err)
	}
	return entry, nil
}

// Remove deletes an entry.
func (s *Service) Remove(ctx context.Context, creds apiclient.Credentials, id int64) error {
	path := "/wishlist/items/" + strconv.FormatInt(id, 10) + "/"
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: path, Session: creds}, nil); err != nil {
		return fmt.Errorf("wishlist: remove %d: %w", id, err)
	}
	return nil
}

// Hydrate attaches product snapshots with a single batch lookup. Entries whose product
// is missing from the response keep a nil Product. When the lookup fails every entry
// keeps a nil Product and the returned message is non-empty; the entries are still usable.
func (s *Service) Hydrate(ctx context.Context, entries []Entry) ([]Entry, string) {
	out := make([]Entry, len(entries))
	copy(out, entries)
	ids := make([]int64, 0, len(out))
	for _, e := range out {
		if e.ProductID != nil {
			ids = append(ids, *e.ProductID)
		}
	}
	if len(ids) == 0 {
		return out, ""
	}
	found, err := s.products.ProductsByIDs(ctx, ids)
	if err != nil {
		observability.FromContext(ctx).Warn("wishlist: hydration failed", zap.Int("entries", len(out)), zap.Error(err))
		for i := range out {
			out[i].Product = nil
		}
		return out, MsgHydrationFailed
	}
	for i := range out {
		if out[i].ProductID == nil {
			continue
		}
		if p, ok := found[*out[i].ProductID]; ok {
			out[i].Product = &p
		}
	}
	return out, ""
}

// Describe turns a wishlist failure into visitor wording.
func Describe(err error) string {
	if errors.Is(err, ErrInvalidEntry) {
		return "Choose a product first."
	}
	return apiclient.Describe(err, "Could not update your wishlist.")
}
