package catalog

import (
	"strings"

	"finitefield.org/storefront/internal/money"
)

// Category is a catalog category as exposed publicly.
type Category struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Parent *int64 `json:"parent,omitempty"`
}

// NavCategory is one entry of the top navigation belt.
type NavCategory struct {
	ID       int64   `json:"id"`
	Slug     string  `json:"slug"`
	Label    string  `json:"label"`
	Icon     *string `json:"icon"`
	NavOrder int     `json:"nav_order"`
}

// Brand is derived by the backend from product brand names.
type Brand struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
	Logo string `json:"logo"`
}

// Image is a product image with an absolute URL.
type Image struct {
	ID        int64  `json:"id"`
	URL       string `json:"image"`
	AltText   string `json:"alt_text"`
	IsPrimary bool   `json:"is_primary"`
}

// Backorder policies.
const (
	BackorderDeny  = "deny"
	BackorderAllow = "allow"
)

// Inventory is the stock view of a variant.
type Inventory struct {
	QtyAvailable        int     `json:"qty_available"`
	BackorderPolicy     string  `json:"backorder_policy"`
	ExpectedRestockDate *string `json:"expected_restock_date"`
}

// Variant is a purchasable SKU.
type Variant struct {
	ID         int64          `json:"id"`
	SKU        string         `json:"sku"`
	Attributes map[string]any `json:"attributes"`
	PriceMRP   money.Amount   `json:"price_mrp"`
	PriceSale  *money.Amount  `json:"price_sale"`
	Weight     *money.Amount  `json:"weight"`
	Inventory  *Inventory     `json:"inventory"`
}

// Price is the sale price when set, else MRP.
func (v Variant) Price() money.Amount {
	if v.PriceSale != nil && v.PriceSale.IsPositive() {
		return *v.PriceSale
	}
	return v.PriceMRP
}

// OnSale reports whether a sale price below MRP applies.
func (v Variant) OnSale() bool {
	return v.PriceSale != nil && v.PriceSale.IsPositive() && v.PriceSale.Cmp(v.PriceMRP) < 0
}

// InStock is true while stock remains or backorders are allowed.
func (v Variant) InStock() bool {
	if v.Inventory == nil {
		return true
	}
	return v.Inventory.QtyAvailable > 0 || v.Inventory.BackorderPolicy == BackorderAllow
}

// Backordered reports a variant with no stock that still sells.
func (v Variant) Backordered() bool {
	return v.Inventory != nil && v.Inventory.QtyAvailable <= 0 && v.Inventory.BackorderPolicy == BackorderAllow
}

// Label joins attribute values, e.g. "Red / XL".
func (v Variant) Label() string {
	if len(v.Attributes) == 0 {
		return v.SKU
	}
	keys := sortedKeys(v.Attributes)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if s := strings.TrimSpace(toString(v.Attributes[k])); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return v.SKU
	}
	return strings.Join(parts, " / ")
}

// Product is a list entry. Search hits share the shape.
type Product struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Slug         string       `json:"slug"`
	Brand        string       `json:"brand"`
	Status       string       `json:"status,omitempty"`
	Category     *Category    `json:"category"`
	MinPrice     money.Amount `json:"min_price"`
	PrimaryImage *Image       `json:"primary_image"`
}

// ProductDetail is the full product page payload.
type ProductDetail struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Brand       string    `json:"brand"`
	Status      string    `json:"status"`
	Category    *Category `json:"category"`
	Variants    []Variant `json:"variants"`
	Images      []Image   `json:"images"`
	// MinPrice and PrimaryImage are present when the detail came from a list response.
	MinPrice     money.Amount `json:"min_price"`
	PrimaryImage *Image       `json:"primary_image"`
}

// Variant returns the variant with id.
func (p ProductDetail) Variant(id int64) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Cover picks the primary image, else the first one.
func (p ProductDetail) Cover() *Image {
	if p.PrimaryImage != nil {
		return p.PrimaryImage
	}
	for i := range p.Images {
		if p.Images[i].IsPrimary {
			return &p.Images[i]
		}
	}
	if len(p.Images) > 0 {
		return &p.Images[0]
	}
	return nil
}

// FromPrice is the lowest variant price, or MinPrice when variants are absent.
func (p ProductDetail) FromPrice() money.Amount {
	if len(p.Variants) == 0 {
		return p.MinPrice
	}
	low := p.Variants[0].Price()
	for _, v := range p.Variants[1:] {
		if v.Price().Cmp(low) < 0 {
			low = v.Price()
		}
	}
	return low
}

// Page is a page-number paginated list.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// HasNext reports whether another page follows.
func (p Page[T]) HasNext() bool { return p.Next != nil && *p.Next != "" }

// HasPrevious reports whether a page precedes.
func (p Page[T]) HasPrevious() bool { return p.Previous != nil && *p.Previous != "" }

// SearchResult is the limit/offset search payload.
type SearchResult struct {
	Count      int       `json:"count"`
	NextOffset *int      `json:"next_offset"`
	PrevOffset *int      `json:"prev_offset"`
	Results    []Product `json:"results"`
}

// HomeBanner is an active homepage banner.
type HomeBanner struct {
	ID    int64  `json:"id"`
	Image string `json:"image"`
	Title string `json:"title"`
	Alt   string `json:"alt"`
	Href  string `json:"href"`
}

// Rail is a titled homepage product strip.
type Rail struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	ViewAll string    `json:"viewAll"`
	Sort    int       `json:"sort"`
	Items   []Product `json:"-"`
}

// Home is the homepage content.
type Home struct {
	Banners []HomeBanner `json:"banners"`
	Rails   []Rail       `json:"rails"`
}
