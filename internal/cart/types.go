// Package cart mirrors the backend's session cart and coordinates optimistic edits to it.
package cart

import (
	"time"

	"finitefield.org/storefront/internal/money"
)

// DefaultFreeShippingThreshold matches the backend's default free-shipping subtotal.
// It applies when the cart does not carry its own threshold.
var DefaultFreeShippingThreshold = money.FromInt(999)

// Cart is the server's view of the visitor's cart. Money fields are decimal strings on the wire.
type Cart struct {
	// Version is the backend's cart.updated_at; opaque to callers.
	Version       string       `json:"version"`
	Items         []Item       `json:"items"`
	Subtotal      money.Amount `json:"subtotal"`
	DiscountTotal money.Amount `json:"discount_total"`
	TaxTotal      money.Amount `json:"tax_total"`
	ShippingTotal money.Amount `json:"shipping_total"`
	GrandTotal    money.Amount `json:"grand_total"`
	Coupon        *string      `json:"coupon"`
	// MaxQty is the per-line limit when the backend advertises one.
	MaxQty int `json:"max_qty,omitempty"`
	// FreeShippingThreshold is set when the backend advertises one.
	FreeShippingThreshold *money.Amount `json:"free_shipping_threshold,omitempty"`
}

// Item is one cart line.
type Item struct {
	ID           int64          `json:"id"`
	VariantID    int64          `json:"variant_id"`
	SKU          string         `json:"sku"`
	Name         string         `json:"name"`
	Attributes   map[string]any `json:"attributes"`
	Price        money.Amount   `json:"price"`
	Qty          int            `json:"qty"`
	ImageURL     string         `json:"image,omitempty"`
	Backordered  bool           `json:"backordered"`
	ExpectedDate *string        `json:"expected_date"`
}

// LineTotal is price × qty, for display only. Totals always come from the server.
func (i Item) LineTotal() money.Amount {
	return i.Price.Mul(i.Qty)
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool { return len(c.Items) == 0 }

// Count sums quantities across lines.
func (c Cart) Count() int {
	n := 0
	for _, it := range c.Items {
		n += it.Qty
	}
	return n
}

// Item finds a line by id.
func (c Cart) Item(id int64) (Item, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// CouponCode returns the applied coupon or "".
func (c Cart) CouponCode() string {
	if c.Coupon == nil {
		return ""
	}
	return *c.Coupon
}

// FreeShippingGap is how much more subtotal qualifies for free shipping; zero once reached.
func (c Cart) FreeShippingGap() money.Amount {
	threshold := DefaultFreeShippingThreshold
	if c.FreeShippingThreshold != nil {
		threshold = *c.FreeShippingThreshold
	}
	gap := threshold.Sub(c.Subtotal)
	if gap.IsPositive() {
		return gap
	}
	return money.Zero
}

// clone deep-copies the cart so a captured snapshot can be restored verbatim.
func (c Cart) clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]Item, len(c.Items))
		for i, it := range c.Items {
			out.Items[i] = it
			if it.Attributes != nil {
				attrs := make(map[string]any, len(it.Attributes))
				for k, v := range it.Attributes {
					attrs[k] = v
				}
				out.Items[i].Attributes = attrs
			}
			if it.ExpectedDate != nil {
				d := *it.ExpectedDate
				out.Items[i].ExpectedDate = &d
			}
		}
	}
	if c.Coupon != nil {
		code := *c.Coupon
		out.Coupon = &code
	}
	if c.FreeShippingThreshold != nil {
		threshold := *c.FreeShippingThreshold
		out.FreeShippingThreshold = &threshold
	}
	return out
}

// olderThan reports whether c's version is strictly older than other's.
// Versions that do not parse as timestamps never count as older.
func (c Cart) olderThan(other Cart) bool {
	if c.Version == "" || other.Version == "" {
		return false
	}
	mine, err := time.Parse(time.RFC3339Nano, c.Version)
	if err != nil {
		return false
	}
	theirs, err := time.Parse(time.RFC3339Nano, other.Version)
	if err != nil {
		return false
	}
	return mine.Before(theirs)
}
