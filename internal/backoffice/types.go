package backoffice

import (
	"strings"
	"time"

	"finitefield.org/storefront/internal/money"
)

// Staff is the caller as reported by /backoffice/me.
type Staff struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsStaff   bool   `json:"is_staff"`
}

// DisplayName prefers the full name, then the username.
func (s Staff) DisplayName() string {
	if name := strings.TrimSpace(s.FirstName + " " + s.LastName); name != "" {
		return name
	}
	return s.Username
}

// Banner is a homepage banner.
type Banner struct {
	ID       int64  `json:"id"`
	Image    string `json:"image"`
	Title    string `json:"title"`
	Alt      string `json:"alt"`
	Href     string `json:"href"`
	Sort     int    `json:"sort"`
	IsActive bool   `json:"is_active"`
}

// Coupon discount types.
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Coupon is a promotion code.
type Coupon struct {
	ID           int64        `json:"id"`
	Code         string       `json:"code"`
	DiscountType string       `json:"discount_type"`
	Value        money.Amount `json:"value"`
	StartsAt     *time.Time   `json:"starts_at"`
	EndsAt       *time.Time   `json:"ends_at"`
	MinSubtotal  money.Amount `json:"min_subtotal"`
	MaxUses      *int         `json:"max_uses"`
	UsedCount    int          `json:"used_count"`
	IsActive     bool         `json:"is_active"`
}

// Exhausted reports a capped coupon that has been fully used.
func (c Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// Live reports whether the coupon would apply at t.
func (c Coupon) Live(t time.Time) bool {
	if !c.IsActive || c.Exhausted() {
		return false
	}
	if c.StartsAt != nil && t.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && t.After(*c.EndsAt) {
		return false
	}
	return true
}

// ShippingMethod is a configured delivery option.
type ShippingMethod struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Code     string        `json:"code"`
	RateType string        `json:"rate_type"`
	BaseRate money.Amount  `json:"base_rate"`
	PerKg    money.Amount  `json:"per_kg"`
	FreeOver *money.Amount `json:"free_over"`
	IsActive bool          `json:"is_active"`
}

// Summary holds headline metrics for a date range.
type Summary struct {
	Start         string       `json:"start"`
	End           string       `json:"end"`
	OrdersCreated int          `json:"orders_created"`
	OrdersPaid    int          `json:"orders_paid"`
	GMV           money.Amount `json:"gmv"`
	AOV           money.Amount `json:"aov"`
	RefundsCount  int          `json:"refunds_count"`
	RefundsAmount money.Amount `json:"refunds_amount"`
}

// TopProduct is one row of the top-products report.
type TopProduct struct {
	SKU     string       `json:"sku"`
	Name    string       `json:"name"`
	QtySold int          `json:"qty_sold"`
	Revenue money.Amount `json:"revenue"`
}

// TopProducts is the top-products report.
type TopProducts struct {
	Start string       `json:"start"`
	End   string       `json:"end"`
	Limit int          `json:"limit"`
	Items []TopProduct `json:"items"`
}
