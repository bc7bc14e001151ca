// Package orders lists a customer's orders and drives returns (RMA) and their attachments.
package orders

import (
	"time"

	"finitefield.org/storefront/internal/money"
)

// Order statuses as reported by the backend.
const (
	StatusCreated   = "created"
	StatusPaid      = "paid"
	StatusPicking   = "picking"
	StatusShipped   = "shipped"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
	StatusReturned  = "returned"
	StatusRefunded  = "refunded"
)

// Return statuses.
const (
	ReturnRequested = "requested"
	ReturnApproved  = "approved"
	ReturnRejected  = "rejected"
	ReturnReceived  = "received"
	ReturnRefunded  = "refunded"
)

// Order is the backend's order representation.
type Order struct {
	ID             int64        `json:"id"`
	Status         string       `json:"status"`
	Items          []Item       `json:"items"`
	Subtotal       money.Amount `json:"subtotal"`
	DiscountTotal  money.Amount `json:"discount_total"`
	TaxTotal       money.Amount `json:"tax_total"`
	ShippingTotal  money.Amount `json:"shipping_total"`
	Total          money.Amount `json:"total"`
	CouponCode     string       `json:"coupon_code"`
	TrackingNumber string       `json:"tracking_number"`
	Email          string       `json:"email,omitempty"`
	CreatedAt      *time.Time   `json:"created_at,omitempty"`
}

// Item is one order line.
type Item struct {
	ID         int64          `json:"id"`
	SKU        string         `json:"sku"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
	Price      money.Amount   `json:"price"`
	Qty        int            `json:"qty"`
	LineTotal  money.Amount   `json:"line_total"`
	ImageURL   string         `json:"image_url"`
}

// Returnable mirrors the backend rule: only paid or delivered orders accept returns.
func (o Order) Returnable() bool {
	return o.Status == StatusPaid || o.Status == StatusDelivered
}

// Item finds a line by id.
func (o Order) Item(id int64) (Item, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Return is a return request for one order line.
type Return struct {
	ID          int64  `json:"id"`
	OrderItemID int64  `json:"order_item_id"`
	Qty         int    `json:"qty"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// Attachment is evidence uploaded against a return.
type Attachment struct {
	ID        int64     `json:"id"`
	File      string    `json:"file"`
	MIME      string    `json:"mime"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
