// Package checkout validates the checkout form, tracks shipping quotes and places orders.
package checkout

import (
	"regexp"
	"strings"
)

var (
	phonePattern  = regexp.MustCompile(`^\+?[0-9][0-9 -]{6,14}[0-9]$`)
	postalPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 -]{2,9}$`)
)

// DefaultCountry is used when the form leaves country blank.
const DefaultCountry = "IN"

// Form is the checkout form as submitted.
type Form struct {
	Email      string
	FullName   string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// FieldErrors maps form field names to a message.
type FieldErrors map[string]string

// Any reports whether there is at least one error.
func (f FieldErrors) Any() bool { return len(f) > 0 }

// Normalize trims every field and upper-cases the country, defaulting it.
func (f Form) Normalize() Form {
	f.Email = strings.TrimSpace(f.Email)
	f.FullName = strings.TrimSpace(f.FullName)
	f.Phone = strings.TrimSpace(f.Phone)
	f.Line1 = strings.TrimSpace(f.Line1)
	f.Line2 = strings.TrimSpace(f.Line2)
	f.City = strings.TrimSpace(f.City)
	f.State = strings.TrimSpace(f.State)
	f.PostalCode = strings.TrimSpace(f.PostalCode)
	f.Country = strings.ToUpper(strings.TrimSpace(f.Country))
	if f.Country == "" {
		f.Country = DefaultCountry
	}
	return f
}

// Validate checks presence of every field but Line2, plus the phone and postal patterns.
// Nothing is sent to the backend while errors remain.
func (f Form) Validate() FieldErrors {
	f = f.Normalize()
	errs := FieldErrors{}
	required := []struct {
		field, value, label string
	}{
		{"email", f.Email, "Email"},
		{"full_name", f.FullName, "Full name"},
		{"phone", f.Phone, "Phone"},
		{"line1", f.Line1, "Address"},
		{"city", f.City, "City"},
		{"state", f.State, "State"},
		{"postal_code", f.PostalCode, "Postal code"},
	}
	for _, r := range required {
		if r.value == "" {
			errs[r.field] = r.label + " is required."
		}
	}
	if _, ok := errs["email"]; !ok && !strings.Contains(f.Email, "@") {
		errs["email"] = "Enter a valid email address."
	}
	if _, ok := errs["phone"]; !ok && !phonePattern.MatchString(f.Phone) {
		errs["phone"] = "Enter a valid phone number."
	}
	if _, ok := errs["postal_code"]; !ok && !postalPattern.MatchString(f.PostalCode) {
		errs["postal_code"] = "Enter a valid postal code."
	}
	if len(f.Country) != 2 {
		errs["country"] = "Country must be a 2-letter code."
	}
	return errs
}

type addressPayload struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type checkoutPayload struct {
	Email            string         `json:"email"`
	ShippingAddress  addressPayload `json:"shipping_address"`
	ShippingMethodID *int64         `json:"shipping_method_id,omitempty"`
	CouponCode       string         `json:"coupon_code,omitempty"`
}

func (f Form) payload(shippingMethodID int64, coupon string) checkoutPayload {
	f = f.Normalize()
	p := checkoutPayload{
		Email: f.Email,
		ShippingAddress: addressPayload{
			FullName:   f.FullName,
			Phone:      f.Phone,
			Line1:      f.Line1,
			Line2:      f.Line2,
			City:       f.City,
			State:      f.State,
			PostalCode: f.PostalCode,
			Country:    f.Country,
		},
		CouponCode: strings.TrimSpace(coupon),
	}
	if shippingMethodID > 0 {
		id := shippingMethodID
		p.ShippingMethodID = &id
	}
	return p
}
