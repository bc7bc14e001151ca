package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/money"
	"finitefield.org/storefront/internal/orders"
	"finitefield.org/storefront/internal/platform/observability"
)

// ErrInvalidForm is returned by Submit when the form fails validation; nothing is sent.
var ErrInvalidForm = errors.New("checkout: invalid form")

const msgCheckoutFailed = "Could not place your order. Please try again."

// Doer is the API client surface used by Service.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Service talks to /shipping/quote/ and /checkout/.
type Service struct {
	api   Doer
	newID func() string
}

// NewService returns a Service.
func NewService(api Doer) *Service {
	return &Service{api: api, newID: func() string { return ulid.Make().String() }}
}

// Quote prices every active shipping method for subtotal.
func (s *Service) Quote(ctx context.Context, creds apiclient.Credentials, subtotal money.Amount) ([]Quote, error) {
	var quotes []Quote
	err := s.api.Do(ctx, apiclient.Request{
		Method:  http.MethodPost,
		Path:    "/shipping/quote/",
		Body:    map[string]money.Amount{"subtotal": subtotal},
		Public:  true,
		Session: creds,
	}, &quotes)
	if err != nil {
		return nil, fmt.Errorf("checkout: quote: %w", err)
	}
	return quotes, nil
}

// Submission is one attempt to place an order.
type Submission struct {
	Form             Form
	ShippingMethodID int64
	Coupon           string
	// IdempotencyKey is generated when empty; resubmitting the same attempt should reuse it.
	IdempotencyKey string
}

// Submit validates and places the order from the visitor's current cart.
// On success the email is remembered for order lookups.
func (s *Service) Submit(ctx context.Context, store auth.Store, sub Submission) (orders.Order, FieldErrors, error) {
	if errs := sub.Form.Validate(); errs.Any() {
		return orders.Order{}, errs, ErrInvalidForm
	}
	key := strings.TrimSpace(sub.IdempotencyKey)
	if key == "" {
		key = s.newID()
	}
	header := http.Header{}
	header.Set("Idempotency-Key", key)

	var order orders.Order
	err := s.api.Do(ctx, apiclient.Request{
		Method:  http.MethodPost,
		Path:    "/checkout/",
		Body:    sub.Form.payload(sub.ShippingMethodID, sub.Coupon),
		Public:  true,
		Session: store,
		Header:  header,
	}, &order)
	if err != nil {
		observability.FromContext(ctx).Warn("checkout: submit failed",
			zap.String("idempotency_key", key),
			zap.Int("api_status", apiclient.StatusOf(err)),
		)
		return orders.Order{}, fieldErrorsFrom(err), fmt.Errorf("checkout: submit: %w", err)
	}
	if err := store.RememberEmail(sub.Form.Normalize().Email); err != nil {
		observability.FromContext(ctx).Debug("checkout: remember email failed", zap.Error(err))
	}
	return order, nil, nil
}

// Translate turns a checkout failure into the message shown above the form.
func Translate(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInvalidForm) {
		return "Please fix the highlighted fields."
	}
	switch apiclient.StatusOf(err) {
	case http.StatusTooManyRequests:
		return apiclient.MsgSlowDown
	case http.StatusConflict:
		return apiclient.StockMessage(err)
	case http.StatusBadRequest:
		if _, ok := apiclient.AvailableCount(err); ok {
			return apiclient.StockMessage(err)
		}
	}
	return apiclient.Describe(err, msgCheckoutFailed)
}

// fieldErrorsFrom maps backend validation errors (including nested shipping_address) onto form fields.
func fieldErrorsFrom(err error) FieldErrors {
	apiErr, ok := apiclient.AsError(err)
	if !ok || apiErr.Status != http.StatusBadRequest {
		return nil
	}
	out := FieldErrors{}
	for field, msgs := range apiErr.Fields {
		if len(msgs) > 0 {
			out[field] = msgs[0]
		}
	}
	var nested struct {
		ShippingAddress map[string][]string `json:"shipping_address"`
	}
	if json.Unmarshal(apiErr.Body, &nested) == nil {
		for field, msgs := range nested.ShippingAddress {
			if len(msgs) > 0 {
				out[field] = msgs[0]
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
