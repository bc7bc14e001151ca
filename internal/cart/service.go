package cart

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"finitefield.org/storefront/internal/apiclient"
)

// Doer is the API client surface used by Service.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// AddMode controls how POST /cart/items/ combines with an existing line.
type AddMode string

const (
	AddSet AddMode = "set"
	AddInc AddMode = "inc"
)

// Service wraps the backend's cart endpoints. Every call is public: the cart is
// keyed on the backend session cookie carried by creds, never on the bearer token.
type Service struct {
	api Doer
}

// NewService returns a Service.
func NewService(api Doer) *Service {
	return &Service{api: api}
}

func (s *Service) Get(ctx context.Context, creds apiclient.Credentials) (Cart, error) {
	var c Cart
	if err := s.api.Do(ctx, apiclient.Request{Path: "/cart/", Public: true, Session: creds}, &c); err != nil {
		return Cart{}, fmt.Errorf("cart: get: %w", err)
	}
	return c, nil
}

func (s *Service) AddItem(ctx context.Context, creds apiclient.Credentials, variantID int64, qty int, mode AddMode) error {
	if mode == "" {
		mode = AddInc
	}
	body := map[string]any{"variant_id": variantID, "qty": qty, "mode": string(mode)}
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/cart/items/", Body: body, Public: true, Session: creds}, nil); err != nil {
		return fmt.Errorf("cart: add item: %w", err)
	}
	return nil
}

func (s *Service) UpdateItem(ctx context.Context, creds apiclient.Credentials, itemID int64, qty int) error {
	path := fmt.Sprintf("/cart/items/%d/", itemID)
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPatch, Path: path, Body: map[string]int{"qty": qty}, Public: true, Session: creds}, nil); err != nil {
		return fmt.Errorf("cart: update item: %w", err)
	}
	return nil
}

func (s *Service) RemoveItem(ctx context.Context, creds apiclient.Credentials, itemID int64) error {
	path := fmt.Sprintf("/cart/items/%d/", itemID)
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: path, Public: true, Session: creds}, nil); err != nil {
		return fmt.Errorf("cart: remove item: %w", err)
	}
	return nil
}

// ApplyCoupon applies code; an empty code removes the current coupon.
func (s *Service) ApplyCoupon(ctx context.Context, creds apiclient.Credentials, code string) error {
	body := map[string]string{"code": strings.TrimSpace(code)}
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/cart/apply-coupon/", Body: body, Public: true, Session: creds}, nil); err != nil {
		return fmt.Errorf("cart: apply coupon: %w", err)
	}
	return nil
}
