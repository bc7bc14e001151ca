package orders

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/platform/observability"
)

// ErrNoLookupEmail is returned when the public fallback has no email to search by.
var ErrNoLookupEmail = errors.New("orders: no email for order lookup")

// Lister is the subset of Service History needs.
type Lister interface {
	ListMine(ctx context.Context, creds apiclient.Credentials) ([]Order, error)
	ListByEmail(ctx context.Context, creds apiclient.Credentials, email string) ([]Order, error)
	DetailMine(ctx context.Context, creds apiclient.Credentials, id int64) (Order, error)
	DetailByEmail(ctx context.Context, creds apiclient.Credentials, id int64, email string) (Order, error)
}

// Listing is what the order history page renders.
type Listing struct {
	Orders []Order
	// Fallback marks results that came from the public email lookup rather than the account.
	Fallback bool
	Email    string
}

// History loads the order list, falling back to the public email lookup when the
// account call is rejected with 401 on the first load of the page.
type History struct {
	svc       Lister
	demoEmail string
}

// NewHistory returns a History. demoEmail is used when the visitor has no remembered email.
func NewHistory(svc Lister, demoEmail string) *History {
	return &History{svc: svc, demoEmail: demoEmail}
}

// Load fetches the listing. Only a first load may fall back; later 401s surface as errors.
func (h *History) Load(ctx context.Context, store auth.Store, first bool) (Listing, error) {
	list, err := h.svc.ListMine(ctx, store)
	if err == nil {
		return Listing{Orders: list}, nil
	}
	if !apiclient.IsUnauthorized(err) {
		return Listing{}, err
	}
	h.dropToken(ctx, store)
	if !first {
		return Listing{}, err
	}

	email := h.lookupEmail(store)
	if email == "" {
		return Listing{}, ErrNoLookupEmail
	}
	observability.FromContext(ctx).Info("orders: falling back to email lookup", zap.String("email", observability.SanitizeEmail(email)))
	list, ferr := h.svc.ListByEmail(ctx, store, email)
	if ferr != nil {
		return Listing{}, fmt.Errorf("orders: fallback lookup: %w", ferr)
	}
	return Listing{Orders: list, Fallback: true, Email: email}, nil
}

// Detail fetches one order with the same 401 fallback. The bool reports whether the fallback was used.
func (h *History) Detail(ctx context.Context, store auth.Store, id int64) (Order, bool, error) {
	order, err := h.svc.DetailMine(ctx, store, id)
	if err == nil {
		return order, false, nil
	}
	if !apiclient.IsUnauthorized(err) {
		return Order{}, false, err
	}
	h.dropToken(ctx, store)
	email := h.lookupEmail(store)
	if email == "" {
		return Order{}, false, ErrNoLookupEmail
	}
	order, err = h.svc.DetailByEmail(ctx, store, id, email)
	if err != nil {
		return Order{}, true, err
	}
	return order, true, nil
}

func (h *History) lookupEmail(store auth.Store) string {
	if email := store.Email(); email != "" {
		return email
	}
	return h.demoEmail
}

func (h *History) dropToken(ctx context.Context, store auth.Store) {
	if _, ok := store.Access(); !ok {
		return
	}
	if err := store.Clear(); err != nil {
		observability.FromContext(ctx).Warn("orders: clear invalid token", zap.Error(err))
	}
}
