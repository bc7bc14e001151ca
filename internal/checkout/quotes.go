package checkout

import (
	"context"
	"sync"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/money"
)

// Quote is one shipping option priced for the current subtotal.
type Quote struct {
	ID   int64        `json:"id"`
	Name string       `json:"name"`
	Code string       `json:"code"`
	Rate money.Amount `json:"rate"`
}

// Quoter fetches quotes for a subtotal.
type Quoter interface {
	Quote(ctx context.Context, creds apiclient.Credentials, subtotal money.Amount) ([]Quote, error)
}

// Quotes caches the quote list for the last subtotal seen and the visitor's selection.
// A new subtotal triggers a refetch; the selection survives only if its id is still offered.
type Quotes struct {
	quoter Quoter

	mu       sync.Mutex
	subtotal *money.Amount
	list     []Quote
	selected int64
	errMsg   string
}

// NewQuotes returns an empty tracker.
func NewQuotes(q Quoter) *Quotes {
	return &Quotes{quoter: q}
}

// Refresh fetches quotes when subtotal differs from the last one fetched. It reports whether it fetched.
func (q *Quotes) Refresh(ctx context.Context, creds apiclient.Credentials, subtotal money.Amount) (bool, error) {
	q.mu.Lock()
	if q.subtotal != nil && q.subtotal.Equal(subtotal) {
		q.mu.Unlock()
		return false, nil
	}
	q.mu.Unlock()

	list, err := q.quoter.Quote(ctx, creds, subtotal)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		q.list = nil
		q.selected = 0
		q.subtotal = nil
		q.errMsg = apiclient.Describe(err, "Could not load shipping options.")
		return true, err
	}
	s := subtotal
	q.subtotal = &s
	q.list = list
	q.errMsg = ""
	if !q.offeredLocked(q.selected) {
		q.selected = 0
		if len(list) > 0 {
			q.selected = list[0].ID
		}
	}
	return true, nil
}

// Select picks a quote by id. Unknown ids are ignored and reported false.
func (q *Quotes) Select(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.offeredLocked(id) {
		return false
	}
	q.selected = id
	return true
}

// Selected returns the chosen quote, if any.
func (q *Quotes) Selected() (Quote, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, quote := range q.list {
		if quote.ID == q.selected {
			return quote, true
		}
	}
	return Quote{}, false
}

// List returns a copy of the current quotes.
func (q *Quotes) List() []Quote {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Quote(nil), q.list...)
}

// Error returns the last fetch failure message.
func (q *Quotes) Error() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.errMsg
}

func (q *Quotes) offeredLocked(id int64) bool {
	if id == 0 {
		return false
	}
	for _, quote := range q.list {
		if quote.ID == id {
			return true
		}
	}
	return false
}
