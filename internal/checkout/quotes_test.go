package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/money"
)

type fakeQuoter struct {
	calls     []string
	responses map[string][]Quote
	err       error
}

func (f *fakeQuoter) Quote(_ context.Context, _ apiclient.Credentials, subtotal money.Amount) ([]Quote, error) {
	f.calls = append(f.calls, subtotal.String())
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[subtotal.String()], nil
}

var (
	standard = Quote{ID: 1, Name: "Standard", Code: "STD", Rate: money.MustParse("49.00")}
	express  = Quote{ID: 2, Name: "Express", Code: "EXP", Rate: money.MustParse("149.00")}
	freeStd  = Quote{ID: 1, Name: "Standard", Code: "STD", Rate: money.Zero}
)

func TestQuotesDefaultToFirstAndSkipUnchangedSubtotal(t *testing.T) {
	t.Parallel()

	quoter := &fakeQuoter{responses: map[string][]Quote{"500.00": {standard, express}}}
	q := NewQuotes(quoter)
	ctx := context.Background()

	fetched, err := q.Refresh(ctx, nil, money.MustParse("500"))
	require.NoError(t, err)
	assert.True(t, fetched)
	sel, ok := q.Selected()
	require.True(t, ok)
	assert.Equal(t, int64(1), sel.ID)

	fetched, err = q.Refresh(ctx, nil, money.MustParse("500.00"))
	require.NoError(t, err)
	assert.False(t, fetched, "decimal-equal subtotal must not refetch")
	assert.Len(t, quoter.calls, 1)
}

func TestQuotesKeepSelectionOnlyWhenStillOffered(t *testing.T) {
	t.Parallel()

	quoter := &fakeQuoter{responses: map[string][]Quote{
		"500.00":  {standard, express},
		"1200.00": {freeStd, express},
		"50.00":   {standard},
	}}
	q := NewQuotes(quoter)
	ctx := context.Background()

	_, err := q.Refresh(ctx, nil, money.MustParse("500"))
	require.NoError(t, err)
	require.True(t, q.Select(2))

	_, err = q.Refresh(ctx, nil, money.MustParse("1200"))
	require.NoError(t, err)
	sel, _ := q.Selected()
	assert.Equal(t, int64(2), sel.ID, "express is still offered")

	_, err = q.Refresh(ctx, nil, money.MustParse("50"))
	require.NoError(t, err)
	sel, _ = q.Selected()
	assert.Equal(t, int64(1), sel.ID, "express dropped, default to first")

	assert.False(t, q.Select(99))
}

func TestQuotesFailureClearsAndRetries(t *testing.T) {
	t.Parallel()

	quoter := &fakeQuoter{err: errors.New("boom")}
	q := NewQuotes(quoter)
	ctx := context.Background()

	_, err := q.Refresh(ctx, nil, money.MustParse("500"))
	require.Error(t, err)
	assert.Empty(t, q.List())
	assert.NotEmpty(t, q.Error())
	_, ok := q.Selected()
	assert.False(t, ok)

	quoter.err = nil
	quoter.responses = map[string][]Quote{"500.00": {standard}}
	fetched, err := q.Refresh(ctx, nil, money.MustParse("500"))
	require.NoError(t, err)
	assert.True(t, fetched, "a failed fetch does not pin the subtotal")
	assert.Empty(t, q.Error())
}
