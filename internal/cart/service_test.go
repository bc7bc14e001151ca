package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/apiclient"
	"finitefield.org/storefront/internal/auth"
	"finitefield.org/storefront/internal/money"
)

// fakeBackend serves /cart/ and PATCH /cart/items/1/ with server-computed totals.
type fakeBackend struct {
	mu      sync.Mutex
	qty     int
	version int
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := r.Cookie("sessionid"); err != nil {
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "cart-session", Path: "/"})
	}
	if r.Header.Get("Authorization") != "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/cart/":
		price := 500
		subtotal := price * b.qty
		shipping := 0
		if subtotal < 999 {
			shipping = 49
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version": versionString(b.version),
			"items": []map[string]any{{
				"id": 1, "variant_id": 10, "sku": "MUG", "name": "Mug",
				"attributes": map[string]any{}, "price": "500.00", "qty": b.qty,
				"backordered": false, "expected_date": nil,
			}},
			"subtotal":       itoa(subtotal) + ".00",
			"discount_total": "0.00",
			"tax_total":      "0.00",
			"shipping_total": itoa(shipping) + ".00",
			"grand_total":    itoa(subtotal+shipping) + ".00",
			"coupon":         nil,
		})
	case r.Method == http.MethodPatch && r.URL.Path == "/api/v1/cart/items/1/":
		var body struct {
			Qty int `json:"qty"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.qty = body.Qty
		b.version++
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "qty": body.Qty})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func versionString(v int) string {
	return "2024-05-01T10:00:0" + itoa(v) + "Z"
}

func itoa(v int) string { return strconv.Itoa(v) }

func TestQuantityChangeEndToEnd(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{qty: 2}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	client, err := apiclient.New(srv.URL+"/api/v1", apiclient.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	visitor := auth.NewMemoryStore("signed-in-token")
	c := NewCoordinator(NewService(client), 99)
	ctx := context.Background()
	require.NoError(t, c.Reload(ctx, visitor))

	initial := c.Snapshot()
	require.Len(t, initial.Items, 1)
	assert.Equal(t, "1000.00", initial.Subtotal.String())
	assert.Equal(t, "0.00", initial.ShippingTotal.String())

	var seen []Cart
	unsubscribe := c.Subscribe(func(snap Cart) { seen = append(seen, snap) })
	defer unsubscribe()

	require.NoError(t, c.ChangeQuantity(ctx, visitor, 1, 3))

	require.Len(t, seen, 2)
	optimistic := seen[0]
	assert.Equal(t, 3, optimistic.Items[0].Qty)
	assert.Equal(t, "1000.00", optimistic.Subtotal.String(), "totals stay server-owned until reload")
	assert.Equal(t, "1500.00", optimistic.Items[0].LineTotal().String())

	final := c.Snapshot()
	assert.Equal(t, 3, final.Items[0].Qty)
	assert.Equal(t, "1500.00", final.Subtotal.String())
	assert.Equal(t, "1500.00", final.GrandTotal.String())
	assert.Equal(t, versionString(1), final.Version)
	assert.Empty(t, c.LastError())

	var cookieNames []string
	for _, ck := range visitor.Cookies() {
		cookieNames = append(cookieNames, ck.Name)
	}
	assert.Contains(t, cookieNames, "sessionid")
}

func TestFreeShippingGap(t *testing.T) {
	t.Parallel()

	c := sampleCart()
	assert.Equal(t, "0.00", c.FreeShippingGap().String())

	c.Subtotal = c.Items[1].Price
	assert.Equal(t, "700.00", c.FreeShippingGap().String())
	assert.Equal(t, 3, c.Count())
}

func TestFreeShippingGap_ServerThreshold(t *testing.T) {
	t.Parallel()

	var c Cart
	require.NoError(t, json.Unmarshal([]byte(`{
		"items": [],
		"subtotal": "1200.00",
		"grand_total": "1200.00",
		"free_shipping_threshold": "1500.00"
	}`), &c))
	require.NotNil(t, c.FreeShippingThreshold)
	assert.Equal(t, "300.00", c.FreeShippingGap().String())

	copied := c.clone()
	*c.FreeShippingThreshold = money.FromInt(100)
	assert.Equal(t, "300.00", copied.FreeShippingGap().String())

	var absent Cart
	require.NoError(t, json.Unmarshal([]byte(`{"subtotal": "1200.00", "free_shipping_threshold": null}`), &absent))
	assert.Nil(t, absent.FreeShippingThreshold)
	assert.Equal(t, "0.00", absent.FreeShippingGap().String())
}
