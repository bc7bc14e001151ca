package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited ignores detail", &Error{Status: http.StatusTooManyRequests, Detail: "Request was throttled. Expected available in 40 seconds."}, MsgSlowDown},
		{"detail wins", &Error{Status: http.StatusBadRequest, Detail: "Invalid coupon.", Message: "other"}, "Invalid coupon."},
		{"message next", &Error{Status: http.StatusBadRequest, Message: "Cart is empty."}, "Cart is empty."},
		{"non field errors", &Error{Status: http.StatusBadRequest, NonFieldErrors: []string{"Coupon expired."}}, "Coupon expired."},
		{"field error", &Error{Status: http.StatusBadRequest, Fields: map[string][]string{"code": {"This field may not be blank."}}}, "This field may not be blank."},
		{"nothing usable", &Error{Status: http.StatusInternalServerError}, "fallback"},
		{"wrapped", fmt.Errorf("cart: update: %w", &Error{Status: http.StatusBadRequest, Detail: "nope"}), "nope"},
		{"transport", errors.New("dial tcp: refused"), "fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Describe(tc.err, "fallback"))
		})
	}
	assert.Empty(t, Describe(nil, "fallback"))
}

func TestDescribeStock(t *testing.T) {
	t.Parallel()

	conflict := &Error{Status: http.StatusConflict, Detail: "Insufficient stock for SKU-1. Available: 3."}
	assert.Equal(t, "Only 3 left in stock.", DescribeStock(conflict, "x"))

	n, ok := AvailableCount(conflict)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	bare := &Error{Status: http.StatusConflict, Detail: "Insufficient stock for item X."}
	assert.Equal(t, MsgStockChanged, DescribeStock(bare, "x"))

	throttled := &Error{Status: http.StatusTooManyRequests, Detail: "Available: 3"}
	assert.Equal(t, MsgSlowDown, DescribeStock(throttled, "x"))
}
