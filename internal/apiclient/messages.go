package apiclient

import (
	"fmt"
	"net/http"
)

const (
	// MsgSlowDown is shown for every 429, whatever detail the backend sent.
	MsgSlowDown = "You're doing that too often. Please slow down and try again in a minute."
	// MsgStockChanged is used for a 409 that carries no available count.
	MsgStockChanged = "Stock changed for an item in your cart. Please review quantities."
	// MsgUnavailable is shown when the backend could not be reached.
	MsgUnavailable = "We couldn't reach the store right now. Please try again."
)

// Describe turns err into user-facing wording: 429 is always the slow-down
// message, otherwise the server's own message, otherwise fallback.
func Describe(err error, fallback string) string {
	if err == nil {
		return ""
	}
	apiErr, ok := AsError(err)
	if !ok {
		return fallback
	}
	if apiErr.Status == http.StatusTooManyRequests {
		return MsgSlowDown
	}
	if msg := apiErr.ServerMessage(); msg != "" {
		return msg
	}
	return fallback
}

// DescribeStock is Describe with stock wording for 409 conflicts.
func DescribeStock(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if IsConflict(err) {
		return StockMessage(err)
	}
	return Describe(err, fallback)
}

// StockMessage renders "Only N left in stock." when the count is known.
func StockMessage(err error) string {
	if n, ok := AvailableCount(err); ok {
		return fmt.Sprintf("Only %d left in stock.", n)
	}
	return MsgStockChanged
}
