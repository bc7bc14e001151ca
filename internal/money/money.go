// Package money handles the decimal-string amounts the commerce backend sends
// (e.g. "1299.00") without ever round-tripping them through float64.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Amount is a monetary value as transported by the API. The zero value is 0.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

// Parse reads a decimal string. Empty input is zero.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt returns a whole-unit amount.
func FromInt(v int64) Amount { return Amount{d: decimal.NewFromInt(v)} }

// Mul multiplies the amount by a quantity, used for display-only line totals.
func (a Amount) Mul(qty int) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromInt(int64(qty)))}
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// Equal compares numerically, so "100" equals "100.00".
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// IsPositive reports whether the amount is above zero.
func (a Amount) IsPositive() bool { return a.d.IsPositive() }

// Cmp returns -1, 0 or 1.
func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

// String renders the canonical two-decimal form sent back to the API.
func (a Amount) String() string { return a.d.StringFixed(2) }

// MarshalJSON writes the amount as a JSON string, matching the backend's DecimalField output.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both "12.50" and 12.5.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = Zero
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money: parse %s: %w", raw, err)
	}
	*a = Amount{d: d}
	return nil
}

// Formatter renders amounts for display in one currency and locale.
type Formatter struct {
	symbol  string
	printer *message.Printer
}

// NewFormatter builds a Formatter. Unknown locales fall back to English grouping.
func NewFormatter(currency, locale string) Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return Formatter{
		symbol:  symbolFor(currency),
		printer: message.NewPrinter(tag),
	}
}

// Format renders e.g. "₹1,299.00". Negative amounts keep the sign before the symbol.
func (f Formatter) Format(a Amount) string {
	if f.printer == nil {
		f = NewFormatter("", "en")
	}
	value := a.d.Round(2)
	sign := ""
	if value.IsNegative() {
		sign = "-"
		value = value.Neg()
	}
	v, _ := value.Float64()
	return sign + f.symbol + f.printer.Sprint(number.Decimal(v, number.Scale(2)))
}

func symbolFor(currency string) string {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "", "INR":
		return "₹"
	case "USD":
		return "$"
	case "EUR":
		return "€"
	case "JPY":
		return "¥"
	default:
		return strings.ToUpper(currency) + " "
	}
}
