package money

import (
	"strings"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/shopspring/decimal"
)

// Currency is an upper-case ISO 4217 code.
type Currency string

// zeroDecimal lists currencies the payment gateway expects in whole units.
var zeroDecimal = map[Currency]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// ParseCurrency normalises code and rejects anything that is not three letters.
func ParseCurrency(code string) (Currency, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", apperr.BadRequest("malformed currency code %q", code)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", apperr.BadRequest("malformed currency code %q", code)
		}
	}
	return Currency(c), nil
}

func (c Currency) String() string { return string(c) }

// Lower returns the code in the lower-case form payment gateways use.
func (c Currency) Lower() string { return strings.ToLower(string(c)) }

// Exponent is the number of minor-unit digits for the currency.
func (c Currency) Exponent() int32 {
	if zeroDecimal[c] {
		return 0
	}
	return 2
}

// Round rounds amount to the currency's minor unit.
func Round(amount decimal.Decimal, c Currency) decimal.Decimal {
	return amount.Round(c.Exponent())
}

// ToMinorUnits converts amount to the integer the gateway charges, e.g.
// 12.34 USD -> 1234, 500 JPY -> 500.
func ToMinorUnits(amount decimal.Decimal, c Currency) int64 {
	return amount.Shift(c.Exponent()).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(units int64, c Currency) decimal.Decimal {
	return decimal.New(units, -c.Exponent())
}

// RequirePositive returns a BadRequest error unless amount > 0.
func RequirePositive(amount decimal.Decimal, what string) error {
	if !amount.IsPositive() {
		return apperr.BadRequest("%s must be positive, got %s", what, amount.String())
	}
	return nil
}
