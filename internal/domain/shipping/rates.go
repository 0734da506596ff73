package shipping

import (
	"fmt"
	"strings"

	"github.com/example/ec-storefront/internal/money"
	"github.com/shopspring/decimal"
)

// Quoter prices delivery to a country. It owns no state of the order flow.
type Quoter interface {
	GetShippingCost(countryCode string, currency money.Currency, subtotal decimal.Decimal) decimal.Decimal
}

type rateKey struct {
	country  string
	currency money.Currency
}

// FlatRates charges a fixed amount per (country, currency), waived when the
// subtotal reaches FreeOver. Unknown destinations ship free.
type FlatRates struct {
	rates    map[rateKey]decimal.Decimal
	FreeOver decimal.Decimal
}

func NewFlatRates(freeOver decimal.Decimal) *FlatRates {
	return &FlatRates{rates: make(map[rateKey]decimal.Decimal), FreeOver: freeOver}
}

// Set registers the rate for country in currency.
func (f *FlatRates) Set(country string, currency money.Currency, amount decimal.Decimal) {
	f.rates[rateKey{strings.ToUpper(country), currency}] = amount
}

func (f *FlatRates) GetShippingCost(countryCode string, currency money.Currency, subtotal decimal.Decimal) decimal.Decimal {
	rate, ok := f.rates[rateKey{strings.ToUpper(countryCode), currency}]
	if !ok {
		return decimal.Zero
	}
	if f.FreeOver.IsPositive() && subtotal.GreaterThanOrEqual(f.FreeOver) {
		return decimal.Zero
	}
	return rate
}

// ParseFlatRates reads "US:USD:5.00,DE:EUR:7.50".
func ParseFlatRates(spec string, freeOver decimal.Decimal) (*FlatRates, error) {
	f := NewFlatRates(freeOver)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("shipping rate %q: want COUNTRY:CURRENCY:AMOUNT", part)
		}
		cur, err := money.ParseCurrency(fields[1])
		if err != nil {
			return nil, fmt.Errorf("shipping rate %q: %w", part, err)
		}
		amount, err := decimal.NewFromString(fields[2])
		if err != nil || amount.IsNegative() {
			return nil, fmt.Errorf("shipping rate %q: invalid amount", part)
		}
		f.Set(fields[0], cur, amount)
	}
	return f, nil
}
