package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned when combining amounts of different currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is a fixed-point amount paired with its currency code. All monetary
// arithmetic in the engine goes through this type; float64 never touches a
// balance.
//
// Rounding rule: amounts owed round down to the currency exponent; display
// conversions round half-even. Exponent is 2 for fiat, 8 for crypto.
type Money struct {
	amount   decimal.Decimal
	currency string
}

const (
	fiatExponent   = 2
	cryptoExponent = 8
)

var cryptoCurrencies = map[string]bool{
	"BTC":  true,
	"ETH":  true,
	"LTC":  true,
	"TRX":  true,
	"USDT": true,
	"USDC": true,
}

// Exponent returns the number of decimal places tracked for a currency code.
func Exponent(currency string) int32 {
	if cryptoCurrencies[strings.ToUpper(currency)] {
		return cryptoExponent
	}
	return fiatExponent
}

// New builds a Money from a decimal amount, truncating (rounding down) to the
// currency exponent.
func New(amount decimal.Decimal, currency string) Money {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	return Money{
		amount:   amount.RoundDown(Exponent(currency)),
		currency: currency,
	}
}

// FromMinorUnits builds a fiat Money from integer minor units (cents).
func FromMinorUnits(units int64, currency string) Money {
	return New(decimal.New(units, -fiatExponent), currency)
}

// Parse builds a Money from a decimal string such as "5000.00" or "0.004".
func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return New(d, currency), nil
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return New(decimal.Zero, currency)
}

// Amount exposes the underlying decimal.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the upper-cased currency code.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Neg returns the negated amount. Used for debit ledger entries.
func (m Money) Neg() Money {
	return Money{amount: m.amount.Neg(), currency: m.currency}
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	return Money{amount: m.amount.Abs(), currency: m.currency}
}

// Cmp compares amounts: -1 if m < other, 0 if equal, 1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// GTE reports m >= other.
func (m Money) GTE(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c >= 0, err
}

// CoversWithin reports whether m settles target allowing a tolerance, i.e.
// m >= target - epsilon. Used for crypto settlement where network fees may
// shave the final deposit.
func (m Money) CoversWithin(target Money, epsilon decimal.Decimal) (bool, error) {
	if err := m.sameCurrency(target); err != nil {
		return false, err
	}
	return m.amount.Cmp(target.amount.Sub(epsilon)) >= 0, nil
}

// Display formats the amount half-even at the currency exponent for showing
// to users and providers. Never use the result for arithmetic.
func (m Money) Display() string {
	return m.amount.RoundBank(Exponent(m.currency)).StringFixed(Exponent(m.currency))
}

// String implements fmt.Stringer as "<amount> <currency>".
func (m Money) String() string {
	return m.amount.String() + " " + m.currency
}

// Equal reports exact equality of amount and currency.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as a decimal string to keep precision
// across the wire.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.String(), Currency: m.currency})
}

// UnmarshalJSON decodes the {"amount","currency"} form.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}
