// File: internal/money/money.go
package money

import (
	"fmt"
	"math/big"

	"github.com/quadfund/reconciler/pkg/utils"
	"github.com/shopspring/decimal"
)

// MaxDecimals bounds the supported token precision. ERC-20 tokens use
// up to 18 decimals; a margin is kept for exotic tokens.
const MaxDecimals = 30

// Money is an exact decimal amount held as minor units of a token.
// Amounts are never negative and never touch floating point.
type Money struct {
	units    *big.Int
	decimals int32
}

var zero = big.NewInt(0)

// Zero returns a zero amount with the given token decimals
func Zero(decimals int32) Money {
	return Money{units: big.NewInt(0), decimals: decimals}
}

// FromUnits builds an amount from minor units
func FromUnits(units *big.Int, decimals int32) (Money, error) {
	if units == nil {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Nil units")
	}
	if decimals < 0 || decimals > MaxDecimals {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount,
			fmt.Sprintf("Decimals out of range: %d", decimals))
	}
	if units.Sign() < 0 {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Negative amount", units.String())
	}
	return Money{units: new(big.Int).Set(units), decimals: decimals}, nil
}

// Parse parses a decimal string into an amount with the given token
// decimals. Strings carrying more fractional digits than the token
// supports are rejected rather than rounded.
func Parse(s string, decimals int32) (Money, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount,
			fmt.Sprintf("Decimals out of range: %d", decimals))
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Unparseable amount", s)
	}
	if d.Sign() < 0 {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Negative amount", s)
	}

	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount,
			fmt.Sprintf("Amount has more than %d decimals", decimals), s)
	}

	return Money{units: scaled.BigInt(), decimals: decimals}, nil
}

// Units returns a copy of the amount in minor units
func (m Money) Units() *big.Int {
	if m.units == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.units)
}

// Decimals returns the token decimals of the amount
func (m Money) Decimals() int32 {
	return m.decimals
}

// IsZero reports whether the amount is zero
func (m Money) IsZero() bool {
	return m.units == nil || m.units.Sign() == 0
}

// Add returns m + other. Both amounts must share the same decimals.
func (m Money) Add(other Money) (Money, error) {
	if m.decimals != other.decimals {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount,
			fmt.Sprintf("Decimals mismatch: %d vs %d", m.decimals, other.decimals))
	}
	return Money{units: new(big.Int).Add(m.safeUnits(), other.safeUnits()), decimals: m.decimals}, nil
}

// Sub returns m - other, failing if the result would be negative
func (m Money) Sub(other Money) (Money, error) {
	if m.decimals != other.decimals {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount,
			fmt.Sprintf("Decimals mismatch: %d vs %d", m.decimals, other.decimals))
	}
	result := new(big.Int).Sub(m.safeUnits(), other.safeUnits())
	if result.Sign() < 0 {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Underflow",
			fmt.Sprintf("%s - %s", m.String(), other.String()))
	}
	return Money{units: result, decimals: m.decimals}, nil
}

// Scale returns m * num / den with deterministic round-half-up on the
// minor unit
func (m Money) Scale(num, den *big.Int) (Money, error) {
	if den == nil || den.Sign() == 0 {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Scale by zero denominator")
	}
	if num == nil || num.Sign() < 0 || den.Sign() < 0 {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Negative scale factor")
	}

	// round-half-up: floor((units*num*2 + den) / (den*2))
	product := new(big.Int).Mul(m.safeUnits(), num)
	doubled := new(big.Int).Lsh(product, 1)
	doubled.Add(doubled, den)
	result := doubled.Div(doubled, new(big.Int).Lsh(den, 1))

	return Money{units: result, decimals: m.decimals}, nil
}

// ScaleFloor returns m * num / den truncated toward zero
func (m Money) ScaleFloor(num, den *big.Int) (Money, error) {
	if den == nil || den.Sign() == 0 {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Scale by zero denominator")
	}
	if num == nil || num.Sign() < 0 || den.Sign() < 0 {
		return Money{}, utils.NewAppError(utils.ErrCodeInvalidAmount, "Negative scale factor")
	}
	result := new(big.Int).Mul(m.safeUnits(), num)
	result.Div(result, den)
	return Money{units: result, decimals: m.decimals}, nil
}

// Cmp compares two amounts, rescaling to the finer precision when the
// decimals differ. Returns -1, 0 or 1.
func (m Money) Cmp(other Money) int {
	a, b := m.safeUnits(), other.safeUnits()
	if m.decimals != other.decimals {
		if m.decimals < other.decimals {
			a = new(big.Int).Mul(a, pow10(other.decimals-m.decimals))
		} else {
			b = new(big.Int).Mul(b, pow10(m.decimals-other.decimals))
		}
	}
	return a.Cmp(b)
}

// String formats the amount as a canonical decimal string. The output
// round-trips: Parse(m.String(), m.Decimals()) == m.
func (m Money) String() string {
	return decimal.NewFromBigInt(m.safeUnits(), -m.decimals).String()
}

func (m Money) safeUnits() *big.Int {
	if m.units == nil {
		return zero
	}
	return m.units
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
