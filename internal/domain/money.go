package domain

import "fmt"

// Money is an amount in minor currency units (cents, paise).
type Money int64

// String formats m with two decimals, e.g. "1234.50".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Mul returns m multiplied by a whole quantity.
func (m Money) Mul(qty int) Money {
	return m * Money(qty)
}

// ApplyRate returns m scaled by a rate in basis points, rounded half up.
// 1800 basis points is 18%.
func (m Money) ApplyRate(bps int) Money {
	return Money((int64(m)*int64(bps) + 5000) / 10000)
}
