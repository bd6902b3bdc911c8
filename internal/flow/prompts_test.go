package flow

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateLabel(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"Ball Valve", 24, "Ball Valve"},
		{"Temperature Sensor PT100", 24, "Temperature Sensor PT100"},
		{"Temperature Sensor PT100 Class A", 24, "Temperature Sensor PT10…"},
		// A cut landing on a space does not leave it before the ellipsis.
		{"Gate Valve 3 inch", 6, "Gate…"},
		{"Überdruckventil Edelstahl", 10, "Überdruck…"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		got := TruncateLabel(tt.in, tt.limit)
		assert.Equal(t, tt.want, got, tt.in)
		if tt.limit > 0 {
			assert.LessOrEqual(t, utf8.RuneCountInString(got), tt.limit, tt.in)
		}
	}
}

func TestBpsPercent(t *testing.T) {
	assert.Equal(t, "18", bpsPercent(1800))
	assert.Equal(t, "12.5", bpsPercent(1250))
	assert.Equal(t, "0.05", bpsPercent(5))
	assert.Equal(t, "0", bpsPercent(0))
}

func TestTokenAction(t *testing.T) {
	assert.Equal(t, "add-stock", string(tokenAction("add-stock", 5)))
	assert.Equal(t, "quick-add-stock", string(tokenAction("add-stock", 0)))
	assert.Equal(t, "quick-order-item", string(tokenAction("order-item", 0)))
}

func TestNotFoundText(t *testing.T) {
	assert.Equal(t, `No product matches "gizmo". Check the spelling or try the SKU.`, notFoundText("gizmo", nil))
}

func TestMatchers(t *testing.T) {
	for _, s := range []string{"yes", "Y", "Yes!", "confirm", "ok", "okay", "correct"} {
		assert.True(t, isAffirmative(s), s)
	}
	for _, s := range []string{"maybe", "yes please", "sure?"} {
		assert.False(t, isAffirmative(s), s)
	}
	for _, s := range []string{"no", "N", "cancel."} {
		assert.True(t, isNegative(s), s)
	}

	n, ok := parseOrdinal(" 2 ")
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	_, ok = parseOrdinal("2nd")
	assert.False(t, ok)

	q, ok := parseQuantity("50 units")
	assert.True(t, ok)
	assert.Equal(t, 50, q)
	_, ok = parseQuantity("0")
	assert.False(t, ok)

	digits, ok := phoneDigits("+91 (987) 654-3210")
	assert.True(t, ok)
	assert.Equal(t, "919876543210", digits)
	_, ok = phoneDigits("98765x43210")
	assert.False(t, ok)

	assert.True(t, validName("Al"))
	assert.False(t, validName("A."))
}
