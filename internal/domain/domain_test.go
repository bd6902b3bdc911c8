package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoney_String(t *testing.T) {
	tests := []struct {
		in   Money
		want string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{123450, "1234.50"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.String())
	}
}

func TestMoney_ApplyRateRoundsHalfUp(t *testing.T) {
	assert.Equal(t, Money(180), Money(1000).ApplyRate(1800))
	// 333 * 18% = 59.94 -> 60
	assert.Equal(t, Money(60), Money(333).ApplyRate(1800))
	assert.Equal(t, Money(0), Money(1000).ApplyRate(0))
}

func TestComputeTotals(t *testing.T) {
	items := []OrderItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: 1250},
		{ProductID: "p2", Quantity: 1, UnitPrice: 500},
	}
	got := ComputeTotals(items, 1800)
	assert.Equal(t, Money(3000), got.Subtotal)
	assert.Equal(t, Money(540), got.Tax)
	assert.Equal(t, Money(3540), got.Total)
}

func TestProduct_LowStock(t *testing.T) {
	assert.False(t, Product{Stock: 0}.LowStock())
	assert.True(t, Product{Stock: 5, ReorderLevel: 5}.LowStock())
	assert.False(t, Product{Stock: 6, ReorderLevel: 5}.LowStock())
}

func TestAction_Valid(t *testing.T) {
	for _, a := range Actions {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, Action("add").Valid())
	assert.False(t, Action("").Valid())
}

func TestError_CodeSurvivesWrapping(t *testing.T) {
	base := NewConcurrentModificationError("p1")
	wrapped := fmt.Errorf("commit: %w", base)

	assert.Equal(t, CodeConcurrentModification, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeConcurrentModification))
	assert.True(t, IsRecoverable(wrapped))
	assert.False(t, IsRecoverable(NewPersistenceError("load", errors.New("disk gone"))))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestNewLineItemError_IdentifiesLine(t *testing.T) {
	err := NewLineItemError(2, OrderItem{ProductID: "p9", ProductName: "Valve"})
	assert.Equal(t, 2, err.Line)
	assert.Equal(t, "p9", err.ProductID)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "Valve")
}
