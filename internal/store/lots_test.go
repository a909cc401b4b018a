package store

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClampPayment(t *testing.T) {
	d := decimal.RequireFromString

	cases := []struct {
		name    string
		amount  string
		debt    string
		applied string
	}{
		{"under debt", "25.00", "100.00", "25.00"},
		{"exact debt", "100.00", "100.00", "100.00"},
		{"overpayment clamped", "150.00", "100.00", "100.00"},
		{"zero debt", "50.00", "0", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := clampPayment(d(tc.amount), d(tc.debt))
			assert.True(t, got.Equal(d(tc.applied)),
				"clampPayment(%s, %s) = %s, want %s", tc.amount, tc.debt, got, tc.applied)
		})
	}
}
