package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestConversionFactor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from Unit
		to   Unit
		want string
	}{
		{name: "same unit", from: UnitGram, to: UnitGram, want: "1"},
		{name: "kg to g", from: UnitKilogram, to: UnitGram, want: "1000"},
		{name: "g to kg", from: UnitGram, to: UnitKilogram, want: "0.001"},
		{name: "l to ml", from: UnitLiter, to: UnitMilliliter, want: "1000"},
		{name: "ml to l", from: UnitMilliliter, to: UnitLiter, want: "0.001"},
		{name: "unknown unit falls back to identity", from: Unit("cup"), to: UnitGram, want: "1"},
		{name: "piece to piece", from: UnitPiece, to: UnitPiece, want: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ConversionFactor(tt.from, tt.to)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s, want %s", got, tt.want)
		})
	}
}
