// Package inventory defines the stock-adjustment port and the measurement
// units used by the lifecycle compensation logic.
package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrItemNotFound is the not-found signal returned by Service implementations.
var ErrItemNotFound = errors.New("inventory item not found")

// AdjustmentType distinguishes stock consumption from stock restoration.
type AdjustmentType string

const (
	// AdjustmentUsage deducts stock, applied when production starts.
	AdjustmentUsage AdjustmentType = "usage"
	// AdjustmentAddition restores stock, applied when production is undone.
	AdjustmentAddition AdjustmentType = "addition"
)

// Unit is a measurement unit for ingredient quantities.
type Unit string

const (
	UnitGram       Unit = "g"
	UnitKilogram   Unit = "kg"
	UnitMilliliter Unit = "ml"
	UnitLiter      Unit = "l"
	UnitPiece      Unit = "unit"
)

// baseFactors express each unit in its base unit (grams, milliliters, pieces).
var baseFactors = map[Unit]decimal.Decimal{
	UnitGram:       decimal.NewFromInt(1),
	UnitKilogram:   decimal.NewFromInt(1000),
	UnitMilliliter: decimal.NewFromInt(1),
	UnitLiter:      decimal.NewFromInt(1000),
	UnitPiece:      decimal.NewFromInt(1),
}

// ConversionFactor returns the multiplier converting a quantity expressed in
// from into the same quantity expressed in to. Units of different dimensions,
// or unknown units, convert with factor 1: a stale unit on a recipe must not
// block a status change, so the quantity is applied as-is.
func ConversionFactor(from, to Unit) decimal.Decimal {
	if from == to {
		return decimal.NewFromInt(1)
	}

	fromBase, okFrom := baseFactors[from]
	toBase, okTo := baseFactors[to]

	if !okFrom || !okTo {
		return decimal.NewFromInt(1)
	}

	return fromBase.Div(toBase)
}

// Item is the stock record for one ingredient, as exposed by the out-of-scope
// inventory module.
type Item struct {
	IngredientID uuid.UUID
	Name         string
	Unit         Unit
	Quantity     decimal.Decimal
}

// Service is the inventory port consumed by the lifecycle state machine.
// A missing item is reported as ErrItemNotFound.
type Service interface {
	FindItem(ctx context.Context, ingredientID uuid.UUID) (*Item, error)
	AdjustStock(ctx context.Context, ingredientID uuid.UUID, kind AdjustmentType, quantity decimal.Decimal) error
}
