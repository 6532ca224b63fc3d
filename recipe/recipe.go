// Package recipe defines the recipe lookup port consumed by the lifecycle
// compensation logic.
package recipe

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ovenworks/bakeops/inventory"
)

// ErrNotFound is the not-found signal returned by Finder implementations.
var ErrNotFound = errors.New("recipe not found")

// Ingredient is one ingredient line of a recipe, quantified in the recipe's
// own unit (which may differ from the inventory stock unit).
type Ingredient struct {
	IngredientID uuid.UUID
	Quantity     decimal.Decimal
	Unit         inventory.Unit
}

// Recipe is the production formula behind one order item.
type Recipe struct {
	ID          uuid.UUID
	Name        string
	Ingredients []Ingredient
}

// Finder is the recipe port consumed by the lifecycle state machine.
// A missing recipe is reported as ErrNotFound.
type Finder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Recipe, error)
}
