package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is the not-found signal returned by Store implementations.
var ErrNotFound = errors.New("order not found")

// Item is one line of an order.
type Item struct {
	RecipeID  uuid.UUID       `json:"recipeId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Notes     string          `json:"notes,omitempty"`
}

// Order is the order aggregate as seen by the event core. The core reads and
// updates Status and reads Items and StoreID; every other field is owned by
// the order feature module.
type Order struct {
	ID               uuid.UUID       `json:"id"`
	StoreID          uuid.UUID       `json:"storeId"`
	CustomerID       uuid.UUID       `json:"customerId"`
	Items            []Item          `json:"items"`
	Status           Status          `json:"status"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	DueDate          *time.Time      `json:"dueDate,omitempty"`
	RecurringGroupID *uuid.UUID      `json:"recurringGroupId,omitempty"`
	Notes            string          `json:"notes,omitempty"`
}

// Store is the persistence port the event core calls. Implementations live in
// the out-of-scope repository layer; a missing order is reported as ErrNotFound.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}
