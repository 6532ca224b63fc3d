package lifecycle

import (
	"context"
	"errors"
	"fmt"

	libLog "github.com/LerianStudio/lib-uncommons/v2/uncommons/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ovenworks/bakeops/events"
	"github.com/ovenworks/bakeops/internal/nilcheck"
	"github.com/ovenworks/bakeops/inventory"
	"github.com/ovenworks/bakeops/order"
	"github.com/ovenworks/bakeops/recipe"
)

var (
	// ErrInvalidTransition is returned when the requested target status is
	// not adjacent to the current status.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	ErrServiceRequired   = errors.New("lifecycle service is required")
	ErrStoreRequired     = errors.New("order store is required")
	ErrRecipesRequired   = errors.New("recipe finder is required")
	ErrInventoryRequired = errors.New("inventory service is required")
	ErrPublisherRequired = errors.New("event publisher is required")
)

// Publisher is the narrow bus surface the state machine needs.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// Service validates and applies order status transitions.
type Service struct {
	orders    order.Store
	recipes   recipe.Finder
	stock     inventory.Service
	publisher Publisher
	logger    libLog.Logger
}

// NewService wires the state machine to its collaborator ports.
func NewService(
	orders order.Store,
	recipes recipe.Finder,
	stock inventory.Service,
	publisher Publisher,
	logger libLog.Logger,
) (*Service, error) {
	if nilcheck.Interface(orders) {
		return nil, ErrStoreRequired
	}

	if nilcheck.Interface(recipes) {
		return nil, ErrRecipesRequired
	}

	if nilcheck.Interface(stock) {
		return nil, ErrInventoryRequired
	}

	if nilcheck.Interface(publisher) {
		return nil, ErrPublisherRequired
	}

	if nilcheck.Interface(logger) {
		logger = libLog.NewNop()
	}

	return &Service{
		orders:    orders,
		recipes:   recipes,
		stock:     stock,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Transition moves the order to target if target is adjacent to the current
// status. On the InProgress->Ready edge ingredient stock is consumed; on the
// reverse edge the identical quantities are restored. The persisted transition
// is announced with an order.statusChanged event.
//
// Status is never mutated through any other path.
func (svc *Service) Transition(ctx context.Context, orderID uuid.UUID, target order.Status) (*order.Order, error) {
	if svc == nil {
		return nil, ErrServiceRequired
	}

	if !target.IsValid() {
		return nil, fmt.Errorf("%w: target %d", ErrInvalidTransition, target)
	}

	ord, err := svc.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}

		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}

	previous := ord.Status

	if !previous.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, previous, target)
	}

	if err := svc.orders.UpdateStatus(ctx, orderID, target); err != nil {
		return nil, fmt.Errorf("persist status %s for order %s: %w", target, orderID, err)
	}

	ord.Status = target

	svc.compensate(ctx, ord, previous, target)
	svc.publishStatusChanged(ctx, ord, previous, target)

	return ord, nil
}

// compensate applies inventory side effects for exactly two edges: starting
// production consumes stock, undoing production restores it. Every other edge
// is side-effect free.
func (svc *Service) compensate(ctx context.Context, ord *order.Order, from, to order.Status) {
	switch {
	case from == order.StatusInProgress && to == order.StatusReady:
		svc.adjustStockForOrder(ctx, ord, inventory.AdjustmentUsage)
	case from == order.StatusReady && to == order.StatusInProgress:
		svc.adjustStockForOrder(ctx, ord, inventory.AdjustmentAddition)
	}
}

// adjustStockForOrder walks every ingredient of every order item and adjusts
// its stock by ingredientQty x unitConversion x orderItemQty. A missing recipe
// or missing inventory item is skipped: a stale or partially deleted recipe
// must never block a status change.
func (svc *Service) adjustStockForOrder(ctx context.Context, ord *order.Order, kind inventory.AdjustmentType) {
	for _, item := range ord.Items {
		rcp, err := svc.recipes.FindByID(ctx, item.RecipeID)
		if err != nil {
			svc.logger.Log(ctx, libLog.LevelDebug, "skipping stock adjustment: recipe unavailable",
				libLog.String("order_id", ord.ID.String()),
				libLog.String("recipe_id", item.RecipeID.String()),
				libLog.Err(err),
			)

			continue
		}

		for _, ing := range rcp.Ingredients {
			svc.adjustIngredient(ctx, ord, ing, item.Quantity, kind)
		}
	}
}

func (svc *Service) adjustIngredient(
	ctx context.Context,
	ord *order.Order,
	ing recipe.Ingredient,
	itemQuantity int,
	kind inventory.AdjustmentType,
) {
	stockItem, err := svc.stock.FindItem(ctx, ing.IngredientID)
	if err != nil {
		svc.logger.Log(ctx, libLog.LevelDebug, "skipping stock adjustment: inventory item unavailable",
			libLog.String("order_id", ord.ID.String()),
			libLog.String("ingredient_id", ing.IngredientID.String()),
			libLog.Err(err),
		)

		return
	}

	factor := inventory.ConversionFactor(ing.Unit, stockItem.Unit)
	quantity := ing.Quantity.Mul(factor).Mul(decimal.NewFromInt(int64(itemQuantity)))

	if err := svc.stock.AdjustStock(ctx, ing.IngredientID, kind, quantity); err != nil {
		svc.logger.Log(ctx, libLog.LevelWarn, "stock adjustment failed",
			libLog.String("order_id", ord.ID.String()),
			libLog.String("ingredient_id", ing.IngredientID.String()),
			libLog.String("adjustment", string(kind)),
			libLog.Err(err),
		)
	}
}

// publishStatusChanged announces the persisted transition. The transition has
// already happened, so a publish failure is logged and never surfaced back to
// the caller.
func (svc *Service) publishStatusChanged(ctx context.Context, ord *order.Order, previous, next order.Status) {
	evt, err := events.New(events.OrderStatusChanged{
		OrderID:        ord.ID,
		StoreID:        ord.StoreID,
		PreviousStatus: previous,
		NewStatus:      next,
	})
	if err != nil {
		svc.logger.Log(ctx, libLog.LevelError, "build order.statusChanged event", libLog.Err(err))

		return
	}

	if err := svc.publisher.Publish(ctx, evt); err != nil {
		svc.logger.Log(ctx, libLog.LevelWarn, "publish order.statusChanged event",
			libLog.String("order_id", ord.ID.String()),
			libLog.Err(err),
		)
	}
}
