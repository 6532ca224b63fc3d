package recurrence

import (
	"context"
	"fmt"
	"time"

	libLog "github.com/LerianStudio/lib-uncommons/v2/uncommons/log"
	"github.com/google/uuid"

	"github.com/ovenworks/bakeops/internal/nilcheck"
	"github.com/ovenworks/bakeops/order"
)

// Creator is the single-order creation port. Implementations run the ordinary
// creation path for one draft: pricing enrichment, persistence, and the
// order.created publish.
type Creator interface {
	Create(ctx context.Context, draft Draft) (*order.Order, error)
}

// Result reports one batch invocation. When the occurrence cap stopped
// generation while later dates still matched, Truncated is true so callers
// can tell a complete series from a clipped one.
type Result struct {
	GroupID   uuid.UUID
	Orders    []*order.Order
	Truncated bool
}

// Generator expands recurrence rules into concrete orders.
type Generator struct {
	creator Creator
	logger  libLog.Logger
	now     func() time.Time
}

// NewGenerator wires the batch generator to the order-creation path.
func NewGenerator(creator Creator, logger libLog.Logger) (*Generator, error) {
	if nilcheck.Interface(creator) {
		return nil, ErrCreatorRequired
	}

	if nilcheck.Interface(logger) {
		logger = libLog.NewNop()
	}

	return &Generator{creator: creator, logger: logger, now: time.Now}, nil
}

// Generate materializes one order per matching date, all sharing one freshly
// generated recurring group id. The scan starts at the template's due date
// (or the current date when absent) and runs day by day to the rule's end
// date inclusive, capped at MaxOccurrences matches.
//
// Creation is sequential and not transactional across orders: a failure
// partway through leaves the already-created orders persisted, returned in
// the partial Result alongside the error. That trade-off keeps per-order
// semantics simple and the occurrence count deterministic.
func (gen *Generator) Generate(ctx context.Context, tmpl Template, spec Spec) (Result, error) {
	if gen == nil {
		return Result{}, ErrGeneratorRequired
	}

	if err := spec.Validate(); err != nil {
		return Result{}, err
	}

	if err := tmpl.Validate(); err != nil {
		return Result{}, err
	}

	start := gen.now()
	if tmpl.DueDate != nil {
		start = *tmpl.DueDate
	}

	dates, truncated := occurrences(start, spec.EndDate, spec.weekdaySet())
	if len(dates) == 0 {
		return Result{}, fmt.Errorf("%w: %v until %s", ErrNoOccurrences,
			spec.DaysOfWeek, spec.EndDate.Format(time.DateOnly))
	}

	result := Result{
		GroupID:   uuid.New(),
		Orders:    make([]*order.Order, 0, len(dates)),
		Truncated: truncated,
	}

	if truncated {
		gen.logger.Log(ctx, libLog.LevelWarn, "recurring batch clipped at occurrence cap",
			libLog.String("group_id", result.GroupID.String()),
			libLog.Int("cap", MaxOccurrences),
		)
	}

	for _, dueDate := range dates {
		ord, err := gen.creator.Create(ctx, Draft{
			StoreID:          tmpl.StoreID,
			CustomerID:       tmpl.CustomerID,
			Items:            tmpl.Items,
			Notes:            tmpl.Notes,
			DueDate:          dueDate,
			RecurringGroupID: result.GroupID,
		})
		if err != nil {
			return result, fmt.Errorf("create order for %s (group %s, %d created): %w",
				dueDate.Format(time.DateOnly), result.GroupID, len(result.Orders), err)
		}

		result.Orders = append(result.Orders, ord)
	}

	return result, nil
}

// occurrences scans day by day from start to end inclusive and collects the
// dates whose weekday is in days, stopping at MaxOccurrences matches. The
// second return reports whether at least one further matching date was left
// behind the cap.
func occurrences(start, end time.Time, days map[time.Weekday]struct{}) ([]time.Time, bool) {
	var matches []time.Time

	for d := midnight(start); !d.After(midnight(end)); d = d.AddDate(0, 0, 1) {
		if _, ok := days[d.Weekday()]; !ok {
			continue
		}

		if len(matches) == MaxOccurrences {
			return matches, true
		}

		matches = append(matches, d)
	}

	return matches, false
}

// midnight normalizes a timestamp to its calendar date in UTC.
func midnight(t time.Time) time.Time {
	year, month, day := t.UTC().Date()

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
