package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ovenworks/bakeops/order"
)

// FrequencyWeekly is the only supported recurrence frequency.
const FrequencyWeekly = "weekly"

// MaxOccurrences caps how many orders one batch invocation may create.
const MaxOccurrences = 52

var (
	// ErrSpecInvalid is returned when the recurrence rule fails validation.
	ErrSpecInvalid = errors.New("invalid recurrence spec")
	// ErrNoOccurrences is returned when no date in the window matches the
	// rule; the batch fails before any order is created.
	ErrNoOccurrences = errors.New("recurrence rule matches no dates in the window")
	// ErrTemplateInvalid is returned when the template order is unusable.
	ErrTemplateInvalid = errors.New("invalid order template")

	ErrCreatorRequired   = errors.New("order creator is required")
	ErrGeneratorRequired = errors.New("recurrence generator is required")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Spec is a weekly recurrence rule: which weekdays to generate on, up to and
// including EndDate.
type Spec struct {
	Frequency  string         `json:"frequency"  validate:"required,oneof=weekly"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek" validate:"required,min=1,dive,min=0,max=6"`
	EndDate    time.Time      `json:"endDate"    validate:"required"`
}

// Validate checks the rule shape.
func (spec Spec) Validate() error {
	if err := validate.Struct(spec); err != nil {
		return fmt.Errorf("%w: %w", ErrSpecInvalid, err)
	}

	return nil
}

// weekdaySet returns the rule's weekdays as a membership set.
func (spec Spec) weekdaySet() map[time.Weekday]struct{} {
	set := make(map[time.Weekday]struct{}, len(spec.DaysOfWeek))
	for _, day := range spec.DaysOfWeek {
		set[day] = struct{}{}
	}

	return set
}

// Template carries the shared fields every generated order starts from.
type Template struct {
	StoreID    uuid.UUID
	CustomerID uuid.UUID
	Items      []order.Item
	Notes      string
	DueDate    *time.Time
}

// Validate checks the template is materializable.
func (tmpl Template) Validate() error {
	if tmpl.StoreID == uuid.Nil {
		return fmt.Errorf("%w: store id is required", ErrTemplateInvalid)
	}

	if tmpl.CustomerID == uuid.Nil {
		return fmt.Errorf("%w: customer id is required", ErrTemplateInvalid)
	}

	if len(tmpl.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrTemplateInvalid)
	}

	return nil
}

// Draft is one concrete order to materialize through the ordinary creation
// path (pricing enrichment, persistence, order.created publish).
type Draft struct {
	StoreID          uuid.UUID
	CustomerID       uuid.UUID
	Items            []order.Item
	Notes            string
	DueDate          time.Time
	RecurringGroupID uuid.UUID
}
