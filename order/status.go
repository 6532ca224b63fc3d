package order

import (
	"fmt"
	"strings"
)

// ErrStatusInvalid is returned when a raw value does not name a known status.
var ErrStatusInvalid = fmt.Errorf("invalid order status")

// Status represents a stage of the order production lifecycle.
type Status uint8

// Lifecycle stages in production order.
const (
	StatusReceived Status = iota
	StatusInProgress
	StatusReady
	StatusDelivered
)

// ParseStatus validates and converts a raw string status.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "received":
		return StatusReceived, nil
	case "in_progress":
		return StatusInProgress, nil
	case "ready":
		return StatusReady, nil
	case "delivered":
		return StatusDelivered, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}
}

// IsValid reports whether the status is part of the order lifecycle.
func (status Status) IsValid() bool {
	switch status {
	case StatusReceived, StatusInProgress, StatusReady, StatusDelivered:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from status to next is allowed.
// Orders move one step forward or one step backward; stages are never skipped.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusReceived:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusReceived || next == StatusReady
	case StatusReady:
		return next == StatusInProgress || next == StatusDelivered
	case StatusDelivered:
		return next == StatusReady
	default:
		return false
	}
}

func (status Status) String() string {
	switch status {
	case StatusReceived:
		return "received"
	case StatusInProgress:
		return "in_progress"
	case StatusReady:
		return "ready"
	case StatusDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status as its canonical string form.
func (status Status) MarshalText() ([]byte, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrStatusInvalid, status)
	}

	return []byte(status.String()), nil
}

// UnmarshalText decodes a status from its canonical string form.
func (status *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}

	*status = parsed

	return nil
}
