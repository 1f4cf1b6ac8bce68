package domain

import "fmt"

// Status is the lifecycle state of a help request. Pending is the only
// initial state; Resolved and Unresolved are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
)

// ParseStatus maps a stored or user supplied value onto the closed set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusResolved, StatusUnresolved:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusUnresolved:
		return true
	default:
		return false
	}
}

// CanTransition is the transition guard shared by every store and the
// lifecycle engine. The only legal moves are pending -> resolved and
// pending -> unresolved.
func CanTransition(from, to Status) error {
	switch from {
	case StatusPending:
		switch to {
		case StatusResolved, StatusUnresolved:
			return nil
		case StatusPending:
			return fmt.Errorf("%w: request is already %s", ErrInvalidTransition, from)
		}
	case StatusResolved, StatusUnresolved:
		switch to {
		case StatusPending, StatusResolved, StatusUnresolved:
			return fmt.Errorf("%w: %s -> %s, request is already %s", ErrInvalidTransition, from, to, from)
		}
	}
	return fmt.Errorf("%w: unknown status %s -> %s", ErrValidation, from, to)
}
