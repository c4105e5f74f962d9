package model

import (
	"errors"
	"fmt"
	"strings"
)

// RequestStatus is the lifecycle stage of a service request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "Pending"
	StatusAssigned   RequestStatus = "Assigned"
	StatusInProgress RequestStatus = "InProgress"
	StatusCompleted  RequestStatus = "Completed"
	StatusCancelled  RequestStatus = "Cancelled"
)

var (
	ErrUnknownStatus     = errors.New("unknown request status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []RequestStatus{
	StatusPending,
	StatusAssigned,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

var terminalStatuses = map[RequestStatus]bool{
	StatusCompleted: true,
	StatusCancelled: true,
}

// Pending → Assigned → InProgress → Completed; Cancelled from any non-terminal.
// Slices keep the order action buttons are offered in.
var validRequestTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:    {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

var statusAliases = map[string]RequestStatus{
	"pending":     StatusPending,
	"assigned":    StatusAssigned,
	"inprogress":  StatusInProgress,
	"in_progress": StatusInProgress,
	"in-progress": StatusInProgress,
	"in progress": StatusInProgress,
	"completed":   StatusCompleted,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
}

// ParseStatus maps user or wire input onto a RequestStatus.
func ParseStatus(s string) (RequestStatus, error) {
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func (s RequestStatus) Valid() bool {
	_, ok := validRequestTransitions[s]
	return ok
}

// Label is the human form used in tables and prompts.
func (s RequestStatus) Label() string {
	if s == StatusInProgress {
		return "In Progress"
	}
	return string(s)
}

func IsTerminal(s RequestStatus) bool {
	return terminalStatuses[s]
}

// AvailableTransitions returns the statuses reachable from s in one step.
// The returned slice is a fresh copy.
func AvailableTransitions(s RequestStatus) ([]RequestStatus, error) {
	next, ok := validRequestTransitions[s]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	out := make([]RequestStatus, len(next))
	copy(out, next)
	return out, nil
}

func CanTransition(from, to RequestStatus) bool {
	return ValidateTransition(from, to) == nil
}

func ValidateTransition(from, to RequestStatus) error {
	if !from.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if IsTerminal(from) {
		return fmt.Errorf("%w: cannot leave terminal status %q", ErrInvalidTransition, from)
	}
	for _, allowed := range validRequestTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %q → %q", ErrInvalidTransition, from, to)
}
