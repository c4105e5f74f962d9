package store

import (
	"errors"
	"fmt"

	"github.com/magiclamp/lampdesk/internal/model"
)

var (
	ErrRequestNotFound    = errors.New("request not on the current page")
	ErrTransitionInFlight = errors.New("a status change for this request is already in flight")
	ErrDeclined           = errors.New("status change not confirmed")
	ErrSuperseded         = errors.New("page load superseded by a newer load")
)

// FetchError is a failed page load. The store has been cleared.
type FetchError struct {
	Cursor string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Cursor == "" {
		return fmt.Sprintf("load first page: %v", e.Err)
	}
	return fmt.Sprintf("load page %s: %v", e.Cursor, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CommitError is a transition the backend refused or never acknowledged.
// The request keeps its previous status.
type CommitError struct {
	ID     int64
	Target model.RequestStatus
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("set request %d to %s: %v", e.ID, e.Target, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
