// Package notify tells people and other systems about request status
// activity: desktop notifications for the operator and NATS messages for
// downstream consumers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/magiclamp/lampdesk/internal/events"
	"github.com/magiclamp/lampdesk/internal/model"
)

type Kind string

const (
	KindStatusChanged    Kind = "status_changed"
	KindTransitionFailed Kind = "transition_failed"
	KindFetchFailed      Kind = "fetch_failed"
)

// Notice is the payload every notifier receives. It is also the JSON body
// published on NATS.
type Notice struct {
	Kind        Kind                `json:"kind"`
	RequestID   int64               `json:"request_id,omitempty"`
	RequestCode string              `json:"request_code,omitempty"`
	From        model.RequestStatus `json:"from,omitempty"`
	To          model.RequestStatus `json:"to,omitempty"`
	Message     string              `json:"message,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Title is a one-line headline for the notice.
func (n Notice) Title() string {
	switch n.Kind {
	case KindStatusChanged:
		return fmt.Sprintf("%s is now %s", n.subject(), n.To.Label())
	case KindTransitionFailed:
		return fmt.Sprintf("Could not move %s to %s", n.subject(), n.To.Label())
	case KindFetchFailed:
		return "Could not load service requests"
	}
	return "lampdesk"
}

func (n Notice) subject() string {
	if n.RequestCode != "" {
		return n.RequestCode
	}
	return fmt.Sprintf("request #%d", n.RequestID)
}

// FromEvent converts a bus event. ok is false for events nobody is told about.
func FromEvent(e events.Event) (Notice, bool) {
	var kind Kind
	switch e.Type {
	case events.EventStatusChanged:
		kind = KindStatusChanged
	case events.EventTransitionFailed:
		kind = KindTransitionFailed
	case events.EventFetchFailed:
		kind = KindFetchFailed
	default:
		return Notice{}, false
	}
	return Notice{
		Kind:        kind,
		RequestID:   e.RequestID,
		RequestCode: e.RequestCode,
		From:        e.From,
		To:          e.To,
		Message:     e.Message,
		Timestamp:   e.Timestamp,
	}, true
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Notice) error { return nil }

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
