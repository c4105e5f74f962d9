// Package store holds the current page of service requests and is the only
// writer of that state. Page loads replace it wholesale; status transitions
// change a single item after the backend accepted them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/magiclamp/lampdesk/internal/events"
	"github.com/magiclamp/lampdesk/internal/lock"
	"github.com/magiclamp/lampdesk/internal/model"
)

// RequestSource is the backend the store reads pages from and sends status
// changes to.
type RequestSource interface {
	ListRequests(ctx context.Context, cursor string) (*model.RequestPage, error)
	UpdateStatus(ctx context.Context, id int64, status model.RequestStatus) error
}

// Publisher receives store events. *events.Bus satisfies it.
type Publisher interface {
	Publish(events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

type Option func(*Store)

func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithAggregatePolicy(p model.AggregatePolicy) Option {
	return func(s *Store) {
		if p != "" {
			s.policy = p
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Snapshot is a deep copy of the store state at one instant.
type Snapshot struct {
	Items          []model.ServiceRequest
	TotalCount     int
	NextCursor     string
	PreviousCursor string
	Counts         model.StatusCounts
	Page           int
	PageSize       int
	Loaded         bool
	Loading        bool
	Updating       []int64
	LastError      string
}

type Store struct {
	source    RequestSource
	publisher Publisher
	tracer    trace.Tracer
	pageSize  int
	policy    model.AggregatePolicy

	inflight *lock.KeySet
	refresh  singleflight.Group

	mu             sync.RWMutex
	seq            uint64
	items          []model.ServiceRequest
	totalCount     int
	nextCursor     string
	previousCursor string
	currentCursor  string
	counts         model.StatusCounts
	page           int
	loaded         bool
	loading        bool
	lastErr        string
}

func New(source RequestSource, opts ...Option) *Store {
	s := &Store{
		source:    source,
		publisher: nopPublisher{},
		tracer:    otel.Tracer("internal/store"),
		pageSize:  model.DefaultPageSize,
		policy:    model.AggregateAdjust,
		inflight:  lock.NewKeySet(),
		page:      1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadPage fetches the page behind cursor ("" for the first page) and
// replaces the store contents with it. Only the most recently issued load
// may change state; older responses return ErrSuperseded.
func (s *Store) LoadPage(ctx context.Context, cursor string) error {
	ctx, span := s.tracer.Start(ctx, "store.LoadPage",
		trace.WithAttributes(attribute.String("page.cursor", cursor)))
	defer span.End()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.loading = true
	s.mu.Unlock()

	page, err := s.source.ListRequests(ctx, cursor)
	if err == nil && page == nil {
		err = errors.New("backend returned no page")
	}

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		span.SetAttributes(attribute.Bool("page.superseded", true))
		return ErrSuperseded
	}
	s.loading = false

	if err != nil {
		s.items = nil
		s.totalCount = 0
		s.counts = nil
		s.nextCursor = ""
		s.previousCursor = ""
		s.currentCursor = ""
		s.page = 1
		s.loaded = false
		s.lastErr = err.Error()
		s.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		s.publisher.Publish(events.Event{Type: events.EventFetchFailed, Cursor: cursor, Message: err.Error()})
		return &FetchError{Cursor: cursor, Err: err}
	}

	s.items = make([]model.ServiceRequest, len(page.Items))
	copy(s.items, page.Items)
	s.totalCount = page.TotalCount
	s.nextCursor = page.NextCursor
	s.previousCursor = page.PreviousCursor
	s.currentCursor = cursor
	if page.AggregateCounts != nil {
		s.counts = page.AggregateCounts.Clone()
	}
	s.page = PageFromCursor(cursor)
	s.loaded = true
	s.lastErr = ""
	current := s.page
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("page.items", len(page.Items)), attribute.Int("page.number", current))
	s.publisher.Publish(events.Event{Type: events.EventPageLoaded, Cursor: cursor, Page: current})
	return nil
}

// NextPage loads the next page. It reports false without fetching when
// there is no next page.
func (s *Store) NextPage(ctx context.Context) (bool, error) {
	s.mu.RLock()
	cursor := s.nextCursor
	s.mu.RUnlock()
	if cursor == "" {
		return false, nil
	}
	return true, s.LoadPage(ctx, cursor)
}

// PreviousPage is NextPage in the other direction.
func (s *Store) PreviousPage(ctx context.Context) (bool, error) {
	s.mu.RLock()
	cursor := s.previousCursor
	s.mu.RUnlock()
	if cursor == "" {
		return false, nil
	}
	return true, s.LoadPage(ctx, cursor)
}

// Reload fetches the page the store currently shows again.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.RLock()
	cursor := s.currentCursor
	s.mu.RUnlock()
	return s.LoadPage(ctx, cursor)
}

// Transition moves one request on the current page to target. Illegal or
// unknown requests are rejected before anything is sent. The confirmer is
// asked first; nil counts as a refusal. On success only that request's status
// changes; on failure nothing changes.
func (s *Store) Transition(ctx context.Context, id int64, target model.RequestStatus, confirm Confirmer) error {
	ctx, span := s.tracer.Start(ctx, "store.Transition", trace.WithAttributes(
		attribute.Int64("request.id", id),
		attribute.String("request.target", string(target)),
	))
	defer span.End()

	current, ok := s.Find(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
	}
	if err := model.ValidateTransition(current.Status, target); err != nil {
		return fmt.Errorf("request %d: %w", id, err)
	}

	if !s.inflight.TryAcquire(id) {
		return fmt.Errorf("%w: id %d", ErrTransitionInFlight, id)
	}
	defer s.inflight.Release(id)

	if confirm == nil {
		return ErrDeclined
	}
	approved, err := confirm.Confirm(ctx, current, target)
	if err != nil {
		return fmt.Errorf("confirm: %w", err)
	}
	if !approved {
		return ErrDeclined
	}

	// A page load may have replaced the request while the operator decided.
	latest, ok := s.Find(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
	}
	if err := model.ValidateTransition(latest.Status, target); err != nil {
		return fmt.Errorf("request %d: %w", id, err)
	}
	current = latest

	if err := s.source.UpdateStatus(ctx, id, target); err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		s.publisher.Publish(events.Event{
			Type:        events.EventTransitionFailed,
			RequestID:   id,
			RequestCode: current.RequestCode,
			From:        current.Status,
			To:          target,
			Message:     err.Error(),
		})
		return &CommitError{ID: id, Target: target, Err: err}
	}

	// Only the status validated above is replaced. A page loaded during the
	// commit already carries the backend's view of the request.
	from := current.Status
	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 && s.items[i].Status == from {
		s.items[i].Status = target
		if s.policy == model.AggregateAdjust {
			s.adjustCountsLocked(from, target)
		}
	}
	s.mu.Unlock()

	if s.policy == model.AggregateRefetch {
		if err := s.refreshCounts(ctx); err != nil {
			span.RecordError(err)
			s.mu.Lock()
			s.lastErr = "refresh counts: " + err.Error()
			s.mu.Unlock()
		}
	}

	s.publisher.Publish(events.Event{
		Type:        events.EventStatusChanged,
		RequestID:   id,
		RequestCode: current.RequestCode,
		From:        from,
		To:          target,
	})
	return nil
}

// adjustCountsLocked keeps the buckets consistent: the old bucket loses
// what the new one gains. Counts the backend never sent stay absent.
func (s *Store) adjustCountsLocked(from, to model.RequestStatus) {
	if s.counts == nil || from == to {
		return
	}
	if s.counts[from] > 0 {
		s.counts[from]--
	}
	s.counts[to]++
}

// refreshCounts re-reads aggregate counts for the current cursor. Concurrent
// refreshes of the same cursor share one request. Results are dropped if a
// page load happened meanwhile.
func (s *Store) refreshCounts(ctx context.Context) error {
	s.mu.RLock()
	cursor := s.currentCursor
	seq := s.seq
	s.mu.RUnlock()

	v, err, _ := s.refresh.Do(cursor, func() (any, error) {
		return s.source.ListRequests(ctx, cursor)
	})
	if err != nil {
		return err
	}
	page, _ := v.(*model.RequestPage)
	if page == nil {
		return errors.New("backend returned no page")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return nil
	}
	if page.AggregateCounts != nil {
		s.counts = page.AggregateCounts.Clone()
	}
	s.totalCount = page.TotalCount
	return nil
}

func (s *Store) indexLocked(id int64) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns a copy of the request with id if it is on the current page.
func (s *Store) Find(id int64) (model.ServiceRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return model.ServiceRequest{}, false
}

// Available lists the statuses the request with id may move to next.
func (s *Store) Available(id int64) ([]model.RequestStatus, error) {
	req, ok := s.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
	}
	return model.AvailableTransitions(req.Status)
}

// Updating reports whether a transition for id is in flight.
func (s *Store) Updating(id int64) bool {
	return s.inflight.Held(id)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.ServiceRequest, len(s.items))
	copy(items, s.items)
	return Snapshot{
		Items:          items,
		TotalCount:     s.totalCount,
		NextCursor:     s.nextCursor,
		PreviousCursor: s.previousCursor,
		Counts:         s.counts.Clone(),
		Page:           s.page,
		PageSize:       s.pageSize,
		Loaded:         s.loaded,
		Loading:        s.loading,
		Updating:       s.inflight.Keys(),
		LastError:      s.lastErr,
	}
}
