// Package view derives what the presentation layer shows from a store
// snapshot. Nothing here holds state; every function can be called again
// with the same input for the same output.
package view

import (
	"fmt"
	"slices"
	"strings"

	"github.com/magiclamp/lampdesk/internal/model"
	"github.com/magiclamp/lampdesk/internal/store"
)

// StatusFilter is either StatusAll or one RequestStatus.
type StatusFilter string

const StatusAll StatusFilter = "all"

// ParseStatusFilter accepts "", "all" or anything model.ParseStatus accepts.
func ParseStatusFilter(s string) (StatusFilter, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.EqualFold(trimmed, string(StatusAll)) {
		return StatusAll, nil
	}
	st, err := model.ParseStatus(trimmed)
	if err != nil {
		return "", fmt.Errorf("status filter: %w", err)
	}
	return StatusFilter(st), nil
}

func (f StatusFilter) matches(s model.RequestStatus) bool {
	return f == "" || f == StatusAll || model.RequestStatus(f) == s
}

type Filter struct {
	Search string       `json:"search,omitempty"`
	Status StatusFilter `json:"status,omitempty"`
}

// Active reports whether the filter can hide anything.
func (f Filter) Active() bool {
	return strings.TrimSpace(f.Search) != "" || (f.Status != "" && f.Status != StatusAll)
}

// Project filters and orders the items of one page. Only the given items are
// considered; the search never reaches other pages. The input is not modified.
func Project(items []model.ServiceRequest, f Filter) []model.ServiceRequest {
	term := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]model.ServiceRequest, 0, len(items))
	for _, item := range items {
		if !f.Status.matches(item.Status) {
			continue
		}
		if term != "" && !matchesSearch(item, term) {
			continue
		}
		out = append(out, item)
	}

	slices.SortStableFunc(out, func(a, b model.ServiceRequest) int {
		return b.CreatedAt.Compare(a.CreatedAt.Time)
	})
	return out
}

// matchesSearch expects term already lowercased.
func matchesSearch(r model.ServiceRequest, term string) bool {
	for _, field := range []string{
		r.RequestCode,
		r.CustomerName,
		r.MobileNumber,
		r.CategoryName,
		r.SubcategoryName,
		r.Description,
		r.Address,
	} {
		if field != "" && strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

type State string

const (
	StateLoading   State = "loading"
	StateNoData    State = "no_data"
	StateNoMatches State = "no_matches"
	StatePopulated State = "populated"
)

// Item is a request as displayed, with the actions it currently offers.
type Item struct {
	model.ServiceRequest
	Transitions []model.RequestStatus `json:"transitions"`
	MapLink     string                `json:"mapUrl,omitempty"`
	Updating    bool                  `json:"updating,omitempty"`
}

func NewItem(r model.ServiceRequest, updating bool) Item {
	next, err := model.AvailableTransitions(r.Status)
	if err != nil {
		next = []model.RequestStatus{}
	}
	mapURL, _ := r.MapURL()
	return Item{
		ServiceRequest: r,
		Transitions:    next,
		MapLink:        mapURL,
		Updating:       updating,
	}
}

type PageInfo struct {
	Current     int  `json:"current"`
	Total       int  `json:"total"`
	HasNext     bool `json:"hasNext"`
	HasPrevious bool `json:"hasPrevious"`
	TotalCount  int  `json:"totalCount"`
}

type View struct {
	State     State              `json:"state"`
	Filter    Filter             `json:"filter"`
	Items     []Item             `json:"items"`
	PageItems int                `json:"pageItems"`
	Counts    model.StatusCounts `json:"counts,omitempty"`
	Page      PageInfo           `json:"page"`
	Error     string             `json:"error,omitempty"`
}

// Build projects a snapshot through f.
func Build(snap store.Snapshot, f Filter) View {
	if f.Status == "" {
		f.Status = StatusAll
	}

	updating := make(map[int64]bool, len(snap.Updating))
	for _, id := range snap.Updating {
		updating[id] = true
	}

	projected := Project(snap.Items, f)
	items := make([]Item, 0, len(projected))
	for _, r := range projected {
		items = append(items, NewItem(r, updating[r.ID]))
	}

	pageSize := snap.PageSize
	if pageSize <= 0 {
		pageSize = model.DefaultPageSize
	}
	current := snap.Page
	if current < 1 {
		current = 1
	}

	v := View{
		Filter:    f,
		Items:     items,
		PageItems: len(snap.Items),
		Counts:    snap.Counts.Clone(),
		Page: PageInfo{
			Current:     current,
			Total:       store.TotalPages(snap.TotalCount, pageSize),
			HasNext:     snap.NextCursor != "",
			HasPrevious: snap.PreviousCursor != "",
			TotalCount:  snap.TotalCount,
		},
		Error: snap.LastError,
	}

	switch {
	case snap.Loading && !snap.Loaded:
		v.State = StateLoading
	case len(snap.Items) == 0:
		v.State = StateNoData
	case len(items) == 0:
		v.State = StateNoMatches
	default:
		v.State = StatePopulated
	}
	return v
}
