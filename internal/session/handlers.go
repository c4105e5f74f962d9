package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/magiclamp/lampdesk/internal/model"
	"github.com/magiclamp/lampdesk/internal/store"
	"github.com/magiclamp/lampdesk/internal/uds"
	"github.com/magiclamp/lampdesk/internal/view"
)

type ListParams struct {
	Search string `json:"search,omitempty"`
	Status string `json:"status,omitempty"`
}

type LoadParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type ShowParams struct {
	ID int64 `json:"id"`
}

type TransitionParams struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Confirmed bool   `json:"confirmed"`
}

// PageResult answers load, next, prev and reload.
type PageResult struct {
	Moved bool      `json:"moved"`
	View  view.View `json:"view"`
}

type CountsResult struct {
	Counts     model.StatusCounts `json:"counts"`
	TotalCount int                `json:"totalCount"`
	Page       view.PageInfo      `json:"page"`
}

type TransitionResult struct {
	Item view.Item           `json:"item"`
	From model.RequestStatus `json:"from"`
}

// registerHandlers registers UDS request handlers.
func (s *Session) registerHandlers() {
	s.server.Handle("ping", func(context.Context, *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "page": s.store.Snapshot().Page})
	})

	s.server.Handle("shutdown", func(context.Context, *uds.Request) *uds.Response {
		s.log(LogLevelInfo, "shutdown requested via UDS")
		go s.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	s.server.Handle("list", s.handleList)
	s.server.Handle("load", s.handleLoad)
	s.server.Handle("next", s.handleNext)
	s.server.Handle("prev", s.handlePrev)
	s.server.Handle("reload", s.handleReload)
	s.server.Handle("show", s.handleShow)
	s.server.Handle("transition", s.handleTransition)
	s.server.Handle("counts", s.handleCounts)
}

func (s *Session) handleList(_ context.Context, req *uds.Request) *uds.Response {
	var p ListParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	status, err := view.ParseStatusFilter(p.Status)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	return uds.SuccessResponse(view.Build(s.store.Snapshot(), view.Filter{Search: p.Search, Status: status}))
}

func (s *Session) handleLoad(ctx context.Context, req *uds.Request) *uds.Response {
	var p LoadParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	return s.pageResponse(true, s.store.LoadPage(ctx, p.Cursor))
}

func (s *Session) handleNext(ctx context.Context, _ *uds.Request) *uds.Response {
	moved, err := s.store.NextPage(ctx)
	return s.pageResponse(moved, err)
}

func (s *Session) handlePrev(ctx context.Context, _ *uds.Request) *uds.Response {
	moved, err := s.store.PreviousPage(ctx)
	return s.pageResponse(moved, err)
}

func (s *Session) handleReload(ctx context.Context, _ *uds.Request) *uds.Response {
	return s.pageResponse(true, s.store.Reload(ctx))
}

func (s *Session) pageResponse(moved bool, err error) *uds.Response {
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(PageResult{
		Moved: moved,
		View:  view.Build(s.store.Snapshot(), view.Filter{}),
	})
}

func (s *Session) handleShow(_ context.Context, req *uds.Request) *uds.Response {
	var p ShowParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	r, ok := s.store.Find(p.ID)
	if !ok {
		return errorResponse(fmt.Errorf("%w: id %d", store.ErrRequestNotFound, p.ID))
	}
	return uds.SuccessResponse(view.NewItem(r, s.store.Updating(p.ID)))
}

// handleTransition commits only when the caller says the operator already
// confirmed; otherwise a legal request is answered with CONFIRMATION_REQUIRED.
func (s *Session) handleTransition(ctx context.Context, req *uds.Request) *uds.Response {
	var p TransitionParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	target, err := model.ParseStatus(p.Status)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	before, _ := s.store.Find(p.ID)
	confirmed := store.ConfirmFunc(func(context.Context, model.ServiceRequest, model.RequestStatus) (bool, error) {
		return p.Confirmed, nil
	})
	if err := s.store.Transition(ctx, p.ID, target, confirmed); err != nil {
		return errorResponse(err)
	}

	after, _ := s.store.Find(p.ID)
	return uds.SuccessResponse(TransitionResult{
		Item: view.NewItem(after, false),
		From: before.Status,
	})
}

func (s *Session) handleCounts(context.Context, *uds.Request) *uds.Response {
	v := view.Build(s.store.Snapshot(), view.Filter{})
	return uds.SuccessResponse(CountsResult{
		Counts:     v.Counts,
		TotalCount: v.Page.TotalCount,
		Page:       v.Page,
	})
}

// errorResponse maps store and workflow errors onto protocol error codes.
func errorResponse(err error) *uds.Response {
	var fetchErr *store.FetchError
	var commitErr *store.CommitError
	code := uds.ErrCodeInternal
	switch {
	case errors.Is(err, store.ErrRequestNotFound):
		code = uds.ErrCodeNotFound
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrUnknownStatus):
		code = uds.ErrCodeInvalidTransition
	case errors.Is(err, store.ErrTransitionInFlight):
		code = uds.ErrCodeInFlight
	case errors.Is(err, store.ErrDeclined):
		code = uds.ErrCodeConfirmationRequired
	case errors.Is(err, store.ErrSuperseded):
		code = uds.ErrCodeSuperseded
	case errors.As(err, &fetchErr), errors.As(err, &commitErr):
		code = uds.ErrCodeUpstream
	}
	return uds.ErrorResponse(code, err.Error())
}
