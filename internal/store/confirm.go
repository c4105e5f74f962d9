package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/magiclamp/lampdesk/internal/model"
)

// Confirmer makes the blocking yes/no decision before a status change is sent.
type Confirmer interface {
	Confirm(ctx context.Context, req model.ServiceRequest, target model.RequestStatus) (bool, error)
}

type ConfirmFunc func(ctx context.Context, req model.ServiceRequest, target model.RequestStatus) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, req model.ServiceRequest, target model.RequestStatus) (bool, error) {
	return f(ctx, req, target)
}

// AutoConfirm approves every change. The session uses it once the CLI has
// already asked the operator.
var AutoConfirm = ConfirmFunc(func(context.Context, model.ServiceRequest, model.RequestStatus) (bool, error) {
	return true, nil
})

// PromptConfirmer asks on Out and reads the answer from In.
// Only "y" or "yes" approve.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (p PromptConfirmer) Confirm(ctx context.Context, req model.ServiceRequest, target model.RequestStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	who := req.RequestCode
	if who == "" {
		who = fmt.Sprintf("#%d", req.ID)
	}
	if req.CustomerName != "" {
		who += " (" + req.CustomerName + ")"
	}
	warn := ""
	if model.IsTerminal(target) {
		warn = " This cannot be undone."
	}
	fmt.Fprintf(p.Out, "Change %s from %s to %s?%s [y/N]: ", who, req.Status.Label(), target.Label(), warn)

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
