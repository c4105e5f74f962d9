// Package render formats session views for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/magiclamp/lampdesk/internal/model"
	"github.com/magiclamp/lampdesk/internal/view"
)

const timeLayout = "2006-01-02 15:04"

// List prints the request table for v, or the matching empty state.
func List(w io.Writer, v view.View) {
	if v.Error != "" {
		fmt.Fprintf(w, "Error: %s\n\n", v.Error)
	}

	switch v.State {
	case view.StateLoading:
		fmt.Fprintln(w, "Loading service requests...")
		return
	case view.StateNoData:
		fmt.Fprintln(w, "No service requests.")
		if v.Error != "" {
			fmt.Fprintln(w, "Retry with: lampdesk requests reload")
		}
		return
	case view.StateNoMatches:
		fmt.Fprintf(w, "No requests on this page match %s.\n", describeFilter(v.Filter))
		fmt.Fprintln(w, "Reset filters with: lampdesk requests list")
		fmt.Fprintln(w)
		Footer(w, v)
		return
	}

	fmt.Fprintf(w, "  %-6s  %-10s  %-18s  %-14s  %-16s  %-11s  %s\n",
		"ID", "CODE", "CUSTOMER", "MOBILE", "CREATED", "STATUS", "ACTIONS")
	for _, it := range v.Items {
		status := it.Status.Label()
		if it.Updating {
			status += "*"
		}
		fmt.Fprintf(w, "  %-6d  %-10s  %-18s  %-14s  %-16s  %-11s  %s\n",
			it.ID,
			truncate(it.RequestCode, 10),
			truncate(it.CustomerName, 18),
			truncate(it.MobileNumber, 14),
			formatCreated(it.CreatedAt),
			status,
			actions(it.Transitions),
		)
	}
	fmt.Fprintln(w)
	Footer(w, v)
}

// Footer prints page position and, when filtering, how much of the page is shown.
func Footer(w io.Writer, v view.View) {
	nav := []string{}
	if v.Page.HasPrevious {
		nav = append(nav, "prev")
	}
	if v.Page.HasNext {
		nav = append(nav, "next")
	}
	line := fmt.Sprintf("Page %d of %d, %d requests in total", v.Page.Current, v.Page.Total, v.Page.TotalCount)
	if len(nav) > 0 {
		line += " (" + strings.Join(nav, ", ") + ")"
	}
	fmt.Fprintln(w, line)
	if v.Filter.Active() {
		fmt.Fprintf(w, "Showing %d, filtered from %d on this page\n", len(v.Items), v.PageItems)
	}
}

// Item prints one request with everything the backend sent.
func Item(w io.Writer, it view.Item) {
	fmt.Fprintf(w, "%s  (#%d)\n", it.RequestCode, it.ID)
	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(w, "  %-12s %s\n", label+":", value)
	}
	row("Status", it.Status.Label())
	row("Customer", it.CustomerName)
	row("Mobile", it.MobileNumber)
	category := it.CategoryName
	if it.SubcategoryName != "" {
		category += " / " + it.SubcategoryName
	}
	row("Category", category)
	row("Description", it.Description)
	row("Address", it.Address)
	row("Map", it.MapLink)
	row("Created", formatCreated(it.CreatedAt))
	if it.Updating {
		row("Updating", "a status change is in flight")
	}
	if len(it.Transitions) == 0 {
		fmt.Fprintln(w, "  No further status changes.")
		return
	}
	fmt.Fprintf(w, "  %-12s %s\n", "Next:", actions(it.Transitions))
}

// Counts prints per-status totals for the whole collection in workflow order.
func Counts(w io.Writer, counts model.StatusCounts, totalCount int) {
	if counts == nil {
		fmt.Fprintln(w, "The backend did not report per-status counts.")
		fmt.Fprintf(w, "Total: %d\n", totalCount)
		return
	}
	fmt.Fprintf(w, "  %-12s  %6s\n", "STATUS", "COUNT")
	for _, st := range model.AllStatuses {
		fmt.Fprintf(w, "  %-12s  %6d\n", st.Label(), counts[st])
	}
	fmt.Fprintf(w, "  %-12s  %6d\n", "Total", totalCount)
}

// Transition prints the outcome of a committed status change.
func Transition(w io.Writer, it view.Item, from model.RequestStatus) {
	fmt.Fprintf(w, "%s: %s -> %s\n", it.RequestCode, from.Label(), it.Status.Label())
}

func describeFilter(f view.Filter) string {
	var parts []string
	if f.Status != "" && f.Status != view.StatusAll {
		parts = append(parts, "status "+model.RequestStatus(f.Status).Label())
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		parts = append(parts, fmt.Sprintf("search %q", s))
	}
	if len(parts) == 0 {
		return "the current filters"
	}
	return strings.Join(parts, " and ")
}

func actions(next []model.RequestStatus) string {
	if len(next) == 0 {
		return "-"
	}
	labels := make([]string, len(next))
	for i, st := range next {
		labels[i] = st.Label()
	}
	return strings.Join(labels, ", ")
}

func formatCreated(ts model.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(timeLayout)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
