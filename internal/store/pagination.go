package store

import (
	"net/url"
	"strconv"
)

// PageFromCursor extracts the page number marker from a cursor URL.
// Cursors without a usable marker count as page 1.
func PageFromCursor(cursor string) int {
	if cursor == "" {
		return 1
	}
	u, err := url.Parse(cursor)
	if err != nil {
		return 1
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// TotalPages is ceil(total/pageSize), never less than 1.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
