package model

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ServiceRequest is one customer-submitted service booking as returned by
// the backend. Only Status is ever changed locally.
type ServiceRequest struct {
	ID              int64         `json:"id"`
	RequestCode     string        `json:"requestCode"`
	CustomerName    string        `json:"customerName"`
	MobileNumber    string        `json:"mobileNumber"`
	CategoryName    string        `json:"categoryName"`
	SubcategoryName string        `json:"subcategoryName,omitempty"`
	Description     string        `json:"description,omitempty"`
	Address         string        `json:"address"`
	Latitude        string        `json:"latitude,omitempty"`
	Longitude       string        `json:"longitude,omitempty"`
	Status          RequestStatus `json:"status"`
	CreatedAt       Timestamp     `json:"createdAt"`
}

// Coordinates parses Latitude/Longitude. ok is false when either is missing,
// unparsable or out of range.
func (r ServiceRequest) Coordinates() (lat, lng float64, ok bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(r.Latitude), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(r.Longitude), 64)
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

// MapURL returns a maps link for the request location, if it has one.
func (r ServiceRequest) MapURL() (string, bool) {
	lat, lng, ok := r.Coordinates()
	if !ok {
		return "", false
	}
	q := url.Values{"q": {fmt.Sprintf("%g,%g", lat, lng)}}
	return "https://www.google.com/maps?" + q.Encode(), true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp accepts RFC3339 and date-only values from the backend.
type Timestamp struct {
	time.Time
}

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// MustTimestamp is for fixtures.
func MustTimestamp(s string) Timestamp {
	ts, err := ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return ts
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// StatusCounts holds per-status totals across the whole collection.
type StatusCounts map[RequestStatus]int

func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

func (c StatusCounts) Clone() StatusCounts {
	if c == nil {
		return nil
	}
	out := make(StatusCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// RequestPage is one fetched slice of the remote request collection.
// Empty cursors mean there is no such page. AggregateCounts is nil when the
// backend did not send any.
type RequestPage struct {
	Items           []ServiceRequest
	TotalCount      int
	NextCursor      string
	PreviousCursor  string
	AggregateCounts StatusCounts
}
