package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng string
		ok       bool
	}{
		{"valid", "25.2048", "55.2708", true},
		{"padded", " 25.2 ", " 55.3", true},
		{"missing lat", "", "55.2708", false},
		{"missing lng", "25.2048", "", false},
		{"garbage", "north", "55.2708", false},
		{"lat out of range", "91", "10", false},
		{"lng out of range", "10", "-181", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ServiceRequest{Latitude: tt.lat, Longitude: tt.lng}
			_, _, ok := r.Coordinates()
			assert.Equal(t, tt.ok, ok)

			link, linkOK := r.MapURL()
			assert.Equal(t, tt.ok, linkOK)
			if tt.ok {
				assert.True(t, strings.HasPrefix(link, "https://www.google.com/maps?q="))
			} else {
				assert.Empty(t, link)
			}
		})
	}
}

func TestTimestamp_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2024-01-02"`, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{`"2024-01-02T10:30:00Z"`, time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)},
		{`"2024-01-02T10:30:00.123456Z"`, time.Date(2024, 1, 2, 10, 30, 0, 123456000, time.UTC)},
		{`"2024-01-02T10:30:00"`, time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(tt.in), &ts), tt.in)
		assert.True(t, ts.Equal(tt.want), "%s parsed as %v", tt.in, ts.Time)
	}

	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`12345`), &ts))
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}

func TestServiceRequest_JSONFieldNames(t *testing.T) {
	raw := `{
		"id": 7,
		"requestCode": "REQ-1042",
		"customerName": "Aisha",
		"mobileNumber": "0501234567",
		"categoryName": "Plumbing",
		"subcategoryName": "Leak",
		"description": "kitchen sink",
		"address": "Al Barsha",
		"latitude": "25.1",
		"longitude": "55.2",
		"status": "Pending",
		"createdAt": "2024-01-02"
	}`
	var r ServiceRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.Equal(t, int64(7), r.ID)
	assert.Equal(t, "REQ-1042", r.RequestCode)
	assert.Equal(t, "Leak", r.SubcategoryName)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, 2024, r.CreatedAt.Year())
}

func TestStatusCounts(t *testing.T) {
	c := StatusCounts{StatusPending: 3, StatusCompleted: 2}
	assert.Equal(t, 5, c.Total())

	clone := c.Clone()
	clone[StatusPending] = 9
	assert.Equal(t, 3, c[StatusPending])

	var empty StatusCounts
	assert.Nil(t, empty.Clone())
	assert.Zero(t, empty.Total())
}
