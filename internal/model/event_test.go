package model

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerEntryExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	retention := 30 * 24 * time.Hour

	tests := []struct {
		name string
		date string
		want bool
	}{
		{"future event", "2026-05-01", false},
		{"inside retention", "2026-03-15", false},
		{"exactly at boundary", "2026-03-11", false},
		{"past retention", "2026-03-01", true},
		{"unparseable date", "March 1st", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := TrackerEntry{ContentHash: "h", Date: tt.date}
			assert.Equal(t, tt.want, e.Expired(now, retention))
		})
	}
}

func TestNewTrackerEntry(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, loc)
	ev := CanonicalEvent{Title: "Jazz Night", Date: "2026-03-07", ContentHash: "abc123"}

	e := NewTrackerEntry(ev, now)
	assert.Equal(t, "abc123", e.ContentHash)
	assert.Equal(t, "Jazz Night", e.Title)
	assert.Equal(t, "2026-03-07", e.Date)
	assert.Equal(t, time.UTC, e.AddedAt.Location())
	assert.True(t, e.AddedAt.Equal(now))
}

func TestPrice_KeepsRawValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{"integer", `{"price": 1500}`, 1500, false},
		{"negative", `{"price": -1}`, -1, false},
		{"fractional", `{"price": 12.5}`, 0, true},
		{"string", `{"price": "free"}`, 0, true},
		{"numeric string", `{"price": "1500"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var ev RawEvent
			require.NoError(t, json.Unmarshal([]byte(tt.in), &ev))
			require.NotNil(t, ev.Price)

			cents, err := ev.Price.Cents()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cents)
		})
	}
}

func TestPrice_RoundTrip(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(RawEvent{Title: "a", Price: PriceCents(2500)})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"price":2500`)

	p := Price(`"free"`)
	out, err = json.Marshal(RawEvent{Title: "a", Price: &p})
	require.NoError(t, err)

	var back RawEvent
	require.NoError(t, json.Unmarshal(out, &back))
	require.NotNil(t, back.Price)
	assert.Equal(t, `"free"`, back.Price.String())

	out, err = json.Marshal(RawEvent{Title: "a"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "price")
}
