package model

import (
	"bytes"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// RawEvent is a listing as emitted by a scraper. Nothing about it is trusted:
// fields may be missing, dates malformed, links relative.
type RawEvent struct {
	Title       string `json:"title" validate:"required"`
	Date        string `json:"date" validate:"required"`
	Time        string `json:"time,omitempty"`
	Location    string `json:"location" validate:"required"`
	Link        string `json:"link" validate:"required"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source" validate:"required"`
	// Price is in integer cents. Nil means the scraper found no price.
	Price *Price `json:"price,omitempty"`
}

// Price is a scraped price kept exactly as it appeared in the input, so a
// value that is not integer cents fails validation instead of decoding.
type Price []byte

// PriceCents returns a Price holding the given number of cents.
func PriceCents(cents int64) *Price {
	p := Price(strconv.AppendInt(nil, cents, 10))
	return &p
}

// UnmarshalJSON keeps the raw JSON value.
func (p *Price) UnmarshalJSON(b []byte) error {
	*p = append((*p)[:0], b...)
	return nil
}

// MarshalJSON writes the raw JSON value back out.
func (p Price) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// Cents parses the price as a JSON integer.
func (p Price) Cents() (int64, error) {
	v, err := strconv.ParseInt(string(bytes.TrimSpace(p)), 10, 64)
	if err != nil {
		return 0, eris.Errorf("model: price %s is not integer cents", p.String())
	}
	return v, nil
}

func (p Price) String() string { return string(p) }

// CanonicalEvent is a validated, normalized event ready for the remote store.
type CanonicalEvent struct {
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	Time        string    `json:"time,omitempty"`
	Location    string    `json:"location"`
	Link        string    `json:"link"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	Price       int64     `json:"price"`
	PriceTier   PriceTier `json:"price_tier"`
	Category    Category  `json:"category"`
	ContentHash string    `json:"content_hash"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// StagedEvent is a raw event sitting in the staging buffer, keyed by the
// buffer-assigned ID so a sync can remove exactly the records it resolved.
type StagedEvent struct {
	ID       int64     `json:"id"`
	Raw      RawEvent  `json:"raw"`
	StagedAt time.Time `json:"staged_at"`
}

// TrackerEntry is the local memory of an event that has been synced.
type TrackerEntry struct {
	ContentHash string    `json:"content_hash"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	AddedAt     time.Time `json:"added_at"`
}

// NewTrackerEntry builds the tracker entry for a synced event.
func NewTrackerEntry(ev CanonicalEvent, now time.Time) TrackerEntry {
	return TrackerEntry{
		ContentHash: ev.ContentHash,
		Title:       ev.Title,
		Date:        ev.Date,
		AddedAt:     now.UTC(),
	}
}

// Expired reports whether the entry's event date plus retention lies before now.
// Entries with an unparseable date are treated as expired.
func (e TrackerEntry) Expired(now time.Time, retention time.Duration) bool {
	d, err := time.Parse(DateLayout, e.Date)
	if err != nil {
		return true
	}
	return d.Add(retention).Before(now)
}

// DateLayout is the only accepted event date format.
const DateLayout = "2006-01-02"
