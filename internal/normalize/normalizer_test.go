package normalize

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-ingest/internal/model"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	table, err := DefaultCategories()
	require.NoError(t, err)
	return New(table, WithClock(func() time.Time { return fixedNow }))
}

func price(c int64) *model.Price { return model.PriceCents(c) }

func rawPrice(s string) *model.Price {
	p := model.Price(s)
	return &p
}

func validRaw() model.RawEvent {
	return model.RawEvent{
		Title:       "Jazz Night",
		Date:        "2026-03-01",
		Time:        "20:00",
		Location:    "The Loft",
		Link:        "https://tickets.example.com/e/123",
		Description: "An evening of live jazz.",
		Source:      "eventbrite",
		Price:       price(2500),
	}
}

func TestNormalize_Valid(t *testing.T) {
	n := newTestNormalizer(t)

	ev, err := n.Normalize(validRaw())
	require.NoError(t, err)

	assert.Equal(t, "Jazz Night", ev.Title)
	assert.Equal(t, "2026-03-01", ev.Date)
	assert.Equal(t, "20:00", ev.Time)
	assert.Equal(t, int64(2500), ev.Price)
	assert.Equal(t, model.TierModerate, ev.PriceTier)
	assert.Equal(t, model.CategoryConcert, ev.Category)
	assert.Len(t, ev.ContentHash, 16)
	assert.Equal(t, ContentHash("Jazz Night", "2026-03-01", "The Loft", "eventbrite"), ev.ContentHash)
	assert.Equal(t, fixedNow, ev.IngestedAt)
}

func TestNormalize_TrimsFields(t *testing.T) {
	n := newTestNormalizer(t)
	raw := validRaw()
	raw.Title = "  Jazz Night\t"
	raw.Location = " The Loft "

	ev, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Jazz Night", ev.Title)
	assert.Equal(t, "The Loft", ev.Location)

	plain, err := n.Normalize(validRaw())
	require.NoError(t, err)
	assert.Equal(t, plain.ContentHash, ev.ContentHash)
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *model.RawEvent)
		wantField string
		wantRule  string
	}{
		{"missing title", func(r *model.RawEvent) { r.Title = "" }, "title", RuleRequired},
		{"blank title", func(r *model.RawEvent) { r.Title = "   " }, "title", RuleRequired},
		{"missing date", func(r *model.RawEvent) { r.Date = "" }, "date", RuleRequired},
		{"missing location", func(r *model.RawEvent) { r.Location = "" }, "location", RuleRequired},
		{"missing link", func(r *model.RawEvent) { r.Link = "" }, "link", RuleRequired},
		{"missing source", func(r *model.RawEvent) { r.Source = "" }, "source", RuleRequired},
		{"us date", func(r *model.RawEvent) { r.Date = "03/01/2026" }, "date", RuleDateFormat},
		{"free text date", func(r *model.RawEvent) { r.Date = "Saturday" }, "date", RuleDateFormat},
		{"impossible date", func(r *model.RawEvent) { r.Date = "2026-02-30" }, "date", RuleDateFormat},
		{"unpadded date", func(r *model.RawEvent) { r.Date = "2026-3-1" }, "date", RuleDateFormat},
		{"relative link", func(r *model.RawEvent) { r.Link = "/events/123" }, "link", RuleLinkFormat},
		{"ftp link", func(r *model.RawEvent) { r.Link = "ftp://example.com/e" }, "link", RuleLinkFormat},
		{"no host", func(r *model.RawEvent) { r.Link = "https:///path" }, "link", RuleLinkFormat},
		{"negative price", func(r *model.RawEvent) { r.Price = price(-1) }, "price", RuleNonNegPrice},
		{"fractional price", func(r *model.RawEvent) { r.Price = rawPrice("12.5") }, "price", RulePriceFormat},
		{"string price", func(r *model.RawEvent) { r.Price = rawPrice(`"free"`) }, "price", RulePriceFormat},
		{"object price", func(r *model.RawEvent) { r.Price = rawPrice(`{"amount":10}`) }, "price", RulePriceFormat},
	}

	n := newTestNormalizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)

			_, err := n.Normalize(raw)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Equal(t, tt.wantRule, verr.Rule)
		})
	}
}

func TestNormalize_FailFastOrder(t *testing.T) {
	n := newTestNormalizer(t)
	raw := validRaw()
	raw.Date = "not-a-date"
	raw.Link = "relative/path"
	raw.Price = price(-5)

	_, err := n.Normalize(raw)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, RuleDateFormat, verr.Rule)
}

func TestNormalize_MissingPriceIsFree(t *testing.T) {
	n := newTestNormalizer(t)
	raw := validRaw()
	raw.Price = nil

	ev, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ev.Price)
	assert.Equal(t, model.TierFree, ev.PriceTier)
}

func TestNormalize_TruncatesDescription(t *testing.T) {
	n := newTestNormalizer(t)
	raw := validRaw()
	raw.Description = strings.Repeat("é", 1500)

	ev, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 1000, len([]rune(ev.Description)))
}

func TestNormalize_UppercaseScheme(t *testing.T) {
	n := newTestNormalizer(t)
	raw := validRaw()
	raw.Link = "HTTPS://Example.com/e/1"

	_, err := n.Normalize(raw)
	assert.NoError(t, err)
}

func TestPriceTier(t *testing.T) {
	tests := []struct {
		cents int64
		want  model.PriceTier
	}{
		{0, model.TierFree},
		{1, model.TierBudget},
		{1999, model.TierBudget},
		{2000, model.TierModerate},
		{4999, model.TierModerate},
		{5000, model.TierPremium},
		{9999, model.TierPremium},
		{10000, model.TierLuxury},
		{1000000, model.TierLuxury},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriceTier(tt.cents), "cents=%d", tt.cents)
	}
}

func TestFromConfig(t *testing.T) {
	n, err := FromConfig(configWithCategories(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDescription, n.maxDescription)

	_, err = FromConfig(configWithCategories("/does/not/exist.yaml"))
	assert.Error(t, err)
}
