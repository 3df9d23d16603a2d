// Package normalize turns untrusted scraper output into canonical events.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/event-ingest/internal/config"
	"github.com/sells-group/event-ingest/internal/model"
)

// DefaultMaxDescription is the rune length descriptions are truncated to.
const DefaultMaxDescription = 1000

// Validation rule names reported in ValidationError.Rule.
const (
	RuleRequired    = "required"
	RuleDateFormat  = "date_format"
	RuleLinkFormat  = "link_format"
	RulePriceFormat = "price_format"
	RuleNonNegPrice = "non_negative_price"
)

// ValidationError is the rejection reason for a raw event. Only the first
// violated rule is reported.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Normalizer validates raw events and derives price tier, category and
// content hash. It performs no I/O and is safe for concurrent use.
type Normalizer struct {
	validate       *validator.Validate
	categories     *CategoryTable
	maxDescription int
	now            func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the clock used for IngestedAt.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithMaxDescription sets the description truncation length in runes.
func WithMaxDescription(limit int) Option {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxDescription = limit
		}
	}
}

// New creates a Normalizer using the given keyword table.
func New(categories *CategoryTable, opts ...Option) *Normalizer {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	n := &Normalizer{
		validate:       v,
		categories:     categories,
		maxDescription: DefaultMaxDescription,
		now:            time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// FromConfig builds a Normalizer from configuration, loading the keyword
// table override when one is configured.
func FromConfig(cfg config.NormalizeConfig) (*Normalizer, error) {
	table, err := LoadCategories(cfg.CategoriesFile)
	if err != nil {
		return nil, err
	}
	return New(table, WithMaxDescription(cfg.MaxDescription)), nil
}

// Normalize validates raw and returns its canonical form. A rejection is
// returned as *ValidationError.
func (n *Normalizer) Normalize(raw model.RawEvent) (model.CanonicalEvent, error) {
	raw = trimmed(raw)

	// 1. Required fields.
	if err := n.validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return model.CanonicalEvent{}, &ValidationError{
				Field:   fe.Field(),
				Rule:    RuleRequired,
				Message: "is required",
			}
		}
		return model.CanonicalEvent{}, eris.Wrap(err, "normalize: validate")
	}

	// 2. Date is a real ISO calendar date; never repaired.
	if _, err := time.Parse(model.DateLayout, raw.Date); err != nil {
		return model.CanonicalEvent{}, &ValidationError{
			Field:   "date",
			Rule:    RuleDateFormat,
			Message: fmt.Sprintf("%q is not a YYYY-MM-DD calendar date", raw.Date),
		}
	}

	// 3. Absolute http(s) link with a host.
	if !validLink(raw.Link) {
		return model.CanonicalEvent{}, &ValidationError{
			Field:   "link",
			Rule:    RuleLinkFormat,
			Message: fmt.Sprintf("%q is not an absolute http(s) URL", raw.Link),
		}
	}

	// 4. Price. A missing price is recorded as free; scrapers that failed to
	// read a price are indistinguishable from genuinely free events.
	var price int64
	if raw.Price != nil {
		cents, err := raw.Price.Cents()
		if err != nil {
			return model.CanonicalEvent{}, &ValidationError{
				Field:   "price",
				Rule:    RulePriceFormat,
				Message: fmt.Sprintf("%s is not integer cents", raw.Price),
			}
		}
		if cents < 0 {
			return model.CanonicalEvent{}, &ValidationError{
				Field:   "price",
				Rule:    RuleNonNegPrice,
				Message: fmt.Sprintf("%d must be >= 0", cents),
			}
		}
		price = cents
	}

	// 5. Description is bounded, never rejected.
	desc := truncateRunes(raw.Description, n.maxDescription)

	return model.CanonicalEvent{
		Title:       raw.Title,
		Date:        raw.Date,
		Time:        raw.Time,
		Location:    raw.Location,
		Link:        raw.Link,
		Description: desc,
		Source:      raw.Source,
		Price:       price,
		PriceTier:   PriceTier(price),
		Category:    n.categories.Classify(raw.Title, desc),
		ContentHash: ContentHash(raw.Title, raw.Date, raw.Location, raw.Source),
		IngestedAt:  n.now().UTC(),
	}, nil
}

// PriceTier maps a price in cents to its tier.
func PriceTier(cents int64) model.PriceTier {
	switch {
	case cents <= 0:
		return model.TierFree
	case cents < 2000:
		return model.TierBudget
	case cents < 5000:
		return model.TierModerate
	case cents < 10000:
		return model.TierPremium
	default:
		return model.TierLuxury
	}
}

func trimmed(raw model.RawEvent) model.RawEvent {
	raw.Title = strings.TrimSpace(raw.Title)
	raw.Date = strings.TrimSpace(raw.Date)
	raw.Time = strings.TrimSpace(raw.Time)
	raw.Location = strings.TrimSpace(raw.Location)
	raw.Link = strings.TrimSpace(raw.Link)
	raw.Description = strings.TrimSpace(raw.Description)
	raw.Source = strings.TrimSpace(raw.Source)
	return raw
}

func validLink(link string) bool {
	lower := strings.ToLower(link)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return u.Hostname() != ""
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == limit {
			return s[:pos]
		}
		i++
	}
	return s
}
