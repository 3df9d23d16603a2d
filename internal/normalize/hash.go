package normalize

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// fieldSep separates hash inputs; the ASCII unit separator does not occur in
// scraped text.
const fieldSep = "\x1f"

// ContentHash fingerprints an event's identity fields. Title and location are
// compared case-insensitively; date and source are taken as given after
// trimming. The result is 16 lowercase hex characters.
func ContentHash(title, date, location, source string) string {
	h := xxhash.New()
	_, _ = h.WriteString(strings.ToLower(strings.TrimSpace(title)))
	_, _ = h.WriteString(fieldSep)
	_, _ = h.WriteString(strings.TrimSpace(date))
	_, _ = h.WriteString(fieldSep)
	_, _ = h.WriteString(strings.ToLower(strings.TrimSpace(location)))
	_, _ = h.WriteString(fieldSep)
	_, _ = h.WriteString(strings.TrimSpace(source))
	return fmt.Sprintf("%016x", h.Sum64())
}
