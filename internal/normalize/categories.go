package normalize

import (
	_ "embed"
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/event-ingest/internal/model"
)

//go:embed categories.yaml
var defaultCategories []byte

// CategoryRule maps one category to the keywords that select it.
type CategoryRule struct {
	Category model.Category `yaml:"category"`
	Keywords []string       `yaml:"keywords"`
}

// CategoryTable is an ordered list of rules; the first matching rule wins.
type CategoryTable struct {
	Version int            `yaml:"version"`
	Rules   []CategoryRule `yaml:"rules"`
}

// DefaultCategories returns the table compiled into the binary.
func DefaultCategories() (*CategoryTable, error) {
	return ParseCategories(defaultCategories)
}

// LoadCategories reads a keyword table from path. An empty path returns the
// embedded default table.
func LoadCategories(path string) (*CategoryTable, error) {
	if path == "" {
		return DefaultCategories()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "normalize: read categories file %s", path)
	}
	return ParseCategories(data)
}

// ParseCategories decodes a YAML keyword table and checks every rule against
// the closed category set.
func ParseCategories(data []byte) (*CategoryTable, error) {
	var t CategoryTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "normalize: parse categories")
	}
	if len(t.Rules) == 0 {
		return nil, eris.New("normalize: categories table has no rules")
	}

	for i, r := range t.Rules {
		c, err := model.ParseCategory(string(r.Category))
		if err != nil {
			return nil, eris.Wrapf(err, "normalize: rule %d", i)
		}
		if c == model.CategoryOther {
			return nil, eris.Errorf("normalize: rule %d: %s is the fallback and cannot have keywords", i, c)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = matchText(kw)
			if kw == "" {
				continue
			}
			kws = append(kws, kw)
		}
		if len(kws) == 0 {
			return nil, eris.Errorf("normalize: rule %d (%s) has no keywords", i, c)
		}
		t.Rules[i].Keywords = kws
	}
	return &t, nil
}

// Classify returns the category of the first rule with a keyword present in
// title or description, or Other.
func (t *CategoryTable) Classify(title, description string) model.Category {
	// Padding lets " kw " match on word boundaries at either end.
	text := " " + matchText(title+" "+description) + " "
	for _, r := range t.Rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, " "+kw+" ") {
				return r.Category
			}
		}
	}
	return model.CategoryOther
}

// matchText lowercases s and collapses every run of non-alphanumerics to one space.
func matchText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}
