package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHash_CaseInsensitive(t *testing.T) {
	a := ContentHash("Jazz Night", "2026-03-01", "The Loft", "X")
	b := ContentHash("JAZZ NIGHT", "2026-03-01", "the loft", "X")
	c := ContentHash("  jazz night ", "2026-03-01", "THE LOFT  ", "X")

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, a, 16)
}

func TestContentHash_Deterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.Equal(t,
			ContentHash("Techno Warehouse Rave", "2026-04-11", "Dock 7", "ra"),
			ContentHash("Techno Warehouse Rave", "2026-04-11", "Dock 7", "ra"))
	}
}

func TestContentHash_FieldsMatter(t *testing.T) {
	base := ContentHash("Jazz Night", "2026-03-01", "The Loft", "X")

	assert.NotEqual(t, base, ContentHash("Jazz Night", "2026-03-02", "The Loft", "X"))
	assert.NotEqual(t, base, ContentHash("Jazz Night", "2026-03-01", "The Attic", "X"))
	assert.NotEqual(t, base, ContentHash("Jazz Night", "2026-03-01", "The Loft", "Y"))
	assert.NotEqual(t, base, ContentHash("Blues Night", "2026-03-01", "The Loft", "X"))
}

func TestContentHash_SeparatorPreventsShift(t *testing.T) {
	// Moving text between adjacent fields must change the hash.
	assert.NotEqual(t,
		ContentHash("ab", "2026-03-01", "c", "X"),
		ContentHash("a", "2026-03-01", "bc", "X"))
}
