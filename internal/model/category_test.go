package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()

	for _, c := range AllCategories() {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCategory("concert")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestAllCategoriesClosedSet(t *testing.T) {
	t.Parallel()
	assert.Len(t, AllCategories(), 12)
	assert.Equal(t, CategoryOther, AllCategories()[len(AllCategories())-1])
}

func TestPriceTierString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier PriceTier
		want string
	}{
		{TierFree, "free"},
		{TierBudget, "budget"},
		{TierModerate, "moderate"},
		{TierPremium, "premium"},
		{TierLuxury, "luxury"},
		{PriceTier(9), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.tier.String())
	}
}
