package model

import "github.com/rotisserie/eris"

// Category is one of a closed set of event categories.
type Category string

const (
	CategoryConcert    Category = "Concert"
	CategoryNightlife  Category = "Nightlife"
	CategoryClub       Category = "Club"
	CategoryWorkshop   Category = "Workshop"
	CategoryNetworking Category = "Networking"
	CategorySports     Category = "Sports"
	CategoryArts       Category = "Arts"
	CategoryFood       Category = "Food"
	CategoryCommunity  Category = "Community"
	CategoryTech       Category = "Tech"
	CategoryBusiness   Category = "Business"
	CategoryOther      Category = "Other"
)

// AllCategories returns every defined category.
func AllCategories() []Category {
	return []Category{
		CategoryConcert,
		CategoryNightlife,
		CategoryClub,
		CategoryWorkshop,
		CategoryNetworking,
		CategorySports,
		CategoryArts,
		CategoryFood,
		CategoryCommunity,
		CategoryTech,
		CategoryBusiness,
		CategoryOther,
	}
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", eris.Errorf("unknown category: %q", s)
}

// PriceTier buckets a price: 0 free, 1 under $20, 2 under $50, 3 under $100, 4 $100 and up.
type PriceTier int

const (
	TierFree PriceTier = iota
	TierBudget
	TierModerate
	TierPremium
	TierLuxury
)

// String returns the human-readable tier name.
func (t PriceTier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierBudget:
		return "budget"
	case TierModerate:
		return "moderate"
	case TierPremium:
		return "premium"
	case TierLuxury:
		return "luxury"
	default:
		return "unknown"
	}
}
