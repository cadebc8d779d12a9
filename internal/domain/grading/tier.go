package grading

import (
	"strings"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// PerformanceTier is the qualitative category derived from an average.
type PerformanceTier string

const (
	TierExcellent PerformanceTier = "Excellent"
	TierGood      PerformanceTier = "Good"
	TierAverage   PerformanceTier = "Average"
	TierWeak      PerformanceTier = "Weak"
)

// Lower bounds of each tier, inclusive.
const (
	ExcellentThreshold = 8.0
	GoodThreshold      = 6.5
	AverageThreshold   = 5.0
)

// Classify maps an average to its tier.
func Classify(average float64) PerformanceTier {
	switch {
	case average >= ExcellentThreshold:
		return TierExcellent
	case average >= GoodThreshold:
		return TierGood
	case average >= AverageThreshold:
		return TierAverage
	default:
		return TierWeak
	}
}

// AllTiers returns the tiers from best to worst.
func AllTiers() []PerformanceTier {
	return []PerformanceTier{TierExcellent, TierGood, TierAverage, TierWeak}
}

// IsValid reports whether the tier is one of the four known values.
func (t PerformanceTier) IsValid() bool {
	switch t {
	case TierExcellent, TierGood, TierAverage, TierWeak:
		return true
	}
	return false
}

// Label returns the name printed on school reports.
func (t PerformanceTier) Label() string {
	switch t {
	case TierExcellent:
		return "Giỏi"
	case TierGood:
		return "Khá"
	case TierAverage:
		return "Trung bình"
	case TierWeak:
		return "Yếu"
	default:
		return string(t)
	}
}

// String implements fmt.Stringer.
func (t PerformanceTier) String() string {
	return string(t)
}

// ParseTier accepts either the tier name (case-insensitive) or its report
// label.
func ParseTier(s string) (PerformanceTier, error) {
	s = strings.TrimSpace(s)
	for _, t := range AllTiers() {
		if strings.EqualFold(s, string(t)) || s == t.Label() {
			return t, nil
		}
	}
	return "", shared.ErrUnknownTier
}
