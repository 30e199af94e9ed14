// Package render derives display values from a prediction result.
// Every function here is pure.
package render

import (
	"math"
	"strconv"
	"strings"
)

// Risk tier classes
const (
	TierLow     = "low-tier"
	TierMid     = "mid-tier"
	TierHigh    = "high-tier"
	TierUnknown = "unknown-tier"
)

// RiskColorClass maps a risk category to its tier class, ignoring case
func RiskColorClass(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "low":
		return TierLow
	case "moderate":
		return TierMid
	case "high":
		return TierHigh
	default:
		return TierUnknown
	}
}

// PercentageLabel renders p as a percentage with one decimal place
func PercentageLabel(p float64) string {
	pct := math.Round(p*1000) / 10
	if pct == 0 {
		pct = 0 // drop negative zero
	}
	return strconv.FormatFloat(pct, 'f', 1, 64) + "%"
}

// ProbabilityBarWidth maps p in [0,1] to a bar width in percent, clamping
// out-of-range values.
func ProbabilityBarWidth(p float64) float64 {
	if math.IsNaN(p) || p <= 0 {
		return 0
	}
	if p >= 1 {
		return 100
	}
	return p * 100
}

// FollowUpLabel renders a follow-up interval, pluralizing unless months is 1
func FollowUpLabel(months int) string {
	if months == 1 {
		return "1 month"
	}
	return strconv.Itoa(months) + " months"
}
