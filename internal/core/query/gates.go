package query

import "github.com/markdave123-py/doqmate/internal/models"

// Score thresholds for the retrieval confidence buckets.
const (
	highScore   = 0.85
	mediumScore = 0.65
	lowScore    = 0.40
)

// ConfidenceFor buckets the best retrieval score.
func ConfidenceFor(maxScore float64) models.Confidence {
	switch {
	case maxScore >= highScore:
		return models.ConfidenceHigh
	case maxScore >= mediumScore:
		return models.ConfidenceMedium
	case maxScore >= lowScore:
		return models.ConfidenceLow
	}
	return models.ConfidenceUnknown
}

// AmbiguityFor estimates intent ambiguity from the number of retrieved chunks.
func AmbiguityFor(n int) models.Ambiguity {
	switch {
	case n == 0:
		return models.AmbiguityHigh
	case n <= 2:
		return models.AmbiguityMedium
	}
	return models.AmbiguityLow
}

// BelowMinimum reports whether level ranks strictly below min. Levels
// outside the order are treated as below.
func BelowMinimum(level, min models.Confidence) bool {
	l, ok := level.Rank()
	if !ok {
		return true
	}
	m, ok := min.Rank()
	if !ok {
		return true
	}
	return l < m
}
