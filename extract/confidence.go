package extract

import "math"

// adjustConfidence applies the scoring rules to a unit's raw confidence:
// short units are penalized, lower-reliability methods are capped, and the
// final score is clamped to [0, 100] and rounded to one decimal.
func (p Policy) adjustConfidence(u Unit) float64 {
	score := u.Confidence

	if u.Kind != KindTable && len(u.Content) < p.ShortUnitChars {
		score -= p.ShortUnitPenalty
	}

	switch u.Method {
	case MethodOCR:
		if score > p.OCRCeiling {
			score = p.OCRCeiling
		}
	case MethodVision:
		if score > p.VisionConfidence {
			score = p.VisionConfidence
		}
	case MethodFailed:
		if score > p.FailedConfidence {
			score = p.FailedConfidence
		}
	}

	return clampScore(score)
}

// clampScore clamps to [0, 100] and rounds to one decimal.
func clampScore(score float64) float64 {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*10) / 10
}

// aggregateConfidence is the arithmetic mean of unit confidences.
// Zero units means zero confidence, which is itself a warning condition.
func aggregateConfidence(units []Unit) float64 {
	if len(units) == 0 {
		return 0
	}
	var sum float64
	for _, u := range units {
		sum += u.Confidence
	}
	return clampScore(sum / float64(len(units)))
}

// dedupeWarnings returns warnings in first-seen order with duplicates removed.
func dedupeWarnings(warnings []string) []string {
	if len(warnings) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(warnings))
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
