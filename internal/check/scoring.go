package check

import "math"

// successScoreThreshold is the minimum overall score for a deployment to be
// recommended, independent of the critical-issue gate.
const successScoreThreshold = 70

// suiteScore resolves a suite's 0-100 sub-score. A passing suite without an
// explicit score gets full credit even when it carries warnings; a failing one
// gets zero.
func suiteScore(result SuiteResult) float64 {
	if result.Score != nil {
		return clamp(*result.Score, 0, 100)
	}
	if result.Success {
		return 100
	}
	return 0
}

// overallScore is the weighted average over the suites that actually ran.
// Weights of suites that never ran are excluded from the denominator, so the
// remaining weights are effectively renormalized to sum to 1.
func overallScore(table []SuiteSpec, executed []string, results map[string]SuiteResult) float64 {
	weights := map[string]float64{}
	for _, spec := range table {
		weights[spec.Name] = spec.Weight
	}
	usedWeight := 0.0
	weightedSum := 0.0
	for _, name := range executed {
		weight := weights[name]
		if weight <= 0 {
			continue
		}
		result, ok := results[name]
		if !ok {
			continue
		}
		usedWeight += weight
		weightedSum += suiteScore(result) * weight
	}
	if usedWeight == 0 {
		return 0
	}
	return round2(weightedSum / usedWeight)
}

// Grade maps an overall score to a letter grade.
func Grade(score float64) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "A-"
	case score >= 80:
		return "B+"
	case score >= 75:
		return "B"
	case score >= 70:
		return "B-"
	case score >= 65:
		return "C+"
	case score >= 60:
		return "C"
	case score >= 55:
		return "C-"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

func dedupeStrings(items []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptrFloat64(v float64) *float64 {
	return &v
}
