package services

import (
	"fmt"
	"strconv"

	"github.com/empiworks/empi-engine/pkg/models"
)

// Flatten folds a fine-match result into "field.metric" keys, the vocabulary
// score batteries are written against: family_name.jaro_winkler,
// address_1.slice_weight, name_day.equal, ssn.equal and so on.
func Flatten(fm *FineMatch) map[string]any {
	flat := make(map[string]any)
	if fm.NameMatching != nil {
		for field, metrics := range fm.NameMatching.Metrics {
			for metric, value := range metrics {
				flat[field+"."+metric] = value
			}
		}
	}
	if fm.AddressMatching != nil {
		for field, metrics := range fm.AddressMatching.Metrics {
			for metric, value := range metrics {
				flat[field+"."+metric] = value
			}
		}
	}
	flat["name_day.equal"] = fm.NameDayMatching
	flat["ssn.equal"] = fm.SSNMatching
	return flat
}

// ParseThreshold interprets a stored test threshold: numeric text parses as a
// float, bool text ("true"/"True"/"false"/"False") as 1 or 0. Collapsing
// bools to numbers keeps the loose bool-number equality the battery rows were
// written against.
func ParseThreshold(raw string) (float64, error) {
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v, nil
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("threshold %q is neither numeric nor bool", raw)
}

// RunBattery evaluates every test against the flattened metrics. A passing
// test adds its weight and a failing one subtracts it, so scores can go
// negative. Missing or non-numeric metrics and unparseable thresholds fail
// their test.
func RunBattery(tests []*models.ScoreTest, flat map[string]any) float64 {
	score := 0.0
	for _, t := range tests {
		if testPasses(t, flat) {
			score += t.Weight
		} else {
			score -= t.Weight
		}
	}
	return score
}

func testPasses(t *models.ScoreTest, flat map[string]any) bool {
	raw, present := flat[t.Metric]
	if !present {
		return false
	}
	value, ok := metricValue(raw)
	if !ok {
		return false
	}
	threshold, err := ParseThreshold(t.Threshold)
	if err != nil {
		return false
	}

	switch t.Operator {
	case models.OpLT:
		return value < threshold
	case models.OpLE:
		return value <= threshold
	case models.OpEQ:
		return value == threshold
	case models.OpNE:
		return value != threshold
	case models.OpGE:
		return value >= threshold
	case models.OpGT:
		return value > threshold
	}
	return false
}

// metricValue coerces a flattened metric to a number. Bools count as 0/1;
// string-valued diagnostics like trim_result never feed a comparison.
func metricValue(v any) (float64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
