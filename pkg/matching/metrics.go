package matching

import (
	"github.com/agnivade/levenshtein"
	"github.com/antzucaro/matchr"
	"github.com/xrash/smetrics"
)

// Metric dict keys shared by the comparators and the score batteries. The
// batteries reference these names in score_test rows, so they are part of
// the persisted vocabulary and must not drift.
const (
	KeyDamerauLevenshtein = "damerau_levenshtein_distance"
	KeyEqual              = "equal"
	KeyHamming            = "hamming_distance"
	KeyJaroWinkler        = "jaro_winkler"
	KeyLevenshtein        = "levenshtein_distance"
	KeyMetaphone          = "metaphone"
	KeyRatio              = "ratio"
	KeyStrings            = "strings"

	KeyTrimResult     = "trim_result"
	KeySubResult      = "sub_result"
	KeyJuniorDetected = "junior_detected"
	KeySeniorDetected = "senior_detected"
	KeySliceWeight    = "slice_weight"
	KeyInitialResult  = "initial_result"
	KeyBlank          = "blank"
	KeyAddressBlank   = "address_blank"
	KeyPostalBlank    = "postal_blank"
)

// jaroWinklerBoost and jaroWinklerPrefix pin the similarity to the classic
// Winkler parameters so stored battery thresholds stay comparable across
// releases.
const (
	jaroWinklerBoost  = 0.7
	jaroWinklerPrefix = 4
)

// Pairwise measures one string pair with every supported metric and returns
// the measurements keyed by metric name.
func Pairwise(a, b string) map[string]any {
	return map[string]any{
		KeyDamerauLevenshtein: matchr.DamerauLevenshtein(a, b),
		KeyEqual:              a == b,
		KeyHamming:            HammingDistance(a, b),
		KeyJaroWinkler:        smetrics.JaroWinkler(a, b, jaroWinklerBoost, jaroWinklerPrefix),
		KeyLevenshtein:        levenshtein.ComputeDistance(a, b),
		KeyMetaphone:          metaphoneEqual(a, b),
		KeyRatio:              Ratio(a, b),
		KeyStrings:            [2]string{a, b},
	}
}

// metaphoneEqual reports whether two strings share the same metaphone
// encoding. matchr exposes metaphone only as DoubleMetaphone, so equality
// means both the primary and alternate codes match; digit-only strings
// encode to empty and therefore compare equal.
func metaphoneEqual(a, b string) bool {
	primaryA, alternateA := matchr.DoubleMetaphone(a)
	primaryB, alternateB := matchr.DoubleMetaphone(b)

	return primaryA == primaryB && alternateA == alternateB
}

// HammingDistance counts differing positions over the shorter input and adds
// the length difference, so unequal-length names still measure instead of
// erroring out.
func HammingDistance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	short := len(ra)
	if len(rb) < short {
		short = len(rb)
	}
	distance := 0
	for i := 0; i < short; i++ {
		if ra[i] != rb[i] {
			distance++
		}
	}
	if len(ra) > len(rb) {
		distance += len(ra) - len(rb)
	} else {
		distance += len(rb) - len(ra)
	}

	return distance
}

// Ratio is the normalized indel similarity on a 0..1 scale. Substitutions
// cost two, so a full rewrite scores 0 and equal strings score 1.
func Ratio(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	distance := smetrics.WagnerFischer(a, b, 1, 1, 2)

	return float64(total-distance) / float64(total)
}
