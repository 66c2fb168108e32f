package matching

import (
	"math"
	"regexp"
	"strings"
	"time"
)

var nonAlphaPattern = regexp.MustCompile(`[^a-zA-Z]`)

// NameFields carries the name columns of one demographic record into a
// wrapped comparison.
type NameFields struct {
	GivenName  string
	MiddleName string
	FamilyName string
}

// AddressFields carries the address columns of one demographic record into a
// wrapped comparison.
type AddressFields struct {
	Address1   string
	Address2   string
	PostalCode string
}

// NameComparison is the result of comparing all name fields of two records.
// Metrics is keyed by field name and holds the per-field metric dict.
type NameComparison struct {
	FamilyName bool                      `json:"family_name"`
	GivenName  bool                      `json:"given_name"`
	MiddleName bool                      `json:"middle_name"`
	Metrics    map[string]map[string]any `json:"metrics"`
}

// AddressComparison is the result of comparing all address fields of two
// records.
type AddressComparison struct {
	Address1   bool                      `json:"address_1"`
	Address2   bool                      `json:"address_2"`
	PostalCode bool                      `json:"postal_code"`
	Metrics    map[string]map[string]any `json:"metrics"`
}

// StringReplacer replaces every occurrence of pattern in both inputs.
func StringReplacer(a, b, pattern, repl string) (string, string) {
	return strings.ReplaceAll(a, pattern, repl), strings.ReplaceAll(b, pattern, repl)
}

// StringSlicer returns the first factor runes of both inputs. Inputs shorter
// than factor come back whole.
func StringSlicer(a, b string, factor int) (string, string) {
	return slicePrefix(a, factor), slicePrefix(b, factor)
}

func slicePrefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}

	return string(runes[:n])
}

// StringTrimmer strips leading and trailing whitespace from both inputs.
func StringTrimmer(a, b string) (string, string) {
	return strings.TrimSpace(a), strings.TrimSpace(b)
}

// CompareNameDay reports whether two birth dates are the same instant. Kept
// as a named comparator so date-tolerant tests can hang off one place.
func CompareNameDay(a, b time.Time) bool {
	return a.Equal(b)
}

// CompareSSN reports whether two social security values are identical. Kept
// as a named comparator so a hardened posture (masking, partial matches) can
// replace it without touching the engine.
func CompareSSN(a, b string) bool {
	return a == b
}

// SliceCheck scans shared prefixes from the longer input's length down to
// sliceMin. The weight starts at 1.0 and loses 1/sliceMax per miss, so a hit
// on a long shared prefix scores close to 1.0 and a hit at sliceMin on very
// different lengths scores low. Returns false and zero when no prefix of at
// least sliceMin runes matches.
func SliceCheck(a, b string, sliceMin int) (bool, float64) {
	sliceMax := len([]rune(a))
	if n := len([]rune(b)); n > sliceMax {
		sliceMax = n
	}
	weight := 1.0
	for i := sliceMax; i >= sliceMin; i-- {
		sliceA, sliceB := StringSlicer(a, b, i)
		if sliceA == sliceB {
			return true, math.Round(weight*10) / 10
		}
		weight -= 1.0 / float64(sliceMax)
	}

	return false, 0
}

// AlphaCompositeNameCheck strips every non-letter from both inputs and
// compares what remains. Returns the stripped forms so callers can record
// them.
func AlphaCompositeNameCheck(a, b string) (bool, string, string) {
	subA := nonAlphaPattern.ReplaceAllString(a, "")
	subB := nonAlphaPattern.ReplaceAllString(b, "")

	return subA == subB, subA, subB
}

// FamilyNameCheck compares family names. Equal inputs short-circuit; unequal
// inputs get the full metric block plus trim_result, sub_result, and the
// junior/senior suffix detections where they apply.
func FamilyNameCheck(a, b string) (bool, map[string]any) {
	if a == b {
		return true, map[string]any{KeyEqual: true}
	}
	metrics := Pairwise(a, b)
	trimA, trimB := StringTrimmer(a, b)
	if trimA == trimB {
		metrics[KeyTrimResult] = trimA
	}
	alphaEqual, subA, subB := AlphaCompositeNameCheck(a, b)
	if alphaEqual {
		metrics[KeySubResult] = subA
	}
	if jrA, jrB := StringTrimmer(StringReplacer(subA, subB, "JR", "")); jrA == jrB {
		metrics[KeyJuniorDetected] = true
	}
	if srA, srB := StringTrimmer(StringReplacer(subA, subB, "SR", "")); srA == srB {
		metrics[KeySeniorDetected] = true
	}

	return false, metrics
}

// GivenNameCheck compares given names. Equal inputs short-circuit; unequal
// inputs get the full metric block plus trim_result, slice_weight when the
// prefix scan hits, and sub_result when the alpha-only forms agree.
func GivenNameCheck(a, b string, sliceMin int) (bool, map[string]any) {
	if a == b {
		return true, map[string]any{KeyEqual: true}
	}
	metrics := Pairwise(a, b)
	trimA, trimB := StringTrimmer(a, b)
	if trimA == trimB {
		metrics[KeyTrimResult] = trimA
	}
	if hit, weight := SliceCheck(a, b, sliceMin); hit {
		metrics[KeySliceWeight] = weight
	}
	if alphaEqual, subA, _ := AlphaCompositeNameCheck(a, b); alphaEqual {
		metrics[KeySubResult] = subA
	}

	return false, metrics
}

// MiddleNameCheck compares middle names. A blank on either side reports only
// the blank marker, keeping empty middles from dragging scores down. Unequal
// non-blank inputs get the metric block plus trim_result and initial_result
// when the first runes agree.
func MiddleNameCheck(a, b string) (bool, map[string]any) {
	result := a == b
	if len(a) == 0 || len(b) == 0 {
		return result, map[string]any{KeyBlank: true}
	}
	if result {
		return result, map[string]any{KeyEqual: true}
	}
	metrics := Pairwise(a, b)
	trimA, trimB := StringTrimmer(a, b)
	if trimA == trimB {
		metrics[KeyTrimResult] = trimA
	}
	if sliceA, sliceB := StringSlicer(a, b, 1); sliceA == sliceB {
		metrics[KeyInitialResult] = true
	}

	return result, metrics
}

// AddressCheck compares one address line. A blank on either side reports
// only the blank marker. Unequal non-blank inputs get the metric block plus
// slice_weight when the prefix scan hits.
func AddressCheck(a, b string, sliceMin int) (bool, map[string]any) {
	result := a == b
	if len(a) == 0 || len(b) == 0 {
		return result, map[string]any{KeyAddressBlank: true}
	}
	if result {
		return result, map[string]any{KeyEqual: true}
	}
	metrics := Pairwise(a, b)
	if hit, weight := SliceCheck(a, b, sliceMin); hit {
		metrics[KeySliceWeight] = weight
	}

	return result, metrics
}

// PostalCheck compares postal codes. A blank on either side reports only the
// blank marker; unequal non-blank inputs get the metric block.
func PostalCheck(a, b string) (bool, map[string]any) {
	result := a == b
	if len(a) == 0 || len(b) == 0 {
		return result, map[string]any{KeyPostalBlank: true}
	}
	if result {
		return result, map[string]any{KeyEqual: true}
	}

	return result, Pairwise(a, b)
}

// WrapNameCheck runs every name comparator over a record pair.
func WrapNameCheck(a, b NameFields, sliceMin int) NameComparison {
	familyResult, familyMetrics := FamilyNameCheck(a.FamilyName, b.FamilyName)
	givenResult, givenMetrics := GivenNameCheck(a.GivenName, b.GivenName, sliceMin)
	middleResult, middleMetrics := MiddleNameCheck(a.MiddleName, b.MiddleName)

	return NameComparison{
		FamilyName: familyResult,
		GivenName:  givenResult,
		MiddleName: middleResult,
		Metrics: map[string]map[string]any{
			"family_name": familyMetrics,
			"given_name":  givenMetrics,
			"middle_name": middleMetrics,
		},
	}
}

// WrapAddressCheck runs every address comparator over a record pair.
func WrapAddressCheck(a, b AddressFields, sliceMin int) AddressComparison {
	address1Result, address1Metrics := AddressCheck(a.Address1, b.Address1, sliceMin)
	address2Result, address2Metrics := AddressCheck(a.Address2, b.Address2, sliceMin)
	postalResult, postalMetrics := PostalCheck(a.PostalCode, b.PostalCode)

	return AddressComparison{
		Address1:   address1Result,
		Address2:   address2Result,
		PostalCode: postalResult,
		Metrics: map[string]map[string]any{
			"address_1":   address1Metrics,
			"address_2":   address2Metrics,
			"postal_code": postalMetrics,
		},
	}
}
