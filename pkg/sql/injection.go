// Package sql screens read filters for SQL injection before they reach the
// query builder.
package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// SuspectFilter describes a filter value that tripped the SQL injection
// screen, with the libinjection fingerprint of the matched pattern.
type SuspectFilter struct {
	Field       string // filter key that carried the value
	Value       any    // the value that was screened
	Fingerprint string // libinjection fingerprint
}

// ScreenFilter checks a single filter value for SQL injection patterns.
//
// Filter values arrive from query strings and JSON bodies, so only strings
// are screened. Numbers, booleans, and nil cannot carry injection payloads
// and always pass.
//
// Returns nil when the value is clean.
func ScreenFilter(field string, value any) *SuspectFilter {
	s, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(s)
	if !isSQLi {
		return nil
	}

	return &SuspectFilter{
		Field:       field,
		Value:       value,
		Fingerprint: string(fingerprint),
	}
}

// ScreenFilters runs every read filter through the injection screen and
// returns the ones that failed. Filter values are always bound as query
// parameters downstream; the screen exists so probing is rejected and
// reported instead of silently matching nothing.
func ScreenFilters(filters map[string]any) []*SuspectFilter {
	var suspects []*SuspectFilter
	for field, value := range filters {
		if s := ScreenFilter(field, value); s != nil {
			suspects = append(suspects, s)
		}
	}
	return suspects
}
