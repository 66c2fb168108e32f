package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// NameDayLayout is the canonical date form used in hashes and composites.
// String and native-date payloads canonicalize identically, which is what the
// ingest idempotency law depends on.
const NameDayLayout = "20060102"

// ParseNameDay accepts the canonical YYYYMMDD form or an RFC 3339 timestamp,
// the two shapes source feeds send, and returns the date.
func ParseNameDay(s string) (time.Time, error) {
	if t, err := time.Parse(NameDayLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// hashKeys is the field order feeding the demographic content hash.
var hashKeys = []string{
	"address_1",
	"address_2",
	"city",
	"state",
	"postal_code",
	"organization_key",
	"given_name",
	"family_name",
	"name_day",
	"gender",
}

// UqHash computes the content hash of a demographic row: SHA-256 over the
// hashKeys values concatenated in order, missing values as empty strings.
func UqHash(d *Demographic) string {
	fields := map[string]string{
		"address_1":        d.Address1,
		"address_2":        d.Address2,
		"city":             d.City,
		"state":            d.State,
		"postal_code":      d.PostalCode,
		"organization_key": d.OrganizationKey,
		"given_name":       d.GivenName,
		"family_name":      d.FamilyName,
		"name_day":         d.NameDay.Format(NameDayLayout),
		"gender":           d.Gender,
	}

	var b strings.Builder
	for _, key := range hashKeys {
		b.WriteString(fields[key])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CompositeKey renders org:system:id.
func CompositeKey(organizationKey, systemKey, systemID string) string {
	return strings.Join([]string{organizationKey, systemKey, systemID}, ":")
}

// CompositeName renders the first five runes of the given name, a colon, and
// the family name, with spaces and hyphens removed. When either part is
// missing the given name is returned unchanged.
func CompositeName(givenName, familyName string) string {
	if givenName == "" || familyName == "" {
		return givenName
	}
	given := []rune(givenName)
	if len(given) > 5 {
		given = given[:5]
	}
	composite := string(given) + ":" + familyName
	composite = strings.ReplaceAll(composite, " ", "")
	composite = strings.ReplaceAll(composite, "-", "")
	return composite
}

// CompositeNameDayPostal renders YYYYMMDD:postal_code, or empty when the
// postal code is missing.
func CompositeNameDayPostal(nameDay time.Time, postalCode string) string {
	if postalCode == "" {
		return ""
	}
	return nameDay.Format(NameDayLayout) + ":" + postalCode
}

// ApplyDerived fills the demographic's derived fields and touch stamps.
func ApplyDerived(d *Demographic, user string, now time.Time) {
	d.UqHash = UqHash(d)
	d.CompositeKey = CompositeKey(d.OrganizationKey, d.SystemKey, d.SystemID)
	d.CompositeName = CompositeName(d.GivenName, d.FamilyName)
	d.CompositeNameDayPostalCode = CompositeNameDayPostal(d.NameDay, d.PostalCode)
	d.TouchedBy = user
	d.TouchedTS = now
}
