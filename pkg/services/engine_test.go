package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/empiworks/empi-engine/pkg/config"
	"github.com/empiworks/empi-engine/pkg/models"
)

func toyEngine(threshold float64) *matchEngine {
	return &matchEngine{
		matching: config.MatchingConfig{Mode: ModeToy, Threshold: threshold},
	}
}

func demographic(id int64, familyName, postalCode string, nameDay time.Time) *models.Demographic {
	return &models.Demographic{
		RecordID:   id,
		GivenName:  "Avery",
		FamilyName: familyName,
		NameDay:    nameDay,
		PostalCode: postalCode,
	}
}

func TestFineToy(t *testing.T) {
	day := time.Date(1984, 3, 7, 0, 0, 0, 0, time.UTC)
	otherDay := time.Date(1991, 11, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		a         *models.Demographic
		b         *models.Demographic
		wantScore float64
		wantMatch bool
	}{
		{
			name:      "all three fields agree",
			a:         demographic(1, "Okafor", "60601", day),
			b:         demographic(2, "Okafor", "60601", day),
			wantScore: 0.9,
			wantMatch: true,
		},
		{
			name:      "two fields agree",
			a:         demographic(1, "Okafor", "60601", day),
			b:         demographic(2, "Okafor", "60601", otherDay),
			wantScore: 0.6,
			wantMatch: true,
		},
		{
			name:      "one field agrees",
			a:         demographic(1, "Okafor", "60601", day),
			b:         demographic(2, "Adeyemi", "98101", day),
			wantScore: 0.3,
			wantMatch: false,
		},
		{
			name:      "nothing agrees",
			a:         demographic(1, "Okafor", "60601", day),
			b:         demographic(2, "Adeyemi", "98101", otherDay),
			wantScore: 0,
			wantMatch: false,
		},
	}

	engine := toyEngine(0.5)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := engine.fineToy(tt.a, tt.b)

			assert.Equal(t, tt.a.RecordID, fm.RecordAID)
			assert.Equal(t, tt.b.RecordID, fm.RecordBID)
			assert.InDelta(t, tt.wantScore, fm.Score, 1e-9)
			assert.Equal(t, 0.5, fm.Threshold)
			assert.Equal(t, tt.wantMatch, fm.Match)
			assert.Nil(t, fm.NameMatching)
			assert.Nil(t, fm.AddressMatching)
			assert.NotEmpty(t, fm.ExecTime)
		})
	}
}

func TestFineProdWithoutBattery(t *testing.T) {
	day := time.Date(1984, 3, 7, 0, 0, 0, 0, time.UTC)
	engine := &matchEngine{
		matching: config.MatchingConfig{Mode: ModeProd, Threshold: 0.5, SliceMin: 3},
	}

	a := demographic(1, "Okafor", "60601", day)
	a.SocialSecurityNumber = "900-11-2222"
	b := demographic(2, "Okafor", "60601", day)
	b.SocialSecurityNumber = "900-11-2222"

	fm := engine.fineProd(a, b, nil)

	assert.NotNil(t, fm.NameMatching)
	assert.NotNil(t, fm.AddressMatching)
	assert.True(t, fm.NameDayMatching)
	assert.True(t, fm.SSNMatching)
	// No battery means no tests ran, so the score stays at zero and the pair
	// cannot clear a positive threshold.
	assert.Zero(t, fm.Score)
	assert.False(t, fm.Match)
}

func TestParseResult(t *testing.T) {
	assert.True(t, ParseResult(0.9, 0.5))
	assert.True(t, ParseResult(0.5, 0.5))
	assert.False(t, ParseResult(0.49, 0.5))
	assert.True(t, ParseResult(0, -1))
}

func TestMatchTriples(t *testing.T) {
	matches := []*FineMatch{
		{RecordAID: 9, RecordBID: 4, Score: 0.9, Match: true},
		{RecordAID: 6, RecordBID: 5, Score: 0.6, Match: true},
		{RecordAID: 2, RecordBID: 7, Score: 0.3},
	}

	triples := MatchTriples(matches)

	// The unmatched pair is dropped entirely, not carried as a weak edge.
	assert.Equal(t, []models.Edge{
		{RecordIDLow: 4, RecordIDHigh: 9, Weight: 0.9},
		{RecordIDLow: 5, RecordIDHigh: 6, Weight: 0.6},
	}, triples)
}

func TestMatchTriplesEmpty(t *testing.T) {
	assert.Empty(t, MatchTriples(nil))
}
