package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/config"
	"github.com/empiworks/empi-engine/pkg/matching"
	"github.com/empiworks/empi-engine/pkg/models"
	"github.com/empiworks/empi-engine/pkg/repositories"
)

// Match modes selectable through configuration.
const (
	ModeToy  = "toy"
	ModeProd = "prod"
)

// toyStride is the score each toy equality contributes.
const toyStride = 0.3

// FineMatch is one candidate pair's verdict from the fine pass. Toy mode
// fills only the score fields; prod mode carries the full metric blocks the
// score battery ran against.
type FineMatch struct {
	RecordAID       int64                       `json:"record_a_id"`
	RecordBID       int64                       `json:"record_b_id"`
	NameMatching    *matching.NameComparison    `json:"name_matching,omitempty"`
	AddressMatching *matching.AddressComparison `json:"address_matching,omitempty"`
	NameDayMatching bool                        `json:"name_day_matching"`
	SSNMatching     bool                        `json:"ssn_matching"`
	// ModelScore is reserved for a learned score; nothing assigns it yet.
	ModelScore *float64 `json:"model_score"`
	Score      float64  `json:"score"`
	Threshold  float64  `json:"threshold"`
	Match      bool     `json:"match"`
	ExecTime   string   `json:"exec_time"`
}

// MatchEngine computes candidate matches for a demographic record. The
// coarse pass blocks the table down to plausible candidates, the fine pass
// scores each survivor, and configuration selects which pass pair runs.
type MatchEngine interface {
	// ComputeAllMatches runs both passes for the record against the current
	// table. The returned exec time covers the whole sweep, formatted the
	// way the processors log it.
	ComputeAllMatches(ctx context.Context, record *models.Demographic) ([]*FineMatch, string, error)
}

type coarsePass func(ctx context.Context, record *models.Demographic) ([]*models.Demographic, error)

type finePass func(a, b *models.Demographic) *FineMatch

type matchEngine struct {
	demographics repositories.DemographicRepository
	batteries    repositories.BatteryRepository
	matching     config.MatchingConfig
	logger       *zap.Logger
}

// NewMatchEngine creates a MatchEngine with the given dependencies.
func NewMatchEngine(
	demographics repositories.DemographicRepository,
	batteries repositories.BatteryRepository,
	cfg config.MatchingConfig,
	logger *zap.Logger,
) MatchEngine {
	return &matchEngine{
		demographics: demographics,
		batteries:    batteries,
		matching:     cfg,
		logger:       logger.Named("match-engine"),
	}
}

var _ MatchEngine = (*matchEngine)(nil)

func (e *matchEngine) ComputeAllMatches(ctx context.Context, record *models.Demographic) ([]*FineMatch, string, error) {
	start := time.Now()

	coarse, fine, err := e.passes(ctx)
	if err != nil {
		return nil, "", err
	}

	candidates, err := coarse(ctx, record)
	if err != nil {
		return nil, "", err
	}

	matches := make([]*FineMatch, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.RecordID == record.RecordID {
			continue
		}
		matches = append(matches, fine(record, candidate))
	}

	elapsed := execTime(start)
	e.logger.Debug("computed matches",
		zap.Int64("record_id", record.RecordID),
		zap.String("mode", e.matching.Mode),
		zap.Int("candidates", len(candidates)),
		zap.String("exec_time", elapsed))
	return matches, elapsed, nil
}

// passes binds the mode's pass pair. Prod loads the configured battery once
// per sweep so every pair scores against the same tests.
func (e *matchEngine) passes(ctx context.Context) (coarsePass, finePass, error) {
	if e.matching.Mode == ModeProd {
		tests, err := e.loadBattery(ctx)
		if err != nil {
			return nil, nil, err
		}
		fine := func(a, b *models.Demographic) *FineMatch {
			return e.fineProd(a, b, tests)
		}
		return e.demographics.ListCompositeCandidates, fine, nil
	}
	return e.demographics.ListCoarseCandidates, e.fineToy, nil
}

func (e *matchEngine) loadBattery(ctx context.Context) ([]*models.ScoreTest, error) {
	if e.matching.Battery == "" {
		return nil, nil
	}
	tests, err := e.batteries.LoadBattery(ctx, e.matching.Battery)
	if err != nil {
		return nil, fmt.Errorf("failed to load battery %s: %w", e.matching.Battery, err)
	}
	return tests, nil
}

// fineToy scores a pair on three blunt equalities worth toyStride each.
func (e *matchEngine) fineToy(a, b *models.Demographic) *FineMatch {
	start := time.Now()

	score := 0.0
	if a.PostalCode == b.PostalCode {
		score += toyStride
	}
	if matching.CompareNameDay(a.NameDay, b.NameDay) {
		score += toyStride
	}
	if a.FamilyName == b.FamilyName {
		score += toyStride
	}

	return &FineMatch{
		RecordAID: a.RecordID,
		RecordBID: b.RecordID,
		Score:     score,
		Threshold: e.matching.Threshold,
		Match:     ParseResult(score, e.matching.Threshold),
		ExecTime:  execTime(start),
	}
}

// fineProd runs the full comparator suite and scores the flattened metrics
// against the battery. With no battery configured the score stays zero.
func (e *matchEngine) fineProd(a, b *models.Demographic, tests []*models.ScoreTest) *FineMatch {
	start := time.Now()

	name := matching.WrapNameCheck(nameFields(a), nameFields(b), e.matching.SliceMin)
	address := matching.WrapAddressCheck(addressFields(a), addressFields(b), e.matching.SliceMin)

	fm := &FineMatch{
		RecordAID:       a.RecordID,
		RecordBID:       b.RecordID,
		NameMatching:    &name,
		AddressMatching: &address,
		NameDayMatching: matching.CompareNameDay(a.NameDay, b.NameDay),
		SSNMatching:     matching.CompareSSN(a.SocialSecurityNumber, b.SocialSecurityNumber),
		Threshold:       e.matching.Threshold,
	}
	fm.Score = RunBattery(tests, Flatten(fm))
	fm.Match = ParseResult(fm.Score, fm.Threshold)
	fm.ExecTime = execTime(start)
	return fm
}

// ParseResult reports whether a score clears the threshold.
func ParseResult(score, threshold float64) bool {
	return score >= threshold
}

// MatchTriples converts passing fine results into weighted graph edges for
// the cursor. Pairs that failed the fine pass stay out: a scored-but-unmatched
// candidate is not part of the component and must not pull its minimum.
func MatchTriples(matches []*FineMatch) []models.Edge {
	triples := make([]models.Edge, 0, len(matches))
	for _, m := range matches {
		if !m.Match {
			continue
		}
		triples = append(triples, models.NewEdge(m.RecordAID, m.RecordBID, m.Score))
	}
	return triples
}

func nameFields(d *models.Demographic) matching.NameFields {
	return matching.NameFields{
		GivenName:  d.GivenName,
		MiddleName: d.MiddleName,
		FamilyName: d.FamilyName,
	}
}

func addressFields(d *models.Demographic) matching.AddressFields {
	return matching.AddressFields{
		Address1:   d.Address1,
		Address2:   d.Address2,
		PostalCode: d.PostalCode,
	}
}

func execTime(start time.Time) string {
	return fmt.Sprintf("%.8f", time.Since(start).Seconds())
}
