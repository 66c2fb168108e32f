package models

import "time"

// EnterpriseMatch is a weighted undirected edge between two demographic
// records. The pair is stored ordered (record_id_low < record_id_high) and is
// unique; weight moves with affirmations and denials.
type EnterpriseMatch struct {
	ETLID          int64     `json:"etl_id"`
	RecordIDLow    int64     `json:"record_id_low"`
	RecordIDHigh   int64     `json:"record_id_high"`
	MatchWeight    float64   `json:"match_weight"`
	IsValid        bool      `json:"is_valid"`
	TransactionKey string    `json:"transaction_key"`
	TouchedBy      string    `json:"touched_by"`
	TouchedTS      time.Time `json:"touched_ts"`
}

// Normalized returns the edge endpoints in stored order.
func (m *EnterpriseMatch) Normalized() (low, high int64) {
	if m.RecordIDLow <= m.RecordIDHigh {
		return m.RecordIDLow, m.RecordIDHigh
	}
	return m.RecordIDHigh, m.RecordIDLow
}

// EnterpriseGroup assigns a record to its enterprise identity. record_id is
// unique; enterprise_id is the smallest record_id named by the component of
// match triples that produced the assignment.
type EnterpriseGroup struct {
	ETLID          int64     `json:"etl_id"`
	EnterpriseID   int64     `json:"enterprise_id"`
	RecordID       int64     `json:"record_id"`
	TransactionKey string    `json:"transaction_key"`
	TouchedBy      string    `json:"touched_by"`
	TouchedTS      time.Time `json:"touched_ts"`
}

// Edge is an in-memory (low, high, weight) triple flowing between the
// recursor, the match engine, and the cursor.
type Edge struct {
	RecordIDLow  int64
	RecordIDHigh int64
	Weight       float64
}

// NewEdge builds a triple with endpoints in canonical order.
func NewEdge(a, b int64, weight float64) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{RecordIDLow: a, RecordIDHigh: b, Weight: weight}
}
