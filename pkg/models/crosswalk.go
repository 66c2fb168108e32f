package models

import "time"

// Crosswalk names an external identifier system (a payer roster, an EHR
// vendor id space) whose keys can stand in for record identity during
// ingest.
type Crosswalk struct {
	CrosswalkID    int64     `json:"crosswalk_id"`
	CrosswalkName  string    `json:"crosswalk_name"`
	KeyName        string    `json:"key_name"`
	IsActive       bool      `json:"is_active"`
	TransactionKey string    `json:"transaction_key"`
	TouchedBy      string    `json:"touched_by"`
	TouchedTS      time.Time `json:"touched_ts"`
}

// CrosswalkBind declares that the foreign record ids of one batch live in a
// given crosswalk's identifier system.
type CrosswalkBind struct {
	BindID         int64     `json:"bind_id"`
	CrosswalkID    int64     `json:"crosswalk_id"`
	BatchID        int64     `json:"batch_id"`
	IsActive       bool      `json:"is_active"`
	TransactionKey string    `json:"transaction_key"`
	TouchedBy      string    `json:"touched_by"`
	TouchedTS      time.Time `json:"touched_ts"`
}
