package models

import "time"

// Action log rows. Every graph-touching operation leaves one, keyed by its
// own etl_id; delete_action reverses a prior action by consulting these.

// DemographicActivation records an activate_demographic run.
type DemographicActivation struct {
	ETLID          int64     `json:"etl_id"`
	RecordID       int64     `json:"record_id"`
	TransactionKey string    `json:"transaction_key"`
	CreatedTS      time.Time `json:"created_ts"`
}

// DemographicDeactivation records a deactivate_demographic run.
type DemographicDeactivation struct {
	ETLID          int64     `json:"etl_id"`
	RecordID       int64     `json:"record_id"`
	TransactionKey string    `json:"transaction_key"`
	CreatedTS      time.Time `json:"created_ts"`
}

// DemographicDelete records a delete_demographic run.
type DemographicDelete struct {
	ETLID          int64     `json:"etl_id"`
	RecordID       int64     `json:"record_id"`
	TransactionKey string    `json:"transaction_key"`
	CreatedTS      time.Time `json:"created_ts"`
}

// MatchAffirmation records a steward's confirmation of a pair.
type MatchAffirmation struct {
	ETLID          int64     `json:"etl_id"`
	RecordIDLow    int64     `json:"record_id_low"`
	RecordIDHigh   int64     `json:"record_id_high"`
	TransactionKey string    `json:"transaction_key"`
	CreatedTS      time.Time `json:"created_ts"`
}

// MatchDenial records a steward's rejection of a pair.
type MatchDenial struct {
	ETLID          int64     `json:"etl_id"`
	RecordIDLow    int64     `json:"record_id_low"`
	RecordIDHigh   int64     `json:"record_id_high"`
	TransactionKey string    `json:"transaction_key"`
	CreatedTS      time.Time `json:"created_ts"`
}

// DeleteAction records a delete_action run: the undo of a prior action.
// BatchAction holds the undone action's name; the archive ids point at the
// batch and process whose work was reversed.
type DeleteAction struct {
	ETLID          int64     `json:"etl_id"`
	BatchAction    string    `json:"batch_action"`
	ArchiveProcID  int64     `json:"archive_proc_id"`
	ArchiveBatchID int64     `json:"archive_batch_id"`
	TransactionKey string    `json:"transaction_key"`
	CreatedTS      time.Time `json:"created_ts"`
}
