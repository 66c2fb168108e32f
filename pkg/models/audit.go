package models

import (
	"fmt"
	"time"
)

// SystemUser is the reserved actor name for engine-internal writes.
const SystemUser = "empi_system"

// Batch statuses. A batch starts STARTING, moves to PENDING once accepted,
// and becomes COMPUTED when no PENDING processes remain.
const (
	BatchStarting = "STARTING"
	BatchPending  = "PENDING"
	BatchComputed = "COMPUTED"
)

// Process statuses. Every row starts PENDING; terminal states name the
// action that consumed the row.
const (
	ProcPending     = "PENDING"
	ProcPosted      = "POSTED"
	ProcActivated   = "ACTIVATED"
	ProcArchived    = "ARCHIVED"
	ProcDeactivated = "DEACTIVATED"
	ProcDeleted     = "DELETED DEMOGRAPHIC"
	ProcAffirmed    = "AFFIRMED"
	ProcDenied      = "DENIED"
)

// Batch is one API call or CLI invocation worth of work.
type Batch struct {
	BatchID     int64     `json:"batch_id"`
	BatchAction string    `json:"batch_action"`
	BatchStatus string    `json:"batch_status"`
	BatchTS     time.Time `json:"batch_ts"`
}

// Process is one row of work within a batch.
type Process struct {
	ProcID          int64     `json:"proc_id"`
	BatchID         int64     `json:"batch_id"`
	TransactionKey  string    `json:"transaction_key"`
	ProcRecordID    int64     `json:"proc_record_id"`
	ForeignRecordID string    `json:"foreign_record_id"`
	ProcStatus      string    `json:"proc_status"`
	Row             int64     `json:"row"`
	ProcTS          time.Time `json:"proc_ts"`
}

// ETLIDSource is the single monotonic number line behind every primary key.
// Each minted id records who asked and under which engine version.
type ETLIDSource struct {
	ETLID       int64     `json:"etl_id"`
	User        string    `json:"user"`
	Version     string    `json:"version"`
	IDCreatedTS time.Time `json:"id_created_ts"`
}

// Bulletin is the notification feed row written whenever a record's
// enterprise membership actually changes.
type Bulletin struct {
	ETLID          int64     `json:"etl_id"`
	BatchID        int64     `json:"batch_id"`
	ProcID         int64     `json:"proc_id"`
	RecordID       int64     `json:"record_id"`
	EmpiID         int64     `json:"empi_id"`
	TransactionKey string    `json:"transaction_key"`
	BulletinTS     time.Time `json:"bulletin_ts"`
}

// TransactionKey renders the replay handle for a batch row.
func TransactionKey(batchID, procID int64) string {
	return fmt.Sprintf("%d_%d", batchID, procID)
}

// ProcDeletedFor names the terminal status of an undone action, e.g.
// "DELETED affirm" after delete_action reverses a match affirmation.
func ProcDeletedFor(action string) string {
	return fmt.Sprintf("DELETED %s", action)
}
