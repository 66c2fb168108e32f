package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/empiworks/empi-engine/pkg/apperrors"
	"github.com/empiworks/empi-engine/pkg/database"
	"github.com/empiworks/empi-engine/pkg/models"
)

// AuditRepository persists the batch/process trail. Every API call or CLI
// invocation is one Batch; every row of work inside it is one Process keyed
// by the transaction key "{batch_id}_{proc_id}".
type AuditRepository interface {
	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, batchID int64) (*models.Batch, error)
	// PromoteBatch moves a batch from one status to another. The guard on
	// the current status keeps a racing worker from downgrading a batch
	// that already reached COMPUTED.
	PromoteBatch(ctx context.Context, batchID int64, from, to string) error
	// MarkBatchComputedWhenDrained sets the batch COMPUTED when it has no
	// PENDING processes left. Reports whether the transition happened.
	MarkBatchComputedWhenDrained(ctx context.Context, batchID int64) (bool, error)

	CreateProcess(ctx context.Context, proc *models.Process) error
	GetProcess(ctx context.Context, batchID, procID int64) (*models.Process, error)
	SetProcessRecordID(ctx context.Context, batchID, procID, recordID int64) error
	SetProcessStatus(ctx context.Context, batchID, procID int64, status string) error
	CountPendingProcesses(ctx context.Context, batchID int64) (int64, error)
}

type auditRepository struct {
	db database.Querier
}

// NewAuditRepository creates an AuditRepository on the given handle.
func NewAuditRepository(db database.Querier) AuditRepository {
	return &auditRepository{db: db}
}

var _ AuditRepository = (*auditRepository)(nil)

// ============================================================================
// Batch Operations
// ============================================================================

func (r *auditRepository) CreateBatch(ctx context.Context, batch *models.Batch) error {
	query := `
		INSERT INTO batch (batch_id, batch_action, batch_status)
		VALUES ($1, $2, $3)
		RETURNING batch_ts`

	err := r.db.QueryRow(ctx, query,
		batch.BatchID, batch.BatchAction, batch.BatchStatus,
	).Scan(&batch.BatchTS)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (r *auditRepository) GetBatch(ctx context.Context, batchID int64) (*models.Batch, error) {
	query := `
		SELECT batch_id, batch_action, batch_status, batch_ts
		FROM batch
		WHERE batch_id = $1`

	var b models.Batch
	err := r.db.QueryRow(ctx, query, batchID).Scan(
		&b.BatchID, &b.BatchAction, &b.BatchStatus, &b.BatchTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

func (r *auditRepository) PromoteBatch(ctx context.Context, batchID int64, from, to string) error {
	query := `
		UPDATE batch
		SET batch_status = $3
		WHERE batch_id = $1 AND batch_status = $2`

	if _, err := r.db.Exec(ctx, query, batchID, from, to); err != nil {
		return fmt.Errorf("failed to promote batch: %w", err)
	}
	return nil
}

func (r *auditRepository) MarkBatchComputedWhenDrained(ctx context.Context, batchID int64) (bool, error) {
	query := `
		UPDATE batch
		SET batch_status = $2
		WHERE batch_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM process
			WHERE batch_id = $1 AND proc_status = $3
		  )`

	tag, err := r.db.Exec(ctx, query, batchID, models.BatchComputed, models.ProcPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark batch computed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ============================================================================
// Process Operations
// ============================================================================

func (r *auditRepository) CreateProcess(ctx context.Context, proc *models.Process) error {
	query := `
		INSERT INTO process (proc_id, batch_id, transaction_key, proc_record_id,
			foreign_record_id, proc_status, "row")
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING proc_ts`

	err := r.db.QueryRow(ctx, query,
		proc.ProcID, proc.BatchID, proc.TransactionKey, proc.ProcRecordID,
		proc.ForeignRecordID, proc.ProcStatus, proc.Row,
	).Scan(&proc.ProcTS)
	if err != nil {
		return fmt.Errorf("failed to create process: %w", err)
	}
	return nil
}

func (r *auditRepository) GetProcess(ctx context.Context, batchID, procID int64) (*models.Process, error) {
	query := `
		SELECT proc_id, batch_id, transaction_key, proc_record_id,
			foreign_record_id, proc_status, "row", proc_ts
		FROM process
		WHERE batch_id = $1 AND proc_id = $2`

	var p models.Process
	err := r.db.QueryRow(ctx, query, batchID, procID).Scan(
		&p.ProcID, &p.BatchID, &p.TransactionKey, &p.ProcRecordID,
		&p.ForeignRecordID, &p.ProcStatus, &p.Row, &p.ProcTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return &p, nil
}

func (r *auditRepository) SetProcessRecordID(ctx context.Context, batchID, procID, recordID int64) error {
	query := `
		UPDATE process
		SET proc_record_id = $3
		WHERE batch_id = $1 AND proc_id = $2`

	if _, err := r.db.Exec(ctx, query, batchID, procID, recordID); err != nil {
		return fmt.Errorf("failed to set process record id: %w", err)
	}
	return nil
}

func (r *auditRepository) SetProcessStatus(ctx context.Context, batchID, procID int64, status string) error {
	query := `
		UPDATE process
		SET proc_status = $3
		WHERE batch_id = $1 AND proc_id = $2`

	if _, err := r.db.Exec(ctx, query, batchID, procID, status); err != nil {
		return fmt.Errorf("failed to set process status: %w", err)
	}
	return nil
}

func (r *auditRepository) CountPendingProcesses(ctx context.Context, batchID int64) (int64, error) {
	query := `
		SELECT COUNT(*) FROM process
		WHERE batch_id = $1 AND proc_status = $2`

	var count int64
	if err := r.db.QueryRow(ctx, query, batchID, models.ProcPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending processes: %w", err)
	}
	return count, nil
}
