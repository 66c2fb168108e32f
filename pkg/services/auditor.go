package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/models"
	"github.com/empiworks/empi-engine/pkg/repositories"
)

// AuditStamp identifies one row of work inside a batch. Every mutation a
// processor performs for that row carries the stamp's transaction key.
type AuditStamp struct {
	BatchID        int64
	ProcID         int64
	TransactionKey string
	User           string
	Row            int64
}

// Auditor opens the audit trail for a batch of work. One Begin per API call
// or CLI invocation; every row inside it gets its own Stamp.
type Auditor interface {
	Begin(ctx context.Context, action, user string) (*BatchAudit, error)
}

type auditorService struct {
	ids    repositories.IDRepository
	audits repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditor creates an Auditor with the given dependencies.
func NewAuditor(ids repositories.IDRepository, audits repositories.AuditRepository, logger *zap.Logger) Auditor {
	return &auditorService{
		ids:    ids,
		audits: audits,
		logger: logger.Named("auditor"),
	}
}

var _ Auditor = (*auditorService)(nil)

func (s *auditorService) Begin(ctx context.Context, action, user string) (*BatchAudit, error) {
	batchID, err := s.ids.NextID(ctx, user)
	if err != nil {
		return nil, err
	}

	batch := &models.Batch{
		BatchID:     batchID,
		BatchAction: action,
		BatchStatus: models.BatchStarting,
	}
	if err := s.audits.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to open batch for %s: %w", action, err)
	}

	s.logger.Info("batch opened",
		zap.Int64("batch_id", batchID),
		zap.String("action", action),
		zap.String("user", user))

	return &BatchAudit{
		BatchID: batchID,
		Action:  action,
		User:    user,
		ids:     s.ids,
		audits:  s.audits,
		logger:  s.logger,
	}, nil
}

// BatchAudit is the audit trail of one running batch.
type BatchAudit struct {
	BatchID int64
	Action  string
	User    string

	ids    repositories.IDRepository
	audits repositories.AuditRepository
	logger *zap.Logger
}

// Stamp mints a process row for one unit of work and returns its stamp. The
// stamp exists before any mutation, so a crashed row is still visible as a
// PENDING process.
func (a *BatchAudit) Stamp(ctx context.Context, row int64, foreignID string) (*AuditStamp, error) {
	procID, err := a.ids.NextID(ctx, a.User)
	if err != nil {
		return nil, err
	}

	proc := &models.Process{
		ProcID:          procID,
		BatchID:         a.BatchID,
		TransactionKey:  models.TransactionKey(a.BatchID, procID),
		ForeignRecordID: foreignID,
		ProcStatus:      models.ProcPending,
		Row:             row,
	}
	if err := a.audits.CreateProcess(ctx, proc); err != nil {
		return nil, err
	}

	return &AuditStamp{
		BatchID:        a.BatchID,
		ProcID:         procID,
		TransactionKey: proc.TransactionKey,
		User:           a.User,
		Row:            row,
	}, nil
}

// SetRecordID points a process row at the record it ended up acting on.
func (a *BatchAudit) SetRecordID(ctx context.Context, procID, recordID int64) error {
	return a.audits.SetProcessRecordID(ctx, a.BatchID, procID, recordID)
}

// UpdateStatus closes one process row and promotes the batch to COMPUTED
// once nothing inside it is still PENDING.
func (a *BatchAudit) UpdateStatus(ctx context.Context, procID int64, status string) error {
	if err := a.audits.SetProcessStatus(ctx, a.BatchID, procID, status); err != nil {
		return err
	}
	if _, err := a.audits.MarkBatchComputedWhenDrained(ctx, a.BatchID); err != nil {
		return err
	}
	return nil
}

// Close seals the batch. A clean close promotes STARTING to PENDING without
// downgrading a batch the row loop already drove to COMPUTED; a failed close
// logs and leaves the status alone so stuck batches stay visible.
func (a *BatchAudit) Close(ctx context.Context, err error) {
	if err != nil {
		a.logger.Error("batch failed",
			zap.Int64("batch_id", a.BatchID),
			zap.String("action", a.Action),
			zap.Error(err))
		return
	}
	if perr := a.audits.PromoteBatch(ctx, a.BatchID, models.BatchStarting, models.BatchPending); perr != nil {
		a.logger.Error("failed to promote batch",
			zap.Int64("batch_id", a.BatchID),
			zap.Error(perr))
	}
}
