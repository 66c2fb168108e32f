//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/empiworks/empi-engine/pkg/apperrors"
	"github.com/empiworks/empi-engine/pkg/models"
	"github.com/empiworks/empi-engine/pkg/testhelpers"
)

type auditTestContext struct {
	t        *testing.T
	engineDB *testhelpers.EngineDB
	ids      IDRepository
	repo     AuditRepository
}

func setupAuditTest(t *testing.T) *auditTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	return &auditTestContext{
		t:        t,
		engineDB: engineDB,
		ids:      NewIDRepository(engineDB.DB, "test"),
		repo:     NewAuditRepository(engineDB.DB),
	}
}

// cleanup removes batch and process rows left by earlier tests.
func (tc *auditTestContext) cleanup() {
	tc.t.Helper()
	ctx := context.Background()
	_, _ = tc.engineDB.DB.Exec(ctx, "DELETE FROM process")
	_, _ = tc.engineDB.DB.Exec(ctx, "DELETE FROM batch")
}

func (tc *auditTestContext) mintID(ctx context.Context) int64 {
	tc.t.Helper()
	id, err := tc.ids.NextID(ctx, "audit_test")
	if err != nil {
		tc.t.Fatalf("failed to mint id: %v", err)
	}
	return id
}

func (tc *auditTestContext) createBatch(ctx context.Context, action string) *models.Batch {
	tc.t.Helper()
	batch := &models.Batch{
		BatchID:     tc.mintID(ctx),
		BatchAction: action,
		BatchStatus: models.BatchStarting,
	}
	if err := tc.repo.CreateBatch(ctx, batch); err != nil {
		tc.t.Fatalf("failed to create batch: %v", err)
	}
	return batch
}

func (tc *auditTestContext) createProcess(ctx context.Context, batchID int64, row int64) *models.Process {
	tc.t.Helper()
	procID := tc.mintID(ctx)
	proc := &models.Process{
		ProcID:          procID,
		BatchID:         batchID,
		TransactionKey:  models.TransactionKey(batchID, procID),
		ForeignRecordID: "mrn-001",
		ProcStatus:      models.ProcPending,
		Row:             row,
	}
	if err := tc.repo.CreateProcess(ctx, proc); err != nil {
		tc.t.Fatalf("failed to create process: %v", err)
	}
	return proc
}

// ============================================================================
// Batch Tests
// ============================================================================

func TestAuditRepository_CreateBatch_Success(t *testing.T) {
	tc := setupAuditTest(t)
	tc.cleanup()
	ctx := context.Background()

	batch := tc.createBatch(ctx, "demographic")

	retrieved, err := tc.repo.GetBatch(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if retrieved.BatchAction != "demographic" {
		t.Errorf("expected action 'demographic', got %q", retrieved.BatchAction)
	}
	if retrieved.BatchStatus != models.BatchStarting {
		t.Errorf("expected status STARTING, got %q", retrieved.BatchStatus)
	}
	if retrieved.BatchTS.IsZero() {
		t.Error("expected batch_ts to be set")
	}
}

func TestAuditRepository_GetBatch_NotFound(t *testing.T) {
	tc := setupAuditTest(t)
	tc.cleanup()
	ctx := context.Background()

	_, err := tc.repo.GetBatch(ctx, 999999999)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditRepository_PromoteBatch_Guarded(t *testing.T) {
	tc := setupAuditTest(t)
	tc.cleanup()
	ctx := context.Background()

	batch := tc.createBatch(ctx, "demographic")

	err := tc.repo.PromoteBatch(ctx, batch.BatchID, models.BatchStarting, models.BatchPending)
	if err != nil {
		t.Fatalf("PromoteBatch failed: %v", err)
	}

	retrieved, err := tc.repo.GetBatch(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if retrieved.BatchStatus != models.BatchPending {
		t.Errorf("expected status PENDING, got %q", retrieved.BatchStatus)
	}

	// Fast worker drains the batch before the auditor closes.
	computed, err := tc.repo.MarkBatchComputedWhenDrained(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("MarkBatchComputedWhenDrained failed: %v", err)
	}
	if !computed {
		t.Fatal("expected empty batch to compute immediately")
	}

	// The stale close-time promotion must not downgrade the batch.
	err = tc.repo.PromoteBatch(ctx, batch.BatchID, models.BatchStarting, models.BatchPending)
	if err != nil {
		t.Fatalf("PromoteBatch failed: %v", err)
	}
	retrieved, err = tc.repo.GetBatch(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if retrieved.BatchStatus != models.BatchComputed {
		t.Errorf("expected status to stay COMPUTED, got %q", retrieved.BatchStatus)
	}
}

func TestAuditRepository_MarkBatchComputedWhenDrained(t *testing.T) {
	tc := setupAuditTest(t)
	tc.cleanup()
	ctx := context.Background()

	batch := tc.createBatch(ctx, "demographic")
	proc1 := tc.createProcess(ctx, batch.BatchID, 1)
	proc2 := tc.createProcess(ctx, batch.BatchID, 2)

	// One process still PENDING: the batch must stay put.
	if err := tc.repo.SetProcessStatus(ctx, batch.BatchID, proc1.ProcID, models.ProcPosted); err != nil {
		t.Fatalf("SetProcessStatus failed: %v", err)
	}
	computed, err := tc.repo.MarkBatchComputedWhenDrained(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("MarkBatchComputedWhenDrained failed: %v", err)
	}
	if computed {
		t.Error("expected batch to stay un-computed while a process is PENDING")
	}

	// Last process resolves: now the batch flips.
	if err := tc.repo.SetProcessStatus(ctx, batch.BatchID, proc2.ProcID, models.ProcPosted); err != nil {
		t.Fatalf("SetProcessStatus failed: %v", err)
	}
	computed, err = tc.repo.MarkBatchComputedWhenDrained(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("MarkBatchComputedWhenDrained failed: %v", err)
	}
	if !computed {
		t.Error("expected batch to be marked COMPUTED once drained")
	}

	retrieved, err := tc.repo.GetBatch(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if retrieved.BatchStatus != models.BatchComputed {
		t.Errorf("expected status COMPUTED, got %q", retrieved.BatchStatus)
	}
}

// ============================================================================
// Process Tests
// ============================================================================

func TestAuditRepository_CreateProcess_Success(t *testing.T) {
	tc := setupAuditTest(t)
	tc.cleanup()
	ctx := context.Background()

	batch := tc.createBatch(ctx, "demographic")
	proc := tc.createProcess(ctx, batch.BatchID, 1)

	if proc.ProcTS.IsZero() {
		t.Error("expected proc_ts to be set on create")
	}

	retrieved, err := tc.repo.GetProcess(ctx, batch.BatchID, proc.ProcID)
	if err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}
	if retrieved.TransactionKey != models.TransactionKey(batch.BatchID, proc.ProcID) {
		t.Errorf("expected transaction key %q, got %q",
			models.TransactionKey(batch.BatchID, proc.ProcID), retrieved.TransactionKey)
	}
	if retrieved.ProcStatus != models.ProcPending {
		t.Errorf("expected status PENDING, got %q", retrieved.ProcStatus)
	}
	if retrieved.ForeignRecordID != "mrn-001" {
		t.Errorf("expected foreign record id 'mrn-001', got %q", retrieved.ForeignRecordID)
	}
}

func TestAuditRepository_SetProcessRecordID(t *testing.T) {
	tc := setupAuditTest(t)
	tc.cleanup()
	ctx := context.Background()

	batch := tc.createBatch(ctx, "demographic")
	proc := tc.createProcess(ctx, batch.BatchID, 1)

	if err := tc.repo.SetProcessRecordID(ctx, batch.BatchID, proc.ProcID, 424242); err != nil {
		t.Fatalf("SetProcessRecordID failed: %v", err)
	}

	retrieved, err := tc.repo.GetProcess(ctx, batch.BatchID, proc.ProcID)
	if err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}
	if retrieved.ProcRecordID != 424242 {
		t.Errorf("expected proc_record_id 424242, got %d", retrieved.ProcRecordID)
	}
}

func TestAuditRepository_CountPendingProcesses(t *testing.T) {
	tc := setupAuditTest(t)
	tc.cleanup()
	ctx := context.Background()

	batch := tc.createBatch(ctx, "demographic")
	proc1 := tc.createProcess(ctx, batch.BatchID, 1)
	tc.createProcess(ctx, batch.BatchID, 2)

	count, err := tc.repo.CountPendingProcesses(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("CountPendingProcesses failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 pending processes, got %d", count)
	}

	if err := tc.repo.SetProcessStatus(ctx, batch.BatchID, proc1.ProcID, models.ProcActivated); err != nil {
		t.Fatalf("SetProcessStatus failed: %v", err)
	}

	count, err = tc.repo.CountPendingProcesses(ctx, batch.BatchID)
	if err != nil {
		t.Fatalf("CountPendingProcesses failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 pending process, got %d", count)
	}
}
