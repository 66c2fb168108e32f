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

// ActionLogRepository persists one row per accepted lifecycle action, keyed
// by the acting transaction key. delete_action consults these logs to find
// what a prior "{batch_id}_{proc_id}" actually did before reversing it.
type ActionLogRepository interface {
	InsertActivation(ctx context.Context, rec *models.DemographicActivation) error
	InsertDeactivation(ctx context.Context, rec *models.DemographicDeactivation) error
	InsertDelete(ctx context.Context, rec *models.DemographicDelete) error
	InsertAffirmation(ctx context.Context, rec *models.MatchAffirmation) error
	InsertDenial(ctx context.Context, rec *models.MatchDenial) error
	InsertDeleteAction(ctx context.Context, rec *models.DeleteAction) error

	GetActivationByTransactionKey(ctx context.Context, key string) (*models.DemographicActivation, error)
	GetDeactivationByTransactionKey(ctx context.Context, key string) (*models.DemographicDeactivation, error)
	GetDeleteByTransactionKey(ctx context.Context, key string) (*models.DemographicDelete, error)
	GetAffirmationByTransactionKey(ctx context.Context, key string) (*models.MatchAffirmation, error)
	GetDenialByTransactionKey(ctx context.Context, key string) (*models.MatchDenial, error)
}

type actionLogRepository struct {
	db database.Querier
}

// NewActionLogRepository creates an ActionLogRepository on the given handle.
func NewActionLogRepository(db database.Querier) ActionLogRepository {
	return &actionLogRepository{db: db}
}

var _ ActionLogRepository = (*actionLogRepository)(nil)

// ============================================================================
// Inserts
// ============================================================================

func (r *actionLogRepository) insertRecordLog(ctx context.Context, table string, etlID, recordID int64, key string) error {
	// table comes from the fixed call sites below, never from input.
	query := fmt.Sprintf(`
		INSERT INTO %s (etl_id, record_id, transaction_key)
		VALUES ($1, $2, $3)`, table)

	if _, err := r.db.Exec(ctx, query, etlID, recordID, key); err != nil {
		return fmt.Errorf("failed to insert %s log: %w", table, err)
	}
	return nil
}

func (r *actionLogRepository) InsertActivation(ctx context.Context, rec *models.DemographicActivation) error {
	return r.insertRecordLog(ctx, "activate_demographic", rec.ETLID, rec.RecordID, rec.TransactionKey)
}

func (r *actionLogRepository) InsertDeactivation(ctx context.Context, rec *models.DemographicDeactivation) error {
	return r.insertRecordLog(ctx, "deactivate_demographic", rec.ETLID, rec.RecordID, rec.TransactionKey)
}

func (r *actionLogRepository) InsertDelete(ctx context.Context, rec *models.DemographicDelete) error {
	return r.insertRecordLog(ctx, "delete_demographic", rec.ETLID, rec.RecordID, rec.TransactionKey)
}

func (r *actionLogRepository) insertPairLog(ctx context.Context, table string, etlID, low, high int64, key string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (etl_id, record_id_low, record_id_high, transaction_key)
		VALUES ($1, $2, $3, $4)`, table)

	if _, err := r.db.Exec(ctx, query, etlID, low, high, key); err != nil {
		return fmt.Errorf("failed to insert %s log: %w", table, err)
	}
	return nil
}

func (r *actionLogRepository) InsertAffirmation(ctx context.Context, rec *models.MatchAffirmation) error {
	return r.insertPairLog(ctx, "match_affirm", rec.ETLID, rec.RecordIDLow, rec.RecordIDHigh, rec.TransactionKey)
}

func (r *actionLogRepository) InsertDenial(ctx context.Context, rec *models.MatchDenial) error {
	return r.insertPairLog(ctx, "match_deny", rec.ETLID, rec.RecordIDLow, rec.RecordIDHigh, rec.TransactionKey)
}

func (r *actionLogRepository) InsertDeleteAction(ctx context.Context, rec *models.DeleteAction) error {
	query := `
		INSERT INTO delete_action (etl_id, batch_action, archive_proc_id,
			archive_batch_id, transaction_key)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		rec.ETLID, rec.BatchAction, rec.ArchiveProcID, rec.ArchiveBatchID, rec.TransactionKey)
	if err != nil {
		return fmt.Errorf("failed to insert delete_action log: %w", err)
	}
	return nil
}

// ============================================================================
// Lookups by transaction key
// ============================================================================

func (r *actionLogRepository) GetActivationByTransactionKey(ctx context.Context, key string) (*models.DemographicActivation, error) {
	query := `
		SELECT etl_id, record_id, transaction_key, created_ts
		FROM activate_demographic
		WHERE transaction_key = $1`

	var rec models.DemographicActivation
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.ETLID, &rec.RecordID, &rec.TransactionKey, &rec.CreatedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activate_demographic log: %w", err)
	}
	return &rec, nil
}

func (r *actionLogRepository) GetDeactivationByTransactionKey(ctx context.Context, key string) (*models.DemographicDeactivation, error) {
	query := `
		SELECT etl_id, record_id, transaction_key, created_ts
		FROM deactivate_demographic
		WHERE transaction_key = $1`

	var rec models.DemographicDeactivation
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.ETLID, &rec.RecordID, &rec.TransactionKey, &rec.CreatedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deactivate_demographic log: %w", err)
	}
	return &rec, nil
}

func (r *actionLogRepository) GetDeleteByTransactionKey(ctx context.Context, key string) (*models.DemographicDelete, error) {
	query := `
		SELECT etl_id, record_id, transaction_key, created_ts
		FROM delete_demographic
		WHERE transaction_key = $1`

	var rec models.DemographicDelete
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.ETLID, &rec.RecordID, &rec.TransactionKey, &rec.CreatedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delete_demographic log: %w", err)
	}
	return &rec, nil
}

func (r *actionLogRepository) GetAffirmationByTransactionKey(ctx context.Context, key string) (*models.MatchAffirmation, error) {
	query := `
		SELECT etl_id, record_id_low, record_id_high, transaction_key, created_ts
		FROM match_affirm
		WHERE transaction_key = $1`

	var rec models.MatchAffirmation
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.ETLID, &rec.RecordIDLow, &rec.RecordIDHigh, &rec.TransactionKey, &rec.CreatedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match_affirm log: %w", err)
	}
	return &rec, nil
}

func (r *actionLogRepository) GetDenialByTransactionKey(ctx context.Context, key string) (*models.MatchDenial, error) {
	query := `
		SELECT etl_id, record_id_low, record_id_high, transaction_key, created_ts
		FROM match_deny
		WHERE transaction_key = $1`

	var rec models.MatchDenial
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.ETLID, &rec.RecordIDLow, &rec.RecordIDHigh, &rec.TransactionKey, &rec.CreatedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match_deny log: %w", err)
	}
	return &rec, nil
}
