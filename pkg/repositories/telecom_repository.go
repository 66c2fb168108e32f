package repositories

import (
	"context"
	"fmt"

	"github.com/empiworks/empi-engine/pkg/database"
	"github.com/empiworks/empi-engine/pkg/models"
)

// TelecomRepository persists contact rows attached to demographic records.
type TelecomRepository interface {
	Insert(ctx context.Context, t *models.Telecom) error
	ListByRecord(ctx context.Context, recordID int64) ([]*models.Telecom, error)
}

type telecomRepository struct {
	db database.Querier
}

// NewTelecomRepository creates a TelecomRepository on the given handle.
func NewTelecomRepository(db database.Querier) TelecomRepository {
	return &telecomRepository{db: db}
}

var _ TelecomRepository = (*telecomRepository)(nil)

func (r *telecomRepository) Insert(ctx context.Context, t *models.Telecom) error {
	query := `
		INSERT INTO telecom (etl_id, record_id, telecoms_type,
			telecoms_subtype, telecoms_value, transaction_key, touched_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING touched_ts`

	err := r.db.QueryRow(ctx, query,
		t.ETLID, t.RecordID, t.TelecomsType, t.TelecomsSubtype,
		t.TelecomsValue, t.TransactionKey, t.TouchedBy,
	).Scan(&t.TouchedTS)
	if err != nil {
		return fmt.Errorf("failed to insert telecom: %w", err)
	}
	return nil
}

func (r *telecomRepository) ListByRecord(ctx context.Context, recordID int64) ([]*models.Telecom, error) {
	query := `
		SELECT etl_id, record_id, telecoms_type, telecoms_subtype,
			telecoms_value, transaction_key, touched_by, touched_ts
		FROM telecom
		WHERE record_id = $1
		ORDER BY etl_id`

	rows, err := r.db.Query(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query telecoms: %w", err)
	}
	defer rows.Close()

	var telecoms []*models.Telecom
	for rows.Next() {
		var t models.Telecom
		err := rows.Scan(&t.ETLID, &t.RecordID, &t.TelecomsType,
			&t.TelecomsSubtype, &t.TelecomsValue, &t.TransactionKey,
			&t.TouchedBy, &t.TouchedTS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telecom: %w", err)
		}
		telecoms = append(telecoms, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read telecoms: %w", err)
	}
	return telecoms, nil
}
