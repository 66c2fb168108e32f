package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/empiworks/empi-engine/pkg/apperrors"
	"github.com/empiworks/empi-engine/pkg/database"
	"github.com/empiworks/empi-engine/pkg/models"
)

// CrosswalkRepository manages external identifier systems and the binds that
// attach a batch's foreign record ids to one of them.
type CrosswalkRepository interface {
	// InsertCrosswalk registers an identifier system. Names are unique;
	// collisions map to apperrors.ErrDuplicateRecord.
	InsertCrosswalk(ctx context.Context, c *models.Crosswalk) error
	// SetCrosswalkActive flips a crosswalk's lifecycle flag. Unknown ids map
	// to apperrors.ErrNotFound.
	SetCrosswalkActive(ctx context.Context, crosswalkID int64, active bool, user string) error
	GetCrosswalk(ctx context.Context, crosswalkID int64) (*models.Crosswalk, error)

	InsertBind(ctx context.Context, b *models.CrosswalkBind) error
	// SetBindActive flips a bind's lifecycle flag. Unknown ids map to
	// apperrors.ErrNotFound.
	SetBindActive(ctx context.Context, bindID int64, active bool, user string) error
}

type crosswalkRepository struct {
	db database.Querier
}

// NewCrosswalkRepository creates a CrosswalkRepository on the given handle.
func NewCrosswalkRepository(db database.Querier) CrosswalkRepository {
	return &crosswalkRepository{db: db}
}

var _ CrosswalkRepository = (*crosswalkRepository)(nil)

func (r *crosswalkRepository) InsertCrosswalk(ctx context.Context, c *models.Crosswalk) error {
	query := `
		INSERT INTO crosswalk (crosswalk_id, crosswalk_name, key_name,
			is_active, transaction_key, touched_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING touched_ts`

	err := r.db.QueryRow(ctx, query,
		c.CrosswalkID, c.CrosswalkName, c.KeyName, c.IsActive,
		c.TransactionKey, c.TouchedBy,
	).Scan(&c.TouchedTS)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert crosswalk: %w", err)
	}
	return nil
}

func (r *crosswalkRepository) SetCrosswalkActive(ctx context.Context, crosswalkID int64, active bool, user string) error {
	query := `
		UPDATE crosswalk
		SET is_active = $2, touched_by = $3, touched_ts = now()
		WHERE crosswalk_id = $1`

	tag, err := r.db.Exec(ctx, query, crosswalkID, active, user)
	if err != nil {
		return fmt.Errorf("failed to set crosswalk active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *crosswalkRepository) GetCrosswalk(ctx context.Context, crosswalkID int64) (*models.Crosswalk, error) {
	query := `
		SELECT crosswalk_id, crosswalk_name, key_name, is_active,
			transaction_key, touched_by, touched_ts
		FROM crosswalk
		WHERE crosswalk_id = $1`

	var c models.Crosswalk
	err := r.db.QueryRow(ctx, query, crosswalkID).Scan(
		&c.CrosswalkID, &c.CrosswalkName, &c.KeyName, &c.IsActive,
		&c.TransactionKey, &c.TouchedBy, &c.TouchedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crosswalk: %w", err)
	}
	return &c, nil
}

func (r *crosswalkRepository) InsertBind(ctx context.Context, b *models.CrosswalkBind) error {
	query := `
		INSERT INTO crosswalk_bind (bind_id, crosswalk_id, batch_id,
			is_active, transaction_key, touched_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING touched_ts`

	err := r.db.QueryRow(ctx, query,
		b.BindID, b.CrosswalkID, b.BatchID, b.IsActive,
		b.TransactionKey, b.TouchedBy,
	).Scan(&b.TouchedTS)
	if err != nil {
		return fmt.Errorf("failed to insert crosswalk bind: %w", err)
	}
	return nil
}

func (r *crosswalkRepository) SetBindActive(ctx context.Context, bindID int64, active bool, user string) error {
	query := `
		UPDATE crosswalk_bind
		SET is_active = $2, touched_by = $3, touched_ts = now()
		WHERE bind_id = $1`

	tag, err := r.db.Exec(ctx, query, bindID, active, user)
	if err != nil {
		return fmt.Errorf("failed to set crosswalk bind active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
