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

const demographicCols = `record_id, organization_key, system_key, system_id,
	given_name, middle_name, family_name, gender, name_day,
	social_security_number, address_1, address_2, city, state, postal_code,
	uq_hash, composite_key, composite_name, composite_name_day_postal_code,
	is_active, transaction_key, touched_by, touched_ts`

// DemographicRepository persists person records and their archive snapshots.
type DemographicRepository interface {
	// Insert stores a new record. A uq_hash collision maps to
	// apperrors.ErrDuplicateRecord so ingest can count the row as skipped.
	Insert(ctx context.Context, d *models.Demographic) error
	GetByID(ctx context.Context, recordID int64) (*models.Demographic, error)
	SetActive(ctx context.Context, recordID int64, active bool, user string) error
	Delete(ctx context.Context, recordID int64) error

	// ListCoarseCandidates returns every other record sharing the given
	// record's postal_code, name_day, or family_name. This is the blocking
	// pass; order is unspecified.
	ListCoarseCandidates(ctx context.Context, d *models.Demographic) ([]*models.Demographic, error)

	// ListCompositeCandidates returns every other record sharing one of the
	// given record's composite blocks. Blank composites never match, so
	// records missing the fields behind a composite are not blocked together.
	ListCompositeCandidates(ctx context.Context, d *models.Demographic) ([]*models.Demographic, error)

	InsertArchive(ctx context.Context, a *models.DemographicArchive) error
	GetArchive(ctx context.Context, recordID int64) (*models.DemographicArchive, error)
	// GetArchiveByTransactionKey finds the snapshot written under the given
	// transaction key. Archive runs leave no action-log row, so undoing one
	// starts from the archive table itself.
	GetArchiveByTransactionKey(ctx context.Context, key string) (*models.DemographicArchive, error)
	DeleteArchive(ctx context.Context, recordID int64) error
}

type demographicRepository struct {
	db database.Querier
}

// NewDemographicRepository creates a DemographicRepository on the given handle.
func NewDemographicRepository(db database.Querier) DemographicRepository {
	return &demographicRepository{db: db}
}

var _ DemographicRepository = (*demographicRepository)(nil)

// ============================================================================
// Demographic Operations
// ============================================================================

func (r *demographicRepository) Insert(ctx context.Context, d *models.Demographic) error {
	query := `
		INSERT INTO demographic (record_id, organization_key, system_key,
			system_id, given_name, middle_name, family_name, gender, name_day,
			social_security_number, address_1, address_2, city, state,
			postal_code, uq_hash, composite_key, composite_name,
			composite_name_day_postal_code, is_active, transaction_key,
			touched_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING touched_ts`

	err := r.db.QueryRow(ctx, query,
		d.RecordID, d.OrganizationKey, d.SystemKey, d.SystemID,
		d.GivenName, d.MiddleName, d.FamilyName, d.Gender, d.NameDay,
		d.SocialSecurityNumber, d.Address1, d.Address2, d.City, d.State,
		d.PostalCode, d.UqHash, d.CompositeKey, d.CompositeName,
		d.CompositeNameDayPostalCode, d.IsActive, d.TransactionKey,
		d.TouchedBy,
	).Scan(&d.TouchedTS)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert demographic: %w", err)
	}
	return nil
}

func (r *demographicRepository) GetByID(ctx context.Context, recordID int64) (*models.Demographic, error) {
	query := `SELECT ` + demographicCols + ` FROM demographic WHERE record_id = $1`

	d, err := scanDemographic(r.db.QueryRow(ctx, query, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get demographic: %w", err)
	}
	return d, nil
}

func (r *demographicRepository) SetActive(ctx context.Context, recordID int64, active bool, user string) error {
	query := `
		UPDATE demographic
		SET is_active = $2, touched_by = $3, touched_ts = now()
		WHERE record_id = $1`

	if _, err := r.db.Exec(ctx, query, recordID, active, user); err != nil {
		return fmt.Errorf("failed to set demographic active flag: %w", err)
	}
	return nil
}

func (r *demographicRepository) Delete(ctx context.Context, recordID int64) error {
	query := `DELETE FROM demographic WHERE record_id = $1`

	if _, err := r.db.Exec(ctx, query, recordID); err != nil {
		return fmt.Errorf("failed to delete demographic: %w", err)
	}
	return nil
}

func (r *demographicRepository) ListCoarseCandidates(ctx context.Context, d *models.Demographic) ([]*models.Demographic, error) {
	query := `
		SELECT ` + demographicCols + `
		FROM demographic
		WHERE (postal_code = $1 OR name_day = $2 OR family_name = $3)
		  AND record_id <> $4`

	rows, err := r.db.Query(ctx, query, d.PostalCode, d.NameDay, d.FamilyName, d.RecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query coarse candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*models.Demographic
	for rows.Next() {
		c, err := scanDemographic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coarse candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read coarse candidates: %w", err)
	}
	return candidates, nil
}

func (r *demographicRepository) ListCompositeCandidates(ctx context.Context, d *models.Demographic) ([]*models.Demographic, error) {
	query := `
		SELECT ` + demographicCols + `
		FROM demographic
		WHERE ((composite_name_day_postal_code = $1 AND $1 <> '')
		    OR (composite_name = $2 AND $2 <> ''))
		  AND record_id <> $3`

	rows, err := r.db.Query(ctx, query, d.CompositeNameDayPostalCode, d.CompositeName, d.RecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query composite candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*models.Demographic
	for rows.Next() {
		c, err := scanDemographic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan composite candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read composite candidates: %w", err)
	}
	return candidates, nil
}

// ============================================================================
// Archive Operations
// ============================================================================

func (r *demographicRepository) InsertArchive(ctx context.Context, a *models.DemographicArchive) error {
	query := `
		INSERT INTO archive_demographic (record_id, organization_key,
			system_key, system_id, given_name, middle_name, family_name,
			gender, name_day, social_security_number, address_1, address_2,
			city, state, postal_code, uq_hash, composite_key, composite_name,
			composite_name_day_postal_code, is_active, transaction_key,
			archive_transaction_key, touched_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING touched_ts`

	err := r.db.QueryRow(ctx, query,
		a.RecordID, a.OrganizationKey, a.SystemKey, a.SystemID,
		a.GivenName, a.MiddleName, a.FamilyName, a.Gender, a.NameDay,
		a.SocialSecurityNumber, a.Address1, a.Address2, a.City, a.State,
		a.PostalCode, a.UqHash, a.CompositeKey, a.CompositeName,
		a.CompositeNameDayPostalCode, a.IsActive, a.TransactionKey,
		a.ArchiveTransactionKey, a.TouchedBy,
	).Scan(&a.TouchedTS)
	if err != nil {
		return fmt.Errorf("failed to insert archive row: %w", err)
	}
	return nil
}

const archiveCols = `record_id, organization_key, system_key, system_id,
	given_name, middle_name, family_name, gender, name_day,
	social_security_number, address_1, address_2, city, state, postal_code,
	uq_hash, composite_key, composite_name, composite_name_day_postal_code,
	is_active, transaction_key, archive_transaction_key, touched_by,
	touched_ts`

func (r *demographicRepository) GetArchive(ctx context.Context, recordID int64) (*models.DemographicArchive, error) {
	query := `SELECT ` + archiveCols + ` FROM archive_demographic WHERE record_id = $1`

	a, err := scanArchive(r.db.QueryRow(ctx, query, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive row: %w", err)
	}
	return a, nil
}

func (r *demographicRepository) GetArchiveByTransactionKey(ctx context.Context, key string) (*models.DemographicArchive, error) {
	query := `SELECT ` + archiveCols + ` FROM archive_demographic WHERE transaction_key = $1`

	a, err := scanArchive(r.db.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive row by transaction key: %w", err)
	}
	return a, nil
}

func (r *demographicRepository) DeleteArchive(ctx context.Context, recordID int64) error {
	query := `DELETE FROM archive_demographic WHERE record_id = $1`

	if _, err := r.db.Exec(ctx, query, recordID); err != nil {
		return fmt.Errorf("failed to delete archive row: %w", err)
	}
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func scanDemographic(row pgx.Row) (*models.Demographic, error) {
	var d models.Demographic
	err := row.Scan(
		&d.RecordID, &d.OrganizationKey, &d.SystemKey, &d.SystemID,
		&d.GivenName, &d.MiddleName, &d.FamilyName, &d.Gender, &d.NameDay,
		&d.SocialSecurityNumber, &d.Address1, &d.Address2, &d.City, &d.State,
		&d.PostalCode, &d.UqHash, &d.CompositeKey, &d.CompositeName,
		&d.CompositeNameDayPostalCode, &d.IsActive, &d.TransactionKey,
		&d.TouchedBy, &d.TouchedTS)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanArchive(row pgx.Row) (*models.DemographicArchive, error) {
	var a models.DemographicArchive
	err := row.Scan(
		&a.RecordID, &a.OrganizationKey, &a.SystemKey, &a.SystemID,
		&a.GivenName, &a.MiddleName, &a.FamilyName, &a.Gender, &a.NameDay,
		&a.SocialSecurityNumber, &a.Address1, &a.Address2, &a.City, &a.State,
		&a.PostalCode, &a.UqHash, &a.CompositeKey, &a.CompositeName,
		&a.CompositeNameDayPostalCode, &a.IsActive, &a.TransactionKey,
		&a.ArchiveTransactionKey, &a.TouchedBy, &a.TouchedTS)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
