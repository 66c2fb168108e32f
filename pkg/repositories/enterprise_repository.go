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

const matchCols = `etl_id, record_id_low, record_id_high, match_weight,
	is_valid, transaction_key, touched_by, touched_ts`

// EnterpriseRepository persists the match graph: weighted pair edges, the
// group rows assigning records to enterprise identities, and the bulletin
// feed emitted when a group assignment actually changes.
type EnterpriseRepository interface {
	// UpsertEdge stores a valid edge for the pair, reusing the existing row
	// when one exists. The stored weight is preserved on conflict so steward
	// affirmations and denials survive graph recomputation. Returns the
	// etl_id of the row that now holds the pair.
	UpsertEdge(ctx context.Context, etlID int64, edge models.Edge, transactionKey, user string) (int64, error)
	// GetEdge finds the edge for an ordered pair. Missing pairs map to
	// apperrors.ErrEdgeNotFound.
	GetEdge(ctx context.Context, low, high int64) (*models.EnterpriseMatch, error)
	// AdjustEdgeWeight adds delta to the pair's weight and returns the
	// updated row. Missing pairs map to apperrors.ErrEdgeNotFound.
	AdjustEdgeWeight(ctx context.Context, low, high int64, delta float64, user string) (*models.EnterpriseMatch, error)
	InvalidatePair(ctx context.Context, low, high int64, user string) error
	// InvalidateIncident marks every edge touching the record invalid, on
	// either side of the pair.
	InvalidateIncident(ctx context.Context, recordID int64, user string) error
	// RevalidateIncident flips currently-invalid edges touching the record
	// back to valid.
	RevalidateIncident(ctx context.Context, recordID int64, user string) error
	// ListEdgesTouching returns all edges incident to the record regardless
	// of validity. The recursor reports every touched edge so the cursor
	// can invalidate weak ones.
	ListEdgesTouching(ctx context.Context, recordID int64) ([]*models.EnterpriseMatch, error)
	// DeleteInvalidEdges removes every invalid edge in the table. Returns
	// the number removed.
	DeleteInvalidEdges(ctx context.Context) (int64, error)

	// UpsertGroup assigns the record to the enterprise, writing only when
	// the stored assignment differs. Reports whether a row was written,
	// which is the signal for a bulletin.
	UpsertGroup(ctx context.Context, etlID, enterpriseID, recordID int64, transactionKey, user string) (bool, error)
	// GetGroupByRecord returns the record's group row, or nil when the
	// record is ungrouped.
	GetGroupByRecord(ctx context.Context, recordID int64) (*models.EnterpriseGroup, error)
	// DeleteGroupsFor removes the record's own group row and every row
	// naming the record as its enterprise. Those components must be
	// reseeded around new minima.
	DeleteGroupsFor(ctx context.Context, recordID int64) (int64, error)

	InsertBulletin(ctx context.Context, b *models.Bulletin) error
}

type enterpriseRepository struct {
	db database.Querier
}

// NewEnterpriseRepository creates an EnterpriseRepository on the given handle.
func NewEnterpriseRepository(db database.Querier) EnterpriseRepository {
	return &enterpriseRepository{db: db}
}

var _ EnterpriseRepository = (*enterpriseRepository)(nil)

// ============================================================================
// Edge Operations
// ============================================================================

func (r *enterpriseRepository) UpsertEdge(ctx context.Context, etlID int64, edge models.Edge, transactionKey, user string) (int64, error) {
	low, high := edge.RecordIDLow, edge.RecordIDHigh
	if low > high {
		low, high = high, low
	}

	query := `
		INSERT INTO enterprise_match (etl_id, record_id_low, record_id_high,
			match_weight, is_valid, transaction_key, touched_by)
		VALUES ($1, $2, $3, $4, true, $5, $6)
		ON CONFLICT ON CONSTRAINT matched_pair_constraint DO UPDATE
		SET is_valid = true,
			transaction_key = EXCLUDED.transaction_key,
			touched_by = EXCLUDED.touched_by,
			touched_ts = now()
		RETURNING etl_id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		etlID, low, high, edge.Weight, transactionKey, user,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert match edge: %w", err)
	}
	return id, nil
}

func (r *enterpriseRepository) GetEdge(ctx context.Context, low, high int64) (*models.EnterpriseMatch, error) {
	query := `
		SELECT ` + matchCols + `
		FROM enterprise_match
		WHERE record_id_low = $1 AND record_id_high = $2`

	m, err := scanMatch(r.db.QueryRow(ctx, query, low, high))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrEdgeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match edge: %w", err)
	}
	return m, nil
}

func (r *enterpriseRepository) AdjustEdgeWeight(ctx context.Context, low, high int64, delta float64, user string) (*models.EnterpriseMatch, error) {
	query := `
		UPDATE enterprise_match
		SET match_weight = match_weight + $3, touched_by = $4, touched_ts = now()
		WHERE record_id_low = $1 AND record_id_high = $2
		RETURNING ` + matchCols

	m, err := scanMatch(r.db.QueryRow(ctx, query, low, high, delta, user))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrEdgeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to adjust match weight: %w", err)
	}
	return m, nil
}

func (r *enterpriseRepository) InvalidatePair(ctx context.Context, low, high int64, user string) error {
	query := `
		UPDATE enterprise_match
		SET is_valid = false, touched_by = $3, touched_ts = now()
		WHERE record_id_low = $1 AND record_id_high = $2`

	if _, err := r.db.Exec(ctx, query, low, high, user); err != nil {
		return fmt.Errorf("failed to invalidate match pair: %w", err)
	}
	return nil
}

func (r *enterpriseRepository) InvalidateIncident(ctx context.Context, recordID int64, user string) error {
	query := `
		UPDATE enterprise_match
		SET is_valid = false, touched_by = $2, touched_ts = now()
		WHERE record_id_low = $1 OR record_id_high = $1`

	if _, err := r.db.Exec(ctx, query, recordID, user); err != nil {
		return fmt.Errorf("failed to invalidate incident edges: %w", err)
	}
	return nil
}

func (r *enterpriseRepository) RevalidateIncident(ctx context.Context, recordID int64, user string) error {
	query := `
		UPDATE enterprise_match
		SET is_valid = true, touched_by = $2, touched_ts = now()
		WHERE is_valid = false
		  AND (record_id_low = $1 OR record_id_high = $1)`

	if _, err := r.db.Exec(ctx, query, recordID, user); err != nil {
		return fmt.Errorf("failed to revalidate incident edges: %w", err)
	}
	return nil
}

func (r *enterpriseRepository) ListEdgesTouching(ctx context.Context, recordID int64) ([]*models.EnterpriseMatch, error) {
	query := `
		SELECT ` + matchCols + `
		FROM enterprise_match
		WHERE record_id_low = $1 OR record_id_high = $1
		ORDER BY etl_id`

	rows, err := r.db.Query(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident edges: %w", err)
	}
	defer rows.Close()

	var edges []*models.EnterpriseMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match edge: %w", err)
		}
		edges = append(edges, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read incident edges: %w", err)
	}
	return edges, nil
}

func (r *enterpriseRepository) DeleteInvalidEdges(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM enterprise_match WHERE is_valid = false`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete invalid edges: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// Group Operations
// ============================================================================

func (r *enterpriseRepository) UpsertGroup(ctx context.Context, etlID, enterpriseID, recordID int64, transactionKey, user string) (bool, error) {
	query := `
		INSERT INTO enterprise_group (etl_id, enterprise_id, record_id,
			transaction_key, touched_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (record_id) DO UPDATE
		SET enterprise_id = EXCLUDED.enterprise_id,
			transaction_key = EXCLUDED.transaction_key,
			touched_by = EXCLUDED.touched_by,
			touched_ts = now()
		WHERE enterprise_group.enterprise_id IS DISTINCT FROM EXCLUDED.enterprise_id`

	tag, err := r.db.Exec(ctx, query, etlID, enterpriseID, recordID, transactionKey, user)
	if err != nil {
		return false, fmt.Errorf("failed to upsert group: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *enterpriseRepository) GetGroupByRecord(ctx context.Context, recordID int64) (*models.EnterpriseGroup, error) {
	query := `
		SELECT etl_id, enterprise_id, record_id, transaction_key, touched_by,
			touched_ts
		FROM enterprise_group
		WHERE record_id = $1`

	var g models.EnterpriseGroup
	err := r.db.QueryRow(ctx, query, recordID).Scan(
		&g.ETLID, &g.EnterpriseID, &g.RecordID, &g.TransactionKey,
		&g.TouchedBy, &g.TouchedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &g, nil
}

func (r *enterpriseRepository) DeleteGroupsFor(ctx context.Context, recordID int64) (int64, error) {
	query := `
		DELETE FROM enterprise_group
		WHERE record_id = $1 OR enterprise_id = $1`

	tag, err := r.db.Exec(ctx, query, recordID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete groups: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================================
// Bulletin Operations
// ============================================================================

func (r *enterpriseRepository) InsertBulletin(ctx context.Context, b *models.Bulletin) error {
	query := `
		INSERT INTO bulletin (etl_id, batch_id, proc_id, record_id, empi_id,
			transaction_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING bulletin_ts`

	err := r.db.QueryRow(ctx, query,
		b.ETLID, b.BatchID, b.ProcID, b.RecordID, b.EmpiID, b.TransactionKey,
	).Scan(&b.BulletinTS)
	if err != nil {
		return fmt.Errorf("failed to insert bulletin: %w", err)
	}
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func scanMatch(row pgx.Row) (*models.EnterpriseMatch, error) {
	var m models.EnterpriseMatch
	err := row.Scan(
		&m.ETLID, &m.RecordIDLow, &m.RecordIDHigh, &m.MatchWeight,
		&m.IsValid, &m.TransactionKey, &m.TouchedBy, &m.TouchedTS)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
