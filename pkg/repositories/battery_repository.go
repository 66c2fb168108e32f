package repositories

import (
	"context"
	"fmt"

	"github.com/empiworks/empi-engine/pkg/database"
	"github.com/empiworks/empi-engine/pkg/models"
)

// BatteryRepository manages score tests and the named batteries that group
// them. The production fine matcher loads its configured battery through
// LoadBattery at evaluation time.
type BatteryRepository interface {
	// UpsertTest inserts a score test or, when the name exists, replaces its
	// definition in place.
	UpsertTest(ctx context.Context, t *models.ScoreTest) error
	// BindTest attaches a test to a battery. Rebinding an existing pair is a
	// no-op.
	BindTest(ctx context.Context, etlID int64, batteryName, testName, user string) error
	// LoadBattery returns the battery's tests ordered by test name. An
	// unknown battery loads empty.
	LoadBattery(ctx context.Context, batteryName string) ([]*models.ScoreTest, error)
}

type batteryRepository struct {
	db database.Querier
}

// NewBatteryRepository creates a BatteryRepository on the given handle.
func NewBatteryRepository(db database.Querier) BatteryRepository {
	return &batteryRepository{db: db}
}

var _ BatteryRepository = (*batteryRepository)(nil)

func (r *batteryRepository) UpsertTest(ctx context.Context, t *models.ScoreTest) error {
	query := `
		INSERT INTO score_test (etl_id, test_name, metric, threshold,
			operator, weight, touched_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (test_name) DO UPDATE
		SET metric = EXCLUDED.metric,
			threshold = EXCLUDED.threshold,
			operator = EXCLUDED.operator,
			weight = EXCLUDED.weight,
			touched_by = EXCLUDED.touched_by,
			touched_ts = now()
		RETURNING touched_ts`

	err := r.db.QueryRow(ctx, query,
		t.ETLID, t.TestName, t.Metric, t.Threshold, t.Operator, t.Weight,
		t.TouchedBy,
	).Scan(&t.TouchedTS)
	if err != nil {
		return fmt.Errorf("failed to upsert score test: %w", err)
	}
	return nil
}

func (r *batteryRepository) BindTest(ctx context.Context, etlID int64, batteryName, testName, user string) error {
	query := `
		INSERT INTO score_battery (etl_id, battery_name, test_name, touched_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT score_battery_pair_key DO NOTHING`

	if _, err := r.db.Exec(ctx, query, etlID, batteryName, testName, user); err != nil {
		return fmt.Errorf("failed to bind score test: %w", err)
	}
	return nil
}

func (r *batteryRepository) LoadBattery(ctx context.Context, batteryName string) ([]*models.ScoreTest, error) {
	query := `
		SELECT t.etl_id, t.test_name, t.metric, t.threshold, t.operator,
			t.weight, t.touched_by, t.touched_ts
		FROM score_battery b
		JOIN score_test t ON t.test_name = b.test_name
		WHERE b.battery_name = $1
		ORDER BY t.test_name`

	rows, err := r.db.Query(ctx, query, batteryName)
	if err != nil {
		return nil, fmt.Errorf("failed to query battery: %w", err)
	}
	defer rows.Close()

	var tests []*models.ScoreTest
	for rows.Next() {
		var t models.ScoreTest
		err := rows.Scan(&t.ETLID, &t.TestName, &t.Metric, &t.Threshold,
			&t.Operator, &t.Weight, &t.TouchedBy, &t.TouchedTS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score test: %w", err)
		}
		tests = append(tests, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read battery: %w", err)
	}
	return tests, nil
}
