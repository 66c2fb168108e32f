//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestEngineDB_MigratedSchema(t *testing.T) {
	engineDB := GetEngineDB(t)

	ctx := context.Background()

	tables := []string{
		"etl_id_source", "batch", "process", "demographic",
		"archive_demographic", "telecom", "enterprise_match",
		"enterprise_group", "bulletin", "activate_demographic",
		"deactivate_demographic", "delete_demographic", "match_affirm",
		"match_deny", "delete_action", "crosswalk", "crosswalk_bind",
		"score_test", "score_battery",
	}
	for _, table := range tables {
		var exists bool
		err := engineDB.DB.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist after migrations", table)
		}
	}
}

func TestEngineDB_IDSequence(t *testing.T) {
	engineDB := GetEngineDB(t)

	ctx := context.Background()

	var first, second int64
	err := engineDB.DB.QueryRow(ctx,
		`INSERT INTO etl_id_source ("user", version) VALUES ('helper_test', 'test') RETURNING etl_id`).
		Scan(&first)
	if err != nil {
		t.Fatalf("failed to mint first id: %v", err)
	}
	err = engineDB.DB.QueryRow(ctx,
		`INSERT INTO etl_id_source ("user", version) VALUES ('helper_test', 'test') RETURNING etl_id`).
		Scan(&second)
	if err != nil {
		t.Fatalf("failed to mint second id: %v", err)
	}
	if second <= first {
		t.Errorf("expected ids to increase, got %d then %d", first, second)
	}
}
