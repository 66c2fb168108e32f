package repositories

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/empiworks/empi-engine/pkg/apperrors"
	"github.com/empiworks/empi-engine/pkg/database"
	"github.com/empiworks/empi-engine/pkg/models"
)

// QueryRepository serves the read side of every endpoint: equality-filtered
// SELECTs over the registry's closed column sets. Identifiers never come from
// the caller; every filter column is checked against the registry before any
// SQL is assembled.
type QueryRepository interface {
	// Filter returns the entity's rows matching all filters by equality,
	// ordered by the entity's first registry column. Unknown filter columns
	// map to apperrors.ErrBadFilterField.
	Filter(ctx context.Context, entity models.Entity, filters map[string]any) ([]map[string]any, error)
}

type queryRepository struct {
	db database.Querier
}

// NewQueryRepository creates a QueryRepository on the given handle.
func NewQueryRepository(db database.Querier) QueryRepository {
	return &queryRepository{db: db}
}

var _ QueryRepository = (*queryRepository)(nil)

func (r *queryRepository) Filter(ctx context.Context, entity models.Entity, filters map[string]any) ([]map[string]any, error) {
	cols := make([]string, len(entity.Columns))
	for i, c := range entity.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		if !entity.Queryable(k) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrBadFilterField, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s",
		strings.Join(cols, ", "), pgx.Identifier{entity.Table}.Sanitize())

	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{k}.Sanitize(), i+1)
		args = append(args, filters[k])
	}
	fmt.Fprintf(&sb, " ORDER BY %s", cols[0])

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", entity.Table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s row: %w", entity.Table, err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", entity.Table, err)
	}
	return results, nil
}
