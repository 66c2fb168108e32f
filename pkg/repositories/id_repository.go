package repositories

import (
	"context"
	"fmt"

	"github.com/empiworks/empi-engine/pkg/database"
)

// IDRepository mints primary keys from the etl_id_source number line. Every
// identifier in the engine (batch, process, record, edge, group, and log ids)
// comes from this one monotonic sequence, which is what makes transaction
// keys globally unique and lets min-id selection define enterprise identity.
type IDRepository interface {
	// NextID inserts a source row stamped with the requesting user and
	// returns the generated key.
	NextID(ctx context.Context, user string) (int64, error)
}

type idRepository struct {
	db      database.Querier
	version string
}

// NewIDRepository creates an IDRepository. Minted ids carry version so a key
// can be traced to the engine build that issued it.
func NewIDRepository(db database.Querier, version string) IDRepository {
	return &idRepository{db: db, version: version}
}

var _ IDRepository = (*idRepository)(nil)

func (r *idRepository) NextID(ctx context.Context, user string) (int64, error) {
	query := `INSERT INTO etl_id_source ("user", version) VALUES ($1, $2) RETURNING etl_id`

	var id int64
	if err := r.db.QueryRow(ctx, query, user, r.version).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to mint etl id: %w", err)
	}
	return id, nil
}
