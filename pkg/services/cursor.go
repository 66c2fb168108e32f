package services

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/models"
	"github.com/empiworks/empi-engine/pkg/repositories"
)

// CursorResult summarizes one cursor run over a component.
type CursorResult struct {
	// EnterpriseID is the smallest record named by a non-self triple, zero
	// when the input held none.
	EnterpriseID int64 `json:"enterprise_id"`
	// MatchCount is the number of triples that cleared the threshold.
	MatchCount int `json:"match_count"`
	// NewMatches holds the etl_ids of the edge rows upserted this run.
	NewMatches []int64 `json:"new_matches"`
	// NewGroups holds the record_ids whose group row actually changed.
	NewGroups []int64 `json:"new_groups"`
	// BulletinIDs holds the etl_ids of the bulletins those changes issued.
	BulletinIDs []int64 `json:"bulletin_ids"`
}

// GraphCursor folds weighted match triples into the stored graph: edges at
// or above the threshold are upserted valid, weaker ones invalidated, and
// every record on a kept edge is pointed at the component's smallest
// record_id. Writes are attributed to the system user under the stamp's
// transaction key.
type GraphCursor interface {
	// Run folds the triples and rewrites group membership, issuing a
	// Bulletin for every group row that actually changed.
	Run(ctx context.Context, triples []models.Edge, stamp *AuditStamp) (*CursorResult, error)
	// RunUngrouped folds edges only, leaving enterprise_group untouched.
	// Deactivation and deletion flows use it so a record mid-removal cannot
	// be re-grouped before its component is reseeded.
	RunUngrouped(ctx context.Context, triples []models.Edge, stamp *AuditStamp) (*CursorResult, error)
}

type graphCursor struct {
	ids        repositories.IDRepository
	enterprise repositories.EnterpriseRepository
	feed       BulletinPublisher
	threshold  float64
	exportDir  string
	logger     *zap.Logger
}

// NewGraphCursor creates a GraphCursor. feed may be nil when no bulletin
// fan-out is configured; exportDir may be empty to skip DOT renderings.
func NewGraphCursor(
	ids repositories.IDRepository,
	enterprise repositories.EnterpriseRepository,
	feed BulletinPublisher,
	threshold float64,
	exportDir string,
	logger *zap.Logger,
) GraphCursor {
	return &graphCursor{
		ids:        ids,
		enterprise: enterprise,
		feed:       feed,
		threshold:  threshold,
		exportDir:  exportDir,
		logger:     logger.Named("graph-cursor"),
	}
}

var _ GraphCursor = (*graphCursor)(nil)

func (c *graphCursor) Run(ctx context.Context, triples []models.Edge, stamp *AuditStamp) (*CursorResult, error) {
	return c.run(ctx, triples, stamp, true)
}

func (c *graphCursor) RunUngrouped(ctx context.Context, triples []models.Edge, stamp *AuditStamp) (*CursorResult, error) {
	return c.run(ctx, triples, stamp, false)
}

func (c *graphCursor) run(ctx context.Context, triples []models.Edge, stamp *AuditStamp, writeGroups bool) (*CursorResult, error) {
	result := &CursorResult{}
	enterpriseID, ok := enterpriseIDOf(triples)
	if !ok {
		return result, nil
	}
	result.EnterpriseID = enterpriseID

	var kept []models.Edge
	for _, edge := range triples {
		if edge.RecordIDLow == edge.RecordIDHigh {
			continue
		}
		if edge.Weight < c.threshold {
			if err := c.enterprise.InvalidatePair(ctx, edge.RecordIDLow, edge.RecordIDHigh, models.SystemUser); err != nil {
				return nil, err
			}
			continue
		}
		etlID, err := c.ids.NextID(ctx, models.SystemUser)
		if err != nil {
			return nil, err
		}
		rowID, err := c.enterprise.UpsertEdge(ctx, etlID, edge, stamp.TransactionKey, models.SystemUser)
		if err != nil {
			return nil, err
		}
		result.MatchCount++
		result.NewMatches = append(result.NewMatches, rowID)
		kept = append(kept, edge)
	}

	if writeGroups {
		if err := c.rewriteGroups(ctx, kept, enterpriseID, stamp, result); err != nil {
			return nil, err
		}
	}

	c.export(enterpriseID, triples)
	c.logger.Debug("cursor run",
		zap.Int64("enterprise_id", enterpriseID),
		zap.String("transaction_key", stamp.TransactionKey),
		zap.Int("match_count", result.MatchCount),
		zap.Int("group_writes", len(result.NewGroups)),
		zap.Bool("groups", writeGroups))
	return result, nil
}

// rewriteGroups points every record on a kept edge at the enterprise id.
// Only rows whose stored enterprise differs are written, and each actual
// write issues a Bulletin.
func (c *graphCursor) rewriteGroups(ctx context.Context, kept []models.Edge, enterpriseID int64, stamp *AuditStamp, result *CursorResult) error {
	for _, recordID := range distinctRecords(kept) {
		etlID, err := c.ids.NextID(ctx, models.SystemUser)
		if err != nil {
			return err
		}
		wrote, err := c.enterprise.UpsertGroup(ctx, etlID, enterpriseID, recordID, stamp.TransactionKey, models.SystemUser)
		if err != nil {
			return err
		}
		if !wrote {
			continue
		}
		result.NewGroups = append(result.NewGroups, recordID)

		bulletinID, err := c.ids.NextID(ctx, models.SystemUser)
		if err != nil {
			return err
		}
		bulletin := &models.Bulletin{
			ETLID:          bulletinID,
			BatchID:        stamp.BatchID,
			ProcID:         stamp.ProcID,
			RecordID:       recordID,
			EmpiID:         enterpriseID,
			TransactionKey: stamp.TransactionKey,
		}
		if err := c.enterprise.InsertBulletin(ctx, bulletin); err != nil {
			return err
		}
		result.BulletinIDs = append(result.BulletinIDs, bulletinID)

		if c.feed != nil {
			if err := c.feed.Publish(ctx, bulletin); err != nil {
				c.logger.Warn("bulletin publish failed",
					zap.Int64("bulletin_id", bulletinID),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (c *graphCursor) export(enterpriseID int64, triples []models.Edge) {
	if c.exportDir == "" {
		return
	}
	if err := ExportDOT(c.exportDir, enterpriseID, triples, c.threshold); err != nil {
		c.logger.Warn("graph export failed",
			zap.Int64("enterprise_id", enterpriseID),
			zap.Error(err))
	}
}

// enterpriseIDOf is the smallest record named by a non-self triple. ok is
// false when no such triple exists, which makes the whole run a no-op.
func enterpriseIDOf(triples []models.Edge) (int64, bool) {
	var min int64
	found := false
	for _, e := range triples {
		if e.RecordIDLow == e.RecordIDHigh {
			continue
		}
		low := e.RecordIDLow
		if e.RecordIDHigh < low {
			low = e.RecordIDHigh
		}
		if !found || low < min {
			min = low
			found = true
		}
	}
	return min, found
}

// distinctRecords lists every record on the given edges once, ascending, so
// group and bulletin writes land in a stable order.
func distinctRecords(edges []models.Edge) []int64 {
	seen := make(map[int64]bool)
	var records []int64
	for _, e := range edges {
		for _, id := range [2]int64{e.RecordIDLow, e.RecordIDHigh} {
			if !seen[id] {
				seen[id] = true
				records = append(records, id)
			}
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i] < records[j] })
	return records
}
