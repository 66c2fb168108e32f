package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/apperrors"
	"github.com/empiworks/empi-engine/pkg/models"
	"github.com/empiworks/empi-engine/pkg/repositories"
)

// Processors executes batch actions against the identity graph. Run handles
// one batch end to end: it decodes the payload, stamps a process row per unit
// of work, mutates the demographic store, and drives the recursor and cursor
// so every touched component settles on its minimum record_id.
type Processors interface {
	// Run executes one batch under an open audit. Row-level failures are
	// counted and logged without stopping the batch; errors that make the
	// whole batch unworkable are returned and leave it visibly unfinished.
	Run(ctx context.Context, action string, payload json.RawMessage, audit *BatchAudit) (*BatchResult, error)
	// QueryRecords serves the read side of any endpoint: equality filters
	// over the registry's closed column set.
	QueryRecords(ctx context.Context, endpoint string, filters map[string]any) ([]map[string]any, error)
}

type processors struct {
	ids          repositories.IDRepository
	demographics repositories.DemographicRepository
	telecoms     repositories.TelecomRepository
	enterprise   repositories.EnterpriseRepository
	actionLogs   repositories.ActionLogRepository
	crosswalks   repositories.CrosswalkRepository
	queries      repositories.QueryRepository
	engine       MatchEngine
	cursor       GraphCursor
	threshold    float64
	logger       *zap.Logger
}

// NewProcessors creates a Processors with the given dependencies.
func NewProcessors(
	ids repositories.IDRepository,
	demographics repositories.DemographicRepository,
	telecoms repositories.TelecomRepository,
	enterprise repositories.EnterpriseRepository,
	actionLogs repositories.ActionLogRepository,
	crosswalks repositories.CrosswalkRepository,
	queries repositories.QueryRepository,
	engine MatchEngine,
	cursor GraphCursor,
	threshold float64,
	logger *zap.Logger,
) Processors {
	return &processors{
		ids:          ids,
		demographics: demographics,
		telecoms:     telecoms,
		enterprise:   enterprise,
		actionLogs:   actionLogs,
		crosswalks:   crosswalks,
		queries:      queries,
		engine:       engine,
		cursor:       cursor,
		threshold:    threshold,
		logger:       logger.Named("processors"),
	}
}

var _ Processors = (*processors)(nil)

func (p *processors) Run(ctx context.Context, action string, payload json.RawMessage, audit *BatchAudit) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{Action: action, BatchID: audit.BatchID, Rows: 1}

	var err error
	switch action {
	case ActionDemographic:
		err = p.runDemographic(ctx, payload, audit, result)
	case ActionActivateDemographic:
		err = p.runActivate(ctx, payload, audit)
	case ActionDeactivateDemographic:
		err = p.runDeactivate(ctx, payload, audit)
	case ActionDeleteDemographic:
		err = p.runDelete(ctx, payload, audit)
	case ActionDeleteAction:
		err = p.runDeleteAction(ctx, payload, audit, result)
	case ActionMatchAffirm:
		err = p.runMatch(ctx, payload, audit, true)
	case ActionMatchDeny:
		err = p.runMatch(ctx, payload, audit, false)
	case ActionAddCrosswalk:
		err = p.runAddCrosswalk(ctx, payload, audit)
	case ActionActivateCrosswalk:
		err = p.runToggleCrosswalk(ctx, payload, audit, true)
	case ActionDeactivateCrosswalk:
		err = p.runToggleCrosswalk(ctx, payload, audit, false)
	case ActionAddCrosswalkBind:
		err = p.runAddBind(ctx, payload, audit)
	case ActionActivateCrosswalkBind:
		err = p.runToggleBind(ctx, payload, audit, true)
	case ActionDeactivateCrosswalkBind:
		err = p.runToggleBind(ctx, payload, audit, false)
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownEndpoint, action)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to process %s batch %d: %w", action, audit.BatchID, err)
	}

	result.Elapsed = execTime(start)
	p.logger.Info("batch processed",
		zap.String("action", action),
		zap.Int64("batch_id", audit.BatchID),
		zap.Int("rows", result.Rows),
		zap.Int("errors", result.Errors),
		zap.String("elapsed", result.Elapsed))
	return result, nil
}

func (p *processors) QueryRecords(ctx context.Context, endpoint string, filters map[string]any) ([]map[string]any, error) {
	entity, ok := models.EntityFor(endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownEntity, endpoint)
	}
	// JSON numbers decode as float64; integral values are re-typed so id
	// filters bind against integer columns.
	normalized := make(map[string]any, len(filters))
	for k, v := range filters {
		if f, isFloat := v.(float64); isFloat && f == math.Trunc(f) {
			normalized[k] = int64(f)
			continue
		}
		normalized[k] = v
	}
	return p.queries.Filter(ctx, entity, normalized)
}

func decodePayload(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return nil
}

// ============================================================================
// Ingest
// ============================================================================

func (p *processors) runDemographic(ctx context.Context, payload json.RawMessage, audit *BatchAudit, result *BatchResult) error {
	var body DemographicPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	metrics, err := p.ingestDemographics(ctx, body.Demographics, audit)
	result.Rows = len(body.Demographics)
	result.Errors = metrics.ErrorCount
	result.Ingest = metrics
	return err
}

// ingestDemographics runs the row loop of a demographic batch. A failed row
// is counted and its process left PENDING; the loop always moves on.
func (p *processors) ingestDemographics(ctx context.Context, records []IngestRecord, audit *BatchAudit) (*IngestMetrics, error) {
	// Slice fields start non-nil so an empty batch reports [] rather than null.
	metrics := &IngestMetrics{
		ErrorRows:       []int64{},
		ProcIDs:         []int64{},
		BulletinIDs:     []int64{},
		AffectedRecords: []AffectedRecord{},
	}

	for i, record := range records {
		row := int64(i + 1)
		stamp, err := audit.Stamp(ctx, row, record.ForeignRecordID)
		if err != nil {
			return metrics, err
		}
		if err := p.ingestRow(ctx, record, stamp, audit, metrics); err != nil {
			metrics.ErrorCount++
			metrics.ErrorRows = append(metrics.ErrorRows, row)
			p.logger.Error("ingest row failed",
				zap.Int64("batch_id", stamp.BatchID),
				zap.Int64("proc_id", stamp.ProcID),
				zap.Int64("row", row),
				zap.Error(err))
		}
	}
	return metrics, nil
}

func (p *processors) ingestRow(ctx context.Context, record IngestRecord, stamp *AuditStamp, audit *BatchAudit, metrics *IngestMetrics) error {
	d, err := p.stageDemographic(ctx, record, stamp)
	if err != nil {
		return err
	}
	metrics.RecordCount++

	if err := p.demographics.Insert(ctx, d); err != nil {
		// A replayed row skips without closing its process.
		if errors.Is(err, apperrors.ErrDuplicateRecord) {
			metrics.SkippedCount++
			return nil
		}
		return err
	}
	metrics.ProcIDs = append(metrics.ProcIDs, stamp.ProcID)
	metrics.PendingCount++
	metrics.AffectedRecords = append(metrics.AffectedRecords, AffectedRecord{
		BatchID:        stamp.BatchID,
		ProcID:         stamp.ProcID,
		RecordID:       d.RecordID,
		TransactionKey: stamp.TransactionKey,
	})

	for _, t := range record.Telecoms {
		etlID, err := p.ids.NextID(ctx, stamp.User)
		if err != nil {
			return err
		}
		telecom := &models.Telecom{
			ETLID:           etlID,
			RecordID:        d.RecordID,
			TelecomsType:    t.Type,
			TelecomsSubtype: t.Subtype,
			TelecomsValue:   t.Value,
			TransactionKey:  stamp.TransactionKey,
			TouchedBy:       stamp.User,
		}
		if err := p.telecoms.Insert(ctx, telecom); err != nil {
			return err
		}
		metrics.TelecomsCount++
	}

	if err := audit.SetRecordID(ctx, stamp.ProcID, d.RecordID); err != nil {
		return err
	}
	if err := audit.UpdateStatus(ctx, stamp.ProcID, models.ProcPosted); err != nil {
		return err
	}

	activation, err := p.activateRecord(ctx, d.RecordID, audit)
	if err != nil {
		return err
	}
	metrics.BulletinIDs = append(metrics.BulletinIDs, activation.BulletinIDs...)
	return nil
}

// stageDemographic validates one incoming row and derives its stored form.
// given_name, family_name, and a parseable YYYYMMDD name_day are required.
func (p *processors) stageDemographic(ctx context.Context, record IngestRecord, stamp *AuditStamp) (*models.Demographic, error) {
	if record.GivenName == "" {
		return nil, fmt.Errorf("%w: given_name", apperrors.ErrMissingField)
	}
	if record.FamilyName == "" {
		return nil, fmt.Errorf("%w: family_name", apperrors.ErrMissingField)
	}
	if record.NameDay == "" {
		return nil, fmt.Errorf("%w: name_day", apperrors.ErrMissingField)
	}
	nameDay, err := models.ParseNameDay(record.NameDay)
	if err != nil {
		return nil, fmt.Errorf("%w: name_day %q is not a date", apperrors.ErrValidation, record.NameDay)
	}

	recordID, err := p.ids.NextID(ctx, stamp.User)
	if err != nil {
		return nil, err
	}
	d := &models.Demographic{
		RecordID:             recordID,
		OrganizationKey:      record.OrganizationKey,
		SystemKey:            record.SystemKey,
		SystemID:             record.SystemID,
		GivenName:            record.GivenName,
		MiddleName:           record.MiddleName,
		FamilyName:           record.FamilyName,
		Gender:               record.Gender,
		NameDay:              nameDay,
		SocialSecurityNumber: record.SocialSecurityNumber,
		Address1:             record.Address1,
		Address2:             record.Address2,
		City:                 record.City,
		State:                record.State,
		PostalCode:           record.PostalCode,
		IsActive:             false,
		TransactionKey:       stamp.TransactionKey,
	}
	models.ApplyDerived(d, stamp.User, time.Now())
	return d, nil
}

// ============================================================================
// Record lifecycle
// ============================================================================

func (p *processors) runActivate(ctx context.Context, payload json.RawMessage, audit *BatchAudit) error {
	var body RecordPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	_, err := p.activateRecord(ctx, body.RecordID, audit)
	return err
}

// activateRecord wires a record into the graph: flip it active, revalidate
// any invalidated incident edges, compute its matches, and fold them in.
// Ingest calls this for every posted row; delete_action uses it to undo a
// deactivation.
func (p *processors) activateRecord(ctx context.Context, recordID int64, audit *BatchAudit) (*CursorResult, error) {
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return nil, err
	}
	if err := p.demographics.SetActive(ctx, recordID, true, stamp.User); err != nil {
		return nil, err
	}
	if err := audit.SetRecordID(ctx, stamp.ProcID, recordID); err != nil {
		return nil, err
	}
	if err := p.enterprise.RevalidateIncident(ctx, recordID, stamp.User); err != nil {
		return nil, err
	}

	record, err := p.demographics.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	matches, _, err := p.engine.ComputeAllMatches(ctx, record)
	if err != nil {
		return nil, err
	}
	cursorResult, err := p.cursor.Run(ctx, MatchTriples(matches), stamp)
	if err != nil {
		return nil, err
	}

	if err := audit.UpdateStatus(ctx, stamp.ProcID, models.ProcActivated); err != nil {
		return nil, err
	}
	etlID, err := p.ids.NextID(ctx, stamp.User)
	if err != nil {
		return nil, err
	}
	log := &models.DemographicActivation{
		ETLID:          etlID,
		RecordID:       recordID,
		TransactionKey: stamp.TransactionKey,
	}
	if err := p.actionLogs.InsertActivation(ctx, log); err != nil {
		return nil, err
	}
	return cursorResult, nil
}

func (p *processors) runDeactivate(ctx context.Context, payload json.RawMessage, audit *BatchAudit) error {
	var body RecordPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	return p.deactivateRecord(ctx, body.RecordID, audit)
}

// deactivateRecord unhooks a record. The component is walked before any
// mutation; afterwards every reachable record gets a fresh walk and cursor
// run so survivors settle around their own minima. Group rows are never
// written mid-removal, and the final sweep drops every invalidated edge.
func (p *processors) deactivateRecord(ctx context.Context, recordID int64, audit *BatchAudit) error {
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return err
	}
	walker := NewRecursor(p.enterprise, p.threshold)
	before, err := walker.Walk(ctx, recordID)
	if err != nil {
		return err
	}

	if err := p.demographics.SetActive(ctx, recordID, false, stamp.User); err != nil {
		return err
	}
	if err := p.enterprise.InvalidateIncident(ctx, recordID, stamp.User); err != nil {
		return err
	}
	if _, err := p.enterprise.DeleteGroupsFor(ctx, recordID); err != nil {
		return err
	}

	for _, member := range before.Visited {
		neighborhood, err := walker.Walk(ctx, member)
		if err != nil {
			return err
		}
		if _, err := p.cursor.RunUngrouped(ctx, neighborhood.Triples(), stamp); err != nil {
			return err
		}
	}

	if err := audit.SetRecordID(ctx, stamp.ProcID, recordID); err != nil {
		return err
	}
	if _, err := p.enterprise.DeleteInvalidEdges(ctx); err != nil {
		return err
	}
	if err := audit.UpdateStatus(ctx, stamp.ProcID, models.ProcDeactivated); err != nil {
		return err
	}

	etlID, err := p.ids.NextID(ctx, stamp.User)
	if err != nil {
		return err
	}
	log := &models.DemographicDeactivation{
		ETLID:          etlID,
		RecordID:       recordID,
		TransactionKey: stamp.TransactionKey,
	}
	return p.actionLogs.InsertDeactivation(ctx, log)
}

func (p *processors) runDelete(ctx context.Context, payload json.RawMessage, audit *BatchAudit) error {
	var body RecordPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	return p.deleteRecord(ctx, body.RecordID, audit)
}

// deleteRecord removes a record wholly: deactivate, snapshot, drop the row.
// The deactivation and the archive stamp their own process rows inside the
// same batch.
func (p *processors) deleteRecord(ctx context.Context, recordID int64, audit *BatchAudit) error {
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return err
	}
	if err := p.deactivateRecord(ctx, recordID, audit); err != nil {
		return err
	}
	if _, err := p.archiveRecord(ctx, recordID, audit); err != nil {
		return err
	}
	if err := p.demographics.Delete(ctx, recordID); err != nil {
		return err
	}
	if err := audit.SetRecordID(ctx, stamp.ProcID, recordID); err != nil {
		return err
	}
	if err := audit.UpdateStatus(ctx, stamp.ProcID, models.ProcDeleted); err != nil {
		return err
	}

	etlID, err := p.ids.NextID(ctx, stamp.User)
	if err != nil {
		return err
	}
	log := &models.DemographicDelete{
		ETLID:          etlID,
		RecordID:       recordID,
		TransactionKey: stamp.TransactionKey,
	}
	return p.actionLogs.InsertDelete(ctx, log)
}

// archiveRecord snapshots a record before destruction. The snapshot carries
// this transaction's key and keeps the source row's prior key in
// archive_transaction_key; no action log row is written, so undoing an
// archive starts from the snapshot itself.
func (p *processors) archiveRecord(ctx context.Context, recordID int64, audit *BatchAudit) (*models.DemographicArchive, error) {
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return nil, err
	}
	d, err := p.demographics.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	archive := models.ArchiveOf(d, stamp.TransactionKey, stamp.User)
	if err := p.demographics.InsertArchive(ctx, archive); err != nil {
		return nil, err
	}
	if err := audit.SetRecordID(ctx, stamp.ProcID, recordID); err != nil {
		return nil, err
	}
	if err := audit.UpdateStatus(ctx, stamp.ProcID, models.ProcArchived); err != nil {
		return nil, err
	}
	return archive, nil
}

// ============================================================================
// Match stewarding
// ============================================================================

func (p *processors) runMatch(ctx context.Context, payload json.RawMessage, audit *BatchAudit, affirm bool) error {
	var body PairPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	return p.adjustMatch(ctx, body.RecordIDLow, body.RecordIDHigh, affirm, audit)
}

// adjustMatch applies a steward's verdict to a pair: the edge must already
// exist, its weight moves by one, and both endpoints' components are
// recomputed under the new weight.
func (p *processors) adjustMatch(ctx context.Context, a, b int64, affirm bool, audit *BatchAudit) error {
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return err
	}
	low, high := a, b
	if low > high {
		low, high = high, low
	}

	delta := 1.0
	status := models.ProcAffirmed
	if !affirm {
		delta = -1.0
		status = models.ProcDenied
	}
	edge, err := p.enterprise.AdjustEdgeWeight(ctx, low, high, delta, stamp.User)
	if err != nil {
		return err
	}
	if err := audit.SetRecordID(ctx, stamp.ProcID, edge.ETLID); err != nil {
		return err
	}

	if err := p.recomputePair(ctx, low, high, stamp); err != nil {
		return err
	}
	if err := audit.UpdateStatus(ctx, stamp.ProcID, status); err != nil {
		return err
	}

	etlID, err := p.ids.NextID(ctx, stamp.User)
	if err != nil {
		return err
	}
	if !affirm {
		return p.actionLogs.InsertDenial(ctx, &models.MatchDenial{
			ETLID:          etlID,
			RecordIDLow:    low,
			RecordIDHigh:   high,
			TransactionKey: stamp.TransactionKey,
		})
	}
	return p.actionLogs.InsertAffirmation(ctx, &models.MatchAffirmation{
		ETLID:          etlID,
		RecordIDLow:    low,
		RecordIDHigh:   high,
		TransactionKey: stamp.TransactionKey,
	})
}

// recomputePair re-forms the components around both ends of a pair. Both
// visited sets are taken before any rewrite, then each record seen from
// either seed gets exactly one fresh walk and cursor run.
func (p *processors) recomputePair(ctx context.Context, low, high int64, stamp *AuditStamp) error {
	walker := NewRecursor(p.enterprise, p.threshold)
	fromLow, err := walker.Walk(ctx, low)
	if err != nil {
		return err
	}
	fromHigh, err := walker.Walk(ctx, high)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool)
	for _, visited := range [][]int64{fromLow.Visited, fromHigh.Visited} {
		for _, recordID := range visited {
			if seen[recordID] {
				continue
			}
			seen[recordID] = true
			neighborhood, err := walker.Walk(ctx, recordID)
			if err != nil {
				return err
			}
			if _, err := p.cursor.Run(ctx, neighborhood.Triples(), stamp); err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
// Undo
// ============================================================================

// Undoable actions named by a delete_action payload.
const (
	undoDelete     = "delete"
	undoArchive    = "archive"
	undoActivate   = "activate"
	undoDeactivate = "deactivate"
	undoAffirm     = "affirm"
	undoDeny       = "deny"
)

// runDeleteAction reverses a prior action. The target is addressed by the
// batch and process ids of the row that did the original work; its
// transaction key locates the action log (or archive snapshot) to invert.
func (p *processors) runDeleteAction(ctx context.Context, payload json.RawMessage, audit *BatchAudit, result *BatchResult) error {
	var body DeleteActionPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return err
	}
	selectKey := models.TransactionKey(body.BatchID, body.ProcID)

	switch body.Action {
	case undoDelete:
		deleted, err := p.actionLogs.GetDeleteByTransactionKey(ctx, selectKey)
		if err != nil {
			return fmt.Errorf("failed to find delete log for %s: %w", selectKey, err)
		}
		archive, err := p.demographics.GetArchive(ctx, deleted.RecordID)
		if err != nil {
			return fmt.Errorf("failed to find archive of record %d: %w", deleted.RecordID, err)
		}
		if err := p.restoreArchive(ctx, archive, audit, result); err != nil {
			return err
		}
		if err := audit.SetRecordID(ctx, stamp.ProcID, deleted.RecordID); err != nil {
			return err
		}
	case undoArchive:
		archive, err := p.demographics.GetArchiveByTransactionKey(ctx, selectKey)
		if err != nil {
			return fmt.Errorf("failed to find archive for %s: %w", selectKey, err)
		}
		if err := p.restoreArchive(ctx, archive, audit, result); err != nil {
			return err
		}
		if err := audit.SetRecordID(ctx, stamp.ProcID, archive.RecordID); err != nil {
			return err
		}
	case undoActivate:
		activation, err := p.actionLogs.GetActivationByTransactionKey(ctx, selectKey)
		if err != nil {
			return fmt.Errorf("failed to find activation log for %s: %w", selectKey, err)
		}
		if err := p.deactivateRecord(ctx, activation.RecordID, audit); err != nil {
			return err
		}
		if err := audit.SetRecordID(ctx, stamp.ProcID, activation.RecordID); err != nil {
			return err
		}
	case undoDeactivate:
		deactivation, err := p.actionLogs.GetDeactivationByTransactionKey(ctx, selectKey)
		if err != nil {
			return fmt.Errorf("failed to find deactivation log for %s: %w", selectKey, err)
		}
		if _, err := p.activateRecord(ctx, deactivation.RecordID, audit); err != nil {
			return err
		}
		if err := audit.SetRecordID(ctx, stamp.ProcID, deactivation.RecordID); err != nil {
			return err
		}
	case undoAffirm:
		affirmation, err := p.actionLogs.GetAffirmationByTransactionKey(ctx, selectKey)
		if err != nil {
			return fmt.Errorf("failed to find affirmation log for %s: %w", selectKey, err)
		}
		if err := p.adjustMatch(ctx, affirmation.RecordIDLow, affirmation.RecordIDHigh, false, audit); err != nil {
			return err
		}
		if err := p.recomputePair(ctx, affirmation.RecordIDLow, affirmation.RecordIDHigh, stamp); err != nil {
			return err
		}
	case undoDeny:
		denial, err := p.actionLogs.GetDenialByTransactionKey(ctx, selectKey)
		if err != nil {
			return fmt.Errorf("failed to find denial log for %s: %w", selectKey, err)
		}
		if err := p.adjustMatch(ctx, denial.RecordIDLow, denial.RecordIDHigh, true, audit); err != nil {
			return err
		}
		if err := p.recomputePair(ctx, denial.RecordIDLow, denial.RecordIDHigh, stamp); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: cannot undo action %q", apperrors.ErrValidation, body.Action)
	}

	if err := audit.UpdateStatus(ctx, stamp.ProcID, models.ProcDeletedFor(body.Action)); err != nil {
		return err
	}
	etlID, err := p.ids.NextID(ctx, stamp.User)
	if err != nil {
		return err
	}
	return p.actionLogs.InsertDeleteAction(ctx, &models.DeleteAction{
		ETLID:          etlID,
		BatchAction:    body.Action,
		ArchiveProcID:  body.ProcID,
		ArchiveBatchID: body.BatchID,
		TransactionKey: stamp.TransactionKey,
	})
}

// restoreArchive re-ingests a snapshot as a fresh record and drops the
// snapshot row. When the source row still exists the re-ingest lands as a
// duplicate skip, so restoring twice is harmless.
func (p *processors) restoreArchive(ctx context.Context, archive *models.DemographicArchive, audit *BatchAudit, result *BatchResult) error {
	metrics, err := p.ingestDemographics(ctx, []IngestRecord{ingestRecordOf(archive)}, audit)
	if result.Ingest == nil {
		result.Ingest = metrics
	}
	if err != nil {
		return err
	}
	if metrics.ErrorCount > 0 {
		return fmt.Errorf("failed to restore record %d from archive", archive.RecordID)
	}

	if len(metrics.AffectedRecords) == 1 {
		restored := metrics.AffectedRecords[0]
		if err := p.copyTelecoms(ctx, archive.RecordID, restored.RecordID, restored.TransactionKey, audit.User); err != nil {
			return err
		}
	}
	return p.demographics.DeleteArchive(ctx, archive.RecordID)
}

// ingestRecordOf turns a snapshot back into an ingest row. The archive keys
// are dropped; the re-ingest mints a fresh record_id and transaction key.
func ingestRecordOf(a *models.DemographicArchive) IngestRecord {
	return IngestRecord{
		OrganizationKey:      a.OrganizationKey,
		SystemKey:            a.SystemKey,
		SystemID:             a.SystemID,
		GivenName:            a.GivenName,
		MiddleName:           a.MiddleName,
		FamilyName:           a.FamilyName,
		Gender:               a.Gender,
		NameDay:              a.NameDay.Format(models.NameDayLayout),
		SocialSecurityNumber: a.SocialSecurityNumber,
		Address1:             a.Address1,
		Address2:             a.Address2,
		City:                 a.City,
		State:                a.State,
		PostalCode:           a.PostalCode,
	}
}

// copyTelecoms carries the telecom rows of a deleted record over to its
// restored successor.
func (p *processors) copyTelecoms(ctx context.Context, fromRecordID, toRecordID int64, transactionKey, user string) error {
	telecoms, err := p.telecoms.ListByRecord(ctx, fromRecordID)
	if err != nil {
		return err
	}
	for _, t := range telecoms {
		etlID, err := p.ids.NextID(ctx, user)
		if err != nil {
			return err
		}
		copied := &models.Telecom{
			ETLID:           etlID,
			RecordID:        toRecordID,
			TelecomsType:    t.TelecomsType,
			TelecomsSubtype: t.TelecomsSubtype,
			TelecomsValue:   t.TelecomsValue,
			TransactionKey:  transactionKey,
			TouchedBy:       user,
		}
		if err := p.telecoms.Insert(ctx, copied); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Crosswalks
// ============================================================================

func (p *processors) runAddCrosswalk(ctx context.Context, payload json.RawMessage, audit *BatchAudit) error {
	var body CrosswalkPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	if body.CrosswalkName == "" {
		return fmt.Errorf("%w: crosswalk_name", apperrors.ErrMissingField)
	}
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return err
	}
	crosswalkID, err := p.ids.NextID(ctx, stamp.User)
	if err != nil {
		return err
	}
	crosswalk := &models.Crosswalk{
		CrosswalkID:    crosswalkID,
		CrosswalkName:  body.CrosswalkName,
		KeyName:        body.KeyName,
		IsActive:       true,
		TransactionKey: stamp.TransactionKey,
		TouchedBy:      stamp.User,
	}
	if err := p.crosswalks.InsertCrosswalk(ctx, crosswalk); err != nil {
		return err
	}
	if err := audit.SetRecordID(ctx, stamp.ProcID, crosswalkID); err != nil {
		return err
	}
	return audit.UpdateStatus(ctx, stamp.ProcID, models.ProcPosted)
}

func (p *processors) runToggleCrosswalk(ctx context.Context, payload json.RawMessage, audit *BatchAudit, active bool) error {
	var body CrosswalkTogglePayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return err
	}
	if err := p.crosswalks.SetCrosswalkActive(ctx, body.CrosswalkID, active, stamp.User); err != nil {
		return err
	}
	if err := audit.SetRecordID(ctx, stamp.ProcID, body.CrosswalkID); err != nil {
		return err
	}
	return audit.UpdateStatus(ctx, stamp.ProcID, toggleStatus(active))
}

func (p *processors) runAddBind(ctx context.Context, payload json.RawMessage, audit *BatchAudit) error {
	var body CrosswalkBindPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	if _, err := p.crosswalks.GetCrosswalk(ctx, body.CrosswalkID); err != nil {
		return fmt.Errorf("failed to find crosswalk %d: %w", body.CrosswalkID, err)
	}
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return err
	}
	bindID, err := p.ids.NextID(ctx, stamp.User)
	if err != nil {
		return err
	}
	bind := &models.CrosswalkBind{
		BindID:         bindID,
		CrosswalkID:    body.CrosswalkID,
		BatchID:        body.BatchID,
		IsActive:       true,
		TransactionKey: stamp.TransactionKey,
		TouchedBy:      stamp.User,
	}
	if err := p.crosswalks.InsertBind(ctx, bind); err != nil {
		return err
	}
	if err := audit.SetRecordID(ctx, stamp.ProcID, bindID); err != nil {
		return err
	}
	return audit.UpdateStatus(ctx, stamp.ProcID, models.ProcPosted)
}

func (p *processors) runToggleBind(ctx context.Context, payload json.RawMessage, audit *BatchAudit, active bool) error {
	var body BindTogglePayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	stamp, err := audit.Stamp(ctx, 0, "")
	if err != nil {
		return err
	}
	if err := p.crosswalks.SetBindActive(ctx, body.BindID, active, stamp.User); err != nil {
		return err
	}
	if err := audit.SetRecordID(ctx, stamp.ProcID, body.BindID); err != nil {
		return err
	}
	return audit.UpdateStatus(ctx, stamp.ProcID, toggleStatus(active))
}

func toggleStatus(active bool) string {
	if active {
		return models.ProcActivated
	}
	return models.ProcDeactivated
}
