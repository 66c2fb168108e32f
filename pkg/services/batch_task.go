package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/empiworks/empi-engine/pkg/services/workqueue"
)

// graphActions marks the batch actions that rewrite shared match and group
// rows. These ride the queue's graph lane; crosswalk registry actions touch
// only their own rows and ride the data lane.
var graphActions = map[string]bool{
	ActionDemographic:           true,
	ActionActivateDemographic:   true,
	ActionDeactivateDemographic: true,
	ActionDeleteDemographic:     true,
	ActionDeleteAction:          true,
	ActionMatchAffirm:           true,
	ActionMatchDeny:             true,
}

// BatchTask runs one batch through its processor on a queue worker. The
// handler opens the batch and returns its key immediately; the task owns the
// rest of the batch's life, including sealing the audit trail.
type BatchTask struct {
	workqueue.BaseTask
	action  string
	payload json.RawMessage
	audit   *BatchAudit
	procs   Processors
}

// NewBatchTask wraps an already-opened batch as a queue task.
func NewBatchTask(action string, payload json.RawMessage, audit *BatchAudit, procs Processors) *BatchTask {
	return &BatchTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("%s batch %d", action, audit.BatchID), graphActions[action]),
		action:   action,
		payload:  payload,
		audit:    audit,
		procs:    procs,
	}
}

// Execute implements workqueue.Task.
// Runs the batch and seals its audit trail. A retried attempt replays
// safely: every mutation carries its transaction key and duplicate
// demographic submissions are skipped by hash.
func (t *BatchTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	_, err := t.procs.Run(ctx, t.action, t.payload, t.audit)
	t.audit.Close(ctx, err)
	return err
}
