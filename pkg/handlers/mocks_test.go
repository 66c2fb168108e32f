package handlers

import (
	"context"
	"encoding/json"

	"github.com/empiworks/empi-engine/pkg/services"
	"github.com/empiworks/empi-engine/pkg/services/workqueue"
)

// mockAuditor is a configurable Auditor for handler tests.
type mockAuditor struct {
	err       error
	gotAction string
	gotUser   string
}

func (m *mockAuditor) Begin(ctx context.Context, action, user string) (*services.BatchAudit, error) {
	m.gotAction = action
	m.gotUser = user
	if m.err != nil {
		return nil, m.err
	}
	return &services.BatchAudit{BatchID: 42, Action: action, User: user}, nil
}

// mockProcessors is a configurable Processors for handler tests. Run is
// never reached by handler tests; the queue mock swallows the task.
type mockProcessors struct {
	rows       []map[string]any
	queryErr   error
	gotTarget  string
	gotFilters map[string]any
}

func (m *mockProcessors) Run(ctx context.Context, action string, payload json.RawMessage, audit *services.BatchAudit) (*services.BatchResult, error) {
	return nil, nil
}

func (m *mockProcessors) QueryRecords(ctx context.Context, endpoint string, filters map[string]any) ([]map[string]any, error) {
	m.gotTarget = endpoint
	m.gotFilters = filters
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.rows, nil
}

// mockQueue records enqueued tasks without running them.
type mockQueue struct {
	tasks []workqueue.Task
}

func (m *mockQueue) Enqueue(task workqueue.Task) {
	m.tasks = append(m.tasks, task)
}
