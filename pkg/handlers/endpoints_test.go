package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/apperrors"
	"github.com/empiworks/empi-engine/pkg/audit"
	"github.com/empiworks/empi-engine/pkg/auth"
	"github.com/empiworks/empi-engine/pkg/config"
	"github.com/empiworks/empi-engine/pkg/testhelpers"
)

type testEnvelope struct {
	Status   int             `json:"status"`
	Response json.RawMessage `json:"response"`
}

func newTestMux(auditor *mockAuditor, procs *mockProcessors, queue *mockQueue) *http.ServeMux {
	cfg := &config.Config{Version: "0.1.0"}
	h := NewEndpointsHandler(auditor, procs, queue, audit.NewSecurityAuditor(zap.NewNop()), cfg, zap.NewNop())

	mux := http.NewServeMux()
	h.RegisterRoutes(mux, nil)
	return mux
}

func doRequest(t *testing.T, mux *http.ServeMux, method, target, body string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var env testEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	return rec, env
}

func responseText(t *testing.T, env testEnvelope) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(env.Response, &s); err != nil {
		t.Fatalf("response is not a string: %s", env.Response)
	}
	return s
}

func TestDispatch_UnknownEndpoint(t *testing.T) {
	mux := newTestMux(&mockAuditor{}, &mockProcessors{}, &mockQueue{})

	rec, env := doRequest(t, mux, http.MethodGet, "/api_010/telephone", "")

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
	if env.Status != http.StatusMethodNotAllowed {
		t.Errorf("expected envelope status 405, got %d", env.Status)
	}
	if reason := responseText(t, env); !strings.Contains(reason, "unknown endpoint") {
		t.Errorf("expected unknown endpoint reason, got %q", reason)
	}
}

func TestDispatch_MethodRules(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		endpoint string
		reason   string
	}{
		{"POST on read-only endpoint", http.MethodPost, "batch", "does not accept POST"},
		{"POST on archive", http.MethodPost, "archive_demographic", "does not accept POST"},
		{"DELETE anywhere", http.MethodDelete, "demographic", "DELETE is not allowed"},
		{"PUT anywhere", http.MethodPut, "match_affirm", "PUT is not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &mockQueue{}
			mux := newTestMux(&mockAuditor{}, &mockProcessors{}, queue)

			rec, env := doRequest(t, mux, tt.method, "/api_010/"+tt.endpoint, `{"user":"x"}`)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status 405, got %d", rec.Code)
			}
			if reason := responseText(t, env); !strings.Contains(reason, tt.reason) {
				t.Errorf("expected reason containing %q, got %q", tt.reason, reason)
			}
			if len(queue.tasks) != 0 {
				t.Errorf("expected no enqueued tasks, got %d", len(queue.tasks))
			}
		})
	}
}

func TestGet_QueryParamFilters(t *testing.T) {
	procs := &mockProcessors{rows: []map[string]any{{"batch_id": int64(7), "batch_status": "PENDING"}}}
	mux := newTestMux(&mockAuditor{}, procs, &mockQueue{})

	rec, env := doRequest(t, mux, http.MethodGet, "/api_010/batch?batch_id=7", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if env.Status != http.StatusOK {
		t.Errorf("expected envelope status 200, got %d", env.Status)
	}
	if procs.gotTarget != "batch" {
		t.Errorf("expected target batch, got %q", procs.gotTarget)
	}
	if got := procs.gotFilters["batch_id"]; got != int64(7) {
		t.Errorf("expected batch_id coerced to int64(7), got %T %v", got, got)
	}

	var rows []map[string]any
	if err := json.Unmarshal(env.Response, &rows); err != nil {
		t.Fatalf("response is not a row list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["batch_status"] != "PENDING" {
		t.Errorf("unexpected row: %v", rows[0])
	}
}

func TestGet_BodyFiltersDropUser(t *testing.T) {
	procs := &mockProcessors{}
	mux := newTestMux(&mockAuditor{}, procs, &mockQueue{})

	rec, _ := doRequest(t, mux, http.MethodGet, "/api_010/demographic",
		`{"family_name": "WHITE", "user": "skyler"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if procs.gotFilters["family_name"] != "WHITE" {
		t.Errorf("expected family_name filter, got %v", procs.gotFilters)
	}
	if _, ok := procs.gotFilters["user"]; ok {
		t.Error("user key should not reach the query as a filter")
	}
}

func TestGet_BodyOverridesQueryParam(t *testing.T) {
	procs := &mockProcessors{}
	mux := newTestMux(&mockAuditor{}, procs, &mockQueue{})

	doRequest(t, mux, http.MethodGet, "/api_010/demographic?family_name=PINKMAN",
		`{"family_name": "WHITE"}`)

	if procs.gotFilters["family_name"] != "WHITE" {
		t.Errorf("expected body filter to win, got %v", procs.gotFilters["family_name"])
	}
}

func TestGet_MalformedBody(t *testing.T) {
	procs := &mockProcessors{}
	mux := newTestMux(&mockAuditor{}, procs, &mockQueue{})

	rec, env := doRequest(t, mux, http.MethodGet, "/api_010/batch", `{"batch_id": `)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
	if reason := responseText(t, env); !strings.Contains(reason, "not valid JSON") {
		t.Errorf("unexpected reason %q", reason)
	}
	if procs.gotTarget != "" {
		t.Error("query should not run on a malformed body")
	}
}

func TestGet_QueryRecords(t *testing.T) {
	procs := &mockProcessors{}
	mux := newTestMux(&mockAuditor{}, procs, &mockQueue{})

	rec, _ := doRequest(t, mux, http.MethodGet,
		"/api_010/query_records?endpoint=score_test&test_name=first_name_dl", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if procs.gotTarget != "score_test" {
		t.Errorf("expected target score_test, got %q", procs.gotTarget)
	}
	if _, ok := procs.gotFilters["endpoint"]; ok {
		t.Error("endpoint selector should not reach the query as a filter")
	}
	if procs.gotFilters["test_name"] != "first_name_dl" {
		t.Errorf("expected test_name filter, got %v", procs.gotFilters)
	}
}

func TestGet_QueryRecordsRequiresEndpoint(t *testing.T) {
	procs := &mockProcessors{}
	mux := newTestMux(&mockAuditor{}, procs, &mockQueue{})

	rec, env := doRequest(t, mux, http.MethodGet, "/api_010/query_records?record_id=5", "")

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
	if reason := responseText(t, env); !strings.Contains(reason, "endpoint filter") {
		t.Errorf("unexpected reason %q", reason)
	}
	if procs.gotTarget != "" {
		t.Error("query should not run without a target entity")
	}
}

func TestGet_InjectionScreen(t *testing.T) {
	procs := &mockProcessors{}
	mux := newTestMux(&mockAuditor{}, procs, &mockQueue{})

	rec, env := doRequest(t, mux, http.MethodGet, "/api_010/demographic",
		`{"family_name": "'; DROP TABLE empi_demographic--", "user": "prober"}`)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
	if reason := responseText(t, env); !strings.Contains(reason, "injection screen") {
		t.Errorf("unexpected reason %q", reason)
	}
	if procs.gotTarget != "" {
		t.Error("query should not run on a flagged filter")
	}
}

func TestGet_QueryErrors(t *testing.T) {
	tests := []struct {
		name       string
		queryErr   error
		wantCode   int
		wantReason string
	}{
		{"unknown entity", apperrors.ErrUnknownEntity, http.StatusMethodNotAllowed, "unknown entity"},
		{"bad filter field", apperrors.ErrBadFilterField, http.StatusMethodNotAllowed, "not queryable"},
		{"database failure", errors.New("connection refused"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			procs := &mockProcessors{queryErr: tt.queryErr}
			mux := newTestMux(&mockAuditor{}, procs, &mockQueue{})

			rec, env := doRequest(t, mux, http.MethodGet, "/api_010/telecom?record_id=9", "")

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if env.Status != tt.wantCode {
				t.Errorf("expected envelope status %d, got %d", tt.wantCode, env.Status)
			}
			if reason := responseText(t, env); !strings.Contains(reason, tt.wantReason) {
				t.Errorf("expected reason containing %q, got %q", tt.wantReason, reason)
			}
		})
	}
}

func TestPost_EnqueuesBatch(t *testing.T) {
	auditor := &mockAuditor{}
	queue := &mockQueue{}
	mux := newTestMux(auditor, &mockProcessors{}, queue)

	rec, env := doRequest(t, mux, http.MethodPost, "/api_010/match_affirm",
		`{"user": "jesse", "record_id_low": 12345, "record_id_high": 12346}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if env.Status != http.StatusOK {
		t.Errorf("expected envelope status 200, got %d", env.Status)
	}
	if auditor.gotAction != "match_affirm" || auditor.gotUser != "jesse" {
		t.Errorf("batch opened with action=%q user=%q", auditor.gotAction, auditor.gotUser)
	}

	var receipt BatchReceipt
	if err := json.Unmarshal(env.Response, &receipt); err != nil {
		t.Fatalf("response is not a receipt: %v", err)
	}
	if receipt.BatchKey == nil || *receipt.BatchKey != 42 {
		t.Errorf("expected batch_key 42, got %v", receipt.BatchKey)
	}
	if receipt.Status != http.StatusOK {
		t.Errorf("expected receipt status 200, got %d", receipt.Status)
	}

	if len(queue.tasks) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(queue.tasks))
	}
	task := queue.tasks[0]
	if !task.MutatesGraph() {
		t.Error("match_affirm should ride the graph lane")
	}
	if !strings.Contains(task.Name(), "match_affirm") {
		t.Errorf("unexpected task name %q", task.Name())
	}
}

func TestPost_CrosswalkRidesDataLane(t *testing.T) {
	queue := &mockQueue{}
	mux := newTestMux(&mockAuditor{}, &mockProcessors{}, queue)

	rec, _ := doRequest(t, mux, http.MethodPost, "/api_010/add_crosswalk",
		`{"user": "gus", "crosswalk_name": "pharma_mrn"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if len(queue.tasks) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(queue.tasks))
	}
	if queue.tasks[0].MutatesGraph() {
		t.Error("add_crosswalk should ride the data lane")
	}
}

func TestPost_MalformedJSON(t *testing.T) {
	queue := &mockQueue{}
	mux := newTestMux(&mockAuditor{}, &mockProcessors{}, queue)

	rec, env := doRequest(t, mux, http.MethodPost, "/api_010/demographic", `{"user": `)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
	if reason := responseText(t, env); !strings.Contains(reason, "not valid JSON") {
		t.Errorf("unexpected reason %q", reason)
	}
	if len(queue.tasks) != 0 {
		t.Error("nothing should be enqueued for a malformed body")
	}
}

func TestPost_ValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		body     string
		reason   string
	}{
		{"missing user", "match_affirm", `{"record_id_low": 1, "record_id_high": 2}`, "user is required"},
		{"missing pair half", "match_affirm", `{"user": "x", "record_id_low": 1}`, "record_id_high is required"},
		{"missing demographics", "demographic", `{"user": "x"}`, "demographics is required"},
		{"missing record_id", "delete_demographic", `{"user": "x"}`, "record_id is required"},
		{"missing crosswalk_name", "add_crosswalk", `{"user": "x"}`, "crosswalk_name is required"},
		{"missing bind_id", "activate_crosswalk_bind", `{"user": "x"}`, "bind_id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &mockQueue{}
			mux := newTestMux(&mockAuditor{}, &mockProcessors{}, queue)

			rec, env := doRequest(t, mux, http.MethodPost, "/api_010/"+tt.endpoint, tt.body)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status 405, got %d", rec.Code)
			}
			if reason := responseText(t, env); reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, reason)
			}
			if len(queue.tasks) != 0 {
				t.Error("nothing should be enqueued for an invalid payload")
			}
		})
	}
}

func TestPost_BatchRegistrationFails(t *testing.T) {
	auditor := &mockAuditor{err: errors.New("id source unavailable")}
	queue := &mockQueue{}
	mux := newTestMux(auditor, &mockProcessors{}, queue)

	rec, env := doRequest(t, mux, http.MethodPost, "/api_010/deactivate_demographic",
		`{"user": "mike", "record_id": 12347}`)

	// The envelope stays 200; the null key and inner 405 carry the failure.
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if env.Status != http.StatusOK {
		t.Errorf("expected envelope status 200, got %d", env.Status)
	}

	var receipt BatchReceipt
	if err := json.Unmarshal(env.Response, &receipt); err != nil {
		t.Fatalf("response is not a receipt: %v", err)
	}
	if receipt.BatchKey != nil {
		t.Errorf("expected null batch_key, got %v", *receipt.BatchKey)
	}
	if receipt.Status != http.StatusMethodNotAllowed {
		t.Errorf("expected receipt status 405, got %d", receipt.Status)
	}
	if len(queue.tasks) != 0 {
		t.Error("nothing should be enqueued when the batch fails to open")
	}
}

func TestCoerceScalar(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"12345", int64(12345)},
		{"0", int64(0)},
		{"1", int64(1)},
		{"-7", int64(-7)},
		{"21.5", 21.5},
		{"true", true},
		{"false", false},
		{"PENDING", "PENDING"},
		{"1962-10-31", "1962-10-31"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := coerceScalar(tt.in); got != tt.want {
			t.Errorf("coerceScalar(%q) = %T %v, want %T %v", tt.in, got, got, tt.want, tt.want)
		}
	}
}

func TestRegisterRoutes_Guarded(t *testing.T) {
	cfg := &config.Config{Version: "0.1.0"}
	cfg.Auth.Secret = "test-secret"
	h := NewEndpointsHandler(&mockAuditor{}, &mockProcessors{}, &mockQueue{},
		audit.NewSecurityAuditor(zap.NewNop()), cfg, zap.NewNop())

	verifier := auth.NewHMACVerifier(cfg.Auth.Secret)
	guard := auth.NewMiddleware(auth.NewAuthService(verifier, zap.NewNop()))

	mux := http.NewServeMux()
	h.RegisterRoutes(mux, guard)

	req := httptest.NewRequest(http.MethodGet, "/api_010/batch", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	token, err := testhelpers.BearerTestToken(cfg.Auth.Secret, "registrar")
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api_010/batch", nil)
	req.Header.Set("Authorization", token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d: %s", rec.Code, rec.Body.String())
	}
}
