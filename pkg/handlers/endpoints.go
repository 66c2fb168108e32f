package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/apperrors"
	"github.com/empiworks/empi-engine/pkg/audit"
	"github.com/empiworks/empi-engine/pkg/auth"
	"github.com/empiworks/empi-engine/pkg/config"
	"github.com/empiworks/empi-engine/pkg/services"
	"github.com/empiworks/empi-engine/pkg/services/workqueue"
	"github.com/empiworks/empi-engine/pkg/sql"
)

// BatchReceipt is the body of a successful POST: the minted batch key and
// the dispatch status. BatchKey is null when batch registration failed.
type BatchReceipt struct {
	BatchKey *int64 `json:"batch_key"`
	Status   int    `json:"status"`
}

// coupling ties an endpoint to its write action. Endpoints with an empty
// action are read-only. payload builds the typed struct the action's body
// decodes into.
type coupling struct {
	action  string
	payload func() any
}

// couplings routes every endpoint. GET queries the entity registry under the
// endpoint's own name; query_records takes the target entity as a filter.
var couplings = map[string]coupling{
	services.ActionDemographic:             {services.ActionDemographic, func() any { return &services.DemographicPayload{} }},
	services.ActionActivateDemographic:     {services.ActionActivateDemographic, func() any { return &services.RecordPayload{} }},
	services.ActionDeactivateDemographic:   {services.ActionDeactivateDemographic, func() any { return &services.RecordPayload{} }},
	services.ActionDeleteDemographic:       {services.ActionDeleteDemographic, func() any { return &services.RecordPayload{} }},
	services.ActionDeleteAction:            {services.ActionDeleteAction, func() any { return &services.DeleteActionPayload{} }},
	services.ActionMatchAffirm:             {services.ActionMatchAffirm, func() any { return &services.PairPayload{} }},
	services.ActionMatchDeny:               {services.ActionMatchDeny, func() any { return &services.PairPayload{} }},
	services.ActionAddCrosswalk:            {services.ActionAddCrosswalk, func() any { return &services.CrosswalkPayload{} }},
	services.ActionActivateCrosswalk:       {services.ActionActivateCrosswalk, func() any { return &services.CrosswalkTogglePayload{} }},
	services.ActionDeactivateCrosswalk:     {services.ActionDeactivateCrosswalk, func() any { return &services.CrosswalkTogglePayload{} }},
	services.ActionAddCrosswalkBind:        {services.ActionAddCrosswalkBind, func() any { return &services.CrosswalkBindPayload{} }},
	services.ActionActivateCrosswalkBind:   {services.ActionActivateCrosswalkBind, func() any { return &services.BindTogglePayload{} }},
	services.ActionDeactivateCrosswalkBind: {services.ActionDeactivateCrosswalkBind, func() any { return &services.BindTogglePayload{} }},

	"archive_demographic": {},
	"telecom":             {},
	"enterprise_match":    {},
	"enterprise_group":    {},
	"batch":               {},
	"process":             {},
	"bulletin":            {},
	"etl_id_source":       {},
	"query_records":       {},
}

// EndpointsHandler serves the versioned API. GET runs a filtered read
// against the entity registry; POST registers a batch, enqueues it, and
// answers with the batch key while the work runs.
type EndpointsHandler struct {
	auditor  services.Auditor
	procs    services.Processors
	queue    workqueue.TaskEnqueuer
	security *audit.SecurityAuditor
	cfg      *config.Config
	validate *validator.Validate
	logger   *zap.Logger
}

// NewEndpointsHandler creates a new endpoints handler.
func NewEndpointsHandler(
	auditor services.Auditor,
	procs services.Processors,
	queue workqueue.TaskEnqueuer,
	security *audit.SecurityAuditor,
	cfg *config.Config,
	logger *zap.Logger,
) *EndpointsHandler {
	return &EndpointsHandler{
		auditor:  auditor,
		procs:    procs,
		queue:    queue,
		security: security,
		cfg:      cfg,
		validate: newValidator(),
		logger:   logger,
	}
}

// newValidator builds the payload validator with json tag names so rejection
// reasons name the wire field, not the Go field.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RegisterRoutes registers the versioned endpoint route on the given mux.
// When guard is non-nil every request must carry a valid bearer token.
func (h *EndpointsHandler) RegisterRoutes(mux *http.ServeMux, guard *auth.Middleware) {
	route := h.Dispatch
	if guard != nil {
		route = guard.RequireAuth(h.Dispatch)
	}
	mux.HandleFunc(h.cfg.APIPrefix()+"/{endpoint}", route)
}

// Dispatch resolves the endpoint and method. Anything unservable is answered
// with a 405 envelope; the API does not range over the wider 4xx codes.
func (h *EndpointsHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	c, ok := couplings[endpoint]
	if !ok {
		h.reject(w, fmt.Sprintf("unknown endpoint %q", endpoint))
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, endpoint)
	case http.MethodPost:
		if c.action == "" {
			h.reject(w, endpoint+" does not accept POST")
			return
		}
		h.post(w, r, c)
	default:
		h.reject(w, r.Method+" is not allowed")
	}
}

// get runs a filtered read. Filters come from query parameters with a JSON
// body overlay; the caller name travels under "user" and is not a filter.
func (h *EndpointsHandler) get(w http.ResponseWriter, r *http.Request, endpoint string) {
	filters, err := readFilters(r)
	if err != nil {
		h.reject(w, "request body is not valid JSON")
		return
	}

	user, _ := filters["user"].(string)
	delete(filters, "user")

	target := endpoint
	if endpoint == "query_records" {
		name, _ := filters["endpoint"].(string)
		if name == "" {
			h.reject(w, "query_records requires an endpoint filter")
			return
		}
		delete(filters, "endpoint")
		target = name
	}

	if suspects := sql.ScreenFilters(filters); len(suspects) > 0 {
		for _, s := range suspects {
			h.security.LogSuspectFilter(endpoint, user, r.RemoteAddr, audit.SuspectFilterDetails{
				Field:       s.Field,
				Value:       fmt.Sprintf("%v", s.Value),
				Fingerprint: s.Fingerprint,
			})
		}
		h.reject(w, "filters failed the injection screen")
		return
	}

	rows, err := h.procs.QueryRecords(r.Context(), target, filters)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnknownEntity) || errors.Is(err, apperrors.ErrBadFilterField) {
			h.reject(w, err.Error())
			return
		}
		h.logger.Error("Record query failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		if err := WriteJSON(w, http.StatusInternalServerError, Envelope{
			Status:   http.StatusInternalServerError,
			Response: "internal error",
		}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteOK(w, rows); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// post validates the payload, registers the batch, and enqueues it. The
// receipt goes back immediately; the batch runs on the queue.
func (h *EndpointsHandler) post(w http.ResponseWriter, r *http.Request, c coupling) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.reject(w, "failed to read request body")
		return
	}

	var caller struct {
		User string `json:"user"`
	}
	_ = json.Unmarshal(body, &caller)

	target := c.payload()
	if err := json.Unmarshal(body, target); err != nil {
		reason := "request body is not valid JSON"
		if json.Valid(body) {
			reason = fmt.Sprintf("payload does not match %s: %s", c.action, err)
		}
		h.security.LogRejectedPayload(c.action, caller.User, r.RemoteAddr, reason)
		h.reject(w, reason)
		return
	}

	if err := h.validate.Struct(target); err != nil {
		reason := validationReason(err)
		h.security.LogRejectedPayload(c.action, caller.User, r.RemoteAddr, reason)
		h.reject(w, reason)
		return
	}

	batch, err := h.auditor.Begin(r.Context(), c.action, caller.User)
	if err != nil {
		h.logger.Error("Batch registration failed",
			zap.String("action", c.action),
			zap.Error(err))
		// The envelope still answers 200; the null batch key and inner 405
		// tell the caller no batch was minted.
		if err := WriteOK(w, BatchReceipt{Status: http.StatusMethodNotAllowed}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	h.queue.Enqueue(services.NewBatchTask(c.action, body, batch, h.procs))

	key := batch.BatchID
	if err := WriteOK(w, BatchReceipt{BatchKey: &key, Status: http.StatusOK}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *EndpointsHandler) reject(w http.ResponseWriter, reason string) {
	if err := WriteReject(w, reason); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// validationReason flattens a validator error to the first failing field.
func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		if f.Tag() == "required" {
			return f.Field() + " is required"
		}
		return f.Field() + " is invalid"
	}
	return "payload failed validation"
}

// readFilters merges query parameters with an optional JSON body. Body keys
// win. Query values arrive as strings and are coerced to the JSON types the
// registry columns bind against.
func readFilters(r *http.Request) (map[string]any, error) {
	filters := make(map[string]any)

	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		filters[key] = coerceScalar(values[0])
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		overlay := make(map[string]any)
		if err := json.Unmarshal(body, &overlay); err != nil {
			return nil, err
		}
		for key, value := range overlay {
			filters[key] = value
		}
	}

	return filters, nil
}

// coerceScalar types a query-string value. Integers parse first so numeric
// ids do not land as floats; booleans parse after numbers so "1" stays
// numeric.
func coerceScalar(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
