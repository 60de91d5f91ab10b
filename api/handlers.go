/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to attendance.Engine.

ENDPOINTS (all under /api/tenants/{tenantID}):
  Punches:
    POST   /punches                          Ingest a punch (sync path)
    POST   /devices/{deviceID}/webhook       Ingest a device webhook punch
    POST   /punches/{punchID}/correct        Manager punch correction
    POST   /attempts                         Record a capture attempt

  Reconciliation:
    GET    /sessions                         Reconciled sessions
    POST   /sweep?date=YYYY-MM-DD            Reconcile the tenant for a date

  Anomalies:
    GET    /anomalies                        List (date, from, to, employee, type,
                                             include_corrected)
    POST   /anomalies/{anomalyID}/correct    Annotate as justified

  Overtime:
    GET    /overtime                         List (from, to, employee, status)
    POST   /overtime/{id}/approve            Approve, optionally fewer hours
    POST   /overtime/{id}/reject             Reject

  Settings:
    GET    /settings                         Resolved tenant settings
    PUT    /settings                         Store the tenant settings document

VISIBILITY:
  The caller's visibility scope arrives pre-resolved in X-Visibility-Scope:
  "all" (or absent) or a comma-separated list of employee IDs. Queries are
  filtered by it and corrections outside it are 404.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found or outside the visibility scope
  - 409: Duplicate punch
  - 422: Punch stored as REJECTED (invariant violation)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/store/sqlite"
)

// ScopeHeader carries the caller's pre-resolved visibility scope.
const ScopeHeader = "X-Visibility-Scope"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store           *sqlite.Store
	Engine          *attendance.Engine
	Sweeper         *attendance.Sweeper
	SettingsFactory *factory.SettingsFactory

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the given store and engine.
func NewHandler(store *sqlite.Store, engine *attendance.Engine, sweeper *attendance.Sweeper) *Handler {
	return &Handler{
		Store:           store,
		Engine:          engine,
		Sweeper:         sweeper,
		SettingsFactory: factory.NewSettingsFactory(),
		validate:        validator.New(),
	}
}

// =============================================================================
// PUNCH ENDPOINTS
// =============================================================================

// IngestPunch stores a punch and reconciles the employee's window.
// POST /api/tenants/{tenantID}/punches
func (h *Handler) IngestPunch(w http.ResponseWriter, r *http.Request) {
	var req PunchRequest
	if !h.decode(w, r, &req) {
		return
	}

	method := attendance.CaptureMethod(req.Method)
	if method == "" {
		method = attendance.MethodManual
	}
	h.ingest(w, r, attendance.Punch{
		ID:         attendance.PunchID(req.ID),
		TenantID:   tenantID(r),
		EmployeeID: attendance.EmployeeID(req.EmployeeID),
		Timestamp:  req.Timestamp,
		Direction:  attendance.Direction(req.Direction),
		Method:     method,
		DeviceID:   req.DeviceID,
		SiteID:     req.SiteID,
	}, false)
}

// DeviceWebhook ingests a punch pushed by a terminal. A replayed event ID is
// answered with the stored punch instead of a conflict.
// POST /api/tenants/{tenantID}/devices/{deviceID}/webhook
func (h *Handler) DeviceWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if !h.decode(w, r, &req) {
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	p := attendance.Punch{
		TenantID:   tenantID(r),
		EmployeeID: attendance.EmployeeID(req.EmployeeID),
		Timestamp:  req.Timestamp,
		Direction:  attendance.Direction(req.Type),
		Method:     attendance.CaptureMethod(req.Method),
		DeviceID:   deviceID,
		RawPayload: string(req.RawData),
	}
	if p.Method == "" {
		p.Method = attendance.MethodWebhook
	}
	if req.EventID != "" {
		p.ID = attendance.PunchID(deviceID + ":" + req.EventID)
	}
	h.ingest(w, r, p, true)
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, p attendance.Punch, replayOK bool) {
	ctx := r.Context()
	res, err := h.Engine.IngestPunch(ctx, p)

	if replayOK && errors.Is(err, attendance.ErrDuplicatePunch) {
		stored, getErr := h.Engine.Store.GetPunch(ctx, p.TenantID, p.ID)
		if getErr != nil {
			writeEngineError(w, getErr)
			return
		}
		writeJSON(w, http.StatusOK, IngestResponse{
			Punch:     toPunchDTO(stored),
			Sessions:  []SessionDTO{},
			Anomalies: []AnomalyDTO{},
		})
		return
	}

	var invariant *attendance.InvariantError
	if errors.As(err, &invariant) {
		writeJSON(w, http.StatusUnprocessableEntity, IngestResponse{
			Punch:     toPunchDTO(res.Punch),
			Sessions:  []SessionDTO{},
			Anomalies: []AnomalyDTO{},
			Error:     &ErrorResponse{Error: invariant.Reason, Code: "PUNCH_REJECTED"},
		})
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		Punch:     toPunchDTO(res.Punch),
		Sessions:  toSessionDTOs(res.Sessions),
		Anomalies: toAnomalyDTOs(res.Anomalies),
		Overtime:  toOvertimePtr(res.Overtime),
	})
}

// CorrectPunch applies a manager correction and re-reconciles the day.
// POST /api/tenants/{tenantID}/punches/{punchID}/correct
func (h *Handler) CorrectPunch(w http.ResponseWriter, r *http.Request) {
	var req CorrectPunchRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Engine.CorrectPunch(r.Context(), tenantID(r), attendance.PunchID(chi.URLParam(r, "punchID")),
		req.CorrectedBy, req.Note, req.CorrectedTimestamp, scopeOf(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPunchDTO(p))
}

// RecordAttempt logs a capture attempt.
// POST /api/tenants/{tenantID}/attempts
func (h *Handler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	var req AttemptRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.Engine.RecordAttempt(r.Context(), attendance.CaptureAttempt{
		ID:           req.ID,
		TenantID:     tenantID(r),
		EmployeeID:   attendance.EmployeeID(req.EmployeeID),
		DeviceID:     req.DeviceID,
		Timestamp:    req.Timestamp,
		Status:       attendance.AttemptStatus(req.Status),
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AttemptDTO{ID: a.ID, Timestamp: a.Timestamp, Status: string(a.Status), ErrorCode: a.ErrorCode})
}

// =============================================================================
// QUERY ENDPOINTS
// =============================================================================

// ListSessions returns reconciled sessions.
// GET /api/tenants/{tenantID}/sessions?date=&from=&to=&employee=&state=
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	sessions, err := h.Engine.Sessions(r.Context(), tenantID(r), attendance.SessionFilter{
		EmployeeID: attendance.EmployeeID(q.Get("employee")),
		From:       from,
		To:         to,
		State:      attendance.SessionState(strings.ToUpper(q.Get("state"))),
		Scope:      scopeOf(r),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTOs(sessions))
}

// ListAnomalies returns anomalies.
// GET /api/tenants/{tenantID}/anomalies?date=&from=&to=&employee=&type=&include_corrected=
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	anomalyType := attendance.AnomalyType(strings.ToUpper(q.Get("type")))
	if anomalyType != "" && !anomalyType.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown anomaly type", nil)
		return
	}
	includeCorrected, _ := strconv.ParseBool(q.Get("include_corrected"))

	anomalies, err := h.Engine.Anomalies(r.Context(), tenantID(r), attendance.AnomalyFilter{
		EmployeeID:       attendance.EmployeeID(q.Get("employee")),
		From:             from,
		To:               to,
		Type:             anomalyType,
		IncludeCorrected: includeCorrected,
		Scope:            scopeOf(r),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnomalyDTOs(anomalies))
}

// CorrectAnomaly annotates an anomaly as justified. Anomalies are never deleted.
// POST /api/tenants/{tenantID}/anomalies/{anomalyID}/correct
func (h *Handler) CorrectAnomaly(w http.ResponseWriter, r *http.Request) {
	var req CorrectAnomalyRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.Engine.CorrectAnomaly(r.Context(), tenantID(r), attendance.AnomalyID(chi.URLParam(r, "anomalyID")),
		req.CorrectedBy, req.Note, scopeOf(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnomalyDTO(a))
}

// ListOvertime returns overtime records.
// GET /api/tenants/{tenantID}/overtime?from=&to=&employee=&status=
func (h *Handler) ListOvertime(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	records, err := h.Engine.Overtime(r.Context(), tenantID(r), attendance.OvertimeFilter{
		EmployeeID: attendance.EmployeeID(q.Get("employee")),
		From:       from,
		To:         to,
		Status:     attendance.OvertimeStatus(strings.ToUpper(q.Get("status"))),
		Scope:      scopeOf(r),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]OvertimeDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toOvertimeDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveOvertime approves a record, optionally crediting fewer hours.
// POST /api/tenants/{tenantID}/overtime/{id}/approve
func (h *Handler) ApproveOvertime(w http.ResponseWriter, r *http.Request) {
	var req OvertimeDecisionRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	h.setOvertimeStatus(w, r, attendance.OvertimeApproved, req.ApprovedHours)
}

// RejectOvertime rejects a record; it stops counting toward caps.
// POST /api/tenants/{tenantID}/overtime/{id}/reject
func (h *Handler) RejectOvertime(w http.ResponseWriter, r *http.Request) {
	h.setOvertimeStatus(w, r, attendance.OvertimeRejected, nil)
}

func (h *Handler) setOvertimeStatus(w http.ResponseWriter, r *http.Request, status attendance.OvertimeStatus, approved *decimal.Decimal) {
	id := attendance.OvertimeID(chi.URLParam(r, "id"))
	if err := h.Engine.SetOvertimeStatus(r.Context(), tenantID(r), id, status, approved); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "status": string(status)})
}

// =============================================================================
// SETTINGS & SWEEP ENDPOINTS
// =============================================================================

// GetSettings returns the tenant's resolved settings (defaults filled in).
// GET /api/tenants/{tenantID}/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Engine.Settings(r.Context(), tenantID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeSettings(w, settings)
}

// PutSettings stores the tenant settings document pushed by the
// configuration source.
// PUT /api/tenants/{tenantID}/settings
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	settings, err := h.Store.SaveSettingsJSON(r.Context(), tenantID(r), doc)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.writeSettings(w, settings)
}

func (h *Handler) writeSettings(w http.ResponseWriter, settings attendance.TenantSettings) {
	doc, err := h.SettingsFactory.ToJSON(settings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render settings", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// TriggerSweep reconciles the tenant for a work date (default: yesterday in
// the tenant's timezone). Per-employee failures are reported, not fatal.
// POST /api/tenants/{tenantID}/sweep?date=YYYY-MM-DD
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := tenantID(r)

	var date attendance.Date
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := attendance.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		date = d
	} else {
		settings, err := h.Engine.Settings(ctx, tenant)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		date = attendance.PreviousDay(h.Engine.Clock.Now(), settings)
	}

	report, err := h.Sweeper.SweepTenant(ctx, tenant, date)
	if err != nil && len(report.Failed) == 0 {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode parses and validates the JSON body; it writes a 400 and returns
// false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "VALIDATION", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func tenantID(r *http.Request) attendance.TenantID {
	return attendance.TenantID(chi.URLParam(r, "tenantID"))
}

// scopeOf reads the pre-resolved visibility scope header.
func scopeOf(r *http.Request) attendance.VisibilityScope {
	raw := strings.TrimSpace(r.Header.Get(ScopeHeader))
	if raw == "" || strings.EqualFold(raw, "all") {
		return attendance.ScopeAll()
	}
	var ids []attendance.EmployeeID
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, attendance.EmployeeID(id))
		}
	}
	return attendance.ScopeOf(ids...)
}

// dateRange reads ?date= (a single day) or ?from=&to=.
func dateRange(w http.ResponseWriter, r *http.Request) (attendance.Date, attendance.Date, bool) {
	q := r.URL.Query()
	parse := func(name string) (attendance.Date, bool) {
		raw := q.Get(name)
		if raw == "" {
			return attendance.Date{}, true
		}
		d, err := attendance.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), err)
			return attendance.Date{}, false
		}
		return d, true
	}

	if q.Get("date") != "" {
		d, ok := parse("date")
		return d, d, ok
	}
	from, ok := parse("from")
	if !ok {
		return from, from, false
	}
	to, ok := parse("to")
	return from, to, ok
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps attendance errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case attendance.IsInvariant(err):
		writeError(w, http.StatusUnprocessableEntity, "Punch rejected", err)
	case errors.Is(err, attendance.ErrDuplicatePunch):
		writeError(w, http.StatusConflict, "Duplicate punch", err)
	case attendance.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case attendance.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
