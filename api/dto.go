/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the attendance domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Punches:    PunchRequest, WebhookRequest, CorrectPunchRequest, PunchDTO
  Attempts:   AttemptRequest, AttemptDTO
  Sessions:   SessionDTO
  Anomalies:  AnomalyDTO, CorrectAnomalyRequest
  Overtime:   OvertimeDTO, OvertimeDecisionRequest
  Sweeps:     DayReportDTO, TenantReportDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags and are checked by
  Handler.decode before reaching the engine. Domain rules (clock skew,
  out-before-in) stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PunchRequest is a punch pushed by a terminal or integration.
type PunchRequest struct {
	ID         string    `json:"id,omitempty" validate:"omitempty,max=128"`
	EmployeeID string    `json:"employee_id" validate:"required"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	Direction  string    `json:"direction" validate:"required,oneof=IN OUT BREAK"`
	Method     string    `json:"method" validate:"omitempty,oneof=BIOMETRIC RFID MANUAL WEBHOOK PIN"`
	DeviceID   string    `json:"device_id,omitempty"`
	SiteID     string    `json:"site_id,omitempty"`
}

// WebhookRequest is the payload a device posts to its webhook URL.
type WebhookRequest struct {
	EventID    string          `json:"event_id,omitempty" validate:"omitempty,max=128"`
	EmployeeID string          `json:"employee_id" validate:"required"`
	Type       string          `json:"type" validate:"required,oneof=IN OUT BREAK"`
	Method     string          `json:"method" validate:"omitempty,oneof=BIOMETRIC RFID MANUAL WEBHOOK PIN"`
	Timestamp  time.Time       `json:"timestamp" validate:"required"`
	RawData    json.RawMessage `json:"raw_data,omitempty"`
}

// AttemptRequest records one capture attempt, successful or not.
type AttemptRequest struct {
	ID           string    `json:"id,omitempty"`
	EmployeeID   string    `json:"employee_id" validate:"required"`
	DeviceID     string    `json:"device_id,omitempty"`
	Timestamp    time.Time `json:"timestamp" validate:"required"`
	Status       string    `json:"status" validate:"required,oneof=SUCCESS FAILED"`
	ErrorCode    string    `json:"error_code,omitempty" validate:"required_if=Status FAILED"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// CorrectPunchRequest fixes a punch. A nil CorrectedTimestamp only re-accepts
// a rejected punch.
type CorrectPunchRequest struct {
	CorrectedBy        string     `json:"corrected_by" validate:"required"`
	Note               string     `json:"note" validate:"required"`
	CorrectedTimestamp *time.Time `json:"corrected_timestamp,omitempty"`
}

// CorrectAnomalyRequest annotates an anomaly as justified.
type CorrectAnomalyRequest struct {
	CorrectedBy string `json:"corrected_by" validate:"required"`
	Note        string `json:"note" validate:"required"`
}

// OvertimeDecisionRequest approves or rejects an overtime record. Approval
// may credit fewer hours than computed.
type OvertimeDecisionRequest struct {
	ApprovedHours *decimal.Decimal `json:"approved_hours,omitempty"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PunchDTO represents a stored punch.
type PunchDTO struct {
	ID                 string     `json:"id"`
	EmployeeID         string     `json:"employee_id"`
	Timestamp          time.Time  `json:"timestamp"`
	EffectiveTimestamp time.Time  `json:"effective_timestamp"`
	Direction          string     `json:"direction"`
	Method             string     `json:"method"`
	DeviceID           string     `json:"device_id,omitempty"`
	SiteID             string     `json:"site_id,omitempty"`
	Status             string     `json:"status"`
	RejectReason       string     `json:"reject_reason,omitempty"`
	HasAnomaly         bool       `json:"has_anomaly"`
	AnomalyType        string     `json:"anomaly_type,omitempty"`
	AnomalyNote        string     `json:"anomaly_note,omitempty"`
	IsCorrected        bool       `json:"is_corrected"`
	CorrectedBy        string     `json:"corrected_by,omitempty"`
	CorrectedAt        *time.Time `json:"corrected_at,omitempty"`
}

// AttemptDTO represents a stored capture attempt.
type AttemptDTO struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	ErrorCode string    `json:"error_code,omitempty"`
}

// ShiftWindowDTO is the resolved schedule of a session.
type ShiftWindowDTO struct {
	Date           attendance.Date `json:"date"`
	StartTime      string          `json:"start_time"`
	EndTime        string          `json:"end_time"`
	BreakMinutes   int             `json:"break_minutes"`
	IsNightShift   bool            `json:"is_night_shift"`
	Source         string          `json:"source"`
	ScheduledStart time.Time       `json:"scheduled_start"`
	ScheduledEnd   time.Time       `json:"scheduled_end"`
}

// SessionDTO represents a reconciled session.
type SessionDTO struct {
	ID                string          `json:"id"`
	EmployeeID        string          `json:"employee_id"`
	Date              attendance.Date `json:"date"`
	State             string          `json:"state"`
	OpenPunchID       string          `json:"open_punch_id,omitempty"`
	OpenedAt          *time.Time      `json:"opened_at,omitempty"`
	ClosePunchID      string          `json:"close_punch_id,omitempty"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	Window            *ShiftWindowDTO `json:"window,omitempty"`
	DetectionDeadline time.Time       `json:"detection_deadline"`
	WorkedMinutes     int             `json:"worked_minutes"`
	LateMinutes       int             `json:"late_minutes"`
	EarlyLeaveMinutes int             `json:"early_leave_minutes"`
	OvertimeMinutes   int             `json:"overtime_minutes"`
}

// AnomalyDTO represents a classified anomaly.
type AnomalyDTO struct {
	ID                string          `json:"id"`
	EmployeeID        string          `json:"employee_id"`
	Date              attendance.Date `json:"date"`
	Type              string          `json:"type"`
	Severity          string          `json:"severity"`
	SessionID         string          `json:"session_id,omitempty"`
	PunchID           string          `json:"punch_id,omitempty"`
	LateMinutes       int             `json:"late_minutes,omitempty"`
	EarlyLeaveMinutes int             `json:"early_leave_minutes,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	DetectedAt        time.Time       `json:"detected_at"`
	IsCorrected       bool            `json:"is_corrected"`
	CorrectedBy       string          `json:"corrected_by,omitempty"`
	CorrectedAt       *time.Time      `json:"corrected_at,omitempty"`
	CorrectionNote    string          `json:"correction_note,omitempty"`
}

// OvertimeDTO represents a credited overtime record.
type OvertimeDTO struct {
	ID              string           `json:"id"`
	EmployeeID      string           `json:"employee_id"`
	Date            attendance.Date  `json:"date"`
	Hours           decimal.Decimal  `json:"hours"`
	Type            string           `json:"type"`
	Rate            decimal.Decimal  `json:"rate"`
	Status          string           `json:"status"`
	ApprovedHours   *decimal.Decimal `json:"approved_hours,omitempty"`
	SourceSessionID string           `json:"source_session_id,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// IngestResponse is returned by punch ingestion.
type IngestResponse struct {
	Punch     PunchDTO       `json:"punch"`
	Sessions  []SessionDTO   `json:"sessions"`
	Anomalies []AnomalyDTO   `json:"anomalies"`
	Overtime  *OvertimeDTO   `json:"overtime,omitempty"`
	Error     *ErrorResponse `json:"error,omitempty"`
}

// DayReportDTO summarizes one reconciled employee-day.
type DayReportDTO struct {
	EmployeeID   string          `json:"employee_id"`
	Date         attendance.Date `json:"date"`
	Sessions     int             `json:"sessions"`
	Anomalies    []AnomalyDTO    `json:"anomalies"`
	Suppressed   []string        `json:"suppressed,omitempty"`
	Overtime     *OvertimeDTO    `json:"overtime,omitempty"`
	OvertimeSkip string          `json:"overtime_skip,omitempty"`
	Notified     int             `json:"notified"`
	NotifyFailed int             `json:"notify_failed"`
}

// TenantReportDTO summarizes a tenant sweep.
type TenantReportDTO struct {
	TenantID  string            `json:"tenant_id"`
	Date      attendance.Date   `json:"date"`
	Employees int               `json:"employees"`
	Anomalies int               `json:"anomalies_created"`
	Days      []DayReportDTO    `json:"days"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toPunchDTO(p attendance.Punch) PunchDTO {
	return PunchDTO{
		ID:                 string(p.ID),
		EmployeeID:         string(p.EmployeeID),
		Timestamp:          p.Timestamp,
		EffectiveTimestamp: p.EffectiveTime(),
		Direction:          string(p.Direction),
		Method:             string(p.Method),
		DeviceID:           p.DeviceID,
		SiteID:             p.SiteID,
		Status:             string(p.Status),
		RejectReason:       p.RejectReason,
		HasAnomaly:         p.HasAnomaly,
		AnomalyType:        string(p.AnomalyType),
		AnomalyNote:        p.AnomalyNote,
		IsCorrected:        p.IsCorrected,
		CorrectedBy:        p.CorrectedBy,
		CorrectedAt:        p.CorrectedAt,
	}
}

func toSessionDTO(s attendance.Session) SessionDTO {
	dto := SessionDTO{
		ID:                string(s.ID),
		EmployeeID:        string(s.EmployeeID),
		Date:              s.Date,
		State:             string(s.State),
		OpenPunchID:       string(s.OpenPunchID),
		OpenedAt:          s.OpenedAt,
		ClosePunchID:      string(s.ClosePunchID),
		ClosedAt:          s.ClosedAt,
		DetectionDeadline: s.DetectionDeadline,
		WorkedMinutes:     s.WorkedMinutes,
		LateMinutes:       s.LateMinutes,
		EarlyLeaveMinutes: s.EarlyLeaveMinutes,
		OvertimeMinutes:   s.OvertimeMinutes,
	}
	if w := s.Window; w != nil {
		dto.Window = &ShiftWindowDTO{
			Date:           w.Date,
			StartTime:      w.StartTime.String(),
			EndTime:        w.EndTime.String(),
			BreakMinutes:   w.BreakDurationMinutes,
			IsNightShift:   w.IsNightShift,
			Source:         string(w.Source),
			ScheduledStart: w.ScheduledStart(),
			ScheduledEnd:   w.ScheduledEnd(),
		}
	}
	return dto
}

func toSessionDTOs(sessions []attendance.Session) []SessionDTO {
	out := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionDTO(s))
	}
	return out
}

func toAnomalyDTO(a attendance.Anomaly) AnomalyDTO {
	return AnomalyDTO{
		ID:                string(a.ID),
		EmployeeID:        string(a.EmployeeID),
		Date:              a.Date,
		Type:              string(a.Type),
		Severity:          string(a.Severity),
		SessionID:         string(a.SessionID),
		PunchID:           string(a.PunchID),
		LateMinutes:       a.LateMinutes,
		EarlyLeaveMinutes: a.EarlyLeaveMinutes,
		Reason:            a.Reason,
		DetectedAt:        a.DetectedAt,
		IsCorrected:       a.IsCorrected,
		CorrectedBy:       a.CorrectedBy,
		CorrectedAt:       a.CorrectedAt,
		CorrectionNote:    a.CorrectionNote,
	}
}

func toAnomalyDTOs(anomalies []attendance.Anomaly) []AnomalyDTO {
	out := make([]AnomalyDTO, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, toAnomalyDTO(a))
	}
	return out
}

func toOvertimeDTO(r attendance.OvertimeRecord) OvertimeDTO {
	return OvertimeDTO{
		ID:              string(r.ID),
		EmployeeID:      string(r.EmployeeID),
		Date:            r.Date,
		Hours:           r.Hours,
		Type:            string(r.Type),
		Rate:            r.Rate,
		Status:          string(r.Status),
		ApprovedHours:   r.ApprovedHours,
		SourceSessionID: string(r.SourceSessionID),
		Notes:           r.Notes,
		CreatedAt:       r.CreatedAt,
	}
}

func toOvertimePtr(r *attendance.OvertimeRecord) *OvertimeDTO {
	if r == nil {
		return nil
	}
	dto := toOvertimeDTO(*r)
	return &dto
}

func toTenantReportDTO(r attendance.TenantReport) TenantReportDTO {
	dto := TenantReportDTO{
		TenantID:  string(r.TenantID),
		Date:      r.Date,
		Employees: r.Employees,
		Anomalies: r.AnomalyCount(),
		Days:      make([]DayReportDTO, 0, len(r.Days)),
	}
	for _, emp := range r.Days {
		for _, d := range emp.All() {
			dto.Days = append(dto.Days, toDayReportDTO(d))
		}
	}
	if len(r.Failed) > 0 {
		dto.Failed = make(map[string]string, len(r.Failed))
		for emp, msg := range r.Failed {
			dto.Failed[string(emp)] = msg
		}
	}
	return dto
}

func toDayReportDTO(d attendance.DayReport) DayReportDTO {
	day := DayReportDTO{
		EmployeeID:   string(d.EmployeeID),
		Date:         d.Date,
		Sessions:     len(d.Sessions),
		Anomalies:    toAnomalyDTOs(d.AnomaliesCreated),
		Overtime:     toOvertimePtr(d.Overtime),
		OvertimeSkip: d.OvertimeSkip,
		Notified:     d.Notified,
		NotifyFailed: d.NotifyFailed,
	}
	for _, t := range d.Suppressed {
		day.Suppressed = append(day.Suppressed, string(t))
	}
	return day
}
