/*
Package attendance provides the session reconciliation and overtime accrual engine.

PURPOSE:
  Turns raw IN/OUT punches captured by terminals and webhooks into reconciled
  work sessions, classifies attendance anomalies against the employee's shift,
  converts qualifying overtime into capped, rate-adjusted records, and makes
  sure a manager is notified at most once per anomaly occurrence.

KEY CONCEPTS IN THIS FILE (types.go):
  - Punch: immutable capture event (IN, OUT or BREAK)
  - CaptureAttempt: a terminal read, successful or failed
  - ShiftWindow: the expected work window of one employee on one date
  - Session: a reconciled IN/OUT pair (or half pair)
  - Anomaly: a flagged deviation with a stable occurrence key
  - OvertimeRecord: credited overtime for one employee-day
  - NotificationLogEntry: proof that a manager was notified

DATA FLOW:
  punch -> ShiftResolver -> Reconciler -> Classifier -> (OvertimeCalculator | NotificationLedger)

  The Engine runs this flow synchronously on punch ingestion for the single
  affected employee, and the Sweeper runs it per tenant for a whole day to
  catch sessions that never closed and employees that never showed up.

KEYS:
  Sessions:  derived from the opening (or orphan) punch ID
  Anomalies: (tenant, employee, date, type)
  Overtime:  (tenant, employee, date)
  Re-running reconciliation on the same data upserts the same keys and
  creates nothing new.

SEE ALSO:
  - reconcile.go: punch pairing state machine
  - classify.go: LATE / ABSENCE rules
  - overtime.go: rounding, majoration and caps
  - notify.go: notification idempotence ledger
  - engine.go: orchestration of all of the above
*/
package attendance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type EmployeeID string
type PunchID string
type SessionID string
type AnomalyID string
type OvertimeID string

// =============================================================================
// PUNCH - Immutable capture event
// =============================================================================

type Direction string

const (
	DirectionIn    Direction = "IN"
	DirectionOut   Direction = "OUT"
	DirectionBreak Direction = "BREAK" // recorded, never paired
)

func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut || d == DirectionBreak
}

type CaptureMethod string

const (
	MethodBiometric CaptureMethod = "BIOMETRIC"
	MethodRFID      CaptureMethod = "RFID"
	MethodManual    CaptureMethod = "MANUAL"
	MethodWebhook   CaptureMethod = "WEBHOOK"
	MethodPIN       CaptureMethod = "PIN"
)

type PunchStatus string

const (
	PunchAccepted PunchStatus = "ACCEPTED"
	PunchRejected PunchStatus = "REJECTED" // invariant violation, needs manual correction
)

// Punch is a single timestamped capture. Only the annotation fields change
// after creation; corrections are recorded as PunchCorrection events.
type Punch struct {
	ID         PunchID
	TenantID   TenantID
	EmployeeID EmployeeID
	Timestamp  time.Time // UTC, as captured
	Direction  Direction
	Method     CaptureMethod
	DeviceID   string
	SiteID     string
	RawPayload string

	Status       PunchStatus
	RejectReason string

	// Annotations
	HasAnomaly         bool
	AnomalyType        AnomalyType
	AnomalyNote        string
	CorrectedTimestamp *time.Time
	IsCorrected        bool
	CorrectedBy        string
	CorrectedAt        *time.Time

	CreatedAt time.Time
}

// EffectiveTime is the timestamp used for pairing: the corrected one if a
// manager fixed the punch, the captured one otherwise.
func (p Punch) EffectiveTime() time.Time {
	if p.CorrectedTimestamp != nil {
		return *p.CorrectedTimestamp
	}
	return p.Timestamp
}

func (p Punch) Accepted() bool { return p.Status != PunchRejected }

// PunchAnnotation is the only mutation allowed on a stored punch.
type PunchAnnotation struct {
	PunchID     PunchID
	HasAnomaly  bool
	AnomalyType AnomalyType
	AnomalyNote string
}

// PunchCorrection is an append-only audit event. A correction of a rejected
// punch re-accepts it.
type PunchCorrection struct {
	ID                 string
	TenantID           TenantID
	PunchID            PunchID
	CorrectedBy        string
	Note               string
	PreviousTimestamp  time.Time
	CorrectedTimestamp *time.Time
	At                 time.Time
}

// =============================================================================
// CAPTURE ATTEMPT - Terminal read log (successful or failed)
// =============================================================================

type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "SUCCESS"
	AttemptFailed  AttemptStatus = "FAILED"
)

type CaptureAttempt struct {
	ID           string
	TenantID     TenantID
	EmployeeID   EmployeeID
	DeviceID     string
	Timestamp    time.Time
	Status       AttemptStatus
	ErrorCode    string
	ErrorMessage string
}

// FailureKind groups terminal error codes by probable cause.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureNetwork
	FailureHardware
)

var hardwareErrorCodes = map[string]bool{
	"HARDWARE_FAILURE":      true,
	"BIOMETRIC_READ_FAILED": true,
	"SENSOR_ERROR":          true,
	"DEVICE_OFFLINE":        true,
	"POWER_FAILURE":         true,
	"BADGE_READER_ERROR":    true,
}

var networkErrorCodes = map[string]bool{
	"NETWORK_ERROR":      true,
	"TIMEOUT":            true,
	"CONNECTION_REFUSED": true,
	"SYNC_FAILED":        true,
}

// Kind classifies the attempt's error code.
func (a CaptureAttempt) Kind() FailureKind {
	switch {
	case hardwareErrorCodes[a.ErrorCode]:
		return FailureHardware
	case networkErrorCodes[a.ErrorCode]:
		return FailureNetwork
	default:
		return FailureUnknown
	}
}

// =============================================================================
// SHIFT WINDOW - Expected work window for one employee on one date
// =============================================================================

type ShiftSource string

const (
	SourceSchedule     ShiftSource = "SCHEDULE"
	SourceDefaultShift ShiftSource = "DEFAULT_SHIFT"
)

// ShiftWindow is derived, never persisted per punch.
//
// INVARIANT: EndTime may be numerically before StartTime when IsNightShift is
// set; the window then ends on the next calendar date.
type ShiftWindow struct {
	Date                 Date
	StartTime            TimeOfDay
	EndTime              TimeOfDay
	BreakDurationMinutes int
	IsNightShift         bool
	Source               ShiftSource
	ShiftID              string
	Location             *time.Location
}

// CrossesMidnight reports whether the scheduled end falls on the next date.
func (w ShiftWindow) CrossesMidnight() bool {
	return w.EndTime <= w.StartTime
}

func (w ShiftWindow) ScheduledStart() time.Time {
	return w.Date.At(w.StartTime, w.Location)
}

func (w ShiftWindow) ScheduledEnd() time.Time {
	end := w.Date.At(w.EndTime, w.Location)
	if w.CrossesMidnight() {
		end = w.Date.AddDays(1).At(w.EndTime, w.Location)
	}
	return end
}

// DetectionDeadline is the last instant an OUT may close a session opened
// against this window.
func (w ShiftWindow) DetectionDeadline(windowHours int) time.Time {
	return w.ScheduledEnd().Add(time.Duration(windowHours) * time.Hour)
}

// ScheduledMinutes is the planned duration net of the break.
func (w ShiftWindow) ScheduledMinutes() int {
	return wholeMinutes(w.ScheduledEnd().Sub(w.ScheduledStart())) - w.BreakDurationMinutes
}

func (w ShiftWindow) String() string {
	night := ""
	if w.IsNightShift {
		night = " (night)"
	}
	return fmt.Sprintf("%s %s-%s%s", w.Date, w.StartTime, w.EndTime, night)
}

// =============================================================================
// SESSION - Reconciled IN/OUT pair
// =============================================================================

type SessionState string

const (
	SessionOpen       SessionState = "OPEN"        // has IN, awaiting OUT
	SessionClosed     SessionState = "CLOSED"      // has IN and OUT
	SessionOrphanOut  SessionState = "ORPHAN_OUT"  // OUT with no prior IN
	SessionMissingOut SessionState = "MISSING_OUT" // detection window elapsed, terminal
)

type Session struct {
	ID         SessionID
	TenantID   TenantID
	EmployeeID EmployeeID
	Date       Date // work date; a night shift's session keeps the date it started on

	OpenPunchID  PunchID
	OpenedAt     *time.Time
	ClosePunchID PunchID
	ClosedAt     *time.Time

	Window            *ShiftWindow // nil when the employee was not scheduled
	DetectionDeadline time.Time
	State             SessionState

	WorkedMinutes     int
	LateMinutes       int
	EarlyLeaveMinutes int
	OvertimeMinutes   int // raw minutes past scheduled end, before rounding

	UpdatedAt time.Time
}

func (s Session) Scheduled() bool { return s.Window != nil }

// SessionIDFor derives the session key from the punch that created it.
func SessionIDFor(p PunchID) SessionID { return SessionID("ses-" + string(p)) }

// =============================================================================
// ANOMALY - Flagged deviation with a stable occurrence key
// =============================================================================

type AnomalyType string

const (
	AnomalyLate             AnomalyType = "LATE"
	AnomalyAbsencePartial   AnomalyType = "ABSENCE_PARTIAL"
	AnomalyAbsenceTechnical AnomalyType = "ABSENCE_TECHNICAL"
	AnomalyAbsence          AnomalyType = "ABSENCE"
	AnomalyMissingIn        AnomalyType = "MISSING_IN"
	AnomalyMissingOut       AnomalyType = "MISSING_OUT"
	AnomalyDoubleIn         AnomalyType = "DOUBLE_IN"
)

// AllAnomalyTypes lists every anomaly type, in reporting order.
var AllAnomalyTypes = []AnomalyType{
	AnomalyLate, AnomalyAbsencePartial, AnomalyAbsenceTechnical, AnomalyAbsence,
	AnomalyMissingIn, AnomalyMissingOut, AnomalyDoubleIn,
}

func (t AnomalyType) Valid() bool {
	for _, known := range AllAnomalyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Excusable types are suppressed entirely by approved leave.
func (t AnomalyType) Excusable() bool {
	return t == AnomalyLate || t == AnomalyAbsencePartial || t == AnomalyAbsence || t == AnomalyAbsenceTechnical
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// OccurrenceKey identifies one anomaly occurrence: employee + date + type.
type OccurrenceKey string

func NewOccurrenceKey(emp EmployeeID, date Date, t AnomalyType) OccurrenceKey {
	return OccurrenceKey(fmt.Sprintf("%s:%s:%s", emp, date, t))
}

type Anomaly struct {
	ID         AnomalyID
	TenantID   TenantID
	EmployeeID EmployeeID
	Date       Date
	Type       AnomalyType
	Severity   Severity

	SessionID         SessionID
	PunchID           PunchID
	LateMinutes       int
	EarlyLeaveMinutes int
	Reason            string // classification reasoning shown to managers
	DetectedAt        time.Time

	// Manager correction; an anomaly is never deleted, only annotated.
	IsCorrected    bool
	CorrectedBy    string
	CorrectedAt    *time.Time
	CorrectionNote string
}

func (a Anomaly) OccurrenceKey() OccurrenceKey {
	return NewOccurrenceKey(a.EmployeeID, a.Date, a.Type)
}

// SameClassification reports whether b carries the same classification
// outcome; only a genuine change is written over an existing row.
func (a Anomaly) SameClassification(b Anomaly) bool {
	return a.Severity == b.Severity &&
		a.SessionID == b.SessionID &&
		a.PunchID == b.PunchID &&
		a.LateMinutes == b.LateMinutes &&
		a.EarlyLeaveMinutes == b.EarlyLeaveMinutes &&
		a.Reason == b.Reason
}

// =============================================================================
// OVERTIME RECORD
// =============================================================================

type OvertimeType string

const (
	OvertimeStandard  OvertimeType = "STANDARD"
	OvertimeNight     OvertimeType = "NIGHT"
	OvertimeHoliday   OvertimeType = "HOLIDAY"
	OvertimeEmergency OvertimeType = "EMERGENCY" // manual classification only
)

type OvertimeStatus string

const (
	OvertimePending  OvertimeStatus = "PENDING"
	OvertimeApproved OvertimeStatus = "APPROVED"
	OvertimeRejected OvertimeStatus = "REJECTED"
)

// OvertimeRecord is created at most once per (employee, date). The approval
// workflow only changes Status and ApprovedHours.
type OvertimeRecord struct {
	ID              OvertimeID
	TenantID        TenantID
	EmployeeID      EmployeeID
	Date            Date
	Hours           decimal.Decimal
	Type            OvertimeType
	Rate            decimal.Decimal
	Status          OvertimeStatus
	ApprovedHours   *decimal.Decimal
	SourceSessionID SessionID
	Notes           string
	CreatedAt       time.Time
}

// CountedHours is what a cap check sums: approved hours once set, otherwise
// the credited hours.
func (r OvertimeRecord) CountedHours() decimal.Decimal {
	if r.ApprovedHours != nil {
		return *r.ApprovedHours
	}
	return r.Hours
}

// =============================================================================
// NOTIFICATION LOG
// =============================================================================

// NotificationLogEntry is append-only. Its existence inside the cooldown
// suppresses another send for the same occurrence and manager.
type NotificationLogEntry struct {
	ID            string
	TenantID      TenantID
	OccurrenceKey OccurrenceKey
	AnomalyType   AnomalyType
	EmployeeID    EmployeeID
	ManagerID     string
	SentAt        time.Time
}

// =============================================================================
// REFERENCE DATA - Supplied by external providers
// =============================================================================

type Tenant struct {
	ID   TenantID
	Name string
}

type CapPolicy string

const (
	CapSoft CapPolicy = "soft" // clip to remaining headroom
	CapHard CapPolicy = "hard" // skip the record entirely
)

func (c CapPolicy) Valid() bool { return c == CapSoft || c == CapHard }

type Employee struct {
	ID                       EmployeeID
	TenantID                 TenantID
	Name                     string
	Email                    string
	IsActive                 bool
	DefaultShiftID           string
	IsEligibleForOvertime    bool
	MaxOvertimeHoursPerWeek  *decimal.Decimal
	MaxOvertimeHoursPerMonth *decimal.Decimal
	OvertimeCapPolicy        CapPolicy // empty = tenant setting
}

type Shift struct {
	ID                   string
	TenantID             TenantID
	Name                 string
	StartTime            TimeOfDay
	EndTime              TimeOfDay
	BreakDurationMinutes int
	IsNightShift         bool
}

// ScheduleEntry assigns a shift to an employee for one date, optionally with
// custom times. Suspended entries (e.g. by approved leave) do not count.
type ScheduleEntry struct {
	TenantID        TenantID
	EmployeeID      EmployeeID
	Date            Date
	ShiftID         string
	CustomStartTime *TimeOfDay
	CustomEndTime   *TimeOfDay
	Suspended       bool
}

type LeaveStatus string

const (
	LeavePending  LeaveStatus = "PENDING"
	LeaveApproved LeaveStatus = "APPROVED"
	LeaveRejected LeaveStatus = "REJECTED"
)

type Leave struct {
	ID         string
	TenantID   TenantID
	EmployeeID EmployeeID
	From       Date
	To         Date
	Status     LeaveStatus
}

func (l Leave) Covers(d Date) bool {
	return l.Status == LeaveApproved && !d.Before(l.From) && !d.After(l.To)
}

// Holiday mirrors the tenant holiday calendar.
type Holiday struct {
	ID        string
	TenantID  TenantID
	Date      Date
	Name      string
	Recurring bool // same month/day every year
}

func (h Holiday) Matches(d Date) bool {
	if h.Recurring {
		return h.Date.Month == d.Month && h.Date.Day == d.Day
	}
	return h.Date == d
}

// Manager is a notification-eligible recipient, pre-scoped by hierarchy.
type Manager struct {
	ID    string
	Name  string
	Email string
}
