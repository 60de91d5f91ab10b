package attendance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPOSITORIES - One typed interface per owned entity
// =============================================================================

// PunchRepository persists punches and their correction events.
type PunchRepository interface {
	// InsertPunch stores a new punch. Returns ErrDuplicatePunch if the ID exists.
	InsertPunch(ctx context.Context, p Punch) error

	GetPunch(ctx context.Context, tenant TenantID, id PunchID) (Punch, error)

	// ListPunches returns an employee's punches (accepted and rejected) whose
	// effective time lies in [from, to), ordered by effective time.
	ListPunches(ctx context.Context, tenant TenantID, emp EmployeeID, from, to time.Time) ([]Punch, error)

	AnnotatePunch(ctx context.Context, tenant TenantID, a PunchAnnotation) error

	// ApplyCorrection appends the event and updates the punch's correction
	// metadata; the punch becomes ACCEPTED.
	ApplyCorrection(ctx context.Context, c PunchCorrection) error

	ListCorrections(ctx context.Context, tenant TenantID, id PunchID) ([]PunchCorrection, error)
}

// AttemptRepository is the capture attempts log.
type AttemptRepository interface {
	InsertAttempt(ctx context.Context, a CaptureAttempt) error

	// ListAttempts returns attempts with Timestamp in [from, to), oldest first.
	ListAttempts(ctx context.Context, tenant TenantID, emp EmployeeID, from, to time.Time) ([]CaptureAttempt, error)
}

type SessionFilter struct {
	EmployeeID EmployeeID
	From, To   Date // inclusive; zero = unbounded
	State      SessionState
	Scope      VisibilityScope
}

type SessionRepository interface {
	// UpsertSession inserts or replaces the session with the same ID.
	UpsertSession(ctx context.Context, s Session) error
	ListSessions(ctx context.Context, tenant TenantID, f SessionFilter) ([]Session, error)
}

type AnomalyFilter struct {
	EmployeeID       EmployeeID
	From, To         Date
	Type             AnomalyType
	IncludeCorrected bool
	Scope            VisibilityScope
}

type AnomalyRepository interface {
	// UpsertAnomaly is keyed by (tenant, employee, date, type). A missing key
	// is inserted and created is true. An existing row is updated only when
	// the classification genuinely changed and the row is not corrected.
	UpsertAnomaly(ctx context.Context, a Anomaly) (created bool, err error)

	GetAnomaly(ctx context.Context, tenant TenantID, id AnomalyID) (Anomaly, error)
	ListAnomalies(ctx context.Context, tenant TenantID, f AnomalyFilter) ([]Anomaly, error)

	// CorrectAnomaly annotates; anomalies are never deleted.
	CorrectAnomaly(ctx context.Context, tenant TenantID, id AnomalyID, by, note string, at time.Time) error
}

type OvertimeFilter struct {
	EmployeeID EmployeeID
	From, To   Date
	Status     OvertimeStatus
	Scope      VisibilityScope
}

type OvertimeRepository interface {
	// InsertOvertime returns ErrDuplicateOvertime if the employee-day exists.
	InsertOvertime(ctx context.Context, r OvertimeRecord) error

	GetOvertimeForDay(ctx context.Context, tenant TenantID, emp EmployeeID, date Date) (OvertimeRecord, bool, error)

	// SumOvertimeHours sums CountedHours of PENDING and APPROVED records in
	// [from, to].
	SumOvertimeHours(ctx context.Context, tenant TenantID, emp EmployeeID, from, to Date) (decimal.Decimal, error)

	ListOvertime(ctx context.Context, tenant TenantID, f OvertimeFilter) ([]OvertimeRecord, error)

	// SetOvertimeStatus is the approval workflow hook. It never touches
	// hours or rate.
	SetOvertimeStatus(ctx context.Context, tenant TenantID, id OvertimeID, status OvertimeStatus, approvedHours *decimal.Decimal) error
}

type NotificationLog interface {
	// LastNotified returns the most recent entry for (key, manager).
	LastNotified(ctx context.Context, tenant TenantID, key OccurrenceKey, managerID string) (NotificationLogEntry, bool, error)
	AppendNotification(ctx context.Context, e NotificationLogEntry) error

	// PurgeNotifications is the data-retention hook; it deletes entries sent
	// before the cutoff and returns how many were removed.
	PurgeNotifications(ctx context.Context, before time.Time) (int, error)
}

// =============================================================================
// PROVIDERS - Reference data owned by other systems, consumed read-only
// =============================================================================

type SettingsProvider interface {
	// Settings returns the tenant's settings; ok is false when none are stored.
	Settings(ctx context.Context, tenant TenantID) (TenantSettings, bool, error)
}

type ScheduleSource interface {
	ScheduleEntry(ctx context.Context, tenant TenantID, emp EmployeeID, date Date) (*ScheduleEntry, error)
	Shift(ctx context.Context, tenant TenantID, shiftID string) (*Shift, error)
}

type EmployeeDirectory interface {
	Employee(ctx context.Context, tenant TenantID, emp EmployeeID) (Employee, error)
	ActiveEmployees(ctx context.Context, tenant TenantID) ([]Employee, error)
}

type LeaveCalendar interface {
	OnApprovedLeave(ctx context.Context, tenant TenantID, emp EmployeeID, date Date) (bool, error)
}

type HolidayCalendar interface {
	IsHoliday(ctx context.Context, tenant TenantID, date Date) (bool, error)
}

type ManagerResolver interface {
	// Managers returns the notification-eligible managers of emp, already
	// scoped by the organisational hierarchy.
	Managers(ctx context.Context, tenant TenantID, emp EmployeeID) ([]Manager, error)
}

type TenantLister interface {
	Tenants(ctx context.Context) ([]Tenant, error)
}

// Sender delivers a templated notification. The engine never renders.
type Sender interface {
	Send(ctx context.Context, to Manager, template string, vars map[string]string) error
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is everything the Engine needs from persistence. Both the in-memory
// store and the SQLite store implement it.
type Store interface {
	PunchRepository
	AttemptRepository
	SessionRepository
	AnomalyRepository
	OvertimeRepository
	NotificationLog

	SettingsProvider
	ScheduleSource
	EmployeeDirectory
	LeaveCalendar
	HolidayCalendar
	ManagerResolver
	TenantLister
}

// =============================================================================
// VISIBILITY SCOPE
// =============================================================================

// VisibilityScope is the pre-resolved set of employees a caller may see.
// The zero value sees everyone.
type VisibilityScope struct {
	All       bool
	Employees map[EmployeeID]bool
}

func ScopeAll() VisibilityScope { return VisibilityScope{All: true} }

func ScopeOf(ids ...EmployeeID) VisibilityScope {
	m := make(map[EmployeeID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return VisibilityScope{Employees: m}
}

func (v VisibilityScope) Allows(emp EmployeeID) bool {
	if v.All || v.Employees == nil {
		return true
	}
	return v.Employees[emp]
}
