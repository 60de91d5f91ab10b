/*
engine.go - Orchestration of the reconciliation pipeline

PURPOSE:
  Wires ShiftResolver -> Reconciler -> Classifier -> (OvertimeCalculator |
  NotificationLedger) over a Store, for both entry points:

  SYNC (IngestPunch):
    Validates and stores one punch, then replays only the affected
    employee's punches around it (its local date and the day before, for
    night shifts). Pairing anomalies, arrival classification and overtime
    are applied. Full-day absence is never decided here.

  BATCH (ReconcileEmployeeDay / ReconcileTenantDay):
    Replays one work date with a caller-supplied "now" and applies every
    rule, including ABSENCE, ABSENCE_TECHNICAL and MISSING_OUT by timeout.
    Each run also catches up on what earlier sweeps could not settle yet:

      previous date     pairing results are persisted (a deadline that
                        passed after that date was swept); the date is
                        classified again when its scheduled end fell
                        inside the last SweepInterval (night shifts)
      older OPEN rows   any stored OPEN session past its deadline is
                        replayed so it becomes MISSING_OUT

    Employees deactivated while a session is still open are included so
    the session is closed out; ABSENCE still requires an active employee.

IDEMPOTENCE:
  Sessions are upserted by derived ID, anomalies by occurrence key and
  overtime by (employee, date). Only newly created anomalies trigger
  Notify; existing ones go through Retry, which only reaches managers
  whose earlier send failed.

CORRECTIONS:
  Anomalies are annotated, never deleted. A punch correction appends an
  audit event, re-accepts the punch and re-runs the sync path for the
  dates the old and new timestamps touch.

SEE ALSO:
  - sweep.go: runs ReconcileTenantDay across tenants
  - api/handlers.go: HTTP surface over these methods
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxClockSkew is how far in the future a punch timestamp may be.
const MaxClockSkew = 5 * time.Minute

// SweepInterval is the cadence of the scheduled sweep of a tenant.
const SweepInterval = 24 * time.Hour

type Engine struct {
	Store    Store
	Clock    Clock
	Resolver *ShiftResolver
	Notifier *NotificationLedger
	Logger   *log.Logger

	employees keyedMutex
}

func NewEngine(store Store, sender Sender, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		Store:    store,
		Clock:    clock,
		Resolver: &ShiftResolver{Schedules: store, Employees: store},
		Notifier: NewNotificationLedger(store, store, store, sender),
	}
}

// =============================================================================
// RESULTS
// =============================================================================

type IngestResult struct {
	Punch     Punch
	Sessions  []Session
	Anomalies []Anomaly // created by this punch
	Overtime  *OvertimeRecord
}

type DayReport struct {
	EmployeeID       EmployeeID
	Date             Date
	Sessions         []Session
	AnomaliesCreated []Anomaly
	Suppressed       []AnomalyType
	Overtime         *OvertimeRecord
	OvertimeSkip     string
	Notified         int
	NotifyFailed     int

	// CatchUp holds the earlier dates this batch run settled, oldest first.
	CatchUp []DayReport
}

// All returns the catch-up reports followed by r itself.
func (r DayReport) All() []DayReport {
	out := append([]DayReport(nil), r.CatchUp...)
	r.CatchUp = nil
	return append(out, r)
}

type TenantReport struct {
	TenantID  TenantID
	Date      Date
	Employees int
	Days      []DayReport
	Failed    map[EmployeeID]string
}

func (r TenantReport) AnomalyCount() int {
	n := 0
	for _, d := range r.Days {
		for _, day := range d.All() {
			n += len(day.AnomaliesCreated)
		}
	}
	return n
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings returns the tenant settings, or the defaults when none are stored.
func (e *Engine) Settings(ctx context.Context, tenant TenantID) (TenantSettings, error) {
	s, ok, err := e.Store.Settings(ctx, tenant)
	if err != nil {
		return TenantSettings{}, fmt.Errorf("load settings for %s: %w", tenant, err)
	}
	if !ok {
		return DefaultSettings(), nil
	}
	return s, nil
}

// =============================================================================
// SYNC PATH
// =============================================================================

// IngestPunch stores p and reconciles the single affected employee window.
// An OUT older than the employee's open IN is stored REJECTED and an
// *InvariantError is returned alongside the result.
func (e *Engine) IngestPunch(ctx context.Context, p Punch) (IngestResult, error) {
	now := e.Clock.Now()
	if err := validatePunch(p, now); err != nil {
		return IngestResult{}, err
	}
	emp, err := e.Store.Employee(ctx, p.TenantID, p.EmployeeID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("employee %s: %w", p.EmployeeID, err)
	}
	settings, err := e.Settings(ctx, p.TenantID)
	if err != nil {
		return IngestResult{}, err
	}

	if p.ID == "" {
		p.ID = PunchID(uuid.NewString())
	}
	p.Timestamp = p.Timestamp.UTC()
	p.Status = PunchAccepted
	p.CreatedAt = now

	unlock := e.employees.Lock(string(p.TenantID) + "|" + string(p.EmployeeID))
	defer unlock()

	var invariant *InvariantError
	if p.Direction == DirectionOut {
		invariant, err = e.checkOutAfterIn(ctx, settings, p, now)
		if err != nil {
			return IngestResult{}, err
		}
		if invariant != nil {
			p.Status = PunchRejected
			p.RejectReason = invariant.Reason
		}
	}

	if err := e.Store.InsertPunch(ctx, p); err != nil {
		return IngestResult{}, fmt.Errorf("store punch %s: %w", p.ID, err)
	}
	res := IngestResult{Punch: p}
	if invariant != nil {
		e.logf("[Ingest] Rejected punch %s for %s: %s", p.ID, p.EmployeeID, invariant.Reason)
		return res, invariant
	}
	if p.Direction == DirectionBreak {
		return res, nil
	}

	day := DateOf(p.Timestamp, settings.Location())
	reports, err := e.reconcile(ctx, settings, emp, []Date{day.AddDays(-1), day}, now, nil)
	if err != nil {
		return res, err
	}
	for _, r := range reports {
		res.Sessions = append(res.Sessions, r.Sessions...)
		res.Anomalies = append(res.Anomalies, r.AnomaliesCreated...)
		if r.Overtime != nil {
			res.Overtime = r.Overtime
		}
	}
	return res, nil
}

func validatePunch(p Punch, now time.Time) error {
	switch {
	case p.TenantID == "":
		return ErrTenantRequired
	case p.EmployeeID == "":
		return fmt.Errorf("%w: employee id required", ErrInvalidPunch)
	case !p.Direction.Valid():
		return fmt.Errorf("%w: direction %q", ErrInvalidPunch, p.Direction)
	case p.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp required", ErrInvalidPunch)
	case p.Timestamp.After(now.Add(MaxClockSkew)):
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidPunch, p.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// checkOutAfterIn returns an InvariantError when the employee currently has
// an open session, on the OUT's work date or later, that opened after the OUT.
func (e *Engine) checkOutAfterIn(ctx context.Context, settings TenantSettings, p Punch, now time.Time) (*InvariantError, error) {
	loc := settings.Location()
	day := DateOf(p.Timestamp, loc)
	from, to := day.AddDays(-1), day.AddDays(2)
	windows, err := e.Resolver.ResolveRange(ctx, p.TenantID, p.EmployeeID, from.AddDays(-1), to, settings)
	if err != nil {
		return nil, err
	}
	punches, err := e.Store.ListPunches(ctx, p.TenantID, p.EmployeeID, from.Midnight(loc), to.AddDays(1).Midnight(loc))
	if err != nil {
		return nil, fmt.Errorf("load punches: %w", err)
	}
	res := NewReconciler(settings).Reconcile(ReconcileInput{
		TenantID:   p.TenantID,
		EmployeeID: p.EmployeeID,
		Punches:    punches,
		Windows:    windows,
		Now:        now,
	})
	for _, s := range res.Sessions {
		if s.State != SessionOpen || s.OpenedAt == nil {
			continue
		}
		if p.Timestamp.Before(*s.OpenedAt) && !day.Before(s.Date) {
			return &InvariantError{
				PunchID: p.ID,
				Reason: fmt.Sprintf("OUT at %s precedes open IN at %s",
					p.Timestamp.In(loc).Format("2006-01-02 15:04"), s.OpenedAt.In(loc).Format("2006-01-02 15:04")),
				Err: ErrOutBeforeIn,
			}, nil
		}
	}
	return nil, nil
}

// RecordAttempt appends to the capture attempts log.
func (e *Engine) RecordAttempt(ctx context.Context, a CaptureAttempt) (CaptureAttempt, error) {
	switch {
	case a.TenantID == "":
		return a, ErrTenantRequired
	case a.EmployeeID == "":
		return a, fmt.Errorf("%w: employee id required", ErrInvalidPunch)
	case a.Status != AttemptSuccess && a.Status != AttemptFailed:
		return a, fmt.Errorf("%w: attempt status %q", ErrInvalidPunch, a.Status)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = e.Clock.Now()
	}
	a.Timestamp = a.Timestamp.UTC()
	if err := e.Store.InsertAttempt(ctx, a); err != nil {
		return a, fmt.Errorf("store attempt: %w", err)
	}
	return a, nil
}

// =============================================================================
// BATCH PATH
// =============================================================================

// ReconcileEmployeeDay applies every rule to one employee's work date and
// catches up on earlier dates; see the file comment. The reports of the
// earlier dates are returned in DayReport.CatchUp.
func (e *Engine) ReconcileEmployeeDay(ctx context.Context, tenant TenantID, emp EmployeeID, date Date, now time.Time) (DayReport, error) {
	settings, err := e.Settings(ctx, tenant)
	if err != nil {
		return DayReport{}, err
	}
	employee, err := e.Store.Employee(ctx, tenant, emp)
	if err != nil {
		return DayReport{}, fmt.Errorf("employee %s: %w", emp, err)
	}
	unlock := e.employees.Lock(string(tenant) + "|" + string(emp))
	defer unlock()

	prev := date.AddDays(-1)
	var catchUp []DayReport
	stale, err := e.staleOpenDates(ctx, employee, prev, now)
	if err != nil {
		return DayReport{}, err
	}
	for _, d := range stale {
		reports, err := e.reconcile(ctx, settings, employee, []Date{d}, now, nil)
		if err != nil {
			return DayReport{}, err
		}
		catchUp = append(catchUp, reports...)
	}

	classify := func(d Date, w *ShiftWindow) bool {
		if d == date {
			return true
		}
		return w != nil && w.ScheduledEnd().After(now.Add(-SweepInterval))
	}
	reports, err := e.reconcile(ctx, settings, employee, []Date{prev, date}, now, classify)
	if err != nil {
		return DayReport{}, err
	}
	report := reports[1]
	report.CatchUp = append(catchUp, reports[0])
	return report, nil
}

// staleOpenDates returns the work dates before cutoff that still hold an
// OPEN session whose detection deadline has passed.
func (e *Engine) staleOpenDates(ctx context.Context, emp Employee, cutoff Date, now time.Time) ([]Date, error) {
	open, err := e.Store.ListSessions(ctx, emp.TenantID, SessionFilter{
		EmployeeID: emp.ID,
		State:      SessionOpen,
		To:         cutoff.AddDays(-1),
	})
	if err != nil {
		return nil, fmt.Errorf("load open sessions: %w", err)
	}
	var dates []Date
	for _, s := range open {
		if !now.After(s.DetectionDeadline) {
			continue
		}
		if n := len(dates); n == 0 || dates[n-1] != s.Date {
			dates = append(dates, s.Date)
		}
	}
	return dates, nil
}

// ReconcileTenantDay runs ReconcileEmployeeDay for every active employee and
// every employee with a stored OPEN session. A failing employee is recorded
// in the report and the rest still run.
func (e *Engine) ReconcileTenantDay(ctx context.Context, tenant TenantID, date Date, now time.Time) (TenantReport, error) {
	report := TenantReport{TenantID: tenant, Date: date, Failed: map[EmployeeID]string{}}
	if tenant == "" {
		return report, ErrTenantRequired
	}
	employees, err := e.Store.ActiveEmployees(ctx, tenant)
	if err != nil {
		return report, fmt.Errorf("list employees for %s: %w", tenant, err)
	}
	open, err := e.Store.ListSessions(ctx, tenant, SessionFilter{State: SessionOpen})
	if err != nil {
		return report, fmt.Errorf("list open sessions for %s: %w", tenant, err)
	}

	var errs []error
	ids := make([]EmployeeID, 0, len(employees))
	seen := make(map[EmployeeID]bool, len(employees))
	for _, emp := range employees {
		ids = append(ids, emp.ID)
		seen[emp.ID] = true
	}
	for _, s := range open {
		if !seen[s.EmployeeID] {
			ids = append(ids, s.EmployeeID)
			seen[s.EmployeeID] = true
		}
	}
	report.Employees = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		day, err := e.ReconcileEmployeeDay(ctx, tenant, id, date, now)
		if err != nil {
			report.Failed[id] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		report.Days = append(report.Days, day)
	}
	return report, errors.Join(errs...)
}

// classifyFunc decides whether a date gets full day classification,
// ABSENCE included. A nil classifyFunc classifies only dates with sessions.
type classifyFunc func(Date, *ShiftWindow) bool

// reconcile replays the employee's punches around dates and applies the
// results for each date in dates. Caller holds the employee lock.
func (e *Engine) reconcile(ctx context.Context, settings TenantSettings, emp Employee, dates []Date, now time.Time, classify classifyFunc) ([]DayReport, error) {
	loc := settings.Location()
	first, last := dates[0], dates[len(dates)-1]
	from, to := first.AddDays(-1), last.AddDays(1)

	windows, err := e.Resolver.ResolveRange(ctx, emp.TenantID, emp.ID, from.AddDays(-1), to, settings)
	if err != nil {
		return nil, err
	}
	punches, err := e.Store.ListPunches(ctx, emp.TenantID, emp.ID, from.Midnight(loc), to.AddDays(1).Midnight(loc))
	if err != nil {
		return nil, fmt.Errorf("load punches: %w", err)
	}
	result := NewReconciler(settings).Reconcile(ReconcileInput{
		TenantID:   emp.TenantID,
		EmployeeID: emp.ID,
		Punches:    punches,
		Windows:    windows,
		Now:        now,
	})

	reports := make([]DayReport, 0, len(dates))
	for _, date := range dates {
		window := windows.For(date)
		full := classify != nil && classify(date, window)
		r, err := e.applyDay(ctx, settings, emp, date, window, result, now, full)
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", emp.ID, date, err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (e *Engine) applyDay(ctx context.Context, settings TenantSettings, emp Employee, date Date, window *ShiftWindow, result ReconcileResult, now time.Time, classifyAll bool) (DayReport, error) {
	report := DayReport{EmployeeID: emp.ID, Date: date, Sessions: result.SessionsOn(date)}

	for _, s := range report.Sessions {
		s.UpdatedAt = now
		if err := e.Store.UpsertSession(ctx, s); err != nil {
			return report, fmt.Errorf("upsert session %s: %w", s.ID, err)
		}
	}
	for _, a := range result.AnnotationsOn(date) {
		if err := e.Store.AnnotatePunch(ctx, emp.TenantID, a); err != nil {
			return report, fmt.Errorf("annotate punch %s: %w", a.PunchID, err)
		}
	}

	anomalies := result.AnomaliesOn(date)
	if classifyAll || len(report.Sessions) > 0 {
		day, err := e.classifyDay(ctx, settings, emp, date, window, report.Sessions, now)
		if err != nil {
			return report, err
		}
		report.Suppressed = day.Suppressed
		anomalies = append(anomalies, day.Anomalies...)
	}
	for _, a := range anomalies {
		if err := e.recordAnomaly(ctx, settings, a, now, &report); err != nil {
			return report, err
		}
	}

	for _, s := range report.Sessions {
		if s.State != SessionClosed {
			continue
		}
		d, err := e.applyOvertime(ctx, settings, emp, s, now)
		if err != nil {
			return report, err
		}
		if d.Create {
			rec := d.Record
			report.Overtime = &rec
			break
		}
		if report.OvertimeSkip == "" {
			report.OvertimeSkip = d.SkipReason
		}
	}
	return report, nil
}

func (e *Engine) classifyDay(ctx context.Context, settings TenantSettings, emp Employee, date Date, window *ShiftWindow, sessions []Session, now time.Time) (DayResult, error) {
	if window == nil {
		return DayResult{}, nil
	}
	onLeave, err := e.Store.OnApprovedLeave(ctx, emp.TenantID, emp.ID, date)
	if err != nil {
		return DayResult{}, fmt.Errorf("leave lookup: %w", err)
	}
	holiday, err := e.Store.IsHoliday(ctx, emp.TenantID, date)
	if err != nil {
		return DayResult{}, fmt.Errorf("holiday lookup: %w", err)
	}
	var attempts []CaptureAttempt
	if len(sessions) == 0 {
		loc := settings.Location()
		from := date.Midnight(loc)
		to := window.ScheduledEnd()
		if midnight := date.AddDays(1).Midnight(loc); midnight.After(to) {
			to = midnight
		}
		attempts, err = e.Store.ListAttempts(ctx, emp.TenantID, emp.ID, from, to)
		if err != nil {
			return DayResult{}, fmt.Errorf("load attempts: %w", err)
		}
	}
	return NewClassifier(settings).ClassifyDay(DayInput{
		Employee:  emp,
		Date:      date,
		Window:    window,
		Sessions:  sessions,
		Attempts:  attempts,
		OnLeave:   onLeave,
		IsHoliday: holiday,
		Now:       now,
	}), nil
}

// recordAnomaly upserts a and triggers the notification ledger. Send
// failures are counted, not returned: the next run retries them.
func (e *Engine) recordAnomaly(ctx context.Context, settings TenantSettings, a Anomaly, now time.Time, report *DayReport) error {
	if a.ID == "" {
		a.ID = AnomalyID(uuid.NewString())
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = now
	}
	created, err := e.Store.UpsertAnomaly(ctx, a)
	if err != nil {
		return fmt.Errorf("upsert anomaly %s: %w", a.OccurrenceKey(), err)
	}
	if a.Type == AnomalyLate || a.Type == AnomalyAbsencePartial {
		note := fmt.Sprintf("%s: %d min late", a.Type, a.LateMinutes)
		if err := e.Store.AnnotatePunch(ctx, a.TenantID, PunchAnnotation{PunchID: a.PunchID, HasAnomaly: true, AnomalyType: a.Type, AnomalyNote: note}); err != nil {
			return fmt.Errorf("annotate punch %s: %w", a.PunchID, err)
		}
	}

	var res NotifyResult
	if created {
		report.AnomaliesCreated = append(report.AnomaliesCreated, a)
		res, err = e.Notifier.Notify(ctx, a, settings, now)
	} else {
		stored, ok, lookupErr := e.storedAnomaly(ctx, a)
		if lookupErr != nil {
			return lookupErr
		}
		if !ok {
			return nil
		}
		res, err = e.Notifier.Retry(ctx, stored, settings, now)
	}
	report.Notified += res.Sent
	report.NotifyFailed += res.Failed
	if err != nil {
		e.logf("[Notify] %s: %v", a.OccurrenceKey(), err)
	}
	return nil
}

func (e *Engine) storedAnomaly(ctx context.Context, a Anomaly) (Anomaly, bool, error) {
	list, err := e.Store.ListAnomalies(ctx, a.TenantID, AnomalyFilter{
		EmployeeID:       a.EmployeeID,
		From:             a.Date,
		To:               a.Date,
		Type:             a.Type,
		IncludeCorrected: true,
	})
	if err != nil {
		return Anomaly{}, false, fmt.Errorf("load anomaly %s: %w", a.OccurrenceKey(), err)
	}
	if len(list) == 0 {
		return Anomaly{}, false, nil
	}
	return list[0], true, nil
}

// applyOvertime computes and persists overtime for one closed session.
func (e *Engine) applyOvertime(ctx context.Context, settings TenantSettings, emp Employee, s Session, now time.Time) (OvertimeDecision, error) {
	_, exists, err := e.Store.GetOvertimeForDay(ctx, emp.TenantID, emp.ID, s.Date)
	if err != nil {
		return OvertimeDecision{}, fmt.Errorf("load overtime: %w", err)
	}
	in := OvertimeInput{Session: s, Employee: emp, AlreadyRecorded: exists}
	if !exists && emp.IsEligibleForOvertime {
		if in.IsHoliday, err = e.Store.IsHoliday(ctx, emp.TenantID, s.Date); err != nil {
			return OvertimeDecision{}, fmt.Errorf("holiday lookup: %w", err)
		}
		weekStart := s.Date.StartOfWeek(settings.WeekStartsOn)
		if in.WeekUsed, err = e.Store.SumOvertimeHours(ctx, emp.TenantID, emp.ID, weekStart, weekStart.AddDays(6)); err != nil {
			return OvertimeDecision{}, fmt.Errorf("weekly overtime usage: %w", err)
		}
		if in.MonthUsed, err = e.Store.SumOvertimeHours(ctx, emp.TenantID, emp.ID, s.Date.StartOfMonth(), s.Date.EndOfMonth()); err != nil {
			return OvertimeDecision{}, fmt.Errorf("monthly overtime usage: %w", err)
		}
	}

	d := NewOvertimeCalculator(settings).Compute(in)
	if !d.Create {
		if d.CapExceeded != nil {
			e.logf("[Overtime] Skipped %s on %s: %v", emp.ID, s.Date, d.CapExceeded)
		}
		return d, nil
	}
	d.Record.ID = OvertimeID(uuid.NewString())
	d.Record.CreatedAt = now
	if err := e.Store.InsertOvertime(ctx, d.Record); err != nil {
		if errors.Is(err, ErrDuplicateOvertime) {
			d.Create = false
			d.SkipReason = "overtime already recorded for date"
			return d, nil
		}
		return d, fmt.Errorf("insert overtime: %w", err)
	}
	return d, nil
}

// NotifyPendingOvertime sends the tenant's managers their daily digest of
// overtime awaiting approval.
func (e *Engine) NotifyPendingOvertime(ctx context.Context, tenant TenantID) (NotifyResult, error) {
	settings, err := e.Settings(ctx, tenant)
	if err != nil {
		return NotifyResult{}, err
	}
	pending, err := e.Store.ListOvertime(ctx, tenant, OvertimeFilter{Status: OvertimePending})
	if err != nil {
		return NotifyResult{}, fmt.Errorf("list pending overtime for %s: %w", tenant, err)
	}
	return e.Notifier.NotifyPendingOvertime(ctx, tenant, pending, settings, e.Clock.Now())
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// CorrectAnomaly marks an anomaly corrected. It is never deleted.
func (e *Engine) CorrectAnomaly(ctx context.Context, tenant TenantID, id AnomalyID, by, note string, scope VisibilityScope) (Anomaly, error) {
	a, err := e.Store.GetAnomaly(ctx, tenant, id)
	if err != nil {
		return Anomaly{}, err
	}
	if !scope.Allows(a.EmployeeID) {
		return Anomaly{}, ErrOutOfScope
	}
	if a.IsCorrected {
		return a, ErrAnomalyCorrected
	}
	if err := e.Store.CorrectAnomaly(ctx, tenant, id, by, note, e.Clock.Now()); err != nil {
		return Anomaly{}, err
	}
	return e.Store.GetAnomaly(ctx, tenant, id)
}

// CorrectPunch records a manager correction of a punch (optionally moving
// its timestamp), re-accepts it, marks the anomalies it raised corrected,
// and re-runs reconciliation for the affected dates.
func (e *Engine) CorrectPunch(ctx context.Context, tenant TenantID, id PunchID, by, note string, correctedAt *time.Time, scope VisibilityScope) (Punch, error) {
	p, err := e.Store.GetPunch(ctx, tenant, id)
	if err != nil {
		return Punch{}, err
	}
	if !scope.Allows(p.EmployeeID) {
		return Punch{}, ErrOutOfScope
	}
	now := e.Clock.Now()
	if correctedAt != nil {
		utc := correctedAt.UTC()
		if utc.After(now.Add(MaxClockSkew)) {
			return Punch{}, fmt.Errorf("%w: corrected timestamp is in the future", ErrInvalidPunch)
		}
		correctedAt = &utc
	}
	settings, err := e.Settings(ctx, tenant)
	if err != nil {
		return Punch{}, err
	}
	emp, err := e.Store.Employee(ctx, tenant, p.EmployeeID)
	if err != nil {
		return Punch{}, fmt.Errorf("employee %s: %w", p.EmployeeID, err)
	}

	unlock := e.employees.Lock(string(tenant) + "|" + string(p.EmployeeID))
	defer unlock()

	previous := p.EffectiveTime()
	c := PunchCorrection{
		ID:                 uuid.NewString(),
		TenantID:           tenant,
		PunchID:            id,
		CorrectedBy:        by,
		Note:               note,
		PreviousTimestamp:  previous,
		CorrectedTimestamp: correctedAt,
		At:                 now,
	}
	if err := e.Store.ApplyCorrection(ctx, c); err != nil {
		return Punch{}, fmt.Errorf("apply correction: %w", err)
	}

	linked, err := e.Store.ListAnomalies(ctx, tenant, AnomalyFilter{EmployeeID: p.EmployeeID, IncludeCorrected: false})
	if err != nil {
		return Punch{}, fmt.Errorf("load anomalies: %w", err)
	}
	for _, a := range linked {
		if a.PunchID != id {
			continue
		}
		if err := e.Store.CorrectAnomaly(ctx, tenant, a.ID, by, "punch corrected: "+note, now); err != nil {
			return Punch{}, fmt.Errorf("correct anomaly %s: %w", a.ID, err)
		}
	}

	loc := settings.Location()
	dates := []Date{DateOf(previous, loc).AddDays(-1), DateOf(previous, loc)}
	if correctedAt != nil {
		if d := DateOf(*correctedAt, loc); d != dates[1] {
			dates = spanDates(dates[0], d)
		}
	}
	if _, err := e.reconcile(ctx, settings, emp, dates, now, nil); err != nil {
		return Punch{}, err
	}
	return e.Store.GetPunch(ctx, tenant, id)
}

// spanDates returns [d-1, d] extended to cover other.
func spanDates(first, other Date) []Date {
	from, to := first, first.AddDays(1)
	if other.Before(from) {
		from = other.AddDays(-1)
	}
	if other.After(to) {
		to = other
	}
	return DatesBetween(from, to)
}

// SetOvertimeStatus is the approval workflow hook. approvedHours is only
// meaningful for APPROVED and never changes hours or rate.
func (e *Engine) SetOvertimeStatus(ctx context.Context, tenant TenantID, id OvertimeID, status OvertimeStatus, approvedHours *decimal.Decimal) error {
	if status != OvertimeApproved && status != OvertimeRejected && status != OvertimePending {
		return fmt.Errorf("%w: overtime status %q", ErrInvalidStatus, status)
	}
	if approvedHours != nil && (status != OvertimeApproved || approvedHours.IsNegative()) {
		return fmt.Errorf("%w: approved hours only apply to APPROVED and must be >= 0", ErrInvalidStatus)
	}
	return e.Store.SetOvertimeStatus(ctx, tenant, id, status, approvedHours)
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) Anomalies(ctx context.Context, tenant TenantID, f AnomalyFilter) ([]Anomaly, error) {
	return e.Store.ListAnomalies(ctx, tenant, f)
}

func (e *Engine) Sessions(ctx context.Context, tenant TenantID, f SessionFilter) ([]Session, error) {
	return e.Store.ListSessions(ctx, tenant, f)
}

func (e *Engine) Overtime(ctx context.Context, tenant TenantID, f OvertimeFilter) ([]OvertimeRecord, error) {
	return e.Store.ListOvertime(ctx, tenant, f)
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
