/*
reconcile.go - Session Reconciler: pairs punches into sessions

PURPOSE:
  Replays one employee's accepted punches in effective-time order and
  derives sessions plus the pairing anomalies (DOUBLE_IN, MISSING_IN,
  MISSING_OUT). The replay is pure: the same punches, windows, settings and
  "now" always produce the same sessions with the same IDs, so persisting
  the result is an idempotent upsert.

STATE MACHINE (per employee):

    (none) --IN--> OPEN --OUT within deadline--> CLOSED
      |             |--IN--> DOUBLE_IN anomaly, session unchanged
      |             '--now or next punch past deadline--> MISSING_OUT (terminal)
      '--OUT--> ORPHAN_OUT + MISSING_IN anomaly

  BREAK and REJECTED punches are skipped.

DETECTION DEADLINE:
  Scheduled:   scheduled end (on date+1 for night shifts) + missingOutDetectionWindowHours
  Unscheduled: IN + fallbackWindowHours

WORK DATE:
  A punch belongs to the previous calendar date when that date's window
  crosses midnight and still covers the punch; otherwise it belongs to its
  own local date. A night shift's session therefore keeps the date it
  started on.

SEE ALSO:
  - shift.go: produces the WindowSet consumed here
  - classify.go: LATE/ABSENCE classification on top of the sessions
*/
package attendance

import (
	"fmt"
	"sort"
	"time"
)

type ReconcileInput struct {
	TenantID   TenantID
	EmployeeID EmployeeID
	Punches    []Punch
	Windows    WindowSet
	Now        time.Time
}

type ReconcileResult struct {
	Sessions    []Session
	Anomalies   []Anomaly // pairing anomalies only
	Annotations []DatedAnnotation
}

// DatedAnnotation is a punch annotation tagged with the work date it
// belongs to.
type DatedAnnotation struct {
	Date Date
	PunchAnnotation
}

// SessionsOn returns the sessions whose work date is d.
func (r ReconcileResult) SessionsOn(d Date) []Session {
	var out []Session
	for _, s := range r.Sessions {
		if s.Date == d {
			out = append(out, s)
		}
	}
	return out
}

// AnnotationsOn returns the punch annotations of work date d.
func (r ReconcileResult) AnnotationsOn(d Date) []PunchAnnotation {
	var out []PunchAnnotation
	for _, a := range r.Annotations {
		if a.Date == d {
			out = append(out, a.PunchAnnotation)
		}
	}
	return out
}

// AnomaliesOn returns the anomalies dated d.
func (r ReconcileResult) AnomaliesOn(d Date) []Anomaly {
	var out []Anomaly
	for _, a := range r.Anomalies {
		if a.Date == d {
			out = append(out, a)
		}
	}
	return out
}

// Reconciler holds the thresholds of one tenant.
type Reconciler struct {
	Settings TenantSettings
}

func NewReconciler(settings TenantSettings) *Reconciler {
	return &Reconciler{Settings: settings}
}

func (r *Reconciler) Reconcile(in ReconcileInput) ReconcileResult {
	loc := r.Settings.Location()
	punches := pairable(in.Punches)

	run := &replay{
		input:    in,
		settings: r.Settings,
		loc:      loc,
		seen:     make(map[OccurrenceKey]bool),
	}
	for _, p := range punches {
		t := p.EffectiveTime()
		if run.open != nil && t.After(run.open.DetectionDeadline) {
			run.expire()
		}
		switch p.Direction {
		case DirectionIn:
			run.punchIn(p, t)
		case DirectionOut:
			run.punchOut(p, t)
		}
	}
	if run.open != nil && in.Now.After(run.open.DetectionDeadline) {
		run.expire()
	}
	run.flush()
	return run.result
}

// pairable returns accepted IN/OUT punches ordered by effective time.
func pairable(punches []Punch) []Punch {
	out := make([]Punch, 0, len(punches))
	for _, p := range punches {
		if !p.Accepted() || p.Direction == DirectionBreak {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].EffectiveTime(), out[j].EffectiveTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// REPLAY STATE
// =============================================================================

type replay struct {
	input    ReconcileInput
	settings TenantSettings
	loc      *time.Location
	open     *Session
	seen     map[OccurrenceKey]bool
	result   ReconcileResult
}

func (r *replay) punchIn(p Punch, t time.Time) {
	if r.open != nil {
		opened := r.open.OpenedAt.In(r.loc).Format("15:04")
		r.anomaly(Anomaly{
			Date:      r.open.Date,
			Type:      AnomalyDoubleIn,
			Severity:  SeverityLow,
			SessionID: r.open.ID,
			PunchID:   p.ID,
			Reason: fmt.Sprintf("IN at %s while the session opened at %s is still open",
				t.In(r.loc).Format("15:04"), opened),
		})
		r.annotate(r.open.Date, p.ID, AnomalyDoubleIn, "second IN ignored, session already open")
		return
	}

	date, window := r.workDate(t, func(w *ShiftWindow) time.Time { return w.ScheduledEnd() })
	opened := t
	s := Session{
		ID:          SessionIDFor(p.ID),
		TenantID:    r.input.TenantID,
		EmployeeID:  r.input.EmployeeID,
		Date:        date,
		OpenPunchID: p.ID,
		OpenedAt:    &opened,
		Window:      window,
		State:       SessionOpen,
	}
	if window != nil {
		s.DetectionDeadline = window.DetectionDeadline(r.settings.MissingOutDetectionWindowHours)
		s.LateMinutes = wholeMinutes(t.Sub(window.ScheduledStart()))
	} else {
		s.DetectionDeadline = t.Add(time.Duration(r.settings.FallbackWindowHours) * time.Hour)
	}
	r.open = &s
}

func (r *replay) punchOut(p Punch, t time.Time) {
	if r.open == nil {
		r.orphan(p, t)
		return
	}
	s := r.open
	closed := t
	s.ClosePunchID = p.ID
	s.ClosedAt = &closed
	s.State = SessionClosed
	s.WorkedMinutes = wholeMinutes(t.Sub(*s.OpenedAt))
	if w := s.Window; w != nil {
		s.WorkedMinutes -= w.BreakDurationMinutes
		if s.WorkedMinutes < 0 {
			s.WorkedMinutes = 0
		}
		end := w.ScheduledEnd()
		if early := wholeMinutes(end.Sub(t)); early > r.settings.EarlyToleranceExitMinutes {
			s.EarlyLeaveMinutes = early
		}
		s.OvertimeMinutes = wholeMinutes(t.Sub(end))
	}
	r.result.Sessions = append(r.result.Sessions, *s)
	r.open = nil
}

func (r *replay) orphan(p Punch, t time.Time) {
	date, window := r.workDate(t, func(w *ShiftWindow) time.Time {
		return w.DetectionDeadline(r.settings.MissingOutDetectionWindowHours)
	})
	closed := t
	s := Session{
		ID:                SessionIDFor(p.ID),
		TenantID:          r.input.TenantID,
		EmployeeID:        r.input.EmployeeID,
		Date:              date,
		ClosePunchID:      p.ID,
		ClosedAt:          &closed,
		Window:            window,
		DetectionDeadline: t,
		State:             SessionOrphanOut,
	}
	r.result.Sessions = append(r.result.Sessions, s)
	r.anomaly(Anomaly{
		Date:      date,
		Type:      AnomalyMissingIn,
		Severity:  SeverityMedium,
		SessionID: s.ID,
		PunchID:   p.ID,
		Reason:    fmt.Sprintf("OUT at %s with no open session", t.In(r.loc).Format("15:04")),
	})
	r.annotate(date, p.ID, AnomalyMissingIn, "OUT without matching IN")
}

// expire moves the open session to the terminal MISSING_OUT state.
func (r *replay) expire() {
	s := r.open
	s.State = SessionMissingOut
	r.result.Sessions = append(r.result.Sessions, *s)
	r.anomaly(Anomaly{
		Date:      s.Date,
		Type:      AnomalyMissingOut,
		Severity:  SeverityMedium,
		SessionID: s.ID,
		PunchID:   s.OpenPunchID,
		Reason: fmt.Sprintf("no OUT before detection deadline %s",
			s.DetectionDeadline.In(r.loc).Format("2006-01-02 15:04")),
	})
	r.annotate(s.Date, s.OpenPunchID, AnomalyMissingOut, "session never closed")
	r.open = nil
}

// flush emits a session still open at the end of the replay.
func (r *replay) flush() {
	if r.open != nil {
		r.result.Sessions = append(r.result.Sessions, *r.open)
		r.open = nil
	}
}

// workDate picks the previous date when its window crosses midnight and the
// bound returned by until still covers t.
func (r *replay) workDate(t time.Time, until func(*ShiftWindow) time.Time) (Date, *ShiftWindow) {
	local := DateOf(t, r.loc)
	if prev := r.input.Windows.For(local.AddDays(-1)); prev != nil && prev.CrossesMidnight() {
		if !t.Before(prev.ScheduledStart()) && !t.After(until(prev)) {
			return prev.Date, prev
		}
	}
	return local, r.input.Windows.For(local)
}

// anomaly records a, keeping only the first occurrence per key.
func (r *replay) anomaly(a Anomaly) {
	a.TenantID = r.input.TenantID
	a.EmployeeID = r.input.EmployeeID
	a.DetectedAt = r.input.Now
	if r.seen[a.OccurrenceKey()] {
		return
	}
	r.seen[a.OccurrenceKey()] = true
	r.result.Anomalies = append(r.result.Anomalies, a)
}

func (r *replay) annotate(date Date, id PunchID, t AnomalyType, note string) {
	r.result.Annotations = append(r.result.Annotations, DatedAnnotation{
		Date: date,
		PunchAnnotation: PunchAnnotation{
			PunchID:     id,
			HasAnomaly:  true,
			AnomalyType: t,
			AnomalyNote: note,
		},
	})
}
