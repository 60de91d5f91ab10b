/*
classify.go - Anomaly Classifier: LATE, ABSENCE_PARTIAL, ABSENCE, ABSENCE_TECHNICAL

PURPOSE:
  Compares reconciled sessions (or their absence) with the shift window of
  the work date and decides which day-level anomalies apply.

THRESHOLDS (tenant-configurable, minutes):

    lateMinutes <= lateToleranceEntry                          -> none
    lateToleranceEntry < lateMinutes < absencePartialThreshold -> LATE
    lateMinutes >= absencePartialThreshold                     -> ABSENCE_PARTIAL

  No session at all once the scheduled end has passed, on a working day,
  for an active employee:

    run of >= N consecutive FAILED attempts -> ABSENCE_TECHNICAL
    otherwise                               -> ABSENCE

ORDER OF CHECKS:
  Approved leave is checked first and suppresses every excusable type. A
  missing window (unscheduled employee) produces nothing at all.

SEE ALSO:
  - reconcile.go: produces the sessions classified here
  - engine.go: upserts the result and triggers notifications
*/
package attendance

import (
	"fmt"
	"time"
)

type Classifier struct {
	Settings TenantSettings
}

func NewClassifier(settings TenantSettings) *Classifier {
	return &Classifier{Settings: settings}
}

// ClassifyArrival classifies the IN of a session against its window. It
// returns false when the arrival is on time, the session has no IN, or the
// session is unscheduled.
func (c *Classifier) ClassifyArrival(s Session) (Anomaly, bool) {
	if s.Window == nil || s.OpenedAt == nil {
		return Anomaly{}, false
	}
	late := wholeMinutes(s.OpenedAt.Sub(s.Window.ScheduledStart()))
	if late <= c.Settings.LateToleranceEntryMinutes {
		return Anomaly{}, false
	}

	loc := c.Settings.Location()
	a := Anomaly{
		TenantID:    s.TenantID,
		EmployeeID:  s.EmployeeID,
		Date:        s.Date,
		SessionID:   s.ID,
		PunchID:     s.OpenPunchID,
		LateMinutes: late,
	}
	arrival := s.OpenedAt.In(loc).Format("15:04")
	if late >= c.Settings.AbsencePartialThresholdMinutes {
		a.Type = AnomalyAbsencePartial
		a.Severity = SeverityMedium
		a.Reason = fmt.Sprintf("arrived at %s, %d min after scheduled start %s (partial absence threshold %d min)",
			arrival, late, s.Window.StartTime, c.Settings.AbsencePartialThresholdMinutes)
		return a, true
	}
	a.Type = AnomalyLate
	a.Severity = SeverityLow
	a.Reason = fmt.Sprintf("arrived at %s, %d min after scheduled start %s (tolerance %d min)",
		arrival, late, s.Window.StartTime, c.Settings.LateToleranceEntryMinutes)
	return a, true
}

// DayInput is everything known about one employee's work date.
type DayInput struct {
	Employee  Employee
	Date      Date
	Window    *ShiftWindow
	Sessions  []Session // sessions whose work date is Date
	Attempts  []CaptureAttempt
	OnLeave   bool
	IsHoliday bool
	Now       time.Time
}

type DayResult struct {
	Anomalies  []Anomaly
	Suppressed []AnomalyType // excused by approved leave
}

// ClassifyDay applies the arrival and absence rules to a whole work date.
func (c *Classifier) ClassifyDay(in DayInput) DayResult {
	var res DayResult
	if in.Window == nil {
		return res
	}

	var candidates []Anomaly
	if first, ok := firstArrival(in.Sessions); ok {
		if a, ok := c.ClassifyArrival(first); ok {
			candidates = append(candidates, a)
		}
	} else if len(in.Sessions) == 0 {
		if a, ok := c.classifyAbsence(in); ok {
			candidates = append(candidates, a)
		}
	}

	for _, a := range candidates {
		if in.OnLeave && a.Type.Excusable() {
			res.Suppressed = append(res.Suppressed, a.Type)
			continue
		}
		a.DetectedAt = in.Now
		res.Anomalies = append(res.Anomalies, a)
	}
	return res
}

func (c *Classifier) classifyAbsence(in DayInput) (Anomaly, bool) {
	switch {
	case in.Now.Before(in.Window.ScheduledEnd()):
		return Anomaly{}, false
	case !c.Settings.IsWorkingDay(in.Date), in.IsHoliday:
		return Anomaly{}, false
	case !in.Employee.IsActive:
		return Anomaly{}, false
	}

	a := Anomaly{
		TenantID:   in.Employee.TenantID,
		EmployeeID: in.Employee.ID,
		Date:       in.Date,
	}
	run, kind := failedRun(in.Attempts)
	if run >= c.Settings.TechnicalAbsenceMinFailedAttempts {
		a.Type = AnomalyAbsenceTechnical
		a.Severity = technicalSeverity(kind)
		a.Reason = fmt.Sprintf("no punch for shift %s but %d consecutive failed capture attempts (%s)",
			in.Window, run, kindName(kind))
		return a, true
	}
	a.Type = AnomalyAbsence
	a.Severity = SeverityHigh
	a.Reason = fmt.Sprintf("no punch for scheduled shift %s", in.Window)
	return a, true
}

// firstArrival returns the earliest session of the day that has an IN.
func firstArrival(sessions []Session) (Session, bool) {
	var first *Session
	for i := range sessions {
		s := &sessions[i]
		if s.OpenedAt == nil {
			continue
		}
		if first == nil || s.OpenedAt.Before(*first.OpenedAt) {
			first = s
		}
	}
	if first == nil {
		return Session{}, false
	}
	return *first, true
}

// failedRun returns the longest run of consecutive FAILED attempts and the
// most severe failure kind seen in that run.
func failedRun(attempts []CaptureAttempt) (int, FailureKind) {
	var best, cur int
	var bestKind, curKind FailureKind
	for _, a := range attempts {
		if a.Status != AttemptFailed {
			cur, curKind = 0, FailureUnknown
			continue
		}
		cur++
		if k := a.Kind(); k > curKind {
			curKind = k
		}
		if cur > best || (cur == best && curKind > bestKind) {
			best, bestKind = cur, curKind
		}
	}
	return best, bestKind
}

func technicalSeverity(k FailureKind) Severity {
	switch k {
	case FailureHardware:
		return SeverityHigh
	case FailureNetwork:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func kindName(k FailureKind) string {
	switch k {
	case FailureHardware:
		return "hardware failure"
	case FailureNetwork:
		return "network error"
	default:
		return "unknown error"
	}
}
