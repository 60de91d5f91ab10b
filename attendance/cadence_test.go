package attendance_test

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// NIGHTLY CADENCE
// =============================================================================

// nightly fires the tenant sweep the way the scheduler does: at the default
// 00:00 detection time of every day in [from, to], for the previous day.
func (f *fixture) nightly(from, to attendance.Date) {
	f.t.Helper()
	sweeper := attendance.NewSweeper(f.engine, f.store)
	sweeper.Logger = log.New(io.Discard, "", 0)
	for d := from; !d.After(to); d = d.AddDays(1) {
		now := at(d, "00:00")
		f.now(now)
		settings, err := f.engine.Settings(f.ctx, acme)
		require.NoError(f.t, err)
		_, err = sweeper.SweepTenant(f.ctx, acme, attendance.PreviousDay(now, settings))
		require.NoError(f.t, err)
	}
}

func anomalyDates(list []attendance.Anomaly, typ attendance.AnomalyType) []attendance.Date {
	var out []attendance.Date
	for _, a := range list {
		if a.Type == typ {
			out = append(out, a.Date)
		}
	}
	return out
}

func TestCadence_DayShift_MissingOutFlaggedNextNight(t *testing.T) {
	// GIVEN: A day-shift employee who punched IN on Monday and never out
	// WHEN: The nightly sweep runs Tuesday through Saturday
	// THEN: Monday's session ends MISSING_OUT with one MISSING_OUT anomaly

	f := newFixture(t)
	f.employee("emp-1", "day")
	f.punch("emp-1", attendance.DirectionIn, at(monday, "09:00"))

	f.nightly(monday.AddDays(1), monday.AddDays(1))
	require.Len(t, f.sessions("emp-1"), 1)
	assert.Equal(t, attendance.SessionOpen, f.sessions("emp-1")[0].State, "deadline 05:00 not reached at 00:00")

	f.nightly(monday.AddDays(2), monday.AddDays(5))

	sessions := f.sessions("emp-1")
	require.Len(t, sessions, 1)
	assert.Equal(t, attendance.SessionMissingOut, sessions[0].State)
	assert.Equal(t, []attendance.Date{monday}, anomalyDates(f.anomalies("emp-1"), attendance.AnomalyMissingOut))
}

func TestCadence_FridayMissingOutCaughtOverWeekend(t *testing.T) {
	// GIVEN: A Friday IN with no OUT
	// WHEN: The nightly sweep runs Saturday, Sunday and Monday
	// THEN: The Sunday run flags Friday MISSING_OUT

	f := newFixture(t)
	friday := monday.AddDays(4)
	f.employee("emp-1", "day")
	f.punch("emp-1", attendance.DirectionIn, at(friday, "09:00"))

	f.nightly(friday.AddDays(1), friday.AddDays(1))
	assert.Empty(t, anomalyDates(f.anomalies("emp-1"), attendance.AnomalyMissingOut))

	f.nightly(friday.AddDays(2), friday.AddDays(3))
	assert.Equal(t, []attendance.Date{friday}, anomalyDates(f.anomalies("emp-1"), attendance.AnomalyMissingOut))
	assert.Equal(t, attendance.SessionMissingOut, f.sessions("emp-1")[0].State)
}

func TestCadence_SkippedNightsStillCloseStaleSessions(t *testing.T) {
	// GIVEN: A Monday IN with no OUT and no sweep until Friday 00:00
	// WHEN: The Friday run sweeps Thursday
	// THEN: Monday is replayed and flagged MISSING_OUT

	f := newFixture(t)
	f.employee("emp-1", "day")
	f.punch("emp-1", attendance.DirectionIn, at(monday, "09:00"))

	now := at(monday.AddDays(4), "00:00")
	report := f.sweep(monday.AddDays(3), now)

	assert.Equal(t, []attendance.Date{monday}, anomalyDates(f.anomalies("emp-1"), attendance.AnomalyMissingOut))
	assert.Equal(t, attendance.SessionMissingOut, f.sessions("emp-1")[0].State)

	require.Len(t, report.Days, 1)
	var dates []attendance.Date
	for _, d := range report.Days[0].All() {
		dates = append(dates, d.Date)
	}
	assert.Equal(t, []attendance.Date{monday, monday.AddDays(2), monday.AddDays(3)}, dates)
}

func TestCadence_DayShift_OneAbsencePerWorkingDay(t *testing.T) {
	// GIVEN: A day-shift employee who never punches
	// WHEN: The nightly sweep runs every night for a week
	// THEN: Exactly Monday to Friday carry an ABSENCE

	f := newFixture(t)
	f.employee("emp-1", "day")

	f.nightly(monday.AddDays(1), monday.AddDays(7))

	list := f.anomalies("emp-1")
	assert.Equal(t, []attendance.Date{
		monday, monday.AddDays(1), monday.AddDays(2), monday.AddDays(3), monday.AddDays(4),
	}, anomalyDates(list, attendance.AnomalyAbsence))
	assert.Len(t, list, 5)
}

func TestCadence_NightShift_AbsenceFlaggedOnFollowingRun(t *testing.T) {
	// GIVEN: A night-shift employee who never punches
	// WHEN: The nightly sweep runs every night for a week
	// THEN: Each working night gets one ABSENCE, Friday's from the Sunday run

	f := newFixture(t)
	f.employee("emp-1", "night")

	f.nightly(monday.AddDays(1), monday.AddDays(2))
	assert.Equal(t, []attendance.Date{monday}, anomalyDates(f.anomalies("emp-1"), attendance.AnomalyAbsence))

	f.nightly(monday.AddDays(3), monday.AddDays(5))
	assert.Len(t, anomalyDates(f.anomalies("emp-1"), attendance.AnomalyAbsence), 4, "Friday night ends Saturday 06:00")

	f.nightly(monday.AddDays(6), monday.AddDays(7))
	list := f.anomalies("emp-1")
	assert.Equal(t, []attendance.Date{
		monday, monday.AddDays(1), monday.AddDays(2), monday.AddDays(3), monday.AddDays(4),
	}, anomalyDates(list, attendance.AnomalyAbsence))
	assert.Len(t, list, 5)
}

func TestCadence_NightShift_TechnicalAbsence(t *testing.T) {
	// GIVEN: A night-shift employee whose badge failed three times on Monday night
	// WHEN: The nightly sweeps of Tuesday and Wednesday run
	// THEN: Monday gets ABSENCE_TECHNICAL, not ABSENCE

	f := newFixture(t)
	f.settings(func(s *attendance.TenantSettings) { s.TechnicalAbsenceMinFailedAttempts = 3 })
	f.employee("emp-1", "night")
	f.failedAttempts("emp-1", "BIOMETRIC_READ_FAILED",
		at(monday, "20:58"), at(monday, "20:59"), at(monday, "21:01"))

	f.nightly(monday.AddDays(1), monday.AddDays(2))

	list := f.anomalies("emp-1")
	require.Len(t, list, 1)
	assert.Equal(t, attendance.AnomalyAbsenceTechnical, list[0].Type)
	assert.Equal(t, monday, list[0].Date)
}

func TestCadence_NightShift_ClosedSessionIsClean(t *testing.T) {
	f := newFixture(t)
	f.employee("emp-1", "night")

	f.punch("emp-1", attendance.DirectionIn, at(monday, "20:55"))
	f.nightly(monday.AddDays(1), monday.AddDays(1))
	f.punch("emp-1", attendance.DirectionOut, at(monday.AddDays(1), "06:05"))
	f.nightly(monday.AddDays(2), monday.AddDays(2))

	sessions := f.sessions("emp-1")
	require.NotEmpty(t, sessions)
	assert.Equal(t, monday, sessions[0].Date)
	assert.Equal(t, attendance.SessionClosed, sessions[0].State)
	assert.Empty(t, anomalyDates(f.anomalies("emp-1"), attendance.AnomalyMissingOut))
	assert.NotContains(t, anomalyDates(f.anomalies("emp-1"), attendance.AnomalyAbsence), monday)
}

func TestReconcileTenantDay_IncludesInactiveEmployeeWithOpenSession(t *testing.T) {
	// GIVEN: An employee who punched IN on Monday and was deactivated Tuesday
	// WHEN: The Wednesday 00:00 run sweeps Tuesday
	// THEN: Monday is flagged MISSING_OUT and no ABSENCE is raised for Tuesday

	f := newFixture(t)
	emp := f.employee("emp-1", "day")
	f.punch("emp-1", attendance.DirectionIn, at(monday, "09:00"))

	emp.IsActive = false
	f.store.PutEmployee(emp)

	report := f.sweep(monday.AddDays(1), at(monday.AddDays(2), "00:00"))

	assert.Equal(t, 1, report.Employees)
	assert.Equal(t, []attendance.AnomalyType{attendance.AnomalyMissingOut}, typesOf(f.anomalies("emp-1")))
	assert.Equal(t, attendance.SessionMissingOut, f.sessions("emp-1")[0].State)
}
