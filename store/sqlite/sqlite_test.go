package sqlite_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/mailer"
	"github.com/warp/attendance-engine/store/sqlite"
)

const acme attendance.TenantID = "acme"

var monday = attendance.NewDate(2024, time.March, 4)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func at(d attendance.Date, hhmm string) time.Time {
	return d.At(attendance.MustTimeOfDay(hhmm), time.UTC)
}

// seed creates a tenant with one day-shift employee and their manager.
func seed(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveTenant(ctx, attendance.Tenant{ID: acme, Name: "Acme Textiles"}))
	require.NoError(t, store.SaveShift(ctx, attendance.Shift{
		ID: "day", TenantID: acme, Name: "Day",
		StartTime: attendance.MustTimeOfDay("09:00"), EndTime: attendance.MustTimeOfDay("17:00"),
		BreakDurationMinutes: 60,
	}))
	require.NoError(t, store.SaveEmployee(ctx, attendance.Employee{
		ID: "emp-1", TenantID: acme, Name: "Amina Benali", IsActive: true,
		DefaultShiftID: "day", IsEligibleForOvertime: true,
	}))
	require.NoError(t, store.SaveManager(ctx, acme, "emp-1", attendance.Manager{ID: "mgr-1", Name: "Nadia Amrani"}))
}

// =============================================================================
// PUNCHES
// =============================================================================

func TestStore_Punches(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	in := attendance.Punch{
		ID: "p-1", TenantID: acme, EmployeeID: "emp-1",
		Timestamp: at(monday, "09:02"), Direction: attendance.DirectionIn,
		Method: attendance.MethodBiometric, DeviceID: "gate-1",
		Status: attendance.PunchAccepted, CreatedAt: at(monday, "09:02"),
	}
	require.NoError(t, store.InsertPunch(ctx, in))

	// Replayed device punch
	err := store.InsertPunch(ctx, in)
	assert.ErrorIs(t, err, attendance.ErrDuplicatePunch)

	got, err := store.GetPunch(ctx, acme, "p-1")
	require.NoError(t, err)
	assert.True(t, in.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, attendance.DirectionIn, got.Direction)
	assert.Equal(t, "gate-1", got.DeviceID)

	_, err = store.GetPunch(ctx, "globex", "p-1")
	assert.True(t, attendance.IsNotFound(err), "punches are tenant scoped")

	list, err := store.ListPunches(ctx, acme, "emp-1", at(monday, "00:00"), at(monday.AddDays(1), "00:00"))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = store.ListPunches(ctx, acme, "emp-1", at(monday, "09:03"), at(monday.AddDays(1), "00:00"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// ANOMALIES
// =============================================================================

func TestStore_UpsertAnomaly_OneRowPerOccurrence(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := attendance.Anomaly{
		ID: "a-1", TenantID: acme, EmployeeID: "emp-1", Date: monday,
		Type: attendance.AnomalyLate, Severity: attendance.SeverityLow,
		LateMinutes: 20, Reason: "arrived at 09:20", DetectedAt: at(monday, "09:20"),
	}

	created, err := store.UpsertAnomaly(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)

	// Same occurrence key, different ID and lateness
	again := a
	again.ID = "a-2"
	again.LateMinutes = 25
	created, err = store.UpsertAnomaly(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	list, err := store.ListAnomalies(ctx, acme, attendance.AnomalyFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, attendance.AnomalyID("a-1"), list[0].ID)
	assert.Equal(t, 25, list[0].LateMinutes, "a changed classification is written")
}

func TestStore_CorrectedAnomaly_NotOverwritten(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := attendance.Anomaly{
		ID: "a-1", TenantID: acme, EmployeeID: "emp-1", Date: monday,
		Type: attendance.AnomalyAbsence, Severity: attendance.SeverityHigh, DetectedAt: at(monday, "17:00"),
	}
	_, err := store.UpsertAnomaly(ctx, a)
	require.NoError(t, err)
	require.NoError(t, store.CorrectAnomaly(ctx, acme, "a-1", "mgr-1", "worked from client site", at(monday, "18:00")))

	a.Severity = attendance.SeverityCritical
	created, err := store.UpsertAnomaly(ctx, a)
	require.NoError(t, err)
	assert.False(t, created)

	hidden, err := store.ListAnomalies(ctx, acme, attendance.AnomalyFilter{})
	require.NoError(t, err)
	assert.Empty(t, hidden, "corrected anomalies are hidden by default")

	all, err := store.ListAnomalies(ctx, acme, attendance.AnomalyFilter{IncludeCorrected: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsCorrected)
	assert.Equal(t, "mgr-1", all[0].CorrectedBy)
	assert.Equal(t, "worked from client site", all[0].CorrectionNote)
	assert.Equal(t, attendance.SeverityHigh, all[0].Severity)

	err = store.CorrectAnomaly(ctx, acme, "missing", "mgr-1", "", at(monday, "18:00"))
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}

func TestStore_ListAnomalies_Scope(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, emp := range []attendance.EmployeeID{"emp-1", "emp-2"} {
		_, err := store.UpsertAnomaly(ctx, attendance.Anomaly{
			ID: attendance.AnomalyID("a-" + string(emp)), TenantID: acme, EmployeeID: emp, Date: monday,
			Type: attendance.AnomalyAbsence, Severity: attendance.SeverityHigh, DetectedAt: at(monday, "17:00"),
		})
		require.NoError(t, err)
	}

	list, err := store.ListAnomalies(ctx, acme, attendance.AnomalyFilter{Scope: attendance.ScopeOf("emp-2")})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, attendance.EmployeeID("emp-2"), list[0].EmployeeID)

	list, err = store.ListAnomalies(ctx, acme, attendance.AnomalyFilter{Scope: attendance.ScopeOf()})
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// OVERTIME
// =============================================================================

func TestStore_Overtime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	record := func(id string, d attendance.Date, hours string) attendance.OvertimeRecord {
		return attendance.OvertimeRecord{
			ID: attendance.OvertimeID(id), TenantID: acme, EmployeeID: "emp-1", Date: d,
			Hours: decimal.RequireFromString(hours), Type: attendance.OvertimeStandard,
			Rate: decimal.RequireFromString("1.25"), Status: attendance.OvertimePending,
			CreatedAt: at(d, "18:00"),
		}
	}
	require.NoError(t, store.InsertOvertime(ctx, record("ot-1", monday, "1.5")))
	require.NoError(t, store.InsertOvertime(ctx, record("ot-2", monday.AddDays(1), "2")))
	require.NoError(t, store.InsertOvertime(ctx, record("ot-3", monday.AddDays(2), "0.75")))

	err := store.InsertOvertime(ctx, record("ot-dup", monday, "1"))
	assert.ErrorIs(t, err, attendance.ErrDuplicateOvertime)

	approved := decimal.RequireFromString("1")
	require.NoError(t, store.SetOvertimeStatus(ctx, acme, "ot-2", attendance.OvertimeApproved, &approved))
	require.NoError(t, store.SetOvertimeStatus(ctx, acme, "ot-3", attendance.OvertimeRejected, nil))

	// 1.5 pending + 1 approved; rejected hours do not count
	sum, err := store.SumOvertimeHours(ctx, acme, "emp-1", monday, monday.AddDays(6))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.5").Equal(sum), "sum %s", sum)

	got, ok, err := store.GetOvertimeForDay(ctx, acme, "emp-1", monday.AddDays(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, attendance.OvertimeApproved, got.Status)
	require.NotNil(t, got.ApprovedHours)
	assert.True(t, approved.Equal(*got.ApprovedHours))

	_, ok, err = store.GetOvertimeForDay(ctx, acme, "emp-1", monday.AddDays(5))
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := store.ListOvertime(ctx, acme, attendance.OvertimeFilter{Status: attendance.OvertimePending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// =============================================================================
// NOTIFICATION LOG
// =============================================================================

func TestStore_NotificationLog(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := attendance.NewOccurrenceKey("emp-1", monday, attendance.AnomalyLate)

	for i, hhmm := range []string{"09:30", "13:30"} {
		require.NoError(t, store.AppendNotification(ctx, attendance.NotificationLogEntry{
			ID: string(rune('a' + i)), TenantID: acme, OccurrenceKey: key,
			AnomalyType: attendance.AnomalyLate, EmployeeID: "emp-1", ManagerID: "mgr-1",
			SentAt: at(monday, hhmm),
		}))
	}

	last, found, err := store.LastNotified(ctx, acme, key, "mgr-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, at(monday, "13:30").Equal(last.SentAt))

	_, found, err = store.LastNotified(ctx, acme, key, "mgr-2")
	require.NoError(t, err)
	assert.False(t, found)

	n, err := store.PurgeNotifications(ctx, at(monday, "12:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestStore_Settings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, ok, err := store.Settings(ctx, acme)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.SaveSettingsJSON(ctx, acme, []byte(`{"late_tolerance_entry_minutes": -1}`))
	assert.ErrorIs(t, err, attendance.ErrInvalidSettings)

	_, err = store.SaveSettingsJSON(ctx, acme, []byte(`{"timezone": "Africa/Casablanca", "overtime": {"cap_policy": "hard"}}`))
	require.NoError(t, err)

	s, ok, err := store.Settings(ctx, acme)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Africa/Casablanca", s.Timezone)
	assert.Equal(t, attendance.CapHard, s.OvertimeCapPolicy)
	assert.Equal(t, 10, s.LateToleranceEntryMinutes, "unset fields follow defaults")
}

func TestStore_Calendars(t *testing.T) {
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()

	require.NoError(t, store.SaveHoliday(ctx, attendance.Holiday{
		ID: "h-1", TenantID: acme, Date: attendance.NewDate(2020, time.January, 11), Name: "Manifesto Day", Recurring: true,
	}))
	require.NoError(t, store.SaveHoliday(ctx, attendance.Holiday{ID: "h-2", TenantID: acme, Date: monday, Name: "Company Day"}))
	require.NoError(t, store.SaveLeave(ctx, attendance.Leave{
		ID: "l-1", TenantID: acme, EmployeeID: "emp-1", From: monday, To: monday.AddDays(2), Status: attendance.LeaveApproved,
	}))
	require.NoError(t, store.SaveLeave(ctx, attendance.Leave{
		ID: "l-2", TenantID: acme, EmployeeID: "emp-1", From: monday.AddDays(7), To: monday.AddDays(7), Status: attendance.LeavePending,
	}))

	holiday := func(d attendance.Date) bool {
		ok, err := store.IsHoliday(ctx, acme, d)
		require.NoError(t, err)
		return ok
	}
	assert.True(t, holiday(attendance.NewDate(2024, time.January, 11)))
	assert.True(t, holiday(monday))
	assert.False(t, holiday(monday.AddDays(365)))

	leave := func(d attendance.Date) bool {
		ok, err := store.OnApprovedLeave(ctx, acme, "emp-1", d)
		require.NoError(t, err)
		return ok
	}
	assert.True(t, leave(monday.AddDays(2)))
	assert.False(t, leave(monday.AddDays(3)))
	assert.False(t, leave(monday.AddDays(7)), "pending leave does not count")

	emp, err := store.Employee(ctx, acme, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "day", emp.DefaultShiftID)

	_, err = store.Employee(ctx, acme, "ghost")
	assert.True(t, attendance.IsNotFound(err))

	managers, err := store.Managers(ctx, acme, "emp-1")
	require.NoError(t, err)
	require.Len(t, managers, 1)
	assert.Equal(t, "Nadia Amrani", managers[0].Name)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestStore_EngineEndToEnd(t *testing.T) {
	// GIVEN: A scheduled employee who punches late and leaves 45 minutes past end
	store := newStore(t)
	seed(t, store)
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	engine := attendance.NewEngine(store, &mailer.LogSender{Logger: quiet}, attendance.FixedClock{At: at(monday, "09:25")})
	engine.Logger = quiet
	engine.Notifier.Logger = quiet

	for _, p := range []struct {
		dir attendance.Direction
		ts  time.Time
	}{
		{attendance.DirectionIn, at(monday, "09:25")},
		{attendance.DirectionOut, at(monday, "17:45")},
	} {
		engine.Clock = attendance.FixedClock{At: p.ts}
		_, err := engine.IngestPunch(ctx, attendance.Punch{
			TenantID: acme, EmployeeID: "emp-1", Timestamp: p.ts, Direction: p.dir, Method: attendance.MethodRFID,
		})
		require.NoError(t, err)
	}

	// WHEN: The nightly sweep runs twice
	for i := 0; i < 2; i++ {
		_, err := engine.ReconcileTenantDay(ctx, acme, monday, at(monday.AddDays(1), "00:30"))
		require.NoError(t, err)
	}

	// THEN: One LATE, one overtime record, one notification
	anomalies, err := engine.Anomalies(ctx, acme, attendance.AnomalyFilter{})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, attendance.AnomalyLate, anomalies[0].Type)
	assert.Equal(t, 25, anomalies[0].LateMinutes)

	overtime, err := engine.Overtime(ctx, acme, attendance.OvertimeFilter{})
	require.NoError(t, err)
	require.Len(t, overtime, 1)
	assert.True(t, decimal.RequireFromString("0.75").Equal(overtime[0].Hours))

	sessions, err := engine.Sessions(ctx, acme, attendance.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, attendance.SessionClosed, sessions[0].State)
	require.NotNil(t, sessions[0].Window)
	assert.Equal(t, "09:00", sessions[0].Window.StartTime.String())

	_, found, err := store.LastNotified(ctx, acme, anomalies[0].OccurrenceKey(), "mgr-1")
	require.NoError(t, err)
	assert.True(t, found)
}
