package attendance_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const acme attendance.TenantID = "acme"

// 2024-03-04 is a Monday.
var monday = attendance.NewDate(2024, time.March, 4)

var manager = attendance.Manager{ID: "mgr-1", Name: "Nadia Amrani", Email: "nadia@example.com"}

type sentMessage struct {
	To       attendance.Manager
	Template string
	Vars     map[string]string
}

// recordingSender records every send and fails while fail is set.
type recordingSender struct {
	mu   sync.Mutex
	fail bool
	sent []sentMessage
}

func (s *recordingSender) Send(_ context.Context, to attendance.Manager, template string, vars map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("smtp: connection refused")
	}
	s.sent = append(s.sent, sentMessage{To: to, Template: template, Vars: vars})
	return nil
}

func (s *recordingSender) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Memory
	sender *recordingSender
	engine *attendance.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	mem.PutTenant(attendance.Tenant{ID: acme, Name: "Acme Textiles"})
	mem.PutSettings(acme, attendance.DefaultSettings())
	mem.PutShift(attendance.Shift{
		ID: "day", TenantID: acme, Name: "Day",
		StartTime: attendance.MustTimeOfDay("09:00"), EndTime: attendance.MustTimeOfDay("17:00"),
		BreakDurationMinutes: 60,
	})
	mem.PutShift(attendance.Shift{
		ID: "night", TenantID: acme, Name: "Night",
		StartTime: attendance.MustTimeOfDay("21:00"), EndTime: attendance.MustTimeOfDay("06:00"),
		BreakDurationMinutes: 30, IsNightShift: true,
	})

	quiet := log.New(io.Discard, "", 0)
	sender := &recordingSender{}
	engine := attendance.NewEngine(mem, sender, attendance.FixedClock{At: at(monday, "08:00")})
	engine.Logger = quiet
	engine.Notifier.Logger = quiet

	return &fixture{t: t, ctx: context.Background(), store: mem, sender: sender, engine: engine}
}

func at(d attendance.Date, hhmm string) time.Time {
	return d.At(attendance.MustTimeOfDay(hhmm), time.UTC)
}

func (f *fixture) settings(mutate func(*attendance.TenantSettings)) {
	s := attendance.DefaultSettings()
	mutate(&s)
	f.store.PutSettings(acme, s)
}

func (f *fixture) now(t time.Time) {
	f.engine.Clock = attendance.FixedClock{At: t}
}

// employee adds an active, overtime-eligible employee on shiftID with one
// manager. shiftID may be empty for an unscheduled employee.
func (f *fixture) employee(id, shiftID string, opts ...func(*attendance.Employee)) attendance.Employee {
	emp := attendance.Employee{
		ID:                    attendance.EmployeeID(id),
		TenantID:              acme,
		Name:                  "Employee " + id,
		IsActive:              true,
		DefaultShiftID:        shiftID,
		IsEligibleForOvertime: true,
	}
	for _, o := range opts {
		o(&emp)
	}
	f.store.PutEmployee(emp)
	f.store.PutManager(acme, emp.ID, manager)
	return emp
}

func weeklyCap(hours string, policy attendance.CapPolicy) func(*attendance.Employee) {
	return func(e *attendance.Employee) {
		c := decimal.RequireFromString(hours)
		e.MaxOvertimeHoursPerWeek = &c
		e.OvertimeCapPolicy = policy
	}
}

// punch ingests a punch with the clock set to its timestamp.
func (f *fixture) punch(emp string, dir attendance.Direction, ts time.Time) attendance.IngestResult {
	f.t.Helper()
	f.now(ts)
	res, err := f.engine.IngestPunch(f.ctx, attendance.Punch{
		TenantID:   acme,
		EmployeeID: attendance.EmployeeID(emp),
		Timestamp:  ts,
		Direction:  dir,
		Method:     attendance.MethodBiometric,
		DeviceID:   "gate-1",
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) failedAttempts(emp, code string, times ...time.Time) {
	f.t.Helper()
	for _, ts := range times {
		_, err := f.engine.RecordAttempt(f.ctx, attendance.CaptureAttempt{
			TenantID:   acme,
			EmployeeID: attendance.EmployeeID(emp),
			DeviceID:   "gate-1",
			Timestamp:  ts,
			Status:     attendance.AttemptFailed,
			ErrorCode:  code,
		})
		require.NoError(f.t, err)
	}
}

// sweep runs the batch path for date as of now.
func (f *fixture) sweep(date attendance.Date, now time.Time) attendance.TenantReport {
	f.t.Helper()
	f.now(now)
	report, err := f.engine.ReconcileTenantDay(f.ctx, acme, date, now)
	require.NoError(f.t, err)
	return report
}

func (f *fixture) anomalies(emp string) []attendance.Anomaly {
	f.t.Helper()
	list, err := f.engine.Anomalies(f.ctx, acme, attendance.AnomalyFilter{
		EmployeeID:       attendance.EmployeeID(emp),
		IncludeCorrected: true,
	})
	require.NoError(f.t, err)
	return list
}

func (f *fixture) sessions(emp string) []attendance.Session {
	f.t.Helper()
	list, err := f.engine.Sessions(f.ctx, acme, attendance.SessionFilter{EmployeeID: attendance.EmployeeID(emp)})
	require.NoError(f.t, err)
	return list
}

func (f *fixture) overtime(emp string) []attendance.OvertimeRecord {
	f.t.Helper()
	list, err := f.engine.Overtime(f.ctx, acme, attendance.OvertimeFilter{EmployeeID: attendance.EmployeeID(emp)})
	require.NoError(f.t, err)
	return list
}

func typesOf(list []attendance.Anomaly) []attendance.AnomalyType {
	out := make([]attendance.AnomalyType, 0, len(list))
	for _, a := range list {
		out = append(out, a.Type)
	}
	return out
}
