package attendance_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

func closedSession(w *attendance.ShiftWindow, in, out time.Time) attendance.Session {
	return attendance.Session{
		ID:           "ses-in",
		TenantID:     acme,
		EmployeeID:   "emp-1",
		Date:         w.Date,
		OpenPunchID:  "in",
		OpenedAt:     &in,
		ClosePunchID: "out",
		ClosedAt:     &out,
		Window:       w,
		State:        attendance.SessionClosed,
	}
}

var eligible = attendance.Employee{ID: "emp-1", TenantID: acme, IsActive: true, IsEligibleForOvertime: true}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOvertime_ThresholdAndRounding(t *testing.T) {
	calc := attendance.NewOvertimeCalculator(attendance.DefaultSettings())
	w := window(monday, "09:00", "17:00")

	tests := []struct {
		out      string
		create   bool
		credited int
		hours    string
	}{
		{"17:29", false, 0, ""},
		{"17:30", false, 0, ""}, // must exceed the minimum
		{"17:37", true, 30, "0.5"},
		{"17:45", true, 45, "0.75"},
		{"18:14", true, 60, "1"},
		{"19:00", true, 120, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {
			d := calc.Compute(attendance.OvertimeInput{
				Session:  closedSession(w, at(monday, "09:00"), at(monday, tt.out)),
				Employee: eligible,
			})
			assert.Equal(t, tt.create, d.Create, d.SkipReason)
			if !tt.create {
				assert.NotEmpty(t, d.SkipReason)
				return
			}
			assert.Equal(t, tt.credited, d.CreditedMinutes)
			assert.True(t, dec(tt.hours).Equal(d.Record.Hours), "hours %s", d.Record.Hours)
			assert.Equal(t, attendance.OvertimePending, d.Record.Status)
			assert.Equal(t, attendance.SessionID("ses-in"), d.Record.SourceSessionID)
		})
	}
}

func TestOvertime_RoundedBelowMinimum_Skipped(t *testing.T) {
	settings := attendance.DefaultSettings()
	settings.OvertimeRoundingMinutes = 60
	calc := attendance.NewOvertimeCalculator(settings)
	w := window(monday, "09:00", "17:00")

	d := calc.Compute(attendance.OvertimeInput{
		Session:  closedSession(w, at(monday, "09:00"), at(monday, "17:50")),
		Employee: eligible,
	})

	assert.False(t, d.Create)
	assert.Equal(t, 50, d.ExcessMinutes)
	assert.Equal(t, 0, d.CreditedMinutes)
}

func TestOvertime_TypeAndRate(t *testing.T) {
	day := window(monday, "09:00", "17:00")
	night := window(monday, "21:00", "06:00")

	tests := []struct {
		name     string
		mutate   func(*attendance.TenantSettings)
		session  attendance.Session
		holiday  bool
		wantType attendance.OvertimeType
		wantRate string
	}{
		{
			name:     "standard",
			session:  closedSession(day, at(monday, "09:00"), at(monday, "18:00")),
			wantType: attendance.OvertimeStandard,
			wantRate: "1.25",
		},
		{
			name:     "out inside night band",
			session:  closedSession(window(monday, "13:00", "20:00"), at(monday, "13:00"), at(monday, "21:30")),
			wantType: attendance.OvertimeNight,
			wantRate: "1.5",
		},
		{
			name:     "night shift",
			session:  closedSession(night, at(monday, "21:00"), at(monday.AddDays(1), "07:00")),
			wantType: attendance.OvertimeNight,
			wantRate: "1.5",
		},
		{
			name:     "holiday beats night",
			session:  closedSession(night, at(monday, "21:00"), at(monday.AddDays(1), "07:00")),
			holiday:  true,
			wantType: attendance.OvertimeHoliday,
			wantRate: "2",
		},
		{
			name:     "auto-detection off",
			mutate:   func(s *attendance.TenantSettings) { s.OvertimeAutoDetectType = false },
			session:  closedSession(day, at(monday, "09:00"), at(monday, "18:00")),
			holiday:  true,
			wantType: attendance.OvertimeStandard,
			wantRate: "1.25",
		},
		{
			name:     "majoration off",
			mutate:   func(s *attendance.TenantSettings) { s.OvertimeMajorationEnabled = false },
			session:  closedSession(day, at(monday, "09:00"), at(monday, "18:00")),
			holiday:  true,
			wantType: attendance.OvertimeHoliday,
			wantRate: "1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := attendance.DefaultSettings()
			if tt.mutate != nil {
				tt.mutate(&settings)
			}
			d := attendance.NewOvertimeCalculator(settings).Compute(attendance.OvertimeInput{
				Session:   tt.session,
				Employee:  eligible,
				IsHoliday: tt.holiday,
			})
			require.True(t, d.Create, d.SkipReason)
			assert.Equal(t, tt.wantType, d.Record.Type)
			assert.True(t, dec(tt.wantRate).Equal(d.Record.Rate), "rate %s", d.Record.Rate)
		})
	}
}

func TestOvertime_Skips(t *testing.T) {
	calc := attendance.NewOvertimeCalculator(attendance.DefaultSettings())
	w := window(monday, "09:00", "17:00")
	closed := closedSession(w, at(monday, "09:00"), at(monday, "19:00"))

	open := closed
	open.State = attendance.SessionOpen
	open.ClosedAt = nil

	unscheduled := closed
	unscheduled.Window = nil

	notEligible := eligible
	notEligible.IsEligibleForOvertime = false

	tests := []struct {
		name string
		in   attendance.OvertimeInput
	}{
		{"open session", attendance.OvertimeInput{Session: open, Employee: eligible}},
		{"unscheduled", attendance.OvertimeInput{Session: unscheduled, Employee: eligible}},
		{"not eligible", attendance.OvertimeInput{Session: closed, Employee: notEligible}},
		{"already recorded", attendance.OvertimeInput{Session: closed, Employee: eligible, AlreadyRecorded: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := calc.Compute(tt.in)
			assert.False(t, d.Create)
			assert.NotEmpty(t, d.SkipReason)
		})
	}
}

func TestOvertime_Caps(t *testing.T) {
	w := window(monday, "09:00", "17:00")
	session := closedSession(w, at(monday, "09:00"), at(monday, "19:00")) // 2h

	withCaps := func(week, month string, policy attendance.CapPolicy) attendance.Employee {
		e := eligible
		if week != "" {
			c := dec(week)
			e.MaxOvertimeHoursPerWeek = &c
		}
		if month != "" {
			c := dec(month)
			e.MaxOvertimeHoursPerMonth = &c
		}
		e.OvertimeCapPolicy = policy
		return e
	}

	tests := []struct {
		name      string
		employee  attendance.Employee
		weekUsed  string
		monthUsed string
		create    bool
		hours     string
		period    string
	}{
		{name: "no cap", employee: eligible, weekUsed: "30", create: true, hours: "2"},
		{name: "under cap", employee: withCaps("10", "", attendance.CapHard), weekUsed: "8", create: true, hours: "2"},
		{name: "hard over week", employee: withCaps("10", "", attendance.CapHard), weekUsed: "9", period: "week"},
		{name: "soft clips to week", employee: withCaps("10", "", attendance.CapSoft), weekUsed: "9", create: true, hours: "1"},
		{name: "soft clips to tighter month", employee: withCaps("10", "20", attendance.CapSoft), weekUsed: "0", monthUsed: "19.5", create: true, hours: "0.5"},
		{name: "soft at zero headroom", employee: withCaps("10", "", attendance.CapSoft), weekUsed: "10", period: "week"},
		{name: "tenant policy applies", employee: withCaps("10", "", ""), weekUsed: "9", create: true, hours: "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := attendance.OvertimeInput{Session: session, Employee: tt.employee, WeekUsed: decimal.Zero, MonthUsed: decimal.Zero}
			if tt.weekUsed != "" {
				in.WeekUsed = dec(tt.weekUsed)
			}
			if tt.monthUsed != "" {
				in.MonthUsed = dec(tt.monthUsed)
			}

			d := attendance.NewOvertimeCalculator(attendance.DefaultSettings()).Compute(in)

			assert.Equal(t, tt.create, d.Create, d.SkipReason)
			if !tt.create {
				require.NotNil(t, d.CapExceeded)
				assert.Equal(t, tt.period, d.CapExceeded.Period)
				return
			}
			assert.True(t, dec(tt.hours).Equal(d.Record.Hours), "hours %s", d.Record.Hours)
			if !dec(tt.hours).Equal(dec("2")) {
				assert.True(t, d.Clipped)
				assert.Contains(t, d.Record.Notes, "clipped")
			}
		})
	}
}
