package attendance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

func openedAt(ts time.Time) attendance.Session {
	return attendance.Session{
		ID:          "ses-in",
		TenantID:    acme,
		EmployeeID:  "emp-1",
		Date:        monday,
		OpenPunchID: "in",
		OpenedAt:    &ts,
		Window:      window(monday, "09:00", "17:00"),
		State:       attendance.SessionOpen,
	}
}

func TestClassifier_ArrivalThresholds(t *testing.T) {
	c := attendance.NewClassifier(attendance.DefaultSettings())

	tests := []struct {
		arrival  string
		wantType attendance.AnomalyType // empty = no anomaly
		severity attendance.Severity
	}{
		{"08:45", "", ""},
		{"09:00", "", ""},
		{"09:10", "", ""}, // exactly the tolerance
		{"09:11", attendance.AnomalyLate, attendance.SeverityLow},
		{"10:59", attendance.AnomalyLate, attendance.SeverityLow},
		{"11:00", attendance.AnomalyAbsencePartial, attendance.SeverityMedium},
		{"14:00", attendance.AnomalyAbsencePartial, attendance.SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.arrival, func(t *testing.T) {
			a, ok := c.ClassifyArrival(openedAt(at(monday, tt.arrival)))
			if tt.wantType == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantType, a.Type)
			assert.Equal(t, tt.severity, a.Severity)
			assert.Equal(t, attendance.PunchID("in"), a.PunchID)
			assert.NotEmpty(t, a.Reason)
		})
	}
}

func TestClassifier_UnscheduledOrNoIn_NoArrivalAnomaly(t *testing.T) {
	c := attendance.NewClassifier(attendance.DefaultSettings())

	unscheduled := openedAt(at(monday, "13:00"))
	unscheduled.Window = nil
	_, ok := c.ClassifyArrival(unscheduled)
	assert.False(t, ok)

	orphan := attendance.Session{Date: monday, Window: window(monday, "09:00", "17:00"), State: attendance.SessionOrphanOut}
	_, ok = c.ClassifyArrival(orphan)
	assert.False(t, ok)
}

func TestClassifier_Day_FirstArrivalOnly(t *testing.T) {
	c := attendance.NewClassifier(attendance.DefaultSettings())
	emp := attendance.Employee{ID: "emp-1", TenantID: acme, IsActive: true}

	res := c.ClassifyDay(attendance.DayInput{
		Employee: emp,
		Date:     monday,
		Window:   window(monday, "09:00", "17:00"),
		Sessions: []attendance.Session{openedAt(at(monday, "14:00")), openedAt(at(monday, "09:30"))},
		Now:      at(monday, "18:00"),
	})

	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, attendance.AnomalyLate, res.Anomalies[0].Type)
	assert.Equal(t, 30, res.Anomalies[0].LateMinutes)
}

func TestClassifier_Day_Absence(t *testing.T) {
	c := attendance.NewClassifier(attendance.DefaultSettings())
	active := attendance.Employee{ID: "emp-1", TenantID: acme, IsActive: true}
	inactive := attendance.Employee{ID: "emp-2", TenantID: acme}
	day := window(monday, "09:00", "17:00")

	tests := []struct {
		name string
		in   attendance.DayInput
		want []attendance.AnomalyType
	}{
		{
			name: "absent after shift end",
			in:   attendance.DayInput{Employee: active, Date: monday, Window: day, Now: at(monday, "17:00")},
			want: []attendance.AnomalyType{attendance.AnomalyAbsence},
		},
		{
			name: "shift not over yet",
			in:   attendance.DayInput{Employee: active, Date: monday, Window: day, Now: at(monday, "16:59")},
		},
		{
			name: "holiday",
			in:   attendance.DayInput{Employee: active, Date: monday, Window: day, IsHoliday: true, Now: at(monday, "18:00")},
		},
		{
			name: "inactive employee",
			in:   attendance.DayInput{Employee: inactive, Date: monday, Window: day, Now: at(monday, "18:00")},
		},
		{
			name: "weekend",
			in: attendance.DayInput{
				Employee: active, Date: monday.AddDays(-1), Window: window(monday.AddDays(-1), "09:00", "17:00"),
				Now: at(monday, "08:00"),
			},
		},
		{
			name: "not scheduled",
			in:   attendance.DayInput{Employee: active, Date: monday, Now: at(monday, "18:00")},
		},
		{
			name: "on leave",
			in:   attendance.DayInput{Employee: active, Date: monday, Window: day, OnLeave: true, Now: at(monday, "18:00")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.ClassifyDay(tt.in)
			if len(tt.want) == 0 {
				assert.Empty(t, res.Anomalies)
				return
			}
			assert.Equal(t, tt.want, typesOf(res.Anomalies))
		})
	}
}

func TestClassifier_Day_TechnicalAbsenceNeedsConsecutiveFailures(t *testing.T) {
	settings := attendance.DefaultSettings()
	settings.TechnicalAbsenceMinFailedAttempts = 3
	c := attendance.NewClassifier(settings)
	emp := attendance.Employee{ID: "emp-1", TenantID: acme, IsActive: true}

	attempt := func(hhmm string, status attendance.AttemptStatus, code string) attendance.CaptureAttempt {
		return attendance.CaptureAttempt{Timestamp: at(monday, hhmm), Status: status, ErrorCode: code}
	}

	tests := []struct {
		name     string
		attempts []attendance.CaptureAttempt
		want     attendance.AnomalyType
		severity attendance.Severity
	}{
		{
			name: "three hardware failures",
			attempts: []attendance.CaptureAttempt{
				attempt("08:50", attendance.AttemptFailed, "SENSOR_ERROR"),
				attempt("08:51", attendance.AttemptFailed, "SENSOR_ERROR"),
				attempt("08:52", attendance.AttemptFailed, "SENSOR_ERROR"),
			},
			want:     attendance.AnomalyAbsenceTechnical,
			severity: attendance.SeverityHigh,
		},
		{
			name: "three network failures",
			attempts: []attendance.CaptureAttempt{
				attempt("08:50", attendance.AttemptFailed, "TIMEOUT"),
				attempt("08:51", attendance.AttemptFailed, "SYNC_FAILED"),
				attempt("08:52", attendance.AttemptFailed, "NETWORK_ERROR"),
			},
			want:     attendance.AnomalyAbsenceTechnical,
			severity: attendance.SeverityMedium,
		},
		{
			name: "run broken by a success",
			attempts: []attendance.CaptureAttempt{
				attempt("08:50", attendance.AttemptFailed, "SENSOR_ERROR"),
				attempt("08:51", attendance.AttemptFailed, "SENSOR_ERROR"),
				attempt("08:52", attendance.AttemptSuccess, ""),
				attempt("08:53", attendance.AttemptFailed, "SENSOR_ERROR"),
			},
			want:     attendance.AnomalyAbsence,
			severity: attendance.SeverityHigh,
		},
		{
			name: "unknown codes",
			attempts: []attendance.CaptureAttempt{
				attempt("08:50", attendance.AttemptFailed, "E42"),
				attempt("08:51", attendance.AttemptFailed, "E42"),
				attempt("08:52", attendance.AttemptFailed, "E42"),
			},
			want:     attendance.AnomalyAbsenceTechnical,
			severity: attendance.SeverityLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.ClassifyDay(attendance.DayInput{
				Employee: emp,
				Date:     monday,
				Window:   window(monday, "09:00", "17:00"),
				Attempts: tt.attempts,
				Now:      at(monday, "18:00"),
			})
			require.Len(t, res.Anomalies, 1)
			assert.Equal(t, tt.want, res.Anomalies[0].Type)
			assert.Equal(t, tt.severity, res.Anomalies[0].Severity)
		})
	}
}

func TestClassifier_Day_LeaveSuppressesTechnicalAbsence(t *testing.T) {
	c := attendance.NewClassifier(attendance.DefaultSettings())

	res := c.ClassifyDay(attendance.DayInput{
		Employee: attendance.Employee{ID: "emp-1", TenantID: acme, IsActive: true},
		Date:     monday,
		Window:   window(monday, "09:00", "17:00"),
		Attempts: []attendance.CaptureAttempt{{Timestamp: at(monday, "08:55"), Status: attendance.AttemptFailed, ErrorCode: "DEVICE_OFFLINE"}},
		OnLeave:  true,
		Now:      at(monday, "18:00"),
	})

	assert.Empty(t, res.Anomalies)
	assert.Equal(t, []attendance.AnomalyType{attendance.AnomalyAbsenceTechnical}, res.Suppressed)
}
