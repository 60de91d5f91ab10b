package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

func TestShiftResolver_Resolve(t *testing.T) {
	f := newFixture(t)
	f.employee("emp-default", "day")
	f.employee("emp-none", "")
	f.employee("emp-dangling", "removed")

	tue := monday.AddDays(1)
	custom := attendance.MustTimeOfDay("10:30")
	customEnd := attendance.MustTimeOfDay("02:00")
	f.store.PutSchedule(attendance.ScheduleEntry{TenantID: acme, EmployeeID: "emp-default", Date: tue, ShiftID: "night"})
	f.store.PutSchedule(attendance.ScheduleEntry{TenantID: acme, EmployeeID: "emp-default", Date: monday.AddDays(2), ShiftID: "day", CustomStartTime: &custom})
	f.store.PutSchedule(attendance.ScheduleEntry{TenantID: acme, EmployeeID: "emp-default", Date: monday.AddDays(3), ShiftID: "day", Suspended: true})
	f.store.PutSchedule(attendance.ScheduleEntry{
		TenantID: acme, EmployeeID: "emp-none", Date: monday, ShiftID: "gone",
		CustomStartTime: &custom, CustomEndTime: &customEnd,
	})
	f.store.PutSchedule(attendance.ScheduleEntry{TenantID: acme, EmployeeID: "emp-none", Date: tue, ShiftID: "gone"})

	resolver := f.engine.Resolver
	settings := attendance.DefaultSettings()

	tests := []struct {
		name   string
		emp    attendance.EmployeeID
		date   attendance.Date
		want   bool
		start  string
		end    string
		night  bool
		source attendance.ShiftSource
	}{
		{name: "default shift", emp: "emp-default", date: monday, want: true, start: "09:00", end: "17:00", source: attendance.SourceDefaultShift},
		{name: "schedule entry wins", emp: "emp-default", date: tue, want: true, start: "21:00", end: "06:00", night: true, source: attendance.SourceSchedule},
		{name: "custom start", emp: "emp-default", date: monday.AddDays(2), want: true, start: "10:30", end: "17:00", source: attendance.SourceSchedule},
		{name: "suspended", emp: "emp-default", date: monday.AddDays(3)},
		{name: "no default shift", emp: "emp-none", date: monday.AddDays(2)},
		{name: "dangling default shift", emp: "emp-dangling", date: monday},
		{name: "dangling shift with full override", emp: "emp-none", date: monday, want: true, start: "10:30", end: "02:00", night: true, source: attendance.SourceSchedule},
		{name: "dangling shift without override", emp: "emp-none", date: tue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := resolver.Resolve(context.Background(), acme, tt.emp, tt.date, settings)
			require.NoError(t, err)
			if !tt.want {
				assert.Nil(t, w)
				return
			}
			require.NotNil(t, w)
			assert.Equal(t, tt.date, w.Date)
			assert.Equal(t, tt.start, w.StartTime.String())
			assert.Equal(t, tt.end, w.EndTime.String())
			assert.Equal(t, tt.night, w.IsNightShift)
			assert.Equal(t, tt.source, w.Source)
		})
	}
}

func TestShiftResolver_UnknownEmployee(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Resolver.Resolve(context.Background(), acme, "ghost", monday, attendance.DefaultSettings())

	require.Error(t, err)
	assert.True(t, attendance.IsNotFound(err))
}

func TestShiftWindow_NightShiftBounds(t *testing.T) {
	w := window(monday, "21:00", "06:00")

	assert.True(t, w.ScheduledStart().Equal(at(monday, "21:00")))
	assert.True(t, w.ScheduledEnd().Equal(at(monday.AddDays(1), "06:00")))
	assert.True(t, w.DetectionDeadline(12).Equal(at(monday.AddDays(1), "18:00")))
}

func TestShiftWindow_TenantTimezone(t *testing.T) {
	f := newFixture(t)
	f.employee("emp-1", "day")
	settings := attendance.DefaultSettings()
	settings.Timezone = "Africa/Casablanca"
	loc, err := time.LoadLocation("Africa/Casablanca")
	require.NoError(t, err)

	w, err := f.engine.Resolver.Resolve(context.Background(), acme, "emp-1", monday, settings)

	require.NoError(t, err)
	require.NotNil(t, w)
	assert.True(t, w.ScheduledStart().Equal(time.Date(2024, time.March, 4, 9, 0, 0, 0, loc)))
}
