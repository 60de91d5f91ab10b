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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
)

// unwritableLog accepts sends but fails every log append.
type unwritableLog struct {
	*store.Memory
}

func (unwritableLog) AppendNotification(context.Context, attendance.NotificationLogEntry) error {
	return errors.New("disk full")
}

// flakyLog fails the first n log appends, then writes through.
type flakyLog struct {
	*store.Memory
	mu    sync.Mutex
	fails int
}

func (l *flakyLog) AppendNotification(ctx context.Context, e attendance.NotificationLogEntry) error {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return errors.New("disk full")
	}
	l.mu.Unlock()
	return l.Memory.AppendNotification(ctx, e)
}

func newLedger(t *testing.T, logStore attendance.NotificationLog) (*attendance.NotificationLedger, *store.Memory, *recordingSender) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutEmployee(attendance.Employee{ID: "emp-1", TenantID: acme, Name: "Amina Benali", IsActive: true})
	mem.PutManager(acme, "emp-1", manager)
	if logStore == nil {
		logStore = mem
	}
	sender := &recordingSender{}
	ledger := attendance.NewNotificationLedger(logStore, mem, mem, sender)
	ledger.Logger = log.New(io.Discard, "", 0)
	return ledger, mem, sender
}

func lateAnomaly(minutes int) attendance.Anomaly {
	return attendance.Anomaly{
		TenantID:    acme,
		EmployeeID:  "emp-1",
		Date:        monday,
		Type:        attendance.AnomalyLate,
		Severity:    attendance.SeverityLow,
		LateMinutes: minutes,
		Reason:      "arrived late",
	}
}

func TestNotify_SendsOncePerCalendarDay(t *testing.T) {
	// GIVEN: No fixed frequency configured for LATE
	// WHEN: The same occurrence is notified three times
	// THEN: Only the first notify of the calendar day sends

	ledger, mem, sender := newLedger(t, nil)
	settings := attendance.DefaultSettings()
	ctx := context.Background()

	res, err := ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "09:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	res, err = ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "23:59"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Suppressed)

	res, err = ledger.Notify(ctx, lateAnomaly(25), settings, at(monday.AddDays(1), "00:01"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent, "a new calendar day opens a new cooldown")

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "LATE", msgs[0].Template)
	assert.Equal(t, "Amina Benali", msgs[0].Vars["employeeName"])
	assert.Equal(t, "2024-03-04", msgs[0].Vars["date"])
	assert.Equal(t, "25", msgs[0].Vars["lateMinutes"])
	assert.Len(t, mem.NotificationLog(), 2)
}

func TestNotify_FixedFrequency(t *testing.T) {
	ledger, _, sender := newLedger(t, nil)
	settings := attendance.DefaultSettings()
	settings.NotificationFrequencyMinutes[attendance.AnomalyLate] = 60
	ctx := context.Background()

	for _, hhmm := range []string{"09:30", "10:29", "10:30", "11:00", "11:30"} {
		_, err := ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, hhmm))
		require.NoError(t, err)
	}

	// 09:30 sends, 10:30 is exactly one cooldown later, 11:30 again
	assert.Len(t, sender.messages(), 3)
}

func TestNotify_Skips(t *testing.T) {
	corrected := lateAnomaly(25)
	corrected.IsCorrected = true

	tests := []struct {
		name    string
		anomaly attendance.Anomaly
		mutate  func(*attendance.TenantSettings)
	}{
		{name: "corrected", anomaly: corrected},
		{
			name:    "type disabled",
			anomaly: lateAnomaly(25),
			mutate:  func(s *attendance.TenantSettings) { s.NotificationsEnabled[attendance.AnomalyLate] = false },
		},
		{
			name:    "below late threshold",
			anomaly: lateAnomaly(14),
			mutate:  func(s *attendance.TenantSettings) { s.LateNotificationThresholdMinutes = 15 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, _, sender := newLedger(t, nil)
			settings := attendance.DefaultSettings()
			if tt.mutate != nil {
				tt.mutate(&settings)
			}

			res, err := ledger.Notify(context.Background(), tt.anomaly, settings, at(monday, "09:30"))

			require.NoError(t, err)
			assert.Equal(t, attendance.NotifyResult{}, res)
			assert.Empty(t, sender.messages())
		})
	}
}

func TestNotify_FailedSendWritesNoLog(t *testing.T) {
	ledger, mem, sender := newLedger(t, nil)
	settings := attendance.DefaultSettings()
	ctx := context.Background()
	sender.setFail(true)

	res, err := ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "09:30"))

	require.Error(t, err)
	assert.ErrorIs(t, err, attendance.ErrSendFailed)
	var sendErr *attendance.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "mgr-1", sendErr.ManagerID)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, mem.NotificationLog())

	// WHEN: The sender recovers and a retry runs
	sender.setFail(false)
	res, err = ledger.Retry(ctx, lateAnomaly(25), settings, at(monday, "10:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	// THEN: A second retry finds the log entry and does nothing
	res, err = ledger.Retry(ctx, lateAnomaly(25), settings, at(monday.AddDays(3), "10:00"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Len(t, sender.messages(), 1)
}

func TestNotify_LogWriteFailure_RememberedInProcess(t *testing.T) {
	// GIVEN: A log store that cannot be written
	// WHEN: The same occurrence is notified twice
	// THEN: The first call sends, the second is suppressed by the memo

	mem := store.NewMemory()
	ledger, _, sender := newLedger(t, unwritableLog{Memory: mem})
	settings := attendance.DefaultSettings()
	ctx := context.Background()

	res, err := ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "09:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	res, err = ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "09:31"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Suppressed)
	assert.Len(t, sender.messages(), 1)
}

func TestNotify_NoManagers(t *testing.T) {
	mem := store.NewMemory()
	sender := &recordingSender{}
	ledger := attendance.NewNotificationLedger(mem, mem, mem, sender)

	res, err := ledger.Notify(context.Background(), lateAnomaly(25), attendance.DefaultSettings(), time.Now())

	require.NoError(t, err)
	assert.Equal(t, attendance.NotifyResult{}, res)
	assert.Empty(t, sender.messages())
}

func TestNotify_MemoClearedOnceLogRowExists(t *testing.T) {
	// GIVEN: A send whose log write failed, leaving a memo entry
	// WHEN: The log row appears and the occurrence is notified again
	// THEN: The call is suppressed by the log and the memo entry is dropped

	mem := store.NewMemory()
	logStore := &flakyLog{Memory: mem, fails: 1}
	ledger, _, sender := newLedger(t, logStore)
	settings := attendance.DefaultSettings()
	ctx := context.Background()

	res, err := ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "09:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, ledger.MemoLen())
	assert.Empty(t, mem.NotificationLog())

	require.NoError(t, mem.AppendNotification(ctx, attendance.NotificationLogEntry{
		ID:            "log-1",
		TenantID:      acme,
		OccurrenceKey: lateAnomaly(25).OccurrenceKey(),
		AnomalyType:   attendance.AnomalyLate,
		EmployeeID:    "emp-1",
		ManagerID:     manager.ID,
		SentAt:        at(monday, "09:30"),
	}))

	res, err = ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "09:45"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Suppressed)
	assert.Equal(t, 0, ledger.MemoLen())
	assert.Len(t, sender.messages(), 1)
}

func TestNotify_MemoEntriesExpire(t *testing.T) {
	mem := store.NewMemory()
	ledger, _, _ := newLedger(t, unwritableLog{Memory: mem})
	settings := attendance.DefaultSettings()
	ctx := context.Background()

	_, err := ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "09:30"))
	require.NoError(t, err)
	require.Equal(t, 1, ledger.MemoLen())

	later := lateAnomaly(40)
	later.Date = monday.AddDays(2)
	_, err = ledger.Notify(ctx, later, settings, at(monday.AddDays(2), "09:40"))
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.MemoLen(), "Monday's entry is older than a day and pruned")
}

func TestNotify_ConcurrentCallsLeaveNoLocks(t *testing.T) {
	ledger, mem, sender := newLedger(t, nil)
	settings := attendance.DefaultSettings()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Notify(ctx, lateAnomaly(25), settings, at(monday, "09:30"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, sender.messages(), 1)
	assert.Len(t, mem.NotificationLog(), 1)
	assert.Equal(t, 0, ledger.LiveLocks())
}

// =============================================================================
// PENDING OVERTIME DIGEST
// =============================================================================

func pendingRecord(emp attendance.EmployeeID, date attendance.Date, hours string) attendance.OvertimeRecord {
	return attendance.OvertimeRecord{
		ID:         attendance.OvertimeID("ot-" + string(emp) + "-" + date.String()),
		TenantID:   acme,
		EmployeeID: emp,
		Date:       date,
		Hours:      decimal.RequireFromString(hours),
		Type:       attendance.OvertimeStandard,
		Status:     attendance.OvertimePending,
	}
}

func TestNotifyPendingOvertime_OneDigestPerManagerPerDay(t *testing.T) {
	// GIVEN: Two employees under mgr-1, one of them also under mgr-2
	// WHEN: The digest runs twice on Tuesday and once on Wednesday
	// THEN: Each manager gets one digest a day listing their PENDING records

	ledger, mem, sender := newLedger(t, nil)
	mem.PutEmployee(attendance.Employee{ID: "emp-2", TenantID: acme, Name: "Youssef Idrissi", IsActive: true})
	mem.PutManager(acme, "emp-2", manager)
	other := attendance.Manager{ID: "mgr-2", Name: "Karim Alaoui"}
	mem.PutManager(acme, "emp-2", other)
	settings := attendance.DefaultSettings()
	ctx := context.Background()

	approved := pendingRecord("emp-1", monday.AddDays(-1), "3")
	approved.Status = attendance.OvertimeApproved
	pending := []attendance.OvertimeRecord{
		pendingRecord("emp-1", monday, "1.5"),
		pendingRecord("emp-2", monday, "0.75"),
		approved,
	}

	res, err := ledger.NotifyPendingOvertime(ctx, acme, pending, settings, at(monday.AddDays(1), "09:00"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, attendance.TemplateOvertimePending, msgs[0].Template)
	assert.Equal(t, "mgr-1", msgs[0].To.ID)
	assert.Equal(t, "2", msgs[0].Vars["pendingCount"])
	assert.Equal(t, "2.25", msgs[0].Vars["totalHours"])
	assert.Equal(t, "2024-03-05", msgs[0].Vars["date"])
	assert.Contains(t, msgs[0].Vars["overtimesList"], "- Amina Benali: 1.50h on 2024-03-04 (STANDARD)")
	assert.Contains(t, msgs[0].Vars["overtimesList"], "Youssef Idrissi")
	assert.Equal(t, "mgr-2", msgs[1].To.ID)
	assert.Equal(t, "1", msgs[1].Vars["pendingCount"])

	res, err = ledger.NotifyPendingOvertime(ctx, acme, pending, settings, at(monday.AddDays(1), "18:00"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 2, res.Suppressed)

	res, err = ledger.NotifyPendingOvertime(ctx, acme, pending, settings, at(monday.AddDays(2), "09:00"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)

	entries := mem.NotificationLog()
	require.Len(t, entries, 4)
	assert.Equal(t, attendance.PendingOvertimeKey("mgr-1", monday.AddDays(1)), entries[0].OccurrenceKey)
}

func TestNotifyPendingOvertime_Skips(t *testing.T) {
	ctx := context.Background()
	pending := []attendance.OvertimeRecord{pendingRecord("emp-1", monday, "1")}

	t.Run("disabled", func(t *testing.T) {
		ledger, _, sender := newLedger(t, nil)
		settings := attendance.DefaultSettings()
		settings.NotifyOvertimePending = false

		res, err := ledger.NotifyPendingOvertime(ctx, acme, pending, settings, at(monday, "09:00"))
		require.NoError(t, err)
		assert.Equal(t, attendance.NotifyResult{}, res)
		assert.Empty(t, sender.messages())
	})

	t.Run("nothing pending", func(t *testing.T) {
		ledger, _, sender := newLedger(t, nil)
		approved := pendingRecord("emp-1", monday, "1")
		approved.Status = attendance.OvertimeApproved

		res, err := ledger.NotifyPendingOvertime(ctx, acme, []attendance.OvertimeRecord{approved}, attendance.DefaultSettings(), at(monday, "09:00"))
		require.NoError(t, err)
		assert.Equal(t, attendance.NotifyResult{}, res)
		assert.Empty(t, sender.messages())
	})
}

func TestNotifyPendingOvertime_FailedSendRetriesSameDay(t *testing.T) {
	ledger, mem, sender := newLedger(t, nil)
	settings := attendance.DefaultSettings()
	ctx := context.Background()
	pending := []attendance.OvertimeRecord{pendingRecord("emp-1", monday, "1")}
	sender.setFail(true)

	res, err := ledger.NotifyPendingOvertime(ctx, acme, pending, settings, at(monday, "09:00"))
	require.Error(t, err)
	assert.ErrorIs(t, err, attendance.ErrSendFailed)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, mem.NotificationLog())

	sender.setFail(false)
	res, err = ledger.NotifyPendingOvertime(ctx, acme, pending, settings, at(monday, "09:05"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, mem.NotificationLog(), 1)
	assert.Equal(t, 0, ledger.LiveLocks())
}
