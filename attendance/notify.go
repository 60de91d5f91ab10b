/*
notify.go - Notification Idempotence Ledger

PURPOSE:
  Guarantees that a manager hears about one anomaly occurrence at most once
  per cooldown, across the synchronous ingestion path, repeated sweeps, and
  retries after failures.

COOLDOWN:
  notificationFrequencyMinutes[type] > 0  -> fixed window since the last send
  otherwise                               -> same calendar day, tenant timezone

SEND-THEN-LOG:
  1. Skip if the type is disabled, the anomaly is corrected, or a LATE is
     below the notification threshold
  2. Per manager: skip if a log entry (or the in-process memo) falls
     inside the cooldown
  3. Send. On failure write nothing so the next sweep retries
  4. Append the log entry. On failure remember the send in the memo so an
     immediate retry in this process does not resend

  The log is the source of truth across processes; the memo only covers
  the gap between a successful send and a failed log write.

  A log row found later clears the memo entry; entries older than memoTTL
  are pruned on write.

CONCURRENCY:
  A per-employee mutex serializes the check-send-log sequence so the sync
  path and a sweep cannot both pass step 2 for the same occurrence.

RETRY:
  Retry only sends to managers with no log entry at all. The engine calls
  it for anomalies that already existed, so a re-run picks up failed sends
  without re-alerting on old occurrences.

PENDING OVERTIME DIGEST:
  NotifyPendingOvertime groups PENDING overtime records by manager and
  sends each manager one OVERTIME_PENDING message per tenant-local date,
  keyed by manager + date in the same log and with the same send-then-log
  rules.

SEE ALSO:
  - engine.go: calls Notify for every newly created anomaly
  - mailer/: Sender implementations
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TemplateOvertimePending is the template code of the daily digest of
// overtime awaiting approval.
const TemplateOvertimePending = "OVERTIME_PENDING"

// memoTTL bounds how long a send whose log write failed is remembered.
const memoTTL = 24 * time.Hour

// PendingOvertimeKey identifies one manager's digest for one date.
func PendingOvertimeKey(managerID string, date Date) OccurrenceKey {
	return OccurrenceKey(fmt.Sprintf("%s:%s:%s", TemplateOvertimePending, managerID, date))
}

type NotificationLedger struct {
	Log       NotificationLog
	Managers  ManagerResolver
	Employees EmployeeDirectory
	Sender    Sender
	Logger    *log.Logger

	keys keyedMutex
	mu   sync.Mutex
	memo map[string]time.Time
}

type NotifyResult struct {
	Sent       int
	Suppressed int
	Failed     int
}

func NewNotificationLedger(logStore NotificationLog, managers ManagerResolver, employees EmployeeDirectory, sender Sender) *NotificationLedger {
	return &NotificationLedger{
		Log:       logStore,
		Managers:  managers,
		Employees: employees,
		Sender:    sender,
		memo:      make(map[string]time.Time),
	}
}

// Notify sends a at most once per cooldown to each resolved manager. now is
// the instant cooldowns are measured against and the recorded send time.
func (l *NotificationLedger) Notify(ctx context.Context, a Anomaly, settings TenantSettings, now time.Time) (NotifyResult, error) {
	return l.notify(ctx, a, settings, now, false)
}

// Retry sends a only to managers who were never notified of it, i.e. whose
// earlier send failed.
func (l *NotificationLedger) Retry(ctx context.Context, a Anomaly, settings TenantSettings, now time.Time) (NotifyResult, error) {
	return l.notify(ctx, a, settings, now, true)
}

func (l *NotificationLedger) notify(ctx context.Context, a Anomaly, settings TenantSettings, now time.Time, pendingOnly bool) (NotifyResult, error) {
	var res NotifyResult
	switch {
	case a.IsCorrected:
		return res, nil
	case !settings.NotificationEnabled(a.Type):
		return res, nil
	case a.Type == AnomalyLate && a.LateMinutes < settings.LateNotificationThresholdMinutes:
		return res, nil
	}

	managers, err := l.Managers.Managers(ctx, a.TenantID, a.EmployeeID)
	if err != nil {
		return res, fmt.Errorf("resolve managers for %s: %w", a.EmployeeID, err)
	}
	if len(managers) == 0 {
		return res, nil
	}
	employeeName := l.employeeName(ctx, a.TenantID, a.EmployeeID)

	unlock := l.keys.Lock(string(a.TenantID) + "|" + string(a.EmployeeID))
	defer unlock()

	var errs []error
	for _, m := range managers {
		sent, err := l.notifyOne(ctx, a, m, employeeName, settings, now, pendingOnly)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, err)
		case sent:
			res.Sent++
		default:
			res.Suppressed++
		}
	}
	return res, errors.Join(errs...)
}

func (l *NotificationLedger) notifyOne(ctx context.Context, a Anomaly, m Manager, employeeName string, settings TenantSettings, now time.Time, pendingOnly bool) (bool, error) {
	key := a.OccurrenceKey()
	memoKey := string(a.TenantID) + "|" + string(key) + "|" + m.ID

	last, found, err := l.Log.LastNotified(ctx, a.TenantID, key, m.ID)
	if err != nil {
		return false, fmt.Errorf("read notification log for %s: %w", key, err)
	}
	if found {
		l.forget(memoKey)
		if pendingOnly || inCooldown(last.SentAt, now, a.Type, settings) {
			return false, nil
		}
	} else if at, ok := l.remembered(memoKey); ok && (pendingOnly || inCooldown(at, now, a.Type, settings)) {
		return false, nil
	}

	if err := l.Sender.Send(ctx, m, string(a.Type), templateVars(a, m, employeeName)); err != nil {
		l.logf("[Notify] Send %s to %s failed, will retry: %v", key, m.ID, err)
		return false, &SendError{Key: key, ManagerID: m.ID, At: now, Err: err}
	}

	entry := NotificationLogEntry{
		ID:            uuid.NewString(),
		TenantID:      a.TenantID,
		OccurrenceKey: key,
		AnomalyType:   a.Type,
		EmployeeID:    a.EmployeeID,
		ManagerID:     m.ID,
		SentAt:        now,
	}
	if err := l.Log.AppendNotification(ctx, entry); err != nil {
		l.remember(memoKey, now)
		l.logf("[Notify] Sent %s to %s but log write failed: %v", key, m.ID, err)
	}
	return true, nil
}

func inCooldown(sentAt, now time.Time, t AnomalyType, settings TenantSettings) bool {
	if cd := settings.NotificationCooldown(t); cd > 0 {
		return now.Sub(sentAt) < cd
	}
	loc := settings.Location()
	return DateOf(sentAt, loc) == DateOf(now, loc)
}

func templateVars(a Anomaly, m Manager, employeeName string) map[string]string {
	return map[string]string{
		"employeeName": employeeName,
		"date":         a.Date.String(),
		"type":         string(a.Type),
		"severity":     string(a.Severity),
		"lateMinutes":  strconv.Itoa(a.LateMinutes),
		"reason":       a.Reason,
		"managerName":  m.Name,
	}
}

func (l *NotificationLedger) remembered(key string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.memo[key]
	return at, ok
}

func (l *NotificationLedger) remember(key string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.memo == nil {
		l.memo = make(map[string]time.Time)
	}
	for k, t := range l.memo {
		if at.Sub(t) > memoTTL {
			delete(l.memo, k)
		}
	}
	l.memo[key] = at
}

func (l *NotificationLedger) forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.memo, key)
}

func (l *NotificationLedger) employeeName(ctx context.Context, tenant TenantID, id EmployeeID) string {
	if l.Employees != nil {
		if emp, err := l.Employees.Employee(ctx, tenant, id); err == nil && emp.Name != "" {
			return emp.Name
		}
	}
	return string(id)
}

// =============================================================================
// PENDING OVERTIME DIGEST
// =============================================================================

type overtimeDigest struct {
	manager Manager
	lines   []string
	total   decimal.Decimal
}

// NotifyPendingOvertime sends each manager of the employees in pending one
// digest of their PENDING records, at most once per tenant-local date.
// Records in any other status are ignored.
func (l *NotificationLedger) NotifyPendingOvertime(ctx context.Context, tenant TenantID, pending []OvertimeRecord, settings TenantSettings, now time.Time) (NotifyResult, error) {
	var res NotifyResult
	if !settings.NotifyOvertimePending {
		return res, nil
	}

	digests := make(map[string]*overtimeDigest)
	var order []string
	for _, r := range pending {
		if r.Status != OvertimePending {
			continue
		}
		managers, err := l.Managers.Managers(ctx, tenant, r.EmployeeID)
		if err != nil {
			return res, fmt.Errorf("resolve managers for %s: %w", r.EmployeeID, err)
		}
		if len(managers) == 0 {
			l.logf("[Notify] No manager for %s, pending overtime on %s not reported", r.EmployeeID, r.Date)
			continue
		}
		line := fmt.Sprintf("- %s: %sh on %s (%s)", l.employeeName(ctx, tenant, r.EmployeeID), r.Hours.StringFixed(2), r.Date, r.Type)
		for _, m := range managers {
			d, ok := digests[m.ID]
			if !ok {
				d = &overtimeDigest{manager: m}
				digests[m.ID] = d
				order = append(order, m.ID)
			}
			d.lines = append(d.lines, line)
			d.total = d.total.Add(r.Hours)
		}
	}

	date := DateOf(now, settings.Location())
	var errs []error
	for _, id := range order {
		sent, err := l.sendDigest(ctx, tenant, date, digests[id], now)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, err)
		case sent:
			res.Sent++
		default:
			res.Suppressed++
		}
	}
	return res, errors.Join(errs...)
}

func (l *NotificationLedger) sendDigest(ctx context.Context, tenant TenantID, date Date, d *overtimeDigest, now time.Time) (bool, error) {
	m := d.manager
	key := PendingOvertimeKey(m.ID, date)
	memoKey := string(tenant) + "|" + string(key) + "|" + m.ID

	unlock := l.keys.Lock(memoKey)
	defer unlock()

	_, found, err := l.Log.LastNotified(ctx, tenant, key, m.ID)
	if err != nil {
		return false, fmt.Errorf("read notification log for %s: %w", key, err)
	}
	if found {
		l.forget(memoKey)
		return false, nil
	}
	if _, ok := l.remembered(memoKey); ok {
		return false, nil
	}

	vars := map[string]string{
		"managerName":   m.Name,
		"date":          date.String(),
		"pendingCount":  strconv.Itoa(len(d.lines)),
		"totalHours":    d.total.StringFixed(2),
		"overtimesList": strings.Join(d.lines, "\n"),
	}
	if err := l.Sender.Send(ctx, m, TemplateOvertimePending, vars); err != nil {
		l.logf("[Notify] Send %s to %s failed, will retry: %v", key, m.ID, err)
		return false, &SendError{Key: key, ManagerID: m.ID, At: now, Err: err}
	}

	entry := NotificationLogEntry{
		ID:            uuid.NewString(),
		TenantID:      tenant,
		OccurrenceKey: key,
		ManagerID:     m.ID,
		SentAt:        now,
	}
	if err := l.Log.AppendNotification(ctx, entry); err != nil {
		l.remember(memoKey, now)
		l.logf("[Notify] Sent %s to %s but log write failed: %v", key, m.ID, err)
	}
	return true, nil
}

func (l *NotificationLedger) logf(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
