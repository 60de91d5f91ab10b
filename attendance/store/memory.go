// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	punches      map[attendance.PunchID]attendance.Punch
	corrections  []attendance.PunchCorrection
	attempts     []attendance.CaptureAttempt
	sessions     map[attendance.SessionID]attendance.Session
	anomalies    map[attendance.AnomalyID]attendance.Anomaly
	anomalyKeys  map[anomalyKey]attendance.AnomalyID
	overtime     map[attendance.OvertimeID]attendance.OvertimeRecord
	overtimeKeys map[dayKey]attendance.OvertimeID
	notifyLog    []attendance.NotificationLogEntry

	tenants   map[attendance.TenantID]attendance.Tenant
	settings  map[attendance.TenantID]attendance.TenantSettings
	employees map[empKey]attendance.Employee
	shifts    map[shiftKey]attendance.Shift
	schedules map[dayKey]attendance.ScheduleEntry
	leaves    []attendance.Leave
	holidays  []attendance.Holiday
	managers  map[empKey][]attendance.Manager
}

type empKey struct {
	Tenant   attendance.TenantID
	Employee attendance.EmployeeID
}

type dayKey struct {
	Tenant   attendance.TenantID
	Employee attendance.EmployeeID
	Date     attendance.Date
}

type anomalyKey struct {
	Tenant attendance.TenantID
	Key    attendance.OccurrenceKey
}

type shiftKey struct {
	Tenant attendance.TenantID
	ID     string
}

func NewMemory() *Memory {
	return &Memory{
		punches:      make(map[attendance.PunchID]attendance.Punch),
		sessions:     make(map[attendance.SessionID]attendance.Session),
		anomalies:    make(map[attendance.AnomalyID]attendance.Anomaly),
		anomalyKeys:  make(map[anomalyKey]attendance.AnomalyID),
		overtime:     make(map[attendance.OvertimeID]attendance.OvertimeRecord),
		overtimeKeys: make(map[dayKey]attendance.OvertimeID),
		tenants:      make(map[attendance.TenantID]attendance.Tenant),
		settings:     make(map[attendance.TenantID]attendance.TenantSettings),
		employees:    make(map[empKey]attendance.Employee),
		shifts:       make(map[shiftKey]attendance.Shift),
		schedules:    make(map[dayKey]attendance.ScheduleEntry),
		managers:     make(map[empKey][]attendance.Manager),
	}
}

var _ attendance.Store = (*Memory)(nil)

// =============================================================================
// PUNCHES
// =============================================================================

func (m *Memory) InsertPunch(_ context.Context, p attendance.Punch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.punches[p.ID]; ok {
		return attendance.ErrDuplicatePunch
	}
	m.punches[p.ID] = p
	return nil
}

func (m *Memory) GetPunch(_ context.Context, tenant attendance.TenantID, id attendance.PunchID) (attendance.Punch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.punches[id]
	if !ok || p.TenantID != tenant {
		return attendance.Punch{}, attendance.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPunches(_ context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, from, to time.Time) ([]attendance.Punch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Punch
	for _, p := range m.punches {
		if p.TenantID != tenant || p.EmployeeID != emp {
			continue
		}
		t := p.EffectiveTime()
		if !t.Before(from) && t.Before(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].EffectiveTime(), out[j].EffectiveTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) AnnotatePunch(_ context.Context, tenant attendance.TenantID, a attendance.PunchAnnotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.punches[a.PunchID]
	if !ok || p.TenantID != tenant {
		return attendance.ErrNotFound
	}
	p.HasAnomaly = a.HasAnomaly
	p.AnomalyType = a.AnomalyType
	p.AnomalyNote = a.AnomalyNote
	m.punches[a.PunchID] = p
	return nil
}

func (m *Memory) ApplyCorrection(_ context.Context, c attendance.PunchCorrection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.punches[c.PunchID]
	if !ok || p.TenantID != c.TenantID {
		return attendance.ErrNotFound
	}
	at := c.At
	if c.CorrectedTimestamp != nil {
		ts := *c.CorrectedTimestamp
		p.CorrectedTimestamp = &ts
	}
	p.IsCorrected = true
	p.CorrectedBy = c.CorrectedBy
	p.CorrectedAt = &at
	p.Status = attendance.PunchAccepted
	p.RejectReason = ""
	m.punches[c.PunchID] = p
	m.corrections = append(m.corrections, c)
	return nil
}

func (m *Memory) ListCorrections(_ context.Context, tenant attendance.TenantID, id attendance.PunchID) ([]attendance.PunchCorrection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.PunchCorrection
	for _, c := range m.corrections {
		if c.TenantID == tenant && c.PunchID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// ATTEMPTS
// =============================================================================

func (m *Memory) InsertAttempt(_ context.Context, a attendance.CaptureAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *Memory) ListAttempts(_ context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, from, to time.Time) ([]attendance.CaptureAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.CaptureAttempt
	for _, a := range m.attempts {
		if a.TenantID == tenant && a.EmployeeID == emp && !a.Timestamp.Before(from) && a.Timestamp.Before(to) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Memory) UpsertSession(_ context.Context, s attendance.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) ListSessions(_ context.Context, tenant attendance.TenantID, f attendance.SessionFilter) ([]attendance.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Session
	for _, s := range m.sessions {
		if s.TenantID != tenant || !matchEmployee(f.EmployeeID, f.Scope, s.EmployeeID) || !inDates(s.Date, f.From, f.To) {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// ANOMALIES
// =============================================================================

func (m *Memory) UpsertAnomaly(_ context.Context, a attendance.Anomaly) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := anomalyKey{Tenant: a.TenantID, Key: a.OccurrenceKey()}
	id, ok := m.anomalyKeys[k]
	if !ok {
		m.anomalyKeys[k] = a.ID
		m.anomalies[a.ID] = a
		return true, nil
	}
	existing := m.anomalies[id]
	if existing.IsCorrected || existing.SameClassification(a) {
		return false, nil
	}
	existing.Severity = a.Severity
	existing.SessionID = a.SessionID
	existing.PunchID = a.PunchID
	existing.LateMinutes = a.LateMinutes
	existing.EarlyLeaveMinutes = a.EarlyLeaveMinutes
	existing.Reason = a.Reason
	m.anomalies[id] = existing
	return false, nil
}

func (m *Memory) GetAnomaly(_ context.Context, tenant attendance.TenantID, id attendance.AnomalyID) (attendance.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.anomalies[id]
	if !ok || a.TenantID != tenant {
		return attendance.Anomaly{}, attendance.ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListAnomalies(_ context.Context, tenant attendance.TenantID, f attendance.AnomalyFilter) ([]attendance.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Anomaly
	for _, a := range m.anomalies {
		if a.TenantID != tenant || !matchEmployee(f.EmployeeID, f.Scope, a.EmployeeID) || !inDates(a.Date, f.From, f.To) {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if a.IsCorrected && !f.IncludeCorrected {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (m *Memory) CorrectAnomaly(_ context.Context, tenant attendance.TenantID, id attendance.AnomalyID, by, note string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.anomalies[id]
	if !ok || a.TenantID != tenant {
		return attendance.ErrNotFound
	}
	a.IsCorrected = true
	a.CorrectedBy = by
	a.CorrectedAt = &at
	a.CorrectionNote = note
	m.anomalies[id] = a
	return nil
}

// =============================================================================
// OVERTIME
// =============================================================================

func (m *Memory) InsertOvertime(_ context.Context, r attendance.OvertimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dayKey{Tenant: r.TenantID, Employee: r.EmployeeID, Date: r.Date}
	if _, ok := m.overtimeKeys[k]; ok {
		return attendance.ErrDuplicateOvertime
	}
	m.overtimeKeys[k] = r.ID
	m.overtime[r.ID] = r
	return nil
}

func (m *Memory) GetOvertimeForDay(_ context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, date attendance.Date) (attendance.OvertimeRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.overtimeKeys[dayKey{Tenant: tenant, Employee: emp, Date: date}]
	if !ok {
		return attendance.OvertimeRecord{}, false, nil
	}
	return m.overtime[id], true, nil
}

func (m *Memory) SumOvertimeHours(_ context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, from, to attendance.Date) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, r := range m.overtime {
		if r.TenantID != tenant || r.EmployeeID != emp || !inDates(r.Date, from, to) {
			continue
		}
		if r.Status == attendance.OvertimeRejected {
			continue
		}
		sum = sum.Add(r.CountedHours())
	}
	return sum, nil
}

func (m *Memory) ListOvertime(_ context.Context, tenant attendance.TenantID, f attendance.OvertimeFilter) ([]attendance.OvertimeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.OvertimeRecord
	for _, r := range m.overtime {
		if r.TenantID != tenant || !matchEmployee(f.EmployeeID, f.Scope, r.EmployeeID) || !inDates(r.Date, f.From, f.To) {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

func (m *Memory) SetOvertimeStatus(_ context.Context, tenant attendance.TenantID, id attendance.OvertimeID, status attendance.OvertimeStatus, approvedHours *decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.overtime[id]
	if !ok || r.TenantID != tenant {
		return attendance.ErrNotFound
	}
	r.Status = status
	r.ApprovedHours = approvedHours
	m.overtime[id] = r
	return nil
}

// =============================================================================
// NOTIFICATION LOG
// =============================================================================

func (m *Memory) LastNotified(_ context.Context, tenant attendance.TenantID, key attendance.OccurrenceKey, managerID string) (attendance.NotificationLogEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last attendance.NotificationLogEntry
	found := false
	for _, e := range m.notifyLog {
		if e.TenantID != tenant || e.OccurrenceKey != key || e.ManagerID != managerID {
			continue
		}
		if !found || e.SentAt.After(last.SentAt) {
			last, found = e, true
		}
	}
	return last, found, nil
}

func (m *Memory) AppendNotification(_ context.Context, e attendance.NotificationLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyLog = append(m.notifyLog, e)
	return nil
}

func (m *Memory) PurgeNotifications(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.notifyLog[:0]
	removed := 0
	for _, e := range m.notifyLog {
		if e.SentAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.notifyLog = kept
	return removed, nil
}

// NotificationLog returns a copy of the log, oldest first.
func (m *Memory) NotificationLog() []attendance.NotificationLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]attendance.NotificationLogEntry(nil), m.notifyLog...)
}

// =============================================================================
// REFERENCE DATA - Providers
// =============================================================================

func (m *Memory) Settings(_ context.Context, tenant attendance.TenantID) (attendance.TenantSettings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[tenant]
	return s, ok, nil
}

func (m *Memory) ScheduleEntry(_ context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, date attendance.Date) (*attendance.ScheduleEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.schedules[dayKey{Tenant: tenant, Employee: emp, Date: date}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) Shift(_ context.Context, tenant attendance.TenantID, id string) (*attendance.Shift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shifts[shiftKey{Tenant: tenant, ID: id}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) Employee(_ context.Context, tenant attendance.TenantID, emp attendance.EmployeeID) (attendance.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[empKey{Tenant: tenant, Employee: emp}]
	if !ok {
		return attendance.Employee{}, attendance.ErrNotFound
	}
	return e, nil
}

func (m *Memory) ActiveEmployees(_ context.Context, tenant attendance.TenantID) ([]attendance.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Employee
	for k, e := range m.employees {
		if k.Tenant == tenant && e.IsActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) OnApprovedLeave(_ context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, date attendance.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.leaves {
		if l.TenantID == tenant && l.EmployeeID == emp && l.Covers(date) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) IsHoliday(_ context.Context, tenant attendance.TenantID, date attendance.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.holidays {
		if h.TenantID == tenant && h.Matches(date) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Managers(_ context.Context, tenant attendance.TenantID, emp attendance.EmployeeID) ([]attendance.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]attendance.Manager(nil), m.managers[empKey{Tenant: tenant, Employee: emp}]...), nil
}

func (m *Memory) Tenants(_ context.Context) ([]attendance.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]attendance.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// REFERENCE DATA - Writers (seeding, tests)
// =============================================================================

func (m *Memory) PutTenant(t attendance.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

func (m *Memory) PutSettings(tenant attendance.TenantID, s attendance.TenantSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[tenant] = s
}

func (m *Memory) PutEmployee(e attendance.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[empKey{Tenant: e.TenantID, Employee: e.ID}] = e
}

func (m *Memory) PutShift(s attendance.Shift) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shifts[shiftKey{Tenant: s.TenantID, ID: s.ID}] = s
}

func (m *Memory) PutSchedule(e attendance.ScheduleEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[dayKey{Tenant: e.TenantID, Employee: e.EmployeeID, Date: e.Date}] = e
}

func (m *Memory) PutLeave(l attendance.Leave) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves = append(m.leaves, l)
}

func (m *Memory) PutHoliday(h attendance.Holiday) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays = append(m.holidays, h)
}

func (m *Memory) PutManager(tenant attendance.TenantID, emp attendance.EmployeeID, mgr attendance.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := empKey{Tenant: tenant, Employee: emp}
	m.managers[k] = append(m.managers[k], mgr)
}

// =============================================================================
// HELPERS
// =============================================================================

func matchEmployee(want attendance.EmployeeID, scope attendance.VisibilityScope, got attendance.EmployeeID) bool {
	if want != "" && want != got {
		return false
	}
	return scope.Allows(got)
}

// inDates reports whether d lies in [from, to]; zero bounds are open.
func inDates(d, from, to attendance.Date) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}
