package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
)

// =============================================================================
// TENANTS & SETTINGS
// =============================================================================

// SaveTenant creates or updates a tenant.
func (s *Store) SaveTenant(ctx context.Context, t attendance.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		t.ID, t.Name)
	return err
}

// Tenants returns all tenants ordered by ID.
func (s *Store) Tenants(ctx context.Context) ([]attendance.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM tenants ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.Tenant
	for rows.Next() {
		var t attendance.Tenant
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveSettingsJSON stores a tenant's raw settings document after checking it
// parses. The document is kept as-is so unset fields keep following the
// defaults.
func (s *Store) SaveSettingsJSON(ctx context.Context, tenant attendance.TenantID, doc []byte) (attendance.TenantSettings, error) {
	settings, err := factory.NewSettingsFactory().Parse(doc)
	if err != nil {
		return settings, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, settings_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			settings_json = excluded.settings_json,
			updated_at = excluded.updated_at`,
		tenant, string(doc), formatTS(time.Now()))
	if err != nil {
		return settings, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}

// SaveSettings stores fully resolved settings.
func (s *Store) SaveSettings(ctx context.Context, tenant attendance.TenantID, settings attendance.TenantSettings) error {
	doc, err := factory.NewSettingsFactory().ToJSON(settings)
	if err != nil {
		return err
	}
	_, err = s.SaveSettingsJSON(ctx, tenant, doc)
	return err
}

// Settings parses the stored document; ok is false when none is stored.
func (s *Store) Settings(ctx context.Context, tenant attendance.TenantID) (attendance.TenantSettings, bool, error) {
	s.mu.RLock()
	var doc string
	err := s.db.QueryRowContext(ctx,
		"SELECT settings_json FROM tenant_settings WHERE tenant_id = ?", tenant,
	).Scan(&doc)
	s.mu.RUnlock()

	if err == sql.ErrNoRows {
		return attendance.TenantSettings{}, false, nil
	}
	if err != nil {
		return attendance.TenantSettings{}, false, err
	}

	settings, err := factory.NewSettingsFactory().Parse([]byte(doc))
	if err != nil {
		return attendance.TenantSettings{}, false, fmt.Errorf("tenant %s: %w", tenant, err)
	}
	return settings, true, nil
}

// =============================================================================
// EMPLOYEES (attendance.EmployeeDirectory)
// =============================================================================

const employeeColumns = `tenant_id, id, name, email, is_active, default_shift_id, eligible_for_overtime,
	max_overtime_week, max_overtime_month, overtime_cap_policy`

// SaveEmployee creates or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e attendance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			is_active = excluded.is_active,
			default_shift_id = excluded.default_shift_id,
			eligible_for_overtime = excluded.eligible_for_overtime,
			max_overtime_week = excluded.max_overtime_week,
			max_overtime_month = excluded.max_overtime_month,
			overtime_cap_policy = excluded.overtime_cap_policy`,
		e.TenantID, e.ID, e.Name, nullString(e.Email), boolInt(e.IsActive),
		nullString(e.DefaultShiftID), boolInt(e.IsEligibleForOvertime),
		nullDecimal(e.MaxOvertimeHoursPerWeek), nullDecimal(e.MaxOvertimeHoursPerMonth),
		nullString(string(e.OvertimeCapPolicy)))
	return err
}

func (s *Store) Employee(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID) (attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE tenant_id = ? AND id = ?", tenant, emp)
	e, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return attendance.Employee{}, attendance.ErrNotFound
	}
	return e, err
}

func (s *Store) ActiveEmployees(ctx context.Context, tenant attendance.TenantID) ([]attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE tenant_id = ? AND is_active = 1 ORDER BY id", tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(row rowScanner) (attendance.Employee, error) {
	var e attendance.Employee
	var email, shiftID, week, month, capPolicy sql.NullString
	var active, eligible int

	err := row.Scan(&e.TenantID, &e.ID, &e.Name, &email, &active, &shiftID, &eligible, &week, &month, &capPolicy)
	if err != nil {
		return e, err
	}
	e.Email = email.String
	e.IsActive = active == 1
	e.DefaultShiftID = shiftID.String
	e.IsEligibleForOvertime = eligible == 1
	e.MaxOvertimeHoursPerWeek = parseNullDecimal(week)
	e.MaxOvertimeHoursPerMonth = parseNullDecimal(month)
	e.OvertimeCapPolicy = attendance.CapPolicy(capPolicy.String)
	return e, nil
}

// =============================================================================
// SHIFTS & SCHEDULES (attendance.ScheduleSource)
// =============================================================================

// SaveShift creates or updates a shift definition.
func (s *Store) SaveShift(ctx context.Context, sh attendance.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (tenant_id, id, name, start_time, end_time, break_minutes, is_night)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			break_minutes = excluded.break_minutes,
			is_night = excluded.is_night`,
		sh.TenantID, sh.ID, sh.Name, int(sh.StartTime), int(sh.EndTime),
		sh.BreakDurationMinutes, boolInt(sh.IsNightShift))
	return err
}

// Shift returns nil when the shift doesn't exist.
func (s *Store) Shift(ctx context.Context, tenant attendance.TenantID, shiftID string) (*attendance.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sh attendance.Shift
	var start, end, night int
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, id, name, start_time, end_time, break_minutes, is_night
		FROM shifts WHERE tenant_id = ? AND id = ?`,
		tenant, shiftID,
	).Scan(&sh.TenantID, &sh.ID, &sh.Name, &start, &end, &sh.BreakDurationMinutes, &night)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sh.StartTime = attendance.TimeOfDay(start)
	sh.EndTime = attendance.TimeOfDay(end)
	sh.IsNightShift = night == 1
	return &sh, nil
}

// SaveSchedule creates or replaces the schedule entry of an employee-day.
func (s *Store) SaveSchedule(ctx context.Context, e attendance.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (tenant_id, employee_id, date, shift_id, custom_start, custom_end, suspended)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, employee_id, date) DO UPDATE SET
			shift_id = excluded.shift_id,
			custom_start = excluded.custom_start,
			custom_end = excluded.custom_end,
			suspended = excluded.suspended`,
		e.TenantID, e.EmployeeID, e.Date.String(), nullString(e.ShiftID),
		nullTimeOfDay(e.CustomStartTime), nullTimeOfDay(e.CustomEndTime), boolInt(e.Suspended))
	return err
}

// ScheduleEntry returns nil when the employee has no entry for date.
func (s *Store) ScheduleEntry(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, date attendance.Date) (*attendance.ScheduleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := attendance.ScheduleEntry{TenantID: tenant, EmployeeID: emp, Date: date}
	var shiftID sql.NullString
	var start, end sql.NullInt64
	var suspended int
	err := s.db.QueryRowContext(ctx, `
		SELECT shift_id, custom_start, custom_end, suspended
		FROM schedules WHERE tenant_id = ? AND employee_id = ? AND date = ?`,
		tenant, emp, date.String(),
	).Scan(&shiftID, &start, &end, &suspended)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.ShiftID = shiftID.String
	e.CustomStartTime = parseNullTimeOfDay(start)
	e.CustomEndTime = parseNullTimeOfDay(end)
	e.Suspended = suspended == 1
	return &e, nil
}

// =============================================================================
// LEAVE & HOLIDAYS (attendance.LeaveCalendar, attendance.HolidayCalendar)
// =============================================================================

// SaveLeave creates or updates a leave period.
func (s *Store) SaveLeave(ctx context.Context, l attendance.Leave) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaves (id, tenant_id, employee_id, from_date, to_date, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_date = excluded.from_date,
			to_date = excluded.to_date,
			status = excluded.status`,
		l.ID, l.TenantID, l.EmployeeID, l.From.String(), l.To.String(), l.Status)
	return err
}

func (s *Store) OnApprovedLeave(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, date attendance.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM leaves
		WHERE tenant_id = ? AND employee_id = ? AND status = ? AND from_date <= ? AND to_date >= ?`,
		tenant, emp, attendance.LeaveApproved, date.String(), date.String(),
	).Scan(&n)
	return n > 0, err
}

// SaveHoliday creates or updates a holiday.
func (s *Store) SaveHoliday(ctx context.Context, h attendance.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, tenant_id, date, name, recurring)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring`,
		h.ID, h.TenantID, h.Date.String(), h.Name, boolInt(h.Recurring))
	return err
}

// IsHoliday matches exact dates and recurring month-day holidays.
func (s *Store) IsHoliday(ctx context.Context, tenant attendance.TenantID, date attendance.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM holidays
		WHERE tenant_id = ? AND (date = ? OR (recurring = 1 AND substr(date, 6) = ?))`,
		tenant, date.String(), date.String()[5:],
	).Scan(&n)
	return n > 0, err
}

// =============================================================================
// MANAGERS (attendance.ManagerResolver)
// =============================================================================

// SaveManager links a manager to an employee.
func (s *Store) SaveManager(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, m attendance.Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO managers (tenant_id, employee_id, manager_id, name, email)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, employee_id, manager_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email`,
		tenant, emp, m.ID, m.Name, nullString(m.Email))
	return err
}

func (s *Store) Managers(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID) ([]attendance.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT manager_id, name, email FROM managers
		WHERE tenant_id = ? AND employee_id = ? ORDER BY manager_id`,
		tenant, emp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.Manager
	for rows.Next() {
		var m attendance.Manager
		var email sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &email); err != nil {
			return nil, err
		}
		m.Email = email.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// Helper functions

func nullTimeOfDay(t *attendance.TimeOfDay) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*t), Valid: true}
}

func parseNullTimeOfDay(n sql.NullInt64) *attendance.TimeOfDay {
	if !n.Valid {
		return nil
	}
	t := attendance.TimeOfDay(n.Int64)
	return &t
}
