package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// PUNCHES (attendance.PunchRepository)
// =============================================================================

const punchColumns = `id, tenant_id, employee_id, ts, direction, method, device_id, site_id, raw_payload,
	status, reject_reason, has_anomaly, anomaly_type, anomaly_note,
	corrected_ts, is_corrected, corrected_by, corrected_at, created_at`

// InsertPunch stores a new punch. A reused ID returns ErrDuplicatePunch.
func (s *Store) InsertPunch(ctx context.Context, p attendance.Punch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO punches
		(id, tenant_id, employee_id, ts, effective_ts, direction, method, device_id, site_id, raw_payload,
		 status, reject_reason, has_anomaly, anomaly_type, anomaly_note,
		 corrected_ts, is_corrected, corrected_by, corrected_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.EmployeeID,
		formatTS(p.Timestamp), formatTS(p.EffectiveTime()),
		p.Direction, p.Method,
		nullString(p.DeviceID), nullString(p.SiteID), nullString(p.RawPayload),
		p.Status, nullString(p.RejectReason),
		boolInt(p.HasAnomaly), nullString(string(p.AnomalyType)), nullString(p.AnomalyNote),
		nullTS(p.CorrectedTimestamp), boolInt(p.IsCorrected), nullString(p.CorrectedBy), nullTS(p.CorrectedAt),
		formatTS(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return attendance.ErrDuplicatePunch
		}
		return fmt.Errorf("failed to insert punch: %w", err)
	}
	return nil
}

// GetPunch retrieves a punch by ID.
func (s *Store) GetPunch(ctx context.Context, tenant attendance.TenantID, id attendance.PunchID) (attendance.Punch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+punchColumns+" FROM punches WHERE tenant_id = ? AND id = ?", tenant, id)
	p, err := scanPunch(row)
	if err == sql.ErrNoRows {
		return attendance.Punch{}, attendance.ErrNotFound
	}
	return p, err
}

// ListPunches returns an employee's punches with effective time in [from, to).
func (s *Store) ListPunches(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, from, to time.Time) ([]attendance.Punch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+punchColumns+` FROM punches
		WHERE tenant_id = ? AND employee_id = ? AND effective_ts >= ? AND effective_ts < ?
		ORDER BY effective_ts, id`,
		tenant, emp, formatTS(from), formatTS(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var punches []attendance.Punch
	for rows.Next() {
		p, err := scanPunch(rows)
		if err != nil {
			return nil, err
		}
		punches = append(punches, p)
	}
	return punches, rows.Err()
}

// AnnotatePunch sets the punch's anomaly annotation.
func (s *Store) AnnotatePunch(ctx context.Context, tenant attendance.TenantID, a attendance.PunchAnnotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE punches SET has_anomaly = ?, anomaly_type = ?, anomaly_note = ?
		WHERE tenant_id = ? AND id = ?`,
		boolInt(a.HasAnomaly), nullString(string(a.AnomalyType)), nullString(a.AnomalyNote), tenant, a.PunchID)
	if err != nil {
		return fmt.Errorf("failed to annotate punch: %w", err)
	}
	return requireAffected(res)
}

// ApplyCorrection appends the correction event and updates the punch in one
// transaction.
func (s *Store) ApplyCorrection(ctx context.Context, c attendance.PunchCorrection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if c.CorrectedTimestamp != nil {
			res, err = tx.ExecContext(ctx, `
				UPDATE punches SET corrected_ts = ?, effective_ts = ?, is_corrected = 1,
					corrected_by = ?, corrected_at = ?, status = ?, reject_reason = NULL
				WHERE tenant_id = ? AND id = ?`,
				formatTS(*c.CorrectedTimestamp), formatTS(*c.CorrectedTimestamp),
				c.CorrectedBy, formatTS(c.At), attendance.PunchAccepted, c.TenantID, c.PunchID)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE punches SET is_corrected = 1, corrected_by = ?, corrected_at = ?,
					status = ?, reject_reason = NULL
				WHERE tenant_id = ? AND id = ?`,
				c.CorrectedBy, formatTS(c.At), attendance.PunchAccepted, c.TenantID, c.PunchID)
		}
		if err != nil {
			return fmt.Errorf("failed to correct punch: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO punch_corrections
			(id, tenant_id, punch_id, corrected_by, note, previous_ts, corrected_ts, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.TenantID, c.PunchID, c.CorrectedBy, nullString(c.Note),
			formatTS(c.PreviousTimestamp), nullTS(c.CorrectedTimestamp), formatTS(c.At))
		if err != nil {
			return fmt.Errorf("failed to record correction: %w", err)
		}
		return nil
	})
}

// ListCorrections returns the correction history of a punch, oldest first.
func (s *Store) ListCorrections(ctx context.Context, tenant attendance.TenantID, id attendance.PunchID) ([]attendance.PunchCorrection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, punch_id, corrected_by, note, previous_ts, corrected_ts, at
		FROM punch_corrections WHERE tenant_id = ? AND punch_id = ? ORDER BY at, id`,
		tenant, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.PunchCorrection
	for rows.Next() {
		var c attendance.PunchCorrection
		var note, correctedTS sql.NullString
		var previous, at string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.PunchID, &c.CorrectedBy, &note, &previous, &correctedTS, &at); err != nil {
			return nil, err
		}
		c.Note = note.String
		c.PreviousTimestamp = parseTS(previous)
		c.CorrectedTimestamp = parseNullTS(correctedTS)
		c.At = parseTS(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPunch(row rowScanner) (attendance.Punch, error) {
	var p attendance.Punch
	var ts, createdAt string
	var deviceID, siteID, payload, rejectReason, anomalyType, anomalyNote, correctedBy sql.NullString
	var correctedTS, correctedAt sql.NullString
	var hasAnomaly, isCorrected int

	err := row.Scan(&p.ID, &p.TenantID, &p.EmployeeID, &ts, &p.Direction, &p.Method,
		&deviceID, &siteID, &payload, &p.Status, &rejectReason,
		&hasAnomaly, &anomalyType, &anomalyNote,
		&correctedTS, &isCorrected, &correctedBy, &correctedAt, &createdAt)
	if err != nil {
		return p, err
	}

	p.Timestamp = parseTS(ts)
	p.DeviceID = deviceID.String
	p.SiteID = siteID.String
	p.RawPayload = payload.String
	p.RejectReason = rejectReason.String
	p.HasAnomaly = hasAnomaly == 1
	p.AnomalyType = attendance.AnomalyType(anomalyType.String)
	p.AnomalyNote = anomalyNote.String
	p.CorrectedTimestamp = parseNullTS(correctedTS)
	p.IsCorrected = isCorrected == 1
	p.CorrectedBy = correctedBy.String
	p.CorrectedAt = parseNullTS(correctedAt)
	p.CreatedAt = parseTS(createdAt)
	return p, nil
}

// =============================================================================
// CAPTURE ATTEMPTS (attendance.AttemptRepository)
// =============================================================================

func (s *Store) InsertAttempt(ctx context.Context, a attendance.CaptureAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_attempts (id, tenant_id, employee_id, device_id, ts, status, error_code, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.EmployeeID, nullString(a.DeviceID), formatTS(a.Timestamp),
		a.Status, nullString(a.ErrorCode), nullString(a.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to insert capture attempt: %w", err)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, from, to time.Time) ([]attendance.CaptureAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, employee_id, device_id, ts, status, error_code, error_message
		FROM capture_attempts
		WHERE tenant_id = ? AND employee_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts, rowid`,
		tenant, emp, formatTS(from), formatTS(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.CaptureAttempt
	for rows.Next() {
		var a attendance.CaptureAttempt
		var deviceID, code, msg sql.NullString
		var ts string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.EmployeeID, &deviceID, &ts, &a.Status, &code, &msg); err != nil {
			return nil, err
		}
		a.DeviceID = deviceID.String
		a.Timestamp = parseTS(ts)
		a.ErrorCode = code.String
		a.ErrorMessage = msg.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// SESSIONS (attendance.SessionRepository)
// =============================================================================

const sessionColumns = `id, tenant_id, employee_id, date, open_punch_id, opened_at, close_punch_id, closed_at,
	has_window, window_date, window_start, window_end, window_break, window_night,
	window_source, window_shift_id, window_tz,
	detection_deadline, state, worked_minutes, late_minutes, early_leave_minutes, overtime_minutes, updated_at`

// UpsertSession inserts or replaces the session with the same ID.
func (s *Store) UpsertSession(ctx context.Context, sess attendance.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		hasWindow                    int
		wDate, wSource, wShift, wTZ  sql.NullString
		wStart, wEnd, wBreak, wNight sql.NullInt64
	)
	if w := sess.Window; w != nil {
		hasWindow = 1
		wDate = nullString(w.Date.String())
		wStart = sql.NullInt64{Int64: int64(w.StartTime), Valid: true}
		wEnd = sql.NullInt64{Int64: int64(w.EndTime), Valid: true}
		wBreak = sql.NullInt64{Int64: int64(w.BreakDurationMinutes), Valid: true}
		wNight = sql.NullInt64{Int64: int64(boolInt(w.IsNightShift)), Valid: true}
		wSource = nullString(string(w.Source))
		wShift = nullString(w.ShiftID)
		if w.Location != nil {
			wTZ = nullString(w.Location.String())
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			close_punch_id = excluded.close_punch_id,
			closed_at = excluded.closed_at,
			has_window = excluded.has_window,
			window_date = excluded.window_date,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			window_break = excluded.window_break,
			window_night = excluded.window_night,
			window_source = excluded.window_source,
			window_shift_id = excluded.window_shift_id,
			window_tz = excluded.window_tz,
			detection_deadline = excluded.detection_deadline,
			state = excluded.state,
			worked_minutes = excluded.worked_minutes,
			late_minutes = excluded.late_minutes,
			early_leave_minutes = excluded.early_leave_minutes,
			overtime_minutes = excluded.overtime_minutes,
			updated_at = excluded.updated_at`,
		sess.ID, sess.TenantID, sess.EmployeeID, sess.Date.String(),
		nullString(string(sess.OpenPunchID)), nullTS(sess.OpenedAt),
		nullString(string(sess.ClosePunchID)), nullTS(sess.ClosedAt),
		hasWindow, wDate, wStart, wEnd, wBreak, wNight, wSource, wShift, wTZ,
		formatTS(sess.DetectionDeadline), sess.State,
		sess.WorkedMinutes, sess.LateMinutes, sess.EarlyLeaveMinutes, sess.OvertimeMinutes,
		formatTS(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, tenant attendance.TenantID, f attendance.SessionFilter) ([]attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := newQuery(tenant).employee(f.EmployeeID).dates(f.From, f.To)
	if f.State != "" {
		q.where("state = ?", f.State)
	}
	if !q.scope(f.Scope) {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions"+q.sql()+" ORDER BY date, employee_id, id", q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (attendance.Session, error) {
	var sess attendance.Session
	var date, deadline, updatedAt string
	var openID, openedAt, closeID, closedAt sql.NullString
	var hasWindow int
	var wDate, wSource, wShift, wTZ sql.NullString
	var wStart, wEnd, wBreak, wNight sql.NullInt64

	err := row.Scan(&sess.ID, &sess.TenantID, &sess.EmployeeID, &date, &openID, &openedAt, &closeID, &closedAt,
		&hasWindow, &wDate, &wStart, &wEnd, &wBreak, &wNight, &wSource, &wShift, &wTZ,
		&deadline, &sess.State, &sess.WorkedMinutes, &sess.LateMinutes, &sess.EarlyLeaveMinutes,
		&sess.OvertimeMinutes, &updatedAt)
	if err != nil {
		return sess, err
	}

	sess.Date = parseDate(date)
	sess.OpenPunchID = attendance.PunchID(openID.String)
	sess.OpenedAt = parseNullTS(openedAt)
	sess.ClosePunchID = attendance.PunchID(closeID.String)
	sess.ClosedAt = parseNullTS(closedAt)
	sess.DetectionDeadline = parseTS(deadline)
	sess.UpdatedAt = parseTS(updatedAt)

	if hasWindow == 1 {
		loc := time.UTC
		if wTZ.Valid {
			if l, err := time.LoadLocation(wTZ.String); err == nil {
				loc = l
			}
		}
		sess.Window = &attendance.ShiftWindow{
			Date:                 parseDate(wDate.String),
			StartTime:            attendance.TimeOfDay(wStart.Int64),
			EndTime:              attendance.TimeOfDay(wEnd.Int64),
			BreakDurationMinutes: int(wBreak.Int64),
			IsNightShift:         wNight.Int64 == 1,
			Source:               attendance.ShiftSource(wSource.String),
			ShiftID:              wShift.String,
			Location:             loc,
		}
	}
	return sess, nil
}

// =============================================================================
// ANOMALIES (attendance.AnomalyRepository)
// =============================================================================

const anomalyColumns = `id, tenant_id, employee_id, date, type, severity, session_id, punch_id,
	late_minutes, early_leave_minutes, reason, detected_at,
	is_corrected, corrected_by, corrected_at, correction_note`

// UpsertAnomaly inserts the anomaly unless its occurrence key exists. An
// existing, uncorrected row is updated only when its classification changed.
func (s *Store) UpsertAnomaly(ctx context.Context, a attendance.Anomaly) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO anomalies (`+anomalyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, NULL)
			ON CONFLICT(tenant_id, employee_id, date, type) DO NOTHING`,
			a.ID, a.TenantID, a.EmployeeID, a.Date.String(), a.Type, a.Severity,
			nullString(string(a.SessionID)), nullString(string(a.PunchID)),
			a.LateMinutes, a.EarlyLeaveMinutes, nullString(a.Reason), formatTS(a.DetectedAt))
		if err != nil {
			return fmt.Errorf("failed to insert anomaly: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			created = true
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE anomalies SET severity = ?, session_id = ?, punch_id = ?,
				late_minutes = ?, early_leave_minutes = ?, reason = ?
			WHERE tenant_id = ? AND employee_id = ? AND date = ? AND type = ?
			  AND is_corrected = 0
			  AND (severity <> ? OR IFNULL(session_id, '') <> ? OR IFNULL(punch_id, '') <> ?
			       OR late_minutes <> ? OR early_leave_minutes <> ? OR IFNULL(reason, '') <> ?)`,
			a.Severity, nullString(string(a.SessionID)), nullString(string(a.PunchID)),
			a.LateMinutes, a.EarlyLeaveMinutes, nullString(a.Reason),
			a.TenantID, a.EmployeeID, a.Date.String(), a.Type,
			a.Severity, string(a.SessionID), string(a.PunchID),
			a.LateMinutes, a.EarlyLeaveMinutes, a.Reason)
		if err != nil {
			return fmt.Errorf("failed to update anomaly: %w", err)
		}
		return nil
	})
	return created, err
}

func (s *Store) GetAnomaly(ctx context.Context, tenant attendance.TenantID, id attendance.AnomalyID) (attendance.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+anomalyColumns+" FROM anomalies WHERE tenant_id = ? AND id = ?", tenant, id)
	a, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return attendance.Anomaly{}, attendance.ErrNotFound
	}
	return a, err
}

func (s *Store) ListAnomalies(ctx context.Context, tenant attendance.TenantID, f attendance.AnomalyFilter) ([]attendance.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := newQuery(tenant).employee(f.EmployeeID).dates(f.From, f.To)
	if f.Type != "" {
		q.where("type = ?", f.Type)
	}
	if !f.IncludeCorrected {
		q.where("is_corrected = 0")
	}
	if !q.scope(f.Scope) {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+anomalyColumns+" FROM anomalies"+q.sql()+" ORDER BY date, employee_id, type", q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CorrectAnomaly(ctx context.Context, tenant attendance.TenantID, id attendance.AnomalyID, by, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE anomalies SET is_corrected = 1, corrected_by = ?, corrected_at = ?, correction_note = ?
		WHERE tenant_id = ? AND id = ?`,
		by, formatTS(at), nullString(note), tenant, id)
	if err != nil {
		return fmt.Errorf("failed to correct anomaly: %w", err)
	}
	return requireAffected(res)
}

func scanAnomaly(row rowScanner) (attendance.Anomaly, error) {
	var a attendance.Anomaly
	var date, detectedAt string
	var sessionID, punchID, reason, correctedBy, correctedAt, note sql.NullString
	var isCorrected int

	err := row.Scan(&a.ID, &a.TenantID, &a.EmployeeID, &date, &a.Type, &a.Severity, &sessionID, &punchID,
		&a.LateMinutes, &a.EarlyLeaveMinutes, &reason, &detectedAt,
		&isCorrected, &correctedBy, &correctedAt, &note)
	if err != nil {
		return a, err
	}
	a.Date = parseDate(date)
	a.SessionID = attendance.SessionID(sessionID.String)
	a.PunchID = attendance.PunchID(punchID.String)
	a.Reason = reason.String
	a.DetectedAt = parseTS(detectedAt)
	a.IsCorrected = isCorrected == 1
	a.CorrectedBy = correctedBy.String
	a.CorrectedAt = parseNullTS(correctedAt)
	a.CorrectionNote = note.String
	return a, nil
}

// =============================================================================
// OVERTIME (attendance.OvertimeRepository)
// =============================================================================

const overtimeColumns = `id, tenant_id, employee_id, date, hours, type, rate, status,
	approved_hours, source_session_id, notes, created_at`

// InsertOvertime returns ErrDuplicateOvertime when the employee-day exists.
func (s *Store) InsertOvertime(ctx context.Context, r attendance.OvertimeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO overtime_records (`+overtimeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.EmployeeID, r.Date.String(),
		r.Hours.String(), r.Type, r.Rate.String(), r.Status,
		nullDecimal(r.ApprovedHours), nullString(string(r.SourceSessionID)), nullString(r.Notes),
		formatTS(r.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return attendance.ErrDuplicateOvertime
		}
		return fmt.Errorf("failed to insert overtime: %w", err)
	}
	return nil
}

func (s *Store) GetOvertimeForDay(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, date attendance.Date) (attendance.OvertimeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+overtimeColumns+" FROM overtime_records WHERE tenant_id = ? AND employee_id = ? AND date = ?",
		tenant, emp, date.String())
	r, err := scanOvertime(row)
	if err == sql.ErrNoRows {
		return attendance.OvertimeRecord{}, false, nil
	}
	if err != nil {
		return attendance.OvertimeRecord{}, false, err
	}
	return r, true, nil
}

// SumOvertimeHours is summed in Go: hours are stored as decimal text.
func (s *Store) SumOvertimeHours(ctx context.Context, tenant attendance.TenantID, emp attendance.EmployeeID, from, to attendance.Date) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT hours, approved_hours, status FROM overtime_records
		WHERE tenant_id = ? AND employee_id = ? AND date >= ? AND date <= ? AND status <> ?`,
		tenant, emp, from.String(), to.String(), attendance.OvertimeRejected)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var hours string
		var approved sql.NullString
		var r attendance.OvertimeRecord
		if err := rows.Scan(&hours, &approved, &r.Status); err != nil {
			return decimal.Zero, err
		}
		r.Hours = parseDecimal(hours)
		r.ApprovedHours = parseNullDecimal(approved)
		sum = sum.Add(r.CountedHours())
	}
	return sum, rows.Err()
}

func (s *Store) ListOvertime(ctx context.Context, tenant attendance.TenantID, f attendance.OvertimeFilter) ([]attendance.OvertimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := newQuery(tenant).employee(f.EmployeeID).dates(f.From, f.To)
	if f.Status != "" {
		q.where("status = ?", f.Status)
	}
	if !q.scope(f.Scope) {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+overtimeColumns+" FROM overtime_records"+q.sql()+" ORDER BY date, employee_id", q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attendance.OvertimeRecord
	for rows.Next() {
		r, err := scanOvertime(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SetOvertimeStatus(ctx context.Context, tenant attendance.TenantID, id attendance.OvertimeID, status attendance.OvertimeStatus, approvedHours *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE overtime_records SET status = ?, approved_hours = ? WHERE tenant_id = ? AND id = ?",
		status, nullDecimal(approvedHours), tenant, id)
	if err != nil {
		return fmt.Errorf("failed to update overtime status: %w", err)
	}
	return requireAffected(res)
}

func scanOvertime(row rowScanner) (attendance.OvertimeRecord, error) {
	var r attendance.OvertimeRecord
	var date, hours, rate, createdAt string
	var approved, sessionID, notes sql.NullString

	err := row.Scan(&r.ID, &r.TenantID, &r.EmployeeID, &date, &hours, &r.Type, &rate, &r.Status,
		&approved, &sessionID, &notes, &createdAt)
	if err != nil {
		return r, err
	}
	r.Date = parseDate(date)
	r.Hours = parseDecimal(hours)
	r.Rate = parseDecimal(rate)
	r.ApprovedHours = parseNullDecimal(approved)
	r.SourceSessionID = attendance.SessionID(sessionID.String)
	r.Notes = notes.String
	r.CreatedAt = parseTS(createdAt)
	return r, nil
}

// =============================================================================
// NOTIFICATION LOG (attendance.NotificationLog)
// =============================================================================

func (s *Store) LastNotified(ctx context.Context, tenant attendance.TenantID, key attendance.OccurrenceKey, managerID string) (attendance.NotificationLogEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e attendance.NotificationLogEntry
	var sentAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, occurrence_key, anomaly_type, employee_id, manager_id, sent_at
		FROM notification_log
		WHERE tenant_id = ? AND occurrence_key = ? AND manager_id = ?
		ORDER BY sent_at DESC LIMIT 1`,
		tenant, key, managerID,
	).Scan(&e.ID, &e.TenantID, &e.OccurrenceKey, &e.AnomalyType, &e.EmployeeID, &e.ManagerID, &sentAt)
	if err == sql.ErrNoRows {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	e.SentAt = parseTS(sentAt)
	return e, true, nil
}

func (s *Store) AppendNotification(ctx context.Context, e attendance.NotificationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_log (id, tenant_id, occurrence_key, anomaly_type, employee_id, manager_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.OccurrenceKey, e.AnomalyType, e.EmployeeID, e.ManagerID, formatTS(e.SentAt))
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}
	return nil
}

func (s *Store) PurgeNotifications(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM notification_log WHERE sent_at < ?", formatTS(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// QUERY BUILDER
// =============================================================================

// filterQuery accumulates WHERE clauses for the tenant-scoped list queries.
type filterQuery struct {
	clauses []string
	args    []any
}

func newQuery(tenant attendance.TenantID) *filterQuery {
	return &filterQuery{clauses: []string{"tenant_id = ?"}, args: []any{tenant}}
}

func (q *filterQuery) where(clause string, args ...any) *filterQuery {
	q.clauses = append(q.clauses, clause)
	q.args = append(q.args, args...)
	return q
}

func (q *filterQuery) employee(emp attendance.EmployeeID) *filterQuery {
	if emp != "" {
		q.where("employee_id = ?", emp)
	}
	return q
}

func (q *filterQuery) dates(from, to attendance.Date) *filterQuery {
	if !from.IsZero() {
		q.where("date >= ?", from.String())
	}
	if !to.IsZero() {
		q.where("date <= ?", to.String())
	}
	return q
}

// scope restricts to the visible employees. It returns false when the scope
// is an explicit empty set, so the caller can skip the query.
func (q *filterQuery) scope(v attendance.VisibilityScope) bool {
	if v.All || v.Employees == nil {
		return true
	}
	ids := make([]string, 0, len(v.Employees))
	for id, ok := range v.Employees {
		if ok {
			ids = append(ids, string(id))
		}
	}
	if len(ids) == 0 {
		return false
	}
	sort.Strings(ids)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q.where("employee_id IN (?"+strings.Repeat(", ?", len(ids)-1)+")", args...)
	return true
}

func (q *filterQuery) sql() string {
	return " WHERE " + strings.Join(q.clauses, " AND ")
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return attendance.ErrNotFound
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d := parseDecimal(ns.String)
	return &d
}
