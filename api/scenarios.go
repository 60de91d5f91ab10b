/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	attendance data for demos. Each scenario seeds a tenant, its settings
	document, shifts, employees, managers and schedules, then replays
	punches and capture attempts through the engine and sweeps the day, so
	the resulting sessions, anomalies and overtime are real engine output.

AVAILABLE SCENARIOS:

	office-day:         Day shift with an on-time, a late, a partially absent
	                    and an absent employee, plus credited overtime
	night-shift:        21:00-06:00 shift closing after midnight, and a
	                    forgotten OUT detected as MISSING_OUT
	technical-absence:  Failed biometric reads turn an absence technical;
	                    approved leave suppresses another absence
	overtime-caps:      Same overtime under a soft and a hard weekly cap

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Store tenant + settings JSON (via factory.SettingsFactory)
 3. Create shifts, employees, managers, schedules
 4. Ingest punches and attempts through the engine (sync path)
 5. Sweep the work date (batch path)

All scenarios use "yesterday" in the tenant timezone as the work date,
except night-shift, which needs its shift fully elapsed and uses the day
before.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "night-shift"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: engine endpoints used to inspect the results
  - factory/settings.go: settings JSON schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// DemoTenant is the tenant every scenario seeds.
const DemoTenant attendance.TenantID = "demo"

var scenarios = []ScenarioDTO{
	{
		ID:          "office-day",
		Name:        "Office Day",
		Description: "09:00-17:00 shift: on time, late, partial absence, absence and overtime",
		Category:    "reconciliation",
	},
	{
		ID:          "night-shift",
		Name:        "Night Shift",
		Description: "21:00-06:00 shift crossing midnight and a forgotten OUT",
		Category:    "reconciliation",
	},
	{
		ID:          "technical-absence",
		Name:        "Technical Absence",
		Description: "Failed biometric reads and approved leave",
		Category:    "anomalies",
	},
	{
		ID:          "overtime-caps",
		Name:        "Overtime Caps",
		Description: "Soft cap clips, hard cap skips",
		Category:    "overtime",
	},
}

const demoSettingsJSON = `{
  "timezone": "UTC",
  "working_days": ["MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"],
  "late_tolerance_entry_minutes": 10,
  "absence_partial_threshold_minutes": 120,
  "missing_out_detection_window_hours": 12,
  "technical_absence_min_failed_attempts": 3,
  "overtime": {
    "rounding_minutes": 15,
    "minimum_threshold_minutes": 30,
    "cap_policy": "soft"
  },
  "notifications": {
    "frequency_minutes": {"MISSING_OUT": 240}
  }
}`

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var loader func(context.Context, *scenarioSeed) error
	switch req.ScenarioID {
	case "office-day":
		loader = loadOfficeDayScenario
	case "night-shift":
		loader = loadNightShiftScenario
	case "technical-absence":
		loader = loadTechnicalAbsenceScenario
	case "overtime-caps":
		loader = loadOvertimeCapsScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	seed, err := h.newSeed(ctx, demoSettingsJSON)
	if err == nil {
		err = loader(ctx, seed)
	}
	if err == nil {
		err = seed.sweep(ctx)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"tenant":   string(DemoTenant),
		"date":     seed.day.String(),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// scenarioSeed writes reference data and replays events for one work day.
type scenarioSeed struct {
	h   *Handler
	loc *time.Location
	day attendance.Date
}

func (h *Handler) newSeed(ctx context.Context, settingsJSON string) (*scenarioSeed, error) {
	if err := h.Store.SaveTenant(ctx, attendance.Tenant{ID: DemoTenant, Name: "Demo Manufacturing"}); err != nil {
		return nil, err
	}
	settings, err := h.Store.SaveSettingsJSON(ctx, DemoTenant, []byte(settingsJSON))
	if err != nil {
		return nil, err
	}
	loc := settings.Location()
	return &scenarioSeed{
		h:   h,
		loc: loc,
		day: attendance.PreviousDay(h.Engine.Clock.Now(), settings),
	}, nil
}

func (s *scenarioSeed) shift(ctx context.Context, id, name, start, end string, breakMinutes int, night bool) error {
	return s.h.Store.SaveShift(ctx, attendance.Shift{
		ID:                   id,
		TenantID:             DemoTenant,
		Name:                 name,
		StartTime:            attendance.MustTimeOfDay(start),
		EndTime:              attendance.MustTimeOfDay(end),
		BreakDurationMinutes: breakMinutes,
		IsNightShift:         night,
	})
}

// employee creates an active, overtime-eligible employee on shiftID with one
// manager.
func (s *scenarioSeed) employee(ctx context.Context, id, name, shiftID string) error {
	emp := attendance.Employee{
		ID:                    attendance.EmployeeID(id),
		TenantID:              DemoTenant,
		Name:                  name,
		IsActive:              true,
		DefaultShiftID:        shiftID,
		IsEligibleForOvertime: true,
	}
	return s.saveEmployee(ctx, emp)
}

func (s *scenarioSeed) saveEmployee(ctx context.Context, emp attendance.Employee) error {
	if err := s.h.Store.SaveEmployee(ctx, emp); err != nil {
		return err
	}
	return s.h.Store.SaveManager(ctx, DemoTenant, emp.ID, attendance.Manager{
		ID: "mgr-ops", Name: "Operations Manager", Email: "ops@example.com",
	})
}

// punch ingests a punch at hh:mm on the work day plus dayOffset days.
func (s *scenarioSeed) punch(ctx context.Context, emp string, dir attendance.Direction, dayOffset int, hhmm string) error {
	at := s.day.AddDays(dayOffset).At(attendance.MustTimeOfDay(hhmm), s.loc)
	_, err := s.h.Engine.IngestPunch(ctx, attendance.Punch{
		TenantID:   DemoTenant,
		EmployeeID: attendance.EmployeeID(emp),
		Timestamp:  at,
		Direction:  dir,
		Method:     attendance.MethodBiometric,
		DeviceID:   "terminal-gate-1",
	})
	return err
}

func (s *scenarioSeed) failedAttempt(ctx context.Context, emp, hhmm, code string) error {
	_, err := s.h.Engine.RecordAttempt(ctx, attendance.CaptureAttempt{
		TenantID:   DemoTenant,
		EmployeeID: attendance.EmployeeID(emp),
		DeviceID:   "terminal-gate-1",
		Timestamp:  s.day.At(attendance.MustTimeOfDay(hhmm), s.loc),
		Status:     attendance.AttemptFailed,
		ErrorCode:  code,
	})
	return err
}

func (s *scenarioSeed) sweep(ctx context.Context) error {
	_, err := s.h.Sweeper.SweepTenant(ctx, DemoTenant, s.day)
	return err
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadOfficeDayScenario(ctx context.Context, s *scenarioSeed) error {
	if err := s.shift(ctx, "day", "Day 09-17", "09:00", "17:00", 60, false); err != nil {
		return err
	}
	for _, e := range [][2]string{
		{"emp-amina", "Amina Benali"},
		{"emp-youssef", "Youssef Idrissi"},
		{"emp-salma", "Salma Tazi"},
		{"emp-karim", "Karim Alaoui"},
	} {
		if err := s.employee(ctx, e[0], e[1], "day"); err != nil {
			return err
		}
	}

	steps := []struct {
		emp  string
		dir  attendance.Direction
		hhmm string
	}{
		// On time, stays 37 minutes late: 30 minutes credited
		{"emp-amina", attendance.DirectionIn, "08:58"},
		{"emp-amina", attendance.DirectionOut, "17:37"},
		// 25 minutes late
		{"emp-youssef", attendance.DirectionIn, "09:25"},
		{"emp-youssef", attendance.DirectionOut, "17:02"},
		// Arrives at 11:00: partial absence
		{"emp-salma", attendance.DirectionIn, "11:00"},
		{"emp-salma", attendance.DirectionOut, "17:00"},
		// emp-karim never punches: absence
	}
	for _, st := range steps {
		if err := s.punch(ctx, st.emp, st.dir, 0, st.hhmm); err != nil {
			return fmt.Errorf("%s %s %s: %w", st.emp, st.dir, st.hhmm, err)
		}
	}
	return nil
}

func loadNightShiftScenario(ctx context.Context, s *scenarioSeed) error {
	if err := s.shift(ctx, "night", "Night 21-06", "21:00", "06:00", 30, true); err != nil {
		return err
	}
	if err := s.employee(ctx, "emp-hamza", "Hamza Berrada", "night"); err != nil {
		return err
	}
	if err := s.employee(ctx, "emp-nora", "Nora El Fassi", "night"); err != nil {
		return err
	}

	// The shift must have ended before now, so the work date is the day
	// before yesterday.
	s.day = s.day.AddDays(-1)

	if err := s.punch(ctx, "emp-hamza", attendance.DirectionIn, 0, "21:00"); err != nil {
		return err
	}
	if err := s.punch(ctx, "emp-hamza", attendance.DirectionOut, 1, "06:10"); err != nil {
		return err
	}
	// Forgets to punch out; swept once the detection window has elapsed.
	return s.punch(ctx, "emp-nora", attendance.DirectionIn, 0, "21:05")
}

func loadTechnicalAbsenceScenario(ctx context.Context, s *scenarioSeed) error {
	if err := s.shift(ctx, "day", "Day 08-16", "08:00", "16:00", 30, false); err != nil {
		return err
	}
	if err := s.employee(ctx, "emp-leila", "Leila Chraibi", "day"); err != nil {
		return err
	}
	if err := s.employee(ctx, "emp-omar", "Omar Naciri", "day"); err != nil {
		return err
	}

	for _, hhmm := range []string{"07:55", "07:56", "07:58"} {
		if err := s.failedAttempt(ctx, "emp-leila", hhmm, "BIOMETRIC_READ_FAILED"); err != nil {
			return err
		}
	}
	return s.h.Store.SaveLeave(ctx, attendance.Leave{
		ID:         "leave-omar",
		TenantID:   DemoTenant,
		EmployeeID: "emp-omar",
		From:       s.day.AddDays(-1),
		To:         s.day.AddDays(1),
		Status:     attendance.LeaveApproved,
	})
}

func loadOvertimeCapsScenario(ctx context.Context, s *scenarioSeed) error {
	if err := s.shift(ctx, "day", "Day 09-17", "09:00", "17:00", 60, false); err != nil {
		return err
	}
	weeklyCap := decimal.NewFromInt(1)
	for _, policy := range []attendance.CapPolicy{attendance.CapSoft, attendance.CapHard} {
		emp := attendance.Employee{
			ID:                      attendance.EmployeeID("emp-" + string(policy)),
			TenantID:                DemoTenant,
			Name:                    fmt.Sprintf("Capped (%s)", policy),
			IsActive:                true,
			DefaultShiftID:          "day",
			IsEligibleForOvertime:   true,
			MaxOvertimeHoursPerWeek: &weeklyCap,
			OvertimeCapPolicy:       policy,
		}
		if err := s.saveEmployee(ctx, emp); err != nil {
			return err
		}
		// Two hours past the end of the shift against a one hour cap.
		if err := s.punch(ctx, string(emp.ID), attendance.DirectionIn, 0, "09:00"); err != nil {
			return err
		}
		if err := s.punch(ctx, string(emp.ID), attendance.DirectionOut, 0, "19:00"); err != nil {
			return err
		}
	}
	return nil
}
