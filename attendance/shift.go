package attendance

import (
	"context"
	"fmt"
)

// =============================================================================
// SHIFT RESOLVER - Effective work window for (employee, date)
// =============================================================================

// ShiftResolver resolves, in order:
//  1. the schedule entry for the date, with custom start/end overrides
//  2. the employee's default shift
//  3. nothing: the employee is not scheduled and absence rules do not apply
//
// It is a pure read; the same data snapshot always yields the same window.
// At most one window exists per employee per date.
type ShiftResolver struct {
	Schedules ScheduleSource
	Employees EmployeeDirectory
}

func (r *ShiftResolver) Resolve(ctx context.Context, tenant TenantID, emp EmployeeID, date Date, settings TenantSettings) (*ShiftWindow, error) {
	loc := settings.Location()

	entry, err := r.Schedules.ScheduleEntry(ctx, tenant, emp, date)
	if err != nil {
		return nil, fmt.Errorf("load schedule for %s on %s: %w", emp, date, err)
	}
	if entry != nil {
		if entry.Suspended {
			return nil, nil
		}
		shift, err := r.Schedules.Shift(ctx, tenant, entry.ShiftID)
		if err != nil {
			return nil, fmt.Errorf("load shift %s: %w", entry.ShiftID, err)
		}
		if shift == nil && (entry.CustomStartTime == nil || entry.CustomEndTime == nil) {
			// Dangling shift reference with no override: treat as unscheduled.
			return nil, nil
		}
		w := &ShiftWindow{Date: date, Source: SourceSchedule, ShiftID: entry.ShiftID, Location: loc}
		if shift != nil {
			w.StartTime = shift.StartTime
			w.EndTime = shift.EndTime
			w.BreakDurationMinutes = shift.BreakDurationMinutes
			w.IsNightShift = shift.IsNightShift
		}
		if entry.CustomStartTime != nil {
			w.StartTime = *entry.CustomStartTime
		}
		if entry.CustomEndTime != nil {
			w.EndTime = *entry.CustomEndTime
		}
		if w.EndTime < w.StartTime {
			w.IsNightShift = true
		}
		return w, nil
	}

	employee, err := r.Employees.Employee(ctx, tenant, emp)
	if err != nil {
		return nil, fmt.Errorf("load employee %s: %w", emp, err)
	}
	if employee.DefaultShiftID == "" {
		return nil, nil
	}
	shift, err := r.Schedules.Shift(ctx, tenant, employee.DefaultShiftID)
	if err != nil {
		return nil, fmt.Errorf("load default shift %s: %w", employee.DefaultShiftID, err)
	}
	if shift == nil {
		return nil, nil
	}
	return &ShiftWindow{
		Date:                 date,
		StartTime:            shift.StartTime,
		EndTime:              shift.EndTime,
		BreakDurationMinutes: shift.BreakDurationMinutes,
		IsNightShift:         shift.IsNightShift || shift.EndTime < shift.StartTime,
		Source:               SourceDefaultShift,
		ShiftID:              shift.ID,
		Location:             loc,
	}, nil
}

// WindowSet maps work dates to resolved windows; a missing or nil entry
// means "not scheduled".
type WindowSet map[Date]*ShiftWindow

func (ws WindowSet) For(d Date) *ShiftWindow { return ws[d] }

// ResolveRange resolves every date in [from, to].
func (r *ShiftResolver) ResolveRange(ctx context.Context, tenant TenantID, emp EmployeeID, from, to Date, settings TenantSettings) (WindowSet, error) {
	ws := make(WindowSet)
	for _, d := range DatesBetween(from, to) {
		w, err := r.Resolve(ctx, tenant, emp, d, settings)
		if err != nil {
			return nil, err
		}
		ws[d] = w
	}
	return ws, nil
}
