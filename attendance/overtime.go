/*
overtime.go - Overtime Accrual Calculator

PURPOSE:
  Converts the minutes a closed session ran past its scheduled end into at
  most one OvertimeRecord per employee per date.

STEPS:
  1. excess = OUT - scheduled end; nothing unless excess > minimum threshold
  2. credited = excess rounded DOWN to the rounding unit; nothing if the
     rounded value drops below the minimum (37 min with 15 min unit -> 30)
  3. type: STANDARD, or HOLIDAY / NIGHT when auto-detection is on.
     HOLIDAY wins over NIGHT. EMERGENCY is only ever set by a person.
  4. rate: tenant majoration for the type, 1.0 when majoration is off
  5. caps: PENDING + APPROVED hours already in the week / month
       hard -> skip the record when it would exceed a cap
       soft -> clip to the remaining headroom, skip at zero headroom

  Compute is pure. The engine loads cap usage, calls Compute, and inserts
  the record; the unique (tenant, employee, date) key turns a concurrent
  second insert into a no-op.

SEE ALSO:
  - engine.go: applyOvertime loads usage and persists
  - settings.go: rates and cap policy
*/
package attendance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var minutesPerHour = decimal.NewFromInt(60)

type OvertimeInput struct {
	Session         Session
	Employee        Employee
	IsHoliday       bool
	WeekUsed        decimal.Decimal
	MonthUsed       decimal.Decimal
	AlreadyRecorded bool
}

type OvertimeDecision struct {
	Create          bool
	Record          OvertimeRecord // ID and CreatedAt are filled by the caller
	ExcessMinutes   int
	CreditedMinutes int
	Clipped         bool
	SkipReason      string
	CapExceeded     *CapExceededError
}

type OvertimeCalculator struct {
	Settings TenantSettings
}

func NewOvertimeCalculator(settings TenantSettings) *OvertimeCalculator {
	return &OvertimeCalculator{Settings: settings}
}

func (c *OvertimeCalculator) Compute(in OvertimeInput) OvertimeDecision {
	s := in.Session
	var d OvertimeDecision

	switch {
	case s.State != SessionClosed || s.ClosedAt == nil:
		d.SkipReason = "session not closed"
		return d
	case s.Window == nil:
		d.SkipReason = "session not scheduled"
		return d
	case !in.Employee.IsEligibleForOvertime:
		d.SkipReason = "employee not eligible for overtime"
		return d
	case in.AlreadyRecorded:
		d.SkipReason = "overtime already recorded for date"
		return d
	}

	// 1-2. Threshold and rounding
	d.ExcessMinutes = wholeMinutes(s.ClosedAt.Sub(s.Window.ScheduledEnd()))
	minimum := c.Settings.OvertimeMinimumThresholdMinutes
	if d.ExcessMinutes <= minimum {
		d.SkipReason = fmt.Sprintf("%d min past scheduled end does not exceed minimum %d", d.ExcessMinutes, minimum)
		return d
	}
	unit := c.Settings.OvertimeRoundingMinutes
	if unit <= 0 {
		unit = 1
	}
	d.CreditedMinutes = d.ExcessMinutes / unit * unit
	if d.CreditedMinutes < minimum {
		d.SkipReason = fmt.Sprintf("%d min after rounding is below minimum %d", d.CreditedMinutes, minimum)
		return d
	}
	hours := decimal.NewFromInt(int64(d.CreditedMinutes)).Div(minutesPerHour).Round(2)

	// 3-4. Type and rate
	otType := c.detectType(s, in.IsHoliday)
	rate := c.Settings.Rate(otType)

	// 5. Caps
	policy := in.Employee.OvertimeCapPolicy
	if !policy.Valid() {
		policy = c.Settings.OvertimeCapPolicy
	}
	notes := ""
	if headroom, capErr, capped := c.headroom(in, hours); capped {
		if hours.GreaterThan(headroom) {
			if policy == CapHard || !headroom.IsPositive() {
				d.CapExceeded = capErr
				d.SkipReason = capErr.Error()
				return d
			}
			notes = fmt.Sprintf("clipped from %s h to %s h remaining %s headroom", hours, headroom, capErr.Period)
			hours = headroom
			d.Clipped = true
		}
	}

	d.Create = true
	d.Record = OvertimeRecord{
		TenantID:        s.TenantID,
		EmployeeID:      s.EmployeeID,
		Date:            s.Date,
		Hours:           hours,
		Type:            otType,
		Rate:            rate,
		Status:          OvertimePending,
		SourceSessionID: s.ID,
		Notes:           notes,
	}
	return d
}

func (c *OvertimeCalculator) detectType(s Session, holiday bool) OvertimeType {
	if !c.Settings.OvertimeAutoDetectType {
		return OvertimeStandard
	}
	if holiday {
		return OvertimeHoliday
	}
	out := TimeOfDayOf(*s.ClosedAt, c.Settings.Location())
	if s.Window.IsNightShift || out.InRange(c.Settings.NightShiftStart, c.Settings.NightShiftEnd) {
		return OvertimeNight
	}
	return OvertimeStandard
}

// headroom returns the smallest remaining allowance across the employee's
// caps. capped is false when no cap is configured.
func (c *OvertimeCalculator) headroom(in OvertimeInput, requested decimal.Decimal) (decimal.Decimal, *CapExceededError, bool) {
	var (
		best   decimal.Decimal
		bestEr *CapExceededError
		capped bool
	)
	check := func(period string, limit *decimal.Decimal, used decimal.Decimal) {
		if limit == nil {
			return
		}
		left := limit.Sub(used)
		if left.IsNegative() {
			left = decimal.Zero
		}
		if !capped || left.LessThan(best) {
			best = left
			bestEr = &CapExceededError{
				EmployeeID: in.Employee.ID,
				Date:       in.Session.Date,
				Period:     period,
				Used:       used.String(),
				Cap:        limit.String(),
				Requested:  requested.String(),
			}
		}
		capped = true
	}
	check("week", in.Employee.MaxOvertimeHoursPerWeek, in.WeekUsed)
	check("month", in.Employee.MaxOvertimeHoursPerMonth, in.MonthUsed)
	return best, bestEr, capped
}
