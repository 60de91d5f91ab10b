package attendance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TENANT SETTINGS - Per-tenant thresholds, all with documented defaults
// =============================================================================

// TenantSettings holds every threshold the engine reads. A tenant with no
// stored settings runs on DefaultSettings().
type TenantSettings struct {
	Timezone     string
	WorkingDays  []time.Weekday
	WeekStartsOn time.Weekday

	// Attendance
	LateToleranceEntryMinutes         int
	EarlyToleranceExitMinutes         int
	AbsencePartialThresholdMinutes    int
	MissingOutDetectionWindowHours    int
	MissingOutDetectionTime           TimeOfDay // daily sweep, tenant local time
	FallbackWindowHours               int       // unscheduled sessions
	TechnicalAbsenceMinFailedAttempts int

	// Overtime
	OvertimeRoundingMinutes         int
	OvertimeMinimumThresholdMinutes int
	OvertimeAutoDetectType          bool
	NightShiftStart                 TimeOfDay
	NightShiftEnd                   TimeOfDay
	OvertimeMajorationEnabled       bool
	OvertimeRates                   map[OvertimeType]decimal.Decimal
	OvertimeCapPolicy               CapPolicy

	// Notifications
	LateNotificationThresholdMinutes int
	NotificationFrequencyMinutes     map[AnomalyType]int  // 0 = once per calendar day
	NotificationsEnabled             map[AnomalyType]bool // missing = enabled

	// Daily digest of overtime awaiting approval, tenant local time
	NotifyOvertimePending           bool
	OvertimePendingNotificationTime TimeOfDay
}

func DefaultSettings() TenantSettings {
	return TenantSettings{
		Timezone:     "UTC",
		WorkingDays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		WeekStartsOn: time.Sunday,

		LateToleranceEntryMinutes:         10,
		EarlyToleranceExitMinutes:         5,
		AbsencePartialThresholdMinutes:    120,
		MissingOutDetectionWindowHours:    12,
		MissingOutDetectionTime:           0,
		FallbackWindowHours:               12,
		TechnicalAbsenceMinFailedAttempts: 1,

		OvertimeRoundingMinutes:         15,
		OvertimeMinimumThresholdMinutes: 30,
		OvertimeAutoDetectType:          true,
		NightShiftStart:                 NewTimeOfDay(21, 0),
		NightShiftEnd:                   NewTimeOfDay(6, 0),
		OvertimeMajorationEnabled:       true,
		OvertimeRates: map[OvertimeType]decimal.Decimal{
			OvertimeStandard:  decimal.RequireFromString("1.25"),
			OvertimeNight:     decimal.RequireFromString("1.50"),
			OvertimeHoliday:   decimal.RequireFromString("2.00"),
			OvertimeEmergency: decimal.RequireFromString("1.30"),
		},
		OvertimeCapPolicy: CapSoft,

		LateNotificationThresholdMinutes: 0,
		NotificationFrequencyMinutes:     map[AnomalyType]int{},
		NotificationsEnabled:             map[AnomalyType]bool{},

		NotifyOvertimePending:           true,
		OvertimePendingNotificationTime: NewTimeOfDay(9, 0),
	}
}

// Location loads the tenant timezone, falling back to UTC.
func (s TenantSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s TenantSettings) IsWorkingDay(d Date) bool {
	wd := d.Weekday()
	for _, w := range s.WorkingDays {
		if w == wd {
			return true
		}
	}
	return false
}

// Rate returns the majoration multiplier for t, or 1 when majoration is off.
func (s TenantSettings) Rate(t OvertimeType) decimal.Decimal {
	if !s.OvertimeMajorationEnabled {
		return decimal.NewFromInt(1)
	}
	if r, ok := s.OvertimeRates[t]; ok {
		return r
	}
	if r, ok := DefaultSettings().OvertimeRates[t]; ok {
		return r
	}
	return decimal.NewFromInt(1)
}

func (s TenantSettings) NotificationEnabled(t AnomalyType) bool {
	enabled, ok := s.NotificationsEnabled[t]
	return !ok || enabled
}

// NotificationCooldown returns the fixed cooldown for t, or zero meaning
// "once per calendar day in the tenant timezone".
func (s TenantSettings) NotificationCooldown(t AnomalyType) time.Duration {
	return time.Duration(s.NotificationFrequencyMinutes[t]) * time.Minute
}

// Validate checks internal consistency. It does not fill defaults; that is
// the job of whoever builds the settings (see factory.SettingsFactory).
func (s TenantSettings) Validate() error {
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidSettings, s.Timezone, err)
	}
	switch {
	case s.LateToleranceEntryMinutes < 0:
		return fmt.Errorf("%w: lateToleranceEntryMinutes must be >= 0", ErrInvalidSettings)
	case s.EarlyToleranceExitMinutes < 0:
		return fmt.Errorf("%w: earlyToleranceExitMinutes must be >= 0", ErrInvalidSettings)
	case s.AbsencePartialThresholdMinutes <= s.LateToleranceEntryMinutes:
		return fmt.Errorf("%w: absencePartialThresholdMinutes must exceed lateToleranceEntryMinutes", ErrInvalidSettings)
	case s.MissingOutDetectionWindowHours < 0:
		return fmt.Errorf("%w: missingOutDetectionWindowHours must be >= 0", ErrInvalidSettings)
	case s.FallbackWindowHours <= 0:
		return fmt.Errorf("%w: fallbackWindowHours must be > 0", ErrInvalidSettings)
	case s.TechnicalAbsenceMinFailedAttempts < 1:
		return fmt.Errorf("%w: technicalAbsenceMinFailedAttempts must be >= 1", ErrInvalidSettings)
	case s.OvertimeRoundingMinutes <= 0:
		return fmt.Errorf("%w: overtimeRoundingMinutes must be > 0", ErrInvalidSettings)
	case s.OvertimeMinimumThresholdMinutes < 0:
		return fmt.Errorf("%w: overtimeMinimumThresholdMinutes must be >= 0", ErrInvalidSettings)
	case !s.OvertimeCapPolicy.Valid():
		return fmt.Errorf("%w: overtimeCapPolicy %q (use soft or hard)", ErrInvalidSettings, s.OvertimeCapPolicy)
	}
	for t, r := range s.OvertimeRates {
		if r.LessThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: rate for %s must be >= 1", ErrInvalidSettings, t)
		}
	}
	for t, m := range s.NotificationFrequencyMinutes {
		if m < 0 {
			return fmt.Errorf("%w: notification frequency for %s must be >= 0", ErrInvalidSettings, t)
		}
	}
	return nil
}
