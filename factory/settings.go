/*
Package factory provides JSON to Go tenant settings conversion.

PURPOSE:
  Tenant thresholds are owned by an external configuration source (the
  admin UI writes them, the engine only reads them). This package turns
  that JSON document into attendance.TenantSettings, filling every unset
  value with its documented default and validating the result.

JSON SCHEMA (every field optional):
  {
    "timezone": "Africa/Casablanca",
    "working_days": ["MON", "TUE", "WED", "THU", "FRI"],
    "week_starts_on": "SUN",
    "late_tolerance_entry_minutes": 10,
    "early_tolerance_exit_minutes": 5,
    "absence_partial_threshold_minutes": 120,
    "missing_out_detection_window_hours": 12,
    "missing_out_detection_time": "00:00",
    "fallback_window_hours": 12,
    "technical_absence_min_failed_attempts": 1,
    "overtime": {
      "rounding_minutes": 15,
      "minimum_threshold_minutes": 30,
      "auto_detect_type": true,
      "night_shift_start": "21:00",
      "night_shift_end": "06:00",
      "majoration_enabled": true,
      "rates": {"standard": 1.25, "night": 1.5, "holiday": 2.0, "emergency": 1.3},
      "cap_policy": "soft"
    },
    "notifications": {
      "late_threshold_minutes": 0,
      "frequency_minutes": {"LATE": 0, "MISSING_OUT": 240},
      "enabled": {"DOUBLE_IN": false},
      "overtime_pending": true,
      "overtime_pending_time": "09:00"
    }
  }

USAGE:
  settings, err := factory.NewSettingsFactory().Parse(data)

SEE ALSO:
  - attendance/settings.go: TenantSettings and DefaultSettings
  - store/sqlite: stores the raw document and parses it on read
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SettingsJSON is the JSON representation of tenant settings. Pointer fields
// distinguish "unset" (default applies) from an explicit zero.
type SettingsJSON struct {
	Timezone                          *string            `json:"timezone,omitempty"`
	WorkingDays                       []string           `json:"working_days,omitempty"`
	WeekStartsOn                      *string            `json:"week_starts_on,omitempty"`
	LateToleranceEntryMinutes         *int               `json:"late_tolerance_entry_minutes,omitempty"`
	EarlyToleranceExitMinutes         *int               `json:"early_tolerance_exit_minutes,omitempty"`
	AbsencePartialThresholdMinutes    *int               `json:"absence_partial_threshold_minutes,omitempty"`
	MissingOutDetectionWindowHours    *int               `json:"missing_out_detection_window_hours,omitempty"`
	MissingOutDetectionTime           *string            `json:"missing_out_detection_time,omitempty"`
	FallbackWindowHours               *int               `json:"fallback_window_hours,omitempty"`
	TechnicalAbsenceMinFailedAttempts *int               `json:"technical_absence_min_failed_attempts,omitempty"`
	Overtime                          *OvertimeJSON      `json:"overtime,omitempty"`
	Notifications                     *NotificationsJSON `json:"notifications,omitempty"`
}

// OvertimeJSON represents overtime configuration.
type OvertimeJSON struct {
	RoundingMinutes         *int       `json:"rounding_minutes,omitempty"`
	MinimumThresholdMinutes *int       `json:"minimum_threshold_minutes,omitempty"`
	AutoDetectType          *bool      `json:"auto_detect_type,omitempty"`
	NightShiftStart         *string    `json:"night_shift_start,omitempty"`
	NightShiftEnd           *string    `json:"night_shift_end,omitempty"`
	MajorationEnabled       *bool      `json:"majoration_enabled,omitempty"`
	Rates                   *RatesJSON `json:"rates,omitempty"`
	CapPolicy               *string    `json:"cap_policy,omitempty"` // soft, hard
}

// RatesJSON holds the per-type majoration multipliers.
type RatesJSON struct {
	Standard  *decimal.Decimal `json:"standard,omitempty"`
	Night     *decimal.Decimal `json:"night,omitempty"`
	Holiday   *decimal.Decimal `json:"holiday,omitempty"`
	Emergency *decimal.Decimal `json:"emergency,omitempty"`
}

// NotificationsJSON represents notification configuration, keyed by
// anomaly type.
type NotificationsJSON struct {
	LateThresholdMinutes *int            `json:"late_threshold_minutes,omitempty"`
	FrequencyMinutes     map[string]int  `json:"frequency_minutes,omitempty"`
	Enabled              map[string]bool `json:"enabled,omitempty"`
	OvertimePending      *bool           `json:"overtime_pending,omitempty"`
	OvertimePendingTime  *string         `json:"overtime_pending_time,omitempty"`
}

// =============================================================================
// SETTINGS FACTORY
// =============================================================================

// SettingsFactory converts JSON settings documents to TenantSettings.
type SettingsFactory struct{}

// NewSettingsFactory creates a new settings factory.
func NewSettingsFactory() *SettingsFactory {
	return &SettingsFactory{}
}

// Parse overlays the JSON document on DefaultSettings and validates the result.
// An empty document yields the defaults.
func (f *SettingsFactory) Parse(data []byte) (attendance.TenantSettings, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return attendance.DefaultSettings(), nil
	}
	var doc SettingsJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return attendance.TenantSettings{}, fmt.Errorf("%w: invalid JSON: %v", attendance.ErrInvalidSettings, err)
	}
	return f.FromJSON(doc)
}

// FromJSON converts an already decoded document.
func (f *SettingsFactory) FromJSON(doc SettingsJSON) (attendance.TenantSettings, error) {
	s := attendance.DefaultSettings()

	if doc.Timezone != nil {
		s.Timezone = *doc.Timezone
	}
	if len(doc.WorkingDays) > 0 {
		days := make([]time.Weekday, 0, len(doc.WorkingDays))
		for _, d := range doc.WorkingDays {
			wd, err := parseWeekday(d)
			if err != nil {
				return s, err
			}
			days = append(days, wd)
		}
		s.WorkingDays = days
	}
	if doc.WeekStartsOn != nil {
		wd, err := parseWeekday(*doc.WeekStartsOn)
		if err != nil {
			return s, err
		}
		s.WeekStartsOn = wd
	}
	setInt(&s.LateToleranceEntryMinutes, doc.LateToleranceEntryMinutes)
	setInt(&s.EarlyToleranceExitMinutes, doc.EarlyToleranceExitMinutes)
	setInt(&s.AbsencePartialThresholdMinutes, doc.AbsencePartialThresholdMinutes)
	setInt(&s.MissingOutDetectionWindowHours, doc.MissingOutDetectionWindowHours)
	setInt(&s.FallbackWindowHours, doc.FallbackWindowHours)
	setInt(&s.TechnicalAbsenceMinFailedAttempts, doc.TechnicalAbsenceMinFailedAttempts)
	if err := setTime(&s.MissingOutDetectionTime, doc.MissingOutDetectionTime); err != nil {
		return s, err
	}

	if ot := doc.Overtime; ot != nil {
		setInt(&s.OvertimeRoundingMinutes, ot.RoundingMinutes)
		setInt(&s.OvertimeMinimumThresholdMinutes, ot.MinimumThresholdMinutes)
		setBool(&s.OvertimeAutoDetectType, ot.AutoDetectType)
		setBool(&s.OvertimeMajorationEnabled, ot.MajorationEnabled)
		if err := setTime(&s.NightShiftStart, ot.NightShiftStart); err != nil {
			return s, err
		}
		if err := setTime(&s.NightShiftEnd, ot.NightShiftEnd); err != nil {
			return s, err
		}
		if r := ot.Rates; r != nil {
			setRate(s.OvertimeRates, attendance.OvertimeStandard, r.Standard)
			setRate(s.OvertimeRates, attendance.OvertimeNight, r.Night)
			setRate(s.OvertimeRates, attendance.OvertimeHoliday, r.Holiday)
			setRate(s.OvertimeRates, attendance.OvertimeEmergency, r.Emergency)
		}
		if ot.CapPolicy != nil {
			s.OvertimeCapPolicy = attendance.CapPolicy(strings.ToLower(*ot.CapPolicy))
		}
	}

	if n := doc.Notifications; n != nil {
		setInt(&s.LateNotificationThresholdMinutes, n.LateThresholdMinutes)
		for k, v := range n.FrequencyMinutes {
			t, err := parseAnomalyType(k)
			if err != nil {
				return s, err
			}
			s.NotificationFrequencyMinutes[t] = v
		}
		for k, v := range n.Enabled {
			t, err := parseAnomalyType(k)
			if err != nil {
				return s, err
			}
			s.NotificationsEnabled[t] = v
		}
		setBool(&s.NotifyOvertimePending, n.OvertimePending)
		if err := setTime(&s.OvertimePendingNotificationTime, n.OvertimePendingTime); err != nil {
			return s, err
		}
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// ToJSON renders settings as a complete document.
func (f *SettingsFactory) ToJSON(s attendance.TenantSettings) ([]byte, error) {
	days := make([]string, len(s.WorkingDays))
	for i, d := range s.WorkingDays {
		days[i] = weekdayCode(d)
	}
	week := weekdayCode(s.WeekStartsOn)
	detect := s.MissingOutDetectionTime.String()
	nightStart, nightEnd := s.NightShiftStart.String(), s.NightShiftEnd.String()
	pendingTime := s.OvertimePendingNotificationTime.String()
	capPolicy := string(s.OvertimeCapPolicy)
	rate := func(t attendance.OvertimeType) *decimal.Decimal {
		r, ok := s.OvertimeRates[t]
		if !ok {
			return nil
		}
		return &r
	}
	freq := map[string]int{}
	for t, m := range s.NotificationFrequencyMinutes {
		freq[string(t)] = m
	}
	enabled := map[string]bool{}
	for t, e := range s.NotificationsEnabled {
		enabled[string(t)] = e
	}

	doc := SettingsJSON{
		Timezone:                          &s.Timezone,
		WorkingDays:                       days,
		WeekStartsOn:                      &week,
		LateToleranceEntryMinutes:         &s.LateToleranceEntryMinutes,
		EarlyToleranceExitMinutes:         &s.EarlyToleranceExitMinutes,
		AbsencePartialThresholdMinutes:    &s.AbsencePartialThresholdMinutes,
		MissingOutDetectionWindowHours:    &s.MissingOutDetectionWindowHours,
		MissingOutDetectionTime:           &detect,
		FallbackWindowHours:               &s.FallbackWindowHours,
		TechnicalAbsenceMinFailedAttempts: &s.TechnicalAbsenceMinFailedAttempts,
		Overtime: &OvertimeJSON{
			RoundingMinutes:         &s.OvertimeRoundingMinutes,
			MinimumThresholdMinutes: &s.OvertimeMinimumThresholdMinutes,
			AutoDetectType:          &s.OvertimeAutoDetectType,
			NightShiftStart:         &nightStart,
			NightShiftEnd:           &nightEnd,
			MajorationEnabled:       &s.OvertimeMajorationEnabled,
			Rates: &RatesJSON{
				Standard:  rate(attendance.OvertimeStandard),
				Night:     rate(attendance.OvertimeNight),
				Holiday:   rate(attendance.OvertimeHoliday),
				Emergency: rate(attendance.OvertimeEmergency),
			},
			CapPolicy: &capPolicy,
		},
		Notifications: &NotificationsJSON{
			LateThresholdMinutes: &s.LateNotificationThresholdMinutes,
			FrequencyMinutes:     freq,
			Enabled:              enabled,
			OvertimePending:      &s.NotifyOvertimePending,
			OvertimePendingTime:  &pendingTime,
		},
	}
	return json.MarshalIndent(doc, "", "  ")
}

// =============================================================================
// HELPERS
// =============================================================================

var weekdays = map[string]time.Weekday{
	"SUN": time.Sunday, "MON": time.Monday, "TUE": time.Tuesday, "WED": time.Wednesday,
	"THU": time.Thursday, "FRI": time.Friday, "SAT": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) > 3 {
		code = code[:3]
	}
	wd, ok := weekdays[code]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q", attendance.ErrInvalidSettings, s)
	}
	return wd, nil
}

func weekdayCode(d time.Weekday) string {
	return strings.ToUpper(d.String()[:3])
}

func parseAnomalyType(s string) (attendance.AnomalyType, error) {
	t := attendance.AnomalyType(strings.ToUpper(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown anomaly type %q", attendance.ErrInvalidSettings, s)
	}
	return t, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setTime(dst *attendance.TimeOfDay, v *string) error {
	if v == nil {
		return nil
	}
	tod, err := attendance.ParseTimeOfDay(*v)
	if err != nil {
		return fmt.Errorf("%w: %v", attendance.ErrInvalidSettings, err)
	}
	*dst = tod
	return nil
}

func setRate(rates map[attendance.OvertimeType]decimal.Decimal, t attendance.OvertimeType, v *decimal.Decimal) {
	if v != nil {
		rates[t] = *v
	}
}
