package attendance

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DATE - Calendar day, independent of any timezone
// =============================================================================

// Date is a calendar day. Work dates, schedule dates, overtime dates and
// anomaly occurrence keys all use Date rather than time.Time so that a day is
// never accidentally shifted by a timezone conversion.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC), time.UTC)
}

// DateOf returns the calendar day of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

// Midnight returns the first instant of the day in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// At returns the instant at the given time of day on d in loc.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, tod.Hour(), tod.Minute(), 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Midnight(time.UTC).AddDate(0, 0, n), time.UTC)
}

func (d Date) Before(o Date) bool           { return d.Midnight(time.UTC).Before(o.Midnight(time.UTC)) }
func (d Date) After(o Date) bool            { return d.Midnight(time.UTC).After(o.Midnight(time.UTC)) }
func (d Date) Equal(o Date) bool            { return d == o }
func (d Date) IsZero() bool                 { return d == Date{} }
func (d Date) Weekday() time.Weekday        { return d.Midnight(time.UTC).Weekday() }
func (d Date) String() string               { return d.Midnight(time.UTC).Format(dateLayout) }
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// StartOfWeek returns the first day of the week containing d.
func (d Date) StartOfWeek(first time.Weekday) Date {
	offset := (int(d.Weekday()) - int(first) + 7) % 7
	return d.AddDays(-offset)
}

func (d Date) StartOfMonth() Date { return Date{Year: d.Year, Month: d.Month, Day: 1} }

func (d Date) EndOfMonth() Date {
	return DateOf(time.Date(d.Year, d.Month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1), time.UTC)
}

// DatesBetween returns every date in [from, to].
func DatesBetween(from, to Date) []Date {
	var out []Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// =============================================================================
// TIME OF DAY - "HH:MM" wall clock value used by shifts and settings
// =============================================================================

// TimeOfDay is a wall clock time expressed in minutes after midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay { return TimeOfDay(hour*60 + minute) }

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if len(s) == 5 {
		s += ":00"
	}
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (use HH:MM): %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

// MustTimeOfDay is for literals in presets and tests.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

func (t TimeOfDay) Hour() int      { return int(t) / 60 }
func (t TimeOfDay) Minute() int    { return int(t) % 60 }
func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute()) }

// TimeOfDayOf returns the time of day of instant ts observed in loc.
func TimeOfDayOf(ts time.Time, loc *time.Location) TimeOfDay {
	if loc == nil {
		loc = time.UTC
	}
	local := ts.In(loc)
	return NewTimeOfDay(local.Hour(), local.Minute())
}

// InRange reports whether t lies in [start, end], where a range whose end is
// before its start wraps past midnight (e.g. 21:00-06:00).
func (t TimeOfDay) InRange(start, end TimeOfDay) bool {
	if start > end {
		return t >= start || t <= end
	}
	return t >= start && t <= end
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies "now". Detection windows compare against a Clock rather than
// time.Now so a sweep can capture one instant and reuse it for the whole run.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns At.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// wholeMinutes floors a duration to minutes; negative durations become zero.
func wholeMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
