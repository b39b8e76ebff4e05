// Package calendar is the single source of truth for organisation calendar days.
// Every "today" and every streak gap is computed through a Calendar.
package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const dateLayout = "2006-01-02"

// DefaultOffset is the organisation's fixed UTC offset (UTC+7).
const DefaultOffset = 7 * time.Hour

// Date is a civil calendar date without a time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// MonthDay returns the MM-DD part, used for birthday matching.
func (d Date) MonthDay() string {
	return fmt.Sprintf("%02d-%02d", d.Month, d.Day)
}

// midnightUTC anchors the date in UTC, which has no DST, so day arithmetic is exact.
func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date {
	t := d.midnightUTC().AddDate(0, 0, n)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.midnightUTC().Before(other.midnightUTC())
}

// DaysBetween returns to - from in whole calendar days.
func DaysBetween(from, to Date) int {
	return int(to.midnightUTC().Sub(from.midnightUTC()).Hours() / 24)
}

// Format renders the date with a Go layout, e.g. "Monday, 02 January 2006".
func (d Date) Format(layout string) string {
	return d.midnightUTC().Format(layout)
}

// Value implements driver.Valuer. The zero date is stored as NULL.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan implements sql.Scanner for TEXT, DATE and NULL columns.
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	case time.Time:
		*d = Date{Year: v.Year(), Month: v.Month(), Day: v.Day()}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into calendar.Date", src)
	}
}

func (d *Date) scanString(s string) error {
	if s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON encodes the date as "YYYY-MM-DD" or null.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "YYYY-MM-DD", "" and null.
func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.scanString(s)
}

// Calendar converts instants into organisation calendar dates.
type Calendar struct {
	clock    clockwork.Clock
	location *time.Location
}

// New creates a Calendar for a fixed UTC offset.
func New(clock clockwork.Clock, offset time.Duration) *Calendar {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Calendar{
		clock:    clock,
		location: time.FixedZone(zoneName(offset), int(offset.Seconds())),
	}
}

func zoneName(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	h := int(offset.Hours())
	m := int(offset.Minutes()) % 60
	if m == 0 {
		return fmt.Sprintf("UTC%s%d", sign, h)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, h, m)
}

// Location returns the organisation zone.
func (c *Calendar) Location() *time.Location {
	return c.location
}

// Clock returns the clock backing the calendar.
func (c *Calendar) Clock() clockwork.Clock {
	return c.clock
}

// Now returns the current instant in the organisation zone.
func (c *Calendar) Now() time.Time {
	return c.clock.Now().In(c.location)
}

// DateOf returns the organisation calendar date containing t.
func (c *Calendar) DateOf(t time.Time) Date {
	local := t.In(c.location)
	return Date{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// Today returns the current organisation calendar date.
func (c *Calendar) Today() Date {
	return c.DateOf(c.clock.Now())
}

// ClockTime formats the time-of-day part of t in the organisation zone.
func (c *Calendar) ClockTime(t time.Time) string {
	return t.In(c.location).Format("15:04:05")
}
