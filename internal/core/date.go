package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

// Date is a calendar date with no time component. The wrapped time is always
// midnight UTC so that comparisons and map keys are stable.
type Date struct {
	time.Time
}

// NewDate creates a new Date from year, month, day. Out-of-range values are
// normalized the way time.Date does.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: parse %q: %v", ErrInvalidDate, s, err)
	}
	return DateOf(t), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

// Ptr returns a pointer to a copy of d.
func (d Date) Ptr() *Date { return &d }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MinDate returns the earlier of a and b.
func MinDate(a, b Date) Date {
	if b.Before(a) {
		return b
	}
	return a
}

// MaxDate returns the later of a and b.
func MaxDate(a, b Date) Date {
	if b.After(a) {
		return b
	}
	return a
}

// YearMonth identifies a calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

func MonthOf(d Date) YearMonth {
	return YearMonth{Year: d.Year(), Month: d.Month()}
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

func (m YearMonth) Start() Date {
	return NewDate(m.Year, int(m.Month), 1)
}

func (m YearMonth) End() Date {
	return NewDate(m.Year, int(m.Month), DaysIn(m.Year, m.Month))
}

func (m YearMonth) Contains(d Date) bool {
	return d.Year() == m.Year && d.Month() == m.Month
}

func (m YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// DaysIn returns the number of days of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
