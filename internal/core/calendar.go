package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	Daily      Frequency = "daily"
	Weekly     Frequency = "weekly"
	Biweekly   Frequency = "biweekly"
	Monthly    Frequency = "monthly"
	Quarterly  Frequency = "quarterly"
	Semiannual Frequency = "semiannual"
	Annual     Frequency = "annual"
)

// Frequency is the repetition interval of a recurrence rule.
type Frequency string

// Frequencies lists every supported frequency in ascending interval order.
func Frequencies() []Frequency {
	return []Frequency{Daily, Weekly, Biweekly, Monthly, Quarterly, Semiannual, Annual}
}

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
	return f, nil
}

func (f Frequency) Valid() bool {
	_, _, err := f.interval()
	return err == nil
}

// interval returns the length of one step either in days or in calendar
// months; exactly one of the two is non-zero.
func (f Frequency) interval() (days, months int, err error) {
	switch f {
	case Daily:
		return 1, 0, nil
	case Weekly:
		return 7, 0, nil
	case Biweekly:
		return 15, 0, nil
	case Monthly:
		return 0, 1, nil
	case Quarterly:
		return 0, 3, nil
	case Semiannual:
		return 0, 6, nil
	case Annual:
		return 0, 12, nil
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrInvalidFrequency, string(f))
}

// Next returns the date one interval after d.
//
// Month based frequencies clamp to the last day of the target month when the
// day does not exist there: Jan 31 + 1 month is Feb 28 (Feb 29 on leap years)
// and Feb 29 + 1 year is Feb 28.
func Next(d Date, f Frequency) (Date, error) {
	return Occurrence(d, f, 1)
}

// Occurrence returns the k-th occurrence (k = 0 is start) of a series.
// Each occurrence is computed from start, never from the previous clamped
// value, so a Jan 31 monthly series yields Feb 28 and then Mar 31.
func Occurrence(start Date, f Frequency, k int) (Date, error) {
	days, months, err := f.interval()
	if err != nil {
		return Date{}, err
	}
	if months > 0 {
		return AddMonths(start, months*k), nil
	}
	return start.AddDays(days * k), nil
}

// AddMonths adds n calendar months to d, clamping the day of month to the
// last valid day of the target month.
func AddMonths(d Date, n int) Date {
	year, month, day := d.Date()
	total := int(month) - 1 + n
	year += floorDiv(total, 12)
	m := total - floorDiv(total, 12)*12 + 1
	if last := DaysIn(year, time.Month(m)); day > last {
		day = last
	}
	return NewDate(year, m, day)
}

// FirstIndexOnOrAfter returns the smallest k such that
// Occurrence(start, f, k) is not before from.
func FirstIndexOnOrAfter(start Date, f Frequency, from Date) (int, error) {
	days, months, err := f.interval()
	if err != nil {
		return 0, err
	}
	if !from.After(start) {
		return 0, nil
	}
	var k int
	if months > 0 {
		elapsed := (from.Year()-start.Year())*12 + int(from.Month()) - int(start.Month())
		k = elapsed/months - 1
	} else {
		elapsed := int(from.Sub(start.Time).Hours() / 24)
		k = elapsed/days - 1
	}
	if k < 0 {
		k = 0
	}
	for {
		d, _ := Occurrence(start, f, k)
		if !d.Before(from) {
			return k, nil
		}
		k++
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
