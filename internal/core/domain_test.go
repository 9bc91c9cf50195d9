package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2025, 3, 9)
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2025-03-09"` {
		t.Fatalf("marshal: got %s", b)
	}
	var back Date
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(d) {
		t.Fatalf("roundtrip: got %s", back)
	}
	if err := back.UnmarshalJSON([]byte(`"2025-13-01"`)); err == nil {
		t.Fatalf("expected error for invalid month")
	}
}

func TestDateOfDropsTimeAndZone(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	got := DateOf(time.Date(2025, 1, 31, 23, 30, 0, 0, loc))
	if got.String() != "2025-01-31" {
		t.Fatalf("got %s", got)
	}
	if got.Location() != time.UTC || got.Hour() != 0 {
		t.Fatalf("expected midnight UTC, got %v", got.Time)
	}
}

func TestYearMonth(t *testing.T) {
	m, err := ParseYearMonth("2024-02")
	if err != nil {
		t.Fatal(err)
	}
	if m.Start().String() != "2024-02-01" || m.End().String() != "2024-02-29" {
		t.Fatalf("bounds: %s..%s", m.Start(), m.End())
	}
	if !m.Contains(NewDate(2024, 2, 15)) || m.Contains(NewDate(2024, 3, 1)) {
		t.Fatalf("contains mismatch")
	}
	if m.String() != "2024-02" {
		t.Fatalf("string: %s", m)
	}
	if _, err := ParseYearMonth("2024-2-1"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRuleValidate(t *testing.T) {
	good := RecurrenceRule{
		Kind:        Expense,
		Amount:      decimal.NewFromInt(1200),
		Description: "Aluguel",
		Frequency:   Monthly,
		StartDate:   NewDate(2025, 1, 5),
		Active:      true,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	before := NewDate(2024, 12, 31)
	cases := []struct {
		name   string
		mutate func(r *RecurrenceRule)
		want   error
	}{
		{"kind", func(r *RecurrenceRule) { r.Kind = "transfer" }, ErrInvalidKind},
		{"zero amount", func(r *RecurrenceRule) { r.Amount = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(r *RecurrenceRule) { r.Amount = decimal.NewFromInt(-1) }, ErrInvalidAmount},
		{"blank description", func(r *RecurrenceRule) { r.Description = "  " }, ErrEmptyDescription},
		{"long description", func(r *RecurrenceRule) { r.Description = strings.Repeat("x", 201) }, ErrDescriptionLong},
		{"frequency", func(r *RecurrenceRule) { r.Frequency = "fortnightly" }, ErrInvalidFrequency},
		{"end before start", func(r *RecurrenceRule) { r.EndDate = &before }, ErrInvalidDateRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := good
			tc.mutate(&r)
			if err := r.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRuleCovers(t *testing.T) {
	end := NewDate(2025, 3, 5)
	r := RecurrenceRule{StartDate: NewDate(2025, 1, 5), EndDate: &end}
	if r.Covers(NewDate(2025, 1, 4)) {
		t.Fatalf("day before start covered")
	}
	if !r.Covers(NewDate(2025, 1, 5)) || !r.Covers(end) {
		t.Fatalf("bounds must be inclusive")
	}
	if r.Covers(NewDate(2025, 3, 6)) {
		t.Fatalf("day after end covered")
	}
}

func TestInstallmentDisplayStatus(t *testing.T) {
	today := NewDate(2025, 2, 11)
	cases := []struct {
		it   Installment
		want InstallmentStatus
	}{
		{Installment{Status: InstallmentPending, DueDate: NewDate(2025, 2, 10)}, InstallmentOverdue},
		{Installment{Status: InstallmentPending, DueDate: today}, InstallmentPending},
		{Installment{Status: InstallmentPaid, DueDate: NewDate(2025, 1, 10)}, InstallmentPaid},
	}
	for i, tc := range cases {
		if got := tc.it.DisplayStatus(today); got != tc.want {
			t.Fatalf("case %d: want %s, got %s", i, tc.want, got)
		}
	}
	if InstallmentOverdue.Valid() {
		t.Fatalf("OVERDUE must not be a storable status")
	}
}

func TestStorageErrorIs(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("insert entry", cause)
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	if NewStorageError("noop", nil) != nil {
		t.Fatalf("nil cause must yield nil error")
	}
}
