package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	OriginManual    Origin = "manual"
	OriginGenerated Origin = "generated"
	// OriginLegacy marks entries posted before entries were linked to their
	// rule; they can only be matched by content.
	OriginLegacy Origin = "legacy"
)

const (
	DebtActive  DebtStatus = "ACTIVE"
	DebtSettled DebtStatus = "SETTLED"
)

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
	// InstallmentOverdue is display-only: a PENDING installment past its due date.
	InstallmentOverdue InstallmentStatus = "OVERDUE"
)

const maxDescriptionLen = 200

type (
	Kind              string
	Origin            string
	DebtStatus        string
	InstallmentStatus string

	RecurrenceRule struct {
		ID          int64
		UserID      int64
		Kind        Kind
		Amount      decimal.Decimal
		Description string
		Frequency   Frequency
		StartDate   Date
		EndDate     *Date // inclusive
		Active      bool
		CategoryID  *int64
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	LedgerEntry struct {
		ID          int64
		UserID      int64
		Kind        Kind
		Amount      decimal.Decimal
		Description string
		Date        Date
		CategoryID  *int64
		Origin      Origin
		RuleID      *int64 // set for generated entries
		CreatedAt   time.Time
	}

	Debt struct {
		ID                int64
		UserID            int64
		Name              string
		TotalAmount       decimal.Decimal
		InstallmentAmount decimal.Decimal // nominal amount, average once edited
		InstallmentCount  int
		FirstDueDate      Date
		Status            DebtStatus
		CategoryID        *int64
		LinkedRuleID      *int64
		CreatedAt         time.Time
		UpdatedAt         time.Time
	}

	Installment struct {
		ID      int64
		DebtID  int64
		Number  int
		Amount  decimal.Decimal
		DueDate Date
		Status  InstallmentStatus
		PaidAt  *Date
	}

	// InstallmentDue is a pending installment joined with the debt fields the
	// projection needs.
	InstallmentDue struct {
		Installment
		UserID       int64
		DebtName     string
		DebtCount    int
		CategoryID   *int64
		LinkedRuleID *int64
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidKind      = errors.New("invalid kind")
	ErrEmptyDescription = errors.New("empty description")
	ErrDescriptionLong  = errors.New("description too long (max 200 characters)")
	ErrInvalidDateRange = errors.New("end date must not be before start date")
	ErrEmptyName        = errors.New("empty name")
	ErrInvalidStatus    = errors.New("invalid status")
)

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func (s InstallmentStatus) Valid() bool {
	return s == InstallmentPending || s == InstallmentPaid
}

// RuleIDValue returns the rule id of a generated entry, or 0.
func (e LedgerEntry) RuleIDValue() int64 {
	if e.RuleID == nil {
		return 0
	}
	return *e.RuleID
}

func validateDescription(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyDescription
	}
	if len(s) > maxDescriptionLen {
		return ErrDescriptionLong
	}
	return nil
}

func validateAmount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func (r RecurrenceRule) Validate() error {
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if err := validateAmount(r.Amount); err != nil {
		return err
	}
	if err := validateDescription(r.Description); err != nil {
		return err
	}
	if !r.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, string(r.Frequency))
	}
	if err := r.StartDate.Validate(); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	if r.EndDate != nil {
		if err := r.EndDate.Validate(); err != nil {
			return fmt.Errorf("invalid end date: %w", err)
		}
		if r.EndDate.Before(r.StartDate) {
			return ErrInvalidDateRange
		}
	}
	return nil
}

// Covers reports whether d falls inside the rule's start/end window.
func (r RecurrenceRule) Covers(d Date) bool {
	if d.Before(r.StartDate) {
		return false
	}
	return r.EndDate == nil || !d.After(*r.EndDate)
}

func (e LedgerEntry) Validate() error {
	if !e.Kind.Valid() {
		return ErrInvalidKind
	}
	if err := validateAmount(e.Amount); err != nil {
		return err
	}
	if err := validateDescription(e.Description); err != nil {
		return err
	}
	return e.Date.Validate()
}

// DisplayStatus derives OVERDUE for pending installments due before today.
func (i Installment) DisplayStatus(today Date) InstallmentStatus {
	if i.Status == InstallmentPending && i.DueDate.Before(today) {
		return InstallmentOverdue
	}
	return i.Status
}
