package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// InstallmentPlan describes how to lay out a debt's installments.
type InstallmentPlan struct {
	FirstDueDate  Date
	Count         int
	Amount        decimal.Decimal   // uniform amount, ignored when CustomAmounts is set
	CustomAmounts []decimal.Decimal // one amount per installment
	AlreadyPaid   int               // leading installments created as PAID
}

func (p InstallmentPlan) Validate() error {
	if err := p.FirstDueDate.Validate(); err != nil {
		return fmt.Errorf("%w: first due date: %v", ErrInvalidInstallmentPlan, err)
	}
	if p.Count < 1 {
		return fmt.Errorf("%w: count must be at least 1", ErrInvalidInstallmentPlan)
	}
	if p.AlreadyPaid < 0 || p.AlreadyPaid > p.Count {
		return fmt.Errorf("%w: already paid must be between 0 and %d", ErrInvalidInstallmentPlan, p.Count)
	}
	if p.CustomAmounts != nil {
		if len(p.CustomAmounts) != p.Count {
			return fmt.Errorf("%w: %d custom amounts for %d installments",
				ErrInvalidInstallmentPlan, len(p.CustomAmounts), p.Count)
		}
		for i, a := range p.CustomAmounts {
			if !a.IsPositive() {
				return fmt.Errorf("%w: installment %d", ErrInvalidAmount, i+1)
			}
		}
		return nil
	}
	return validateAmount(p.Amount)
}

// ScheduleInstallments produces installments 1..Count due one calendar month
// apart starting at FirstDueDate, and their total.
func ScheduleInstallments(p InstallmentPlan) ([]Installment, decimal.Decimal, error) {
	if err := p.Validate(); err != nil {
		return nil, decimal.Zero, err
	}
	items := make([]Installment, p.Count)
	total := decimal.Zero
	for i := range items {
		amount := RoundAmount(p.Amount)
		if p.CustomAmounts != nil {
			amount = RoundAmount(p.CustomAmounts[i])
		}
		status := InstallmentPending
		var paidAt *Date
		due := AddMonths(p.FirstDueDate, i)
		if i < p.AlreadyPaid {
			status = InstallmentPaid
			paidAt = due.Ptr()
		}
		items[i] = Installment{
			Number:  i + 1,
			Amount:  amount,
			DueDate: due,
			Status:  status,
			PaidAt:  paidAt,
		}
		total = total.Add(amount)
	}
	return items, total, nil
}

// Renumber orders installments by their current number and reassigns 1..n.
func Renumber(items []Installment) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Number < items[j].Number })
	for i := range items {
		items[i].Number = i + 1
	}
}

// PendingCount returns the number of PENDING installments.
func PendingCount(items []Installment) int {
	n := 0
	for _, it := range items {
		if it.Status == InstallmentPending {
			n++
		}
	}
	return n
}

// ReconcileDebt renumbers items and recomputes the debt's aggregate fields and
// status from them: total is the sum of amounts, the reference installment
// amount is their average, and the debt is SETTLED exactly when nothing is
// PENDING.
func ReconcileDebt(d *Debt, items []Installment) {
	Renumber(items)
	total := decimal.Zero
	for i := range items {
		items[i].DebtID = d.ID
		total = total.Add(items[i].Amount)
	}
	d.TotalAmount = total
	d.InstallmentCount = len(items)
	if len(items) > 0 {
		d.InstallmentAmount = RoundAmount(total.Div(decimal.NewFromInt(int64(len(items)))))
		d.FirstDueDate = items[0].DueDate
	}
	if PendingCount(items) == 0 {
		d.Status = DebtSettled
	} else {
		d.Status = DebtActive
	}
}

// CheckDebtTotals verifies the stored aggregates against the installments.
func CheckDebtTotals(d Debt, items []Installment) error {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Amount)
	}
	if !sum.Equal(d.TotalAmount) {
		return fmt.Errorf("%w: debt %d total %s, installments sum %s",
			ErrInconsistentInstallmentTotal, d.ID, d.TotalAmount, sum)
	}
	for i, it := range items {
		if it.Number != i+1 {
			return fmt.Errorf("%w: debt %d installment numbering has a gap at %d",
				ErrInconsistentInstallmentTotal, d.ID, i+1)
		}
	}
	return nil
}

// EarliestAndLatestPending returns the due date range of pending installments.
func EarliestAndLatestPending(items []Installment) (first, last Date, ok bool) {
	for _, it := range items {
		if it.Status != InstallmentPending {
			continue
		}
		if !ok {
			first, last, ok = it.DueDate, it.DueDate, true
			continue
		}
		first = MinDate(first, it.DueDate)
		last = MaxDate(last, it.DueDate)
	}
	return first, last, ok
}
