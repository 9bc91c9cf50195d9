package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// DebtPlan is the user input that creates or regenerates a debt.
type DebtPlan struct {
	Name              string
	CategoryID        *int64
	FirstDueDate      core.Date
	InstallmentCount  int
	InstallmentAmount decimal.Decimal
	CustomAmounts     []decimal.Decimal
	AlreadyPaid       int
}

func (p DebtPlan) schedule() ([]core.Installment, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, core.ErrEmptyName
	}
	items, _, err := core.ScheduleInstallments(core.InstallmentPlan{
		FirstDueDate:  p.FirstDueDate,
		Count:         p.InstallmentCount,
		Amount:        p.InstallmentAmount,
		CustomAmounts: p.CustomAmounts,
		AlreadyPaid:   p.AlreadyPaid,
	})
	return items, err
}

// InstallmentPatch changes one installment. Nil fields are left untouched.
type InstallmentPatch struct {
	Amount  *decimal.Decimal
	DueDate *core.Date
	Status  *core.InstallmentStatus
	PaidAt  *core.Date
}

// InstallmentView is an installment with its status as seen today.
type InstallmentView struct {
	core.Installment
	DisplayStatus core.InstallmentStatus
}

type DebtView struct {
	Debt            core.Debt
	Installments    []InstallmentView
	PendingCount    int
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
}

// DebtService runs the installment scheduler and the debt lifecycle.
type DebtService struct {
	debts DebtStore
	rules RuleStore
	clock core.Clock
}

func NewDebtService(debts DebtStore, rules RuleStore, clock core.Clock) *DebtService {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &DebtService{debts: debts, rules: rules, clock: clock}
}

// CreateDebt schedules the installments of plan and stores the debt.
// The total is always the sum of the scheduled amounts.
func (s *DebtService) CreateDebt(ctx context.Context, userID int64, plan DebtPlan) (DebtView, error) {
	items, err := plan.schedule()
	if err != nil {
		return DebtView{}, err
	}
	debt := core.Debt{
		UserID:     userID,
		Name:       strings.TrimSpace(plan.Name),
		CategoryID: plan.CategoryID,
	}
	core.ReconcileDebt(&debt, items)

	id, err := s.debts.CreateDebt(ctx, debt, items)
	if err != nil {
		return DebtView{}, fmt.Errorf("create debt: %w", err)
	}
	slog.InfoContext(ctx, "Debt created",
		log.FieldComponent, log.ComponentDebt,
		log.FieldUserID, userID,
		log.FieldDebtID, id,
		"installments", debt.InstallmentCount,
		"total", debt.TotalAmount.String(),
		"status", debt.Status)
	return s.GetDebt(ctx, userID, id)
}

// EditDebt regenerates the debt's installments wholesale from plan.
func (s *DebtService) EditDebt(ctx context.Context, userID, debtID int64, plan DebtPlan) (DebtView, error) {
	items, err := plan.schedule()
	if err != nil {
		return DebtView{}, err
	}
	err = s.mutate(ctx, userID, debtID, func(debt *core.Debt, _ []core.Installment) ([]core.Installment, error) {
		debt.Name = strings.TrimSpace(plan.Name)
		debt.CategoryID = plan.CategoryID
		return items, nil
	})
	if err != nil {
		return DebtView{}, err
	}
	return s.GetDebt(ctx, userID, debtID)
}

// EditInstallment applies patch to one installment. Amount and due date of a
// PAID installment cannot change; status may move between PAID and PENDING.
func (s *DebtService) EditInstallment(ctx context.Context, userID, debtID, installmentID int64, patch InstallmentPatch) (DebtView, error) {
	err := s.mutate(ctx, userID, debtID, func(_ *core.Debt, items []core.Installment) ([]core.Installment, error) {
		idx, err := indexOf(items, debtID, installmentID)
		if err != nil {
			return nil, err
		}
		if err := s.applyPatch(&items[idx], patch); err != nil {
			return nil, err
		}
		return items, nil
	})
	if err != nil {
		return DebtView{}, err
	}
	return s.GetDebt(ctx, userID, debtID)
}

func (s *DebtService) applyPatch(it *core.Installment, patch InstallmentPatch) error {
	if it.Status == core.InstallmentPaid {
		if patch.Amount != nil && !core.RoundAmount(*patch.Amount).Equal(it.Amount) {
			return fmt.Errorf("installment %d: %w", it.Number, core.ErrImmutablePaidInstallment)
		}
		if patch.DueDate != nil && !patch.DueDate.Equal(it.DueDate) {
			return fmt.Errorf("installment %d: %w", it.Number, core.ErrImmutablePaidInstallment)
		}
	}
	if patch.Amount != nil {
		amount := core.RoundAmount(*patch.Amount)
		if !amount.IsPositive() {
			return core.ErrInvalidAmount
		}
		it.Amount = amount
	}
	if patch.DueDate != nil {
		if err := patch.DueDate.Validate(); err != nil {
			return fmt.Errorf("due date: %w", err)
		}
		it.DueDate = *patch.DueDate
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return fmt.Errorf("%w: %q", core.ErrInvalidStatus, string(*patch.Status))
		}
		s.setStatus(it, *patch.Status, patch.PaidAt)
	}
	return nil
}

// MarkInstallmentPaid marks one installment PAID on paidOn (today when nil).
func (s *DebtService) MarkInstallmentPaid(ctx context.Context, userID, debtID, installmentID int64, paidOn *core.Date) (DebtView, error) {
	paid := core.InstallmentPaid
	return s.EditInstallment(ctx, userID, debtID, installmentID, InstallmentPatch{Status: &paid, PaidAt: paidOn})
}

// DeleteInstallment removes one installment and renumbers the rest. The last
// remaining installment cannot be deleted; delete the debt instead.
func (s *DebtService) DeleteInstallment(ctx context.Context, userID, debtID, installmentID int64) (DebtView, error) {
	err := s.mutate(ctx, userID, debtID, func(_ *core.Debt, items []core.Installment) ([]core.Installment, error) {
		idx, err := indexOf(items, debtID, installmentID)
		if err != nil {
			return nil, err
		}
		if len(items) == 1 {
			return nil, fmt.Errorf("%w: a debt needs at least one installment", core.ErrInvalidInstallmentPlan)
		}
		return append(items[:idx], items[idx+1:]...), nil
	})
	if err != nil {
		return DebtView{}, err
	}
	return s.GetDebt(ctx, userID, debtID)
}

// DeleteDebt removes the debt and its installments. A rule created by
// conversion is kept.
func (s *DebtService) DeleteDebt(ctx context.Context, userID, debtID int64) error {
	if _, err := s.ownedDebt(ctx, userID, debtID); err != nil {
		return err
	}
	if err := s.debts.DeleteDebt(ctx, debtID); err != nil {
		return fmt.Errorf("delete debt %d: %w", debtID, err)
	}
	slog.InfoContext(ctx, "Debt deleted",
		log.FieldComponent, log.ComponentDebt,
		log.FieldUserID, userID,
		log.FieldDebtID, debtID)
	return nil
}

func (s *DebtService) GetDebt(ctx context.Context, userID, debtID int64) (DebtView, error) {
	debt, err := s.ownedDebt(ctx, userID, debtID)
	if err != nil {
		return DebtView{}, err
	}
	items, err := s.debts.ListInstallments(ctx, debtID)
	if err != nil {
		return DebtView{}, fmt.Errorf("list installments of debt %d: %w", debtID, err)
	}
	today := core.Today(s.clock)
	view := DebtView{
		Debt:            debt,
		Installments:    make([]InstallmentView, len(items)),
		PaidAmount:      decimal.Zero,
		RemainingAmount: decimal.Zero,
	}
	for i, it := range items {
		view.Installments[i] = InstallmentView{Installment: it, DisplayStatus: it.DisplayStatus(today)}
		if it.Status == core.InstallmentPaid {
			view.PaidAmount = view.PaidAmount.Add(it.Amount)
		} else {
			view.PendingCount++
			view.RemainingAmount = view.RemainingAmount.Add(it.Amount)
		}
	}
	return view, nil
}

func (s *DebtService) ListDebts(ctx context.Context, userID int64) ([]core.Debt, error) {
	debts, err := s.debts.ListDebts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	return debts, nil
}

func (s *DebtService) ownedDebt(ctx context.Context, userID, debtID int64) (core.Debt, error) {
	debt, err := s.debts.GetDebt(ctx, debtID)
	if err != nil {
		return core.Debt{}, err
	}
	if debt.UserID != userID {
		return core.Debt{}, fmt.Errorf("debt %d: %w", debtID, core.ErrNotFound)
	}
	return debt, nil
}

func indexOf(items []core.Installment, debtID, installmentID int64) (int, error) {
	for i := range items {
		if items[i].ID == installmentID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("installment %d of debt %d: %w", installmentID, debtID, core.ErrNotFound)
}

func (s *DebtService) setStatus(it *core.Installment, status core.InstallmentStatus, paidAt *core.Date) {
	it.Status = status
	switch status {
	case core.InstallmentPaid:
		if paidAt == nil {
			today := core.Today(s.clock)
			paidAt = &today
		}
		it.PaidAt = paidAt
	case core.InstallmentPending:
		it.PaidAt = nil
	}
}
