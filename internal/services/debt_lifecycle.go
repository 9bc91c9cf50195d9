package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// mutate applies fn to the stored installments of the caller's debt and
// reconciles the result, reading and writing in one store operation.
func (s *DebtService) mutate(ctx context.Context, userID, debtID int64, fn func(debt *core.Debt, items []core.Installment) ([]core.Installment, error)) error {
	if _, err := s.ownedDebt(ctx, userID, debtID); err != nil {
		return err
	}
	var before, after core.DebtStatus
	err := s.debts.MutateInstallments(ctx, debtID, func(debt *core.Debt, items []core.Installment) ([]core.Installment, error) {
		before = debt.Status
		items, err := fn(debt, items)
		if err != nil {
			return nil, err
		}
		if err := reconcile(debt, items); err != nil {
			return nil, err
		}
		after = debt.Status
		return items, nil
	})
	if err != nil {
		return err
	}
	logStatusChange(ctx, debtID, before, after)
	return nil
}

func reconcile(debt *core.Debt, items []core.Installment) error {
	core.ReconcileDebt(debt, items)
	return core.CheckDebtTotals(*debt, items)
}

func logStatusChange(ctx context.Context, debtID int64, before, after core.DebtStatus) {
	if before == after {
		return
	}
	slog.InfoContext(ctx, "Debt status changed",
		log.FieldComponent, log.ComponentDebt,
		log.FieldDebtID, debtID,
		"from", before,
		"to", after)
}

// ConversionMarker is the description given to the rule created when a debt
// is converted. Rules created before debts stored their link are recognized
// by it.
func ConversionMarker(d core.Debt) string {
	return fmt.Sprintf("%s (debt #%d)", d.Name, d.ID)
}

// ConvertToRecurring creates a monthly expense rule covering the debt's
// pending installments and links it to the debt. The debt keeps tracking its
// installments; previews skip the installments of a linked debt.
func (s *DebtService) ConvertToRecurring(ctx context.Context, userID, debtID int64) (core.RecurrenceRule, error) {
	debt, err := s.ownedDebt(ctx, userID, debtID)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	items, err := s.debts.ListInstallments(ctx, debtID)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("list installments of debt %d: %w", debtID, err)
	}
	first, last, ok := core.EarliestAndLatestPending(items)
	if !ok {
		return core.RecurrenceRule{}, fmt.Errorf("debt %d: %w", debtID, core.ErrNoPendingInstallments)
	}
	if debt.LinkedRuleID != nil {
		stale, err := s.dropStaleLink(ctx, debt)
		if err != nil {
			return core.RecurrenceRule{}, err
		}
		if !stale {
			return core.RecurrenceRule{}, fmt.Errorf("debt %d linked to rule %d: %w", debtID, *debt.LinkedRuleID, core.ErrAlreadyConverted)
		}
	}
	if converted, err := s.hasMarkerRule(ctx, debt); err != nil {
		return core.RecurrenceRule{}, err
	} else if converted {
		return core.RecurrenceRule{}, fmt.Errorf("debt %d: %w", debtID, core.ErrAlreadyConverted)
	}

	rule := core.RecurrenceRule{
		UserID:      debt.UserID,
		Kind:        core.Expense,
		Amount:      debt.InstallmentAmount,
		Description: ConversionMarker(debt),
		Frequency:   core.Monthly,
		StartDate:   first,
		EndDate:     last.Ptr(),
		Active:      true,
		CategoryID:  debt.CategoryID,
	}
	if err := rule.Validate(); err != nil {
		return core.RecurrenceRule{}, err
	}
	rule.ID, err = s.rules.CreateRule(ctx, rule)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("create conversion rule: %w", err)
	}

	if err := s.debts.LinkRule(ctx, debtID, rule.ID); err != nil {
		if delErr := s.rules.DeleteRule(ctx, rule.ID); delErr != nil {
			slog.ErrorContext(ctx, "Failed to remove orphan conversion rule",
				log.FieldComponent, log.ComponentDebt,
				log.FieldRuleID, rule.ID,
				log.FieldError, delErr)
		}
		if errors.Is(err, core.ErrAlreadyConverted) {
			return core.RecurrenceRule{}, fmt.Errorf("debt %d: %w", debtID, err)
		}
		return core.RecurrenceRule{}, fmt.Errorf("link rule %d to debt %d: %w", rule.ID, debtID, err)
	}

	slog.InfoContext(ctx, "Debt converted to recurring rule",
		log.FieldComponent, log.ComponentDebt,
		log.FieldOperation, log.OpConvert,
		log.FieldDebtID, debtID,
		log.FieldRuleID, rule.ID,
		"start", first.String(),
		"end", last.String())
	return rule, nil
}

func (s *DebtService) hasMarkerRule(ctx context.Context, debt core.Debt) (bool, error) {
	rules, err := s.rules.ListRules(ctx, debt.UserID)
	if err != nil {
		return false, fmt.Errorf("list rules: %w", err)
	}
	marker := ConversionMarker(debt)
	for _, r := range rules {
		if r.Description == marker {
			return true, nil
		}
	}
	return false, nil
}

// dropStaleLink clears the debt's link when the linked rule no longer
// exists and reports whether it did.
func (s *DebtService) dropStaleLink(ctx context.Context, debt core.Debt) (bool, error) {
	ruleID := *debt.LinkedRuleID
	_, err := s.rules.GetRule(ctx, ruleID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, core.ErrNotFound):
		return false, fmt.Errorf("get linked rule %d: %w", ruleID, err)
	}
	if err := s.debts.UnlinkRule(ctx, debt.ID, ruleID); err != nil {
		return false, fmt.Errorf("unlink rule %d from debt %d: %w", ruleID, debt.ID, err)
	}
	slog.InfoContext(ctx, "Cleared link to deleted conversion rule",
		log.FieldComponent, log.ComponentDebt,
		log.FieldDebtID, debt.ID,
		log.FieldRuleID, ruleID)
	return true, nil
}
