package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/storage/memory"
)

func scenarioC(t *testing.T) (*DebtService, *memory.Store, DebtView) {
	t.Helper()
	store := memory.New()
	svc := NewDebtService(store, store, clockAt(2025, 2, 15))
	view, err := svc.CreateDebt(context.Background(), 1, DebtPlan{
		Name:              "Notebook",
		FirstDueDate:      d(2025, 1, 10),
		InstallmentCount:  3,
		InstallmentAmount: amount("500"),
		AlreadyPaid:       1,
	})
	require.NoError(t, err)
	return svc, store, view
}

func assertConsistent(t *testing.T, v DebtView) {
	t.Helper()
	sum := decimal.Zero
	for i, it := range v.Installments {
		assert.Equal(t, i+1, it.Number, "numbering must be contiguous")
		sum = sum.Add(it.Amount)
	}
	assert.True(t, v.Debt.TotalAmount.Equal(sum), "total %s != sum %s", v.Debt.TotalAmount, sum)
	assert.Equal(t, len(v.Installments), v.Debt.InstallmentCount)
}

func TestCreateDebtScenarioC(t *testing.T) {
	_, _, view := scenarioC(t)

	assert.Equal(t, core.DebtActive, view.Debt.Status)
	assert.True(t, view.Debt.TotalAmount.Equal(amount("1500")))
	require.Len(t, view.Installments, 3)
	want := []struct {
		status core.InstallmentStatus
		due    string
	}{
		{core.InstallmentPaid, "2025-01-10"},
		{core.InstallmentPending, "2025-02-10"},
		{core.InstallmentPending, "2025-03-10"},
	}
	for i, w := range want {
		assert.Equal(t, w.status, view.Installments[i].Status)
		assert.Equal(t, w.due, view.Installments[i].DueDate.String())
		assert.True(t, view.Installments[i].Amount.Equal(amount("500")))
	}
	// Today is Feb 15: #2 shows as overdue but is still stored as pending.
	assert.Equal(t, core.InstallmentOverdue, view.Installments[1].DisplayStatus)
	assert.Equal(t, 2, view.PendingCount)
	assert.True(t, view.RemainingAmount.Equal(amount("1000")))
	assertConsistent(t, view)
}

func TestScenarioD(t *testing.T) {
	ctx := context.Background()
	svc, _, view := scenarioC(t)
	debtID := view.Debt.ID
	i2, i3 := view.Installments[1].ID, view.Installments[2].ID

	// Editing #2 while pending recomputes the total from the amounts.
	six := amount("600")
	view, err := svc.EditInstallment(ctx, 1, debtID, i2, InstallmentPatch{Amount: &six})
	require.NoError(t, err)
	assert.True(t, view.Debt.TotalAmount.Equal(amount("1600")))
	assert.True(t, view.Debt.InstallmentAmount.Equal(amount("533.33")))
	assertConsistent(t, view)

	_, err = svc.MarkInstallmentPaid(ctx, 1, debtID, i2, nil)
	require.NoError(t, err)
	view, err = svc.MarkInstallmentPaid(ctx, 1, debtID, i3, d(2025, 3, 1).Ptr())
	require.NoError(t, err)
	assert.Equal(t, core.DebtSettled, view.Debt.Status)
	assert.Equal(t, "2025-03-01", view.Installments[2].PaidAt.String())
	assert.Equal(t, "2025-02-15", view.Installments[1].PaidAt.String())

	// #3 is paid now, so its amount is frozen.
	seven := amount("700")
	_, err = svc.EditInstallment(ctx, 1, debtID, i3, InstallmentPatch{Amount: &seven})
	assert.ErrorIs(t, err, core.ErrImmutablePaidInstallment)
	_, err = svc.EditInstallment(ctx, 1, debtID, i3, InstallmentPatch{DueDate: d(2025, 4, 1).Ptr()})
	assert.ErrorIs(t, err, core.ErrImmutablePaidInstallment)

	// Reverting a payment reactivates the debt.
	pending := core.InstallmentPending
	view, err = svc.EditInstallment(ctx, 1, debtID, i3, InstallmentPatch{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, core.DebtActive, view.Debt.Status)
	assert.Nil(t, view.Installments[2].PaidAt)
}

func TestEditInstallmentValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, view := scenarioC(t)
	i2 := view.Installments[1].ID

	zero := decimal.Zero
	_, err := svc.EditInstallment(ctx, 1, view.Debt.ID, i2, InstallmentPatch{Amount: &zero})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	overdue := core.InstallmentOverdue
	_, err = svc.EditInstallment(ctx, 1, view.Debt.ID, i2, InstallmentPatch{Status: &overdue})
	assert.ErrorIs(t, err, core.ErrInvalidStatus)

	_, err = svc.EditInstallment(ctx, 1, view.Debt.ID, 9999, InstallmentPatch{})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.EditInstallment(ctx, 2, view.Debt.ID, i2, InstallmentPatch{})
	assert.ErrorIs(t, err, core.ErrNotFound, "other users cannot see the debt")
}

func TestDeleteInstallmentRenumbers(t *testing.T) {
	ctx := context.Background()
	svc, _, view := scenarioC(t)

	view, err := svc.DeleteInstallment(ctx, 1, view.Debt.ID, view.Installments[1].ID)
	require.NoError(t, err)
	require.Len(t, view.Installments, 2)
	assert.Equal(t, "2025-03-10", view.Installments[1].DueDate.String())
	assert.True(t, view.Debt.TotalAmount.Equal(amount("1000")))
	assertConsistent(t, view)

	view, err = svc.DeleteInstallment(ctx, 1, view.Debt.ID, view.Installments[1].ID)
	require.NoError(t, err)
	assert.Equal(t, core.DebtSettled, view.Debt.Status, "only the paid installment is left")

	_, err = svc.DeleteInstallment(ctx, 1, view.Debt.ID, view.Installments[0].ID)
	assert.ErrorIs(t, err, core.ErrInvalidInstallmentPlan)
}

func TestEditDebtRegenerates(t *testing.T) {
	ctx := context.Background()
	svc, _, view := scenarioC(t)

	view, err := svc.EditDebt(ctx, 1, view.Debt.ID, DebtPlan{
		Name:          "Notebook Pro",
		FirstDueDate:  d(2025, 1, 31),
		CustomAmounts: []decimal.Decimal{amount("100"), amount("200"), amount("300"), amount("400")},
		// Count must match the vector.
		InstallmentCount: 4,
		AlreadyPaid:      4,
	})
	require.NoError(t, err)
	assert.Equal(t, "Notebook Pro", view.Debt.Name)
	assert.True(t, view.Debt.TotalAmount.Equal(amount("1000")))
	assert.True(t, view.Debt.InstallmentAmount.Equal(amount("250")))
	assert.Equal(t, core.DebtSettled, view.Debt.Status)
	assert.Equal(t, "2025-02-28", view.Installments[1].DueDate.String())
	assertConsistent(t, view)

	_, err = svc.EditDebt(ctx, 1, view.Debt.ID, DebtPlan{
		Name: "x", FirstDueDate: d(2025, 1, 1), InstallmentCount: 2,
		CustomAmounts: []decimal.Decimal{amount("1")},
	})
	assert.ErrorIs(t, err, core.ErrInvalidInstallmentPlan)
}

func TestCreateDebtValidation(t *testing.T) {
	store := memory.New()
	svc := NewDebtService(store, store, nil)
	_, err := svc.CreateDebt(context.Background(), 1, DebtPlan{
		Name: " ", FirstDueDate: d(2025, 1, 1), InstallmentCount: 1, InstallmentAmount: amount("1"),
	})
	assert.ErrorIs(t, err, core.ErrEmptyName)
}

func TestConvertToRecurring(t *testing.T) {
	ctx := context.Background()
	svc, store, view := scenarioC(t)

	rule, err := svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Monthly, rule.Frequency)
	assert.Equal(t, core.Expense, rule.Kind)
	assert.True(t, rule.Active)
	assert.True(t, rule.Amount.Equal(amount("500")))
	assert.Equal(t, "2025-02-10", rule.StartDate.String())
	require.NotNil(t, rule.EndDate)
	assert.Equal(t, "2025-03-10", rule.EndDate.String())
	assert.Equal(t, "Notebook (debt #"+itoa(view.Debt.ID)+")", rule.Description)

	debt, err := store.GetDebt(ctx, view.Debt.ID)
	require.NoError(t, err)
	require.NotNil(t, debt.LinkedRuleID)
	assert.Equal(t, rule.ID, *debt.LinkedRuleID)
	items, err := store.ListInstallments(ctx, view.Debt.ID)
	require.NoError(t, err)
	assert.Len(t, items, 3, "installments are untouched")

	_, err = svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	assert.ErrorIs(t, err, core.ErrAlreadyConverted)

	rules, err := store.ListRules(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestConvertRecognizesMarkerRule(t *testing.T) {
	ctx := context.Background()
	svc, store, view := scenarioC(t)
	legacy := monthlyRule(1, "500", d(2025, 2, 10))
	legacy.Description = ConversionMarker(view.Debt)
	createRule(ctx, store, legacy)

	_, err := svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	assert.ErrorIs(t, err, core.ErrAlreadyConverted)
}

func TestConvertRequiresPending(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewDebtService(store, store, nil)
	view, err := svc.CreateDebt(ctx, 1, DebtPlan{
		Name: "Paid", FirstDueDate: d(2025, 1, 1), InstallmentCount: 2,
		InstallmentAmount: amount("10"), AlreadyPaid: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, core.DebtSettled, view.Debt.Status)

	_, err = svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	assert.ErrorIs(t, err, core.ErrNoPendingInstallments)
}

// linkRaceStore simulates another request linking the debt between the
// precondition check and the link.
type linkRaceStore struct {
	*memory.Store
}

func (s linkRaceStore) LinkRule(context.Context, int64, int64) error {
	return core.ErrAlreadyConverted
}

func TestConvertLostRaceRemovesRule(t *testing.T) {
	ctx := context.Background()
	_, mem, view := scenarioC(t)
	svc := NewDebtService(linkRaceStore{mem}, mem, nil)

	_, err := svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	assert.ErrorIs(t, err, core.ErrAlreadyConverted)
	rules, err := mem.ListRules(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestDeleteDebtKeepsLinkedRule(t *testing.T) {
	ctx := context.Background()
	svc, store, view := scenarioC(t)
	rule, err := svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteDebt(ctx, 2, view.Debt.ID), core.ErrNotFound)
	require.NoError(t, svc.DeleteDebt(ctx, 1, view.Debt.ID))
	_, err = store.GetDebt(ctx, view.Debt.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.GetRule(ctx, rule.ID)
	assert.NoError(t, err)
}

// lockstepStore holds the first two debt reads until both arrived, so two
// requests pass their checks before either one writes.
type lockstepStore struct {
	*memory.Store
	calls atomic.Int32
	reads sync.WaitGroup
}

func (s *lockstepStore) GetDebt(ctx context.Context, id int64) (core.Debt, error) {
	if s.calls.Add(1) <= 2 {
		s.reads.Done()
		s.reads.Wait()
	}
	return s.Store.GetDebt(ctx, id)
}

func TestConcurrentPaymentsSettleDebt(t *testing.T) {
	ctx := context.Background()
	_, mem, view := scenarioC(t)
	store := &lockstepStore{Store: mem}
	store.reads.Add(2)
	svc := NewDebtService(store, mem, clockAt(2025, 2, 15))

	var wg sync.WaitGroup
	for _, it := range view.Installments[1:] {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.MarkInstallmentPaid(ctx, 1, view.Debt.ID, id, nil)
			assert.NoError(t, err)
		}(it.ID)
	}
	wg.Wait()

	final, err := svc.GetDebt(ctx, 1, view.Debt.ID)
	require.NoError(t, err)
	for _, it := range final.Installments {
		assert.Equal(t, core.InstallmentPaid, it.Status, "installment %d", it.Number)
	}
	assert.Equal(t, core.DebtSettled, final.Debt.Status)
	assert.Equal(t, 0, final.PendingCount)
	assertConsistent(t, final)
}

func TestConvertAfterConversionRuleDeleted(t *testing.T) {
	ctx := context.Background()
	svc, store, view := scenarioC(t)
	rules := NewRuleService(store, store)

	first, err := svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	require.NoError(t, err)
	require.NoError(t, rules.Delete(ctx, 1, first.ID))

	second, err := svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	debt, err := store.GetDebt(ctx, view.Debt.ID)
	require.NoError(t, err)
	require.NotNil(t, debt.LinkedRuleID)
	assert.Equal(t, second.ID, *debt.LinkedRuleID)

	_, err = svc.ConvertToRecurring(ctx, 1, view.Debt.ID)
	assert.ErrorIs(t, err, core.ErrAlreadyConverted, "a live link still blocks conversion")
}
