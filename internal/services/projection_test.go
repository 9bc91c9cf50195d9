package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/storage/memory"
)

func month(y, m int) core.YearMonth {
	return core.MonthOf(core.NewDate(y, m, 1))
}

func forecastDates(p Projection) []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Date.String()
	}
	return out
}

func TestPreviewAlignsToRuleStart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := monthlyRule(1, "10", d(2025, 1, 1))
	r.Frequency = core.Weekly
	createRule(ctx, store, r)
	p := NewProjector(store, store, store, 0)

	proj, err := p.Preview(ctx, 1, month(2025, 2))
	require.NoError(t, err)
	// Wednesdays from Jan 1, not weekly from Feb 1.
	assert.Equal(t, []string{"2025-02-05", "2025-02-12", "2025-02-19", "2025-02-26"}, forecastDates(proj))
	for _, e := range proj.Entries {
		assert.True(t, e.Recurring)
		assert.Equal(t, SourceRule, e.Source)
	}
}

func TestPreviewExcludesMaterializedAndIsPure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rule := createRule(ctx, store, monthlyRule(1, "10", d(2025, 1, 5)))
	r2 := monthlyRule(1, "10", d(2025, 1, 20))
	r2.Description = "Internet"
	createRule(ctx, store, r2)

	exec := NewRecurringProcessor(store, store, nil, nil)
	_, err := exec.Execute(ctx, rule, d(2025, 3, 10))
	require.NoError(t, err)

	before, err := store.ListEntries(ctx, 1, d(2025, 1, 1), d(2025, 12, 31))
	require.NoError(t, err)

	p := NewProjector(store, store, store, 0)
	first, err := p.Preview(ctx, 1, month(2025, 3))
	require.NoError(t, err)
	second, err := p.Preview(ctx, 1, month(2025, 3))
	require.NoError(t, err)

	assert.Equal(t, []string{"2025-03-20"}, forecastDates(first))
	assert.Equal(t, first, second)

	after, err := store.ListEntries(ctx, 1, d(2025, 1, 1), d(2025, 12, 31))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPreviewLegacyMatchIsExact(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	createRule(ctx, store, monthlyRule(1, "1200", d(2025, 1, 5)))

	legacy := core.LedgerEntry{
		UserID: 1, Kind: core.Expense, Amount: amount("1200"),
		Description: "Aluguel", Date: d(2025, 3, 5),
	}
	_, err := store.InsertLegacy(ctx, legacy)
	require.NoError(t, err)

	// Same text but a different amount must not hide the forecast.
	near := legacy
	near.Amount = amount("1200.01")
	near.Date = d(2025, 4, 5)
	_, err = store.InsertLegacy(ctx, near)
	require.NoError(t, err)

	// Manual entries never suppress forecasts.
	manual := legacy
	manual.Date = d(2025, 5, 5)
	_, err = store.InsertManual(ctx, manual)
	require.NoError(t, err)

	p := NewProjector(store, store, store, 0)
	for _, tc := range []struct {
		m    core.YearMonth
		want int
	}{
		{month(2025, 3), 0},
		{month(2025, 4), 1},
		{month(2025, 5), 1},
	} {
		proj, err := p.Preview(ctx, 1, tc.m)
		require.NoError(t, err)
		assert.Len(t, proj.Entries, tc.want, tc.m.String())
	}
}

func TestPreviewRuleWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ended := monthlyRule(1, "10", d(2024, 1, 10))
	ended.EndDate = d(2025, 1, 31).Ptr()
	createRule(ctx, store, ended)
	future := monthlyRule(1, "10", d(2025, 3, 1))
	createRule(ctx, store, future)
	endsMid := monthlyRule(1, "10", d(2025, 1, 1))
	endsMid.Frequency = core.Daily
	endsMid.EndDate = d(2025, 2, 3).Ptr()
	createRule(ctx, store, endsMid)
	inactive := monthlyRule(1, "10", d(2025, 1, 1))
	inactive.Active = false
	createRule(ctx, store, inactive)

	p := NewProjector(store, store, store, 0)
	proj, err := p.Preview(ctx, 1, month(2025, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-02-01", "2025-02-02", "2025-02-03"}, forecastDates(proj))
}

func TestPreviewInstallmentsAndConversionExclusion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	debts := NewDebtService(store, store, clockAt(2025, 1, 15))

	tv, err := debts.CreateDebt(ctx, 1, DebtPlan{
		Name: "TV", FirstDueDate: d(2025, 1, 10), InstallmentCount: 3,
		InstallmentAmount: amount("500"), AlreadyPaid: 1,
	})
	require.NoError(t, err)
	_, err = debts.CreateDebt(ctx, 1, DebtPlan{
		Name: "Sofa", FirstDueDate: d(2025, 2, 20), InstallmentCount: 2,
		InstallmentAmount: amount("300"),
	})
	require.NoError(t, err)

	p := NewProjector(store, store, store, 0)
	proj, err := p.Preview(ctx, 1, month(2025, 2))
	require.NoError(t, err)
	require.Len(t, proj.Entries, 2)
	assert.Equal(t, "TV (2/3)", proj.Entries[0].Description)
	assert.Equal(t, core.Expense, proj.Entries[0].Kind)
	assert.False(t, proj.Entries[0].Recurring)
	assert.Equal(t, SourceInstallment, proj.Entries[0].Source)
	assert.Equal(t, "Sofa (1/2)", proj.Entries[1].Description)

	rule, err := debts.ConvertToRecurring(ctx, 1, tv.Debt.ID)
	require.NoError(t, err)

	proj, err = p.Preview(ctx, 1, month(2025, 2))
	require.NoError(t, err)
	require.Len(t, proj.Entries, 2, "converted debt is forecast once, through its rule")
	assert.Equal(t, SourceRule, proj.Entries[0].Source)
	assert.Equal(t, rule.ID, *proj.Entries[0].RuleID)
	assert.Equal(t, "2025-02-10", proj.Entries[0].Date.String())
	assert.Equal(t, SourceInstallment, proj.Entries[1].Source)
}

func TestPreviewCapAndOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for i, desc := range []string{"B", "A", "C", "D"} {
		r := monthlyRule(1, "10", d(2025, 1, 5+i%2))
		r.Description = desc
		r.Amount = decimal.NewFromInt(int64(10 + i))
		createRule(ctx, store, r)
	}
	p := NewProjector(store, store, store, 3)

	proj, err := p.Preview(ctx, 1, month(2025, 1))
	require.NoError(t, err)
	require.Len(t, proj.Entries, 3)
	assert.Equal(t, 1, proj.Omitted)
	got := []string{proj.Entries[0].Description, proj.Entries[1].Description, proj.Entries[2].Description}
	// Day 5: B, C. Day 6: A, D.
	assert.Equal(t, []string{"B", "C", "A"}, got)

	uncapped := NewProjector(store, store, store, 0)
	all, err := uncapped.Preview(ctx, 1, month(2025, 1))
	require.NoError(t, err)
	assert.Len(t, all.Entries, 4)
	assert.Zero(t, all.Omitted)
}

func TestPreviewForecastsInstallmentsWithoutLiveConversionRule(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	debts := NewDebtService(store, store, clockAt(2025, 1, 15))
	rules := NewRuleService(store, store)
	p := NewProjector(store, store, store, 0)

	view, err := debts.CreateDebt(ctx, 1, DebtPlan{
		Name: "TV", FirstDueDate: d(2025, 3, 10), InstallmentCount: 2,
		InstallmentAmount: amount("500"),
	})
	require.NoError(t, err)
	rule, err := debts.ConvertToRecurring(ctx, 1, view.Debt.ID)
	require.NoError(t, err)

	// Paused conversion rule: the installments are forecast directly.
	_, err = rules.SetActive(ctx, 1, rule.ID, false)
	require.NoError(t, err)
	proj, err := p.Preview(ctx, 1, month(2025, 3))
	require.NoError(t, err)
	require.Len(t, proj.Entries, 1)
	assert.Equal(t, SourceInstallment, proj.Entries[0].Source)
	assert.Equal(t, "TV (1/2)", proj.Entries[0].Description)

	// Deleted conversion rule: same.
	require.NoError(t, rules.Delete(ctx, 1, rule.ID))
	proj, err = p.Preview(ctx, 1, month(2025, 3))
	require.NoError(t, err)
	require.Len(t, proj.Entries, 1)
	assert.Equal(t, SourceInstallment, proj.Entries[0].Source)
}

func TestPreviewSkipsOccurrencesBeforeAnchor(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rule := createRule(ctx, store, monthlyRule(1, "10", d(2025, 1, 5)))

	exec := NewRecurringProcessor(store, store, nil, nil)
	res, err := exec.Execute(ctx, rule, d(2025, 3, 10))
	require.NoError(t, err)
	require.Len(t, res.Created, 3)

	// The user removes February's entry; execution will not post it again.
	require.NoError(t, store.DeleteEntry(ctx, res.Created[1].ID))
	res, err = exec.Execute(ctx, rule, d(2025, 3, 10))
	require.NoError(t, err)
	assert.Empty(t, res.Created)

	p := NewProjector(store, store, store, 0)
	proj, err := p.Preview(ctx, 1, month(2025, 2))
	require.NoError(t, err)
	assert.Empty(t, proj.Entries)

	proj, err = p.Preview(ctx, 1, month(2025, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-04-05"}, forecastDates(proj))
}
