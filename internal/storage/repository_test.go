package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
)

var _ services.Store = (*SQLiteRepository)(nil)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "meubolso.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newMockRepo(t *testing.T) (*SQLiteRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteRepositoryFromDB(db), mock
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRule(userID int64) core.RecurrenceRule {
	return core.RecurrenceRule{
		UserID:      userID,
		Kind:        core.Expense,
		Amount:      amt("1500.00"),
		Description: "Aluguel",
		Frequency:   core.Monthly,
		StartDate:   core.NewDate(2024, 1, 10),
		Active:      true,
	}
}

func generated(ruleID int64, on core.Date) core.LedgerEntry {
	return core.LedgerEntry{
		UserID:      1,
		Kind:        core.Expense,
		Amount:      amt("1500.00"),
		Description: "Aluguel",
		Date:        on,
		RuleID:      &ruleID,
	}
}

func TestSQLiteRepository_Rules(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	rule := testRule(1)
	end := core.NewDate(2024, 12, 10)
	category := int64(7)
	rule.EndDate = &end
	rule.CategoryID = &category

	id, err := repo.CreateRule(ctx, rule)
	require.NoError(t, err)

	got, err := repo.GetRule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1500.00", got.Amount.StringFixed(2))
	assert.Equal(t, core.Monthly, got.Frequency)
	assert.Equal(t, "2024-01-10", got.StartDate.String())
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2024-12-10", got.EndDate.String())
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, int64(7), *got.CategoryID)
	assert.True(t, got.Active)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = repo.CreateRule(ctx, testRule(2))
	require.NoError(t, err)

	users, err := repo.ListUsersWithActiveRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, users)

	got.Active = false
	got.Amount = amt("1600")
	require.NoError(t, repo.UpdateRule(ctx, got))

	active, err := repo.ListActiveRules(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := repo.ListRules(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "1600.00", all[0].Amount.StringFixed(2))

	require.NoError(t, repo.DeleteRule(ctx, id))
	_, err = repo.GetRule(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteRule(ctx, id), core.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateRule(ctx, got), core.ErrNotFound)
}

func TestSQLiteRepository_GeneratedEntriesAreUniquePerRuleAndDate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	ruleID, err := repo.CreateRule(ctx, testRule(1))
	require.NoError(t, err)

	_, found, err := repo.LastGeneratedDate(ctx, ruleID)
	require.NoError(t, err)
	assert.False(t, found)

	jan := core.NewDate(2024, 1, 10)
	feb := core.NewDate(2024, 2, 10)
	_, err = repo.InsertGenerated(ctx, generated(ruleID, jan))
	require.NoError(t, err)
	_, err = repo.InsertGenerated(ctx, generated(ruleID, feb))
	require.NoError(t, err)

	_, err = repo.InsertGenerated(ctx, generated(ruleID, jan))
	assert.ErrorIs(t, err, core.ErrDuplicateEntry)

	last, found, err := repo.LastGeneratedDate(ctx, ruleID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2024-02-10", last.String())

	exists, err := repo.ExistsGenerated(ctx, ruleID, jan)
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := repo.CountGenerated(ctx, ruleID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Manual entries never collide with generated ones.
	manual := generated(ruleID, jan)
	manualID, err := repo.InsertManual(ctx, manual)
	require.NoError(t, err)
	stored, err := repo.GetEntry(ctx, manualID)
	require.NoError(t, err)
	assert.Equal(t, core.OriginManual, stored.Origin)
	assert.Nil(t, stored.RuleID)
}

func TestSQLiteRepository_DeletedEntryFreesKey(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	ruleID, err := repo.CreateRule(ctx, testRule(1))
	require.NoError(t, err)
	on := core.NewDate(2024, 3, 10)

	id, err := repo.InsertGenerated(ctx, generated(ruleID, on))
	require.NoError(t, err)
	require.NoError(t, repo.DeleteEntry(ctx, id))
	assert.ErrorIs(t, repo.DeleteEntry(ctx, id), core.ErrNotFound)

	_, err = repo.InsertGenerated(ctx, generated(ruleID, on))
	assert.NoError(t, err)
}

func TestSQLiteRepository_ListEntriesAndSync(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	base := core.LedgerEntry{UserID: 1, Kind: core.Expense, Amount: amt("42.5"), Description: "Mercado"}
	inMonth := base
	inMonth.Date = core.NewDate(2024, 5, 3)
	legacy := base
	legacy.Date = core.NewDate(2024, 5, 31)
	outside := base
	outside.Date = core.NewDate(2024, 6, 1)

	firstID, err := repo.InsertManual(ctx, inMonth)
	require.NoError(t, err)
	legacyID, err := repo.InsertLegacy(ctx, legacy)
	require.NoError(t, err)
	_, err = repo.InsertManual(ctx, outside)
	require.NoError(t, err)

	may := core.YearMonth{Year: 2024, Month: 5}
	entries, err := repo.ListEntries(ctx, 1, may.Start(), may.End())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, firstID, entries[0].ID)
	assert.Equal(t, "42.50", entries[0].Amount.StringFixed(2))
	assert.Equal(t, core.OriginLegacy, entries[1].Origin)

	pending, err := repo.PendingSyncEntries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	require.NoError(t, repo.MarkEntrySynced(ctx, firstID))
	require.NoError(t, repo.MarkEntrySyncError(ctx, legacyID, "sheet not found"))

	pending, err = repo.PendingSyncEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2024-06-01", pending[0].Date.String())

	assert.ErrorIs(t, repo.MarkEntrySynced(ctx, 999), core.ErrNotFound)
}

func testInstallments() []core.Installment {
	items := make([]core.Installment, 3)
	for i := range items {
		items[i] = core.Installment{
			Number:  i + 1,
			Amount:  amt("100"),
			DueDate: core.AddMonths(core.NewDate(2024, 1, 15), i),
			Status:  core.InstallmentPending,
		}
	}
	return items
}

func TestSQLiteRepository_DebtLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	debt := core.Debt{
		UserID:            1,
		Name:              "Notebook",
		TotalAmount:       amt("300"),
		InstallmentAmount: amt("100"),
		InstallmentCount:  3,
		FirstDueDate:      core.NewDate(2024, 1, 15),
		Status:            core.DebtActive,
	}
	debtID, err := repo.CreateDebt(ctx, debt, testInstallments())
	require.NoError(t, err)

	items, err := repo.ListInstallments(ctx, debtID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, debtID, items[0].DebtID)
	assert.Equal(t, "2024-03-15", items[2].DueDate.String())

	// Pay the first installment and drop the last one; surviving ids stay.
	paidOn := core.NewDate(2024, 1, 14)
	require.NoError(t, repo.MutateInstallments(ctx, debtID, func(d *core.Debt, items []core.Installment) ([]core.Installment, error) {
		items[0].Status = core.InstallmentPaid
		items[0].PaidAt = &paidOn
		d.TotalAmount = amt("200")
		d.InstallmentCount = 2
		return items[:2], nil
	}))

	after, err := repo.ListInstallments(ctx, debtID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, items[0].ID, after[0].ID)
	assert.Equal(t, items[1].ID, after[1].ID)
	assert.Equal(t, core.InstallmentPaid, after[0].Status)
	require.NotNil(t, after[0].PaidAt)
	assert.Equal(t, "2024-01-14", after[0].PaidAt.String())

	dues, err := repo.ListPendingInstallments(ctx, 1, core.NewDate(2024, 1, 1), core.NewDate(2024, 12, 31))
	require.NoError(t, err)
	require.Len(t, dues, 1)
	assert.Equal(t, "Notebook", dues[0].DebtName)
	assert.Equal(t, 2, dues[0].DebtCount)
	assert.Equal(t, 2, dues[0].Number)
	assert.Nil(t, dues[0].LinkedRuleID)

	ruleID, err := repo.CreateRule(ctx, testRule(1))
	require.NoError(t, err)
	require.NoError(t, repo.LinkRule(ctx, debtID, ruleID))
	assert.ErrorIs(t, repo.LinkRule(ctx, debtID, ruleID+1), core.ErrAlreadyConverted)
	assert.ErrorIs(t, repo.LinkRule(ctx, 999, ruleID), core.ErrNotFound)

	// Header updates never clear the link.
	require.NoError(t, repo.MutateInstallments(ctx, debtID, func(d *core.Debt, items []core.Installment) ([]core.Installment, error) {
		d.LinkedRuleID = nil
		return items, nil
	}))
	linked, err := repo.GetDebt(ctx, debtID)
	require.NoError(t, err)
	require.NotNil(t, linked.LinkedRuleID)
	assert.Equal(t, ruleID, *linked.LinkedRuleID)

	debts, err := repo.ListDebts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, debts, 1)

	require.NoError(t, repo.DeleteDebt(ctx, debtID))
	_, err = repo.ListInstallments(ctx, debtID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteDebt(ctx, debtID), core.ErrNotFound)

	// The converted rule outlives the debt.
	_, err = repo.GetRule(ctx, ruleID)
	assert.NoError(t, err)
}

func TestSQLiteRepository_QueryFailureIsStorageFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM recurrence_rules").WillReturnError(errors.New("disk I/O error"))

	_, err := repo.ListActiveRules(context.Background(), 1)
	assert.ErrorIs(t, err, core.ErrStorageFailure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_UniqueMessageMapsToDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: ledger_entries.rule_id, ledger_entries.occurs_on (2067)"))

	_, err := repo.InsertGenerated(context.Background(), generated(3, core.NewDate(2024, 1, 10)))
	assert.ErrorIs(t, err, core.ErrDuplicateEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_MutateInstallmentsRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE debts SET updated_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM debts WHERE id").WillReturnRows(sqlmock.NewRows([]string{
		"id", "user_id", "name", "total_amount", "installment_amount", "installment_count",
		"first_due_date", "status", "category_id", "linked_rule_id", "created_at", "updated_at",
	}).AddRow(1, 1, "Notebook", "300.00", "100.00", 3, "2024-01-15", "ACTIVE", nil, nil, "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"))
	mock.ExpectQuery("FROM installments WHERE debt_id").WillReturnRows(sqlmock.NewRows([]string{
		"id", "debt_id", "number", "amount", "due_date", "status", "paid_at",
	}))
	mock.ExpectExec("UPDATE debts SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM installments").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO installments").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := repo.MutateInstallments(context.Background(), 1, func(_ *core.Debt, _ []core.Installment) ([]core.Installment, error) {
		return testInstallments(), nil
	})
	assert.ErrorIs(t, err, core.ErrStorageFailure)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_GeneratedWithoutRuleIsRejected(t *testing.T) {
	repo, mock := newMockRepo(t)

	entry := generated(1, core.NewDate(2024, 1, 10))
	entry.RuleID = nil
	_, err := repo.InsertGenerated(context.Background(), entry)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")

	v, err := RunMigrations(dsn(path))
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	v, err = RunMigrations(dsn(path))
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func payInstallment(i int) func(d *core.Debt, items []core.Installment) ([]core.Installment, error) {
	return func(d *core.Debt, items []core.Installment) ([]core.Installment, error) {
		paidOn := core.NewDate(2024, 2, 1)
		items[i].Status = core.InstallmentPaid
		items[i].PaidAt = &paidOn
		return items, nil
	}
}

func TestSQLiteRepository_MutateInstallmentsConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	debtID, err := repo.CreateDebt(ctx, core.Debt{
		UserID: 1, Name: "Notebook", TotalAmount: amt("300"), InstallmentAmount: amt("100"),
		InstallmentCount: 3, FirstDueDate: core.NewDate(2024, 1, 15), Status: core.DebtActive,
	}, testInstallments())
	require.NoError(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = repo.MutateInstallments(ctx, debtID, payInstallment(i))
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	items, err := repo.ListInstallments(ctx, debtID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, core.InstallmentPaid, it.Status, "installment %d lost its payment", it.Number)
	}
}

func TestSQLiteRepository_MutateInstallmentsAbort(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	debtID, err := repo.CreateDebt(ctx, core.Debt{
		UserID: 1, Name: "Notebook", TotalAmount: amt("300"), InstallmentAmount: amt("100"),
		InstallmentCount: 3, FirstDueDate: core.NewDate(2024, 1, 15), Status: core.DebtActive,
	}, testInstallments())
	require.NoError(t, err)

	err = repo.MutateInstallments(ctx, debtID, func(d *core.Debt, items []core.Installment) ([]core.Installment, error) {
		d.Name = "changed"
		return nil, core.ErrImmutablePaidInstallment
	})
	assert.ErrorIs(t, err, core.ErrImmutablePaidInstallment)

	d, err := repo.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Equal(t, "Notebook", d.Name)
	items, err := repo.ListInstallments(ctx, debtID)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	err = repo.MutateInstallments(ctx, 999, payInstallment(0))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLiteRepository_UnlinkRule(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	debtID, err := repo.CreateDebt(ctx, core.Debt{
		UserID: 1, Name: "Notebook", TotalAmount: amt("300"), InstallmentAmount: amt("100"),
		InstallmentCount: 3, FirstDueDate: core.NewDate(2024, 1, 15), Status: core.DebtActive,
	}, testInstallments())
	require.NoError(t, err)
	require.NoError(t, repo.LinkRule(ctx, debtID, 5))

	// A different rule id leaves the link alone.
	require.NoError(t, repo.UnlinkRule(ctx, debtID, 6))
	d, err := repo.GetDebt(ctx, debtID)
	require.NoError(t, err)
	require.NotNil(t, d.LinkedRuleID)

	require.NoError(t, repo.UnlinkRule(ctx, debtID, 5))
	d, err = repo.GetDebt(ctx, debtID)
	require.NoError(t, err)
	assert.Nil(t, d.LinkedRuleID)
	require.NoError(t, repo.LinkRule(ctx, debtID, 7))

	assert.ErrorIs(t, repo.UnlinkRule(ctx, 999, 5), core.ErrNotFound)
}
