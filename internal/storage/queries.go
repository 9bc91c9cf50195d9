package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the SQL of the repository, bound to a DB or a transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const timestampLayout = time.RFC3339Nano

type scanner interface {
	Scan(dest ...interface{}) error
}

func formatTime(t time.Time) string { return t.UTC().Format(timestampLayout) }

func parseTime(s string) time.Time {
	for _, layout := range []string{timestampLayout, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullDate(d *core.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func datePtr(ns sql.NullString) (*core.Date, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := core.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func intPtr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func amountString(d decimal.Decimal) string {
	return d.StringFixed(core.AmountPlaces)
}

// Recurrence rules

const ruleColumns = `id, user_id, kind, amount, description, frequency, start_date, end_date, active, category_id, created_at, updated_at`

func scanRule(row scanner) (core.RecurrenceRule, error) {
	var (
		r                    core.RecurrenceRule
		kind, amount, freq   string
		start                string
		end                  sql.NullString
		active               bool
		category             sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.UserID, &kind, &amount, &r.Description, &freq, &start, &end, &active, &category, &createdAt, &updatedAt); err != nil {
		return r, err
	}
	var err error
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return r, fmt.Errorf("rule %d amount: %w", r.ID, err)
	}
	if r.StartDate, err = core.ParseDate(start); err != nil {
		return r, err
	}
	if r.EndDate, err = datePtr(end); err != nil {
		return r, err
	}
	r.Kind = core.Kind(kind)
	r.Frequency = core.Frequency(freq)
	r.Active = active
	r.CategoryID = intPtr(category)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func (q *Queries) listRules(ctx context.Context, query string, args ...interface{}) ([]core.RecurrenceRule, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.RecurrenceRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) GetRule(ctx context.Context, id int64) (core.RecurrenceRule, error) {
	return scanRule(q.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ?`, id))
}

func (q *Queries) ListRules(ctx context.Context, userID int64) ([]core.RecurrenceRule, error) {
	return q.listRules(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE user_id = ? ORDER BY id`, userID)
}

func (q *Queries) ListActiveRules(ctx context.Context, userID int64) ([]core.RecurrenceRule, error) {
	return q.listRules(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE user_id = ? AND active = 1 ORDER BY id`, userID)
}

func (q *Queries) ListUsersWithActiveRules(ctx context.Context) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM recurrence_rules WHERE active = 1 ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (q *Queries) CreateRule(ctx context.Context, r core.RecurrenceRule, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `INSERT INTO recurrence_rules
		(user_id, kind, amount, description, frequency, start_date, end_date, active, category_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, string(r.Kind), amountString(r.Amount), r.Description, string(r.Frequency),
		r.StartDate.String(), nullDate(r.EndDate), r.Active, nullInt(r.CategoryID), formatTime(now), formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) UpdateRule(ctx context.Context, r core.RecurrenceRule, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE recurrence_rules SET
		kind = ?, amount = ?, description = ?, frequency = ?, start_date = ?, end_date = ?,
		active = ?, category_id = ?, updated_at = ?
		WHERE id = ?`,
		string(r.Kind), amountString(r.Amount), r.Description, string(r.Frequency), r.StartDate.String(),
		nullDate(r.EndDate), r.Active, nullInt(r.CategoryID), formatTime(now), r.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteRule(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM recurrence_rules WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ledger entries

const entryColumns = `id, user_id, kind, amount, description, occurs_on, category_id, origin, rule_id, created_at`

func scanEntry(row scanner) (core.LedgerEntry, error) {
	var (
		e                        core.LedgerEntry
		kind, amount, on, origin string
		category, ruleID         sql.NullInt64
		createdAt                string
	)
	if err := row.Scan(&e.ID, &e.UserID, &kind, &amount, &e.Description, &on, &category, &origin, &ruleID, &createdAt); err != nil {
		return e, err
	}
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("entry %d amount: %w", e.ID, err)
	}
	if e.Date, err = core.ParseDate(on); err != nil {
		return e, err
	}
	e.Kind = core.Kind(kind)
	e.Origin = core.Origin(origin)
	e.CategoryID = intPtr(category)
	e.RuleID = intPtr(ruleID)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

func (q *Queries) listEntries(ctx context.Context, query string, args ...interface{}) ([]core.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) LastGeneratedDate(ctx context.Context, ruleID int64) (sql.NullString, error) {
	var last sql.NullString
	err := q.db.QueryRowContext(ctx,
		`SELECT MAX(occurs_on) FROM ledger_entries WHERE rule_id = ? AND origin = 'generated'`, ruleID).Scan(&last)
	return last, err
}

func (q *Queries) ExistsGenerated(ctx context.Context, ruleID int64, on string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ledger_entries WHERE rule_id = ? AND occurs_on = ?`, ruleID, on).Scan(&n)
	return n > 0, err
}

func (q *Queries) CountGenerated(ctx context.Context, ruleID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM ledger_entries WHERE rule_id = ?`, ruleID).Scan(&n)
	return n, err
}

func (q *Queries) InsertEntry(ctx context.Context, e core.LedgerEntry, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `INSERT INTO ledger_entries
		(user_id, kind, amount, description, occurs_on, category_id, origin, rule_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, string(e.Kind), amountString(e.Amount), e.Description, e.Date.String(),
		nullInt(e.CategoryID), string(e.Origin), nullInt(e.RuleID), formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) GetEntry(ctx context.Context, id int64) (core.LedgerEntry, error) {
	return scanEntry(q.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id))
}

func (q *Queries) DeleteEntry(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) ListEntries(ctx context.Context, userID int64, from, to string) ([]core.LedgerEntry, error) {
	return q.listEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE user_id = ? AND occurs_on BETWEEN ? AND ? ORDER BY occurs_on, id`, userID, from, to)
}

func (q *Queries) PendingSyncEntries(ctx context.Context, limit int) ([]core.LedgerEntry, error) {
	return q.listEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE synced_at IS NULL AND sync_error IS NULL ORDER BY id LIMIT ?`, limit)
}

func (q *Queries) MarkEntrySynced(ctx context.Context, id int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE ledger_entries SET synced_at = ?, sync_error = NULL WHERE id = ?`, formatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) MarkEntrySyncError(ctx context.Context, id int64, msg string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE ledger_entries SET sync_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Debts and installments

const debtColumns = `id, user_id, name, total_amount, installment_amount, installment_count, first_due_date, status, category_id, linked_rule_id, created_at, updated_at`

func scanDebt(row scanner) (core.Debt, error) {
	var (
		d                    core.Debt
		total, nominal       string
		firstDue, status     string
		category, linked     sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Name, &total, &nominal, &d.InstallmentCount, &firstDue, &status, &category, &linked, &createdAt, &updatedAt); err != nil {
		return d, err
	}
	var err error
	if d.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return d, fmt.Errorf("debt %d total: %w", d.ID, err)
	}
	if d.InstallmentAmount, err = decimal.NewFromString(nominal); err != nil {
		return d, fmt.Errorf("debt %d installment amount: %w", d.ID, err)
	}
	if d.FirstDueDate, err = core.ParseDate(firstDue); err != nil {
		return d, err
	}
	d.Status = core.DebtStatus(status)
	d.CategoryID = intPtr(category)
	d.LinkedRuleID = intPtr(linked)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return d, nil
}

func (q *Queries) GetDebt(ctx context.Context, id int64) (core.Debt, error) {
	return scanDebt(q.db.QueryRowContext(ctx, `SELECT `+debtColumns+` FROM debts WHERE id = ?`, id))
}

func (q *Queries) ListDebts(ctx context.Context, userID int64) ([]core.Debt, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+debtColumns+` FROM debts WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queries) CreateDebt(ctx context.Context, d core.Debt, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `INSERT INTO debts
		(user_id, name, total_amount, installment_amount, installment_count, first_due_date, status, category_id, linked_rule_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.UserID, d.Name, amountString(d.TotalAmount), amountString(d.InstallmentAmount), d.InstallmentCount,
		d.FirstDueDate.String(), string(d.Status), nullInt(d.CategoryID), nullInt(d.LinkedRuleID), formatTime(now), formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateDebt saves the header fields; linked_rule_id is only written by LinkRule and UnlinkRule.
func (q *Queries) UpdateDebt(ctx context.Context, d core.Debt, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE debts SET
		name = ?, total_amount = ?, installment_amount = ?, installment_count = ?, first_due_date = ?,
		status = ?, category_id = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, amountString(d.TotalAmount), amountString(d.InstallmentAmount), d.InstallmentCount,
		d.FirstDueDate.String(), string(d.Status), nullInt(d.CategoryID), formatTime(now), d.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteDebt(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM debts WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) LinkRule(ctx context.Context, debtID, ruleID int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE debts SET linked_rule_id = ?, updated_at = ? WHERE id = ? AND linked_rule_id IS NULL`,
		ruleID, formatTime(now), debtID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) UnlinkRule(ctx context.Context, debtID, ruleID int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE debts SET linked_rule_id = NULL, updated_at = ? WHERE id = ? AND linked_rule_id = ?`,
		formatTime(now), debtID, ruleID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TouchDebt bumps updated_at. Run first in a transaction it takes the
// database write lock before anything is read.
func (q *Queries) TouchDebt(ctx context.Context, id int64, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE debts SET updated_at = ? WHERE id = ?`, formatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const installmentColumns = `id, debt_id, number, amount, due_date, status, paid_at`

func scanInstallment(row scanner, extra ...interface{}) (core.Installment, error) {
	var (
		it                  core.Installment
		amount, due, status string
		paidAt              sql.NullString
	)
	dest := append([]interface{}{&it.ID, &it.DebtID, &it.Number, &amount, &due, &status, &paidAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return it, err
	}
	var err error
	if it.Amount, err = decimal.NewFromString(amount); err != nil {
		return it, fmt.Errorf("installment %d amount: %w", it.ID, err)
	}
	if it.DueDate, err = core.ParseDate(due); err != nil {
		return it, err
	}
	if it.PaidAt, err = datePtr(paidAt); err != nil {
		return it, err
	}
	it.Status = core.InstallmentStatus(status)
	return it, nil
}

func (q *Queries) ListInstallments(ctx context.Context, debtID int64) ([]core.Installment, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE debt_id = ? ORDER BY number`, debtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Installment
	for rows.Next() {
		it, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteInstallments(ctx context.Context, debtID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM installments WHERE debt_id = ?`, debtID)
	return err
}

// InsertInstallment keeps it.ID when set; a zero ID lets SQLite assign one.
func (q *Queries) InsertInstallment(ctx context.Context, debtID int64, it core.Installment) error {
	id := sql.NullInt64{Int64: it.ID, Valid: it.ID != 0}
	_, err := q.db.ExecContext(ctx, `INSERT INTO installments
		(id, debt_id, number, amount, due_date, status, paid_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, debtID, it.Number, amountString(it.Amount), it.DueDate.String(), string(it.Status), nullDate(it.PaidAt))
	return err
}

func (q *Queries) ListPendingInstallments(ctx context.Context, userID int64, from, to string) ([]core.InstallmentDue, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT
		i.id, i.debt_id, i.number, i.amount, i.due_date, i.status, i.paid_at,
		d.user_id, d.name, d.installment_count, d.category_id, d.linked_rule_id
		FROM installments i JOIN debts d ON d.id = i.debt_id
		WHERE d.user_id = ? AND i.status = 'PENDING' AND i.due_date BETWEEN ? AND ?
		ORDER BY i.due_date, i.id`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.InstallmentDue
	for rows.Next() {
		var (
			due              core.InstallmentDue
			category, linked sql.NullInt64
		)
		it, err := scanInstallment(rows, &due.UserID, &due.DebtName, &due.DebtCount, &category, &linked)
		if err != nil {
			return nil, err
		}
		due.Installment = it
		due.CategoryID = intPtr(category)
		due.LinkedRuleID = intPtr(linked)
		out = append(out, due)
	}
	return out, rows.Err()
}
