package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

// dsn enables foreign keys and a busy timeout on every pooled connection.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dsn(dbPath))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite repository ready",
		log.FieldComponent, log.ComponentStorage,
		"path", dbPath,
		"schema_version", version)
	return NewSQLiteRepositoryFromDB(db), nil
}

// NewSQLiteRepositoryFromDB wraps an open database whose schema is already
// migrated.
func NewSQLiteRepositoryFromDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return core.NewStorageError("ping", r.db.PingContext(ctx))
}

// isUniqueViolation reports whether err comes from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, core.ErrNotFound)
}

// rowErr maps sql.ErrNoRows to ErrNotFound and wraps everything else.
func rowErr(op, what string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(what, id)
	}
	return core.NewStorageError(op, err)
}

func (r *SQLiteRepository) inTx(ctx context.Context, op string, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.NewStorageError(op+": begin", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", log.FieldComponent, log.ComponentStorage, log.FieldOperation, op, log.FieldError, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return core.NewStorageError(op+": commit", err)
	}
	return nil
}

// Ledger

func (r *SQLiteRepository) LastGeneratedDate(ctx context.Context, ruleID int64) (core.Date, bool, error) {
	last, err := r.queries.LastGeneratedDate(ctx, ruleID)
	if err != nil {
		return core.Date{}, false, core.NewStorageError("last generated date", err)
	}
	if !last.Valid {
		return core.Date{}, false, nil
	}
	d, err := core.ParseDate(last.String)
	if err != nil {
		return core.Date{}, false, core.NewStorageError("last generated date", err)
	}
	return d, true, nil
}

func (r *SQLiteRepository) ExistsGenerated(ctx context.Context, ruleID int64, date core.Date) (bool, error) {
	ok, err := r.queries.ExistsGenerated(ctx, ruleID, date.String())
	if err != nil {
		return false, core.NewStorageError("exists generated", err)
	}
	return ok, nil
}

func (r *SQLiteRepository) InsertGenerated(ctx context.Context, e core.LedgerEntry) (int64, error) {
	if e.RuleID == nil {
		return 0, fmt.Errorf("insert generated entry: missing rule id")
	}
	e.Origin = core.OriginGenerated
	id, err := r.queries.InsertEntry(ctx, e, r.now())
	if isUniqueViolation(err) {
		return 0, core.ErrDuplicateEntry
	}
	if err != nil {
		return 0, core.NewStorageError("insert generated entry", err)
	}
	return id, nil
}

func (r *SQLiteRepository) CountGenerated(ctx context.Context, ruleID int64) (int, error) {
	n, err := r.queries.CountGenerated(ctx, ruleID)
	if err != nil {
		return 0, core.NewStorageError("count generated", err)
	}
	return n, nil
}

func (r *SQLiteRepository) InsertManual(ctx context.Context, e core.LedgerEntry) (int64, error) {
	if e.Origin == "" || e.Origin == core.OriginGenerated {
		e.Origin = core.OriginManual
	}
	e.RuleID = nil
	id, err := r.queries.InsertEntry(ctx, e, r.now())
	if err != nil {
		return 0, core.NewStorageError("insert entry", err)
	}
	slog.InfoContext(ctx, "Entry saved to SQLite",
		log.FieldComponent, log.ComponentStorage,
		log.FieldEntryID, id,
		log.FieldDescription, e.Description,
		log.FieldAmount, amountString(e.Amount))
	return id, nil
}

// InsertLegacy stores an entry the way rows imported before rule linkage
// look: legacy origin, no rule id.
func (r *SQLiteRepository) InsertLegacy(ctx context.Context, e core.LedgerEntry) (int64, error) {
	e.Origin = core.OriginLegacy
	return r.InsertManual(ctx, e)
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, id int64) (core.LedgerEntry, error) {
	e, err := r.queries.GetEntry(ctx, id)
	if err != nil {
		return core.LedgerEntry{}, rowErr("get entry", "entry", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) DeleteEntry(ctx context.Context, id int64) error {
	n, err := r.queries.DeleteEntry(ctx, id)
	if err != nil {
		return core.NewStorageError("delete entry", err)
	}
	if n == 0 {
		return notFound("entry", id)
	}
	return nil
}

func (r *SQLiteRepository) ListEntries(ctx context.Context, userID int64, from, to core.Date) ([]core.LedgerEntry, error) {
	entries, err := r.queries.ListEntries(ctx, userID, from.String(), to.String())
	if err != nil {
		return nil, core.NewStorageError("list entries", err)
	}
	return entries, nil
}

// PendingSyncEntries returns entries not yet mirrored to the spreadsheet.
func (r *SQLiteRepository) PendingSyncEntries(ctx context.Context, limit int) ([]core.LedgerEntry, error) {
	entries, err := r.queries.PendingSyncEntries(ctx, limit)
	if err != nil {
		return nil, core.NewStorageError("pending sync entries", err)
	}
	return entries, nil
}

// MarkEntrySynced marks an entry as successfully synced
func (r *SQLiteRepository) MarkEntrySynced(ctx context.Context, id int64) error {
	n, err := r.queries.MarkEntrySynced(ctx, id, r.now())
	if err != nil {
		return core.NewStorageError("mark entry synced", err)
	}
	if n == 0 {
		return notFound("entry", id)
	}
	slog.InfoContext(ctx, "Entry marked as synced", log.FieldComponent, log.ComponentStorage, log.FieldEntryID, id)
	return nil
}

// MarkEntrySyncError records why an entry could not be synced
func (r *SQLiteRepository) MarkEntrySyncError(ctx context.Context, id int64, msg string) error {
	n, err := r.queries.MarkEntrySyncError(ctx, id, msg)
	if err != nil {
		return core.NewStorageError("mark entry sync error", err)
	}
	if n == 0 {
		return notFound("entry", id)
	}
	return nil
}

// Rules

func (r *SQLiteRepository) ListActiveRules(ctx context.Context, userID int64) ([]core.RecurrenceRule, error) {
	rules, err := r.queries.ListActiveRules(ctx, userID)
	if err != nil {
		return nil, core.NewStorageError("list active rules", err)
	}
	return rules, nil
}

func (r *SQLiteRepository) ListRules(ctx context.Context, userID int64) ([]core.RecurrenceRule, error) {
	rules, err := r.queries.ListRules(ctx, userID)
	if err != nil {
		return nil, core.NewStorageError("list rules", err)
	}
	return rules, nil
}

func (r *SQLiteRepository) ListUsersWithActiveRules(ctx context.Context) ([]int64, error) {
	users, err := r.queries.ListUsersWithActiveRules(ctx)
	if err != nil {
		return nil, core.NewStorageError("list users with active rules", err)
	}
	return users, nil
}

func (r *SQLiteRepository) GetRule(ctx context.Context, id int64) (core.RecurrenceRule, error) {
	rule, err := r.queries.GetRule(ctx, id)
	if err != nil {
		return core.RecurrenceRule{}, rowErr("get rule", "rule", id, err)
	}
	return rule, nil
}

func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.RecurrenceRule) (int64, error) {
	id, err := r.queries.CreateRule(ctx, rule, r.now())
	if err != nil {
		return 0, core.NewStorageError("create rule", err)
	}
	return id, nil
}

func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule core.RecurrenceRule) error {
	n, err := r.queries.UpdateRule(ctx, rule, r.now())
	if err != nil {
		return core.NewStorageError("update rule", err)
	}
	if n == 0 {
		return notFound("rule", rule.ID)
	}
	return nil
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, id int64) error {
	n, err := r.queries.DeleteRule(ctx, id)
	if err != nil {
		return core.NewStorageError("delete rule", err)
	}
	if n == 0 {
		return notFound("rule", id)
	}
	return nil
}

// Debts

func (r *SQLiteRepository) GetDebt(ctx context.Context, id int64) (core.Debt, error) {
	d, err := r.queries.GetDebt(ctx, id)
	if err != nil {
		return core.Debt{}, rowErr("get debt", "debt", id, err)
	}
	return d, nil
}

func (r *SQLiteRepository) ListDebts(ctx context.Context, userID int64) ([]core.Debt, error) {
	debts, err := r.queries.ListDebts(ctx, userID)
	if err != nil {
		return nil, core.NewStorageError("list debts", err)
	}
	return debts, nil
}

func (r *SQLiteRepository) CreateDebt(ctx context.Context, d core.Debt, items []core.Installment) (int64, error) {
	var id int64
	err := r.inTx(ctx, "create debt", func(q *Queries) error {
		var err error
		if id, err = q.CreateDebt(ctx, d, r.now()); err != nil {
			return core.NewStorageError("create debt", err)
		}
		for _, it := range items {
			if err := q.InsertInstallment(ctx, id, it); err != nil {
				return core.NewStorageError("insert installment", err)
			}
		}
		return nil
	})
	return id, err
}

func (r *SQLiteRepository) DeleteDebt(ctx context.Context, id int64) error {
	return r.inTx(ctx, "delete debt", func(q *Queries) error {
		if err := q.DeleteInstallments(ctx, id); err != nil {
			return core.NewStorageError("delete installments", err)
		}
		n, err := q.DeleteDebt(ctx, id)
		if err != nil {
			return core.NewStorageError("delete debt", err)
		}
		if n == 0 {
			return notFound("debt", id)
		}
		return nil
	})
}

func (r *SQLiteRepository) ListInstallments(ctx context.Context, debtID int64) ([]core.Installment, error) {
	items, err := r.queries.ListInstallments(ctx, debtID)
	if err != nil {
		return nil, core.NewStorageError("list installments", err)
	}
	if len(items) == 0 {
		// Distinguish "no such debt" from a debt without rows.
		if _, err := r.GetDebt(ctx, debtID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// MutateInstallments runs fn over the stored debt inside one transaction and
// swaps in the returned installment set; a failure leaves the previous set in
// place. The transaction writes before it reads, so a second mutation of any
// debt waits on the busy timeout instead of working from a stale snapshot.
func (r *SQLiteRepository) MutateInstallments(ctx context.Context, debtID int64, fn func(d *core.Debt, items []core.Installment) ([]core.Installment, error)) error {
	return r.inTx(ctx, "mutate installments", func(q *Queries) error {
		n, err := q.TouchDebt(ctx, debtID, r.now())
		if err != nil {
			return core.NewStorageError("lock debt", err)
		}
		if n == 0 {
			return notFound("debt", debtID)
		}
		d, err := q.GetDebt(ctx, debtID)
		if err != nil {
			return rowErr("get debt", "debt", debtID, err)
		}
		items, err := q.ListInstallments(ctx, debtID)
		if err != nil {
			return core.NewStorageError("list installments", err)
		}
		items, err = fn(&d, items)
		if err != nil {
			return err
		}
		d.ID = debtID
		if _, err := q.UpdateDebt(ctx, d, r.now()); err != nil {
			return core.NewStorageError("update debt", err)
		}
		if err := q.DeleteInstallments(ctx, debtID); err != nil {
			return core.NewStorageError("delete installments", err)
		}
		for _, it := range items {
			if err := q.InsertInstallment(ctx, debtID, it); err != nil {
				return core.NewStorageError("insert installment", err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) LinkRule(ctx context.Context, debtID, ruleID int64) error {
	n, err := r.queries.LinkRule(ctx, debtID, ruleID, r.now())
	if err != nil {
		return core.NewStorageError("link rule", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetDebt(ctx, debtID); err != nil {
		return err
	}
	return core.ErrAlreadyConverted
}

func (r *SQLiteRepository) UnlinkRule(ctx context.Context, debtID, ruleID int64) error {
	n, err := r.queries.UnlinkRule(ctx, debtID, ruleID, r.now())
	if err != nil {
		return core.NewStorageError("unlink rule", err)
	}
	if n == 0 {
		// Missing debt, or already linked elsewhere.
		_, err := r.GetDebt(ctx, debtID)
		return err
	}
	return nil
}

func (r *SQLiteRepository) ListPendingInstallments(ctx context.Context, userID int64, from, to core.Date) ([]core.InstallmentDue, error) {
	dues, err := r.queries.ListPendingInstallments(ctx, userID, from.String(), to.String())
	if err != nil {
		return nil, core.NewStorageError("list pending installments", err)
	}
	return dues, nil
}
