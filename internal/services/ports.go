package services

import (
	"context"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
)

// LedgerStore is the ledger query port used by the materializer, the
// projection engine and the ledger service.
type LedgerStore interface {
	// LastGeneratedDate returns the latest date materialized for ruleID.
	LastGeneratedDate(ctx context.Context, ruleID int64) (core.Date, bool, error)
	ExistsGenerated(ctx context.Context, ruleID int64, date core.Date) (bool, error)
	// InsertGenerated fails with core.ErrDuplicateEntry when an entry for
	// (RuleID, Date) already exists.
	InsertGenerated(ctx context.Context, e core.LedgerEntry) (int64, error)
	CountGenerated(ctx context.Context, ruleID int64) (int, error)
	InsertManual(ctx context.Context, e core.LedgerEntry) (int64, error)
	GetEntry(ctx context.Context, id int64) (core.LedgerEntry, error)
	DeleteEntry(ctx context.Context, id int64) error
	// ListEntries returns the user's entries dated within [from, to].
	ListEntries(ctx context.Context, userID int64, from, to core.Date) ([]core.LedgerEntry, error)
}

type RuleStore interface {
	ListActiveRules(ctx context.Context, userID int64) ([]core.RecurrenceRule, error)
	ListRules(ctx context.Context, userID int64) ([]core.RecurrenceRule, error)
	ListUsersWithActiveRules(ctx context.Context) ([]int64, error)
	GetRule(ctx context.Context, id int64) (core.RecurrenceRule, error)
	CreateRule(ctx context.Context, r core.RecurrenceRule) (int64, error)
	UpdateRule(ctx context.Context, r core.RecurrenceRule) error
	DeleteRule(ctx context.Context, id int64) error
}

type DebtStore interface {
	GetDebt(ctx context.Context, id int64) (core.Debt, error)
	ListDebts(ctx context.Context, userID int64) ([]core.Debt, error)
	// CreateDebt persists the debt and its installments atomically and
	// returns the new debt id.
	CreateDebt(ctx context.Context, d core.Debt, items []core.Installment) (int64, error)
	DeleteDebt(ctx context.Context, id int64) error
	ListInstallments(ctx context.Context, debtID int64) ([]core.Installment, error)
	// MutateInstallments reads the debt and its installments, passes them to
	// fn and saves the debt header and the returned set, all in one atomic
	// step. Concurrent mutations of one debt are serialized. An error from
	// fn aborts without writing. Installments with a non-zero ID keep it and
	// the conversion link is never changed.
	MutateInstallments(ctx context.Context, debtID int64, fn func(d *core.Debt, items []core.Installment) ([]core.Installment, error)) error
	// LinkRule records ruleID as the debt's conversion rule. It fails with
	// core.ErrAlreadyConverted when the debt is already linked.
	LinkRule(ctx context.Context, debtID, ruleID int64) error
	// UnlinkRule clears the link when it still points at ruleID.
	UnlinkRule(ctx context.Context, debtID, ruleID int64) error
	ListPendingInstallments(ctx context.Context, userID int64, from, to core.Date) ([]core.InstallmentDue, error)
}

// EntryPublisher is notified after ledger writes. Implementations must not
// block for long; failures are logged by the caller and otherwise ignored.
type EntryPublisher interface {
	PublishEntryCreated(ctx context.Context, e core.LedgerEntry) error
	PublishEntryDeleted(ctx context.Context, userID, entryID int64) error
}

// Store bundles every port; both storage adapters satisfy it.
type Store interface {
	LedgerStore
	RuleStore
	DebtStore
}
