// Package memory is an in-process implementation of every storage port. It
// keeps the same invariants as the SQLite adapter (unique generated entry per
// rule and date, atomic installment replacement) and backs tests and the
// "memory" data backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
)

type generatedKey struct {
	ruleID int64
	date   string
}

type syncState struct {
	synced bool
	err    string
}

type Store struct {
	mu sync.Mutex

	nextID       int64
	rules        map[int64]core.RecurrenceRule
	entries      map[int64]core.LedgerEntry
	generated    map[generatedKey]int64
	debts        map[int64]core.Debt
	installments map[int64][]core.Installment
	sync         map[int64]syncState

	now func() time.Time
}

func New() *Store {
	return &Store{
		rules:        map[int64]core.RecurrenceRule{},
		entries:      map[int64]core.LedgerEntry{},
		generated:    map[generatedKey]int64{},
		debts:        map[int64]core.Debt{},
		installments: map[int64][]core.Installment{},
		sync:         map[int64]syncState{},
		now:          time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, core.ErrNotFound)
}

// Ledger

func (s *Store) LastGeneratedDate(_ context.Context, ruleID int64) (core.Date, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last core.Date
	found := false
	for _, e := range s.entries {
		if e.RuleIDValue() != ruleID || e.Origin != core.OriginGenerated {
			continue
		}
		if !found || e.Date.After(last) {
			last, found = e.Date, true
		}
	}
	return last, found, nil
}

func (s *Store) ExistsGenerated(_ context.Context, ruleID int64, date core.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.generated[generatedKey{ruleID, date.String()}]
	return ok, nil
}

func (s *Store) InsertGenerated(_ context.Context, e core.LedgerEntry) (int64, error) {
	if e.RuleID == nil {
		return 0, fmt.Errorf("insert generated entry: missing rule id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := generatedKey{*e.RuleID, e.Date.String()}
	if _, ok := s.generated[key]; ok {
		return 0, core.ErrDuplicateEntry
	}
	e.ID = s.id()
	e.Origin = core.OriginGenerated
	e.CreatedAt = s.now()
	s.entries[e.ID] = e
	s.generated[key] = e.ID
	return e.ID, nil
}

func (s *Store) CountGenerated(_ context.Context, ruleID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.RuleIDValue() == ruleID {
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertManual(_ context.Context, e core.LedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	if e.Origin == "" {
		e.Origin = core.OriginManual
	}
	e.RuleID = nil
	e.CreatedAt = s.now()
	s.entries[e.ID] = e
	return e.ID, nil
}

// InsertLegacy stores an entry the way rows imported before rule linkage look:
// legacy origin, no rule id.
func (s *Store) InsertLegacy(ctx context.Context, e core.LedgerEntry) (int64, error) {
	e.Origin = core.OriginLegacy
	return s.InsertManual(ctx, e)
}

func (s *Store) GetEntry(_ context.Context, id int64) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return core.LedgerEntry{}, notFound("entry", id)
	}
	return e, nil
}

func (s *Store) DeleteEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return notFound("entry", id)
	}
	if e.RuleID != nil {
		delete(s.generated, generatedKey{*e.RuleID, e.Date.String()})
	}
	delete(s.entries, id)
	delete(s.sync, id)
	return nil
}

func (s *Store) ListEntries(_ context.Context, userID int64, from, to core.Date) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.entries {
		if e.UserID != userID || e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Sync bookkeeping for the spreadsheet mirror.

func (s *Store) PendingSyncEntries(_ context.Context, limit int) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for id, e := range s.entries {
		if st := s.sync[id]; st.synced || st.err != "" {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkEntrySynced(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return notFound("entry", id)
	}
	s.sync[id] = syncState{synced: true}
	return nil
}

func (s *Store) MarkEntrySyncError(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return notFound("entry", id)
	}
	s.sync[id] = syncState{err: msg}
	return nil
}

// Rules

func (s *Store) ListActiveRules(_ context.Context, userID int64) ([]core.RecurrenceRule, error) {
	return s.listRules(userID, true), nil
}

func (s *Store) ListRules(_ context.Context, userID int64) ([]core.RecurrenceRule, error) {
	return s.listRules(userID, false), nil
}

func (s *Store) listRules(userID int64, activeOnly bool) []core.RecurrenceRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurrenceRule
	for _, r := range s.rules {
		if r.UserID != userID || (activeOnly && !r.Active) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListUsersWithActiveRules(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, r := range s.rules {
		if r.Active && !seen[r.UserID] {
			seen[r.UserID] = true
			out = append(out, r.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) GetRule(_ context.Context, id int64) (core.RecurrenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return core.RecurrenceRule{}, notFound("rule", id)
	}
	return r, nil
}

func (s *Store) CreateRule(_ context.Context, r core.RecurrenceRule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id()
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	s.rules[r.ID] = r
	return r.ID, nil
}

func (s *Store) UpdateRule(_ context.Context, r core.RecurrenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rules[r.ID]
	if !ok {
		return notFound("rule", r.ID)
	}
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = s.now()
	s.rules[r.ID] = r
	return nil
}

func (s *Store) DeleteRule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return notFound("rule", id)
	}
	delete(s.rules, id)
	return nil
}

// Debts

func (s *Store) GetDebt(_ context.Context, id int64) (core.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[id]
	if !ok {
		return core.Debt{}, notFound("debt", id)
	}
	return d, nil
}

func (s *Store) ListDebts(_ context.Context, userID int64) ([]core.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Debt
	for _, d := range s.debts {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateDebt(_ context.Context, d core.Debt, items []core.Installment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id()
	d.CreatedAt = s.now()
	d.UpdatedAt = d.CreatedAt
	s.debts[d.ID] = d
	s.installments[d.ID] = s.assignInstallmentIDs(d.ID, items)
	return d.ID, nil
}

func (s *Store) assignInstallmentIDs(debtID int64, items []core.Installment) []core.Installment {
	out := make([]core.Installment, len(items))
	for i, it := range items {
		if it.ID == 0 {
			it.ID = s.id()
		}
		it.DebtID = debtID
		out[i] = it
	}
	return out
}

func (s *Store) DeleteDebt(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.debts[id]; !ok {
		return notFound("debt", id)
	}
	delete(s.debts, id)
	delete(s.installments, id)
	return nil
}

func (s *Store) ListInstallments(_ context.Context, debtID int64) ([]core.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.debts[debtID]; !ok {
		return nil, notFound("debt", debtID)
	}
	return append([]core.Installment(nil), s.installments[debtID]...), nil
}

// MutateInstallments calls fn with the store lock held; fn must not call
// back into the store.
func (s *Store) MutateInstallments(_ context.Context, debtID int64, fn func(d *core.Debt, items []core.Installment) ([]core.Installment, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.debts[debtID]
	if !ok {
		return notFound("debt", debtID)
	}
	d := old
	items, err := fn(&d, append([]core.Installment(nil), s.installments[debtID]...))
	if err != nil {
		return err
	}
	d.ID = debtID
	d.UserID = old.UserID
	d.CreatedAt = old.CreatedAt
	d.LinkedRuleID = old.LinkedRuleID
	d.UpdatedAt = s.now()
	s.debts[debtID] = d
	s.installments[debtID] = s.assignInstallmentIDs(debtID, items)
	return nil
}

func (s *Store) LinkRule(_ context.Context, debtID, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[debtID]
	if !ok {
		return notFound("debt", debtID)
	}
	if d.LinkedRuleID != nil {
		return core.ErrAlreadyConverted
	}
	d.LinkedRuleID = &ruleID
	d.UpdatedAt = s.now()
	s.debts[debtID] = d
	return nil
}

func (s *Store) UnlinkRule(_ context.Context, debtID, ruleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debts[debtID]
	if !ok {
		return notFound("debt", debtID)
	}
	if d.LinkedRuleID == nil || *d.LinkedRuleID != ruleID {
		return nil
	}
	d.LinkedRuleID = nil
	d.UpdatedAt = s.now()
	s.debts[debtID] = d
	return nil
}

func (s *Store) ListPendingInstallments(_ context.Context, userID int64, from, to core.Date) ([]core.InstallmentDue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.InstallmentDue
	for debtID, items := range s.installments {
		d := s.debts[debtID]
		if d.UserID != userID {
			continue
		}
		for _, it := range items {
			if it.Status != core.InstallmentPending || it.DueDate.Before(from) || it.DueDate.After(to) {
				continue
			}
			out = append(out, core.InstallmentDue{
				Installment:  it,
				UserID:       d.UserID,
				DebtName:     d.Name,
				DebtCount:    d.InstallmentCount,
				CategoryID:   d.CategoryID,
				LinkedRuleID: d.LinkedRuleID,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Ping reports readiness; the in-memory store is always ready.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
