package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/storage/memory"
)

var errBoom = errors.New("boom")

func d(y, m, day int) core.Date { return core.NewDate(y, m, day) }

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func clockAt(y, m, day int) core.FixedClock {
	return core.FixedClock{T: time.Date(y, time.Month(m), day, 12, 0, 0, 0, time.UTC)}
}

func monthlyRule(userID int64, amt string, start core.Date) core.RecurrenceRule {
	return core.RecurrenceRule{
		UserID:      userID,
		Kind:        core.Expense,
		Amount:      amount(amt),
		Description: "Aluguel",
		Frequency:   core.Monthly,
		StartDate:   start,
		Active:      true,
	}
}

func createRule(ctx context.Context, s *memory.Store, r core.RecurrenceRule) core.RecurrenceRule {
	id, err := s.CreateRule(ctx, r)
	if err != nil {
		panic(err)
	}
	r.ID = id
	return r
}

func dates(entries []core.LedgerEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Date.String()
	}
	return out
}

// faultyStore wraps the memory store and fails selected calls.
type faultyStore struct {
	*memory.Store
	failExistsFor map[int64]bool
	// hideExisting makes ExistsGenerated report false so the insert hits the
	// uniqueness constraint, as a concurrent executor would.
	hideExisting bool
}

func (f *faultyStore) ExistsGenerated(ctx context.Context, ruleID int64, date core.Date) (bool, error) {
	if f.failExistsFor[ruleID] {
		return false, core.NewStorageError("exists generated", errBoom)
	}
	if f.hideExisting {
		return false, nil
	}
	return f.Store.ExistsGenerated(ctx, ruleID, date)
}

func (f *faultyStore) LastGeneratedDate(ctx context.Context, ruleID int64) (core.Date, bool, error) {
	if f.hideExisting {
		return core.Date{}, false, nil
	}
	return f.Store.LastGeneratedDate(ctx, ruleID)
}

// recordingPublisher collects published messages.
type recordingPublisher struct {
	mu      sync.Mutex
	created []int64
	deleted []int64
	err     error
}

func (p *recordingPublisher) PublishEntryCreated(_ context.Context, e core.LedgerEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e.ID)
	return p.err
}

func (p *recordingPublisher) PublishEntryDeleted(_ context.Context, _ int64, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, id)
	return p.err
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
