package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// DefaultRuleConcurrency bounds how many rules a batch executes in parallel.
const DefaultRuleConcurrency = 4

// ExecutionResult is the outcome of materializing one rule.
type ExecutionResult struct {
	RuleID  int64              `json:"rule_id"`
	Created []core.LedgerEntry `json:"created"`
	Skipped int                `json:"skipped"`
}

// RuleError records a rule whose execution failed inside a batch.
type RuleError struct {
	RuleID int64 `json:"rule_id"`
	Err    error `json:"-"`
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.RuleID, e.Err)
}

func (e RuleError) Unwrap() error { return e.Err }

// BatchResult is the partial result of executing every active rule of a user.
type BatchResult struct {
	UserID  int64             `json:"user_id"`
	AsOf    core.Date         `json:"as_of"`
	Results []ExecutionResult `json:"results"`
	Errors  []RuleError       `json:"-"`
}

func (b BatchResult) CreatedCount() int {
	n := 0
	for _, r := range b.Results {
		n += len(r.Created)
	}
	return n
}

func (b BatchResult) SkippedCount() int {
	n := 0
	for _, r := range b.Results {
		n += r.Skipped
	}
	return n
}

func (b BatchResult) FailedCount() int { return len(b.Errors) }

// RecurringProcessor materializes ledger entries from recurrence rules.
type RecurringProcessor struct {
	ledger      LedgerStore
	rules       RuleStore
	clock       core.Clock
	publisher   EntryPublisher
	concurrency int
}

// NewRecurringProcessor creates a new recurring processor. publisher may be nil.
func NewRecurringProcessor(ledger LedgerStore, rules RuleStore, clock core.Clock, publisher EntryPublisher) *RecurringProcessor {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &RecurringProcessor{
		ledger:      ledger,
		rules:       rules,
		clock:       clock,
		publisher:   publisher,
		concurrency: DefaultRuleConcurrency,
	}
}

// SetConcurrency changes the number of rules executed in parallel by
// ExecutePending. Values below 1 are ignored.
func (p *RecurringProcessor) SetConcurrency(n int) {
	if n >= 1 {
		p.concurrency = n
	}
}

// Execute materializes every occurrence of rule dated on or before asOf that
// has no generated entry yet. It is safe to call repeatedly and concurrently
// for the same rule: occurrences up to the last materialized date are never
// revisited and a lost insert race is counted as a skip.
func (p *RecurringProcessor) Execute(ctx context.Context, rule core.RecurrenceRule, asOf core.Date) (ExecutionResult, error) {
	res := ExecutionResult{RuleID: rule.ID, Created: []core.LedgerEntry{}}
	if !rule.Active {
		return res, nil
	}
	if !rule.Frequency.Valid() {
		return res, fmt.Errorf("rule %d: %w: %q", rule.ID, core.ErrInvalidFrequency, string(rule.Frequency))
	}

	anchor, hasAnchor, err := p.ledger.LastGeneratedDate(ctx, rule.ID)
	if err != nil {
		return res, fmt.Errorf("last generated date for rule %d: %w", rule.ID, err)
	}

	for k := 0; ; k++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d, err := core.Occurrence(rule.StartDate, rule.Frequency, k)
		if err != nil {
			return res, err
		}
		if d.After(asOf) || (rule.EndDate != nil && d.After(*rule.EndDate)) {
			break
		}
		if hasAnchor && !d.After(anchor) {
			res.Skipped++
			continue
		}

		exists, err := p.ledger.ExistsGenerated(ctx, rule.ID, d)
		if err != nil {
			return res, fmt.Errorf("check entry for rule %d on %s: %w", rule.ID, d, err)
		}
		if exists {
			res.Skipped++
			continue
		}

		entry := entryFromRule(rule, d)
		id, err := p.ledger.InsertGenerated(ctx, entry)
		if errors.Is(err, core.ErrDuplicateEntry) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("insert entry for rule %d on %s: %w", rule.ID, d, err)
		}
		entry.ID = id
		res.Created = append(res.Created, entry)
		p.publishCreated(ctx, entry)
	}

	if len(res.Created) > 0 {
		fields := log.NewFields().
			WithComponent(log.ComponentRecurring).
			WithRule(rule.UserID, rule.ID, string(rule.Frequency))
		fields[log.FieldCreated] = len(res.Created)
		fields[log.FieldSkipped] = res.Skipped
		fields[log.FieldAsOf] = asOf.String()
		slog.InfoContext(ctx, "Materialized recurring entries", fields.ToSlice()...)
	}
	return res, nil
}

// ExecutePending runs Execute for every active rule of the user as of the
// clock's today. One rule failing does not stop the others; failures are
// reported in BatchResult.Errors.
func (p *RecurringProcessor) ExecutePending(ctx context.Context, userID int64) (BatchResult, error) {
	asOf := core.Today(p.clock)
	batch := BatchResult{UserID: userID, AsOf: asOf, Results: []ExecutionResult{}}

	rules, err := p.rules.ListActiveRules(ctx, userID)
	if err != nil {
		return batch, fmt.Errorf("list active rules for user %d: %w", userID, err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, rule := range rules {
		g.Go(func() error {
			res, err := p.Execute(gctx, rule, asOf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.ErrorContext(ctx, "Recurring rule execution failed",
					log.FieldComponent, log.ComponentRecurring,
					log.FieldRuleID, rule.ID,
					log.FieldUserID, userID,
					log.FieldError, err)
				batch.Errors = append(batch.Errors, RuleError{RuleID: rule.ID, Err: err})
				if len(res.Created) == 0 {
					return nil
				}
			}
			batch.Results = append(batch.Results, res)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(batch.Results, func(i, j int) bool { return batch.Results[i].RuleID < batch.Results[j].RuleID })
	sort.Slice(batch.Errors, func(i, j int) bool { return batch.Errors[i].RuleID < batch.Errors[j].RuleID })

	slog.InfoContext(ctx, "Recurring execution complete",
		log.FieldComponent, log.ComponentRecurring,
		log.FieldUserID, userID,
		"rules", len(rules),
		log.FieldCreated, batch.CreatedCount(),
		log.FieldSkipped, batch.SkippedCount(),
		log.FieldFailed, batch.FailedCount())
	return batch, nil
}

// ProcessAllUsers runs ExecutePending for every user owning an active rule.
// Users are processed one after another; a user whose rules cannot be listed
// is logged and skipped.
func (p *RecurringProcessor) ProcessAllUsers(ctx context.Context) ([]BatchResult, error) {
	users, err := p.rules.ListUsersWithActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users with active rules: %w", err)
	}
	out := make([]BatchResult, 0, len(users))
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		batch, err := p.ExecutePending(ctx, userID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to execute pending rules for user",
				log.FieldComponent, log.ComponentRecurring,
				log.FieldUserID, userID,
				log.FieldError, err)
			continue
		}
		out = append(out, batch)
	}
	return out, nil
}

func (p *RecurringProcessor) publishCreated(ctx context.Context, e core.LedgerEntry) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishEntryCreated(ctx, e); err != nil {
		slog.WarnContext(ctx, "Failed to publish entry created message",
			log.FieldComponent, log.ComponentRecurring,
			log.FieldEntryID, e.ID,
			log.FieldError, err)
	}
}

func entryFromRule(rule core.RecurrenceRule, d core.Date) core.LedgerEntry {
	ruleID := rule.ID
	return core.LedgerEntry{
		UserID:      rule.UserID,
		Kind:        rule.Kind,
		Amount:      rule.Amount,
		Description: rule.Description,
		Date:        d,
		CategoryID:  rule.CategoryID,
		Origin:      core.OriginGenerated,
		RuleID:      &ruleID,
	}
}
