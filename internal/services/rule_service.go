package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// RuleService manages recurrence rules.
type RuleService struct {
	rules  RuleStore
	ledger LedgerStore
}

func NewRuleService(rules RuleStore, ledger LedgerStore) *RuleService {
	return &RuleService{rules: rules, ledger: ledger}
}

func normalizeRule(r *core.RecurrenceRule) {
	r.Description = strings.TrimSpace(r.Description)
	r.Amount = core.RoundAmount(r.Amount)
}

func (s *RuleService) Create(ctx context.Context, userID int64, r core.RecurrenceRule) (core.RecurrenceRule, error) {
	r.UserID = userID
	normalizeRule(&r)
	if err := r.Validate(); err != nil {
		return core.RecurrenceRule{}, err
	}
	id, err := s.rules.CreateRule(ctx, r)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("create rule: %w", err)
	}
	slog.InfoContext(ctx, "Recurrence rule created",
		log.FieldComponent, log.ComponentRecurring,
		log.FieldUserID, userID,
		log.FieldRuleID, id,
		log.FieldFrequency, r.Frequency)
	return s.rules.GetRule(ctx, id)
}

// Update replaces the editable fields of a rule. Entries already
// materialized are left as they are.
func (s *RuleService) Update(ctx context.Context, userID int64, r core.RecurrenceRule) (core.RecurrenceRule, error) {
	current, err := s.Get(ctx, userID, r.ID)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	r.UserID = current.UserID
	normalizeRule(&r)
	if err := r.Validate(); err != nil {
		return core.RecurrenceRule{}, err
	}
	if err := s.rules.UpdateRule(ctx, r); err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("update rule %d: %w", r.ID, err)
	}
	return s.rules.GetRule(ctx, r.ID)
}

func (s *RuleService) SetActive(ctx context.Context, userID, id int64, active bool) (core.RecurrenceRule, error) {
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	r.Active = active
	if err := s.rules.UpdateRule(ctx, r); err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("update rule %d: %w", id, err)
	}
	return s.rules.GetRule(ctx, id)
}

func (s *RuleService) Get(ctx context.Context, userID, id int64) (core.RecurrenceRule, error) {
	r, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	if r.UserID != userID {
		return core.RecurrenceRule{}, fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	return r, nil
}

func (s *RuleService) List(ctx context.Context, userID int64) ([]core.RecurrenceRule, error) {
	rules, err := s.rules.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// Delete removes a rule that never produced an entry. Rules with entries
// must be deactivated instead.
func (s *RuleService) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	n, err := s.ledger.CountGenerated(ctx, id)
	if err != nil {
		return fmt.Errorf("count entries of rule %d: %w", id, err)
	}
	if n > 0 {
		return fmt.Errorf("rule %d has %d entries: %w", id, n, core.ErrRuleHasEntries)
	}
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return nil
}
