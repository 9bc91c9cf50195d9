package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// DefaultPreviewLimit caps the forecast list shown to the user.
const DefaultPreviewLimit = 3

type ForecastSource string

const (
	SourceRule        ForecastSource = "rule"
	SourceInstallment ForecastSource = "installment"
)

// ForecastEntry is a not-yet-posted ledger entry expected in the month.
type ForecastEntry struct {
	Date          core.Date       `json:"date"`
	Kind          core.Kind       `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	CategoryID    *int64          `json:"category_id,omitempty"`
	Recurring     bool            `json:"recurring"`
	Source        ForecastSource  `json:"source"`
	RuleID        *int64          `json:"rule_id,omitempty"`
	DebtID        *int64          `json:"debt_id,omitempty"`
	InstallmentID *int64          `json:"installment_id,omitempty"`
}

type Projection struct {
	Month   core.YearMonth  `json:"-"`
	Entries []ForecastEntry `json:"entries"`
	Omitted int             `json:"omitted"`
}

// Projector computes month previews. It only reads from its stores.
type Projector struct {
	ledger LedgerStore
	rules  RuleStore
	debts  DebtStore
	limit  int
}

// NewProjector creates a projector capping previews at limit entries
// (limit <= 0 disables the cap).
func NewProjector(ledger LedgerStore, rules RuleStore, debts DebtStore, limit int) *Projector {
	return &Projector{ledger: ledger, rules: rules, debts: debts, limit: limit}
}

type legacyKey struct {
	date, desc, amount string
	kind               core.Kind
}

type linkedKey struct {
	ruleID int64
	date   string
}

// Preview returns the entries expected in month that have not been posted
// yet: rule occurrences after the rule's last materialized date that have no
// entry, and pending installments of debts without an active conversion rule.
func (p *Projector) Preview(ctx context.Context, userID int64, month core.YearMonth) (Projection, error) {
	from, to := month.Start(), month.End()
	proj := Projection{Month: month, Entries: []ForecastEntry{}}

	posted, err := p.ledger.ListEntries(ctx, userID, from, to)
	if err != nil {
		return proj, fmt.Errorf("list entries for %s: %w", month, err)
	}
	linked := make(map[linkedKey]bool)
	legacy := make(map[legacyKey]bool)
	for _, e := range posted {
		switch {
		case e.RuleID != nil:
			linked[linkedKey{*e.RuleID, e.Date.String()}] = true
		case e.Origin == core.OriginLegacy:
			legacy[legacyKey{e.Date.String(), e.Description, e.Amount.StringFixed(core.AmountPlaces), e.Kind}] = true
		}
	}

	rules, err := p.rules.ListActiveRules(ctx, userID)
	if err != nil {
		return proj, fmt.Errorf("list active rules: %w", err)
	}
	activeRules := make(map[int64]bool, len(rules))
	for _, rule := range rules {
		activeRules[rule.ID] = true
		if rule.StartDate.After(to) || (rule.EndDate != nil && rule.EndDate.Before(from)) {
			continue
		}
		// Execute never goes back before its anchor, so neither does the
		// forecast.
		anchor, hasAnchor, err := p.ledger.LastGeneratedDate(ctx, rule.ID)
		if err != nil {
			return proj, fmt.Errorf("last generated date of rule %d: %w", rule.ID, err)
		}
		if hasAnchor && !anchor.Before(to) {
			continue
		}
		dates, err := occurrencesBetween(rule, from, to)
		if err != nil {
			slog.WarnContext(ctx, "Skipping rule in preview",
				log.FieldComponent, log.ComponentProjection,
				log.FieldRuleID, rule.ID,
				log.FieldError, err)
			continue
		}
		for _, d := range dates {
			if hasAnchor && !d.After(anchor) {
				continue
			}
			if linked[linkedKey{rule.ID, d.String()}] {
				continue
			}
			if legacy[legacyKey{d.String(), rule.Description, rule.Amount.StringFixed(core.AmountPlaces), rule.Kind}] {
				continue
			}
			ruleID := rule.ID
			proj.Entries = append(proj.Entries, ForecastEntry{
				Date:        d,
				Kind:        rule.Kind,
				Amount:      rule.Amount,
				Description: rule.Description,
				CategoryID:  rule.CategoryID,
				Recurring:   true,
				Source:      SourceRule,
				RuleID:      &ruleID,
			})
		}
	}

	dues, err := p.debts.ListPendingInstallments(ctx, userID, from, to)
	if err != nil {
		return proj, fmt.Errorf("list pending installments: %w", err)
	}
	for _, due := range dues {
		// An active conversion rule already forecasts the remaining
		// installments.
		if due.LinkedRuleID != nil && activeRules[*due.LinkedRuleID] {
			continue
		}
		debtID, installmentID := due.DebtID, due.ID
		proj.Entries = append(proj.Entries, ForecastEntry{
			Date:          due.DueDate,
			Kind:          core.Expense,
			Amount:        due.Amount,
			Description:   fmt.Sprintf("%s (%d/%d)", due.DebtName, due.Number, due.DebtCount),
			CategoryID:    due.CategoryID,
			Recurring:     false,
			Source:        SourceInstallment,
			DebtID:        &debtID,
			InstallmentID: &installmentID,
		})
	}

	sort.SliceStable(proj.Entries, func(i, j int) bool {
		a, b := proj.Entries[i], proj.Entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Description != b.Description {
			return a.Description < b.Description
		}
		return a.Source < b.Source
	})
	if p.limit > 0 && len(proj.Entries) > p.limit {
		proj.Omitted = len(proj.Entries) - p.limit
		proj.Entries = proj.Entries[:p.limit]
	}
	return proj, nil
}

// occurrencesBetween lists the rule's occurrences inside [from, to], aligned
// to the rule's start date and bounded by its end date.
func occurrencesBetween(rule core.RecurrenceRule, from, to core.Date) ([]core.Date, error) {
	lo := core.MaxDate(rule.StartDate, from)
	hi := to
	if rule.EndDate != nil {
		hi = core.MinDate(hi, *rule.EndDate)
	}
	k, err := core.FirstIndexOnOrAfter(rule.StartDate, rule.Frequency, lo)
	if err != nil {
		return nil, err
	}
	var out []core.Date
	for ; ; k++ {
		d, err := core.Occurrence(rule.StartDate, rule.Frequency, k)
		if err != nil {
			return nil, err
		}
		if d.After(hi) {
			return out, nil
		}
		out = append(out, d)
	}
}
