package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(core.AmountPlaces)
}

type ruleJSON struct {
	ID          int64          `json:"id"`
	Kind        core.Kind      `json:"kind"`
	Amount      string         `json:"amount"`
	Description string         `json:"description"`
	Frequency   core.Frequency `json:"frequency"`
	StartDate   core.Date      `json:"start_date"`
	EndDate     *core.Date     `json:"end_date,omitempty"`
	Active      bool           `json:"active"`
	CategoryID  *int64         `json:"category_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func ruleView(r core.RecurrenceRule) ruleJSON {
	return ruleJSON{
		ID:          r.ID,
		Kind:        r.Kind,
		Amount:      money(r.Amount),
		Description: r.Description,
		Frequency:   r.Frequency,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		Active:      r.Active,
		CategoryID:  r.CategoryID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type entryJSON struct {
	ID          int64       `json:"id"`
	Kind        core.Kind   `json:"kind"`
	Amount      string      `json:"amount"`
	Description string      `json:"description"`
	Date        core.Date   `json:"date"`
	CategoryID  *int64      `json:"category_id,omitempty"`
	Origin      core.Origin `json:"origin"`
	RuleID      *int64      `json:"rule_id,omitempty"`
}

func entryView(e core.LedgerEntry) entryJSON {
	return entryJSON{
		ID:          e.ID,
		Kind:        e.Kind,
		Amount:      money(e.Amount),
		Description: e.Description,
		Date:        e.Date,
		CategoryID:  e.CategoryID,
		Origin:      e.Origin,
		RuleID:      e.RuleID,
	}
}

func entryViews(in []core.LedgerEntry) []entryJSON {
	out := make([]entryJSON, len(in))
	for i, e := range in {
		out[i] = entryView(e)
	}
	return out
}

type debtJSON struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	TotalAmount       string          `json:"total_amount"`
	InstallmentAmount string          `json:"installment_amount"`
	InstallmentCount  int             `json:"installment_count"`
	FirstDueDate      core.Date       `json:"first_due_date"`
	Status            core.DebtStatus `json:"status"`
	CategoryID        *int64          `json:"category_id,omitempty"`
	LinkedRuleID      *int64          `json:"linked_rule_id,omitempty"`
}

func debtView(d core.Debt) debtJSON {
	return debtJSON{
		ID:                d.ID,
		Name:              d.Name,
		TotalAmount:       money(d.TotalAmount),
		InstallmentAmount: money(d.InstallmentAmount),
		InstallmentCount:  d.InstallmentCount,
		FirstDueDate:      d.FirstDueDate,
		Status:            d.Status,
		CategoryID:        d.CategoryID,
		LinkedRuleID:      d.LinkedRuleID,
	}
}

type installmentJSON struct {
	ID      int64                  `json:"id"`
	Number  int                    `json:"number"`
	Amount  string                 `json:"amount"`
	DueDate core.Date              `json:"due_date"`
	Status  core.InstallmentStatus `json:"status"`
	PaidAt  *core.Date             `json:"paid_at,omitempty"`
}

type debtDetailJSON struct {
	debtJSON
	Installments    []installmentJSON `json:"installments"`
	PendingCount    int               `json:"pending_count"`
	PaidAmount      string            `json:"paid_amount"`
	RemainingAmount string            `json:"remaining_amount"`
}

func debtDetailView(v services.DebtView) debtDetailJSON {
	out := debtDetailJSON{
		debtJSON:        debtView(v.Debt),
		Installments:    make([]installmentJSON, len(v.Installments)),
		PendingCount:    v.PendingCount,
		PaidAmount:      money(v.PaidAmount),
		RemainingAmount: money(v.RemainingAmount),
	}
	for i, it := range v.Installments {
		out.Installments[i] = installmentJSON{
			ID:      it.ID,
			Number:  it.Number,
			Amount:  money(it.Amount),
			DueDate: it.DueDate,
			Status:  it.DisplayStatus,
			PaidAt:  it.PaidAt,
		}
	}
	return out
}

type ruleFailureJSON struct {
	RuleID int64  `json:"rule_id"`
	Error  string `json:"error"`
}

type batchJSON struct {
	UserID  int64             `json:"user_id"`
	AsOf    core.Date         `json:"as_of"`
	Created []entryJSON       `json:"created"`
	Skipped int               `json:"skipped"`
	Failed  []ruleFailureJSON `json:"failed"`
}

func batchView(b services.BatchResult) batchJSON {
	out := batchJSON{
		UserID:  b.UserID,
		AsOf:    b.AsOf,
		Created: []entryJSON{},
		Skipped: b.SkippedCount(),
		Failed:  make([]ruleFailureJSON, len(b.Errors)),
	}
	for _, r := range b.Results {
		out.Created = append(out.Created, entryViews(r.Created)...)
	}
	for i, e := range b.Errors {
		out.Failed[i] = ruleFailureJSON{RuleID: e.RuleID, Error: FromError(e.Err).message()}
	}
	return out
}

type forecastJSON struct {
	Date          core.Date               `json:"date"`
	Kind          core.Kind               `json:"kind"`
	Amount        string                  `json:"amount"`
	Description   string                  `json:"description"`
	CategoryID    *int64                  `json:"category_id,omitempty"`
	Recurring     bool                    `json:"recurring"`
	Source        services.ForecastSource `json:"source"`
	RuleID        *int64                  `json:"rule_id,omitempty"`
	DebtID        *int64                  `json:"debt_id,omitempty"`
	InstallmentID *int64                  `json:"installment_id,omitempty"`
}

type previewJSON struct {
	Month   string         `json:"month"`
	Entries []forecastJSON `json:"entries"`
	Omitted int            `json:"omitted"`
}

func previewView(p services.Projection) previewJSON {
	out := previewJSON{
		Month:   p.Month.String(),
		Entries: make([]forecastJSON, len(p.Entries)),
		Omitted: p.Omitted,
	}
	for i, e := range p.Entries {
		out.Entries[i] = forecastJSON{
			Date:          e.Date,
			Kind:          e.Kind,
			Amount:        money(e.Amount),
			Description:   e.Description,
			CategoryID:    e.CategoryID,
			Recurring:     e.Recurring,
			Source:        e.Source,
			RuleID:        e.RuleID,
			DebtID:        e.DebtID,
			InstallmentID: e.InstallmentID,
		}
	}
	return out
}
