// Package http provides HTTP server and handler implementations.
//
// This file implements request decoding: JSON bodies, path and query
// parameters, the caller's user id and the amount format accepted from
// clients.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
)

const (
	// UserIDHeader carries the authenticated user id set by the gateway.
	UserIDHeader = "X-User-ID"

	maxBodyBytes = 1 << 20
)

// requestError is a client error detected before reaching the services.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, code: CodeBadRequest, msg: fmt.Sprintf(format, args...)}
}

// userIDFromRequest reads the caller id. Authentication happens upstream; a
// missing or malformed header means the gateway did not authenticate the
// request.
func userIDFromRequest(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if raw == "" {
		return 0, &requestError{status: http.StatusUnauthorized, code: CodeUnauthenticated, msg: "missing " + UserIDHeader + " header"}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &requestError{status: http.StatusUnauthorized, code: CodeUnauthenticated, msg: "invalid " + UserIDHeader + " header"}
	}
	return id, nil
}

// pathID parses a positive integer path wildcard.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// parseMonthParam reads ?month=YYYY-MM, defaulting to the month of today.
func parseMonthParam(r *http.Request, today core.Date) (core.YearMonth, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("month"))
	if raw == "" {
		return core.MonthOf(today), nil
	}
	m, err := core.ParseYearMonth(raw)
	if err != nil {
		return core.YearMonth{}, badRequest("invalid month %q, expected YYYY-MM", raw)
	}
	return m, nil
}

// decodeJSON decodes the request body into v. Unknown fields are rejected.
func decodeJSON(r *http.Request, v any) error {
	return decode(r, v, false)
}

// decodeOptionalJSON is decodeJSON accepting an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	return decode(r, v, true)
}

func decode(r *http.Request, v any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return badRequest("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return badRequest("request body is required")
		}
		if errors.Is(err, core.ErrInvalidAmount) || errors.Is(err, core.ErrInvalidDate) {
			return err
		}
		return badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return badRequest("invalid JSON body: trailing data")
	}
	return nil
}

// amountField accepts a JSON number or a string in any format understood by
// core.ParseAmount ("1234.56", "1.234,56", "R$ 1.234,56").
type amountField struct {
	decimal.Decimal
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = s
	}
	d, err := core.ParseAmount(raw)
	if err != nil {
		return fmt.Errorf("%w: %q", err, raw)
	}
	a.Decimal = d
	return nil
}

func amounts(in []amountField) []decimal.Decimal {
	if len(in) == 0 {
		return nil
	}
	out := make([]decimal.Decimal, len(in))
	for i, a := range in {
		out[i] = a.Decimal
	}
	return out
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

type ruleRequest struct {
	Kind        string      `json:"kind"`
	Amount      amountField `json:"amount"`
	Description string      `json:"description"`
	Frequency   string      `json:"frequency"`
	StartDate   core.Date   `json:"start_date"`
	EndDate     *core.Date  `json:"end_date"`
	Active      *bool       `json:"active"`
	CategoryID  *int64      `json:"category_id"`
}

// toRule builds the rule. An unknown frequency is reported, never replaced
// by a default.
func (req ruleRequest) toRule() (core.RecurrenceRule, error) {
	freq, err := core.ParseFrequency(req.Frequency)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	r := core.RecurrenceRule{
		Kind:        core.Kind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Amount:      req.Amount.Decimal,
		Description: sanitizeInput(req.Description),
		Frequency:   freq,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Active:      true,
		CategoryID:  req.CategoryID,
	}
	if req.EndDate != nil && req.EndDate.IsZero() {
		r.EndDate = nil
	}
	if req.Active != nil {
		r.Active = *req.Active
	}
	return r, nil
}

type entryRequest struct {
	Kind        string      `json:"kind"`
	Amount      amountField `json:"amount"`
	Description string      `json:"description"`
	Date        core.Date   `json:"date"`
	CategoryID  *int64      `json:"category_id"`
}

func (req entryRequest) toEntry() core.LedgerEntry {
	return core.LedgerEntry{
		Kind:        core.Kind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Amount:      req.Amount.Decimal,
		Description: sanitizeInput(req.Description),
		Date:        req.Date,
		CategoryID:  req.CategoryID,
	}
}

type debtRequest struct {
	Name              string        `json:"name"`
	CategoryID        *int64        `json:"category_id"`
	FirstDueDate      core.Date     `json:"first_due_date"`
	InstallmentCount  int           `json:"installment_count"`
	InstallmentAmount amountField   `json:"installment_amount"`
	CustomAmounts     []amountField `json:"custom_amounts"`
	AlreadyPaid       int           `json:"already_paid"`
}

type installmentPatchRequest struct {
	Amount  *amountField `json:"amount"`
	DueDate *core.Date   `json:"due_date"`
	Status  *string      `json:"status"`
	PaidAt  *core.Date   `json:"paid_at"`
}

type payRequest struct {
	PaidAt *core.Date `json:"paid_at"`
}
