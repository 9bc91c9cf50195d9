package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
)

func TestUserIDFromRequest(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"42", 42, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set(UserIDHeader, tt.header)
		}
		got, err := userIDFromRequest(r)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("userIDFromRequest(%q) = %d, %v; want %d", tt.header, got, err, tt.want)
			}
			continue
		}
		var reqErr *requestError
		if !errors.As(err, &reqErr) || reqErr.status != http.StatusUnauthorized {
			t.Errorf("userIDFromRequest(%q) error = %v, want 401 request error", tt.header, err)
		}
	}
}

func TestPathID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/rules/12", nil)
	r.SetPathValue("id", "12")
	if id, err := pathID(r, "id"); err != nil || id != 12 {
		t.Fatalf("pathID = %d, %v", id, err)
	}

	r.SetPathValue("id", "0")
	if _, err := pathID(r, "id"); err == nil {
		t.Fatal("expected error for zero id")
	}
	r.SetPathValue("id", "x1")
	if _, err := pathID(r, "id"); err == nil {
		t.Fatal("expected error for non numeric id")
	}
}

func TestParseMonthParam(t *testing.T) {
	today := core.NewDate(2024, 3, 15)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	m, err := parseMonthParam(r, today)
	if err != nil || m.String() != "2024-03" {
		t.Fatalf("default month = %s, %v", m, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/?month=2023-12", nil)
	m, err = parseMonthParam(r, today)
	if err != nil || m.String() != "2023-12" {
		t.Fatalf("month = %s, %v", m, err)
	}

	for _, bad := range []string{"2023-13", "12-2023", "2023"} {
		r = httptest.NewRequest(http.MethodGet, "/?month="+bad, nil)
		if _, err := parseMonthParam(r, today); err == nil {
			t.Errorf("parseMonthParam(%q) expected error", bad)
		}
	}
}

func TestAmountField(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{`12.5`, "12.50", false},
		{`"12,50"`, "12.50", false},
		{`"R$ 1.234,56"`, "1234.56", false},
		{`"1.005"`, "1.01", false},
		{`"0"`, "", true},
		{`"-1"`, "", true},
		{`"abc"`, "", true},
		{`-4`, "", true},
	}
	for _, tt := range tests {
		var a amountField
		err := json.Unmarshal([]byte(tt.in), &a)
		if tt.err {
			if !errors.Is(err, core.ErrInvalidAmount) {
				t.Errorf("amount %s: error = %v, want ErrInvalidAmount", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("amount %s: unexpected error %v", tt.in, err)
			continue
		}
		if got := a.StringFixed(2); got != tt.want {
			t.Errorf("amount %s = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	newReq := func(body string) *http.Request {
		return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	}

	var req entryRequest
	if err := decodeJSON(newReq(`{"kind":"Income","amount":"10","description":" Salário\u0001 ","date":"2024-03-05"}`), &req); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	e := req.toEntry()
	if e.Kind != core.Income || e.Description != "Salário" || e.Date.String() != "2024-03-05" {
		t.Errorf("unexpected entry %+v", e)
	}

	var reqErr *requestError
	if err := decodeJSON(newReq(""), &req); !errors.As(err, &reqErr) {
		t.Errorf("empty body: got %v, want request error", err)
	}
	if err := decodeJSON(newReq(`{"kind":"income"} {}`), &req); !errors.As(err, &reqErr) {
		t.Errorf("trailing data: got %v, want request error", err)
	}
	if err := decodeJSON(newReq(`{"amount":"zero"}`), &req); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("bad amount: got %v, want ErrInvalidAmount", err)
	}

	var pay payRequest
	if err := decodeOptionalJSON(newReq(""), &pay); err != nil || pay.PaidAt != nil {
		t.Errorf("optional empty body: %v %+v", err, pay)
	}
}

func TestRuleRequestToRule(t *testing.T) {
	active := false
	end := core.Date{}
	req := ruleRequest{Kind: " EXPENSE ", Frequency: "Weekly", Description: "Feira", EndDate: &end, Active: &active}
	r, err := req.toRule()
	if err != nil {
		t.Fatalf("toRule: %v", err)
	}
	if r.Kind != core.Expense || r.Frequency != core.Weekly || r.Active || r.EndDate != nil {
		t.Errorf("unexpected rule %+v", r)
	}

	req.Frequency = "every-other-tuesday"
	if _, err := req.toRule(); !errors.Is(err, core.ErrInvalidFrequency) {
		t.Errorf("toRule error = %v, want ErrInvalidFrequency", err)
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  a\x00b\tc\n "); got != "ab\tc" {
		t.Errorf("sanitizeInput = %q", got)
	}
}
