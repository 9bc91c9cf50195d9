package http

import (
	"net/http"
	"strings"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
)

func (req debtRequest) toPlan() services.DebtPlan {
	return services.DebtPlan{
		Name:              sanitizeInput(req.Name),
		CategoryID:        req.CategoryID,
		FirstDueDate:      req.FirstDueDate,
		InstallmentCount:  req.InstallmentCount,
		InstallmentAmount: req.InstallmentAmount.Decimal,
		CustomAmounts:     amounts(req.CustomAmounts),
		AlreadyPaid:       req.AlreadyPaid,
	}
}

func (req installmentPatchRequest) toPatch() services.InstallmentPatch {
	patch := services.InstallmentPatch{DueDate: req.DueDate, PaidAt: req.PaidAt}
	if req.Amount != nil {
		a := req.Amount.Decimal
		patch.Amount = &a
	}
	if req.Status != nil {
		st := core.InstallmentStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		patch.Status = &st
	}
	return patch
}

// debtIDs reads the caller and the debt id, plus the installment id when
// withInstallment is set.
func debtIDs(r *http.Request, withInstallment bool) (userID, debtID, installmentID int64, err error) {
	if userID, err = userIDFromRequest(r); err != nil {
		return
	}
	if debtID, err = pathID(r, "id"); err != nil {
		return
	}
	if withInstallment {
		installmentID, err = pathID(r, "iid")
	}
	return
}

func (s *Server) handleListDebts(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	debts, err := s.svc.Debts.ListDebts(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	out := make([]debtJSON, len(debts))
	for i, d := range debts {
		out[i] = debtView(d)
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleCreateDebt(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req debtRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	view, err := s.svc.Debts.CreateDebt(r.Context(), userID, req.toPlan())
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/debts/"+formatID(view.Debt.ID)).
		Body(debtDetailView(view)).
		Write(w)
}

func (s *Server) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	userID, debtID, _, err := debtIDs(r, false)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	view, err := s.svc.Debts.GetDebt(r.Context(), userID, debtID)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(debtDetailView(view)).Write(w)
}

// handleEditDebt regenerates every installment from the submitted plan.
func (s *Server) handleEditDebt(w http.ResponseWriter, r *http.Request) {
	userID, debtID, _, err := debtIDs(r, false)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	var req debtRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	view, err := s.svc.Debts.EditDebt(r.Context(), userID, debtID, req.toPlan())
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().Body(debtDetailView(view)).Write(w)
}

func (s *Server) handleDeleteDebt(w http.ResponseWriter, r *http.Request) {
	userID, debtID, _, err := debtIDs(r, false)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.svc.Debts.DeleteDebt(r.Context(), userID, debtID); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleEditInstallment(w http.ResponseWriter, r *http.Request) {
	userID, debtID, installmentID, err := debtIDs(r, true)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	var req installmentPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	view, err := s.svc.Debts.EditInstallment(r.Context(), userID, debtID, installmentID, req.toPatch())
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().Body(debtDetailView(view)).Write(w)
}

func (s *Server) handlePayInstallment(w http.ResponseWriter, r *http.Request) {
	userID, debtID, installmentID, err := debtIDs(r, true)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	var req payRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	view, err := s.svc.Debts.MarkInstallmentPaid(r.Context(), userID, debtID, installmentID, req.PaidAt)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().Body(debtDetailView(view)).Write(w)
}

func (s *Server) handleDeleteInstallment(w http.ResponseWriter, r *http.Request) {
	userID, debtID, installmentID, err := debtIDs(r, true)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	view, err := s.svc.Debts.DeleteInstallment(r.Context(), userID, debtID, installmentID)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().Body(debtDetailView(view)).Write(w)
}

// handleConvertDebt turns the debt's pending installments into a monthly
// expense rule and returns the new rule.
func (s *Server) handleConvertDebt(w http.ResponseWriter, r *http.Request) {
	userID, debtID, _, err := debtIDs(r, false)
	if err != nil {
		s.writeError(w, r, log.OpConvert, err)
		return
	}
	rule, err := s.svc.Debts.ConvertToRecurring(r.Context(), userID, debtID)
	if err != nil {
		s.writeError(w, r, log.OpConvert, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/rules/"+formatID(rule.ID)).
		Body(ruleView(rule)).
		Write(w)
}
