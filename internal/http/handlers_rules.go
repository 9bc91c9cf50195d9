package http

import (
	"net/http"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	rules, err := s.svc.Rules.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	out := make([]ruleJSON, len(rules))
	for i, rule := range rules {
		out[i] = ruleView(rule)
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	rule, err := s.svc.Rules.Get(r.Context(), userID, id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(ruleView(rule)).Write(w)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	rule, err := req.toRule()
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	created, err := s.svc.Rules.Create(r.Context(), userID, rule)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/rules/"+formatID(created.ID)).
		Body(ruleView(created)).
		Write(w)
}

// handleUpdateRule replaces the rule's fields. Omitting "active" keeps the
// current state.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	rule, err := req.toRule()
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	rule.ID = id
	if req.Active == nil {
		current, err := s.svc.Rules.Get(r.Context(), userID, id)
		if err != nil {
			s.writeError(w, r, log.OpUpdate, err)
			return
		}
		rule.Active = current.Active
	}

	updated, err := s.svc.Rules.Update(r.Context(), userID, rule)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().Body(ruleView(updated)).Write(w)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.svc.Rules.Delete(r.Context(), userID, id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
