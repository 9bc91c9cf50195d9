package http

import (
	"net/http"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	month, err := parseMonthParam(r, s.today())
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	entries, err := s.svc.Ledger.ListEntries(r.Context(), userID, month)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(entryViews(entries)).Write(w)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	e, err := s.svc.Ledger.CreateEntry(r.Context(), userID, req.toEntry())
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().
		Status(http.StatusCreated).
		Body(entryView(e)).
		Write(w)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
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
	if err := s.svc.Ledger.DeleteEntry(r.Context(), userID, id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	s.invalidatePreviews(r.Context(), userID)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
