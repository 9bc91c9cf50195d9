package http

import (
	"net/http"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// handleExecute materializes every pending occurrence of the caller's active
// rules. Per-rule failures are reported in the body next to what succeeded.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpExecute, err)
		return
	}

	batch, err := s.svc.Recurring.ExecutePending(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, log.OpExecute, err)
		return
	}
	if batch.CreatedCount() > 0 {
		s.invalidatePreviews(r.Context(), userID)
	}

	status := http.StatusOK
	if batch.FailedCount() > 0 {
		status = http.StatusMultiStatus
	}
	NewJSONResponse().Status(status).Body(batchView(batch)).Write(w)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		s.writeError(w, r, log.OpPreview, err)
		return
	}
	month, err := parseMonthParam(r, s.today())
	if err != nil {
		s.writeError(w, r, log.OpPreview, err)
		return
	}

	p, err := s.preview(r.Context(), userID, month)
	if err != nil {
		s.writeError(w, r, log.OpPreview, err)
		return
	}
	NewJSONResponse().Body(previewView(p)).Write(w)
}
