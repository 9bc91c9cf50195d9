package http

import (
	"context"
	"strconv"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// previewPrefix is shared by every cached preview of the user.
func previewPrefix(userID int64) string {
	return formatID(userID) + ":"
}

func previewKey(userID int64, month core.YearMonth) string {
	return previewPrefix(userID) + month.String()
}

// invalidatePreviews drops the user's cached previews after a write.
func (s *Server) invalidatePreviews(ctx context.Context, userID int64) {
	if n := s.previews.DeletePrefix(previewPrefix(userID)); n > 0 {
		log.FromContext(ctx).DebugContext(ctx, "Preview cache invalidated",
			log.FieldComponent, log.ComponentCache,
			log.FieldUserID, userID,
			"entries", n)
	}
}

// preview returns the cached projection of month or computes and caches it.
func (s *Server) preview(ctx context.Context, userID int64, month core.YearMonth) (services.Projection, error) {
	key := previewKey(userID, month)
	if p, ok := s.previews.Get(key); ok {
		return p, nil
	}
	p, err := s.svc.Projector.Preview(ctx, userID, month)
	if err != nil {
		return services.Projection{}, err
	}
	s.previews.Set(key, p)
	return p, nil
}
