package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/cache"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/middleware/ratelimit"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/middleware/security"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/middleware/trace"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
)

const (
	defaultPreviewTTL       = time.Minute
	defaultPreviewCacheSize = 500
	cacheCleanupInterval    = 10 * time.Minute
	readyTimeout            = 2 * time.Second
)

// Services groups the application services the handlers call.
type Services struct {
	Rules     *services.RuleService
	Recurring *services.RecurringProcessor
	Projector *services.Projector
	Debts     *services.DebtService
	Ledger    *services.LedgerService
}

// Options configures NewServer. Zero values select defaults.
type Options struct {
	Addr   string
	Clock  core.Clock
	Logger *log.Logger
	// Ready reports whether dependencies (storage) can serve requests.
	Ready func(ctx context.Context) error

	RateLimit        ratelimit.Config
	PreviewTTL       time.Duration
	PreviewCacheSize int
}

type Server struct {
	http.Server

	svc    Services
	clock  core.Clock
	ready  func(ctx context.Context) error
	logger *log.Logger

	// Previews are cached per user and month; any write by the user drops
	// all of that user's entries.
	previews *cache.LRUCache[services.Projection]
	caches   *cache.Manager

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. Call Shutdown to stop its background cleanup.
func NewServer(opts Options, svc Services) *Server {
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.PreviewTTL <= 0 {
		opts.PreviewTTL = defaultPreviewTTL
	}
	if opts.PreviewCacheSize <= 0 {
		opts.PreviewCacheSize = defaultPreviewCacheSize
	}

	s := &Server{
		svc:      svc,
		clock:    opts.Clock,
		ready:    opts.Ready,
		logger:   opts.Logger.WithComponent(log.ComponentHTTP),
		previews: cache.NewLRUCache[services.Projection](opts.PreviewCacheSize, opts.PreviewTTL),
		caches:   cache.NewManager(),
		limiter:  ratelimit.NewLimiter(opts.RateLimit),
		detector: security.NewDetector(),
	}
	s.tracer = trace.NewMiddleware(opts.Logger, s.detector.ExtractClientIP)
	s.caches.Register(s.previews)
	s.caches.StartCleanup(cacheCleanupInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/recurring/execute", s.handleExecute)
	mux.HandleFunc("GET /api/recurring/preview", s.handlePreview)

	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleCreateRule)
	mux.HandleFunc("GET /api/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /api/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", s.handleDeleteRule)

	mux.HandleFunc("GET /api/debts", s.handleListDebts)
	mux.HandleFunc("POST /api/debts", s.handleCreateDebt)
	mux.HandleFunc("GET /api/debts/{id}", s.handleGetDebt)
	mux.HandleFunc("PUT /api/debts/{id}", s.handleEditDebt)
	mux.HandleFunc("DELETE /api/debts/{id}", s.handleDeleteDebt)
	mux.HandleFunc("PATCH /api/debts/{id}/installments/{iid}", s.handleEditInstallment)
	mux.HandleFunc("DELETE /api/debts/{id}/installments/{iid}", s.handleDeleteInstallment)
	mux.HandleFunc("POST /api/debts/{id}/installments/{iid}/pay", s.handlePayInstallment)
	mux.HandleFunc("POST /api/debts/{id}/convert", s.handleConvertDebt)

	mux.HandleFunc("GET /api/entries", s.handleListEntries)
	mux.HandleFunc("POST /api/entries", s.handleCreateEntry)
	mux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var h http.Handler = s.limitWrites(mux)
	h = headers.Middleware(h)
	h = s.detector.Middleware(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// limitWrites applies the rate limiter to requests that change state.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	limited := s.limiter.Middleware(s.rateKey, s.onRateLimit)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})
}

// rateKey limits authenticated callers per user and the rest per client IP.
func (s *Server) rateKey(r *http.Request) string {
	if id, err := userIDFromRequest(r); err == nil {
		return "user:" + formatID(id)
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.FromContext(ctx).WithComponent(log.ComponentRateLimit).WarnContext(ctx, "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, try again later").Write(w)
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
		if errors.Is(shutdownErr, http.ErrServerClosed) {
			shutdownErr = nil
		}
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, CodeNotReady, "storage not ready").Write(w)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// writeError maps err to its response and logs server-side failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := FromError(err)
	if resp.StatusCode() >= http.StatusInternalServerError {
		ctx := r.Context()
		fields := log.NewFields()
		fields[log.FieldPath] = r.URL.Path
		log.NewStructuredLogger(log.FromContext(ctx)).
			LogError(ctx, "Request failed", err, log.ComponentHTTP, op, fields)
	}
	resp.Write(w)
}

func (s *Server) today() core.Date {
	return core.Today(s.clock)
}
