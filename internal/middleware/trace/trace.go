package trace

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// ContextKey type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"

	// RequestIDHeader is read from incoming requests and echoed on responses.
	RequestIDHeader = "X-Request-ID"

	maxRequestIDLen = 64
)

// Middleware handles request tracing and access logging
type Middleware struct {
	extractIP func(*http.Request) string
	logger    *log.Logger
	access    *log.StructuredLogger
	metrics   *Metrics
}

// Metrics tracks request metrics
type Metrics struct {
	TotalRequests   int64
	ErrorResponses  int64
	TotalDurationUs int64
}

// AverageResponseTime returns the mean request duration.
func (m Metrics) AverageResponseTime() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}
	return time.Duration(m.TotalDurationUs/m.TotalRequests) * time.Microsecond
}

// NewMiddleware creates a new trace middleware. A nil logger falls back to
// the process default.
func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string) *Middleware {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	logger = logger.WithComponent(log.ComponentTrace)
	return &Middleware{
		extractIP: extractIP,
		logger:    logger,
		access:    log.NewStructuredLogger(logger),
		metrics:   &Metrics{},
	}
}

// Middleware returns HTTP middleware for request tracing. The request id
// and a request-scoped logger are stored in the request context.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		requestID := requestIDFrom(r)
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = context.WithValue(ctx, log.LoggerContextKey, m.logger.With(log.FieldRequestID, requestID))
		r = r.WithContext(ctx)

		m.access.LogHTTPStart(ctx, r, clientIP)
		atomic.AddInt64(&m.metrics.TotalRequests, 1)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		atomic.AddInt64(&m.metrics.TotalDurationUs, duration.Microseconds())
		if rw.statusCode >= 500 {
			atomic.AddInt64(&m.metrics.ErrorResponses, 1)
		}
		m.access.LogHTTPEnd(ctx, r, rw.statusCode, duration.Milliseconds(), clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// requestIDFrom keeps a well-formed caller supplied id, otherwise generates one.
func requestIDFrom(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > maxRequestIDLen || strings.ContainsAny(id, " \t\r\n") {
		return GenerateRequestID()
	}
	return id
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetMetrics returns current metrics
func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:   atomic.LoadInt64(&m.metrics.TotalRequests),
		ErrorResponses:  atomic.LoadInt64(&m.metrics.ErrorResponses),
		TotalDurationUs: atomic.LoadInt64(&m.metrics.TotalDurationUs),
	}
}
