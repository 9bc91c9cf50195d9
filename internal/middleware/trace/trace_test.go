package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

func newTestMiddleware(buf *bytes.Buffer) *Middleware {
	cfg := log.DefaultConfig()
	cfg.Output = buf
	cfg.Format = "json"
	return NewMiddleware(log.New(cfg), func(*http.Request) string { return "10.0.0.1" })
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rules", nil))

	require.NotEmpty(t, seen)
	assert.True(t, strings.HasPrefix(seen, "req_"))
	assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, buf.String(), "HTTP request completed")
	assert.Contains(t, buf.String(), `"status_code":201`)
}

func TestMiddleware_KeepsIncomingRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc-123", GetRequestID(r.Context()))
		log.FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"abc-123"`)
}

func TestRequestIDFrom_RejectsMalformed(t *testing.T) {
	tests := []string{"", "has space", strings.Repeat("x", maxRequestIDLen+1)}
	for _, in := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, in)
		got := requestIDFrom(req)
		if got == in || !strings.HasPrefix(got, "req_") {
			t.Errorf("requestIDFrom(%q) = %q, want generated id", in, got)
		}
	}
}

func TestMiddleware_Metrics(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, p := range []string{"/ok", "/fail", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	got := m.GetMetrics()
	assert.EqualValues(t, 3, got.TotalRequests)
	assert.EqualValues(t, 1, got.ErrorResponses)
	assert.GreaterOrEqual(t, got.AverageResponseTime().Nanoseconds(), int64(0))
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}
