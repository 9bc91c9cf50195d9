package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

const maxURLLength = 2048

var (
	suspiciousPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"eval(", "javascript:", "<script", "union select",
		"etc/passwd", "cmd.exe",
	}

	suspiciousAgents = []string{
		"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan", "zgrab",
	}

	blockedMethods = map[string]bool{
		"TRACE": true, "TRACK": true, "DEBUG": true, "CONNECT": true,
	}
)

// DetectionMetrics tracks security detection events
type DetectionMetrics struct {
	SuspiciousRequests int64
	BlockedRequests    int64
	InvalidIPAttempts  int64
}

// Detector flags suspicious requests and resolves the client address.
type Detector struct {
	metrics DetectionMetrics

	mu             sync.RWMutex
	trustedProxies []*net.IPNet
}

// NewDetector trusts loopback and private networks as proxies.
func NewDetector() *Detector {
	return &Detector{
		trustedProxies: []*net.IPNet{
			mustParseCIDR("127.0.0.0/8"),
			mustParseCIDR("10.0.0.0/8"),
			mustParseCIDR("172.16.0.0/12"),
			mustParseCIDR("192.168.0.0/16"),
			mustParseCIDR("::1/128"),
		},
	}
}

func mustParseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

// DetectSuspiciousRequest reports whether r looks like a probe and why.
func (d *Detector) DetectSuspiciousRequest(r *http.Request) (bool, string) {
	reason := detect(r)
	if reason == "" {
		return false, ""
	}
	atomic.AddInt64(&d.metrics.SuspiciousRequests, 1)
	return true, reason
}

func detect(r *http.Request) string {
	if blockedMethods[r.Method] {
		return "method"
	}
	if len(r.URL.String()) > maxURLLength {
		return "url_length"
	}

	path := strings.ToLower(r.URL.Path)
	query := strings.ToLower(r.URL.RawQuery)
	for _, p := range suspiciousPatterns {
		if strings.Contains(path, p) || strings.Contains(query, p) {
			return "pattern"
		}
	}

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, a := range suspiciousAgents {
		if strings.Contains(ua, a) {
			return "user_agent"
		}
	}

	// More than 5 proxy hops suggests header manipulation.
	if strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5 {
		return "forwarded_chain"
	}
	return ""
}

// ExtractClientIP returns the peer address, or the forwarded client address
// when the peer is a trusted proxy.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsed := net.ParseIP(directIP)
	if parsed == nil {
		atomic.AddInt64(&d.metrics.InvalidIPAttempts, 1)
		return directIP
	}
	if !d.isTrustedProxy(parsed) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
		atomic.AddInt64(&d.metrics.InvalidIPAttempts, 1)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
		atomic.AddInt64(&d.metrics.InvalidIPAttempts, 1)
	}
	return directIP
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// AddTrustedProxy adds a trusted proxy network
func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.mu.Lock()
	d.trustedProxies = append(d.trustedProxies, network)
	d.mu.Unlock()
	return nil
}

func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: atomic.LoadInt64(&d.metrics.SuspiciousRequests),
		BlockedRequests:    atomic.LoadInt64(&d.metrics.BlockedRequests),
		InvalidIPAttempts:  atomic.LoadInt64(&d.metrics.InvalidIPAttempts),
	}
}

// Middleware logs suspicious requests and rejects blocked methods and
// oversized URLs. Other suspicious requests are only logged.
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		suspicious, reason := d.DetectSuspiciousRequest(r)
		if !suspicious {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		log.FromContext(ctx).WithComponent(log.ComponentSecurity).WarnContext(ctx, "Suspicious request",
			log.FieldClientIP, d.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			"reason", reason)

		switch reason {
		case "method":
			atomic.AddInt64(&d.metrics.BlockedRequests, 1)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		case "url_length":
			atomic.AddInt64(&d.metrics.BlockedRequests, 1)
			http.Error(w, "request URI too long", http.StatusRequestURITooLong)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
