package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/response"
)

type limiterEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter - 키(사용자 ID 또는 IP)별 token bucket
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	keyFn    func(*http.Request) string
	idleTTL  time.Duration
}

// NewRateLimiter - keyFn이 빈 문자열을 주면 클라이언트 IP 사용
func NewRateLimiter(rps float64, burst int, keyFn func(*http.Request) string) *RateLimiter {
	return &RateLimiter{
		visitors: map[string]*limiterEntry{},
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		idleTTL:  10 * time.Minute,
	}
}

// Middleware - 초과 시 429 + RateLimitError 응답
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.key(r)) {
			response.Error(w, apperror.RateLimit(nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow - 키에 대해 토큰 1개 소비
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	le, ok := rl.visitors[key]
	if !ok {
		le = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = le
	}
	le.last = time.Now()
	return le.limiter.Allow()
}

// Sweep - 오래 사용되지 않은 키 정리
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for k, v := range rl.visitors {
		if time.Since(v.last) > rl.idleTTL {
			delete(rl.visitors, k)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) key(r *http.Request) string {
	if rl.keyFn != nil {
		if k := rl.keyFn(r); k != "" {
			return "user:" + k
		}
	}
	return "ip:" + ClientIP(r)
}

// ClientIP - X-Forwarded-For 첫 번째 값 또는 RemoteAddr
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
