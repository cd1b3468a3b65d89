package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxIdle         = 10 * time.Minute
)

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter ограничивает частоту запросов по IP-адресу клиента.
// Используется для эндпоинтов аутентификации, чтобы затруднить перебор паролей.
type RateLimiter struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	stopCh chan struct{}
}

// NewRateLimiter создаёт RateLimiter с указанной скоростью и размером всплеска.
// В фоне запускается очистка давно не использовавшихся записей.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*ipLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop останавливает фоновую очистку.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware возвращает middleware, отклоняющее запросы сверх лимита со статусом 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = l
	}
	l.lastAccess = time.Now()
	rl.mu.Unlock()

	return l.limiter.Allow()
}

// Count возвращает число отслеживаемых адресов. Для тестов.
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-limiterMaxIdle)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, l := range rl.limiters {
		if l.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
