package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// idleLimiter 閒置多久後清掉該 IP 的令牌桶，也是兩次清理的最短間隔
	idleLimiter = 5 * time.Minute
	// sweepThreshold 桶數超過這個值才清理
	sweepThreshold = 1024
)

// ipLimiter 以客戶端 IP 分桶的令牌桶限流
type ipLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*visitor
	lastSweep time.Time
	rps       rate.Limit
	burst     int
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPLimiter rps <= 0 代表不限流，返回 nil
func newIPLimiter(rps float64, burst int) *ipLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		buckets: make(map[string]*visitor),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// allow 取一個令牌，順便清掉閒置的桶
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.buckets[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = v
	}
	v.lastSeen = now

	if len(l.buckets) > sweepThreshold && now.Sub(l.lastSweep) >= idleLimiter {
		l.sweepLocked(now)
	}

	return v.limiter.AllowN(now, 1)
}

// sweepLocked 清掉閒置的桶（需持有 mu）
func (l *ipLimiter) sweepLocked(now time.Time) {
	for key, v := range l.buckets {
		if now.Sub(v.lastSeen) > idleLimiter {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// middleware 超過限額時回 429
func (l *ipLimiter) middleware(next http.Handler, reject func(w http.ResponseWriter)) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			reject(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP 取出連線來源 IP
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
