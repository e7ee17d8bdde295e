package api

import (
    "net"
    "net/http"
    "os"
    "strconv"
    "sync"

    "golang.org/x/time/rate"
)

// RateLimiter throttles requests per client IP. RATE_RPS=0 disables it.
type RateLimiter struct {
    rps   float64
    burst int
    mu    sync.Mutex
    m     map[string]*rate.Limiter
}

func NewRateLimiterFromEnv() *RateLimiter {
    rps := 0.0
    if v := os.Getenv("RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil { rps = f }
    }
    burst := 20
    if v := os.Getenv("RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
    }
    return &RateLimiter{rps: rps, burst: burst, m: map[string]*rate.Limiter{}}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
    rl.mu.Lock()
    defer rl.mu.Unlock()
    l, ok := rl.m[key]
    if !ok {
        l = rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
        rl.m[key] = l
    }
    return l
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
    if rl.rps <= 0 {
        return next
    }
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        host, _, err := net.SplitHostPort(r.RemoteAddr)
        if err != nil { host = r.RemoteAddr }
        if !rl.limiterFor(host).Allow() {
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}
