package httpx

import (
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdle    = 10 * time.Minute
	limiterMaxKeys = 10000
)

type clientEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	rps     rate.Limit
	burst   int
	maxKeys int
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*clientEntry
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		maxKeys: limiterMaxKeys,
		now:     time.Now,
		clients: make(map[string]*clientEntry),
	}
}

// allow reports whether key may proceed now.
func (c *clientLimiter) allow(key string) bool {
	if c.rps <= 0 {
		return true
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.clients[key]
	if !ok {
		if len(c.clients) >= c.maxKeys {
			c.evict(now)
		}
		e = &clientEntry{lim: rate.NewLimiter(c.rps, c.burst)}
		c.clients[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// evict drops idle clients. When every client is active it drops the least
// recently seen tenth instead. Called with mu held.
func (c *clientLimiter) evict(now time.Time) {
	for k, e := range c.clients {
		if now.Sub(e.seen) > limiterIdle {
			delete(c.clients, k)
		}
	}
	if len(c.clients) < c.maxKeys {
		return
	}
	keys := make([]string, 0, len(c.clients))
	for k := range c.clients {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return c.clients[a].seen.Compare(c.clients[b].seen)
	})
	drop := len(keys) - c.maxKeys + max(c.maxKeys/10, 1)
	for _, k := range keys[:min(drop, len(keys))] {
		delete(c.clients, k)
	}
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "unknown"
		if a := clientAddr(r); a.IsValid() {
			key = a.String()
		}
		if !c.allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(int(c.retryAfter().Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limited","kind":"rate_limited"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *clientLimiter) retryAfter() time.Duration {
	if c.rps <= 0 {
		return 0
	}
	d := time.Duration(float64(time.Second) / float64(c.rps))
	if d < time.Second {
		d = time.Second
	}
	return d
}
