package access

import (
	"net"

	"golang.org/x/time/rate"

	"github.com/venlock/capsuled/pkg/cmap"
)

// LimiterRegistry keeps one token bucket per client IP. A zero
// requests-per-second rate disables limiting entirely.
type LimiterRegistry struct {
	limiters *cmap.Map[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

// NewLimiterRegistry creates a registry allowing rps requests per
// second with the given burst per client address.
func NewLimiterRegistry(rps, burst int) *LimiterRegistry {
	if burst < 1 {
		burst = 1
	}
	return &LimiterRegistry{
		limiters: cmap.New[string, *rate.Limiter](),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the client behind addr may proceed. addr is a
// "host:port" remote address; limiting is keyed by the host part so a
// client cannot reset its bucket by reconnecting from a new port.
func (r *LimiterRegistry) Allow(addr string) bool {
	if r == nil || r.rps <= 0 {
		return true
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	lim, _ := r.limiters.GetOrCompute(host, func() *rate.Limiter {
		return rate.NewLimiter(r.rps, r.burst)
	})
	return lim.Allow()
}

// RetryAfterSeconds is the wait hint sent with a slow-down response.
func (r *LimiterRegistry) RetryAfterSeconds() int {
	if r == nil || r.rps <= 0 {
		return 0
	}
	if r.rps >= 1 {
		return 1
	}
	return int(1 / float64(r.rps))
}

// Tracked returns the number of client buckets currently held.
func (r *LimiterRegistry) Tracked() int {
	if r == nil {
		return 0
	}
	return r.limiters.Len()
}
