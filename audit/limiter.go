package audit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when an identity submits faster than allowed.
var ErrRateLimited = errors.New("too many submissions, try again later")

const limiterIdle = 10 * time.Minute

// limiter applies a token bucket per identity and evicts the idle ones.
type limiter struct {
	l     sync.Mutex
	limit rate.Limit
	burst int
	byKey map[string]*bucket
	hits  uint64
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

// newLimiter returns nil, which allows everything, if rps or burst are not positive.
func newLimiter(rps float64, burst int) *limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}

	return &limiter{limit: rate.Limit(rps), burst: burst, byKey: make(map[string]*bucket)}
}

// allow reports whether key can submit at now.
func (l *limiter) allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}

	l.l.Lock()
	defer l.l.Unlock()

	b, ok := l.byKey[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = b
	}

	b.seen = now

	l.hits++
	if l.hits%256 == 0 {
		for k, v := range l.byKey {
			if now.Sub(v.seen) > limiterIdle {
				delete(l.byKey, k)
			}
		}
	}

	return b.AllowN(now, 1)
}
