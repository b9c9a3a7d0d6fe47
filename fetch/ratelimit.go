package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// MinRPS ist die Untergrenze für Anfragen pro Sekunde und Domain.
const MinRPS = 0.1

// RateLimiter erzwingt einen Mindestabstand zwischen zwei Anfragen an dieselbe
// Domain. Verschiedene Domains blockieren sich nie gegenseitig.
type RateLimiter struct {
	rps      float64
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter erstellt einen Limiter mit rps Anfragen pro Sekunde und Domain.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps < MinRPS {
		rps = MinRPS
	}
	return &RateLimiter{
		rps:      rps,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blockiert, bis für die Domain von rawURL wieder eine Anfrage erlaubt ist.
func (r *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("rate limiter: parse %q: %w", rawURL, err)
	}
	return r.limiterFor(u.Host).Wait(ctx)
}

func (r *RateLimiter) limiterFor(domain string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[domain]
	if !ok {
		// Burst 1: die erste Anfrage ist sofort frei, danach 1/rps Abstand.
		l = rate.NewLimiter(rate.Limit(r.rps), 1)
		r.limiters[domain] = l
	}
	return l
}
