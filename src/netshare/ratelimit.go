// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netshare

import (
	"math"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitSystem throttles expensive tools (scans, WHOIS, backups)
// per client address with a token bucket.
type RateLimitSystem struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimitSystem allows perMinute runs per client with the given burst.
// A zero perMinute disables limiting.
func NewRateLimitSystem(perMinute uint, burst uint) *RateLimitSystem {
	rateSys := &RateLimitSystem{
		clients: make(map[string]*clientLimiter),
		burst:   int(burst),
	}

	if perMinute == 0 {
		rateSys.limit = rate.Inf
	} else {
		rateSys.limit = rate.Limit(float64(perMinute) / 60)
	}
	if rateSys.burst <= 0 {
		rateSys.burst = 1
	}

	return rateSys
}

func (rateSys *RateLimitSystem) CheckAndUse(ip net.IP) error {
	if rateSys == nil || rateSys.limit == rate.Inf {
		return nil
	}

	now := time.Now()
	key := ip.String()

	rateSys.mu.Lock()
	cl, ok := rateSys.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rateSys.limit, rateSys.burst)}
		rateSys.clients[key] = cl
	}
	cl.lastSeen = now
	rateSys.mu.Unlock()

	res := cl.limiter.ReserveN(now, 1)
	if !res.OK() {
		return ErrTooManyRequestsNew(60)
	}

	delay := res.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	res.CancelAt(now)

	return ErrTooManyRequestsNew(int64(math.Ceil(delay.Seconds())))
}

// Cleanup forgets clients idle for longer than maxIdle.
func (rateSys *RateLimitSystem) Cleanup(maxIdle time.Duration) {
	if rateSys == nil {
		return
	}

	cutoff := time.Now().Add(-maxIdle)

	rateSys.mu.Lock()
	defer rateSys.mu.Unlock()

	for key, cl := range rateSys.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rateSys.clients, key)
		}
	}
}
