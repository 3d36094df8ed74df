// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package passwd

import (
	"net"
	"sync"
	"time"
)

// BruteForceProtection locks an IP out after too many failed logins.
type BruteForceProtection struct {
	mu       sync.Mutex
	attempts map[string]*loginAttempts

	maxAttempts int
	lockoutTime time.Duration
	now         func() time.Time
}

type loginAttempts struct {
	count       int
	lastFailure time.Time
	lockedUntil time.Time
}

func NewBruteForceProtection(maxAttempts int, lockoutTime time.Duration) *BruteForceProtection {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if lockoutTime <= 0 {
		lockoutTime = 15 * time.Minute
	}

	return &BruteForceProtection{
		attempts:    make(map[string]*loginAttempts),
		maxAttempts: maxAttempts,
		lockoutTime: lockoutTime,
		now:         time.Now,
	}
}

func (bfp *BruteForceProtection) CheckBlocked(ip net.IP) bool {
	return bfp.RemainingLockout(ip) > 0
}

func (bfp *BruteForceProtection) RecordFailure(ip net.IP) {
	if ip == nil {
		return
	}

	bfp.mu.Lock()
	defer bfp.mu.Unlock()

	now := bfp.now()
	attempt, exists := bfp.attempts[ip.String()]
	if !exists {
		attempt = &loginAttempts{}
		bfp.attempts[ip.String()] = attempt
	}

	if now.Before(attempt.lockedUntil) {
		return
	}

	// Counting restarts once a lockout has expired
	if !attempt.lockedUntil.IsZero() {
		attempt.count = 0
		attempt.lockedUntil = time.Time{}
	}

	attempt.count++
	attempt.lastFailure = now
	if attempt.count >= bfp.maxAttempts {
		attempt.lockedUntil = now.Add(bfp.lockoutTime)
	}
}

func (bfp *BruteForceProtection) RecordSuccess(ip net.IP) {
	if ip == nil {
		return
	}

	bfp.mu.Lock()
	defer bfp.mu.Unlock()

	delete(bfp.attempts, ip.String())
}

func (bfp *BruteForceProtection) RemainingLockout(ip net.IP) time.Duration {
	if ip == nil {
		return 0
	}

	bfp.mu.Lock()
	defer bfp.mu.Unlock()

	attempt, exists := bfp.attempts[ip.String()]
	if !exists {
		return 0
	}

	if left := attempt.lockedUntil.Sub(bfp.now()); left > 0 {
		return left
	}
	return 0
}

// Cleanup drops entries whose last failure and lockout are both older than
// maxIdle. The server calls it from the scheduler.
func (bfp *BruteForceProtection) Cleanup(maxIdle time.Duration) int {
	bfp.mu.Lock()
	defer bfp.mu.Unlock()

	now := bfp.now()
	removed := 0
	for key, attempt := range bfp.attempts {
		if now.Sub(attempt.lastFailure) > maxIdle && now.After(attempt.lockedUntil) {
			delete(bfp.attempts, key)
			removed++
		}
	}
	return removed
}
