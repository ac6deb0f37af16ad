package auth

import "time"

// LockoutPolicy decides lock transitions. It has no side effects.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// Locked reports whether a is locked at now. The expiry instant itself is
// already unlocked.
func (p LockoutPolicy) Locked(a *Account, now time.Time) bool {
	return a.LockExpiry != nil && a.LockExpiry.After(now)
}

// RegisterFailure counts a wrong password and reports whether this attempt
// started a lock.
func (p LockoutPolicy) RegisterFailure(a *Account, now time.Time) bool {
	a.FailedAttempts++
	if a.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		a.LockExpiry = &until
		return true
	}
	return false
}

// RegisterSuccess clears all lock state.
func (p LockoutPolicy) RegisterSuccess(a *Account) {
	a.FailedAttempts = 0
	a.LockExpiry = nil
}
