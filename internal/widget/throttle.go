package widget

import (
	"sync"
	"time"
)

// Throttler enforces a minimum interval between submission attempts, measured from
// the start of the previous attempt.
type Throttler struct {
	mutex       sync.Mutex
	policy      ThrottlePolicy
	clock       Clock
	lastAttempt time.Time
}

func NewThrottler(policy ThrottlePolicy, clock Clock) *Throttler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Throttler{policy: policy, clock: clock}
}

// Begin admits an attempt and records its start time, or reports how long the caller
// still has to wait.
func (throttler *Throttler) Begin() (bool, time.Duration) {
	throttler.mutex.Lock()
	defer throttler.mutex.Unlock()
	now := throttler.clock.Now()
	if throttler.policy.Enabled() && !throttler.lastAttempt.IsZero() {
		elapsed := now.Sub(throttler.lastAttempt)
		if elapsed < throttler.policy.Interval {
			return false, throttler.policy.Interval - elapsed
		}
	}
	throttler.lastAttempt = now
	return true, 0
}

// LastAttempt is the start time of the last admitted attempt.
func (throttler *Throttler) LastAttempt() time.Time {
	throttler.mutex.Lock()
	defer throttler.mutex.Unlock()
	return throttler.lastAttempt
}
