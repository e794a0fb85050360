package gate

import (
	"time"

	"golang.org/x/time/rate"
)

// SendLimiter caps how many messages are sent per minute.
type SendLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewSendLimiter allows perMinute sends per minute with a burst of the
// same size. A non-positive perMinute disables the limit.
func NewSendLimiter(perMinute int, now func() time.Time) *SendLimiter {
	if now == nil {
		now = time.Now
	}
	l := &SendLimiter{now: now}
	if perMinute > 0 {
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return l
}

// Acquire takes one send slot. It reports false when none is free. The
// returned release hands the slot back if the send does not happen.
func (l *SendLimiter) Acquire() (release func(), ok bool) {
	if l == nil || l.limiter == nil {
		return func() {}, true
	}
	now := l.now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return nil, false
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil, false
	}
	// Cancelling at the reservation instant restores the token even after
	// the clock has moved on.
	return func() { r.CancelAt(now) }, true
}
