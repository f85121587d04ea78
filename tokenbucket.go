// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

// Package tokenbucket paces discrete events against a fixed refill rate with
// a bounded burst allowance.
//
// A Bucket holds no token counter. It keeps a single timestamp, the moment it
// last accrued a token, and derives the current count from how far that
// timestamp lags the clock. Taking a token advances the timestamp by one
// refresh interval, and backdating is capped so an idle bucket never
// accumulates more than its maximum capacity. Fractional accrual is carried
// in the timestamp itself, so nothing is lost to rounding between calls.
package tokenbucket

import (
	"fmt"
	"math"
	"time"
)

// Bucket is a token bucket over a monotonic clock. One token accrues per
// refresh interval, up to the bucket's maximum capacity.
//
// A Bucket is single-owner: it performs no locking and must be confined to
// one goroutine or guarded externally. Registry provides a serialized,
// shareable wrapper. A Bucket never does I/O; TryTake and TokenCount return
// immediately, and Take blocks only in the sleeper.
type Bucket struct {
	lastRefreshed int64 // nanos at which the bucket last accrued a token
	interval      int64 // nanos of accrual per token
	maxRefresh    int64 // interval * max capacity; bounds backdating of lastRefreshed
	clock         clock
}

// New creates a Bucket that accrues one token per refreshInterval and holds
// at most maxCapacity tokens, seeded with initialCapacity tokens.
// initialCapacity is clamped to maxCapacity. A maxCapacity of zero is legal:
// the bucket never holds a ready token, so every Take waits one full
// interval (a pure pacer).
//
// Construction fails if refreshInterval is not positive, if either capacity
// is negative, if refreshInterval * maxCapacity overflows, or if seeding
// would need a timestamp from before the clock's epoch. Errors carry an
// ErrorReason.
func New(refreshInterval time.Duration, maxCapacity, initialCapacity int64) (*Bucket, error) {
	return newBucket(refreshInterval, maxCapacity, initialCapacity, defaultClock)
}

func newBucket(refreshInterval time.Duration, maxCapacity, initialCapacity int64, c clock) (*Bucket, error) {
	if refreshInterval <= 0 {
		return nil, newError(fmt.Sprintf("refresh interval %v is not positive", refreshInterval),
			ER_NON_POSITIVE_INTERVAL)
	}

	if maxCapacity < 0 || initialCapacity < 0 {
		return nil, newError(fmt.Sprintf("capacities must not be negative; got max=%v initial=%v",
			maxCapacity, initialCapacity), ER_NEGATIVE_CAPACITY)
	}

	interval := refreshInterval.Nanoseconds()
	if maxCapacity > 0 && interval > math.MaxInt64/maxCapacity {
		return nil, newError(fmt.Sprintf("refresh interval %v times max capacity %v overflows",
			refreshInterval, maxCapacity), ER_INTERVAL_OVERFLOW)
	}

	// Seed by backdating lastRefreshed, as if the initial tokens had accrued
	// while the bucket sat idle.
	seed := min(initialCapacity, maxCapacity) * interval
	now := c.NowNanos()
	if seed > now {
		return nil, newError(fmt.Sprintf("seeding %v tokens at %v each reaches back past the clock's epoch",
			min(initialCapacity, maxCapacity), refreshInterval), ER_PRE_EPOCH)
	}

	return &Bucket{
		lastRefreshed: now - seed,
		interval:      interval,
		maxRefresh:    interval * maxCapacity,
		clock:         c}, nil
}

// effectiveLastRefreshed returns lastRefreshed, floored so that no more than
// maxRefresh of accrual is ever visible. This is where burst capacity is
// enforced: idle time beyond interval*maxCapacity is forfeited.
func (b *Bucket) effectiveLastRefreshed(now int64) int64 {
	if floor := now - b.maxRefresh; floor > b.lastRefreshed {
		return floor
	}
	return b.lastRefreshed
}

// reserve claims numTokens, returning the duration the caller must wait
// before acting on them. maxWait bounds that wait: negative means wait
// however long it takes, zero means claim only tokens that are ready now.
// If the wait would exceed maxWait, nothing is claimed and ok is false.
// Reserved tokens cannot be returned.
//
// Callers keep numTokens at 1, or within the bucket's maximum capacity, so
// the interval multiplication below cannot overflow.
func (b *Bucket) reserve(numTokens int64, maxWait time.Duration) (wait time.Duration, ok bool) {
	now := b.clock.NowNanos()
	next := b.effectiveLastRefreshed(now) + numTokens*b.interval
	w := next - now

	if w > 0 && maxWait >= 0 && w > maxWait.Nanoseconds() {
		return 0, false
	}

	b.lastRefreshed = next
	if w < 0 {
		w = 0
	}
	return time.Duration(w), true
}

// TryTake takes one token if one is ready, reporting whether it did. A token
// that becomes ready exactly now counts as ready. On failure the bucket is
// left untouched.
func (b *Bucket) TryTake() bool {
	_, ok := b.reserve(1, 0)
	return ok
}

// Take takes one token, sleeping until the token's accrual time if it is not
// ready yet, and returns the time it waited (zero if none). The wait never
// exceeds one refresh interval.
//
// The deadline is fixed before sleeping and the bucket is stamped with it
// regardless of when the sleeper actually wakes, so back-to-back callers pace
// at exactly one interval per token with no cumulative drift. Oversleep is
// absorbed by the next call; a sleeper that wakes early is trusted.
func (b *Bucket) Take() time.Duration {
	wait, _ := b.reserve(1, -1)
	if wait > 0 {
		b.clock.Sleep(wait)
	}
	return wait
}

// TokenCount reports how many whole tokens are ready now. It is read-only:
// observing the bucket, any number of times, never changes what subsequent
// calls may take.
func (b *Bucket) TokenCount() int64 {
	if b.interval <= 0 {
		// Degenerate bucket (zero value); report empty rather than divide.
		return 0
	}

	now := b.clock.NowNanos()
	elapsed := now - b.effectiveLastRefreshed(now)
	if elapsed < 0 {
		// lastRefreshed is in the future while a blocking reservation is
		// outstanding. No tokens until the timeline catches up.
		return 0
	}
	return elapsed / b.interval
}

// String renders the bucket and its current token count, e.g. "TokenBucket(3)".
func (b *Bucket) String() string {
	return fmt.Sprintf("TokenBucket(%d)", b.TokenCount())
}
