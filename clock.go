// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

package tokenbucket

import "time"

// Bucket timestamps are nanoseconds relative to a process-wide epoch, which
// keeps them small and strictly monotonic: time.Since reads the runtime's
// monotonic clock and is immune to wall clock steps. The epoch is backdated
// an hour so that freshly started processes can seed buckets with accrual
// history; seeding further back than that fails with ER_PRE_EPOCH.
var epoch = time.Now().Add(-time.Hour)

// clock is the time source and sleeper for a bucket. Tests substitute a
// manual clock to drive buckets through virtual time deterministically.
type clock interface {
	NowNanos() int64
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) NowNanos() int64 {
	return time.Since(epoch).Nanoseconds()
}

func (systemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

var defaultClock clock = systemClock{}
