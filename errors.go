// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

package tokenbucket

import (
	"errors"
)

// ErrorReason provides details on why bucket construction or calls to Allow
// may fail.
type ErrorReason int

const (
	// Tokens not available within the max wait time
	ER_TIMED_OUT_WAITING ErrorReason = iota

	// No bucket with the given name, and no way to create one
	ER_NO_SUCH_BUCKET

	// Dynamic bucket couldn't be created
	ER_TOO_MANY_BUCKETS

	// Too many tokens requested in a single call
	ER_TOO_MANY_TOKENS_REQUESTED

	// Registry isn't running
	ER_NOT_RUNNING

	// Refresh interval must be positive
	ER_NON_POSITIVE_INTERVAL

	// Capacities must be non-negative
	ER_NEGATIVE_CAPACITY

	// Refresh interval times max capacity must fit in an int64 of nanoseconds
	ER_INTERVAL_OVERFLOW

	// Seeding the initial capacity needs a timestamp before the clock's epoch
	ER_PRE_EPOCH
)

type BucketError struct {
	error
	Reason ErrorReason
}

func (e BucketError) Error() string {
	return e.error.Error()
}

func newError(msg string, reason ErrorReason) BucketError {
	return BucketError{error: errors.New(msg), Reason: reason}
}

// IsReason reports whether err is a BucketError with the given reason.
func IsReason(err error, reason ErrorReason) bool {
	var be BucketError
	return errors.As(err, &be) && be.Reason == reason
}
