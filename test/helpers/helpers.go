// Package helpers holds small assertions shared by tests.
package helpers

import (
	"fmt"
	"testing"
)

// ExpectingPanic indicates that a function passed in should panic. If it does, no errors are
// thrown. If not, the test fails.
func ExpectingPanic(t *testing.T, f func()) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("Did not panic()")
		} else {
			fmt.Print(r)
		}
	}()

	f()
}

// CheckError fails the test if err is not nil.
func CheckError(t *testing.T, err error) {
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
}

// PanicError panics if err is not nil. For use in setup code that runs
// outside a test function.
func PanicError(err error) {
	if err != nil {
		panic(err)
	}
}
