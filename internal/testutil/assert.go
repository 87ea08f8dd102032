// Package testutil holds assertion helpers shared by package tests.
package testutil

import (
	"testing"

	pkgerrors "ojkit/pkg/errors"

	"github.com/google/go-cmp/cmp"
)

// AssertEqual checks if two values are equal
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertDeepEqual compares structured values and prints a diff on mismatch
func AssertDeepEqual(t *testing.T, got, want interface{}, opts ...cmp.Option) {
	t.Helper()
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

// AssertTrue checks if a condition is true
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse checks if a condition is false
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertCode fails unless err carries the given error code
func AssertCode(t *testing.T, err error, code pkgerrors.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d (%s), got nil", code, code.Message())
	}
	if got := pkgerrors.GetCode(err); got != code {
		t.Fatalf("error code = %d (%s), want %d (%s); err: %v", got, got.Message(), code, code.Message(), err)
	}
}

// MustNoError fails the test immediately on a non-nil error
func MustNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
