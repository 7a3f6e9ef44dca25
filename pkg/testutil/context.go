package testutil

import (
	"context"
	"testing"
	"time"
)

// ContextWithTimeout returns a context cancelled when the test ends
func ContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)

	return ctx
}

// Context bounds database tests to thirty seconds
func Context(t testing.TB) context.Context {
	t.Helper()
	return ContextWithTimeout(t, 30*time.Second)
}
