package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/davidmoltin/leadflow/pkg/logger"
)

// connectTimeout bounds startup retries while a dependency is still booting
const connectTimeout = 30 * time.Second

// pingWithRetry pings until it succeeds or connectTimeout passes and
// returns the number of attempts made.
func pingWithRetry(name string, ping func(context.Context) error, log *logger.Logger) (int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = connectTimeout

	attempts := 0
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ping(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("%s ping attempt %d failed, retrying in %v: %v", name, attempts, wait.Round(time.Millisecond), err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return attempts, fmt.Errorf("failed to reach %s after %d attempts: %w", name, attempts, err)
	}
	return attempts, nil
}
