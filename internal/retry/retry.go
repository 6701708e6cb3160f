package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/user/autoengage/internal/logging"
)

// WithExponentialBackoff executes an operation and retries it on failure, doubling the
// delay after each attempt. It gives up early when ctx is done.
func WithExponentialBackoff(ctx context.Context, operationName string, maxRetries int, delay time.Duration, operation func() error) error {
	var err error

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			logging.Logger.Warnf("%s failed: %v. Retrying in %v (Attempt %d/%d)...", operationName, err, delay, i+1, maxRetries)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%s interrupted: %w", operationName, ctx.Err())
			case <-t.C:
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d retries: %w", operationName, maxRetries, err)
}
