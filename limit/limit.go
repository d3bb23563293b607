// Package limit paces connection attempts and lifts process limits.
package limit

import (
	"context"
	"fmt"

	"go.uber.org/ratelimit"
	"golang.org/x/sys/unix"
)

// New returns a limiter allowing rate events per second. A rate of zero or
// less is unlimited.
func New(rate int) ratelimit.Limiter {
	if rate <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(rate)
}

// Wait blocks on rl unless ctx is done first.
func Wait(ctx context.Context, rl ratelimit.Limiter) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		done := make(chan struct{})
		go func() {
			rl.Take()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RaiseNoFile lifts the soft open file limit to the hard limit.
func RaiseNoFile() error {
	var rLimit unix.Rlimit

	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return fmt.Errorf("could not get rlimit: %w", err)
	}

	if rLimit.Cur < rLimit.Max {
		rLimit.Cur = rLimit.Max
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
			return fmt.Errorf("could not set rlimit: %w", err)
		}
	}
	return nil
}
