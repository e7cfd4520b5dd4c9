package update

import (
	"context"
	"time"
)

// StdDelay implements Delay on top of the runtime timer. The zero value is
// ready to use and safe for concurrent use.
type StdDelay struct{}

// DelayMs sleeps for ms milliseconds or until ctx is cancelled.
func (StdDelay) DelayMs(ctx context.Context, ms uint32) error {
	return sleep(ctx, time.Duration(ms)*time.Millisecond)
}

// DelayUs sleeps for us microseconds or until ctx is cancelled.
func (StdDelay) DelayUs(ctx context.Context, us uint32) error {
	return sleep(ctx, time.Duration(us)*time.Microsecond)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
