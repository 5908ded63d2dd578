// Package wait provides backoff strategies and cancellable sleeps for
// retry loops such as redialing a peer.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCanceled is returned when the context ends before the wait does.
var ErrCanceled = errors.New("wait: operation canceled")

// Strategy yields successive wait durations.
type Strategy interface {
	Next() time.Duration
	Reset()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
}

// Next sleeps for the next duration of s, or until ctx is done.
func Next(ctx context.Context, s Strategy) error {
	return Sleep(ctx, s.Next())
}
