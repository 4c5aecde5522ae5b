// Package wait polls conditions against a deadline.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

// DefaultInterval is used when Options.Interval is unset.
const DefaultInterval = 100 * time.Millisecond

// Condition reports whether the awaited state has been reached. A non-nil
// error stops polling and is returned as is.
type Condition func(ctx context.Context) (bool, error)

type Options struct {
	// Timeout bounds the whole poll. Zero means only ctx bounds it.
	Timeout time.Duration
	// Interval is the delay between evaluations.
	Interval time.Duration
	// Desc names the condition in timeout errors.
	Desc string
}

// Poll evaluates cond until it returns true, returns an error, or the timeout
// elapses. Expiry yields a faults.CodeTimeout error, never earlier than the
// deadline.
func Poll(ctx context.Context, cond Condition, opts *Options) error {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Desc == "" {
		o.Desc = "condition"
	}

	var deadline time.Time
	if o.Timeout > 0 {
		deadline = time.Now().Add(o.Timeout)
	}

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		sleep := o.Interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return faults.Timeout(fmt.Sprintf("%s not met within %v", o.Desc, o.Timeout), nil)
			}
			if remaining < sleep {
				sleep = remaining
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return faults.Timeout(o.Desc+" not met before context deadline", ctx.Err())
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Until is Poll with only a timeout.
func Until(ctx context.Context, timeout time.Duration, cond Condition) error {
	return Poll(ctx, cond, &Options{Timeout: timeout})
}
