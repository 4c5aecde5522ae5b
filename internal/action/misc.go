package action

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

const defaultWaitTimeout = 60 * time.Second

func init() {
	Registry.Register("collect_garbage", newCollectGarbage)
	Registry.Register("wait", newWait)
	Registry.Register("clear_cache", newClearCache)
	Registry.Register("javascript", newJavaScript)
}

// CollectGarbage forces a JS heap collection. It does not wait.
type CollectGarbage struct{ base }

func newCollectGarbage(opts Options) (Action, error) {
	return &CollectGarbage{base: newBase("collect_garbage", opts)}, nil
}

func (a *CollectGarbage) RunAction(ctx context.Context, page *Page, tab Tab, prev Action) error {
	return tab.CollectGarbage(ctx)
}

// Wait pauses the run: for a fixed time, until a JS condition holds, or until
// a ready state is reached. A ready-state wait already satisfied by the
// previous action is skipped.
type Wait struct {
	base
	seconds    time.Duration
	javascript string
	state      webcontents.ReadyState
	waitState  bool
	timeout    time.Duration
}

func newWait(opts Options) (Action, error) {
	seconds, err := opts.Seconds("seconds", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := opts.Seconds("timeout", defaultWaitTimeout)
	if err != nil {
		return nil, err
	}
	a := &Wait{
		base:       newBase("wait", opts),
		seconds:    seconds,
		javascript: opts.String("javascript", ""),
		timeout:    timeout,
	}
	if _, ok := opts["ready_state"]; ok {
		a.state, a.waitState, err = opts.ReadyState("ready_state", webcontents.ReadyComplete)
		if err != nil {
			return nil, err
		}
	}
	if a.seconds == 0 && a.javascript == "" && !a.waitState {
		return nil, errors.New("wait needs seconds, javascript or ready_state")
	}
	return a, nil
}

func (a *Wait) RunAction(ctx context.Context, page *Page, tab Tab, prev Action) error {
	if a.seconds > 0 {
		timer := time.NewTimer(a.seconds)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if a.javascript != "" {
		if err := tab.WaitForExpression(ctx, a.javascript, a.timeout); err != nil {
			return err
		}
	}
	if a.waitState {
		if rw, ok := prev.(readyWaiter); ok {
			if reached, waited := rw.WaitedFor(); waited && reached.AtLeast(a.state) {
				slog.Debug("action wait skipped", "page", page.DisplayName(), "ready_state", a.state, "previous", prev.Name())
				return nil
			}
		}
		return tab.WaitForReadyState(ctx, a.state, a.timeout)
	}
	return nil
}

func (a *Wait) WaitedFor() (webcontents.ReadyState, bool) { return a.state, a.waitState }

// ClearCache empties the browser cache, failing with Unsupported when the
// browser cannot.
type ClearCache struct {
	base
	timeout time.Duration
}

func newClearCache(opts Options) (Action, error) {
	timeout, err := opts.Seconds("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return &ClearCache{base: newBase("clear_cache", opts), timeout: timeout}, nil
}

func (a *ClearCache) RunAction(ctx context.Context, page *Page, tab Tab, prev Action) error {
	return tab.ClearCache(ctx, a.timeout)
}

// JavaScript evaluates an expression and discards the result.
type JavaScript struct {
	base
	expression string
	timeout    time.Duration
}

func newJavaScript(opts Options) (Action, error) {
	expr := opts.String("expression", "")
	if expr == "" {
		return nil, errors.New("javascript needs an expression")
	}
	timeout, err := opts.Seconds("timeout", 0)
	if err != nil {
		return nil, err
	}
	return &JavaScript{base: newBase("javascript", opts), expression: expr, timeout: timeout}, nil
}

func (a *JavaScript) RunAction(ctx context.Context, page *Page, tab Tab, prev Action) error {
	_, err := tab.EvaluateScript(ctx, a.expression, a.timeout)
	return err
}
