// Package runner sequences page actions against tabs and records the
// outcome of each page.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/pagerun/internal/action"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/metrics"
)

type State int

const (
	NotStarted State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for c := NotStarted; c <= Failed; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", b)
}

// ErrAlreadyRun is returned by a second PageRun.Run.
var ErrAlreadyRun = errors.New("page run already started")

// PageRun executes one page's actions exactly once.
type PageRun struct {
	page    *action.Page
	actions []action.Action
	metrics *metrics.Metrics

	mu           sync.Mutex
	state        State
	failedStep   int
	failedAction string
	fault        error
}

func NewPageRun(page *action.Page, actions []action.Action, m *metrics.Metrics) *PageRun {
	return &PageRun{page: page, actions: actions, metrics: m}
}

// Run executes the actions in order, handing each the action before it.
// BrowserGone and TabCrash stop the run. Timeout and Evaluate faults are
// logged and skipped for best-effort actions; every other error fails the
// page. The first failure is returned and kept; later actions do not run.
func (r *PageRun) Run(ctx context.Context, tab action.Tab) error {
	r.mu.Lock()
	if r.state != NotStarted {
		r.mu.Unlock()
		return ErrAlreadyRun
	}
	r.state = Running
	r.mu.Unlock()

	name := r.page.DisplayName()
	var prev action.Action
	for i, a := range r.actions {
		start := time.Now()
		err := a.RunAction(ctx, r.page, tab, prev)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			r.metrics.Action(a.Name(), "ok", elapsed)
		case a.BestEffort() && absorbable(err):
			slog.Warn("runner best-effort action failed", "page", name, "step", i+1, "action", a.Name(), "error", err)
			r.metrics.Action(a.Name(), "skipped", elapsed)
			// The failed action waited for nothing the next one can rely on.
			prev = nil
			continue
		default:
			r.metrics.Action(a.Name(), outcome(err), elapsed)
			r.fail(i+1, a.Name(), err)
			slog.Info("runner page failed", "page", name, "step", i+1, "action", a.Name(), "fault", faultCode(err), "error", err)
			return err
		}
		prev = a
	}

	r.mu.Lock()
	r.state = Completed
	r.mu.Unlock()
	slog.Debug("runner page completed", "page", name, "actions", len(r.actions))
	return nil
}

func (r *PageRun) fail(step int, name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Failed
	r.failedStep = step
	r.failedAction = name
	r.fault = err
}

func (r *PageRun) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// FailedStep is the 1-based position of the failing action, 0 if none failed.
func (r *PageRun) FailedStep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedStep
}

func (r *PageRun) FailedAction() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedAction
}

// Fault is the error that failed the run.
func (r *PageRun) Fault() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fault
}

// FaultCode is the fault code of Fault, empty for plain errors.
func (r *PageRun) FaultCode() string { return faultCode(r.Fault()) }

// faultCode is the code recorded for err. A call made after the tab crashed
// fails BrowserGone with the crash as cause; that is recorded as TabCrash.
func faultCode(err error) string {
	if faults.Has(err, faults.CodeTabCrash) {
		return faults.CodeTabCrash
	}
	return faults.CodeOf(err)
}

// abortsSet reports whether err means the browser itself is gone.
func abortsSet(err error) bool {
	return faults.Is(err, faults.CodeBrowserGone) && !faults.Has(err, faults.CodeTabCrash)
}

func absorbable(err error) bool {
	switch faults.CodeOf(err) {
	case faults.CodeTimeout, faults.CodeEvaluate:
		return true
	}
	return false
}

func outcome(err error) string {
	if code := faultCode(err); code != "" {
		return code
	}
	return "error"
}
