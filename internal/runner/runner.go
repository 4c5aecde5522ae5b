package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/pagerun/internal/action"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/measure"
	"github.com/dgnsrekt/pagerun/internal/metrics"
	"github.com/dgnsrekt/pagerun/internal/storage"
	"github.com/dgnsrekt/pagerun/internal/tabs"
)

// Tab is a tab a page runs in. *tabs.Tab satisfies it.
type Tab interface {
	action.Tab
	measure.Tab
	Close(ctx context.Context) error
	String() string
}

// TabSource opens a fresh tab per page.
type TabSource interface {
	NewTab(ctx context.Context, timeout time.Duration) (Tab, error)
}

type collectionSource struct{ c *tabs.Collection }

// FromCollection opens tabs through a tab collection.
func FromCollection(c *tabs.Collection) TabSource { return collectionSource{c} }

func (s collectionSource) NewTab(ctx context.Context, timeout time.Duration) (Tab, error) {
	t, err := s.c.New(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// PageSet is a named list of pages.
type PageSet struct {
	Name  string        `json:"name"`
	Pages []action.Page `json:"pages"`
}

type Options struct {
	// Concurrency bounds how many pages run at once, each on its own tab.
	Concurrency int
	TabTimeout  time.Duration
	// ResultsDir enables the JSONL results sink when set.
	ResultsDir     string
	ResultsMaxSize int
	Metrics        *metrics.Metrics
}

// Result is the record kept for one page.
type Result struct {
	RunID        string                    `json:"run_id"`
	Page         string                    `json:"page"`
	URL          string                    `json:"url"`
	TabID        string                    `json:"tab_id,omitempty"`
	State        State                     `json:"state"`
	FailedStep   int                       `json:"failed_step,omitempty"`
	FailedAction string                    `json:"failed_action,omitempty"`
	FaultCode    string                    `json:"fault_code,omitempty"`
	Error        string                    `json:"error,omitempty"`
	Payload      *Payload                  `json:"payload,omitempty"`
	Measurements map[string]map[string]any `json:"measurements,omitempty"`
	MeasureErrs  map[string]string         `json:"measurement_errors,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	Duration     time.Duration             `json:"duration_ns"`
}

type Report struct {
	RunID   string   `json:"run_id"`
	Set     string   `json:"set"`
	Results []Result `json:"results"`
	// Aborted is set when the browser went away and remaining pages were
	// not run.
	Aborted bool `json:"aborted"`
}

// TestRunner runs page sets.
type TestRunner struct {
	tabs TabSource
	opts Options
}

func New(src TabSource, opts Options) *TestRunner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.TabTimeout <= 0 {
		opts.TabTimeout = 30 * time.Second
	}
	if opts.ResultsMaxSize <= 0 {
		opts.ResultsMaxSize = 50
	}
	return &TestRunner{tabs: src, opts: opts}
}

type plannedPage struct {
	page         *action.Page
	actions      []action.Action
	measurements []measure.Measurement
}

// Run runs every page of set once. Action and measurement names are resolved
// before any tab is opened, so a bad set fails without touching the browser.
// A BrowserGone fault stops the set; the error returned is then that fault.
func (r *TestRunner) Run(ctx context.Context, set *PageSet) (*Report, error) {
	plan, err := r.plan(set)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Set:     set.Name,
		Results: make([]Result, len(plan)),
	}

	var sink *storage.ResultWriter
	if r.opts.ResultsDir != "" {
		sink = storage.NewResultWriter(r.opts.ResultsDir, set.Name, report.RunID, len(plan), r.opts.ResultsMaxSize)
		defer func() {
			if err := sink.Close(); err != nil {
				slog.Warn("runner results close failed", "run_id", report.RunID, "error", err)
			}
		}()
	}

	slog.Info("runner set started", "run_id", report.RunID, "set", set.Name, "pages", len(plan), "concurrency", r.opts.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, p := range plan {
		g.Go(func() error {
			res := Result{RunID: report.RunID, Page: p.page.DisplayName(), URL: p.page.URL}
			var err error
			if gctx.Err() != nil {
				res.State = NotStarted
				res.Error = "not run: " + context.Cause(gctx).Error()
			} else {
				err = r.runPage(gctx, p, &res)
			}
			report.Results[i] = res
			if sink != nil {
				if werr := sink.Write(res); werr != nil {
					slog.Warn("runner result not stored", "page", res.Page, "error", werr)
				}
			}
			if abortsSet(err) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	report.Aborted = abortsSet(err)
	slog.Info("runner set finished", "run_id", report.RunID, "set", set.Name, "aborted", report.Aborted)
	return report, err
}

func (r *TestRunner) plan(set *PageSet) ([]plannedPage, error) {
	if set == nil || len(set.Pages) == 0 {
		return nil, faults.Validation("page set has no pages")
	}
	out := make([]plannedPage, 0, len(set.Pages))
	for i := range set.Pages {
		page := &set.Pages[i]
		actions, err := action.BuildAll(page.Actions)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", page.DisplayName(), err)
		}
		ms, err := measure.Build(page.Measurements)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", page.DisplayName(), err)
		}
		out = append(out, plannedPage{page: page, actions: actions, measurements: ms})
	}
	return out, nil
}

func (r *TestRunner) runPage(ctx context.Context, p plannedPage, res *Result) error {
	res.StartedAt = time.Now().UTC()
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		r.opts.Metrics.PageRun(res.State.String(), res.FaultCode)
	}()

	tab, err := r.tabs.NewTab(ctx, r.opts.TabTimeout)
	if err != nil {
		res.State = Failed
		res.FaultCode = faultCode(err)
		res.Error = err.Error()
		slog.Warn("runner tab open failed", "page", res.Page, "error", err)
		return err
	}
	r.opts.Metrics.TabOpened()
	res.TabID = tab.String()
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := tab.Close(cctx); err != nil {
			slog.Debug("runner tab close failed", "tab", res.TabID, "error", err)
		}
		r.opts.Metrics.TabClosed()
	}()

	run := NewPageRun(p.page, p.actions, r.opts.Metrics)
	err = run.Run(ctx, tab)
	res.State = run.State()
	if err != nil {
		res.FailedStep = run.FailedStep()
		res.FailedAction = run.FailedAction()
		res.FaultCode = run.FaultCode()
		res.Error = err.Error()
		res.Payload = payloadOf(err)
		return err
	}

	for _, m := range p.measurements {
		values, err := m.Measure(ctx, p.page, tab)
		if err != nil {
			if res.MeasureErrs == nil {
				res.MeasureErrs = make(map[string]string)
			}
			res.MeasureErrs[m.Name()] = err.Error()
			if faults.Fatal(err) {
				return err
			}
			continue
		}
		if res.Measurements == nil {
			res.Measurements = make(map[string]map[string]any)
		}
		res.Measurements[m.Name()] = values
	}
	return nil
}
