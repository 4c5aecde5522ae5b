package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/pagerun/internal/action"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/metrics"
)

type fakeSource struct {
	mu      sync.Mutex
	opened  []*fakeTab
	openErr error
}

func (s *fakeSource) NewTab(ctx context.Context, timeout time.Duration) (Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	t := &fakeTab{id: fmt.Sprintf("T%d", len(s.opened)+1)}
	s.opened = append(s.opened, t)
	return t, nil
}

func page(name string, actions ...string) action.Page {
	p := action.Page{Name: name, URL: "https://example.com/" + name}
	for _, a := range actions {
		p.Actions = append(p.Actions, action.Spec{Action: a})
	}
	return p
}

func TestRunnerRunsEachPageOnce(t *testing.T) {
	src := &fakeSource{}
	r := New(src, Options{Concurrency: 2, Metrics: metrics.New()})

	a := page("a", "navigate", "collect_garbage")
	a.Measurements = []string{"ready_state", "navigation_timing"}
	set := &PageSet{Name: "smoke", Pages: []action.Page{a, page("b", "navigate"), page("c", "navigate", "reload")}}

	report, err := r.Run(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.RunID == "" || report.Aborted {
		t.Fatalf("report = %+v", report)
	}
	if len(src.opened) != 3 {
		t.Fatalf("opened %d tabs, want 3", len(src.opened))
	}
	for _, tab := range src.opened {
		if tab.closed != 1 {
			t.Errorf("tab %s closed %d times", tab.id, tab.closed)
		}
	}
	for _, res := range report.Results {
		if res.State != Completed {
			t.Errorf("%s: state %v (%s)", res.Page, res.State, res.Error)
		}
	}
	got := report.Results[0].Measurements
	if got["ready_state"]["ready_state"] != "complete" || got["navigation_timing"]["navigationStart"] != int64(1) {
		t.Errorf("measurements = %v", got)
	}
}

func TestRunnerRejectsUnknownActionBeforeOpeningTabs(t *testing.T) {
	src := &fakeSource{}
	r := New(src, Options{})
	_, err := r.Run(context.Background(), &PageSet{Pages: []action.Page{page("a", "navigate", "teleport")}})
	if !faults.Is(err, faults.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
	if len(src.opened) != 0 {
		t.Fatal("tab opened for an invalid set")
	}

	if _, err := r.Run(context.Background(), &PageSet{}); !faults.Is(err, faults.CodeValidation) {
		t.Fatalf("empty set err = %v, want VALIDATION", err)
	}
}

func TestRunnerStopsOnBrowserGone(t *testing.T) {
	restore := action.Registry.Override("lose_browser", func(action.Options) (action.Action, error) {
		return &spy{name: "lose_browser", err: faults.BrowserGone("websocket closed", nil)}, nil
	})
	defer restore()

	src := &fakeSource{}
	r := New(src, Options{Concurrency: 1})
	set := &PageSet{Pages: []action.Page{page("a", "navigate", "lose_browser"), page("b", "navigate")}}

	report, err := r.Run(context.Background(), set)
	if !faults.Is(err, faults.CodeBrowserGone) {
		t.Fatalf("err = %v, want BROWSER_GONE", err)
	}
	if !report.Aborted {
		t.Fatal("report not marked aborted")
	}
	first, second := report.Results[0], report.Results[1]
	if first.State != Failed || first.FailedStep != 2 || first.FailedAction != "lose_browser" {
		t.Fatalf("first = %+v", first)
	}
	if second.State != NotStarted {
		t.Fatalf("second page state = %v, want not_started", second.State)
	}
	if len(src.opened) != 1 {
		t.Fatalf("opened %d tabs after the browser was gone", len(src.opened))
	}
}

func TestRunnerTabCrashFailsOnlyThatPage(t *testing.T) {
	// Calls on a connection closed by a crash fail BrowserGone with the
	// crash as cause.
	restore := action.Registry.Override("crash_tab", func(action.Options) (action.Action, error) {
		return &spy{name: "crash_tab", err: faults.BrowserGone("inspector connection closed", faults.TabCrash("tab crashed", nil))}, nil
	})
	defer restore()

	src := &fakeSource{}
	r := New(src, Options{Concurrency: 1})
	set := &PageSet{Pages: []action.Page{
		page("a", "collect_garbage", "crash_tab", "collect_garbage"),
		page("b", "collect_garbage"),
	}}

	report, err := r.Run(context.Background(), set)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if report.Aborted {
		t.Fatal("a single tab crash aborted the set")
	}
	a, b := report.Results[0], report.Results[1]
	if a.State != Failed || a.FailedStep != 2 || a.FaultCode != faults.CodeTabCrash {
		t.Fatalf("a = %+v", a)
	}
	if b.State != Completed {
		t.Fatalf("b state = %v (%s), want completed", b.State, b.Error)
	}
	if len(src.opened) != 2 {
		t.Fatalf("opened %d tabs, want 2", len(src.opened))
	}
}

func TestRunnerTabOpenTimeout(t *testing.T) {
	src := &fakeSource{openErr: faults.Timeout("tab registration", nil)}
	r := New(src, Options{})
	report, err := r.Run(context.Background(), &PageSet{Pages: []action.Page{page("a", "navigate"), page("b", "navigate")}})
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range report.Results {
		if res.State != Failed || res.FaultCode != faults.CodeTimeout || res.FailedStep != 0 {
			t.Fatalf("result = %+v", res)
		}
	}
}

func TestRunnerWritesResults(t *testing.T) {
	dir := t.TempDir()
	r := New(&fakeSource{}, Options{ResultsDir: dir})
	report, err := r.Run(context.Background(), &PageSet{Name: "nightly", Pages: []action.Page{page("a", "navigate"), page("b", "collect_garbage")}})
	if err != nil {
		t.Fatal(err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	f, err := os.Open(filepath.Join(dir, date, "nightly", report.RunID+".jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatal(err)
		}
		if m["run_id"] != report.RunID || m["state"] != "completed" {
			t.Fatalf("record = %v", m)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("%d records, want 2", n)
	}
}
