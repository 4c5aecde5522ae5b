// Package measure reads raw values out of a tab after its page run
// completed. It does not compute metrics.
package measure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/pagerun/internal/action"
	"github.com/dgnsrekt/pagerun/internal/discover"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

// Tab is what measurements read from.
type Tab interface {
	URL(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (webcontents.ReadyState, error)
	EvaluateScript(ctx context.Context, expr string, timeout time.Duration) (json.RawMessage, error)
}

type Measurement interface {
	Name() string
	Measure(ctx context.Context, page *action.Page, tab Tab) (map[string]any, error)
}

var Registry = discover.New[func() Measurement]("measurements")

func init() {
	Registry.Register("ready_state", func() Measurement { return readyState{} })
	Registry.Register("navigation_timing", func() Measurement { return navigationTiming{} })
}

// Build looks up each name and returns the measurements in order.
func Build(names []string) ([]Measurement, error) {
	out := make([]Measurement, 0, len(names))
	for _, n := range names {
		f, err := Registry.Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f())
	}
	return out, nil
}

type readyState struct{}

func (readyState) Name() string { return "ready_state" }

func (readyState) Measure(ctx context.Context, page *action.Page, tab Tab) (map[string]any, error) {
	rs, err := tab.ReadyState(ctx)
	if err != nil {
		return nil, err
	}
	u, err := tab.URL(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ready_state": rs.String(), "url": u}, nil
}

// timingFields are the performance.timing entries recorded, in the order the
// browser fills them in.
var timingFields = []string{
	"navigationStart",
	"fetchStart",
	"domainLookupStart",
	"domainLookupEnd",
	"connectStart",
	"connectEnd",
	"requestStart",
	"responseStart",
	"responseEnd",
	"domLoading",
	"domInteractive",
	"domContentLoadedEventEnd",
	"domComplete",
	"loadEventEnd",
}

type navigationTiming struct{}

func (navigationTiming) Name() string { return "navigation_timing" }

func (navigationTiming) Measure(ctx context.Context, page *action.Page, tab Tab) (map[string]any, error) {
	raw, err := tab.EvaluateScript(ctx, "JSON.parse(JSON.stringify(performance.timing))", 0)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return nil, faults.Evaluate(fmt.Sprintf("performance.timing on %s", page.DisplayName()), nil, raw)
	}
	out := make(map[string]any, len(timingFields))
	for _, f := range timingFields {
		if v := res.Get(f); v.Exists() {
			out[f] = v.Int()
		}
	}
	return out, nil
}
