// Package action defines page actions: the scripted steps a runner performs
// against a tab during one page run.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgnsrekt/pagerun/internal/discover"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

// Tab is what actions need from a tab.
type Tab interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	URL(ctx context.Context) (string, error)
	EvaluateScript(ctx context.Context, expr string, timeout time.Duration) (json.RawMessage, error)
	WaitForReadyState(ctx context.Context, state webcontents.ReadyState, timeout time.Duration) error
	WaitForExpression(ctx context.Context, expr string, timeout time.Duration) error
	CollectGarbage(ctx context.Context) error
	ClearCache(ctx context.Context, timeout time.Duration) error
}

// Action is one step of a page run. Options are fixed at construction, so an
// Action may run any number of times. prev is the action that ran just before
// on the same tab (nil for the first) and is only a hint.
type Action interface {
	Name() string
	RunAction(ctx context.Context, page *Page, tab Tab, prev Action) error
	// BestEffort actions may time out without failing the page.
	BestEffort() bool
}

// Factory builds an action from its options.
type Factory func(opts Options) (Action, error)

// Registry holds every action variant, keyed by name.
var Registry = discover.New[Factory]("actions")

// Page is one entry of a page set.
type Page struct {
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	Actions      []Spec            `json:"actions"`
	Measurements []string          `json:"measurements,omitempty"`
	Credentials  map[string]string `json:"credentials,omitempty"`
}

// DisplayName returns Name, falling back to URL.
func (p *Page) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.URL
}

// Spec is an action as written in a page set: {"action": "reload", "timeout": 30}.
type Spec struct {
	Action  string
	Options Options
}

func (s *Spec) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	name, _ := m["action"].(string)
	if name == "" {
		return fmt.Errorf("action spec without \"action\": %s", b)
	}
	delete(m, "action")
	s.Action = name
	s.Options = m
	return nil
}

func (s Spec) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Options)+1)
	for k, v := range s.Options {
		m[k] = v
	}
	m["action"] = s.Action
	return json.Marshal(m)
}

// Build constructs the action named by spec.
func Build(spec Spec) (Action, error) {
	f, err := Registry.Lookup(spec.Action)
	if err != nil {
		return nil, err
	}
	a, err := f(spec.Options)
	if err != nil {
		return nil, faults.Validation(fmt.Sprintf("action %s: %v", spec.Action, err))
	}
	return a, nil
}

// BuildAll constructs a page's action list in order.
func BuildAll(specs []Spec) ([]Action, error) {
	out := make([]Action, 0, len(specs))
	for i, s := range specs {
		a, err := Build(s)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i+1, err)
		}
		out = append(out, a)
	}
	return out, nil
}

type base struct {
	name       string
	bestEffort bool
}

func newBase(name string, opts Options) base {
	return base{name: name, bestEffort: opts.Bool("best_effort", false)}
}

func (b base) Name() string     { return b.name }
func (b base) BestEffort() bool { return b.bestEffort }

// readyWaiter is implemented by actions that leave the tab in a known ready state.
type readyWaiter interface {
	WaitedFor() (webcontents.ReadyState, bool)
}
