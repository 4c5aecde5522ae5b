package action

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

// recordingTab logs each call as "method arg".
type recordingTab struct {
	calls    []string
	url      string
	evalRes  json.RawMessage
	evalErr  error
	waitErr  error
	clearErr error
}

func (t *recordingTab) record(s string) { t.calls = append(t.calls, s) }

func (t *recordingTab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	t.record("navigate " + url)
	t.url = url
	return nil
}

func (t *recordingTab) URL(ctx context.Context) (string, error) {
	t.record("url")
	return t.url, nil
}

func (t *recordingTab) EvaluateScript(ctx context.Context, expr string, timeout time.Duration) (json.RawMessage, error) {
	t.record("evaluate")
	if t.evalRes == nil {
		return json.RawMessage("null"), t.evalErr
	}
	return t.evalRes, t.evalErr
}

func (t *recordingTab) WaitForReadyState(ctx context.Context, state webcontents.ReadyState, timeout time.Duration) error {
	t.record("ready " + state.String())
	return t.waitErr
}

func (t *recordingTab) WaitForExpression(ctx context.Context, expr string, timeout time.Duration) error {
	t.record("expr " + expr)
	return t.waitErr
}

func (t *recordingTab) CollectGarbage(ctx context.Context) error {
	t.record("gc")
	return nil
}

func (t *recordingTab) ClearCache(ctx context.Context, timeout time.Duration) error {
	t.record("clear")
	return t.clearErr
}

func mustBuild(t *testing.T, name string, opts Options) Action {
	t.Helper()
	a, err := Build(Spec{Action: name, Options: opts})
	if err != nil {
		t.Fatalf("Build(%s): %v", name, err)
	}
	return a
}

func TestRegisteredVariants(t *testing.T) {
	want := []string{"clear_cache", "collect_garbage", "javascript", "login", "navigate", "reload", "wait"}
	got := Registry.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestBuildUnknownAction(t *testing.T) {
	_, err := Build(Spec{Action: "teleport"})
	if !faults.Is(err, faults.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestBuildBadOptions(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"negative timeout", Spec{Action: "navigate", Options: Options{"timeout": -1.0}}},
		{"bad ready state", Spec{Action: "navigate", Options: Options{"wait_until": "done"}}},
		{"empty wait", Spec{Action: "wait"}},
		{"javascript without expression", Spec{Action: "javascript"}},
		{"login without success", Spec{Action: "login"}},
		{"seconds as string", Spec{Action: "wait", Options: Options{"seconds": "2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.spec)
			if !faults.Is(err, faults.CodeValidation) {
				t.Fatalf("err = %v, want VALIDATION", err)
			}
		})
	}
}

func TestSpecJSON(t *testing.T) {
	var p Page
	raw := `{"name":"home","url":"https://example.com/","actions":[{"action":"reload","timeout":30},{"action":"collect_garbage"}]}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	if len(p.Actions) != 2 || p.Actions[0].Action != "reload" || p.Actions[0].Options["timeout"] != 30.0 {
		t.Fatalf("actions = %+v", p.Actions)
	}
	if _, ok := p.Actions[0].Options["action"]; ok {
		t.Fatal("action key left in options")
	}

	if err := json.Unmarshal([]byte(`{"timeout":3}`), &Spec{}); err == nil {
		t.Fatal("spec without action decoded")
	}
}

func TestReloadNavigatesToCurrentURL(t *testing.T) {
	tab := &recordingTab{url: "https://example.com/a"}
	a := mustBuild(t, "reload", nil)
	if err := a.RunAction(context.Background(), &Page{}, tab, nil); err != nil {
		t.Fatal(err)
	}
	want := "url|navigate https://example.com/a|ready interactive"
	if got := strings.Join(tab.calls, "|"); got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
}

func TestReloadCeiling(t *testing.T) {
	a := mustBuild(t, "reload", Options{"timeout": 600.0})
	if got := a.(*Reload).timeout; got != ReloadCeiling {
		t.Fatalf("timeout = %v, want %v", got, ReloadCeiling)
	}
}

func TestNavigateUsesPageURL(t *testing.T) {
	tab := &recordingTab{}
	a := mustBuild(t, "navigate", Options{"wait_until": "complete"})
	page := &Page{URL: "https://example.com/"}
	if err := a.RunAction(context.Background(), page, tab, nil); err != nil {
		t.Fatal(err)
	}
	want := "navigate https://example.com/|ready complete"
	if got := strings.Join(tab.calls, "|"); got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
}

func TestCollectGarbageDoesNotWait(t *testing.T) {
	tab := &recordingTab{}
	a := mustBuild(t, "collect_garbage", nil)
	if err := a.RunAction(context.Background(), &Page{}, tab, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(tab.calls, "|"); got != "gc" {
		t.Fatalf("calls = %s", got)
	}
}

func TestWaitSkipsSatisfiedReadyState(t *testing.T) {
	tests := []struct {
		name  string
		prev  Action
		state string
		want  string
	}{
		{"after reload interactive", mustBuild(t, "reload", nil), "interactive", ""},
		{"after reload complete", mustBuild(t, "reload", nil), "complete", "ready complete"},
		{"after navigate complete", mustBuild(t, "navigate", Options{"wait_until": "complete"}), "interactive", ""},
		{"after navigate without wait", mustBuild(t, "navigate", Options{"wait_until": "none"}), "loading", "ready loading"},
		{"after gc", mustBuild(t, "collect_garbage", nil), "interactive", "ready interactive"},
		{"first action", nil, "interactive", "ready interactive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tab := &recordingTab{}
			a := mustBuild(t, "wait", Options{"ready_state": tt.state})
			if err := a.RunAction(context.Background(), &Page{}, tab, tt.prev); err != nil {
				t.Fatal(err)
			}
			if got := strings.Join(tab.calls, "|"); got != tt.want {
				t.Fatalf("calls = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWaitSeconds(t *testing.T) {
	a := mustBuild(t, "wait", Options{"seconds": 0.05})
	start := time.Now()
	if err := a.RunAction(context.Background(), &Page{}, &recordingTab{}, nil); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el < 50*time.Millisecond {
		t.Fatalf("returned after %v", el)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a = mustBuild(t, "wait", Options{"seconds": 10})
	if err := a.RunAction(ctx, &Page{}, &recordingTab{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestClearCacheUnsupportedPropagates(t *testing.T) {
	tab := &recordingTab{clearErr: faults.Unsupported("Network.clearBrowserCache")}
	a := mustBuild(t, "clear_cache", nil)
	err := a.RunAction(context.Background(), &Page{}, tab, nil)
	if !faults.Is(err, faults.CodeUnsupported) {
		t.Fatalf("err = %v, want UNSUPPORTED", err)
	}
}

func TestBestEffortOption(t *testing.T) {
	if mustBuild(t, "reload", nil).BestEffort() {
		t.Fatal("reload best effort by default")
	}
	if !mustBuild(t, "reload", Options{"best_effort": true}).BestEffort() {
		t.Fatal("best_effort option ignored")
	}
}

func TestLogin(t *testing.T) {
	creds := map[string]string{"username": "ada", "password": "secret"}

	t.Run("success", func(t *testing.T) {
		tab := &recordingTab{evalRes: json.RawMessage("true")}
		a := mustBuild(t, "login", Options{"success": "!!window.user"})
		if err := a.RunAction(context.Background(), &Page{Credentials: creds}, tab, nil); err != nil {
			t.Fatal(err)
		}
		if got := strings.Join(tab.calls, "|"); got != "evaluate|expr !!window.user" {
			t.Fatalf("calls = %s", got)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		a := mustBuild(t, "login", Options{"success": "true"})
		err := a.RunAction(context.Background(), &Page{}, &recordingTab{}, nil)
		if !faults.Is(err, faults.CodeLogin) {
			t.Fatalf("err = %v, want LOGIN", err)
		}
	})

	t.Run("form missing", func(t *testing.T) {
		tab := &recordingTab{evalRes: json.RawMessage("false")}
		a := mustBuild(t, "login", Options{"success": "true"})
		err := a.RunAction(context.Background(), &Page{Credentials: creds}, tab, nil)
		if !faults.Is(err, faults.CodeLogin) {
			t.Fatalf("err = %v, want LOGIN", err)
		}
	})

	t.Run("success never holds", func(t *testing.T) {
		tab := &recordingTab{evalRes: json.RawMessage("true"), waitErr: faults.Timeout("expr", nil)}
		a := mustBuild(t, "login", Options{"success": "false"})
		err := a.RunAction(context.Background(), &Page{Credentials: creds}, tab, nil)
		if !faults.Is(err, faults.CodeLogin) {
			t.Fatalf("err = %v, want LOGIN", err)
		}
	})

	t.Run("crash passes through", func(t *testing.T) {
		tab := &recordingTab{evalErr: faults.TabCrash("crashed", nil)}
		a := mustBuild(t, "login", Options{"success": "true"})
		err := a.RunAction(context.Background(), &Page{Credentials: creds}, tab, nil)
		if !faults.Is(err, faults.CodeTabCrash) {
			t.Fatalf("err = %v, want TAB_CRASH", err)
		}
	})
}
