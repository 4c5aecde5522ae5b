package measure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dgnsrekt/pagerun/internal/action"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

type stubTab struct {
	state webcontents.ReadyState
	url   string
	eval  string
}

func (s stubTab) URL(context.Context) (string, error) { return s.url, nil }

func (s stubTab) ReadyState(context.Context) (webcontents.ReadyState, error) { return s.state, nil }

func (s stubTab) EvaluateScript(context.Context, string, time.Duration) (json.RawMessage, error) {
	return json.RawMessage(s.eval), nil
}

func TestBuild(t *testing.T) {
	ms, err := Build([]string{"navigation_timing", "ready_state"})
	if err != nil {
		t.Fatal(err)
	}
	if ms[0].Name() != "navigation_timing" || ms[1].Name() != "ready_state" {
		t.Fatalf("order lost: %s, %s", ms[0].Name(), ms[1].Name())
	}
	if _, err := Build([]string{"fps"}); !faults.Is(err, faults.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestReadyState(t *testing.T) {
	tab := stubTab{state: webcontents.ReadyComplete, url: "https://example.com/"}
	got, err := readyState{}.Measure(context.Background(), &action.Page{}, tab)
	if err != nil {
		t.Fatal(err)
	}
	if got["ready_state"] != "complete" || got["url"] != "https://example.com/" {
		t.Fatalf("got %v", got)
	}
}

func TestNavigationTiming(t *testing.T) {
	tab := stubTab{eval: `{"navigationStart":1000,"responseEnd":1200,"loadEventEnd":1500,"toJSON":null}`}
	got, err := navigationTiming{}.Measure(context.Background(), &action.Page{}, tab)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got["navigationStart"] != int64(1000) || got["loadEventEnd"] != int64(1500) {
		t.Fatalf("got %v", got)
	}

	_, err = navigationTiming{}.Measure(context.Background(), &action.Page{URL: "x"}, stubTab{eval: "null"})
	if !faults.Is(err, faults.CodeEvaluate) {
		t.Fatalf("err = %v, want EVALUATE", err)
	}
}
