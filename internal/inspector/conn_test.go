package inspector_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/inspector"
	"github.com/dgnsrekt/pagerun/internal/inspector/inspectortest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSyncRequestReturnsResult(t *testing.T) {
	ft := inspectortest.New(func(method string, params json.RawMessage) (any, error) {
		if method != "Runtime.evaluate" {
			t.Errorf("method = %q", method)
		}
		if !strings.Contains(string(params), `"expression":"1+1"`) {
			t.Errorf("params = %s", params)
		}
		return map[string]any{"result": map[string]any{"type": "number", "value": 2}}, nil
	})
	c := inspector.New(ft)
	defer c.Close()

	var out struct {
		Result struct {
			Value int `json:"value"`
		} `json:"result"`
	}
	err := c.Call(context.Background(), "Runtime.evaluate", map[string]any{"expression": "1+1"}, &out, time.Second)
	if err != nil {
		t.Fatalf("Call() = %v", err)
	}
	if out.Result.Value != 2 {
		t.Fatalf("value = %d; want 2", out.Result.Value)
	}
}

func TestSyncRequestTimeoutDiscardsLateResponse(t *testing.T) {
	first := true
	ft := inspectortest.New(func(method string, params json.RawMessage) (any, error) {
		if first {
			first = false
			return inspectortest.Late{Delay: 80 * time.Millisecond, Result: map[string]any{"stale": true}}, nil
		}
		return map[string]any{"fresh": true}, nil
	})
	c := inspector.New(ft)
	defer c.Close()

	_, err := c.SyncRequest(context.Background(), "Page.reload", nil, 20*time.Millisecond)
	if !faults.Is(err, faults.CodeTimeout) {
		t.Fatalf("SyncRequest() = %v; want timeout", err)
	}

	// Let the stale response arrive; it must not be handed to the next call.
	time.Sleep(120 * time.Millisecond)
	raw, err := c.SyncRequest(context.Background(), "Page.reload", nil, time.Second)
	if err != nil {
		t.Fatalf("SyncRequest() = %v", err)
	}
	if !strings.Contains(string(raw), "fresh") {
		t.Fatalf("got %s; want the fresh response", raw)
	}
	if c.Closed() {
		t.Fatal("timeout must not close the connection")
	}
}

func TestClosedConnFailsImmediately(t *testing.T) {
	ft := inspectortest.New(nil)
	c := inspector.New(ft)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}

	start := time.Now()
	_, err := c.SyncRequest(context.Background(), "Page.navigate", nil, 5*time.Second)
	if !faults.Is(err, faults.CodeBrowserGone) {
		t.Fatalf("SyncRequest() = %v; want BrowserGone", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("SyncRequest on closed conn blocked")
	}
	if len(ft.Calls()) != 0 {
		t.Fatalf("closed conn sent %v", ft.Calls())
	}
}

func TestTargetCrashedFailsWaiterWithTabCrash(t *testing.T) {
	ft := inspectortest.New(func(string, json.RawMessage) (any, error) {
		return inspectortest.NoReply, nil
	})
	c := inspector.New(ft)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.SyncRequest(context.Background(), "Runtime.evaluate", nil, 5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ft.Crash()

	select {
	case err := <-errCh:
		if !faults.Is(err, faults.CodeTabCrash) {
			t.Fatalf("SyncRequest() = %v; want TabCrash", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by crash")
	}

	<-c.Done()
	if _, err := c.SyncRequest(context.Background(), "Runtime.evaluate", nil, time.Second); !faults.Is(err, faults.CodeBrowserGone) {
		t.Fatalf("call after crash = %v; want BrowserGone", err)
	}
	if !faults.Is(c.Err(), faults.CodeTabCrash) {
		t.Fatalf("Err() = %v; want TabCrash", c.Err())
	}
}

func TestTransportLossIsBrowserGone(t *testing.T) {
	ft := inspectortest.New(func(string, json.RawMessage) (any, error) {
		return inspectortest.NoReply, nil
	})
	c := inspector.New(ft)
	defer c.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		ft.Drop()
	}()
	_, err := c.SyncRequest(context.Background(), "Page.navigate", nil, 5*time.Second)
	if !faults.Is(err, faults.CodeBrowserGone) {
		t.Fatalf("SyncRequest() = %v; want BrowserGone", err)
	}
}

func TestMalformedResponseCarriesPayload(t *testing.T) {
	const truncated = `{"id":1,"result":{"value":`
	ft := inspectortest.New(func(string, json.RawMessage) (any, error) {
		return inspectortest.Raw(truncated), nil
	})
	c := inspector.New(ft)
	defer c.Close()

	_, err := c.SyncRequest(context.Background(), "Runtime.evaluate", nil, time.Second)
	var fe *faults.Error
	if !errors.As(err, &fe) || fe.Code != faults.CodeEvaluate {
		t.Fatalf("SyncRequest() = %v; want Evaluate", err)
	}
	if string(fe.Payload) != truncated {
		t.Fatalf("payload = %q; want %q", fe.Payload, truncated)
	}
}

func TestProtocolErrorIsEvaluate(t *testing.T) {
	ft := inspectortest.New(func(string, json.RawMessage) (any, error) {
		return nil, &inspectortest.ProtocolError{Code: -32601, Message: "'Foo.bar' wasn't found"}
	})
	c := inspector.New(ft)
	defer c.Close()

	_, err := c.SyncRequest(context.Background(), "Foo.bar", nil, time.Second)
	if !faults.Is(err, faults.CodeEvaluate) {
		t.Fatalf("SyncRequest() = %v; want Evaluate", err)
	}
	if !strings.Contains(err.Error(), "wasn't found") {
		t.Fatalf("error %q lost the protocol message", err)
	}
	if !inspector.IsMethodNotFound(err) {
		t.Fatalf("IsMethodNotFound(%v) = false", err)
	}
	if inspector.IsMethodNotFound(faults.Evaluate("x", nil, nil)) {
		t.Fatal("IsMethodNotFound true without a protocol error")
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	ft := inspectortest.New(nil)
	c := inspector.New(ft)
	defer c.Close()

	got := make(chan string, 1)
	unsubscribe := c.Subscribe("Page.loadEventFired", func(params json.RawMessage) {
		got <- string(params)
	})
	defer unsubscribe()

	ft.Emit("Page.loadEventFired", map[string]any{"timestamp": 1.5})
	select {
	case p := <-got:
		if !strings.Contains(p, "1.5") {
			t.Fatalf("params = %s", p)
		}
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}
}
