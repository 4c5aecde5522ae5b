// Package webcontents wraps an inspector connection with page-level
// operations: navigation, script evaluation, ready-state waits, garbage
// collection and cache clearing.
package webcontents

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/heapprofiler"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/inspector"
	"github.com/dgnsrekt/pagerun/internal/wait"
)

// canClearBrowserCache is the capability probe for Network.clearBrowserCache.
// Current browsers dropped it; a browser that does not know the probe is
// treated as unable to clear.
const canClearBrowserCache = "Network.canClearBrowserCache"

// DefaultCallTimeout bounds a single protocol call when Options leaves it unset.
const DefaultCallTimeout = 60 * time.Second

type Options struct {
	CallTimeout  time.Duration
	PollInterval time.Duration
}

// WebContents drives one tab through the connection it owns.
type WebContents struct {
	conn *inspector.Conn
	opts Options

	disconnectOnce sync.Once
}

// New takes ownership of conn. Disconnect releases it.
func New(conn *inspector.Conn, opts Options) *WebContents {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = wait.DefaultInterval
	}
	return &WebContents{conn: conn, opts: opts}
}

// Navigate loads url and returns once the browser accepted the navigation.
func (w *WebContents) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	params := struct {
		URL string `json:"url"`
	}{URL: url}

	raw, err := w.conn.SyncRequest(ctx, page.CommandNavigate, params, w.timeout(timeout))
	if err != nil {
		return err
	}
	res := gjson.ParseBytes(raw)
	if text := res.Get("errorText").String(); text != "" {
		return faults.Evaluate("navigate "+url+": "+text, nil, raw)
	}
	slog.Debug("webcontents navigated", "url", url, "frame_id", res.Get("frameId").String())
	return nil
}

// Reload reloads the current document.
func (w *WebContents) Reload(ctx context.Context, ignoreCache bool) error {
	params := struct {
		IgnoreCache bool `json:"ignoreCache,omitempty"`
	}{IgnoreCache: ignoreCache}
	_, err := w.conn.SyncRequest(ctx, page.CommandReload, params, w.opts.CallTimeout)
	return err
}

// EvaluateScript evaluates expr in the page and returns the JSON value of
// the result. Promises are awaited. A thrown exception is reported as an
// Evaluate fault.
func (w *WebContents) EvaluateScript(ctx context.Context, expr string, timeout time.Duration) (json.RawMessage, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: expr, ReturnByValue: true, AwaitPromise: true}

	raw, err := w.conn.SyncRequest(ctx, runtime.CommandEvaluate, params, w.timeout(timeout))
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(raw)
	if exc := res.Get("exceptionDetails"); exc.Exists() {
		msg := exc.Get("exception.description").String()
		if msg == "" {
			msg = exc.Get("text").String()
		}
		return nil, faults.Evaluate("script raised: "+msg, nil, raw)
	}
	value := res.Get("result.value")
	if !value.Exists() {
		// undefined and non-serialisable values come back without a value.
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(value.Raw), nil
}

// Evaluate runs expr and decodes its value into out.
func (w *WebContents) Evaluate(ctx context.Context, expr string, out any) error {
	raw, err := w.EvaluateScript(ctx, expr, 0)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return faults.Evaluate("unexpected result of "+expr, err, raw)
	}
	return nil
}

// URL returns the document URL.
func (w *WebContents) URL(ctx context.Context) (string, error) {
	var u string
	err := w.Evaluate(ctx, "window.location.href", &u)
	return u, err
}

// ReadyState returns document.readyState.
func (w *WebContents) ReadyState(ctx context.Context) (ReadyState, error) {
	var s string
	if err := w.Evaluate(ctx, "document.readyState", &s); err != nil {
		return ReadyLoading, err
	}
	return ParseReadyState(s)
}

// WaitForReadyState blocks until the document reaches state or better.
func (w *WebContents) WaitForReadyState(ctx context.Context, state ReadyState, timeout time.Duration) error {
	return wait.Poll(ctx, func(ctx context.Context) (bool, error) {
		cur, err := w.ReadyState(ctx)
		if err != nil {
			return false, err
		}
		return cur.AtLeast(state), nil
	}, &wait.Options{
		Timeout:  timeout,
		Interval: w.opts.PollInterval,
		Desc:     "ready state " + state.String(),
	})
}

// WaitForExpression blocks until expr evaluates truthy.
func (w *WebContents) WaitForExpression(ctx context.Context, expr string, timeout time.Duration) error {
	return wait.Poll(ctx, func(ctx context.Context) (bool, error) {
		var ok bool
		if err := w.Evaluate(ctx, "!!("+expr+")", &ok); err != nil {
			return false, err
		}
		return ok, nil
	}, &wait.Options{
		Timeout:  timeout,
		Interval: w.opts.PollInterval,
		Desc:     "expression " + expr,
	})
}

// CollectGarbage forces a garbage collection in the page's JS heap.
func (w *WebContents) CollectGarbage(ctx context.Context) error {
	_, err := w.conn.SyncRequest(ctx, heapprofiler.CommandCollectGarbage, nil, w.opts.CallTimeout)
	return err
}

// ClearCache clears the browser cache. The browser is asked first whether it
// can; if not, an Unsupported fault is returned and nothing is cleared. The
// probe and the clear are not atomic.
func (w *WebContents) ClearCache(ctx context.Context, timeout time.Duration) error {
	raw, err := w.conn.SyncRequest(ctx, canClearBrowserCache, nil, w.timeout(timeout))
	if inspector.IsMethodNotFound(err) {
		return faults.Unsupported(network.CommandClearBrowserCache)
	}
	if err != nil {
		return err
	}
	if !gjson.GetBytes(raw, "result").Bool() {
		return faults.Unsupported(network.CommandClearBrowserCache)
	}
	_, err = w.conn.SyncRequest(ctx, network.CommandClearBrowserCache, nil, w.timeout(timeout))
	return err
}

// Disconnect releases the connection. Further calls are no-ops.
func (w *WebContents) Disconnect() {
	w.disconnectOnce.Do(func() {
		if err := w.conn.Close(); err != nil {
			slog.Debug("webcontents disconnect failed", "error", err)
		}
	})
}

// Done is closed when the connection is lost or released.
func (w *WebContents) Done() <-chan struct{} { return w.conn.Done() }

// Err reports why the connection closed.
func (w *WebContents) Err() error { return w.conn.Err() }

// Conn exposes the underlying connection for raw protocol calls.
func (w *WebContents) Conn() *inspector.Conn { return w.conn }

func (w *WebContents) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return w.opts.CallTimeout
}
