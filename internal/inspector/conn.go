// Package inspector implements the request/response channel to a single
// browser tab over the remote debugging protocol.
//
// Calls are synchronous for the caller: SyncRequest blocks until the matching
// response, a per-call timeout, or the loss of the tab or browser. Responses
// are correlated by request id, so several callers may share one Conn, but
// each call site waits for one call at a time.
package inspector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

type eventHandler struct {
	id int64
	fn func(params json.RawMessage)
}

// Conn is a logical connection to one tab. The zero value is not usable; use New.
type Conn struct {
	t   Transport
	seq atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan []byte
	closed   bool
	closeErr error

	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

// New takes ownership of t and starts reading from it.
func New(t Transport) *Conn {
	c := &Conn{
		t:             t,
		pending:       make(map[int64]chan []byte),
		done:          make(chan struct{}),
		loopDone:      make(chan struct{}),
		eventHandlers: make(map[string][]eventHandler),
	}
	go c.readLoop()
	return c
}

// SyncRequest sends method with params and waits for the response result.
//
// It fails with faults.CodeTimeout when timeout (or ctx's deadline) passes
// first, with TabCrash or BrowserGone when the tab or
// browser goes away while waiting, and with Evaluate when the browser answers
// with a protocol error or a payload that cannot be parsed. A closed Conn
// fails immediately with BrowserGone.
func (c *Conn) SyncRequest(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := c.seq.Add(1)
	ch := make(chan []byte, 1)

	c.mu.Lock()
	if c.closed {
		cause := c.closeErr
		c.mu.Unlock()
		return nil, faults.BrowserGone("inspector connection closed", cause)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		c.deletePending(id)
		return nil, fmt.Errorf("inspector: marshal %s: %w", method, err)
	}

	if err := c.t.Send(ctx, data); err != nil {
		c.deletePending(id)
		gone := faults.BrowserGone("inspector send failed", err)
		c.shutdown(gone)
		return nil, gone
	}

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case raw := <-ch:
		return decodeResponse(method, raw)
	case <-c.done:
		return nil, c.Err()
	case <-timer:
		c.deletePending(id)
		return nil, faults.Timeout(fmt.Sprintf("%s timed out after %v", method, timeout), nil)
	case <-ctx.Done():
		c.deletePending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, faults.Timeout(method+" timed out", ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// Call is SyncRequest followed by decoding the result into out (if non-nil).
func (c *Conn) Call(ctx context.Context, method string, params, out any, timeout time.Duration) error {
	raw, err := c.SyncRequest(ctx, method, params, timeout)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return faults.Evaluate("invalid "+method+" result", err, raw)
	}
	return nil
}

// MethodNotFound is the protocol error code for a method the browser does
// not implement.
const MethodNotFound = -32601

// ProtocolError is the error object of a protocol response. It is the cause
// of the Evaluate fault SyncRequest returns for it.
type ProtocolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// IsMethodNotFound reports whether err carries a MethodNotFound protocol error.
func IsMethodNotFound(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Code == MethodNotFound
}

func decodeResponse(method string, raw []byte) (json.RawMessage, error) {
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *ProtocolError  `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, faults.Evaluate("malformed response to "+method, err, raw)
	}
	if resp.Error != nil {
		return nil, faults.Evaluate(method, resp.Error, raw)
	}
	return resp.Result, nil
}

// Subscribe registers fn for a protocol event (e.g. "Page.loadEventFired").
// Handlers run on the read loop and must not block or call Close.
func (c *Conn) Subscribe(method string, fn func(params json.RawMessage)) func() {
	id := c.seq.Add(1)
	c.eventMu.Lock()
	c.eventHandlers[method] = append(c.eventHandlers[method], eventHandler{id: id, fn: fn})
	c.eventMu.Unlock()
	return func() {
		c.eventMu.Lock()
		defer c.eventMu.Unlock()
		handlers := c.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				c.eventHandlers[method] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// Close releases the transport. It is safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(faults.BrowserGone("inspector connection closed", nil))
	<-c.loopDone
	return nil
}

// Closed reports whether the connection can no longer issue calls.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed once the connection is closed for any reason.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection closed, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Conn) readLoop() {
	defer close(c.loopDone)
	for {
		data, err := c.t.Recv()
		if err != nil {
			slog.Debug("inspector read loop exit", "error", err)
			// Transports that can tell a closed tab from a dead browser
			// return a typed fault.
			if faults.CodeOf(err) == "" {
				err = faults.BrowserGone("inspector connection lost", err)
			}
			c.shutdown(err)
			return
		}

		// gjson tolerates truncated payloads, so a response whose body is
		// malformed still reaches its caller, who reports it with the raw bytes.
		if id := gjson.GetBytes(data, "id").Int(); id > 0 {
			c.deliver(id, data)
			continue
		}

		method := gjson.GetBytes(data, "method").String()
		if method == "" {
			slog.Debug("inspector dropping unrecognised message", "bytes", len(data))
			continue
		}
		params := json.RawMessage(gjson.GetBytes(data, "params").Raw)
		c.dispatchEvent(method, params)

		switch cdproto.MethodType(method) {
		case cdproto.EventInspectorTargetCrashed:
			slog.Warn("inspector target crashed")
			c.shutdown(faults.TabCrash("tab crashed", nil))
		case cdproto.EventInspectorDetached:
			reason := gjson.GetBytes(params, "reason").String()
			slog.Warn("inspector detached", "reason", reason)
			c.shutdown(faults.BrowserGone("inspector detached: "+reason, nil))
		}
	}
}

// deliver hands a response to its waiter. Responses for calls that already
// timed out have no pending entry and are dropped.
func (c *Conn) deliver(id int64, data []byte) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		slog.Debug("inspector discarding late response", "id", id)
		return
	}
	ch <- data
}

func (c *Conn) deletePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) dispatchEvent(method string, params json.RawMessage) {
	c.eventMu.RLock()
	handlers := make([]eventHandler, len(c.eventHandlers[method]))
	copy(handlers, c.eventHandlers[method])
	c.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(params)
	}
}

// shutdown marks the connection closed with cause and wakes every waiter.
// Only the first cause is kept.
func (c *Conn) shutdown(cause error) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		c.pending = make(map[int64]chan []byte)
		c.mu.Unlock()

		close(c.done)
		if err := c.t.Close(); err != nil {
			slog.Debug("inspector transport close failed", "error", err)
		}
	})
}
