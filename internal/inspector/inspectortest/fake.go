// Package inspectortest provides an in-memory inspector.Transport that
// answers protocol calls from a handler function.
package inspectortest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// Handler answers one call. Return a result value (marshalled as the
// response "result"), a *ProtocolError, NoReply, Raw, or Late.
type Handler func(method string, params json.RawMessage) (any, error)

// ProtocolError is sent back as the response "error" object.
type ProtocolError struct {
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

type noReply struct{}

// NoReply makes the fake swallow the call.
var NoReply = noReply{}

// Raw is written to the connection verbatim instead of a response envelope.
type Raw []byte

// Late delivers Result after Delay.
type Late struct {
	Delay  time.Duration
	Result any
}

// Transport is a fake browser endpoint.
type Transport struct {
	handler Handler

	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu    sync.Mutex
	calls []string
}

func New(h Handler) *Transport {
	if h == nil {
		h = func(string, json.RawMessage) (any, error) { return map[string]any{}, nil }
	}
	return &Transport{
		handler: h,
		in:      make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (t *Transport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.closed:
		return errors.New("inspectortest: transport closed")
	default:
	}

	var req struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	t.mu.Lock()
	t.calls = append(t.calls, req.Method)
	t.mu.Unlock()

	result, err := t.handler(req.Method, req.Params)
	switch r := result.(type) {
	case noReply:
		return nil
	case Raw:
		t.push(r)
		return nil
	case Late:
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			select {
			case <-time.After(r.Delay):
				t.push(respond(req.ID, r.Result, nil))
			case <-t.closed:
			}
		}()
		return nil
	}
	t.push(respond(req.ID, result, err))
	return nil
}

func respond(id int64, result any, err error) []byte {
	msg := map[string]any{"id": id}
	var perr *ProtocolError
	switch {
	case errors.As(err, &perr):
		msg["error"] = map[string]any{"code": perr.Code, "message": perr.Message}
	case err != nil:
		msg["error"] = map[string]any{"code": -32000, "message": err.Error()}
	default:
		if result == nil {
			result = map[string]any{}
		}
		msg["result"] = result
	}
	b, _ := json.Marshal(msg)
	return b
}

func (t *Transport) push(b []byte) {
	select {
	case t.in <- b:
	case <-t.closed:
	}
}

func (t *Transport) Recv() ([]byte, error) {
	select {
	case b := <-t.in:
		return b, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	t.wg.Wait()
	return nil
}

// Emit sends a protocol event to the connection.
func (t *Transport) Emit(method string, params any) {
	b, _ := json.Marshal(map[string]any{"method": method, "params": params})
	t.push(b)
}

// Crash reports the tab as crashed.
func (t *Transport) Crash() { t.Emit("Inspector.targetCrashed", map[string]any{}) }

// Drop simulates the browser process going away.
func (t *Transport) Drop() { _ = t.Close() }

// Calls returns the methods received so far, in order.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Count returns how many times method was called.
func (t *Transport) Count(method string) int {
	n := 0
	for _, m := range t.Calls() {
		if m == method {
			n++
		}
	}
	return n
}
