package tabs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

// TargetInfo is one entry of the browser's target listing.
type TargetInfo struct {
	ID                   target.ID `json:"id"`
	Type                 string    `json:"type"`
	Title                string    `json:"title"`
	URL                  string    `json:"url"`
	WebSocketDebuggerURL string    `json:"webSocketDebuggerUrl"`
}

// Lister is the browser-level listing service behind a Collection.
type Lister interface {
	List(ctx context.Context) ([]TargetInfo, error)
	Create(ctx context.Context, url string) (TargetInfo, error)
	Close(ctx context.Context, id target.ID) error
	Activate(ctx context.Context, id target.ID) error
}

// HTTPLister talks to the DevTools HTTP endpoints (/json/list, /json/new, ...).
type HTTPLister struct {
	Base   string // e.g. "http://127.0.0.1:9222"
	Client *http.Client
}

func NewHTTPLister(base string) *HTTPLister {
	return &HTTPLister{Base: strings.TrimRight(base, "/")}
}

func (l *HTTPLister) List(ctx context.Context) ([]TargetInfo, error) {
	var out []TargetInfo
	if err := l.do(ctx, http.MethodGet, "/json/list", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *HTTPLister) Create(ctx context.Context, u string) (TargetInfo, error) {
	var out TargetInfo
	err := l.do(ctx, http.MethodPut, "/json/new?"+url.QueryEscape(u), &out)
	return out, err
}

func (l *HTTPLister) Close(ctx context.Context, id target.ID) error {
	return l.do(ctx, http.MethodGet, "/json/close/"+string(id), nil)
}

func (l *HTTPLister) Activate(ctx context.Context, id target.ID) error {
	return l.do(ctx, http.MethodGet, "/json/activate/"+string(id), nil)
}

func (l *HTTPLister) do(ctx context.Context, method, path string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, l.Base+path, nil)
	if err != nil {
		return err
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return faults.NotFound(fmt.Sprintf("%s: %s", path, strings.TrimSpace(string(body))))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tabs: %s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("tabs: decode %s: %w", path, err)
	}
	return nil
}
