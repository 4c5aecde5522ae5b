// Package tabs keeps a live, indexable view of a browser's page targets and
// hands out connected Tabs for them.
//
// The view is not a snapshot: Len, At and All re-read the browser listing on
// every call, so a tab may vanish between two calls. Using a Tab whose target
// is gone fails with a TabCrash fault.
package tabs

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/inspector"
	"github.com/dgnsrekt/pagerun/internal/wait"
	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

// Dialer opens a transport to a target's debugger URL.
type Dialer func(ctx context.Context, wsURL string) (inspector.Transport, error)

type Options struct {
	Dial         Dialer
	Contents     webcontents.Options
	PollInterval time.Duration
	// BlankURL is loaded into tabs opened by New.
	BlankURL string
}

// Tab is a page target with its own inspector connection.
type Tab struct {
	*webcontents.WebContents

	info  TargetInfo
	owner *Collection
}

func (t *Tab) ID() target.ID      { return t.info.ID }
func (t *Tab) Info() TargetInfo   { return t.info }
func (t *Tab) String() string     { return string(t.info.ID) }
func (t *Tab) Owner() *Collection { return t.owner }

// Disconnect releases the connection and forgets the tab. The target stays open.
func (t *Tab) Disconnect() {
	t.owner.forget(t.info.ID, t)
	t.WebContents.Disconnect()
}

// Close disconnects, then closes the browser target.
func (t *Tab) Close(ctx context.Context) error {
	t.Disconnect()
	if err := t.owner.lister.Close(ctx, t.info.ID); err != nil {
		return fmt.Errorf("close tab %s: %w", t.info.ID, err)
	}
	return nil
}

// Activate brings the tab to the foreground.
func (t *Tab) Activate(ctx context.Context) error {
	return t.owner.lister.Activate(ctx, t.info.ID)
}

// Collection is the set of live page targets of one browser.
type Collection struct {
	lister Lister
	opts   Options

	mu   sync.Mutex
	tabs map[target.ID]*Tab
}

func NewCollection(lister Lister, opts Options) *Collection {
	if opts.Dial == nil {
		opts.Dial = inspector.Dial
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = wait.DefaultInterval
	}
	if opts.BlankURL == "" {
		opts.BlankURL = "about:blank"
	}
	return &Collection{
		lister: lister,
		opts:   opts,
		tabs:   make(map[target.ID]*Tab),
	}
}

// New opens a tab and waits up to timeout for the browser to list it.
func (c *Collection) New(ctx context.Context, timeout time.Duration) (*Tab, error) {
	created, err := c.lister.Create(ctx, c.opts.BlankURL)
	if err != nil {
		return nil, faults.BrowserGone("create tab failed", err)
	}
	slog.Debug("tabs created target", "target_id", created.ID)

	var info TargetInfo
	err = wait.Poll(ctx, func(ctx context.Context) (bool, error) {
		pages, err := c.pages(ctx)
		if err != nil {
			return false, err
		}
		for _, p := range pages {
			if p.ID == created.ID {
				info = p
				return true, nil
			}
		}
		return false, nil
	}, &wait.Options{Timeout: timeout, Interval: c.opts.PollInterval, Desc: "tab " + string(created.ID) + " registration"})
	if err != nil {
		if closeErr := c.lister.Close(context.Background(), created.ID); closeErr != nil {
			slog.Debug("tabs close of unregistered target failed", "target_id", created.ID, "error", closeErr)
		}
		return nil, err
	}
	return c.tabFor(ctx, info)
}

// Len returns the number of live page targets.
func (c *Collection) Len(ctx context.Context) (int, error) {
	pages, err := c.pages(ctx)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

// At returns the tab at index i of the browser's listing order.
func (c *Collection) At(ctx context.Context, i int) (*Tab, error) {
	pages, err := c.pages(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(pages) {
		return nil, faults.Index(i, len(pages))
	}
	return c.tabFor(ctx, pages[i])
}

// Get returns the tab for id. A tab handed out earlier whose target has since
// disappeared yields TabCrash; an id never seen yields NotFound.
func (c *Collection) Get(ctx context.Context, id target.ID) (*Tab, error) {
	pages, err := c.pages(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.ID == id {
			return c.tabFor(ctx, p)
		}
	}

	c.mu.Lock()
	stale, known := c.tabs[id]
	c.mu.Unlock()
	if known {
		stale.Disconnect()
		return nil, faults.TabCrash("tab "+string(id)+" is gone", nil)
	}
	return nil, faults.NotFound("no tab " + string(id))
}

// All yields the live tabs in listing order. On error it yields (nil, err)
// once and stops.
func (c *Collection) All(ctx context.Context) iter.Seq2[*Tab, error] {
	return func(yield func(*Tab, error) bool) {
		pages, err := c.pages(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, p := range pages {
			tab, err := c.tabFor(ctx, p)
			if !yield(tab, err) || err != nil {
				return
			}
		}
	}
}

// Close disconnects every tab handed out by the collection.
func (c *Collection) Close() {
	c.mu.Lock()
	open := make([]*Tab, 0, len(c.tabs))
	for _, t := range c.tabs {
		open = append(open, t)
	}
	c.mu.Unlock()
	for _, t := range open {
		t.Disconnect()
	}
}

// pages lists the page targets in browser order.
func (c *Collection) pages(ctx context.Context) ([]TargetInfo, error) {
	all, err := c.lister.List(ctx)
	if err != nil {
		return nil, faults.BrowserGone("list tabs failed", err)
	}
	pages := make([]TargetInfo, 0, len(all))
	for _, t := range all {
		if t.Type == "page" {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

func (c *Collection) tabFor(ctx context.Context, info TargetInfo) (*Tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tabs[info.ID]; ok {
		select {
		case <-t.Done():
			// Connection lost; reconnect below if the target is still listed.
			delete(c.tabs, info.ID)
		default:
			return t, nil
		}
	}

	if info.WebSocketDebuggerURL == "" {
		return nil, faults.Unsupported("debugger url for tab " + string(info.ID))
	}
	tr, err := c.opts.Dial(ctx, info.WebSocketDebuggerURL)
	if err != nil {
		return nil, faults.TabCrash("connect to tab "+string(info.ID)+" failed", err)
	}

	t := &Tab{
		info:  info,
		owner: c,
	}
	t.WebContents = webcontents.New(inspector.New(c.watch(tr, info.ID)), c.opts.Contents)
	c.tabs[info.ID] = t
	slog.Info("tabs connected", "target_id", info.ID, "url", info.URL)
	return t, nil
}

func (c *Collection) forget(id target.ID, t *Tab) {
	c.mu.Lock()
	if c.tabs[id] == t {
		delete(c.tabs, id)
	}
	c.mu.Unlock()
}
