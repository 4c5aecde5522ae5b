package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

const (
	// ReloadCeiling bounds how long a reload may take to become interactive.
	ReloadCeiling = 60 * time.Second

	defaultNavigateTimeout = 60 * time.Second
)

func init() {
	Registry.Register("navigate", newNavigate)
	Registry.Register("reload", newReload)
}

// Navigate loads a URL (the page's by default) and waits for a ready state.
type Navigate struct {
	base
	url     string
	until   webcontents.ReadyState
	doWait  bool
	timeout time.Duration
}

func newNavigate(opts Options) (Action, error) {
	until, doWait, err := opts.ReadyState("wait_until", webcontents.ReadyInteractive)
	if err != nil {
		return nil, err
	}
	timeout, err := opts.Seconds("timeout", defaultNavigateTimeout)
	if err != nil {
		return nil, err
	}
	return &Navigate{
		base:    newBase("navigate", opts),
		url:     opts.String("url", ""),
		until:   until,
		doWait:  doWait,
		timeout: timeout,
	}, nil
}

func (a *Navigate) RunAction(ctx context.Context, page *Page, tab Tab, prev Action) error {
	url := a.url
	if url == "" {
		url = page.URL
	}
	if url == "" {
		return fmt.Errorf("navigate: no url for page %q", page.DisplayName())
	}
	if err := tab.Navigate(ctx, url, a.timeout); err != nil {
		return err
	}
	if !a.doWait {
		return nil
	}
	return tab.WaitForReadyState(ctx, a.until, a.timeout)
}

func (a *Navigate) WaitedFor() (webcontents.ReadyState, bool) { return a.until, a.doWait }

// Reload navigates to the current URL and waits, up to ReloadCeiling, for
// the document to become interactive or better.
type Reload struct {
	base
	timeout time.Duration
}

func newReload(opts Options) (Action, error) {
	timeout, err := opts.Seconds("timeout", ReloadCeiling)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 || timeout > ReloadCeiling {
		timeout = ReloadCeiling
	}
	return &Reload{base: newBase("reload", opts), timeout: timeout}, nil
}

func (a *Reload) RunAction(ctx context.Context, page *Page, tab Tab, prev Action) error {
	url, err := tab.URL(ctx)
	if err != nil {
		return err
	}
	slog.Debug("action reload", "page", page.DisplayName(), "url", url)
	if err := tab.Navigate(ctx, url, a.timeout); err != nil {
		return err
	}
	return tab.WaitForReadyState(ctx, webcontents.ReadyInteractive, a.timeout)
}

func (a *Reload) WaitedFor() (webcontents.ReadyState, bool) { return webcontents.ReadyInteractive, true }
