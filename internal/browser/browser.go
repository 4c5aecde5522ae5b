// Package browser finds or starts the browser page runs are driven
// against. Each way of obtaining one is a possible browser registered by
// name.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dgnsrekt/pagerun/internal/config"
	"github.com/dgnsrekt/pagerun/internal/discover"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/wait"
)

// Possible is a browser that may be used if Supported reports true.
type Possible interface {
	Name() string
	Supported(ctx context.Context) bool
	Start(ctx context.Context) (*Browser, error)
}

type Factory func(opts config.BrowserOptions) Possible

var Registry = discover.New[Factory]("browsers")

// Browser is a running browser reachable over its DevTools HTTP endpoint.
type Browser struct {
	name string
	base string

	closeOnce sync.Once
	closeFn   func()
}

func newBrowser(name, base string, closeFn func()) *Browser {
	return &Browser{name: name, base: base, closeFn: closeFn}
}

func (b *Browser) Name() string { return b.name }

// Base is the DevTools HTTP endpoint, e.g. http://127.0.0.1:9222.
func (b *Browser) Base() string { return b.base }

// Close releases the browser. A launched browser is stopped; an attached
// one is left running.
func (b *Browser) Close() {
	b.closeOnce.Do(func() {
		if b.closeFn != nil {
			b.closeFn()
		}
		slog.Info("browser closed", "kind", b.name, "base", b.base)
	})
}

// Select returns the possible browser named by opts.Kind, failing with
// Unsupported when it cannot be used on this machine.
func Select(ctx context.Context, opts config.BrowserOptions) (Possible, error) {
	f, err := Registry.Lookup(opts.Kind)
	if err != nil {
		return nil, err
	}
	p := f(opts)
	if !p.Supported(ctx) {
		return nil, faults.Unsupported("browser " + opts.Kind)
	}
	return p, nil
}

// versionURL is the endpoint a DevTools server always answers.
func versionURL(base string) string { return base + "/json/version" }

func probe(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL(base), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", versionURL(base), resp.StatusCode)
	}
	return nil
}

// waitForDevTools polls the version endpoint until it answers.
func waitForDevTools(ctx context.Context, base string, timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	return wait.Poll(ctx, func(ctx context.Context) (bool, error) {
		return probe(ctx, client, base) == nil, nil
	}, &wait.Options{Timeout: timeout, Interval: 250 * time.Millisecond, Desc: "devtools at " + base})
}

// isPortInUse checks whether a TCP port is already listening.
func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
