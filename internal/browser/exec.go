package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/pagerun/internal/config"
	"github.com/dgnsrekt/pagerun/internal/netutil"
)

func init() {
	Registry.Register("exec", func(opts config.BrowserOptions) Possible {
		return &execBrowser{opts: opts}
	})
}

// execBrowser launches a local Chrome or Chromium on a fixed remote
// debugging port.
type execBrowser struct {
	opts config.BrowserOptions
}

func (e *execBrowser) Name() string { return "exec" }

func (e *execBrowser) Supported(ctx context.Context) bool {
	_, err := detectBrowser(e.opts.ExecPath)
	return err == nil
}

func (e *execBrowser) Start(ctx context.Context) (*Browser, error) {
	if e.opts.CDPPort == 0 {
		port, err := netutil.FreePort(e.opts.CDPAddress)
		if err != nil {
			return nil, fmt.Errorf("pick devtools port: %w", err)
		}
		e.opts.CDPPort = port
	}
	if isPortInUse(e.opts.CDPAddress, e.opts.CDPPort) {
		return nil, fmt.Errorf("devtools port %s:%d already in use; use the remote browser to attach", e.opts.CDPAddress, e.opts.CDPPort)
	}
	path, err := detectBrowser(e.opts.ExecPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.opts.ProfileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	slog.Info("browser launching", "path", path, "port", e.opts.CDPPort)

	// The browser outlives the request that started it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), e.allocatorOptions(path)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	stop := func() {
		browserCancel()
		allocCancel()
	}
	if err := chromedp.Run(browserCtx); err != nil {
		stop()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	base := e.opts.CDPURL()
	if err := waitForDevTools(ctx, base, e.opts.StartTimeout()); err != nil {
		stop()
		return nil, fmt.Errorf("waiting for devtools: %w", err)
	}
	slog.Info("browser devtools ready", "base", base)
	return newBrowser("exec", base, stop), nil
}

func (e *execBrowser) allocatorOptions(path string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(path),
		chromedp.UserDataDir(e.opts.ProfileDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("remote-debugging-port", strconv.Itoa(e.opts.CDPPort)),
		chromedp.Flag("remote-debugging-address", e.opts.CDPAddress),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-background-timer-throttling", true),
	}
	if e.opts.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if w, h, ok := parseWindowSize(e.opts.WindowSize); ok {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	for name, val := range e.opts.Flags {
		switch val {
		case "true":
			opts = append(opts, chromedp.Flag(name, true))
		case "false":
			opts = append(opts, chromedp.Flag(name, false))
		default:
			opts = append(opts, chromedp.Flag(name, val))
		}
	}
	return opts
}

// detectBrowser returns explicit if it is set and exists, otherwise the
// first Chrome/Chromium binary found.
func detectBrowser(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("browser binary: %w", err)
		}
		return explicit, nil
	}
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried %s)", strings.Join(candidates, ", "))
}

func parseWindowSize(s string) (int, int, bool) {
	ws, hs, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(ws))
	h, err2 := strconv.Atoi(strings.TrimSpace(hs))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
