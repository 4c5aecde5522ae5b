package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/pagerun/internal/api"
	"github.com/dgnsrekt/pagerun/internal/browser"
	"github.com/dgnsrekt/pagerun/internal/config"
	"github.com/dgnsrekt/pagerun/internal/controller"
	"github.com/dgnsrekt/pagerun/internal/inspector"
	"github.com/dgnsrekt/pagerun/internal/metrics"
	"github.com/dgnsrekt/pagerun/internal/netutil"
	"github.com/dgnsrekt/pagerun/internal/notify"
	"github.com/dgnsrekt/pagerun/internal/runner"
	"github.com/dgnsrekt/pagerun/internal/tabs"
	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("pagerun config loaded",
		"bind_addr", cfg.BindAddr,
		"browser", cfg.Browser.Kind,
		"cdp_url", cfg.Browser.CDPURL(),
		"concurrency", cfg.Concurrency,
		"call_timeout_ms", cfg.CallTimeoutMS,
		"tab_timeout_ms", cfg.TabTimeoutMS,
		"results_dir", cfg.ResultsDir,
		"log_level", cfg.LogLevel,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	possible, err := browser.Select(ctx, cfg.Browser)
	if err != nil {
		slog.Error("browser unavailable", "kind", cfg.Browser.Kind, "error", err)
		os.Exit(1)
	}
	b, err := possible.Start(ctx)
	if err != nil {
		slog.Error("failed to start browser", "kind", possible.Name(), "error", err)
		os.Exit(1)
	}
	defer b.Close()

	lister := tabs.NewHTTPLister(b.Base())
	coll := tabs.NewCollection(lister, tabs.Options{
		Dial:     inspector.Dial,
		Contents: webcontents.Options{CallTimeout: cfg.CallTimeout()},
	})
	defer coll.Close()

	m := metrics.New()
	r := runner.New(runner.FromCollection(coll), runner.Options{
		Concurrency:    cfg.Concurrency,
		TabTimeout:     cfg.TabTimeout(),
		ResultsDir:     cfg.ResultsDir,
		ResultsMaxSize: cfg.ResultsMaxSizeMB,
		Metrics:        m,
	})

	var n *notify.Notifier
	if cfg.NotifyURL != "" {
		n = &notify.Notifier{Endpoint: cfg.NotifyURL}
	}

	svc := controller.NewService(lister, r, n)
	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, m.Handler())}

	go func() {
		slog.Info("pagerun listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("pagerun server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("pagerun shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
