package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/runner"
	"github.com/dgnsrekt/pagerun/internal/tabs"
)

type Service interface {
	ListTabs(ctx context.Context) ([]tabs.TargetInfo, error)
	OpenTab(ctx context.Context, url string) (tabs.TargetInfo, error)
	CloseTab(ctx context.Context, id string) error
	ActivateTab(ctx context.Context, id string) error
	Actions() []string
	Measurements() []string
	RunPageSet(ctx context.Context, set *runner.PageSet) (*runner.Report, error)
}

// NewServer builds the router. metrics may be nil, in which case /metrics
// is not served.
func NewServer(svc Service, metrics http.Handler) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("pagerun API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}

	registerHealthHandlers(api)
	registerTabHandlers(api, svc)
	registerRegistryHandlers(api, svc)
	registerRunHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var fe *faults.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case faults.CodeValidation:
			return huma.Error400BadRequest(fe.Message)
		case faults.CodeNotFound, faults.CodeIndex:
			return huma.Error404NotFound(fe.Message)
		case faults.CodeTimeout:
			return huma.Error504GatewayTimeout(fe.Message)
		case faults.CodeBrowserGone, faults.CodeTabCrash:
			return huma.Error502BadGateway(fmt.Sprintf("%s: %s", fe.Code, fe.Message))
		case faults.CodeUnsupported:
			return huma.Error501NotImplemented(fe.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", fe.Code, fe.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
