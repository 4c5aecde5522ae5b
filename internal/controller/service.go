package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/pagerun/internal/action"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/measure"
	"github.com/dgnsrekt/pagerun/internal/notify"
	"github.com/dgnsrekt/pagerun/internal/runner"
	"github.com/dgnsrekt/pagerun/internal/tabs"
)

// PageSetRunner runs page sets. *runner.TestRunner satisfies it.
type PageSetRunner interface {
	Run(ctx context.Context, set *runner.PageSet) (*runner.Report, error)
}

// Service backs the HTTP API: tab management on the browser listing and
// page set runs.
type Service struct {
	lister   tabs.Lister
	runner   PageSetRunner
	notifier *notify.Notifier
}

func NewService(lister tabs.Lister, r PageSetRunner, n *notify.Notifier) *Service {
	return &Service{lister: lister, runner: r, notifier: n}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return faults.Validation(fieldName + " is required")
	}
	return nil
}

// ListTabs returns the page targets in browser order.
func (s *Service) ListTabs(ctx context.Context) ([]tabs.TargetInfo, error) {
	all, err := s.lister.List(ctx)
	if err != nil {
		return nil, faults.BrowserGone("list targets", err)
	}
	out := make([]tabs.TargetInfo, 0, len(all))
	for _, t := range all {
		if t.Type == "page" {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Service) OpenTab(ctx context.Context, url string) (tabs.TargetInfo, error) {
	if err := s.requireNonEmpty(url, "url"); err != nil {
		return tabs.TargetInfo{}, err
	}
	info, err := s.lister.Create(ctx, strings.TrimSpace(url))
	if err != nil {
		return tabs.TargetInfo{}, err
	}
	slog.Info("controller tab opened", "target_id", info.ID, "url", info.URL)
	return info, nil
}

func (s *Service) CloseTab(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "tab_id"); err != nil {
		return err
	}
	return s.lister.Close(ctx, target.ID(strings.TrimSpace(id)))
}

func (s *Service) ActivateTab(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "tab_id"); err != nil {
		return err
	}
	return s.lister.Activate(ctx, target.ID(strings.TrimSpace(id)))
}

func (s *Service) Actions() []string      { return action.Registry.Names() }
func (s *Service) Measurements() []string { return measure.Registry.Names() }

// RunPageSet runs set and notifies about the outcome. A BrowserGone abort
// still yields the partial report alongside the error.
func (s *Service) RunPageSet(ctx context.Context, set *runner.PageSet) (*runner.Report, error) {
	if set == nil || len(set.Pages) == 0 {
		return nil, faults.Validation("pages is required")
	}
	for i, p := range set.Pages {
		if len(p.Actions) == 0 {
			return nil, faults.Validation(fmt.Sprintf("pages[%d] has no actions", i))
		}
	}

	report, err := s.runner.Run(ctx, set)
	if report != nil {
		// The request may be gone by now; the notification should still go out.
		if nerr := s.notifier.RunFinished(context.WithoutCancel(ctx), report); nerr != nil {
			slog.Warn("controller notify failed", "run_id", report.RunID, "error", nerr)
		}
	}
	return report, err
}
