package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/pagerun/internal/action"
	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/runner"
)

type pageInput struct {
	Name         string            `json:"name,omitempty" doc:"Display name, defaults to the URL"`
	URL          string            `json:"url" required:"true"`
	Actions      []map[string]any  `json:"actions" minItems:"1" doc:"Ordered actions, e.g. {\"action\": \"reload\", \"timeout\": 30}"`
	Measurements []string          `json:"measurements,omitempty" doc:"Measurement names run after a completed page"`
	Credentials  map[string]string `json:"credentials,omitempty" doc:"username and password for login actions"`
}

func (p pageInput) toPage(i int) (action.Page, error) {
	page := action.Page{
		Name:         p.Name,
		URL:          p.URL,
		Measurements: p.Measurements,
		Credentials:  p.Credentials,
	}
	for j, raw := range p.Actions {
		name, _ := raw["action"].(string)
		if name == "" {
			return action.Page{}, faults.Validation(fmt.Sprintf("pages[%d].actions[%d]: action is required", i, j))
		}
		opts := make(action.Options, len(raw))
		for k, v := range raw {
			if k != "action" {
				opts[k] = v
			}
		}
		page.Actions = append(page.Actions, action.Spec{Action: name, Options: opts})
	}
	return page, nil
}

func registerRunHandlers(api huma.API, svc Service) {
	type runOutput struct {
		Body *runner.Report
	}

	huma.Register(api, huma.Operation{OperationID: "run-page-set", Method: http.MethodPost, Path: "/api/v1/runs", Summary: "Run a page set and return per-page results", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Name  string      `json:"name,omitempty" doc:"Page set name, used for the results directory"`
				Pages []pageInput `json:"pages" minItems:"1"`
			}
		}) (*runOutput, error) {
			set := &runner.PageSet{Name: input.Body.Name}
			for i, p := range input.Body.Pages {
				page, err := p.toPage(i)
				if err != nil {
					return nil, mapErr(err)
				}
				set.Pages = append(set.Pages, page)
			}
			report, err := svc.RunPageSet(ctx, set)
			if report == nil {
				return nil, mapErr(err)
			}
			// A browser lost mid-run still returns what was recorded; the
			// report says so through aborted.
			return &runOutput{Body: report}, nil
		})
}
