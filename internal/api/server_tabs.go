package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/pagerun/internal/tabs"
)

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	type tabOutput struct {
		Body tabs.TargetInfo
	}

	type listTabsOutput struct {
		Body struct {
			Tabs []tabs.TargetInfo `json:"tabs"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open tabs in browser order", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			list, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = list
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "open-tab", Method: http.MethodPost, Path: "/api/v1/tabs", Summary: "Open a new tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			Body struct {
				URL string `json:"url" required:"true" doc:"URL to load in the new tab"`
			}
		}) (*tabOutput, error) {
			info, err := svc.OpenTab(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabOutput{}
			out.Body = info
			return out, nil
		})

	type tabIDInput struct {
		TabID string `path:"tab_id"`
	}

	huma.Register(api, huma.Operation{OperationID: "close-tab", Method: http.MethodDelete, Path: "/api/v1/tabs/{tab_id}", Summary: "Close a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*struct{}, error) {
			if err := svc.CloseTab(ctx, input.TabID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})

	huma.Register(api, huma.Operation{OperationID: "activate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/activate", Summary: "Bring a tab to the front", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*struct{}, error) {
			if err := svc.ActivateTab(ctx, input.TabID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})
}

func registerRegistryHandlers(api huma.API, svc Service) {
	type namesOutput struct {
		Body struct {
			Names []string `json:"names"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-actions", Method: http.MethodGet, Path: "/api/v1/actions", Summary: "List registered page actions", Tags: []string{"Registry"}},
		func(ctx context.Context, input *struct{}) (*namesOutput, error) {
			out := &namesOutput{}
			out.Body.Names = svc.Actions()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-measurements", Method: http.MethodGet, Path: "/api/v1/measurements", Summary: "List registered measurements", Tags: []string{"Registry"}},
		func(ctx context.Context, input *struct{}) (*namesOutput, error) {
			out := &namesOutput{}
			out.Body.Names = svc.Measurements()
			return out, nil
		})
}
