package browser

import (
	"context"
	"net/http"
	"time"

	"github.com/dgnsrekt/pagerun/internal/config"
	"github.com/dgnsrekt/pagerun/internal/faults"
)

func init() {
	Registry.Register("remote", func(opts config.BrowserOptions) Possible {
		return &remote{base: opts.CDPURL(), client: &http.Client{Timeout: 2 * time.Second}}
	})
}

// remote attaches to a browser that is already running with remote
// debugging enabled.
type remote struct {
	base   string
	client *http.Client
}

func (r *remote) Name() string { return "remote" }

func (r *remote) Supported(ctx context.Context) bool {
	return probe(ctx, r.client, r.base) == nil
}

func (r *remote) Start(ctx context.Context) (*Browser, error) {
	if err := probe(ctx, r.client, r.base); err != nil {
		return nil, faults.BrowserGone("no devtools endpoint at "+r.base, err)
	}
	return newBrowser("remote", r.base, nil), nil
}
