package tabs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/pagerun/internal/faults"
	"github.com/dgnsrekt/pagerun/internal/inspector"
)

// goneAwareTransport tells a closed tab apart from a dead browser: when the
// tab's socket drops but the browser still lists targets, the loss is a
// TabCrash rather than BrowserGone.
type goneAwareTransport struct {
	inspector.Transport
	id      target.ID
	lister  Lister
	closing atomic.Bool
}

func (c *Collection) watch(t inspector.Transport, id target.ID) inspector.Transport {
	return &goneAwareTransport{Transport: t, id: id, lister: c.lister}
}

func (t *goneAwareTransport) Recv() ([]byte, error) {
	data, err := t.Transport.Recv()
	if err == nil || t.closing.Load() {
		return data, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, listErr := t.lister.List(ctx); listErr != nil {
		return nil, faults.BrowserGone("browser unreachable", err)
	}
	return nil, faults.TabCrash("tab "+string(t.id)+" connection lost", err)
}

func (t *goneAwareTransport) Close() error {
	t.closing.Store(true)
	return t.Transport.Close()
}
