package inspector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Transport carries serialized protocol messages to and from one debugging
// target. Recv blocks until a message arrives; any error means the peer is
// gone. Close must unblock a pending Recv.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Recv() ([]byte, error)
	Close() error
}

type wsTransport struct {
	conn net.Conn
	rw   io.ReadWriter

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a WebSocket transport to a target's webSocketDebuggerUrl.
func Dial(ctx context.Context, wsURL string) (Transport, error) {
	slog.Debug("inspector dialing", "ws_url", wsURL)
	conn, br, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("inspector: dial %s: %w", wsURL, err)
	}

	var rw io.ReadWriter = conn
	if br != nil {
		// Frames sent right after the handshake are already buffered.
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}
	return &wsTransport{conn: conn, rw: rw}, nil
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
		defer func() { _ = t.conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteClientText(t.rw, data)
}

func (t *wsTransport) Recv() ([]byte, error) {
	return wsutil.ReadServerText(t.rw)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
