package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

func TestTruncateBytes(t *testing.T) {
	t.Run("within_limit", func(t *testing.T) {
		input := []byte("hello world")
		out, truncated, size, sum := truncateBytes(input, len(input))
		if truncated || size != len(input) || sum != "" || string(out) != "hello world" {
			t.Fatalf("got %q %v %d %q", out, truncated, size, sum)
		}
	})

	t.Run("over_limit", func(t *testing.T) {
		input := []byte("hello world")
		want := sha256.Sum256(input)
		out, truncated, size, sum := truncateBytes(input, 5)
		if !truncated || size != len(input) || string(out) != "hello" {
			t.Fatalf("got %q %v %d", out, truncated, size)
		}
		if sum != hex.EncodeToString(want[:]) {
			t.Fatalf("unexpected digest %q", sum)
		}
	})
}

func TestPayloadOf(t *testing.T) {
	if p := payloadOf(errors.New("plain")); p != nil {
		t.Fatalf("plain error payload = %+v", p)
	}
	if p := payloadOf(faults.Timeout("navigate", nil)); p != nil {
		t.Fatalf("timeout payload = %+v", p)
	}

	p := payloadOf(faults.Evaluate("bad result", nil, []byte(`{"id":7`)))
	if p == nil || p.Data != `{"id":7` || p.Truncated || p.Size != 7 {
		t.Fatalf("payload = %+v", p)
	}

	big := []byte(strings.Repeat("x", maxPayloadBytes+10))
	p = payloadOf(faults.Evaluate("bad result", nil, big))
	if p == nil || !p.Truncated || len(p.Data) != maxPayloadBytes || p.Size != len(big) || p.SHA256 == "" {
		t.Fatalf("payload = %+v", p)
	}
}
