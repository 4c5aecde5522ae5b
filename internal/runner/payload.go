package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

// maxPayloadBytes caps the protocol bytes copied into a Result.
const maxPayloadBytes = 2048

// Payload is the raw protocol response attached to an evaluate fault.
// Oversized payloads are cut and carry the size and digest of the original.
type Payload struct {
	Data      string `json:"data"`
	Truncated bool   `json:"truncated,omitempty"`
	Size      int    `json:"size"`
	SHA256    string `json:"sha256,omitempty"`
}

func payloadOf(err error) *Payload {
	var fe *faults.Error
	if !errors.As(err, &fe) || len(fe.Payload) == 0 {
		return nil
	}
	data, cut, size, sum := truncateBytes(fe.Payload, maxPayloadBytes)
	return &Payload{Data: string(data), Truncated: cut, Size: size, SHA256: sum}
}

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}
