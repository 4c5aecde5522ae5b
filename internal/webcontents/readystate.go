package webcontents

import (
	"fmt"
	"strconv"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

// ReadyState mirrors document.readyState, ordered by loading progress.
type ReadyState int

const (
	ReadyLoading ReadyState = iota
	ReadyInteractive
	ReadyComplete
)

func (s ReadyState) String() string {
	switch s {
	case ReadyLoading:
		return "loading"
	case ReadyInteractive:
		return "interactive"
	case ReadyComplete:
		return "complete"
	}
	return fmt.Sprintf("ReadyState(%d)", int(s))
}

// AtLeast reports whether s has progressed to want or beyond.
func (s ReadyState) AtLeast(want ReadyState) bool { return s >= want }

// ParseReadyState maps a document.readyState value. Anything else is an
// Evaluate fault carrying the value.
func ParseReadyState(s string) (ReadyState, error) {
	switch s {
	case "loading":
		return ReadyLoading, nil
	case "interactive":
		return ReadyInteractive, nil
	case "complete":
		return ReadyComplete, nil
	}
	return ReadyLoading, faults.Evaluate("unknown ready state "+strconv.Quote(s), nil, []byte(strconv.Quote(s)))
}
