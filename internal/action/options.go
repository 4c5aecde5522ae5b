package action

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/pagerun/internal/webcontents"
)

// Options are an action's settings as decoded from JSON.
type Options map[string]any

func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Seconds reads a number of seconds. Durations are written as plain numbers
// in page sets.
func (o Options) Seconds(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, fmt.Errorf("%s must not be negative", key)
		}
		return time.Duration(n * float64(time.Second)), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("%s must not be negative", key)
		}
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("%s: want seconds, got %T", key, v)
}

// ReadyState reads a ready state name; "none" disables the wait.
func (o Options) ReadyState(key string, def webcontents.ReadyState) (webcontents.ReadyState, bool, error) {
	s, ok := o[key].(string)
	if !ok || s == "" {
		return def, true, nil
	}
	if s == "none" {
		return def, false, nil
	}
	rs, err := webcontents.ParseReadyState(s)
	if err != nil {
		return def, false, err
	}
	return rs, true, nil
}
