package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink collects emissions and console output from one script execution. It is
// safe for concurrent use so a back-end abandoned after its deadline cannot
// race the registry's final snapshot.
type Sink struct {
	mu         sync.Mutex
	logs       []string
	emitted    any
	emittedSet bool
}

func NewSink() *Sink {
	return &Sink{}
}

// Emit records a value as the script's logical output. Later emissions
// overwrite earlier ones.
func (s *Sink) Emit(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = v
	s.emittedSet = true
}

// EmitDefault records v only when the script made no explicit emission. Used
// by back-ends to surface the program's result value.
func (s *Sink) EmitDefault(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.emittedSet {
		s.emitted = v
		s.emittedSet = true
	}
}

// Log appends one console line built from the stringified arguments.
func (s *Sink) Log(args ...any) {
	line := stringifyArgs(args)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, line)
}

// Emitted returns the current emission and whether one was made.
func (s *Sink) Emitted() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted, s.emittedSet
}

// Logs returns a copy of the captured console lines.
func (s *Sink) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

func stringifyArgs(args []any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case nil:
			parts = append(parts, "null")
		case string:
			parts = append(parts, v)
		case fmt.Stringer:
			parts = append(parts, v.String())
		default:
			if raw, err := json.Marshal(v); err == nil {
				parts = append(parts, string(raw))
			} else {
				parts = append(parts, fmt.Sprintf("%v", v))
			}
		}
	}
	return strings.Join(parts, " ")
}

// Helper functions shared by every back-end so that scripts in any language
// observe identical date and identity semantics. Dates travel as epoch
// milliseconds to stay representable in all three languages.

func helperNowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func helperUUID() string {
	return uuid.NewString()
}

// helperFormatDate renders an epoch-milliseconds value (or an RFC 3339
// string) with a Go reference layout. Unparseable input yields "".
func helperFormatDate(value any, layout string) string {
	t, ok := coerceTime(value)
	if !ok {
		return ""
	}
	if layout == "" {
		layout = time.RFC3339
	}
	return t.UTC().Format(layout)
}

// helperParseDate parses an RFC 3339 or "2006-01-02" string into epoch
// milliseconds. Unparseable input yields -1.
func helperParseDate(s string) int64 {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixMilli()
		}
	}
	return -1
}

func coerceTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case int64:
		return time.UnixMilli(v), true
	case int:
		return time.UnixMilli(int64(v)), true
	case float64:
		return time.UnixMilli(int64(v)), true
	case string:
		if ms := helperParseDate(v); ms >= 0 {
			return time.UnixMilli(ms), true
		}
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}
