package gateway

import "fmt"

// Result is the uniform shape every gateway call resolves to: the parsed JSON
// body on success, or a single "error" entry. Transport failures, non-2xx
// statuses and malformed bodies all end up as data here; nothing escapes the
// client as a Go error or panic.
type Result map[string]interface{}

func errResult(format string, args ...interface{}) Result {
	return Result{"error": fmt.Sprintf(format, args...)}
}

// ErrText returns the error message, or "" when the call succeeded.
func (r Result) ErrText() string {
	if v, ok := r["error"]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func (r Result) OK() bool {
	_, failed := r["error"]
	return !failed
}

func (r Result) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Str returns the value under key as a string, or "" when absent or not a
// string. Gateway payloads are loosely typed; callers only ever need the
// string view.
func (r Result) Str(key string) string {
	if v, ok := r[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
