// Package tokens resolves `{% path %}` expressions against the union
// namespace of an event and the shared-state universe at that event's
// position on the timeline. The renderer is pure: it reads, never writes.
package tokens

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	tokenOpen  = "{%"
	tokenClose = "%}"

	statePrefix = "~state."
)

// StateReader resolves a shared-state lookup: owner extension name plus a
// dot-separated path into its snapshot, as of the finder's event.
type StateReader func(owner, path string) (any, bool)

// Finder resolves token paths. A nil Data or State func turns those
// lookups into misses; the ~ metadata paths always resolve, to the string
// form of the zero value when a field is unset.
type Finder struct {
	EventType   string
	EventSource string
	EventID     string
	Timestamp   time.Time
	SDKVersion  string

	// Data resolves dotted paths into the event's data tree.
	Data func(path string) (any, bool)

	// State resolves `~state.` lookups.
	State StateReader
}

// Get resolves a single token path.
func (f *Finder) Get(path string) (any, bool) {
	switch path {
	case "~type":
		return f.EventType, true
	case "~source":
		return f.EventSource, true
	case "~id":
		return f.EventID, true
	case "~timestamp":
		return f.Timestamp.UTC().Format(time.RFC3339), true
	case "~sdkver":
		return f.SDKVersion, true
	}
	if rest, ok := strings.CutPrefix(path, statePrefix); ok {
		owner, keyPath, found := strings.Cut(rest, "/")
		if !found || f.State == nil {
			return nil, false
		}
		return f.State(owner, keyPath)
	}
	if f.Data == nil {
		return nil, false
	}
	return f.Data(path)
}

// Render substitutes every `{% path %}` token in template with the string
// form of its resolved value; misses render as the empty string. A token
// body of the form `fn(path)` applies the named transformer to the value.
func Render(template string, f *Finder) string {
	var b strings.Builder
	rest := template
	for {
		open := strings.Index(rest, tokenOpen)
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[open:], tokenClose)
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:open])
		body := strings.TrimSpace(rest[open+len(tokenOpen) : open+end])
		b.WriteString(resolve(body, f))
		rest = rest[open+end+len(tokenClose):]
	}
}

func resolve(body string, f *Finder) string {
	fn, path := splitTransformer(body)
	v, ok := f.Get(path)
	if !ok {
		return ""
	}
	s := Stringify(v)
	switch fn {
	case "urlenc":
		return url.QueryEscape(s)
	case "int":
		return asInt(v, s)
	default:
		return s
	}
}

// splitTransformer recognizes `fn(path)` token bodies. Unknown shapes pass
// through as plain paths.
func splitTransformer(body string) (fn, path string) {
	open := strings.Index(body, "(")
	if open <= 0 || !strings.HasSuffix(body, ")") {
		return "", body
	}
	name := body[:open]
	switch name {
	case "urlenc", "int":
		return name, strings.TrimSpace(body[open+1 : len(body)-1])
	}
	return "", body
}

func asInt(v any, fallback string) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case string:
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			return strconv.FormatInt(int64(n), 10)
		}
	}
	return fallback
}

// Stringify renders a token value: empty for nil, bare scalars, JSON for
// lists and maps.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
