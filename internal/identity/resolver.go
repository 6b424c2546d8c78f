// Package identity derives stable stream identities from the partial,
// optionally-overlapping metadata carried by inbound messages.
package identity

import "strings"

// Sentinels for messages that carry no identity metadata at all. Such
// messages still resolve to a valid, shared identity.
const (
	UnknownKey      = "unresolved"
	UnknownCategory = "uncategorized"
)

const keySeparator = "|"

// typeNames maps raw check types to display names used in labels.
var typeNames = map[string]string{
	"trade":        "Trade",
	"inc_seq":      "Sequence",
	"rest_summary": "REST",
}

// Fields is the identity metadata a raw message may provide. Any subset
// may be empty. When Key is set it is reused verbatim, which makes
// re-resolving an already-resolved event a no-op.
type Fields struct {
	Key       string
	Hostname  string
	Interface string
	Exchange  string
	Stage     string
	Symbol    string
	Type      string
}

// Resolved is the canonical identity of a stream.
type Resolved struct {
	Key      string
	Label    string
	Category string
}

// Resolve derives identity from whatever fields are present. It is a pure
// function: the same inputs always produce the same output regardless of
// call order, and it never fails.
func Resolve(f Fields) Resolved {
	return Resolved{
		Key:      deriveKey(f),
		Label:    deriveLabel(f),
		Category: deriveCategory(f),
	}
}

func deriveKey(f Fields) string {
	if f.Key != "" {
		return f.Key
	}
	parts := make([]string, 0, 6)
	for _, part := range []string{
		f.Hostname,
		f.Interface,
		strings.ToLower(f.Exchange),
		strings.ToLower(f.Stage),
		f.Type,
		strings.ToUpper(f.Symbol),
	} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return UnknownKey
	}
	return strings.Join(parts, keySeparator)
}

func deriveCategory(f Fields) string {
	switch f.Type {
	case "trade":
		exchange := f.Exchange
		if exchange == "" {
			exchange = "unknown"
		}
		return "trade/" + Slug(exchange)
	case "rest_summary":
		stage := f.Stage
		if stage == "" {
			stage = "summary"
		}
		return "rest/" + Slug(stage)
	case "":
		return UnknownCategory
	default:
		return f.Type
	}
}

func deriveLabel(f Fields) string {
	parts := make([]string, 0, 4)
	if f.Exchange != "" {
		parts = append(parts, f.Exchange)
	}
	if f.Stage != "" {
		parts = append(parts, f.Stage)
	}
	if f.Symbol != "" {
		parts = append(parts, strings.ToUpper(f.Symbol))
	}
	parts = append(parts, typeName(f.Type))
	return strings.Join(parts, " ")
}

func typeName(raw string) string {
	if name, ok := typeNames[raw]; ok {
		return name
	}
	if raw == "" {
		return "unknown"
	}
	return strings.ToUpper(raw)
}

// Slug lowercases a value and collapses every run of non-alphanumeric
// characters into a single dash.
func Slug(v string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(v) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
