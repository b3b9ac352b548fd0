// Package normalize flattens the heterogeneous result envelopes that
// tool backends produce (raw values, {"result": ...} and {"data": ...}
// wrappers, lists of text blocks, JSON encoded as a string) into plain
// structured values the agent loop and guardrails can consume.
package normalize

import (
	"encoding/json"
	"strings"
)

// maxEnvelopeDepth bounds the unwrap loop at each level so nested
// envelopes cannot spin forever.
const maxEnvelopeDepth = 3

// maxWalkDepth bounds structural recursion so a self-referential value
// terminates instead of recursing without limit.
const maxWalkDepth = 24

// state names the phase a value is in while it moves through the
// unwrap pipeline. The progression is RAW -> TEXT_DECODED ->
// ENVELOPE_UNWRAPPED -> DONE; a value may skip phases when a rule does
// not apply.
type state string

const (
	stateRaw               state = "RAW"
	stateTextDecoded       state = "TEXT_DECODED"
	stateEnvelopeUnwrapped state = "ENVELOPE_UNWRAPPED"
	stateDone              state = "DONE"
)

// Event records one transformation the normalizer applied. Callers
// aggregate these however they like; the normalizer itself keeps no
// state between calls.
type Event struct {
	Kind string
	Tool string
}

const (
	// EventTextDecoded fires when a JSON-or-literal string payload was
	// decoded into a structured value.
	EventTextDecoded = "text_decoded"
	// EventEnvelopeUnwrapped fires when a {"result"}/{"data"} wrapper
	// or content-wrapper list was stripped.
	EventEnvelopeUnwrapped = "envelope_unwrapped"
	// EventDepthLimit fires when the unwrap loop hit its depth bound
	// and stopped with wrappers still in place.
	EventDepthLimit = "depth_limit"
)

// Normalize deep-normalizes a raw tool result. It is a pure function
// and never fails: any value it cannot decode further is returned as
// is. toolName matters only for singleton preservation, list-shaped
// tools keep a one-row list instead of unwrapping it to the row.
func Normalize(raw any, toolName string) (any, []Event) {
	n := &normalizer{tool: toolName}
	value := n.walk(raw, 0)
	return value, n.events
}

type normalizer struct {
	tool   string
	events []Event
}

func (n *normalizer) record(kind string) {
	n.events = append(n.events, Event{Kind: kind, Tool: n.tool})
}

func (n *normalizer) walk(value any, depth int) any {
	if depth > maxWalkDepth {
		n.record(EventDepthLimit)
		return value
	}
	st := stateRaw
	for st != stateDone {
		switch st {
		case stateRaw:
			if s, ok := value.(string); ok {
				if decoded, ok := decodeText(s); ok {
					value = decoded
					n.record(EventTextDecoded)
					st = stateTextDecoded
					continue
				}
				return value
			}
			st = stateTextDecoded
		case stateTextDecoded:
			switch v := value.(type) {
			case []any:
				if texts, ok := contentWrapperTexts(v); ok {
					value = n.unwrapContentList(texts, depth)
					st = stateEnvelopeUnwrapped
					continue
				}
				out := make([]any, len(v))
				for i, elem := range v {
					out[i] = n.walk(elem, depth+1)
				}
				value = out
				st = stateDone
			case map[string]any:
				value = n.unwrapMap(v, depth)
				st = stateEnvelopeUnwrapped
			default:
				st = stateDone
			}
		case stateEnvelopeUnwrapped:
			st = stateDone
		}
	}
	return value
}

// unwrapContentList handles the list-of-{"text": ...} convention used
// by MCP content blocks. A singleton collapses to its element unless
// the tool is list-shaped.
func (n *normalizer) unwrapContentList(texts []string, depth int) any {
	out := make([]any, len(texts))
	for i, text := range texts {
		var elem any = text
		if decoded, ok := decodeContentText(text); ok {
			elem = decoded
			n.record(EventTextDecoded)
		}
		out[i] = n.walk(elem, depth+1)
	}
	n.record(EventEnvelopeUnwrapped)
	if len(out) == 1 && !listShapedTool(n.tool) {
		return out[0]
	}
	return out
}

// unwrapMap recurses into a dict's values and then strips envelope
// wrappers ({"result"}, {"result","ok"}, {"data"}, {"text"}) up to the
// depth bound.
func (n *normalizer) unwrapMap(value map[string]any, depth int) any {
	var current any = recurseMapValues(n, value, depth)
	for i := 0; i < maxEnvelopeDepth; i++ {
		m, ok := current.(map[string]any)
		if !ok {
			return n.walk(current, depth+1)
		}
		inner, ok := envelopePayload(m)
		if !ok {
			return current
		}
		n.record(EventEnvelopeUnwrapped)
		current = n.walk(inner, depth+1)
	}
	if m, ok := current.(map[string]any); ok {
		if _, wrapped := envelopePayload(m); wrapped {
			n.record(EventDepthLimit)
		}
	}
	return current
}

func recurseMapValues(n *normalizer, value map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(value))
	for key, elem := range value {
		out[key] = n.walk(elem, depth+1)
	}
	return out
}

// envelopePayload reports whether the map is a recognized envelope and
// returns the wrapped payload.
func envelopePayload(m map[string]any) (any, bool) {
	switch len(m) {
	case 1:
		if result, ok := m["result"]; ok {
			return result, true
		}
		if data, ok := m["data"]; ok {
			return data, true
		}
		if text, ok := m["text"]; ok {
			return text, true
		}
	case 2:
		result, hasResult := m["result"]
		_, hasOK := m["ok"]
		if hasResult && hasOK {
			return result, true
		}
	}
	return nil, false
}

// contentWrapperTexts reports whether every element of the list is a
// dict exposing a string "text" field, and collects the texts.
func contentWrapperTexts(list []any) ([]string, bool) {
	if len(list) == 0 {
		return nil, false
	}
	texts := make([]string, len(list))
	for i, elem := range list {
		m, ok := elem.(map[string]any)
		if !ok {
			return nil, false
		}
		text, ok := m["text"].(string)
		if !ok {
			return nil, false
		}
		texts[i] = text
	}
	return texts, true
}

func listShapedTool(name string) bool {
	return strings.HasSuffix(name, "_list") || strings.HasSuffix(name, ".list")
}

// decodeText strips optional triple-backtick fencing and attempts to
// decode the remainder as JSON, then as a permissive literal. Strings
// that decode to nothing structured are left alone.
func decodeText(s string) (any, bool) {
	trimmed := stripFences(strings.TrimSpace(s))
	if trimmed == "" {
		return nil, false
	}
	switch trimmed[0] {
	case '[', '{', '"':
	default:
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded, true
	}
	if decoded, ok := parseLiteral(trimmed); ok {
		return decoded, true
	}
	return nil, false
}

// decodeContentText is the lenient variant used inside content-wrapper
// lists: block text routinely carries bare scalars ("5", "true"), so
// any valid JSON or literal is accepted, not just bracketed payloads.
func decodeContentText(s string) (any, bool) {
	trimmed := stripFences(strings.TrimSpace(s))
	if trimmed == "" {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded, true
	}
	if decoded, ok := parseLiteral(trimmed); ok {
		return decoded, true
	}
	return nil, false
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			body = body[nl+1:]
		}
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
