// Package llm defines the model-completion contract the agent loop
// depends on: role-tagged messages in, either plain text or tool calls
// out, with token usage attached.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var ErrUnavailable = errors.New("llm unavailable")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSchema is the function-calling schema advertised to the model.
// Parameters is a JSON Schema object; a nil value means an
// empty-object schema.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// Arguments decodes the call's argument payload, tolerating empty and
// malformed JSON by returning an empty map.
func (c ToolCall) Arguments() map[string]any {
	raw := strings.TrimSpace(c.ArgumentsJSON)
	if raw == "" {
		return map[string]any{}
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil || decoded == nil {
		return map[string]any{}
	}
	return decoded
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Response is one model turn: either Text or ToolCalls is populated
// (both empty signals a malformed provider response the loop must
// handle).
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

type CompleteInput struct {
	Messages []Message
	Tools    []ToolSchema
}

type Client interface {
	Complete(ctx context.Context, input CompleteInput) (Response, error)
	Model() string
}
