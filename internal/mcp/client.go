// Package mcp wraps a streamable-HTTP MCP session behind the small
// surface the agent loop needs: discover tools, call them without
// panicking the run on transport failures, and locate the identity
// probe tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	Endpoint  string
	AuthToken string
	Timeout   time.Duration
}

// ToolInfo is one advertised tool, with its JSON Schema decoded into a
// generic map so it can be forwarded to the model verbatim.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolResult is the outcome of a single tool invocation. A transport
// or protocol failure never surfaces as an error to the caller; it
// comes back as OK=false with Err set, so one bad call cannot abort an
// agent run.
type ToolResult struct {
	OK     bool
	Result any
	Err    string
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := h.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header = req.Header.Clone()
	for key, value := range h.headers {
		clone.Header.Set(key, value)
	}
	return base.RoundTrip(clone)
}

type Client struct {
	cfg     Config
	logger  *slog.Logger
	session *sdkmcp.ClientSession
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("component", "mcp")}
}

// Connect establishes the client session. It must be called before
// ListTools or CallToolSafe.
func (c *Client) Connect(ctx context.Context) error {
	if c.session != nil {
		return nil
	}
	headers := map[string]string{}
	if token := strings.TrimSpace(c.cfg.AuthToken); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	httpClient := &http.Client{
		Timeout:   c.cfg.Timeout,
		Transport: &headerRoundTripper{headers: headers},
	}
	transport := &sdkmcp.StreamableClientTransport{
		Endpoint:   c.cfg.Endpoint,
		HTTPClient: httpClient,
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "warden", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect mcp %s: %w", c.cfg.Endpoint, err)
	}
	c.session = session
	return nil
}

func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	session := c.session
	c.session = nil
	return session.Close()
}

func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if c.session == nil {
		return nil, fmt.Errorf("mcp client not connected")
	}
	tools := []ToolInfo{}
	for item, iterErr := range c.session.Tools(ctx, nil) {
		if iterErr != nil {
			return nil, iterErr
		}
		if item == nil {
			continue
		}
		info := ToolInfo{
			Name:        item.Name,
			Description: strings.TrimSpace(item.Description),
		}
		if item.InputSchema != nil {
			if raw, err := json.Marshal(item.InputSchema); err == nil {
				var schema map[string]any
				if err := json.Unmarshal(raw, &schema); err == nil {
					info.InputSchema = schema
				}
			}
		}
		tools = append(tools, info)
	}
	return tools, nil
}

// CallToolSafe invokes a tool and absorbs every failure mode into the
// result. The agent treats a failed call as evidence, not as a reason
// to stop the run.
func (c *Client) CallToolSafe(ctx context.Context, name string, args map[string]any) ToolResult {
	if c.session == nil {
		return ToolResult{Err: "mcp client not connected"}
	}
	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		c.logger.Warn("tool call failed", "tool", name, "error", err)
		return ToolResult{Err: err.Error()}
	}
	payload := decodeCallResult(result)
	if result != nil && result.IsError {
		return ToolResult{Err: flattenErrorText(payload)}
	}
	return ToolResult{OK: true, Result: payload}
}

// decodeCallResult prefers structured content, then falls back to the
// text blocks. A single text block decodes to its JSON value when it
// parses, otherwise to the raw string.
func decodeCallResult(result *sdkmcp.CallToolResult) any {
	if result == nil {
		return nil
	}
	if result.StructuredContent != nil {
		return roundTripJSON(result.StructuredContent)
	}
	texts := []any{}
	for _, content := range result.Content {
		text, ok := content.(*sdkmcp.TextContent)
		if !ok {
			continue
		}
		texts = append(texts, decodeTextBlock(text.Text))
	}
	switch len(texts) {
	case 0:
		return nil
	case 1:
		return texts[0]
	default:
		return texts
	}
}

func decodeTextBlock(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded
	}
	return trimmed
}

func roundTripJSON(value any) any {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return value
	}
	return decoded
}

func flattenErrorText(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case map[string]any:
		if message, ok := v["error"].(string); ok && message != "" {
			return message
		}
	}
	if payload == nil {
		return "tool reported an error"
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "tool reported an error"
	}
	return string(raw)
}
