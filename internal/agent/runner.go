// Package agent drives one permission-aware model run: it scopes the
// tool list to a specialist profile, prefetches the caller's
// permissions, loops model turns against the tool backend, and
// finalizes with deterministic overrides so counts and mutation
// confirmations never come from the model's imagination.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/mcp"
	"github.com/wardenhq/warden/internal/normalize"
)

const defaultMaxSteps = 8

const (
	permsStatusOK         = "ok"
	permsStatusNoAuthMe   = "no_auth_me_tool"
	permsStatusCallFailed = "auth_me_call_failed"
)

// ToolBackend is the slice of the MCP client the runner needs.
type ToolBackend interface {
	ListTools(ctx context.Context) ([]mcp.ToolInfo, error)
	CallToolSafe(ctx context.Context, name string, args map[string]any) mcp.ToolResult
}

type identity struct {
	UserID      any
	Permissions []string
	Roles       []string
	Debug       any
}

type Config struct {
	MaxSteps int
}

type Runner struct {
	backend  ToolBackend
	model    llm.Client
	reviewer llm.Client
	logger   *slog.Logger
	maxSteps int
	now      func() time.Time
}

// NewRunner wires a runner. reviewer may equal model; a nil reviewer
// disables the review pass.
func NewRunner(backend ToolBackend, model, reviewer llm.Client, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	maxSteps := cfg.MaxSteps
	if maxSteps < 1 {
		maxSteps = defaultMaxSteps
	}
	return &Runner{
		backend:  backend,
		model:    model,
		reviewer: reviewer,
		logger:   logger,
		maxSteps: maxSteps,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type RunInput struct {
	Token    string
	RunID    string
	Prompt   string
	Messages []llm.Message
}

type Result struct {
	Text  string
	Usage llm.Usage
	Steps int
}

func addUsage(total *llm.Usage, usage llm.Usage) {
	total.InputTokens += usage.InputTokens
	total.OutputTokens += usage.OutputTokens
	total.TotalTokens += usage.TotalTokens
}

// Run executes one agent run to completion. Every outcome except an
// unreachable tool backend (or a failed model call) is returned as
// text, not as an error.
func (r *Runner) Run(ctx context.Context, input RunInput) (Result, error) {
	tools, err := r.backend.ListTools(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list tools: %w", err)
	}
	r.logger.Info("agent run started", "run_id", input.RunID, "tool_count", len(tools), "max_steps", r.maxSteps)

	convo := input.Messages
	if len(convo) == 0 {
		convo = []llm.Message{{Role: "user", Content: input.Prompt}}
	}

	usage := llm.Usage{}

	me, permsStatus := r.prefetchIdentity(ctx, input, tools)
	capabilitiesText := buildCapabilitiesText(me.Permissions, permsStatus)

	if IsCapabilitiesQuestion(convo) {
		if permsStatus != permsStatusOK {
			return Result{
				Text: fmt.Sprintf("I can't reliably determine your tool permissions right now "+
					"(status: %s). Try again, or check the server logs.", permsStatus),
				Usage: usage,
			}, nil
		}
		return Result{
			Text:  "Here's what you can do with your current permissions:\n" + capabilitiesText,
			Usage: usage,
		}, nil
	}

	profile := RouteProfile(convo)
	scoped := FilterTools(tools, profile)
	r.logger.Info("specialist routed", "run_id", input.RunID, "profile", profile.Key, "scoped_tool_count", len(scoped))

	schemas := make([]llm.ToolSchema, 0, len(scoped))
	for _, tool := range scoped {
		parameters := tool.InputSchema
		if parameters == nil {
			parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		schemas = append(schemas, llm.ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  parameters,
		})
	}

	systemContent := buildSystemPrompt(permsStatus, me, capabilitiesText, r.now()) +
		"\n\nSPECIALIST MODE:\n" + profile.Name + "\n" + profile.Instruction + "\n"

	history := make([]llm.Message, 0, len(convo)+1)
	history = append(history, llm.Message{Role: "system", Content: systemContent})
	history = append(history, convo...)

	cancelSucceeded := false

	for step := 0; step < r.maxSteps; step++ {
		response, err := r.model.Complete(ctx, llm.CompleteInput{Messages: history, Tools: schemas})
		if err != nil {
			return Result{Usage: usage, Steps: step}, fmt.Errorf("model call: %w", err)
		}
		addUsage(&usage, response.Usage)

		if len(response.ToolCalls) > 0 {
			for _, call := range response.ToolCalls {
				history = append(history, r.executeToolCall(ctx, input, convo, profile, call, &cancelSucceeded))
			}
			continue
		}

		text := strings.TrimSpace(response.Text)
		if text == "" {
			return Result{Text: "Model returned no text and no tool calls.", Usage: usage, Steps: step + 1}, nil
		}
		result := r.finalize(ctx, input, convo, history, text, &usage)
		result.Steps = step + 1
		return result, nil
	}

	// Non-convergence: one recovery pass over whatever evidence exists.
	results := extractToolResults(history)
	if len(results) > 0 && r.reviewer != nil {
		recovered, reviewUsage, err := reviewFinalAnswer(ctx, r.reviewer,
			"The assistant reached step limit. Provide the best final response based only on tool evidence. "+
				"If action is incomplete, ask one precise follow-up question.",
			compactEvidence(results))
		addUsage(&usage, reviewUsage)
		if err == nil && recovered != "" {
			r.logger.Warn("recovered after nonconvergence", "run_id", input.RunID)
			return Result{Text: recovered, Usage: usage, Steps: r.maxSteps}, nil
		}
		if err != nil {
			r.logger.Error("nonconvergence recovery failed", "run_id", input.RunID, "error", err)
		}
	}
	return Result{Text: "Agent did not converge.", Usage: usage, Steps: r.maxSteps}, nil
}

// prefetchIdentity resolves who the caller is through the backend's
// own identity tool, so the capability summary reflects live grants.
func (r *Runner) prefetchIdentity(ctx context.Context, input RunInput, tools []mcp.ToolInfo) (identity, string) {
	authTool, found := mcp.FindAuthMeTool(tools)
	if !found {
		r.logger.Warn("auth_me tool not advertised", "run_id", input.RunID)
		return identity{Permissions: []string{}, Roles: []string{}}, permsStatusNoAuthMe
	}
	payload := r.callTool(ctx, input, authTool.Name, map[string]any{})
	if !payload.OK {
		r.logger.Warn("auth_me call failed", "run_id", input.RunID, "error", payload.Err)
		return identity{Permissions: []string{}, Roles: []string{}, Debug: payload.Err}, permsStatusCallFailed
	}
	return normalizeMePayload(payload.Result), permsStatusOK
}

// executeToolCall runs one model-requested call through the guardrail
// chain and returns the history message recording its outcome.
func (r *Runner) executeToolCall(
	ctx context.Context,
	input RunInput,
	convo []llm.Message,
	profile Profile,
	call llm.ToolCall,
	cancelSucceeded *bool,
) llm.Message {
	name := strings.TrimSpace(call.Name)
	normalized := mcp.NormalizeToolName(name)
	args := call.Arguments()

	if normalized == "alarms_set" && args["target_user_id"] == nil {
		if hint := extractTargetHint(lastUserText(convo)); hint != "" {
			targetID, ok := r.resolveTargetUser(ctx, input, hint)
			if !ok {
				return toolResultMessage(name, toolResult{
					Tool: name,
					Err:  fmt.Sprintf("Could not resolve target user '%s' before setting alarm.", hint),
				})
			}
			args["target_user_id"] = targetID
		}
	}

	if normalized == "alarms_cancel" && *cancelSucceeded {
		return toolResultMessage(name, toolResult{
			Tool:   name,
			OK:     true,
			Result: map[string]any{"ok": true, "already_cancelled_this_run": true},
		})
	}

	if !profile.Allows(name) {
		return toolResultMessage(name, toolResult{
			Tool: name,
			Err:  fmt.Sprintf("Tool '%s' is outside the active specialist scope (%s).", name, profile.Name),
		})
	}

	applyDueOnOverride(name, args, convo)

	result := r.callTool(ctx, input, name, args)
	if normalized == "alarms_cancel" && result.OK {
		*cancelSucceeded = true
	}
	return toolResultMessage(name, result)
}

// callTool injects credentials, invokes the backend, and normalizes
// the outcome. It never fails; failures come back as evidence.
func (r *Runner) callTool(ctx context.Context, input RunInput, name string, args map[string]any) toolResult {
	if args == nil {
		args = map[string]any{}
	}
	args["auth"] = "Bearer " + input.Token
	args["agent_run_id"] = input.RunID

	logArgs := make(map[string]any, len(args))
	for key, value := range args {
		logArgs[key] = value
	}
	logArgs["auth"] = "***redacted***"
	r.logger.Info("tool call", "run_id", input.RunID, "tool", name, "args", logArgs)

	raw := r.backend.CallToolSafe(ctx, name, args)
	if !raw.OK {
		return toolResult{Tool: name, Err: raw.Err}
	}
	value, _ := normalize.Normalize(raw.Result, mcp.NormalizeToolName(name))
	return toolResult{Tool: name, OK: true, Result: value}
}

// resolveTargetUser turns a "for <name>" hint into a user id via the
// user-lookup tool, preferring an email prefix or exact match.
func (r *Runner) resolveTargetUser(ctx context.Context, input RunInput, hint string) (int64, bool) {
	payload := r.callTool(ctx, input, "users_list", map[string]any{"query": hint})
	if !payload.OK {
		return 0, false
	}
	users := rowsFromResult(payload.Result)
	lowered := strings.ToLower(hint)
	var match map[string]any
	for _, user := range users {
		email := strings.ToLower(rowString(user, "email"))
		if email == lowered || strings.HasPrefix(email, lowered) {
			match = user
			break
		}
	}
	if match == nil && len(users) > 0 {
		match = users[0]
	}
	if match == nil {
		return 0, false
	}
	return rowID(match)
}

// finalize applies the deterministic precedence ladder over the
// model's draft text.
func (r *Runner) finalize(
	ctx context.Context,
	input RunInput,
	convo []llm.Message,
	history []llm.Message,
	draft string,
	usage *llm.Usage,
) Result {
	results := extractToolResults(history)
	required := requiredToolsForTurn(convo)

	if _, ok := required["notes_list"]; ok && !hasSuccessfulResult(results, "notes_list") {
		if text, ok := r.listFallback(ctx, input, "notes_list", "note"); ok {
			return Result{Text: text, Usage: *usage}
		}
	}
	if _, ok := required["tasks_list"]; ok && !hasSuccessfulResult(results, "tasks_list") {
		if text, ok := r.listFallback(ctx, input, "tasks_list", "task"); ok {
			return Result{Text: text, Usage: *usage}
		}
	}

	if IsAlarmShowIntent(convo) {
		listed := r.callTool(ctx, input, "alarms_list", map[string]any{})
		if !listed.OK {
			if strings.TrimSpace(listed.Err) != "" {
				return Result{Text: "I couldn't list alarms: " + listed.Err, Usage: *usage}
			}
			return Result{Text: "I couldn't list alarms right now.", Usage: *usage}
		}
		return Result{Text: summarizeAlarms(rowsFromResult(listed.Result)), Usage: *usage}
	}

	if IsAlarmCancelIntent(convo) || isAffirmativeAlarmCancel(convo) {
		return r.deterministicCancel(ctx, input, results, usage)
	}

	if text := mutationSuccessText(results); text != "" {
		return Result{Text: text, Usage: *usage}
	}

	if IsAlarmSetIntent(convo) && !hasSuccessfulResult(results, "alarms_set") {
		return r.deterministicAlarmSet(ctx, input, convo, usage)
	}

	if missing := missingRequiredTools(results, required); len(missing) > 0 {
		sort.Strings(missing)
		return Result{
			Text: "I couldn't complete that action because the required tool step did not run successfully (" +
				strings.Join(missing, ", ") + "). Please rephrase with explicit details and I'll execute it deterministically.",
			Usage: *usage,
		}
	}

	if shouldRunReviewer(results) && r.reviewer != nil {
		reviewed, reviewUsage, err := reviewFinalAnswer(ctx, r.reviewer, draft, compactEvidence(results))
		addUsage(usage, reviewUsage)
		if err != nil {
			r.logger.Error("reviewer failed", "run_id", input.RunID, "error", err)
			return Result{Text: draft, Usage: *usage}
		}
		r.logger.Info("reviewer applied", "run_id", input.RunID, "draft_chars", len(draft), "final_chars", len(reviewed))
		return Result{Text: reviewed, Usage: *usage}
	}

	return Result{Text: draft, Usage: *usage}
}

// listFallback answers a list question from a direct tool call so row
// counts are exact.
func (r *Runner) listFallback(ctx context.Context, input RunInput, toolName, noun string) (string, bool) {
	listed := r.callTool(ctx, input, toolName, map[string]any{})
	if !listed.OK {
		return "", false
	}
	rows := rowsFromResult(listed.Result)
	if rows == nil {
		return "", false
	}
	switch len(rows) {
	case 0:
		return fmt.Sprintf("You currently have no %ss.", noun), true
	case 1:
		if title := rowString(rows[0], "title"); title != "" {
			return fmt.Sprintf("You have one %s titled %q.", noun, title), true
		}
	}
	return fmt.Sprintf("You currently have %d %ss.", len(rows), noun), true
}

func (r *Runner) deterministicCancel(ctx context.Context, input RunInput, results []toolResult, usage *llm.Usage) Result {
	if hasSuccessfulResult(results, "alarms_cancel") {
		if text := mutationSuccessText(results); text != "" {
			return Result{Text: text, Usage: *usage}
		}
	}

	listed := r.callTool(ctx, input, "alarms_list", map[string]any{})
	if !listed.OK {
		if strings.TrimSpace(listed.Err) != "" {
			return Result{Text: "I couldn't list alarms for cancellation: " + listed.Err, Usage: *usage}
		}
		return Result{Text: "I couldn't list alarms for cancellation right now.", Usage: *usage}
	}
	alarms := rowsFromResult(listed.Result)
	if len(alarms) == 0 {
		return Result{Text: "You currently have no active alarms to cancel.", Usage: *usage}
	}
	if len(alarms) == 1 {
		alarmID, ok := rowID(alarms[0])
		if ok {
			cancelled := r.callTool(ctx, input, "alarms_cancel", map[string]any{"alarm_id": alarmID})
			if cancelled.OK {
				if title := rowString(alarms[0], "title"); title != "" {
					return Result{Text: fmt.Sprintf("Cancelled alarm %q.", title), Usage: *usage}
				}
				return Result{Text: "Cancelled the alarm.", Usage: *usage}
			}
			if strings.TrimSpace(cancelled.Err) != "" {
				return Result{Text: "I couldn't cancel the alarm: " + cancelled.Err, Usage: *usage}
			}
			return Result{Text: "I couldn't cancel the alarm.", Usage: *usage}
		}
	}
	return Result{
		Text:  "I found multiple active alarms. Tell me which one to cancel (first/second or title).",
		Usage: *usage,
	}
}

func (r *Runner) deterministicAlarmSet(ctx context.Context, input RunInput, convo []llm.Message, usage *llm.Usage) Result {
	latest := lastUserText(convo)
	title := extractAlarmTitle(latest)
	fireAt := extractAlarmTimePhrase(latest)

	if title == "" {
		return Result{Text: "I can set that, but I need an alarm title. What should I call it?", Usage: *usage}
	}
	if fireAt == "" {
		return Result{Text: "I can set that, but I need the time. Tell me when it should fire.", Usage: *usage}
	}

	args := map[string]any{"title": title, "fire_at": fireAt}
	if hint := extractTargetHint(latest); hint != "" {
		targetID, ok := r.resolveTargetUser(ctx, input, hint)
		if !ok {
			return Result{
				Text:  fmt.Sprintf("I couldn't find a user match for '%s'. Please provide the exact email.", hint),
				Usage: *usage,
			}
		}
		args["target_user_id"] = targetID
	}

	set := r.callTool(ctx, input, "alarms_set", args)
	if set.OK {
		if row, ok := set.Result.(map[string]any); ok {
			resultTitle := rowString(row, "title")
			resultTime := rowString(row, "fire_at_local", "fire_at")
			if resultTitle != "" && resultTime != "" {
				return Result{Text: fmt.Sprintf("Alarm set: %q at %s.", resultTitle, resultTime), Usage: *usage}
			}
		}
		return Result{Text: "Alarm set successfully.", Usage: *usage}
	}
	if strings.TrimSpace(set.Err) != "" {
		return Result{Text: "I couldn't set the alarm: " + set.Err, Usage: *usage}
	}
	return Result{
		Text:  "I couldn't confirm that the alarm was created because the alarm tool did not return a valid result.",
		Usage: *usage,
	}
}

// normalizeMePayload tolerates JSON strings, list wrapping, and
// {"result": ...} envelopes around the identity payload.
func normalizeMePayload(raw any) identity {
	data := raw
	if text, ok := data.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return identity{Permissions: []string{}, Roles: []string{}, Debug: "parse: not_json"}
		}
		data = decoded
	}
	if list, ok := data.([]any); ok && len(list) > 0 {
		data = list[0]
	}
	row, ok := data.(map[string]any)
	if !ok {
		return identity{Permissions: []string{}, Roles: []string{}, Debug: "parse: not_dict"}
	}
	if nested, ok := row["result"].(map[string]any); ok {
		row = nested
	}
	return identity{
		UserID:      row["user_id"],
		Permissions: stringSlice(row["permissions"]),
		Roles:       stringSlice(row["roles"]),
		Debug:       row["debug"],
	}
}

func stringSlice(value any) []string {
	switch list := value.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return []string{}
}
