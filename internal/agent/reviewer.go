package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wardenhq/warden/internal/llm"
)

const (
	maxEvidenceChars = 6000
	maxResultChars   = 1500
)

// toolResultMessage encodes a tool outcome as an assistant message the
// model (and the evidence extractor) can read back.
func toolResultMessage(toolName string, result toolResult) llm.Message {
	payload := map[string]any{"ok": result.OK}
	if result.OK {
		payload["result"] = result.Result
	} else {
		payload["error"] = result.Err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(`{"ok":false,"error":"unencodable tool payload"}`)
	}
	return llm.Message{
		Role:    "assistant",
		Content: "TOOL_RESULT\ntool: " + toolName + "\npayload: " + string(encoded),
	}
}

// extractToolResults recovers the run's tool evidence from the
// TOOL_RESULT messages in the history.
func extractToolResults(messages []llm.Message) []toolResult {
	results := []toolResult{}
	for _, message := range messages {
		if message.Role != "assistant" || !strings.HasPrefix(message.Content, "TOOL_RESULT") {
			continue
		}
		var toolName, payloadJSON string
		for _, line := range strings.Split(message.Content, "\n") {
			if rest, ok := strings.CutPrefix(line, "tool:"); ok {
				toolName = strings.TrimSpace(rest)
			} else if rest, ok := strings.CutPrefix(line, "payload:"); ok {
				payloadJSON = strings.TrimSpace(rest)
			}
		}
		if toolName == "" || payloadJSON == "" {
			continue
		}
		var payload struct {
			OK     bool   `json:"ok"`
			Result any    `json:"result"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			results = append(results, toolResult{Tool: toolName, Err: "Could not parse tool payload JSON"})
			continue
		}
		results = append(results, toolResult{
			Tool:   toolName,
			OK:     payload.OK,
			Result: payload.Result,
			Err:    payload.Error,
		})
	}
	return results
}

// compactEvidence renders the evidence block the reviewer is grounded
// on, bounded per result and overall.
func compactEvidence(results []toolResult) string {
	lines := make([]string, 0, len(results))
	for _, result := range results {
		if result.OK {
			encoded, err := json.Marshal(result.Result)
			if err != nil {
				encoded = []byte("null")
			}
			body := string(encoded)
			if len(body) > maxResultChars {
				body = body[:maxResultChars] + "…(truncated)"
			}
			lines = append(lines, "- "+result.Tool+": ok=true result="+body)
		} else {
			errText := result.Err
			if errText == "" {
				errText = "Tool failed"
			}
			lines = append(lines, "- "+result.Tool+": ok=false error="+errText)
		}
	}
	evidence := strings.Join(lines, "\n")
	if len(evidence) > maxEvidenceChars {
		evidence = evidence[:maxEvidenceChars] + "\n…(evidence truncated)"
	}
	return evidence
}

func shouldRunReviewer(results []toolResult) bool {
	return len(results) > 0
}

const reviewerSystemPrompt = "You are a strict reviewer for an assistant that used tools.\n" +
	"Rewrite the assistant's final answer to be accurate and grounded ONLY in the evidence.\n" +
	"Rules:\n" +
	"- Do NOT add new facts not present in the evidence.\n" +
	"- Do NOT claim an action succeeded unless evidence shows ok=true for the relevant tool.\n" +
	"- Do NOT claim an action failed unless evidence shows ok=false for the relevant action tool.\n" +
	"- If evidence shows ok=true for a mutation tool (e.g. *.create, *.update, *.delete, *.cancel, " +
	"*.complete, *.decide, *.revoke, *.set), you MUST clearly state that the action was completed.\n" +
	"- When a mutation tool succeeded, do NOT ask the user whether they want to perform that same action.\n" +
	"- If only list/read tools ran, summarize current state from those results without inventing attempted mutations.\n" +
	"- If evidence shows ok=false, explain politely.\n" +
	"- Keep it concise.\n"

// reviewFinalAnswer asks the reviewer model to rewrite the draft
// against the evidence. The draft survives an empty rewrite.
func reviewFinalAnswer(ctx context.Context, client llm.Client, finalText, evidence string) (string, llm.Usage, error) {
	userContent := "EVIDENCE (authoritative):\n" + evidence + "\n\n" +
		"DRAFT ANSWER TO FIX:\n" + finalText + "\n\n" +
		"Return ONLY the rewritten final answer."

	response, err := client.Complete(ctx, llm.CompleteInput{
		Messages: []llm.Message{
			{Role: "system", Content: reviewerSystemPrompt},
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		return "", llm.Usage{}, err
	}
	rewritten := strings.TrimSpace(response.Text)
	if rewritten == "" {
		rewritten = finalText
	}
	return rewritten, response.Usage, nil
}
