package agent

import (
	"regexp"
	"strings"

	"github.com/wardenhq/warden/internal/llm"
)

var (
	weekdayPhraseRe = regexp.MustCompile(`(?i)\b(next|this)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	nextWeekRe      = regexp.MustCompile(`(?i)\bnext\s+week\b`)
	isoDateRe       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	quotedTitleRe = regexp.MustCompile(`["“](.+?)["”]`)
	titledRe      = regexp.MustCompile(`(?i)\btitle\s+(?:is\s+)?(.+)$`)
	namedRe       = regexp.MustCompile(`(?i)\bnamed\s+(.+)$`)

	relativeTimeRe = regexp.MustCompile(`(?i)\b(?:in\s+)?\d+\s*(?:seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h)\s*(?:from\s+now)?\b`)
	isoTimeRe      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:\d{2})?\b`)

	targetHintRe = regexp.MustCompile(`\bfor\s+([A-Za-z0-9._%+-]+(?:\s+[A-Za-z0-9._%+-]+)?)`)
)

// extractRelativeDuePhrase pulls "next week" or "{next|this} {weekday}"
// out of free text so the backend resolves the date instead of the
// model.
func extractRelativeDuePhrase(userText string) string {
	if userText == "" {
		return ""
	}
	if nextWeekRe.MatchString(userText) {
		return "next week"
	}
	if match := weekdayPhraseRe.FindStringSubmatch(userText); match != nil {
		return strings.ToLower(match[1]) + " " + strings.ToLower(match[2])
	}
	return ""
}

// applyDueOnOverride replaces a model-precomputed ISO due_on with the
// relative phrase the user actually spoke. It only fires when due_on
// is empty (for "next week") or strictly ISO shaped; a value the model
// derived from something else is left alone.
func applyDueOnOverride(toolName string, args map[string]any, messages []llm.Message) {
	switch toolName {
	case "tasks_create", "tasks_update", "tasks.create", "tasks.update":
	default:
		return
	}
	phrase := extractRelativeDuePhrase(lastUserText(messages))
	if phrase == "" {
		return
	}
	dueOn, _ := args["due_on"].(string)
	if dueOn == "" && phrase == "next week" {
		args["due_on"] = phrase
		return
	}
	if isoDateRe.MatchString(strings.TrimSpace(dueOn)) {
		args["due_on"] = phrase
	}
}

func extractAlarmTitle(text string) string {
	if match := quotedTitleRe.FindStringSubmatch(text); match != nil {
		if title := strings.TrimSpace(match[1]); title != "" {
			return title
		}
	}
	for _, re := range []*regexp.Regexp{titledRe, namedRe} {
		if match := re.FindStringSubmatch(text); match != nil {
			if title := strings.Trim(strings.TrimSpace(match[1]), ".?!"); title != "" {
				return title
			}
		}
	}
	return ""
}

func extractAlarmTimePhrase(text string) string {
	if match := relativeTimeRe.FindString(text); strings.TrimSpace(match) != "" {
		return strings.TrimSpace(match)
	}
	if match := isoTimeRe.FindString(text); match != "" {
		return strings.ReplaceAll(match, " ", "T")
	}
	return ""
}

// extractTargetHint finds a "for <name>" delegation hint, ignoring
// self references.
func extractTargetHint(text string) string {
	match := targetHintRe.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	hint := strings.Trim(strings.TrimSpace(match[1]), ".?!")
	switch strings.ToLower(hint) {
	case "me", "myself", "my":
		return ""
	}
	return hint
}
