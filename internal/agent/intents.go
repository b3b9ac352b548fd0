package agent

import (
	"strings"

	"github.com/wardenhq/warden/internal/llm"
)

func lastUserText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

func latestIsUser(messages []llm.Message) (string, bool) {
	if len(messages) == 0 {
		return "", false
	}
	last := messages[len(messages)-1]
	if last.Role != "user" {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(last.Content)), true
}

var capabilityPhrases = map[string]struct{}{
	"what can i do?":           {},
	"what can i do":            {},
	"help":                     {},
	"commands":                 {},
	"capabilities":             {},
	"what are my permissions?": {},
	"what are my permissions":  {},
}

// IsCapabilitiesQuestion matches the short fixed phrases that always
// get a deterministic capability summary instead of a model answer.
func IsCapabilitiesQuestion(messages []llm.Message) bool {
	text, ok := latestIsUser(messages)
	if !ok {
		return false
	}
	_, hit := capabilityPhrases[text]
	return hit
}

var cancelWords = []string{"cancel", "stop", "delete", "remove"}
var ordinalTokens = []string{"it", "one", "first", "second", "third", "1st", "2nd", "3rd"}

// IsAlarmCancelIntent also accepts ordinal/pronoun follow-ups ("cancel
// the first one") where the word "alarm" was only in a prior turn.
func IsAlarmCancelIntent(messages []llm.Message) bool {
	text, ok := latestIsUser(messages)
	if !ok || !containsAny(text, cancelWords) {
		return false
	}
	if strings.Contains(text, "alarm") {
		return true
	}
	return containsAny(text, ordinalTokens)
}

func IsAlarmShowIntent(messages []llm.Message) bool {
	text, ok := latestIsUser(messages)
	if !ok || !strings.Contains(text, "alarm") {
		return false
	}
	return containsAny(text, []string{"show", "list", "what", "which", "have", "active", "upcoming"})
}

func IsAlarmSetIntent(messages []llm.Message) bool {
	text, ok := latestIsUser(messages)
	if !ok || !strings.Contains(text, "alarm") {
		return false
	}
	return containsAny(text, []string{"set", "create", "add", "schedule", "remind"})
}

var affirmativeTokens = map[string]struct{}{
	"yes": {}, "y": {}, "yep": {}, "yeah": {}, "sure": {},
	"ok": {}, "okay": {}, "do it": {}, "please do": {},
}

// isAffirmativeAlarmCancel confirms a pending cancel offer: the last
// message is a bare affirmative and an earlier message mentioned both
// "alarm" and "cancel".
func isAffirmativeAlarmCancel(messages []llm.Message) bool {
	text, ok := latestIsUser(messages)
	if !ok {
		return false
	}
	if _, hit := affirmativeTokens[text]; !hit {
		return false
	}
	for i := len(messages) - 2; i >= 0; i-- {
		content := strings.ToLower(messages[i].Content)
		if strings.Contains(content, "alarm") && strings.Contains(content, "cancel") {
			return true
		}
	}
	return false
}

func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}
