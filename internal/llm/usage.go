package llm

// ExtractUsage pulls token accounting out of a raw provider response,
// tolerating the field-naming variants the ecosystem uses
// (input_tokens/prompt_tokens, output_tokens/completion_tokens). A
// missing or malformed usage object yields zeros.
func ExtractUsage(raw map[string]any) Usage {
	usage, ok := raw["usage"].(map[string]any)
	if !ok {
		return Usage{}
	}
	input := firstCount(usage, "input_tokens", "prompt_tokens", "prompt_token_count")
	output := firstCount(usage, "output_tokens", "completion_tokens", "completion_token_count")
	total := firstCount(usage, "total_tokens")
	if total <= 0 {
		total = input + output
	}
	return Usage{InputTokens: input, OutputTokens: output, TotalTokens: total}
}

func firstCount(usage map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if count := toCount(usage[key]); count > 0 {
			return count
		}
	}
	return 0
}

func toCount(value any) int64 {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return int64(v)
	case int64:
		if v < 0 {
			return 0
		}
		return v
	case int:
		if v < 0 {
			return 0
		}
		return int64(v)
	default:
		return 0
	}
}
