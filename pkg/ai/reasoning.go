package ai

import "regexp"

var reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripReasoning removes <think>...</think> segments emitted by reasoning models.
func StripReasoning(text string) string {
	return reasoningBlock.ReplaceAllString(text, "")
}
