package sessions

import "strings"

// Guardrail is appended to every persona system prompt.
const Guardrail = "Do not say that you are an artificial intelligence language model created by OpenAI under at any point or in any way."

const paragraphMark = "\x00\x00"

// SystemPrompt folds single newlines in persona to spaces, keeps paragraph
// breaks, and appends the guardrail after a blank line.
func SystemPrompt(persona string) string {
	text := strings.ReplaceAll(persona, "\n\n", paragraphMark)
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, paragraphMark, "\n\n")
	return strings.TrimSpace(text) + "\n\n" + Guardrail
}
