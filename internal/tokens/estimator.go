// Package tokens approximates token counts for admission control.
// The heuristic is a fixed character-to-token ratio, not a tokenizer;
// it must never be treated as billing truth when a provider reports
// an authoritative count.
package tokens

import "unicode/utf8"

// charsPerToken is deliberately conservative: real tokenizers average
// closer to 4 characters per token for English text.
const charsPerToken = 3

// Estimate returns ceil(chars/3) for the given text. Deterministic and
// side-effect free.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	return (chars + charsPerToken - 1) / charsPerToken
}
