package compaction

import (
	"unicode/utf8"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
)

// CharsPerToken is the rough ratio used by the approximation below.
const CharsPerToken = 4

// ApproxTokens estimates the token count of text, rounding up.
func ApproxTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// ApproxItemTokens estimates the size of a turn sequence, counting message
// text plus tool call arguments and outputs.
func ApproxItemTokens(items []responses.Item) int {
	total := 0
	for _, item := range items {
		total += ApproxTokens(itemBody(item))
	}
	return total
}
