package compaction

import (
	"strings"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
)

// DefaultCommands trigger an explicit compaction when sent as the newest
// user turn.
var DefaultCommands = []string{"/compact", "codex-compact"}

// DetectCommand reports whether the newest user turn is a compaction command.
// A command may be followed by free text ("/compact keep the test plan").
// The returned text is the turn's trimmed text.
func DetectCommand(input []responses.Item, triggers []string) (string, bool) {
	if len(triggers) == 0 {
		triggers = DefaultCommands
	}
	for i := len(input) - 1; i >= 0; i-- {
		if !input[i].HasRole(responses.RoleUser) {
			continue
		}
		text := strings.TrimSpace(input[i].Text())
		lower := strings.ToLower(text)
		for _, trigger := range triggers {
			trigger = strings.ToLower(strings.TrimSpace(trigger))
			if trigger == "" {
				continue
			}
			if lower == trigger || strings.HasPrefix(lower, trigger+" ") || strings.HasPrefix(lower, trigger+"\n") {
				return text, true
			}
		}
		return "", false
	}
	return "", false
}

// TrimCompacted drops every turn up to and including the newest assistant
// turn carrying the compaction Marker. The summary stored for the lineage
// covers that history.
func TrimCompacted(input []responses.Item) ([]responses.Item, bool) {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].HasRole(responses.RoleAssistant) && strings.Contains(input[i].Text(), Marker) {
			return input[i+1:], true
		}
	}
	return input, false
}

// removeCommandTurn drops the newest user turn whose text is the command.
func removeCommandTurn(turns []responses.Item, command string) []responses.Item {
	command = strings.TrimSpace(command)
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].HasRole(responses.RoleUser) && strings.TrimSpace(turns[i].Text()) == command {
			out := make([]responses.Item, 0, len(turns)-1)
			out = append(out, turns[:i]...)
			return append(out, turns[i+1:]...)
		}
	}
	return turns
}
