package compaction

import (
	"encoding/json"
	"strings"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
)

const truncatedMarker = "\n[... earlier part of this turn truncated ...]\n"

// Serialization is a transcript of the turns handed to the summarizer.
type Serialization struct {
	Transcript string
	// TotalTurns counts every turn offered for serialization.
	TotalTurns int
	// DroppedTurns counts turns left out to fit the budget.
	DroppedTurns int
}

// Serialize renders turns as labeled sections, newest kept. With a positive
// budgetTokens the oldest turns are dropped until the transcript fits; a
// single newest turn larger than the budget is truncated from the front.
func Serialize(turns []responses.Item, budgetTokens int) Serialization {
	sections := make([]string, 0, len(turns))
	for _, turn := range turns {
		sections = append(sections, renderTurn(turn))
	}

	kept := len(sections)
	if budgetTokens > 0 {
		used := 0
		kept = 0
		for i := len(sections) - 1; i >= 0; i-- {
			cost := ApproxTokens(sections[i])
			if used+cost > budgetTokens {
				break
			}
			used += cost
			kept++
		}
		if kept == 0 && len(sections) > 0 {
			last := len(sections) - 1
			sections[last] = truncateFront(sections[last], budgetTokens)
			kept = 1
		}
	}

	start := len(sections) - kept
	var nonEmpty []string
	for _, section := range sections[start:] {
		if section != "" {
			nonEmpty = append(nonEmpty, section)
		}
	}
	return Serialization{
		Transcript:   strings.Join(nonEmpty, "\n\n"),
		TotalTurns:   len(turns),
		DroppedTurns: start,
	}
}

func renderTurn(turn responses.Item) string {
	heading := turnHeading(turn)
	body := strings.TrimSpace(itemBody(turn))
	if heading == "" || body == "" {
		return ""
	}
	return heading + "\n" + body
}

func turnHeading(turn responses.Item) string {
	switch turn.Type {
	case responses.ItemFunctionCall:
		if name := turn.ExtraString("name"); name != "" {
			return "## Tool call: " + name
		}
		return "## Tool call"
	case responses.ItemFunctionCallOutput:
		return "## Tool output"
	}
	if !turn.IsMessage() {
		return ""
	}
	switch strings.ToLower(turn.Role) {
	case responses.RoleUser:
		return "## User"
	case responses.RoleAssistant:
		return "## Assistant"
	case responses.RoleSystem:
		return "## System"
	case responses.RoleDeveloper:
		return "## Developer"
	default:
		return "## " + turn.Role
	}
}

// itemBody is the readable payload of a turn: message text, call arguments
// or call output.
func itemBody(item responses.Item) string {
	switch item.Type {
	case responses.ItemFunctionCall:
		return item.ExtraString("arguments")
	case responses.ItemFunctionCallOutput:
		raw, ok := item.Extra["output"]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	return item.Text()
}

// truncateFront keeps the tail of section within budgetTokens, retaining its
// heading line.
func truncateFront(section string, budgetTokens int) string {
	heading, body, _ := strings.Cut(section, "\n")
	keep := budgetTokens*CharsPerToken - len([]rune(heading)) - len([]rune(truncatedMarker))
	if keep <= 0 {
		return heading
	}
	runes := []rune(body)
	if len(runes) <= keep {
		return section
	}
	return heading + truncatedMarker + string(runes[len(runes)-keep:])
}
