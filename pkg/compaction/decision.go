package compaction

import (
	"fmt"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
)

type Mode string

const (
	ModeCommand Mode = "command"
	ModeAuto    Mode = "auto"
)

// Decision describes a request that was rewritten into a summarization turn.
type Decision struct {
	Mode            Mode
	Reason          string
	PreservedSystem []responses.Item
	Serialization   Serialization
}

type Options struct {
	Settings Settings
	// CommandText is the detected command turn, or "" when none was sent.
	CommandText string
	// OriginalInput is the conversation to summarize. Defaults to req.Input.
	OriginalInput []responses.Item
}

// Decide returns nil when req should be forwarded unmodified. Otherwise req
// is rewritten in place into a tool-less summarization request.
func Decide(req *responses.Request, opts Options) *Decision {
	if req == nil {
		return nil
	}
	original := opts.OriginalInput
	if original == nil {
		original = req.Input
	}

	var decision *Decision
	switch {
	case opts.CommandText != "":
		decision = &Decision{Mode: ModeCommand}
		original = removeCommandTurn(original, opts.CommandText)
	case shouldAutoCompact(original, opts.Settings):
		decision = &Decision{
			Mode: ModeAuto,
			Reason: fmt.Sprintf("token limit exceeded (~%d > %d tokens)",
				ApproxItemTokens(original), opts.Settings.AutoLimitTokens),
		}
	default:
		return nil
	}

	var conversation []responses.Item
	for _, item := range original {
		if item.IsSystem() {
			decision.PreservedSystem = append(decision.PreservedSystem, item.Clone())
			continue
		}
		conversation = append(conversation, item)
	}
	decision.Serialization = Serialize(conversation, opts.Settings.TranscriptBudgetTokens)

	req.Input = []responses.Item{
		responses.NewMessage(responses.RoleDeveloper, SummaryInstruction),
		responses.NewMessage(responses.RoleUser, BuildSummaryPrompt(decision.Serialization.Transcript)),
	}
	req.StripTools()
	return decision
}

func shouldAutoCompact(input []responses.Item, s Settings) bool {
	if !s.Enabled || s.AutoLimitTokens <= 0 {
		return false
	}
	if len(input) < s.AutoMinMessages {
		return false
	}
	return ApproxItemTokens(input) > s.AutoLimitTokens
}
