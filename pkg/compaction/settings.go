package compaction

import (
	"errors"
	"fmt"
)

// Default settings values.
const (
	DefaultAutoLimitTokens        = 180000
	DefaultAutoMinMessages        = 8
	DefaultTranscriptBudgetTokens = 60000
)

// ErrInvalidConfig indicates invalid compaction settings.
var ErrInvalidConfig = errors.New("invalid compaction configuration")

// Settings controls automatic compaction. Explicit commands are honored even
// when Enabled is false.
type Settings struct {
	// Enabled turns on automatic compaction of overlong requests.
	Enabled bool

	// AutoLimitTokens is the approximate request size above which automatic
	// compaction triggers.
	// Default: 180000
	AutoLimitTokens int

	// AutoMinMessages is the minimum number of input turns before automatic
	// compaction is considered.
	// Default: 8
	AutoMinMessages int

	// TranscriptBudgetTokens caps the serialized transcript sent for
	// summarization. Oldest turns are dropped first.
	// Default: 60000
	TranscriptBudgetTokens int
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:                true,
		AutoLimitTokens:        DefaultAutoLimitTokens,
		AutoMinMessages:        DefaultAutoMinMessages,
		TranscriptBudgetTokens: DefaultTranscriptBudgetTokens,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (s *Settings) ApplyDefaults() {
	if s.AutoLimitTokens == 0 {
		s.AutoLimitTokens = DefaultAutoLimitTokens
	}
	if s.AutoMinMessages == 0 {
		s.AutoMinMessages = DefaultAutoMinMessages
	}
	if s.TranscriptBudgetTokens == 0 {
		s.TranscriptBudgetTokens = DefaultTranscriptBudgetTokens
	}
}

func (s Settings) Validate() error {
	if s.AutoLimitTokens < 0 {
		return fmt.Errorf("%w: auto_limit_tokens must be non-negative, got %d", ErrInvalidConfig, s.AutoLimitTokens)
	}
	if s.AutoMinMessages < 0 {
		return fmt.Errorf("%w: auto_min_messages must be non-negative, got %d", ErrInvalidConfig, s.AutoMinMessages)
	}
	if s.TranscriptBudgetTokens < 0 {
		return fmt.Errorf("%w: transcript_budget_tokens must be non-negative, got %d", ErrInvalidConfig, s.TranscriptBudgetTokens)
	}
	if s.TranscriptBudgetTokens > 0 && s.AutoLimitTokens > 0 && s.TranscriptBudgetTokens > s.AutoLimitTokens {
		return fmt.Errorf("%w: transcript_budget_tokens (%d) must not exceed auto_limit_tokens (%d)",
			ErrInvalidConfig, s.TranscriptBudgetTokens, s.AutoLimitTokens)
	}
	return nil
}
