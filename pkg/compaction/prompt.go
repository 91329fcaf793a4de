package compaction

// SummaryInstruction is the developer turn sent with every compaction request.
const SummaryInstruction = `You are compacting the history of a long coding-agent session so the work can continue in a fresh context window.

Write a condensed summary that lets the agent resume without the original transcript. Cover:

1. The user's goal and any constraints or preferences they stated.
2. Files, functions and commands that were created, changed or inspected, with exact paths and names.
3. Decisions made and the reasons given for them.
4. Errors hit and how they were resolved, or that they are still open.
5. What was in progress at the end of the transcript and the immediate next step.

Guidelines:
- Be concise but complete. Prefer bullet points.
- Keep exact identifiers, paths and error messages.
- Do not invent anything that is not in the transcript.
- Do not call tools. Reply with the summary only.`

// BuildSummaryPrompt wraps a serialized transcript in the user turn that asks
// for the summary.
func BuildSummaryPrompt(transcript string) string {
	return `Summarize the following conversation according to your instructions.

<conversation>
` + transcript + `
</conversation>

Reply with the summary only.`
}
