package tutor

import (
	"fmt"
	"strings"

	"github.com/repolab/repotutor/internal/search"
	"github.com/repolab/repotutor/pkg/types"
)

// systemPrompt frames the assistant: answer only from supplied code
// context, in a strict JSON envelope.
func systemPrompt(session *types.TutorSession) string {
	var sb strings.Builder
	sb.WriteString("You are a code tutor for a specific repository. ")
	sb.WriteString(session.RepoContextSummary)
	sb.WriteString("\n\n")
	if session.RollingSummary != "" {
		sb.WriteString("Conversation so far: ")
		sb.WriteString(session.RollingSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString(`Rules:
- Answer ONLY from the code context provided with each question.
- If the context does not contain the answer, say so; never speculate.
- Cite every claim with file and line references from the context.

Respond with a single JSON object and nothing else:
{"answer": "...", "answered": true, "references": [{"file": "path", "lines": "start-end", "symbol": "kind:name"}], "confidence": 0.0}

Set "answered" to false when the context does not support an answer.
confidence is your 0-1 estimate that the answer is fully supported by the context.`)
	return sb.String()
}

// questionPrompt attaches the retrieved chunks as numbered, language-tagged
// context blocks ahead of the user's question.
func questionPrompt(question string, results []search.Result) string {
	var sb strings.Builder
	sb.WriteString("Code context:\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s (lines %d-%d", i+1, r.FilePath, r.StartLine, r.EndLine)
		if label := symbolLabel(r); label != "" {
			sb.WriteString(", " + label)
		}
		sb.WriteString(")\n")
		fmt.Fprintf(&sb, "```%s\n", r.Language)
		sb.WriteString(r.Content)
		sb.WriteString("\n```\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}
