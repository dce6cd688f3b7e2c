package postprocess

import (
	"context"
	"fmt"
	"strings"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/llm"
)

const summaryPrompt = `You summarize meeting transcripts.
Write a concise markdown summary with the sections "Key points", "Decisions" and "Action items".
Omit a section when the transcript has nothing for it.`

const titlePrompt = `Write a title of at most eight words for the meeting summarized below.
Reply with the title only, without quotes or punctuation at the end.`

const maxTitleLength = 80

// LLMSummarizer asks a language model for a summary, then a title
type LLMSummarizer struct {
	completer llm.Completer
}

// NewLLMSummarizer creates a summarizer backed by completer
func NewLLMSummarizer(completer llm.Completer) *LLMSummarizer {
	return &LLMSummarizer{completer: completer}
}

// Summarize returns the summary and title. A failed title request falls back
// to the summary's first line.
func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string) (string, string, error) {
	summary, err := s.completer.Complete(ctx, summaryPrompt, "Here is the meeting transcript to summarize:\n\n"+transcript)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate summary: %w", err)
	}
	summary = strings.TrimSpace(summary)

	title, err := s.completer.Complete(ctx, titlePrompt, summary)
	if err != nil {
		title = summary
	}

	return summary, cleanTitle(title), nil
}

// cleanTitle keeps the first non-empty line without markdown or quotes
func cleanTitle(raw string) string {
	var title string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			title = line
			break
		}
	}

	title = strings.TrimLeft(title, "# ")
	title = strings.Trim(title, `"'*`)
	title = strings.TrimRight(title, ".")
	title = strings.TrimSpace(title)

	if runes := []rune(title); len(runes) > maxTitleLength {
		title = strings.TrimSpace(string(runes[:maxTitleLength]))
	}
	return title
}
