package postprocess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/metrics"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/transcript"
)

// Summarizer produces a summary and a short title for a transcript
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (summary, title string, err error)
}

// Backend receives the final session results
type Backend interface {
	Submit(ctx context.Context, submission Submission) error
}

// Input is what a finished session hands to the assembler. Log must no
// longer be written to.
type Input struct {
	SessionID string
	Room      string
	AccountID string
	Log       *transcript.Log
	StartedAt time.Time
	Elapsed   time.Duration
}

// Submission is the payload delivered to backends
type Submission struct {
	SessionID      string                 `json:"session_id"`
	Room           string                 `json:"room,omitempty"`
	AccountID      string                 `json:"account_id,omitempty"`
	FullText       string                 `json:"full_text"`
	Transcript     string                 `json:"transcript"`
	Utterances     []transcript.Utterance `json:"utterances"`
	Summary        string                 `json:"summary"`
	Title          string                 `json:"title"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// Result reports what post-processing achieved
type Result struct {
	Utterances int    `json:"utterances"`
	Summarized bool   `json:"summarized"`
	Submitted  bool   `json:"submitted"`
	Title      string `json:"title,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Assembler turns a session's transcript log into a submission
type Assembler struct {
	summarizer Summarizer
	backend    Backend
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewAssembler creates an assembler. summarizer may be nil, in which case no
// summary or title is produced. m may be nil.
func NewAssembler(summarizer Summarizer, backend Backend, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Assembler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Assembler{
		summarizer: summarizer,
		backend:    backend,
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
	}
}

// Run assembles and submits the session results. Failures are logged and
// recorded in the result; Run never returns an error.
func (a *Assembler) Run(ctx context.Context, in Input) Result {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	logger := a.logger.With(slog.String("session_id", in.SessionID))

	var utterances []transcript.Utterance
	var fullText, markdown string
	if in.Log != nil {
		utterances = in.Log.Utterances()
		fullText = in.Log.Text()
		markdown = in.Log.Markdown()
	}

	result := Result{Utterances: len(utterances)}
	submission := Submission{
		SessionID:      in.SessionID,
		Room:           in.Room,
		AccountID:      in.AccountID,
		FullText:       fullText,
		Transcript:     markdown,
		Utterances:     utterances,
		ElapsedSeconds: in.Elapsed.Seconds(),
		StartedAt:      in.StartedAt,
		FinishedAt:     time.Now(),
	}

	if strings.TrimSpace(fullText) == "" {
		logger.Info("Transcript is empty, skipping summary")
	} else if a.summarizer != nil {
		summary, title, err := a.summarizer.Summarize(ctx, markdown)
		if err != nil {
			logger.Error("Failed to summarize transcript", slog.String("error", err.Error()))
		} else {
			submission.Summary = summary
			submission.Title = title
			result.Summarized = true
			result.Title = title
		}
	}

	if a.backend == nil {
		logger.Warn("No backend configured, results discarded")
		a.metrics.RecordPostProcess("skipped")
		return result
	}

	if err := a.backend.Submit(ctx, submission); err != nil {
		logger.Error("Failed to submit results", slog.String("error", err.Error()))
		result.Error = fmt.Sprintf("failed to submit results: %v", err)
		a.metrics.RecordPostProcess("failed")
		return result
	}

	result.Submitted = true
	a.metrics.RecordPostProcess("submitted")
	logger.Info("Session results submitted",
		slog.Int("utterances", len(utterances)),
		slog.Bool("summarized", result.Summarized),
		slog.Float64("elapsed_seconds", submission.ElapsedSeconds),
	)

	return result
}
