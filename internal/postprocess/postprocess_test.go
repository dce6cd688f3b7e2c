package postprocess

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSummarizer struct {
	calls int
	err   error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	return "- shipped the release", "Release Sync", nil
}

type recordingBackend struct {
	submissions []Submission
	err         error
}

func (r *recordingBackend) Submit(ctx context.Context, s Submission) error {
	r.submissions = append(r.submissions, s)
	return r.err
}

func sampleLog() *transcript.Log {
	log := transcript.NewLog()
	log.Append(transcript.Utterance{Text: "hello everyone", Start: 1, End: 2})
	log.Append(transcript.Utterance{Text: "the release shipped", Start: 3, End: 5})
	return log
}

func TestAssemblerRun(t *testing.T) {
	summarizer := &fakeSummarizer{}
	backend := &recordingBackend{}
	assembler := NewAssembler(summarizer, backend, time.Second, testLogger(), nil)

	result := assembler.Run(context.Background(), Input{
		SessionID: "s1",
		Room:      "standup",
		Log:       sampleLog(),
		Elapsed:   90 * time.Second,
	})

	if !result.Submitted || !result.Summarized {
		t.Errorf("Expected submitted and summarized result, got %+v", result)
	}
	if result.Title != "Release Sync" {
		t.Errorf("Expected title 'Release Sync', got %q", result.Title)
	}
	if len(backend.submissions) != 1 {
		t.Fatalf("Expected 1 submission, got %d", len(backend.submissions))
	}

	s := backend.submissions[0]
	if s.FullText != "hello everyone\nthe release shipped" {
		t.Errorf("Unexpected full text: %q", s.FullText)
	}
	if s.ElapsedSeconds != 90 {
		t.Errorf("Expected 90 elapsed seconds, got %f", s.ElapsedSeconds)
	}
	if len(s.Utterances) != 2 {
		t.Errorf("Expected 2 utterances, got %d", len(s.Utterances))
	}
}

func TestAssemblerEmptyTranscriptStillSubmits(t *testing.T) {
	summarizer := &fakeSummarizer{}
	backend := &recordingBackend{}
	assembler := NewAssembler(summarizer, backend, time.Second, testLogger(), nil)

	result := assembler.Run(context.Background(), Input{SessionID: "s2", Log: transcript.NewLog()})

	if summarizer.calls != 0 {
		t.Errorf("Expected no summary request for empty transcript, got %d", summarizer.calls)
	}
	if !result.Submitted {
		t.Error("Expected empty session to be submitted")
	}
	if result.Summarized {
		t.Error("Expected no summary")
	}
}

func TestAssemblerSwallowsFailures(t *testing.T) {
	summarizer := &fakeSummarizer{err: errors.New("llm down")}
	backend := &recordingBackend{err: errors.New("backend down")}
	assembler := NewAssembler(summarizer, backend, time.Second, testLogger(), nil)

	result := assembler.Run(context.Background(), Input{SessionID: "s3", Log: sampleLog()})

	if result.Summarized {
		t.Error("Expected summary failure to be reported")
	}
	if result.Submitted {
		t.Error("Expected submission failure to be reported")
	}
	if !strings.Contains(result.Error, "backend down") {
		t.Errorf("Expected backend error in result, got %q", result.Error)
	}
	if len(backend.submissions) != 1 || backend.submissions[0].Summary != "" {
		t.Error("Expected submission without summary after summary failure")
	}
}

func TestAssemblerWithoutBackend(t *testing.T) {
	assembler := NewAssembler(nil, nil, 0, testLogger(), nil)
	result := assembler.Run(context.Background(), Input{SessionID: "s4", Log: sampleLog()})
	if result.Submitted {
		t.Error("Expected nothing to be submitted without a backend")
	}
	if result.Utterances != 2 {
		t.Errorf("Expected 2 utterances, got %d", result.Utterances)
	}
}

type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	i := s.calls
	s.calls++
	return s.responses[i], s.errs[i]
}

func TestLLMSummarizer(t *testing.T) {
	completer := &scriptedCompleter{
		responses: []string{"## Key points\n- release shipped\n", "\"Release Retrospective.\""},
		errs:      []error{nil, nil},
	}
	summary, title, err := NewLLMSummarizer(completer).Summarize(context.Background(), "[00:01] hi")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary != "## Key points\n- release shipped" {
		t.Errorf("Unexpected summary: %q", summary)
	}
	if title != "Release Retrospective" {
		t.Errorf("Expected cleaned title, got %q", title)
	}

	completer = &scriptedCompleter{
		responses: []string{"Weekly planning went well", ""},
		errs:      []error{nil, errors.New("rate limited")},
	}
	_, title, err = NewLLMSummarizer(completer).Summarize(context.Background(), "x")
	if err != nil {
		t.Fatalf("Expected title failure to fall back, got %v", err)
	}
	if title != "Weekly planning went well" {
		t.Errorf("Expected fallback title from summary, got %q", title)
	}

	completer = &scriptedCompleter{responses: []string{""}, errs: []error{errors.New("down")}}
	if _, _, err := NewLLMSummarizer(completer).Summarize(context.Background(), "x"); err == nil {
		t.Error("Expected summary failure to be returned")
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"Budget Review", "Budget Review"},
		{"\n\n# Budget Review\nextra", "Budget Review"},
		{"**Budget Review**", "Budget Review"},
		{strings.Repeat("a", 100), strings.Repeat("a", 80)},
	}
	for _, tt := range tests {
		if got := cleanTitle(tt.raw); got != tt.expected {
			t.Errorf("cleanTitle(%q): expected %q, got %q", tt.raw, tt.expected, got)
		}
	}
}

func TestHTTPBackend(t *testing.T) {
	var received Submission
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	backend, err := NewHTTPBackend(server.URL, "tok", time.Second)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	if err := backend.Submit(context.Background(), Submission{SessionID: "abc", FullText: "hi", ElapsedSeconds: 12}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if auth != "Bearer tok" {
		t.Errorf("Expected bearer token, got %q", auth)
	}
	if received.SessionID != "abc" || received.ElapsedSeconds != 12 {
		t.Errorf("Unexpected submission: %+v", received)
	}
}

func TestHTTPBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	backend, _ := NewHTTPBackend(server.URL, "", time.Second)
	err := backend.Submit(context.Background(), Submission{SessionID: "abc"})
	if err == nil || !strings.Contains(err.Error(), "HTTP error 500") {
		t.Errorf("Expected HTTP 500 error, got %v", err)
	}
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	submission := Submission{
		SessionID:      "sess",
		Room:           "standup",
		Transcript:     "[00:01] hello\n",
		Summary:        "- all good",
		Title:          "Standup",
		ElapsedSeconds: 65,
	}
	if err := backend.Submit(context.Background(), submission); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sess", "transcript.md"))
	if err != nil {
		t.Fatalf("Failed to read transcript: %v", err)
	}
	for _, want := range []string{"# Transcript", "Room: standup", "Duration: 01:05", "[00:01] hello"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected transcript to contain %q, got:\n%s", want, data)
		}
	}

	summary, err := os.ReadFile(filepath.Join(dir, "sess", "summary.md"))
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	if string(summary) != "# Standup\n\n- all good\n" {
		t.Errorf("Unexpected summary file: %q", summary)
	}
}

func TestFileBackendSkipsEmptySummary(t *testing.T) {
	dir := t.TempDir()
	backend, _ := NewFileBackend(dir)

	if err := backend.Submit(context.Background(), Submission{SessionID: "quiet"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "quiet", "summary.md")); !os.IsNotExist(err) {
		t.Error("Expected no summary file for an empty summary")
	}
	data, _ := os.ReadFile(filepath.Join(dir, "quiet", "transcript.md"))
	if !strings.Contains(string(data), "No speech was transcribed") {
		t.Errorf("Expected empty transcript notice, got %q", data)
	}
}

func TestMultiBackend(t *testing.T) {
	ok := &recordingBackend{}
	failing := &recordingBackend{err: errors.New("down")}
	multi := MultiBackend{failing, ok}

	err := multi.Submit(context.Background(), Submission{SessionID: "x"})
	if err == nil {
		t.Error("Expected joined error")
	}
	if len(ok.submissions) != 1 {
		t.Error("Expected later backends to receive the submission despite earlier failure")
	}
}
