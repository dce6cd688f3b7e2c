package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/transcript"
)

// HTTPBackend posts submissions as JSON
type HTTPBackend struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewHTTPBackend creates a backend posting to url with an optional bearer token
func NewHTTPBackend(endpoint, token string, timeout time.Duration) (*HTTPBackend, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("backend url cannot be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", endpoint)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		url:        endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Submit posts the submission
func (b *HTTPBackend) Submit(ctx context.Context, submission Submission) error {
	body, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// FileBackend writes transcript.md and summary.md into a per-session directory
type FileBackend struct {
	dir string
}

// NewFileBackend creates a backend writing under dir
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory cannot be empty")
	}
	return &FileBackend{dir: dir}, nil
}

// SessionDir returns the directory results for sessionID are written to
func (b *FileBackend) SessionDir(sessionID string) string {
	return filepath.Join(b.dir, sessionID)
}

// Submit writes the submission files
func (b *FileBackend) Submit(ctx context.Context, submission Submission) error {
	dir := b.SessionDir(submission.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	var t strings.Builder
	t.WriteString("# Transcript\n\n")
	fmt.Fprintf(&t, "- Session: %s\n", submission.SessionID)
	if submission.Room != "" {
		fmt.Fprintf(&t, "- Room: %s\n", submission.Room)
	}
	fmt.Fprintf(&t, "- Started: %s\n", submission.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&t, "- Duration: %s\n\n", transcript.FormatOffset(submission.ElapsedSeconds))
	if submission.Transcript == "" {
		t.WriteString("_No speech was transcribed._\n")
	} else {
		t.WriteString(submission.Transcript)
	}

	if err := os.WriteFile(filepath.Join(dir, "transcript.md"), []byte(t.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}

	if submission.Summary == "" {
		return nil
	}

	title := submission.Title
	if title == "" {
		title = "Meeting Summary"
	}
	summary := "# " + title + "\n\n" + submission.Summary + "\n"
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(summary), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// MultiBackend submits to every backend and joins their errors
type MultiBackend []Backend

// Submit delivers to all backends even when some fail
func (m MultiBackend) Submit(ctx context.Context, submission Submission) error {
	var errs []error
	for _, b := range m {
		if err := b.Submit(ctx, submission); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
