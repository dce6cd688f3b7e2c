package transcript

import (
	"fmt"
	"strings"
	"sync"
)

// Utterance is the transcribed text of one speech segment. Start and End are
// seconds since the session started capturing audio.
type Utterance struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Log is an ordered, append-only record of utterances. Utterances are never
// edited once appended.
type Log struct {
	utterances []Utterance
	mu         sync.RWMutex
}

// NewLog creates an empty log
func NewLog() *Log {
	return &Log{}
}

// Append adds an utterance to the end of the log
func (l *Log) Append(u Utterance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.utterances = append(l.utterances, u)
}

// Len returns the number of utterances
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.utterances)
}

// Utterances returns a copy of the log in append order
func (l *Log) Utterances() []Utterance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Utterance, len(l.utterances))
	copy(out, l.utterances)
	return out
}

// Text joins all utterance texts in order, one per line
func (l *Log) Text() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	texts := make([]string, len(l.utterances))
	for i, u := range l.utterances {
		texts[i] = u.Text
	}
	return strings.Join(texts, "\n")
}

// Markdown renders the log as timestamped lines
func (l *Log) Markdown() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var b strings.Builder
	for _, u := range l.utterances {
		fmt.Fprintf(&b, "[%s] %s\n", FormatOffset(u.Start), u.Text)
	}
	return b.String()
}

// FormatOffset renders seconds as mm:ss, or h:mm:ss past the first hour
func FormatOffset(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
