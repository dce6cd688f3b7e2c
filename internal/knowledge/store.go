package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// ErrNotFound is returned when nothing stored matches a query
var ErrNotFound = errors.New("no matching knowledge")

// Store saves and looks up free-text notes per account
type Store interface {
	Save(ctx context.Context, accountID, text string) error
	Query(ctx context.Context, accountID, query string) (string, error)
}

// Entry is one stored note
type Entry struct {
	AccountID string    `json:"account_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	entries map[string][]Entry
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

// Save stores text for accountID
func (s *MemoryStore) Save(ctx context.Context, accountID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[accountID] = append(s.entries[accountID], Entry{
		AccountID: accountID,
		Text:      text,
		CreatedAt: time.Now(),
	})
	return nil
}

// Query returns the entry sharing the most keywords with query, preferring
// the most recent on ties. An empty query returns the most recent entry.
func (s *MemoryStore) Query(ctx context.Context, accountID, query string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[accountID]
	if len(entries) == 0 {
		return "", ErrNotFound
	}

	words := Keywords(query)
	if len(words) == 0 {
		return entries[len(entries)-1].Text, nil
	}

	best, bestScore := -1, 0
	for i, entry := range entries {
		text := strings.ToLower(entry.Text)
		score := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				score++
			}
		}
		// later entries win ties
		if score > 0 && score >= bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		return "", ErrNotFound
	}
	return entries[best].Text, nil
}

// Entries returns a copy of the entries stored for accountID, oldest first
func (s *MemoryStore) Entries(accountID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries[accountID]))
	copy(out, s.entries[accountID])
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "what": true, "who": true,
	"was": true, "are": true, "did": true, "about": true, "with": true,
	"that": true, "this": true, "our": true, "you": true, "how": true,
}

// Keywords lowercases query and returns its distinct words of three or more
// letters, minus common filler words
func Keywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var words []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		words = append(words, f)
	}
	sort.Strings(words)
	return words
}
