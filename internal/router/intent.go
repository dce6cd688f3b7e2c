package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/llm"
)

// ErrUnparseableIntent is wrapped by every IntentParseError
var ErrUnparseableIntent = errors.New("unparseable intent")

// Intent is one of StoreKnowledge, QueryKnowledge or Reply
type Intent interface {
	Kind() string
	isIntent()
}

// StoreKnowledge asks to remember Text
type StoreKnowledge struct {
	Text string
}

// QueryKnowledge asks to look up Query
type QueryKnowledge struct {
	Query string
}

// Reply asks for a free-form answer to Prompt
type Reply struct {
	Prompt string
}

// Intent kinds as they appear on the wire
const (
	KindStoreKnowledge = "store_knowledge"
	KindQueryKnowledge = "query_knowledge"
	KindReply          = "reply"
)

func (StoreKnowledge) Kind() string { return KindStoreKnowledge }
func (QueryKnowledge) Kind() string { return KindQueryKnowledge }
func (Reply) Kind() string          { return KindReply }

func (StoreKnowledge) isIntent() {}
func (QueryKnowledge) isIntent() {}
func (Reply) isIntent()          {}

// IntentParseError describes a classifier payload that is not a valid intent
type IntentParseError struct {
	Raw    string
	Reason string
}

func (e *IntentParseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnparseableIntent, e.Reason)
}

func (e *IntentParseError) Unwrap() error {
	return ErrUnparseableIntent
}

type intentPayload struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// ParseIntent decodes a {"kind": ..., "text": ...} object. Surrounding prose
// and markdown code fences are ignored.
func ParseIntent(raw string) (Intent, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, &IntentParseError{Raw: raw, Reason: "no JSON object found"}
	}

	var payload intentPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, &IntentParseError{Raw: raw, Reason: err.Error()}
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return nil, &IntentParseError{Raw: raw, Reason: "empty text"}
	}

	switch strings.ToLower(strings.TrimSpace(payload.Kind)) {
	case KindStoreKnowledge, "store":
		return StoreKnowledge{Text: text}, nil
	case KindQueryKnowledge, "query":
		return QueryKnowledge{Query: text}, nil
	case KindReply, "answer":
		return Reply{Prompt: text}, nil
	default:
		return nil, &IntentParseError{Raw: raw, Reason: fmt.Sprintf("unknown kind %q", payload.Kind)}
	}
}

const classifierPrompt = `You route voice commands given to a meeting assistant.
Reply with a single JSON object and nothing else: {"kind": "<kind>", "text": "<text>"}.
Kinds:
- "store_knowledge": the user wants something remembered; text is the fact to store.
- "query_knowledge": the user asks about something previously stored; text is the lookup query.
- "reply": anything else; text is the question or request to answer.`

// LLMIntentClassifier asks a language model to classify commands
type LLMIntentClassifier struct {
	completer llm.Completer
}

// NewLLMIntentClassifier creates a classifier backed by completer
func NewLLMIntentClassifier(completer llm.Completer) *LLMIntentClassifier {
	return &LLMIntentClassifier{completer: completer}
}

// Classify returns the intent for command
func (c *LLMIntentClassifier) Classify(ctx context.Context, command string) (Intent, error) {
	raw, err := c.completer.Complete(ctx, classifierPrompt, command)
	if err != nil {
		return nil, fmt.Errorf("failed to classify command: %w", err)
	}
	return ParseIntent(raw)
}

const responderPrompt = `You are a concise assistant taking part in a live meeting.
Answer in at most three sentences of plain text suitable for a chat message.`

// LLMResponder answers free-form requests with a language model
type LLMResponder struct {
	completer llm.Completer
}

// NewLLMResponder creates a responder backed by completer
func NewLLMResponder(completer llm.Completer) *LLMResponder {
	return &LLMResponder{completer: completer}
}

// Respond returns the answer to prompt
func (r *LLMResponder) Respond(ctx context.Context, prompt string) (string, error) {
	return r.completer.Complete(ctx, responderPrompt, prompt)
}
