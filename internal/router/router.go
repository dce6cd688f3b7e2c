package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/knowledge"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/metrics"
)

// IntentClassifier turns a command into an Intent
type IntentClassifier interface {
	Classify(ctx context.Context, command string) (Intent, error)
}

// Responder answers free-form requests
type Responder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// Notifier posts a chat message to the meeting
type Notifier interface {
	SendChat(ctx context.Context, text string) error
}

// Stopper ends the session
type Stopper interface {
	Stop(reason string)
}

// Outcome reports what Route did with an utterance
type Outcome string

// Route outcomes
const (
	OutcomeIgnored        Outcome = "ignored"
	OutcomeStop           Outcome = "stop"
	OutcomeStoreKnowledge Outcome = KindStoreKnowledge
	OutcomeQueryKnowledge Outcome = KindQueryKnowledge
	OutcomeReply          Outcome = KindReply
	OutcomeFailed         Outcome = "failed"
)

// Config contains command routing settings
type Config struct {
	WakeWords       []string
	StopPhrases     []string
	FarewellMessage string
	AccountID       string
}

// Dependencies are the collaborators commands are dispatched to. Any of them
// may be nil; commands that need a missing collaborator fail and are logged.
type Dependencies struct {
	Classifier IntentClassifier
	Knowledge  knowledge.Store
	Responder  Responder
	Notifier   Notifier
	Stopper    Stopper
}

// Router inspects transcribed utterances for wake-word commands
type Router struct {
	config      Config
	wakeWords   []string
	stopPhrases []string
	deps        Dependencies
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewRouter creates a router. m may be nil.
func NewRouter(config Config, deps Dependencies, logger *slog.Logger, m *metrics.Metrics) *Router {
	r := &Router{
		config:  config,
		deps:    deps,
		logger:  logger,
		metrics: m,
	}

	for _, w := range config.WakeWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			r.wakeWords = append(r.wakeWords, w)
		}
	}
	for _, p := range config.StopPhrases {
		if p = alphanumeric(p); p != "" {
			r.stopPhrases = append(r.stopPhrases, p)
		}
	}

	return r
}

// SetStopper sets the collaborator used for stop phrases
func (r *Router) SetStopper(s Stopper) {
	r.deps.Stopper = s
}

// Route handles one utterance. Errors and panics are logged and reported as
// OutcomeFailed; they never reach the caller.
func (r *Router) Route(ctx context.Context, text string) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Command handler panicked", slog.Any("panic", p))
			outcome = OutcomeFailed
		}
		if outcome != OutcomeIgnored {
			r.metrics.RecordCommand(string(outcome))
		}
	}()

	command, ok := r.stripWakeWord(text)
	if !ok {
		return OutcomeIgnored
	}

	r.logger.Info("Wake word detected", slog.String("command", command))

	if r.isStopCommand(command) {
		r.notify(ctx, r.config.FarewellMessage)
		if r.deps.Stopper == nil {
			r.logger.Error("Stop phrase heard but no stopper configured")
			return OutcomeFailed
		}
		r.deps.Stopper.Stop("stop phrase")
		return OutcomeStop
	}

	if command == "" {
		return OutcomeIgnored
	}

	outcome, err := r.dispatch(ctx, command)
	if err != nil {
		attrs := []any{slog.String("command", command), slog.String("error", err.Error())}
		var parseErr *IntentParseError
		if errors.As(err, &parseErr) {
			attrs = append(attrs, slog.String("raw", parseErr.Raw))
		}
		r.logger.Error("Failed to handle command", attrs...)
		return OutcomeFailed
	}
	return outcome
}

func (r *Router) dispatch(ctx context.Context, command string) (Outcome, error) {
	if r.deps.Classifier == nil {
		return OutcomeFailed, fmt.Errorf("no intent classifier configured")
	}

	intent, err := r.deps.Classifier.Classify(ctx, command)
	if err != nil {
		return OutcomeFailed, err
	}

	switch in := intent.(type) {
	case StoreKnowledge:
		if r.deps.Knowledge == nil {
			return OutcomeFailed, fmt.Errorf("no knowledge store configured")
		}
		if err := r.deps.Knowledge.Save(ctx, r.config.AccountID, in.Text); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to save knowledge: %w", err)
		}
		r.notify(ctx, "Noted: "+in.Text)
		return OutcomeStoreKnowledge, nil

	case QueryKnowledge:
		if r.deps.Knowledge == nil {
			return OutcomeFailed, fmt.Errorf("no knowledge store configured")
		}
		answer, err := r.deps.Knowledge.Query(ctx, r.config.AccountID, in.Query)
		if errors.Is(err, knowledge.ErrNotFound) {
			r.notify(ctx, "I have nothing saved about "+in.Query)
			return OutcomeQueryKnowledge, nil
		}
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to query knowledge: %w", err)
		}
		r.notify(ctx, answer)
		return OutcomeQueryKnowledge, nil

	case Reply:
		if r.deps.Responder == nil {
			return OutcomeFailed, fmt.Errorf("no responder configured")
		}
		answer, err := r.deps.Responder.Respond(ctx, in.Prompt)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to generate reply: %w", err)
		}
		r.notify(ctx, answer)
		return OutcomeReply, nil

	default:
		return OutcomeFailed, fmt.Errorf("unsupported intent %T", intent)
	}
}

// notify sends a chat message, logging failures
func (r *Router) notify(ctx context.Context, text string) {
	if text == "" || r.deps.Notifier == nil {
		return
	}
	err := r.deps.Notifier.SendChat(ctx, text)
	r.metrics.RecordChatNotification(err == nil)
	if err != nil {
		r.logger.Warn("Failed to send chat message", slog.String("error", err.Error()))
	}
}

// stripWakeWord returns the command following a leading wake word
func (r *Router) stripWakeWord(text string) (string, bool) {
	normalized := strings.TrimLeftFunc(strings.ToLower(strings.TrimSpace(text)), isSeparator)

	for _, w := range r.wakeWords {
		if !strings.HasPrefix(normalized, w) {
			continue
		}
		rest := normalized[len(w):]
		// "maryland" must not match "mary"
		if rest != "" {
			r0 := []rune(rest)[0]
			if unicode.IsLetter(r0) || unicode.IsDigit(r0) {
				continue
			}
		}
		return strings.TrimFunc(rest, isSeparator), true
	}

	return "", false
}

func (r *Router) isStopCommand(command string) bool {
	stripped := alphanumeric(command)
	if stripped == "" {
		return false
	}
	for _, p := range r.stopPhrases {
		if strings.Contains(stripped, p) {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

// alphanumeric lowercases s and drops everything but letters and digits
func alphanumeric(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
