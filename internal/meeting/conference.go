package meeting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrJoinDenied is returned when the meeting refuses the bot
	ErrJoinDenied = errors.New("join denied")
	// ErrNotJoined is returned by operations that need an active connection
	ErrNotJoined = errors.New("not joined")
)

// Conference is the bot's presence in one meeting
type Conference interface {
	// Join blocks until admitted, denied or ctx is done
	Join(ctx context.Context) error
	// ParticipantCount returns the number of participants including the bot
	ParticipantCount(ctx context.Context) (int, error)
	// SendChat posts a message to the meeting chat
	SendChat(ctx context.Context, text string) error
	// Leave disconnects; calling it more than once is a no-op
	Leave(ctx context.Context) error
}

// LocalConference stands in for a meeting when audio is captured from a
// local device. It always reports one other participant and logs chat
// messages.
type LocalConference struct {
	logger *slog.Logger
	joined bool
	mu     sync.Mutex
}

// NewLocalConference creates a local conference
func NewLocalConference(logger *slog.Logger) *LocalConference {
	return &LocalConference{logger: logger}
}

// Join marks the conference joined
func (c *LocalConference) Join(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = true
	return nil
}

// ParticipantCount returns 2 while joined
func (c *LocalConference) ParticipantCount(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return 0, ErrNotJoined
	}
	return 2, nil
}

// SendChat logs text
func (c *LocalConference) SendChat(ctx context.Context, text string) error {
	c.logger.Info("Chat message", slog.String("text", text))
	return nil
}

// Leave marks the conference left
func (c *LocalConference) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = false
	return nil
}
