package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// LiveKitConfig contains LiveKit connection settings
type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
	Identity  string
	Name      string
	ChatTopic string
}

// chatMessage is the payload understood by LiveKit chat components
type chatMessage struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// LiveKitConference joins a LiveKit room as a participant
type LiveKitConference struct {
	config      LiveKitConfig
	roomName    string
	roomService *lksdk.RoomServiceClient
	logger      *slog.Logger

	room *lksdk.Room
	mu   sync.Mutex
}

// NewLiveKitConference creates a conference for roomName
func NewLiveKitConference(config LiveKitConfig, roomName string, logger *slog.Logger) (*LiveKitConference, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("livekit url cannot be empty")
	}
	if config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("livekit api key and secret are required")
	}
	if roomName == "" {
		return nil, fmt.Errorf("room name cannot be empty")
	}
	if config.ChatTopic == "" {
		config.ChatTopic = "lk-chat-topic"
	}

	return &LiveKitConference{
		config:      config,
		roomName:    roomName,
		roomService: lksdk.NewRoomServiceClient(config.URL, config.APIKey, config.APISecret),
		logger:      logger.With(slog.String("room", roomName)),
	}, nil
}

type connectResult struct {
	room *lksdk.Room
	err  error
}

// Join connects to the room. ConnectToRoom has no context, so a connection
// that completes after ctx is done is closed immediately.
func (c *LiveKitConference) Join(ctx context.Context) error {
	callbacks := &lksdk.RoomCallback{
		OnDisconnected: func() {
			c.logger.Info("Disconnected from room")
		},
		OnParticipantConnected: func(p *lksdk.RemoteParticipant) {
			c.logger.Debug("Participant joined", slog.String("identity", p.Identity()))
		},
		OnParticipantDisconnected: func(p *lksdk.RemoteParticipant) {
			c.logger.Debug("Participant left", slog.String("identity", p.Identity()))
		},
	}

	done := make(chan connectResult, 1)
	go func() {
		room, err := lksdk.ConnectToRoom(c.config.URL, lksdk.ConnectInfo{
			APIKey:              c.config.APIKey,
			APISecret:           c.config.APISecret,
			RoomName:            c.roomName,
			ParticipantIdentity: c.config.Identity,
			ParticipantName:     c.config.Name,
		}, callbacks)
		done <- connectResult{room: room, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			if isDenied(result.err) {
				return fmt.Errorf("%w: %v", ErrJoinDenied, result.err)
			}
			return fmt.Errorf("failed to connect to room: %w", result.err)
		}
		c.mu.Lock()
		c.room = result.room
		c.mu.Unlock()
		c.logger.Info("Joined room", slog.String("identity", c.config.Identity))
		return nil

	case <-ctx.Done():
		go func() {
			if result := <-done; result.room != nil {
				result.room.Disconnect()
			}
		}()
		return fmt.Errorf("failed to join room: %w", ctx.Err())
	}
}

func isDenied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "permission denied")
}

// ParticipantCount lists the room's participants through the room service
func (c *LiveKitConference) ParticipantCount(ctx context.Context) (int, error) {
	resp, err := c.roomService.ListParticipants(ctx, &livekit.ListParticipantsRequest{
		Room: c.roomName,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list participants: %w", err)
	}
	return len(resp.Participants), nil
}

// SendChat publishes text on the chat topic to every participant
func (c *LiveKitConference) SendChat(ctx context.Context, text string) error {
	payload, err := json.Marshal(chatMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Message:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	topic := c.config.ChatTopic
	_, err = c.roomService.SendData(ctx, &livekit.SendDataRequest{
		Room:  c.roomName,
		Data:  payload,
		Kind:  livekit.DataPacket_RELIABLE,
		Topic: &topic,
	})
	if err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}
	return nil
}

// Leave disconnects from the room
func (c *LiveKitConference) Leave(ctx context.Context) error {
	c.mu.Lock()
	room := c.room
	c.room = nil
	c.mu.Unlock()

	if room == nil {
		return nil
	}
	room.Disconnect()
	c.logger.Info("Left room")
	return nil
}
