package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/audio"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/metrics"
)

// Retry policy
const (
	// DefaultReconnectBackoff is the fixed wait between connection attempts
	DefaultReconnectBackoff = 2 * time.Second
	// RetriesPerCall is the number of reconnect-and-retry attempts after a failed round trip
	RetriesPerCall = 1
)

// Wire encodings for the audio payload
const (
	EncodingPCM16   = "pcm16"
	EncodingWAV     = "wav"
	EncodingFloat32 = "float32"
)

// Config contains transcription client configuration
type Config struct {
	URL              string
	APIKey           string
	Encoding         string
	SampleRate       int
	HandshakeTimeout time.Duration
	ResponseTimeout  time.Duration
	ReconnectBackoff time.Duration
}

// Response is the JSON message returned for every audio message
type Response struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	Connections     uint64        `json:"connections"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// StreamClient sends speech segments over one long-lived websocket
// connection. Calls are serialised so at most one request is in flight.
type StreamClient struct {
	config  Config
	dialURL string
	header  http.Header
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics

	callMu      sync.Mutex // held for the whole request, guards conn and lastDialErr
	conn        *websocket.Conn
	lastDialErr time.Time // zero after a successful dial

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	connections     uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewStreamClient creates a transcription client. No connection is made
// until the first Transcribe call. m may be nil.
func NewStreamClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*StreamClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Encoding == "" {
		config.Encoding = EncodingPCM16
	}
	switch config.Encoding {
	case EncodingPCM16, EncodingWAV, EncodingFloat32:
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", config.Encoding)
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = 30 * time.Second
	}
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = DefaultReconnectBackoff
	}

	query := u.Query()
	query.Set("sample_rate", strconv.Itoa(config.SampleRate))
	query.Set("encoding", config.Encoding)
	u.RawQuery = query.Encode()

	header := make(http.Header)
	if config.APIKey != "" {
		header.Set("Authorization", "Bearer "+config.APIKey)
	}

	return &StreamClient{
		config:  config,
		dialURL: u.String(),
		header:  header,
		dialer:  &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		logger:  logger,
		metrics: m,
	}, nil
}

// Transcribe sends one segment and returns its text. Failures are logged and
// reported as empty text; the caller treats "" as no utterance. A failed round
// trip closes the connection and is retried once on a fresh connection. Each
// call dials at most once per attempt; after a failed dial no new dial is made
// until ReconnectBackoff has passed, so an outage costs one handshake timeout
// at most and later calls fail fast.
func (c *StreamClient) Transcribe(ctx context.Context, samples []int16) string {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	startTime := time.Now()
	c.incrementTotalRequests()

	payload, err := c.encode(samples)
	if err != nil {
		c.logger.Error("Failed to encode segment", slog.String("error", err.Error()))
		c.recordFailure(startTime)
		return ""
	}

	var lastErr error
	for attempt := 0; attempt <= RetriesPerCall; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordTranscriptionRetry()
			c.logger.Warn("Retrying transcription on a new connection",
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()))
		}

		if c.conn == nil {
			if err := c.connect(ctx); err != nil {
				lastErr = err
				break
			}
		}

		text, err := c.roundTrip(ctx, payload)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			c.metrics.RecordTranscription(true, time.Since(startTime).Seconds())
			return text
		}

		lastErr = err
		c.closeConn()

		if ctx.Err() != nil {
			break
		}
	}

	c.logger.Error("Transcription failed",
		slog.Int("samples", len(samples)),
		slog.String("error", lastErr.Error()))
	c.recordFailure(startTime)
	return ""
}

func (c *StreamClient) recordFailure(startTime time.Time) {
	c.incrementFailedRequests()
	c.metrics.RecordTranscription(false, time.Since(startTime).Seconds())
}

// encode converts samples to the configured wire encoding
func (c *StreamClient) encode(samples []int16) ([]byte, error) {
	switch c.config.Encoding {
	case EncodingWAV:
		return audio.EncodeWAV(samples, c.config.SampleRate)
	case EncodingFloat32:
		return audio.EncodeFloat32(samples), nil
	default:
		return audio.EncodePCM16(samples), nil
	}
}

// connect makes one dial attempt unless the previous dial failed less than
// ReconnectBackoff ago
func (c *StreamClient) connect(ctx context.Context) error {
	if !c.lastDialErr.IsZero() {
		if wait := c.config.ReconnectBackoff - time.Since(c.lastDialErr); wait > 0 {
			return fmt.Errorf("transcription service unavailable, next dial in %v", wait.Round(time.Millisecond))
		}
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.dialURL, c.header)
	if err != nil {
		c.lastDialErr = time.Now()
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		c.logger.Warn("Failed to connect to transcription service",
			slog.Duration("backoff", c.config.ReconnectBackoff),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.lastDialErr = time.Time{}
	c.mu.Lock()
	c.connections++
	c.mu.Unlock()
	c.metrics.RecordTranscriptionReconnect()
	c.logger.Debug("Connected to transcription service")
	return nil
}

// roundTrip writes one audio message and reads its response
func (c *StreamClient) roundTrip(ctx context.Context, payload []byte) (string, error) {
	conn := c.conn

	// unblock pending I/O when ctx is done
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
		_ = conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(c.config.ResponseTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return "", fmt.Errorf("failed to send audio: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.config.ResponseTimeout))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if messageType != websocket.TextMessage {
		return "", fmt.Errorf("unexpected response frame type %d", messageType)
	}

	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("transcription service error: %s", response.Error)
	}

	return response.Text, nil
}

func (c *StreamClient) closeConn() {
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
	c.conn = nil
}

// Statistics methods
func (c *StreamClient) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *StreamClient) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *StreamClient) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *StreamClient) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *StreamClient) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *StreamClient) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		Connections:     c.connections,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Connected reports whether a connection is currently open. It waits for any
// in-flight request to finish.
func (c *StreamClient) Connected() bool {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	return c.conn != nil
}

// Close closes the connection. The client may still be used afterwards and
// will reconnect lazily.
func (c *StreamClient) Close() error {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	c.closeConn()
	return nil
}
