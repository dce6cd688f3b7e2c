package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Session       SessionConfig       `yaml:"session"`
	Meeting       MeetingConfig       `yaml:"meeting"`
	Assistant     AssistantConfig     `yaml:"assistant"`
	LLM           LLMConfig           `yaml:"llm"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	PostProcess   PostProcessConfig   `yaml:"postprocess"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	FrameDurationMs int     `yaml:"frame_duration_ms"`
	CaptureCommand  string  `yaml:"capture_command"` // "parec" or "ffmpeg"
	QueueSize       int     `yaml:"queue_size"`      // frames
	ReadTimeout     float64 `yaml:"read_timeout"`    // seconds
	ProvisionDevice bool    `yaml:"provision_device"`
	SourceName      string  `yaml:"source_name"` // used when provision_device is false
}

// VADConfig contains voice activity segmentation parameters
type VADConfig struct {
	Threshold         float32 `yaml:"threshold"`
	ChunkSize         int     `yaml:"chunk_size"` // samples
	SmoothingWindow   int     `yaml:"smoothing_window"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
	MaxSpeechDuration float64 `yaml:"max_speech_duration"` // seconds
	MinSpeechDuration float64 `yaml:"min_speech_duration"` // seconds
}

// TranscriptionConfig contains streaming transcription connection settings
type TranscriptionConfig struct {
	URL              string  `yaml:"url"`
	APIKey           string  `yaml:"api_key"`
	Encoding         string  `yaml:"encoding"`          // "pcm16", "wav" or "float32"
	HandshakeTimeout int     `yaml:"handshake_timeout"` // seconds
	ResponseTimeout  int     `yaml:"response_timeout"`  // seconds
	ReconnectBackoff float64 `yaml:"reconnect_backoff"` // seconds
}

// SessionConfig contains lifecycle policies
type SessionConfig struct {
	MaxConcurrentSessions int   `yaml:"max_concurrent_sessions"`
	JoinTimeout           int   `yaml:"join_timeout"`     // seconds
	MonitorInterval       int   `yaml:"monitor_interval"` // seconds
	MaxProbeFailures      int   `yaml:"max_probe_failures"`
	WorkerJoinTimeout     int   `yaml:"worker_join_timeout"` // seconds
	DefaultTimeBudget     int   `yaml:"default_time_budget"` // seconds, 0 disables the countdown
	WarningThresholds     []int `yaml:"warning_thresholds"`  // seconds remaining
}

// MeetingConfig contains LiveKit connection settings
type MeetingConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Identity  string `yaml:"identity"`
	Name      string `yaml:"name"`
	ChatTopic string `yaml:"chat_topic"`
}

// AssistantConfig contains command routing settings
type AssistantConfig struct {
	Enabled         bool     `yaml:"enabled"`
	WakeWords       []string `yaml:"wake_words"`
	StopPhrases     []string `yaml:"stop_phrases"`
	FarewellMessage string   `yaml:"farewell_message"`
	GreetingMessage string   `yaml:"greeting_message"`
}

// LLMConfig contains the language model API settings
type LLMConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   int    `yaml:"timeout"` // seconds
}

// KnowledgeConfig selects the knowledge base backend
type KnowledgeConfig struct {
	Backend string `yaml:"backend"` // "memory" or "postgres"
	DSN     string `yaml:"dsn"`
}

// PostProcessConfig contains result delivery settings
type PostProcessConfig struct {
	BackendURL   string `yaml:"backend_url"`
	BackendToken string `yaml:"backend_token"`
	OutputDir    string `yaml:"output_dir"`
	Timeout      int    `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration populated with the documented defaults
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			FrameDurationMs: 30,
			CaptureCommand:  "parec",
			QueueSize:       256,
			ReadTimeout:     1.0,
			ProvisionDevice: true,
		},
		VAD: VADConfig{
			Threshold:         0.3,
			ChunkSize:         512,
			SmoothingWindow:   3,
			SilenceDurationMs: 600,
			MaxSpeechDuration: 30.0,
			MinSpeechDuration: 0.5,
		},
		Transcription: TranscriptionConfig{
			URL:              "ws://localhost:9000/v1/stream",
			Encoding:         "pcm16",
			HandshakeTimeout: 10,
			ResponseTimeout:  30,
			ReconnectBackoff: 2.0,
		},
		Session: SessionConfig{
			MaxConcurrentSessions: 8,
			JoinTimeout:           120,
			MonitorInterval:       3,
			MaxProbeFailures:      3,
			WorkerJoinTimeout:     5,
			WarningThresholds:     []int{600, 300},
		},
		Meeting: MeetingConfig{
			Identity:  "meetbot",
			Name:      "Meeting Assistant",
			ChatTopic: "lk-chat-topic",
		},
		Assistant: AssistantConfig{
			Enabled:         true,
			WakeWords:       []string{"mary"},
			StopPhrases:     []string{"stop recording", "leave the meeting", "goodbye mary"},
			FarewellMessage: "Leaving the meeting, the summary will follow shortly.",
		},
		LLM: LLMConfig{
			Endpoint:  "https://api.anthropic.com/v1/messages",
			Model:     "claude-haiku-4-5",
			MaxTokens: 1024,
			Timeout:   60,
		},
		Knowledge: KnowledgeConfig{
			Backend: "memory",
		},
		PostProcess: PostProcessConfig{
			Timeout: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file on top of the defaults, applies .env and
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides secrets and endpoints from the environment
func (c *Config) ApplyEnv() {
	c.Transcription.URL = getEnv("MEETBOT_TRANSCRIPTION_URL", c.Transcription.URL)
	c.Transcription.APIKey = getEnv("MEETBOT_TRANSCRIPTION_API_KEY", c.Transcription.APIKey)
	c.LLM.APIKey = getEnv("MEETBOT_LLM_API_KEY", c.LLM.APIKey)
	c.PostProcess.BackendURL = getEnv("MEETBOT_BACKEND_URL", c.PostProcess.BackendURL)
	c.PostProcess.BackendToken = getEnv("MEETBOT_BACKEND_TOKEN", c.PostProcess.BackendToken)
	c.Knowledge.DSN = getEnv("MEETBOT_KNOWLEDGE_DSN", c.Knowledge.DSN)
	c.Meeting.URL = getEnv("LIVEKIT_URL", c.Meeting.URL)
	c.Meeting.APIKey = getEnv("LIVEKIT_API_KEY", c.Meeting.APIKey)
	c.Meeting.APISecret = getEnv("LIVEKIT_API_SECRET", c.Meeting.APISecret)
	c.Logging.Level = getEnv("MEETBOT_LOG_LEVEL", c.Logging.Level)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Meeting.Validate(); err != nil {
		return fmt.Errorf("meeting config: %w", err)
	}

	if err := c.Assistant.Validate(); err != nil {
		return fmt.Errorf("assistant config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	if err := c.Knowledge.Validate(); err != nil {
		return fmt.Errorf("knowledge config: %w", err)
	}

	if err := c.PostProcess.Validate(); err != nil {
		return fmt.Errorf("postprocess config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be 8000, 16000 or 48000 Hz, got %d", a.SampleRate)
	}

	if a.FrameDurationMs < 10 || a.FrameDurationMs > 100 {
		return fmt.Errorf("frame_duration_ms must be between 10 and 100, got %d", a.FrameDurationMs)
	}

	validCommands := map[string]bool{"parec": true, "ffmpeg": true}
	if !validCommands[a.CaptureCommand] {
		return fmt.Errorf("capture_command must be 'parec' or 'ffmpeg', got '%s'", a.CaptureCommand)
	}

	if a.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", a.QueueSize)
	}

	if a.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %f", a.ReadTimeout)
	}

	if !a.ProvisionDevice && a.SourceName == "" {
		return fmt.Errorf("source_name is required when provision_device is false")
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.ChunkSize < 256 || v.ChunkSize > 2048 {
		return fmt.Errorf("chunk_size must be between 256 and 2048 samples, got %d", v.ChunkSize)
	}

	if v.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", v.SmoothingWindow)
	}

	if v.SilenceDurationMs <= 0 {
		return fmt.Errorf("silence_duration_ms must be positive, got %d", v.SilenceDurationMs)
	}

	if v.MinSpeechDuration < 0 {
		return fmt.Errorf("min_speech_duration cannot be negative, got %f", v.MinSpeechDuration)
	}

	if v.MaxSpeechDuration <= v.MinSpeechDuration {
		return fmt.Errorf("max_speech_duration (%f) must be greater than min_speech_duration (%f)",
			v.MaxSpeechDuration, v.MinSpeechDuration)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	validEncodings := map[string]bool{"pcm16": true, "wav": true, "float32": true}
	if !validEncodings[t.Encoding] {
		return fmt.Errorf("encoding must be 'pcm16', 'wav' or 'float32', got '%s'", t.Encoding)
	}

	if t.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", t.HandshakeTimeout)
	}

	if t.ResponseTimeout < 1 {
		return fmt.Errorf("response_timeout must be at least 1 second, got %d", t.ResponseTimeout)
	}

	if t.ReconnectBackoff <= 0 {
		return fmt.Errorf("reconnect_backoff must be positive, got %f", t.ReconnectBackoff)
	}

	return nil
}

// Validate validates session lifecycle configuration
func (s *SessionConfig) Validate() error {
	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	if s.JoinTimeout < 1 {
		return fmt.Errorf("join_timeout must be at least 1 second, got %d", s.JoinTimeout)
	}

	if s.MonitorInterval < 1 {
		return fmt.Errorf("monitor_interval must be at least 1 second, got %d", s.MonitorInterval)
	}

	if s.MaxProbeFailures < 1 {
		return fmt.Errorf("max_probe_failures must be at least 1, got %d", s.MaxProbeFailures)
	}

	if s.WorkerJoinTimeout < 1 {
		return fmt.Errorf("worker_join_timeout must be at least 1 second, got %d", s.WorkerJoinTimeout)
	}

	if s.DefaultTimeBudget < 0 {
		return fmt.Errorf("default_time_budget cannot be negative, got %d", s.DefaultTimeBudget)
	}

	for _, threshold := range s.WarningThresholds {
		if threshold <= 0 {
			return fmt.Errorf("warning_thresholds must be positive, got %d", threshold)
		}
	}

	return nil
}

// Validate validates meeting configuration. Credentials are optional here and
// checked when a session actually joins.
func (m *MeetingConfig) Validate() error {
	if m.Identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	if (m.APIKey == "") != (m.APISecret == "") {
		return fmt.Errorf("api_key and api_secret must be set together")
	}

	return nil
}

// Validate validates assistant configuration
func (a *AssistantConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if len(a.WakeWords) == 0 {
		return fmt.Errorf("at least one wake word is required when the assistant is enabled")
	}

	for _, word := range a.WakeWords {
		if word == "" {
			return fmt.Errorf("wake words cannot be empty")
		}
	}

	return nil
}

// Validate validates LLM configuration
func (l *LLMConfig) Validate() error {
	if l.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", l.MaxTokens)
	}

	if l.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", l.Timeout)
	}

	return nil
}

// Validate validates knowledge base configuration
func (k *KnowledgeConfig) Validate() error {
	switch k.Backend {
	case "memory":
		return nil
	case "postgres":
		if k.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("backend must be 'memory' or 'postgres', got '%s'", k.Backend)
	}
}

// Validate validates post-processing configuration
func (p *PostProcessConfig) Validate() error {
	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeoutDuration returns the frame read timeout as a time.Duration
func (a *AudioConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(a.ReadTimeout * float64(time.Second))
}

// GetSilenceDuration returns the end-of-utterance silence as a time.Duration
func (v *VADConfig) GetSilenceDuration() time.Duration {
	return time.Duration(v.SilenceDurationMs) * time.Millisecond
}

// GetMaxSpeechDuration returns the forced cut length as a time.Duration
func (v *VADConfig) GetMaxSpeechDuration() time.Duration {
	return time.Duration(v.MaxSpeechDuration * float64(time.Second))
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetHandshakeTimeoutDuration returns the websocket handshake timeout
func (t *TranscriptionConfig) GetHandshakeTimeoutDuration() time.Duration {
	return time.Duration(t.HandshakeTimeout) * time.Second
}

// GetResponseTimeoutDuration returns the per-request response timeout
func (t *TranscriptionConfig) GetResponseTimeoutDuration() time.Duration {
	return time.Duration(t.ResponseTimeout) * time.Second
}

// GetReconnectBackoffDuration returns the fixed reconnect backoff
func (t *TranscriptionConfig) GetReconnectBackoffDuration() time.Duration {
	return time.Duration(t.ReconnectBackoff * float64(time.Second))
}

// GetJoinTimeoutDuration returns the bounded wait for host approval
func (s *SessionConfig) GetJoinTimeoutDuration() time.Duration {
	return time.Duration(s.JoinTimeout) * time.Second
}

// GetMonitorIntervalDuration returns the participant poll interval
func (s *SessionConfig) GetMonitorIntervalDuration() time.Duration {
	return time.Duration(s.MonitorInterval) * time.Second
}

// GetWorkerJoinTimeoutDuration returns how long Leaving waits for workers
func (s *SessionConfig) GetWorkerJoinTimeoutDuration() time.Duration {
	return time.Duration(s.WorkerJoinTimeout) * time.Second
}

// GetWarningThresholdDurations returns the countdown warning points
func (s *SessionConfig) GetWarningThresholdDurations() []time.Duration {
	thresholds := make([]time.Duration, 0, len(s.WarningThresholds))
	for _, seconds := range s.WarningThresholds {
		thresholds = append(thresholds, time.Duration(seconds)*time.Second)
	}
	return thresholds
}

// GetTimeoutDuration returns the LLM request timeout as a time.Duration
func (l *LLMConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}

// GetTimeoutDuration returns the post-processing budget as a time.Duration
func (p *PostProcessConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}
