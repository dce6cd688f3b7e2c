package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/audio"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/config"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/knowledge"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/llm"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/meeting"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/metrics"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/postprocess"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/router"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/session"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/transcription"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/vad"
)

// App holds the shared collaborators every session is built from
type App struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	Knowledge   knowledge.Store
	Provisioner audio.Provisioner
	Assembler   *postprocess.Assembler
	Sessions    *session.Manager

	completer llm.Completer
	closers   []func()
}

// New wires the application from cfg. m may be nil.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: m,
		Logger:  logger,
	}

	if cfg.LLM.APIKey != "" {
		client, err := llm.NewAnthropicClient(llm.Config{
			Endpoint:  cfg.LLM.Endpoint,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.LLM.GetTimeoutDuration(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create language model client: %w", err)
		}
		a.completer = client
	} else {
		logger.Warn("No language model API key configured, commands and summaries are disabled")
	}

	store, err := a.newKnowledgeStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Knowledge = store

	if cfg.Audio.ProvisionDevice {
		a.Provisioner = audio.NewPulseProvisioner(logger)
	} else {
		a.Provisioner = audio.StaticProvisioner{SourceName: cfg.Audio.SourceName}
	}

	assembler, err := a.newAssembler()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Assembler = assembler

	a.Sessions = session.NewManager(a.BuildSession, cfg.Session.MaxConcurrentSessions, logger)

	return a, nil
}

func (a *App) newKnowledgeStore(ctx context.Context) (knowledge.Store, error) {
	switch a.Config.Knowledge.Backend {
	case "postgres":
		store, err := knowledge.NewPostgresStore(ctx, a.Config.Knowledge.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open knowledge store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.Logger.Info("Knowledge store connected", slog.String("backend", "postgres"))
		return store, nil
	default:
		return knowledge.NewMemoryStore(), nil
	}
}

func (a *App) newAssembler() (*postprocess.Assembler, error) {
	cfg := a.Config.PostProcess

	var backends postprocess.MultiBackend
	if cfg.OutputDir != "" {
		files, err := postprocess.NewFileBackend(cfg.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create file backend: %w", err)
		}
		backends = append(backends, files)
	}
	if cfg.BackendURL != "" {
		remote, err := postprocess.NewHTTPBackend(cfg.BackendURL, cfg.BackendToken, cfg.GetTimeoutDuration())
		if err != nil {
			return nil, fmt.Errorf("failed to create results backend: %w", err)
		}
		backends = append(backends, remote)
	}

	var backend postprocess.Backend
	switch len(backends) {
	case 0:
		a.Logger.Warn("No results backend configured, session results are only logged")
	case 1:
		backend = backends[0]
	default:
		backend = backends
	}

	var summarizer postprocess.Summarizer
	if a.completer != nil {
		summarizer = postprocess.NewLLMSummarizer(a.completer)
	}

	return postprocess.NewAssembler(summarizer, backend, cfg.GetTimeoutDuration(), a.Logger, a.Metrics), nil
}

// BuildSession creates the controller and per-session collaborators for a
// new session. It is the session.BuildFunc used by the manager.
func (a *App) BuildSession(id string, req session.Request) (*session.Controller, error) {
	cfg := a.Config
	logger := a.Logger.With(slog.String("session_id", id))

	transcriber, err := transcription.NewStreamClient(transcription.Config{
		URL:              cfg.Transcription.URL,
		APIKey:           cfg.Transcription.APIKey,
		Encoding:         cfg.Transcription.Encoding,
		SampleRate:       cfg.Audio.SampleRate,
		HandshakeTimeout: cfg.Transcription.GetHandshakeTimeoutDuration(),
		ResponseTimeout:  cfg.Transcription.GetResponseTimeoutDuration(),
		ReconnectBackoff: cfg.Transcription.GetReconnectBackoffDuration(),
	}, logger, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription client: %w", err)
	}

	conference, err := a.newConference(req.Room, logger)
	if err != nil {
		transcriber.Close()
		return nil, err
	}

	var commands *router.Router
	if cfg.Assistant.Enabled {
		deps := router.Dependencies{
			Knowledge: a.Knowledge,
			Notifier:  conference,
		}
		if a.completer != nil {
			deps.Classifier = router.NewLLMIntentClassifier(a.completer)
			deps.Responder = router.NewLLMResponder(a.completer)
		}
		commands = router.NewRouter(router.Config{
			WakeWords:       cfg.Assistant.WakeWords,
			StopPhrases:     cfg.Assistant.StopPhrases,
			FarewellMessage: cfg.Assistant.FarewellMessage,
			AccountID:       req.AccountID,
		}, deps, logger, a.Metrics)
	}

	opts := session.Options{
		ID:                id,
		Room:              req.Room,
		AccountID:         req.AccountID,
		TimeBudget:        req.TimeBudget,
		QueueSize:         cfg.Audio.QueueSize,
		ReadTimeout:       cfg.Audio.GetReadTimeoutDuration(),
		MonitorInterval:   cfg.Session.GetMonitorIntervalDuration(),
		MaxProbeFailures:  cfg.Session.MaxProbeFailures,
		JoinTimeout:       cfg.Session.GetJoinTimeoutDuration(),
		WorkerJoinTimeout: cfg.Session.GetWorkerJoinTimeoutDuration(),
		WarningThresholds: cfg.Session.GetWarningThresholdDurations(),
		VAD: vad.Config{
			SampleRate:        cfg.Audio.SampleRate,
			ChunkSize:         cfg.VAD.ChunkSize,
			Threshold:         cfg.VAD.Threshold,
			SmoothingWindow:   cfg.VAD.SmoothingWindow,
			SilenceDuration:   cfg.VAD.GetSilenceDuration(),
			MaxSpeechDuration: cfg.VAD.GetMaxSpeechDuration(),
			MinSpeechDuration: cfg.VAD.GetMinSpeechDuration(),
		},
	}
	if cfg.Assistant.Enabled {
		opts.Greeting = cfg.Assistant.GreetingMessage
	}

	deps := session.Dependencies{
		Provisioner:   a.Provisioner,
		OpenSource:    a.openSource(logger),
		Classifier:    vad.NewEnergyClassifier(),
		Transcriber:   transcriber,
		Conference:    conference,
		PostProcessor: a.Assembler,
		Metrics:       a.Metrics,
	}
	if commands != nil {
		deps.Router = commands
	}

	controller, err := session.NewController(opts, deps, a.Logger)
	if err != nil {
		transcriber.Close()
		return nil, err
	}
	if commands != nil {
		commands.SetStopper(controller)
	}

	go func() {
		<-controller.Done()
		if err := transcriber.Close(); err != nil {
			logger.Debug("Failed to close transcription client", slog.String("error", err.Error()))
		}
	}()

	return controller, nil
}

func (a *App) newConference(room string, logger *slog.Logger) (meeting.Conference, error) {
	cfg := a.Config.Meeting
	if cfg.URL == "" {
		return meeting.NewLocalConference(logger), nil
	}

	conference, err := meeting.NewLiveKitConference(meeting.LiveKitConfig{
		URL:       cfg.URL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Identity:  cfg.Identity,
		Name:      cfg.Name,
		ChatTopic: cfg.ChatTopic,
	}, room, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting connection: %w", err)
	}
	return conference, nil
}

func (a *App) openSource(logger *slog.Logger) session.SourceOpener {
	cfg := a.Config.Audio
	return func(ctx context.Context, device *audio.Device) (audio.Source, error) {
		sourceName := cfg.SourceName
		if device != nil {
			sourceName = device.Source
		}
		return audio.StartProcessSource(ctx, audio.CaptureConfig{
			Command:         cfg.CaptureCommand,
			SourceName:      sourceName,
			SampleRate:      cfg.SampleRate,
			FrameDurationMs: cfg.FrameDurationMs,
		}, logger)
	}
}

// Shutdown stops every session, waiting at most timeout, then releases
// shared resources
func (a *App) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := a.Sessions.Shutdown(ctx)
	a.Close()
	return err
}

// Close releases shared resources
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
