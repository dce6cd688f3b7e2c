package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/audio"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/meeting"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/metrics"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/postprocess"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/router"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/transcript"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/vad"
)

// ErrJoinTimeout is returned when the meeting does not admit the bot in time
var ErrJoinTimeout = errors.New("join timed out")

// Transcriber converts one speech segment to text; "" means no utterance
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16) string
}

// CommandRouter handles wake-word commands in transcribed text
type CommandRouter interface {
	Route(ctx context.Context, text string) router.Outcome
}

// PostProcessor assembles and delivers the results of a finished session
type PostProcessor interface {
	Run(ctx context.Context, in postprocess.Input) postprocess.Result
}

// SourceOpener starts audio capture on a provisioned device. device is nil
// when no provisioner is configured.
type SourceOpener func(ctx context.Context, device *audio.Device) (audio.Source, error)

// Options contains per-session settings
type Options struct {
	ID         string
	Room       string
	AccountID  string
	TimeBudget time.Duration // 0 means no limit
	Greeting   string        // posted to chat once capture starts

	QueueSize         int
	PushTimeout       time.Duration
	ReadTimeout       time.Duration
	MonitorInterval   time.Duration
	MaxProbeFailures  int
	JoinTimeout       time.Duration
	WorkerJoinTimeout time.Duration
	LeaveTimeout      time.Duration
	WarningThresholds []time.Duration
	CountdownInterval time.Duration

	VAD vad.Config
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = DefaultPushTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = DefaultMonitorInterval
	}
	if o.MaxProbeFailures <= 0 {
		o.MaxProbeFailures = DefaultMaxProbeFailures
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.WorkerJoinTimeout <= 0 {
		o.WorkerJoinTimeout = DefaultWorkerJoinTimeout
	}
	if o.LeaveTimeout <= 0 {
		o.LeaveTimeout = DefaultLeaveTimeout
	}
	if o.WarningThresholds == nil {
		o.WarningThresholds = DefaultWarningThresholds
	}
	if o.CountdownInterval <= 0 {
		o.CountdownInterval = time.Second
	}
	if o.VAD.SampleRate == 0 {
		o.VAD = vad.DefaultConfig(16000)
	}
}

// Dependencies are the collaborators a session drives. Provisioner, Router
// and PostProcessor may be nil.
type Dependencies struct {
	Provisioner   audio.Provisioner
	OpenSource    SourceOpener
	Classifier    vad.Classifier
	Transcriber   Transcriber
	Conference    meeting.Conference
	Router        CommandRouter
	PostProcessor PostProcessor
	Metrics       *metrics.Metrics
}

// Result is the outcome of Run
type Result struct {
	SessionID   string              `json:"session_id"`
	State       string              `json:"state"`
	StopReason  string              `json:"stop_reason,omitempty"`
	Error       string              `json:"error,omitempty"`
	Utterances  int                 `json:"utterances"`
	Elapsed     time.Duration       `json:"elapsed"`
	PostProcess *postprocess.Result `json:"post_process,omitempty"`
}

// Controller drives one meeting session through its lifecycle
type Controller struct {
	opts    Options
	deps    Dependencies
	logger  *slog.Logger
	metrics *metrics.Metrics

	state    atomic.Int32
	running  atomic.Bool
	stopOnce sync.Once
	shutdown chan struct{}
	done     chan struct{}

	log       *transcript.Log
	queue     *audio.FrameQueue
	segmenter *vad.Segmenter
	commands  chan string // nil without a router

	// remainingSeconds is -1 without a time budget
	remainingSeconds atomic.Int64

	startedAt  time.Time
	stopReason string
	failure    error
	mu         sync.RWMutex
}

// NewController validates the options and creates a controller
func NewController(opts Options, deps Dependencies, logger *slog.Logger) (*Controller, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if deps.OpenSource == nil {
		return nil, fmt.Errorf("source opener cannot be nil")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	if deps.Conference == nil {
		return nil, fmt.Errorf("conference cannot be nil")
	}
	if opts.TimeBudget < 0 {
		return nil, fmt.Errorf("time budget cannot be negative")
	}

	opts.applyDefaults()

	queue, err := audio.NewFrameQueue(opts.QueueSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame queue: %w", err)
	}

	segmenter, err := vad.NewSegmenter(opts.VAD, deps.Classifier, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}

	c := &Controller{
		opts:      opts,
		deps:      deps,
		logger:    logger.With(slog.String("session_id", opts.ID)),
		metrics:   deps.Metrics,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		log:       transcript.NewLog(),
		queue:     queue,
		segmenter: segmenter,
	}
	if deps.Router != nil {
		c.commands = make(chan string, DefaultCommandQueueSize)
	}
	c.running.Store(true)
	c.remainingSeconds.Store(-1)
	if opts.TimeBudget > 0 {
		c.remainingSeconds.Store(int64(opts.TimeBudget.Seconds()))
	}

	return c, nil
}

// ID returns the session identifier
func (c *Controller) ID() string {
	return c.opts.ID
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.metrics.RecordStateTransition(s.String())
	c.logger.Info("Session state changed",
		slog.String("from", prev.String()),
		slog.String("to", s.String()),
	)
}

// Running reports whether Stop has not been called yet
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Stop asks the session to leave. It is safe to call from any goroutine and
// any number of times; only the first call has an effect.
func (c *Controller) Stop(reason string) {
	c.stopOnce.Do(func() {
		c.running.Store(false)
		c.mu.Lock()
		c.stopReason = reason
		c.mu.Unlock()
		c.logger.Info("Session stop requested", slog.String("reason", reason))
		close(c.shutdown)
	})
}

// Done is closed when Run has returned
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Transcript returns the session's transcript log
func (c *Controller) Transcript() *transcript.Log {
	return c.log
}

// Run drives the session to a final state and returns its outcome. It must
// be called once.
func (c *Controller) Run(ctx context.Context) (result Result) {
	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()
	c.metrics.RecordSessionStarted()
	c.setState(StateProvisioning)

	defer close(c.done)
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("Session panicked", slog.Any("panic", p))
			c.fail(fmt.Errorf("panic: %v", p))
			c.setState(StateFailed)
			result = c.result(nil)
		}
		c.Stop("session finished")
		c.metrics.RecordSessionFinished(result.State, result.Elapsed.Seconds())
	}()

	// Provisioning
	device, err := c.provision(ctx)
	if err != nil {
		c.fail(fmt.Errorf("failed to provision audio device: %w", err))
		c.setState(StateFailed)
		return c.result(nil)
	}

	if !c.Running() {
		c.release(device)
		c.setState(StateTerminated)
		return c.result(nil)
	}

	// Joining
	c.setState(StateJoining)
	if err := c.join(ctx); err != nil {
		c.release(device)
		if c.Running() {
			c.fail(err)
			c.setState(StateFailed)
		} else {
			c.setState(StateTerminated)
		}
		return c.result(nil)
	}
	if !c.Running() {
		c.setState(StateLeaving)
		c.leave()
		c.release(device)
		c.setState(StateTerminated)
		return c.result(nil)
	}

	source, err := c.deps.OpenSource(ctx, device)
	if err != nil {
		c.fail(fmt.Errorf("failed to start audio capture: %w", err))
		c.setState(StateLeaving)
		c.leave()
		c.release(device)
		c.setState(StateFailed)
		return c.result(nil)
	}

	// Active
	c.setState(StateActive)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	go func() {
		select {
		case <-ctx.Done():
			c.Stop("context cancelled")
		case <-c.shutdown:
		}
		cancelWork()
	}()

	if c.opts.Greeting != "" {
		c.notify(workCtx, c.opts.Greeting)
	}

	// the pipeline is the only transcript writer and is joined separately
	var pipeline, wg sync.WaitGroup
	c.startWorker(&pipeline, "pipeline", func() { c.pipelineLoop(workCtx) })
	c.startWorker(&wg, "capture", func() { c.captureLoop(source) })
	c.startWorker(&wg, "monitor", func() { c.monitorLoop(workCtx) })
	if c.opts.TimeBudget > 0 {
		c.startWorker(&wg, "countdown", func() { c.countdownLoop(workCtx) })
	}
	if c.commands != nil {
		c.startWorker(&wg, "router", func() { c.routerLoop(workCtx) })
	}

	<-c.shutdown

	// Leaving
	c.setState(StateLeaving)
	c.leave()
	if err := source.Close(); err != nil {
		c.logger.Warn("Failed to close audio source", slog.String("error", err.Error()))
	}
	if !waitTimeout(&wg, c.opts.WorkerJoinTimeout+c.opts.ReadTimeout) {
		c.logger.Warn("Workers did not stop in time", slog.Duration("timeout", c.opts.WorkerJoinTimeout))
	}
	// final flush is bounded by WorkerJoinTimeout
	pipeline.Wait()

	// PostProcessing
	var post *postprocess.Result
	if c.deps.PostProcessor != nil {
		c.setState(StatePostProcessing)
		r := c.deps.PostProcessor.Run(context.WithoutCancel(ctx), postprocess.Input{
			SessionID: c.opts.ID,
			Room:      c.opts.Room,
			AccountID: c.opts.AccountID,
			Log:       c.log,
			StartedAt: c.startedAt,
			Elapsed:   time.Since(c.startedAt),
		})
		post = &r
	}

	// Terminated
	c.release(device)
	c.setState(StateTerminated)
	return c.result(post)
}

func (c *Controller) startWorker(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if p := recover(); p != nil {
				c.logger.Error("Worker panicked", slog.String("worker", name), slog.Any("panic", p))
				c.Stop(name + " worker failed")
			}
		}()
		fn()
	}()
}

func (c *Controller) provision(ctx context.Context) (*audio.Device, error) {
	if c.deps.Provisioner == nil {
		return nil, nil
	}
	device, err := c.deps.Provisioner.Provision(ctx, c.opts.ID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Audio device provisioned", slog.String("source", device.Source))
	return device, nil
}

func (c *Controller) release(device *audio.Device) {
	if c.deps.Provisioner == nil || device == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LeaveTimeout)
	defer cancel()
	if err := c.deps.Provisioner.Release(ctx, device); err != nil {
		c.logger.Warn("Failed to release audio device", slog.String("error", err.Error()))
	}
}

// join waits for admission, bounded by JoinTimeout and aborted by Stop
func (c *Controller) join(ctx context.Context) error {
	joinCtx, cancel := context.WithTimeout(ctx, c.opts.JoinTimeout)
	defer cancel()

	go func() {
		select {
		case <-c.shutdown:
			cancel()
		case <-joinCtx.Done():
		}
	}()

	err := c.deps.Conference.Join(joinCtx)
	if err == nil {
		return nil
	}
	if errors.Is(joinCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %v", ErrJoinTimeout, c.opts.JoinTimeout, err)
	}
	return fmt.Errorf("failed to join meeting: %w", err)
}

// leave is best-effort; failures are logged
func (c *Controller) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LeaveTimeout)
	defer cancel()
	if err := c.deps.Conference.Leave(ctx); err != nil {
		c.logger.Warn("Failed to leave meeting", slog.String("error", err.Error()))
	}
}

func (c *Controller) notify(ctx context.Context, text string) {
	err := c.deps.Conference.SendChat(ctx, text)
	c.metrics.RecordChatNotification(err == nil)
	if err != nil {
		c.logger.Warn("Failed to send chat message", slog.String("error", err.Error()))
	}
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		c.failure = err
	}
	c.logger.Error("Session failed", slog.String("error", err.Error()))
}

func (c *Controller) result(post *postprocess.Result) Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Result{
		SessionID:   c.opts.ID,
		State:       c.State().String(),
		StopReason:  c.stopReason,
		Utterances:  c.log.Len(),
		Elapsed:     time.Since(c.startedAt),
		PostProcess: post,
	}
	if c.failure != nil {
		r.Error = c.failure.Error()
	}
	return r
}

// waitTimeout waits for wg and reports whether it finished in time
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Info is a point-in-time snapshot of a session
type Info struct {
	ID               string           `json:"id"`
	Room             string           `json:"room,omitempty"`
	AccountID        string           `json:"account_id,omitempty"`
	State            string           `json:"state"`
	StartedAt        time.Time        `json:"started_at"`
	ElapsedSeconds   float64          `json:"elapsed_seconds"`
	RemainingSeconds int64            `json:"remaining_seconds"`
	Utterances       int              `json:"utterances"`
	StopReason       string           `json:"stop_reason,omitempty"`
	Error            string           `json:"error,omitempty"`
	Segmenter        vad.Stats        `json:"segmenter"`
	Queue            audio.QueueStats `json:"queue"`
}

// Info returns a snapshot of the session
func (c *Controller) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := Info{
		ID:               c.opts.ID,
		Room:             c.opts.Room,
		AccountID:        c.opts.AccountID,
		State:            c.State().String(),
		StartedAt:        c.startedAt,
		RemainingSeconds: c.remainingSeconds.Load(),
		Utterances:       c.log.Len(),
		StopReason:       c.stopReason,
		Segmenter:        c.segmenter.GetStats(),
		Queue:            c.queue.GetStats(),
	}
	if !c.startedAt.IsZero() {
		info.ElapsedSeconds = time.Since(c.startedAt).Seconds()
	}
	if c.failure != nil {
		info.Error = c.failure.Error()
	}
	return info
}
