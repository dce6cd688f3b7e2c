package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/audio"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/postprocess"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/router"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/vad"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

const testRate = 16000

func speech(seconds float64) []int16 {
	samples := make([]int16, int(seconds*testRate))
	for i := range samples {
		samples[i] = 1000
	}
	return samples
}

func silence(seconds float64) []int16 {
	return make([]int16, int(seconds*testRate))
}

func toFrames(samples []int16) []audio.Frame {
	var frames []audio.Frame
	for i := 0; i < len(samples); i += 480 {
		end := i + 480
		if end > len(samples) {
			end = len(samples)
		}
		frames = append(frames, audio.Frame{Samples: samples[i:end], SampleRate: testRate})
	}
	return frames
}

// scriptedSource yields its frames, then either closes or stays empty
type scriptedSource struct {
	frames     []audio.Frame
	closeAtEnd bool

	mu     sync.Mutex
	next   int
	closed bool
}

func (s *scriptedSource) NextFrame(timeout time.Duration) (audio.Frame, audio.ReadStatus) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.Frame{}, audio.ReadClosed
	}
	if s.next < len(s.frames) {
		frame := s.frames[s.next]
		s.next++
		s.mu.Unlock()
		return frame, audio.ReadFrame
	}
	closeAtEnd := s.closeAtEnd
	s.mu.Unlock()

	if closeAtEnd {
		return audio.Frame{}, audio.ReadClosed
	}
	time.Sleep(min(timeout, 10*time.Millisecond))
	return audio.Frame{}, audio.ReadEmpty
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeConference struct {
	mu        sync.Mutex
	joinErr   error
	joinBlock bool
	counts    []int // returned in order; the last value repeats
	countErr  error
	joins     int
	leaves    int
	chats     []string
}

func (f *fakeConference) Join(ctx context.Context) error {
	f.mu.Lock()
	f.joins++
	block, err := f.joinBlock, f.joinErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeConference) ParticipantCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	if len(f.counts) == 0 {
		return 3, nil
	}
	count := f.counts[0]
	if len(f.counts) > 1 {
		f.counts = f.counts[1:]
	}
	return count, nil
}

func (f *fakeConference) SendChat(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, text)
	return nil
}

func (f *fakeConference) Leave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return nil
}

func (f *fakeConference) snapshot() (joins, leaves int, chats []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins, f.leaves, append([]string(nil), f.chats...)
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	text  func(n int) string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, samples []int16) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.text != nil {
		return f.text(f.calls)
	}
	return fmt.Sprintf("utterance %d", f.calls)
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePostProcessor struct {
	mu     sync.Mutex
	runs   int
	inputs []postprocess.Input
}

func (f *fakePostProcessor) Run(ctx context.Context, in postprocess.Input) postprocess.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	f.inputs = append(f.inputs, in)
	return postprocess.Result{Utterances: in.Log.Len(), Submitted: true}
}

func (f *fakePostProcessor) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeProvisioner struct {
	mu       sync.Mutex
	err      error
	provided int
	released int
}

func (f *fakeProvisioner) Provision(ctx context.Context, sessionID string) (*audio.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.provided++
	return &audio.Device{SinkName: "meetbot_" + sessionID, Source: "meetbot_" + sessionID + ".monitor"}, nil
}

func (f *fakeProvisioner) Release(ctx context.Context, device *audio.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fakeProvisioner) Released() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// testRig bundles a controller with its fakes
type testRig struct {
	controller  *Controller
	source      *scriptedSource
	conference  *fakeConference
	transcriber *fakeTranscriber
	post        *fakePostProcessor
	provisioner *fakeProvisioner
	router      *router.Router
	opened      int
	openErr     error

	// routerConfig enables command routing through a real router
	routerConfig *router.Config
	classifier   router.IntentClassifier
}

func testOptions(id string) Options {
	return Options{
		ID:                id,
		Room:              "room-" + id,
		QueueSize:         1024,
		ReadTimeout:       50 * time.Millisecond,
		MonitorInterval:   20 * time.Millisecond,
		JoinTimeout:       time.Second,
		WorkerJoinTimeout: 500 * time.Millisecond,
		LeaveTimeout:      100 * time.Millisecond,
		WarningThresholds: []time.Duration{},
		VAD:               vad.DefaultConfig(testRate),
	}
}

func newTestRig(t *testing.T, opts Options, setup func(rig *testRig)) *testRig {
	t.Helper()

	rig := &testRig{
		source:      &scriptedSource{},
		conference:  &fakeConference{},
		transcriber: &fakeTranscriber{},
		post:        &fakePostProcessor{},
		provisioner: &fakeProvisioner{},
	}
	if setup != nil {
		setup(rig)
	}

	var commands CommandRouter
	if rig.routerConfig != nil {
		rig.router = router.NewRouter(*rig.routerConfig, router.Dependencies{
			Classifier: rig.classifier,
			Notifier:   rig.conference,
		}, testLogger(), nil)
		commands = rig.router
	}

	controller, err := NewController(opts, Dependencies{
		Provisioner: rig.provisioner,
		OpenSource: func(ctx context.Context, device *audio.Device) (audio.Source, error) {
			rig.opened++
			if rig.openErr != nil {
				return nil, rig.openErr
			}
			return rig.source, nil
		},
		Classifier:    vad.NewEnergyClassifier(),
		Transcriber:   rig.transcriber,
		Conference:    rig.conference,
		Router:        commands,
		PostProcessor: rig.post,
	}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	rig.controller = controller
	if rig.router != nil {
		rig.router.SetStopper(controller)
	}
	return rig
}

// start runs the controller in the background
func (r *testRig) start() <-chan Result {
	results := make(chan Result, 1)
	go func() {
		results <- r.controller.Run(context.Background())
	}()
	return results
}

func waitResult(t *testing.T, results <-chan Result, timeout time.Duration) Result {
	t.Helper()
	select {
	case result := <-results:
		return result
	case <-time.After(timeout):
		t.Fatalf("Session did not finish within %v", timeout)
		return Result{}
	}
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// blockingClassifier holds every command until its context ends
type blockingClassifier struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingClassifier) Classify(ctx context.Context, command string) (router.Intent, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingClassifier) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

var errTest = errors.New("test failure")
