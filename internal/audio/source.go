package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSourceNotFound is returned when the audio feed cannot be opened
var ErrSourceNotFound = errors.New("audio source not found")

// ReadStatus describes the outcome of a NextFrame call
type ReadStatus int

const (
	// ReadFrame means a full frame was returned
	ReadFrame ReadStatus = iota
	// ReadEmpty means no frame arrived before the timeout; the feed is still alive
	ReadEmpty
	// ReadClosed means the feed has terminated and no more frames will arrive
	ReadClosed
)

func (s ReadStatus) String() string {
	switch s {
	case ReadFrame:
		return "frame"
	case ReadEmpty:
		return "empty"
	case ReadClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Source produces fixed-size PCM frames from a live feed
type Source interface {
	NextFrame(timeout time.Duration) (Frame, ReadStatus)
	Close() error
}

// SourceStats represents capture statistics
type SourceStats struct {
	FramesRead uint64 `json:"frames_read"`
	BytesRead  uint64 `json:"bytes_read"`
	Closed     bool   `json:"closed"`
}

// ReaderSource slices a raw little-endian PCM byte stream into frames.
// A background goroutine reads the stream; partial frames are carried over
// between reads.
type ReaderSource struct {
	reader     io.ReadCloser
	sampleRate int
	frameSize  int
	logger     *slog.Logger

	frames chan Frame
	done   chan struct{}

	framesRead atomic.Uint64
	bytesRead  atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
}

// NewReaderSource starts reading frames of frameSize samples from r
func NewReaderSource(r io.ReadCloser, sampleRate, frameSize int, logger *slog.Logger) (*ReaderSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}

	s := &ReaderSource{
		reader:     r,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		logger:     logger,
		frames:     make(chan Frame, 16),
		done:       make(chan struct{}),
	}

	go s.readLoop()

	return s, nil
}

// readLoop reads the byte stream until EOF or error
func (s *ReaderSource) readLoop() {
	defer close(s.frames)

	frameBytes := s.frameSize * 2
	buf := make([]byte, 0, frameBytes*4)
	chunk := make([]byte, frameBytes*2)

	for {
		n, err := s.reader.Read(chunk)
		if n > 0 {
			s.bytesRead.Add(uint64(n))
			buf = append(buf, chunk[:n]...)

			for len(buf) >= frameBytes {
				samples, _ := DecodePCM16(buf[:frameBytes])
				buf = append(buf[:0], buf[frameBytes:]...)

				select {
				case s.frames <- Frame{Samples: samples, SampleRate: s.sampleRate}:
					s.framesRead.Add(1)
				case <-s.done:
					return
				}
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				s.logger.Warn("Audio feed read failed", slog.String("error", err.Error()))
			}
			if len(buf) > 0 {
				s.logger.Debug("Dropping partial frame at end of feed", slog.Int("bytes", len(buf)))
			}
			return
		}
	}
}

// NextFrame blocks for at most timeout waiting for the next frame
func (s *ReaderSource) NextFrame(timeout time.Duration) (Frame, ReadStatus) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-s.frames:
		if !ok {
			return Frame{}, ReadClosed
		}
		return frame, ReadFrame
	case <-timer.C:
		return Frame{}, ReadEmpty
	}
}

// Close stops the read loop and closes the underlying reader
func (s *ReaderSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = s.reader.Close()
	})
	return err
}

// GetStats returns current capture statistics
func (s *ReaderSource) GetStats() SourceStats {
	return SourceStats{
		FramesRead: s.framesRead.Load(),
		BytesRead:  s.bytesRead.Load(),
		Closed:     s.closed.Load(),
	}
}

// CaptureConfig describes how to launch the capture process
type CaptureConfig struct {
	Command         string // "parec" or "ffmpeg"
	SourceName      string // PulseAudio source, e.g. "meetbot_1234.monitor"
	SampleRate      int
	FrameDurationMs int
}

// ProcessSource reads PCM from a capture process's stdout
type ProcessSource struct {
	*ReaderSource
	cmd    *exec.Cmd
	cancel context.CancelFunc
	logger *slog.Logger
}

// captureArgs builds the command line for the configured capture tool
func captureArgs(cfg CaptureConfig) (string, []string, error) {
	rate := fmt.Sprintf("%d", cfg.SampleRate)
	switch cfg.Command {
	case "parec":
		return "parec", []string{
			"--device=" + cfg.SourceName,
			"--format=s16le",
			"--rate=" + rate,
			"--channels=1",
			"--raw",
			"--latency-msec=" + fmt.Sprintf("%d", cfg.FrameDurationMs),
		}, nil
	case "ffmpeg":
		return "ffmpeg", []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse",
			"-i", cfg.SourceName,
			"-ac", "1",
			"-ar", rate,
			"-f", "s16le",
			"-",
		}, nil
	default:
		return "", nil, fmt.Errorf("unsupported capture command %q", cfg.Command)
	}
}

// StartProcessSource launches the capture process and begins reading frames.
// A missing binary or a process that fails to start yields ErrSourceNotFound.
func StartProcessSource(ctx context.Context, cfg CaptureConfig, logger *slog.Logger) (*ProcessSource, error) {
	if cfg.SourceName == "" {
		return nil, fmt.Errorf("%w: empty source name", ErrSourceNotFound)
	}

	name, args, err := captureArgs(cfg)
	if err != nil {
		return nil, err
	}

	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s not installed: %v", ErrSourceNotFound, name, err)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open capture stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrSourceNotFound, name, err)
	}

	reader, err := NewReaderSource(stdout, cfg.SampleRate, FrameSize(cfg.SampleRate, cfg.FrameDurationMs), logger)
	if err != nil {
		cancel()
		_ = cmd.Wait()
		return nil, err
	}

	ps := &ProcessSource{
		ReaderSource: reader,
		cmd:          cmd,
		cancel:       cancel,
		logger:       logger,
	}

	logger.Info("Audio capture started",
		slog.String("command", name),
		slog.String("source", cfg.SourceName),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("frame_samples", reader.frameSize),
	)

	return ps, nil
}

// Close terminates the capture process and releases the pipe
func (p *ProcessSource) Close() error {
	p.cancel()
	err := p.ReaderSource.Close()
	if waitErr := p.cmd.Wait(); waitErr != nil {
		p.logger.Debug("Capture process exited", slog.String("error", waitErr.Error()))
	}
	return err
}
