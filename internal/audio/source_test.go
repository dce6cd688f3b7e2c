package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReaderSourceFrames(t *testing.T) {
	// 2.5 frames of 4 samples each
	samples := []int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	src, err := NewReaderSource(io.NopCloser(bytes.NewReader(EncodePCM16(samples))), 16000, 4, testLogger())
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	defer src.Close()

	for i := 0; i < 2; i++ {
		frame, status := src.NextFrame(time.Second)
		if status != ReadFrame {
			t.Fatalf("Frame %d: expected ReadFrame, got %v", i, status)
		}
		if len(frame.Samples) != 4 {
			t.Fatalf("Frame %d: expected 4 samples, got %d", i, len(frame.Samples))
		}
		if frame.Samples[0] != int16(i*4+1) {
			t.Errorf("Frame %d: expected first sample %d, got %d", i, i*4+1, frame.Samples[0])
		}
	}

	// The trailing partial frame is dropped and the feed reports closed
	if _, status := src.NextFrame(time.Second); status != ReadClosed {
		t.Errorf("Expected ReadClosed after EOF, got %v", status)
	}

	stats := src.GetStats()
	if stats.FramesRead != 2 {
		t.Errorf("Expected 2 frames read, got %d", stats.FramesRead)
	}
	if stats.BytesRead != 20 {
		t.Errorf("Expected 20 bytes read, got %d", stats.BytesRead)
	}
}

func TestReaderSourceEmptyThenFrame(t *testing.T) {
	pr, pw := io.Pipe()
	src, err := NewReaderSource(pr, 16000, 2, testLogger())
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	defer src.Close()

	if _, status := src.NextFrame(20 * time.Millisecond); status != ReadEmpty {
		t.Fatalf("Expected ReadEmpty on idle feed, got %v", status)
	}

	// Bytes split across writes are stitched into one frame
	go func() {
		pw.Write([]byte{1, 0, 2})
		pw.Write([]byte{0})
	}()

	frame, status := src.NextFrame(time.Second)
	if status != ReadFrame {
		t.Fatalf("Expected ReadFrame, got %v", status)
	}
	if frame.Samples[0] != 1 || frame.Samples[1] != 2 {
		t.Errorf("Expected samples [1 2], got %v", frame.Samples)
	}

	pw.CloseWithError(errors.New("device removed"))
	if _, status := src.NextFrame(time.Second); status != ReadClosed {
		t.Errorf("Expected ReadClosed after feed error, got %v", status)
	}
}

func TestReaderSourceInvalidConfig(t *testing.T) {
	if _, err := NewReaderSource(io.NopCloser(bytes.NewReader(nil)), 0, 4, testLogger()); err == nil {
		t.Errorf("Expected error for zero sample rate")
	}
	if _, err := NewReaderSource(io.NopCloser(bytes.NewReader(nil)), 16000, 0, testLogger()); err == nil {
		t.Errorf("Expected error for zero frame size")
	}
}

func TestStartProcessSourceMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := StartProcessSource(context.Background(), CaptureConfig{
		Command:         "parec",
		SourceName:      "meetbot_test.monitor",
		SampleRate:      16000,
		FrameDurationMs: 30,
	}, testLogger())
	if !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("Expected ErrSourceNotFound, got %v", err)
	}
}

func TestCaptureArgs(t *testing.T) {
	name, args, err := captureArgs(CaptureConfig{Command: "ffmpeg", SourceName: "sink.monitor", SampleRate: 16000})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if name != "ffmpeg" {
		t.Errorf("Expected ffmpeg, got %s", name)
	}
	if args[len(args)-1] != "-" {
		t.Errorf("Expected ffmpeg to write to stdout, got %v", args)
	}

	if _, _, err := captureArgs(CaptureConfig{Command: "arecord"}); err == nil {
		t.Errorf("Expected error for unsupported command")
	}
}
