package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/audio"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/transcription"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFakeServerAnswersStreamClient(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		text     string
		expected string
	}{
		{"pcm16", transcription.EncodingPCM16, "", "1.0 seconds of speech"},
		{"wav", transcription.EncodingWAV, "", "1.0 seconds of speech"},
		{"float32", transcription.EncodingFloat32, "", "1.0 seconds of speech"},
		{"fixed text", transcription.EncodingPCM16, "hello there", "hello there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(newHandler(tt.text, 0, quietLogger()))
			defer server.Close()

			client, err := transcription.NewStreamClient(transcription.Config{
				URL:             "ws" + strings.TrimPrefix(server.URL, "http"),
				Encoding:        tt.encoding,
				SampleRate:      16000,
				ResponseTimeout: 2 * time.Second,
			}, quietLogger(), nil)
			if err != nil {
				t.Fatalf("Failed to create client: %v", err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			got := client.Transcribe(ctx, make([]int16, 16000))
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestTranscribeRejectsBadPayloads(t *testing.T) {
	h := newHandler("", 0, quietLogger())

	if reply := h.transcribe(transcription.EncodingWAV, 16000, []byte("short")); reply.Error == "" {
		t.Error("Expected error for truncated WAV")
	}
	if reply := h.transcribe(transcription.EncodingFloat32, 16000, []byte{1, 2, 3}); reply.Error == "" {
		t.Error("Expected error for misaligned float32 payload")
	}
	if reply := h.transcribe(transcription.EncodingPCM16, 16000, []byte{1}); reply.Error == "" {
		t.Error("Expected error for odd PCM16 payload")
	}

	wav, err := audio.EncodeWAV(make([]int16, 8000), 8000)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}
	if reply := h.transcribe(transcription.EncodingWAV, 16000, wav); reply.Text != "1.0 seconds of speech" {
		t.Errorf("Expected WAV sample rate to be used, got %q", reply.Text)
	}
}
