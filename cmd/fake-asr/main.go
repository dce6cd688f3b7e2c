// Command fake-asr is a local stand-in for the streaming transcription
// service. Every binary message is answered with one JSON reply describing
// the audio it carried.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/audio"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/transcription"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr, text string
	var delay time.Duration

	cmd := &cobra.Command{
		Use:          "fake-asr",
		Short:        "Fake streaming transcription server for local testing",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			return serve(addr, newHandler(text, delay, logger), logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":9000", "Listen address")
	cmd.Flags().StringVar(&text, "text", "", "Fixed reply text (default describes the received audio)")
	cmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "Simulated processing time per message")

	return cmd
}

func serve(addr string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/v1/stream", handler)

	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Fake transcription server starting",
		slog.String("address", addr),
		slog.String("endpoint", "ws://localhost"+addr+"/v1/stream"),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

type handler struct {
	text     string
	delay    time.Duration
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newHandler(text string, delay time.Duration, logger *slog.Logger) *handler {
	return &handler{
		text:   text,
		delay:  delay,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	encoding := r.URL.Query().Get("encoding")
	if encoding == "" {
		encoding = transcription.EncodingPCM16
	}
	sampleRate := 16000
	if _, err := fmt.Sscanf(r.URL.Query().Get("sample_rate"), "%d", &sampleRate); err != nil || sampleRate <= 0 {
		sampleRate = 16000
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.logger.Info("Client connected",
		slog.String("remote", r.RemoteAddr),
		slog.String("encoding", encoding),
		slog.Int("sample_rate", sampleRate),
	)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("Client disconnected", slog.String("reason", err.Error()))
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		time.Sleep(h.delay)

		reply := h.transcribe(encoding, sampleRate, data)
		payload, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("Failed to send reply", slog.String("error", err.Error()))
			return
		}
	}
}

func (h *handler) transcribe(encoding string, sampleRate int, data []byte) transcription.Response {
	var samples int
	switch encoding {
	case transcription.EncodingWAV:
		_, info, err := audio.DecodeWAV(data)
		if err != nil {
			return transcription.Response{Error: err.Error()}
		}
		samples, sampleRate = info.NumSamples, info.SampleRate
	case transcription.EncodingFloat32:
		if len(data)%4 != 0 {
			return transcription.Response{Error: "float32 payload is not a multiple of 4 bytes"}
		}
		samples = len(data) / 4
	default:
		pcm, err := audio.DecodePCM16(data)
		if err != nil {
			return transcription.Response{Error: err.Error()}
		}
		samples = len(pcm)
	}

	seconds := float64(samples) / float64(sampleRate)
	h.logger.Info("Audio received",
		slog.String("encoding", encoding),
		slog.Int("bytes", len(data)),
		slog.Float64("seconds", seconds),
	)

	if h.text != "" {
		return transcription.Response{Text: h.text}
	}
	return transcription.Response{Text: fmt.Sprintf("%.1f seconds of speech", seconds)}
}
