package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/audio"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/transcript"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/vad"
)

// captureLoop moves frames from the source into the queue until shutdown or
// until the source closes
func (c *Controller) captureLoop(source audio.Source) {
	warnedFull := false
	for {
		select {
		case <-c.shutdown:
			return
		default:
		}

		frame, status := source.NextFrame(c.opts.ReadTimeout)
		switch status {
		case audio.ReadFrame:
			queued := c.queue.Push(frame, c.opts.PushTimeout)
			c.metrics.RecordFrameCaptured(!queued)
			c.metrics.SetQueueDepth(c.queue.Len())
			if !queued && !warnedFull {
				c.logger.Warn("Frame queue full, dropping audio", slog.Int("capacity", c.opts.QueueSize))
				warnedFull = true
			}
		case audio.ReadEmpty:
			continue
		case audio.ReadClosed:
			if c.Running() {
				c.logger.Error("Audio source closed unexpectedly")
				c.Stop("audio source closed")
			}
			return
		}
	}
}

// pipelineLoop is the single consumer of the frame queue. Segments are
// transcribed synchronously so utterances are appended in segment order.
func (c *Controller) pipelineLoop(ctx context.Context) {
	// segments whose transcription was interrupted by shutdown
	var pending []vad.Segment

	for {
		select {
		case <-c.shutdown:
			c.finalFlush(pending)
			return
		default:
		}

		frame, ok := c.queue.Pop(c.opts.ReadTimeout)
		if !ok {
			// no audio for a whole read timeout: seal whatever was said
			if segment := c.segmenter.Flush(); segment != nil {
				pending = c.handleSegment(ctx, *segment, pending)
			}
			continue
		}

		segments, err := c.segmenter.Push(frame.Samples)
		if err != nil {
			c.logger.Warn("Voice activity classification failed", slog.String("error", err.Error()))
		}
		for _, segment := range segments {
			pending = c.handleSegment(ctx, segment, pending)
		}
	}
}

// handleSegment transcribes and records one segment and hands its text to the
// router worker. A segment that could not be transcribed because of shutdown
// is returned in pending.
func (c *Controller) handleSegment(ctx context.Context, segment vad.Segment, pending []vad.Segment) []vad.Segment {
	text := strings.TrimSpace(c.deps.Transcriber.Transcribe(ctx, segment.Samples))
	if text == "" {
		if ctx.Err() != nil {
			pending = append(pending, segment)
		}
		return pending
	}

	c.record(segment, text)
	if c.commands != nil {
		select {
		case c.commands <- text:
		default:
			c.logger.Warn("Command queue full, line not routed", slog.String("text", text))
		}
	}
	return pending
}

// routerLoop runs wake-word commands off the pipeline goroutine
func (c *Controller) routerLoop(ctx context.Context) {
	for {
		select {
		case <-c.shutdown:
			return
		case text := <-c.commands:
			c.deps.Router.Route(ctx, text)
		}
	}
}

func (c *Controller) record(segment vad.Segment, text string) {
	c.log.Append(transcript.Utterance{
		Text:  text,
		Start: segment.Start,
		End:   segment.End,
	})
	c.logger.Debug("Utterance transcribed",
		slog.Float64("start", segment.Start),
		slog.Float64("end", segment.End),
		slog.String("text", text),
	)
}

// finalFlush drains queued audio, seals any partial speech and transcribes
// it with its own deadline, since the worker context is already cancelled.
// Commands are not routed once the session is leaving.
func (c *Controller) finalFlush(pending []vad.Segment) {
	for _, frame := range c.queue.Drain() {
		segments, _ := c.segmenter.Push(frame.Samples)
		pending = append(pending, segments...)
	}
	if segment := c.segmenter.Flush(); segment != nil {
		pending = append(pending, *segment)
	}
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WorkerJoinTimeout)
	defer cancel()

	for _, segment := range pending {
		if text := strings.TrimSpace(c.deps.Transcriber.Transcribe(ctx, segment.Samples)); text != "" {
			c.record(segment, text)
		}
	}
	c.logger.Info("Flushed buffered speech", slog.Int("segments", len(pending)))
}

// monitorLoop polls meeting occupancy and stops the session when the bot is
// alone or the count cannot be read MaxProbeFailures times in a row
func (c *Controller) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.MonitorInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, c.opts.MonitorInterval)
		count, err := c.deps.Conference.ParticipantCount(probeCtx)
		cancel()

		if err != nil {
			failures++
			c.logger.Warn("Failed to read participant count",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()))
			if failures >= c.opts.MaxProbeFailures {
				c.Stop("participant count unavailable")
				return
			}
			continue
		}

		failures = 0
		if count <= 1 {
			c.logger.Info("Meeting is empty", slog.Int("participants", count))
			c.Stop("meeting empty")
			return
		}
	}
}

// countdownLoop enforces the time budget and announces each warning
// threshold once
func (c *Controller) countdownLoop(ctx context.Context) {
	deadline := time.Now().Add(c.opts.TimeBudget)

	// thresholds at or above the budget would fire immediately
	warned := make([]bool, len(c.opts.WarningThresholds))
	for i, threshold := range c.opts.WarningThresholds {
		warned[i] = threshold >= c.opts.TimeBudget
	}

	ticker := time.NewTicker(c.opts.CountdownInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		c.remainingSeconds.Store(int64(remaining.Seconds()))

		if remaining == 0 {
			c.logger.Info("Time budget exhausted", slog.Duration("budget", c.opts.TimeBudget))
			c.Stop("time budget exhausted")
			return
		}

		for i, threshold := range c.opts.WarningThresholds {
			if !warned[i] && remaining <= threshold {
				warned[i] = true
				c.notify(ctx, remainingMessage(threshold))
			}
		}
	}
}

func remainingMessage(d time.Duration) string {
	unit, n := "second", int(d/time.Second)
	if d >= time.Minute && d%time.Minute == 0 {
		unit, n = "minute", int(d/time.Minute)
	}
	if n != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s remaining", n, unit)
}
