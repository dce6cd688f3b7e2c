package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Device is a provisioned virtual audio device. Capture reads from Source.
type Device struct {
	SinkName string
	Source   string
	moduleID string
}

// Provisioner acquires and releases per-session audio devices
type Provisioner interface {
	Provision(ctx context.Context, sessionID string) (*Device, error)
	Release(ctx context.Context, device *Device) error
}

// commandRunner runs an external command and returns its stdout
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// PulseProvisioner creates one PulseAudio null sink per session. The meeting
// audio is routed onto the sink and captured from its monitor source.
type PulseProvisioner struct {
	logger *slog.Logger
	run    commandRunner

	mu      sync.Mutex
	devices map[string]*Device
}

// NewPulseProvisioner creates a provisioner backed by pactl
func NewPulseProvisioner(logger *slog.Logger) *PulseProvisioner {
	return &PulseProvisioner{
		logger:  logger,
		run:     runCommand,
		devices: make(map[string]*Device),
	}
}

// Provision loads a null sink named after the session
func (p *PulseProvisioner) Provision(ctx context.Context, sessionID string) (*Device, error) {
	sinkName := "meetbot_" + sanitizeDeviceName(sessionID)

	out, err := p.run(ctx, "pactl", "load-module", "module-null-sink",
		"sink_name="+sinkName,
		"sink_properties=device.description="+sinkName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create null sink: %w", err)
	}

	device := &Device{
		SinkName: sinkName,
		Source:   sinkName + ".monitor",
		moduleID: strings.TrimSpace(string(out)),
	}

	p.mu.Lock()
	p.devices[sinkName] = device
	p.mu.Unlock()

	p.logger.Info("Audio device provisioned",
		slog.String("sink", device.SinkName),
		slog.String("source", device.Source),
		slog.String("module_id", device.moduleID),
	)

	return device, nil
}

// Release unloads the sink module. Releasing twice is a no-op.
func (p *PulseProvisioner) Release(ctx context.Context, device *Device) error {
	if device == nil {
		return nil
	}

	p.mu.Lock()
	_, owned := p.devices[device.SinkName]
	delete(p.devices, device.SinkName)
	p.mu.Unlock()

	if !owned || device.moduleID == "" {
		return nil
	}

	if _, err := p.run(ctx, "pactl", "unload-module", device.moduleID); err != nil {
		return fmt.Errorf("failed to unload sink %s: %w", device.SinkName, err)
	}

	p.logger.Info("Audio device released", slog.String("sink", device.SinkName))
	return nil
}

// StaticProvisioner hands out a pre-existing source and never creates devices
type StaticProvisioner struct {
	SourceName string
}

// Provision returns the configured source
func (s StaticProvisioner) Provision(ctx context.Context, sessionID string) (*Device, error) {
	if s.SourceName == "" {
		return nil, fmt.Errorf("%w: no source configured", ErrSourceNotFound)
	}
	return &Device{Source: s.SourceName}, nil
}

// Release is a no-op
func (s StaticProvisioner) Release(ctx context.Context, device *Device) error {
	return nil
}

func sanitizeDeviceName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
