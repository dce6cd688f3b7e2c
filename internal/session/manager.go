package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionExists is returned when the room already has a running session
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the concurrency limit is reached
	ErrTooManySessions = errors.New("too many concurrent sessions")
	// ErrShuttingDown is returned by Start after Shutdown
	ErrShuttingDown = errors.New("manager is shutting down")
)

// Request describes a session to start
type Request struct {
	Room       string        `json:"room"`
	AccountID  string        `json:"account_id"`
	TimeBudget time.Duration `json:"time_budget"`
}

// BuildFunc creates the controller for a new session id
type BuildFunc func(id string, req Request) (*Controller, error)

// ManagerStats represents registry statistics
type ManagerStats struct {
	ActiveSessions  int    `json:"active_sessions"`
	StartedSessions uint64 `json:"started_sessions"`
	FailedSessions  uint64 `json:"failed_sessions"`
	MaxSessions     int    `json:"max_sessions"`
}

// Manager is the registry of running sessions. Sessions are inserted on
// start and removed when they reach a final state.
type Manager struct {
	sessions    map[string]*Controller
	build       BuildFunc
	maxSessions int
	logger      *slog.Logger

	// last results, kept so finished sessions can still be inspected
	results     map[string]Result
	resultOrder []string
	maxResults  int

	started uint64
	failed  uint64
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewManager creates a registry. maxSessions <= 0 means unlimited.
func NewManager(build BuildFunc, maxSessions int, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:    make(map[string]*Controller),
		build:       build,
		maxSessions: maxSessions,
		logger:      logger,
		results:     make(map[string]Result),
		maxResults:  100,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start creates a session for req and runs it in the background
func (m *Manager) Start(req Request) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return nil, ErrShuttingDown
	}
	if req.Room != "" {
		for _, existing := range m.sessions {
			if existing.opts.Room == req.Room {
				return nil, fmt.Errorf("%w for room %s: %s", ErrSessionExists, req.Room, existing.ID())
			}
		}
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, m.maxSessions)
	}

	id := uuid.NewString()
	controller, err := m.build(id, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if _, exists := m.sessions[controller.ID()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, controller.ID())
	}

	m.sessions[controller.ID()] = controller
	m.started++

	m.logger.Info("Session started",
		slog.String("session_id", controller.ID()),
		slog.String("room", req.Room),
		slog.Duration("time_budget", req.TimeBudget),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		result := controller.Run(m.ctx)
		m.finish(controller.ID(), result)
	}()

	return controller, nil
}

func (m *Manager) finish(id string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	if result.State == StateFailed.String() {
		m.failed++
	}

	m.results[id] = result
	m.resultOrder = append(m.resultOrder, id)
	if len(m.resultOrder) > m.maxResults {
		delete(m.results, m.resultOrder[0])
		m.resultOrder = m.resultOrder[1:]
	}

	m.logger.Info("Session finished",
		slog.String("session_id", id),
		slog.String("state", result.State),
		slog.String("reason", result.StopReason),
		slog.Int("utterances", result.Utterances),
		slog.Duration("elapsed", result.Elapsed),
	)
}

// Get returns a running session
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[id]
	return c, ok
}

// Result returns the outcome of a recently finished session
func (m *Manager) Result(id string) (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	return r, ok
}

// List returns snapshots of all running sessions, oldest first
func (m *Manager) List() []Info {
	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	infos := make([]Info, len(controllers))
	for i, c := range controllers {
		infos[i] = c.Info()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// StopSession asks a running session to leave
func (m *Manager) StopSession(id, reason string) error {
	c, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	c.Stop(reason)
	return nil
}

// Shutdown stops every session and waits for them to finish or ctx to end.
// Sessions still get to post-process; cancelling ctx only stops the wait.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.Unlock()

	m.logger.Info("Stopping sessions", slog.Int("count", len(controllers)))
	for _, c := range controllers {
		c.Stop("service shutdown")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return fmt.Errorf("failed to stop sessions: %w", ctx.Err())
	}
}

// GetStats returns registry statistics
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ManagerStats{
		ActiveSessions:  len(m.sessions),
		StartedSessions: m.started,
		FailedSessions:  m.failed,
		MaxSessions:     m.maxSessions,
	}
}
