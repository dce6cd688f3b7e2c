package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// newTestManager returns a manager whose sessions stay active until stopped
func newTestManager(t *testing.T, maxSessions int) (*Manager, *sync.Map) {
	t.Helper()

	rigs := &sync.Map{}
	build := func(id string, req Request) (*Controller, error) {
		opts := testOptions(id)
		opts.Room = req.Room
		opts.AccountID = req.AccountID
		opts.TimeBudget = req.TimeBudget
		rig := newTestRig(t, opts, nil)
		rigs.Store(id, rig)
		return rig.controller, nil
	}

	return NewManager(build, maxSessions, testLogger()), rigs
}

func waitRemoved(t *testing.T, m *Manager, id string) {
	t.Helper()
	waitFor(t, "session removal", 3*time.Second, func() bool {
		_, ok := m.Get(id)
		return !ok
	})
}

func TestManagerStartAndStop(t *testing.T) {
	m, rigs := newTestManager(t, 0)

	c, err := m.Start(Request{Room: "standup", AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	got, ok := m.Get(c.ID())
	if !ok || got != c {
		t.Fatal("Expected session to be registered")
	}

	waitFor(t, "active state", 2*time.Second, func() bool {
		return c.State() == StateActive
	})

	infos := m.List()
	if len(infos) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(infos))
	}
	if infos[0].Room != "standup" || infos[0].AccountID != "acct-1" {
		t.Errorf("Expected room standup for acct-1, got %s for %s", infos[0].Room, infos[0].AccountID)
	}

	if err := m.StopSession(c.ID(), "user request"); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}
	waitRemoved(t, m, c.ID())

	result, ok := m.Result(c.ID())
	if !ok {
		t.Fatal("Expected result for finished session")
	}
	if result.State != StateTerminated.String() {
		t.Errorf("Expected state %s, got %s", StateTerminated, result.State)
	}
	if result.StopReason != "user request" {
		t.Errorf("Expected stop reason 'user request', got %q", result.StopReason)
	}

	value, _ := rigs.Load(c.ID())
	if runs := value.(*testRig).post.Runs(); runs != 1 {
		t.Errorf("Expected 1 post-processing run, got %d", runs)
	}

	stats := m.GetStats()
	if stats.ActiveSessions != 0 || stats.StartedSessions != 1 {
		t.Errorf("Expected 0 active and 1 started, got %d and %d", stats.ActiveSessions, stats.StartedSessions)
	}
}

func TestManagerDuplicateRoom(t *testing.T) {
	m, _ := newTestManager(t, 0)
	defer m.Shutdown(context.Background())

	if _, err := m.Start(Request{Room: "planning"}); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	_, err := m.Start(Request{Room: "planning"})
	if !errors.Is(err, ErrSessionExists) {
		t.Errorf("Expected ErrSessionExists, got %v", err)
	}

	if _, err := m.Start(Request{Room: "retro"}); err != nil {
		t.Errorf("Expected a different room to start, got %v", err)
	}
}

func TestManagerMaxSessions(t *testing.T) {
	m, _ := newTestManager(t, 2)
	defer m.Shutdown(context.Background())

	for i := 0; i < 2; i++ {
		if _, err := m.Start(Request{Room: fmt.Sprintf("room-%d", i)}); err != nil {
			t.Fatalf("Failed to start session %d: %v", i, err)
		}
	}

	_, err := m.Start(Request{Room: "room-2"})
	if !errors.Is(err, ErrTooManySessions) {
		t.Errorf("Expected ErrTooManySessions, got %v", err)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, 0)

	if err := m.StopSession("missing", "test"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Expected Get to miss")
	}
	if _, ok := m.Result("missing"); ok {
		t.Error("Expected Result to miss")
	}
}

func TestManagerBuildError(t *testing.T) {
	m := NewManager(func(id string, req Request) (*Controller, error) {
		return nil, errTest
	}, 0, testLogger())

	_, err := m.Start(Request{Room: "broken"})
	if !errors.Is(err, errTest) {
		t.Errorf("Expected build error, got %v", err)
	}
	if stats := m.GetStats(); stats.StartedSessions != 0 {
		t.Errorf("Expected 0 started sessions, got %d", stats.StartedSessions)
	}
}

func TestManagerShutdown(t *testing.T) {
	m, _ := newTestManager(t, 0)

	var ids []string
	for i := 0; i < 3; i++ {
		c, err := m.Start(Request{Room: fmt.Sprintf("room-%d", i)})
		if err != nil {
			t.Fatalf("Failed to start session %d: %v", i, err)
		}
		ids = append(ids, c.ID())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if len(m.List()) != 0 {
		t.Errorf("Expected no sessions after shutdown, got %d", len(m.List()))
	}
	for _, id := range ids {
		result, ok := m.Result(id)
		if !ok {
			t.Errorf("Expected result for %s", id)
			continue
		}
		if result.State != StateTerminated.String() {
			t.Errorf("Expected %s to terminate, got %s", id, result.State)
		}
	}

	if _, err := m.Start(Request{Room: "late"}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
}
