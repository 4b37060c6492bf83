package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"chicken/broker/internal/logging"
)

func TestManagerEnforcesCapacityAndRemoves(t *testing.T) {
	cfg := quickConfig(t)
	manager := NewManager(ManagerConfig{Session: cfg, MaxSessions: 1, TickHz: 100}, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := manager.Create(ctx, WithTrials(shortList()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := manager.Create(ctx); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}
	got, err := manager.Get(first.ID())
	if err != nil || got != first {
		t.Fatalf("expected to find session, got %v %v", got, err)
	}

	//1.- The tick loop advances simulated time in the background.
	deadline := time.Now().Add(2 * time.Second)
	for first.Snapshot().Simulated == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tick loop never advanced the session")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if list := manager.List(); len(list) != 1 || list[0].ID != first.ID() {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := manager.Remove(ctx, first.ID()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := manager.Get(first.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if err := manager.Remove(ctx, first.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession on second remove, got %v", err)
	}
}

func TestManagerShutdownClosesEverySession(t *testing.T) {
	manager := NewManager(ManagerConfig{Session: quickConfig(t), TickHz: 50}, logging.NewTestLogger())
	for i := 0; i < 3; i++ {
		if _, err := manager.Create(context.Background(), WithTrials(shortList())); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if manager.Len() != 3 {
		t.Fatalf("expected 3 sessions, got %d", manager.Len())
	}
	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if manager.Len() != 0 {
		t.Fatalf("expected no sessions after shutdown, got %d", manager.Len())
	}
}

func TestManagerAbortFinishesSession(t *testing.T) {
	manager := NewManager(ManagerConfig{Session: quickConfig(t), TickHz: 50}, logging.NewTestLogger())
	defer func() { _ = manager.Shutdown(context.Background()) }()
	session, err := manager.Create(context.Background(), WithTrials(shortList()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := manager.Abort("missing", "operator"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if err := manager.Abort(session.ID(), "operator"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if !session.Finished() || !session.Sequencer().Aborted() {
		t.Fatalf("expected aborted session to be finished")
	}
}
