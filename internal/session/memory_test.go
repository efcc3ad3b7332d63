package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_SaveLoadClear(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	defer s.Close()

	ctx := context.Background()
	state := State{SpeakerMapping: map[string]string{"SPEAKER_00": "Alice"}}

	if err := s.Save(ctx, 42, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, ok, err := s.Load(ctx, 42)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected saved state")
	}
	if got.SpeakerMapping["SPEAKER_00"] != "Alice" {
		t.Fatalf("unexpected mapping: %v", got.SpeakerMapping)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("Save must stamp UpdatedAt")
	}

	if err := s.Clear(ctx, 42); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := s.Load(ctx, 42); ok {
		t.Fatalf("expected miss after Clear")
	}
}

func TestMemoryStore_LoadMissing(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	defer s.Close()

	_, ok, err := s.Load(context.Background(), 7)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for unknown chat")
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore(20*time.Millisecond, time.Minute)
	defer s.Close()

	ctx := context.Background()
	if err := s.Save(ctx, 1, State{SpeakerMapping: map[string]string{"SPEAKER_00": "Bob"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok, _ := s.Load(ctx, 1); ok {
		t.Fatalf("expected miss after TTL expiry")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry must be dropped on read, have %d", s.Len())
	}
}

func TestMemoryStore_IsolatesChats(t *testing.T) {
	s := NewMemoryStore(time.Minute, time.Minute)
	defer s.Close()

	ctx := context.Background()
	_ = s.Save(ctx, 1, State{SpeakerMapping: map[string]string{"SPEAKER_00": "Alice"}})
	_ = s.Save(ctx, 2, State{SpeakerMapping: map[string]string{"SPEAKER_00": "Bob"}})

	got, ok, _ := s.Load(ctx, 2)
	if !ok || got.SpeakerMapping["SPEAKER_00"] != "Bob" {
		t.Fatalf("chat state leaked across chats: %v", got.SpeakerMapping)
	}
}
