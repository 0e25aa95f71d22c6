package presence

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/parley/chat-app/internal/room"
	"github.com/parley/chat-app/internal/session"
)

// recorder captures fan-out for assertions.
type recorder struct {
	mu   sync.Mutex
	sent map[string][][]byte // connID -> payloads
}

func newRecorder() *recorder {
	return &recorder{sent: make(map[string][][]byte)}
}

func (r *recorder) Send(connID string, data []byte) error {
	r.mu.Lock()
	r.sent[connID] = append(r.sent[connID], data)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[connID])
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *recorder, *room.Directory, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry("general")
	rooms := room.NewDirectory(registry, room.DefaultRooms())
	rec := newRecorder()
	return NewBroadcaster(rec, rooms), rec, rooms, registry
}

func join(t *testing.T, rooms *room.Directory, registry *session.Registry, connID, name string) {
	t.Helper()
	if _, err := registry.Authenticate(connID, name, ""); err != nil {
		t.Fatalf("auth failed: %v", err)
	}
	if _, err := rooms.Join(connID, "general"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
}

func TestToRoomSkipsExcept(t *testing.T) {
	b, rec, rooms, registry := newTestBroadcaster(t)
	join(t, rooms, registry, "a", "alice")
	join(t, rooms, registry, "b", "bob")

	b.ToRoom("general", []byte(`{"type":"x"}`), "a")

	if rec.count("a") != 0 {
		t.Errorf("excluded connection received %d messages", rec.count("a"))
	}
	if rec.count("b") != 1 {
		t.Errorf("expected 1 message for b, got %d", rec.count("b"))
	}
}

func TestUsersUpdatedReachesAllMembers(t *testing.T) {
	b, rec, rooms, registry := newTestBroadcaster(t)
	join(t, rooms, registry, "a", "alice")
	join(t, rooms, registry, "b", "bob")

	b.UsersUpdated("general")

	for _, id := range []string{"a", "b"} {
		if rec.count(id) != 1 {
			t.Fatalf("conn %s received %d messages, want 1", id, rec.count(id))
		}
	}

	var payload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
		Users  []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	if err := json.Unmarshal(rec.sent["a"][0], &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.Type != "users_updated" {
		t.Errorf("unexpected type %q", payload.Type)
	}
	if payload.RoomID != "general" || len(payload.Users) != 2 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestTypingStartIdempotent(t *testing.T) {
	b, _, _, _ := newTestBroadcaster(t)
	scope := RoomScope("general")

	if !b.TypingStart(scope, "a") {
		t.Error("first start should change state")
	}
	if b.TypingStart(scope, "a") {
		t.Error("repeated start should not change state")
	}
	if got := b.TypingIn(scope); len(got) != 1 {
		t.Errorf("expected one typing user, got %v", got)
	}
}

func TestTypingStop(t *testing.T) {
	b, _, _, _ := newTestBroadcaster(t)
	scope := RoomScope("general")

	if b.TypingStop(scope, "a") {
		t.Error("stop without start should not change state")
	}

	b.TypingStart(scope, "a")
	if !b.TypingStop(scope, "a") {
		t.Error("stop after start should change state")
	}
	if got := b.TypingIn(scope); len(got) != 0 {
		t.Errorf("expected no typing users, got %v", got)
	}
}

func TestScopesIndependent(t *testing.T) {
	b, _, _, _ := newTestBroadcaster(t)

	b.TypingStart(RoomScope("general"), "a")
	b.TypingStart(ConvScope("a:b"), "a")

	if !b.TypingStop(RoomScope("general"), "a") {
		t.Error("room stop failed")
	}
	if got := b.TypingIn(ConvScope("a:b")); len(got) != 1 {
		t.Errorf("conversation scope affected by room stop: %v", got)
	}
}

func TestClearConnection(t *testing.T) {
	b, _, _, _ := newTestBroadcaster(t)

	b.TypingStart(RoomScope("general"), "a")
	b.TypingStart(ConvScope("a:b"), "a")
	b.TypingStart(RoomScope("general"), "b")

	scopes := b.ClearConnection("a")
	if len(scopes) != 2 {
		t.Fatalf("expected 2 affected scopes, got %v", scopes)
	}

	if got := b.TypingIn(RoomScope("general")); len(got) != 1 || got[0] != "b" {
		t.Errorf("other users' typing state disturbed: %v", got)
	}
	if got := b.TypingIn(ConvScope("a:b")); len(got) != 0 {
		t.Errorf("conversation scope not cleared: %v", got)
	}

	// Clearing an idle connection affects nothing.
	if scopes := b.ClearConnection("ghost"); len(scopes) != 0 {
		t.Errorf("expected no scopes for idle connection, got %v", scopes)
	}
}
