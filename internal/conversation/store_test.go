package conversation

import (
	"fmt"
	"testing"

	"github.com/parley/chat-app/internal/session"
)

func newTestStore(t *testing.T) (*Store, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry("general")
	registry.Authenticate("a", "alice", "")
	registry.Authenticate("b", "bob", "")
	return NewStore(registry), registry
}

func TestKeySymmetric(t *testing.T) {
	if Key("a", "b") != Key("b", "a") {
		t.Errorf("key not symmetric: %q vs %q", Key("a", "b"), Key("b", "a"))
	}
	if Key("a", "b") != "a:b" {
		t.Errorf("unexpected key: %q", Key("a", "b"))
	}
}

func TestCounterpart(t *testing.T) {
	key := Key("a", "b")
	if got := Counterpart(key, "a"); got != "b" {
		t.Errorf("Counterpart(a) = %q, want b", got)
	}
	if got := Counterpart(key, "b"); got != "a" {
		t.Errorf("Counterpart(b) = %q, want a", got)
	}
	if got := Counterpart(key, "c"); got != "" {
		t.Errorf("Counterpart(non-participant) = %q, want empty", got)
	}
	if got := Counterpart("garbage", "a"); got != "" {
		t.Errorf("Counterpart(malformed key) = %q, want empty", got)
	}
}

func TestSend(t *testing.T) {
	s, _ := newTestStore(t)

	msg, err := s.Send("a", "b", "hey", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("message id not assigned")
	}
	if msg.Sender.Username != "alice" || msg.Recipient.Username != "bob" {
		t.Errorf("participant snapshots wrong: %s -> %s", msg.Sender.Username, msg.Recipient.Username)
	}
	if msg.Ts == 0 {
		t.Error("timestamp not set")
	}
}

func TestSendUnknownRecipient(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Send("a", "ghost", "hey", nil); err != ErrUnknownRecipient {
		t.Errorf("expected ErrUnknownRecipient, got %v", err)
	}
}

func TestSendEmptyMessage(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Send("a", "b", "", nil); err != ErrEmptyMessage {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestHistorySymmetric(t *testing.T) {
	s, _ := newTestStore(t)

	s.Send("a", "b", "one", nil)
	s.Send("b", "a", "two", nil)
	s.Send("a", "b", "three", nil)

	fromA := s.History("a", "b")
	fromB := s.History("b", "a")

	if len(fromA) != 3 || len(fromB) != 3 {
		t.Fatalf("expected 3 messages both ways, got %d and %d", len(fromA), len(fromB))
	}
	for i := range fromA {
		if fromA[i].ID != fromB[i].ID {
			t.Errorf("history diverges at %d: %s vs %s", i, fromA[i].ID, fromB[i].ID)
		}
	}
	if fromA[0].Text != "one" || fromA[2].Text != "three" {
		t.Errorf("history out of order: %q .. %q", fromA[0].Text, fromA[2].Text)
	}
}

func TestHistoryWindow(t *testing.T) {
	s, _ := newTestStore(t)

	for i := 0; i < HistoryLimit+5; i++ {
		if _, err := s.Send("a", "b", fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	history := s.History("a", "b")
	if len(history) != HistoryLimit {
		t.Fatalf("expected %d messages, got %d", HistoryLimit, len(history))
	}
	if history[0].Text != "msg 5" {
		t.Errorf("window start wrong: %q", history[0].Text)
	}
}

func TestHistoryEmptyThread(t *testing.T) {
	s, _ := newTestStore(t)

	if history := s.History("a", "b"); len(history) != 0 {
		t.Errorf("expected empty history, got %d messages", len(history))
	}
}
