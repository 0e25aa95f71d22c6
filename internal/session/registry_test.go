package session

import (
	"strings"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	r := NewRegistry("general")

	user, err := r.Authenticate("conn-1", "alice", "")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.ID != "conn-1" {
		t.Errorf("expected id conn-1, got %s", user.ID)
	}
	if user.Username != "alice" {
		t.Errorf("expected username alice, got %s", user.Username)
	}
	if user.Status != StatusOnline {
		t.Errorf("expected status %s, got %s", StatusOnline, user.Status)
	}
	if user.CurrentRoom != "general" {
		t.Errorf("expected current room general, got %s", user.CurrentRoom)
	}
	if !strings.Contains(user.Avatar, "ui-avatars.com") {
		t.Errorf("expected derived avatar, got %q", user.Avatar)
	}
}

func TestAuthenticateTrimsWhitespace(t *testing.T) {
	r := NewRegistry("general")

	user, err := r.Authenticate("conn-1", "  bob  ", "")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.Username != "bob" {
		t.Errorf("expected trimmed username bob, got %q", user.Username)
	}
}

func TestAuthenticateRejectsEmptyName(t *testing.T) {
	r := NewRegistry("general")

	for _, name := range []string{"", "   ", "\t\n"} {
		if _, err := r.Authenticate("conn-1", name, ""); err != ErrInvalidIdentity {
			t.Errorf("name %q: expected ErrInvalidIdentity, got %v", name, err)
		}
	}
	if r.Count() != 0 {
		t.Errorf("expected no sessions after rejected auth, got %d", r.Count())
	}
}

func TestAuthenticateKeepsProvidedAvatar(t *testing.T) {
	r := NewRegistry("general")

	user, err := r.Authenticate("conn-1", "carol", "https://example.com/c.png")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.Avatar != "https://example.com/c.png" {
		t.Errorf("expected provided avatar kept, got %q", user.Avatar)
	}
}

func TestReauthenticateReplacesIdentity(t *testing.T) {
	r := NewRegistry("general")

	if _, err := r.Authenticate("conn-1", "alice", ""); err != nil {
		t.Fatalf("first auth failed: %v", err)
	}
	if _, err := r.Authenticate("conn-1", "alicia", ""); err != nil {
		t.Fatalf("second auth failed: %v", err)
	}

	user, err := r.Lookup("conn-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if user.Username != "alicia" {
		t.Errorf("expected replaced username alicia, got %s", user.Username)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 session after re-auth, got %d", r.Count())
	}
}

func TestLookupReturnsSnapshot(t *testing.T) {
	r := NewRegistry("general")
	r.Authenticate("conn-1", "alice", "")

	user, _ := r.Lookup("conn-1")
	user.Username = "mallory"

	again, _ := r.Lookup("conn-1")
	if again.Username != "alice" {
		t.Errorf("mutating a lookup result leaked into the registry: %s", again.Username)
	}
}

func TestLookupUnknown(t *testing.T) {
	r := NewRegistry("general")
	if _, err := r.Lookup("nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetRoom(t *testing.T) {
	r := NewRegistry("general")
	r.Authenticate("conn-1", "alice", "")

	r.SetRoom("conn-1", "random")
	user, _ := r.Lookup("conn-1")
	if user.CurrentRoom != "random" {
		t.Errorf("expected current room random, got %s", user.CurrentRoom)
	}

	// Unknown connection is a no-op.
	r.SetRoom("ghost", "random")
}

func TestTerminate(t *testing.T) {
	r := NewRegistry("general")
	r.Authenticate("conn-1", "alice", "")

	user := r.Terminate("conn-1")
	if user == nil {
		t.Fatal("expected terminated user, got nil")
	}
	if user.Status != StatusOffline {
		t.Errorf("expected status %s, got %s", StatusOffline, user.Status)
	}
	if _, err := r.Lookup("conn-1"); err != ErrNotFound {
		t.Errorf("expected session gone after terminate, got %v", err)
	}

	// Idempotent.
	if again := r.Terminate("conn-1"); again != nil {
		t.Errorf("expected nil on second terminate, got %+v", again)
	}
}

func TestDefaultAvatarURLEscapesName(t *testing.T) {
	url := DefaultAvatarURL("mary jane & co")
	if !strings.Contains(url, "name=mary+jane+%26+co") {
		t.Errorf("expected escaped name in %q", url)
	}
}
