// Package presence computes and pushes membership and typing state to the
// connections that should see it. Fan-out goes through the Sender interface
// so it can be exercised in tests without a live transport.
package presence

import (
	"log"
	"sync"

	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/room"
)

// Sender delivers an encoded server message to a single connection. It is
// implemented by the WebSocket server; tests substitute a recorder.
type Sender interface {
	Send(connID string, data []byte) error
}

// SenderFunc adapts a plain function to the Sender interface.
type SenderFunc func(connID string, data []byte) error

// Send calls f.
func (f SenderFunc) Send(connID string, data []byte) error {
	return f(connID, data)
}

// Scope identifies where a typing indicator applies: a room or a private
// conversation. Exactly one field is set.
type Scope struct {
	Room string // room id, or ""
	Conv string // conversation key, or ""
}

// RoomScope returns the typing scope for a room.
func RoomScope(roomID string) Scope {
	return Scope{Room: roomID}
}

// ConvScope returns the typing scope for a private conversation key.
func ConvScope(key string) Scope {
	return Scope{Conv: key}
}

// Broadcaster tracks who is typing where and pushes presence snapshots to the
// affected connections. Typing entries have no server-side expiry: clients
// send an explicit stop after their inactivity window, and disconnects clear
// every scope the user participated in.
type Broadcaster struct {
	mu     sync.Mutex
	typing map[Scope]map[string]struct{} // scope -> set of typing user ids

	sender Sender
	rooms  *room.Directory
}

// NewBroadcaster creates a Broadcaster that fans out through sender and
// resolves room membership through the directory.
func NewBroadcaster(sender Sender, rooms *room.Directory) *Broadcaster {
	return &Broadcaster{
		typing: make(map[Scope]map[string]struct{}),
		sender: sender,
		rooms:  rooms,
	}
}

// Send delivers data to a single connection. Delivery is best-effort: a
// failed connection is cleaned up by the transport's own read path.
func (b *Broadcaster) Send(connID string, data []byte) {
	if err := b.sender.Send(connID, data); err != nil {
		log.Printf("presence: send to %s failed: %v", connID, err)
	}
}

// ToRoom delivers data to every current member of roomID, skipping except
// when non-empty. Individual send errors are ignored.
func (b *Broadcaster) ToRoom(roomID string, data []byte, except string) {
	for _, id := range b.rooms.MemberIDs(roomID) {
		if id == except {
			continue
		}
		_ = b.sender.Send(id, data)
	}
}

// UsersUpdated pushes the complete resolved member list of roomID to every
// member, including the user whose movement triggered the change.
func (b *Broadcaster) UsersUpdated(roomID string) {
	users := b.rooms.MemberSnapshot(roomID)
	data, err := protocol.NewServerMessage(protocol.TypeUsersUpdated, protocol.UsersUpdatedMsg{
		RoomID: roomID,
		Users:  users,
	})
	if err != nil {
		log.Printf("presence: failed to build users_updated for room %s: %v", roomID, err)
		return
	}
	b.ToRoom(roomID, data, "")
}

// TypingStart records userID as typing in scope. It returns true only when
// the state changed; repeated starts merge into the existing entry so the
// caller can skip redundant emissions.
func (b *Broadcaster) TypingStart(scope Scope, userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.typing[scope]
	if !ok {
		set = make(map[string]struct{})
		b.typing[scope] = set
	}
	if _, already := set[userID]; already {
		return false
	}
	set[userID] = struct{}{}
	return true
}

// TypingStop removes userID from scope's typing set. It returns true only
// when the user was actually typing there.
func (b *Broadcaster) TypingStop(scope Scope, userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.typing[scope]
	if !ok {
		return false
	}
	if _, present := set[userID]; !present {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(b.typing, scope)
	}
	return true
}

// TypingIn returns the ids currently typing in scope.
func (b *Broadcaster) TypingIn(scope Scope) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.typing[scope]))
	for id := range b.typing[scope] {
		ids = append(ids, id)
	}
	return ids
}

// ClearConnection removes userID from every typing set it belongs to and
// returns the affected scopes. It implements the implicit typing-stop at
// disconnect, where the client sends no explicit stop event.
func (b *Broadcaster) ClearConnection(userID string) []Scope {
	b.mu.Lock()
	defer b.mu.Unlock()

	var affected []Scope
	for scope, set := range b.typing {
		if _, present := set[userID]; !present {
			continue
		}
		delete(set, userID)
		if len(set) == 0 {
			delete(b.typing, scope)
		}
		affected = append(affected, scope)
	}
	return affected
}
