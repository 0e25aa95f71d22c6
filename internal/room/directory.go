// Package room implements the room directory: a fixed set of named rooms,
// per-room membership, and append-only message history with emoji reactions.
// Rooms are created at process start and never destroyed; a room with no
// members keeps its history.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/session"
)

// ReplayLimit is the number of recent messages replayed to a joining client.
// The full history is retained beyond this window.
const ReplayLimit = 50

var (
	// ErrUnknownRoom is returned for room ids outside the fixed set.
	ErrUnknownRoom = errors.New("room: unknown room")

	// ErrNotAMember is returned when a user posts to a room it has not joined.
	ErrNotAMember = errors.New("room: not a member")

	// ErrEmptyMessage is returned when a message has neither text nor a file.
	ErrEmptyMessage = errors.New("room: empty message")

	// ErrMessageNotFound is returned when a reaction targets a message id
	// absent from the room's history.
	ErrMessageNotFound = errors.New("room: message not found")
)

// Def describes a room to create at startup.
type Def struct {
	ID          string
	Name        string
	Description string
}

// DefaultRooms returns the fixed room set created at process start.
func DefaultRooms() []Def {
	return []Def{
		{ID: "general", Name: "General", Description: "General discussion for everyone"},
		{ID: "random", Name: "Random", Description: "Random conversations and fun topics"},
	}
}

// room holds one room's mutable state. The history mutex serializes message
// appends and reaction toggles; membership is guarded by the directory mutex
// so that a join never leaves a user visible in two rooms.
type room struct {
	id          string
	name        string
	description string

	members map[string]struct{} // guarded by Directory.mu

	histMu   sync.Mutex
	messages []*protocol.Message
}

// Directory owns the fixed set of rooms and their membership. User ids are
// resolved through the session registry; the directory never stores user
// records itself.
type Directory struct {
	mu       sync.RWMutex // guards membership sets across all rooms
	rooms    map[string]*room
	order    []string // room ids in creation order, for stable listings
	registry *session.Registry
}

// NewDirectory creates a directory with the given rooms.
func NewDirectory(registry *session.Registry, defs []Def) *Directory {
	d := &Directory{
		rooms:    make(map[string]*room, len(defs)),
		registry: registry,
	}
	for _, def := range defs {
		d.rooms[def.ID] = &room{
			id:          def.ID,
			name:        def.Name,
			description: def.Description,
			members:     make(map[string]struct{}),
		}
		d.order = append(d.order, def.ID)
	}
	return d
}

// Exists reports whether roomID is part of the fixed set.
func (d *Directory) Exists(roomID string) bool {
	_, ok := d.rooms[roomID]
	return ok
}

// Join moves userID into roomID, removing it from any prior room first. The
// membership change is atomic: no observer can see the user in two rooms.
// It returns the most recent ReplayLimit messages of the target room.
func (d *Directory) Join(userID, roomID string) ([]protocol.Message, error) {
	target, ok := d.rooms[roomID]
	if !ok {
		return nil, ErrUnknownRoom
	}

	d.mu.Lock()
	for _, r := range d.rooms {
		if r != target {
			delete(r.members, userID)
		}
	}
	target.members[userID] = struct{}{}
	d.registry.SetRoom(userID, roomID)
	d.mu.Unlock()

	return d.replay(target), nil
}

// RemoveMember removes userID from roomID without joining another room. It is
// used at disconnect. Returns false if the user was not a member.
func (d *Directory) RemoveMember(userID, roomID string) bool {
	r, ok := d.rooms[roomID]
	if !ok {
		return false
	}

	d.mu.Lock()
	_, member := r.members[userID]
	delete(r.members, userID)
	d.mu.Unlock()
	return member
}

// IsMember reports whether userID is currently joined to roomID.
func (d *Directory) IsMember(userID, roomID string) bool {
	r, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	d.mu.RLock()
	_, member := r.members[userID]
	d.mu.RUnlock()
	return member
}

// Post appends a message to roomID's history on behalf of userID. The author
// is captured as a snapshot at send time. Fails with ErrNotAMember when the
// user is not joined to the room, and ErrEmptyMessage when both text and file
// are absent.
func (d *Directory) Post(userID, roomID, text string, file *protocol.FileRef) (protocol.Message, error) {
	r, ok := d.rooms[roomID]
	if !ok {
		return protocol.Message{}, ErrUnknownRoom
	}
	if text == "" && file == nil {
		return protocol.Message{}, ErrEmptyMessage
	}
	if !d.IsMember(userID, roomID) {
		return protocol.Message{}, ErrNotAMember
	}

	author, err := d.registry.Lookup(userID)
	if err != nil {
		return protocol.Message{}, ErrNotAMember
	}

	msg := &protocol.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		User:      author,
		Text:      text,
		File:      file,
		Ts:        time.Now().UnixMilli(),
		Reactions: make(map[string][]string),
	}

	r.histMu.Lock()
	r.messages = append(r.messages, msg)
	r.histMu.Unlock()

	return snapshotMessage(msg), nil
}

// React toggles userID's reaction with emoji on the given message: if the
// user already reacted with that exact emoji they are removed, otherwise
// added. An emoji whose reactor set empties is deleted from the map. The
// returned value is a full copy of the message's reactions, suitable for
// broadcasting as an idempotent snapshot.
func (d *Directory) React(userID, roomID, messageID, emoji string) (map[string][]string, error) {
	r, ok := d.rooms[roomID]
	if !ok {
		return nil, ErrUnknownRoom
	}

	r.histMu.Lock()
	defer r.histMu.Unlock()

	var msg *protocol.Message
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].ID == messageID {
			msg = r.messages[i]
			break
		}
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}

	reactors := msg.Reactions[emoji]
	toggled := false
	for i, id := range reactors {
		if id == userID {
			reactors = append(reactors[:i], reactors[i+1:]...)
			toggled = true
			break
		}
	}
	if !toggled {
		reactors = append(reactors, userID)
	}

	if len(reactors) == 0 {
		delete(msg.Reactions, emoji)
	} else {
		msg.Reactions[emoji] = reactors
	}

	return copyReactions(msg.Reactions), nil
}

// MemberSnapshot resolves roomID's member ids to user snapshots through the
// registry. Ids whose sessions have since terminated are skipped; order is
// not significant.
func (d *Directory) MemberSnapshot(roomID string) []protocol.User {
	r, ok := d.rooms[roomID]
	if !ok {
		return nil
	}

	d.mu.RLock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	users := make([]protocol.User, 0, len(ids))
	for _, id := range ids {
		user, err := d.registry.Lookup(id)
		if err != nil {
			continue // session terminated between snapshot and resolve
		}
		users = append(users, user)
	}
	return users
}

// MemberIDs returns the current member ids of roomID.
func (d *Directory) MemberIDs(roomID string) []string {
	r, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	d.mu.RLock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	return ids
}

// List returns room metadata with resolved member lists, in creation order.
func (d *Directory) List() []protocol.RoomInfo {
	infos := make([]protocol.RoomInfo, 0, len(d.order))
	for _, id := range d.order {
		r := d.rooms[id]
		users := d.MemberSnapshot(id)
		infos = append(infos, protocol.RoomInfo{
			ID:          r.id,
			Name:        r.name,
			Description: r.description,
			Users:       users,
			UserCount:   len(users),
		})
	}
	return infos
}

// replay copies the last ReplayLimit messages of a room in chronological
// order. Reaction maps are deep-copied so later toggles do not mutate the
// replay payload.
func (d *Directory) replay(r *room) []protocol.Message {
	r.histMu.Lock()
	defer r.histMu.Unlock()

	start := 0
	if len(r.messages) > ReplayLimit {
		start = len(r.messages) - ReplayLimit
	}
	out := make([]protocol.Message, 0, len(r.messages)-start)
	for _, msg := range r.messages[start:] {
		out = append(out, snapshotMessage(msg))
	}
	return out
}

func snapshotMessage(msg *protocol.Message) protocol.Message {
	out := *msg
	out.Reactions = copyReactions(msg.Reactions)
	return out
}

func copyReactions(reactions map[string][]string) map[string][]string {
	out := make(map[string][]string, len(reactions))
	for emoji, ids := range reactions {
		out[emoji] = append([]string(nil), ids...)
	}
	return out
}
