// Package session manages connected-user identities. It handles identity
// creation on authentication, lookup by connection id, and removal on
// disconnect. The registry is the sole owner of User records; other
// components hold ids and resolve them here.
package session

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/parley/chat-app/internal/protocol"
)

// Status constants for a user's presence state.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var (
	// ErrInvalidIdentity is returned when the display name is empty after
	// trimming whitespace.
	ErrInvalidIdentity = errors.New("session: invalid identity")

	// ErrNotFound is returned when no user is registered for a connection id.
	ErrNotFound = errors.New("session: not found")
)

// Registry is the in-memory session registry. The connection id is the sole
// primary key; it is server-assigned by the transport layer and assumed
// unique.
type Registry struct {
	mu          sync.RWMutex
	users       map[string]*protocol.User // connection id -> user
	defaultRoom string
}

// NewRegistry creates an empty registry. Newly authenticated users start in
// defaultRoom.
func NewRegistry(defaultRoom string) *Registry {
	return &Registry{
		users:       make(map[string]*protocol.User),
		defaultRoom: defaultRoom,
	}
}

// DefaultRoom returns the room id assigned to newly authenticated users.
func (r *Registry) DefaultRoom() string {
	return r.defaultRoom
}

// Authenticate creates a User bound to the given connection id. The display
// name is trimmed; an empty result fails with ErrInvalidIdentity. When no
// avatar is supplied, a deterministic one is derived from the name.
// Re-authenticating an existing connection replaces its identity.
func (r *Registry) Authenticate(connID, username, avatar string) (protocol.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return protocol.User{}, ErrInvalidIdentity
	}
	if avatar == "" {
		avatar = DefaultAvatarURL(username)
	}

	user := &protocol.User{
		ID:          connID,
		Username:    username,
		Avatar:      avatar,
		Status:      StatusOnline,
		CurrentRoom: r.defaultRoom,
	}

	r.mu.Lock()
	r.users[connID] = user
	r.mu.Unlock()

	return *user, nil
}

// Lookup returns a snapshot of the user registered for connID, or ErrNotFound.
func (r *Registry) Lookup(connID string) (protocol.User, error) {
	r.mu.RLock()
	user, ok := r.users[connID]
	if !ok {
		r.mu.RUnlock()
		return protocol.User{}, ErrNotFound
	}
	snapshot := *user
	r.mu.RUnlock()
	return snapshot, nil
}

// SetRoom records connID's current room. It is a no-op for unknown ids.
func (r *Registry) SetRoom(connID, roomID string) {
	r.mu.Lock()
	if user, ok := r.users[connID]; ok {
		user.CurrentRoom = roomID
	}
	r.mu.Unlock()
}

// Terminate removes the user for connID and returns a snapshot of the removed
// identity, or nil if none was registered. It is idempotent. Removing the
// user from its room is the caller's responsibility since the registry does
// not own room membership.
func (r *Registry) Terminate(connID string) *protocol.User {
	r.mu.Lock()
	user, ok := r.users[connID]
	if ok {
		delete(r.users, connID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	snapshot := *user
	snapshot.Status = StatusOffline
	return &snapshot
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.users)
	r.mu.RUnlock()
	return n
}

// DefaultAvatarURL derives a deterministic avatar URL from a display name.
func DefaultAvatarURL(username string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(username) +
		"&background=3B82F6&color=fff"
}
