// Package conversation stores private-message threads between pairs of
// users. Threads are keyed by a canonical, order-independent conversation
// key so the same thread is found regardless of who sent first.
package conversation

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/session"
)

// HistoryLimit is the number of recent private messages returned by History.
// The full thread is retained beyond this window.
const HistoryLimit = 50

var (
	// ErrUnknownRecipient is returned when the recipient id does not resolve
	// to a live session.
	ErrUnknownRecipient = errors.New("conversation: unknown recipient")

	// ErrEmptyMessage is returned when a message has neither text nor a file.
	ErrEmptyMessage = errors.New("conversation: empty message")
)

// Key returns the canonical conversation key for a pair of user ids. It is
// symmetric: Key(a, b) == Key(b, a). The separator is a colon because user
// ids are UUIDs, which never contain one.
func Key(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Counterpart returns the other participant of a conversation key, or ""
// when userID is not a participant.
func Counterpart(key, userID string) string {
	a, b, ok := strings.Cut(key, ":")
	if !ok {
		return ""
	}
	switch userID {
	case a:
		return b
	case b:
		return a
	}
	return ""
}

// Store holds private-message threads in memory. Participants are resolved
// through the session registry at send time.
type Store struct {
	mu       sync.RWMutex
	threads  map[string][]*protocol.PrivateMessage // conversation key -> messages
	registry *session.Registry
}

// NewStore creates an empty conversation store.
func NewStore(registry *session.Registry) *Store {
	return &Store{
		threads:  make(map[string][]*protocol.PrivateMessage),
		registry: registry,
	}
}

// Send appends a private message from senderID to recipientID. Both
// participants must resolve to live sessions; sender and recipient snapshots
// are captured at send time.
func (s *Store) Send(senderID, recipientID, text string, file *protocol.FileRef) (protocol.PrivateMessage, error) {
	if text == "" && file == nil {
		return protocol.PrivateMessage{}, ErrEmptyMessage
	}

	sender, err := s.registry.Lookup(senderID)
	if err != nil {
		return protocol.PrivateMessage{}, ErrUnknownRecipient
	}
	recipient, err := s.registry.Lookup(recipientID)
	if err != nil {
		return protocol.PrivateMessage{}, ErrUnknownRecipient
	}

	msg := &protocol.PrivateMessage{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Text:      text,
		File:      file,
		Ts:        time.Now().UnixMilli(),
	}

	key := Key(senderID, recipientID)
	s.mu.Lock()
	s.threads[key] = append(s.threads[key], msg)
	s.mu.Unlock()

	return *msg, nil
}

// History returns the most recent HistoryLimit messages between userID and
// otherID in chronological order. The result is identical regardless of
// which participant asks.
func (s *Store) History(userID, otherID string) []protocol.PrivateMessage {
	key := Key(userID, otherID)

	s.mu.RLock()
	thread := s.threads[key]
	start := 0
	if len(thread) > HistoryLimit {
		start = len(thread) - HistoryLimit
	}
	out := make([]protocol.PrivateMessage, 0, len(thread)-start)
	for _, msg := range thread[start:] {
		out = append(out, *msg)
	}
	s.mu.RUnlock()

	return out
}
