// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server, plus the shared payload shapes
// (users, messages, rooms) they carry. All messages are serialized as JSON and
// follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuthenticate       = "authenticate"
	TypeJoinRoom           = "join_room"
	TypeSendMessage        = "send_message"
	TypeSendPrivateMessage = "send_private_message"
	TypeTypingStart        = "typing_start"
	TypeTypingStop         = "typing_stop"
	TypeAddReaction        = "add_reaction"
	TypeGetPrivateMessages = "get_private_messages"
	TypePing               = "ping"
)

// Server -> Client message types.
const (
	TypeAuthenticated         = "authenticated"
	TypeRoomsList             = "rooms_list"
	TypeRoomMessages          = "room_messages"
	TypeNewMessage            = "new_message"
	TypeNewPrivateMessage     = "new_private_message"
	TypePrivateMessages       = "private_messages"
	TypeUsersUpdated          = "users_updated"
	TypeUserJoined            = "user_joined"
	TypeUserLeft              = "user_left"
	TypeUserTyping            = "user_typing"
	TypeUserStopTyping        = "user_stop_typing"
	TypeUserTypingPrivate     = "user_typing_private"
	TypeUserStopTypingPrivate = "user_stop_typing_private"
	TypeReactionUpdated       = "reaction_updated"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// ---------------------------------------------------------------------------
// Shared payload shapes
// ---------------------------------------------------------------------------

// User is the wire representation of a connected user. The ID is the
// server-assigned connection/session id.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	Status      string `json:"status"` // online | offline
	CurrentRoom string `json:"currentRoom"`
}

// FileRef points at an already-uploaded file. It is produced by the upload
// endpoint and attached to messages opaquely; the relay never validates it.
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Message is a room message. Reactions map an emoji to the set of user ids
// that reacted with it; keys with no reactors are removed.
type Message struct {
	ID        string              `json:"id"`
	RoomID    string              `json:"roomId"`
	User      User                `json:"user"` // author snapshot at send time
	Text      string              `json:"text"`
	File      *FileRef            `json:"file,omitempty"`
	Ts        int64               `json:"ts"`
	Reactions map[string][]string `json:"reactions"`
}

// PrivateMessage is a direct message between two users. Unlike room messages
// it carries no reactions.
type PrivateMessage struct {
	ID        string   `json:"id"`
	Sender    User     `json:"sender"`
	Recipient User     `json:"recipient"`
	Text      string   `json:"text"`
	File      *FileRef `json:"file,omitempty"`
	Ts        int64    `json:"ts"`
}

// RoomInfo describes a room for the rooms_list payload, including the
// resolved member list.
type RoomInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Users       []User `json:"users"`
	UserCount   int    `json:"userCount"`
}

// ---------------------------------------------------------------------------
// Envelope: initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthenticateMsg is sent by the client to establish an identity under a
// chosen display name. Avatar is optional; the server derives one from the
// name when it is empty.
type AuthenticateMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// JoinRoomMsg is sent by the client to switch to another room.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// SendMessageMsg posts a message to a room. Text may be empty when a file is
// attached, but not both.
type SendMessageMsg struct {
	Type   string   `json:"type"`
	RoomID string   `json:"roomId"`
	Text   string   `json:"text"`
	File   *FileRef `json:"file,omitempty"`
}

// SendPrivateMessageMsg sends a direct message to another connected user.
type SendPrivateMessageMsg struct {
	Type        string   `json:"type"`
	RecipientID string   `json:"recipientId"`
	Text        string   `json:"text"`
	File        *FileRef `json:"file,omitempty"`
}

// TypingStartMsg signals the client started typing in a room or a private
// conversation. Exactly one of RoomID and RecipientID should be set.
type TypingStartMsg struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
}

// TypingStopMsg signals the client stopped typing. The client is responsible
// for sending this after its inactivity window; the server applies no timer
// of its own.
type TypingStopMsg struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
}

// AddReactionMsg toggles the sender's reaction on a room message.
type AddReactionMsg struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// GetPrivateMessagesMsg requests the private-message history with another user.
type GetPrivateMessagesMsg struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// RoomsListMsg carries the fixed set of rooms with their resolved members.
type RoomsListMsg struct {
	Type  string     `json:"type"`
	Rooms []RoomInfo `json:"rooms"`
}

// RoomMessagesMsg replays the most recent messages of a room to the client
// that just joined it.
type RoomMessagesMsg struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"roomId"`
	Messages []Message `json:"messages"`
}

// PrivateMessagesMsg replays a private conversation's recent history to the
// requesting client only.
type PrivateMessagesMsg struct {
	Type        string           `json:"type"`
	RecipientID string           `json:"recipientId"`
	Messages    []PrivateMessage `json:"messages"`
}

// UsersUpdatedMsg carries the complete, resolved member list of a room after
// any membership change. It is always a full snapshot, never a delta.
type UsersUpdatedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Users  []User `json:"users"`
}

// UserEventMsg announces a single user joining or leaving a room.
type UserEventMsg struct {
	Type   string `json:"type"`
	User   User   `json:"user"`
	RoomID string `json:"roomId"`
}

// TypingEventMsg relays a typing indicator for a room.
type TypingEventMsg struct {
	Type   string `json:"type"`
	User   User   `json:"user"`
	RoomID string `json:"roomId"`
}

// PrivateTypingEventMsg relays a typing indicator for a private conversation.
type PrivateTypingEventMsg struct {
	Type        string `json:"type"`
	User        User   `json:"user"`
	RecipientID string `json:"recipientId"`
}

// ReactionUpdatedMsg carries the full reactions map of a message after a
// toggle. Sending the complete snapshot keeps clients consistent even when
// intermediate events were dropped.
type ReactionUpdatedMsg struct {
	Type      string              `json:"type"`
	MessageID string              `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

// ErrorMsg is sent by the server to communicate an error condition to the
// originating connection only.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuthenticate:
		var m AuthenticateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendPrivateMessage:
		var m SendPrivateMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart:
		var m TypingStartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStop:
		var m TypingStopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAddReaction:
		var m AddReactionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetPrivateMessages:
		var m GetPrivateMessagesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs or a bare payload shape (User,
// Message, PrivateMessage); this function marshals it to JSON, injects the
// type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
