// Package router is the top-level coordinator for the relay. It receives
// parsed client events, validates them against the session registry, applies
// one state transition to the room directory or conversation store, and fans
// the result out to the affected connections. Failures never mutate state and
// are reported to the originating connection only.
package router

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parley/chat-app/internal/conversation"
	"github.com/parley/chat-app/internal/messaging"
	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/presence"
	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/ratelimit"
	"github.com/parley/chat-app/internal/room"
	"github.com/parley/chat-app/internal/session"
	"github.com/parley/chat-app/internal/ws"
)

// EventPublisher is the outbound event tap. The NATS client implements it;
// a nil publisher disables the feed.
type EventPublisher interface {
	PublishRoomMessage(roomID string, data []byte) error
}

// Limiter throttles message sends. A nil limiter disables throttling.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Router owns the event-to-transition mapping for every connection. All chat
// state lives in the stores it coordinates; the router itself holds only the
// per-scope mutexes that serialize mutation and fan-out.
type Router struct {
	registry *session.Registry
	rooms    *room.Directory
	convs    *conversation.Store
	presence *presence.Broadcaster

	limiter Limiter        // optional
	events  EventPublisher // optional

	// Per-room and per-conversation locks held across mutation and push so
	// broadcasts always reflect post-mutation state in order. Cross-scope
	// events proceed concurrently.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Router over the given stores. limiter and events may be nil.
func New(registry *session.Registry, rooms *room.Directory, convs *conversation.Store,
	pb *presence.Broadcaster, limiter Limiter, events EventPublisher) *Router {
	return &Router{
		registry: registry,
		rooms:    rooms,
		convs:    convs,
		presence: pb,
		limiter:  limiter,
		events:   events,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Bind registers the router's handlers on the dispatcher.
func (rt *Router) Bind(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeAuthenticate, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.AuthenticateMsg); ok {
			rt.HandleAuthenticate(conn.ID, m)
		}
	})
	d.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.JoinRoomMsg); ok {
			rt.HandleJoinRoom(conn.ID, m)
		}
	})
	d.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SendMessageMsg); ok {
			rt.HandleSendMessage(conn.ID, m)
		}
	})
	d.Register(protocol.TypeSendPrivateMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SendPrivateMessageMsg); ok {
			rt.HandleSendPrivateMessage(conn.ID, m)
		}
	})
	d.Register(protocol.TypeTypingStart, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingStartMsg); ok {
			rt.HandleTypingStart(conn.ID, m)
		}
	})
	d.Register(protocol.TypeTypingStop, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingStopMsg); ok {
			rt.HandleTypingStop(conn.ID, m)
		}
	})
	d.Register(protocol.TypeAddReaction, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.AddReactionMsg); ok {
			rt.HandleAddReaction(conn.ID, m)
		}
	})
	d.Register(protocol.TypeGetPrivateMessages, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.GetPrivateMessagesMsg); ok {
			rt.HandleGetPrivateMessages(conn.ID, m)
		}
	})
}

// ---------------------------------------------------------------------------
// Event handlers, one per inbound event type
// ---------------------------------------------------------------------------

// HandleAuthenticate creates an identity for the connection and joins it to
// the default room. The actor receives its identity, the room list, and the
// default room's replay; the room receives membership updates.
func (rt *Router) HandleAuthenticate(connID string, msg protocol.AuthenticateMsg) {
	identity := strings.ToLower(strings.TrimSpace(msg.Username))
	if identity != "" && !rt.allow(identity, ratelimit.RuleConnect) {
		rt.sendError(connID, "rate_limited", "too many connection attempts")
		return
	}
	user, err := rt.registry.Authenticate(connID, msg.Username, msg.Avatar)
	if err != nil {
		rt.sendError(connID, "invalid_identity", "display name must not be empty")
		return
	}

	roomID := rt.registry.DefaultRoom()
	unlock := rt.lockScope("room:" + roomID)
	defer unlock()

	replay, err := rt.rooms.Join(connID, roomID)
	if err != nil {
		// The default room always exists; this would be a wiring bug.
		log.Printf("router: default room join failed conn=%s: %v", connID, err)
		return
	}

	rt.send(connID, protocol.TypeAuthenticated, user)
	rt.send(connID, protocol.TypeRoomsList, protocol.RoomsListMsg{Rooms: rt.rooms.List()})
	rt.send(connID, protocol.TypeRoomMessages, protocol.RoomMessagesMsg{
		RoomID:   roomID,
		Messages: replay,
	})

	rt.toRoom(roomID, protocol.TypeUserJoined, protocol.UserEventMsg{User: user, RoomID: roomID}, connID)
	rt.presence.UsersUpdated(roomID)

	metrics.SessionsTotal.Set(float64(rt.registry.Count()))
	rt.updateMemberGauge(roomID)
	log.Printf("router: authenticated conn=%s username=%q", connID, user.Username)
}

// HandleJoinRoom moves the user to another room. The actor receives the
// target room's replay; both the old and new rooms receive membership updates
// as separate emissions.
func (rt *Router) HandleJoinRoom(connID string, msg protocol.JoinRoomMsg) {
	user, err := rt.registry.Lookup(connID)
	if err != nil {
		rt.sendError(connID, "not_authenticated", "authenticate first")
		return
	}
	if !rt.rooms.Exists(msg.RoomID) {
		rt.sendError(connID, "unknown_room", "no such room")
		return
	}

	oldRoom := user.CurrentRoom
	unlock := rt.lockScopes("room:"+oldRoom, "room:"+msg.RoomID)
	defer unlock()

	replay, err := rt.rooms.Join(connID, msg.RoomID)
	if err != nil {
		rt.sendError(connID, "unknown_room", "no such room")
		return
	}

	rt.send(connID, protocol.TypeRoomMessages, protocol.RoomMessagesMsg{
		RoomID:   msg.RoomID,
		Messages: replay,
	})

	moved := user
	moved.CurrentRoom = msg.RoomID

	if oldRoom != msg.RoomID {
		rt.toRoom(oldRoom, protocol.TypeUserLeft, protocol.UserEventMsg{User: moved, RoomID: oldRoom}, connID)
		rt.presence.UsersUpdated(oldRoom)
		rt.updateMemberGauge(oldRoom)
	}

	rt.toRoom(msg.RoomID, protocol.TypeUserJoined, protocol.UserEventMsg{User: moved, RoomID: msg.RoomID}, connID)
	rt.presence.UsersUpdated(msg.RoomID)
	rt.updateMemberGauge(msg.RoomID)
}

// HandleSendMessage posts a message to a room and broadcasts it to every
// member, including the author.
func (rt *Router) HandleSendMessage(connID string, msg protocol.SendMessageMsg) {
	if _, err := rt.registry.Lookup(connID); err != nil {
		rt.sendError(connID, "not_authenticated", "authenticate first")
		return
	}
	if err := room.ValidateText(msg.Text); err != nil {
		rt.sendError(connID, "invalid_message", err.Error())
		return
	}
	if !rt.allow(connID, ratelimit.RuleMessage) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		rt.sendError(connID, "rate_limited", "too many messages, slow down")
		return
	}

	unlock := rt.lockScope("room:" + msg.RoomID)
	defer unlock()

	stored, err := rt.rooms.Post(connID, msg.RoomID, msg.Text, msg.File)
	if err != nil {
		rt.sendStoreError(connID, err)
		return
	}

	start := time.Now()
	rt.toRoom(msg.RoomID, protocol.TypeNewMessage, stored, "")
	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues("room").Inc()

	rt.publishRoomEvent(stored)
}

// HandleSendPrivateMessage appends a private message and pushes it to both
// participants. No other connection ever sees it.
func (rt *Router) HandleSendPrivateMessage(connID string, msg protocol.SendPrivateMessageMsg) {
	if _, err := rt.registry.Lookup(connID); err != nil {
		rt.sendError(connID, "not_authenticated", "authenticate first")
		return
	}
	if err := room.ValidateText(msg.Text); err != nil {
		rt.sendError(connID, "invalid_message", err.Error())
		return
	}
	if !rt.allow(connID, ratelimit.RulePrivate) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		rt.sendError(connID, "rate_limited", "too many messages, slow down")
		return
	}

	unlock := rt.lockScope("conv:" + conversation.Key(connID, msg.RecipientID))
	defer unlock()

	stored, err := rt.convs.Send(connID, msg.RecipientID, msg.Text, msg.File)
	if err != nil {
		rt.sendStoreError(connID, err)
		return
	}

	rt.send(connID, protocol.TypeNewPrivateMessage, stored)
	if msg.RecipientID != connID {
		rt.send(msg.RecipientID, protocol.TypeNewPrivateMessage, stored)
	}
	metrics.MessagesTotal.WithLabelValues("private").Inc()
}

// HandleTypingStart records the actor as typing and notifies the other
// subscribers of the target scope. Repeated starts are idempotent and emit
// nothing.
func (rt *Router) HandleTypingStart(connID string, msg protocol.TypingStartMsg) {
	user, err := rt.registry.Lookup(connID)
	if err != nil {
		return
	}

	switch {
	case msg.RoomID != "":
		if !rt.presence.TypingStart(presence.RoomScope(msg.RoomID), connID) {
			return
		}
		rt.toRoom(msg.RoomID, protocol.TypeUserTyping, protocol.TypingEventMsg{User: user, RoomID: msg.RoomID}, connID)

	case msg.RecipientID != "":
		key := conversation.Key(connID, msg.RecipientID)
		if !rt.presence.TypingStart(presence.ConvScope(key), connID) {
			return
		}
		data, err := protocol.NewServerMessage(protocol.TypeUserTypingPrivate, protocol.PrivateTypingEventMsg{
			User:        user,
			RecipientID: msg.RecipientID,
		})
		if err != nil {
			return
		}
		rt.presence.Send(msg.RecipientID, data)
	}
}

// HandleTypingStop clears the actor's typing flag and notifies the scope.
func (rt *Router) HandleTypingStop(connID string, msg protocol.TypingStopMsg) {
	user, err := rt.registry.Lookup(connID)
	if err != nil {
		return
	}

	switch {
	case msg.RoomID != "":
		if !rt.presence.TypingStop(presence.RoomScope(msg.RoomID), connID) {
			return
		}
		rt.toRoom(msg.RoomID, protocol.TypeUserStopTyping, protocol.TypingEventMsg{User: user, RoomID: msg.RoomID}, connID)

	case msg.RecipientID != "":
		key := conversation.Key(connID, msg.RecipientID)
		if !rt.presence.TypingStop(presence.ConvScope(key), connID) {
			return
		}
		data, err := protocol.NewServerMessage(protocol.TypeUserStopTypingPrivate, protocol.PrivateTypingEventMsg{
			User:        user,
			RecipientID: msg.RecipientID,
		})
		if err != nil {
			return
		}
		rt.presence.Send(msg.RecipientID, data)
	}
}

// HandleAddReaction toggles the actor's reaction and broadcasts the full
// reactions snapshot for the message.
func (rt *Router) HandleAddReaction(connID string, msg protocol.AddReactionMsg) {
	if _, err := rt.registry.Lookup(connID); err != nil {
		rt.sendError(connID, "not_authenticated", "authenticate first")
		return
	}
	if !rt.rooms.IsMember(connID, msg.RoomID) {
		rt.sendError(connID, "not_a_member", "join the room first")
		return
	}

	unlock := rt.lockScope("room:" + msg.RoomID)
	defer unlock()

	reactions, err := rt.rooms.React(connID, msg.RoomID, msg.MessageID, msg.Emoji)
	if err != nil {
		rt.sendStoreError(connID, err)
		return
	}

	rt.toRoom(msg.RoomID, protocol.TypeReactionUpdated, protocol.ReactionUpdatedMsg{
		MessageID: msg.MessageID,
		Reactions: reactions,
	}, "")
	metrics.ReactionsTotal.Inc()
}

// HandleGetPrivateMessages replays a private conversation to the actor only.
func (rt *Router) HandleGetPrivateMessages(connID string, msg protocol.GetPrivateMessagesMsg) {
	if _, err := rt.registry.Lookup(connID); err != nil {
		rt.sendError(connID, "not_authenticated", "authenticate first")
		return
	}

	history := rt.convs.History(connID, msg.RecipientID)
	rt.send(connID, protocol.TypePrivateMessages, protocol.PrivateMessagesMsg{
		RecipientID: msg.RecipientID,
		Messages:    history,
	})
}

// HandleDisconnect is the transport-initiated terminal transition. It clears
// every typing flag the user held (implicit stop, no client event required),
// terminates the session, and pushes a membership update to the old room.
func (rt *Router) HandleDisconnect(connID string) {
	scopes := rt.presence.ClearConnection(connID)

	user := rt.registry.Terminate(connID)
	if user == nil {
		return
	}

	// Implicit typing-stop for every scope the user participated in.
	for _, scope := range scopes {
		switch {
		case scope.Room != "":
			rt.toRoom(scope.Room, protocol.TypeUserStopTyping, protocol.TypingEventMsg{
				User:   *user,
				RoomID: scope.Room,
			}, connID)
		case scope.Conv != "":
			other := conversation.Counterpart(scope.Conv, connID)
			if other == "" {
				continue
			}
			data, err := protocol.NewServerMessage(protocol.TypeUserStopTypingPrivate, protocol.PrivateTypingEventMsg{
				User:        *user,
				RecipientID: other,
			})
			if err != nil {
				continue
			}
			rt.presence.Send(other, data)
		}
	}

	roomID := user.CurrentRoom
	unlock := rt.lockScope("room:" + roomID)
	defer unlock()

	if rt.rooms.RemoveMember(connID, roomID) {
		rt.toRoom(roomID, protocol.TypeUserLeft, protocol.UserEventMsg{User: *user, RoomID: roomID}, connID)
		rt.presence.UsersUpdated(roomID)
		rt.updateMemberGauge(roomID)
	}

	metrics.SessionsTotal.Set(float64(rt.registry.Count()))
	log.Printf("router: disconnected conn=%s username=%q", connID, user.Username)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// lockScope acquires the mutex for one room or conversation scope and
// returns its unlock function.
func (rt *Router) lockScope(key string) func() {
	rt.locksMu.Lock()
	l, ok := rt.locks[key]
	if !ok {
		l = &sync.Mutex{}
		rt.locks[key] = l
	}
	rt.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// lockScopes acquires two scope mutexes in sorted key order so concurrent
// movers between the same pair of rooms cannot deadlock.
func (rt *Router) lockScopes(a, b string) func() {
	if a == b {
		return rt.lockScope(a)
	}
	keys := []string{a, b}
	sort.Strings(keys)
	unlockFirst := rt.lockScope(keys[0])
	unlockSecond := rt.lockScope(keys[1])
	return func() {
		unlockSecond()
		unlockFirst()
	}
}

// allow consults the rate limiter; a nil limiter always allows.
func (rt *Router) allow(identifier string, rule ratelimit.Rule) bool {
	if rt.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, _ := rt.limiter.Allow(ctx, identifier, rule)
	return ok
}

// send encodes and delivers one server message to a single connection.
func (rt *Router) send(connID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("router: failed to build %s for conn=%s: %v", msgType, connID, err)
		return
	}
	rt.presence.Send(connID, data)
}

// toRoom encodes one server message and delivers it to every member of a
// room, skipping except when non-empty.
func (rt *Router) toRoom(roomID, msgType string, payload interface{}, except string) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("router: failed to build %s for room=%s: %v", msgType, roomID, err)
		return
	}
	rt.presence.ToRoom(roomID, data, except)
}

// sendError reports a failure to the originating connection only. Failures
// are never broadcast.
func (rt *Router) sendError(connID, code, message string) {
	rt.send(connID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// sendStoreError maps store errors to protocol error codes.
func (rt *Router) sendStoreError(connID string, err error) {
	code := "invalid_request"
	switch err {
	case room.ErrUnknownRoom:
		code = "unknown_room"
	case room.ErrNotAMember:
		code = "not_a_member"
	case room.ErrEmptyMessage, conversation.ErrEmptyMessage:
		code = "empty_message"
	case room.ErrMessageNotFound:
		code = "message_not_found"
	case conversation.ErrUnknownRecipient:
		code = "unknown_recipient"
	}
	rt.sendError(connID, code, err.Error())
}

// publishRoomEvent feeds a posted message to the outbound event tap.
func (rt *Router) publishRoomEvent(msg protocol.Message) {
	if rt.events == nil {
		return
	}
	event := messaging.RoomMessageEvent{
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		UserID:    msg.User.ID,
		Username:  msg.User.Username,
		Text:      msg.Text,
		Ts:        msg.Ts,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := rt.events.PublishRoomMessage(msg.RoomID, data); err != nil {
		log.Printf("router: event publish failed room=%s: %v", msg.RoomID, err)
	}
}

// updateMemberGauge refreshes the per-room member gauge.
func (rt *Router) updateMemberGauge(roomID string) {
	metrics.RoomMembers.WithLabelValues(roomID).Set(float64(len(rt.rooms.MemberIDs(roomID))))
}
