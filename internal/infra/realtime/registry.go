package realtime

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Event names on the wire. Payload shapes are part of the client contract.
const (
	EventOnlineUsers       = "getOnlineUsers"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
	EventNewMessage        = "newMessage"
	EventMessagesSeen      = "messagesSeen"
)

// TypingPayload accompanies userTyping and userStoppedTyping.
type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// SeenPayload accompanies messagesSeen.
type SeenPayload struct {
	ChatID     string   `json:"chatId"`
	SeenBy     string   `json:"seenBy"`
	MessageIDs []string `json:"messageIds"`
}

// Sink receives events for a single live connection. Implementations must not
// block; the registry calls them under its lock.
type Sink interface {
	Emit(event string, payload any)
}

type connection struct {
	userID string
	sink   Sink
	rooms  map[string]struct{}
}

// Registry is the process-local map of users to live connections and of
// connections to joined rooms. It is purely notificational state: the message
// store stays the source of truth, and every emit here is best effort.
//
// One connection per user: a reconnect replaces the previous mapping and the
// replaced connection becomes stale for targeting, it is not closed.
type Registry struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	userConn map[string]string
	conns    map[string]*connection
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		userConn: make(map[string]string),
		conns:    make(map[string]*connection),
	}
}

// Register adds a connection and, when userID is set, maps the user to it.
// Anonymous connections (empty userID) are tracked so they can join rooms,
// but they are never targetable and do not trigger a presence broadcast.
func (r *Registry) Register(userID, connID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = &connection{userID: userID, sink: sink, rooms: make(map[string]struct{})}
	if userID == "" {
		return
	}
	r.userConn[userID] = connID
	if r.logger != nil {
		r.logger.Debug("user connected", "user_id", userID, "conn_id", connID)
	}
	r.broadcastOnlineLocked()
}

// Unregister drops the connection. The user mapping is removed only if it
// still points at this connection, so a stale disconnect cannot evict a
// newer reconnect.
func (r *Registry) Unregister(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
	if userID == "" {
		return
	}
	if current, ok := r.userConn[userID]; !ok || current != connID {
		return
	}
	delete(r.userConn, userID)
	if r.logger != nil {
		r.logger.Debug("user disconnected", "user_id", userID, "conn_id", connID)
	}
	r.broadcastOnlineLocked()
}

// JoinRoom adds the connection to a room. Unknown connections and repeated
// joins are no-ops.
func (r *Registry) JoinRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok && roomID != "" {
		conn.rooms[roomID] = struct{}{}
	}
}

// LeaveRoom removes the connection from a room, idempotently.
func (r *Registry) LeaveRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		delete(conn.rooms, roomID)
	}
}

// IsUserOnline reports whether the user currently has a live connection.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.userConn[userID]
	return ok
}

// IsUserInRoom resolves the user's current connection and checks its room
// membership. A user with no live connection is never in any room.
func (r *Registry) IsUserInRoom(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.userConn[userID]
	if !ok {
		return false
	}
	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, ok = conn.rooms[roomID]
	return ok
}

// OnlineUsers returns the sorted ids of all mapped users.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineUsersLocked()
}

// EmitToUser targets the user's current connection. Users without a live
// connection are skipped silently; durability comes from the message store.
func (r *Registry) EmitToUser(userID, event string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conn := r.connForUserLocked(userID); conn != nil {
		conn.sink.Emit(event, payload)
	}
}

// EmitToRoom fans the event out to every connection currently in the room.
func (r *Registry) EmitToRoom(roomID, event string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns {
		if _, ok := conn.rooms[roomID]; ok {
			conn.sink.Emit(event, payload)
		}
	}
}

// EmitToRoomAndUsers delivers one event to every connection in the room plus
// the current connection of each listed user, at most once per connection.
// A receiver that is both in the chat room and directly targeted still gets
// a single copy.
func (r *Registry) EmitToRoomAndUsers(roomID, event string, payload any, userIDs ...string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	notified := make(map[*connection]struct{})
	for _, conn := range r.conns {
		if _, ok := conn.rooms[roomID]; ok {
			notified[conn] = struct{}{}
		}
	}
	for _, userID := range userIDs {
		if conn := r.connForUserLocked(userID); conn != nil {
			notified[conn] = struct{}{}
		}
	}
	for conn := range notified {
		conn.sink.Emit(event, payload)
	}
}

// EmitTyping notifies everyone in the chat room except the typing user.
func (r *Registry) EmitTyping(chatID, userID string) {
	r.emitToRoomExcept(chatID, userID, EventUserTyping, TypingPayload{ChatID: chatID, UserID: userID})
}

// EmitStopTyping notifies everyone in the chat room except the typing user.
func (r *Registry) EmitStopTyping(chatID, userID string) {
	r.emitToRoomExcept(chatID, userID, EventUserStoppedTyping, TypingPayload{ChatID: chatID, UserID: userID})
}

func (r *Registry) emitToRoomExcept(roomID, exceptUserID, event string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skip := r.userConn[exceptUserID]
	for connID, conn := range r.conns {
		if connID == skip {
			continue
		}
		if _, ok := conn.rooms[roomID]; ok {
			conn.sink.Emit(event, payload)
		}
	}
}

func (r *Registry) connForUserLocked(userID string) *connection {
	connID, ok := r.userConn[userID]
	if !ok {
		return nil
	}
	return r.conns[connID]
}

func (r *Registry) onlineUsersLocked() []string {
	users := lo.Keys(r.userConn)
	sort.Strings(users)
	return users
}

// broadcastOnlineLocked pushes the current online set to every connection,
// anonymous ones included.
func (r *Registry) broadcastOnlineLocked() {
	users := r.onlineUsersLocked()
	for _, conn := range r.conns {
		conn.sink.Emit(EventOnlineUsers, users)
	}
}
