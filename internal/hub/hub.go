// Package hub is the per-process WebSocket connection registry (spec.md
// §4.3). It owns no durable state: membership and message history live in
// the Store, and only the Bus carries events between Hub instances. A Hub
// restart loses nothing but live connections, which reconnect and re-fetch
// history.
//
// Grounded on the teacher's chat-system Hub (06-projects/03-chat-system/
// main.go), generalized from an in-memory single-process broadcaster to a
// Bus-backed fan-out that also talks to Store-backed services and Presence.
package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/bus"
	"github.com/cpu-jia/chatroom/internal/model"
	"github.com/cpu-jia/chatroom/internal/presence"
	"github.com/cpu-jia/chatroom/internal/service"
	"github.com/cpu-jia/chatroom/internal/wsproto"
	"github.com/cpu-jia/chatroom/pkg/logger"
)

type Config struct {
	HeartbeatInterval time.Duration
	SendBufferSize    int
}

type roomDispatch struct {
	roomID uuid.UUID
	event  bus.Event
}

// roomSubscription tracks the single Bus subscription backing a room while
// at least one local connection is joined to it.
type roomSubscription struct {
	cancel   func()
	refCount int
}

type Hub struct {
	cfg      Config
	services *service.Services
	presence presence.Presence
	bus      bus.Bus

	register   chan *Connection
	unregister chan *Connection
	dispatch   chan roomDispatch
	shutdown   chan struct{}

	connections map[*Connection]struct{}
	userConns   map[uuid.UUID]map[*Connection]struct{}
	roomConns   map[uuid.UUID]map[*Connection]struct{}
	roomSubs    map[uuid.UUID]*roomSubscription
	// presenceRefs counts local connections for (room,user), so multiple
	// tabs from the same user don't flicker presence on every tab close.
	presenceRefs map[uuid.UUID]map[uuid.UUID]int

	mu chan struct{} // binary semaphore; see lock()/unlock() below
}

func New(cfg Config, services *service.Services, pr presence.Presence, b bus.Bus) *Hub {
	h := &Hub{
		cfg:          cfg,
		services:     services,
		presence:     pr,
		bus:          b,
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
		dispatch:     make(chan roomDispatch, 256),
		shutdown:     make(chan struct{}),
		connections:  make(map[*Connection]struct{}),
		userConns:    make(map[uuid.UUID]map[*Connection]struct{}),
		roomConns:    make(map[uuid.UUID]map[*Connection]struct{}),
		roomSubs:     make(map[uuid.UUID]*roomSubscription),
		presenceRefs: make(map[uuid.UUID]map[uuid.UUID]int),
		mu:           make(chan struct{}, 1),
	}
	h.mu <- struct{}{}
	return h
}

func (h *Hub) lock()   { <-h.mu }
func (h *Hub) unlock() { h.mu <- struct{}{} }

// Accept upgrades conn into a tracked Connection for userID and starts its
// pumps. The caller (internal/httpapi) has already authenticated userID
// from the bearer token before the upgrade.
func (h *Hub) Accept(userID uuid.UUID, conn *websocket.Conn) {
	c := newConnection(h, userID, conn)
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// Run drives registration, deregistration, and Bus-event fan-out. It must
// run in its own goroutine for the lifetime of the process.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addConnection(c)
		case c := <-h.unregister:
			h.removeConnection(c)
		case d := <-h.dispatch:
			h.fanOut(d.roomID, d.event)
		}
	}
}

// OnlineMembers reports the users currently present in roomID, per the
// cross-instance Presence store (spec.md §6, GET /rooms/{id}/members/online).
func (h *Hub) OnlineMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	return h.presence.Members(ctx, roomID)
}

// Shutdown closes every tracked connection with 1012 (service restart) and
// stops accepting new frames. It does not wait for pumps to exit; callers
// drain with their own timeout.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

func (h *Hub) addConnection(c *Connection) {
	h.lock()
	defer h.unlock()
	h.connections[c] = struct{}{}
	if h.userConns[c.userID] == nil {
		h.userConns[c.userID] = make(map[*Connection]struct{})
	}
	h.userConns[c.userID][c] = struct{}{}
}

func (h *Hub) removeConnection(c *Connection) {
	h.lock()
	rooms := make([]uuid.UUID, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	delete(h.connections, c)
	if conns := h.userConns[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.userConns, c.userID)
		}
	}
	close(c.send)
	h.unlock()

	for _, roomID := range rooms {
		h.detachFromRoom(c, roomID)
	}
}

func (h *Hub) kick(c *Connection, code int, reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.conn.Close()
}

func (h *Hub) handleFrame(c *Connection, frame wsproto.Frame) {
	switch frame.Type {
	case wsproto.FramePing:
		c.enqueue(wsproto.Frame{Type: wsproto.FramePong}, false)
	case wsproto.FramePong:
		// a client's answer to the heartbeat ping frame writePump sends;
		// nothing to do.
	case wsproto.FrameJoinRoom:
		h.handleJoin(c, frame)
	case wsproto.FrameLeaveRoom:
		h.handleLeave(c, frame)
	case wsproto.FrameMessage:
		h.handleMessage(c, frame)
	case wsproto.FrameTyping:
		h.handleTyping(c, frame)
	case wsproto.FrameMarkRead:
		h.handleMarkRead(c, frame)
	default:
		c.enqueue(wsproto.Frame{Type: wsproto.FrameError, Code: "VALIDATION", Error: "unknown frame type"}, false)
	}
}

func (h *Hub) handleJoin(c *Connection, frame wsproto.Frame) {
	_, member, err := h.services.Room.Join(c.userID, frame.RoomID, frame.Password)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.lock()
	if h.roomConns[frame.RoomID] == nil {
		h.roomConns[frame.RoomID] = make(map[*Connection]struct{})
	}
	h.roomConns[frame.RoomID][c] = struct{}{}
	c.rooms[frame.RoomID] = struct{}{}
	needsSubscribe := h.roomSubs[frame.RoomID] == nil
	if needsSubscribe {
		h.roomSubs[frame.RoomID] = &roomSubscription{}
	}
	h.roomSubs[frame.RoomID].refCount++
	firstLocalPresence := h.bumpPresenceRef(frame.RoomID, c.userID, 1)
	h.unlock()

	if needsSubscribe {
		h.subscribeRoom(frame.RoomID)
	}
	if firstLocalPresence {
		h.markPresence(frame.RoomID, c.userID, true)
	}

	members, _ := h.services.Room.ListMembers(c.userID, frame.RoomID)
	c.enqueue(wsproto.Frame{Type: wsproto.FrameJoined, RoomID: frame.RoomID, MemberCount: len(members)}, false)
	_ = member
}

func (h *Hub) handleLeave(c *Connection, frame wsproto.Frame) {
	if err := h.services.Room.Leave(c.userID, frame.RoomID); err != nil {
		h.sendError(c, err)
		return
	}
	h.detachFromRoom(c, frame.RoomID)
	c.enqueue(wsproto.Frame{Type: wsproto.FrameLeft, RoomID: frame.RoomID}, false)
}

// detachFromRoom removes the local subscription bookkeeping for c in
// roomID without touching Store membership: used both for explicit
// leave_room frames and for cleanup on disconnect.
func (h *Hub) detachFromRoom(c *Connection, roomID uuid.UUID) {
	h.lock()
	delete(c.rooms, roomID)
	if conns := h.roomConns[roomID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.roomConns, roomID)
		}
	}
	lastLocalPresence := h.bumpPresenceRef(roomID, c.userID, -1)
	var unsubscribe bool
	if sub := h.roomSubs[roomID]; sub != nil {
		sub.refCount--
		if sub.refCount <= 0 {
			unsubscribe = true
			delete(h.roomSubs, roomID)
		}
	}
	h.unlock()

	if lastLocalPresence {
		h.markPresence(roomID, c.userID, false)
	}
	if unsubscribe {
		h.unsubscribeRoom(roomID)
	}
}

// bumpPresenceRef adjusts the local reference count for (roomID, userID)
// and reports whether this call crossed a 0<->1 boundary, i.e. whether a
// real presence change (not just another tab) should be published.
// Caller must hold h.mu.
func (h *Hub) bumpPresenceRef(roomID, userID uuid.UUID, delta int) bool {
	if h.presenceRefs[roomID] == nil {
		h.presenceRefs[roomID] = make(map[uuid.UUID]int)
	}
	before := h.presenceRefs[roomID][userID]
	after := before + delta
	if after <= 0 {
		delete(h.presenceRefs[roomID], userID)
		if len(h.presenceRefs[roomID]) == 0 {
			delete(h.presenceRefs, roomID)
		}
	} else {
		h.presenceRefs[roomID][userID] = after
	}
	return (before == 0 && after > 0) || (before > 0 && after <= 0)
}

// presenceTTL is 2x the configured heartbeat interval (spec.md §4.4), so a
// connection that misses two consecutive heartbeats ages out of
// Presence.Members even if its Hub instance crashed without a clean close.
func (h *Hub) presenceTTL() time.Duration {
	return 2 * h.cfg.HeartbeatInterval
}

func (h *Hub) markPresence(roomID, userID uuid.UUID, connected bool) {
	ctx := context.Background()
	kind := "disconnected"
	if connected {
		kind = "connected"
		_ = h.presence.Add(ctx, roomID, userID)
		_ = h.presence.Refresh(ctx, roomID, userID, h.presenceTTL())
	} else {
		_ = h.presence.Remove(ctx, roomID, userID)
	}
	_ = h.bus.Publish(ctx, bus.Event{
		Type: bus.EventPresence, RoomID: roomID, UserID: userID, PresenceKind: kind,
	})
}

// refreshPresence extends c's presence entry in every room it is currently
// joined to. Called on each pong so a long-lived connection never ages out
// of Presence.Members while it's still alive (spec.md §4.4). c.rooms is
// only ever touched by c's own readPump goroutine, which is also the
// goroutine the pong handler runs on, so no lock is needed here.
func (h *Hub) refreshPresence(c *Connection) {
	ctx := context.Background()
	ttl := h.presenceTTL()
	for roomID := range c.rooms {
		_ = h.presence.Refresh(ctx, roomID, c.userID, ttl)
	}
}

func (h *Hub) handleMessage(c *Connection, frame wsproto.Frame) {
	var replyTo *uuid.UUID
	if frame.ReplyToID != nil {
		replyTo = frame.ReplyToID
	}
	kind := model.MessageKind(frame.Kind)
	if kind == "" {
		kind = model.MessageText
	}
	if _, err := h.services.Messaging.Send(c.userID, frame.RoomID, frame.Content, kind, replyTo, frame.IdempotencyKey); err != nil {
		h.sendError(c, err)
	}
	// On success no direct reply is sent: the Bus round-trip delivers
	// message_created back to every subscriber, including this connection.
}

func (h *Hub) handleTyping(c *Connection, frame wsproto.Frame) {
	_ = h.bus.Publish(context.Background(), bus.Event{
		Type: bus.EventTyping, RoomID: frame.RoomID, UserID: c.userID, Typing: frame.Typing,
	})
}

func (h *Hub) handleMarkRead(c *Connection, frame wsproto.Frame) {
	if err := h.services.Messaging.MarkRead(c.userID, frame.RoomID, frame.MessageID); err != nil {
		h.sendError(c, err)
	}
}

func (h *Hub) sendError(c *Connection, err error) {
	c.enqueue(wsproto.Frame{Type: wsproto.FrameError, Code: string(apperr.Of(err)), Error: apperr.ClientMessage(err)}, false)
}

func (h *Hub) subscribeRoom(roomID uuid.UUID) {
	events, cancel, err := h.bus.Subscribe(context.Background(), roomID)
	if err != nil {
		logger.Error("hub: subscribe room failed: %v", err)
		h.lock()
		delete(h.roomSubs, roomID)
		h.unlock()
		return
	}
	h.lock()
	if sub := h.roomSubs[roomID]; sub != nil {
		sub.cancel = cancel
	}
	h.unlock()

	go func() {
		for event := range events {
			select {
			case h.dispatch <- roomDispatch{roomID: roomID, event: event}:
			case <-h.shutdown:
				return
			}
		}
	}()
}

func (h *Hub) unsubscribeRoom(roomID uuid.UUID) {
	h.lock()
	sub, ok := h.roomSubs[roomID]
	h.unlock()
	if ok && sub.cancel != nil {
		sub.cancel()
	}
}

func (h *Hub) fanOut(roomID uuid.UUID, event bus.Event) {
	h.lock()
	conns := make([]*Connection, 0, len(h.roomConns[roomID]))
	for c := range h.roomConns[roomID] {
		conns = append(conns, c)
	}
	h.unlock()

	frame, essential := eventToFrame(event)
	for _, c := range conns {
		c.enqueue(frame, essential)
	}
}

func eventToFrame(event bus.Event) (wsproto.Frame, bool) {
	frame := wsproto.Frame{RoomID: event.RoomID}
	switch event.Type {
	case bus.EventMessageCreated:
		frame.Type = wsproto.FrameMessageCreated
		frame.Message = event.Message
		return frame, true
	case bus.EventMessageDeleted:
		frame.Type = wsproto.FrameMessageDeleted
		frame.MessageID = event.MessageID
		return frame, true
	case bus.EventMemberJoined:
		frame.Type = wsproto.FrameMemberJoined
		frame.UserID = event.UserID
		return frame, false
	case bus.EventMemberLeft:
		frame.Type = wsproto.FrameMemberLeft
		frame.UserID = event.UserID
		return frame, false
	case bus.EventRoomUpdated:
		frame.Type = wsproto.FrameRoomUpdated
		frame.RoomChanges = event.RoomChanges
		return frame, false
	case bus.EventRoomClosed:
		frame.Type = wsproto.FrameRoomClosed
		return frame, true
	case bus.EventPresence:
		frame.Type = wsproto.FramePresence
		frame.UserID = event.UserID
		frame.PresenceKind = event.PresenceKind
		return frame, false
	case bus.EventTyping:
		frame.Type = wsproto.FrameTyping
		frame.UserID = event.UserID
		frame.Typing = event.Typing
		return frame, false
	default:
		frame.Type = wsproto.FrameError
		frame.Error = "unknown event"
		return frame, false
	}
}
