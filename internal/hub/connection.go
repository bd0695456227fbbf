package hub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cpu-jia/chatroom/internal/wsproto"
)

const (
	writeWait      = 10 * time.Second
	maxFrameBytes  = 8192
)

// Connection wraps one accepted WebSocket, grounded on the teacher's
// chat-system Client (06-projects/03-chat-system/main.go): a read pump, a
// write pump, and a bounded outbound channel that decouples the slow
// client problem from the Hub's own goroutine.
type Connection struct {
	id     uuid.UUID
	userID uuid.UUID
	conn   *websocket.Conn
	hub    *Hub

	send chan []byte
	// rooms this connection is locally subscribed to via join_room.
	rooms map[uuid.UUID]struct{}
}

func newConnection(hub *Hub, userID uuid.UUID, conn *websocket.Conn) *Connection {
	return &Connection{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, hub.cfg.SendBufferSize),
		rooms:  make(map[uuid.UUID]struct{}),
	}
}

// enqueue pushes a frame onto the connection's outbound buffer. Essential
// frames (message_created, message_deleted, room_closed) force the
// connection closed with 1013 ("try again later") rather than being
// silently dropped when the buffer is saturated; everything else degrades
// gracefully by dropping the oldest buffered frame to make room, unless
// that oldest frame is itself essential, in which case the connection is
// closed with 1013 as well.
func (c *Connection) enqueue(frame wsproto.Frame, essential bool) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
		return
	default:
	}

	if essential {
		c.hub.kick(c, websocket.CloseTryAgainLater, "outbound buffer full")
		return
	}

	select {
	case old := <-c.send:
		var oldFrame wsproto.Frame
		if json.Unmarshal(old, &oldFrame) == nil &&
			(oldFrame.Type == wsproto.FrameMessageCreated ||
				oldFrame.Type == wsproto.FrameMessageDeleted ||
				oldFrame.Type == wsproto.FrameRoomClosed) {
			c.hub.kick(c, websocket.CloseTryAgainLater, "outbound buffer full")
			return
		}
	default:
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(2 * c.hub.cfg.HeartbeatInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * c.hub.cfg.HeartbeatInterval))
		c.hub.refreshPresence(c)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsproto.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.enqueue(wsproto.Frame{Type: wsproto.FrameError, Code: "VALIDATION", Error: "malformed frame"}, false)
			continue
		}
		c.hub.handleFrame(c, frame)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.enqueue(wsproto.Frame{Type: wsproto.FramePing}, false)
		case <-c.hub.shutdown:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseServiceRestart, "server shutting down"))
			return
		}
	}
}
