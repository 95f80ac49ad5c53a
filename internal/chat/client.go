package chat

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teamsync/chatserver/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendQueueSize bounds the outbound queue per connection; a client that
	// cannot drain it is disconnected rather than allowed to stall fan-out.
	sendQueueSize = 256
)

// Client is one live authenticated connection. It owns the websocket read
// and write pumps and tracks which rooms the connection is subscribed to.
// All room state mutations go through the owning room's goroutine.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerEvent
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerEvent, sendQueueSize),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeEvent(ev)
			if err != nil {
				c.log.Printf("session %s: serialize event: %v", c.id, err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("session %s: read: %v", c.id, err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Printf("session %s: parse event: %v", c.id, err)
			c.queueEvent(ErrInvalidEvent(0))
			continue
		}

		ev.client = c
		ev.UserId = c.user.Id
		ev.Timestamp = Now()

		c.route(&ev)
	}
}

// route dispatches an inbound event. Operations on rooms this connection is
// not subscribed to fail with invalid_state without touching shared state.
func (c *Client) route(ev *ClientEvent) {
	switch {
	case ev.JoinRoom != nil:
		select {
		case c.chatServer.subscribeChan <- ev:
		default:
			c.log.Printf("session %s: subscribe channel full", c.id)
			c.queueEvent(ErrServiceUnavailable(ev.Id))
		}
	case ev.LeaveRoom != nil:
		r := c.getRoom(ev.LeaveRoom.RoomId)
		if r == nil {
			// unsubscribing a room we never subscribed to is a no-op
			c.queueEvent(&ServerEvent{
				BaseEvent: BaseEvent{Id: ev.Id, Timestamp: Now()},
				LeftRoom:  &LeftRoom{RoomId: ev.LeaveRoom.RoomId},
			})
			return
		}
		c.forwardToRoom(r, r.unsubscribeChan, ev)
	case ev.SendMessage != nil:
		r := c.getRoom(ev.SendMessage.RoomId)
		if r == nil {
			c.queueEvent(ErrInvalidState(ev.Id))
			return
		}
		c.forwardToRoom(r, r.publishChan, ev)
	case ev.TypingStart != nil, ev.TypingStop != nil:
		roomId := typingRoomId(ev)
		r := c.getRoom(roomId)
		if r == nil {
			c.queueEvent(ErrInvalidState(ev.Id))
			return
		}
		c.forwardToRoom(r, r.typingChan, ev)
	default:
		c.queueEvent(ErrInvalidEvent(ev.Id))
	}
}

func typingRoomId(ev *ClientEvent) string {
	if ev.TypingStart != nil {
		return ev.TypingStart.RoomId
	}
	return ev.TypingStop.RoomId
}

func (c *Client) forwardToRoom(r *Room, ch chan *ClientEvent, ev *ClientEvent) {
	select {
	case ch <- ev:
	default:
		c.log.Printf("session %s: channel full for room %q", c.id, r.externalId)
		c.queueEvent(ErrServiceUnavailable(ev.Id))
	}
}

// queueEvent enqueues an outbound event without blocking. A full queue means
// the connection is not draining; the caller decides whether to disconnect.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
		return true
	default:
		c.log.Printf("session %s: send queue full, dropping event", c.id)
		return false
	}
}

func serializeEvent(ev *ServerEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func (c *Client) writeFrame(frameType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(frameType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("session %s: write: %v", c.id, err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs once on transport disconnect: every subscribed room gets an
// unsubscribe, each producing a user_left broadcast to its remaining
// subscribers.
func (c *Client) cleanup() {
	c.chatServer.DeregisterClient(c)
	c.unsubscribeAllRooms()
	c.stopClient()
}

func (c *Client) unsubscribeAllRooms() {
	// snapshot under the lock; the room goroutines take the write lock via
	// delRoom while handling the unsubscribe
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.roomsLock.RUnlock()

	for _, room := range rooms {
		room.unsubscribeChan <- &ClientEvent{
			LeaveRoom: &LeaveRoom{RoomId: room.externalId},
			UserId:    c.user.Id,
			client:    c,
		}
	}
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.externalId] = r
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}
