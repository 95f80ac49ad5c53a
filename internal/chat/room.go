package chat

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/teamsync/chatserver/internal/stats"
	"github.com/teamsync/chatserver/internal/store"
	"github.com/teamsync/chatserver/internal/types"
)

const (
	// idleRoomTimeout unloads a room goroutine once no connection has been
	// subscribed for this long.
	idleRoomTimeout = time.Minute

	// typingTimeout bounds how long a typing indicator may stay up without
	// the client confirming it; on expiry the server synthesizes a stop.
	typingTimeout = 10 * time.Second

	roomChanSize = 256
)

type exitReq struct {
	done chan string
}

// Room is the in-memory authority for one room's live subscriber set and
// message sequencing. All mutations happen on the room's goroutine, so two
// rooms never contend with each other. Persisted membership stays in the
// store and is re-checked on every subscribe and publish; the subscriber set
// is only ever used for delivery fan-out.
type Room struct {
	id         int
	externalId string
	name       string
	cs         *ChatServer

	// seqId mirrors the last persisted sequence for the room; only the room
	// goroutine advances it, and only after a successful append.
	seqId int

	subscribeChan     chan *ClientEvent
	unsubscribeChan   chan *ClientEvent
	publishChan       chan *ClientEvent
	typingChan        chan *ClientEvent
	typingTimeoutChan chan *Client

	clients     map[*Client]struct{}
	userClients map[int]map[*Client]struct{}
	clientsLock sync.RWMutex

	typingTimers map[*Client]*time.Timer

	killTimer *time.Timer
	exit      chan exitReq
	log       *log.Logger
}

func newRoom(cs *ChatServer, dbRoom store.Room) *Room {
	return &Room{
		id:                dbRoom.Id,
		externalId:        dbRoom.ExternalId,
		name:              dbRoom.Name,
		cs:                cs,
		seqId:             dbRoom.LastSeqId,
		subscribeChan:     make(chan *ClientEvent, roomChanSize),
		unsubscribeChan:   make(chan *ClientEvent, roomChanSize),
		publishChan:       make(chan *ClientEvent, roomChanSize),
		typingChan:        make(chan *ClientEvent, roomChanSize),
		typingTimeoutChan: make(chan *Client, roomChanSize),
		clients:           make(map[*Client]struct{}),
		userClients:       make(map[int]map[*Client]struct{}),
		typingTimers:      make(map[*Client]*time.Timer),
		exit:              make(chan exitReq),
		log:               cs.log,
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case ev := <-r.subscribeChan:
			r.handleSubscribe(ev)
		case ev := <-r.unsubscribeChan:
			r.handleUnsubscribe(ev)
		case ev := <-r.publishChan:
			r.handlePublish(ev)
		case ev := <-r.typingChan:
			r.handleTyping(ev)
		case c := <-r.typingTimeoutChan:
			r.handleTypingTimeout(c)
		case <-r.killTimer.C:
			r.handleIdleTimeout()
		case e := <-r.exit:
			r.handleExit(e)
			return
		}
	}
}

// handleSubscribe admits a connection into the subscriber set after
// re-verifying the user's persisted membership. Re-subscribing an already
// subscribed connection is a no-op success.
func (r *Room) handleSubscribe(ev *ClientEvent) {
	r.killTimer.Stop()

	c := ev.client
	if _, ok := r.getClient(c); ok {
		c.queueEvent(r.joinedRoomEvent(ev.Id))
		return
	}

	participant, err := r.cs.store.GetParticipant(r.id, c.user.Id)
	if err != nil || participant.State != store.StateActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.log.Printf("room %q: get participant: %v", r.externalId, err)
			c.queueEvent(ErrInternalError(ev.Id))
		} else {
			c.queueEvent(ErrAccessDenied(ev.Id))
		}

		if len(r.clients) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	firstForUser := r.userClients[c.user.Id] == nil
	r.addClient(c)

	c.queueEvent(r.joinedRoomEvent(ev.Id))

	if firstForUser {
		r.broadcast(&ServerEvent{
			BaseEvent: BaseEvent{Timestamp: Now()},
			UserJoined: &UserPresence{
				UserId:   c.user.Id,
				Username: c.user.Username,
				RoomId:   r.externalId,
			},
			skipClient: c,
		})
	}
}

// handleUnsubscribe removes the connection from the subscriber set without
// touching persisted membership. Unsubscribing a connection that was never
// subscribed is not an error.
func (r *Room) handleUnsubscribe(ev *ClientEvent) {
	c := ev.client
	r.removeClient(c)
	r.cancelTyping(c, true)

	c.queueEvent(&ServerEvent{
		BaseEvent: BaseEvent{Id: ev.Id, Timestamp: Now()},
		LeftRoom:  &LeftRoom{RoomId: r.externalId},
	})

	if r.userClients[c.user.Id] == nil {
		r.broadcast(&ServerEvent{
			BaseEvent: BaseEvent{Timestamp: Now()},
			UserLeft: &UserPresence{
				UserId:   c.user.Id,
				Username: c.user.Username,
				RoomId:   r.externalId,
			},
			skipClient: c,
		})
	}
}

// handlePublish appends a message to the ledger. The sequence is reserved
// and persisted as one transaction; only after the store acknowledges is the
// in-memory sequence advanced and the message fanned out, so a failed append
// leaves no observable state.
func (r *Room) handlePublish(ev *ClientEvent) {
	c, msg := ev.client, ev.SendMessage

	if _, ok := r.getClient(c); !ok {
		c.queueEvent(ErrInvalidState(ev.Id))
		return
	}

	// authorization always goes to the store, never the subscriber set
	participant, err := r.cs.store.GetParticipant(r.id, c.user.Id)
	if err != nil || participant.State != store.StateActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.log.Printf("room %q: get participant: %v", r.externalId, err)
			c.queueEvent(ErrInternalError(ev.Id))
		} else {
			c.queueEvent(ErrAccessDenied(ev.Id))
		}
		return
	}

	msgType := msg.MessageType
	if msgType == "" {
		msgType = store.MessageText
	}

	if msg.Content == "" {
		c.queueEvent(ErrValidation(ev.Id, "content cannot be empty"))
		return
	}

	switch msgType {
	case store.MessageText, store.MessageImage, store.MessageFile, store.MessageCode:
	default:
		// system messages are server-generated only
		c.queueEvent(ErrValidation(ev.Id, "invalid message type"))
		return
	}

	if msg.ReplyTo != nil {
		ref, err := r.cs.store.GetMessage(*msg.ReplyTo)
		if err != nil || ref.RoomId != r.id {
			c.queueEvent(ErrValidation(ev.Id, "reply_to must reference a message in this room"))
			return
		}
	}

	saved, err := r.cs.store.AppendMessage(store.Message{
		SeqId:       r.seqId + 1,
		RoomId:      r.id,
		SenderId:    c.user.Id,
		Content:     msg.Content,
		MessageType: msgType,
		ReplyTo:     msg.ReplyTo,
		CreatedAt:   ev.Timestamp,
	})
	if err != nil {
		r.log.Printf("room %q: append message: %v", r.externalId, err)
		c.queueEvent(ErrInternalError(ev.Id))
		return
	}

	r.seqId = saved.SeqId
	r.cs.stats.Incr(stats.MessagesPersisted)

	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{Id: ev.Id, Timestamp: saved.CreatedAt},
		NewMessage: &NewMessage{
			RoomId: r.externalId,
			Message: types.Message{
				Id:          saved.Id,
				SeqId:       saved.SeqId,
				RoomId:      r.externalId,
				SenderId:    saved.SenderId,
				Sender:      saved.SenderName,
				Content:     saved.Content,
				MessageType: saved.MessageType,
				ReplyTo:     saved.ReplyTo,
				Timestamp:   saved.CreatedAt,
			},
		},
	})
}

// handleTyping broadcasts typing state to everyone but the originator and
// arms the server-side timeout that synthesizes a stop for clients which
// vanish mid-type.
func (r *Room) handleTyping(ev *ClientEvent) {
	c := ev.client
	if _, ok := r.getClient(c); !ok {
		c.queueEvent(ErrInvalidState(ev.Id))
		return
	}

	if ev.TypingStart != nil {
		if timer, ok := r.typingTimers[c]; ok {
			// already typing, just extend the window
			timer.Reset(typingTimeout)
			return
		}

		r.typingTimers[c] = time.AfterFunc(typingTimeout, func() {
			select {
			case r.typingTimeoutChan <- c:
			default:
			}
		})

		r.broadcastTyping(c, true)
		return
	}

	r.cancelTyping(c, true)
}

func (r *Room) handleTypingTimeout(c *Client) {
	// a manual stop may have raced the timer; only synthesize if still armed
	if _, ok := r.typingTimers[c]; !ok {
		return
	}

	delete(r.typingTimers, c)
	r.broadcastTyping(c, false)
}

// cancelTyping clears the typing timer for a connection. When notify is set
// and the connection was typing, remaining subscribers observe a stop.
func (r *Room) cancelTyping(c *Client, notify bool) {
	timer, ok := r.typingTimers[c]
	if !ok {
		return
	}

	timer.Stop()
	delete(r.typingTimers, c)

	if notify {
		r.broadcastTyping(c, false)
	}
}

func (r *Room) broadcastTyping(c *Client, isTyping bool) {
	r.broadcast(&ServerEvent{
		BaseEvent: BaseEvent{Timestamp: Now()},
		UserTyping: &UserTyping{
			UserId:   c.user.Id,
			IsTyping: isTyping,
			RoomId:   r.externalId,
		},
		skipClient: c,
	})
}

func (r *Room) handleIdleTimeout() {
	if len(r.clients) > 0 {
		return
	}

	r.log.Printf("room %q idle, requesting unload", r.externalId)
	select {
	case r.cs.unloadRoomChan <- r.externalId:
	default:
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleExit(e exitReq) {
	r.log.Printf("room %q exiting", r.externalId)
	r.killTimer.Stop()

	for c := range r.typingTimers {
		r.cancelTyping(c, false)
	}

	r.clientsLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	r.clientsLock.Unlock()

	if e.done != nil {
		e.done <- r.externalId
	}
}

// joinedRoomEvent builds the membership snapshot returned on subscribe.
func (r *Room) joinedRoomEvent(id int) *ServerEvent {
	room := types.Room{
		Id:         r.id,
		ExternalId: r.externalId,
		Name:       r.name,
		LastSeqId:  r.seqId,
	}

	participants, err := r.cs.store.ListParticipants(r.id)
	if err != nil {
		r.log.Printf("room %q: list participants: %v", r.externalId, err)
	} else {
		room.Participants = make([]types.Participant, len(participants))
		for i, p := range participants {
			room.Participants[i] = types.Participant{
				UserId:    p.UserId,
				Username:  p.Username,
				Role:      p.Role,
				State:     p.State,
				IsPresent: r.userClients[p.UserId] != nil,
				JoinedAt:  p.JoinedAt,
			}
		}
	}

	return &ServerEvent{
		BaseEvent:  BaseEvent{Id: id, Timestamp: Now()},
		JoinedRoom: &JoinedRoom{RoomId: r.externalId, Room: room},
	}
}

func (r *Room) addClient(c *Client) {
	r.clientsLock.Lock()
	defer r.clientsLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userClients[c.user.Id] == nil {
		r.userClients[c.user.Id] = make(map[*Client]struct{})
	}
	r.userClients[c.user.Id][c] = struct{}{}

	c.addRoom(r)
	r.cs.stats.Incr(stats.RoomSubscriptions)
}

func (r *Room) removeClient(c *Client) {
	r.clientsLock.Lock()
	defer r.clientsLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)
	r.cs.stats.Decr(stats.RoomSubscriptions)

	if userClients, ok := r.userClients[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userClients, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) getClient(c *Client) (*Client, bool) {
	r.clientsLock.RLock()
	defer r.clientsLock.RUnlock()

	_, ok := r.clients[c]
	if !ok {
		return nil, false
	}
	return c, true
}

// broadcast fans an event out to the current subscriber set. Delivery to an
// individual connection is best-effort: a connection whose queue is full is
// disconnected rather than allowed to stall the room.
func (r *Room) broadcast(ev *ServerEvent) {
	r.clientsLock.RLock()
	defer r.clientsLock.RUnlock()

	for c := range r.clients {
		if c == ev.skipClient {
			continue
		}

		if !c.queueEvent(ev) {
			r.log.Printf("room %q: disconnecting stalled session %s", r.externalId, c.id)
			c.stopClient()
		}
	}
}
