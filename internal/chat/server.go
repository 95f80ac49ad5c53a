package chat

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/teamsync/chatserver/internal/stats"
	"github.com/teamsync/chatserver/internal/store"
)

type stopReq struct {
	done chan struct{}
}

// ChatServer routes connections to room goroutines and owns the set of
// loaded rooms. Rooms are loaded from the store on first subscribe and
// unloaded after sitting idle.
type ChatServer struct {
	log            *log.Logger
	store          store.Repository
	stats          stats.Provider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	subscribeChan  chan *ClientEvent
	registerChan   chan *Client
	deregisterChan chan *Client
	unloadRoomChan chan string
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	stop           chan stopReq

	// done is closed when the run loop returns; registration paths select on
	// it so a read pump disconnecting mid-shutdown cannot block forever.
	done chan struct{}
}

func NewChatServer(logger *log.Logger, repo store.Repository, st stats.Provider) (*ChatServer, error) {
	return &ChatServer{
		log:            logger,
		store:          repo,
		stats:          st,
		clients:        make(map[*Client]struct{}),
		subscribeChan:  make(chan *ClientEvent, roomChanSize),
		registerChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		unloadRoomChan: make(chan string, roomChanSize),
		rooms:          make(map[string]*Room),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case ev := <-cs.subscribeChan:
			cs.handleSubscribe(ev)
		case client := <-cs.registerChan:
			cs.addClient(client)
		case client := <-cs.deregisterChan:
			cs.removeClient(client)
		case id := <-cs.unloadRoomChan:
			cs.unloadRoom(id)
		case req := <-cs.stop:
			cs.shutdownRooms()
			close(cs.done)
			close(req.done)
			return
		}
	}
}

// handleSubscribe forwards a join_room to the room's goroutine, loading the
// room from the store first if it is not resident.
func (cs *ChatServer) handleSubscribe(ev *ClientEvent) {
	room, ok := cs.getRoom(ev.JoinRoom.RoomId)
	if !ok {
		dbRoom, err := cs.store.GetRoomByExternalId(ev.JoinRoom.RoomId)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				ev.client.queueEvent(ErrRoomNotFound(ev.Id))
			} else {
				cs.log.Printf("get room %q: %v", ev.JoinRoom.RoomId, err)
				ev.client.queueEvent(ErrInternalError(ev.Id))
			}
			return
		}

		room = newRoom(cs, dbRoom)
		cs.addRoom(room.externalId, room)
		go room.start()
	}

	select {
	case room.subscribeChan <- ev:
	default:
		cs.log.Printf("subscribe channel full on room %q", room.externalId)
		ev.client.queueEvent(ErrServiceUnavailable(ev.Id))
	}
}

// RegisterClient hands a freshly upgraded connection to the server loop.
func (cs *ChatServer) RegisterClient(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
		c.stopClient()
	}
}

// DeregisterClient removes a disconnected connection from the registry.
func (cs *ChatServer) DeregisterClient(c *Client) {
	select {
	case cs.deregisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.ActiveClients)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr(stats.ActiveClients)
}

func (cs *ChatServer) addRoom(id string, r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	cs.rooms[id] = r
	cs.stats.Incr(stats.ActiveRooms)
}

func (cs *ChatServer) getRoom(id string) (*Room, bool) {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	r, ok := cs.rooms[id]
	return r, ok
}

func (cs *ChatServer) deleteRoom(id string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if _, ok := cs.rooms[id]; ok {
		delete(cs.rooms, id)
		cs.stats.Decr(stats.ActiveRooms)
	}
}

func (cs *ChatServer) unloadRoom(id string) {
	r, ok := cs.getRoom(id)
	if !ok {
		return
	}

	cs.deleteRoom(id)

	done := make(chan string)
	r.exit <- exitReq{done: done}
	<-done
}

func (cs *ChatServer) shutdownRooms() {
	cs.roomsLock.Lock()
	rooms := make([]*Room, 0, len(cs.rooms))
	for _, r := range cs.rooms {
		rooms = append(rooms, r)
	}
	cs.rooms = make(map[string]*Room)
	cs.roomsLock.Unlock()

	for _, r := range rooms {
		cs.log.Printf("shutting down room %q", r.externalId)
		done := make(chan string)
		r.exit <- exitReq{done: done}
		<-done
		cs.stats.Decr(stats.ActiveRooms)
	}
}

// Shutdown stops all client connections and room goroutines, waiting up to
// the context deadline for the server loop to drain.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
