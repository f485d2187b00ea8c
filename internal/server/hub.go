// Package server coordinates client registration, room membership, broadcast
// and connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Hub is the room registry. It tracks every live client, maps room
// identifiers to their members in join order and fans payloads out to a
// room. A client belongs to at most one room; rooms without members are
// removed.
type Hub struct {
	clients     map[*Client]bool
	rooms       map[string][]*Client
	memberships map[*Client]string
	register    chan *Client
	unregister  chan *Client
	mutex       sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	log         *zap.Logger
}

// NewHub creates and initializes a new Hub instance. The returned Hub is
// ready to manage connections once Run has been started.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[*Client]bool),
		rooms:       make(map[string][]*Client),
		memberships: make(map[*Client]string),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		log:         log,
	}
}

// Register hands a freshly upgraded client to the hub, which starts its
// pumps. It returns false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub and from its room, then closes
// its outbound queue.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.detach(client)
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns once Shutdown has been called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}

			clientCount := h.attach(client)
			h.log.Info("client registered",
				zap.String("client_id", client.id.String()),
				zap.String("remote_addr", client.addr),
				zap.Int("total_clients", clientCount))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.detach(client)
		}
	}
}

func (h *Hub) attach(client *Client) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	client.closed = false
	h.clients[client] = true
	return len(h.clients)
}

func (h *Hub) detach(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	roomID, _ := h.leaveLocked(client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.log.Info("client unregistered",
		zap.String("client_id", client.id.String()),
		zap.String("remote_addr", client.addr),
		zap.String("room", roomID),
		zap.Int("total_clients", clientCount))
}

// Join adds client to roomID, creating the room if needed. Joining the room
// the client is already in is a no-op; joining another room moves the client
// out of its previous one. It returns false, leaving every room untouched,
// if the client is not registered or has already been closed.
func (h *Hub) Join(roomID string, client *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, registered := h.clients[client]; !registered || client.closed {
		return false
	}

	if current, ok := h.memberships[client]; ok {
		if current == roomID {
			return true
		}
		h.leaveLocked(client)
	}

	h.rooms[roomID] = append(h.rooms[roomID], client)
	h.memberships[client] = roomID
	h.log.Debug("client joined room",
		zap.String("client_id", client.id.String()),
		zap.String("room", roomID),
		zap.Int("members", len(h.rooms[roomID])))
	return true
}

// Leave removes client from roomID. It does nothing if the client is not a
// member of that room.
func (h *Hub) Leave(roomID string, client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if current, ok := h.memberships[client]; !ok || current != roomID {
		return
	}
	h.leaveLocked(client)
}

// leaveLocked drops the client from whatever room it is in and prunes the
// room once empty. Callers hold h.mutex.
func (h *Hub) leaveLocked(client *Client) (string, bool) {
	roomID, ok := h.memberships[client]
	if !ok {
		return "", false
	}
	delete(h.memberships, client)

	members := lo.Without(h.rooms[roomID], client)
	if len(members) == 0 {
		delete(h.rooms, roomID)
		h.log.Debug("room pruned", zap.String("room", roomID))
		return roomID, true
	}
	h.rooms[roomID] = members
	return roomID, true
}

// Members returns a snapshot of the room's members in join order.
func (h *Hub) Members(roomID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return append([]*Client(nil), h.rooms[roomID]...)
}

// RoomOf reports the room the client currently belongs to.
func (h *Hub) RoomOf(client *Client) (string, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	roomID, ok := h.memberships[client]
	return roomID, ok
}

// RoomCount returns the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered from panic in safeSend", zap.Any("panic", r))
		}
	}()

	// Hold the lock during the entire send operation so detach cannot close
	// the channel underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Broadcast delivers payload to every open member of roomID, the sender
// included, and returns the number of members that received it. Members
// whose connection is already closed are skipped and dropped from the room;
// members whose outbound queue is full are disconnected.
func (h *Hub) Broadcast(roomID string, payload []byte) int {
	members := h.Members(roomID)

	delivered := 0
	var failed []*Client
	for _, client := range members {
		if h.safeSend(client, payload) {
			delivered++
			continue
		}
		failed = append(failed, client)
	}

	h.log.Debug("broadcast",
		zap.String("room", roomID),
		zap.Int("delivered", delivered),
		zap.Int("skipped", len(failed)))

	h.removeFailedClients(failed)
	return delivered
}

// removeFailedClients drops clients that could not take a broadcast. Stale
// members only lose their room membership; live ones with a full queue are
// also unregistered and their channels closed.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		h.leaveLocked(client)
		if _, exists := h.clients[client]; exists && !client.closed {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.log.Warn("client removed due to full send buffer",
				zap.String("client_id", client.id.String()),
				zap.String("remote_addr", client.addr))
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.RLock()
	clients := lo.Keys(h.clients)
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing client connection",
					zap.String("remote_addr", client.addr), zap.Error(err))
			}
		}
	}

	h.log.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all pump
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
