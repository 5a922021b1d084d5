package ws

import (
	"log/slog"
	"sync"

	"github.com/ugaemi/patrol-server/internal/protocol"
)

// Hub maintains the set of active clients and routes messages.
type Hub struct {
	Clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Incoming   chan *ClientMessage
	mu         sync.RWMutex

	// players maps a bound player id to its client.
	players map[uint64]*Client

	// OnMessage is called for each incoming client message.
	OnMessage func(cm *ClientMessage)
	// OnDisconnect is called when a client disconnects.
	OnDisconnect func(client *Client)
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Incoming:   make(chan *ClientMessage, 256),
		players:    make(map[uint64]*Client),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.add(client)
			slog.Info("client connected", "client", client.ID)

		case client := <-h.Unregister:
			h.remove(client)
			slog.Info("client disconnected", "client", client.ID, "player", client.PlayerID)
			if h.OnDisconnect != nil {
				h.OnDisconnect(client)
			}

		case cm := <-h.Incoming:
			if cm.Client.Closed() {
				slog.Debug("dropping message from closed client", "client", cm.Client.ID)
				continue
			}
			if h.OnMessage != nil {
				h.OnMessage(cm)
			}
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Clients[client] = true
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.Clients, client)
	client.close()
	if client.Bound && h.players[client.PlayerID] == client {
		delete(h.players, client.PlayerID)
	}
}

// Bind associates a client with a player id. A newer connection for the same
// player replaces the older one. A client that was already removed is not
// bound and Bind returns false.
func (h *Hub) Bind(client *Client, playerID uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.Closed() {
		return false
	}

	if client.Bound && client.PlayerID != playerID && h.players[client.PlayerID] == client {
		delete(h.players, client.PlayerID)
	}
	if prev, ok := h.players[playerID]; ok && prev != client {
		prev.Bound = false
		slog.Info("player rebound to new client", "player", playerID, "old", prev.ID, "new", client.ID)
	}

	h.Clients[client] = true
	client.PlayerID = playerID
	client.Bound = true
	h.players[playerID] = client
	return true
}

// SendToPlayer delivers msg to the client bound to playerID. It reports
// whether the message was queued.
func (h *Hub) SendToPlayer(playerID uint64, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.players[playerID]
	if !ok {
		return false
	}
	return client.SendMessage(msg)
}

func (h *Hub) isConnected(playerID uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.players[playerID]
	return ok
}

// IsBound reports whether client is the current connection of a player.
func (h *Hub) IsBound(client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.Bound && h.players[client.PlayerID] == client
}

// PublishNear sends msg to every bound client whose reported pose lies
// within radius of loc. It returns the number of recipients.
func (h *Hub) PublishNear(msg Message, loc protocol.Location, radius float64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, client := range h.players {
		pose, ok := client.Pose()
		if !ok || !pose.Within(loc, radius) {
			continue
		}
		if client.SendMessage(msg) {
			sent++
		}
	}
	return sent
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients)
}
