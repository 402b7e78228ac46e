package services

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub maps transport connections to logical players and relays outbound
// broadcasts. Inbound events are dispatched from each client's read pump;
// the hub itself only tracks membership.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	battle     *BattleService
	logger     *slog.Logger
}

func NewHub(battle *BattleService, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		battle:     battle,
		logger:     logger,
	}
	battle.SetBroadcaster(h)
	return h
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.logger.Debug("client unregistered",
					"client_id", client.id, "room", client.RoomCode(), "total", total)
				h.battle.HandleDisconnect(client)
			}
		}
	}
}

// RegisterClient wraps a fresh websocket connection and starts its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// BroadcastToRoom sends one event to every connection bound to the room
// code. Slow clients with a full send buffer are dropped.
func (h *Hub) BroadcastToRoom(code string, eventType string, payload any) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("marshal broadcast", "event", eventType, "error", err)
		return
	}

	var dead []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !strings.EqualFold(client.RoomCode(), code) {
			continue
		}
		select {
		case client.send <- data:
		default:
			dead = append(dead, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dead {
		h.logger.Warn("dropping slow client", "client_id", client.id, "room", code)
		h.dropClient(client)
	}
}

// SendToClient sends one event to a single connection. The send happens
// under the read lock, like in BroadcastToRoom: the unregister paths
// close the channel under the write lock, so a send can never hit a
// closed channel.
func (h *Hub) SendToClient(c *Client, eventType string, payload any) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("marshal event", "event", eventType, "error", err)
		return
	}

	dead := false
	h.mu.RLock()
	if _, ok := h.clients[c]; ok {
		select {
		case c.send <- data:
		default:
			dead = true
		}
	}
	h.mu.RUnlock()

	if dead {
		h.logger.Warn("dropping slow client", "client_id", c.id, "room", c.RoomCode())
		h.dropClient(c)
	}
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.socket.Close()
}
