package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection. Once bound to a room it carries the
// caller's logical identity; the room keeps a reference to the client so
// reconnects can swap it out.
type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte

	mu          sync.Mutex
	roomCode    string
	identity    string
	displayName string
	isOwner     bool
}

func (c *Client) bind(roomCode, identity, displayName string, owner bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomCode = roomCode
	c.identity = identity
	if displayName != "" {
		c.displayName = displayName
	}
	c.isOwner = owner
}

func (c *Client) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Warn("malformed message", "client_id", c.id, "error", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer c.socket.Close()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

// handleMessage is the one-dispatch-per-tag entry point for inbound
// events. Rejections go back to this connection only.
func (c *Client) handleMessage(msg Message) {
	battle := c.hub.battle

	switch msg.Type {
	case EvtPing:
		c.sendEvent(EvtPong, map[string]any{"timestamp": time.Now().UnixMilli()})

	case EvtCreateRoom:
		var req CreateRoomRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := battle.CreateRoom(c, req); err != nil {
			c.sendError(msg.Type, err)
		}

	case EvtJoinRoom:
		var req JoinRoomRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := battle.JoinRoom(c, req); err != nil {
			c.sendError(msg.Type, err)
		}

	case EvtStartRound:
		var req StartRoundRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := battle.StartRound(context.Background(), c, req); err != nil {
			if ErrorCode(err) == "exhausted" {
				c.sendEvent(EvtNoMoreQuestions, ErrorPayload{Code: "exhausted", Message: err.Error()})
				return
			}
			c.sendError(msg.Type, err)
		}

	case EvtSubmit:
		var req SubmitRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := battle.SubmitInteraction(c, req); err != nil {
			// Stale and duplicate submissions get an explicit rejection,
			// never silence.
			c.sendEvent(EvtSubmissionRejected, ErrorPayload{
				Event:   msg.Type,
				Code:    ErrorCode(err),
				Message: err.Error(),
			})
		}

	case EvtTimeUp:
		var req TimeUpRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := battle.TimeUp(c, req); err != nil {
			c.sendError(msg.Type, err)
		}

	case EvtEndBattle:
		var req EndBattleRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := battle.EndBattle(c, req); err != nil {
			c.sendError(msg.Type, err)
		}

	case EvtReconnect:
		var req ReconnectRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := battle.Reconnect(c, req); err != nil {
			c.sendError(msg.Type, err)
		}

	default:
		c.hub.logger.Warn("unknown message type", "client_id", c.id, "type", msg.Type)
		c.sendError(msg.Type, ErrInvalidState)
	}
}

func (c *Client) decode(msg Message, out any) bool {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		c.sendError(msg.Type, ErrInvalidState)
		return false
	}
	return true
}

func (c *Client) sendError(event string, err error) {
	c.sendEvent(EvtError, ErrorPayload{
		Event:   event,
		Code:    ErrorCode(err),
		Message: err.Error(),
	})
}

func (c *Client) sendEvent(eventType string, payload any) {
	c.hub.SendToClient(c, eventType, payload)
}
