package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/behave/internal/core/events/bus"
	"github.com/zeusync/behave/internal/core/observability/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// EventMessage is what clients send: an event for one actor, or for every
// actor when Target is empty.
type EventMessage struct {
	Target string `json:"target"`
	Event  string `json:"event"`
}

// ErrorMessage is sent back when a client message cannot be published.
type ErrorMessage struct {
	Error string `json:"error"`
	Event string `json:"event,omitempty"`
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	actors map[string]bool
}

func newClient(conn *websocket.Conn, actors []string, buffer int) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	if len(actors) > 0 {
		c.actors = make(map[string]bool, len(actors))
		for _, a := range actors {
			c.actors[a] = true
		}
	}
	return c
}

// watches reports whether status reports of actor go to this client. A
// client that named no actors sees all of them.
func (c *client) watches(actor string) bool {
	return c.actors == nil || c.actors[actor]
}

func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// handleWebSocket upgrades the request. Query parameter "actor" may be given
// several times to limit the status reports the client receives.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	if s.config.MaxClients > 0 && s.ClientCount() >= s.config.MaxClients {
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", log.Error(err))
		return
	}
	conn.SetReadLimit(s.config.MaxMessageSize)

	c := newClient(conn, r.URL.Query()["actor"], s.config.MessageBufferSize)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.clientCount.Add(1)
	s.logger.Info("Client connected",
		log.String("client", c.id),
		log.String("remote_addr", conn.RemoteAddr().String()))

	go s.writeLoop(c)
	s.readLoop(c)

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.clientCount.Add(-1)
	c.close()
	s.logger.Info("Client disconnected", log.String("client", c.id))
}

func (s *Server) readLoop(c *client) {
	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Client read failed", log.String("client", c.id), log.Error(err))
			}
			return
		}

		var msg EventMessage
		if err = json.Unmarshal(p, &msg); err != nil || msg.Event == "" {
			s.reply(c, ErrorMessage{Error: fmt.Sprintf("%v: want {\"target\",\"event\"}", ErrInvalidMessage)})
			continue
		}

		ev := bus.NewEvent(msg.Event, "ws", msg.Target, nil, map[string]any{"client": c.id})
		if err = s.bus.PublishToTopic(s.config.Topic, ev); err != nil {
			s.logger.Debug("Client event not delivered",
				log.String("client", c.id), log.String("event", msg.Event), log.Error(err))
			s.reply(c, ErrorMessage{Error: err.Error(), Event: msg.Event})
		}
	}
}

func (s *Server) reply(c *client, m ErrorMessage) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.enqueue(b)
}

// writeLoop is the only writer of the connection.
func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("Client write failed", log.String("client", c.id), log.Error(err))
				c.close()
				return
			}
		}
	}
}
