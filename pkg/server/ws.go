package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wirehub/wirehub/pkg/hub"
)

type wsClient struct {
	id   string
	conn *websocket.Conn

	once sync.Once
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *wsClient) ID() string {
	return c.id
}

// Emit serializes and queues an event for the socket. A client that cannot
// keep up loses the event rather than backpressuring the hub.
func (c *wsClient) Emit(event hub.Event) {
	encoded, err := hub.MarshalOrdered(event)
	if err != nil {
		logger.Errorf("encoding event for %s: %v", c.id, err)
		return
	}
	select {
	case c.send <- encoded:
	default:
		logger.Warnf("socket client %s too slow, dropping event", c.id)
	}
}

func (c *wsClient) writePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			logger.Debugf("closing socket %s: %v", c.id, err)
		}
	}()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade error: %v", err)
		return
	}

	client := newWSClient(conn)
	s.hub.Accept(client)
	logger.Debugf("socket client %s connected from %s", client.id, r.RemoteAddr)

	defer func() {
		s.hub.Drop(client)
		client.close()
		logger.Debugf("socket client %s disconnected", client.id)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var event hub.Event
		if err := json.Unmarshal(message, &event); err != nil {
			client.Emit(hub.Event{"e": "malformed--json"})
			continue
		}

		client.Emit(s.hub.Dispatch(client, event))
	}
}
