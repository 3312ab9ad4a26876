package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/wirehub/wirehub/pkg/hub"
)

// pollConn is the transient connection a single long-poll request presents to
// the hub. Events pushed while the request is held arrive on ch.
type pollConn struct {
	id string
	ch chan hub.Event
}

func newPollConn() *pollConn {
	return &pollConn{
		id: uuid.NewString(),
		ch: make(chan hub.Event, 64),
	}
}

func (c *pollConn) ID() string {
	return c.id
}

func (c *pollConn) Emit(event hub.Event) {
	select {
	case c.ch <- event:
	default:
	}
}

// HandlePoll dispatches a batch of events and returns the replies plus any
// queued server-to-client events. An empty batch with nothing queued holds
// the request open up to the configured wait so pushes arrive promptly.
func (s *Server) HandlePoll(w http.ResponseWriter, r *http.Request) {
	var events []hub.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid body", "Request body must be a JSON array of events")
		return
	}

	conn := newPollConn()
	registry := s.hub.Registry()

	// a returning client names its instance so pushes reach it while the
	// request is held; the _instance event covers the first contact
	if instance := r.URL.Query().Get("instance"); instance != "" {
		if session := registry.Resolve(instance); session != nil {
			registry.Bind(session, conn)
		}
	}
	if registry.SessionFor(conn) == nil {
		s.hub.Accept(conn)
	}
	defer s.hub.Drop(conn)

	replies := make([]hub.Event, 0, len(events))
	for _, event := range events {
		replies = append(replies, s.hub.Dispatch(conn, event))
	}

	if session := registry.SessionFor(conn); session != nil {
		data := session.Data()
		data["instance"] = session.Instance
		replies = s.hub.Receive(replies, data)
	}

	// drain pushes that raced the dispatch loop
	for {
		select {
		case event := <-conn.ch:
			replies = append(replies, event)
			continue
		default:
		}
		break
	}

	if len(replies) == 0 {
		select {
		case event := <-conn.ch:
			replies = append(replies, event)
		case <-time.After(s.currentPollMaxWait()):
		case <-r.Context().Done():
			return
		}
	}

	s.writeEvents(w, replies)
}
