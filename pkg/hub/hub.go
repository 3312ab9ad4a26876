// Package hub is the realtime event core: it owns the session registry,
// validates and dispatches inbound events to registered handlers, and routes
// replies and server-initiated notifications back to one, many, or all
// connected instances.
package hub

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/wirehub/wirehub/pkg/log"
	"github.com/wirehub/wirehub/pkg/rowdb"
)

var logger = log.For("hub")

// TimeFormat is the timestamp layout used in hub tables and clock events.
const TimeFormat = "2006-01-02 15:04:05"

// NullDateTime marks a disconnected timestamp column.
const NullDateTime = "1970-01-01 00:00:00"

var typePattern = regexp.MustCompile(`^[a-z][a-z_]*$`)

// Handler processes one event and returns the reply. Set reply["i"] for
// success info or reply["e"] for an error, never both.
type Handler func(event Event, vars map[string]any) Event

// Options configures a Hub.
type Options struct {
	DB             *rowdb.DB
	Prefix         string
	SessionTTL     time.Duration
	HandlerTimeout time.Duration
	Vars           map[string]any
}

// Hub dispatches events between transports, handlers and the row store.
type Hub struct {
	db       *rowdb.DB
	prefix   string
	registry *Registry
	vars     map[string]any

	handlerMu sync.RWMutex
	onfn      map[string]Handler
	apifn     map[string]Handler

	cfgMu          sync.RWMutex
	sessionTTL     time.Duration
	handlerTimeout time.Duration
}

// New builds a hub. The vars bag is injected into every handler invocation
// and carries a back-reference to the hub under "hub".
func New(opts Options) *Hub {
	vars := opts.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	h := &Hub{
		db:             opts.DB,
		prefix:         opts.Prefix,
		registry:       NewRegistry(),
		vars:           vars,
		onfn:           map[string]Handler{},
		apifn:          map[string]Handler{},
		sessionTTL:     opts.SessionTTL,
		handlerTimeout: opts.HandlerTimeout,
	}
	if h.sessionTTL == 0 {
		h.sessionTTL = 10 * time.Minute
	}
	vars["hub"] = h
	return h
}

// DB returns the hub's row store.
func (h *Hub) DB() *rowdb.DB {
	return h.db
}

// Table returns a hub table name with the configured prefix applied.
func (h *Hub) Table(name string) string {
	return h.prefix + name
}

// Registry returns the session registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// SetSessionTTL adjusts the idle-session threshold at runtime.
func (h *Hub) SetSessionTTL(ttl time.Duration) {
	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()
	h.sessionTTL = ttl
}

// SetHandlerTimeout adjusts the per-event handler timeout at runtime. Zero
// disables the timeout.
func (h *Hub) SetHandlerTimeout(timeout time.Duration) {
	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()
	h.handlerTimeout = timeout
}

func (h *Hub) currentTimeout() time.Duration {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.handlerTimeout
}

func (h *Hub) currentTTL() time.Duration {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.sessionTTL
}

// On registers a handler that requires a bound username.
func (h *Hub) On(eventType string, fn Handler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.onfn[eventType] = fn
}

// Api registers a handler that any connection may invoke.
func (h *Hub) Api(eventType string, fn Handler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.apifn[eventType] = fn
}

// Accept binds a fresh session to a newly connected transport connection.
func (h *Hub) Accept(conn Conn) {
	session := h.registry.Create("")
	h.registry.Bind(session, conn)
}

// Drop detaches a disconnected connection and runs housekeeping. The session
// survives until GC so the client can reconnect with its instance id.
func (h *Hub) Drop(conn Conn) {
	h.registry.Unbind(conn)
	h.GC()
}

// Dispatch runs the full pipeline for one inbound event and returns the
// shaped reply: shape validation, identity attach, _instance handling,
// handler resolution and invocation, reply shaping, garbage collection.
func (h *Hub) Dispatch(conn Conn, event Event) Event {
	// shape validation: _id is the only client-visible underscore key
	for key := range event {
		if strings.HasPrefix(key, "_") && key != IDKey {
			event["e"] = "malformed--property"
			return h.shapeReply(event)
		}
	}
	typeVal, ok := event["type"]
	if !ok {
		event["e"] = "malformed--type"
		return h.shapeReply(event)
	}
	typeStr, isStr := typeVal.(string)
	if !isStr || (!typePattern.MatchString(typeStr) && typeStr != "_instance") {
		event["e"] = "malformed--type:" + fmt.Sprintf("%v", typeVal)
		return h.shapeReply(event)
	}

	session := h.registry.SessionFor(conn)
	if session == nil {
		session = h.registry.Create("")
		h.registry.Bind(session, conn)
	}

	// identity attach: from is owned by the session binding
	if username := session.Username(); username != "" {
		event["from"] = username
	} else {
		delete(event, "from")
	}

	if typeStr == "_instance" {
		session = h.resolveInstance(conn, session, event)
	}

	data := session.Data()
	data["instance"] = session.Instance
	event[SessionKey] = data
	event[ConnKey] = conn

	reply := h.Trigger(event)

	// sanctioned session mutation flows back through _session
	if updated, ok := reply[SessionKey].(map[string]any); ok {
		delete(updated, "instance")
		session.SetData(updated)
	}

	if typeStr == "_instance" {
		if e, ok := reply["e"].(string); ok && e == "unimplemented" {
			delete(reply, "e")
		}
	}

	shaped := h.shapeReply(reply)
	h.GC()
	return shaped
}

// resolveInstance handles the _instance event: rebind to a known instance,
// adopt a plausible instance id from a client that outlived a restart, or
// keep the freshly minted one.
func (h *Hub) resolveInstance(conn Conn, session *Session, event Event) *Session {
	created := "created"
	supplied, _ := event["instance"].(string)

	if supplied != "" {
		if known := h.registry.Resolve(supplied); known != nil {
			if known != session {
				h.registry.Bind(known, conn)
				if len(session.Conns()) == 0 {
					h.registry.Remove(session)
				}
				session = known
			}
			created = "retrieved"
		} else if ValidInstanceID(supplied) {
			recreated := h.registry.Create(supplied)
			h.registry.Bind(recreated, conn)
			if len(session.Conns()) == 0 {
				h.registry.Remove(session)
			}
			session = recreated
			created = "recreated"
		}
	}

	event["instance"] = session.Instance
	event["i"] = "instance " + created
	return session
}

// Trigger resolves and invokes the handler for an event. An event that
// already carries an error passes through untouched. Handler panics become
// the reply's e with the stack attached under e_stacktrace; a stalled
// handler yields a timeout error after the configured deadline.
func (h *Hub) Trigger(event Event) Event {
	typeStr, _ := event["type"].(string)
	if _, invoked := event["e"]; invoked {
		return event
	}

	h.handlerMu.RLock()
	onHandler := h.onfn[typeStr]
	apiHandler := h.apifn[typeStr]
	h.handlerMu.RUnlock()

	handler := onHandler
	if handler == nil {
		handler = apiHandler
	}

	cloneWithRefs := func() Event {
		clone := CloneEvent(event, SessionKey, ConnKey)
		if v, ok := event[SessionKey]; ok {
			clone[SessionKey] = v
		}
		if v, ok := event[ConnKey]; ok {
			clone[ConnKey] = v
		}
		return clone
	}

	if handler == nil {
		reply := cloneWithRefs()
		reply["e"] = "unimplemented"
		return reply
	}

	reply := cloneWithRefs()

	// authenticate: on handlers need a bound username unless an api
	// fallback exists
	if onHandler != nil {
		if from, _ := reply["from"].(string); from == "" {
			if apiHandler != nil {
				handler = apiHandler
			} else {
				reply["e"] = "unauthenticated"
				return reply
			}
		}
	}

	done := make(chan Event, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				failed := cloneWithRefs()
				failed["e"] = fmt.Sprintf("%v", r)
				failed["e_stacktrace"] = string(debug.Stack())
				done <- failed
			}
		}()
		done <- handler(reply, h.vars)
	}()

	timeout := h.currentTimeout()
	var out Event
	if timeout > 0 {
		select {
		case out = <-done:
		case <-time.After(timeout):
			out = cloneWithRefs()
			out["e"] = "timeout"
			logger.Warnf("handler for %s exceeded %v", typeStr, timeout)
		}
	} else {
		out = <-done
	}

	// a handler that lost the event shape reports a bare error value
	if _, ok := out["type"]; !ok {
		failed := cloneWithRefs()
		if e, hasE := out["e"]; hasE {
			failed["e"] = e
		} else {
			failed["e"] = fmt.Sprintf("%v", map[string]any(out))
		}
		out = failed
	}

	return out
}

// shapeReply strips hub-internal keys and logs any captured stack trace.
// Key ordering on the wire is applied by MarshalOrdered at the transport.
func (h *Hub) shapeReply(reply Event) Event {
	if trace, ok := reply["e_stacktrace"].(string); ok {
		logger.Errorf("handler error %v\n%s", reply["e"], trace)
		delete(reply, "e_stacktrace")
	}
	delete(reply, SessionKey)
	delete(reply, ConnKey)
	return reply
}

// Send routes a server-initiated event to an instance id, a username (all
// its sessions), or the literal "all". Application code may intercept
// through the reserved __send handler; an unimplemented hook falls through
// to direct delivery. Recipients with no live connection get the event
// queued for their next poll; unknown recipients are an error.
func (h *Hub) Send(event Event, recipient string, emitOnly bool) error {
	if !emitOnly {
		clone := CloneEvent(event, SessionKey, ConnKey, IDKey, "__id")
		if id, ok := event[IDKey]; ok {
			clone["__id"] = id
		}
		ret := h.Trigger(Event{"type": "__send", "event": map[string]any(clone)})
		if e, ok := ret["e"]; ok && e == "unimplemented" {
			return h.Send(clone, recipient, true)
		}
		return nil
	}

	address := recipient
	if address == "" {
		address, _ = event["to"].(string)
	}
	if address == "" {
		return errors.New("no recipient")
	}

	var sessions []*Session
	switch {
	case address == "all":
		sessions = h.registry.All()
	default:
		if session := h.registry.Resolve(address); session != nil {
			sessions = []*Session{session}
		} else {
			sessions = h.registry.ByUsername(address)
		}
	}

	if len(sessions) == 0 {
		if address == "all" {
			return nil
		}
		if ValidInstanceID(address) {
			return h.queueEvent(address, event)
		}
		return fmt.Errorf("no sessions for recipient %s", address)
	}

	for _, session := range sessions {
		conns := session.Conns()
		if len(conns) == 0 {
			if err := h.queueEvent(session.Instance, event); err != nil {
				return err
			}
			continue
		}
		for _, conn := range conns {
			conn.Emit(CloneEvent(event, SessionKey, ConnKey))
		}
	}
	return nil
}

// queueEvent stores an event for later delivery on the recipient's next
// poll cycle.
func (h *Hub) queueEvent(instance string, event Event) error {
	encoded, err := MarshalOrdered(CloneEvent(event, SessionKey, ConnKey))
	if err != nil {
		return fmt.Errorf("encoding queued event: %w", err)
	}
	_, err = h.db.InsertRow(rowdb.Query{
		Table: h.Table("queue"),
		Values: map[string]any{
			"sid":     instance,
			"event":   string(encoded),
			"touched": time.Now().Format(TimeFormat),
		},
	})
	if err != nil {
		return fmt.Errorf("queueing event for %s: %w", instance, err)
	}
	return nil
}

// Receive appends queued server-to-client events for a session onto an
// outgoing batch through the reserved __receive handler.
func (h *Hub) Receive(events []Event, sessionData map[string]any) []Event {
	ret := h.Trigger(Event{"type": "__receive", SessionKey: sessionData})
	if e, ok := ret["e"]; ok && e == "unimplemented" {
		return events
	}
	switch queue := ret["eventQueue"].(type) {
	case []Event:
		events = append(events, queue...)
	case []any:
		for _, item := range queue {
			if m, ok := item.(map[string]any); ok {
				events = append(events, Event(m))
			}
		}
	}
	return events
}

// GC reclaims idle zero-connection sessions, emitting a synthetic logout
// for any that still had a bound user.
func (h *Hub) GC() {
	for _, session := range h.registry.Reap(h.currentTTL()) {
		username := session.Username()
		if username == "" {
			continue
		}
		data := session.Data()
		data["instance"] = session.Instance
		reply := h.Trigger(Event{"type": "logout", "from": username, SessionKey: data})
		if e, ok := reply["e"]; ok && e != "unimplemented" {
			logger.Warnf("synthetic logout for %s: %v", username, e)
		}
	}
}

// Run drives the once-per-second clock tick and flushes queued events to
// live socket sessions until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckClock()
			h.GC()
			h.flushQueues()
		}
	}
}

func (h *Hub) flushQueues() {
	for _, session := range h.registry.All() {
		conns := session.Conns()
		if len(conns) == 0 {
			continue
		}
		data := session.Data()
		data["instance"] = session.Instance
		for _, event := range h.Receive(nil, data) {
			for _, conn := range conns {
				conn.Emit(CloneEvent(event, SessionKey, ConnKey))
			}
		}
	}
}
