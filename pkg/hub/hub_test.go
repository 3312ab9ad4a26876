package hub

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wirehub/wirehub/pkg/db"
	"github.com/wirehub/wirehub/pkg/rowdb"
)

type testConn struct {
	id string

	mu      sync.Mutex
	emitted []Event
}

func (c *testConn) ID() string { return c.id }

func (c *testConn) Emit(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, event)
}

func (c *testConn) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.emitted))
	copy(out, c.emitted)
	return out
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "hub.db")
	handle, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { handle.Close() })

	if err := db.InitializeDatabase(handle, ""); err != nil {
		t.Fatalf("initializing database: %v", err)
	}

	rdb := rowdb.New(handle, rowdb.Options{SortColumn: "n", JSONColumn: "json"})
	return New(Options{DB: rdb, SessionTTL: time.Minute})
}

func dispatch(t *testing.T, h *Hub, conn Conn, event Event) Event {
	t.Helper()
	return h.Dispatch(conn, event)
}

func TestDispatchMissingType(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}

	reply := dispatch(t, h, conn, Event{"hello": "world"})
	if reply["e"] != "malformed--type" {
		t.Errorf("expected malformed--type, got %v", reply["e"])
	}
}

func TestDispatchBadTypeValues(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}

	reply := dispatch(t, h, conn, Event{"type": 99})
	if reply["e"] != "malformed--type:99" {
		t.Errorf("expected malformed--type:99, got %v", reply["e"])
	}

	reply = dispatch(t, h, conn, Event{"type": "Bad-Type"})
	if reply["e"] != "malformed--type:Bad-Type" {
		t.Errorf("expected malformed--type:Bad-Type, got %v", reply["e"])
	}
}

func TestDispatchRejectsUnderscoreProperties(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}

	reply := dispatch(t, h, conn, Event{"type": "ping", "_sneaky": true})
	if reply["e"] != "malformed--property" {
		t.Errorf("expected malformed--property, got %v", reply["e"])
	}

	// _id is the one underscore key clients may send
	h.Api("ping", func(event Event, vars map[string]any) Event {
		event["i"] = "pong"
		return event
	})
	reply = dispatch(t, h, conn, Event{"type": "ping", IDKey: 42})
	if reply["e"] != nil {
		t.Fatalf("unexpected error: %v", reply["e"])
	}
	if got, ok := reply[IDKey].(int); !ok || got != 42 {
		t.Errorf("expected _id 42 round-tripped, got %v", reply[IDKey])
	}
}

func TestDispatchUnimplemented(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}

	reply := dispatch(t, h, conn, Event{"type": "no_such_thing"})
	if reply["e"] != "unimplemented" {
		t.Errorf("expected unimplemented, got %v", reply["e"])
	}
}

func TestDispatchStripsInternalKeys(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}
	h.Api("ping", func(event Event, vars map[string]any) Event {
		if _, ok := event[SessionKey]; !ok {
			t.Error("handler did not receive session data")
		}
		if _, ok := event[ConnKey]; !ok {
			t.Error("handler did not receive connection")
		}
		event["i"] = "pong"
		return event
	})

	reply := dispatch(t, h, conn, Event{"type": "ping"})
	if _, ok := reply[SessionKey]; ok {
		t.Error("_session leaked into reply")
	}
	if _, ok := reply[ConnKey]; ok {
		t.Error("_conn leaked into reply")
	}
	if reply["i"] != "pong" {
		t.Errorf("expected pong, got %v", reply["i"])
	}
}

func TestOnHandlerRequiresUsername(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}

	invoked := false
	h.On("private", func(event Event, vars map[string]any) Event {
		invoked = true
		event["i"] = "ok"
		return event
	})

	reply := dispatch(t, h, conn, Event{"type": "private"})
	if reply["e"] != "unauthenticated" {
		t.Errorf("expected unauthenticated, got %v", reply["e"])
	}
	if invoked {
		t.Error("handler ran for an unauthenticated connection")
	}

	bindUser(t, h, conn, "alice")

	reply = dispatch(t, h, conn, Event{"type": "private"})
	if reply["e"] != nil {
		t.Fatalf("unexpected error: %v", reply["e"])
	}
	if !invoked {
		t.Error("handler did not run after authentication")
	}
	if reply["from"] != "alice" {
		t.Errorf("expected from alice, got %v", reply["from"])
	}
}

func TestClientSuppliedFromIsOverwritten(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}
	h.Api("ping", func(event Event, vars map[string]any) Event {
		event["i"] = "pong"
		return event
	})

	reply := dispatch(t, h, conn, Event{"type": "ping", "from": "mallory"})
	if _, ok := reply["from"]; ok {
		t.Errorf("from survived on an unauthenticated connection: %v", reply["from"])
	}

	bindUser(t, h, conn, "alice")
	reply = dispatch(t, h, conn, Event{"type": "ping", "from": "mallory"})
	if reply["from"] != "alice" {
		t.Errorf("expected from alice, got %v", reply["from"])
	}
}

// bindUser authenticates a connection through a throwaway api handler that
// writes the username into the session data bag.
func bindUser(t *testing.T, h *Hub, conn Conn, username string) {
	t.Helper()
	eventType := "bind_" + strings.ToLower(username)
	h.Api(eventType, func(event Event, vars map[string]any) Event {
		session := event[SessionKey].(map[string]any)
		session["username"] = username
		event["i"] = "bound"
		return event
	})
	reply := h.Dispatch(conn, Event{"type": eventType})
	if reply["e"] != nil {
		t.Fatalf("binding %s: %v", username, reply["e"])
	}
}

func TestInstanceLifecycle(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}

	reply := dispatch(t, h, conn, Event{"type": "_instance"})
	if reply["e"] != nil {
		t.Fatalf("unexpected error: %v", reply["e"])
	}
	if reply["i"] != "instance created" {
		t.Errorf("expected instance created, got %v", reply["i"])
	}
	instance, _ := reply["instance"].(string)
	if !ValidInstanceID(instance) {
		t.Fatalf("minted instance %q is not valid", instance)
	}

	// a reconnect presenting a known instance rejoins its session
	conn2 := &testConn{id: "c2"}
	reply = dispatch(t, h, conn2, Event{"type": "_instance", "instance": instance})
	if reply["i"] != "instance retrieved" {
		t.Errorf("expected instance retrieved, got %v", reply["i"])
	}
	if reply["instance"] != instance {
		t.Errorf("expected instance %s, got %v", instance, reply["instance"])
	}

	// a plausible but unknown instance survives a server restart
	ghost := NewInstanceID()
	conn3 := &testConn{id: "c3"}
	reply = dispatch(t, h, conn3, Event{"type": "_instance", "instance": ghost})
	if reply["i"] != "instance recreated" {
		t.Errorf("expected instance recreated, got %v", reply["i"])
	}
	if reply["instance"] != ghost {
		t.Errorf("expected instance %s, got %v", ghost, reply["instance"])
	}

	// a garbage instance id gets a fresh one instead
	conn4 := &testConn{id: "c4"}
	reply = dispatch(t, h, conn4, Event{"type": "_instance", "instance": "junk"})
	if reply["i"] != "instance created" {
		t.Errorf("expected instance created, got %v", reply["i"])
	}
	minted, _ := reply["instance"].(string)
	if !ValidInstanceID(minted) || minted == ghost || minted == instance {
		t.Errorf("expected a fresh instance, got %q", minted)
	}
}

func TestInstanceRetrievedKeepsSessionData(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}

	reply := dispatch(t, h, conn, Event{"type": "_instance"})
	instance := reply["instance"].(string)
	bindUser(t, h, conn, "alice")

	conn2 := &testConn{id: "c2"}
	dispatch(t, h, conn2, Event{"type": "_instance", "instance": instance})

	session := h.Registry().SessionFor(conn2)
	if session == nil {
		t.Fatal("no session bound after retrieve")
	}
	if session.Username() != "alice" {
		t.Errorf("expected username alice, got %q", session.Username())
	}
}

func TestSendToUsername(t *testing.T) {
	h := newTestHub(t)
	alice := &testConn{id: "c1"}
	bob := &testConn{id: "c2"}
	bindUser(t, h, alice, "alice")
	bindUser(t, h, bob, "bob")

	err := h.Send(Event{"type": "notify_note", "to": "alice", "text": "hi"}, "", true)
	if err != nil {
		t.Fatalf("sending event: %v", err)
	}

	if got := len(alice.events()); got != 1 {
		t.Fatalf("expected 1 event for alice, got %d", got)
	}
	if got := alice.events()[0]["text"]; got != "hi" {
		t.Errorf("expected text hi, got %v", got)
	}
	if got := len(bob.events()); got != 0 {
		t.Errorf("expected no events for bob, got %d", got)
	}
}

func TestSendToAll(t *testing.T) {
	h := newTestHub(t)
	alice := &testConn{id: "c1"}
	bob := &testConn{id: "c2"}
	bindUser(t, h, alice, "alice")
	bindUser(t, h, bob, "bob")

	if err := h.Send(Event{"type": "notify_shutdown", "to": "all"}, "", true); err != nil {
		t.Fatalf("sending event: %v", err)
	}

	if len(alice.events()) != 1 || len(bob.events()) != 1 {
		t.Errorf("expected one event each, got %d and %d",
			len(alice.events()), len(bob.events()))
	}
}

func TestSendUnknownRecipientFails(t *testing.T) {
	h := newTestHub(t)
	err := h.Send(Event{"type": "notify_note", "to": "nobody"}, "", true)
	if err == nil {
		t.Error("expected an error for an unknown recipient")
	}
}

func TestSendHookInterceptsDelivery(t *testing.T) {
	h := newTestHub(t)
	alice := &testConn{id: "c1"}
	bindUser(t, h, alice, "alice")

	var intercepted Event
	h.Api("__send", func(event Event, vars map[string]any) Event {
		intercepted = Event(event["event"].(map[string]any))
		event["i"] = "sent"
		return event
	})

	if err := h.Send(Event{"type": "notify_note", "to": "alice", IDKey: 9}, "", false); err != nil {
		t.Fatalf("sending event: %v", err)
	}

	if intercepted == nil {
		t.Fatal("__send hook did not run")
	}
	if got, ok := intercepted["__id"].(int); !ok || got != 9 {
		t.Errorf("expected __id 9, got %v", intercepted["__id"])
	}
	if _, ok := intercepted[IDKey]; ok {
		t.Error("_id survived the __send rename")
	}
	if len(alice.events()) != 0 {
		t.Error("hook interception still delivered directly")
	}
}

func TestSendQueuesForOfflineSession(t *testing.T) {
	h := newTestHub(t)
	offline := h.Registry().Create("")

	event := Event{"type": "notify_note", "text": "later"}
	if err := h.Send(event, offline.Instance, true); err != nil {
		t.Fatalf("sending event: %v", err)
	}

	rows, err := h.DB().ReadRows(rowdb.Query{
		Table: "queue",
		Where: map[string]any{"sid": offline.Instance},
	})
	if err != nil {
		t.Fatalf("reading queue: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 queued row, got %d", len(rows))
	}
	queued, ok := rows[0]["event"].(map[string]any)
	if !ok {
		t.Fatalf("expected decoded event payload, got %T", rows[0]["event"])
	}
	if queued["text"] != "later" {
		t.Errorf("queued payload missing text: %v", queued)
	}
}

func TestReceiveDrainsHookQueue(t *testing.T) {
	h := newTestHub(t)
	h.Api("__receive", func(event Event, vars map[string]any) Event {
		event["eventQueue"] = []Event{{"type": "notify_note", "text": "queued"}}
		event["i"] = "received"
		return event
	})

	events := h.Receive(nil, map[string]any{"instance": NewInstanceID()})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0]["text"] != "queued" {
		t.Errorf("expected queued, got %v", events[0]["text"])
	}
}

func TestReceiveWithoutHookIsEmpty(t *testing.T) {
	h := newTestHub(t)
	events := h.Receive(nil, map[string]any{})
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestHandlerPanicBecomesError(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}
	h.Api("boom", func(event Event, vars map[string]any) Event {
		panic("kapow")
	})

	reply := dispatch(t, h, conn, Event{"type": "boom"})
	if reply["e"] != "kapow" {
		t.Errorf("expected kapow, got %v", reply["e"])
	}
	if _, ok := reply["e_stacktrace"]; ok {
		t.Error("stack trace leaked into reply")
	}
}

func TestHandlerTimeout(t *testing.T) {
	h := newTestHub(t)
	h.SetHandlerTimeout(20 * time.Millisecond)
	conn := &testConn{id: "c1"}
	h.Api("slow", func(event Event, vars map[string]any) Event {
		time.Sleep(500 * time.Millisecond)
		event["i"] = "done"
		return event
	})

	reply := dispatch(t, h, conn, Event{"type": "slow"})
	if reply["e"] != "timeout" {
		t.Errorf("expected timeout, got %v", reply["e"])
	}
}

func TestHandlerLosingEventShapeReportsError(t *testing.T) {
	h := newTestHub(t)
	conn := &testConn{id: "c1"}
	h.Api("odd", func(event Event, vars map[string]any) Event {
		return Event{"e": "went sideways"}
	})

	reply := dispatch(t, h, conn, Event{"type": "odd"})
	if reply["e"] != "went sideways" {
		t.Errorf("expected went sideways, got %v", reply["e"])
	}
	if reply["type"] != "odd" {
		t.Errorf("expected original type preserved, got %v", reply["type"])
	}
}

func TestGCEmitsSyntheticLogout(t *testing.T) {
	h := newTestHub(t)
	h.SetSessionTTL(time.Millisecond)
	conn := &testConn{id: "c1"}
	bindUser(t, h, conn, "alice")
	instance := h.Registry().SessionFor(conn).Instance

	var loggedOut string
	h.On("logout", func(event Event, vars map[string]any) Event {
		loggedOut, _ = event["from"].(string)
		event["i"] = "logged out"
		return event
	})

	h.Drop(conn)
	time.Sleep(10 * time.Millisecond)
	h.GC()

	if loggedOut != "alice" {
		t.Errorf("expected synthetic logout for alice, got %q", loggedOut)
	}
	if h.Registry().Resolve(instance) != nil {
		t.Error("session survived GC")
	}
}

func TestCheckClockPersistsGlobalVars(t *testing.T) {
	h := newTestHub(t)

	ticks := 0
	h.Api("__clock", func(event Event, vars map[string]any) Event {
		globalVars := event["globalVars"].(map[string]any)
		count := 0
		switch v := globalVars["count"].(type) {
		case int:
			count = v
		case float64:
			count = int(v)
		}
		globalVars["count"] = count + 1
		ticks++
		event["i"] = "ticked"
		return event
	})

	h.CheckClock()
	h.CheckClock()

	if ticks != 2 {
		t.Fatalf("expected 2 ticks, got %d", ticks)
	}

	doc, err := h.DB().ReadOneRow(rowdb.Query{
		Table: "locks",
		Where: map[string]any{"name": "global"},
	})
	if err != nil {
		t.Fatalf("reading global vars: %v", err)
	}
	if doc == nil {
		t.Fatal("global vars row missing")
	}
	vars, _ := doc["vars"].(map[string]any)
	if fmt.Sprintf("%v", vars["count"]) != "2" {
		t.Errorf("expected count 2, got %v", vars["count"])
	}
	if _, ok := vars["_lastTick"]; !ok {
		t.Error("_lastTick not persisted")
	}
}

func TestCheckClockLockIsExclusive(t *testing.T) {
	h := newTestHub(t)

	if !h.lockGlobalVars() {
		t.Fatal("first lock acquisition failed")
	}
	if h.lockGlobalVars() {
		t.Error("second lock acquisition succeeded while held")
	}
	h.unlockGlobalVars()
	if !h.lockGlobalVars() {
		t.Error("reacquisition after release failed")
	}
	h.unlockGlobalVars()
}

func TestExpirySweeps(t *testing.T) {
	h := newTestHub(t)
	old := time.Now().Add(-time.Hour).Format(TimeFormat)

	_, err := h.DB().InsertRow(rowdb.Query{
		Table: "instances",
		Values: map[string]any{
			"instance":  NewInstanceID(),
			"connected": old,
			"touched":   old,
			"sid":       "",
			"uid":       0,
		},
	})
	if err != nil {
		t.Fatalf("inserting instance: %v", err)
	}

	if err := h.UpdateExpired("instances", 60, ""); err != nil {
		t.Fatalf("updating expired: %v", err)
	}
	doc, err := h.DB().ReadOneRow(rowdb.Query{Table: "instances", Where: map[string]any{}})
	if err != nil {
		t.Fatalf("reading instance: %v", err)
	}
	if doc["connected"] != NullDateTime {
		t.Errorf("expected nulled connected, got %v", doc["connected"])
	}

	if err := h.DeleteExpired("instances", 60, ""); err != nil {
		t.Fatalf("deleting expired: %v", err)
	}
	doc, err = h.DB().ReadOneRow(rowdb.Query{Table: "instances", Where: map[string]any{}})
	if err != nil {
		t.Fatalf("reading instance: %v", err)
	}
	if doc != nil {
		t.Error("expired instance row survived the sweep")
	}
}
