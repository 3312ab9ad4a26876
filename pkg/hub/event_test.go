package hub

import (
	"testing"
)

func TestMarshalOrderedKeyOrder(t *testing.T) {
	event := Event{
		"zeta":     1,
		"alpha":    2,
		"e":        "oops",
		"i":        "done",
		"type":     "thing",
		"to":       "bob",
		"from":     "alice",
		IDKey:      7,
		SessionKey: map[string]any{"username": "alice"},
		ConnKey:    "never",
	}

	out, err := MarshalOrdered(event)
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}

	want := `{"type":"thing","from":"alice","to":"bob","_id":7,"alpha":2,"zeta":1,"i":"done","e":"oops"}`
	if string(out) != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestMarshalOrderedOmitsAbsentKeys(t *testing.T) {
	out, err := MarshalOrdered(Event{"type": "ping"})
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	if string(out) != `{"type":"ping"}` {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestCloneEventIsolation(t *testing.T) {
	original := Event{
		"type": "thing",
		"data": map[string]any{"count": 3},
	}

	clone := CloneEvent(original)
	clone["data"].(map[string]any)["count"] = 99

	if got := original["data"].(map[string]any)["count"]; got != 3 {
		t.Errorf("clone mutation leaked into original: %v", got)
	}
}

func TestCloneEventNormalizesWholeFloats(t *testing.T) {
	clone := CloneEvent(Event{
		"count": 3,
		"ratio": 2.5,
		"inner": map[string]any{"uid": 7},
	})

	if got, ok := clone["count"].(int); !ok || got != 3 {
		t.Errorf("expected int 3, got %T %v", clone["count"], clone["count"])
	}
	if got, ok := clone["ratio"].(float64); !ok || got != 2.5 {
		t.Errorf("expected float64 2.5, got %T %v", clone["ratio"], clone["ratio"])
	}
	inner := clone["inner"].(map[string]any)
	if got, ok := inner["uid"].(int); !ok || got != 7 {
		t.Errorf("expected nested int 7, got %T %v", inner["uid"], inner["uid"])
	}
}

func TestCloneEventNormalizesFloatsInArrays(t *testing.T) {
	clone := CloneEvent(Event{
		"ids":    []any{1, 2, 3},
		"mixed":  []any{1.5, 2},
		"nested": []any{map[string]any{"uid": 7}},
	})

	ids := clone["ids"].([]any)
	for i, id := range ids {
		if got, ok := id.(int); !ok {
			t.Errorf("ids[%d]: expected int, got %T %v", i, id, id)
		} else if got != i+1 {
			t.Errorf("ids[%d]: expected %d, got %d", i, i+1, got)
		}
	}

	mixed := clone["mixed"].([]any)
	if got, ok := mixed[0].(float64); !ok || got != 1.5 {
		t.Errorf("expected float64 1.5, got %T %v", mixed[0], mixed[0])
	}
	if got, ok := mixed[1].(int); !ok || got != 2 {
		t.Errorf("expected int 2, got %T %v", mixed[1], mixed[1])
	}

	inner := clone["nested"].([]any)[0].(map[string]any)
	if got, ok := inner["uid"].(int); !ok || got != 7 {
		t.Errorf("expected int 7 inside array element, got %T %v", inner["uid"], inner["uid"])
	}
}

func TestCloneEventSkipsKeys(t *testing.T) {
	original := Event{
		"type":  "thing",
		ConnKey: struct{ unserializable chan int }{},
	}

	clone := CloneEvent(original, ConnKey)

	if _, ok := clone[ConnKey]; ok {
		t.Error("skipped key leaked into clone")
	}
	if _, ok := original[ConnKey]; !ok {
		t.Error("skipped key lost from original")
	}
}

func TestInstanceIDs(t *testing.T) {
	id := NewInstanceID()
	if !ValidInstanceID(id) {
		t.Errorf("minted id %q failed validation", id)
	}
	if ValidInstanceID("short") {
		t.Error("short id passed validation")
	}
	if ValidInstanceID("abcdefghijklmnopqrstuvwx!") {
		t.Error("punctuation id passed validation")
	}
}
