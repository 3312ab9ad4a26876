package hub

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Event is one wire message: a JSON object keyed by string. The hub attaches
// SessionKey and ConnKey while dispatching; both are stripped before a reply
// is serialized.
type Event map[string]any

const (
	// SessionKey holds the session data bag while a handler runs.
	SessionKey = "_session"
	// ConnKey holds the connection binding; never serialized.
	ConnKey = "_conn"
	// IDKey is the sender-assigned correlation id, round-tripped verbatim.
	IDKey = "_id"
)

// firstKeys and lastKeys pin the serialized key order clients depend on.
var firstKeys = []string{"type", "from", "to", IDKey}
var lastKeys = []string{"i", "e"}

// CloneEvent deep-copies an event through JSON, skipping the named keys.
// Whole-numbered float values become ints so session data survives repeated
// cloning with stable types.
func CloneEvent(event Event, keysToSkip ...string) Event {
	saved := Event{}
	for _, key := range keysToSkip {
		if value, exists := event[key]; exists {
			saved[key] = value
			delete(event, key)
		}
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("cloning event: %v", err)
	}
	clone := Event{}
	if err := json.Unmarshal(encoded, &clone); err != nil {
		logger.Errorf("cloning event: %v", err)
	}
	normalizeNumbers(clone)

	for key, value := range saved {
		event[key] = value
	}
	return clone
}

func normalizeNumbers(m map[string]any) {
	for key, value := range m {
		m[key] = normalizeValue(value)
	}
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case float64:
		if n := int(v); float64(n) == v {
			return n
		}
	case map[string]any:
		normalizeNumbers(v)
	case []any:
		for i, elem := range v {
			v[i] = normalizeValue(elem)
		}
	}
	return value
}

// MarshalOrdered serializes an event with the contract key order: type,
// from, to, _id first, remaining keys sorted, i and e last. Hub-internal
// keys are dropped.
func MarshalOrdered(event Event) ([]byte, error) {
	pinned := map[string]bool{SessionKey: true, ConnKey: true}
	for _, key := range firstKeys {
		pinned[key] = true
	}
	for _, key := range lastKeys {
		pinned[key] = true
	}

	middle := make([]string, 0, len(event))
	for key := range event {
		if !pinned[key] {
			middle = append(middle, key)
		}
	}
	sort.Strings(middle)

	ordered := make([]string, 0, len(event))
	for _, key := range firstKeys {
		if _, ok := event[key]; ok {
			ordered = append(ordered, key)
		}
	}
	ordered = append(ordered, middle...)
	for _, key := range lastKeys {
		if _, ok := event[key]; ok {
			ordered = append(ordered, key)
		}
	}

	out := []byte{'{'}
	for i, key := range ordered {
		if i > 0 {
			out = append(out, ',')
		}
		keyBytes, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("encoding event key %s: %w", key, err)
		}
		valueBytes, err := json.Marshal(event[key])
		if err != nil {
			return nil, fmt.Errorf("encoding event value for %s: %w", key, err)
		}
		out = append(out, keyBytes...)
		out = append(out, ':')
		out = append(out, valueBytes...)
	}
	out = append(out, '}')
	return out, nil
}
