package app

import (
	"github.com/wirehub/wirehub/pkg/hub"
	"github.com/wirehub/wirehub/pkg/rowdb"
)

// ReceiveQueue drains events queued for a session's instance while it was
// offline. Delivered rows are deleted as they are collected. A session with
// no instance reports unimplemented so delivery falls back to the hub's
// in-memory path.
func (a *App) ReceiveQueue(event hub.Event, vars map[string]any) hub.Event {
	h := a.hub

	instance, ok := session(event)["instance"].(string)
	if !ok || instance == "" {
		event["e"] = "unimplemented"
		return event
	}

	rows, err := h.DB().ReadRows(rowdb.Query{
		Table:   h.Table("queue"),
		Where:   map[string]any{"sid": instance},
		OrderBy: "id ASC",
	})
	if err != nil {
		logger.Errorf("reading queue for %s: %v", instance, err)
		event["e"] = "internal error"
		return event
	}

	queue := []hub.Event{}
	for _, row := range rows {
		payload, ok := row["event"].(map[string]any)
		if !ok {
			logger.Warnf("dropping unparseable queued event %v", row["id"])
		}
		if err := h.DB().DeleteRow(rowdb.Query{
			Table: h.Table("queue"),
			Where: map[string]any{"id": row["id"]},
		}); err != nil {
			logger.Warnf("deleting queued event %v: %v", row["id"], err)
		}
		if ok {
			queue = append(queue, hub.Event(payload))
		}
	}
	event["eventQueue"] = queue

	return event
}
