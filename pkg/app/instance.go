package app

import (
	"time"

	"github.com/wirehub/wirehub/pkg/hub"
	"github.com/wirehub/wirehub/pkg/rowdb"
)

// Instance persists an instance row when a client announces itself, so
// events can be addressed to it even across reconnects. A page reload
// presents an existing instance on a fresh connection; that refreshes the
// row instead of inserting.
func (a *App) Instance(event hub.Event, vars map[string]any) hub.Event {
	if !a.trackInstances {
		return event
	}
	h := a.hub

	data := session(event)
	instance, _ := data["instance"].(string)
	if instance == "" {
		return event
	}
	uid := intFrom(data["uid"])
	now := time.Now().Format(hub.TimeFormat)

	row, err := h.DB().ReadOneRow(rowdb.Query{
		Table: h.Table("instances"),
		Where: map[string]any{"instance": instance},
	})
	if err != nil {
		logger.Errorf("reading instance %s: %v", instance, err)
		event["e"] = "internal error"
		return event
	}

	if row == nil {
		_, err := h.DB().InsertRow(rowdb.Query{
			Table: h.Table("instances"),
			Values: map[string]any{
				"instance":  instance,
				"sid":       "",
				"uid":       uid,
				"connected": now,
				"touched":   now,
			},
		})
		if err != nil {
			logger.Errorf("inserting instance %s: %v", instance, err)
			event["e"] = "internal error"
			return event
		}
		if err := h.Send(hub.Event{"type": "notify_instance", "to": "all"}, "", false); err != nil {
			logger.Warnf("broadcasting instance: %v", err)
		}
	} else {
		_, err := h.DB().UpdateRow(rowdb.Query{
			Table:  h.Table("instances"),
			Values: map[string]any{"sid": "", "uid": uid, "touched": now},
			Where:  map[string]any{"instance": instance},
		})
		if err != nil {
			logger.Errorf("refreshing instance %s: %v", instance, err)
			event["e"] = "internal error"
			return event
		}
	}

	return event
}
