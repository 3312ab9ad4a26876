package app

import (
	"github.com/wirehub/wirehub/pkg/hub"
	"github.com/wirehub/wirehub/pkg/rowdb"
)

// Logout signs a user out. The hub also triggers this synthetically when an
// authenticated session idles out, so it tolerates a half-gone session.
func (a *App) Logout(event hub.Event, vars map[string]any) hub.Event {
	h := a.hub
	data := session(event)

	from, _ := event["from"].(string)
	if err := h.Send(hub.Event{"type": "notify_logout", "to": "all", "from": from}, "", false); err != nil {
		logger.Warnf("broadcasting logout: %v", err)
	}

	// release the instance from this user
	if instance, ok := data["instance"].(string); ok && a.trackInstances {
		_, err := h.DB().UpdateRow(rowdb.Query{
			Table:  h.Table("instances"),
			Values: map[string]any{"uid": 0},
			Where:  map[string]any{"instance": instance},
		})
		if err != nil {
			logger.Debugf("releasing instance %s: %v", instance, err)
		}
	}

	delete(data, "uid")
	delete(data, "username")

	event["i"] = "logged out"
	return event
}
