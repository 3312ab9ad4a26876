package app

import (
	"time"

	"github.com/wirehub/wirehub/pkg/hub"
	"github.com/wirehub/wirehub/pkg/rowdb"
)

// Login signs a user in: the "to" field carries the account email. The
// password check runs against a fallback hash when the account does not
// exist so response timing does not reveal valid emails.
func (a *App) Login(event hub.Event, vars map[string]any) hub.Event {
	h := a.hub

	email := requirePattern(event, "to", emailPattern)
	password := requireString(event, "pwd")
	delete(event, "pwd")

	me, err := h.DB().ReadOneRow(rowdb.Query{
		Table: h.Table("users"),
		Where: map[string]any{"email": email},
	})
	if err != nil {
		logger.Errorf("reading user %s: %v", email, err)
		event["e"] = "unauthenticated"
		return event
	}

	hashed := ""
	if me != nil {
		hashed, _ = me["pwd"].(string)
	}
	if !verifyPassword(password, hashed) || me == nil {
		event["e"] = "unauthenticated"
		return event
	}

	username, _ := me["username"].(string)
	uid := intFrom(me["uid"])

	data := session(event)
	data["username"] = username
	data["uid"] = uid
	event["from"] = username
	event["username"] = username
	event["me"] = map[string]any{"roles": me["roles"]}

	now := time.Now().Format(hub.TimeFormat)
	_, err = h.DB().UpdateRow(rowdb.Query{
		Table:  h.Table("users"),
		Values: map[string]any{"connected": now, "touched": now},
		Where:  map[string]any{"uid": uid},
	})
	if err != nil {
		logger.Warnf("touching user %s: %v", username, err)
	}

	// mark the live instance as belonging to this user
	if instance, ok := data["instance"].(string); ok && a.trackInstances {
		_, err := h.DB().UpdateRow(rowdb.Query{
			Table:  h.Table("instances"),
			Values: map[string]any{"uid": uid},
			Where:  map[string]any{"instance": instance},
		})
		if err != nil {
			logger.Warnf("binding instance %s: %v", instance, err)
		}
	}

	if err := h.Send(hub.Event{"type": "notify_login", "to": "all", "from": username}, "", false); err != nil {
		logger.Warnf("broadcasting login: %v", err)
	}

	event["i"] = "logged in"
	return event
}
