package app

import (
	"github.com/wirehub/wirehub/pkg/hub"
	"github.com/wirehub/wirehub/pkg/rowdb"
)

// profileFields are the mailing-address fields a profile exposes. They live
// in the users table's freeform column.
var profileFields = []string{"name", "address", "address2", "city", "state", "zip"}

// profileReadonly are user-row fields a profile update may never touch.
var profileReadonly = []string{
	"id", "uid", "username", "email", "pwd", "roles",
	"created", "connected", "touched",
}

// UserProfile returns the signed-in user's mailing profile.
func (a *App) UserProfile(event hub.Event, vars map[string]any) hub.Event {
	uid := intFrom(session(event)["uid"])
	check(uid > 0, "current user not found")

	me, err := a.hub.DB().ReadOneRow(rowdb.Query{
		Table: a.hub.Table("users"),
		Where: map[string]any{"uid": uid},
	})
	if err != nil {
		logger.Errorf("reading user %d: %v", uid, err)
		event["e"] = "internal error"
		return event
	}
	check(me != nil, "current user not found")

	profile := map[string]any{}
	for _, key := range profileFields {
		if value, ok := me[key]; ok {
			profile[key] = value
		} else {
			profile[key] = ""
		}
	}
	event["profile"] = profile

	event["i"] = "profile found"
	return event
}

// UserProfileMailUpdate updates the signed-in user's mailing profile.
// Read-only account fields are stripped before the write.
func (a *App) UserProfileMailUpdate(event hub.Event, vars map[string]any) hub.Event {
	_, present := event["user"]
	check(present, "missing:user")
	user, ok := event["user"].(map[string]any)
	check(ok, "typeof:user")

	uid := intFrom(session(event)["uid"])
	check(uid > 0, "current user not found")

	me, err := a.hub.DB().ReadOneRow(rowdb.Query{
		Table: a.hub.Table("users"),
		Where: map[string]any{"uid": uid},
	})
	if err != nil {
		logger.Errorf("reading user %d: %v", uid, err)
		event["e"] = "internal error"
		return event
	}
	check(me != nil, "current user not found")

	for _, key := range profileReadonly {
		delete(user, key)
	}

	_, err = a.hub.DB().UpdateRow(rowdb.Query{
		Table:  a.hub.Table("users"),
		Values: user,
		Where:  map[string]any{"uid": uid},
	})
	if err != nil {
		logger.Errorf("updating profile for %d: %v", uid, err)
		event["e"] = "internal error"
		return event
	}

	event["i"] = "profile updated"
	return event
}
