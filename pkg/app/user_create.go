package app

import (
	"slices"
	"time"

	"github.com/wirehub/wirehub/pkg/hub"
	"github.com/wirehub/wirehub/pkg/rowdb"
)

// UserCreate registers a new account. The account's uid mirrors its row id
// once inserted.
func (a *App) UserCreate(event hub.Event, vars map[string]any) hub.Event {
	h := a.hub

	username := requireString(event, "username")
	check(!slices.Contains(usernamesNotAllowed, username), "invalid:username")
	check(usernamePattern.MatchString(username), "regexp:username")
	email := requirePattern(event, "email", emailPattern)
	password := requireString(event, "pwd")
	delete(event, "pwd")

	hashed, err := hashPassword(password)
	if err != nil {
		logger.Errorf("hashing password for %s: %v", username, err)
		event["e"] = "internal error"
		return event
	}

	existing, err := h.DB().ReadOneRow(rowdb.Query{
		Table: h.Table("users"),
		Where: map[string]any{
			"OR":       "OR",
			"username": username,
			"email":    email,
		},
	})
	if err != nil {
		logger.Errorf("checking for existing user: %v", err)
		event["e"] = "internal error"
		return event
	}
	if existing != nil {
		event["e"] = "already exists"
		return event
	}

	now := time.Now().Format(hub.TimeFormat)
	user, err := h.DB().InsertRow(rowdb.Query{
		Table: h.Table("users"),
		Values: map[string]any{
			"uid":       0,
			"username":  username,
			"email":     email,
			"pwd":       hashed,
			"created":   now,
			"connected": hub.NullDateTime,
			"touched":   hub.NullDateTime,
		},
	})
	if err != nil {
		logger.Errorf("inserting user %s: %v", username, err)
		event["e"] = "internal error"
		return event
	}

	id := intFrom(user["id"])
	_, err = h.DB().UpdateRow(rowdb.Query{
		Table:  h.Table("users"),
		Values: map[string]any{"uid": id},
		Where:  map[string]any{"id": id},
	})
	if err != nil {
		logger.Errorf("assigning uid %d: %v", id, err)
		event["e"] = "internal error"
		return event
	}

	event["i"] = "created"
	return event
}
