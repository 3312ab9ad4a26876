// Package app provides the built-in application handlers: account lifecycle
// (login, logout, user_create, profile), instance bookkeeping, and the
// housekeeping hooks the hub invokes on its clock.
package app

import (
	"github.com/wirehub/wirehub/pkg/hub"
	"github.com/wirehub/wirehub/pkg/log"
)

var logger = log.For("app")

type App struct {
	hub            *hub.Hub
	trackInstances bool
}

// Register wires the application handlers into a hub and returns the app.
func Register(h *hub.Hub, trackInstances bool) *App {
	a := &App{
		hub:            h,
		trackInstances: trackInstances,
	}

	h.Api("_instance", a.Instance)
	h.Api("login", a.Login)
	h.On("logout", a.Logout)
	h.Api("user_create", a.UserCreate)
	h.On("user_profile", a.UserProfile)
	h.On("user_profile_mail_update", a.UserProfileMailUpdate)
	h.Api("__clock", a.Clock)
	h.Api("__receive", a.ReceiveQueue)

	return a
}

// session returns the session data bag attached to an event.
func session(event hub.Event) map[string]any {
	data, _ := event[hub.SessionKey].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return data
}

// intFrom widens the numeric types a JSON round trip can produce.
func intFrom(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
