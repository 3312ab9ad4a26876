package app

import (
	"time"

	"github.com/wirehub/wirehub/pkg/hub"
)

const (
	// sweepIntervalSecs spaces the expiry sweeps; the clock itself ticks
	// every second.
	sweepIntervalSecs = 10
	// instanceTTLSecs removes instance rows nothing has touched.
	instanceTTLSecs = 600
	// queueTTLSecs removes queued events nobody collected.
	queueTTLSecs = 600
	// userIdleSecs nulls the presence timestamps of idle users.
	userIdleSecs = 3600
)

// Clock runs the periodic housekeeping: expired instance rows, uncollected
// queued events, and stale user presence. The last sweep time persists in
// the global variable bag as seconds since the epoch.
func (a *App) Clock(event hub.Event, vars map[string]any) hub.Event {
	h := a.hub

	globalVars, ok := event["globalVars"].(map[string]any)
	if !ok {
		return event
	}

	now := time.Now().Unix()
	lastSweep := int64(intFrom(globalVars["lastSweep"]))
	if now < lastSweep+sweepIntervalSecs {
		return event
	}
	globalVars["lastSweep"] = int(now)

	if a.trackInstances {
		if err := h.DeleteExpired("instances", instanceTTLSecs, ""); err != nil {
			logger.Warnf("sweeping instances: %v", err)
		}
	}
	if err := h.DeleteExpired("queue", queueTTLSecs, ""); err != nil {
		logger.Warnf("sweeping queue: %v", err)
	}
	if err := h.UpdateExpired("users", userIdleSecs, ""); err != nil {
		logger.Warnf("sweeping users: %v", err)
	}

	return event
}
