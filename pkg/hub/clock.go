package hub

import (
	"fmt"
	"strings"
	"time"

	"github.com/wirehub/wirehub/pkg/rowdb"
)

// lockExpirySecs bounds how long a crashed process can hold the clock lock.
const lockExpirySecs = 60

// CheckClock runs the periodic __clock handler under the database-wide named
// lock so exactly one process per database performs expiry sweeps. Global
// variables persist across ticks in the locks table and are handed to the
// handler, which may mutate them.
func (h *Hub) CheckClock() {
	if !h.lockGlobalVars() {
		return
	}
	defer h.unlockGlobalVars()

	vars, err := h.readGlobalVars()
	if err != nil {
		logger.Errorf("reading global vars: %v", err)
		return
	}

	now := time.Now()
	lastTick := now
	if s, ok := vars["_lastTick"].(string); ok {
		if t, err := time.ParseInLocation(TimeFormat, s, time.UTC); err == nil {
			lastTick = t
		}
	}
	delete(vars, "_lastTick")

	ret := h.Trigger(Event{
		"type":       "__clock",
		"tick":       now.Format(TimeFormat),
		"lastTick":   lastTick.Format(TimeFormat),
		"globalVars": map[string]any(vars),
	})
	if updated, ok := ret["globalVars"].(map[string]any); ok {
		vars = updated
	}

	vars["_lastTick"] = now.Format(TimeFormat)
	if err := h.writeGlobalVars(vars); err != nil {
		logger.Errorf("writing global vars: %v", err)
	}
}

// lockGlobalVars acquires the named lock by inserting the lock row; the
// unique index on name makes the insert the arbiter. A lock older than
// lockExpirySecs is reclaimed from a crashed holder and retried next tick.
func (h *Hub) lockGlobalVars() bool {
	_, err := h.db.InsertRow(rowdb.Query{
		Table: h.Table("locks"),
		Values: map[string]any{
			"name":    "lock",
			"created": time.Now().Format(TimeFormat),
		},
	})
	if err == nil {
		return true
	}

	cutoff := time.Now().Add(-lockExpirySecs * time.Second).Format(TimeFormat)
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE name = 'lock' AND created < ?",
		quoteName(h.Table("locks")))
	if _, err := h.db.Handle().Exec(query, cutoff); err != nil {
		logger.Errorf("reclaiming stale lock: %v", err)
	}
	return false
}

func (h *Hub) unlockGlobalVars() {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE name = 'lock'",
		quoteName(h.Table("locks")))
	if _, err := h.db.Handle().Exec(query); err != nil {
		logger.Errorf("releasing lock: %v", err)
	}
}

// readGlobalVars loads the persisted variable bag, creating the row on first
// use.
func (h *Hub) readGlobalVars() (map[string]any, error) {
	doc, err := h.db.ReadOneRow(rowdb.Query{
		Table: h.Table("locks"),
		Where: map[string]any{"name": "global"},
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		_, err := h.db.InsertRow(rowdb.Query{
			Table: h.Table("locks"),
			Values: map[string]any{
				"name":    "global",
				"created": time.Now().Format(TimeFormat),
			},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	}
	vars, _ := doc["vars"].(map[string]any)
	if vars == nil {
		vars = map[string]any{}
	}
	return vars, nil
}

func (h *Hub) writeGlobalVars(vars map[string]any) error {
	_, err := h.db.UpdateRow(rowdb.Query{
		Table:  h.Table("locks"),
		Where:  map[string]any{"name": "global"},
		Values: map[string]any{"vars": vars},
	})
	return err
}

// UpdateExpired nulls the connected and touched timestamps of rows idle
// longer than secs. The clause is appended verbatim to the WHERE condition.
func (h *Hub) UpdateExpired(table string, secs int, clause string) error {
	expiration := time.Now().Add(-time.Duration(secs) * time.Second).Format(TimeFormat)
	query := fmt.Sprintf(
		"UPDATE %s SET connected = ?, touched = ? WHERE touched < ?%s",
		quoteName(h.Table(table)), clause)
	if _, err := h.db.Handle().Exec(query, NullDateTime, NullDateTime, expiration); err != nil {
		return fmt.Errorf("expiring rows in %s: %w", table, err)
	}
	return nil
}

// DeleteExpired removes rows idle longer than secs. The clause is appended
// verbatim to the WHERE condition.
func (h *Hub) DeleteExpired(table string, secs int, clause string) error {
	expiration := time.Now().Add(-time.Duration(secs) * time.Second).Format(TimeFormat)
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE touched < ?%s",
		quoteName(h.Table(table)), clause)
	if _, err := h.db.Handle().Exec(query, expiration); err != nil {
		return fmt.Errorf("deleting expired rows in %s: %w", table, err)
	}
	return nil
}

func quoteName(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
