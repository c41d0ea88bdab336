package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/dispatch"
	"contentpilot/internal/eventbus"
	"contentpilot/internal/notifier"
	"contentpilot/internal/runtime/supervisor"
	"contentpilot/internal/trigger"
)

// Health is the /healthz body.
type Health struct {
	Status     string                 `json:"status"`
	Now        time.Time              `json:"now"`
	Dispatch   dispatch.Snapshot      `json:"dispatch"`
	Triggers   []trigger.ScheduleInfo `json:"triggers"`
	Goroutines []supervisor.Stats     `json:"goroutines,omitempty"`
	Breakers   map[string]string      `json:"breakers,omitempty"`
	Alerts     []notifier.HistoryItem `json:"alerts,omitempty"`
	Events     eventbus.Stats         `json:"events"`
}

// Health reports unhealthy when the app supervisor recorded a fatal error
// or the last dispatch tick could not load its batch.
func (a *App) Health(ctx context.Context) (any, error) {
	h := Health{
		Status:   "ok",
		Now:      time.Now().UTC(),
		Dispatch: a.dispatcher.Snapshot(),
		Triggers: a.trigger.Snapshot(),
		Alerts:   a.notif.Snapshot(),
		Events:   a.bus.Stats(),
	}
	if a.sup != nil {
		h.Goroutines = a.sup.Snapshot()
	}
	if len(a.executors) > 0 {
		h.Breakers = map[string]string{}
		for name, ex := range a.executors {
			switch {
			case !ex.Configured():
				h.Breakers[name] = "not_configured"
			case ex.BreakerOpen():
				h.Breakers[name] = "open"
			default:
				h.Breakers[name] = "closed"
			}
		}
	}

	var err error
	if a.sup != nil && a.sup.Err() != nil {
		err = errors.Wrap(a.sup.Err(), "supervisor")
	} else if r := h.Dispatch.LastReport; r != nil && r.Err != nil {
		err = errors.Wrap(r.Err, "last dispatch tick")
	}
	if err != nil {
		h.Status = "unhealthy"
	}
	return h, err
}
