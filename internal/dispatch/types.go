package dispatch

import (
	"time"

	"contentpilot/internal/content"
)

// Outcome is the result of processing one due item.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped means the claim lost its status guard (another tick or a cancel won).
	OutcomeSkipped Outcome = "skipped"
	// OutcomeError means the store rejected an outcome write; the item may stay processing
	// until stale recovery picks it up.
	OutcomeError Outcome = "error"
)

const contentNotFound = "content not found"

// ItemOutcome is one processed item, as reported by Tick and kept in history.
type ItemOutcome struct {
	ItemID      string        `json:"item_id"`
	ContentID   string        `json:"content_id"`
	ContentType content.Type  `json:"content_type"`
	Outcome     Outcome       `json:"outcome"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty"`
	NextAt      time.Time     `json:"next_at,omitzero"`
	NextItemID  string        `json:"next_item_id,omitempty"`
	Permalink   string        `json:"permalink,omitempty"`
	At          time.Time     `json:"at"`
	Took        time.Duration `json:"took"`
}

// TickReport summarizes one dispatch pass. Failures are data: a tick never
// returns an error for a single item.
type TickReport struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Due      int           `json:"due"`
	Items    []ItemOutcome `json:"items,omitempty"`
	// Reexpanded lists follow-up items created for earlier completions.
	Reexpanded []string `json:"reexpanded,omitempty"`
	// Skipped is set when another tick was still running.
	Skipped bool `json:"skipped,omitempty"`
	// Err is set when the due batch could not be loaded.
	Err error `json:"-"`
}

// Count returns how many items ended with o.
func (r TickReport) Count(o Outcome) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// ItemEvent is the payload of item.* bus events.
type ItemEvent struct {
	ItemID      string
	ContentID   string
	ContentType content.Type
	Attempts    int
	MaxAttempts int
	Error       string
	NextAt      time.Time
}

// Snapshot is the dispatcher state exposed on /healthz.
type Snapshot struct {
	LastTick   time.Time         `json:"last_tick,omitzero"`
	LastReport *TickReport       `json:"last_report,omitempty"`
	Ticks      uint64            `json:"ticks"`
	Totals     map[Outcome]int64 `json:"totals"`
	History    []ItemOutcome     `json:"history"`
}
