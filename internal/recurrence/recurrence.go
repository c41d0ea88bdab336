// Package recurrence computes the next occurrence of a recurring scheduled
// item and materializes it as a new pending item with cloned content.
package recurrence

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/content"
	"contentpilot/internal/schedule"
	logx "contentpilot/pkg/logx"
)

// NextDate returns the occurrence after from. Calendar arithmetic happens in
// from's location, so callers pass UTC.
//
//   - daily: +1 day
//   - weekly: the next configured weekday strictly after from's weekday,
//     wrapping to the smallest one next week; +7 days when none are configured
//   - monthly: same day next month, clamped to that month's last day
func NextDate(r schedule.Recurrence, from time.Time) (time.Time, error) {
	switch r.Frequency {
	case schedule.Daily:
		return from.AddDate(0, 0, 1), nil
	case schedule.Weekly:
		return from.AddDate(0, 0, weeklyOffset(r.DaysOfWeek, int(from.Weekday()))), nil
	case schedule.Monthly:
		y, m, d := from.Date()
		last := time.Date(y, m+2, 0, 0, 0, 0, 0, from.Location()).Day()
		if d > last {
			d = last
		}
		return time.Date(y, m+1, d, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location()), nil
	default:
		return time.Time{}, errors.Newf("unknown frequency %q", r.Frequency)
	}
}

func weeklyOffset(days []int, cur int) int {
	if len(days) == 0 {
		return 7
	}
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)
	for _, d := range sorted {
		if d > cur {
			return d - cur
		}
	}
	return sorted[0] + 7 - cur
}

// Expander creates the next occurrence of completed recurring items.
type Expander struct {
	items    schedule.Store
	contents content.Repository
	log      logx.Logger
}

func NewExpander(items schedule.Store, contents content.Repository, log logx.Logger) *Expander {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Expander{items: items, contents: contents, log: log}
}

// Expand creates the follow-up item for completed. It returns created=false
// when the item is not recurring, the series has ended, or a child already
// exists for completed (a repeated expansion is a no-op).
func (e *Expander) Expand(ctx context.Context, completed schedule.Item) (next schedule.Item, created bool, err error) {
	rec := completed.Recurring
	if !rec.Active() {
		return schedule.Item{}, false, nil
	}
	at, err := NextDate(*rec, completed.ScheduledFor.UTC())
	if err != nil {
		return schedule.Item{}, false, err
	}
	if rec.EndDate != nil && at.After(*rec.EndDate) {
		e.log.Debug("recurrence ended", logx.String("item", completed.ID), logx.Time("end", *rec.EndDate))
		return schedule.Item{}, false, nil
	}

	if child, err := e.items.FindChild(ctx, completed.ID); err == nil {
		e.log.Debug("recurrence already expanded", logx.String("item", completed.ID), logx.String("next", child.ID))
		return schedule.Item{}, false, nil
	} else if !errors.Is(err, schedule.ErrNotFound) {
		return schedule.Item{}, false, errors.Wrap(err, "look up next occurrence")
	}

	clone, err := e.contents.CloneContent(ctx, completed.ContentID)
	if err != nil {
		return schedule.Item{}, false, errors.Wrapf(err, "clone content %s", completed.ContentID)
	}

	recCopy := *rec
	recCopy.DaysOfWeek = append([]int(nil), rec.DaysOfWeek...)
	next, err = e.items.CreateItem(ctx, schedule.Item{
		ParentID:     completed.ID,
		ContentType:  completed.ContentType,
		ContentID:    clone.ID,
		ScheduledFor: at,
		Timezone:     completed.Timezone,
		Recurring:    &recCopy,
		MaxAttempts:  completed.MaxAttempts,
	})
	if err != nil {
		if derr := e.contents.DeleteContent(ctx, clone.ID); derr != nil {
			e.log.Warn("drop cloned content failed", logx.String("content", clone.ID), logx.Err(derr))
		}
		if errors.Is(err, schedule.ErrConflict) {
			e.log.Warn("recurrence already expanded", logx.String("item", completed.ID))
			return schedule.Item{}, false, nil
		}
		return schedule.Item{}, false, errors.Wrap(err, "create next occurrence")
	}
	e.log.Info("recurrence expanded",
		logx.String("item", completed.ID),
		logx.String("next", next.ID),
		logx.Time("at", next.ScheduledFor),
	)
	return next, true, nil
}
