// Package dispatch runs due scheduled items through publishing, with a
// persisted attempt counter and a fixed retry delay.
//
// A tick loads at most BatchSize pending items whose time has come, ordered
// by scheduled time, and handles them one at a time:
//
//	claim (pending -> processing, attempts++)
//	load content            missing -> failed, no retry
//	publish                 ok -> completed (+ next occurrence if recurring)
//	                        error -> pending at now+RetryDelay while attempts remain
//	                        permanent error or no attempts left -> failed
//
// Outcome writes after a claim ignore cancellation of the tick context, so a
// shutdown mid-publish still leaves the item in a settled state. Each tick
// also retries recurrence expansion for items completed within ExpandWindow
// that have no follow-up yet.
//
// Only one dispatcher may run against a store. Overlapping ticks in the same
// process are skipped; claims are status-guarded so a restarted process
// cannot double-claim.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/content"
	"contentpilot/internal/eventbus"
	"contentpilot/internal/metrics"
	"contentpilot/internal/recurrence"
	"contentpilot/internal/schedule"
	logx "contentpilot/pkg/logx"
)

// Publisher publishes a content entity. *publish.Registry implements it.
type Publisher interface {
	Publish(ctx context.Context, c content.Content) (content.Publication, error)
}

// IsPermanent classifies publish errors that must not be retried.
type IsPermanent func(err error) bool

type Expander interface {
	Expand(ctx context.Context, completed schedule.Item) (schedule.Item, bool, error)
}

type Config struct {
	BatchSize   int
	RetryDelay  time.Duration
	HistorySize int
	// ExpandWindow bounds how far back missed expansions are retried.
	ExpandWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Minute
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.ExpandWindow <= 0 {
		c.ExpandWindow = 24 * time.Hour
	}
	return c
}

type Deps struct {
	Items     schedule.Store
	Contents  content.Repository
	Publisher Publisher
	Permanent IsPermanent
	// Expander defaults to a recurrence.Expander over Items and Contents.
	Expander Expander
	Bus      eventbus.Bus
	Metrics  *metrics.Metrics
	Log      logx.Logger
	Now      func() time.Time
}

type Dispatcher struct {
	items     schedule.Store
	contents  content.Repository
	publisher Publisher
	permanent IsPermanent
	expander  Expander
	bus       eventbus.Bus
	metrics   *metrics.Metrics
	log       logx.Logger
	now       func() time.Time

	tickMu sync.Mutex
	ticks  atomic.Uint64

	mu         sync.Mutex
	cfg        Config
	history    []ItemOutcome
	totals     map[Outcome]int64
	lastReport *TickReport
}

func New(cfg Config, d Deps) (*Dispatcher, error) {
	if d.Items == nil || d.Contents == nil || d.Publisher == nil {
		return nil, errors.New("dispatch: items, contents and publisher are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Permanent == nil {
		d.Permanent = func(error) bool { return false }
	}
	if d.Expander == nil {
		d.Expander = recurrence.NewExpander(d.Items, d.Contents, d.Log.With(logx.String("comp", "recurrence")))
	}
	return &Dispatcher{
		items:     d.Items,
		contents:  d.Contents,
		publisher: d.Publisher,
		permanent: d.Permanent,
		expander:  d.Expander,
		bus:       d.Bus,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
		cfg:       cfg.withDefaults(),
		totals:    map[Outcome]int64{},
	}, nil
}

// UpdateConfig applies batch size, retry delay and history size from a config reload.
func (d *Dispatcher) UpdateConfig(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	if len(d.history) > cfg.HistorySize {
		d.history = append([]ItemOutcome(nil), d.history[len(d.history)-cfg.HistorySize:]...)
	}
	d.mu.Unlock()
	if old != cfg {
		d.log.Info("dispatcher config updated",
			logx.Int("batch_size", cfg.BatchSize),
			logx.Duration("retry_delay", cfg.RetryDelay),
			logx.Int("history_size", cfg.HistorySize),
		)
	}
}

func (d *Dispatcher) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Tick processes one batch of due items sequentially.
func (d *Dispatcher) Tick(ctx context.Context) TickReport {
	if !d.tickMu.TryLock() {
		d.log.Debug("tick skipped: previous tick still running")
		return TickReport{Started: d.now(), Skipped: true}
	}
	defer d.tickMu.Unlock()

	cfg := d.config()
	rep := TickReport{Started: d.now()}
	start := time.Now()
	defer func() {
		rep.Duration = time.Since(start)
		d.ticks.Add(1)
		d.metrics.Tick(rep.Duration, rep.Due)
		d.mu.Lock()
		r := rep
		d.lastReport = &r
		d.mu.Unlock()
	}()

	rep.Reexpanded = d.expandMissed(ctx, cfg, rep.Started)

	due, err := d.items.ListDue(ctx, rep.Started, cfg.BatchSize)
	if err != nil {
		rep.Err = errors.Wrap(err, "list due items")
		d.log.Error("dispatch tick failed", logx.Err(rep.Err))
		return rep
	}
	rep.Due = len(due)
	if len(due) == 0 {
		return rep
	}
	d.log.Debug("dispatch tick", logx.Int("due", len(due)))

	for _, it := range due {
		if ctx.Err() != nil {
			// Unclaimed items stay pending for the next tick.
			d.log.Warn("dispatch tick interrupted", logx.Err(ctx.Err()), logx.Int("processed", len(rep.Items)))
			break
		}
		out := d.process(ctx, it, cfg)
		rep.Items = append(rep.Items, out)
		d.record(out, cfg)
	}
	return rep
}

func (d *Dispatcher) process(ctx context.Context, it schedule.Item, cfg Config) ItemOutcome {
	began := time.Now()
	now := d.now()
	out := ItemOutcome{ItemID: it.ID, ContentID: it.ContentID, ContentType: it.ContentType, At: now}
	defer func() { out.Took = time.Since(began) }()

	claimed, err := d.items.Claim(ctx, it.ID, now)
	if errors.Is(err, schedule.ErrConflict) || errors.Is(err, schedule.ErrNotFound) {
		out.Outcome = OutcomeSkipped
		d.log.Debug("claim lost", logx.String("item", it.ID), logx.Err(err))
		return out
	}
	if err != nil {
		out.Outcome = OutcomeError
		out.Error = err.Error()
		d.log.Error("claim failed", logx.String("item", it.ID), logx.Err(err))
		return out
	}
	out.Attempts = claimed.Attempts
	d.emit(eventbus.ItemClaimed, claimed, "", time.Time{})
	wctx := context.WithoutCancel(ctx)

	c, err := d.contents.FindContent(ctx, claimed.ContentID)
	if errors.Is(err, content.ErrNotFound) {
		return d.fail(wctx, claimed, out, contentNotFound, false)
	}
	if err == nil {
		var pub content.Publication
		pub, err = d.safePublish(ctx, c)
		if err == nil {
			return d.complete(wctx, claimed, out, pub)
		}
	}

	msg := err.Error()
	if d.permanent(err) {
		d.log.Warn("publish failed permanently", logx.String("item", claimed.ID), logx.Err(err))
		return d.fail(wctx, claimed, out, msg, true)
	}
	if claimed.Attempts >= claimed.MaxAttempts {
		d.log.Warn("publish failed, attempts exhausted",
			logx.String("item", claimed.ID), logx.Int("attempts", claimed.Attempts), logx.Err(err))
		return d.fail(wctx, claimed, out, msg, true)
	}

	next := now.Add(cfg.RetryDelay)
	if err := d.items.Reschedule(wctx, claimed.ID, next, msg, now); err != nil {
		out.Outcome = OutcomeError
		out.Error = errors.Wrap(err, "reschedule").Error()
		d.log.Error("reschedule failed", logx.String("item", claimed.ID), logx.Err(err))
		return out
	}
	out.Outcome = OutcomeRetry
	out.Error = msg
	out.NextAt = next
	d.log.Info("publish failed, retry scheduled",
		logx.String("item", claimed.ID),
		logx.Int("attempt", claimed.Attempts),
		logx.Int("max_attempts", claimed.MaxAttempts),
		logx.Time("next", next),
		logx.Err(err),
	)
	d.emit(eventbus.ItemRetry, claimed, msg, next)
	return out
}

// safePublish turns a publisher panic into an ordinary retryable failure.
func (d *Dispatcher) safePublish(ctx context.Context, c content.Content) (pub content.Publication, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
			d.log.Error("publish.panic", logx.String("content", c.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return d.publisher.Publish(ctx, c)
}

func (d *Dispatcher) complete(ctx context.Context, it schedule.Item, out ItemOutcome, pub content.Publication) ItemOutcome {
	now := d.now()
	if pub.PublishedAt.IsZero() {
		pub.PublishedAt = now
	}
	// The post is live at this point; a failed content update must not
	// turn into a retry that publishes it twice.
	if err := d.contents.MarkPublished(ctx, it.ContentID, pub); err != nil {
		d.log.Error("mark published failed", logx.String("content", it.ContentID), logx.Err(err))
	}
	if err := d.items.Complete(ctx, it.ID, now); err != nil {
		out.Outcome = OutcomeError
		out.Error = errors.Wrap(err, "complete").Error()
		d.log.Error("complete failed", logx.String("item", it.ID), logx.Err(err))
		return out
	}
	out.Outcome = OutcomeCompleted
	out.Permalink = pub.Permalink
	d.log.Info("item published",
		logx.String("item", it.ID),
		logx.String("content", it.ContentID),
		logx.String("provider_id", pub.ProviderID),
		logx.Int("attempts", it.Attempts),
	)
	d.emit(eventbus.ItemCompleted, it, "", time.Time{})

	if it.Recurring.Active() {
		next, created, err := d.expander.Expand(ctx, it)
		switch {
		case err != nil:
			d.log.Error("recurrence expansion failed; retried next tick", logx.String("item", it.ID), logx.Err(err))
		case created:
			out.NextItemID = next.ID
			out.NextAt = next.ScheduledFor
			d.emit(eventbus.ItemExpanded, next, "", next.ScheduledFor)
		}
	}
	return out
}

// expandMissed creates follow-ups for completed recurring items whose
// expansion failed on an earlier tick.
func (d *Dispatcher) expandMissed(ctx context.Context, cfg Config, now time.Time) []string {
	missed, err := d.items.ListUnexpanded(ctx, now.Add(-cfg.ExpandWindow))
	if err != nil {
		d.log.Warn("list unexpanded items failed", logx.Err(err))
		return nil
	}
	var created []string
	for _, it := range missed {
		next, ok, err := d.expander.Expand(ctx, it)
		if err != nil {
			d.log.Warn("recurrence expansion retry failed", logx.String("item", it.ID), logx.Err(err))
			continue
		}
		if ok {
			d.log.Info("missed recurrence expanded", logx.String("item", it.ID), logx.String("next", next.ID))
			d.emit(eventbus.ItemExpanded, next, "", next.ScheduledFor)
			created = append(created, next.ID)
		}
	}
	return created
}

func (d *Dispatcher) fail(ctx context.Context, it schedule.Item, out ItemOutcome, msg string, markContent bool) ItemOutcome {
	now := d.now()
	if err := d.items.Fail(ctx, it.ID, msg, now); err != nil {
		out.Outcome = OutcomeError
		out.Error = errors.Wrap(err, "fail").Error()
		d.log.Error("fail item failed", logx.String("item", it.ID), logx.Err(err))
		return out
	}
	if markContent {
		if err := d.contents.MarkFailed(ctx, it.ContentID, msg); err != nil {
			d.log.Warn("mark content failed", logx.String("content", it.ContentID), logx.Err(err))
		}
	}
	out.Outcome = OutcomeFailed
	out.Error = msg
	d.emit(eventbus.ItemFailed, it, msg, time.Time{})
	return out
}

func (d *Dispatcher) emit(typ string, it schedule.Item, msg string, next time.Time) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.now(), Data: ItemEvent{
		ItemID:      it.ID,
		ContentID:   it.ContentID,
		ContentType: it.ContentType,
		Attempts:    it.Attempts,
		MaxAttempts: it.MaxAttempts,
		Error:       msg,
		NextAt:      next,
	}})
}

func (d *Dispatcher) record(out ItemOutcome, cfg Config) {
	d.metrics.DispatchOutcome(string(out.Outcome))
	d.mu.Lock()
	d.totals[out.Outcome]++
	d.history = append(d.history, out)
	if len(d.history) > cfg.HistorySize {
		d.history = d.history[len(d.history)-cfg.HistorySize:]
	}
	d.mu.Unlock()
}

// Cancel moves a pending item to cancelled. Items that are already being
// processed or are terminal return schedule.ErrConflict.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	if err := d.items.Cancel(ctx, id, d.now()); err != nil {
		return err
	}
	it, err := d.items.GetItem(ctx, id)
	if err == nil {
		d.emit(eventbus.ItemCancelled, it, "", time.Time{})
	}
	d.log.Info("item cancelled", logx.String("item", id))
	return nil
}

// RecoverStale returns items left in processing for longer than olderThan
// to pending, or fails them when no attempts remain. It returns how many
// items were touched.
func (d *Dispatcher) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := d.now()
	stale, err := d.items.ListStale(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, errors.Wrap(err, "list stale items")
	}
	n := 0
	var errs []error
	for _, it := range stale {
		if it.Attempts >= it.MaxAttempts {
			msg := "interrupted while processing, attempts exhausted"
			if err := d.items.Fail(ctx, it.ID, msg, now); err != nil {
				errs = append(errs, errors.Wrapf(err, "fail stale %s", it.ID))
				continue
			}
			if err := d.contents.MarkFailed(ctx, it.ContentID, msg); err != nil && !errors.Is(err, content.ErrNotFound) {
				d.log.Warn("mark content failed", logx.String("content", it.ContentID), logx.Err(err))
			}
			d.emit(eventbus.ItemFailed, it, msg, time.Time{})
		} else if err := d.items.Reschedule(ctx, it.ID, now, "interrupted while processing", now); err != nil {
			errs = append(errs, errors.Wrapf(err, "requeue stale %s", it.ID))
			continue
		}
		n++
	}
	if n > 0 {
		d.log.Warn("recovered stale items", logx.Int("count", n))
	}
	return n, errors.Join(errs...)
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Snapshot{
		Ticks:   d.ticks.Load(),
		Totals:  make(map[Outcome]int64, len(d.totals)),
		History: append([]ItemOutcome(nil), d.history...),
	}
	for k, v := range d.totals {
		s.Totals[k] = v
	}
	if d.lastReport != nil {
		r := *d.lastReport
		s.LastReport = &r
		s.LastTick = r.Started
	}
	return s
}
