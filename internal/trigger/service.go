package trigger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	logx "contentpilot/pkg/logx"
)

type Config struct {
	Location *time.Location
	// StartupSpread caps the random delay of the first interval firing. 0 disables it.
	StartupSpread time.Duration
}

// Job is one unit of triggered work.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	sched   cron.Schedule
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	lastMu  sync.Mutex
	lastErr string
	lastRun time.Time
}

// Service wraps robfig/cron with named upsert semantics, overlap-skip,
// per-run timeout and panic recovery.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	parser  cron.Parser
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
	wg      sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]*entry{},
	}
}

// AddSchedule parses schedule (see ParseSchedule) and registers job under
// name, replacing any previous registration with the same name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	e := &entry{name: name, spec: ps.Spec(), timeout: timeout, job: job}
	if ps.Kind == SpecInterval {
		e.sched, _ = intervalWithSpread(ps.Every, time.Now().In(s.cfg.Location), name, s.cfg.StartupSpread)
	} else {
		sc, err := s.parser.Parse(ps.Cron)
		if err != nil {
			return errors.Wrapf(err, "parse cron %q", ps.Cron)
		}
		e.sched = sc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.entries[name] = e
	if s.c != nil {
		s.registerLocked(e)
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", e.spec), logx.Duration("timeout", timeout))
	return nil
}

// Remove unregisters name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	delete(s.entries, name)
	return true
}

func (s *Service) registerLocked(e *entry) {
	e.entryID = s.c.Schedule(e.sched, cron.FuncJob(func() { s.fire(e) }))
}

// fire runs e inline unless the previous run is still in flight.
func (s *Service) fire(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		s.log.Debug("trigger skipped (still running)", logx.String("name", e.name))
		return
	}
	s.wg.Add(1)
	defer func() {
		e.running.Store(false)
		s.wg.Done()
	}()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}
	ctx, cancel := parent, context.CancelFunc(func() {})
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, e.timeout)
	}
	defer cancel()

	start := time.Now()
	err := runRecover(ctx, e.job)
	e.runs.Add(1)
	e.lastMu.Lock()
	e.lastRun = start
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.lastMu.Unlock()
	if err != nil {
		s.log.Warn("triggered job failed", logx.String("name", e.name), logx.Duration("took", time.Since(start)), logx.Err(err))
	}
}

func runRecover(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}

// Fire runs name once immediately, honoring the overlap guard.
func (s *Service) Fire(name string) bool {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if ok {
		s.fire(e)
	}
	return ok
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.cfg.Location))
	for _, e := range s.entries {
		s.registerLocked(e)
	}
	s.c.Start()
	s.log.Info("trigger service started", logx.String("tz", s.cfg.Location.String()), logx.Int("schedules", len(s.entries)))
}

// Stop stops firing new runs and waits for in-flight runs until ctx is done.
// Registrations are kept so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	for _, e := range s.entries {
		e.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopped := c.Stop().Done()
	done := make(chan struct{})
	go func() {
		<-stopped
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("trigger service stopped")
}

// ScheduleInfo describes one registration.
type ScheduleInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next,omitempty"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_err,omitempty"`
	Runs    uint64    `json:"runs"`
	Skipped uint64    `json:"skipped"`
	Running bool      `json:"running"`
}

func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := ScheduleInfo{
			Name:    e.name,
			Spec:    e.spec,
			Runs:    e.runs.Load(),
			Skipped: e.skipped.Load(),
			Running: e.running.Load(),
		}
		e.lastMu.Lock()
		info.LastRun, info.LastErr = e.lastRun, e.lastErr
		e.lastMu.Unlock()
		if s.c != nil && e.entryID != 0 {
			info.Next = s.c.Entry(e.entryID).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
