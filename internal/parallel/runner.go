// Package parallel runs independent tasks concurrently with per-task
// timeouts. A failing, panicking or slow task never cancels its siblings;
// every task ends up as a TaskResult.
package parallel

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"contentpilot/internal/metrics"
	logx "contentpilot/pkg/logx"
)

var ErrTaskTimeout = errors.New("task timed out")

type Task struct {
	Name string
	Fn   func(ctx context.Context) (any, error)
	// Timeout overrides the runner default when > 0.
	Timeout time.Duration
}

type TaskResult struct {
	Name      string        `json:"name"`
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
}

func (r TaskResult) DurationMs() int64 { return r.Duration.Milliseconds() }

type Summary struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

type Report struct {
	Results []TaskResult `json:"results"`
	Summary Summary      `json:"summary"`
}

// Result returns the first result named name.
func (r Report) Result(name string) (TaskResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return TaskResult{}, false
}

func (r Report) Failures() []TaskResult {
	var out []TaskResult
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

type Config struct {
	// TaskTimeout applies to tasks without their own timeout. Default 5m.
	TaskTimeout time.Duration
	// MaxConcurrency bounds in-flight tasks; 0 means unbounded.
	MaxConcurrency int
}

type Runner struct {
	cfg     Config
	metrics *metrics.Metrics
	log     logx.Logger
}

func NewRunner(cfg Config, m *metrics.Metrics, log logx.Logger) *Runner {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, metrics: m, log: log}
}

// ExecuteParallel runs all tasks and returns once each is terminal. Results
// keep the order of tasks.
func (r *Runner) ExecuteParallel(ctx context.Context, tasks []Task) Report {
	start := time.Now()
	results := make([]TaskResult, len(tasks))

	// No derived context: one task's error must not cancel the others.
	var g errgroup.Group
	if r.cfg.MaxConcurrency > 0 {
		g.SetLimit(r.cfg.MaxConcurrency)
	}
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = r.runOne(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Results: results, Summary: Summary{Total: len(results), Duration: time.Since(start)}}
	for _, res := range results {
		if res.Success {
			rep.Summary.Successful++
		} else {
			rep.Summary.Failed++
		}
	}
	r.log.Debug("parallel batch done",
		logx.Int("total", rep.Summary.Total),
		logx.Int("failed", rep.Summary.Failed),
		logx.Duration("dur", rep.Summary.Duration),
	)
	return rep
}

// ExecuteBatched runs tasks in consecutive windows of size, one window at a time.
func (r *Runner) ExecuteBatched(ctx context.Context, tasks []Task, size int) Report {
	if size <= 0 || size >= len(tasks) {
		return r.ExecuteParallel(ctx, tasks)
	}
	start := time.Now()
	var rep Report
	for lo := 0; lo < len(tasks); lo += size {
		hi := min(lo+size, len(tasks))
		part := r.ExecuteParallel(ctx, tasks[lo:hi])
		rep.Results = append(rep.Results, part.Results...)
		rep.Summary.Successful += part.Summary.Successful
		rep.Summary.Failed += part.Summary.Failed
	}
	rep.Summary.Total = len(rep.Results)
	rep.Summary.Duration = time.Since(start)
	return rep
}

type outcome struct {
	data any
	err  error
}

func (r *Runner) runOne(ctx context.Context, task Task) TaskResult {
	start := time.Now()
	res := TaskResult{Name: task.Name, Timestamp: start}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = r.cfg.TaskTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("task.panic", logx.String("task", task.Name), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		if task.Fn == nil {
			done <- outcome{err: errors.New("task has no function")}
			return
		}
		data, err := task.Fn(tctx)
		done <- outcome{data: data, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-tctx.Done():
		// The task goroutine may still be running; its result is dropped.
		if ctx.Err() != nil {
			out.err = ctx.Err()
		} else {
			out.err = errors.Wrapf(ErrTaskTimeout, "%s after %s", task.Name, timeout)
		}
	}

	res.Duration = time.Since(start)
	if out.err != nil {
		res.Error = out.err.Error()
		r.log.Warn("task.failed", logx.String("task", task.Name), logx.Err(out.err), logx.Duration("dur", res.Duration))
	} else {
		res.Success = true
		res.Data = out.data
	}
	r.metrics.RunnerTask(res.Success, res.Duration)
	return res
}
