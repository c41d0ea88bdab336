package workflow

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/jobpoll"
	"contentpilot/internal/parallel"
	logx "contentpilot/pkg/logx"
)

// ResumedJob is the payload of render.completed events.
type ResumedJob struct {
	Handle jobpoll.Handle
	Output string
	Error  string
}

// Resume re-attaches pollers to video and render jobs left in the registry
// by a previous process and waits for all of them. Handles of unknown
// providers are left untouched.
func (o *Orchestrator) Resume(ctx context.Context) (parallel.Report, error) {
	handles, err := o.poller.Registry().List(ctx)
	if err != nil {
		return parallel.Report{}, errors.Wrap(err, "list job handles")
	}
	sources := map[string]jobpoll.Source{o.video.Name(): o.video}
	if o.render != nil {
		sources[o.render.Name()] = o.render
	}

	var tasks []parallel.Task
	for _, h := range handles {
		src, ok := sources[h.Provider]
		if !ok {
			continue
		}
		opts := o.poller.Options()
		tasks = append(tasks, parallel.Task{
			Name:    h.Provider + ":" + h.ID,
			Timeout: opts.PollInterval * time.Duration(opts.MaxAttempts+1),
			Fn: func(ctx context.Context) (any, error) {
				pr, err := o.poller.Wait(ctx, src, h)
				ev := ResumedJob{Handle: h, Output: pr.Output}
				if err != nil {
					ev.Error = err.Error()
				}
				if o.bus != nil {
					o.bus.Publish(eventbus.Event{Type: eventbus.RenderCompleted, Time: o.now(), Data: ev})
				}
				return pr.Output, err
			},
		})
	}
	if len(tasks) == 0 {
		return parallel.Report{}, nil
	}
	o.log.Info("resuming in-flight jobs", logx.Int("count", len(tasks)))
	return o.runner.ExecuteParallel(ctx, tasks), nil
}
