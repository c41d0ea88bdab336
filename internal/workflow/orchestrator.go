// Package workflow assembles a reel from independent generation stages:
//
//	script -> { voiceover, video, subtitles } -> compose (optional)
//
// The script gates everything else. The middle stage runs as one parallel
// batch where each branch may fail on its own. Compose runs only when the
// video exists and a render backend is configured.
package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/jobpoll"
	"contentpilot/internal/metrics"
	"contentpilot/internal/parallel"
	"contentpilot/internal/providers"
	"contentpilot/internal/subtitles"
	logx "contentpilot/pkg/logx"
)

type Deps struct {
	Script ScriptWriter
	Voice  VoiceSynthesizer
	Video  jobpoll.Source
	// Render is optional; without it the compose stage is skipped.
	Render  jobpoll.Source
	Poller  *jobpoll.Poller
	Runner  *parallel.Runner
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Log     logx.Logger
	Now     func() time.Time
}

type Orchestrator struct {
	script  ScriptWriter
	voice   VoiceSynthesizer
	video   jobpoll.Source
	render  jobpoll.Source
	poller  *jobpoll.Poller
	runner  *parallel.Runner
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time
}

func New(d Deps) (*Orchestrator, error) {
	if d.Script == nil || d.Voice == nil || d.Video == nil {
		return nil, errors.New("workflow: script, voice and video providers are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Poller == nil {
		d.Poller = jobpoll.NewPoller(jobpoll.Config{}, nil, d.Metrics, d.Log)
	}
	if d.Runner == nil {
		d.Runner = parallel.NewRunner(parallel.Config{}, d.Metrics, d.Log)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{
		script:  d.Script,
		voice:   d.Voice,
		video:   d.Video,
		render:  d.Render,
		poller:  d.Poller,
		runner:  d.Runner,
		bus:     d.Bus,
		metrics: d.Metrics,
		log:     d.Log,
		now:     d.Now,
	}, nil
}

// Run generates a reel. It always returns a Result; failures are recorded in it.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	res := Result{
		RunID:   uuid.NewString(),
		Request: req,
		Stages:  map[Stage]StageResult{},
		Started: o.now(),
	}
	log := o.log.With(logx.String("run", res.RunID))

	start := time.Now()
	script, err := o.script.WriteScript(ctx, req.Topic, req.Tone, req.DurationSec)
	res.record(StageScript, time.Since(start), err)
	if err != nil {
		log.Warn("script stage failed, aborting", logx.Err(err))
		return o.finish(res)
	}
	res.Script = script

	o.runBranches(ctx, &res, []Stage{StageVoiceover, StageVideo, StageSubtitles})
	o.compose(ctx, &res)
	return o.finish(res)
}

// RetryFailed re-runs the failed branches of prev and then compose. A result
// whose script failed is run again from the start.
func (o *Orchestrator) RetryFailed(ctx context.Context, prev Result) Result {
	if !prev.Succeeded(StageScript) {
		return o.Run(ctx, prev.Request)
	}
	res := prev.clone()
	res.Started = o.now()

	var retry []Stage
	for _, s := range []Stage{StageVoiceover, StageVideo, StageSubtitles} {
		if !res.Succeeded(s) {
			retry = append(retry, s)
		}
	}
	if len(retry) > 0 {
		o.runBranches(ctx, &res, retry)
	}
	if len(retry) > 0 || !res.Succeeded(StageCompose) {
		o.compose(ctx, &res)
	}
	return o.finish(res)
}

func (o *Orchestrator) runBranches(ctx context.Context, res *Result, stages []Stage) {
	script, req, runID := res.Script, res.Request, res.RunID
	tasks := make([]parallel.Task, 0, len(stages))
	for _, s := range stages {
		switch s {
		case StageVoiceover:
			tasks = append(tasks, parallel.Task{Name: string(s), Fn: func(ctx context.Context) (any, error) {
				return o.voice.Synthesize(ctx, script, req.VoiceStyle)
			}})
		case StageVideo:
			opts := o.poller.Options()
			tasks = append(tasks, parallel.Task{
				Name:    string(s),
				Timeout: opts.PollInterval*time.Duration(opts.MaxAttempts) + 2*time.Minute,
				Fn: func(ctx context.Context) (any, error) {
					spec := providers.VideoSpec(videoPrompt(req.Topic, script), req.AspectRatio, req.DurationSec)
					spec.Metadata = map[string]string{"run": runID, "stage": string(StageVideo)}
					_, pr, err := o.poller.Run(ctx, o.video, spec)
					if err != nil {
						return nil, err
					}
					return pr.Output, nil
				},
			})
		case StageSubtitles:
			tasks = append(tasks, parallel.Task{Name: string(s), Fn: func(ctx context.Context) (any, error) {
				return subtitles.Compute(script, req.VoiceStyle), nil
			}})
		}
	}

	rep := o.runner.ExecuteParallel(ctx, tasks)
	for _, tr := range rep.Results {
		s := Stage(tr.Name)
		res.recordResult(s, tr.Success, tr.Duration, tr.Error)
		if !tr.Success {
			continue
		}
		switch s {
		case StageVoiceover:
			res.AudioURL, _ = tr.Data.(string)
		case StageVideo:
			res.VideoURL, _ = tr.Data.(string)
		case StageSubtitles:
			res.Captions, _ = tr.Data.([]subtitles.Caption)
		}
	}
}

func (o *Orchestrator) compose(ctx context.Context, res *Result) {
	if o.render == nil || !res.Succeeded(StageVideo) {
		return
	}
	spec := providers.RenderSpec(res.VideoURL, res.AudioURL, subtitles.SRT(res.Captions))
	spec.Metadata = map[string]string{"run": res.RunID, "stage": string(StageCompose)}

	start := time.Now()
	_, pr, err := o.poller.Run(ctx, o.render, spec)
	res.record(StageCompose, time.Since(start), err)
	if err != nil {
		o.log.Warn("compose stage failed", logx.String("run", res.RunID), logx.Err(err))
		return
	}
	res.FinalURL = pr.Output
}

func (o *Orchestrator) finish(res Result) Result {
	res.Finished = o.now()
	outcome := res.Outcome()
	o.metrics.WorkflowRun(outcome)
	o.log.Info("reel workflow finished",
		logx.String("run", res.RunID),
		logx.String("outcome", outcome),
		logx.Int("failures", len(res.Failures)),
	)
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: eventbus.WorkflowDone, Time: res.Finished, Data: res})
	}
	return res
}

// videoPrompt keeps the prompt short enough for text-to-video backends.
func videoPrompt(topic, script string) string {
	const max = 400
	p := strings.TrimSpace(topic)
	if s := strings.TrimSpace(script); s != "" {
		p += ". " + s
	}
	if r := []rune(p); len(r) > max {
		p = string(r[:max])
	}
	return p
}
