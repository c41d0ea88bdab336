package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/jobpoll"
	"contentpilot/internal/parallel"
	logx "contentpilot/pkg/logx"
)

type fakeScript struct {
	err   error
	calls int
}

func (f *fakeScript) WriteScript(ctx context.Context, topic, tone string, seconds int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "Fresh beans matter. Grind right before brewing.", nil
}

type fakeVoice struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeVoice) Synthesize(ctx context.Context, text, style string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "https://cdn/voice.mp3", nil
}

func (f *fakeVoice) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeJobs struct {
	name    string
	mu      sync.Mutex
	starts  int
	fail    bool
	specs   []jobpoll.Spec
	counter int
}

func (f *fakeJobs) Name() string { return f.name }

func (f *fakeJobs) Start(ctx context.Context, spec jobpoll.Spec) (jobpoll.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.counter++
	f.specs = append(f.specs, spec)
	return jobpoll.Handle{ID: f.name + "-" + string(rune('0'+f.counter))}, nil
}

func (f *fakeJobs) Poll(ctx context.Context, h jobpoll.Handle) (jobpoll.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return jobpoll.PollResult{Status: jobpoll.StatusFailed, Error: "gpu quota"}, nil
	}
	return jobpoll.PollResult{Status: jobpoll.StatusSucceeded, Output: "https://cdn/" + h.ID + ".mp4"}, nil
}

func (f *fakeJobs) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type harness struct {
	script *fakeScript
	voice  *fakeVoice
	video  *fakeJobs
	render *fakeJobs
	reg    *jobpoll.MemoryRegistry
	bus    eventbus.Bus
	o      *Orchestrator
}

func newHarness(t *testing.T, withRender bool) *harness {
	t.Helper()
	h := &harness{
		script: &fakeScript{},
		voice:  &fakeVoice{},
		video:  &fakeJobs{name: "video"},
		reg:    jobpoll.NewMemoryRegistry(time.Hour),
		bus:    eventbus.New(),
	}
	poller := jobpoll.NewPoller(jobpoll.Config{Options: jobpoll.Options{PollInterval: time.Millisecond, MaxAttempts: 5}}, h.reg, nil, logx.Nop())
	deps := Deps{
		Script: h.script,
		Voice:  h.voice,
		Video:  h.video,
		Poller: poller,
		Runner: parallel.NewRunner(parallel.Config{TaskTimeout: 5 * time.Second}, nil, logx.Nop()),
		Bus:    h.bus,
		Log:    logx.Nop(),
	}
	if withRender {
		h.render = &fakeJobs{name: "render"}
		deps.Render = h.render
	}
	o, err := New(deps)
	require.NoError(t, err)
	h.o = o
	return h
}

func TestScriptFailureSkipsParallelStage(t *testing.T) {
	h := newHarness(t, true)
	h.script.err = errors.New("llm down")

	res := h.o.Run(context.Background(), Request{Topic: "coffee"})
	assert.Equal(t, "aborted", res.Outcome())
	assert.Empty(t, res.Script)
	assert.Equal(t, []Failure{{Step: StageScript, Error: "llm down"}}, res.Failures)
	assert.False(t, res.Succeeded(StageScript))
	assert.Zero(t, h.voice.Calls())
	assert.Zero(t, h.video.Starts())
	assert.Zero(t, h.render.Starts())
	_, ran := res.Stages[StageSubtitles]
	assert.False(t, ran)
}

func TestRunCompletes(t *testing.T) {
	h := newHarness(t, true)
	events, unsub := h.bus.Subscribe(4)
	defer unsub()

	res := h.o.Run(context.Background(), Request{Topic: "coffee", AspectRatio: "9:16", DurationSec: 15})
	assert.Equal(t, "complete", res.Outcome())
	assert.Empty(t, res.Failures)
	assert.Equal(t, "https://cdn/voice.mp3", res.AudioURL)
	assert.Equal(t, "https://cdn/video-1.mp4", res.VideoURL)
	assert.Equal(t, "https://cdn/render-1.mp4", res.FinalURL)
	require.NotEmpty(t, res.Captions)
	assert.Equal(t, "Fresh beans matter.", res.Captions[0].Text)
	for _, s := range []Stage{StageScript, StageVoiceover, StageVideo, StageSubtitles, StageCompose} {
		assert.True(t, res.Succeeded(s), s)
	}

	require.Len(t, h.video.specs, 1)
	assert.Equal(t, res.RunID, h.video.specs[0].Metadata["run"])
	assert.Equal(t, "9:16", h.video.specs[0].Input["aspect_ratio"])
	require.Len(t, h.render.specs, 1)
	assert.Equal(t, "https://cdn/voice.mp3", h.render.specs[0].Input["audio_url"])

	left, err := h.reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, left)

	ev := <-events
	assert.Equal(t, eventbus.WorkflowDone, ev.Type)
}

func TestPartialFailureThenRetryFailed(t *testing.T) {
	h := newHarness(t, true)
	h.voice.errs = []error{errors.New("voice 503")}

	res := h.o.Run(context.Background(), Request{Topic: "coffee"})
	assert.Equal(t, "partial", res.Outcome())
	assert.Equal(t, []Failure{{Step: StageVoiceover, Error: "voice 503"}}, res.Failures)
	assert.True(t, res.Succeeded(StageVideo))
	assert.True(t, res.Succeeded(StageCompose))
	assert.Empty(t, res.AudioURL)
	_, hasAudio := h.render.specs[0].Input["audio_url"]
	assert.False(t, hasAudio)

	again := h.o.RetryFailed(context.Background(), res)
	assert.Equal(t, "complete", again.Outcome())
	assert.Equal(t, res.RunID, again.RunID)
	assert.Equal(t, "https://cdn/voice.mp3", again.AudioURL)
	assert.Equal(t, 2, h.voice.Calls())
	assert.Equal(t, 1, h.video.Starts())
	assert.Equal(t, 2, h.render.Starts())
	assert.Equal(t, "https://cdn/render-2.mp4", again.FinalURL)

	// the previous result is not mutated
	assert.Len(t, res.Failures, 1)
}

func TestVideoFailureSkipsCompose(t *testing.T) {
	h := newHarness(t, true)
	h.video.fail = true

	res := h.o.Run(context.Background(), Request{Topic: "coffee"})
	assert.Equal(t, "partial", res.Outcome())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, StageVideo, res.Failures[0].Step)
	assert.Contains(t, res.Failures[0].Error, "gpu quota")
	assert.True(t, res.Succeeded(StageVoiceover))
	assert.Zero(t, h.render.Starts())
	_, ran := res.Stages[StageCompose]
	assert.False(t, ran)
}

func TestNoRenderBackend(t *testing.T) {
	h := newHarness(t, false)
	res := h.o.Run(context.Background(), Request{Topic: "coffee"})
	assert.Equal(t, "complete", res.Outcome())
	assert.Empty(t, res.FinalURL)
	_, ran := res.Stages[StageCompose]
	assert.False(t, ran)
}

func TestRetryFailedAfterAbortRerunsEverything(t *testing.T) {
	h := newHarness(t, false)
	h.script.err = errors.New("llm down")
	res := h.o.Run(context.Background(), Request{Topic: "coffee"})
	h.script.err = nil

	again := h.o.RetryFailed(context.Background(), res)
	assert.Equal(t, "complete", again.Outcome())
	assert.NotEqual(t, res.RunID, again.RunID)
	assert.Equal(t, 2, h.script.calls)
}

func TestResumeInFlightJobs(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.reg.Put(ctx, jobpoll.Handle{ID: "old-1", Provider: "video", CreatedAt: time.Now()}))
	require.NoError(t, h.reg.Put(ctx, jobpoll.Handle{ID: "x", Provider: "elsewhere", CreatedAt: time.Now()}))
	events, unsub := h.bus.Subscribe(4)
	defer unsub()

	rep, err := h.o.Resume(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.True(t, rep.Results[0].Success)
	assert.Equal(t, "https://cdn/old-1.mp4", rep.Results[0].Data)

	ev := <-events
	assert.Equal(t, eventbus.RenderCompleted, ev.Type)
	assert.Equal(t, "old-1", ev.Data.(ResumedJob).Handle.ID)

	left, err := h.reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "elsewhere", left[0].Provider)
}
