package providers

import (
	"context"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/jobpoll"
)

// jobClient speaks the minimal async job contract shared by the video and
// render backends:
//
//	POST {path}       {model, kind, input} -> {id, status}
//	GET  {path}/{id}  -> {status, output, error, progress}
type jobClient struct {
	exec  *Executor
	path  string
	model string
}

type jobRequest struct {
	Model string         `json:"model,omitempty"`
	Kind  string         `json:"kind,omitempty"`
	Input map[string]any `json:"input"`
}

type jobResponse struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Output   string  `json:"output,omitempty"`
	Error    string  `json:"error,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

func (c jobClient) Name() string { return c.exec.Name() }

func (c jobClient) Start(ctx context.Context, spec jobpoll.Spec) (jobpoll.Handle, error) {
	var resp jobResponse
	if err := c.exec.DoJSON(ctx, "POST", c.path, jobRequest{Model: c.model, Kind: spec.Kind, Input: spec.Input}, &resp); err != nil {
		return jobpoll.Handle{}, err
	}
	if resp.ID == "" {
		return jobpoll.Handle{}, errors.Newf("%s returned no job id", c.exec.Name())
	}
	h := jobpoll.Handle{
		ID:        resp.ID,
		Provider:  c.exec.Name(),
		Status:    jobpoll.StatusStarting,
		CreatedAt: time.Now(),
	}
	if resp.Status != "" {
		h.Status = jobpoll.NormalizeStatus(resp.Status)
	}
	if c.model != "" {
		h.Metadata = map[string]string{"model": c.model}
	}
	return h, nil
}

func (c jobClient) Poll(ctx context.Context, h jobpoll.Handle) (jobpoll.PollResult, error) {
	var resp jobResponse
	if err := c.exec.DoJSON(ctx, "GET", c.path+"/"+url.PathEscape(h.ID), nil, &resp); err != nil {
		return jobpoll.PollResult{}, err
	}
	return jobpoll.PollResult{
		Status:   jobpoll.NormalizeStatus(resp.Status),
		Output:   resp.Output,
		Error:    resp.Error,
		Progress: resp.Progress,
	}, nil
}

// VideoClient starts text-to-video generation jobs.
type VideoClient struct{ jobClient }

func NewVideoClient(exec *Executor, model string) *VideoClient {
	return &VideoClient{jobClient{exec: exec, path: "/jobs", model: model}}
}

// VideoSpec builds the job spec for a prompt.
func VideoSpec(prompt, aspectRatio string, seconds int) jobpoll.Spec {
	in := map[string]any{"prompt": prompt}
	if aspectRatio != "" {
		in["aspect_ratio"] = aspectRatio
	}
	if seconds > 0 {
		in["duration"] = seconds
	}
	return jobpoll.Spec{Kind: "video", Input: in}
}

// RenderClient submits composition jobs that merge video, audio and captions.
type RenderClient struct{ jobClient }

func NewRenderClient(exec *Executor) *RenderClient {
	return &RenderClient{jobClient{exec: exec, path: "/renders"}}
}

// RenderSpec builds the composition spec. Empty inputs are omitted.
func RenderSpec(videoURL, audioURL, srt string) jobpoll.Spec {
	in := map[string]any{"video_url": videoURL}
	if audioURL != "" {
		in["audio_url"] = audioURL
	}
	if srt != "" {
		in["subtitles_srt"] = srt
	}
	return jobpoll.Spec{Kind: "render", Input: in}
}
