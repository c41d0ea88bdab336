package workflow

import (
	"context"
	"time"

	"contentpilot/internal/subtitles"
)

type ScriptWriter interface {
	WriteScript(ctx context.Context, topic, tone string, seconds int) (string, error)
}

type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, text, style string) (audioURL string, err error)
}

type Stage string

const (
	StageScript    Stage = "script"
	StageVoiceover Stage = "voiceover"
	StageVideo     Stage = "video"
	StageSubtitles Stage = "subtitles"
	StageCompose   Stage = "compose"
)

// Request describes one reel to generate.
type Request struct {
	Topic       string `json:"topic"`
	Tone        string `json:"tone,omitempty"`
	VoiceStyle  string `json:"voice_style,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

type StageResult struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Failure struct {
	Step  Stage  `json:"step"`
	Error string `json:"error"`
}

// Result is always returned, including when stages failed. A caller can
// inspect Failures and hand the result to RetryFailed.
type Result struct {
	RunID    string                `json:"run_id"`
	Request  Request               `json:"request"`
	Script   string                `json:"script,omitempty"`
	AudioURL string                `json:"audio_url,omitempty"`
	VideoURL string                `json:"video_url,omitempty"`
	Captions []subtitles.Caption   `json:"captions,omitempty"`
	FinalURL string                `json:"final_url,omitempty"`
	Stages   map[Stage]StageResult `json:"stages"`
	Failures []Failure             `json:"failures,omitempty"`
	Started  time.Time             `json:"started"`
	Finished time.Time             `json:"finished"`
}

func (r Result) Succeeded(s Stage) bool { return r.Stages[s].Success }

// Outcome is "complete" with no failures, "aborted" when the script failed
// and "partial" otherwise.
func (r Result) Outcome() string {
	switch {
	case !r.Succeeded(StageScript):
		return "aborted"
	case len(r.Failures) == 0:
		return "complete"
	default:
		return "partial"
	}
}

func (r *Result) record(s Stage, d time.Duration, err error) {
	sr := StageResult{Success: err == nil, Duration: d}
	r.dropFailure(s)
	if err != nil {
		sr.Error = err.Error()
		r.Failures = append(r.Failures, Failure{Step: s, Error: sr.Error})
	}
	r.Stages[s] = sr
}

func (r *Result) recordResult(s Stage, ok bool, d time.Duration, msg string) {
	sr := StageResult{Success: ok, Duration: d, Error: msg}
	r.dropFailure(s)
	if !ok {
		r.Failures = append(r.Failures, Failure{Step: s, Error: msg})
	}
	r.Stages[s] = sr
}

func (r *Result) dropFailure(s Stage) {
	out := r.Failures[:0]
	for _, f := range r.Failures {
		if f.Step != s {
			out = append(out, f)
		}
	}
	r.Failures = out
}

func (r Result) clone() Result {
	c := r
	c.Stages = make(map[Stage]StageResult, len(r.Stages))
	for k, v := range r.Stages {
		c.Stages[k] = v
	}
	c.Failures = append([]Failure(nil), r.Failures...)
	c.Captions = append([]subtitles.Caption(nil), r.Captions...)
	return c
}
