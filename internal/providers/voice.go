package providers

import (
	"context"

	"github.com/cockroachdb/errors"
)

// VoiceClient synthesizes speech: POST /synthesize {text, style, model} -> {audio_url}.
type VoiceClient struct {
	exec  *Executor
	model string
}

func NewVoiceClient(exec *Executor, model string) *VoiceClient {
	return &VoiceClient{exec: exec, model: model}
}

type voiceRequest struct {
	Text  string `json:"text"`
	Style string `json:"style,omitempty"`
	Model string `json:"model,omitempty"`
}

type voiceResponse struct {
	AudioURL string `json:"audio_url"`
}

func (c *VoiceClient) Synthesize(ctx context.Context, text, style string) (string, error) {
	var resp voiceResponse
	if err := c.exec.DoJSON(ctx, "POST", "/synthesize", voiceRequest{Text: text, Style: style, Model: c.model}, &resp); err != nil {
		return "", err
	}
	if resp.AudioURL == "" {
		return "", errors.New("voice provider returned no audio_url")
	}
	return resp.AudioURL, nil
}
