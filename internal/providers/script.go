package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ScriptClient writes short video scripts through an OpenAI-compatible
// chat completions endpoint.
type ScriptClient struct {
	exec  *Executor
	model string
}

func NewScriptClient(exec *Executor, model string) *ScriptClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ScriptClient{exec: exec, model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const scriptSystemPrompt = "You write voiceover scripts for short vertical videos. " +
	"Reply with the spoken text only: no headings, no stage directions, no emojis."

func (c *ScriptClient) WriteScript(ctx context.Context, topic, tone string, seconds int) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", errors.New("script topic is empty")
	}
	if seconds <= 0 {
		seconds = 30
	}
	if tone == "" {
		tone = "friendly"
	}
	user := fmt.Sprintf("Topic: %s\nTone: %s\nLength: about %d seconds when read aloud (%d words).",
		topic, tone, seconds, seconds*13/5)

	var resp chatResponse
	err := c.exec.DoJSON(ctx, "POST", "/chat/completions", chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: scriptSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("script provider returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("script provider returned empty text")
	}
	return text, nil
}
