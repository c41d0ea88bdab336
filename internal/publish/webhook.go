package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/content"
	logx "contentpilot/pkg/logx"
)

// Webhook posts content as JSON to an HTTP endpoint that performs the
// platform-specific publish and answers with the provider id.
//
// Request headers: Idempotency-Key (content id) and, when a secret is set,
// X-Signature (hex HMAC-SHA256 of the body).
type Webhook struct {
	url    string
	secret string
	client *http.Client
	log    logx.Logger
	now    func() time.Time
}

func NewWebhook(url, secret string, timeout time.Duration, log logx.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Webhook{url: url, secret: secret, client: &http.Client{Timeout: timeout}, log: log, now: time.Now}
}

func (w *Webhook) Name() string { return "webhook" }

type webhookRequest struct {
	ID        string            `json:"id"`
	Type      content.Type      `json:"type"`
	OwnerID   string            `json:"owner_id,omitempty"`
	Caption   string            `json:"caption"`
	MediaURLs []string          `json:"media_urls,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

type webhookResponse struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink,omitempty"`
}

func (w *Webhook) Publish(ctx context.Context, c content.Content) (content.Publication, error) {
	if p, ok := alreadyPublished(c); ok {
		return p, nil
	}
	body, err := json.Marshal(webhookRequest{
		ID: c.ID, Type: c.Type, OwnerID: c.OwnerID, Caption: c.Caption, MediaURLs: c.MediaURLs, Payload: c.Payload,
	})
	if err != nil {
		return content.Publication{}, Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return content.Publication{}, Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", c.ID)
	if w.secret != "" {
		req.Header.Set("X-Signature", Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return content.Publication{}, errors.Wrap(err, "webhook post")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return content.Publication{}, errors.Newf("webhook status %d: %s", resp.StatusCode, truncateRunes(string(raw), 200))
	default:
		return content.Publication{}, Permanent(errors.Newf("webhook status %d: %s", resp.StatusCode, truncateRunes(string(raw), 200)))
	}

	var out webhookResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		return content.Publication{}, errors.Newf("webhook response without id: %s", truncateRunes(string(raw), 200))
	}
	w.log.Info("published via webhook", logx.String("content", c.ID), logx.String("provider_id", out.ID))
	return content.Publication{ProviderID: out.ID, Permalink: out.Permalink, PublishedAt: w.now().UTC()}, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}
