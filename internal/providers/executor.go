// Package providers holds the HTTP clients for the external AI backends:
// script writing, voice synthesis, video generation and rendering.
//
// Every request goes through an Executor, which applies a per-provider rate
// limit, retries network errors, 5xx and 429 with jittered backoff, and
// trips a circuit breaker when a backend keeps failing.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	"contentpilot/internal/config"
	"contentpilot/internal/metrics"
	logx "contentpilot/pkg/logx"
)

// ErrNotConfigured is returned by clients whose endpoint has no base URL.
var ErrNotConfigured = errors.New("provider not configured")

// StatusError is a non-2xx response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether err is worth another attempt: network errors,
// 5xx and 429.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

type Option func(*options)

type options struct {
	client       *http.Client
	baseDelay    time.Duration
	maxDelay     time.Duration
	breakerDelay time.Duration
}

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

func WithBackoff(base, max time.Duration) Option {
	return func(o *options) { o.baseDelay, o.maxDelay = base, max }
}

// WithBreakerDelay sets how long the breaker stays open before probing.
func WithBreakerDelay(d time.Duration) Option { return func(o *options) { o.breakerDelay = d } }

type Executor struct {
	ep      config.Endpoint
	client  *http.Client
	exec    failsafe.Executor[*http.Response]
	breaker circuitbreaker.CircuitBreaker[*http.Response]
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     logx.Logger
}

func NewExecutor(ep config.Endpoint, m *metrics.Metrics, log logx.Logger, opts ...Option) *Executor {
	o := options{baseDelay: 500 * time.Millisecond, maxDelay: 10 * time.Second, breakerDelay: 30 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("provider", ep.Name))
	if o.client == nil {
		timeout := ep.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		o.client = &http.Client{Timeout: timeout}
	}
	if ep.MaxRetries < 0 {
		ep.MaxRetries = 0
	}

	limit := rate.Inf
	if ep.RatePerSec > 0 {
		limit = rate.Limit(ep.RatePerSec)
	}
	burst := ep.Burst
	if burst <= 0 {
		burst = 1
	}

	handle := func(_ *http.Response, err error) bool { return Retryable(err) }
	retry := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(handle).
		WithBackoff(o.baseDelay, o.maxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(ep.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			log.Debug("provider retry", logx.Int("attempt", e.Attempts()), logx.Err(e.LastError()))
		}).
		Build()
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(handle).
		WithFailureThresholdRatio(5, 10).
		WithDelay(o.breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.Warn("provider circuit breaker state change",
				logx.String("from", fmt.Sprint(e.OldState)), logx.String("to", fmt.Sprint(e.NewState)))
		}).
		Build()

	return &Executor{
		ep:      ep,
		client:  o.client,
		exec:    failsafe.With[*http.Response](retry, breaker),
		breaker: breaker,
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
		log:     log,
	}
}

func (e *Executor) Name() string { return e.ep.Name }

func (e *Executor) Configured() bool { return e != nil && e.ep.Configured() }

func (e *Executor) BreakerOpen() bool { return e.breaker.IsOpen() }

// DoJSON sends in (if non-nil) as JSON to base URL + path and decodes a 2xx
// body into out (if non-nil).
func (e *Executor) DoJSON(ctx context.Context, method, path string, in, out any) error {
	if !e.Configured() {
		return errors.Wrapf(ErrNotConfigured, "%s", e.ep.Name)
	}
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}
	url := e.ep.BaseURL + path

	resp, err := e.exec.WithContext(ctx).Get(func() (*http.Response, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if e.ep.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.ep.APIKey)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			e.metrics.ProviderRequest(e.ep.Name, 0)
			return nil, err
		}
		e.metrics.ProviderRequest(e.ep.Name, resp.StatusCode)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			_ = resp.Body.Close()
			return nil, &StatusError{Provider: e.ep.Name, Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
		}
		return resp, nil
	})
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", e.ep.Name)
	}
	return nil
}
