package jobpoll

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"contentpilot/internal/metrics"
	logx "contentpilot/pkg/logx"
)

type Config struct {
	Options
	// SubmitRetries is how many times a failed Start is retried.
	SubmitRetries int
	SubmitDelay   time.Duration
}

type Poller struct {
	cfg      Config
	registry Registry
	metrics  *metrics.Metrics
	log      logx.Logger
	now      func() time.Time
}

// NewPoller creates a poller. A nil registry keeps no handles.
func NewPoller(cfg Config, reg Registry, m *metrics.Metrics, log logx.Logger) *Poller {
	cfg.Options = cfg.Options.withDefaults()
	if cfg.SubmitRetries < 0 {
		cfg.SubmitRetries = 0
	}
	if cfg.SubmitDelay <= 0 {
		cfg.SubmitDelay = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if reg == nil {
		reg = nopRegistry{}
	}
	return &Poller{cfg: cfg, registry: reg, metrics: m, log: log, now: time.Now}
}

func (p *Poller) Options() Options { return p.cfg.Options }

func (p *Poller) Registry() Registry { return p.registry }

// Submit starts a job, retrying a failed start SubmitRetries times, and
// records the handle.
func (p *Poller) Submit(ctx context.Context, src Source, spec Spec) (Handle, error) {
	policy := retrypolicy.NewBuilder[Handle]().
		HandleIf(func(_ Handle, err error) bool {
			return err != nil && ctx.Err() == nil
		}).
		WithMaxRetries(p.cfg.SubmitRetries).
		WithDelay(p.cfg.SubmitDelay).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[Handle]) {
			p.log.Warn("job submit retry", logx.String("provider", src.Name()), logx.Err(e.LastError()))
		}).
		Build()

	h, err := failsafe.With[Handle](policy).WithContext(ctx).Get(func() (Handle, error) {
		return src.Start(ctx, spec)
	})
	if err != nil {
		return Handle{}, errors.Wrapf(err, "start %s job", src.Name())
	}
	if h.Provider == "" {
		h.Provider = src.Name()
	}
	if h.Status == "" {
		h.Status = StatusStarting
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = p.now()
	}
	if len(spec.Metadata) > 0 {
		md := make(map[string]string, len(h.Metadata)+len(spec.Metadata))
		for k, v := range spec.Metadata {
			md[k] = v
		}
		for k, v := range h.Metadata {
			md[k] = v
		}
		h.Metadata = md
	}
	if err := p.registry.Put(ctx, h); err != nil {
		p.log.Warn("job registry put failed", logx.String("job", h.key()), logx.Err(err))
	}
	p.log.Info("job submitted", logx.String("provider", h.Provider), logx.String("job", h.ID))
	return h, nil
}

// WaitUntilTerminal polls h every opts.PollInterval, up to opts.MaxAttempts
// times. Transient poll errors are logged and retried on the next tick.
//
// It returns the succeeded result, a *ProviderError for failed or canceled
// jobs, an error wrapping ErrTimeout when attempts run out, or ctx.Err().
func (p *Poller) WaitUntilTerminal(ctx context.Context, src Source, h Handle, opts Options) (PollResult, error) {
	opts = opts.withDefaults()
	started := p.now()
	t := time.NewTimer(opts.PollInterval)
	defer t.Stop()

	last := h.Status
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-t.C:
		}

		res, err := src.Poll(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return PollResult{}, ctx.Err()
			}
			p.log.Debug("job poll error", logx.String("job", h.key()), logx.Int("attempt", attempt), logx.Err(err))
			t.Reset(opts.PollInterval)
			continue
		}

		switch res.Status {
		case StatusSucceeded:
			p.metrics.PollerJob(h.Provider, string(res.Status), p.now().Sub(started))
			p.log.Info("job succeeded", logx.String("job", h.key()), logx.Int("polls", attempt))
			return res, nil
		case StatusFailed, StatusCanceled:
			p.metrics.PollerJob(h.Provider, string(res.Status), p.now().Sub(started))
			return res, &ProviderError{Provider: h.Provider, JobID: h.ID, Status: res.Status, Message: res.Error}
		}

		if res.Status != last {
			last = res.Status
			h.Status = res.Status
			if err := p.registry.Put(ctx, h); err != nil {
				p.log.Debug("job registry update failed", logx.String("job", h.key()), logx.Err(err))
			}
		}
		t.Reset(opts.PollInterval)
	}
	p.metrics.PollerJob(h.Provider, "timeout", p.now().Sub(started))
	return PollResult{}, errors.Wrapf(ErrTimeout, "%s after %d polls", h.key(), opts.MaxAttempts)
}

// Run submits a job and waits for it. The handle is dropped from the
// registry once the job is terminal; on timeout or cancellation it stays so
// a later Resume can pick it up.
func (p *Poller) Run(ctx context.Context, src Source, spec Spec) (Handle, PollResult, error) {
	h, err := p.Submit(ctx, src, spec)
	if err != nil {
		return Handle{}, PollResult{}, err
	}
	res, err := p.Wait(ctx, src, h)
	return h, res, err
}

// Wait is WaitUntilTerminal with the poller's options plus registry cleanup.
func (p *Poller) Wait(ctx context.Context, src Source, h Handle) (PollResult, error) {
	res, err := p.WaitUntilTerminal(ctx, src, h, p.cfg.Options)
	var pe *ProviderError
	if err == nil || errors.As(err, &pe) {
		if derr := p.registry.Delete(context.WithoutCancel(ctx), h.Provider, h.ID); derr != nil {
			p.log.Debug("job registry delete failed", logx.String("job", h.key()), logx.Err(derr))
		}
	}
	return res, err
}
