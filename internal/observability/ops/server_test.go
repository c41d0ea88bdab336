package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/metrics"
	logx "contentpilot/pkg/logx"
)

func get(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.New("test")
	m.DispatchOutcome("completed")
	health := func(ctx context.Context) (any, error) {
		return map[string]any{"status": "ok", "ticks": 3}, nil
	}
	s := New(Config{}, health, m.Handler(), logx.Nop())
	h := s.Handler(Config{})

	rec := get(t, h, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["ticks"])

	rec = get(t, h, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `contentpilot_dispatch_outcomes_total{outcome="completed"} 1`)

	rec = get(t, h, "/debug/pprof/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthUnhealthy(t *testing.T) {
	s := New(Config{}, func(ctx context.Context) (any, error) {
		return map[string]string{"storage": "down"}, errors.New("storage ping failed")
	}, nil, logx.Nop())
	rec := get(t, s.Handler(Config{}), "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage ping failed")
}

func TestTokenAndPprofDisabled(t *testing.T) {
	s := New(Config{}, nil, nil, logx.Nop())
	cfg := Config{Token: "s3cret", PprofPrefix: "-"}
	h := s.Handler(cfg)

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret", "").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/", "s3cret").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics", "s3cret").Code)
}

func TestCustomPprofPrefix(t *testing.T) {
	s := New(Config{}, nil, nil, logx.Nop())
	h := s.Handler(Config{PprofPrefix: "ops/pprof"})
	assert.Equal(t, http.StatusOK, get(t, h, "/ops/pprof/", "").Code)
	assert.Equal(t, http.StatusPermanentRedirect, get(t, h, "/ops/pprof", "").Code)
}

func TestServeLifecycle(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	select {
	case <-s.Bound():
	case <-time.After(2 * time.Second):
		t.Fatal("ops server did not bind")
	}
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), "ok")

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Reconfigure(sctx, Config{Enabled: false})
	assert.Nil(t, s.Supervisor())
	assert.Empty(t, s.Addr())
}

func TestInsecureBindRefused(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:9090"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	err := s.serveOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure bind")
}
