package parallel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "contentpilot/pkg/logx"
)

func newRunner() *Runner {
	return NewRunner(Config{TaskTimeout: time.Second}, nil, logx.Nop())
}

func TestExecuteParallelIsolatesFailures(t *testing.T) {
	var siblingDone atomic.Bool
	tasks := []Task{
		{Name: "err", Fn: func(ctx context.Context) (any, error) { return nil, errors.New("boom") }},
		{Name: "panic", Fn: func(ctx context.Context) (any, error) { panic("oops") }},
		{Name: "slow", Timeout: 20 * time.Millisecond, Fn: func(ctx context.Context) (any, error) {
			time.Sleep(time.Second)
			return "late", nil
		}},
		{Name: "ok", Fn: func(ctx context.Context) (any, error) {
			time.Sleep(50 * time.Millisecond)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			siblingDone.Store(true)
			return 42, nil
		}},
	}
	rep := newRunner().ExecuteParallel(context.Background(), tasks)

	require.Len(t, rep.Results, 4)
	for i, task := range tasks {
		assert.Equal(t, task.Name, rep.Results[i].Name)
	}
	assert.Equal(t, "boom", rep.Results[0].Error)
	assert.Contains(t, rep.Results[1].Error, "panic: oops")
	assert.Contains(t, rep.Results[2].Error, "timed out")
	assert.False(t, rep.Results[2].Success)

	ok := rep.Results[3]
	assert.True(t, ok.Success)
	assert.Equal(t, 42, ok.Data)
	assert.True(t, siblingDone.Load())
	assert.GreaterOrEqual(t, ok.DurationMs(), int64(50))

	assert.Equal(t, Summary{Total: 4, Successful: 1, Failed: 3, Duration: rep.Summary.Duration}, rep.Summary)
	assert.Len(t, rep.Failures(), 3)
	res, found := rep.Result("ok")
	assert.True(t, found)
	assert.Equal(t, 42, res.Data)
}

func TestExecuteParallelRunsConcurrently(t *testing.T) {
	var tasks []Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, Task{Name: "t", Fn: func(ctx context.Context) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		}})
	}
	start := time.Now()
	rep := newRunner().ExecuteParallel(context.Background(), tasks)
	assert.Equal(t, 5, rep.Summary.Successful)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestExecuteParallelParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := newRunner().ExecuteParallel(ctx, []Task{{Name: "x", Fn: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}})
	require.Len(t, rep.Results, 1)
	assert.False(t, rep.Results[0].Success)
	assert.Equal(t, context.Canceled.Error(), rep.Results[0].Error)
}

func TestExecuteBatchedWindows(t *testing.T) {
	var inflight, peak atomic.Int32
	var tasks []Task
	for i := 0; i < 7; i++ {
		tasks = append(tasks, Task{Name: string(rune('a' + i)), Fn: func(ctx context.Context) (any, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
			return i, nil
		}})
	}
	rep := newRunner().ExecuteBatched(context.Background(), tasks, 3)
	require.Len(t, rep.Results, 7)
	assert.Equal(t, 7, rep.Summary.Total)
	assert.Equal(t, 7, rep.Summary.Successful)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	for i, res := range rep.Results {
		assert.Equal(t, i, res.Data)
	}
}

func TestEmptyBatch(t *testing.T) {
	rep := newRunner().ExecuteParallel(context.Background(), nil)
	assert.Equal(t, 0, rep.Summary.Total)
	assert.Empty(t, rep.Results)
}
