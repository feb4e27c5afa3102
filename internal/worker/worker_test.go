// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/citation-engine/pkg/types"
)

type testJob struct {
	id      int
	fail    bool
	running *int32
	peak    *int32
}

type testResult struct {
	id  int
	err error
}

func (r testResult) GetError() error { return r.err }

func (j testJob) Execute(ctx context.Context) Result {
	if j.running != nil {
		n := atomic.AddInt32(j.running, 1)
		for {
			p := atomic.LoadInt32(j.peak)
			if n <= p || atomic.CompareAndSwapInt32(j.peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(j.running, -1)
	}
	if j.fail {
		return testResult{id: j.id, err: errors.New("job failed")}
	}
	return testResult{id: j.id}
}

func TestRun_CollectsAllResults(t *testing.T) {
	var jobs []Job
	for i := 0; i < 50; i++ {
		jobs = append(jobs, testJob{id: i, fail: i%10 == 0})
	}

	results := Run(context.Background(), 3, jobs)
	require.Len(t, results, 50)

	seen := make(map[int]bool)
	failed := 0
	for _, r := range results {
		seen[r.(testResult).id] = true
		if r.GetError() != nil {
			failed++
		}
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, 5, failed)
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	var jobs []Job
	for i := 0; i < 12; i++ {
		jobs = append(jobs, testJob{id: i, running: &running, peak: &peak})
	}

	results := Run(context.Background(), 2, jobs)
	assert.Len(t, results, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_Empty(t *testing.T) {
	assert.Empty(t, Run(context.Background(), 2, nil))
}

func TestPool_SubmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()
	cancel()

	err := pool.Submit(testJob{id: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pool.Wait())
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, Run(ctx, 2, []Job{testJob{id: 1}, testJob{id: 2}}))
}

// ready reports whether service has a token available now.
func ready(l *Limiter, service string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	return l.Wait(ctx, service) == nil
}

func TestLimiter_PerService(t *testing.T) {
	l := NewLimiter(1, 1)
	assert.True(t, ready(l, "embedding"))
	assert.False(t, ready(l, "embedding"))
	assert.True(t, ready(l, "citation"), "services have independent buckets")
}

func TestLimiter_SetRate(t *testing.T) {
	l := NewLimiter(1, 1)
	l.SetRate("embedding", 1000, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, ready(l, "embedding"))
	}
}

func TestLimiterFor_ServiceOverrides(t *testing.T) {
	l := LimiterFor(types.RateLimitConfig{
		RequestsPerSecond: 0.01,
		Burst:             1,
		Services: map[string]types.ServiceRate{
			"completion/gemini": {RequestsPerSecond: 0.01, Burst: 3},
			"embedding/openai":  {RequestsPerSecond: 0.01},
		},
	})
	for i := 0; i < 3; i++ {
		assert.True(t, ready(l, "completion/gemini"))
	}
	assert.False(t, ready(l, "completion/gemini"))

	assert.True(t, ready(l, "completion/openai"))
	assert.False(t, ready(l, "completion/openai"), "keys without an override use the default bucket")

	assert.True(t, ready(l, "embedding/openai"))
	assert.False(t, ready(l, "embedding/openai"), "a zero burst keeps the default burst")
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := NewLimiter(0.001, 1)
	require.NoError(t, l.Wait(context.Background(), "completion"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "completion"))
}

func TestLimiter_NilIsUnlimited(t *testing.T) {
	var l *Limiter
	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Wait(context.Background(), "x"))
	}
}
