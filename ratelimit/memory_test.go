package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindow_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	svc := NewMemoryWindow()
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Limit(ctx, "shared", 25, time.Minute)
			if err == nil && resp.Success {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), allowed.Load())
}

func TestMemoryWindow_DeniedDoesNotConsume(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc := NewMemoryWindow(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = svc.Limit(ctx, "u", 1, time.Minute)
	for i := 0; i < 5; i++ {
		resp, _ := svc.Limit(ctx, "u", 1, time.Minute)
		require.False(t, resp.Success)
	}

	clock.Advance(time.Minute + time.Millisecond)
	resp, _ := svc.Limit(ctx, "u", 1, time.Minute)
	assert.True(t, resp.Success, "denials must not extend the window")
}

func TestMemoryWindow_CancelledContext(t *testing.T) {
	svc := NewMemoryWindow()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Limit(ctx, "u", 1, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, svc.Len())
}
