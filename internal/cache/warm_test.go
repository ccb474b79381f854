package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmContinuesPastFailures(t *testing.T) {
	c, _, _ := newTestCache(t)
	ids := []string{"p1", "p2", "p3", "p4", "p5"}

	var mu sync.Mutex
	attempted := map[string]bool{}
	fetch := func(ctx context.Context, id string) error {
		mu.Lock()
		attempted[id] = true
		mu.Unlock()
		if id == "p3" {
			return errors.New("remote exploded")
		}
		return nil
	}

	result := c.Warm(context.Background(), ids, fetch, WarmOptions{BatchSize: 5})
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "p3", result.Failed[0].ID)
	assert.Contains(t, result.Failed[0].Error, "remote exploded")
	assert.Len(t, attempted, 5)
}

func TestWarmRecoversPanics(t *testing.T) {
	c, _, _ := newTestCache(t)

	fetch := func(ctx context.Context, id string) error {
		if id == "boom" {
			panic("nil map")
		}
		return nil
	}

	result := c.Warm(context.Background(), []string{"a", "boom", "b"}, fetch, WarmOptions{BatchSize: 2})
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "boom", result.Failed[0].ID)
}

func TestWarmBatchesRunInSequence(t *testing.T) {
	c, _, _ := newTestCache(t)
	ids := []string{"a", "b", "c", "d", "e", "f", "g"}

	var inFlight, peak atomic.Int32
	fetch := func(ctx context.Context, id string) error {
		n := inFlight.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	result := c.Warm(context.Background(), ids, fetch, WarmOptions{BatchSize: 3, Delay: time.Millisecond})
	assert.Equal(t, 7, result.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestWarmStopsWhenContextCancelled(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	fetch := func(ctx context.Context, id string) error {
		calls.Add(1)
		cancel()
		return nil
	}

	result := c.Warm(ctx, []string{"a", "b", "c", "d"}, fetch, WarmOptions{BatchSize: 1, Delay: time.Hour})
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 3, result.Skipped)
}

func TestWarmEmpty(t *testing.T) {
	c, _, _ := newTestCache(t)
	result := c.Warm(context.Background(), nil, func(context.Context, string) error { return nil }, WarmOptions{})
	assert.Zero(t, result.Total)
	assert.Empty(t, result.Failed)
}
