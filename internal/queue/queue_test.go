package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantflow/internal/domain"
)

// newMiniRedisQueue is enough for writes; miniredis has no BZPOPMIN, so
// anything that dequeues needs a real server.
func newMiniRedisQueue(t *testing.T) *Redis {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	q := NewRedis(redis.NewClient(&redis.Options{Addr: s.Addr()}), "test:queue")
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// implementations returns the real Redis queue only when
// QUANTFLOW_TEST_REDIS_ADDR points at a server.
func implementations(t *testing.T) map[string]Queue {
	qs := map[string]Queue{"memory": NewMemory()}
	addr := os.Getenv("QUANTFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		return qs
	}
	key := "quantflow:test:" + strings.ReplaceAll(t.Name(), "/", "_")
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Del(context.Background(), key, key+":seq").Err())
	q := NewRedis(client, key)
	t.Cleanup(func() {
		_ = client.Del(context.Background(), key, key+":seq").Err()
		_ = q.Close()
	})
	qs["redis"] = q
	return qs
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	for name, q := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			refs := []Ref{
				{TaskID: "a", Priority: 100},
				{TaskID: "b", Priority: 10},
				{TaskID: "c", Priority: 100},
				{TaskID: "d", Priority: 0},
				{TaskID: "e", Priority: 10},
			}
			for _, r := range refs {
				require.NoError(t, q.Enqueue(ctx, r))
			}
			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, n)

			var got []Ref
			for range refs {
				r, err := q.Dequeue(ctx, time.Second)
				require.NoError(t, err)
				got = append(got, r)
			}
			assert.Equal(t, []Ref{
				{TaskID: "d", Priority: 0},
				{TaskID: "b", Priority: 10},
				{TaskID: "e", Priority: 10},
				{TaskID: "a", Priority: 100},
				{TaskID: "c", Priority: 100},
			}, got)
		})
	}
}

func TestQueue_DequeueTimesOut(t *testing.T) {
	for name, q := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
			assert.True(t, errors.Is(err, ErrEmpty))
			assert.Less(t, time.Since(start), 3*time.Second)
		})
	}
}

func TestRedis_ScoresOrderAtPriorityBounds(t *testing.T) {
	q := newMiniRedisQueue(t)
	ctx := context.Background()
	refs := []Ref{
		{TaskID: "max1", Priority: domain.MaxPriority},
		{TaskID: "min1", Priority: domain.MinPriority},
		{TaskID: "max2", Priority: domain.MaxPriority},
		{TaskID: "near", Priority: domain.MaxPriority - 1},
		{TaskID: "max3", Priority: domain.MaxPriority},
	}
	for _, r := range refs {
		require.NoError(t, q.Enqueue(ctx, r))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(refs), n)

	zs, err := q.client.ZRangeWithScores(ctx, q.key, 0, -1).Result()
	require.NoError(t, err)
	var ids []string
	for i, z := range zs {
		ids = append(ids, z.Member.(string))
		if i > 0 {
			assert.Greater(t, z.Score, zs[i-1].Score, "scores must stay distinct")
		}
	}
	assert.Equal(t, []string{"min1", "near", "max1", "max2", "max3"}, ids)
}

func TestRedis_RejectsPriorityOutOfRange(t *testing.T) {
	q := newMiniRedisQueue(t)
	ctx := context.Background()
	for _, p := range []int{domain.MinPriority - 1, domain.MaxPriority + 1} {
		err := q.Enqueue(ctx, Ref{TaskID: "x", Priority: p})
		assert.ErrorIs(t, err, domain.ErrInvalidParams)
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemory_DequeueWakesOnEnqueue(t *testing.T) {
	q := NewMemory()
	done := make(chan Ref, 1)
	go func() {
		r, err := q.Dequeue(context.Background(), 2*time.Second)
		if err == nil {
			done <- r
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Ref{TaskID: "x"}))

	select {
	case r := <-done:
		assert.Equal(t, "x", r.TaskID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestMemory_ConcurrentDequeueDeliversOnce(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(ctx, Ref{TaskID: fmt.Sprintf("t%d", i)}))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, err := q.Dequeue(ctx, 20*time.Millisecond)
				if err != nil {
					return
				}
				mu.Lock()
				seen[r.TaskID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, c := range seen {
		assert.Equal(t, 1, c, id)
	}
}

func TestMemory_Close(t *testing.T) {
	q := NewMemory()
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.True(t, errors.Is(q.Enqueue(context.Background(), Ref{TaskID: "x"}), ErrClosed))
	_, err := q.Dequeue(context.Background(), time.Second)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestMemory_DequeueHonoursContext(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx, time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
}
