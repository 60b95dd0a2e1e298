package frame

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueDropNewest(t *testing.T) {
	q := NewQueue[string](2, DropNewest)

	require.True(t, q.TryPush("A"))
	require.True(t, q.TryPush("B"))
	require.False(t, q.TryPush("C"))
	require.Equal(t, 2, q.Len())
	require.Equal(t, uint64(1), q.Dropped())

	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, "A", v)

	require.True(t, q.TryPush("D"))
	v, _ = q.TryPop()
	require.Equal(t, "B", v)
	v, _ = q.TryPop()
	require.Equal(t, "D", v)

	_, ok = q.TryPop()
	require.False(t, ok)
}

func TestQueueDropOldest(t *testing.T) {
	q := NewQueue[string](2, DropOldest)

	require.True(t, q.TryPush("A"))
	require.True(t, q.TryPush("B"))
	require.True(t, q.TryPush("C"))
	require.Equal(t, 2, q.Len())
	require.Equal(t, uint64(1), q.Dropped())

	v, _ := q.TryPop()
	require.Equal(t, "B", v)
	v, _ = q.TryPop()
	require.Equal(t, "C", v)
}

func TestQueueNeverExceedsCapacityUnderContention(t *testing.T) {
	for _, policy := range []DropPolicy{DropNewest, DropOldest} {
		q := NewQueue[int](5, policy)
		var exceeded atomic.Bool
		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					q.TryPush(p*1000 + i)
					if q.Len() > q.Cap() {
						exceeded.Store(true)
					}
				}
			}(p)
		}
		wg.Wait()
		require.False(t, exceeded.Load())
		require.Equal(t, 5, q.Len(), policy.String())
	}
}

func TestQueuePopTimesOut(t *testing.T) {
	q := NewQueue[int](1, DropNewest)
	start := time.Now()
	_, ok := q.Pop(context.Background(), 50*time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueuePopObservesCancel(t *testing.T) {
	q := NewQueue[int](1, DropNewest)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, ok := q.Pop(ctx, time.Minute)
	require.False(t, ok)
	require.Less(t, time.Since(start), time.Second)
}

func TestQueueNextAndDrain(t *testing.T) {
	q := NewQueue[int](3, DropNewest)
	q.TryPush(1)
	v, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)

	q.TryPush(2)
	q.TryPush(3)
	require.Equal(t, 2, q.Drain())
	require.Equal(t, 0, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = q.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseDropPolicy(t *testing.T) {
	p, err := ParseDropPolicy("oldest")
	require.NoError(t, err)
	require.Equal(t, DropOldest, p)

	p, err = ParseDropPolicy("")
	require.NoError(t, err)
	require.Equal(t, DropNewest, p)

	_, err = ParseDropPolicy("random")
	require.Error(t, err)
}
