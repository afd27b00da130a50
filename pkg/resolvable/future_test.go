package resolvable

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_ResolveBeforeWait(t *testing.T) {
	f := New[string](0)
	assert.True(t, f.Resolve("a"))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestFuture_ResolveIsFirstWins(t *testing.T) {
	f := New[int](0)
	assert.True(t, f.Resolve(1))
	assert.False(t, f.Resolve(2))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, f.IsResolved())
}

func TestFuture_ConcurrentWaitersShareValue(t *testing.T) {
	f := New[string](0)

	const waiters = 16
	results := make([]string, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.Wait(context.Background())
			if err == nil {
				results[i] = v
			}
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	f.Resolve("shared")
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestFuture_TimeoutAnchoredAtCreation(t *testing.T) {
	f := New[string](50 * time.Millisecond)

	// Join late: the waiter should only wait for what is left of the budget.
	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	_, err := f.Wait(context.Background())
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 45*time.Millisecond)
	assert.True(t, f.IsSettled())
	assert.False(t, f.IsResolved())
}

func TestFuture_ResolveAfterTimeoutIsIgnored(t *testing.T) {
	f := New[string](10 * time.Millisecond)
	<-f.Done()

	assert.False(t, f.Resolve("late"))
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	f := New[string](0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsSettled())
}

func TestFuture_RejectNilUsesCanceled(t *testing.T) {
	f := New[string](0)
	assert.True(t, f.Reject(nil))

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFuture_Peek(t *testing.T) {
	f := New[int](0)

	_, settled, err := f.Peek()
	assert.False(t, settled)
	assert.NoError(t, err)

	f.Resolve(7)
	v, settled, err := f.Peek()
	assert.True(t, settled)
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}
