package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_MissThenHit(t *testing.T) {
	c := New[string]()
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		return "result", nil
	}

	value, status, err := c.GetOrCompute(ctx, "fp-1", compute)
	require.NoError(t, err)
	assert.Equal(t, "result", value)
	assert.Equal(t, StatusMiss, status)

	value, status, err = c.GetOrCompute(ctx, "fp-1", compute)
	require.NoError(t, err)
	assert.Equal(t, "result", value)
	assert.Equal(t, StatusHit, status)
	assert.Equal(t, 1, calls)
}

func TestCache_DistinctFingerprintsComputeSeparately(t *testing.T) {
	c := New[int]()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n := i
		value, status, err := c.GetOrCompute(ctx, fmt.Sprintf("fp-%d", n), func(context.Context) (int, error) {
			return n * 10, nil
		})
		require.NoError(t, err)
		assert.Equal(t, n*10, value)
		assert.Equal(t, StatusMiss, status)
	}
	assert.Equal(t, 3, c.Len())
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[string](WithTTL[string](30 * time.Millisecond))
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		return "v", nil
	}

	_, _, err := c.GetOrCompute(ctx, "fp", compute)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, status, err := c.GetOrCompute(ctx, "fp", compute)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.Equal(t, 2, calls)
}

func TestCache_CapacityEvictsLRU(t *testing.T) {
	c := New[int](WithCapacity[int](2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fp := fmt.Sprintf("fp-%d", i)
		_, _, err := c.GetOrCompute(ctx, fp, func(context.Context) (int, error) { return i, nil })
		require.NoError(t, err)
	}

	// fp-0 was least recently used and must be gone.
	calls := 0
	_, status, err := c.GetOrCompute(ctx, "fp-0", func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, status)
	assert.Equal(t, 1, calls)
}

func TestCache_CoalescesConcurrentCallers(t *testing.T) {
	c := New[string]()
	ctx := context.Background()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	compute := func(context.Context) (string, error) {
		calls.Add(1)
		close(started)
		<-release
		return "shared", nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	statuses := make([]Status, waiters)
	values := make([]string, waiters)

	wg.Add(1)
	go func() {
		defer wg.Done()
		values[0], statuses[0], _ = c.GetOrCompute(ctx, "fp", compute)
	}()
	<-started

	for i := 1; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], statuses[i], _ = c.GetOrCompute(ctx, "fp", compute)
		}(i)
	}

	// Give the waiters time to join the in-flight computation.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < waiters; i++ {
		assert.Equal(t, "shared", values[i])
	}
	assert.Equal(t, StatusMiss, statuses[0])
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c := New[string]()
	ctx := context.Background()

	boom := errors.New("backend down")
	calls := 0

	_, _, err := c.GetOrCompute(ctx, "fp", func(context.Context) (string, error) {
		calls++
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	value, status, err := c.GetOrCompute(ctx, "fp", func(context.Context) (string, error) {
		calls++
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
	assert.Equal(t, StatusMiss, status)
	assert.Equal(t, 2, calls)
}

func TestCache_LeaderFailurePropagatesToWaiters(t *testing.T) {
	c := New[string]()
	ctx := context.Background()

	boom := errors.New("pipeline failed")
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _, _ = c.GetOrCompute(ctx, "fp", func(context.Context) (string, error) {
			close(started)
			<-release
			return "", boom
		})
	}()
	<-started

	const waiters = 4
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, _, err := c.GetOrCompute(ctx, "fp", func(context.Context) (string, error) {
				t.Error("waiter should not compute")
				return "", nil
			})
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, boom)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter stranded after leader failure")
		}
	}
}

func TestCache_AbandonedWaiterUnblocksWithoutKillingLeader(t *testing.T) {
	c := New[string]()

	started := make(chan struct{})
	release := make(chan struct{})
	leaderDone := make(chan struct{})

	go func() {
		defer close(leaderDone)
		_, _, _ = c.GetOrCompute(context.Background(), "fp", func(ctx context.Context) (string, error) {
			close(started)
			select {
			case <-release:
				return "v", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})
	}()
	<-started

	waiterCtx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.GetOrCompute(waiterCtx, "fp", func(context.Context) (string, error) {
		return "", nil
	})
	require.ErrorIs(t, err, context.Canceled)

	// The leader is unaffected by the waiter's cancellation.
	close(release)
	select {
	case <-leaderDone:
	case <-time.After(2 * time.Second):
		t.Fatal("leader did not complete")
	}

	value, status, err := c.GetOrCompute(context.Background(), "fp", func(context.Context) (string, error) {
		t.Error("value should be cached")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v", value)
	assert.Equal(t, StatusHit, status)
}

func TestCache_AbandonedLeaderReportsMiss(t *testing.T) {
	c := New[string]()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	callerCtx, cancel := context.WithCancel(context.Background())

	type outcome struct {
		status Status
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		_, status, err := c.GetOrCompute(callerCtx, "fp", func(context.Context) (string, error) {
			close(started)
			<-release
			return "v", nil
		})
		done <- outcome{status, err}
	}()

	// The caller led the computation; abandoning it must still report a
	// miss, not a coalesced join of someone else's flight.
	<-started
	cancel()

	res := <-done
	require.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, StatusMiss, res.status)
}

func TestCache_ComputeTimeoutBoundsLeader(t *testing.T) {
	c := New[string](WithComputeTimeout[string](20 * time.Millisecond))

	_, _, err := c.GetOrCompute(context.Background(), "fp", func(ctx context.Context) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
			return "too late", nil
		}
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_PurgeAndRemove(t *testing.T) {
	c := New[int]()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fp := fmt.Sprintf("fp-%d", i)
		_, _, err := c.GetOrCompute(ctx, fp, func(context.Context) (int, error) { return i, nil })
		require.NoError(t, err)
	}

	c.Remove("fp-0")
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}
