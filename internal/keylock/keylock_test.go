package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_Serializes(t *testing.T) {
	l := New()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, unlock, err := l.Lock(context.Background(), "job/1")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, maxInside)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Empty(t, l.locks)
}

func TestLock_Reentrant(t *testing.T) {
	l := New()
	ctx, unlock, err := l.Lock(context.Background(), "escrow/1")
	require.NoError(t, err)
	defer unlock()

	require.True(t, Held(ctx, "escrow/1"))
	require.False(t, Held(ctx, "escrow/2"))

	_, _, err = l.Lock(ctx, "escrow/1")
	require.ErrorIs(t, err, ErrReentrant)

	// an unrelated key nests fine
	inner, unlockInner, err := l.Lock(ctx, "node/1")
	require.NoError(t, err)
	require.True(t, Held(inner, "escrow/1"))
	require.True(t, Held(inner, "node/1"))
	unlockInner()
}

func TestLock_ContextCancelledWhileWaiting(t *testing.T) {
	l := New()
	_, unlock, err := l.Lock(context.Background(), "node/1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = l.Lock(ctx, "node/1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockAll_SkipsEmptyAndDuplicates(t *testing.T) {
	l := New()
	ctx, unlock, err := l.LockAll(context.Background(), "job/1", "", "escrow/1", "job/1")
	require.NoError(t, err)
	require.True(t, Held(ctx, "job/1"))
	require.True(t, Held(ctx, "escrow/1"))
	unlock()

	// everything was released
	_, unlock, err = l.LockAll(context.Background(), "job/1", "escrow/1")
	require.NoError(t, err)
	unlock()
}

func TestLockAll_ReleasesOnFailure(t *testing.T) {
	l := New()
	ctx, unlock, err := l.Lock(context.Background(), "escrow/1")
	require.NoError(t, err)
	defer unlock()

	_, _, err = l.LockAll(ctx, "job/1", "escrow/1")
	require.ErrorIs(t, err, ErrReentrant)

	// job/1 must have been released again
	_, unlockJob, err := l.Lock(context.Background(), "job/1")
	require.NoError(t, err)
	unlockJob()
}
