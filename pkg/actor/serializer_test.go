package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSerializer(t *testing.T) *Serializer {
	t.Helper()
	s := NewSerializer(5*time.Second, zap.NewNop())
	t.Cleanup(s.Shutdown)
	return s
}

func TestSerializeReturnsFnError(t *testing.T) {
	s := newTestSerializer(t)
	boom := errors.New("boom")

	require.NoError(t, s.Serialize(context.Background(), "order-1", func(context.Context) error { return nil }))
	require.ErrorIs(t, s.Serialize(context.Background(), "order-1", func(context.Context) error { return boom }), boom)
}

func TestSerializeRunsOneAtATimePerKey(t *testing.T) {
	s := newTestSerializer(t)

	var running, maxRunning int32
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Serialize(context.Background(), "order-1", func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				atomic.AddInt32(&running, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	require.Equal(t, 50, counter)
}

func TestSerializeKeysRunIndependently(t *testing.T) {
	s := newTestSerializer(t)

	release := make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		blocked <- s.Serialize(context.Background(), "order-1", func(context.Context) error {
			<-release
			return nil
		})
	}()

	// a different key is not stuck behind order-1
	done := make(chan error, 1)
	go func() {
		done <- s.Serialize(context.Background(), "order-2", func(context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("order-2 waited for order-1")
	}

	close(release)
	require.NoError(t, <-blocked)
}

func TestSerializeRecoversPanics(t *testing.T) {
	s := newTestSerializer(t)

	err := s.Serialize(context.Background(), "order-1", func(context.Context) error { panic("bad state") })
	require.ErrorContains(t, err, "panicked")

	// the key keeps working after a panic
	require.NoError(t, s.Serialize(context.Background(), "order-1", func(context.Context) error { return nil }))
}

func TestSerializePassesBoundedContext(t *testing.T) {
	s := NewSerializer(50*time.Millisecond, zap.NewNop())
	t.Cleanup(s.Shutdown)

	var hasDeadline bool
	err := s.Serialize(context.Background(), "order-1", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, hasDeadline)
}

func TestSerializeWithdrawsQueuedWorkOnTimeout(t *testing.T) {
	s := NewSerializer(100*time.Millisecond, zap.NewNop())
	t.Cleanup(s.Shutdown)

	release := make(chan struct{})
	first := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		first <- s.Serialize(context.Background(), "order-1", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// queued behind the blocked mutation until its timeout expires
	var ran atomic.Bool
	err := s.Serialize(context.Background(), "order-1", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-first

	// later work for the key still runs, and the withdrawn one never does
	require.NoError(t, s.Serialize(context.Background(), "order-1", func(context.Context) error { return nil }))
	require.False(t, ran.Load())
}

func TestSerializeWaitsForStartedWork(t *testing.T) {
	s := NewSerializer(50*time.Millisecond, zap.NewNop())
	t.Cleanup(s.Shutdown)

	boom := errors.New("boom")
	err := s.Serialize(context.Background(), "order-1", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return boom
	})
	// the started mutation's own result wins over the timeout
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestSerializeHonoursCancelledContext(t *testing.T) {
	s := newTestSerializer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Serialize(ctx, "order-1", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestSerializeManyKeys(t *testing.T) {
	s := newTestSerializer(t)

	var total int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				require.NoError(t, s.Serialize(context.Background(), key, func(context.Context) error {
					atomic.AddInt64(&total, 1)
					return nil
				}))
			}(fmt.Sprintf("order-%d", i))
		}
	}
	wg.Wait()
	require.Equal(t, int64(100), atomic.LoadInt64(&total))
}
