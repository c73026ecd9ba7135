package lock

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lectern/pkg/observability"
)

// exerciseMutualExclusion increments a plain int from many goroutines under
// the lock; any overlap shows up as a lost update.
func exerciseMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "institute:1")
			require.NoError(t, err)
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewLocalLocker())
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_DropsIdleKeys(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock() // second call is a no-op

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.entries)
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	opts, err := redis.ParseURL("redis://" + mr.Addr())
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	return NewRedisLocker(client, time.Second), mr
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	locker, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, locker)
}

func TestRedisLocker_ReleaseOnlyOwnToken(t *testing.T) {
	locker, mr := newRedisLocker(t)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lectern:lock:k"))

	// lease expired and someone else took it
	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("lectern:lock:k"))
	require.NoError(t, mr.Set("lectern:lock:k", "other-token"))

	unlock()
	got, err := mr.Get("lectern:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}

func TestRedisLocker_ReleaseReportsLostLease(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var buf bytes.Buffer
	locker := NewRedisLocker(client, time.Second, WithLogger(observability.NewLogger(observability.WarnLevel, &buf)))

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	unlock()
	assert.Contains(t, buf.String(), "lock lease expired before release")

	buf.Reset()
	unlock, err = locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	mr.Close()
	unlock()
	assert.Contains(t, buf.String(), "failed to release lock")
	assert.Contains(t, buf.String(), `"key":"k"`)
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	locker, _ := newRedisLocker(t)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.Error(t, err)
}
