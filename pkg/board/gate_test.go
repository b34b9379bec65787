package board

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lodge", "gate.lock")
	g := NewGate(path, 200*time.Millisecond, 10*time.Millisecond)

	held, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path, "marker file is created on first acquire")
	require.NoError(t, held.Release())

	held, err = g.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, held.Release())
}

func TestGate_TimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.lock")
	holder := NewGate(path, time.Second, 10*time.Millisecond)
	waiter := NewGate(path, 150*time.Millisecond, 20*time.Millisecond)

	held, err := holder.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = waiter.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestGate_WaiterProceedsAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.lock")
	g := NewGate(path, 2*time.Second, 10*time.Millisecond)

	held, err := g.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		h, err := g.Acquire(context.Background())
		if err == nil {
			err = h.Release()
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, held.Release())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the gate")
	}
}

func TestGate_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.lock")
	g := NewGate(path, 5*time.Second, 10*time.Millisecond)

	held, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_UpdatesAreSerialized(t *testing.T) {
	s, err := Open(t.TempDir(), Options{GateTimeout: 5 * time.Second, GateRetry: time.Millisecond})
	require.NoError(t, err)

	var inside int32
	var overlap int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(context.Background(), func(tx *Tx) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap), "two updates held the gate at once")
}
