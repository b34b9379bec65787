package board

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultGateTimeout bounds how long an operation waits for the gate.
	DefaultGateTimeout = 10 * time.Second

	// DefaultGateRetry is the fixed interval between acquisition attempts.
	DefaultGateRetry = 100 * time.Millisecond
)

// Gate is the single cross-process mutex guarding every read-modify-write of
// the shared documents. It holds an OS exclusive lock on a marker file, so a
// holder that crashes releases the gate when the kernel closes its handle.
type Gate struct {
	path    string
	timeout time.Duration
	retry   time.Duration
}

// NewGate creates a gate on the marker file at path.
// Zero timeout or retry select the defaults.
func NewGate(path string, timeout, retry time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultGateTimeout
	}
	if retry <= 0 {
		retry = DefaultGateRetry
	}
	return &Gate{path: path, timeout: timeout, retry: retry}
}

// Held is an acquired gate. Release must be called exactly once.
type Held struct {
	f *os.File
}

// Release drops the exclusive lock and closes the marker handle.
func (h *Held) Release() error {
	if h == nil || h.f == nil {
		return nil
	}
	unlockErr := unlockFile(h.f)
	closeErr := h.f.Close()
	h.f = nil
	if unlockErr != nil {
		return fmt.Errorf("failed to release gate: %w", unlockErr)
	}
	return closeErr
}

// Acquire takes the gate, retrying every retry interval until the timeout
// elapses (LockTimeout) or ctx is cancelled. The marker file is created if absent.
func (g *Gate) Acquire(ctx context.Context) (*Held, error) {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create coordination directory: %w", err)
	}

	deadline := time.Now().Add(g.timeout)
	for {
		f, err := os.OpenFile(g.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open gate marker: %w", err)
		}
		locked, err := tryLockFile(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to lock gate marker: %w", err)
		}
		if locked {
			return &Held{f: f}, nil
		}
		_ = f.Close()

		if !time.Now().Before(deadline) {
			return nil, Errorf(CodeLockTimeout, "gate %s not acquired within %s", g.path, g.timeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gate acquisition cancelled: %w", ctx.Err())
		case <-time.After(g.retry):
		}
	}
}
