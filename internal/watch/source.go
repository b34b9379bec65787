// Package watch delivers new mailbox messages to a running agent: it wakes on
// a Source, peeks past a persisted cursor, raises alerts, logs discussion
// threads, and optionally answers through auto replies and auto commands.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"
)

// Source produces wake-ups. A wake-up only means "the mailbox may have
// changed"; the monitor always re-reads the mailbox to find out.
// The returned channel is closed when ctx is cancelled.
type Source interface {
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

// signal does a non-blocking send; one pending wake-up is enough.
func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// PollSource wakes every Interval.
type PollSource struct {
	Interval time.Duration
}

// Subscribe starts the ticker.
func (s *PollSource) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	if s.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", s.Interval)
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				signal(out)
			}
		}
	}()
	return out, nil
}

// FileSource wakes when File inside Dir is replaced or written.
// The directory is watched rather than the file because every commit
// replaces the mailbox by rename, which changes its inode.
// Bursts of events within Debounce collapse into one wake-up.
type FileSource struct {
	Dir      string
	File     string
	Debounce time.Duration
}

// Subscribe starts the fsnotify watcher.
func (s *FileSource) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", s.Dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(s.Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.Dir, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != s.File || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
					continue
				}
				if s.Debounce <= 0 {
					signal(out)
					continue
				}
				if timer == nil {
					timer = time.NewTimer(s.Debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(s.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				signal(out)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] File watcher error: %v", err)
			}
		}
	}()
	return out, nil
}

// RedisSource wakes on every publish to Channel.
type RedisSource struct {
	Client  *redis.Client
	Channel string
}

// Subscribe subscribes and waits for the server to confirm before returning,
// so no publish after Subscribe returns is missed.
func (s *RedisSource) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	pubsub := s.Client.Subscribe(ctx, s.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.Channel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()
	return out, nil
}
