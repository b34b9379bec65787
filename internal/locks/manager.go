// Package locks implements advisory per-path resource locks.
//
// A lock is a record file under .lodge/locks. Staleness is derived at read
// time from the record's age and TTL; a stale lock is simply eligible for
// override by the next Lock call.
package locks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/pkg/board"
)

// DefaultTTL applies when a lock request carries no TTL.
const DefaultTTL = 30 * time.Minute

// Options configures a Manager.
type Options struct {
	DefaultTTL time.Duration

	// Notify, when set, receives a message for every successful lock and unlock.
	Notify string
}

// Manager acquires, releases and reports resource locks.
type Manager struct {
	store      *board.Store
	bus        *mailbox.Bus
	defaultTTL time.Duration
	notify     string
}

// New creates a lock manager. bus may be nil when no notifications are wanted.
func New(store *board.Store, bus *mailbox.Bus, opts Options) *Manager {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	return &Manager{store: store, bus: bus, defaultTTL: opts.DefaultTTL, notify: opts.Notify}
}

// DefaultTTL returns the TTL applied when none is given.
func (m *Manager) DefaultTTL() time.Duration {
	return m.defaultTTL
}

// Request describes a lock acquisition.
type Request struct {
	Path       string
	By         string
	Reason     string
	TTL        time.Duration
	Force      bool
	ContractID string
}

// Status is a lock record annotated at read time.
type Status struct {
	board.ResourceLock
	Age   time.Duration
	Stale bool
}

// Lock acquires req.Path for req.By.
func (m *Manager) Lock(ctx context.Context, req Request) (*board.ResourceLock, error) {
	var out board.ResourceLock
	err := m.store.Update(ctx, func(tx *board.Tx) error {
		rec, err := m.AcquireTx(tx, req)
		if err != nil {
			return err
		}
		out = *rec
		return m.notifyTx(tx, req.By, fmt.Sprintf("🔒 %s locked %s", req.By, rec.Path), rec.Reason)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AcquireTx acquires a lock inside an existing transaction.
// A held, non-stale lock fails with ResourceAlreadyLocked unless forced or
// held by the same agent, in which case the record is refreshed. A refresh
// without a contract id keeps the record's contract, so the lock is still
// released when that contract ends.
//
// Staleness is judged against req.TTL when given, else the record's own TTL.
func (m *Manager) AcquireTx(tx *board.Tx, req Request) (*board.ResourceLock, error) {
	path := board.NormalizeResourcePath(req.Path)
	if path == "" {
		return nil, board.MissingField("path")
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		return nil, board.MissingField("by")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := tx.Now()
	existing, err := tx.Lock(path)
	if err != nil {
		return nil, err
	}
	contractID := req.ContractID
	if existing != nil {
		stale := existing.IsStale(now, m.defaultTTL)
		if req.TTL > 0 {
			stale = existing.Age(now) >= req.TTL
		}
		if !req.Force && existing.LockedBy != by && !stale {
			return nil, board.Errorf(board.CodeResourceAlreadyLocked,
				"%s is locked by %s since %s", path, existing.LockedBy, existing.CreatedAt.Format(time.RFC3339))
		}
		if contractID == "" && existing.LockedBy == by {
			contractID = existing.ContractID
		}
	}

	rec := &board.ResourceLock{
		Path:       path,
		LockedBy:   by,
		Reason:     req.Reason,
		CreatedAt:  now,
		TTLSeconds: int64(ttl / time.Second),
		ContractID: contractID,
	}
	tx.PutLock(rec)
	return rec, nil
}

// Unlock releases path on behalf of by. A missing record is a no-op.
// It reports whether a record was removed.
func (m *Manager) Unlock(ctx context.Context, path, by string, force bool) (bool, error) {
	removed := false
	err := m.store.Update(ctx, func(tx *board.Tx) error {
		var err error
		removed, err = m.ReleaseTx(tx, path, by, force)
		if err != nil || !removed {
			return err
		}
		return m.notifyTx(tx, by, fmt.Sprintf("🔓 %s unlocked %s", by, board.NormalizeResourcePath(path)), "")
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// ReleaseTx removes a lock inside an existing transaction.
// A non-holder without force gets PermissionDenied.
func (m *Manager) ReleaseTx(tx *board.Tx, path, by string, force bool) (bool, error) {
	path = board.NormalizeResourcePath(path)
	if path == "" {
		return false, board.MissingField("path")
	}
	existing, err := tx.Lock(path)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if existing.LockedBy != strings.TrimSpace(by) && !force {
		return false, board.Errorf(board.CodePermissionDenied,
			"%s is locked by %s, not %s (use force to override)", path, existing.LockedBy, by)
	}
	tx.DeleteLock(path)
	return true, nil
}

// ReleaseForContractTx removes the records for paths that were acquired by
// contractID. Records held by anyone else are left in place.
func (m *Manager) ReleaseForContractTx(tx *board.Tx, contractID string, paths []string) ([]string, error) {
	var released []string
	for _, p := range paths {
		rec, err := tx.Lock(p)
		if err != nil {
			return released, err
		}
		if rec == nil || rec.ContractID != contractID {
			continue
		}
		tx.DeleteLock(rec.Path)
		released = append(released, rec.Path)
	}
	return released, nil
}

// Status lists lock records, optionally only the one for path, annotated
// with age and staleness at the current time.
func (m *Manager) Status(path string) ([]Status, error) {
	var out []Status
	err := m.store.View(func(tx *board.Tx) error {
		now := tx.Now()
		var recs []*board.ResourceLock
		if strings.TrimSpace(path) != "" {
			rec, err := tx.Lock(path)
			if err != nil {
				return err
			}
			if rec != nil {
				recs = append(recs, rec)
			}
		} else {
			all, err := tx.Locks()
			if err != nil {
				return err
			}
			recs = all
		}
		for _, r := range recs {
			out = append(out, Status{
				ResourceLock: *r,
				Age:          r.Age(now),
				Stale:        r.IsStale(now, m.defaultTTL),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) notifyTx(tx *board.Tx, from, body, reason string) error {
	if m.bus == nil || m.notify == "" || m.notify == from {
		return nil
	}
	if reason != "" {
		body = fmt.Sprintf("%s (%s)", body, reason)
	}
	_, err := m.bus.SendTx(tx, mailbox.SendRequest{
		To:       m.notify,
		From:     from,
		Body:     body,
		Priority: string(board.PriorityLow),
		Context:  "locks",
	})
	return err
}
