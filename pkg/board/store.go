package board

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Notifier is told after a commit that changed the mailbox.
// Implementations must be safe to call from any goroutine; failures are logged, never returned.
type Notifier interface {
	MailboxChanged(ctx context.Context, nextSeq int64) error
}

// Options configures a Store.
type Options struct {
	GateTimeout time.Duration
	GateRetry   time.Duration
	Notifier    Notifier

	// OnCorrupt is called when a document could not be decoded or failed
	// validation and was replaced by its empty default. Defaults to a [WARN] log.
	OnCorrupt func(path string, err error)
}

// Store is the shared state store: the typed documents under <root>/.lodge
// and the gate that serializes access to them.
type Store struct {
	layout    Layout
	gate      *Gate
	notifier  Notifier
	onCorrupt func(path string, err error)

	// Now returns the current time. Tests replace it with a fake clock.
	Now func() time.Time
}

// Open prepares a store rooted at root. The coordination directory is created lazily.
func Open(root string, opts Options) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("store root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}
	layout := Layout{Root: abs}
	s := &Store{
		layout:    layout,
		gate:      NewGate(layout.GatePath(), opts.GateTimeout, opts.GateRetry),
		notifier:  opts.Notifier,
		onCorrupt: opts.OnCorrupt,
		Now:       func() time.Time { return time.Now().UTC() },
	}
	if s.onCorrupt == nil {
		s.onCorrupt = func(path string, err error) {
			log.Printf("[WARN] Treating %s as empty: %v", filepath.Base(path), err)
		}
	}
	return s, nil
}

// Layout returns the store's path layout.
func (s *Store) Layout() Layout {
	return s.layout
}

// SetNotifier replaces the mailbox-change notifier.
func (s *Store) SetNotifier(n Notifier) {
	s.notifier = n
}

// Update runs fn as one read-modify-write under the gate.
// Documents fn touches are loaded lazily; only documents whose serialized
// form changed are written. If fn returns an error nothing is written.
// Callbacks registered with Tx.AfterCommit run after the gate is released.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	held, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}

	tx := s.newTx()
	err = fn(tx)
	if err == nil {
		err = tx.commit()
	}
	if releaseErr := held.Release(); releaseErr != nil && err == nil {
		err = releaseErr
	}
	if err != nil {
		return err
	}

	if tx.mailboxWritten && s.notifier != nil {
		if nerr := s.notifier.MailboxChanged(ctx, tx.mailbox.NextSeq); nerr != nil {
			log.Printf("[WARN] Mailbox notification failed: %v", nerr)
		}
	}
	for _, cb := range tx.afterCommit {
		cb()
	}
	return nil
}

// View runs fn against the current documents without taking the gate.
// The snapshot may be slightly stale but is never torn. Mutations are discarded.
func (s *Store) View(fn func(tx *Tx) error) error {
	tx := s.newTx()
	tx.readOnly = true
	return fn(tx)
}

func (s *Store) newTx() *Tx {
	return &Tx{
		store: s,
		now:   s.Now(),
		locks: map[string]*lockEntry{},
	}
}

// Tx is one gated read-modify-write. It must not be used after Update returns.
type Tx struct {
	store    *Store
	now      time.Time
	readOnly bool

	mailbox        *Mailbox
	mailboxOrig    []byte
	mailboxWritten bool

	agents     *StatusTable
	agentsOrig []byte

	contracts     *ContractTable
	contractsOrig []byte

	locks       map[string]*lockEntry
	locksListed bool

	afterCommit []func()
}

type lockEntry struct {
	rec     *ResourceLock
	orig    []byte
	deleted bool
}

// Now returns the time captured when the transaction began.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// AfterCommit registers fn to run once the transaction has committed and the
// gate is released. Nothing runs if the transaction fails.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

// Mailbox returns the mailbox document, loading it on first use.
func (tx *Tx) Mailbox() (*Mailbox, error) {
	if tx.mailbox != nil {
		return tx.mailbox, nil
	}
	doc := NewMailbox()
	orig, err := tx.store.load(tx.store.layout.MailboxPath(), doc, func() error {
		if doc.Messages == nil {
			doc.Messages = []Message{}
		}
		return doc.Validate()
	}, func() { doc = NewMailbox() }, NewMailbox())
	if err != nil {
		return nil, err
	}
	tx.mailbox, tx.mailboxOrig = doc, orig
	return doc, nil
}

// Agents returns the agent-status table, loading it on first use.
func (tx *Tx) Agents() (*StatusTable, error) {
	if tx.agents != nil {
		return tx.agents, nil
	}
	doc := NewStatusTable()
	orig, err := tx.store.load(tx.store.layout.AgentsPath(), doc, func() error {
		if doc.Agents == nil {
			doc.Agents = map[string]*AgentStatus{}
		}
		return doc.Validate()
	}, func() { doc = NewStatusTable() }, NewStatusTable())
	if err != nil {
		return nil, err
	}
	tx.agents, tx.agentsOrig = doc, orig
	return doc, nil
}

// Contracts returns the contract table, loading it on first use.
func (tx *Tx) Contracts() (*ContractTable, error) {
	if tx.contracts != nil {
		return tx.contracts, nil
	}
	doc := NewContractTable()
	orig, err := tx.store.load(tx.store.layout.ContractsPath(), doc, func() error {
		if doc.Contracts == nil {
			doc.Contracts = []*Contract{}
		}
		return doc.Validate()
	}, func() { doc = NewContractTable() }, NewContractTable())
	if err != nil {
		return nil, err
	}
	tx.contracts, tx.contractsOrig = doc, orig
	return doc, nil
}

// Lock returns the lock record for a resource path, or nil when none exists.
func (tx *Tx) Lock(resource string) (*ResourceLock, error) {
	key := NormalizeResourcePath(resource)
	if key == "" {
		return nil, MissingField("path")
	}
	if e, ok := tx.locks[key]; ok {
		if e.deleted {
			return nil, nil
		}
		return e.rec, nil
	}
	e, err := tx.store.loadLock(tx.store.layout.LockPath(key))
	if err != nil {
		return nil, err
	}
	if e.rec != nil && e.rec.Path != key {
		// Record file name collision with a different path; treat as absent.
		e = &lockEntry{orig: e.orig}
	}
	tx.locks[key] = e
	if e.rec == nil {
		return nil, nil
	}
	return e.rec, nil
}

// PutLock creates or replaces the record for l.Path.
func (tx *Tx) PutLock(l *ResourceLock) {
	key := NormalizeResourcePath(l.Path)
	l.Path = key
	e, ok := tx.locks[key]
	if !ok {
		e = &lockEntry{}
		if _, err := os.Stat(tx.store.layout.LockPath(key)); err == nil {
			e.orig = []byte{}
		}
		tx.locks[key] = e
	}
	e.rec = l
	e.deleted = false
}

// DeleteLock removes the record for a resource path, if any.
func (tx *Tx) DeleteLock(resource string) {
	key := NormalizeResourcePath(resource)
	e, ok := tx.locks[key]
	if !ok {
		e = &lockEntry{orig: []byte{}}
		tx.locks[key] = e
	}
	e.rec = nil
	e.deleted = true
}

// Locks returns every lock record, sorted by path, including changes made in this transaction.
func (tx *Tx) Locks() ([]*ResourceLock, error) {
	if !tx.locksListed {
		entries, err := os.ReadDir(tx.store.layout.LocksDir())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to list lock records: %w", err)
		}
		for _, de := range entries {
			name := de.Name()
			if de.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
				continue
			}
			e, err := tx.store.loadLock(filepath.Join(tx.store.layout.LocksDir(), name))
			if err != nil {
				return nil, err
			}
			if e.rec == nil {
				continue
			}
			if _, seen := tx.locks[e.rec.Path]; !seen {
				tx.locks[e.rec.Path] = e
			}
		}
		tx.locksListed = true
	}

	out := make([]*ResourceLock, 0, len(tx.locks))
	for _, e := range tx.locks {
		if e.rec != nil && !e.deleted {
			out = append(out, e.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (tx *Tx) commit() error {
	if tx.readOnly {
		return nil
	}
	l := tx.store.layout

	if tx.mailbox != nil {
		written, err := writeIfChanged(l.MailboxPath(), tx.mailbox, tx.mailboxOrig)
		if err != nil {
			return err
		}
		tx.mailboxWritten = written
	}
	if tx.agents != nil {
		if _, err := writeIfChanged(l.AgentsPath(), tx.agents, tx.agentsOrig); err != nil {
			return err
		}
	}
	if tx.contracts != nil {
		if _, err := writeIfChanged(l.ContractsPath(), tx.contracts, tx.contractsOrig); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(tx.locks))
	for k := range tx.locks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		e := tx.locks[key]
		path := l.LockPath(key)
		if e.deleted {
			if e.orig == nil {
				continue
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to remove lock record %s: %w", key, err)
			}
			continue
		}
		if e.rec == nil {
			continue
		}
		if _, err := writeIfChanged(path, e.rec, e.orig); err != nil {
			return err
		}
	}
	return nil
}

func writeIfChanged(path string, doc any, orig []byte) (bool, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return false, err
	}
	if orig != nil && bytes.Equal(data, orig) {
		return false, nil
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// load decodes path into doc and validates it. It returns the encoded form
// used to detect changes at commit. Corrupt documents are reported and reset.
func (s *Store) load(path string, doc any, validate func() error, reset func(), empty any) ([]byte, error) {
	ok, err := readJSONFile(path, doc)
	if err != nil {
		if CodeOf(err) != CodeSerializationError {
			return nil, err
		}
		s.onCorrupt(path, err)
		reset()
		return nil, nil
	}
	if !ok {
		return encodeDocument(empty)
	}
	if verr := validate(); verr != nil {
		s.onCorrupt(path, WrapError(CodeSerializationError, "schema validation failed", verr))
		reset()
		return nil, nil
	}
	return encodeDocument(doc)
}

func (s *Store) loadLock(path string) (*lockEntry, error) {
	var rec ResourceLock
	ok, err := readJSONFile(path, &rec)
	if err != nil {
		if CodeOf(err) != CodeSerializationError {
			return nil, err
		}
		s.onCorrupt(path, err)
		return &lockEntry{orig: []byte{}}, nil
	}
	if !ok {
		return &lockEntry{}, nil
	}
	if verr := rec.Validate(); verr != nil {
		s.onCorrupt(path, WrapError(CodeSerializationError, "schema validation failed", verr))
		return &lockEntry{orig: []byte{}}, nil
	}
	rec.Path = NormalizeResourcePath(rec.Path)
	orig, err := encodeDocument(&rec)
	if err != nil {
		return nil, err
	}
	return &lockEntry{rec: &rec, orig: orig}, nil
}
