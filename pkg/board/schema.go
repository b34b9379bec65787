package board

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// On-disk layout helpers
//
// Every document lives under the coordination directory <root>/.lodge.
// Lock records live one-per-path under <root>/.lodge/locks, named by
// LockRecordName so that any resource path maps to a safe, unique file name.

// DirName is the coordination directory name under the project root.
const DirName = ".lodge"

const (
	mailboxFile   = "mailbox.json"
	agentsFile    = "agents.json"
	contractsFile = "contracts.json"
	gateFile      = "gate.lock"
	locksDir      = "locks"
	cursorsDir    = "cursors"
	monitorsDir   = "monitors"
	threadsDir    = "threads"
	archiveFile   = "archive.db"
)

// Layout resolves every path of a coordination root.
type Layout struct {
	Root string // Project root that contains .lodge
}

// Dir returns <root>/.lodge
func (l Layout) Dir() string { return filepath.Join(l.Root, DirName) }

// MailboxPath returns <root>/.lodge/mailbox.json
func (l Layout) MailboxPath() string { return filepath.Join(l.Dir(), mailboxFile) }

// AgentsPath returns <root>/.lodge/agents.json
func (l Layout) AgentsPath() string { return filepath.Join(l.Dir(), agentsFile) }

// ContractsPath returns <root>/.lodge/contracts.json
func (l Layout) ContractsPath() string { return filepath.Join(l.Dir(), contractsFile) }

// GatePath returns <root>/.lodge/gate.lock
func (l Layout) GatePath() string { return filepath.Join(l.Dir(), gateFile) }

// LocksDir returns <root>/.lodge/locks
func (l Layout) LocksDir() string { return filepath.Join(l.Dir(), locksDir) }

// LockPath returns the record file for a normalized resource path.
func (l Layout) LockPath(resource string) string {
	return filepath.Join(l.LocksDir(), LockRecordName(resource)+".json")
}

// CursorPath returns the watch checkpoint file for an agent.
func (l Layout) CursorPath(agent string) string {
	return filepath.Join(l.Dir(), cursorsDir, SafeName(agent)+".json")
}

// PidPath returns the pid file of an agent's running monitor.
func (l Layout) PidPath(agent string) string {
	return filepath.Join(l.Dir(), monitorsDir, SafeName(agent)+".pid")
}

// ThreadPath returns the discussion log for a message context.
func (l Layout) ThreadPath(context string) string {
	return filepath.Join(l.Dir(), threadsDir, SafeName(context)+".md")
}

// ArchivePath returns <root>/.lodge/archive.db
func (l Layout) ArchivePath() string { return filepath.Join(l.Dir(), archiveFile) }

// NormalizeResourcePath canonicalizes a resource identifier so that
// "./src\\foo/", "src/foo" and "/src/foo" all name the same lock.
func NormalizeResourcePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimLeft(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// SafeName replaces every character outside [A-Za-z0-9._-] with '_'.
func SafeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// LockRecordName returns the file-safe record identifier for a normalized path.
// Pattern: {safe-path}-{first 8 hex of sha1(path)}
func LockRecordName(normalized string) string {
	sum := sha1.Sum([]byte(normalized))
	return fmt.Sprintf("%s-%s", SafeName(normalized), hex.EncodeToString(sum[:])[:8])
}

// RedisChannel returns the Pub/Sub channel used for mailbox wake-ups.
// Pattern: lodge:{namespace}:mailbox_events
func RedisChannel(namespace string) string {
	return fmt.Sprintf("lodge:%s:mailbox_events", namespace)
}
