package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dyluth/lodge/pkg/board"
)

// ThreadLog appends messages whose context matches Pattern to a per-context
// markdown file, so a discussion can be read back in one place.
type ThreadLog struct {
	Layout  board.Layout
	Pattern *regexp.Regexp
}

// Matches reports whether msg belongs to a thread.
func (t *ThreadLog) Matches(msg board.Message) bool {
	return t != nil && t.Pattern != nil && msg.Context != "" && t.Pattern.MatchString(msg.Context)
}

// Append records msg. It returns false when msg is not part of a thread.
func (t *ThreadLog) Append(msg board.Message) (bool, error) {
	if !t.Matches(msg) {
		return false, nil
	}
	path := t.Layout.ThreadPath(msg.Context)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create threads directory: %w", err)
	}

	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to open thread log: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	if os.IsNotExist(statErr) {
		fmt.Fprintf(&b, "# %s\n\n", msg.Context)
	}
	fmt.Fprintf(&b, "### %s  %s → %s (#%d)\n\n%s\n\n",
		msg.Timestamp.UTC().Format(time.RFC3339), msg.From, msg.To, msg.Seq, strings.TrimRight(msg.Body, "\n"))
	if _, err := f.WriteString(b.String()); err != nil {
		return false, fmt.Errorf("failed to write thread log: %w", err)
	}
	return true, nil
}
