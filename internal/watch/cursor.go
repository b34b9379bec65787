package watch

import (
	"fmt"
	"time"

	"github.com/dyluth/lodge/pkg/board"
)

// Cursor is an agent's watch checkpoint: the highest message seq already
// processed by its monitor.
type Cursor struct {
	Agent     string    `json:"agent"`
	LastSeq   int64     `json:"last_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadCursor reads the agent's cursor. A missing file yields a zero cursor.
// An unreadable file is reported and also yields a zero cursor, so the
// monitor re-delivers rather than silently skipping messages.
func LoadCursor(layout board.Layout, agent string) (Cursor, error) {
	c := Cursor{Agent: agent}
	ok, err := board.ReadJSON(layout.CursorPath(agent), &c)
	if err != nil {
		return Cursor{Agent: agent}, fmt.Errorf("failed to read cursor for %s: %w", agent, err)
	}
	if !ok || c.LastSeq < 0 {
		return Cursor{Agent: agent}, nil
	}
	c.Agent = agent
	return c, nil
}

// SaveCursor atomically replaces the agent's cursor file.
func SaveCursor(layout board.Layout, c Cursor) error {
	if err := board.WriteJSONAtomic(layout.CursorPath(c.Agent), c); err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", c.Agent, err)
	}
	return nil
}
