package mailbox

import (
	"context"
	"sort"
	"strings"

	"github.com/dyluth/lodge/pkg/board"
)

// TouchTx refreshes agent's last_seen. A new or offline agent becomes
// available; a busy agent stays busy. A non-empty task replaces current_task.
func TouchTx(tx *board.Tx, agent, task string) error {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil
	}
	table, err := tx.Agents()
	if err != nil {
		return err
	}
	st, ok := table.Agents[agent]
	if !ok {
		st = &board.AgentStatus{Agent: agent, Status: board.AgentAvailable}
		table.Agents[agent] = st
	}
	if st.Status == board.AgentOffline {
		st.Status = board.AgentAvailable
	}
	st.LastSeen = tx.Now()
	if task != "" {
		st.CurrentTask = task
	}
	return nil
}

// SetStatusTx upserts agent's row with an explicit state.
func SetStatusTx(tx *board.Tx, agent string, state board.AgentState, task string) (*board.AgentStatus, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, board.MissingField("agent")
	}
	if err := state.Validate(); err != nil {
		return nil, board.Errorf(board.CodeMissingRequiredField, "status must be one of available, busy, offline (got %q)", state)
	}
	table, err := tx.Agents()
	if err != nil {
		return nil, err
	}
	st, ok := table.Agents[agent]
	if !ok {
		st = &board.AgentStatus{Agent: agent}
		table.Agents[agent] = st
	}
	st.Status = state
	st.LastSeen = tx.Now()
	st.CurrentTask = task
	return st, nil
}

// UpdateStatus records agent's status and current task.
func (b *Bus) UpdateStatus(ctx context.Context, agent string, state board.AgentState, task string) (*board.AgentStatus, error) {
	var out board.AgentStatus
	err := b.store.Update(ctx, func(tx *board.Tx) error {
		st, err := SetStatusTx(tx, agent, state, task)
		if err != nil {
			return err
		}
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Agents returns the agent-status table sorted by name.
func (b *Bus) Agents() ([]board.AgentStatus, error) {
	var out []board.AgentStatus
	err := b.store.View(func(tx *board.Tx) error {
		table, err := tx.Agents()
		if err != nil {
			return err
		}
		for _, st := range table.Agents {
			out = append(out, *st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out, nil
}
