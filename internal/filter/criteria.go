package filter

import (
	"path/filepath"

	"github.com/dyluth/lodge/pkg/board"
)

// Criteria defines filtering criteria for contracts and messages.
// All filters are ANDed together - a record must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64                // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64                // Unix timestamp in milliseconds, 0 = no filter
	Status           board.ContractStatus // Exact contract status, empty = no filter
	Agent            string               // Proposer or assignee (contracts), sender or recipient (messages)
	TitleGlob        string               // Glob pattern for contract title, empty = no filter
	ActiveOnly       bool                 // Only non-terminal contracts
}

// MatchesContract returns true if the contract matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) MatchesContract(ct *board.Contract) bool {
	if !c.inRange(ct.CreatedAt.UnixMilli()) {
		return false
	}
	if c.Status != "" && ct.Status != c.Status {
		return false
	}
	if c.ActiveOnly && ct.Status.IsTerminal() {
		return false
	}
	if c.Agent != "" && ct.From != c.Agent && ct.To != c.Agent {
		return false
	}
	if c.TitleGlob != "" {
		matched, err := filepath.Match(c.TitleGlob, ct.Title)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// MatchesMessage returns true if the message matches the time and agent criteria.
func (c *Criteria) MatchesMessage(m *board.Message) bool {
	if !c.inRange(m.Timestamp.UnixMilli()) {
		return false
	}
	if c.Agent != "" && m.From != c.Agent && m.To != c.Agent {
		return false
	}
	return true
}

func (c *Criteria) inRange(ms int64) bool {
	if c.SinceTimestampMs > 0 && ms < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && ms > c.UntilTimestampMs {
		return false
	}
	return true
}
