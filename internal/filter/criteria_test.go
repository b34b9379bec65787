package filter

import (
	"testing"
	"time"

	"github.com/dyluth/lodge/pkg/board"
	"github.com/stretchr/testify/assert"
)

func TestMatchesContract(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ct := &board.Contract{From: "A", To: "B", Title: "Fix bug", Status: board.ContractInProgress, CreatedAt: created}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"empty criteria match all", Criteria{}, true},
		{"status match", Criteria{Status: board.ContractInProgress}, true},
		{"status mismatch", Criteria{Status: board.ContractProposed}, false},
		{"agent as proposer", Criteria{Agent: "A"}, true},
		{"agent as assignee", Criteria{Agent: "B"}, true},
		{"unrelated agent", Criteria{Agent: "C"}, false},
		{"title glob", Criteria{TitleGlob: "Fix*"}, true},
		{"title glob miss", Criteria{TitleGlob: "Review*"}, false},
		{"since before creation", Criteria{SinceTimestampMs: created.Add(-time.Hour).UnixMilli()}, true},
		{"since after creation", Criteria{SinceTimestampMs: created.Add(time.Hour).UnixMilli()}, false},
		{"until before creation", Criteria{UntilTimestampMs: created.Add(-time.Hour).UnixMilli()}, false},
		{"active only", Criteria{ActiveOnly: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.MatchesContract(ct))
		})
	}

	done := *ct
	done.Status = board.ContractCompleted
	assert.False(t, (&Criteria{ActiveOnly: true}).MatchesContract(&done))
}

func TestMatchesMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &board.Message{From: "A", To: "B", Timestamp: ts}

	assert.True(t, (&Criteria{Agent: "B"}).MatchesMessage(m))
	assert.False(t, (&Criteria{Agent: "C"}).MatchesMessage(m))
	assert.False(t, (&Criteria{UntilTimestampMs: ts.Add(-time.Second).UnixMilli()}).MatchesMessage(m))
}
