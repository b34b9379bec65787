package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/lodge/internal/archive"
	"github.com/dyluth/lodge/internal/locks"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFormatBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{name: "empty body", body: "", expected: "-"},
		{name: "short single line", body: "hello", expected: "hello"},
		{name: "exactly 50 chars", body: strings.Repeat("a", 50), expected: strings.Repeat("a", 50)},
		{name: "51 chars - should truncate", body: strings.Repeat("a", 51), expected: strings.Repeat("a", 47) + "..."},
		{name: "multi-line - first line only", body: "First line\nSecond line", expected: "First line"},
		{name: "leading blank lines", body: "  \n  hello world  \n  ", expected: "hello world"},
		{name: "multibyte is not split", body: strings.Repeat("é", 60), expected: strings.Repeat("é", 47) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatBody(tt.body))
		})
	}
}

func TestFormatID(t *testing.T) {
	assert.Equal(t, "12345678", formatID("1234567890abcdef"))
	assert.Equal(t, "short", formatID("short"))
}

func TestFormatAgeAndDuration(t *testing.T) {
	assert.Equal(t, "-", formatAge(time.Time{}, now))
	assert.Equal(t, "3 minutes ago", formatAge(now.Add(-3*time.Minute), now))
	assert.Equal(t, "30 minutes", formatDuration(30*time.Minute))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{
		"":        OutputFormatDefault,
		"default": OutputFormatDefault,
		"JSON":    OutputFormatJSON,
		"jsonl":   OutputFormatJSONL,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("yaml")
	assert.Error(t, err)
}

func sampleMessages() []board.Message {
	return []board.Message{
		{ID: "m1", Seq: 1, Timestamp: now.Add(-time.Minute), From: "alice", To: "bob", Body: "hi bob", Priority: board.PriorityNormal},
		{ID: "m2", Seq: 2, Timestamp: now, From: "carol", To: "bob", Body: "ping", Priority: board.PriorityHigh, Context: "thread:x"},
	}
}

func TestMessages(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Messages(&buf, OutputFormatDefault, sampleMessages(), now))
		out := buf.String()
		assert.Contains(t, out, "FROM")
		assert.Contains(t, out, "hi bob")
		assert.Contains(t, out, "thread:x")
		assert.Contains(t, out, "2 messages")
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Messages(&buf, OutputFormatDefault, nil, now))
		assert.Equal(t, "No messages\n", buf.String())
	})

	t.Run("json is an array even when empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Messages(&buf, OutputFormatJSON, nil, now))
		assert.Equal(t, "[]\n", buf.String())
	})

	t.Run("jsonl one object per line", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Messages(&buf, OutputFormatJSONL, sampleMessages(), now))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		var m board.Message
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &m))
		assert.Equal(t, int64(2), m.Seq)
	})
}

func TestFullMessages(t *testing.T) {
	var buf bytes.Buffer
	msgs := sampleMessages()
	msgs[0].Body = "line one\nline two"
	require.NoError(t, FullMessages(&buf, OutputFormatDefault, msgs, now))
	out := buf.String()
	assert.Contains(t, out, "#1 from alice")
	assert.Contains(t, out, "  line two\n")
	assert.Contains(t, out, "[thread:x]")
}

func TestMailStats(t *testing.T) {
	var buf bytes.Buffer
	stats := []mailbox.RecipientStats{{Agent: "bob", Unread: 2, Total: 3}}
	agents := []board.AgentStatus{{Agent: "alice", Status: board.AgentBusy, LastSeen: now, CurrentTask: "refactor"}}
	require.NoError(t, MailStats(&buf, OutputFormatDefault, stats, agents, now))
	out := buf.String()
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "refactor")
	assert.Contains(t, out, "bob")
	assert.Less(t, strings.Index(out, "alice"), strings.Index(out, "bob"))

	buf.Reset()
	require.NoError(t, MailStats(&buf, OutputFormatJSON, nil, nil, now))
	assert.JSONEq(t, `{"mailbox":[],"agents":[]}`, buf.String())
}

func TestLocks(t *testing.T) {
	rows := []locks.Status{{
		ResourceLock: board.ResourceLock{Path: "src/foo", LockedBy: "alice", CreatedAt: now.Add(-time.Hour), ContractID: "abcdef0123456789"},
		Age:          time.Hour,
		Stale:        true,
	}}

	var buf bytes.Buffer
	require.NoError(t, Locks(&buf, OutputFormatDefault, rows))
	assert.Contains(t, buf.String(), "src/foo")
	assert.Contains(t, buf.String(), "abcdef01")
	assert.Contains(t, buf.String(), "yes")

	buf.Reset()
	require.NoError(t, Locks(&buf, OutputFormatJSON, rows))
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, true, decoded[0]["stale"])
	assert.Equal(t, float64(3600), decoded[0]["age_seconds"])
	assert.Equal(t, "src/foo", decoded[0]["path"])
}

func TestContracts(t *testing.T) {
	deadline := now.Add(time.Hour)
	c := &board.Contract{
		ID: "0123456789abcdef", From: "alice", To: "bob", Title: "Fix login",
		Status: board.ContractInProgress, Priority: board.PriorityHigh,
		CreatedAt: now, LastUpdated: now, Deadline: &deadline, HeartbeatInterval: 60,
		RelatedLocks: []string{"src/login.go"},
		Safeguards:   board.Safeguards{MaxSteps: 5},
		Updates:      []board.Update{{Timestamp: now, From: "bob", Message: "started"}},
	}

	var buf bytes.Buffer
	require.NoError(t, Contracts(&buf, OutputFormatDefault, []*board.Contract{c}, now))
	assert.Contains(t, buf.String(), "01234567")
	assert.Contains(t, buf.String(), "Fix login")
	assert.Contains(t, buf.String(), "1 contract\n")

	buf.Reset()
	require.NoError(t, Contract(&buf, OutputFormatDefault, c, now))
	out := buf.String()
	assert.Contains(t, out, "alice → bob")
	assert.Contains(t, out, "every 60s, last never")
	assert.Contains(t, out, "Steps:       0/5")
	assert.Contains(t, out, "src/login.go")
	assert.Contains(t, out, "started")

	buf.Reset()
	require.NoError(t, Contract(&buf, OutputFormatJSON, c, now))
	var decoded board.Contract
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, c.ID, decoded.ID)
}

func TestHistory(t *testing.T) {
	entries := []archive.Entry{{Message: sampleMessages()[0], Reason: "evicted", ArchivedAt: now}}

	var buf bytes.Buffer
	require.NoError(t, History(&buf, OutputFormatDefault, entries, now))
	assert.Contains(t, buf.String(), "evicted")
	assert.Contains(t, buf.String(), "1 archived message\n")

	buf.Reset()
	require.NoError(t, History(&buf, OutputFormatJSONL, entries, now))
	assert.Contains(t, buf.String(), `"reason":"evicted"`)
}
