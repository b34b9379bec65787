package commands

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dyluth/lodge/pkg/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMail_SendAndReadOnce(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	out, _, err := in(t, root, "alice", "mail", "send", "--to", "bob", "PR", "#12", "is", "ready")
	require.NoError(t, err)
	assert.Contains(t, out, "Sent #1 to bob")

	out, _, err = in(t, root, "bob", "mail", "read")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 from alice")
	assert.Contains(t, out, "PR #12 is ready")

	out, _, err = in(t, root, "bob", "mail", "read")
	require.NoError(t, err)
	assert.Contains(t, out, "No new messages")
}

func TestMail_SendJSON(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	out, _, err := in(t, root, "alice", "-o", "json", "mail", "send", "--to", "bob", "--priority", "high", "--context", "thread:release", "freeze?")
	require.NoError(t, err)

	var msg board.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msg))
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, board.PriorityHigh, msg.Priority)
	assert.Equal(t, "thread:release", msg.Context)
}

func TestMail_SendRequiresRecipient(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	_, _, err := in(t, root, "alice", "mail", "send", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "to")
}

func TestMail_FromOverridesAgent(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	_, _, err := in(t, root, "alice", "mail", "send", "--to", "bob", "--from", "carol", "hi")
	require.NoError(t, err)

	out, _, err := in(t, root, "bob", "-o", "json", "mail", "read")
	require.NoError(t, err)
	var msgs []board.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "carol", msgs[0].From)
}

func TestMail_StatusJSON(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	_, _, err := in(t, root, "alice", "mail", "send", "--to", "bob", "one")
	require.NoError(t, err)
	_, _, err = in(t, root, "alice", "mail", "send", "--to", "bob", "two")
	require.NoError(t, err)
	_, _, err = in(t, root, "bob", "mail", "update-status", "--status", "busy", "--task", "reviewing")
	require.NoError(t, err)

	out, _, err := in(t, root, "alice", "-o", "json", "mail", "status")
	require.NoError(t, err)

	var stats struct {
		Mailbox []struct {
			Agent  string `json:"agent"`
			Unread int    `json:"unread"`
			Total  int    `json:"total"`
		} `json:"mailbox"`
		Agents []board.AgentStatus `json:"agents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats.Mailbox, 1)
	assert.Equal(t, "bob", stats.Mailbox[0].Agent)
	assert.Equal(t, 2, stats.Mailbox[0].Unread)
	byName := map[string]board.AgentStatus{}
	for _, a := range stats.Agents {
		byName[a.Agent] = a
	}
	require.Contains(t, byName, "alice", "senders are recorded as seen")
	require.Contains(t, byName, "bob")
	assert.Equal(t, board.AgentBusy, byName["bob"].Status)
	assert.Equal(t, "reviewing", byName["bob"].CurrentTask)
}

func TestMail_UpdateStatusRejectsUnknownState(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	_, _, err := in(t, root, "bob", "mail", "update-status", "--status", "asleep")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Failed to update status"), err.Error())
}

func TestMail_ClearArchivesToHistory(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	_, _, err := in(t, root, "alice", "mail", "send", "--to", "bob", "old news")
	require.NoError(t, err)
	_, _, err = in(t, root, "alice", "mail", "send", "--to", "carol", "keep me")
	require.NoError(t, err)

	out, _, err := in(t, root, "bob", "mail", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 message(s) for bob")

	out, _, err = in(t, root, "carol", "mail", "read")
	require.NoError(t, err)
	assert.Contains(t, out, "keep me")

	out, _, err = in(t, root, "", "-o", "jsonl", "mail", "history", "--agent", "bob")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var entry struct {
		Body   string `json:"body"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "old news", entry.Body)
	assert.Equal(t, "cleared", entry.Reason)

	out, _, err = in(t, root, "", "mail", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "1 message(s) in history")
}

func TestMail_ListLeavesMessagesUnread(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	_, _, err := in(t, root, "alice", "mail", "send", "--to", "bob", "for bob")
	require.NoError(t, err)
	_, _, err = in(t, root, "alice", "mail", "send", "--to", "carol", "for carol")
	require.NoError(t, err)

	out, _, err := in(t, root, "", "mail", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "for bob")
	assert.Contains(t, out, "for carol")

	out, _, err = in(t, root, "", "-o", "json", "mail", "list", "--agent", "carol")
	require.NoError(t, err)
	var msgs []board.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "for carol", msgs[0].Body)

	out, _, err = in(t, root, "", "mail", "list", "--agent", "dave")
	require.NoError(t, err)
	assert.Contains(t, out, "No messages")

	out, _, err = in(t, root, "bob", "mail", "read")
	require.NoError(t, err)
	assert.Contains(t, out, "for bob", "list does not mark messages read")
}

func TestMail_ClearAll(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	for _, to := range []string{"bob", "carol"} {
		_, _, err := in(t, root, "alice", "mail", "send", "--to", to, "hi")
		require.NoError(t, err)
	}

	out, _, err := in(t, root, "", "mail", "clear", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 2 message(s)")
}

func TestMail_HistoryRejectsBadTime(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()

	_, _, err := in(t, root, "", "mail", "history", "--since", "yesterday-ish")
	require.Error(t, err)
	assert.Equal(t, "Invalid time filter", err.Error())
}
