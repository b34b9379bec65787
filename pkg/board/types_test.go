package board

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractStatus_IsTerminal(t *testing.T) {
	terminal := []ContractStatus{ContractCompleted, ContractFailed, ContractCancelled, ContractExpired}
	live := []ContractStatus{ContractProposed, ContractAccepted, ContractInProgress}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	p, err = ParsePriority("high")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	_, err = ParsePriority("urgent")
	assert.ErrorIs(t, err, ErrMissingRequiredField)
	assert.Contains(t, err.Error(), "priority")
}

func TestResourceLock_Staleness(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l := &ResourceLock{Path: "src/foo", LockedBy: "a", CreatedAt: created, TTLSeconds: 60}

	assert.False(t, l.IsStale(created.Add(59*time.Second), time.Hour))
	assert.True(t, l.IsStale(created.Add(60*time.Second), time.Hour), "age equal to ttl is stale")

	l.TTLSeconds = 0
	assert.False(t, l.IsStale(created.Add(59*time.Minute), time.Hour))
	assert.True(t, l.IsStale(created.Add(time.Hour), time.Hour), "falls back to default ttl")
}

func TestContract_Validate(t *testing.T) {
	valid := func() *Contract {
		return &Contract{ID: uuid.NewString(), From: "a", To: "b", Status: ContractProposed, Priority: PriorityNormal}
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.ID = "nope"
	assert.Error(t, c.Validate())

	c = valid()
	c.Status = "paused"
	assert.Error(t, c.Validate())

	c = valid()
	c.To = ""
	assert.Error(t, c.Validate())
}

func TestMailbox_Validate(t *testing.T) {
	mb := NewMailbox()
	assert.NoError(t, mb.Validate())

	mb.Messages = append(mb.Messages, Message{ID: "m1", Seq: 1, To: "b", Priority: PriorityNormal})
	assert.Error(t, mb.Validate(), "seq must be below next_seq")

	mb.NextSeq = 2
	assert.NoError(t, mb.Validate())
}

func TestError(t *testing.T) {
	t.Run("matches sentinel by code", func(t *testing.T) {
		err := Errorf(CodeResourceAlreadyLocked, "held by %s", "alice")
		assert.ErrorIs(t, err, ErrResourceAlreadyLocked)
		assert.NotErrorIs(t, err, ErrPermissionDenied)
		assert.Equal(t, "ResourceAlreadyLocked: held by alice", err.Error())
	})

	t.Run("survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("failed to lock: %w", Errorf(CodeLockTimeout, "gate"))
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.Equal(t, CodeLockTimeout, CodeOf(err))
	})

	t.Run("unwraps cause", func(t *testing.T) {
		cause := errors.New("disk")
		err := WrapError(CodeSerializationError, "bad", cause)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("non board error has no code", func(t *testing.T) {
		assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	})
}

func TestNormalizeResourcePath(t *testing.T) {
	tests := map[string]string{
		"src/foo":         "src/foo",
		"./src/foo":       "src/foo",
		"/src/foo/":       "src/foo",
		"  src\\foo  ":    "src/foo",
		"src//foo/../foo": "src/foo",
		".":               "",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeResourcePath(in), "input %q", in)
	}
}

func TestLockRecordName(t *testing.T) {
	a := LockRecordName("src/foo")
	b := LockRecordName("src_foo")

	assert.True(t, strings.HasPrefix(a, "src_foo-"))
	assert.True(t, strings.HasPrefix(b, "src_foo-"))
	assert.NotEqual(t, a, b, "paths that sanitize alike must not collide")
	assert.Len(t, strings.TrimPrefix(a, "src_foo-"), 8)
	assert.Equal(t, a, LockRecordName("src/foo"))
}

func TestRedisChannel(t *testing.T) {
	assert.Equal(t, "lodge:myproject:mailbox_events", RedisChannel("myproject"))
}
