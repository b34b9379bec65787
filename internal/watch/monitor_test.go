package watch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/dyluth/lodge/internal/autocmd"
	"github.com/dyluth/lodge/internal/contract"
	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/internal/locks"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	store *board.Store
	bus   *mailbox.Bus
	locks *locks.Manager
	proto *contract.Protocol
	root  string
}

func setupEnv(t *testing.T, contractOpts contract.Options) *env {
	t.Helper()
	root := t.TempDir()
	store, err := board.Open(root, board.Options{GateTimeout: time.Second, GateRetry: 5 * time.Millisecond})
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	e := &env{store: store, root: root}
	e.bus = mailbox.New(store, mailbox.Options{})
	e.locks = locks.New(store, e.bus, locks.Options{})
	e.proto = contract.New(store, e.bus, e.locks, contractOpts)
	return e
}

func (e *env) send(t *testing.T, from, to, body, msgContext string) *board.Message {
	t.Helper()
	m, err := e.bus.Send(context.Background(), mailbox.SendRequest{From: from, To: to, Body: body, Context: msgContext})
	require.NoError(t, err)
	return m
}

func (e *env) dispatcher(agent string) *Dispatcher {
	return &Dispatcher{
		Agent:     agent,
		Bus:       e.bus,
		Locks:     e.locks,
		Contracts: e.proto,
		PlanPath:  filepath.Join(e.root, "PLAN.md"),
	}
}

// inbox returns every message addressed to agent, read or not.
func (e *env) inbox(t *testing.T, agent string) []board.Message {
	t.Helper()
	msgs, err := e.bus.Messages(agent)
	require.NoError(t, err)
	return msgs
}

type recordingAlerter struct {
	seen []int64
	err  error
}

func (a *recordingAlerter) Name() string { return "recording" }

func (a *recordingAlerter) Alert(msg board.Message) error {
	a.seen = append(a.seen, msg.Seq)
	return a.err
}

func TestCheck_DeliversOnceAndAdvancesCursor(t *testing.T) {
	e := setupEnv(t, contract.Options{})
	ctx := context.Background()
	alerts := &recordingAlerter{}
	mon := NewMonitor(e.bus, Options{Agent: "bob", Alerters: []Alerter{alerts}})

	e.send(t, "alice", "bob", "one", "")
	e.send(t, "alice", "carol", "not for bob", "")
	m3 := e.send(t, "alice", "bob", "two", "")

	got, err := mon.Check(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{1, 3}, alerts.seen)

	cursor, err := LoadCursor(e.store.Layout(), "bob")
	require.NoError(t, err)
	assert.Equal(t, m3.Seq, cursor.LastSeq)

	got, err = mon.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "already delivered messages are not repeated")

	// Peeking never marks read.
	unread, err := e.bus.Read(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, unread, 2)
}

func TestCheck_AlertFailureIsSwallowed(t *testing.T) {
	e := setupEnv(t, contract.Options{})
	failing := &recordingAlerter{err: errors.New("no display")}
	after := &recordingAlerter{}
	mon := NewMonitor(e.bus, Options{Agent: "bob", Alerters: []Alerter{failing, after}})

	e.send(t, "alice", "bob", "hi", "")
	got, err := mon.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []int64{1}, after.seen)
}

func TestCheck_CursorResetWhenMailboxShrinks(t *testing.T) {
	e := setupEnv(t, contract.Options{})
	layout := e.store.Layout()
	require.NoError(t, SaveCursor(layout, Cursor{Agent: "bob", LastSeq: 40}))

	e.send(t, "alice", "bob", "fresh mailbox", "")
	mon := NewMonitor(e.bus, Options{Agent: "bob"})
	got, err := mon.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh mailbox", got[0].Body)

	cursor, err := LoadCursor(layout, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor.LastSeq)
}

func TestCheck_ThreadLog(t *testing.T) {
	e := setupEnv(t, contract.Options{})
	threads := &ThreadLog{Layout: e.store.Layout(), Pattern: regexp.MustCompile(`^(thread|discuss)[:/]`)}
	mon := NewMonitor(e.bus, Options{Agent: "bob", Threads: threads})

	e.send(t, "alice", "bob", "shall we split the parser?", "thread:parser")
	e.send(t, "alice", "bob", "unrelated", "")
	e.send(t, "alice", "bob", "yes, by stage", "thread:parser")
	_, err := mon.Check(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(e.store.Layout().ThreadPath("thread:parser"))
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, "# thread:parser")
	assert.Contains(t, log, "shall we split the parser?")
	assert.Contains(t, log, "yes, by stage")
	assert.NotContains(t, log, "unrelated")
}

func TestCheck_AutoReply(t *testing.T) {
	e := setupEnv(t, contract.Options{})
	mon := NewMonitor(e.bus, Options{Agent: "bob", AutoReply: true, Dispatcher: e.dispatcher("bob")})

	e.send(t, "alice", "bob", "are you there?", "")
	e.send(t, "carol", "bob", "ack", autocmd.AutoReplyContext)
	e.send(t, "bob", "bob", "note to self", "")
	_, err := mon.Check(context.Background())
	require.NoError(t, err)

	toAlice := e.inbox(t, "alice")
	require.Len(t, toAlice, 1)
	assert.Equal(t, autocmd.AutoReplyContext, toAlice[0].Context)
	assert.Equal(t, "bob", toAlice[0].From)
	assert.Contains(t, toAlice[0].Body, "#1")

	assert.Empty(t, e.inbox(t, "carol"), "never replies to an auto reply")
	for _, m := range e.inbox(t, "bob") {
		assert.NotEqual(t, autocmd.AutoReplyContext, m.Context, "never replies to itself")
	}
}

func TestCheck_AutoCommands(t *testing.T) {
	e := setupEnv(t, contract.Options{})
	ctx := context.Background()
	mon := NewMonitor(e.bus, Options{Agent: "bob", AutoCommands: true, AutoReply: true, Dispatcher: e.dispatcher("bob")})

	t.Run("lock and unlock", func(t *testing.T) {
		e.send(t, "alice", "bob", "/lock src/api.go hold for migration", "")
		_, err := mon.Check(ctx)
		require.NoError(t, err)

		rows, err := e.locks.Status("src/api.go")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "bob", rows[0].LockedBy)
		assert.Equal(t, "hold for migration", rows[0].Reason)

		e.send(t, "alice", "bob", "unlock src/api.go", "")
		_, err = mon.Check(ctx)
		require.NoError(t, err)
		rows, err = e.locks.Status("src/api.go")
		require.NoError(t, err)
		assert.Empty(t, rows)

		replies := e.inbox(t, "alice")
		require.Len(t, replies, 2, "commands answer instead of the plain acknowledgement")
		assert.Contains(t, replies[0].Body, "Locked src/api.go")
		assert.Contains(t, replies[1].Body, "Unlocked src/api.go")
	})

	t.Run("plan append", func(t *testing.T) {
		e.send(t, "carol", "bob", "plan: ship the importer", "")
		_, err := mon.Check(ctx)
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(e.root, "PLAN.md"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "# Plan")
		assert.Contains(t, string(data), "- [ ] ship the importer (from carol, 2026-03-01)")
	})

	t.Run("intent drafts a loop-guarded contract", func(t *testing.T) {
		e.send(t, "dave", "bob", "the login page is broken", "")
		_, err := mon.Check(ctx)
		require.NoError(t, err)

		list, err := e.proto.List(ctx, filter.Criteria{Agent: "dave"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "dave", list[0].From)
		assert.Equal(t, "bob", list[0].To)
		assert.True(t, list[0].Safeguards.LoopGuard)
		assert.Contains(t, list[0].Title, "Fix:")
	})

	t.Run("status reply", func(t *testing.T) {
		e.send(t, "erin", "bob", "status", "")
		_, err := mon.Check(ctx)
		require.NoError(t, err)
		replies := e.inbox(t, "erin")
		require.Len(t, replies, 1)
		assert.Contains(t, replies[0].Body, "Status of bob")
		assert.Contains(t, replies[0].Body, "Locks: none")
	})
}

func TestCheck_AutoAccept(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts when safeguards are enforced", func(t *testing.T) {
		e := setupEnv(t, contract.Options{EnforceSafeguards: true})
		mon := NewMonitor(e.bus, Options{Agent: "bob", Dispatcher: e.dispatcher("bob")})
		c, err := e.proto.Propose(ctx, contract.ProposeRequest{From: "alice", To: "bob", Title: "Bump deps", Safeguards: board.Safeguards{AutoAccept: true}})
		require.NoError(t, err)

		_, err = mon.Check(ctx)
		require.NoError(t, err)
		got, err := e.proto.Show(c.ID)
		require.NoError(t, err)
		assert.Equal(t, board.ContractAccepted, got.Status)
	})

	t.Run("advisory without enforcement", func(t *testing.T) {
		e := setupEnv(t, contract.Options{})
		mon := NewMonitor(e.bus, Options{Agent: "bob", Dispatcher: e.dispatcher("bob")})
		c, err := e.proto.Propose(ctx, contract.ProposeRequest{From: "alice", To: "bob", Title: "Bump deps", Safeguards: board.Safeguards{AutoAccept: true}})
		require.NoError(t, err)

		_, err = mon.Check(ctx)
		require.NoError(t, err)
		got, err := e.proto.Show(c.ID)
		require.NoError(t, err)
		assert.Equal(t, board.ContractProposed, got.Status)
	})
}

func TestDispatcher_Guarded(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, contract.Options{EnforceSafeguards: true})
	d := e.dispatcher("bob")

	guarded, err := e.proto.Propose(ctx, contract.ProposeRequest{From: "alice", To: "bob", Title: "Guarded", Safeguards: board.Safeguards{LoopGuard: true}})
	require.NoError(t, err)
	open, err := e.proto.Propose(ctx, contract.ProposeRequest{From: "alice", To: "bob", Title: "Open"})
	require.NoError(t, err)

	assert.True(t, d.Guarded(board.Message{Context: guarded.Context()}))
	assert.False(t, d.Guarded(board.Message{Context: open.Context()}))
	assert.False(t, d.Guarded(board.Message{Context: "thread:x"}))
	assert.False(t, (&Dispatcher{Agent: "bob", Bus: e.bus}).Guarded(board.Message{Context: guarded.Context()}))
}

func TestCursorRoundTrip(t *testing.T) {
	layout := board.Layout{Root: t.TempDir()}

	c, err := LoadCursor(layout, "bob")
	require.NoError(t, err)
	assert.Equal(t, Cursor{Agent: "bob"}, c)

	require.NoError(t, SaveCursor(layout, Cursor{Agent: "bob", LastSeq: 7}))
	c, err = LoadCursor(layout, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.LastSeq)

	require.NoError(t, os.WriteFile(layout.CursorPath("bob"), []byte("{nope"), 0o644))
	c, err = LoadCursor(layout, "bob")
	assert.Error(t, err)
	assert.Equal(t, int64(0), c.LastSeq, "corrupt cursor restarts from the beginning")
}

func TestPidFile(t *testing.T) {
	layout := board.Layout{Root: t.TempDir()}

	_, err := Stop(layout, "bob")
	assert.ErrorIs(t, err, ErrNoMonitor)

	cleanup, err := WritePidFile(layout, "bob")
	require.NoError(t, err)
	data, err := os.ReadFile(layout.PidPath("bob"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n")
	cleanup()
	_, err = os.Stat(layout.PidPath("bob"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.MkdirAll(filepath.Dir(layout.PidPath("bob")), 0o755))
	require.NoError(t, os.WriteFile(layout.PidPath("bob"), []byte("garbage"), 0o644))
	_, err = Stop(layout, "bob")
	assert.ErrorContains(t, err, "invalid pid file")
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := setupEnv(t, contract.Options{})
	alerts := &recordingAlerter{}
	mon := NewMonitor(e.bus, Options{Agent: "bob", Alerters: []Alerter{alerts}})
	e.send(t, "alice", "bob", "waiting before start", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx, &PollSource{Interval: 10 * time.Millisecond}) }()

	require.Eventually(t, func() bool {
		c, _ := LoadCursor(e.store.Layout(), "bob")
		return c.LastSeq == 1
	}, 2*time.Second, 10*time.Millisecond, "catch-up check runs before the first wake-up")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestVisualAndBellAlerters(t *testing.T) {
	var buf bytes.Buffer
	msg := board.Message{Seq: 4, From: "alice", To: "bob", Body: "deploy is green", Priority: board.PriorityHigh, Context: "thread:deploy"}

	require.NoError(t, (&VisualAlerter{Out: &buf}).Alert(msg))
	out := buf.String()
	assert.Contains(t, out, "alice → bob")
	assert.Contains(t, out, "[HIGH]")
	assert.Contains(t, out, "deploy is green")

	buf.Reset()
	require.NoError(t, (&BellAlerter{Out: &buf}).Alert(msg))
	assert.Equal(t, "\a", buf.String())
}

func TestDesktopAlerter(t *testing.T) {
	msg := board.Message{From: "alice", Body: "first line\nsecond", Priority: board.PriorityHigh}

	tests := []struct {
		goos     string
		wantName string
		wantArgs []string
		wantErr  bool
	}{
		{goos: "linux", wantName: "notify-send", wantArgs: []string{"-u", "critical", "lodge: message from alice", "first line"}},
		{goos: "darwin", wantName: "osascript", wantArgs: []string{"-e", `display notification "first line" with title "lodge: message from alice"`}},
		{goos: "plan9", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			var name string
			var args []string
			a := &DesktopAlerter{GOOS: tt.goos, Run: func(n string, as ...string) error {
				name, args = n, as
				return nil
			}}
			err := a.Alert(msg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
