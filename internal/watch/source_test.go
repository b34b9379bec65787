package watch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitWake(t *testing.T, ch <-chan struct{}, within time.Duration) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "source closed unexpectedly")
	case <-time.After(within):
		t.Fatal("no wake-up received")
	}
}

func TestPollSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := (&PollSource{Interval: 10 * time.Millisecond}).Subscribe(ctx)
	require.NoError(t, err)
	waitWake(t, ch, time.Second)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "channel closes after cancel")

	_, err = (&PollSource{}).Subscribe(context.Background())
	assert.Error(t, err)
}

func TestFileSource_WakesOnMailboxCommit(t *testing.T) {
	root := t.TempDir()
	store, err := board.Open(root, board.Options{GateTimeout: time.Second, GateRetry: 5 * time.Millisecond})
	require.NoError(t, err)
	bus := mailbox.New(store, mailbox.Options{})
	layout := store.Layout()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &FileSource{Dir: layout.Dir(), File: "mailbox.json", Debounce: 20 * time.Millisecond}
	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	_, err = bus.Send(ctx, mailbox.SendRequest{From: "alice", To: "bob", Body: "hi"})
	require.NoError(t, err)
	waitWake(t, ch, 2*time.Second)
}

func TestFileSource_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	store, err := board.Open(root, board.Options{GateTimeout: time.Second, GateRetry: 5 * time.Millisecond})
	require.NoError(t, err)
	bus := mailbox.New(store, mailbox.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &FileSource{Dir: store.Layout().Dir(), File: "mailbox.json", Debounce: 200 * time.Millisecond}
	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = bus.Send(ctx, mailbox.SendRequest{From: "alice", To: "bob", Body: "burst"})
		require.NoError(t, err)
	}
	waitWake(t, ch, 2*time.Second)

	select {
	case <-ch:
		t.Fatal("burst produced more than one wake-up")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestRedisNotifierAndSource(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewRedisClient(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	notifier := NewRedisNotifier(client, "proj")
	assert.Equal(t, "lodge:proj:mailbox_events", notifier.Channel())

	subClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subClient.Close()
	ch, err := (&RedisSource{Client: subClient, Channel: notifier.Channel()}).Subscribe(ctx)
	require.NoError(t, err)

	store, err := board.Open(t.TempDir(), board.Options{GateTimeout: time.Second, GateRetry: 5 * time.Millisecond, Notifier: notifier})
	require.NoError(t, err)
	bus := mailbox.New(store, mailbox.Options{})
	_, err = bus.Send(ctx, mailbox.SendRequest{From: "alice", To: "bob", Body: "cross-host"})
	require.NoError(t, err)

	waitWake(t, ch, 2*time.Second)
}

func TestNewRedisClient_Errors(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not a url")
	assert.ErrorContains(t, err, "invalid redis url")

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(context.Background(), "redis://"+addr)
	assert.ErrorContains(t, err, "failed to connect")
}

func TestRedisNotifier_PublishFailureIsReported(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err = NewRedisNotifier(client, "proj").MailboxChanged(context.Background(), 3)
	assert.ErrorContains(t, err, "failed to publish")
}
