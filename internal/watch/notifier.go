package watch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dyluth/lodge/pkg/board"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to a redis:// or rediss:// URL and checks the
// connection with PING.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisNotifier publishes the mailbox's next sequence number after every
// commit that changed it, waking RedisSource subscribers on other hosts.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

var _ board.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier publishes on the mailbox events channel of namespace.
func NewRedisNotifier(client *redis.Client, namespace string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: board.RedisChannel(namespace)}
}

// Channel returns the channel published to.
func (n *RedisNotifier) Channel() string {
	return n.channel
}

// MailboxChanged publishes nextSeq.
func (n *RedisNotifier) MailboxChanged(ctx context.Context, nextSeq int64) error {
	if err := n.client.Publish(ctx, n.channel, strconv.FormatInt(nextSeq, 10)).Err(); err != nil {
		return fmt.Errorf("failed to publish mailbox event: %w", err)
	}
	return nil
}
