// Package mailbox implements the message bus over the shared mailbox
// document together with the agent-status table.
//
// Delivery is exactly-once through Read: a returned message is marked read in
// the same gated write and never returned by Read again. Peek exposes unread
// messages after a sequence number without marking them, for the watch layer.
package mailbox

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/dyluth/lodge/pkg/board"
	"github.com/google/uuid"
)

// DefaultRetention is the maximum number of messages kept in the mailbox.
const DefaultRetention = 50

// Archive reasons recorded with messages that leave the mailbox.
const (
	ReasonEvicted = "evicted"
	ReasonCleared = "cleared"
)

// Archiver receives messages that left the mailbox through retention or clear.
// It runs after the gate is released; failures are logged and ignored.
type Archiver interface {
	Archive(ctx context.Context, msgs []board.Message, reason string) error
}

// Options configures a Bus.
type Options struct {
	Retention int
	Archiver  Archiver
}

// Bus is the message bus.
type Bus struct {
	store     *board.Store
	retention int
	archiver  Archiver
}

// New creates a Bus over store.
func New(store *board.Store, opts Options) *Bus {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Bus{store: store, retention: opts.Retention, archiver: opts.Archiver}
}

// Store returns the underlying store.
func (b *Bus) Store() *board.Store {
	return b.store
}

// SendRequest describes one message to append.
type SendRequest struct {
	To       string
	From     string
	Body     string
	Priority string // low|normal|high; empty means normal
	Context  string
}

func (r SendRequest) validate() (board.Priority, error) {
	if strings.TrimSpace(r.To) == "" {
		return "", board.MissingField("to")
	}
	if strings.TrimSpace(r.From) == "" {
		return "", board.MissingField("from")
	}
	if strings.TrimSpace(r.Body) == "" {
		return "", board.MissingField("body")
	}
	return board.ParsePriority(r.Priority)
}

// Send appends a message for req.To and refreshes the sender's status.
func (b *Bus) Send(ctx context.Context, req SendRequest) (*board.Message, error) {
	var sent board.Message
	err := b.store.Update(ctx, func(tx *board.Tx) error {
		msg, err := b.SendTx(tx, req)
		if err != nil {
			return err
		}
		sent = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sent, nil
}

// SendTx appends a message inside an existing transaction. Other components
// use it to notify a counterpart in the same gated write as their own change.
func (b *Bus) SendTx(tx *board.Tx, req SendRequest) (board.Message, error) {
	priority, err := req.validate()
	if err != nil {
		return board.Message{}, err
	}
	mb, err := tx.Mailbox()
	if err != nil {
		return board.Message{}, err
	}

	msg := board.Message{
		ID:        newMessageID(),
		Seq:       mb.NextSeq,
		Timestamp: tx.Now(),
		From:      strings.TrimSpace(req.From),
		To:        strings.TrimSpace(req.To),
		Body:      req.Body,
		Priority:  priority,
		Context:   req.Context,
	}
	mb.NextSeq++
	mb.Messages = append(mb.Messages, msg)

	if over := len(mb.Messages) - b.retention; over > 0 {
		evicted := append([]board.Message(nil), mb.Messages[:over]...)
		mb.Messages = append([]board.Message(nil), mb.Messages[over:]...)
		b.archiveAfterCommit(tx, evicted, ReasonEvicted)
	}

	if err := TouchTx(tx, msg.From, ""); err != nil {
		return board.Message{}, err
	}
	return msg, nil
}

// Read returns the unread messages addressed to agent in delivery order and
// marks them read.
func (b *Bus) Read(ctx context.Context, agent string) ([]board.Message, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, board.MissingField("agent")
	}
	var out []board.Message
	err := b.store.Update(ctx, func(tx *board.Tx) error {
		mb, err := tx.Mailbox()
		if err != nil {
			return err
		}
		for i := range mb.Messages {
			m := &mb.Messages[i]
			if m.To != agent || m.Read {
				continue
			}
			m.Read = true
			out = append(out, *m)
		}
		return TouchTx(tx, agent, "")
	})
	if err != nil {
		return nil, err
	}
	sortBySeq(out)
	return out, nil
}

// Peek returns unread messages for agent with Seq > afterSeq without marking
// them read, plus the mailbox's next sequence number. afterSeq 0 returns
// every unread message. It does not take the gate.
func (b *Bus) Peek(agent string, afterSeq int64) ([]board.Message, int64, error) {
	agent = strings.TrimSpace(agent)
	var out []board.Message
	var nextSeq int64
	err := b.store.View(func(tx *board.Tx) error {
		mb, err := tx.Mailbox()
		if err != nil {
			return err
		}
		nextSeq = mb.NextSeq
		for _, m := range mb.Messages {
			if m.To == agent && !m.Read && m.Seq > afterSeq {
				out = append(out, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sortBySeq(out)
	return out, nextSeq, nil
}

// Messages returns every message currently in the mailbox, optionally
// limited to one recipient. It does not take the gate or mark anything read.
func (b *Bus) Messages(agent string) ([]board.Message, error) {
	agent = strings.TrimSpace(agent)
	var out []board.Message
	err := b.store.View(func(tx *board.Tx) error {
		mb, err := tx.Mailbox()
		if err != nil {
			return err
		}
		for _, m := range mb.Messages {
			if agent == "" || m.To == agent {
				out = append(out, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortBySeq(out)
	return out, nil
}

// Clear removes every message addressed to agent, or the whole mailbox when
// agent is empty. It returns the number of messages removed.
func (b *Bus) Clear(ctx context.Context, agent string) (int, error) {
	removed := 0
	err := b.store.Update(ctx, func(tx *board.Tx) error {
		mb, err := tx.Mailbox()
		if err != nil {
			return err
		}
		kept := make([]board.Message, 0, len(mb.Messages))
		var gone []board.Message
		for _, m := range mb.Messages {
			if agent == "" || m.To == agent {
				gone = append(gone, m)
				continue
			}
			kept = append(kept, m)
		}
		mb.Messages = kept
		removed = len(gone)
		b.archiveAfterCommit(tx, gone, ReasonCleared)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// RecipientStats summarizes one recipient's mailbox share.
type RecipientStats struct {
	Agent  string `json:"agent"`
	Unread int    `json:"unread"`
	Total  int    `json:"total"`
}

// Stats returns per-recipient message counts sorted by agent name.
func (b *Bus) Stats() ([]RecipientStats, error) {
	msgs, err := b.Messages("")
	if err != nil {
		return nil, err
	}
	byAgent := map[string]*RecipientStats{}
	for _, m := range msgs {
		s, ok := byAgent[m.To]
		if !ok {
			s = &RecipientStats{Agent: m.To}
			byAgent[m.To] = s
		}
		s.Total++
		if !m.Read {
			s.Unread++
		}
	}
	out := make([]RecipientStats, 0, len(byAgent))
	for _, s := range byAgent {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out, nil
}

func (b *Bus) archiveAfterCommit(tx *board.Tx, msgs []board.Message, reason string) {
	if b.archiver == nil || len(msgs) == 0 {
		return
	}
	archiver := b.archiver
	tx.AfterCommit(func() {
		if err := archiver.Archive(context.Background(), msgs, reason); err != nil {
			log.Printf("[WARN] Failed to archive %d %s message(s): %v", len(msgs), reason, err)
		}
	})
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func sortBySeq(msgs []board.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
}
