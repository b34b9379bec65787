package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dyluth/lodge/internal/autocmd"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/pkg/board"
)

// Options configures a Monitor.
type Options struct {
	Agent    string
	Alerters []Alerter
	Threads  *ThreadLog

	// AutoReply acknowledges messages that no auto command answered.
	AutoReply bool
	// AutoCommands runs the interpreter and executes its actions.
	AutoCommands bool
	// Dispatcher sends replies and executes actions. Required for AutoReply,
	// AutoCommands and auto-accept; nil disables all three.
	Dispatcher *Dispatcher
}

// Monitor delivers new messages for one agent.
type Monitor struct {
	bus  *mailbox.Bus
	opts Options
}

// NewMonitor creates a monitor reading from bus.
func NewMonitor(bus *mailbox.Bus, opts Options) *Monitor {
	return &Monitor{bus: bus, opts: opts}
}

// Check processes every unread message past the agent's cursor once and
// returns them. The cursor advances after each message, so a crash
// mid-batch re-delivers at most one message.
func (m *Monitor) Check(ctx context.Context) ([]board.Message, error) {
	layout := m.bus.Store().Layout()
	cursor, err := LoadCursor(layout, m.opts.Agent)
	if err != nil {
		log.Printf("[WARN] %v; restarting from the beginning", err)
	}

	msgs, nextSeq, err := m.bus.Peek(m.opts.Agent, cursor.LastSeq)
	if err != nil {
		return nil, err
	}
	if nextSeq <= cursor.LastSeq {
		log.Printf("[INFO] Mailbox was reset (next seq %d, cursor %d); restarting cursor", nextSeq, cursor.LastSeq)
		cursor.LastSeq = 0
		if msgs, _, err = m.bus.Peek(m.opts.Agent, 0); err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			if err := m.saveCursor(cursor); err != nil {
				return nil, err
			}
		}
	}

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.deliver(ctx, msg)
		cursor.LastSeq = msg.Seq
		if err := m.saveCursor(cursor); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func (m *Monitor) saveCursor(c Cursor) error {
	c.UpdatedAt = m.bus.Store().Now()
	return SaveCursor(m.bus.Store().Layout(), c)
}

// deliver runs the per-message pipeline. Side-effect failures are logged.
func (m *Monitor) deliver(ctx context.Context, msg board.Message) {
	for _, a := range m.opts.Alerters {
		if err := a.Alert(msg); err != nil {
			log.Printf("[WARN] %s alert failed for message %d: %v", a.Name(), msg.Seq, err)
		}
	}

	if _, err := m.opts.Threads.Append(msg); err != nil {
		log.Printf("[WARN] Thread log failed for message %d: %v", msg.Seq, err)
	}

	d := m.opts.Dispatcher
	if d == nil {
		return
	}

	if _, err := d.AutoAccept(ctx, msg); err != nil {
		log.Printf("[WARN] Auto-accept failed for message %d: %v", msg.Seq, err)
	}

	if msg.From == m.opts.Agent || autocmd.IsAutomated(msg) || d.Guarded(msg) {
		return
	}

	var actions []autocmd.Action
	if m.opts.AutoCommands {
		actions = autocmd.InterpretOne(m.opts.Agent, msg)
	}
	if len(actions) > 0 {
		d.Execute(ctx, actions)
		return
	}

	if m.opts.AutoReply {
		ack := autocmd.Action{
			Kind:    autocmd.KindReply,
			Rule:    "auto-reply",
			To:      msg.From,
			Body:    fmt.Sprintf("🤖 %s received your message #%d and will get back to you.", m.opts.Agent, msg.Seq),
			Context: autocmd.AutoReplyContext,
		}
		d.Execute(ctx, []autocmd.Action{ack})
	}
}

// Run checks once to catch up, then on every wake-up from src until ctx is
// cancelled. Check errors are logged and retried on the next wake-up.
func (m *Monitor) Run(ctx context.Context, src Source) error {
	wake, err := src.Subscribe(ctx)
	if err != nil {
		return err
	}
	log.Printf("[INFO] Watching mailbox for %s", m.opts.Agent)

	m.checkAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] Monitor for %s stopped", m.opts.Agent)
			return nil
		case _, ok := <-wake:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("wake-up source closed")
			}
			m.checkAndLog(ctx)
		}
	}
}

func (m *Monitor) checkAndLog(ctx context.Context) {
	msgs, err := m.Check(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("[WARN] Mailbox check failed: %v", err)
		}
		return
	}
	if len(msgs) > 0 {
		log.Printf("[DEBUG] Delivered %d message(s) to %s", len(msgs), m.opts.Agent)
	}
}

// WritePidFile records this process as the agent's running monitor and
// returns a func that removes the record.
func WritePidFile(layout board.Layout, agent string) (func(), error) {
	path := layout.PidPath(agent)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create monitors directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

// ErrNoMonitor is returned by Stop when the agent has no recorded monitor.
var ErrNoMonitor = errors.New("no running monitor")

// Stop signals the agent's recorded monitor to shut down and removes its pid file.
func Stop(layout board.Layout, agent string) (int, error) {
	path := layout.PidPath(agent)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w for %s", ErrNoMonitor, agent)
		}
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(path)
		return 0, fmt.Errorf("invalid pid file %s", path)
	}

	proc, err := os.FindProcess(pid)
	if err == nil {
		if err = proc.Signal(os.Interrupt); err != nil {
			err = proc.Kill()
		}
	}
	_ = os.Remove(path)
	if err != nil {
		return pid, fmt.Errorf("%w for %s (pid %d: %v)", ErrNoMonitor, agent, pid, err)
	}
	return pid, nil
}
