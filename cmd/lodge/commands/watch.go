package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dyluth/lodge/internal/config"
	"github.com/dyluth/lodge/internal/git"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/render"
	"github.com/dyluth/lodge/internal/watch"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Deliver new messages to an agent as they arrive",
	}
	cmd.AddCommand(newWatchCheckCmd(a), newWatchMonitorCmd(a), newWatchStopCmd(a))
	return cmd
}

func newWatchCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Print messages that arrived since the last check",
		Long: `Print unread messages for --agent past its watch cursor, then advance
the cursor. Messages stay unread in the mailbox; 'mail read' still returns them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.agent("", "agent")
			if err != nil {
				return err
			}
			format, err := a.format()
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			msgs, err := watch.NewMonitor(s.bus, watch.Options{Agent: agent}).Check(cmd.Context())
			if err != nil {
				return printer.FromError("check mail", err)
			}
			return render.FullMessages(printer.Out, format, msgs, s.store.Now())
		},
	}
}

// monitorFlags override the watch section of lodge.yml when set.
type monitorFlags struct {
	mode         string
	interval     time.Duration
	visual       bool
	sound        bool
	desktop      bool
	autoReply    bool
	autoCommands bool
}

func (f *monitorFlags) apply(cmd *cobra.Command, w *config.WatchConfig) {
	changed := cmd.Flags().Changed
	if changed("mode") {
		w.Mode = f.mode
	}
	if changed("interval") {
		w.IntervalDuration = f.interval
	}
	if changed("visual") {
		v := f.visual
		w.Alerts.Visual = &v
	}
	if changed("sound") {
		w.Alerts.Sound = f.sound
	}
	if changed("desktop") {
		w.Alerts.Desktop = f.desktop
	}
	if changed("auto-reply") {
		w.AutoReply = f.autoReply
	}
	if changed("auto-commands") {
		w.AutoCommands = f.autoCommands
	}
}

func newWatchMonitorCmd(a *app) *cobra.Command {
	var flags monitorFlags

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run a long-lived monitor for this agent",
		Long: `Watch the mailbox for --agent and deliver each new message once.

Delivery modes (watch.mode in lodge.yml, or --mode):
  poll   - check every --interval
  event  - wake on filesystem changes to the mailbox
  redis  - wake on publishes from other hosts (needs notify.redis_url)

Delivered messages raise the configured alerts, are appended to thread logs
when their context matches watch.thread_pattern, and may be answered
automatically with --auto-reply or --auto-commands.

Stop the monitor with Ctrl-C or 'lodge watch stop'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.agent("", "agent")
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			w := s.cfg.Watch
			flags.apply(cmd, &w)

			src, err := monitorSource(cmd.Context(), s, w)
			if err != nil {
				return err
			}

			dispatcher := &watch.Dispatcher{
				Agent:     agent,
				Bus:       s.bus,
				Locks:     s.locks,
				Contracts: s.protocol,
				Git:       git.NewChecker(s.root),
				PlanPath:  filepath.Join(s.root, w.PlanFile),
			}
			monitor := watch.NewMonitor(s.bus, watch.Options{
				Agent:        agent,
				Alerters:     alertersFor(w.Alerts),
				Threads:      &watch.ThreadLog{Layout: s.layout(), Pattern: w.ThreadRegexp},
				AutoReply:    w.AutoReply,
				AutoCommands: w.AutoCommands,
				Dispatcher:   dispatcher,
			})

			cleanup, err := watch.WritePidFile(s.layout(), agent)
			if err != nil {
				return printer.FromError("start monitor", err)
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printer.Info("Monitoring mail for %s (%s mode). Press Ctrl-C to stop.\n", agent, w.Mode)
			if err := monitor.Run(ctx, src); err != nil {
				return printer.FromError("run monitor", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.mode, "mode", "", "poll, event or redis (default: watch.mode)")
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "Poll interval (default: watch.interval)")
	cmd.Flags().BoolVar(&flags.visual, "visual", true, "Print a banner for each message")
	cmd.Flags().BoolVar(&flags.sound, "sound", false, "Ring the terminal bell")
	cmd.Flags().BoolVar(&flags.desktop, "desktop", false, "Raise a desktop notification")
	cmd.Flags().BoolVar(&flags.autoReply, "auto-reply", false, "Acknowledge messages automatically")
	cmd.Flags().BoolVar(&flags.autoCommands, "auto-commands", false, "Execute commands found in messages")
	return cmd
}

func monitorSource(ctx context.Context, s *services, w config.WatchConfig) (watch.Source, error) {
	switch w.Mode {
	case config.ModePoll, "":
		if w.IntervalDuration <= 0 {
			return nil, printer.Error("Invalid poll interval", fmt.Sprintf("interval must be positive, got %s", w.IntervalDuration), nil)
		}
		return &watch.PollSource{Interval: w.IntervalDuration}, nil
	case config.ModeEvent:
		return &watch.FileSource{
			Dir:      s.layout().Dir(),
			File:     filepath.Base(s.layout().MailboxPath()),
			Debounce: w.DebounceDuration,
		}, nil
	case config.ModeRedis:
		if s.cfg.Notify.RedisURL == "" {
			return nil, printer.Error("Redis mode needs a server", "notify.redis_url is not set in lodge.yml.",
				[]string{"Set notify.redis_url, e.g. redis://localhost:6379/0", "Or use --mode poll"})
		}
		client := s.redis
		if client == nil {
			var err error
			if client, err = watch.NewRedisClient(ctx, s.cfg.Notify.RedisURL); err != nil {
				return nil, printer.FromError("connect to Redis", err)
			}
			s.redis = client
		}
		return &watch.RedisSource{Client: client, Channel: board.RedisChannel(s.cfg.Namespace)}, nil
	}
	return nil, printer.Error("Invalid watch mode", fmt.Sprintf("unknown mode %q", w.Mode),
		[]string{"Use one of: poll, event, redis"})
}

func alertersFor(alerts config.AlertsConfig) []watch.Alerter {
	var out []watch.Alerter
	if alerts.Visual == nil || *alerts.Visual {
		out = append(out, &watch.VisualAlerter{Out: printer.Out})
	}
	if alerts.Sound {
		out = append(out, &watch.BellAlerter{Out: printer.Out})
	}
	if alerts.Desktop {
		out = append(out, &watch.DesktopAlerter{})
	}
	return out
}

func newWatchStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop this agent's running monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.agent("", "agent")
			if err != nil {
				return err
			}
			root, err := a.resolveRoot()
			if err != nil {
				return err
			}

			pid, err := watch.Stop(board.Layout{Root: root}, agent)
			if errors.Is(err, watch.ErrNoMonitor) {
				printer.Info("No monitor is running for %s\n", agent)
				return nil
			}
			if err != nil {
				return printer.FromError("stop monitor", err)
			}
			printer.Success("Stopped monitor for %s (pid %d)\n", agent, pid)
			return nil
		},
	}
}
