package commands

import (
	"strings"

	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/render"
	"github.com/dyluth/lodge/internal/timespec"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/spf13/cobra"
)

func newMailCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Send and read messages between agents",
	}
	cmd.AddCommand(
		newMailSendCmd(a),
		newMailReadCmd(a),
		newMailStatusCmd(a),
		newMailClearCmd(a),
		newMailUpdateStatusCmd(a),
		newMailListCmd(a),
		newMailHistoryCmd(a),
	)
	return cmd
}

func newMailSendCmd(a *app) *cobra.Command {
	var to, from, priority, msgContext string

	cmd := &cobra.Command{
		Use:   "send --to <agent> <body...>",
		Short: "Send a message",
		Long: `Send a message to another agent (or to yourself).

Priority is routing metadata only; it never reorders delivery.

Examples:
  lodge mail send --to reviewer "PR #12 is ready"
  lodge mail send --to builder --priority high --context thread:release "Freeze main?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := a.agent(from, "from")
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			msg, err := s.bus.Send(cmd.Context(), mailbox.SendRequest{
				To:       to,
				From:     sender,
				Body:     strings.Join(args, " "),
				Priority: priority,
				Context:  msgContext,
			})
			if err != nil {
				return printer.FromError("send message", err)
			}

			format, err := a.format()
			if err != nil {
				return err
			}
			if format.IsMachine() {
				return render.JSON(printer.Out, msg)
			}
			printer.Success("Sent #%d to %s\n", msg.Seq, msg.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Recipient agent (required)")
	cmd.Flags().StringVar(&from, "from", "", "Sender (default: --agent)")
	cmd.Flags().StringVar(&priority, "priority", "normal", "low, normal or high")
	cmd.Flags().StringVar(&msgContext, "context", "", "Routing tag, e.g. thread:<topic>")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newMailReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Read and mark your unread messages",
		Long: `Print every unread message addressed to --agent and mark them read.
Each message is delivered by read exactly once.`,
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

			msgs, err := s.bus.Read(cmd.Context(), agent)
			if err != nil {
				return printer.FromError("read mail", err)
			}
			return render.FullMessages(printer.Out, format, msgs, s.store.Now())
		},
	}
}

func newMailStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show message counts and agent states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.bus.Stats()
			if err != nil {
				return printer.FromError("read mailbox", err)
			}
			agents, err := s.bus.Agents()
			if err != nil {
				return printer.FromError("read agent status", err)
			}
			if err := render.MailStats(printer.Out, format, stats, agents, s.store.Now()); err != nil {
				return err
			}
			if format.IsMachine() || s.archive == nil {
				return nil
			}
			archived, err := s.archive.Count(cmd.Context())
			if err != nil {
				return printer.FromError("count history", err)
			}
			if archived > 0 {
				printer.Info("%d message(s) in history, see: lodge mail history\n", archived)
			}
			return nil
		},
	}
}

func newMailClearCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove messages from the mailbox",
		Long: `Remove every message addressed to --agent, or the whole mailbox with --all.
Removed messages are kept in the history archive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := ""
			if !all {
				var err error
				if agent, err = a.agent("", "agent"); err != nil {
					return err
				}
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.bus.Clear(cmd.Context(), agent)
			if err != nil {
				return printer.FromError("clear mail", err)
			}
			if all {
				printer.Success("Cleared %d message(s)\n", n)
			} else {
				printer.Success("Cleared %d message(s) for %s\n", n, agent)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Clear every agent's messages")
	return cmd
}

func newMailUpdateStatusCmd(a *app) *cobra.Command {
	var status, task string

	cmd := &cobra.Command{
		Use:   "update-status --status available|busy|offline",
		Short: "Record this agent's availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.agent("", "agent")
			if err != nil {
				return err
			}
			state := board.AgentState(strings.ToLower(strings.TrimSpace(status)))
			if err := state.Validate(); err != nil {
				return printer.FromError("update status", err)
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.bus.UpdateStatus(cmd.Context(), agent, state, task)
			if err != nil {
				return printer.FromError("update status", err)
			}
			format, err := a.format()
			if err != nil {
				return err
			}
			if format.IsMachine() {
				return render.JSON(printer.Out, st)
			}
			printer.Success("%s is %s\n", st.Agent, st.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "available, busy or offline (required)")
	cmd.Flags().StringVar(&task, "task", "", "What the agent is working on")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newMailListCmd(a *app) *cobra.Command {
	var agent, since, until string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages still in the mailbox",
		Long: `List every message still in the mailbox, read or unread, oldest first.
Nothing is marked read.

Examples:
  lodge mail list
  lodge mail list --agent reviewer --since 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			sinceMs, untilMs, err := timespec.ParseRangeAt(since, until, s.store.Now())
			if err != nil {
				return printer.Error("Invalid time filter", err.Error(), []string{
					"Use a duration like 2h or 3d",
					"Or an RFC3339 timestamp like 2026-03-01T09:00:00Z",
				})
			}
			criteria := filter.Criteria{Agent: agent, SinceTimestampMs: sinceMs, UntilTimestampMs: untilMs}

			all, err := s.bus.Messages("")
			if err != nil {
				return printer.FromError("read mailbox", err)
			}
			var msgs []board.Message
			for i := range all {
				if criteria.MatchesMessage(&all[i]) {
					msgs = append(msgs, all[i])
				}
			}
			return render.Messages(printer.Out, format, msgs, s.store.Now())
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "Only messages from or to this agent")
	cmd.Flags().StringVar(&since, "since", "", "Show messages after time (duration or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Show messages before time (duration or RFC3339)")
	return cmd
}

func newMailHistoryCmd(a *app) *cobra.Command {
	var agent, since, until string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Search messages that left the mailbox",
		Long: `List archived messages: those evicted by the retention cap or removed
by 'mail clear'. Newest first.

Time Filters:
  --since  - duration ("2h", "3d") or RFC3339 timestamp
  --until  - duration or RFC3339 timestamp

Examples:
  lodge mail history --since 2h
  lodge mail history --agent reviewer --limit 20 --output jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			sinceMs, untilMs, err := timespec.ParseRangeAt(since, until, s.store.Now())
			if err != nil {
				return printer.Error("Invalid time filter", err.Error(), []string{
					"Use a duration like 2h or 3d",
					"Or an RFC3339 timestamp like 2026-03-01T09:00:00Z",
				})
			}
			if s.archive == nil {
				return printer.Error("Message history unavailable", "The archive database could not be opened.", nil)
			}

			entries, err := s.archive.Query(cmd.Context(), filter.Criteria{
				Agent:            agent,
				SinceTimestampMs: sinceMs,
				UntilTimestampMs: untilMs,
			}, limit)
			if err != nil {
				return printer.FromError("query history", err)
			}
			return render.History(printer.Out, format, entries, s.store.Now())
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "Only messages from or to this agent")
	cmd.Flags().StringVar(&since, "since", "", "Show messages after time (duration or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Show messages before time (duration or RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum messages to show (0 = all)")
	return cmd
}
