package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/lodge/internal/contract"
	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/render"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/spf13/cobra"
)

func newContractCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Hand work between agents with leased contracts",
		Long: `Contracts are leases on a unit of work between a proposer and an assignee.

Lifecycle:
  proposed → accepted → in_progress → completed | failed | cancelled
  Any non-terminal contract expires when its deadline passes, or when an
  in-progress contract misses its heartbeats. Expiry releases its locks.

Contract ids may be shortened to any unique prefix of 6 or more characters.`,
	}
	cmd.AddCommand(
		newContractProposeCmd(a),
		newTransitionCmd(a, "accept <id>", "Accept a proposed contract", func(ctx context.Context, s *services, id, from string, _ []string) (*board.Contract, error) {
			return s.protocol.Accept(ctx, id, from)
		}),
		newTransitionCmd(a, "start <id> [paths...]", "Start work, locking the given paths", func(ctx context.Context, s *services, id, from string, rest []string) (*board.Contract, error) {
			return s.protocol.Start(ctx, id, from, rest)
		}),
		newTransitionCmd(a, "heartbeat <id> [note...]", "Report progress on an in-progress contract", func(ctx context.Context, s *services, id, from string, rest []string) (*board.Contract, error) {
			return s.protocol.Heartbeat(ctx, id, from, strings.Join(rest, " "))
		}),
		newTransitionCmd(a, "complete <id> [result...]", "Complete a contract and release its locks", func(ctx context.Context, s *services, id, from string, rest []string) (*board.Contract, error) {
			return s.protocol.Complete(ctx, id, from, strings.Join(rest, " "))
		}),
		newTransitionCmd(a, "fail <id> [reason...]", "Fail a contract and release its locks", func(ctx context.Context, s *services, id, from string, rest []string) (*board.Contract, error) {
			return s.protocol.Fail(ctx, id, from, strings.Join(rest, " "))
		}),
		newTransitionCmd(a, "cancel <id> [reason...]", "Cancel a contract and release its locks", func(ctx context.Context, s *services, id, from string, rest []string) (*board.Contract, error) {
			return s.protocol.Cancel(ctx, id, from, strings.Join(rest, " "))
		}),
		newContractListCmd(a),
		newContractShowCmd(a),
		newContractSweepCmd(a),
	)
	return cmd
}

func newContractProposeCmd(a *app) *cobra.Command {
	var req contract.ProposeRequest
	var from string

	cmd := &cobra.Command{
		Use:   "propose --to <agent> --title <title>",
		Short: "Propose a contract to another agent",
		Long: `Propose a unit of work. The assignee is messaged and must accept it.

Safeguards are always recorded. They are enforced only when
contracts.enforce_safeguards is true in lodge.yml:
  --max-steps    heartbeats beyond this count are refused
  --auto-accept  the assignee's monitor accepts the proposal by itself
  --loop-guard   nothing automatic answers messages about this contract

Examples:
  lodge contract propose --to tester --title "Cover the parser" --ttl-minutes 60
  lodge contract propose --to builder --title "Release 1.4" --heartbeat-sec 300 --max-steps 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			proposer, err := a.agent(from, "from")
			if err != nil {
				return err
			}
			req.From = proposer
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.protocol.Propose(cmd.Context(), req)
			if err != nil {
				return printer.FromError("propose contract", err)
			}
			return reportContract(a, c, "Proposed")
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Proposer (default: --agent)")
	cmd.Flags().StringVar(&req.To, "to", "", "Assignee (required)")
	cmd.Flags().StringVar(&req.Title, "title", "", "Short title (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Details of the work")
	cmd.Flags().StringVar(&req.Priority, "priority", "normal", "low, normal or high")
	cmd.Flags().IntVar(&req.TTLMinutes, "ttl-minutes", 0, "Deadline in minutes from now (0 = none)")
	cmd.Flags().IntVar(&req.HeartbeatSec, "heartbeat-sec", 0, "Expected heartbeat interval once started (0 = none)")
	cmd.Flags().IntVar(&req.Safeguards.MaxSteps, "max-steps", 0, "Maximum heartbeats (0 = unlimited)")
	cmd.Flags().BoolVar(&req.Safeguards.AutoAccept, "auto-accept", false, "Let the assignee's monitor accept automatically")
	cmd.Flags().BoolVar(&req.Safeguards.LoopGuard, "loop-guard", false, "Suppress automatic replies about this contract")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

type transitionFunc func(ctx context.Context, s *services, id, from string, rest []string) (*board.Contract, error)

// newTransitionCmd builds one lifecycle verb. The first argument is the
// contract id; the rest are passed to fn.
func newTransitionCmd(a *app, use, short string, fn transitionFunc) *cobra.Command {
	verb := strings.Fields(use)[0]
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := a.agent("", "agent")
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := fn(cmd.Context(), s, args[0], from, args[1:])
			if err != nil {
				return printer.FromError(fmt.Sprintf("%s contract %s", verb, args[0]), err)
			}
			return reportContract(a, c, pastTense(verb))
		},
	}
}

func pastTense(verb string) string {
	switch verb {
	case "start":
		return "Started"
	case "heartbeat":
		return "Heartbeat recorded for"
	case "complete":
		return "Completed"
	case "fail":
		return "Failed"
	case "cancel":
		return "Cancelled"
	}
	return strings.ToUpper(verb[:1]) + verb[1:] + "ed"
}

func reportContract(a *app, c *board.Contract, what string) error {
	format, err := a.format()
	if err != nil {
		return err
	}
	if format.IsMachine() {
		return render.JSON(printer.Out, c)
	}
	printer.Success("%s contract %s (%s): %s\n", what, c.ID, c.Status, c.Title)
	if what == "Started" {
		for _, u := range c.Updates {
			if strings.HasPrefix(u.Message, "lock ") && strings.Contains(u.Message, "not acquired") {
				printer.Warning("%s\n", u.Message)
			}
		}
	}
	return nil
}

func newContractListCmd(a *app) *cobra.Command {
	var criteria filter.Criteria
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts (expiring overdue ones first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := a.format()
			if err != nil {
				return err
			}
			if status != "" {
				criteria.Status = board.ContractStatus(strings.ToLower(status))
				if err := criteria.Status.Validate(); err != nil {
					return printer.FromError("list contracts", err)
				}
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.protocol.List(cmd.Context(), criteria)
			if err != nil {
				return printer.FromError("list contracts", err)
			}
			return render.Contracts(printer.Out, format, list, s.store.Now())
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only contracts in this status")
	cmd.Flags().StringVar(&criteria.Agent, "agent", "", "Only contracts proposed by or assigned to this agent")
	cmd.Flags().BoolVar(&criteria.ActiveOnly, "active", false, "Only non-terminal contracts")
	cmd.Flags().StringVar(&criteria.TitleGlob, "title", "", "Only titles matching this glob")
	return cmd
}

func newContractShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one contract with its update log",
		Args:  cobra.ExactArgs(1),
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

			c, err := s.protocol.Show(args[0])
			if err != nil {
				return printer.FromError("show contract "+args[0], err)
			}
			return render.Contract(printer.Out, format, c, s.store.Now())
		},
	}
}

func newContractSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue contracts and release their locks",
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

			expired, err := s.protocol.Sweep(cmd.Context())
			if err != nil {
				return printer.FromError("sweep contracts", err)
			}
			if format.IsMachine() {
				return render.Contracts(printer.Out, format, expired, s.store.Now())
			}
			if len(expired) == 0 {
				printer.Info("No contracts expired\n")
				return nil
			}
			for _, c := range expired {
				printer.Warning("Expired %s: %s\n", c.ID, c.Title)
			}
			return nil
		},
	}
}
