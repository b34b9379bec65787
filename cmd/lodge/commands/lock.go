package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/lodge/internal/locks"
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/render"
	"github.com/spf13/cobra"
)

func newLockCmd(a *app) *cobra.Command {
	var by, reason string
	var ttl time.Duration
	var force bool

	cmd := &cobra.Command{
		Use:   "lock <path>",
		Short: "Take an advisory lock on a file or directory",
		Long: `Record that an agent is editing a path so others stay away.

Locks are advisory: nothing stops a write, but every agent checks before
editing. A lock older than its TTL is reported stale and may be taken over
with --force. Re-locking a path you already hold refreshes it.

Examples:
  lodge lock src/api/handler.go --reason "splitting handlers"
  lodge lock docs/ --ttl 2h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := a.agent(by, "by")
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.locks.Lock(cmd.Context(), locks.Request{
				Path:   args[0],
				By:     holder,
				Reason: reason,
				TTL:    ttl,
				Force:  force,
			})
			if err != nil {
				return printer.FromError(fmt.Sprintf("lock %s", args[0]), err)
			}
			format, err := a.format()
			if err != nil {
				return err
			}
			if format.IsMachine() {
				return render.JSON(printer.Out, rec)
			}
			printer.Success("Locked %s for %s\n", rec.Path, rec.LockedBy)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "Lock holder (default: --agent)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the path is locked")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Staleness TTL for this lock (default: locks.ttl from lodge.yml)")
	cmd.Flags().BoolVar(&force, "force", false, "Take the lock even if another agent holds it")
	return cmd
}

func newUnlockCmd(a *app) *cobra.Command {
	var by string
	var force bool

	cmd := &cobra.Command{
		Use:   "unlock <path>",
		Short: "Release an advisory lock",
		Long: `Release a lock you hold. Use --force to release another agent's lock.
Unlocking a path that is not locked succeeds and changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := a.agent(by, "by")
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			released, err := s.locks.Unlock(cmd.Context(), args[0], holder, force)
			if err != nil {
				return printer.FromError(fmt.Sprintf("unlock %s", args[0]), err)
			}
			if !released {
				printer.Info("%s was not locked\n", args[0])
				return nil
			}
			printer.Success("Unlocked %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "Lock holder (default: --agent)")
	cmd.Flags().BoolVar(&force, "force", false, "Release even if another agent holds it")
	return cmd
}

func newLocksCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "locks [path]",
		Short: "List locks with their age and staleness",
		Long: `List lock records. A lock is stale once its age reaches its TTL: the
TTL recorded with the lock, else locks.ttl from lodge.yml. --ttl judges every
lock against one TTL instead.`,
		Args:  cobra.MaximumNArgs(1),
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

			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			rows, err := s.locks.Status(path)
			if err != nil {
				return printer.FromError("list locks", err)
			}
			if ttl > 0 {
				for i := range rows {
					rows[i].Stale = rows[i].Age >= ttl
				}
			}
			return render.Locks(printer.Out, format, rows)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Judge staleness against this TTL")
	return cmd
}
