package commands

import (
	"github.com/dyluth/lodge/internal/printer"
	"github.com/dyluth/lodge/internal/scaffold"
	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize lodge in this project",
		Long: `Initialize lodge coordination in the project root.

Creates:
  • lodge.yml - Project configuration file
  • .lodge/   - Shared mailbox, agent table, contracts, locks and cursors

The root is --root / LODGE_ROOT when given, otherwise the Git repository root,
otherwise the current directory. Existing coordination state is kept.

Use --force to overwrite an existing lodge.yml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.resolveRoot()
			if err != nil {
				return err
			}

			res, err := scaffold.Initialize(root, force)
			if err != nil {
				return printer.ErrorWithContext("Initialization failed", err.Error(),
					map[string]string{"Root": root}, nil)
			}

			printer.Success("Initialized lodge in %s\n", root)
			if len(res.Created) > 0 {
				printer.Println("\nCreated:")
				for _, p := range res.Created {
					printer.Printf("  ✓ %s\n", p)
				}
			}
			if res.GitignoreUpdated {
				printer.Info("\nAdded .lodge/ to .gitignore\n")
			}
			printer.Println("\nNext steps:")
			printer.Step("Give every agent a name: export LODGE_AGENT=<name>\n")
			printer.Step("Send a message: lodge mail send --to <agent> \"hello\"\n")
			printer.Step("Watch for replies: lodge watch monitor\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing lodge.yml")
	return cmd
}
