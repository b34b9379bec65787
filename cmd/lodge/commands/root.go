package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

// newRootCmd builds the full command tree around a fresh viper instance.
func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "lodge",
		Short: "Lodge - coordination for agents sharing one repository",
		Long: `Lodge lets independent coding agents work on the same repository
without colliding edits. Agents exchange messages through a shared mailbox,
take advisory locks on files, and hand work to each other through leased
contracts with deadlines and heartbeats.

All state lives in files under .lodge/ at the project root, so agents need
nothing but a shared filesystem. A Redis URL can optionally wake watchers on
other hosts.

Identity and location come from flags or the environment:
  --root   / LODGE_ROOT    coordination root (default: nearest .lodge, git root, cwd)
  --agent  / LODGE_AGENT   this agent's name
  --output / LODGE_OUTPUT  default, json or jsonl`,
		Version: version,
		// Prevent silent success when unknown flags are passed to root command
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		// Enable strict flag parsing - unknown flags will cause an error
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		SilenceErrors:      true,
		SilenceUsage:       true,
	}

	root.PersistentFlags().String("root", "", "Coordination root directory")
	root.PersistentFlags().String("agent", "", "This agent's name")
	root.PersistentFlags().StringP("output", "o", "default", "Output format: default, json or jsonl")

	a.v.SetEnvPrefix("LODGE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	for _, key := range []string{"root", "agent", "output"} {
		_ = a.v.BindPFlag(key, root.PersistentFlags().Lookup(key))
	}

	root.AddCommand(
		newInitCmd(a),
		newMailCmd(a),
		newLockCmd(a),
		newUnlockCmd(a),
		newLocksCmd(a),
		newContractCmd(a),
		newWatchCmd(a),
	)
	return root
}

// Execute runs the root command.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
