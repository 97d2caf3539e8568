package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moat-sh/moat/internal/config"
	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/logger"
)

// Global flags available to all subcommands.
var (
	configFlag  string
	verboseFlag bool
	quietFlag   bool
	noColorFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "moat",
	Short: "moat - deploy and provision a multi-host security stack",
	Long: `moat drives ansible-playbook deployments of a security stack
(log indexer, manager, dashboard, firewall, intrusion prevention)
across an inventory of hosts, and provisions libvirt virtual machines
on a remote hypervisor with terraform over SSH.

Start with 'moat configure' to set up your deployment, then
'moat check' to verify prerequisites and 'moat deploy' to roll out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// lipgloss and the rest of the stack honor the NO_COLOR
		// convention, so the flag just sets the env var.
		if noColorFlag {
			os.Setenv("NO_COLOR", "1")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default: search for .moat.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "stream raw tool output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "disable colored output")
}

// Execute runs the root command and exits the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		if code, ok := errors.GetExitCode(err); ok && code > 0 {
			os.Exit(code)
		}
		os.Exit(1)
	}
}

// loadConfig finds and loads the effective config, falling back to
// defaults when no config file exists anywhere on the search path.
func loadConfig() (*config.Config, error) {
	path, err := config.Find(configFlag)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// requireConfig is loadConfig for commands that cannot run without an
// explicit configuration on disk.
func requireConfig() (*config.Config, error) {
	path, err := config.Find(configFlag)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New(errors.ErrConfig,
			"No config file found",
			"Run 'moat configure' to create a .moat.yaml config file")
	}
	return config.Load(path)
}

func newLogger() logger.Logger {
	return logger.NewEnvLogger("moat")
}
