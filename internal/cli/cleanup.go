package cli

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/roles"
)

var cleanupYes bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove deployed components from all hosts",
	Long: `Run the playbook restricted to the cleanup role, removing the
deployed stack from every host in the inventory.

This is destructive: services are stopped and their data removed.

Examples:
  moat cleanup
  moat cleanup --yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cleanupCommand()
	},
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(cleanupCmd)
}

func cleanupCommand() error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	if !cleanupYes {
		if !interactive() {
			return errors.New(errors.ErrConfig,
				"Cleanup requires confirmation",
				"Re-run with --yes to confirm non-interactively")
		}
		var confirmed bool
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title("Remove the deployed stack from all hosts?").
				Description("Services will be stopped and their data deleted.").
				Value(&confirmed),
		))
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get confirmation",
				"Re-run with --yes to confirm non-interactively")
		}
		if !confirmed {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	outcome, err := executePlaybook(cfg, playbookRun{
		label:    "cleanup",
		playbook: cfg.PlaybookPath(),
		tags:     []string{roles.Cleanup},
	})
	if err != nil {
		return err
	}
	return runVerdict(outcome)
}
