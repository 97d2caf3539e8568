package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"
)

// prerequisitesPlaybook is the playbook that verifies host readiness
// (connectivity, OS version, disk, memory) without changing anything.
const prerequisitesPlaybook = "prerequisites.yml"

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify host prerequisites",
	Long: `Run the prerequisites playbook against the inventory.

Checks connectivity, OS version, disk space and memory on every host
without modifying anything. Results are shown in the same table as a
deploy.

Examples:
  moat check
  moat check --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkCommand()
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func checkCommand() error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	outcome, err := executePlaybook(cfg, playbookRun{
		label:    "prerequisites",
		playbook: filepath.Join(cfg.Ansible.Dir, prerequisitesPlaybook),
	})
	if err != nil {
		return err
	}
	return runVerdict(outcome)
}
