package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/moat-sh/moat/internal/config"
	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/roles"
	"github.com/moat-sh/moat/internal/ui"
	"github.com/moat-sh/moat/internal/util"
)

// groupVarsRolesKey is the group_vars key holding the persisted role
// selection, shared between the deploy and roles commands.
const groupVarsRolesKey = "enabled_roles"

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List and toggle deployment roles",
	Long: `Manage which roles the deploy command installs.

The indexer and manager roles depend on each other: enabling or
disabling one toggles the other as well. The selection persists in
group_vars so ansible and moat agree on it.

Examples:
  moat roles
  moat roles enable dashboard
  moat roles disable ips`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return rolesListCommand()
	},
}

var rolesEnableCmd = &cobra.Command{
	Use:   "enable <role>",
	Short: "Enable a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rolesToggleCommand(args[0], true)
	},
}

var rolesDisableCmd = &cobra.Command{
	Use:   "disable <role>",
	Short: "Disable a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rolesToggleCommand(args[0], false)
	},
}

func init() {
	rolesCmd.AddCommand(rolesEnableCmd)
	rolesCmd.AddCommand(rolesDisableCmd)
	rootCmd.AddCommand(rolesCmd)
}

func rolesListCommand() error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	resolver := roles.New(cfg.Roles.Order)
	enabled, err := enabledRoles(cfg, resolver)
	if err != nil {
		return err
	}

	onStyle := lipgloss.NewStyle().Foreground(ui.ColorSuccess)
	offStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)

	fmt.Println("Roles (installation order):")
	for _, role := range resolver.Order() {
		if enabled[role] {
			fmt.Printf("  %s %s\n", onStyle.Render(ui.SymbolComplete), role)
		} else {
			fmt.Printf("  %s %s\n", offStyle.Render(ui.SymbolPending), offStyle.Render(role))
		}
	}

	fmt.Printf("\nDeploy will run: %s\n", util.JoinOrNone(resolver.ExecutionOrder(enabled)))
	return nil
}

func rolesToggleCommand(role string, turningOn bool) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	resolver := roles.New(cfg.Roles.Order)
	if !resolver.Known(role) {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown role '%s'", role),
			"Known roles: "+strings.Join(resolver.Order(), ", "))
	}

	enabled, err := enabledRoles(cfg, resolver)
	if err != nil {
		return err
	}

	enabled = resolver.Normalize(enabled, role, turningOn)
	if err := saveEnabledRoles(cfg, enabled); err != nil {
		return err
	}

	verb := "disabled"
	if turningOn {
		verb = "enabled"
	}
	fmt.Printf("Role '%s' %s.\n", role, verb)

	// Surface a coupling side effect so it never comes as a surprise.
	if role == roles.Indexer || role == roles.Manager {
		partner := roles.Manager
		if role == roles.Manager {
			partner = roles.Indexer
		}
		fmt.Printf("Role '%s' %s as well (indexer and manager deploy together).\n", partner, verb)
	}
	return nil
}

func saveEnabledRoles(cfg *config.Config, enabled map[string]bool) error {
	var list []string
	for role, on := range enabled {
		if on {
			list = append(list, role)
		}
	}
	sort.Strings(list)
	return config.UpdateGroupVars(cfg.GroupVarsPath(), map[string]interface{}{
		groupVarsRolesKey: list,
	})
}
