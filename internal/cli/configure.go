package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/moat-sh/moat/internal/config"
	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/inventory"
)

// schemaFileName is the variable schema shipped inside the ansible tree.
const schemaFileName = "config.schema.yml"

var configureHostsOnly bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive deployment configuration",
	Long: `Walk through the deployment configuration interactively.

The wizard collects the target hosts (written to the inventory) and
the deployment variables declared in the schema (written to
group_vars), validating each value against its declared type and
constraints.

Examples:
  moat configure
  moat configure --hosts-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configureCommand()
	},
}

func init() {
	configureCmd.Flags().BoolVar(&configureHostsOnly, "hosts-only", false, "configure the inventory only, skip deployment variables")
	rootCmd.AddCommand(configureCmd)
}

func configureCommand() error {
	if !interactive() {
		return errors.New(errors.ErrConfig,
			"Configure needs an interactive terminal",
			"Edit .moat.yaml, the inventory and group_vars directly for scripted setups")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := configureHosts(cfg); err != nil {
		return err
	}
	if configureHostsOnly {
		return nil
	}
	return configureVariables(cfg)
}

// configureHosts prompts for the security server and agents and writes
// the inventory.
func configureHosts(cfg *config.Config) error {
	inv, err := inventory.Load(cfg.InventoryPath())
	if err != nil {
		return err
	}

	server := inventory.Host{User: "ubuntu"}
	if inv.Server != nil {
		server = *inv.Server
	}
	agents := ""
	if len(inv.Agents) > 0 {
		addrs := make([]string, len(inv.Agents))
		for i, a := range inv.Agents {
			addrs[i] = a.Address
		}
		agents = strings.Join(addrs, ",")
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Security server address").
				Description("The host that runs the indexer, manager and dashboard").
				Placeholder("192.168.1.50").
				Value(&server.Address).
				Validate(requireValue("server address")),
			huh.NewInput().
				Title("SSH user").
				Value(&server.User).
				Validate(requireValue("SSH user")),
			huh.NewInput().
				Title("SSH password").
				EchoMode(huh.EchoModePassword).
				Value(&server.Password),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Agent addresses (optional)").
				Description("Comma-separated hosts that receive the agent; same SSH credentials as the server").
				Placeholder("192.168.1.60,192.168.1.61").
				Value(&agents),
		),
	)
	if err := form.Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read host configuration",
			"Check terminal compatibility")
	}

	inv.Server = &server
	inv.Agents = nil
	for _, addr := range strings.Split(agents, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		inv.Agents = append(inv.Agents, inventory.Host{
			Address:  addr,
			User:     server.User,
			Password: server.Password,
		})
	}

	if err := inventory.Save(cfg.InventoryPath(), inv); err != nil {
		return err
	}
	fmt.Printf("Inventory written to %s\n", cfg.InventoryPath())
	return nil
}

// configureVariables runs the schema-driven part of the wizard and
// writes validated values to group_vars.
func configureVariables(cfg *config.Config) error {
	schemaPath := filepath.Join(cfg.Ansible.Dir, schemaFileName)
	if _, err := os.Stat(schemaPath); err != nil {
		fmt.Printf("No variable schema at %s, skipping deployment variables.\n", schemaPath)
		return nil
	}

	schema, err := config.LoadSchema(schemaPath)
	if err != nil {
		return err
	}

	current, err := config.LoadGroupVars(cfg.GroupVarsPath())
	if err != nil {
		return err
	}

	bindings := make([]*varBinding, 0, len(schema.Variables))
	var groups []*huh.Group
	for _, cat := range schema.Categories() {
		fields := make([]huh.Field, 0, len(cat.Variables)+1)
		fields = append(fields, huh.NewNote().Title(cat.Name))
		for _, v := range cat.Variables {
			b := newVarBinding(v, current)
			bindings = append(bindings, b)
			fields = append(fields, b.field())
		}
		groups = append(groups, huh.NewGroup(fields...))
	}

	if err := huh.NewForm(groups...).Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read deployment variables",
			"Check terminal compatibility")
	}

	updates := make(map[string]any, len(bindings))
	for _, b := range bindings {
		value, err := b.variable.Validate(b.raw)
		if err != nil {
			return err
		}
		updates[b.variable.Name] = value
	}

	if err := config.UpdateGroupVars(cfg.GroupVarsPath(), updates); err != nil {
		return err
	}
	fmt.Printf("Variables written to %s\n", cfg.GroupVarsPath())
	return nil
}

// varBinding ties one schema variable to the string the form edits.
type varBinding struct {
	variable config.Variable
	raw      string
}

// newVarBinding seeds the input with the current group_vars value when
// present, the schema default otherwise.
func newVarBinding(v config.Variable, current map[string]any) *varBinding {
	b := &varBinding{variable: v}
	if cur, ok := current[v.Name]; ok {
		b.raw = stringify(cur)
	} else if v.Default != nil {
		b.raw = stringify(v.Default)
	}
	return b
}

func (b *varBinding) field() huh.Field {
	v := b.variable

	if len(v.AllowedValues) > 0 {
		return huh.NewSelect[string]().
			Title(v.Name).
			Description(v.Description).
			Options(huh.NewOptions(v.AllowedValues...)...).
			Value(&b.raw)
	}

	if v.Type == "boolean" {
		return huh.NewSelect[string]().
			Title(v.Name).
			Description(v.Description).
			Options(huh.NewOptions("true", "false")...).
			Value(&b.raw)
	}

	input := huh.NewInput().
		Title(v.Name).
		Description(v.Description).
		Value(&b.raw).
		Validate(func(raw string) error {
			_, err := v.Validate(raw)
			return err
		})
	if v.Secret {
		input = input.EchoMode(huh.EchoModePassword)
	}
	return input
}

func requireValue(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

// stringify renders a group_vars value back into form-input text.
func stringify(v any) string {
	switch val := v.(type) {
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}
