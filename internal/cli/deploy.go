package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moat-sh/moat/internal/config"
	"github.com/moat-sh/moat/internal/engine"
	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/inventory"
	"github.com/moat-sh/moat/internal/logs"
	"github.com/moat-sh/moat/internal/parser"
	"github.com/moat-sh/moat/internal/roles"
	"github.com/moat-sh/moat/internal/runner"
	"github.com/moat-sh/moat/internal/ui"
	"github.com/moat-sh/moat/internal/util"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [role...]",
	Short: "Deploy the security stack",
	Long: `Run the deployment playbook against the configured inventory.

With no arguments, deploys the enabled role set (see 'moat roles').
Naming roles deploys exactly those roles, with the indexer/manager
coupling applied.

Examples:
  moat deploy
  moat deploy dashboard
  moat deploy indexer manager`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return deployCommand(args)
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
}

func deployCommand(selected []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	resolver := roles.New(cfg.Roles.Order)
	enabled, err := enabledRoles(cfg, resolver)
	if err != nil {
		return err
	}

	if len(selected) > 0 {
		enabled = map[string]bool{}
		for _, role := range selected {
			if !resolver.Known(role) {
				return unknownRoleError(role, resolver)
			}
			enabled = resolver.Normalize(enabled, role, true)
		}
	}

	order := resolver.ExecutionOrder(enabled)
	if len(order) == 0 {
		return errors.New(errors.ErrConfig,
			"No roles enabled",
			"Enable roles with 'moat roles enable <role>' or name them: moat deploy dashboard")
	}

	outcome, err := executePlaybook(cfg, playbookRun{
		label:    "deploy " + strings.Join(order, ", "),
		playbook: cfg.PlaybookPath(),
		tags:     order,
	})
	if err != nil {
		return err
	}

	if outcome.Succeeded() && enabled[roles.Dashboard] {
		printDashboardAccess(cfg, outcome)
	}
	return runVerdict(outcome)
}

// unknownRoleError builds the error for a role name the resolver does
// not know, suggesting near misses when the name looks like a typo.
func unknownRoleError(role string, resolver *roles.Resolver) error {
	hint := "Known roles: " + strings.Join(resolver.Order(), ", ")
	if similar := util.SuggestSimilar(role, resolver.Order(), 3); len(similar) > 0 {
		hint = "Did you mean: " + strings.Join(similar, ", ") + "?"
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("Unknown role '%s'", role), hint)
}

// playbookRun names one playbook invocation.
type playbookRun struct {
	label    string
	playbook string
	tags     []string
}

// executePlaybook drives one ansible-playbook run through the engine,
// with a live view on interactive terminals, and persists the raw log
// plus a JSON summary.
func executePlaybook(cfg *config.Config, run playbookRun) (*engine.Outcome, error) {
	log := newLogger()

	rl, err := logs.NewRunLog(cfg.Deploy.LogDir, run.label)
	if err != nil {
		return nil, err
	}

	mode := runner.Quiet
	if verboseFlag {
		mode = runner.Verbose
	}

	req := runner.Request{
		Command:    playbookCommand(cfg, run),
		WorkDir:    cfg.Ansible.Dir,
		ConfigPath: cfg.AnsibleConfigPath(),
		RolesPath:  cfg.RolesPath(),
		Mode:       mode,
		LogSink:    rl.Path,
	}

	ctx := engine.NewContext()
	opts := engine.RunOptions{
		Label:        run.label,
		Request:      req,
		TaskEstimate: cfg.Deploy.TaskEstimate,
	}

	var outcome *engine.Outcome
	if interactive() {
		outcome, err = runWithLiveView(ctx, opts)
	} else {
		outcome, err = runPlain(ctx, opts)
	}
	if err != nil {
		return nil, err
	}

	if werr := rl.WriteSummary(run.label, outcome); werr != nil {
		log.Warn("summary not written: %v", werr)
	}

	surfaceBufferedOutput(os.Stdout, req.Mode, outcome)

	if !quietFlag {
		fmt.Print(ui.NewSummaryRenderer().Render(run.label, outcome))
		fmt.Printf("Log: %s\n", rl.Path)
	}
	return outcome, nil
}

// surfaceBufferedOutput dumps the captured run output after a failed
// quiet run. Quiet mode shows nothing while the playbook executes, so a
// failure is the one case where the buffer must reach the user. Verbose
// runs already streamed every line and cancellations are a user action,
// not a failure.
func surfaceBufferedOutput(w io.Writer, mode runner.Mode, outcome *engine.Outcome) {
	if mode != runner.Quiet || outcome.Succeeded() || outcome.Cancelled() {
		return
	}
	for _, line := range outcome.Result.Output {
		fmt.Fprintln(w, line)
	}
}

// runWithLiveView drives the run under the bubbletea dashboard.
func runWithLiveView(ctx *engine.Context, opts engine.RunOptions) (*engine.Outcome, error) {
	model := ui.NewDeployModel(opts.Label, opts.TaskEstimate, func() {
		_ = ctx.Cancel()
	})
	program := tea.NewProgram(model)
	bridge := ui.NewBridge(program)

	opts.OnLine = bridge.OnLine

	go func() {
		outcome, err := engine.Run(ctx, opts, newLogger())
		bridge.Done(outcome, err)
	}()

	final, err := program.Run()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrExec,
			"Terminal display failed",
			"Re-run with --quiet to skip the live view")
	}
	return final.(ui.DeployModel).Outcome()
}

// runPlain drives the run without a TUI, forwarding interrupts to the
// process group so ctrl-c stops the child cleanly.
func runPlain(ctx *engine.Context, opts engine.RunOptions) (*engine.Outcome, error) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		_ = ctx.Cancel()
	}()

	if !quietFlag {
		opts.OnLine = func(line string, ev parser.Event) {
			switch e := ev.(type) {
			case parser.TaskStarted:
				fmt.Printf("TASK: %s\n", e.Name)
			case parser.HostResult:
				fmt.Printf("  %s: %s\n", e.Host, e.Status)
			}
			if verboseFlag {
				fmt.Println(line)
			}
		}
	}

	return engine.Run(ctx, opts, newLogger())
}

// playbookCommand builds the shell command for one run. Paths are
// quoted; tags are validated role names so the join is safe.
func playbookCommand(cfg *config.Config, run playbookRun) string {
	parts := []string{
		"ansible-playbook",
		"-i", util.ShellQuote(cfg.InventoryPath()),
		util.ShellQuote(run.playbook),
	}
	if len(run.tags) > 0 {
		parts = append(parts, "--tags", util.ShellQuote(strings.Join(run.tags, ",")))
	}
	if verboseFlag {
		parts = append(parts, "-v")
	}
	return strings.Join(parts, " ")
}

// enabledRoles reads the persisted selection: group_vars first, then
// the config file, then everything except cleanup.
func enabledRoles(cfg *config.Config, resolver *roles.Resolver) (map[string]bool, error) {
	enabled := map[string]bool{}

	vars, err := config.LoadGroupVars(cfg.GroupVarsPath())
	if err != nil {
		return nil, err
	}
	if raw, ok := vars[groupVarsRolesKey]; ok {
		if list, ok := raw.([]interface{}); ok {
			for _, item := range list {
				enabled[fmt.Sprint(item)] = true
			}
			return enabled, nil
		}
	}

	if len(cfg.Roles.Enabled) > 0 {
		for _, role := range cfg.Roles.Enabled {
			enabled[role] = true
		}
		return enabled, nil
	}

	for _, role := range resolver.Order() {
		if role != roles.Cleanup {
			enabled[role] = true
		}
	}
	return enabled, nil
}

func runVerdict(outcome *engine.Outcome) error {
	switch {
	case outcome.Succeeded(), outcome.Cancelled():
		return nil
	default:
		return errors.WrapWithCode(errors.NewExitError(outcome.Result.ExitCode),
			errors.ErrExec,
			"Run failed",
			"Inspect the log file listed above for the failing task")
	}
}

func interactive() bool {
	return !quietFlag && term.IsTerminal(int(os.Stdout.Fd()))
}

// credentialPattern matches the admin password line the dashboard
// install prints, e.g. `"admin", "S3cret!"`.
var credentialPattern = regexp.MustCompile(`"admin",\s*"([^"]+)"`)

// printDashboardAccess scrapes the run output for the generated admin
// credentials and prints the dashboard URL. Falls back to the
// group_vars password when the output did not include one.
func printDashboardAccess(cfg *config.Config, outcome *engine.Outcome) {
	password := ""
	for _, line := range outcome.Result.Output {
		if m := credentialPattern.FindStringSubmatch(line); m != nil {
			password = m[1]
		}
	}
	if password == "" {
		if vars, err := config.LoadGroupVars(cfg.GroupVarsPath()); err == nil {
			if v, ok := vars["dashboard_password"]; ok {
				password = fmt.Sprint(v)
			}
		}
	}

	addr, _, _, err := inventory.ServerCredentials(cfg.InventoryPath())
	if err != nil {
		return
	}

	fmt.Printf("\nDashboard: https://%s\n", addr)
	if password != "" {
		fmt.Printf("Login: admin / %s\n", password)
	}
}
