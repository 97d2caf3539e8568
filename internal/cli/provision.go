package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moat-sh/moat/internal/config"
	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/inventory"
	"github.com/moat-sh/moat/internal/provision"
	"github.com/moat-sh/moat/internal/ui"
	"github.com/moat-sh/moat/internal/util"
	"github.com/moat-sh/moat/pkg/sshutil"
)

var (
	provisionHostFlag     string
	provisionUserFlag     string
	provisionPasswordFlag string
	provisionKeyFlag      string
	provisionVMPassword   string
	provisionTimeoutFlag  string
	provisionPrepareOnly  bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision <vm-name>...",
	Short: "Provision VMs on a remote hypervisor",
	Long: `Create virtual machines on a remote libvirt host using terraform
over SSH.

The target host defaults to the security server from the inventory.
Each argument names one VM; passwords come from --vm-password or a
per-VM "name:password" argument.

The workflow installs terraform and libvirt on the target if missing,
sets up the virtual network (with an isolated fallback when the
default network cannot start), uploads the generated terraform
configuration, and applies it. On guest memory allocation failures the
VM memory is stepped down and the apply retried.

Examples:
  moat provision agent-01 --vm-password changeme
  moat provision agent-01:pw1 agent-02:pw2 --host root@192.168.1.50
  moat provision --prepare-only --host ubuntu@hypervisor`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return provisionCommand(args)
	},
}

func init() {
	provisionCmd.Flags().StringVar(&provisionHostFlag, "host", "", "target hypervisor (user@host), default: inventory security server")
	provisionCmd.Flags().StringVar(&provisionUserFlag, "user", "", "SSH user for the target")
	provisionCmd.Flags().StringVar(&provisionPasswordFlag, "password", "", "SSH password for the target")
	provisionCmd.Flags().StringVar(&provisionKeyFlag, "key", "", "SSH identity file for the target")
	provisionCmd.Flags().StringVar(&provisionVMPassword, "vm-password", "", "login password for created VMs")
	provisionCmd.Flags().StringVar(&provisionTimeoutFlag, "timeout", "30s", "SSH connect timeout")
	provisionCmd.Flags().BoolVar(&provisionPrepareOnly, "prepare-only", false, "install tooling and set up the network, skip terraform apply")
	rootCmd.AddCommand(provisionCmd)
}

func provisionCommand(args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	if len(args) == 0 && !provisionPrepareOnly {
		return errors.New(errors.ErrConfig,
			"No VMs named",
			"Name at least one VM (moat provision agent-01 --vm-password ...) or use --prepare-only")
	}

	timeout, err := time.ParseDuration(provisionTimeoutFlag)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Invalid timeout '%s'", provisionTimeoutFlag),
			"Use a duration like 30s or 2m")
	}

	host, sshOpts, err := provisionTarget(cfg, timeout)
	if err != nil {
		return err
	}

	vms, err := parseVMSpecs(args)
	if err != nil {
		return err
	}

	user := resolvedUser(host, sshOpts)

	if len(vms) > 0 {
		target := provision.Target{
			Host:     stripUser(host),
			User:     user,
			Password: sshOpts.Password,
		}
		if err := provision.GenerateConfig(cfg.Provision.TerraformDir, vms, target); err != nil {
			return err
		}
		fmt.Printf("Terraform configuration written to %s\n", cfg.Provision.TerraformDir)
	}

	spin := ui.NewSpinner("Connecting to " + stripUser(host))
	if interactive() {
		spin.Start()
	}
	client, err := sshutil.DialWithOptions(host, sshOpts)
	if err != nil {
		spin.Fail("Connection to " + stripUser(host) + " failed")
		return err
	}
	spin.Success("Connected to " + stripUser(host))
	defer client.Close()

	orch := provision.New(client, provision.Options{
		TerraformDir: cfg.Provision.TerraformDir,
		User:         user,
		MemoryLadder: cfg.Provision.MemoryLadder,
		OnOutput: func(line string) {
			fmt.Println(line)
		},
		Log: newLogger(),
	})

	if provisionPrepareOnly {
		if err := orch.Prepare(); err != nil {
			return err
		}
		fmt.Println("Hypervisor ready.")
		return nil
	}

	if err := orch.Run(); err != nil {
		return err
	}

	fmt.Printf("Provisioned %d %s on %s\n", len(vms),
		util.Pluralize(len(vms), "VM", "VMs"), stripUser(host))
	if orch.FallbackNetwork() {
		fmt.Println("Note: VMs are on the isolated fallback network (host networking was unavailable).")
	}
	return nil
}

// provisionTarget resolves the SSH endpoint: explicit flags first, the
// inventory's security server otherwise.
func provisionTarget(cfg *config.Config, timeout time.Duration) (string, sshutil.Options, error) {
	opts := sshutil.Options{
		User:         provisionUserFlag,
		Password:     provisionPasswordFlag,
		IdentityFile: provisionKeyFlag,
		Timeout:      timeout,
	}

	if provisionHostFlag != "" {
		return provisionHostFlag, opts, nil
	}

	addr, user, password, err := inventory.ServerCredentials(cfg.InventoryPath())
	if err != nil {
		return "", opts, err
	}
	if opts.User == "" {
		opts.User = user
	}
	if opts.Password == "" {
		opts.Password = password
	}
	return addr, opts, nil
}

// parseVMSpecs turns "name" or "name:password" arguments into specs.
func parseVMSpecs(args []string) ([]provision.VMSpec, error) {
	var vms []provision.VMSpec
	for _, arg := range args {
		name, password, _ := strings.Cut(arg, ":")
		if password == "" {
			password = provisionVMPassword
		}
		if name == "" || password == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("VM '%s' has no password", arg),
				"Pass --vm-password or use name:password form")
		}
		vms = append(vms, provision.VMSpec{Name: name, Password: password})
	}
	return vms, nil
}

// stripUser drops a user@ prefix from a host string.
func stripUser(host string) string {
	if _, rest, ok := strings.Cut(host, "@"); ok {
		return rest
	}
	return host
}

// resolvedUser is the SSH login account: an explicit option wins, then a
// user@ prefix on the host string.
func resolvedUser(host string, opts sshutil.Options) string {
	if opts.User != "" {
		return opts.User
	}
	if user, _, ok := strings.Cut(host, "@"); ok {
		return user
	}
	return ""
}
