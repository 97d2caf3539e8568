// Package provision drives VM provisioning on a remote hypervisor host
// over SSH. The workflow is a linear sequence of idempotent steps
// (install tooling, configure libvirt, set up networking) followed by a
// terraform init/plan/apply of the generated configuration, with an
// automatic memory retry ladder for hosts that cannot allocate the
// requested guest RAM.
package provision

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/logger"
	"github.com/moat-sh/moat/internal/util"
	"github.com/moat-sh/moat/pkg/sshutil"
)

const (
	terraformVersion = "1.5.7"

	// remoteDirPrefix is where provisioning files land on the target.
	// The PID suffix keeps concurrent runs from different machines
	// from clobbering each other.
	remoteDirPrefix = "/tmp/moat-terraform-"

	remoteSetupScript = "/tmp/moat-libvirt-setup.sh"

	// fallbackNetworkMarker is printed by the setup script when the
	// default libvirt network cannot start and the isolated fallback
	// network was defined instead.
	fallbackNetworkMarker = "FALLBACK_MOAT_NETWORK"

	// fallbackNetworkName is the isolated network used when the
	// default NAT network conflicts with the host's own bridge setup.
	fallbackNetworkName = "moat"
)

// DefaultMemoryLadder is the descending sequence of guest memory sizes
// (MB) tried when terraform apply fails with a memory allocation error.
var DefaultMemoryLadder = []int{512, 256}

var memorySignatures = []string{
	"Cannot allocate memory",
	"cannot set up guest memory",
}

var domainResourceRe = regexp.MustCompile(`resource\s+"libvirt_domain"\s+"([^"]+)"`)

// Options configures a provisioning run.
type Options struct {
	// TerraformDir is the local directory holding the generated
	// main.tf, terraform.tfvars and cloud_init.cfg.
	TerraformDir string

	// User is the login account on the target host. It is the account
	// added to the libvirt and kvm groups; the host string cannot carry
	// it when the target comes from an inventory. Defaults to ubuntu.
	User string

	// MemoryLadder overrides DefaultMemoryLadder.
	MemoryLadder []int

	// StabilizeDelay is how long to wait after network setup before
	// running terraform, giving libvirtd time to settle. Defaults to
	// five seconds.
	StabilizeDelay time.Duration

	// OnOutput receives progress lines for display. May be nil.
	OnOutput func(line string)

	Log logger.Logger
}

// Orchestrator runs the provisioning workflow against one host.
type Orchestrator struct {
	client      sshutil.SSHClient
	opts        Options
	log         logger.Logger
	remoteDir   string
	fallbackNet bool
}

// New creates an orchestrator bound to an established SSH client. The
// caller retains ownership of the client and closes it after the run.
func New(client sshutil.SSHClient, opts Options) *Orchestrator {
	if opts.MemoryLadder == nil {
		opts.MemoryLadder = DefaultMemoryLadder
	}
	if opts.StabilizeDelay == 0 {
		opts.StabilizeDelay = 5 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logger.Default()
	}
	return &Orchestrator{
		client:    client,
		opts:      opts,
		log:       log,
		remoteDir: fmt.Sprintf("%s%d", remoteDirPrefix, os.Getpid()),
	}
}

// RemoteDir returns the working directory used on the target host.
func (o *Orchestrator) RemoteDir() string { return o.remoteDir }

// FallbackNetwork reports whether Prepare fell back to the isolated
// network because the default libvirt network could not start.
func (o *Orchestrator) FallbackNetwork() bool { return o.fallbackNet }

// Run executes the full workflow: host preparation followed by upload
// and terraform apply.
func (o *Orchestrator) Run() error {
	if err := o.Prepare(); err != nil {
		return err
	}
	return o.Apply()
}

// Prepare brings the target host to a state where terraform can talk
// to a local libvirt daemon: tooling installed, daemon running, user in
// the right groups, virtual network defined and active.
func (o *Orchestrator) Prepare() error {
	return o.runSteps([]Step{
		{
			Name: "terraform",
			Probe: func(c sshutil.SSHClient) (bool, error) {
				_, _, code, err := c.Exec("command -v terraform")
				return err == nil && code == 0, nil
			},
			Run: func(c sshutil.SSHClient) error {
				_, err := o.exec("terraform install", fmt.Sprintf(
					"sudo apt-get update && sudo apt-get install -y unzip && "+
						"wget https://releases.hashicorp.com/terraform/%[1]s/terraform_%[1]s_linux_amd64.zip && "+
						"unzip terraform_%[1]s_linux_amd64.zip && sudo mv terraform /usr/local/bin/ && "+
						"rm terraform_%[1]s_linux_amd64.zip", terraformVersion))
				return err
			},
			// The binary may already be on PATH in a way the probe
			// missed; terraform init will fail loudly if not.
			Optional: true,
		},
		{
			Name: "apt repair",
			Run: func(c sshutil.SSHClient) error {
				_, err := o.exec("apt repair",
					"sudo dpkg --configure -a && sudo rm -f /var/lib/apt/lists/* && sudo apt-get update || true")
				return err
			},
			Optional: true,
		},
		{
			Name: "libvirt packages",
			Probe: func(c sshutil.SSHClient) (bool, error) {
				stdout, _, code, err := c.Exec("systemctl list-unit-files | grep libvirtd")
				return err == nil && code == 0 && strings.Contains(string(stdout), "libvirtd"), nil
			},
			Run: func(c sshutil.SSHClient) error {
				_, err := o.exec("libvirt install",
					"sudo apt-get update && sudo apt-get install -y libvirt-daemon libvirt-daemon-system "+
						"libvirt-clients qemu-system-x86 qemu-kvm libvirt-daemon-driver-qemu virt-manager "+
						"--no-install-recommends")
				return err
			},
		},
		{
			Name: "libvirtd service",
			Probe: func(c sshutil.SSHClient) (bool, error) {
				stdout, _, code, err := c.Exec("sudo systemctl is-active libvirtd")
				return err == nil && code == 0 && strings.Contains(string(stdout), "active"), nil
			},
			Run: func(c sshutil.SSHClient) error {
				_, err := o.exec("libvirtd start",
					"sudo systemctl start libvirtd && sudo systemctl enable libvirtd")
				return err
			},
			Optional: true,
		},
		{
			Name: "group membership",
			Run: func(c sshutil.SSHClient) error {
				user := util.ShellQuote(o.remoteUser())
				_, err := o.exec("usermod", fmt.Sprintf(
					"sudo usermod -a -G libvirt %s && sudo usermod -a -G kvm %s", user, user))
				return err
			},
			Optional: true,
		},
		{
			// Socket permissions only pick up new group membership
			// after a daemon restart.
			Name: "libvirtd restart",
			Run: func(c sshutil.SSHClient) error {
				_, err := o.exec("libvirtd restart", "sudo systemctl restart libvirtd && sleep 2")
				return err
			},
			Optional: true,
		},
		{
			Name: "socket check",
			Run: func(c sshutil.SSHClient) error {
				out, err := o.exec("socket check",
					`test -S /var/run/libvirt/libvirt-sock && echo "socket accessible" || (ls -la /var/run/libvirt/ && id)`)
				o.report(strings.TrimSpace(out))
				return err
			},
			Optional: true,
		},
		{
			Name: "genisoimage",
			Probe: func(c sshutil.SSHClient) (bool, error) {
				_, _, code, err := c.Exec("which mkisofs")
				return err == nil && code == 0, nil
			},
			Run: func(c sshutil.SSHClient) error {
				// Cloud-init ISOs cannot be built without mkisofs, so
				// this one is fatal.
				out, err := o.exec("genisoimage install",
					"sudo apt-get update -qq && sudo apt-get install -y genisoimage && which mkisofs")
				if err != nil {
					return err
				}
				if !strings.Contains(out, "mkisofs") {
					return errors.New(errors.ErrProvision,
						"genisoimage installed but mkisofs not found on PATH",
						"Install genisoimage manually on the target host.")
				}
				return nil
			},
		},
		{
			Name: "libvirt network",
			Run:  o.setupNetwork,
		},
	})
}

// setupNetwork uploads and runs the libvirt setup script, then makes
// sure a virtual network is actually active. When the default network
// cannot start (typically because the host's uplink already owns the
// bridge), the script defines an isolated fallback network and the rest
// of the run targets that instead.
func (o *Orchestrator) setupNetwork(c sshutil.SSHClient) error {
	local, err := os.CreateTemp("", "moat-libvirt-setup-*.sh")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision,
			"Failed to write libvirt setup script", "Check free space in the temp directory.")
	}
	defer os.Remove(local.Name())
	if _, err := local.WriteString(libvirtSetupScript); err != nil {
		local.Close()
		return errors.WrapWithCode(err, errors.ErrProvision,
			"Failed to write libvirt setup script", "Check free space in the temp directory.")
	}
	local.Close()

	if err := c.Upload(local.Name(), remoteSetupScript); err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision,
			"Failed to upload libvirt setup script", "Check SSH connectivity to the target host.")
	}

	out, err := o.exec("libvirt setup", "sudo bash "+remoteSetupScript)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			o.report(line)
		}
	}
	if err != nil {
		return err
	}

	if strings.Contains(out, fallbackNetworkMarker) {
		o.fallbackNet = true
		o.log.Info("default libvirt network unavailable, using fallback network %q", fallbackNetworkName)
		return nil
	}
	return o.ensureDefaultNetworkActive()
}

// ensureDefaultNetworkActive force-activates the default network if it
// is still inactive after setup. Terraform will fail on an inactive
// network, so one daemon restart is worth trying.
func (o *Orchestrator) ensureDefaultNetworkActive() error {
	out, _ := o.networkInfo()
	if networkActive(out) {
		return nil
	}

	o.report("[libvirt network] default network inactive, forcing activation")
	_, _ = o.exec("network activation",
		"sudo systemctl restart libvirtd && sleep 3 && "+
			"sudo virsh -c qemu:///system net-start default 2>&1 || true")

	out, _ = o.networkInfo()
	if !networkActive(out) {
		o.log.Warn("default network still inactive after force activation; terraform may fail")
		o.report("[libvirt network] warning: default network still inactive")
	}
	return nil
}

func (o *Orchestrator) networkInfo() (string, error) {
	stdout, stderr, _, err := o.client.Exec("sudo virsh -c qemu:///system net-info default 2>&1")
	return combineOutput(stdout, stderr), err
}

func networkActive(netInfo string) bool {
	if strings.Contains(netInfo, "Active:         no") {
		return false
	}
	return !strings.Contains(strings.ToLower(netInfo), "inactive")
}

// Apply uploads the local terraform directory and runs init, plan and
// apply on the target. A memory allocation failure during apply walks
// the memory ladder: rewrite every domain's memory downward, re-plan,
// re-apply, stop at the first success or when the ladder is exhausted.
func (o *Orchestrator) Apply() error {
	dir := util.ShellQuote(o.remoteDir)

	if _, err := o.exec("mkdir", "mkdir -p "+dir); err != nil {
		return err
	}
	if err := o.client.UploadDir(o.opts.TerraformDir, o.remoteDir); err != nil {
		return errors.WrapWithCode(err, errors.ErrProvision,
			"Failed to upload terraform files to "+o.client.GetHost(),
			"Check SSH connectivity and free space on the target host.")
	}

	if o.fallbackNet {
		o.report(fmt.Sprintf("[terraform] rewriting network_name to %q", fallbackNetworkName))
		if _, err := o.exec("network rewrite", fmt.Sprintf(
			`sed -i 's/network_name\s*=\s*"default"/network_name = "%s"/g' %s/main.tf`,
			fallbackNetworkName, dir)); err != nil {
			return err
		}
	}

	// The generated tfvars points libvirt at the host over SSH; on the
	// host itself the local socket is both faster and avoids nesting
	// SSH inside SSH.
	if _, err := o.exec("tfvars rewrite", fmt.Sprintf(
		`printf 'libvirt_uri = "qemu:///system"\n' > %s/terraform.tfvars`, dir)); err != nil {
		return err
	}

	time.Sleep(o.opts.StabilizeDelay)

	if err := o.cleanupConflictingDomains(); err != nil {
		return err
	}

	o.report("[terraform] init")
	if _, err := o.exec("terraform init", fmt.Sprintf("cd %s && terraform init", dir)); err != nil {
		return err
	}

	o.report("[terraform] plan")
	if _, err := o.exec("terraform plan", fmt.Sprintf("cd %s && terraform plan -out=tfplan", dir)); err != nil {
		return err
	}

	o.report("[terraform] apply")
	out, err := o.exec("terraform apply", fmt.Sprintf("cd %s && terraform apply -auto-approve tfplan", dir))
	if err == nil {
		o.report("[terraform] apply completed")
		return nil
	}
	if !memoryFailure(out + err.Error()) {
		return err
	}
	return o.retryWithLowerMemory(dir)
}

// retryWithLowerMemory walks the descending memory ladder after a
// memory allocation failure. Recovery is contained here: the caller
// only sees a failure once every candidate has been tried.
func (o *Orchestrator) retryWithLowerMemory(dir string) error {
	for _, mem := range o.opts.MemoryLadder {
		o.report(fmt.Sprintf("[terraform] low memory on host, retrying with memory=%d MB", mem))
		if _, err := o.exec("memory rewrite", fmt.Sprintf(
			`sed -ri "s/^[[:space:]]*memory[[:space:]]*=[[:space:]]*[0-9]+/  memory    = %d/g" %s/main.tf`,
			mem, dir)); err != nil {
			continue
		}
		if _, err := o.exec("terraform plan", fmt.Sprintf("cd %s && terraform plan -out=tfplan", dir)); err != nil {
			o.log.Warn("retry plan failed: %v", err)
			continue
		}
		out, err := o.exec("terraform apply", fmt.Sprintf("cd %s && terraform apply -auto-approve tfplan", dir))
		if err == nil {
			o.report("[terraform] apply succeeded after lowering memory")
			return nil
		}
		if !memoryFailure(out + err.Error()) {
			return err
		}
	}
	return errors.New(errors.ErrProvision,
		"terraform apply failed: insufficient RAM on "+o.client.GetHost()+" (memory retries exhausted)",
		"Free memory on the target host or provision fewer VMs.")
}

// cleanupConflictingDomains destroys and undefines any remote domain
// sharing a name with one we are about to create, so leftovers from a
// previous partial run cannot collide.
func (o *Orchestrator) cleanupConflictingDomains() error {
	names, err := domainNames(o.opts.TerraformDir + "/main.tf")
	if err != nil {
		o.log.Warn("could not extract VM names for cleanup: %v", err)
		return nil
	}
	for _, name := range names {
		q := util.ShellQuote(name)
		_, _ = o.exec("domain cleanup", fmt.Sprintf(
			"sudo virsh -c qemu:///system destroy %s 2>/dev/null || true; "+
				"sudo virsh -c qemu:///system undefine %s --remove-all-storage 2>/dev/null || true", q, q))
		o.report("[terraform] cleaned up domain " + name)
	}
	return nil
}

// domainNames extracts libvirt_domain resource names from a main.tf.
func domainNames(mainTF string) ([]string, error) {
	content, err := os.ReadFile(mainTF)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, m := range domainResourceRe.FindAllStringSubmatch(string(content), -1) {
		names = append(names, m[1])
	}
	return names, nil
}

func memoryFailure(out string) bool {
	for _, sig := range memorySignatures {
		if strings.Contains(out, sig) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) report(line string) {
	if o.opts.OnOutput != nil && line != "" {
		o.opts.OnOutput(line)
	}
}

// remoteUser is the account whose group membership the workflow fixes
// up, falling back to ubuntu when the caller resolved no user.
func (o *Orchestrator) remoteUser() string {
	if o.opts.User != "" {
		return o.opts.User
	}
	return "ubuntu"
}
