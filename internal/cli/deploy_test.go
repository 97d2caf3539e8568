package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moat-sh/moat/internal/config"
	"github.com/moat-sh/moat/internal/engine"
	"github.com/moat-sh/moat/internal/roles"
	"github.com/moat-sh/moat/internal/runner"
	"github.com/moat-sh/moat/pkg/sshutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Ansible.Dir = filepath.Join(t.TempDir(), "ansible")
	return cfg
}

func TestPlaybookCommand(t *testing.T) {
	cfg := testConfig(t)
	cmd := playbookCommand(cfg, playbookRun{
		playbook: cfg.PlaybookPath(),
		tags:     []string{"common", "indexer"},
	})

	assert.Contains(t, cmd, "ansible-playbook -i ")
	assert.Contains(t, cmd, "hosts.ini")
	assert.Contains(t, cmd, "playbook.yml")
	assert.Contains(t, cmd, "--tags 'common,indexer'")
	assert.NotContains(t, cmd, " -v")
}

func TestPlaybookCommandVerbose(t *testing.T) {
	verboseFlag = true
	defer func() { verboseFlag = false }()

	cfg := testConfig(t)
	cmd := playbookCommand(cfg, playbookRun{playbook: cfg.PlaybookPath()})

	assert.Contains(t, cmd, " -v")
	assert.NotContains(t, cmd, "--tags")
}

func TestPlaybookCommandQuotesPaths(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ansible.Dir = filepath.Join(t.TempDir(), "my ansible")
	cmd := playbookCommand(cfg, playbookRun{playbook: cfg.PlaybookPath()})

	assert.Contains(t, cmd, "'"+cfg.PlaybookPath()+"'")
}

func TestEnabledRolesDefault(t *testing.T) {
	cfg := testConfig(t)
	resolver := roles.New(nil)

	enabled, err := enabledRoles(cfg, resolver)
	require.NoError(t, err)

	assert.False(t, enabled[roles.Cleanup])
	for _, role := range []string{roles.Common, roles.Indexer, roles.Manager, roles.Dashboard, roles.Firewall, roles.IPS} {
		assert.True(t, enabled[role], role)
	}
}

func TestEnabledRolesFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Roles.Enabled = []string{roles.Common, roles.Dashboard}
	resolver := roles.New(nil)

	enabled, err := enabledRoles(cfg, resolver)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{roles.Common: true, roles.Dashboard: true}, enabled)
}

func TestEnabledRolesFromGroupVars(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.GroupVarsPath()), 0o755))
	require.NoError(t, config.UpdateGroupVars(cfg.GroupVarsPath(), map[string]any{
		groupVarsRolesKey: []string{roles.Common, roles.Firewall},
	}))

	// Config selection must lose to the persisted group_vars one.
	cfg.Roles.Enabled = []string{roles.Dashboard}

	enabled, err := enabledRoles(cfg, roles.New(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{roles.Common: true, roles.Firewall: true}, enabled)
}

func TestSaveEnabledRolesRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, saveEnabledRoles(cfg, map[string]bool{
		roles.Indexer: true,
		roles.Manager: true,
		roles.Common:  false,
	}))

	enabled, err := enabledRoles(cfg, roles.New(nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{roles.Indexer: true, roles.Manager: true}, enabled)
}

func TestCredentialPattern(t *testing.T) {
	line := `ok: [server] => changed the admin user: "admin", "N3wP4ss!"`
	m := credentialPattern.FindStringSubmatch(line)
	require.NotNil(t, m)
	assert.Equal(t, "N3wP4ss!", m[1])

	assert.Nil(t, credentialPattern.FindStringSubmatch(`user "admin" updated`))
}

func TestParseVMSpecs(t *testing.T) {
	provisionVMPassword = "shared"
	defer func() { provisionVMPassword = "" }()

	vms, err := parseVMSpecs([]string{"agent-01", "agent-02:own"})
	require.NoError(t, err)
	require.Len(t, vms, 2)
	assert.Equal(t, "agent-01", vms[0].Name)
	assert.Equal(t, "shared", vms[0].Password)
	assert.Equal(t, "agent-02", vms[1].Name)
	assert.Equal(t, "own", vms[1].Password)
}

func TestParseVMSpecsMissingPassword(t *testing.T) {
	provisionVMPassword = ""
	_, err := parseVMSpecs([]string{"agent-01"})
	assert.Error(t, err)
}

func TestStripUser(t *testing.T) {
	assert.Equal(t, "192.168.1.50", stripUser("root@192.168.1.50"))
	assert.Equal(t, "192.168.1.50", stripUser("192.168.1.50"))
}

func TestResolvedUser(t *testing.T) {
	assert.Equal(t, "deploy", resolvedUser("192.168.1.50", sshutil.Options{User: "deploy"}))
	assert.Equal(t, "root", resolvedUser("root@192.168.1.50", sshutil.Options{}))
	assert.Equal(t, "", resolvedUser("192.168.1.50", sshutil.Options{}))
}

func TestUnknownRoleErrorSuggests(t *testing.T) {
	resolver := roles.New(roles.DefaultOrder)

	err := unknownRoleError("dashbord", resolver)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown role 'dashbord'")
	assert.Contains(t, err.Error(), "Did you mean: dashboard")

	// Nothing close: fall back to listing the known roles.
	err = unknownRoleError("nonsense", resolver)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Known roles: ")
}

func failedOutcome(exitCode int, lines ...string) *engine.Outcome {
	return &engine.Outcome{Result: &runner.Result{ExitCode: exitCode, Output: lines}}
}

func TestSurfaceBufferedOutputOnQuietFailure(t *testing.T) {
	var buf bytes.Buffer
	surfaceBufferedOutput(&buf, runner.Quiet, failedOutcome(2, "TASK [Install]", "fatal: [10.0.0.5]"))

	assert.Equal(t, "TASK [Install]\nfatal: [10.0.0.5]\n", buf.String())
}

func TestSurfaceBufferedOutputSilentCases(t *testing.T) {
	var buf bytes.Buffer

	// Success: nothing to surface.
	surfaceBufferedOutput(&buf, runner.Quiet, failedOutcome(0, "TASK [Install]"))
	assert.Empty(t, buf.String())

	// Cancelled: a user action, not a failure.
	surfaceBufferedOutput(&buf, runner.Quiet, failedOutcome(-15, "TASK [Install]"))
	assert.Empty(t, buf.String())

	// Verbose already streamed every line.
	surfaceBufferedOutput(&buf, runner.Verbose, failedOutcome(2, "TASK [Install]"))
	assert.Empty(t, buf.String())
}
