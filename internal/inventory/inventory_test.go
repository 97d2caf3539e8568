package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInventory = `[security_server]
192.168.1.50 ansible_user=deploy ansible_password=s3cret ansible_become_password=s3cret

[agents]
10.0.0.5 ansible_user=agent ansible_ssh_private_key_file=/home/agent/.ssh/id_rsa
10.0.0.6
`

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	inv, err := Load(writeInventory(t, sampleInventory))
	require.NoError(t, err)

	require.NotNil(t, inv.Server)
	assert.Equal(t, "192.168.1.50", inv.Server.Address)
	assert.Equal(t, "deploy", inv.Server.User)
	assert.Equal(t, "s3cret", inv.Server.Password)

	require.Len(t, inv.Agents, 2)
	assert.Equal(t, "10.0.0.5", inv.Agents[0].Address)
	assert.Equal(t, "agent", inv.Agents[0].User)
	assert.Equal(t, "/home/agent/.ssh/id_rsa", inv.Agents[0].PrivateKeyFile)
	assert.Equal(t, "10.0.0.6", inv.Agents[1].Address)
	assert.Empty(t, inv.Agents[1].User)
}

func TestLoadMissingFile(t *testing.T) {
	inv, err := Load(filepath.Join(t.TempDir(), "hosts.ini"))
	require.NoError(t, err)
	assert.Nil(t, inv.Server)
	assert.Empty(t, inv.Agents)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory", "hosts.ini")
	in := &Inventory{
		Server: &Host{Address: "192.168.1.50", User: "deploy", Password: "pw"},
		Agents: []Host{
			{Address: "10.0.0.5", User: "agent", PrivateKeyFile: "/tmp/key"},
			{Address: "10.0.0.6"},
		},
	}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, out.Server)
	assert.Equal(t, *in.Server, *out.Server)
	assert.Equal(t, in.Agents, out.Agents)
}

func TestSaveWritesBecomePassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.ini")
	require.NoError(t, Save(path, &Inventory{
		Server: &Host{Address: "192.168.1.50", User: "deploy", Password: "pw"},
	}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "ansible_become_password=pw")
}

func TestServerCredentials(t *testing.T) {
	path := writeInventory(t, sampleInventory)
	addr, user, pass, err := ServerCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", addr)
	assert.Equal(t, "deploy", user)
	assert.Equal(t, "s3cret", pass)
}

func TestServerCredentialsDefaultsUser(t *testing.T) {
	path := writeInventory(t, "[security_server]\n192.168.1.50 ansible_password=pw\n")
	_, user, _, err := ServerCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", user)
}

func TestServerCredentialsMissingServer(t *testing.T) {
	path := writeInventory(t, "[agents]\n10.0.0.5\n")
	_, _, _, err := ServerCredentials(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No security server")
}
