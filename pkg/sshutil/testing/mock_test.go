package testing

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_RespondOrder(t *testing.T) {
	m := NewMockClient("kvm-host")

	m.Respond(`^terraform plan`, CommandResponse{Stdout: []byte("Plan: 3 to add"), ExitCode: 0})
	m.Respond(`^terraform`, CommandResponse{Stdout: []byte("generic"), ExitCode: 0})

	out, _, code, err := m.Exec("terraform plan -out=tfplan")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Plan: 3 to add", string(out))

	out, _, _, err = m.Exec("terraform init")
	require.NoError(t, err)
	assert.Equal(t, "generic", string(out))
}

func TestMockClient_RespondFunc(t *testing.T) {
	m := NewMockClient("kvm-host")

	attempts := 0
	m.RespondFunc(`terraform apply`, func(cmd string) CommandResponse {
		attempts++
		if attempts == 1 {
			return CommandResponse{Stderr: []byte("Cannot allocate memory"), ExitCode: 1}
		}
		return CommandResponse{Stdout: []byte("Apply complete!"), ExitCode: 0}
	})

	_, errOut, code, err := m.Exec("terraform apply -auto-approve tfplan")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, string(errOut), "Cannot allocate memory")

	out, _, code, err := m.Exec("terraform apply -auto-approve tfplan")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, string(out), "Apply complete!")
}

func TestMockClient_RecordsCalls(t *testing.T) {
	m := NewMockClient("kvm-host")

	m.Exec("systemctl is-active libvirtd")
	m.Exec("virsh net-list --all")

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "systemctl is-active libvirtd", calls[0])

	matched := m.CallsMatching(`^virsh`)
	require.Len(t, matched, 1)
	assert.Equal(t, "virsh net-list --all", matched[0])
}

func TestMockClient_VirtualFS(t *testing.T) {
	m := NewMockClient("kvm-host")

	_, _, code, err := m.Exec("mkdir -p /tmp/work/nested")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, _, code, _ = m.Exec("test -d /tmp/work/nested")
	assert.Equal(t, 0, code)

	_, _, code, _ = m.Exec("test -d /tmp/other")
	assert.Equal(t, 1, code)

	WithFiles(m, map[string]string{"/tmp/work/main.tf": "resource {}"})
	out, _, code, _ := m.Exec("cat /tmp/work/main.tf")
	assert.Equal(t, 0, code)
	assert.Equal(t, "resource {}", string(out))

	m.Exec("rm -rf /tmp/work")
	_, _, code, _ = m.Exec("test -f /tmp/work/main.tf")
	assert.Equal(t, 1, code)
}

func TestMockClient_Which(t *testing.T) {
	m := NewMockClient("kvm-host")

	_, _, code, _ := m.Exec("which bash")
	assert.Equal(t, 0, code)

	_, _, code, _ = m.Exec("command -v terraform")
	assert.Equal(t, 1, code, "terraform should not exist until a rule says so")

	m.Respond(`command -v terraform`, CommandResponse{Stdout: []byte("/usr/local/bin/terraform\n"), ExitCode: 0})
	_, _, code, _ = m.Exec("command -v terraform")
	assert.Equal(t, 0, code)
}

func TestMockClient_ExecStream(t *testing.T) {
	m := NewMockClient("kvm-host")
	m.Respond(`echo hello`, CommandResponse{Stdout: []byte("hello\n"), Stderr: []byte("warn\n"), ExitCode: 0})

	var stdout, stderr bytes.Buffer
	code, err := m.ExecStream("echo hello", &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", stdout.String())
	assert.Equal(t, "warn\n", stderr.String())
}

func TestMockClient_Upload(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "terraform.tfvars")
	require.NoError(t, os.WriteFile(local, []byte(`libvirt_uri = "qemu:///system"`), 0644))

	m := NewMockClient("kvm-host")
	require.NoError(t, m.Upload(local, "/tmp/moat-terraform/terraform.tfvars"))

	content, err := m.GetFS().ReadFile("/tmp/moat-terraform/terraform.tfvars")
	require.NoError(t, err)
	assert.Contains(t, string(content), "qemu:///system")

	uploads := m.Uploads()
	assert.Equal(t, local, uploads["/tmp/moat-terraform/terraform.tfvars"])
}

func TestMockClient_UploadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.tf"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "modules", "vm.tf"), []byte("b"), 0644))

	m := NewMockClient("kvm-host")
	require.NoError(t, m.UploadDir(dir, "/tmp/moat-terraform"))

	assert.True(t, m.GetFS().IsFile("/tmp/moat-terraform/main.tf"))
	assert.True(t, m.GetFS().IsFile("/tmp/moat-terraform/modules/vm.tf"))
}

func TestMockClient_Closed(t *testing.T) {
	m := NewMockClient("kvm-host")
	require.NoError(t, m.Close())

	_, _, code, err := m.Exec("uname")
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestMockFS_Basics(t *testing.T) {
	fs := NewMockFS()

	require.NoError(t, fs.MkdirAll("/a/b/c"))
	assert.True(t, fs.IsDir("/a/b"))

	assert.Error(t, fs.Mkdir("/a/b/c"), "mkdir on existing dir should fail")

	require.NoError(t, fs.WriteFile("/a/b/c/file.txt", []byte("data")))
	assert.True(t, fs.IsFile("/a/b/c/file.txt"))
	assert.False(t, fs.IsDir("/a/b/c/file.txt"))

	require.NoError(t, fs.Remove("/a/b"))
	assert.False(t, fs.Exists("/a/b/c/file.txt"))
}
