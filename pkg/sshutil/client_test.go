package sshutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSettings_HostForms(t *testing.T) {
	// Point config resolution at an empty home so the host string is the
	// only input.
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name     string
		host     string
		opts     Options
		wantHost string
		wantPort string
		wantUser string
	}{
		{
			name:     "bare hostname",
			host:     "192.168.1.50",
			wantHost: "192.168.1.50",
			wantPort: "22",
		},
		{
			name:     "user at host",
			host:     "deploy@192.168.1.50",
			wantHost: "192.168.1.50",
			wantPort: "22",
			wantUser: "deploy",
		},
		{
			name:     "host with port",
			host:     "192.168.1.50:2222",
			wantHost: "192.168.1.50",
			wantPort: "2222",
		},
		{
			name:     "user host and port",
			host:     "deploy@kvm-host:2222",
			wantHost: "kvm-host",
			wantPort: "2222",
			wantUser: "deploy",
		},
		{
			name:     "non-numeric suffix is not a port",
			host:     "host:abc",
			wantHost: "host:abc",
			wantPort: "22",
		},
		{
			name:     "explicit options win",
			host:     "deploy@kvm-host:2222",
			opts:     Options{User: "root", Port: "22"},
			wantHost: "kvm-host",
			wantPort: "22",
			wantUser: "root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := resolveSettings(tt.host, tt.opts)

			assert.Equal(t, tt.wantHost, s.hostname)
			assert.Equal(t, tt.wantPort, s.port)
			if tt.wantUser != "" {
				assert.Equal(t, tt.wantUser, s.user)
			}
		})
	}
}

func TestBuildClientConfig_PasswordAuth(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	s := resolveSettings("admin@10.0.0.5", Options{Password: "hunter2"})
	cfg, err := buildClientConfig(s, Options{Password: "hunter2"})

	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.User)
	assert.NotEmpty(t, cfg.Auth, "password should yield at least one auth method")
	assert.NotNil(t, cfg.HostKeyCallback)
}

func TestBuildClientConfig_NoAuth(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	s := resolveSettings("10.0.0.5", Options{})
	_, err := buildClientConfig(s, Options{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "No SSH auth methods available")
}

func TestDial_UnreachableHost(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")

	// Reserved TEST-NET address, nothing listens there.
	_, err := DialWithOptions("192.0.2.1", Options{
		Password: "x",
		Timeout:  50 * time.Millisecond,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't reach")
}

func TestSettingsAddress(t *testing.T) {
	s := &settings{hostname: "kvm-host", port: "2222"}
	assert.Equal(t, "kvm-host:2222", s.address())
}
