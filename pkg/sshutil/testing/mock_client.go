package testing

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// CommandResponse defines a canned response for a command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
}

// rule binds a regex pattern to either a fixed response or a responder
// function invoked with the matched command.
type rule struct {
	pattern *regexp.Regexp
	resp    CommandResponse
	fn      func(cmd string) CommandResponse
}

// MockClient simulates an SSH connection for testing provisioning logic.
// Commands are matched against registered rules in registration order;
// unmatched commands fall through to a small virtual filesystem that
// understands mkdir, cat, rm, test, which, and command -v.
type MockClient struct {
	mu      sync.Mutex
	host    string
	address string
	fs      *MockFS
	closed  bool
	rules   []rule
	calls   []string
	uploads map[string]string // remote path -> local path
}

// NewMockClient creates a new mock SSH client with an empty filesystem.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:    host,
		address: host + ":22",
		fs:      NewMockFS(),
		uploads: make(map[string]string),
	}
}

// Respond registers a fixed response for commands matching pattern.
// Patterns are tried in registration order; first match wins.
func (m *MockClient) Respond(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{pattern: regexp.MustCompile(pattern), resp: resp})
}

// RespondFunc registers a responder function for commands matching pattern.
func (m *MockClient) RespondFunc(pattern string, fn func(cmd string) CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{pattern: regexp.MustCompile(pattern), fn: fn})
}

// Calls returns every command executed so far, in order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsMatching returns executed commands that match the given pattern.
func (m *MockClient) CallsMatching(pattern string) []string {
	re := regexp.MustCompile(pattern)
	var out []string
	for _, c := range m.Calls() {
		if re.MatchString(c) {
			out = append(out, c)
		}
	}
	return out
}

// Exec runs a command against the registered rules or the virtual filesystem.
func (m *MockClient) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil, nil, -1, errors.New("connection closed")
	}

	m.calls = append(m.calls, cmd)

	for _, r := range m.rules {
		if r.pattern.MatchString(cmd) {
			resp := r.resp
			fn := r.fn
			m.mu.Unlock()
			if fn != nil {
				resp = fn(cmd)
			}
			return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
		}
	}
	m.mu.Unlock()

	return m.parseAndExecute(cmd)
}

// ExecStream runs a command and writes output to the provided writers.
func (m *MockClient) ExecStream(cmd string, stdout, stderr io.Writer) (exitCode int, err error) {
	out, errOut, code, execErr := m.Exec(cmd)
	if execErr != nil {
		return -1, execErr
	}

	if stdout != nil && len(out) > 0 {
		stdout.Write(out)
	}
	if stderr != nil && len(errOut) > 0 {
		stderr.Write(errOut)
	}

	return code, nil
}

// Upload records the transfer and stores the local file's content in the
// virtual filesystem at the remote path.
func (m *MockClient) Upload(localPath, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.uploads[remotePath] = localPath
	return m.fs.WriteFile(remotePath, content)
}

// UploadDir records and stores every file under localDir.
func (m *MockClient) UploadDir(localDir, remoteDir string) error {
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remote := filepath.ToSlash(filepath.Join(remoteDir, rel))
		if info.IsDir() {
			return m.fs.MkdirAll(remote)
		}
		return m.Upload(p, remote)
	})
}

// Uploads returns the remote paths that have been uploaded to.
func (m *MockClient) Uploads() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.uploads))
	for k, v := range m.uploads {
		out[k] = v
	}
	return out
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// GetFS returns the mock filesystem for direct manipulation in tests.
func (m *MockClient) GetFS() *MockFS {
	return m.fs
}

// parseAndExecute handles common shell commands against the virtual fs.
func (m *MockClient) parseAndExecute(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	cmd = strings.TrimSuffix(cmd, " 2>/dev/null")
	cmd = strings.TrimSuffix(cmd, " 2>&1")
	cmd = strings.TrimSpace(cmd)

	switch {
	case strings.HasPrefix(cmd, "mkdir "):
		return m.handleMkdir(cmd)
	case strings.HasPrefix(cmd, "cat "):
		return m.handleCatRead(cmd)
	case strings.HasPrefix(cmd, "rm -rf "):
		path := extractPath(strings.TrimPrefix(cmd, "rm -rf "))
		_ = m.fs.Remove(path)
		return nil, nil, 0, nil
	case strings.HasPrefix(cmd, "test -d "), strings.HasPrefix(cmd, "[ -d "):
		return m.handleTestDir(cmd)
	case strings.HasPrefix(cmd, "test -f "), strings.HasPrefix(cmd, "[ -f "):
		return m.handleTestFile(cmd)
	case strings.HasPrefix(cmd, "which "), strings.HasPrefix(cmd, "command -v "):
		return m.handleWhich(cmd)
	}

	// Unknown command succeeds by default; tests register rules for
	// anything whose outcome matters.
	return nil, nil, 0, nil
}

func (m *MockClient) handleMkdir(cmd string) ([]byte, []byte, int, error) {
	args := strings.TrimSpace(strings.TrimPrefix(cmd, "mkdir "))

	createParents := false
	if strings.HasPrefix(args, "-p ") {
		createParents = true
		args = strings.TrimSpace(strings.TrimPrefix(args, "-p "))
	}

	path := extractPath(args)
	if path == "" {
		return nil, []byte("mkdir: missing operand"), 1, nil
	}

	if createParents {
		if err := m.fs.MkdirAll(path); err != nil {
			return nil, []byte("mkdir: cannot create directory: " + err.Error()), 1, nil
		}
		return nil, nil, 0, nil
	}

	if err := m.fs.Mkdir(path); err != nil {
		return nil, []byte("mkdir: cannot create directory: " + err.Error()), 1, nil
	}
	return nil, nil, 0, nil
}

func (m *MockClient) handleCatRead(cmd string) ([]byte, []byte, int, error) {
	path := extractPath(strings.TrimPrefix(cmd, "cat "))
	if path == "" {
		return nil, []byte("cat: missing file operand"), 1, nil
	}

	content, err := m.fs.ReadFile(path)
	if err != nil {
		return nil, []byte("cat: " + path + ": No such file or directory"), 1, nil
	}
	return content, nil, 0, nil
}

func (m *MockClient) handleTestDir(cmd string) ([]byte, []byte, int, error) {
	var path string
	if strings.HasPrefix(cmd, "test -d ") {
		path = extractPath(strings.TrimPrefix(cmd, "test -d "))
	} else {
		path = extractPath(strings.TrimPrefix(strings.TrimSuffix(cmd, " ]"), "[ -d "))
	}

	if m.fs.IsDir(path) {
		return nil, nil, 0, nil
	}
	return nil, nil, 1, nil
}

func (m *MockClient) handleTestFile(cmd string) ([]byte, []byte, int, error) {
	var path string
	if strings.HasPrefix(cmd, "test -f ") {
		path = extractPath(strings.TrimPrefix(cmd, "test -f "))
	} else {
		path = extractPath(strings.TrimPrefix(strings.TrimSuffix(cmd, " ]"), "[ -f "))
	}

	if m.fs.IsFile(path) {
		return nil, nil, 0, nil
	}
	return nil, nil, 1, nil
}

func (m *MockClient) handleWhich(cmd string) ([]byte, []byte, int, error) {
	name := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(cmd, "which "), "command -v "))

	knownCommands := map[string]string{
		"bash":  "/bin/bash",
		"sh":    "/bin/sh",
		"cat":   "/bin/cat",
		"mkdir": "/bin/mkdir",
		"rm":    "/bin/rm",
		"sed":   "/bin/sed",
	}

	if path, ok := knownCommands[name]; ok {
		return []byte(path + "\n"), nil, 0, nil
	}

	return nil, nil, 1, nil
}

// extractPath extracts a path from a command argument, handling both
// quoted and unquoted forms.
func extractPath(arg string) string {
	arg = strings.TrimSpace(arg)

	if strings.HasPrefix(arg, "\"") {
		if endQuote := strings.Index(arg[1:], "\""); endQuote != -1 {
			return arg[1 : endQuote+1]
		}
	}
	if strings.HasPrefix(arg, "'") {
		if endQuote := strings.Index(arg[1:], "'"); endQuote != -1 {
			return arg[1 : endQuote+1]
		}
	}

	parts := strings.Fields(arg)
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}
