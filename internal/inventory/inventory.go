// Package inventory reads and writes the ansible hosts.ini inventory.
// The format is ansible's INI dialect: each line in a group section is
// a host address followed by space-separated connection variables, so
// the file is parsed with a space key/value delimiter rather than "=".
package inventory

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/moat-sh/moat/internal/errors"
)

const (
	// SectionServer holds the single security server host.
	SectionServer = "security_server"
	// SectionAgents holds the monitored agent hosts.
	SectionAgents = "agents"

	defaultUser = "ubuntu"
)

// Host is one inventory entry with its ansible connection variables.
type Host struct {
	Address        string
	User           string
	Password       string
	PrivateKeyFile string
}

// Inventory is the parsed hosts.ini: one server, any number of agents.
type Inventory struct {
	Server *Host
	Agents []Host
}

func loadOptions() ini.LoadOptions {
	return ini.LoadOptions{
		KeyValueDelimiters:       " ",
		KeyValueDelimiterOnWrite: " ",
		AllowBooleanKeys:         true,
		// Passwords may contain # or ; so inline comments are off.
		IgnoreInlineComment: true,
	}
}

// Load parses the inventory file. A missing file is not an error: it
// returns an empty inventory so callers can treat "not configured yet"
// and "configured with no hosts" the same way.
func Load(path string) (*Inventory, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Inventory{}, nil
	}

	cfg, err := ini.LoadSources(loadOptions(), path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to parse inventory "+path,
			"Check the file for malformed section headers or host lines.")
	}

	inv := &Inventory{}
	for _, key := range cfg.Section(SectionServer).Keys() {
		h := parseHost(key.Name(), key.Value())
		inv.Server = &h
	}
	for _, key := range cfg.Section(SectionAgents).Keys() {
		inv.Agents = append(inv.Agents, parseHost(key.Name(), key.Value()))
	}
	return inv, nil
}

// Save writes the inventory, creating parent directories as needed.
// Password hosts also get ansible_become_password so privilege
// escalation works without a second prompt.
func Save(path string, inv *Inventory) error {
	// Aligned output would indent host lines, which ansible's INI
	// parser tolerates but humans editing the file do not expect.
	ini.PrettyFormat = false

	cfg := ini.Empty(loadOptions())

	server, err := cfg.NewSection(SectionServer)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to build inventory", "")
	}
	if inv.Server != nil {
		if err := setHost(server, *inv.Server); err != nil {
			return err
		}
	}

	agents, err := cfg.NewSection(SectionAgents)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to build inventory", "")
	}
	for _, h := range inv.Agents {
		if err := setHost(agents, h); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to create inventory directory", "Check directory permissions.")
	}
	if err := cfg.SaveTo(path); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to write inventory "+path, "Check directory permissions.")
	}
	return nil
}

// ServerCredentials returns the server's address, user and password
// for provisioning. The user defaults to ubuntu when the inventory
// does not name one.
func ServerCredentials(path string) (address, user, password string, err error) {
	inv, err := Load(path)
	if err != nil {
		return "", "", "", err
	}
	if inv.Server == nil {
		return "", "", "", errors.New(errors.ErrConfig,
			"No security server configured in "+path,
			"Run 'moat configure' to set up the inventory.")
	}
	user = inv.Server.User
	if user == "" {
		user = defaultUser
	}
	return inv.Server.Address, user, inv.Server.Password, nil
}

func parseHost(address, vars string) Host {
	h := Host{Address: address}
	for _, field := range strings.Fields(vars) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "ansible_user":
			h.User = v
		case "ansible_password", "ansible_ssh_pass":
			h.Password = v
		case "ansible_ssh_private_key_file":
			h.PrivateKeyFile = v
		}
	}
	return h
}

func setHost(sec *ini.Section, h Host) error {
	vars := hostVars(h)
	if vars == "" {
		_, err := sec.NewBooleanKey(h.Address)
		return err
	}
	_, err := sec.NewKey(h.Address, vars)
	return err
}

func hostVars(h Host) string {
	var parts []string
	if h.User != "" {
		parts = append(parts, "ansible_user="+h.User)
	}
	if h.Password != "" {
		parts = append(parts, "ansible_password="+h.Password)
		parts = append(parts, "ansible_become_password="+h.Password)
	}
	if h.PrivateKeyFile != "" {
		parts = append(parts, "ansible_ssh_private_key_file="+h.PrivateKeyFile)
	}
	return strings.Join(parts, " ")
}
