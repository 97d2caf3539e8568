package config

import "path/filepath"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete .moat.yaml configuration file.
type Config struct {
	Version   int             `yaml:"version" mapstructure:"version"`
	Ansible   AnsibleConfig   `yaml:"ansible" mapstructure:"ansible"`
	Deploy    DeployConfig    `yaml:"deploy" mapstructure:"deploy"`
	Provision ProvisionConfig `yaml:"provision" mapstructure:"provision"`
	Roles     RolesConfig     `yaml:"roles" mapstructure:"roles"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
}

// AnsibleConfig locates the ansible tree the deploy engine drives.
// Relative paths are resolved against the config file's directory.
type AnsibleConfig struct {
	// Dir is the root of the ansible tree.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Playbook is the entry playbook, relative to Dir.
	Playbook string `yaml:"playbook" mapstructure:"playbook"`

	// Inventory is the hosts.ini path, relative to Dir.
	Inventory string `yaml:"inventory" mapstructure:"inventory"`

	// ConfigFile is the ansible.cfg injected via environment.
	ConfigFile string `yaml:"config_file" mapstructure:"config_file"`

	// RolesPath is the roles search path injected via environment.
	RolesPath string `yaml:"roles_path" mapstructure:"roles_path"`

	// GroupVars is the group_vars/all.yml the configure wizard edits.
	GroupVars string `yaml:"group_vars" mapstructure:"group_vars"`
}

// DeployConfig tunes the deploy run itself.
type DeployConfig struct {
	// TaskEstimate feeds the progress bar; the true task count is
	// unknown ahead of time so display clamps at 100%.
	TaskEstimate int `yaml:"task_estimate" mapstructure:"task_estimate"`

	// LogDir receives one timestamped raw log per run.
	LogDir string `yaml:"log_dir" mapstructure:"log_dir"`

	// Quiet suppresses line echo unless the run fails.
	Quiet bool `yaml:"quiet" mapstructure:"quiet"`

	// Tail is how many recent output lines the live view keeps.
	Tail int `yaml:"tail" mapstructure:"tail"`
}

// ProvisionConfig tunes the remote VM provisioning workflow.
type ProvisionConfig struct {
	// TerraformDir is where generated terraform files are written.
	TerraformDir string `yaml:"terraform_dir" mapstructure:"terraform_dir"`

	// MemoryLadder overrides the descending guest-memory retry sizes.
	MemoryLadder []int `yaml:"memory_ladder" mapstructure:"memory_ladder"`
}

// RolesConfig controls role selection and ordering.
type RolesConfig struct {
	// Order replaces the built-in fixed execution order when set.
	Order []string `yaml:"order" mapstructure:"order"`

	// Enabled is the persisted role selection.
	Enabled []string `yaml:"enabled" mapstructure:"enabled"`
}

// OutputConfig controls terminal output formatting.
type OutputConfig struct {
	// Color mode: "auto", "always", or "never".
	Color string `yaml:"color" mapstructure:"color"`

	// Verbosity level: "quiet", "normal", or "verbose".
	Verbosity string `yaml:"verbosity" mapstructure:"verbosity"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Ansible: AnsibleConfig{
			Dir:        "ansible",
			Playbook:   "playbook.yml",
			Inventory:  "inventory/hosts.ini",
			ConfigFile: "ansible.cfg",
			RolesPath:  "roles",
			GroupVars:  "inventory/group_vars/all.yml",
		},
		Deploy: DeployConfig{
			TaskEstimate: 60,
			LogDir:       "logs",
			Tail:         100,
		},
		Provision: ProvisionConfig{
			TerraformDir: "terraform",
		},
		Output: OutputConfig{
			Color:     "auto",
			Verbosity: "normal",
		},
	}
}

// PlaybookPath returns the absolute playbook path.
func (c *Config) PlaybookPath() string { return c.ansiblePath(c.Ansible.Playbook) }

// InventoryPath returns the absolute hosts.ini path.
func (c *Config) InventoryPath() string { return c.ansiblePath(c.Ansible.Inventory) }

// AnsibleConfigPath returns the absolute ansible.cfg path.
func (c *Config) AnsibleConfigPath() string { return c.ansiblePath(c.Ansible.ConfigFile) }

// RolesPath returns the absolute roles search path.
func (c *Config) RolesPath() string { return c.ansiblePath(c.Ansible.RolesPath) }

// GroupVarsPath returns the absolute group_vars/all.yml path.
func (c *Config) GroupVarsPath() string { return c.ansiblePath(c.Ansible.GroupVars) }

func (c *Config) ansiblePath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Ansible.Dir, rel)
}
