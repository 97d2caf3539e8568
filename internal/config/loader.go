package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/moat-sh/moat/internal/errors"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = ".moat.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/moat"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
)

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'moat configure' to create one, or specify a path with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. .moat.yaml in current directory
// 3. .moat.yaml in parent directories (stops at git root or home)
// 4. ~/.config/moat/config.yaml (global defaults)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	localConfig := filepath.Join(cwd, ConfigFileName)
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	home, _ := os.UserHomeDir()
	dir := cwd
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		if home != "" && parent == home {
			// Don't go above home directory
			break
		}
		dir = parent

		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at git root
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break
		}
	}

	if home != "" {
		globalConfig := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// LoadOrDefault loads config from the found path, or returns defaults
// if no config file exists anywhere on the search path.
func LoadOrDefault() (*Config, error) {
	path, err := Find("")
	if err != nil {
		return nil, err
	}

	if path == "" {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	setDefaults(v)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	// Relative paths in the file mean "next to the config file", not
	// "under whatever directory moat was invoked from".
	base := filepath.Dir(path)
	cfg.Ansible.Dir = resolvePath(base, ExpandTilde(cfg.Ansible.Dir))
	cfg.Deploy.LogDir = resolvePath(base, ExpandTilde(cfg.Deploy.LogDir))
	cfg.Provision.TerraformDir = resolvePath(base, ExpandTilde(cfg.Provision.TerraformDir))

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ansible.dir", "ansible")
	v.SetDefault("ansible.playbook", "playbook.yml")
	v.SetDefault("ansible.inventory", "inventory/hosts.ini")
	v.SetDefault("ansible.config_file", "ansible.cfg")
	v.SetDefault("ansible.roles_path", "roles")
	v.SetDefault("ansible.group_vars", "inventory/group_vars/all.yml")
	v.SetDefault("deploy.task_estimate", 60)
	v.SetDefault("deploy.log_dir", "logs")
	v.SetDefault("deploy.tail", 100)
	v.SetDefault("provision.terraform_dir", "terraform")
	v.SetDefault("output.color", "auto")
	v.SetDefault("output.verbosity", "normal")
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
