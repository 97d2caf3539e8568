package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/moat-sh/moat/internal/errors"
)

// LoadGroupVars reads the current values from group_vars/all.yml.
// A missing file yields an empty map.
func LoadGroupVars(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read "+path, "Check file permissions.")
	}

	vars := map[string]any{}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to parse "+path, "Check the file is valid YAML.")
	}
	if vars == nil {
		// A file holding just "---" decodes to a null document.
		vars = map[string]any{}
	}
	return vars, nil
}

// UpdateGroupVars merges updates into group_vars/all.yml, creating the
// file and its parents when missing. Existing keys not named in
// updates are preserved.
func UpdateGroupVars(path string, updates map[string]any) error {
	vars, err := LoadGroupVars(path)
	if err != nil {
		return err
	}
	for k, v := range updates {
		vars[k] = v
	}

	data, err := yaml.Marshal(vars)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to encode group variables", "")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to create directory for "+path, "Check directory permissions.")
	}
	if err := os.WriteFile(path, append([]byte("---\n"), data...), 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to write "+path, "Check file permissions.")
	}
	return nil
}
