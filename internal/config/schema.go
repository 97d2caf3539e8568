package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/moat-sh/moat/internal/errors"
)

// Schema describes the deployment variables the configure wizard
// offers and how to validate them. It is loaded from config.schema.yml
// next to the ansible tree.
type Schema struct {
	Variables []Variable `yaml:"variables"`
}

// Variable is one schema-driven deployment variable.
type Variable struct {
	Name          string     `yaml:"name"`
	Type          string     `yaml:"type"` // string, integer, boolean, list
	Description   string     `yaml:"description"`
	Category      string     `yaml:"category"`
	Default       any        `yaml:"default"`
	Secret        bool       `yaml:"secret"`
	AllowedValues []string   `yaml:"allowed_values"`
	Validation    Validation `yaml:"validation"`
}

// Validation holds the optional per-variable constraints.
type Validation struct {
	Min   *int   `yaml:"min"`
	Max   *int   `yaml:"max"`
	Regex string `yaml:"regex"`
}

// Category groups variables for display, preserving schema order.
type Category struct {
	Name      string
	Variables []Variable
}

// LoadSchema reads and parses a config.schema.yml.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Schema file not found at "+path,
			"The variable schema ships with the ansible tree; check the ansible.dir setting.")
	}

	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to parse schema "+path, "Check the file is valid YAML.")
	}
	return &s, nil
}

// Categories returns variables grouped by category in order of first
// appearance. Variables without a category land in "Uncategorized".
func (s *Schema) Categories() []Category {
	index := make(map[string]int)
	var out []Category
	for _, v := range s.Variables {
		name := v.Category
		if name == "" {
			name = "Uncategorized"
		}
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, Category{Name: name})
		}
		out[i].Variables = append(out[i].Variables, v)
	}
	return out
}

// Validate converts a raw string input to the variable's type and
// checks it against the declared constraints. The returned value is
// ready to write into group_vars.
func (v Variable) Validate(raw string) (any, error) {
	var value any
	switch v.Type {
	case "integer":
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("%s: invalid value %q, expected an integer", v.Name, raw), "")
		}
		if v.Validation.Min != nil && n < *v.Validation.Min {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("%s: value must be >= %d", v.Name, *v.Validation.Min), "")
		}
		if v.Validation.Max != nil && n > *v.Validation.Max {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("%s: value must be <= %d", v.Name, *v.Validation.Max), "")
		}
		value = n

	case "boolean":
		value = parseBool(raw)

	case "list":
		value = parseList(raw)

	default: // string
		s := raw
		if v.Validation.Regex != "" {
			re, err := regexp.Compile(v.Validation.Regex)
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					v.Name+": schema regex does not compile", "Fix the regex in config.schema.yml.")
			}
			if !re.MatchString(s) {
				return nil, errors.New(errors.ErrConfig,
					fmt.Sprintf("%s: value does not match required pattern %s", v.Name, v.Validation.Regex), "")
			}
		}
		if len(v.AllowedValues) > 0 && !contains(v.AllowedValues, s) {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("%s: value must be one of: %s", v.Name, strings.Join(v.AllowedValues, ", ")), "")
		}
		value = s
	}

	return value, nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1", "y":
		return true
	}
	return false
}

// parseList accepts either a bracketed form ([a, b, c]) or a plain
// comma-separated string.
func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if raw == "" {
		return []string{}
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
