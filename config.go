// Package subtree synchronizes external repositories into a host repository.
// This file contains the YAML configuration surface that yields subtree
// specs and message templates.
package subtree

import (
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the configuration file looked up in the host
// repository root when no explicit path is given.
const DefaultConfigName = ".subtree.yaml"

// Config is the on-disk configuration: message templates, the pointer
// namespace, and the list of subtrees to synchronize.
type Config struct {
	// PointerPrefix namespaces the sync pointer names. Defaults to
	// DefaultPointerPrefix.
	PointerPrefix string `yaml:"pointer_prefix"`

	// Messages overrides the commit message templates.
	Messages MessagesConfig `yaml:"messages"`

	// Subtrees lists the external sources in processing order.
	Subtrees []SubtreeConfig `yaml:"subtrees"`
}

// MessagesConfig mirrors MessageTemplates in the configuration file.
type MessagesConfig struct {
	Move     string `yaml:"move"`
	Update   string `yaml:"update"`
	Collapse string `yaml:"collapse"`
}

// SubtreeConfig is one subtree entry in the configuration file. Script
// lines use the textual operation form, e.g. "move docs/* manual".
type SubtreeConfig struct {
	Name     string   `yaml:"name"`
	Source   string   `yaml:"source"`
	Collapse bool     `yaml:"collapse"`
	Rev      string   `yaml:"rev"`
	Keep     bool     `yaml:"keep"`
	Script   []string `yaml:"script"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, WrapError(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, WrapError(ErrInvalidSpec, "failed to parse config: "+err.Error())
	}

	cfg.expandEnv()

	if _, err := cfg.Specs(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv expands environment variables in source URLs, the one place
// credentials or mirror hosts commonly come from the environment.
func (c *Config) expandEnv() {
	for i := range c.Subtrees {
		c.Subtrees[i].Source = os.ExpandEnv(c.Subtrees[i].Source)
	}
}

// Templates returns the configured message templates with defaults filled.
func (c *Config) Templates() MessageTemplates {
	return MessageTemplates{
		Move:     c.Messages.Move,
		Update:   c.Messages.Update,
		Collapse: c.Messages.Collapse,
	}.withDefaults()
}

// Specs converts the configuration entries into validated SubtreeSpec
// values, parsing each script line.
func (c *Config) Specs() ([]SubtreeSpec, error) {
	specs := make([]SubtreeSpec, 0, len(c.Subtrees))
	seen := make(map[string]bool, len(c.Subtrees))

	for _, sc := range c.Subtrees {
		script := make([]TransformOp, 0, len(sc.Script))
		for _, line := range sc.Script {
			op, err := ParseOp(line)
			if err != nil {
				return nil, WrapErrorf(err, "subtree %q", sc.Name)
			}
			script = append(script, op)
		}

		spec := SubtreeSpec{
			Name:     sc.Name,
			Source:   sc.Source,
			Script:   script,
			Collapse: sc.Collapse,
			Rev:      sc.Rev,
			Keep:     sc.Keep,
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, WrapErrorf(ErrInvalidSpec, "duplicate subtree name %q", spec.Name)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}

	return specs, nil
}
