// Package momconfig loads the merger's configuration: the filesystem
// root, the local-suffix convention, the changelog identity used in
// generated entries, and the per-target distro/source-list topology.
// Grounded on the teacher's tools/flow config loading, which decodes
// YAML via gopkg.in/yaml.v3 into a plain struct rather than a
// process-wide global.
package momconfig

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Source is one upstream distro/suite pair a target may search for
// packages it doesn't yet have.
type Source struct {
	Distro string `yaml:"distro"`
	Dist   string `yaml:"dist"`
}

// DistroTarget configures one merge target: the distro/suite/component
// it writes into, the upstream source lists it searches, and any
// packages it never processes.
type DistroTarget struct {
	Distro      string       `yaml:"distro"`
	Dist        string       `yaml:"dist"`
	Component   string       `yaml:"component"`
	Blacklist   []string     `yaml:"blacklist"`
	SourceLists [][]Source   `yaml:"source_lists"`
}

// Config is the merger's full, immutable configuration. Load it once at
// startup; nothing in this package mutates a loaded Config.
type Config struct {
	Root          string                  `yaml:"root"`
	LocalSuffix   string                  `yaml:"local_suffix"`
	MomName       string                  `yaml:"mom_name"`
	MomEmail      string                  `yaml:"mom_email"`
	DistroTargets map[string]DistroTarget `yaml:"distro_targets"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes and validates the required fields.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the fields the core relies on are present.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("config: root is required")
	}
	if c.MomName == "" || c.MomEmail == "" {
		return errors.New("config: mom_name and mom_email are required")
	}
	if len(c.DistroTargets) == 0 {
		return errors.New("config: at least one distro_targets entry is required")
	}
	for name, t := range c.DistroTargets {
		if t.Distro == "" || t.Dist == "" || t.Component == "" {
			return errors.Errorf("config: distro_targets[%s]: distro, dist, and component are required", name)
		}
	}
	return nil
}

// Target looks up a configured distro target by name.
func (c *Config) Target(name string) (DistroTarget, bool) {
	t, ok := c.DistroTargets[name]
	return t, ok
}

// BlacklistSet returns t's blacklist as a lookup set.
func (t DistroTarget) BlacklistSet() map[string]bool {
	set := make(map[string]bool, len(t.Blacklist))
	for _, name := range t.Blacklist {
		set[name] = true
	}
	return set
}
