// Package cluster loads the static cluster topology: every node's id and
// base URL. Membership is fixed for the lifetime of the process.
package cluster

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Member is one statically configured node.
type Member struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// Config is the full cluster topology plus the identity of this node.
type Config struct {
	Self  string   `yaml:"-"`
	Nodes []Member `yaml:"nodes"`
}

// Load reads the YAML topology file and binds it to the given node id.
func Load(path, self string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cluster config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse cluster config: %w", err)
	}
	cfg.Self = self

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the topology is usable: unique ids, addresses for
// every member, and self present.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("cluster config lists no nodes")
	}
	seen := make(map[string]bool, len(c.Nodes))
	foundSelf := false
	for _, m := range c.Nodes {
		if m.ID == "" {
			return fmt.Errorf("cluster member with empty id")
		}
		if m.URL == "" {
			return fmt.Errorf("cluster member %s has no url", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate cluster member id %s", m.ID)
		}
		seen[m.ID] = true
		if m.ID == c.Self {
			foundSelf = true
		}
	}
	if c.Self != "" && !foundSelf {
		return fmt.Errorf("node id %s not present in cluster config", c.Self)
	}
	return nil
}

// Peers returns every node id except self, sorted for stable iteration.
func (c *Config) Peers() []string {
	peers := make([]string, 0, len(c.Nodes)-1)
	for _, m := range c.Nodes {
		if m.ID != c.Self {
			peers = append(peers, m.ID)
		}
	}
	sort.Strings(peers)
	return peers
}

// URL resolves a node id to its base URL; empty when unknown.
func (c *Config) URL(id string) string {
	for _, m := range c.Nodes {
		if m.ID == id {
			return m.URL
		}
	}
	return ""
}

// URLs returns the id -> base URL mapping for the whole cluster.
func (c *Config) URLs() map[string]string {
	out := make(map[string]string, len(c.Nodes))
	for _, m := range c.Nodes {
		out[m.ID] = m.URL
	}
	return out
}

// Size returns the configured cluster size.
func (c *Config) Size() int {
	return len(c.Nodes)
}
