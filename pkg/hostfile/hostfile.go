// Package hostfile decodes the target/host declaration file: the set of
// hosts the orchestrator knows about, with the group structure used to
// order the broadcast snapshot.
package hostfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Target is one named collection of host groups, e.g. a datacenter or
// service tier. Groups preserves the declaration order so the broadcast
// snapshot's outer ordering matches what operators wrote.
type Target struct {
	Name   string     `yaml:"name"`
	Groups [][]string `yaml:"groups"`
}

// Hosts flattens every host across every group, in declaration order, with
// duplicates removed.
func (t Target) Hosts() []string {
	seen := map[string]bool{}
	var out []string
	for _, group := range t.Groups {
		for _, h := range group {
			if seen[h] {
				continue
			}
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

// Load reads and decodes a target declaration from path.
func Load(path string) (Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Target{}, fmt.Errorf("hostfile: reading %s: %w", path, err)
	}
	var t Target
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Target{}, fmt.Errorf("hostfile: decoding %s: %w", path, err)
	}
	return t, nil
}
