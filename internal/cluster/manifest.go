package cluster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"crucible/internal/logging"
)

// Manifest is the on-disk cluster list (.crucible/clusters.yaml).
type Manifest struct {
	Version     int                 `yaml:"version" json:"version"`
	ProjectRoot string              `yaml:"project_root" json:"project_root"`
	Clusters    []ClusterDefinition `yaml:"clusters" json:"clusters"`
}

// DefaultManifestPath is where `crucible init` writes the manifest.
const DefaultManifestPath = ".crucible/clusters.yaml"

// LoadManifest reads and validates a cluster manifest.
// Clusters come back in file order; the orchestrator runs them in that order.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if m.ProjectRoot == "" {
		m.ProjectRoot = "."
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	logging.Config("Loaded manifest %s: %d clusters", path, len(m.Clusters))
	return &m, nil
}

// Validate checks structural invariants of the manifest.
func (m *Manifest) Validate() error {
	if len(m.Clusters) == 0 {
		return fmt.Errorf("manifest has no clusters")
	}

	seen := make(map[string]bool, len(m.Clusters))
	for i, c := range m.Clusters {
		if c.ID == "" {
			return fmt.Errorf("cluster[%d] has empty id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate cluster id: %s", c.ID)
		}
		seen[c.ID] = true

		if len(c.Modules) == 0 {
			return fmt.Errorf("cluster %s has no modules", c.ID)
		}
		if len(c.ClaimIDs) == 0 {
			return fmt.Errorf("cluster %s has no claims", c.ID)
		}
	}
	return nil
}

// Get returns the cluster with the given ID, or nil.
func (m *Manifest) Get(id string) *ClusterDefinition {
	for i := range m.Clusters {
		if m.Clusters[i].ID == id {
			return &m.Clusters[i]
		}
	}
	return nil
}

// Save writes the manifest back to disk.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
