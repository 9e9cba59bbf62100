// Package cluster defines verification clusters: named groups of modules
// whose spec claims are validated together in one test run.
//
// Clusters are the unit of scheduling for the verify pipeline. A cluster
// usually spans the modules that participate in one integration seam, so
// a failing claim can be attributed to the functions of that seam.
package cluster

// ClusterDefinition identifies a group of modules to verify together.
// Definitions are immutable once loaded from a manifest.
type ClusterDefinition struct {
	// ID is the stable identifier used in results, facts, and logs.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable label for reports.
	Name string `yaml:"name" json:"name"`

	// Modules lists the source paths (relative to the project root)
	// covered by this cluster, in declaration order.
	Modules []string `yaml:"modules" json:"modules"`

	// ClaimIDs lists the spec claims validated by this cluster.
	// Logically a set; duplicates are tolerated, not enforced away.
	ClaimIDs []string `yaml:"claims" json:"claims"`

	// CrossModule marks clusters that exercise an integration seam
	// rather than a single module's internals.
	CrossModule bool `yaml:"cross_module" json:"cross_module"`
}
