//nolint:revive // types is a standard Go package name pattern
package types

// EnsembleMember is one generated structure candidate for a backend and seed.
// Immutable once produced by the dispatcher.
type EnsembleMember struct {
	Backend       string  `json:"backend"`
	Seed          int     `json:"seed"`
	Device        string  `json:"device,omitempty"`
	MCDropout     bool    `json:"mc_dropout,omitempty"`
	NoiseScale    float64 `json:"noise_scale,omitempty"`
	StructurePath string  `json:"structure_path,omitempty"`
	Failed        bool    `json:"failed,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`

	// Extra artifacts some backends emit alongside the structure.
	SecondaryStructurePath string `json:"secondary_structure_path,omitempty"`
	DistogramPath          string `json:"distogram_path,omitempty"`
}

// EnsembleResult is the ordered member collection for one backend within one run.
type EnsembleResult struct {
	Backend string           `json:"backend"`
	Members []EnsembleMember `json:"members"`
}

// SuccessfulIndices returns the indices of members that produced a structure,
// in seed order.
func (r *EnsembleResult) SuccessfulIndices() []int {
	var out []int
	for i, m := range r.Members {
		if !m.Failed && m.StructurePath != "" {
			out = append(out, i)
		}
	}
	return out
}

// StructureCluster groups ensemble members by structural similarity.
// Member references are indices into the owning EnsembleResult's Members slice,
// never copies, so a cluster must not outlive the result it indexes.
type StructureCluster struct {
	Representative int     `json:"representative"`
	Members        []int   `json:"members"`
	MeanRMSD       float64 `json:"mean_rmsd"`
	MaxRMSD        float64 `json:"max_rmsd"`
}
