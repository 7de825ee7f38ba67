package schedule

import "github.com/dimenwarper/rnapipey/internal/types"

// Plan produces the per-member execution parameters for one backend's ensemble.
//
// Seed 0 is always the vanilla deterministic baseline: dropout off, noise 0,
// regardless of the requested flags. Seeds 1..nstruct-1 inherit the requested
// stochastic options verbatim. For nstruct <= 1 only the vanilla member is
// planned and the stochastic flags have no observable effect.
func Plan(backend string, nstruct int, mcDropout bool, noiseScale float64) []types.EnsembleMember {
	if nstruct < 1 {
		nstruct = 1
	}
	members := make([]types.EnsembleMember, nstruct)
	for seed := range members {
		m := types.EnsembleMember{Backend: backend, Seed: seed}
		if seed > 0 {
			m.MCDropout = mcDropout
			m.NoiseScale = noiseScale
		}
		members[seed] = m
	}
	return members
}
