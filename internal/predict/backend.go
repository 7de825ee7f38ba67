// Package predict dispatches structure-prediction work to external backend
// processes and collects the resulting ensembles.
package predict

import (
	"context"
	"time"

	"github.com/dimenwarper/rnapipey/internal/types"
)

// Inputs are the upstream artifacts shared by every member of one backend's
// ensemble.
type Inputs struct {
	FastaPath          string
	MSAPath            string // optional alignment from sequence analysis
	SecondaryStructure string // optional dot-bracket string
	WorkDir            string // backend-scoped output directory
	LogsDir            string // captured process output lands here
}

// Outcome is what one external invocation produced for one seed.
type Outcome struct {
	Seed                   int
	StructurePath          string
	SecondaryStructurePath string
	DistogramPath          string
	// FailureReason is set by batch invocations for seeds the process accepted
	// but emitted no structure for. Whole-invocation failures are errors.
	FailureReason string
}

// Backend is the polymorphic capability one prediction tool exposes. The
// dispatcher and orchestrator never branch on backend identity beyond adapter
// selection.
type Backend interface {
	Name() string
	// Check reports whether the external tool is installed and reachable.
	Check() bool
	// SupportsBatch reports whether one process invocation can run several
	// seeds, amortizing model loading once per device.
	SupportsBatch() bool
	// Predict runs a single ensemble member.
	Predict(ctx context.Context, in Inputs, member types.EnsembleMember, timeout time.Duration) (Outcome, error)
	// PredictBatch runs all given members in one invocation on one device.
	// A non-nil error means the whole invocation failed; otherwise outcomes
	// carry per-seed results, possibly with individual FailureReasons.
	PredictBatch(ctx context.Context, in Inputs, members []types.EnsembleMember, device string, timeout time.Duration) ([]Outcome, error)
}

// Registry builds the adapter set for the configured tools, keyed by backend
// name.
func Registry(rhofold *RhoFold, protenix *Protenix, simrna *SimRNA) map[string]Backend {
	return map[string]Backend{
		rhofold.Name():  rhofold,
		protenix.Name(): protenix,
		simrna.Name():   simrna,
	}
}

// BackendNames lists the supported backend identifiers in canonical order.
func BackendNames() []string {
	return []string{"rhofold", "protenix", "simrna"}
}
