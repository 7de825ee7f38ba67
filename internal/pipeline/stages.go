// Package pipeline provides the high-level orchestration for the structure
// prediction process.
package pipeline

import (
	"fmt"
	"sort"

	"github.com/dimenwarper/rnapipey/internal/types"
)

// StageDefinition defines metadata for one pipeline stage
type StageDefinition struct {
	Name         string
	Dependencies []string // must be done (completed or skipped) before this stage runs
	Optional     []string // consumed when available, never block
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Stage               string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %s missing dependencies: %v", e.Stage, e.MissingDependencies)
}

// ConfigurationError represents an invalid run request detected before any
// stage executes
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// StageOrder builds the execution order for the requested backends. Prediction
// and clustering stages are instantiated per backend; backends are ordered by
// name so the same request always yields the same order.
func StageOrder(backends []string) []StageDefinition {
	sorted := append([]string(nil), backends...)
	sort.Strings(sorted)

	defs := []StageDefinition{
		{Name: types.StageSequenceAnalysis},
		{Name: types.StageSecondaryStructure, Optional: []string{types.StageSequenceAnalysis}},
	}

	var clustering []string
	for _, b := range sorted {
		pred := types.PredictionStage(b)
		clus := types.ClusteringStage(b)
		defs = append(defs,
			StageDefinition{
				Name:     pred,
				Optional: []string{types.StageSequenceAnalysis, types.StageSecondaryStructure},
			},
			StageDefinition{
				Name:         clus,
				Dependencies: []string{pred},
			},
		)
		clustering = append(clustering, clus)
	}

	defs = append(defs,
		StageDefinition{Name: types.StageScoring, Optional: clustering},
		StageDefinition{Name: types.StageReport, Optional: []string{types.StageScoring}},
	)
	return defs
}

// StageNames flattens an order into its stage identifiers.
func StageNames(defs []StageDefinition) []string {
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// ValidateDependencies checks that every required dependency of a stage has
// finished in a buildable state.
func ValidateDependencies(run *types.PipelineRun, def StageDefinition) error {
	var missing []string
	for _, dep := range def.Dependencies {
		if !run.StageDone(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &DependencyError{Stage: def.Name, MissingDependencies: missing}
	}
	return nil
}

// ValidateBackends rejects unknown backend names before any stage runs.
func ValidateBackends(requested, known []string) error {
	knownSet := map[string]bool{}
	for _, name := range known {
		knownSet[name] = true
	}
	for _, name := range requested {
		if !knownSet[name] {
			return &ConfigurationError{Message: fmt.Sprintf("unknown backend %q (available: %v)", name, known)}
		}
	}
	if len(requested) == 0 {
		return &ConfigurationError{Message: "no prediction backends selected"}
	}
	return nil
}
