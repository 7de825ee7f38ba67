// Package types provides type definitions for the structured data persisted and
// exchanged between pipeline stages.
//
//nolint:revive // types is a standard Go package name pattern
package types

// StageStatus is the lifecycle state of a single pipeline stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	// StageSkipped marks a stage whose external tool is not installed. Downstream
	// stages treat it like completed with no artifacts.
	StageSkipped StageStatus = "skipped"
)

// Stage identifiers. Prediction and clustering stages are parameterized by
// backend name via PredictionStage / ClusteringStage.
const (
	StageSequenceAnalysis   = "sequence_analysis"
	StageSecondaryStructure = "secondary_structure"
	StageScoring            = "scoring"
	StageReport             = "report"
)

// PredictionStage returns the stage identifier for one backend's 3D prediction branch.
func PredictionStage(backend string) string {
	return "prediction_" + backend
}

// ClusteringStage returns the stage identifier for one backend's clustering step.
func ClusteringStage(backend string) string {
	return "clustering_" + backend
}

// StageRecord tracks one stage's status and outputs.
// Invariant: a stage is completed only if every artifact path exists and is
// non-empty; the checkpoint store enforces this at transition time.
type StageRecord struct {
	Stage       string      `json:"stage"`
	Status      StageStatus `json:"status"`
	Artifacts   []string    `json:"artifacts,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	UpdatedAt   string      `json:"updated_at,omitempty"` // RFC3339 UTC
}

// PipelineRun is the persisted state of one execution over one input sequence.
// Only the stage orchestrator mutates it; it is saved after every transition.
type PipelineRun struct {
	RunID       string                        `json:"run_id"`
	CreatedAt   string                        `json:"created_at"`
	UpdatedAt   string                        `json:"updated_at,omitempty"`
	Input       string                        `json:"input"`
	Fingerprint string                        `json:"fingerprint,omitempty"`
	Stages      []StageRecord                 `json:"stages"`
	Ensembles   map[string]*EnsembleResult    `json:"ensembles,omitempty"`
	Clusters    map[string][]StructureCluster `json:"clusters,omitempty"`
	Ranking     []ModelScore                  `json:"ranking,omitempty"`
}

// Stage returns the record for the named stage, or nil if it has never been recorded.
func (r *PipelineRun) Stage(name string) *StageRecord {
	for i := range r.Stages {
		if r.Stages[i].Stage == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// StageStatus returns the recorded status for the named stage, defaulting to pending.
func (r *PipelineRun) StageStatus(name string) StageStatus {
	if rec := r.Stage(name); rec != nil {
		return rec.Status
	}
	return StagePending
}

// StageDone reports whether the named stage has finished in a state downstream
// stages may build on (completed, or skipped because a tool is absent).
func (r *PipelineRun) StageDone(name string) bool {
	s := r.StageStatus(name)
	return s == StageCompleted || s == StageSkipped
}

// ModelScore is one entry of the scorer's ranked output.
type ModelScore struct {
	Model   string             `json:"model"`
	Backend string             `json:"backend,omitempty"`
	Score   float64            `json:"score"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}
