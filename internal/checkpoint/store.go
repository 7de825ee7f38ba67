// Package checkpoint persists per-stage pipeline state so interrupted runs can
// resume without repeating completed work.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dimenwarper/rnapipey/internal/schemas"
	"github.com/dimenwarper/rnapipey/internal/types"
	rootschemas "github.com/dimenwarper/rnapipey/schemas"
)

// ErrNotFound is returned by Load when the run directory has no state file.
var ErrNotFound = errors.New("no pipeline state found")

// ArtifactError reports a completion transition whose declared artifacts are
// missing or empty on disk.
type ArtifactError struct {
	Stage string
	Path  string
	Cause error
}

func (e *ArtifactError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stage %s artifact %s: %v", e.Stage, e.Path, e.Cause)
	}
	return fmt.Sprintf("stage %s artifact %s is empty", e.Stage, e.Path)
}

func (e *ArtifactError) Unwrap() error {
	return e.Cause
}

// Store reads and writes the state file of one run directory.
type Store struct {
	dir string
}

// NewStore returns a store scoped to the given run directory.
func NewStore(runDir string) *Store {
	return &Store{dir: runDir}
}

// StatePath returns the on-disk location of the state file.
func (s *Store) StatePath() string {
	return filepath.Join(s.dir, "pipeline_state.json")
}

// Load reads and validates the persisted run state. Returns ErrNotFound when
// the run directory holds no state file yet.
func (s *Store) Load() (*types.PipelineRun, error) {
	data, err := os.ReadFile(s.StatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state file %s: %w", s.StatePath(), err)
	}

	if err := schemas.ValidateBytes(rootschemas.PipelineState, data); err != nil {
		return nil, fmt.Errorf("state file %s: %w", s.StatePath(), err)
	}

	var run types.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.StatePath(), err)
	}
	return &run, nil
}

// Save writes the run state atomically (write-temp-then-rename), so a crash
// mid-write never corrupts the previous valid state. Save itself mutates
// nothing: timestamps move only on stage transitions, which keeps a plain
// load-then-save byte-identical.
func (s *Store) Save(run *types.PipelineRun) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pipeline state: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create run directory %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".rnapipey-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.StatePath()); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename state file: %w", err)
	}
	return nil
}

// MarkStageStarted records the running status and persists before returning.
func (s *Store) MarkStageStarted(run *types.PipelineRun, stage string) error {
	setStage(run, stage, types.StageRunning, nil, "", "")
	return s.Save(run)
}

// MarkStageCompleted verifies every declared artifact exists and is non-empty,
// then records completion along with the fingerprint the stage ran under.
// The on-disk state reflects the transition before the call returns.
func (s *Store) MarkStageCompleted(run *types.PipelineRun, stage string, artifacts []string, fingerprint string) error {
	for _, a := range artifacts {
		info, err := os.Stat(a)
		if err != nil {
			return &ArtifactError{Stage: stage, Path: a, Cause: err}
		}
		if info.Size() == 0 {
			return &ArtifactError{Stage: stage, Path: a}
		}
	}
	setStage(run, stage, types.StageCompleted, artifacts, fingerprint, "")
	return s.Save(run)
}

// MarkStageFailed records the failure reason and persists before returning.
func (s *Store) MarkStageFailed(run *types.PipelineRun, stage, reason string) error {
	setStage(run, stage, types.StageFailed, nil, "", reason)
	return s.Save(run)
}

// MarkStageSkipped records that a stage's tool is unavailable; downstream
// stages treat skipped like completed-with-no-artifacts.
func (s *Store) MarkStageSkipped(run *types.PipelineRun, stage, reason string) error {
	setStage(run, stage, types.StageSkipped, nil, "", reason)
	return s.Save(run)
}

func setStage(run *types.PipelineRun, stage string, status types.StageStatus, artifacts []string, fingerprint, reason string) {
	rec := run.Stage(stage)
	if rec == nil {
		run.Stages = append(run.Stages, types.StageRecord{Stage: stage})
		rec = &run.Stages[len(run.Stages)-1]
	}
	rec.Status = status
	rec.Artifacts = artifacts
	rec.Fingerprint = fingerprint
	rec.Reason = reason
	rec.UpdatedAt = now()
	run.UpdatedAt = rec.UpdatedAt
}

// Reconcile applies the resume policy to a freshly loaded run:
//
//   - any stage found running is downgraded to pending (the prior process died
//     mid-stage, so its work cannot be trusted),
//   - any fingerprinted stage recorded under a different configuration
//     fingerprint is invalidated together with every stage after it in
//     stageOrder.
//
// Returns the names of the invalidated stages. The caller persists the result.
func Reconcile(run *types.PipelineRun, fingerprint string, stageOrder []string) []string {
	var invalidated []string

	for i := range run.Stages {
		rec := &run.Stages[i]
		if rec.Status == types.StageRunning {
			rec.Status = types.StagePending
			rec.Reason = "previous process exited mid-stage"
			rec.Artifacts = nil
			invalidated = append(invalidated, rec.Stage)
		}
	}

	stale := -1
	for idx, name := range stageOrder {
		rec := run.Stage(name)
		if rec == nil || rec.Fingerprint == "" {
			continue
		}
		if rec.Fingerprint != fingerprint {
			stale = idx
			break
		}
	}
	if stale >= 0 {
		for _, name := range stageOrder[stale:] {
			rec := run.Stage(name)
			if rec == nil || rec.Status == types.StagePending {
				continue
			}
			rec.Status = types.StagePending
			rec.Reason = "configuration fingerprint changed"
			rec.Artifacts = nil
			rec.Fingerprint = ""
			invalidated = append(invalidated, name)
			delete(run.Ensembles, backendOf(name))
			delete(run.Clusters, backendOf(name))
		}
		run.Ranking = nil
	}

	run.Fingerprint = fingerprint
	return invalidated
}

// backendOf strips the stage-kind prefix from a per-backend stage identifier.
// Non-backend stages return "" which never matches a map key.
func backendOf(stage string) string {
	for _, prefix := range []string{"prediction_", "clustering_"} {
		if len(stage) > len(prefix) && stage[:len(prefix)] == prefix {
			return stage[len(prefix):]
		}
	}
	return ""
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
