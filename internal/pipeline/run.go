package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dimenwarper/rnapipey/internal/checkpoint"
	"github.com/dimenwarper/rnapipey/internal/config"
	"github.com/dimenwarper/rnapipey/internal/db"
	"github.com/dimenwarper/rnapipey/internal/ensemble"
	"github.com/dimenwarper/rnapipey/internal/ingestion"
	"github.com/dimenwarper/rnapipey/internal/observability"
	"github.com/dimenwarper/rnapipey/internal/predict"
	"github.com/dimenwarper/rnapipey/internal/report"
	"github.com/dimenwarper/rnapipey/internal/schedule"
	"github.com/dimenwarper/rnapipey/internal/scoring"
	"github.com/dimenwarper/rnapipey/internal/types"
	"github.com/dimenwarper/rnapipey/internal/upstream"
)

// Run directory layout. Stage outputs are numbered so directory listings read
// in execution order.
const (
	dirSequenceAnalysis   = "01_sequence_analysis"
	dirSecondaryStructure = "02_secondary_structure"
	dirPrediction         = "03_3d_prediction"
	dirScoring            = "04_scoring"
	dirReport             = "05_report"
	dirLogs               = "logs"
)

// upstreamTimeout bounds the sequence-analysis and secondary-structure tools,
// which finish in minutes when they finish at all.
const upstreamTimeout = 2 * time.Hour

// RunOptions holds configuration for running the pipeline
type RunOptions struct {
	InputPath string
	OutputDir string
	Backends  []string

	NStruct    int
	Devices    []string
	MCDropout  bool
	NoiseScale float64
	RMSDCutoff float64

	SkipInfernal bool
	UseSpotRNA   bool
	SkipScoring  bool

	Config  *config.Config
	Verbose bool
}

// StageError names the stage whose failure aborted the run.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// branchResult carries one backend's prediction outcome back to the
// orchestrator goroutine, which alone mutates and persists run state.
type branchResult struct {
	backend string
	result  *types.EnsembleResult
	err     error
}

// RunPipeline orchestrates a full run over one input sequence: sequence
// analysis, secondary structure, per-backend ensemble prediction, clustering,
// scoring, and the report. Completed stages found in the run directory's state
// file are reused instead of re-executed.
func RunPipeline(ctx context.Context, opts RunOptions) error {
	if err := ValidateBackends(opts.Backends, predict.BackendNames()); err != nil {
		return err
	}
	cfg := opts.Config
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}

	printer := observability.NewPrinter(os.Stdout)
	order := StageOrder(opts.Backends)
	stageNames := StageNames(order)
	fingerprint := config.Fingerprint(opts.Backends, opts.NStruct, opts.MCDropout, opts.NoiseScale, opts.Devices)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	record, fastaPath, err := ingestion.CopyInput(opts.InputPath, opts.OutputDir)
	if err != nil {
		return err
	}

	store := checkpoint.NewStore(opts.OutputDir)
	run, err := store.Load()
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		run = &types.PipelineRun{
			RunID:     uuid.New().String(),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			Input:     fastaPath,
		}
	case err != nil:
		return err
	default:
		fmt.Printf("Resuming run %s\n", run.RunID)
	}

	invalidated := checkpoint.Reconcile(run, fingerprint, stageNames)
	if len(invalidated) > 0 && opts.Verbose {
		fmt.Printf("[VERBOSE] Invalidated stages: %v\n", invalidated)
	}
	if err := store.Save(run); err != nil {
		return err
	}

	// Optional database persistence; a connection failure never blocks the run.
	var database *db.DB
	var dbRunID uuid.UUID
	if cfg.DatabaseURL != "" {
		database, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			fmt.Printf("Warning: Failed to connect to database: %v\n", err)
			fmt.Printf("Continuing without database persistence...\n")
			database = nil
		} else {
			defer database.Close()
			if id, parseErr := uuid.Parse(run.RunID); parseErr == nil {
				dbRunID = id
				if err := database.CreateRun(ctx, dbRunID, record.ID(), len(record.Sequence), fingerprint); err != nil {
					fmt.Printf("Warning: Failed to create database run: %v\n", err)
					database = nil
				}
			}
		}
	}

	logsDir := filepath.Join(opts.OutputDir, dirLogs)

	// Stage 1: sequence analysis.
	analysis, err := runSequenceAnalysis(ctx, store, run, cfg, opts, fastaPath, logsDir)
	if err != nil {
		return err
	}

	// Stage 2: secondary structure.
	fold, err := runSecondaryStructure(ctx, store, run, cfg, opts, record, fastaPath, logsDir)
	if err != nil {
		return err
	}

	// Stages 3..: per-backend prediction, concurrently across backends. Each
	// branch computes in isolation; only this goroutine touches run state.
	if err := runPredictions(ctx, store, run, cfg, opts, printer, fingerprint, fastaPath, analysis.MSAPath, fold.DotBracket, logsDir); err != nil {
		return err
	}

	// Clustering, one stage per backend.
	if err := runClustering(store, run, opts, fingerprint); err != nil {
		return err
	}
	if opts.Verbose {
		printer.PrintClusters(run)
	}

	// Scoring. A stage failure here is the run's failure, but the report below
	// still gets written; only persistence errors abort immediately.
	scoringErr := runScoring(ctx, store, run, cfg, opts, fingerprint, logsDir)
	if scoringErr != nil {
		var stageErr *StageError
		if !errors.As(scoringErr, &stageErr) {
			return scoringErr
		}
	}
	if opts.Verbose {
		printer.PrintRanking(run.Ranking)
	}

	// Report, always, even for partially failed runs.
	if err := runReport(store, run, opts, record, analysis, fold, fingerprint); err != nil {
		if scoringErr != nil {
			return scoringErr
		}
		return err
	}
	if scoringErr != nil {
		return scoringErr
	}

	if database != nil {
		for _, name := range opts.Backends {
			if result := run.Ensembles[name]; result != nil {
				_ = database.SaveEnsemble(ctx, dbRunID, result)
			}
		}
		if len(run.Ranking) > 0 {
			_ = database.SaveRanking(ctx, dbRunID, run.Ranking)
		}
		_ = database.CompleteRun(ctx, dbRunID, "completed")
	}

	fmt.Printf("Run %s finished. Report: %s\n", run.RunID, filepath.Join(opts.OutputDir, dirReport, "report.md"))
	return nil
}

func runSequenceAnalysis(ctx context.Context, store *checkpoint.Store, run *types.PipelineRun, cfg *config.Config, opts RunOptions, fastaPath, logsDir string) (upstream.Result, error) {
	stage := types.StageSequenceAnalysis
	workDir := filepath.Join(opts.OutputDir, dirSequenceAnalysis)

	if run.StageDone(stage) {
		return upstream.Recover(workDir), nil
	}

	if opts.SkipInfernal {
		return upstream.Result{}, store.MarkStageSkipped(run, stage, "disabled by flag")
	}
	tool := upstream.NewInfernal(cfg.Tools)
	if !tool.Check() {
		return upstream.Result{}, store.MarkStageSkipped(run, stage, "cmscan or Rfam database not available")
	}

	fmt.Printf("Stage 1: Sequence analysis (Infernal)...\n")
	if err := store.MarkStageStarted(run, stage); err != nil {
		return upstream.Result{}, err
	}
	res, err := tool.Run(ctx, fastaPath, workDir, logsDir, upstreamTimeout)
	if err != nil {
		// Single-sequence prediction still works without a family assignment.
		fmt.Printf("Warning: sequence analysis failed: %v\n", err)
		return upstream.Result{}, store.MarkStageFailed(run, stage, err.Error())
	}
	if res.Family != "" {
		fmt.Printf("  Rfam family: %s (E-value %.2g)\n", res.Family, res.EValue)
	}
	return res, store.MarkStageCompleted(run, stage, res.Artifacts, "")
}

func runSecondaryStructure(ctx context.Context, store *checkpoint.Store, run *types.PipelineRun, cfg *config.Config, opts RunOptions, record ingestion.Record, fastaPath, logsDir string) (upstream.Fold, error) {
	stage := types.StageSecondaryStructure
	workDir := filepath.Join(opts.OutputDir, dirSecondaryStructure)

	if run.StageDone(stage) {
		return recoverFold(workDir), nil
	}

	tool := upstream.NewRNAfold(cfg.Tools)
	if !tool.Check() {
		return upstream.Fold{}, store.MarkStageSkipped(run, stage, "RNAfold not available")
	}

	fmt.Printf("Stage 2: Secondary structure (RNAfold)...\n")
	if err := store.MarkStageStarted(run, stage); err != nil {
		return upstream.Fold{}, err
	}
	fold, err := tool.Run(ctx, fastaPath, record.Header, record.Sequence, workDir, logsDir, upstreamTimeout)
	if err != nil {
		fmt.Printf("Warning: secondary structure prediction failed: %v\n", err)
		return upstream.Fold{}, store.MarkStageFailed(run, stage, err.Error())
	}

	if opts.UseSpotRNA {
		spot := upstream.NewSpotRNA(cfg.Tools)
		if spot.Check() {
			if sf, spotErr := spot.Run(ctx, fastaPath, workDir, logsDir, upstreamTimeout); spotErr == nil {
				// SPOT-RNA sees pseudoknots RNAfold cannot; prefer its structure.
				fold.DotBracket = sf.DotBracket
				fold.Artifacts = append(fold.Artifacts, sf.Artifacts...)
			} else {
				fmt.Printf("Warning: SPOT-RNA failed, keeping RNAfold structure: %v\n", spotErr)
			}
		} else {
			fmt.Printf("Warning: SPOT-RNA requested but not available\n")
		}
	}

	return fold, store.MarkStageCompleted(run, stage, fold.Artifacts, "")
}

func runPredictions(ctx context.Context, store *checkpoint.Store, run *types.PipelineRun, cfg *config.Config, opts RunOptions, printer *observability.Printer, fingerprint, fastaPath, msaPath, dotBracket, logsDir string) error {
	backends := append([]string(nil), opts.Backends...)
	sort.Strings(backends)

	registry := predict.Registry(
		predict.NewRhoFold(cfg.Tools.RhoFold),
		predict.NewProtenix(cfg.Tools.Protenix),
		predict.NewSimRNA(cfg.Tools.SimRNA),
	)
	dispatcher := &predict.Dispatcher{
		Timeout:        cfg.MemberTimeout(),
		ForcePerMember: cfg.Predict.ForcePerMember,
		Verbose:        opts.Verbose,
	}

	var pending []string
	for _, name := range backends {
		stage := types.PredictionStage(name)
		if run.StageDone(stage) && run.Ensembles[name] != nil {
			continue
		}
		backend := registry[name]
		if !backend.Check() {
			if err := store.MarkStageSkipped(run, stage, name+" not installed"); err != nil {
				return err
			}
			continue
		}
		if err := store.MarkStageStarted(run, stage); err != nil {
			return err
		}
		pending = append(pending, name)
	}
	if len(pending) == 0 {
		return nil
	}

	fmt.Printf("Stage 3: 3D prediction (%s), %d structure(s) each...\n", strings.Join(pending, ", "), opts.NStruct)

	results := make(map[string]branchResult, len(pending))
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for _, name := range pending {
		name := name
		backend := registry[name]
		members := schedule.Plan(name, opts.NStruct, opts.MCDropout, opts.NoiseScale)
		for i, device := range schedule.AssignDevices(len(members), opts.Devices) {
			members[i].Device = device
		}
		if opts.Verbose {
			printer.PrintPlan(name, members)
		}
		in := predict.Inputs{
			FastaPath:          fastaPath,
			MSAPath:            msaPath,
			SecondaryStructure: dotBracket,
			WorkDir:            filepath.Join(opts.OutputDir, dirPrediction, name),
			LogsDir:            logsDir,
		}
		g.Go(func() error {
			result, err := dispatcher.Run(gCtx, backend, members, in)
			mu.Lock()
			results[name] = branchResult{backend: name, result: result, err: err}
			mu.Unlock()
			return err
		})
	}
	waitErr := g.Wait()

	// Record branch outcomes in backend order so state transitions are
	// deterministic regardless of completion order.
	for _, name := range pending {
		br, ok := results[name]
		if !ok {
			continue
		}
		stage := types.PredictionStage(name)
		if br.err != nil {
			if err := store.MarkStageFailed(run, stage, br.err.Error()); err != nil {
				return err
			}
			continue
		}
		if run.Ensembles == nil {
			run.Ensembles = map[string]*types.EnsembleResult{}
		}
		run.Ensembles[name] = br.result

		var artifacts []string
		failed := 0
		for _, m := range br.result.Members {
			if m.Failed {
				failed++
			} else if m.StructurePath != "" {
				artifacts = append(artifacts, m.StructurePath)
			}
		}
		if len(artifacts) == 0 {
			reason := fmt.Sprintf("all %d member(s) failed", len(br.result.Members))
			if err := store.MarkStageFailed(run, stage, reason); err != nil {
				return err
			}
			continue
		}
		if failed > 0 {
			fmt.Printf("Warning: %s: %d of %d member(s) failed\n", name, failed, len(br.result.Members))
		}
		if err := store.MarkStageCompleted(run, stage, artifacts, fingerprint); err != nil {
			return err
		}
	}

	if waitErr != nil && ctx.Err() != nil {
		return fmt.Errorf("prediction interrupted: %w", ctx.Err())
	}
	return nil
}

func runClustering(store *checkpoint.Store, run *types.PipelineRun, opts RunOptions, fingerprint string) error {
	order := StageOrder(opts.Backends)
	for _, def := range order {
		name, ok := strings.CutPrefix(def.Name, "clustering_")
		if !ok {
			continue
		}
		stage := def.Name
		if run.StageDone(stage) && run.Clusters[name] != nil {
			continue
		}
		// A failed prediction branch fails its clustering stage without running it.
		if err := ValidateDependencies(run, def); err != nil {
			if markErr := store.MarkStageFailed(run, stage, err.Error()); markErr != nil {
				return markErr
			}
			continue
		}
		result := run.Ensembles[name]
		if result == nil {
			if err := store.MarkStageSkipped(run, stage, "no ensemble produced"); err != nil {
				return err
			}
			continue
		}

		if err := store.MarkStageStarted(run, stage); err != nil {
			return err
		}
		clusters, err := ensemble.Cluster(result, opts.RMSDCutoff)
		if err != nil {
			// Raw members still go to scoring; only the grouping is lost.
			fmt.Printf("Warning: clustering %s failed: %v\n", name, err)
			if markErr := store.MarkStageFailed(run, stage, err.Error()); markErr != nil {
				return markErr
			}
			continue
		}
		if run.Clusters == nil {
			run.Clusters = map[string][]types.StructureCluster{}
		}
		run.Clusters[name] = clusters

		artifact := filepath.Join(opts.OutputDir, dirPrediction, name, "clusters.json")
		if err := writeJSON(artifact, clusters); err != nil {
			return err
		}
		if err := store.MarkStageCompleted(run, stage, []string{artifact}, fingerprint); err != nil {
			return err
		}
	}
	return nil
}

func runScoring(ctx context.Context, store *checkpoint.Store, run *types.PipelineRun, cfg *config.Config, opts RunOptions, fingerprint, logsDir string) error {
	stage := types.StageScoring
	if run.StageDone(stage) && (len(run.Ranking) > 0 || run.StageStatus(stage) == types.StageSkipped) {
		return nil
	}
	if opts.SkipScoring {
		return store.MarkStageSkipped(run, stage, "disabled by flag")
	}

	candidates := collectCandidates(run, opts.Backends)
	if len(candidates) == 0 {
		reason := "no structures produced by any backend"
		if err := store.MarkStageFailed(run, stage, reason); err != nil {
			return err
		}
		return &StageError{Stage: stage, Cause: errors.New(reason)}
	}

	scorer := scoring.NewScorer(cfg.Tools.RNAdvisor)
	if !scorer.Check() {
		return store.MarkStageSkipped(run, stage, "rnadvisor not available")
	}

	fmt.Printf("Stage 4: Scoring %d candidate(s) (RNAdvisor)...\n", len(candidates))
	if err := store.MarkStageStarted(run, stage); err != nil {
		return err
	}
	workDir := filepath.Join(opts.OutputDir, dirScoring)
	ranking, err := scorer.Score(ctx, candidates, workDir, logsDir, cfg.MemberTimeout())
	if err != nil {
		if markErr := store.MarkStageFailed(run, stage, err.Error()); markErr != nil {
			return markErr
		}
		return &StageError{Stage: stage, Cause: err}
	}
	run.Ranking = ranking

	artifacts := []string{
		filepath.Join(workDir, "rnadvisor_scores.json"),
		filepath.Join(workDir, "ranking.txt"),
	}
	return store.MarkStageCompleted(run, stage, artifacts, fingerprint)
}

// collectCandidates picks what goes to the scorer: cluster representatives
// when clustering produced them, every successful member otherwise.
func collectCandidates(run *types.PipelineRun, backends []string) []scoring.Candidate {
	sorted := append([]string(nil), backends...)
	sort.Strings(sorted)

	var candidates []scoring.Candidate
	for _, name := range sorted {
		result := run.Ensembles[name]
		if result == nil {
			continue
		}
		if clusters := run.Clusters[name]; len(clusters) > 0 {
			for _, c := range clusters {
				m := result.Members[c.Representative]
				candidates = append(candidates, scoring.Candidate{
					Model:   fmt.Sprintf("%s_seed%d", name, m.Seed),
					Backend: name,
					Path:    m.StructurePath,
				})
			}
			continue
		}
		for _, idx := range result.SuccessfulIndices() {
			m := result.Members[idx]
			candidates = append(candidates, scoring.Candidate{
				Model:   fmt.Sprintf("%s_seed%d", name, m.Seed),
				Backend: name,
				Path:    m.StructurePath,
			})
		}
	}
	return candidates
}

func runReport(store *checkpoint.Store, run *types.PipelineRun, opts RunOptions, record ingestion.Record, analysis upstream.Result, fold upstream.Fold, fingerprint string) error {
	stage := types.StageReport

	meta := report.Meta{
		SequenceID:     record.ID(),
		SequenceLength: len(record.Sequence),
		Family:         analysis.Family,
		EValue:         analysis.EValue,
		DotBracket:     fold.DotBracket,
		MFE:            fold.MFE,
	}

	if err := store.MarkStageStarted(run, stage); err != nil {
		return err
	}
	path := filepath.Join(opts.OutputDir, dirReport, "report.md")
	if err := report.WriteReport(run, meta, path); err != nil {
		if markErr := store.MarkStageFailed(run, stage, err.Error()); markErr != nil {
			return markErr
		}
		return &StageError{Stage: stage, Cause: err}
	}
	return store.MarkStageCompleted(run, stage, []string{path}, fingerprint)
}

// RegenerateReport rebuilds 05_report/report.md for an existing run directory
// from its persisted state and on-disk artifacts, without re-running any
// stage. It returns the report path.
func RegenerateReport(runDir string) (string, error) {
	store := checkpoint.NewStore(runDir)
	run, err := store.Load()
	if err != nil {
		return "", err
	}

	var record ingestion.Record
	if records, readErr := ingestion.ReadFASTA(filepath.Join(runDir, "input", "query.fasta")); readErr == nil && len(records) > 0 {
		record = records[0]
	}
	analysis := upstream.Recover(filepath.Join(runDir, dirSequenceAnalysis))
	fold := recoverFold(filepath.Join(runDir, dirSecondaryStructure))

	meta := report.Meta{
		SequenceID:     record.ID(),
		SequenceLength: len(record.Sequence),
		Family:         analysis.Family,
		EValue:         analysis.EValue,
		DotBracket:     fold.DotBracket,
		MFE:            fold.MFE,
	}
	path := filepath.Join(runDir, dirReport, "report.md")
	if err := report.WriteReport(run, meta, path); err != nil {
		return "", err
	}
	return path, nil
}

// recoverFold re-reads the dot-bracket artifact of a completed
// secondary-structure stage.
func recoverFold(workDir string) upstream.Fold {
	var fold upstream.Fold
	for _, name := range []string{"spotrna.dot", "rnafold.dot"} {
		data, err := os.ReadFile(filepath.Join(workDir, name))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, ">") {
				continue
			}
			if strings.ContainsAny(line, ".([{") && !strings.ContainsAny(line, "ACGUacgu") {
				fold.DotBracket = strings.Fields(line)[0]
				return fold
			}
		}
	}
	return fold
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
