package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimenwarper/rnapipey/internal/checkpoint"
	"github.com/dimenwarper/rnapipey/internal/config"
	"github.com/dimenwarper/rnapipey/internal/types"
)

// noToolsConfig points every external tool at a nonexistent path so every
// availability check deterministically fails.
func noToolsConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Tools.Cmscan = "/nonexistent/cmscan"
	cfg.Tools.Cmfetch = "/nonexistent/cmfetch"
	cfg.Tools.Cmalign = "/nonexistent/cmalign"
	cfg.Tools.RfamCM = "/nonexistent/Rfam.cm"
	cfg.Tools.RNAfold = "/nonexistent/RNAfold"
	cfg.Tools.SpotRNA = "/nonexistent/SPOT-RNA.py"
	cfg.Tools.RhoFold.Script = "/nonexistent/inference.py"
	cfg.Tools.SimRNA.Binary = "/nonexistent/SimRNA"
	cfg.Tools.Protenix.Binary = "/nonexistent/protenix"
	cfg.Tools.RNAdvisor.Binary = "/nonexistent/rnadvisor"
	return &cfg
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.fasta")
	require.NoError(t, os.WriteFile(path, []byte(">seq1\nGGGAAACCC\n"), 0o644))
	return path
}

func baseOptions(t *testing.T) RunOptions {
	t.Helper()
	return RunOptions{
		InputPath:  writeInput(t),
		OutputDir:  t.TempDir(),
		Backends:   []string{"rhofold", "simrna"},
		NStruct:    2,
		RMSDCutoff: 5.0,
		Config:     noToolsConfig(),
	}
}

func TestRunPipeline_RejectsUnknownBackend(t *testing.T) {
	opts := baseOptions(t)
	opts.Backends = []string{"alphafold"}

	err := RunPipeline(context.Background(), opts)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.NoFileExists(t, filepath.Join(opts.OutputDir, "pipeline_state.json"),
		"nothing is persisted before validation passes")
}

func TestRunPipeline_NoToolsInstalled(t *testing.T) {
	opts := baseOptions(t)

	err := RunPipeline(context.Background(), opts)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, types.StageScoring, stageErr.Stage, "scoring fails when no backend produced a structure")

	store := checkpoint.NewStore(opts.OutputDir)
	run, loadErr := store.Load()
	require.NoError(t, loadErr)

	assert.Equal(t, types.StageSkipped, run.StageStatus(types.StageSequenceAnalysis))
	assert.Equal(t, types.StageSkipped, run.StageStatus(types.StageSecondaryStructure))
	assert.Equal(t, types.StageSkipped, run.StageStatus(types.PredictionStage("rhofold")))
	assert.Equal(t, types.StageSkipped, run.StageStatus(types.ClusteringStage("rhofold")))
	assert.Equal(t, types.StageFailed, run.StageStatus(types.StageScoring))
	assert.Equal(t, types.StageCompleted, run.StageStatus(types.StageReport),
		"the report is written even for failed runs")
	assert.FileExists(t, filepath.Join(opts.OutputDir, "05_report", "report.md"))
	assert.FileExists(t, filepath.Join(opts.OutputDir, "input", "query.fasta"))
}

func TestRunPipeline_SkipScoringSucceedsWithoutTools(t *testing.T) {
	opts := baseOptions(t)
	opts.SkipScoring = true

	err := RunPipeline(context.Background(), opts)
	require.NoError(t, err)

	store := checkpoint.NewStore(opts.OutputDir)
	run, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Equal(t, types.StageSkipped, run.StageStatus(types.StageScoring))
	assert.Equal(t, "disabled by flag", run.Stage(types.StageScoring).Reason)
	assert.Equal(t, types.StageCompleted, run.StageStatus(types.StageReport))
}

// writeScript drops an executable shell script standing in for an external tool.
func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

// structureScript emits a minimal backbone-only PDB into its working directory,
// the way a folding engine drops its final model.
const structureScript = `#!/bin/sh
cat > model.pdb <<'EOF'
ATOM      1  C3'   G A   1      10.000  10.000  10.000
ATOM      2  C3'   G A   2      13.000  10.000  10.000
ATOM      3  C3'   G A   3      10.000  14.000  10.000
EOF
`

func TestRunPipeline_PartialBackendSuccess(t *testing.T) {
	cfg := noToolsConfig()
	cfg.Tools.Protenix.Binary = writeScript(t, "#!/bin/sh\necho \"model weights missing\" >&2\nexit 1\n")
	cfg.Tools.SimRNA.Binary = writeScript(t, structureScript)
	cfg.Tools.SimRNA.DataDir = t.TempDir()

	opts := RunOptions{
		InputPath:  writeInput(t),
		OutputDir:  t.TempDir(),
		Backends:   []string{"protenix", "simrna"},
		NStruct:    3,
		RMSDCutoff: 5.0,
		Config:     cfg,
	}

	err := RunPipeline(context.Background(), opts)
	require.NoError(t, err, "one failing backend must not fail the run")

	store := checkpoint.NewStore(opts.OutputDir)
	run, loadErr := store.Load()
	require.NoError(t, loadErr)

	assert.Equal(t, types.StageFailed, run.StageStatus(types.PredictionStage("protenix")))
	assert.Contains(t, run.Stage(types.PredictionStage("protenix")).Reason, "all 3 member(s) failed")
	assert.Equal(t, types.StageFailed, run.StageStatus(types.ClusteringStage("protenix")))

	assert.Equal(t, types.StageCompleted, run.StageStatus(types.PredictionStage("simrna")))
	assert.Equal(t, types.StageCompleted, run.StageStatus(types.ClusteringStage("simrna")))

	result := run.Ensembles["simrna"]
	require.NotNil(t, result)
	assert.Len(t, result.SuccessfulIndices(), 3)
	require.NotEmpty(t, run.Clusters["simrna"], "the surviving branch still clusters")

	assert.Equal(t, types.StageSkipped, run.StageStatus(types.StageScoring),
		"the scorer is not installed, so scoring is skipped rather than failed")
	assert.Equal(t, types.StageCompleted, run.StageStatus(types.StageReport))
}

func TestRunPipeline_ResumePreservesRunID(t *testing.T) {
	opts := baseOptions(t)
	opts.SkipScoring = true

	require.NoError(t, RunPipeline(context.Background(), opts))

	store := checkpoint.NewStore(opts.OutputDir)
	first, err := store.Load()
	require.NoError(t, err)

	require.NoError(t, RunPipeline(context.Background(), opts))
	second, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestRunPipeline_FingerprintRecorded(t *testing.T) {
	opts := baseOptions(t)
	opts.SkipScoring = true

	require.NoError(t, RunPipeline(context.Background(), opts))

	store := checkpoint.NewStore(opts.OutputDir)
	run, err := store.Load()
	require.NoError(t, err)

	expected := config.Fingerprint(opts.Backends, opts.NStruct, opts.MCDropout, opts.NoiseScale, opts.Devices)
	assert.Equal(t, expected, run.Fingerprint)
}

func TestRunPipeline_RejectsBadInput(t *testing.T) {
	opts := baseOptions(t)
	bad := filepath.Join(t.TempDir(), "bad.fasta")
	require.NoError(t, os.WriteFile(bad, []byte(">a\nACGU\n>b\nGGCC\n"), 0o644))
	opts.InputPath = bad

	err := RunPipeline(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single sequence")
}

func TestCollectCandidates_PrefersClusterRepresentatives(t *testing.T) {
	run := &types.PipelineRun{
		Ensembles: map[string]*types.EnsembleResult{
			"rhofold": {
				Backend: "rhofold",
				Members: []types.EnsembleMember{
					{Backend: "rhofold", Seed: 0, StructurePath: "/m0.pdb"},
					{Backend: "rhofold", Seed: 1, StructurePath: "/m1.pdb"},
					{Backend: "rhofold", Seed: 2, StructurePath: "/m2.pdb"},
				},
			},
		},
		Clusters: map[string][]types.StructureCluster{
			"rhofold": {
				{Representative: 1, Members: []int{0, 1}},
				{Representative: 2, Members: []int{2}},
			},
		},
	}

	candidates := collectCandidates(run, []string{"rhofold"})
	require.Len(t, candidates, 2, "one candidate per cluster, not per member")
	assert.Equal(t, "rhofold_seed1", candidates[0].Model)
	assert.Equal(t, "rhofold_seed2", candidates[1].Model)
}

func TestCollectCandidates_FallsBackToRawMembers(t *testing.T) {
	// Clustering failed or never ran: every successful member goes to scoring.
	run := &types.PipelineRun{
		Ensembles: map[string]*types.EnsembleResult{
			"simrna": {
				Backend: "simrna",
				Members: []types.EnsembleMember{
					{Backend: "simrna", Seed: 0, StructurePath: "/m0.pdb"},
					{Backend: "simrna", Seed: 1, Failed: true},
					{Backend: "simrna", Seed: 2, StructurePath: "/m2.pdb"},
				},
			},
		},
	}

	candidates := collectCandidates(run, []string{"simrna"})
	require.Len(t, candidates, 2)
	assert.Equal(t, "simrna_seed0", candidates[0].Model)
	assert.Equal(t, "simrna_seed2", candidates[1].Model)
}

func TestRecoverFold_ReadsDotArtifact(t *testing.T) {
	dir := t.TempDir()
	content := ">seq1\nGGGAAACCC\n(((...))) (-1.20)\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rnafold.dot"), []byte(content), 0o644))

	fold := recoverFold(dir)
	assert.Equal(t, "(((...)))", fold.DotBracket)
}

func TestRecoverFold_PrefersSpotRNA(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rnafold.dot"), []byte(">s\nGG\n(( (0.00)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spotrna.dot"), []byte("([)]\n"), 0o644))

	fold := recoverFold(dir)
	assert.Equal(t, "([)]", fold.DotBracket)
}

func TestRecoverFold_Empty(t *testing.T) {
	fold := recoverFold(t.TempDir())
	assert.Empty(t, fold.DotBracket)
}

func TestRegenerateReport(t *testing.T) {
	opts := baseOptions(t)
	opts.SkipScoring = true
	require.NoError(t, RunPipeline(context.Background(), opts))

	reportPath := filepath.Join(opts.OutputDir, "05_report", "report.md")
	require.NoError(t, os.Remove(reportPath))

	path, err := RegenerateReport(opts.OutputDir)
	require.NoError(t, err)
	assert.Equal(t, reportPath, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "seq1 (9 nt)")
}

func TestRegenerateReport_MissingState(t *testing.T) {
	_, err := RegenerateReport(t.TempDir())
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}
