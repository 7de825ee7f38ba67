package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dimenwarper/rnapipey/internal/config"
	"github.com/dimenwarper/rnapipey/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run <input.fasta>",
	Short: "Run the full prediction pipeline end-to-end",
	Long: `Orchestrates the entire prediction process: sequence analysis -> secondary structure -> 3D prediction -> clustering -> scoring -> report.

Interrupted runs resume from the last completed stage when pointed at the same output directory. Configuration can be loaded from a JSON file using --config; command-line arguments override config file values.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineCmd,
}

var (
	runConfigPath    string
	runOutputDir     string
	runRhoFold       bool
	runSimRNA        bool
	runProtenix      bool
	runAll           bool
	runNStruct       int
	runDevices       string
	runMCDropout     bool
	runNoiseScale    float64
	runRMSDCutoff    float64
	runSkipInfernal  bool
	runSpotRNA       bool
	runSkipScoring   bool
	runMemberTimeout string
	runForcePerSeed  bool
	runDatabaseURL   string
	runVerbose       bool
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().StringVarP(&runOutputDir, "output", "o", "", "Run directory for artifacts and state (required)")
	runCommand.Flags().BoolVar(&runRhoFold, "rhofold", false, "Predict with RhoFold+")
	runCommand.Flags().BoolVar(&runSimRNA, "simrna", false, "Predict with SimRNA")
	runCommand.Flags().BoolVar(&runProtenix, "protenix", false, "Predict with Protenix")
	runCommand.Flags().BoolVar(&runAll, "all", false, "Predict with every backend")
	runCommand.Flags().IntVar(&runNStruct, "nstruct", 0, "Ensemble members per backend (seed 0 is the deterministic baseline)")
	runCommand.Flags().StringVar(&runDevices, "devices", "", "Comma-separated device list, e.g. cuda:0,cuda:1 (default cpu)")
	runCommand.Flags().BoolVar(&runMCDropout, "mc-dropout", false, "Enable Monte Carlo dropout for seeds >= 1")
	runCommand.Flags().Float64Var(&runNoiseScale, "noise-scale", 0, "Coordinate noise scale for seeds >= 1")
	runCommand.Flags().Float64Var(&runRMSDCutoff, "rmsd-cutoff", 0, "Clustering RMSD cutoff in Angstroms")
	runCommand.Flags().BoolVar(&runSkipInfernal, "skip-infernal", false, "Skip Rfam sequence analysis")
	runCommand.Flags().BoolVar(&runSpotRNA, "spotrna", false, "Refine secondary structure with SPOT-RNA")
	runCommand.Flags().BoolVar(&runSkipScoring, "skip-scoring", false, "Skip RNAdvisor scoring")
	runCommand.Flags().StringVar(&runMemberTimeout, "member-timeout", "", "Per-invocation timeout as a Go duration (default 24h)")
	runCommand.Flags().BoolVar(&runForcePerSeed, "force-per-member", false, "Disable batch invocation even for batch-capable backends")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed debug information")

	// Database URL for artifact persistence
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	_ = runCommand.MarkFlagRequired("output")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Step 1: Load config file if provided
	var cfg config.Config
	if runConfigPath != "" {
		loadedCfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return err
		}
		cfg = *loadedCfg
		if runVerbose {
			_, _ = fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", runConfigPath)
		}
	}

	// Step 2: Apply CLI overrides (command-line args take priority)
	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("nstruct") {
		cfg.Ensemble.NStruct = runNStruct
	}
	if cmd.Flags().Changed("mc-dropout") {
		cfg.Ensemble.MCDropout = runMCDropout
	}
	if cmd.Flags().Changed("noise-scale") {
		cfg.Ensemble.NoiseScale = runNoiseScale
	}
	if cmd.Flags().Changed("rmsd-cutoff") {
		cfg.Ensemble.ClusterCutoff = runRMSDCutoff
	}
	if cmd.Flags().Changed("member-timeout") {
		cfg.Predict.MemberTimeout = runMemberTimeout
	}
	if cmd.Flags().Changed("force-per-member") {
		cfg.Predict.ForcePerMember = runForcePerSeed
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	// Step 3: Apply defaults for unset values
	merged := cfg.MergeWithDefaults(config.DefaultConfig())
	if err := merged.Validate(); err != nil {
		return err
	}

	backends := selectedBackends()
	if len(backends) == 0 {
		return fmt.Errorf("no backend selected: use --rhofold, --simrna, --protenix, or --all")
	}

	var devices []string
	if runDevices != "" {
		for _, d := range strings.Split(runDevices, ",") {
			if d = strings.TrimSpace(d); d != "" {
				devices = append(devices, d)
			}
		}
	}

	opts := pipeline.RunOptions{
		InputPath:    args[0],
		OutputDir:    runOutputDir,
		Backends:     backends,
		NStruct:      merged.Ensemble.NStruct,
		Devices:      devices,
		MCDropout:    merged.Ensemble.MCDropout,
		NoiseScale:   merged.Ensemble.NoiseScale,
		RMSDCutoff:   merged.Ensemble.ClusterCutoff,
		SkipInfernal: runSkipInfernal,
		UseSpotRNA:   runSpotRNA,
		SkipScoring:  runSkipScoring,
		Config:       &merged,
		Verbose:      runVerbose,
	}
	return pipeline.RunPipeline(ctx, opts)
}

func selectedBackends() []string {
	if runAll {
		return []string{"rhofold", "protenix", "simrna"}
	}
	var backends []string
	if runRhoFold {
		backends = append(backends, "rhofold")
	}
	if runProtenix {
		backends = append(backends, "protenix")
	}
	if runSimRNA {
		backends = append(backends, "simrna")
	}
	return backends
}
