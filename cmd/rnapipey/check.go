package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dimenwarper/rnapipey/internal/config"
	"github.com/dimenwarper/rnapipey/internal/predict"
	"github.com/dimenwarper/rnapipey/internal/scoring"
	"github.com/dimenwarper/rnapipey/internal/upstream"
)

var checkCommand = &cobra.Command{
	Use:   "check",
	Short: "Report which external tools are available",
	RunE:  checkCmd,
}

var checkConfigPath string

func init() {
	checkCommand.Flags().StringVar(&checkConfigPath, "config", "", "Path to config.json file")
	rootCmd.AddCommand(checkCommand)
}

func checkCmd(_ *cobra.Command, _ []string) error {
	var cfg config.Config
	if checkConfigPath != "" {
		loadedCfg, err := config.LoadConfig(checkConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loadedCfg
	}
	merged := cfg.MergeWithDefaults(config.DefaultConfig())

	type tool struct {
		name      string
		available bool
	}
	tools := []tool{
		{"infernal", upstream.NewInfernal(merged.Tools).Check()},
		{"rnafold", upstream.NewRNAfold(merged.Tools).Check()},
		{"spotrna", upstream.NewSpotRNA(merged.Tools).Check()},
		{"rhofold", predict.NewRhoFold(merged.Tools.RhoFold).Check()},
		{"protenix", predict.NewProtenix(merged.Tools.Protenix).Check()},
		{"simrna", predict.NewSimRNA(merged.Tools.SimRNA).Check()},
		{"rnadvisor", scoring.NewScorer(merged.Tools.RNAdvisor).Check()},
	}

	fmt.Printf("%-12s %s\n", "TOOL", "STATUS")
	for _, t := range tools {
		status := "not found"
		if t.available {
			status = "available"
		}
		fmt.Printf("%-12s %s\n", t.name, status)
	}
	return nil
}
