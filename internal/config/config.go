// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// RhoFoldConfig locates the RhoFold+ inference scripts.
type RhoFoldConfig struct {
	Script      string `json:"script,omitempty"`       // per-seed inference script
	BatchScript string `json:"batch_script,omitempty"` // multi-seed batch script
	ModelDir    string `json:"model_dir,omitempty"`    // pretrained checkpoint directory
}

// SimRNAConfig locates the SimRNA binary and simulation parameters.
type SimRNAConfig struct {
	Binary  string `json:"binary,omitempty"`
	DataDir string `json:"data_dir,omitempty"`
	Steps   int    `json:"steps,omitempty" validate:"gte=0"`
}

// ProtenixConfig locates the Protenix binary.
type ProtenixConfig struct {
	Binary  string `json:"binary,omitempty"`
	Model   string `json:"model,omitempty"`
	DataDir string `json:"data_dir,omitempty"`
}

// RNAdvisorConfig controls the external scorer.
type RNAdvisorConfig struct {
	Binary  string   `json:"binary,omitempty"`
	Docker  bool     `json:"docker,omitempty"`
	Image   string   `json:"image,omitempty"`
	Metrics []string `json:"metrics,omitempty"`
}

// ToolsConfig groups the external tool locations. Empty string fields mean
// "look up the default name on PATH" for PATH-based tools, or "not installed"
// for script-based ones.
type ToolsConfig struct {
	Cmscan     string          `json:"cmscan,omitempty"`
	Cmfetch    string          `json:"cmfetch,omitempty"`
	Cmalign    string          `json:"cmalign,omitempty"`
	RfamCM     string          `json:"rfam_cm,omitempty"`
	RfamClanin string          `json:"rfam_clanin,omitempty"`
	RNAfold    string          `json:"rnafold,omitempty"`
	SpotRNA    string          `json:"spotrna,omitempty"`
	RhoFold    RhoFoldConfig   `json:"rhofold,omitempty"`
	SimRNA     SimRNAConfig    `json:"simrna,omitempty"`
	Protenix   ProtenixConfig  `json:"protenix,omitempty"`
	RNAdvisor  RNAdvisorConfig `json:"rnadvisor,omitempty"`
}

// EnsembleConfig controls ensemble generation and clustering.
type EnsembleConfig struct {
	NStruct       int     `json:"nstruct,omitempty" validate:"gte=0"`
	ClusterCutoff float64 `json:"cluster_cutoff,omitempty" validate:"gte=0"` // RMSD in Angstroms
	MCDropout     bool    `json:"mc_dropout,omitempty"`
	NoiseScale    float64 `json:"noise_scale,omitempty" validate:"gte=0"`
}

// PredictConfig controls dispatcher behavior.
type PredictConfig struct {
	// MemberTimeout bounds one external invocation, formatted as a Go duration
	// string (e.g. "2h"). Empty means the 24h default.
	MemberTimeout string `json:"member_timeout,omitempty"`
	// ForcePerMember disables batch invocation even for batch-capable backends.
	ForcePerMember bool `json:"force_per_member,omitempty"`
}

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via
// CLI flags.
type Config struct {
	Tools       ToolsConfig    `json:"tools,omitempty"`
	Ensemble    EnsembleConfig `json:"ensemble,omitempty"`
	Predict     PredictConfig  `json:"predict,omitempty"`
	DatabaseURL string         `json:"database_url,omitempty"`
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.Predict.MemberTimeout != "" {
		if _, err := parseDuration(c.Predict.MemberTimeout); err != nil {
			return fmt.Errorf("config error: 'predict.member_timeout': %w", err)
		}
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero-value fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Tools.Cmscan == "" {
		result.Tools.Cmscan = defaults.Tools.Cmscan
	}
	if result.Tools.Cmfetch == "" {
		result.Tools.Cmfetch = defaults.Tools.Cmfetch
	}
	if result.Tools.Cmalign == "" {
		result.Tools.Cmalign = defaults.Tools.Cmalign
	}
	if result.Tools.RNAfold == "" {
		result.Tools.RNAfold = defaults.Tools.RNAfold
	}
	if result.Tools.Protenix.Binary == "" {
		result.Tools.Protenix.Binary = defaults.Tools.Protenix.Binary
	}
	if result.Tools.SimRNA.Steps == 0 {
		result.Tools.SimRNA.Steps = defaults.Tools.SimRNA.Steps
	}
	if result.Tools.RNAdvisor.Image == "" {
		result.Tools.RNAdvisor.Image = defaults.Tools.RNAdvisor.Image
	}
	if len(result.Tools.RNAdvisor.Metrics) == 0 {
		result.Tools.RNAdvisor.Metrics = defaults.Tools.RNAdvisor.Metrics
	}
	if result.Ensemble.NStruct == 0 {
		result.Ensemble.NStruct = defaults.Ensemble.NStruct
	}
	if result.Ensemble.ClusterCutoff == 0 {
		result.Ensemble.ClusterCutoff = defaults.Ensemble.ClusterCutoff
	}
	if result.Predict.MemberTimeout == "" {
		result.Predict.MemberTimeout = defaults.Predict.MemberTimeout
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}

	return result
}

// DefaultConfig returns the built-in defaults applied under any loaded config.
func DefaultConfig() Config {
	return Config{
		Tools: ToolsConfig{
			Cmscan:   "cmscan",
			Cmfetch:  "cmfetch",
			Cmalign:  "cmalign",
			RNAfold:  "RNAfold",
			Protenix: ProtenixConfig{Binary: "protenix"},
			SimRNA:   SimRNAConfig{Steps: 10_000_000},
			RNAdvisor: RNAdvisorConfig{
				Image:   "sayby77/rnadvisor",
				Metrics: []string{"rsRNASP", "DFIRE", "RASP", "MCQ"},
			},
		},
		Ensemble: EnsembleConfig{
			NStruct:       1,
			ClusterCutoff: 5.0,
		},
		Predict: PredictConfig{
			MemberTimeout: "24h",
		},
	}
}
