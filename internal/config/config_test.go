package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"tools": {
			"cmscan": "/opt/infernal/bin/cmscan",
			"rhofold": {"script": "/opt/rhofold/inference.py"},
			"simrna": {"binary": "/opt/simrna/SimRNA", "steps": 500000}
		},
		"ensemble": {"nstruct": 5, "cluster_cutoff": 3.5},
		"predict": {"member_timeout": "2h"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/infernal/bin/cmscan", cfg.Tools.Cmscan)
	assert.Equal(t, "/opt/rhofold/inference.py", cfg.Tools.RhoFold.Script)
	assert.Equal(t, 500000, cfg.Tools.SimRNA.Steps)
	assert.Equal(t, 5, cfg.Ensemble.NStruct)
	assert.Equal(t, 3.5, cfg.Ensemble.ClusterCutoff)
	assert.Equal(t, "2h", cfg.Predict.MemberTimeout)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parse config JSON")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestValidate_RejectsNegativeValues(t *testing.T) {
	cfg := Config{}
	cfg.Ensemble.NStruct = -1
	assert.Error(t, cfg.Validate())

	cfg = Config{}
	cfg.Ensemble.NoiseScale = -0.1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadTimeout(t *testing.T) {
	cfg := Config{}
	cfg.Predict.MemberTimeout = "not-a-duration"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member_timeout")
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := Config{}
	cfg.Tools.Cmscan = "/custom/cmscan"
	cfg.Ensemble.NStruct = 10

	merged := cfg.MergeWithDefaults(DefaultConfig())

	assert.Equal(t, "/custom/cmscan", merged.Tools.Cmscan, "explicit value survives merge")
	assert.Equal(t, 10, merged.Ensemble.NStruct)
	assert.Equal(t, "cmfetch", merged.Tools.Cmfetch, "unset value filled from defaults")
	assert.Equal(t, 5.0, merged.Ensemble.ClusterCutoff)
	assert.Equal(t, "24h", merged.Predict.MemberTimeout)
	assert.Equal(t, []string{"rsRNASP", "DFIRE", "RASP", "MCQ"}, merged.Tools.RNAdvisor.Metrics)
}

func TestMemberTimeout(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 24*time.Hour, cfg.MemberTimeout(), "empty falls back to 24h")

	cfg.Predict.MemberTimeout = "90m"
	assert.Equal(t, 90*time.Minute, cfg.MemberTimeout())

	cfg.Predict.MemberTimeout = "garbage"
	assert.Equal(t, 24*time.Hour, cfg.MemberTimeout(), "unparseable falls back to 24h")
}
