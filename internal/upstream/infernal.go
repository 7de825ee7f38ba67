// Package upstream wraps the sequence-analysis and secondary-structure
// producers that feed the 3D-prediction stage.
package upstream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dimenwarper/rnapipey/internal/config"
)

// Infernal runs cmscan against Rfam to identify the query's family and, on a
// hit, builds a covariance-model alignment the deep-learning backends can use
// as an MSA.
type Infernal struct {
	cfg config.ToolsConfig
}

// NewInfernal returns the Infernal adapter for the configured tool locations.
func NewInfernal(cfg config.ToolsConfig) *Infernal {
	return &Infernal{cfg: cfg}
}

func (t *Infernal) Name() string { return "infernal" }

func (t *Infernal) Check() bool {
	if !toolOnPath(t.cfg.Cmscan) {
		return false
	}
	if t.cfg.RfamCM == "" {
		return false
	}
	_, err := os.Stat(t.cfg.RfamCM)
	return err == nil
}

// Result carries the sequence-analysis outputs.
type Result struct {
	Family    string
	EValue    float64
	MSAPath   string // empty when no family matched or alignment failed
	Artifacts []string
}

// Run executes cmscan and, when a family hit is found, cmfetch + cmalign to
// produce alignment.sto. A missing MSA is not an error: downstream backends
// fall back to single-sequence mode.
func (t *Infernal) Run(ctx context.Context, fastaPath, workDir, logsDir string, timeout time.Duration) (Result, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create work directory: %w", err)
	}

	tblout := filepath.Join(workDir, "cmscan_tblout.txt")
	output := filepath.Join(workDir, "cmscan_output.txt")

	argv := []string{
		t.cfg.Cmscan,
		"--cut_ga", "--rfam", "--nohmmonly",
		"--fmt", "2",
		"--tblout", tblout,
		"-o", output,
	}
	if t.cfg.RfamClanin != "" {
		if _, err := os.Stat(t.cfg.RfamClanin); err == nil {
			argv = append(argv, "--clanin", t.cfg.RfamClanin)
		}
	}
	argv = append(argv, t.cfg.RfamCM, fastaPath)

	if _, err := runTool(ctx, timeout, workDir, logsDir, "cmscan", argv); err != nil {
		return Result{}, fmt.Errorf("cmscan: %w", err)
	}

	res := Result{Artifacts: []string{tblout, output}}
	family, evalue, err := parseTblout(tblout)
	if err != nil {
		return Result{}, err
	}
	if family == "" {
		return res, nil
	}
	res.Family = family
	res.EValue = evalue

	msa, err := t.buildMSA(ctx, family, fastaPath, workDir, logsDir, timeout)
	if err != nil {
		// A failed alignment degrades to single-sequence prediction; the scan
		// itself still succeeded.
		return res, nil //nolint:nilerr
	}
	res.MSAPath = msa
	res.Artifacts = append(res.Artifacts, msa)
	return res, nil
}

func (t *Infernal) buildMSA(ctx context.Context, family, fastaPath, workDir, logsDir string, timeout time.Duration) (string, error) {
	cmOut := filepath.Join(workDir, family+".cm")
	msaOut := filepath.Join(workDir, "alignment.sto")

	fetchArgv := []string{t.cfg.Cmfetch, "-o", cmOut, t.cfg.RfamCM, family}
	if _, err := runTool(ctx, timeout, workDir, logsDir, "cmfetch", fetchArgv); err != nil {
		return "", fmt.Errorf("cmfetch %s: %w", family, err)
	}

	alignArgv := []string{
		t.cfg.Cmalign,
		"--outformat", "Stockholm",
		"-o", msaOut,
		cmOut, fastaPath,
	}
	if _, err := runTool(ctx, timeout, workDir, logsDir, "cmalign", alignArgv); err != nil {
		return "", fmt.Errorf("cmalign %s: %w", family, err)
	}
	return msaOut, nil
}

// Recover rebuilds a Result from a completed stage's on-disk artifacts, so a
// resumed run keeps its family assignment and MSA without re-running cmscan.
func Recover(workDir string) Result {
	var res Result
	if family, evalue, err := parseTblout(filepath.Join(workDir, "cmscan_tblout.txt")); err == nil {
		res.Family = family
		res.EValue = evalue
	}
	msa := filepath.Join(workDir, "alignment.sto")
	if info, err := os.Stat(msa); err == nil && info.Size() > 0 {
		res.MSAPath = msa
	}
	return res
}

// parseTblout extracts the top hit from a cmscan --fmt 2 table.
func parseTblout(path string) (string, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("read tblout %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 16 {
			continue
		}
		evalue, err := strconv.ParseFloat(fields[15], 64)
		if err != nil {
			continue
		}
		return fields[1], evalue, nil
	}
	return "", 0, nil
}
