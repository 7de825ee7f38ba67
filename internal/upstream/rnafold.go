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

// RNAfold predicts a minimum-free-energy secondary structure with ViennaRNA.
type RNAfold struct {
	cfg config.ToolsConfig
}

func NewRNAfold(cfg config.ToolsConfig) *RNAfold {
	return &RNAfold{cfg: cfg}
}

func (t *RNAfold) Name() string { return "rnafold" }

func (t *RNAfold) Check() bool {
	return toolOnPath(t.cfg.RNAfold)
}

// Fold carries a predicted secondary structure in dot-bracket notation.
type Fold struct {
	DotBracket string
	MFE        float64 // kcal/mol
	DotPath    string
	Artifacts  []string
}

// Run folds the sequence and writes rnafold.dot with the header, sequence and
// annotated dot-bracket line.
func (t *RNAfold) Run(ctx context.Context, fastaPath, header, sequence, workDir, logsDir string, timeout time.Duration) (Fold, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Fold{}, fmt.Errorf("create work directory: %w", err)
	}

	argv := []string{
		t.cfg.RNAfold,
		"--noPS",
		"-p",
		"-i", fastaPath,
	}
	stdout, err := runTool(ctx, timeout, workDir, logsDir, "rnafold", argv)
	if err != nil {
		return Fold{}, fmt.Errorf("RNAfold: %w", err)
	}

	dotBracket, mfe, ok := ParseRNAfoldOutput(stdout)
	if !ok {
		return Fold{}, fmt.Errorf("RNAfold: no structure line in output")
	}

	dotPath := filepath.Join(workDir, "rnafold.dot")
	content := fmt.Sprintf(">%s\n%s\n%s (%.2f)\n", header, sequence, dotBracket, mfe)
	if err := os.WriteFile(dotPath, []byte(content), 0o644); err != nil {
		return Fold{}, fmt.Errorf("write %s: %w", dotPath, err)
	}

	fold := Fold{DotBracket: dotBracket, MFE: mfe, DotPath: dotPath, Artifacts: []string{dotPath}}
	// RNAfold drops a <id>_dp.ps base-pair probability plot in its cwd.
	if matches, _ := filepath.Glob(filepath.Join(workDir, "*_dp.ps")); len(matches) > 0 {
		fold.Artifacts = append(fold.Artifacts, matches[0])
	}
	return fold, nil
}

// ParseRNAfoldOutput extracts the dot-bracket structure and MFE from RNAfold
// stdout. The structure line has the form ".((..)). (-12.30)".
func ParseRNAfoldOutput(stdout string) (string, float64, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.LastIndex(line, " (")
		if idx < 0 || !strings.HasSuffix(line, ")") {
			continue
		}
		mfeStr := strings.TrimSuffix(line[idx+2:], ")")
		mfe, err := strconv.ParseFloat(strings.TrimSpace(mfeStr), 64)
		if err != nil {
			continue
		}
		structure := strings.TrimSpace(line[:idx])
		if structure == "" || !strings.ContainsAny(structure, ".([{") {
			continue
		}
		return structure, mfe, true
	}
	return "", 0, false
}
