package upstream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dimenwarper/rnapipey/internal/config"
)

// SpotRNA predicts a pseudoknot-aware secondary structure with SPOT-RNA. It is
// an optional second pass over the RNAfold result.
type SpotRNA struct {
	cfg config.ToolsConfig
}

func NewSpotRNA(cfg config.ToolsConfig) *SpotRNA {
	return &SpotRNA{cfg: cfg}
}

func (t *SpotRNA) Name() string { return "spotrna" }

func (t *SpotRNA) Check() bool {
	if t.cfg.SpotRNA == "" {
		return false
	}
	if _, err := os.Stat(t.cfg.SpotRNA); err == nil {
		return true
	}
	return toolOnPath(t.cfg.SpotRNA)
}

// Run invokes the SPOT-RNA inference script and converts its bpseq output to
// dot-bracket notation, written as spotrna.dot.
func (t *SpotRNA) Run(ctx context.Context, fastaPath, workDir, logsDir string, timeout time.Duration) (Fold, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Fold{}, fmt.Errorf("create work directory: %w", err)
	}

	argv := []string{
		"python", t.cfg.SpotRNA,
		"--inputs", fastaPath,
		"--outputs", workDir,
	}
	if _, err := runTool(ctx, timeout, workDir, logsDir, "spotrna", argv); err != nil {
		return Fold{}, fmt.Errorf("SPOT-RNA: %w", err)
	}

	bpseqs, _ := filepath.Glob(filepath.Join(workDir, "*.bpseq"))
	if len(bpseqs) == 0 {
		return Fold{}, fmt.Errorf("SPOT-RNA: no bpseq output in %s", workDir)
	}
	data, err := os.ReadFile(bpseqs[0])
	if err != nil {
		return Fold{}, fmt.Errorf("read bpseq: %w", err)
	}
	dotBracket, err := BpseqToDotBracket(string(data))
	if err != nil {
		return Fold{}, err
	}

	dotPath := filepath.Join(workDir, "spotrna.dot")
	if err := os.WriteFile(dotPath, []byte(dotBracket+"\n"), 0o644); err != nil {
		return Fold{}, fmt.Errorf("write %s: %w", dotPath, err)
	}

	fold := Fold{DotBracket: dotBracket, DotPath: dotPath, Artifacts: []string{dotPath, bpseqs[0]}}
	if cts, _ := filepath.Glob(filepath.Join(workDir, "*.ct")); len(cts) > 0 {
		fold.Artifacts = append(fold.Artifacts, cts[0])
	}
	return fold, nil
}

// BpseqToDotBracket converts bpseq pair records to dot-bracket notation.
// Non-crossing pairs go to the () layer; pairs crossing that layer go to []
// so simple pseudoknots survive the conversion.
func BpseqToDotBracket(bpseq string) (string, error) {
	type pair struct{ i, j int }
	var pairs []pair
	length := 0
	for _, line := range strings.Split(bpseq, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		partner, err := strconv.Atoi(fields[2])
		if err != nil {
			return "", fmt.Errorf("malformed bpseq record: %q", line)
		}
		if idx > length {
			length = idx
		}
		if partner > length {
			length = partner
		}
		if partner > 0 && idx < partner {
			pairs = append(pairs, pair{i: idx, j: partner})
		}
	}
	if length == 0 {
		return "", fmt.Errorf("empty bpseq input")
	}

	sort.Slice(pairs, func(a, b int) bool { return pairs[a].i < pairs[b].i })
	var layer1, layer2 []pair
	for _, p := range pairs {
		crossing := false
		for _, q := range layer1 {
			if (p.i < q.i && q.i < p.j && p.j < q.j) || (q.i < p.i && p.i < q.j && q.j < p.j) {
				crossing = true
				break
			}
		}
		if crossing {
			layer2 = append(layer2, p)
		} else {
			layer1 = append(layer1, p)
		}
	}

	structure := make([]byte, length)
	for i := range structure {
		structure[i] = '.'
	}
	for _, p := range layer1 {
		structure[p.i-1] = '('
		structure[p.j-1] = ')'
	}
	for _, p := range layer2 {
		structure[p.i-1] = '['
		structure[p.j-1] = ']'
	}
	return string(structure), nil
}
