// Package scoring submits candidate structures to RNAdvisor and produces a
// consensus ranking across its metrics.
package scoring

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dimenwarper/rnapipey/internal/config"
	"github.com/dimenwarper/rnapipey/internal/types"
)

// lowerIsBetter marks the energy-style metrics where a smaller value means a
// better model. Anything else ranks descending.
var lowerIsBetter = map[string]bool{
	"rsRNASP":   true,
	"DFIRE":     true,
	"DFIRE-RNA": true,
	"RASP":      true,
}

// Candidate is one structure submitted for scoring.
type Candidate struct {
	Model   string // display name, e.g. "rhofold_seed0"
	Backend string
	Path    string
}

// ScorerError reports a scoring-stage failure.
type ScorerError struct {
	Message string
	Cause   error
}

func (e *ScorerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scoring error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("scoring error: %s", e.Message)
}

func (e *ScorerError) Unwrap() error { return e.Cause }

// Scorer wraps the RNAdvisor CLI, either a native binary or the docker image.
type Scorer struct {
	cfg config.RNAdvisorConfig
}

func NewScorer(cfg config.RNAdvisorConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Name() string { return "rnadvisor" }

func (s *Scorer) Check() bool {
	if s.cfg.Docker {
		_, err := exec.LookPath("docker")
		return err == nil
	}
	bin := s.cfg.Binary
	if bin == "" {
		bin = "rnadvisor"
	}
	if strings.ContainsRune(bin, os.PathSeparator) {
		_, err := os.Stat(bin)
		return err == nil
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

// Score runs RNAdvisor on each candidate, writes rnadvisor_scores.json and
// ranking.txt under workDir, and returns the consensus ranking best-first.
// Candidates that fail to score are dropped; an error is returned only when
// no candidate could be scored at all.
func (s *Scorer) Score(ctx context.Context, candidates []Candidate, workDir, logsDir string, timeout time.Duration) ([]types.ModelScore, error) {
	if len(candidates) == 0 {
		return nil, &ScorerError{Message: "no structures to score"}
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &ScorerError{Message: "create work directory", Cause: err}
	}

	scores := map[string]map[string]float64{}
	backends := map[string]string{}
	for _, cand := range candidates {
		if _, err := os.Stat(cand.Path); err != nil {
			continue
		}
		metrics, err := s.scoreSingle(ctx, cand, workDir, logsDir, timeout)
		if err != nil || len(metrics) == 0 {
			continue
		}
		scores[cand.Model] = metrics
		backends[cand.Model] = cand.Backend
	}
	if len(scores) == 0 {
		return nil, &ScorerError{Message: "no models could be scored"}
	}

	ranking := ConsensusRank(scores)
	for i := range ranking {
		ranking[i].Backend = backends[ranking[i].Model]
	}

	if err := writeResults(workDir, scores, ranking); err != nil {
		return nil, err
	}
	return ranking, nil
}

// scoreSingle stages one structure into its own directory (RNAdvisor scores a
// --pred_dir, not a file) and parses the CSV it writes.
func (s *Scorer) scoreSingle(ctx context.Context, cand Candidate, workDir, logsDir string, timeout time.Duration) (map[string]float64, error) {
	stageDir := filepath.Join(workDir, "_stage_"+cand.Model)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, err
	}
	staged := filepath.Join(stageDir, filepath.Base(cand.Path))
	if err := copyFile(cand.Path, staged); err != nil {
		return nil, err
	}

	outCSV := filepath.Join(workDir, "scores_"+cand.Model+".csv")
	metricsArg := strings.Join(s.cfg.Metrics, ",")

	var argv []string
	if s.cfg.Docker {
		argv = []string{
			"docker", "run", "--rm",
			"-v", stageDir + ":/data/pred",
			"-v", workDir + ":/data/out",
			s.cfg.Image,
			"--pred_dir", "/data/pred",
			"--scores", metricsArg,
			"--out_path", "/data/out/" + filepath.Base(outCSV),
		}
	} else {
		bin := s.cfg.Binary
		if bin == "" {
			bin = "rnadvisor"
		}
		argv = []string{
			bin,
			"--pred_dir", stageDir,
			"--scores", metricsArg,
			"--out_path", outCSV,
		}
	}

	if err := runScorer(ctx, timeout, workDir, logsDir, "rnadvisor_"+cand.Model, argv); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outCSV)
	if err != nil {
		return nil, fmt.Errorf("read scores CSV: %w", err)
	}
	return ParseScoresCSV(data)
}

// ParseScoresCSV extracts metric values from the first data row of an
// RNAdvisor CSV. Identifier columns are skipped.
func ParseScoresCSV(data []byte) (map[string]float64, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	row, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("CSV has no data rows")
		}
		return nil, fmt.Errorf("read CSV row: %w", err)
	}

	metrics := map[string]float64{}
	for i, name := range header {
		if i >= len(row) {
			break
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "", "name", "pdb", "file", "model":
			continue
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			continue
		}
		metrics[strings.TrimSpace(name)] = val
	}
	return metrics, nil
}

// ConsensusRank orders models by average rank across all metrics, best first.
// Each metric contributes a 1-based rank; energy metrics rank ascending and
// quality metrics descending. The ModelScore.Score field carries the average
// rank (lower is better).
func ConsensusRank(scores map[string]map[string]float64) []types.ModelScore {
	models := make([]string, 0, len(scores))
	for m := range scores {
		models = append(models, m)
	}
	sort.Strings(models)

	metricSet := map[string]bool{}
	for _, s := range scores {
		for name := range s {
			metricSet[name] = true
		}
	}
	metricNames := make([]string, 0, len(metricSet))
	for name := range metricSet {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)

	rankSums := map[string]float64{}
	nMetrics := 0
	for _, metric := range metricNames {
		type mv struct {
			model string
			val   float64
		}
		var vals []mv
		for _, model := range models {
			if v, ok := scores[model][metric]; ok {
				vals = append(vals, mv{model: model, val: v})
			}
		}
		if len(vals) == 0 {
			continue
		}
		asc := lowerIsBetter[metric]
		sort.Slice(vals, func(a, b int) bool {
			if vals[a].val != vals[b].val {
				if asc {
					return vals[a].val < vals[b].val
				}
				return vals[a].val > vals[b].val
			}
			return vals[a].model < vals[b].model
		})
		for rank, v := range vals {
			rankSums[v.model] += float64(rank + 1)
		}
		nMetrics++
	}

	ranking := make([]types.ModelScore, 0, len(models))
	for _, model := range models {
		score := 0.0
		if nMetrics > 0 {
			score = rankSums[model] / float64(nMetrics)
		}
		ranking = append(ranking, types.ModelScore{
			Model:   model,
			Score:   score,
			Metrics: scores[model],
		})
	}
	sort.Slice(ranking, func(a, b int) bool {
		if ranking[a].Score != ranking[b].Score {
			return ranking[a].Score < ranking[b].Score
		}
		return ranking[a].Model < ranking[b].Model
	})
	return ranking
}

func writeResults(workDir string, scores map[string]map[string]float64, ranking []types.ModelScore) error {
	scoresJSON, err := json.MarshalIndent(scores, "", "  ")
	if err != nil {
		return &ScorerError{Message: "marshal scores", Cause: err}
	}
	scoresPath := filepath.Join(workDir, "rnadvisor_scores.json")
	if err := os.WriteFile(scoresPath, scoresJSON, 0o644); err != nil {
		return &ScorerError{Message: "write scores file", Cause: err}
	}

	var sb strings.Builder
	for i, ms := range ranking {
		fmt.Fprintf(&sb, "%d. %s (avg_rank: %.2f)\n", i+1, ms.Model, ms.Score)
	}
	rankingPath := filepath.Join(workDir, "ranking.txt")
	if err := os.WriteFile(rankingPath, []byte(sb.String()), 0o644); err != nil {
		return &ScorerError{Message: "write ranking file", Cause: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func runScorer(ctx context.Context, timeout time.Duration, workDir, logsDir, logName string, argv []string) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(logsDir, logName+".stdout"), stdout.Bytes(), 0o644)
			_ = os.WriteFile(filepath.Join(logsDir, logName+".stderr"), stderr.Bytes(), 0o644)
		}
	}
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s", timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = "..." + msg[len(msg)-500:]
		}
		return fmt.Errorf("%s failed: %s", filepath.Base(argv[0]), msg)
	}
	return nil
}
