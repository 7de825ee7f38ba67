package predict

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dimenwarper/rnapipey/internal/config"
	"github.com/dimenwarper/rnapipey/internal/types"
)

// RhoFold adapts the RhoFold+ deep-learning predictor. It is the
// deterministic-baseline class of backend: the same seed and flags reproduce
// the same structure, and a batch script amortizes the ~9 minute model load
// across all seeds assigned to one device.
type RhoFold struct {
	cfg config.RhoFoldConfig
}

// NewRhoFold returns the RhoFold+ adapter for the configured scripts.
func NewRhoFold(cfg config.RhoFoldConfig) *RhoFold {
	return &RhoFold{cfg: cfg}
}

func (r *RhoFold) Name() string { return "rhofold" }

func (r *RhoFold) Check() bool {
	if r.cfg.Script == "" {
		return false
	}
	_, err := os.Stat(r.cfg.Script)
	return err == nil
}

func (r *RhoFold) SupportsBatch() bool {
	return r.cfg.BatchScript != ""
}

func (r *RhoFold) Predict(ctx context.Context, in Inputs, member types.EnsembleMember, timeout time.Duration) (Outcome, error) {
	runDir := filepath.Join(in.WorkDir, fmt.Sprintf("run_%d", member.Seed))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Outcome{}, &MemberError{Backend: r.Name(), Seed: member.Seed, Message: "create output directory", Cause: err}
	}

	argv := []string{
		"python", r.cfg.Script,
		"--input_fas", in.FastaPath,
		"--output_dir", runDir,
		"--single_seq_pred", "True",
	}
	if r.cfg.ModelDir != "" {
		argv = append(argv, "--ckpt", r.cfg.ModelDir)
	}
	if member.Device != "" {
		argv = append(argv, "--device", member.Device)
	}
	if in.MSAPath != "" {
		argv = append(argv, "--input_a3m", in.MSAPath)
	}
	argv = append(argv, stochasticArgs(member)...)

	env := []string{"PYTHONHASHSEED=" + strconv.Itoa(member.Seed)}
	logName := fmt.Sprintf("rhofold_seed%d", member.Seed)

	res, err := runCommand(ctx, timeout, runDir, in.LogsDir, logName, argv, env)
	if err != nil {
		return Outcome{}, &MemberError{
			Backend: r.Name(), Seed: member.Seed,
			Message: "inference failed", Output: tail(res.Stderr), Cause: err,
		}
	}

	return r.collect(runDir, member.Seed)
}

func (r *RhoFold) PredictBatch(ctx context.Context, in Inputs, members []types.EnsembleMember, device string, timeout time.Duration) ([]Outcome, error) {
	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return nil, &InvocationError{Backend: r.Name(), Device: device, Message: "create output directory", Cause: err}
	}

	seeds := make([]string, len(members))
	var dropoutSeeds []string
	noiseScale := 0.0
	for i, m := range members {
		seeds[i] = strconv.Itoa(m.Seed)
		if m.MCDropout {
			dropoutSeeds = append(dropoutSeeds, strconv.Itoa(m.Seed))
		}
		if m.NoiseScale > noiseScale {
			noiseScale = m.NoiseScale
		}
	}

	argv := []string{
		"python", r.cfg.BatchScript,
		"--input_fas", in.FastaPath,
		"--output_base_dir", in.WorkDir,
		"--seeds", strings.Join(seeds, ","),
		"--single_seq_pred", "True",
	}
	if r.cfg.ModelDir != "" {
		argv = append(argv, "--ckpt", r.cfg.ModelDir)
	}
	if device != "" {
		argv = append(argv, "--device", device)
	}
	if in.MSAPath != "" {
		argv = append(argv, "--input_a3m", in.MSAPath)
	}
	if len(dropoutSeeds) > 0 {
		argv = append(argv, "--mc_dropout_seeds", strings.Join(dropoutSeeds, ","))
	}
	if noiseScale > 0 {
		argv = append(argv, "--noise_scale", strconv.FormatFloat(noiseScale, 'g', -1, 64))
	}

	logName := "rhofold_batch_" + sanitizeDevice(device)
	res, err := runCommand(ctx, timeout, in.WorkDir, in.LogsDir, logName, argv, nil)
	if err != nil {
		return nil, &InvocationError{
			Backend: r.Name(), Device: device,
			Message: "batch inference failed", Output: tail(res.Stderr), Cause: err,
		}
	}

	outcomes := make([]Outcome, len(members))
	for i, m := range members {
		out, cerr := r.collect(filepath.Join(in.WorkDir, fmt.Sprintf("run_%d", m.Seed)), m.Seed)
		if cerr != nil {
			outcomes[i] = Outcome{Seed: m.Seed, FailureReason: cerr.Error()}
			continue
		}
		outcomes[i] = out
	}
	return outcomes, nil
}

// collect locates the artifacts one seed produced. A zero exit with no
// structure file on disk is still a failure.
func (r *RhoFold) collect(runDir string, seed int) (Outcome, error) {
	pdb := globOne(runDir, "*.pdb")
	if pdb == "" {
		return Outcome{}, &MemberError{
			Backend: r.Name(), Seed: seed,
			Message: "process exited cleanly but emitted no structure file",
		}
	}
	return Outcome{
		Seed:                   seed,
		StructurePath:          pdb,
		SecondaryStructurePath: globOne(runDir, "*.ct"),
		DistogramPath:          globOne(runDir, "*.npz"),
	}, nil
}

// stochasticArgs translates a member's diversity flags into CLI arguments.
// Seed-0 members carry neither flag, preserving the deterministic baseline.
func stochasticArgs(member types.EnsembleMember) []string {
	var args []string
	if member.MCDropout {
		args = append(args, "--mc_dropout", "True")
	}
	if member.NoiseScale > 0 {
		args = append(args, "--noise_scale", strconv.FormatFloat(member.NoiseScale, 'g', -1, 64))
	}
	return args
}

func sanitizeDevice(device string) string {
	if device == "" {
		return "default"
	}
	return strings.ReplaceAll(device, ":", "_")
}
