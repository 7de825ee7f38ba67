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

// protenixSeedOffset maps member seed indices onto the seed range Protenix is
// conventionally run with; seed index 0 stays the canonical baseline at 42.
const protenixSeedOffset = 42

// Protenix adapts the Protenix (AlphaFold3-class) predictor. One invocation
// accepts a comma-separated seed list, so it is batch-capable per device.
type Protenix struct {
	cfg config.ProtenixConfig
}

// NewProtenix returns the Protenix adapter for the configured binary.
func NewProtenix(cfg config.ProtenixConfig) *Protenix {
	return &Protenix{cfg: cfg}
}

func (p *Protenix) Name() string { return "protenix" }

func (p *Protenix) Check() bool {
	return toolOnPath(p.cfg.Binary)
}

func (p *Protenix) SupportsBatch() bool { return true }

func (p *Protenix) Predict(ctx context.Context, in Inputs, member types.EnsembleMember, timeout time.Duration) (Outcome, error) {
	outcomes, err := p.PredictBatch(ctx, in, []types.EnsembleMember{member}, member.Device, timeout)
	if err != nil {
		return Outcome{}, &MemberError{
			Backend: p.Name(), Seed: member.Seed,
			Message: "inference failed", Cause: err,
		}
	}
	if outcomes[0].FailureReason != "" {
		return Outcome{}, &MemberError{
			Backend: p.Name(), Seed: member.Seed,
			Message: outcomes[0].FailureReason,
		}
	}
	return outcomes[0], nil
}

// PredictBatch runs one invocation per distinct diversity setting on the
// device. --enable_dropout and --coord_noise apply to every seed of an
// invocation, so the seed-0 vanilla baseline never shares one with stochastic
// members; its inference stays deterministic regardless of batching.
func (p *Protenix) PredictBatch(ctx context.Context, in Inputs, members []types.EnsembleMember, device string, timeout time.Duration) ([]Outcome, error) {
	outDir := filepath.Join(in.WorkDir, sanitizeDevice(device))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &InvocationError{Backend: p.Name(), Device: device, Message: "create output directory", Cause: err}
	}

	outcomes := make([]Outcome, len(members))
	for _, grp := range groupByFlags(members) {
		p.invokeGroup(ctx, in, members, grp, device, timeout, outDir, outcomes)
	}
	return outcomes, nil
}

func (p *Protenix) invokeGroup(ctx context.Context, in Inputs, members []types.EnsembleMember, grp flagGroup, device string, timeout time.Duration, outDir string, outcomes []Outcome) {
	seeds := make([]string, len(grp.indices))
	for i, idx := range grp.indices {
		seeds[i] = strconv.Itoa(protenixSeedOffset + members[idx].Seed)
	}

	argv := []string{
		p.cfg.Binary, "predict",
		"--input", in.FastaPath,
		"--out_dir", outDir,
		"--seeds", strings.Join(seeds, ","),
	}
	if p.cfg.Model != "" {
		argv = append(argv, "--model_name", p.cfg.Model)
	}
	if in.MSAPath != "" {
		argv = append(argv, "--use_msa", in.MSAPath)
	}
	if grp.dropout {
		argv = append(argv, "--enable_dropout")
	}
	if grp.noise > 0 {
		argv = append(argv, "--coord_noise", strconv.FormatFloat(grp.noise, 'g', -1, 64))
	}

	var env []string
	if idx, ok := cudaIndex(device); ok {
		env = append(env, "CUDA_VISIBLE_DEVICES="+idx)
	}

	logName := fmt.Sprintf("protenix_%s_seed%d", sanitizeDevice(device), members[grp.indices[0]].Seed)
	res, err := runCommand(ctx, timeout, outDir, in.LogsDir, logName, argv, env)
	if err != nil {
		// The failure stays local to this invocation's seeds; other flag
		// groups on the device still run.
		invErr := &InvocationError{
			Backend: p.Name(), Device: device,
			Message: "batch inference failed", Output: tail(res.Stderr), Cause: err,
		}
		for _, idx := range grp.indices {
			outcomes[idx] = Outcome{Seed: members[idx].Seed, FailureReason: invErr.Error()}
		}
		return
	}

	for _, idx := range grp.indices {
		m := members[idx]
		path := p.findStructure(outDir, protenixSeedOffset+m.Seed)
		if path == "" {
			outcomes[idx] = Outcome{
				Seed:          m.Seed,
				FailureReason: fmt.Sprintf("process exited cleanly but emitted no structure for seed %d", protenixSeedOffset+m.Seed),
			}
			continue
		}
		outcomes[idx] = Outcome{Seed: m.Seed, StructurePath: path}
	}
}

// flagGroup collects the member indices sharing one diversity setting.
type flagGroup struct {
	indices []int
	dropout bool
	noise   float64
}

// groupByFlags partitions members by their stochastic flags, preserving the
// order settings first appear in. Vanilla and stochastic members never share
// a group, so whole-invocation flags cannot leak onto the baseline.
func groupByFlags(members []types.EnsembleMember) []flagGroup {
	var groups []flagGroup
	for i, m := range members {
		placed := false
		for gi := range groups {
			if groups[gi].dropout == m.MCDropout && groups[gi].noise == m.NoiseScale {
				groups[gi].indices = append(groups[gi].indices, i)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, flagGroup{indices: []int{i}, dropout: m.MCDropout, noise: m.NoiseScale})
		}
	}
	return groups
}

// findStructure locates the emitted model for one backend seed. Protenix nests
// predictions under per-seed subdirectories, so the walk keys on the seed tag.
func (p *Protenix) findStructure(outDir string, backendSeed int) string {
	tag := fmt.Sprintf("seed_%d", backendSeed)
	for _, pattern := range []string{"*.cif", "*.pdb"} {
		for _, path := range globRecursive(outDir, pattern) {
			if strings.Contains(path, tag) {
				return path
			}
		}
	}
	return ""
}

// cudaIndex extracts the ordinal from device strings like "cuda:1".
func cudaIndex(device string) (string, bool) {
	rest, ok := strings.CutPrefix(device, "cuda:")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
