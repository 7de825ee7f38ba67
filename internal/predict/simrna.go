package predict

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dimenwarper/rnapipey/internal/config"
	"github.com/dimenwarper/rnapipey/internal/types"
)

// SimRNA adapts the physics-based SimRNA folding engine. It runs one process
// per replica seed (no batch form), is CPU-bound, and consumes the predicted
// secondary structure as a folding restraint when available.
type SimRNA struct {
	cfg config.SimRNAConfig
}

// NewSimRNA returns the SimRNA adapter for the configured binary.
func NewSimRNA(cfg config.SimRNAConfig) *SimRNA {
	return &SimRNA{cfg: cfg}
}

func (s *SimRNA) Name() string { return "simrna" }

func (s *SimRNA) Check() bool {
	if !toolOnPath(s.cfg.Binary) {
		return false
	}
	if s.cfg.DataDir == "" {
		return false
	}
	_, err := os.Stat(s.cfg.DataDir)
	return err == nil
}

// SupportsBatch is false: each SimRNA replica is an independent simulation.
func (s *SimRNA) SupportsBatch() bool { return false }

func (s *SimRNA) Predict(ctx context.Context, in Inputs, member types.EnsembleMember, timeout time.Duration) (Outcome, error) {
	runDir := filepath.Join(in.WorkDir, fmt.Sprintf("run_%d", member.Seed))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Outcome{}, &MemberError{Backend: s.Name(), Seed: member.Seed, Message: "create output directory", Cause: err}
	}

	argv := []string{
		s.cfg.Binary,
		"-s", in.FastaPath,
		"-o", filepath.Join(runDir, fmt.Sprintf("model_%d", member.Seed)),
		"-R", strconv.Itoa(member.Seed),
		"-E", strconv.Itoa(s.cfg.Steps),
	}
	if in.SecondaryStructure != "" {
		ssPath := filepath.Join(runDir, "restraints.ss")
		if err := os.WriteFile(ssPath, []byte(in.SecondaryStructure+"\n"), 0o644); err != nil {
			return Outcome{}, &MemberError{Backend: s.Name(), Seed: member.Seed, Message: "write restraint file", Cause: err}
		}
		argv = append(argv, "-S", ssPath)
	}

	env := []string{"SIMRNA_DATA_DIR=" + s.cfg.DataDir}
	logName := fmt.Sprintf("simrna_seed%d", member.Seed)

	res, err := runCommand(ctx, timeout, runDir, in.LogsDir, logName, argv, env)
	if err != nil {
		return Outcome{}, &MemberError{
			Backend: s.Name(), Seed: member.Seed,
			Message: "simulation failed", Output: tail(res.Stderr), Cause: err,
		}
	}

	pdb := globOne(runDir, "*.pdb")
	if pdb == "" {
		return Outcome{}, &MemberError{
			Backend: s.Name(), Seed: member.Seed,
			Message: "process exited cleanly but emitted no structure file",
		}
	}
	return Outcome{Seed: member.Seed, StructurePath: pdb}, nil
}

// PredictBatch is unsupported; the dispatcher falls back to per-member calls.
func (s *SimRNA) PredictBatch(_ context.Context, _ Inputs, _ []types.EnsembleMember, device string, _ time.Duration) ([]Outcome, error) {
	return nil, &InvocationError{Backend: s.Name(), Device: device, Message: "batch execution not supported"}
}
