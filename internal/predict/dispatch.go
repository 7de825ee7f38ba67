package predict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dimenwarper/rnapipey/internal/types"
)

// Dispatcher turns a planned member list into an EnsembleResult by invoking
// the backend's external processes.
//
// Scheduling model: one concurrent task per distinct device; members sharing a
// device run sequentially (backends assume exclusive device access). Batch-
// capable backends get one invocation per device carrying all of that device's
// seeds; others get one invocation per member. A member failure is recorded on
// the member and never aborts the rest of the ensemble.
type Dispatcher struct {
	Timeout        time.Duration
	ForcePerMember bool
	Verbose        bool
}

// Run executes every member and returns the ensemble in seed order. The only
// returned error is context cancellation; execution failures live on the
// members themselves.
func (d *Dispatcher) Run(ctx context.Context, backend Backend, members []types.EnsembleMember, in Inputs) (*types.EnsembleResult, error) {
	result := &types.EnsembleResult{
		Backend: backend.Name(),
		Members: append([]types.EnsembleMember(nil), members...),
	}
	if len(members) == 0 {
		return result, nil
	}

	groups := groupByDevice(members)

	var mu sync.Mutex
	apply := func(idx int, out Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		m := &result.Members[idx]
		switch {
		case err != nil:
			m.Failed = true
			m.FailureReason = err.Error()
		case out.FailureReason != "":
			m.Failed = true
			m.FailureReason = out.FailureReason
		default:
			m.StructurePath = out.StructurePath
			m.SecondaryStructurePath = out.SecondaryStructurePath
			m.DistogramPath = out.DistogramPath
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			if backend.SupportsBatch() && !d.ForcePerMember && len(grp.indices) > 1 {
				d.runBatch(gCtx, backend, result, grp, in, apply)
			} else {
				d.runPerMember(gCtx, backend, result, grp, in, apply)
			}
			return gCtx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("dispatch interrupted: %w", err)
	}
	return result, nil
}

func (d *Dispatcher) runBatch(ctx context.Context, backend Backend, result *types.EnsembleResult, grp deviceGroup, in Inputs, apply func(int, Outcome, error)) {
	batch := make([]types.EnsembleMember, len(grp.indices))
	for i, idx := range grp.indices {
		batch[i] = result.Members[idx]
	}

	if d.Verbose {
		fmt.Printf("[%s] batch of %d seeds on %s\n", backend.Name(), len(batch), grp.device)
	}

	outcomes, err := backend.PredictBatch(ctx, in, batch, grp.device, d.Timeout)
	if err != nil {
		for _, idx := range grp.indices {
			apply(idx, Outcome{}, err)
		}
		return
	}
	for i, idx := range grp.indices {
		apply(idx, outcomes[i], nil)
	}
}

func (d *Dispatcher) runPerMember(ctx context.Context, backend Backend, result *types.EnsembleResult, grp deviceGroup, in Inputs, apply func(int, Outcome, error)) {
	for _, idx := range grp.indices {
		member := result.Members[idx]
		if d.Verbose {
			fmt.Printf("[%s] seed %d on %s\n", backend.Name(), member.Seed, grp.device)
		}
		out, err := backend.Predict(ctx, in, member, d.Timeout)
		apply(idx, out, err)
		if ctx.Err() != nil {
			return
		}
	}
}

type deviceGroup struct {
	device  string
	indices []int
}

// groupByDevice partitions member indices by assigned device, preserving both
// the order devices first appear and the seed order within each device.
func groupByDevice(members []types.EnsembleMember) []deviceGroup {
	var groups []deviceGroup
	byDevice := map[string]int{}
	for i, m := range members {
		gi, ok := byDevice[m.Device]
		if !ok {
			gi = len(groups)
			byDevice[m.Device] = gi
			groups = append(groups, deviceGroup{device: m.Device})
		}
		groups[gi].indices = append(groups[gi].indices, i)
	}
	return groups
}
