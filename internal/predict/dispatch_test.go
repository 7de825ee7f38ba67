package predict

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimenwarper/rnapipey/internal/types"
)

// fakeBackend records how it was invoked and fails the seeds listed in
// failSeeds.
type fakeBackend struct {
	name  string
	batch bool

	mu          sync.Mutex
	predictLog  []int    // seeds given to Predict
	batchLog    []string // devices given to PredictBatch
	failSeeds   map[int]bool
	invocations int
}

func (f *fakeBackend) Name() string        { return f.name }
func (f *fakeBackend) Check() bool         { return true }
func (f *fakeBackend) SupportsBatch() bool { return f.batch }

func (f *fakeBackend) Predict(_ context.Context, _ Inputs, member types.EnsembleMember, _ time.Duration) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictLog = append(f.predictLog, member.Seed)
	f.invocations++
	if f.failSeeds[member.Seed] {
		return Outcome{}, &MemberError{Backend: f.name, Seed: member.Seed, Message: "boom"}
	}
	return Outcome{Seed: member.Seed, StructurePath: fmt.Sprintf("/out/model_%d.pdb", member.Seed)}, nil
}

func (f *fakeBackend) PredictBatch(_ context.Context, _ Inputs, members []types.EnsembleMember, device string, _ time.Duration) ([]Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchLog = append(f.batchLog, device)
	f.invocations++
	outcomes := make([]Outcome, len(members))
	for i, m := range members {
		outcomes[i] = Outcome{Seed: m.Seed, StructurePath: fmt.Sprintf("/out/model_%d.pdb", m.Seed)}
		if f.failSeeds[m.Seed] {
			outcomes[i] = Outcome{Seed: m.Seed, FailureReason: "no structure emitted"}
		}
	}
	return outcomes, nil
}

func planMembers(backend string, devices []string, n int) []types.EnsembleMember {
	members := make([]types.EnsembleMember, n)
	for i := range members {
		members[i] = types.EnsembleMember{Backend: backend, Seed: i, Device: devices[i%len(devices)]}
	}
	return members
}

func TestDispatcher_PerMemberExecution(t *testing.T) {
	backend := &fakeBackend{name: "simrna"}
	d := &Dispatcher{Timeout: time.Minute}
	members := planMembers("simrna", []string{"cpu"}, 3)

	result, err := d.Run(context.Background(), backend, members, Inputs{})
	require.NoError(t, err)
	require.Len(t, result.Members, 3)

	assert.Equal(t, []int{0, 1, 2}, backend.predictLog, "single device runs seeds in order")
	for i, m := range result.Members {
		assert.False(t, m.Failed)
		assert.Equal(t, fmt.Sprintf("/out/model_%d.pdb", i), m.StructurePath)
	}
}

func TestDispatcher_BatchPerDevice(t *testing.T) {
	backend := &fakeBackend{name: "rhofold", batch: true}
	d := &Dispatcher{Timeout: time.Minute}
	members := planMembers("rhofold", []string{"cuda:0", "cuda:1"}, 4)

	result, err := d.Run(context.Background(), backend, members, Inputs{})
	require.NoError(t, err)

	assert.Empty(t, backend.predictLog, "batch-capable backend never gets per-member calls")
	assert.ElementsMatch(t, []string{"cuda:0", "cuda:1"}, backend.batchLog, "one invocation per device")
	assert.Equal(t, 2, backend.invocations)
	for _, m := range result.Members {
		assert.False(t, m.Failed)
	}
}

func TestDispatcher_ForcePerMemberDisablesBatch(t *testing.T) {
	backend := &fakeBackend{name: "rhofold", batch: true}
	d := &Dispatcher{Timeout: time.Minute, ForcePerMember: true}
	members := planMembers("rhofold", []string{"cpu"}, 3)

	_, err := d.Run(context.Background(), backend, members, Inputs{})
	require.NoError(t, err)
	assert.Len(t, backend.predictLog, 3)
	assert.Empty(t, backend.batchLog)
}

func TestDispatcher_SingleMemberSkipsBatch(t *testing.T) {
	backend := &fakeBackend{name: "rhofold", batch: true}
	d := &Dispatcher{Timeout: time.Minute}
	members := planMembers("rhofold", []string{"cpu"}, 1)

	_, err := d.Run(context.Background(), backend, members, Inputs{})
	require.NoError(t, err)
	assert.Len(t, backend.predictLog, 1, "a batch of one is just a per-member call")
}

func TestDispatcher_MemberFailureDoesNotAbortEnsemble(t *testing.T) {
	backend := &fakeBackend{name: "simrna", failSeeds: map[int]bool{1: true}}
	d := &Dispatcher{Timeout: time.Minute}
	members := planMembers("simrna", []string{"cpu"}, 3)

	result, err := d.Run(context.Background(), backend, members, Inputs{})
	require.NoError(t, err)

	assert.False(t, result.Members[0].Failed)
	assert.True(t, result.Members[1].Failed)
	assert.Contains(t, result.Members[1].FailureReason, "boom")
	assert.False(t, result.Members[2].Failed, "seeds after a failure still run")
}

func TestDispatcher_BatchSeedFailureRecordedPerMember(t *testing.T) {
	backend := &fakeBackend{name: "rhofold", batch: true, failSeeds: map[int]bool{0: true}}
	d := &Dispatcher{Timeout: time.Minute}
	members := planMembers("rhofold", []string{"cuda:0"}, 2)

	result, err := d.Run(context.Background(), backend, members, Inputs{})
	require.NoError(t, err)

	assert.True(t, result.Members[0].Failed)
	assert.Equal(t, "no structure emitted", result.Members[0].FailureReason)
	assert.False(t, result.Members[1].Failed)
}

func TestDispatcher_EmptyPlan(t *testing.T) {
	backend := &fakeBackend{name: "simrna"}
	d := &Dispatcher{}

	result, err := d.Run(context.Background(), backend, nil, Inputs{})
	require.NoError(t, err)
	assert.Empty(t, result.Members)
	assert.Zero(t, backend.invocations)
}

func TestDispatcher_DoesNotMutateInputSlice(t *testing.T) {
	backend := &fakeBackend{name: "simrna"}
	d := &Dispatcher{Timeout: time.Minute}
	members := planMembers("simrna", []string{"cpu"}, 2)

	result, err := d.Run(context.Background(), backend, members, Inputs{})
	require.NoError(t, err)

	assert.Empty(t, members[0].StructurePath, "caller's slice stays untouched")
	assert.NotEmpty(t, result.Members[0].StructurePath)
}

func TestGroupByDevice_PreservesFirstAppearanceOrder(t *testing.T) {
	members := []types.EnsembleMember{
		{Seed: 0, Device: "cuda:1"},
		{Seed: 1, Device: "cuda:0"},
		{Seed: 2, Device: "cuda:1"},
	}
	groups := groupByDevice(members)
	require.Len(t, groups, 2)
	assert.Equal(t, "cuda:1", groups[0].device)
	assert.Equal(t, []int{0, 2}, groups[0].indices)
	assert.Equal(t, "cuda:0", groups[1].device)
	assert.Equal(t, []int{1}, groups[1].indices)
}
