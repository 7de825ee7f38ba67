package ensemble

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimenwarper/rnapipey/internal/types"
)

// writeMember writes a 4-atom backbone structure and returns its path.
func writeMember(t *testing.T, dir, name string, coords [][3]float64) string {
	t.Helper()
	var lines []string
	for i, c := range coords {
		lines = append(lines, pdbLine(i+1, "P", i+1, c[0], c[1], c[2]))
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// lineShape and squareShape have incompatible internal geometry, so their
// superposed RMSD is large no matter how they are positioned.
func lineShape(jitter float64) [][3]float64 {
	return [][3]float64{{0, jitter, 0}, {3, 0, 0}, {6, 0, jitter}, {9, 0, 0}}
}

func squareShape(jitter float64) [][3]float64 {
	return [][3]float64{{0, jitter, 0}, {3, 0, 0}, {3, 3, jitter}, {0, 3, 0}}
}

func memberFor(backend string, seed int, path string) types.EnsembleMember {
	return types.EnsembleMember{Backend: backend, Seed: seed, StructurePath: path}
}

func TestCluster_TwoDistinctGroups(t *testing.T) {
	dir := t.TempDir()
	result := &types.EnsembleResult{
		Backend: "rhofold",
		Members: []types.EnsembleMember{
			memberFor("rhofold", 0, writeMember(t, dir, "m0.pdb", lineShape(0))),
			memberFor("rhofold", 1, writeMember(t, dir, "m1.pdb", lineShape(0.1))),
			memberFor("rhofold", 2, writeMember(t, dir, "m2.pdb", squareShape(0))),
			memberFor("rhofold", 3, writeMember(t, dir, "m3.pdb", squareShape(0.1))),
		},
	}

	clusters, err := Cluster(result, 1.0)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	// Equal populations tie-break by representative seed.
	assert.Equal(t, []int{0, 1}, clusters[0].Members)
	assert.Equal(t, []int{2, 3}, clusters[1].Members)
	assert.Less(t, clusters[0].MeanRMSD, 1.0)
	assert.Less(t, clusters[1].MeanRMSD, 1.0)
}

func TestCluster_OrderedByPopulationDescending(t *testing.T) {
	dir := t.TempDir()
	result := &types.EnsembleResult{
		Backend: "rhofold",
		Members: []types.EnsembleMember{
			memberFor("rhofold", 0, writeMember(t, dir, "m0.pdb", squareShape(0))),
			memberFor("rhofold", 1, writeMember(t, dir, "m1.pdb", lineShape(0))),
			memberFor("rhofold", 2, writeMember(t, dir, "m2.pdb", lineShape(0.1))),
		},
	}

	clusters, err := Cluster(result, 1.0)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, []int{1, 2}, clusters[0].Members, "larger cluster first")
	assert.Equal(t, []int{0}, clusters[1].Members)
}

func TestCluster_Deterministic(t *testing.T) {
	dir := t.TempDir()
	result := &types.EnsembleResult{
		Backend: "rhofold",
		Members: []types.EnsembleMember{
			memberFor("rhofold", 0, writeMember(t, dir, "m0.pdb", lineShape(0))),
			memberFor("rhofold", 1, writeMember(t, dir, "m1.pdb", lineShape(0.2))),
			memberFor("rhofold", 2, writeMember(t, dir, "m2.pdb", squareShape(0))),
		},
	}

	first, err := Cluster(result, 1.0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Cluster(result, 1.0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCluster_MedoidRepresentative(t *testing.T) {
	dir := t.TempDir()
	// Three members along one deformation axis; the middle one minimizes the
	// mean distance to the others.
	result := &types.EnsembleResult{
		Backend: "rhofold",
		Members: []types.EnsembleMember{
			memberFor("rhofold", 0, writeMember(t, dir, "m0.pdb", lineShape(0))),
			memberFor("rhofold", 1, writeMember(t, dir, "m1.pdb", lineShape(0.4))),
			memberFor("rhofold", 2, writeMember(t, dir, "m2.pdb", lineShape(0.8))),
		},
	}

	clusters, err := Cluster(result, 5.0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 1, clusters[0].Representative)
	assert.Equal(t, []int{0, 1, 2}, clusters[0].Members)
}

func TestCluster_MedoidTieBreaksOnLowestSeed(t *testing.T) {
	dir := t.TempDir()
	// Identical structures: every member is an equally good medoid.
	path0 := writeMember(t, dir, "m0.pdb", lineShape(0))
	path1 := writeMember(t, dir, "m1.pdb", lineShape(0))
	path2 := writeMember(t, dir, "m2.pdb", lineShape(0))
	result := &types.EnsembleResult{
		Backend: "rhofold",
		Members: []types.EnsembleMember{
			memberFor("rhofold", 0, path0),
			memberFor("rhofold", 1, path1),
			memberFor("rhofold", 2, path2),
		},
	}

	clusters, err := Cluster(result, 5.0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 0, clusters[0].Representative)
}

func TestCluster_FailedMembersExcluded(t *testing.T) {
	dir := t.TempDir()
	result := &types.EnsembleResult{
		Backend: "rhofold",
		Members: []types.EnsembleMember{
			memberFor("rhofold", 0, writeMember(t, dir, "m0.pdb", lineShape(0))),
			{Backend: "rhofold", Seed: 1, Failed: true, FailureReason: "timed out"},
			memberFor("rhofold", 2, writeMember(t, dir, "m2.pdb", lineShape(0.1))),
		},
	}

	clusters, err := Cluster(result, 1.0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, []int{0, 2}, clusters[0].Members, "failed member never appears")
}

func TestCluster_SingleMember(t *testing.T) {
	dir := t.TempDir()
	result := &types.EnsembleResult{
		Backend: "simrna",
		Members: []types.EnsembleMember{
			memberFor("simrna", 0, writeMember(t, dir, "m0.pdb", lineShape(0))),
		},
	}

	clusters, err := Cluster(result, 1.0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 0, clusters[0].Representative)
	assert.Zero(t, clusters[0].MeanRMSD)
}

func TestCluster_NoSuccessfulMembers(t *testing.T) {
	result := &types.EnsembleResult{
		Backend: "simrna",
		Members: []types.EnsembleMember{
			{Backend: "simrna", Seed: 0, Failed: true},
		},
	}

	clusters, err := Cluster(result, 1.0)
	require.NoError(t, err)
	assert.Nil(t, clusters)
}

func TestCluster_AtomCountMismatchIsInputError(t *testing.T) {
	dir := t.TempDir()
	short := writeMember(t, dir, "short.pdb", [][3]float64{{0, 0, 0}, {3, 0, 0}, {6, 0, 0}})
	result := &types.EnsembleResult{
		Backend: "rhofold",
		Members: []types.EnsembleMember{
			memberFor("rhofold", 0, writeMember(t, dir, "m0.pdb", lineShape(0))),
			memberFor("rhofold", 1, short),
		},
	}

	_, err := Cluster(result, 1.0)
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Contains(t, err.Error(), "seed 0 and seed 1")
}
