package ensemble

import (
	"fmt"
	"sort"

	"github.com/dimenwarper/rnapipey/internal/types"
)

// Cluster groups an ensemble's successful members by pairwise backbone RMSD
// and picks one representative per cluster.
//
// Failed members are excluded up front, not counted. A single successful
// member yields the trivial singleton cluster without any RMSD computation.
// Otherwise: the full symmetric RMSD matrix is computed, pairs are merged
// greedily in ascending-RMSD order whenever the pair falls below cutoff
// (single linkage), the representative is the cluster medoid (lowest mean RMSD
// to the rest, ties broken by lowest seed index), and the final clusters are
// ordered by descending population, then ascending representative seed.
//
// The returned clusters reference members by index into result.Members and
// must not outlive the result.
func Cluster(result *types.EnsembleResult, cutoff float64) ([]types.StructureCluster, error) {
	ok := result.SuccessfulIndices()
	if len(ok) == 0 {
		return nil, nil
	}
	if len(ok) == 1 {
		return []types.StructureCluster{{Representative: ok[0], Members: []int{ok[0]}}}, nil
	}

	coords := make([][][3]float64, len(ok))
	for i, idx := range ok {
		c, err := ExtractBackboneCoords(result.Members[idx].StructurePath)
		if err != nil {
			return nil, err
		}
		coords[i] = c
	}

	n := len(ok)
	rmsd := make([][]float64, n)
	for i := range rmsd {
		rmsd[i] = make([]float64, n)
	}
	type pair struct {
		i, j int
		d    float64
	}
	var pairs []pair
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, err := RMSD(coords[i], coords[j])
			if err != nil {
				return nil, &InputError{
					Message: fmt.Sprintf("members seed %d and seed %d are not comparable",
						result.Members[ok[i]].Seed, result.Members[ok[j]].Seed),
					Cause: err,
				}
			}
			rmsd[i][j], rmsd[j][i] = d, d
			pairs = append(pairs, pair{i: i, j: j, d: d})
		}
	}

	// Greedy single-linkage agglomeration over a union-find forest.
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].d != pairs[b].d {
			return pairs[a].d < pairs[b].d
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, p := range pairs {
		if p.d >= cutoff {
			break
		}
		ri, rj := find(p.i), find(p.j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	groups := map[int][]int{}
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	clusters := make([]types.StructureCluster, 0, len(groups))
	for _, local := range groups {
		clusters = append(clusters, buildCluster(result, ok, local, rmsd))
	}

	sort.Slice(clusters, func(a, b int) bool {
		if len(clusters[a].Members) != len(clusters[b].Members) {
			return len(clusters[a].Members) > len(clusters[b].Members)
		}
		return result.Members[clusters[a].Representative].Seed < result.Members[clusters[b].Representative].Seed
	})
	return clusters, nil
}

// buildCluster computes intra-cluster statistics and the medoid for one group
// of local indices (positions within the successful-member subset).
func buildCluster(result *types.EnsembleResult, ok, local []int, rmsd [][]float64) types.StructureCluster {
	members := make([]int, len(local))
	for i, li := range local {
		members[i] = ok[li]
	}
	sort.Ints(members)

	if len(local) == 1 {
		return types.StructureCluster{Representative: members[0], Members: members}
	}

	var sum, maxD float64
	count := 0
	for a := 0; a < len(local); a++ {
		for b := a + 1; b < len(local); b++ {
			d := rmsd[local[a]][local[b]]
			sum += d
			if d > maxD {
				maxD = d
			}
			count++
		}
	}

	best, bestMean, bestSeed := -1, 0.0, 0
	for _, la := range local {
		mean := 0.0
		for _, lb := range local {
			if la != lb {
				mean += rmsd[la][lb]
			}
		}
		mean /= float64(len(local) - 1)
		seed := result.Members[ok[la]].Seed
		if best < 0 || mean < bestMean || (mean == bestMean && seed < bestSeed) {
			best, bestMean, bestSeed = ok[la], mean, seed
		}
	}

	return types.StructureCluster{
		Representative: best,
		Members:        members,
		MeanRMSD:       sum / float64(count),
		MaxRMSD:        maxD,
	}
}
