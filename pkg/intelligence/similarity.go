package intelligence

import (
	"math"

	"github.com/oceanbase/tiermem-go/pkg/types"
)

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// The formula is: similarity = (A · B) / (||A|| * ||B||)
//
// Returns a value between -1.0 and 1.0, or 0.0 if the vectors have different
// dimensions or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeVector scales v to unit length (L2 norm). A zero vector is
// returned unchanged.
func NormalizeVector(v []float64) []float64 {
	var sum float64
	for _, val := range v {
		sum += val * val
	}
	norm := math.Sqrt(sum)

	if norm == 0 {
		return v
	}

	result := make([]float64, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

// DiversitySample walks vectors in order and admits an item only if its
// similarity to every already admitted item is below threshold. It returns
// the indexes of admitted items, preserving order.
func DiversitySample(vectors [][]float64, threshold float64) []int {
	admitted := make([]int, 0, len(vectors))
	for i, v := range vectors {
		keep := true
		for _, j := range admitted {
			if CosineSimilarity(v, vectors[j]) >= threshold {
				keep = false
				break
			}
		}
		if keep {
			admitted = append(admitted, i)
		}
	}
	return admitted
}

// MergeGroup is a set of near-identical memories that consolidation folds
// into one.
type MergeGroup struct {
	// Target survives the merge. It is the most important member.
	Target *types.Memory

	// Others are soft-deleted after the merge.
	Others []*types.Memory

	// Longest is the member with the longest content. Its content and
	// embedding replace the target's.
	Longest *types.Memory
}

// Size returns the number of memories in the group.
func (g *MergeGroup) Size() int {
	return len(g.Others) + 1
}

// GroupSimilar partitions memories into groups whose members are pairwise
// similar at or above threshold. Memories are considered in order and each
// joins the first group it fits, so the grouping is deterministic for a
// given input order. Only groups with two or more members are returned.
//
// Callers must pass memories of a single (tenant, user) scope.
func GroupSimilar(memories []*types.Memory, threshold float64) []*MergeGroup {
	var clusters [][]*types.Memory
	for _, m := range memories {
		if len(m.Embedding.Vector) == 0 {
			continue
		}
		placed := false
		for ci, cluster := range clusters {
			fits := true
			for _, member := range cluster {
				if CosineSimilarity(m.Embedding.Vector, member.Embedding.Vector) < threshold {
					fits = false
					break
				}
			}
			if fits {
				clusters[ci] = append(cluster, m)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []*types.Memory{m})
		}
	}

	var groups []*MergeGroup
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		target, longest := cluster[0], cluster[0]
		for _, m := range cluster[1:] {
			if m.ImportanceScore > target.ImportanceScore {
				target = m
			}
			if len([]rune(m.Content)) > len([]rune(longest.Content)) {
				longest = m
			}
		}
		g := &MergeGroup{Target: target, Longest: longest}
		for _, m := range cluster {
			if m != target {
				g.Others = append(g.Others, m)
			}
		}
		groups = append(groups, g)
	}
	return groups
}
