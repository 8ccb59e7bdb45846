package anomaly

import (
	"math"
	"math/rand/v2"
)

// treeNode is one node of an isolation tree. External nodes carry the
// size of the subsample that terminated there.
type treeNode struct {
	SplitFeature int       `json:"f,omitempty"`
	SplitValue   float64   `json:"v,omitempty"`
	Left         *treeNode `json:"l,omitempty"`
	Right        *treeNode `json:"r,omitempty"`
	Size         int       `json:"n,omitempty"`
}

// Forest is an isolation-forest outlier ensemble: points that isolate in
// few random splits are anomalous.
type Forest struct {
	Trees         []*treeNode `json:"trees"`
	SubsampleSize int         `json:"subsample_size"`
}

// TrainForest builds an ensemble of the given size over the data, each
// tree grown on a random subsample. The rng makes training reproducible
// for a fixed seed.
func TrainForest(data [][]float64, trees, subsample int, rng *rand.Rand) *Forest {
	if subsample > len(data) {
		subsample = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(subsample))))
	f := &Forest{
		Trees:         make([]*treeNode, 0, trees),
		SubsampleSize: subsample,
	}
	for i := 0; i < trees; i++ {
		sample := sampleWithoutReplacement(data, subsample, rng)
		f.Trees = append(f.Trees, growTree(sample, 0, maxDepth, rng))
	}
	return f
}

// Score returns the ensemble anomaly score for one point, in sklearn's
// decision-function convention: positive toward +0.5 for typical points,
// negative toward -0.5 for isolated ones.
func (f *Forest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.Trees {
		total += pathLength(t, x, 0)
	}
	avgPath := total / float64(len(f.Trees))
	// s in (0, 1]: 0.5 means the point isolates in an average number of
	// splits, values near 1 mean it isolates almost immediately.
	s := math.Pow(2, -avgPath/averagePathLength(float64(f.SubsampleSize)))
	return 0.5 - s
}

func growTree(data [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if depth >= maxDepth || len(data) <= 1 {
		return &treeNode{Size: len(data)}
	}

	feature, lo, hi, ok := pickSplittableFeature(data, rng)
	if !ok {
		// All points identical across every feature.
		return &treeNode{Size: len(data)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{Size: len(data)}
	}

	return &treeNode{
		SplitFeature: feature,
		SplitValue:   split,
		Left:         growTree(left, depth+1, maxDepth, rng),
		Right:        growTree(right, depth+1, maxDepth, rng),
	}
}

// pickSplittableFeature chooses a random feature whose values are not all
// equal, returning its value range.
func pickSplittableFeature(data [][]float64, rng *rand.Rand) (feature int, lo, hi float64, ok bool) {
	dims := len(data[0])
	for _, feature := range rng.Perm(dims) {
		lo, hi := data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			if row[feature] < lo {
				lo = row[feature]
			}
			if row[feature] > hi {
				hi = row[feature]
			}
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

func pathLength(node *treeNode, x []float64, depth float64) float64 {
	if node.Left == nil && node.Right == nil {
		// Unresolved external nodes contribute the expected depth of an
		// unbuilt subtree over their remaining points.
		return depth + averagePathLength(float64(node.Size))
	}
	if x[node.SplitFeature] < node.SplitValue {
		return pathLength(node.Left, x, depth+1)
	}
	return pathLength(node.Right, x, depth+1)
}

// averagePathLength is c(n): the expected path length of an unsuccessful
// BST search over n points, used to normalize isolation depths.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*harmonic(n-1) - 2*(n-1)/n
}

const eulerMascheroni = 0.5772156649015329

func harmonic(i float64) float64 {
	return math.Log(i) + eulerMascheroni
}

func sampleWithoutReplacement(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	if k >= len(data) {
		return data
	}
	picked := rng.Perm(len(data))[:k]
	out := make([][]float64, 0, k)
	for _, idx := range picked {
		out = append(out, data[idx])
	}
	return out
}
