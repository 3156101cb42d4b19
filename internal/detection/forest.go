package detection

import (
	"errors"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// Scorer is the outlier model behind the detector. FitScore fits the model to
// the feature matrix and returns one flag per row, true meaning anomalous.
// The number of flagged rows is calibrated by contamination, the expected
// anomalous fraction of the population. Implementations must be deterministic
// for a fixed feature matrix and contamination.
type Scorer interface {
	FitScore(features [][]float64, contamination float64) ([]bool, error)
}

var errNoFeatures = errors.New("feature matrix is empty")

const (
	defaultTrees     = 100
	defaultSubSample = 256
)

// IsolationForest scores outliers by average isolation depth across an
// ensemble of randomly split trees. Points that isolate in fewer splits score
// higher. All randomness comes from the configured seed, so repeated fits on
// the same input produce identical flags.
type IsolationForest struct {
	Trees     int
	SubSample int
	Seed      int64
}

// NewIsolationForest returns a forest with the default ensemble size and the
// given seed.
func NewIsolationForest(seed int64) *IsolationForest {
	return &IsolationForest{
		Trees:     defaultTrees,
		SubSample: defaultSubSample,
		Seed:      seed,
	}
}

// FitScore implements Scorer. The contamination fraction is converted to an
// exact flag count, floor(contamination * rows), and the highest-scoring rows
// are flagged. Score ties are broken by input order.
func (f *IsolationForest) FitScore(features [][]float64, contamination float64) ([]bool, error) {
	n := len(features)
	if n == 0 {
		return nil, errNoFeatures
	}

	rng := rand.New(rand.NewSource(f.Seed))
	sample := f.SubSample
	if sample > n {
		sample = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sample))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	// Accumulate isolation depth per point across the ensemble.
	depths := make([]float64, n)
	for t := 0; t < f.Trees; t++ {
		idx := rng.Perm(n)[:sample]
		root := buildTree(features, idx, 0, heightLimit, rng)
		for i, row := range features {
			depths[i] += root.pathLength(row, 0)
		}
	}

	// Normalised anomaly score per Liu et al.: s = 2^(-E[h(x)] / c(n)).
	norm := averagePathLength(float64(sample))
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = math.Exp2(-(depths[i] / float64(f.Trees)) / norm)
	}

	flags := make([]bool, n)
	k := int(contamination * float64(n))
	if k == 0 {
		return flags, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	for _, i := range order[:k] {
		flags[i] = true
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	log.Debug().
		Int("rows", n).
		Int("flagged", k).
		Float64("score_mean", stat.Mean(scores, nil)).
		Float64("score_stddev", stat.StdDev(scores, nil)).
		Float64("score_cutoff", stat.Quantile(1-contamination, stat.Empirical, sorted, nil)).
		Msg("isolation forest scoring completed")

	return flags, nil
}

// treeNode is a node of one isolation tree. Leaves keep the size of the
// subsample that reached them so truncated paths can be extended by the
// expected depth of an unbuilt subtree.
type treeNode struct {
	splitAttr int
	splitVal  float64
	left      *treeNode
	right     *treeNode
	size      int
	leaf      bool
}

func buildTree(features [][]float64, idx []int, depth, heightLimit int, rng *rand.Rand) *treeNode {
	if depth >= heightLimit || len(idx) <= 1 {
		return &treeNode{leaf: true, size: len(idx)}
	}

	attr := rng.Intn(len(features[idx[0]]))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := features[i][attr]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		// No spread on the chosen attribute, nothing left to isolate.
		return &treeNode{leaf: true, size: len(idx)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var leftIdx, rightIdx []int
	for _, i := range idx {
		if features[i][attr] < split {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}

	return &treeNode{
		splitAttr: attr,
		splitVal:  split,
		left:      buildTree(features, leftIdx, depth+1, heightLimit, rng),
		right:     buildTree(features, rightIdx, depth+1, heightLimit, rng),
	}
}

func (t *treeNode) pathLength(row []float64, depth float64) float64 {
	if t.leaf {
		return depth + averagePathLength(float64(t.size))
	}
	if row[t.splitAttr] < t.splitVal {
		return t.left.pathLength(row, depth+1)
	}
	return t.right.pathLength(row, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// binary search tree lookup over n points.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	harmonic := math.Log(n-1) + eulerMascheroni
	return 2*harmonic - 2*(n-1)/n
}
