package lottery

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Sample picks k distinct indexes from weights without replacement, each
// draw proportional to weight (Efraimidis-Spirakis A-Res: keep the k largest
// keys u^(1/w)). Zero or negative weights are never picked.
func Sample(weights []float64, k int, rng *rand.Rand) []int {
	type keyed struct {
		idx int
		key float64
	}
	keys := make([]keyed, 0, len(weights))
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		keys = append(keys, keyed{idx: i, key: math.Pow(rng.Float64(), 1/w)})
	}
	slices.SortFunc(keys, func(a, b keyed) int {
		switch {
		case a.key > b.key:
			return -1
		case a.key < b.key:
			return 1
		}
		return a.idx - b.idx
	})
	k = max(0, min(k, len(keys)))
	out := make([]int, k)
	for i := range out {
		out[i] = keys[i].idx
	}
	slices.Sort(out)
	return out
}
