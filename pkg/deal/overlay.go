package deal

import "math/bits"

// overlayDim is one secondary attribute that can perturb the primary score.
type overlayDim struct {
	name   string
	weight float64
	value  func(*item) string
}

// overlayDims returns the secondary dimensions in a fixed order. Adding a
// dimension here is the whole change; subset enumeration picks it up.
func overlayDims() []overlayDim {
	return []overlayDim{
		{name: "fuel", weight: 0.5, value: func(it *item) string { return it.fuel }},
		{name: "transmission", weight: 0.5, value: func(it *item) string { return it.transmission }},
		{name: "color", weight: 0.5, value: func(it *item) string { return it.color }},
		{name: "variant", weight: 0.5, value: func(it *item) string { return it.variant }},
		{name: "accident", weight: 1.0, value: func(it *item) string {
			if it.accident {
				return "accident"
			}
			return "clean"
		}},
	}
}

// dimSubsets enumerates every index subset of size 1..maxSize in a stable
// order. For five dimensions and maxSize 3 this yields 25 subsets.
func dimSubsets(n, maxSize int) [][]int {
	var subsets [][]int
	for mask := 1; mask < 1<<n; mask++ {
		size := bits.OnesCount(uint(mask))
		if size > maxSize {
			continue
		}
		subset := make([]int, 0, size)
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				subset = append(subset, i)
			}
		}
		subsets = append(subsets, subset)
	}
	return subsets
}

// overlayWeight computes the blend weight of one overlay cohort.
//
// Base weight is the mean of the subset's dimension weights, halved for each
// dimension beyond the first. It is then attenuated by how much of the primary
// cohort the overlay covers: a thin overlay contributes at most half its
// nominal weight, a full-coverage overlay the whole of it.
func overlayWeight(dims []overlayDim, subset []int, overlayN, primaryN int) float64 {
	var sum float64
	for _, di := range subset {
		sum += dims[di].weight
	}
	w := sum / float64(len(subset))
	w /= float64(int(1) << (len(subset) - 1))

	coverage := float64(overlayN) / float64(primaryN)
	if coverage > 1 {
		coverage = 1
	}
	return w * (0.5 + 0.5*coverage)
}

// blendOverlays returns the blended score per item: the weighted mean of its
// primary score and 25 overlay percentile scores, all computed over the full
// group. Every overlay partition is computed once per cohort, not once per
// item. The caller decides which results to keep.
func blendOverlays(group []*item) []float64 {
	dims := overlayDims()
	subsets := dimSubsets(len(dims), 3)
	primaryN := len(group)

	type acc struct {
		weightSum float64
		scoreSum  float64
	}
	accs := make([]acc, len(group))
	for i, it := range group {
		// Primary score enters the blend with fixed weight 1.
		accs[i] = acc{weightSum: 1, scoreSum: it.primaryScore}
	}

	for _, subset := range subsets {
		// Partition the primary cohort by the subset's attribute values.
		partitions := make(map[string][]int)
		for i, it := range group {
			key := ""
			for _, di := range subset {
				key += dims[di].value(it) + "\x1f"
			}
			partitions[key] = append(partitions[key], i)
		}

		for _, members := range partitions {
			prices := make([]float64, len(members))
			for j, i := range members {
				prices[j] = group[i].price
			}
			pcts := percentileScores(prices)
			w := overlayWeight(dims, subset, len(members), primaryN)
			for j, i := range members {
				score := (1 - pcts[j]) * 100
				accs[i].weightSum += w
				accs[i].scoreSum += w * score
			}
		}
	}

	scores := make([]float64, len(group))
	for i := range group {
		// Float accumulation can overshoot the bounds by an ulp.
		scores[i] = clamp(accs[i].scoreSum/accs[i].weightSum, 0, 100)
	}
	return scores
}
