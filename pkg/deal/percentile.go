package deal

import "sort"

// averageRanks assigns fractional 1..n ranks by ascending price. Tied prices
// share the average of the rank range they occupy, so two items tied for
// ranks 2 and 3 both get 2.5. The result is index-aligned with the input.
func averageRanks(prices []float64) []float64 {
	n := len(prices)
	ranks := make([]float64, n)
	if n == 0 {
		return ranks
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return prices[order[a]] < prices[order[b]]
	})

	for start := 0; start < n; {
		end := start + 1
		for end < n && prices[order[end]] == prices[order[start]] {
			end++
		}
		// Positions start..end-1 hold ranks start+1..end; ties average them.
		avg := float64(start+1+end) / 2
		for i := start; i < end; i++ {
			ranks[order[i]] = avg
		}
		start = end
	}
	return ranks
}

// rankToPercentile converts a 1..n rank into a 0..1 price percentile,
// 0 = cheapest. A lone item is neutral (0.5) rather than a division by zero;
// whether it deserves a perfect score is the singleton rule's call.
func rankToPercentile(rank float64, groupSize int) float64 {
	if groupSize <= 1 {
		return 0.5
	}
	return (rank - 1) / float64(groupSize-1)
}

// percentileScores computes the 0..1 percentile per input price.
func percentileScores(prices []float64) []float64 {
	ranks := averageRanks(prices)
	out := make([]float64, len(prices))
	for i, r := range ranks {
		out[i] = rankToPercentile(r, len(prices))
	}
	return out
}
