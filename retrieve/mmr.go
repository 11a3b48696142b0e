package retrieve

import (
	"math"
	"strings"
)

const mmrLambda = 0.7

// wordSet lowers and splits text into its unique words.
func wordSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

// wordCosine is cosine similarity over word sets, |A∩B| / (√|A|·√|B|).
// Deliberately lightweight: rerank already did the semantic work, this
// only has to notice near-identical passages.
func wordCosine(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	var inter int
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	return float64(inter) / (math.Sqrt(float64(len(a))) * math.Sqrt(float64(len(b))))
}

// mmrSelect greedily picks k documents balancing relevance against
// similarity to what is already selected. cands must be sorted by
// descending relevance; the first pick is cands[0].
func mmrSelect(cands []Document, k int) []Document {
	if len(cands) <= 1 || k <= 1 {
		if len(cands) > k {
			cands = cands[:k]
		}
		return cands
	}

	sets := make([]map[string]struct{}, len(cands))
	for i, c := range cands {
		sets[i] = wordSet(c.Text)
	}

	selected := make([]Document, 0, k)
	selIdx := make([]int, 0, k)
	picked := make([]bool, len(cands))

	selected = append(selected, cands[0])
	selIdx = append(selIdx, 0)
	picked[0] = true

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i, c := range cands {
			if picked[i] {
				continue
			}
			maxSim := 0.0
			for _, j := range selIdx {
				if sim := wordCosine(sets[i], sets[j]); sim > maxSim {
					maxSim = sim
				}
			}
			score := mmrLambda*c.Score - (1-mmrLambda)*maxSim
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, cands[best])
		selIdx = append(selIdx, best)
		picked[best] = true
	}
	return selected
}
