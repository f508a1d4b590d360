package config

import "math/rand"

// WeightedEntry is one phrase with its selection weight. The JSON field names
// match the launch document, where weights are expressed as percentages.
type WeightedEntry struct {
	Text   string `json:"entry"`
	Weight int    `json:"percentage"`
}

// WeightedList holds phrases sampled proportionally to their weights.
// Sampling draws directly over the declared weights rather than expanding
// into a fixed-size slot array, so small weights are not skewed by rounding.
type WeightedList []WeightedEntry

// Pick returns one entry drawn proportionally to the weights. Entries with
// non-positive weight are never selected unless the whole list carries no
// positive weight, in which case the draw is uniform. An empty list returns "".
func (l WeightedList) Pick(rng *rand.Rand) string {
	if len(l) == 0 {
		return ""
	}
	total := 0
	for _, e := range l {
		if e.Weight > 0 {
			total += e.Weight
		}
	}
	if total <= 0 {
		return l[rng.Intn(len(l))].Text
	}
	n := rng.Intn(total)
	for _, e := range l {
		if e.Weight <= 0 {
			continue
		}
		if n < e.Weight {
			return e.Text
		}
		n -= e.Weight
	}
	return l[len(l)-1].Text
}
