package summary

import "sort"

// counter tallies values and remembers first-occurrence order for tie-breaks.
type counter struct {
	counts map[string]int
	order  []string
	total  int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(v string) {
	if _, seen := c.counts[v]; !seen {
		c.order = append(c.order, v)
	}
	c.counts[v]++
	c.total++
}

// top returns the n most frequent values, ties broken by first occurrence.
func (c *counter) top(n int) []PatternCount {
	ranked := make([]PatternCount, 0, len(c.order))
	for _, v := range c.order {
		ranked = append(ranked, PatternCount{Value: v, Count: c.counts[v]})
	}
	// Stable sort keeps first-occurrence order among equal counts.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
