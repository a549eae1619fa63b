package storage

import "sort"

// ComputeGaps returns the ranges of [from, to] not covered by numbers.
// numbers may be unsorted and may contain values outside the range.
func ComputeGaps(numbers []int64, from, to int64) []Gap {
	if from > to {
		return nil
	}

	present := make([]int64, 0, len(numbers))
	for _, n := range numbers {
		if n >= from && n <= to {
			present = append(present, n)
		}
	}
	sort.Slice(present, func(i, j int) bool { return present[i] < present[j] })

	var gaps []Gap
	prev := from - 1
	for _, n := range present {
		if n-prev > 1 {
			gaps = append(gaps, Gap{FromBlock: prev + 1, ToBlock: n - 1})
		}
		if n > prev {
			prev = n
		}
	}
	if to-prev > 0 {
		gaps = append(gaps, Gap{FromBlock: prev + 1, ToBlock: to})
	}
	return gaps
}
