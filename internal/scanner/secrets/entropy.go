package secrets

import "math"

// Entropy computes the Shannon entropy H = −Σ p(c)·log2 p(c) over the
// character distribution of s. Repeated low-variety text scores near zero;
// random tokens score above 4.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}

	var h float64
	for _, count := range freq {
		p := float64(count) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
