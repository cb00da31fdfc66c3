package matcher

// similarity is a character-level sequence ratio in [0, 1]: twice the total
// length of the matching blocks divided by the combined length. Matching
// blocks are found by recursively splitting around the longest common
// substring, which keeps the score order-sensitive without the cost of a
// full edit distance.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matched := matchingSize([]rune(a), []rune(b))
	return 2.0 * float64(matched) / float64(len([]rune(a))+len([]rune(b)))
}

type span struct {
	aLo, aHi int
	bLo, bHi int
}

// matchingSize sums the lengths of all matching blocks between a and b.
func matchingSize(a, b []rune) int {
	total := 0
	stack := []span{{0, len(a), 0, len(b)}}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ai, bi, size := longestMatch(a, b, s)
		if size == 0 {
			continue
		}
		total += size

		if ai > s.aLo && bi > s.bLo {
			stack = append(stack, span{s.aLo, ai, s.bLo, bi})
		}
		if ai+size < s.aHi && bi+size < s.bHi {
			stack = append(stack, span{ai + size, s.aHi, bi + size, s.bHi})
		}
	}

	return total
}

// longestMatch finds the longest common substring of a[aLo:aHi] and
// b[bLo:bHi], returning its start positions and length.
func longestMatch(a, b []rune, s span) (int, int, int) {
	bestA, bestB, bestSize := s.aLo, s.bLo, 0

	// lengths[j] is the match length ending at a[i], b[j].
	lengths := make(map[int]int)
	for i := s.aLo; i < s.aHi; i++ {
		next := make(map[int]int)
		for j := s.bLo; j < s.bHi; j++ {
			if a[i] != b[j] {
				continue
			}
			k := lengths[j-1] + 1
			next[j] = k
			if k > bestSize {
				bestA = i - k + 1
				bestB = j - k + 1
				bestSize = k
			}
		}
		lengths = next
	}

	return bestA, bestB, bestSize
}
