package spell

// Distance returns the Levenshtein distance between a and b, or limit+1 as
// soon as the distance is known to exceed limit. It compares runes.
func Distance(a, b string, limit int) int {
	if a == b {
		return 0
	}
	s1, s2 := []rune(a), []rune(b)
	if abs(len(s1)-len(s2)) > limit {
		return limit + 1
	}
	if len(s1) > len(s2) {
		s1, s2 = s2, s1
	}

	prev := make([]int, len(s1)+1)
	curr := make([]int, len(s1)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s2); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(s1); j++ {
			cost := 1
			if s1[j-1] == s2[i-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, curr = curr, prev
	}
	return prev[len(s1)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
