package util

// Levenshtein computes the edit distance between two strings: the number of
// single-character insertions, deletions, and substitutions it takes to
// transform s1 into s2. Each step in the transformation costs one distance
// point.
//
// Two row-slices of the full distance matrix are enough working state, since
// row i depends only on row i-1.
func Levenshtein(s1, s2 string) int {
	r1 := []byte(s1)
	r2 := []byte(s2)
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	cur := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		cur[0] = i
		for j := 1; j <= len(r2); j++ {
			downValue := prev[j] + 1
			rightValue := cur[j-1] + 1
			diagonalValue := prev[j-1]
			if r1[i-1] != r2[j-1] {
				diagonalValue++
			}

			minValue := downValue
			if diagonalValue < minValue {
				minValue = diagonalValue
			}
			if rightValue < minValue {
				minValue = rightValue
			}
			cur[j] = minValue
		}
		prev, cur = cur, prev
	}
	return prev[len(r2)]
}

// Nearest returns the candidate with the smallest Levenshtein distance to
// name, provided that distance is at most maxDist. The second return value is
// false when no candidate qualifies. Ties go to the earliest candidate, so
// the result is deterministic for a fixed candidate order.
func Nearest(name string, candidates []string, maxDist int) (string, bool) {
	best := ""
	bestDist := maxDist + 1
	for _, c := range candidates {
		if d := Levenshtein(name, c); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best, bestDist <= maxDist
}
