package recommend

import "strings"

// JaccardSimilarity computes token-set Jaccard similarity between two
// strings: |intersection| / |union| over lowercase whitespace-delimited
// tokens. The second return value is false when the union is empty (both
// strings blank), where similarity is undefined and the candidate should
// be skipped rather than scored zero.
func JaccardSimilarity(a, b string) (float64, bool) {
	aTokens := tokenSet(a)
	bTokens := tokenSet(b)

	union := make(map[string]struct{}, len(aTokens)+len(bTokens))
	for t := range aTokens {
		union[t] = struct{}{}
	}
	for t := range bTokens {
		union[t] = struct{}{}
	}
	if len(union) == 0 {
		return 0, false
	}

	intersection := 0
	for t := range aTokens {
		if _, ok := bTokens[t]; ok {
			intersection++
		}
	}

	return float64(intersection) / float64(len(union)), true
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
