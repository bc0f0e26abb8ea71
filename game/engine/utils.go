package engine

import "fmt"

// SuggestName returns base_i for the smallest i in [1, MaxNameSuffix] for
// which taken reports false, or base_fallback when every suffix is taken.
func SuggestName(base string, taken func(name string) bool) string {
	for i := 1; i <= MaxNameSuffix; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
	return base + "_fallback"
}

// SuggestNameFromSet is SuggestName over a set of taken names
func SuggestNameFromSet(base string, names map[string]struct{}) string {
	return SuggestName(base, func(name string) bool {
		_, ok := names[name]
		return ok
	})
}
