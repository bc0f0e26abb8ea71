package engine

import (
	"fmt"
	"testing"
)

func nameSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func TestSuggestNameFromSet(t *testing.T) {
	tests := []struct {
		name     string
		taken    map[string]struct{}
		base     string
		expected string
	}{
		{"empty world", nameSet(), "player", "player_1"},
		{"some taken", nameSet("foo_1", "foo_2"), "foo", "foo_3"},
		{"first gap", nameSet("bar_1", "bar_3", "bar_5"), "bar", "bar_2"},
		{"other prefixes ignored", nameSet("alpha_1", "beta_1"), "alpha", "alpha_2"},
		{"special characters", nameSet("player@_1"), "player@", "player@_2"},
		{"empty base", nameSet(), "", "_1"},
		{"unicode base", nameSet("玩家_1"), "玩家", "玩家_2"},
		{"base itself taken", nameSet("bob"), "bob", "bob_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestNameFromSet(tt.base, tt.taken)
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSuggestName_Fallback(t *testing.T) {
	taken := make(map[string]struct{}, MaxNameSuffix)
	for i := 1; i <= MaxNameSuffix; i++ {
		taken[fmt.Sprintf("bar_%d", i)] = struct{}{}
	}

	if got := SuggestNameFromSet("bar", taken); got != "bar_fallback" {
		t.Errorf("Expected bar_fallback, got %q", got)
	}

	delete(taken, "bar_9999")
	if got := SuggestNameFromSet("bar", taken); got != "bar_9999" {
		t.Errorf("Expected bar_9999, got %q", got)
	}
}
