package domain

import (
	"regexp"
	"testing"
)

func TestNewKeyValueFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[ABCDEFGHJKMNPQRSTUVXYZ23456789]{4}(-[ABCDEFGHJKMNPQRSTUVXYZ23456789]{4}){3}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		value, err := NewKeyValue()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !pattern.MatchString(value) {
			t.Fatalf("unexpected key format %q", value)
		}
		seen[value] = struct{}{}
	}
	if len(seen) < 199 {
		t.Fatalf("expected unique keys, got %d distinct of 200", len(seen))
	}
}

func TestIsAllowedDuration(t *testing.T) {
	for _, days := range []int{1, 3, 30} {
		if !IsAllowedDuration(days) {
			t.Fatalf("expected %d to be allowed", days)
		}
	}
	for _, days := range []int{0, -1, 7, 365} {
		if IsAllowedDuration(days) {
			t.Fatalf("expected %d to be rejected", days)
		}
	}
}
