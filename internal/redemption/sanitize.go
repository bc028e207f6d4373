package redemption

import "strings"

const (
	MinKeyLength = 8
	MaxKeyLength = 20
)

// Sanitize trims surrounding whitespace and accepts only [A-Za-z0-9-] with a
// length in [MinKeyLength, MaxKeyLength]. Any other character rejects the
// input; nothing is stripped silently. Accepted keys are upper-cased to match
// the generated alphabet.
func Sanitize(raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if len(value) < MinKeyLength || len(value) > MaxKeyLength {
		return "", false
	}
	for i := 0; i < len(value); i++ {
		if !allowedKeyByte(value[i]) {
			return "", false
		}
	}
	return strings.ToUpper(value), true
}

func allowedKeyByte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-':
		return true
	}
	return false
}
