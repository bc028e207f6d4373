package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// KeyAlphabet omits glyphs that are easy to confuse when typed by hand (0/O, 1/I/L, W).
	KeyAlphabet = "ABCDEFGHJKMNPQRSTUVXYZ23456789"

	keyGroups    = 4
	keyGroupSize = 4
)

// NewKeyValue returns a random code formatted as XXXX-XXXX-XXXX-XXXX.
func NewKeyValue() (string, error) {
	max := big.NewInt(int64(len(KeyAlphabet)))
	var b strings.Builder
	b.Grow(keyGroups*keyGroupSize + keyGroups - 1)
	for g := 0; g < keyGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < keyGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generate access key: %w", err)
			}
			b.WriteByte(KeyAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}
