package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****PQRS", MaskSecret("ABCD-EFGH-JKMN-PQRS"))
	assert.Equal(t, "****", MaskSecret("AB"))
	assert.Equal(t, "kg_****7890", MaskSecret("kg_1234567890"))
}

func TestMaskMetadataOnlyTouchesSecretFields(t *testing.T) {
	got := MaskMetadata(map[string]any{
		"key":           "ABCD-EFGH-JKMN-PQRS",
		"keys":          []string{"ABCD-EFGH-JKMN-PQRS", "ZZZZ-YYYY-XXXX-2345"},
		"duration_days": 30,
		"assigned":      "buyer@example.com",
		"nested":        map[string]any{"code": "ABCD-EFGH-JKMN-PQRS", "count": 2},
		" ":             "dropped",
	})

	assert.Equal(t, "****PQRS", got["key"])
	assert.Equal(t, []string{"****PQRS", "****2345"}, got["keys"])
	assert.Equal(t, 30, got["duration_days"])
	assert.Equal(t, "buyer@example.com", got["assigned"])
	assert.Equal(t, map[string]any{"code": "****PQRS", "count": 2}, got["nested"])
	assert.NotContains(t, got, " ")
}

func TestMaskMetadataEmpty(t *testing.T) {
	assert.Nil(t, MaskMetadata(nil))
	assert.Nil(t, MaskMetadata(map[string]any{"": "x"}))
}
