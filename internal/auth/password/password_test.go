package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStrength(t *testing.T) {
	cases := []struct {
		name     string
		password string
		want     error
	}{
		{name: "three classes", password: "Catalog2026", want: nil},
		{name: "special counts", password: "catalog-2026!", want: nil},
		{name: "lower and digits only", password: "catalog2026", want: ErrTooSimple},
		{name: "hyphen is not special", password: "catalog-home", want: ErrTooSimple},
		{name: "too short", password: "Ab1!", want: ErrTooShort},
		{name: "padding does not count", password: "  Ab1!x  ", want: ErrTooShort},
		{name: "at max length", password: strings.Repeat("Ab1", 42) + "xy", want: nil},
		{name: "over max length", password: strings.Repeat("Ab1", 43), want: ErrTooLong},
		{name: "cyrillic letters", password: "Пароль2026", want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckStrength(tc.password)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCheckLengthIgnoresCharacterClasses(t *testing.T) {
	assert.NoError(t, CheckLength("alice-password"))
	assert.ErrorIs(t, CheckLength(strings.Repeat("a", MaxLength+1)), ErrTooLong)
}

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("Catalog2026")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"))

	assert.True(t, Verify("Catalog2026", encoded))
	assert.False(t, Verify("catalog2026", encoded))
	assert.False(t, Verify(strings.Repeat("a", MaxLength+1), encoded))
	assert.False(t, Verify("Catalog2026", "$bcrypt$nope"))
}
