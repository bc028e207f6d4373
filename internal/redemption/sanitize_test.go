package redemption

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{raw: "ABCD-EFGH", want: "ABCD-EFGH", ok: true},
		{raw: "  abcd-efgh\t", want: "ABCD-EFGH", ok: true},
		{raw: "ABCD-EFGH-JKMN-PQRS", want: "ABCD-EFGH-JKMN-PQRS", ok: true},
		{raw: "12345678901234567890", want: "12345678901234567890", ok: true},
		{raw: "1234567", ok: false},
		{raw: "123456789012345678901", ok: false},
		{raw: "abc def!", ok: false},
		{raw: "ABCD EFGH", ok: false},
		{raw: "ABCD_EFGH", ok: false},
		{raw: "ABCD'--EFGH", ok: false},
		{raw: "ключключключ", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := Sanitize(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
