package redemption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	cases := []struct {
		header string
		want   language.Tag
	}{
		{header: "", want: language.English},
		{header: "ru-RU,ru;q=0.9,en;q=0.8", want: language.Russian},
		{header: "en-US", want: language.English},
		{header: "de-DE", want: language.English},
		{header: "not a header;;;", want: language.English},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchLanguage(tc.header))
		})
	}
}

func TestMessageCoversEveryKind(t *testing.T) {
	for _, kind := range Kinds {
		for _, tag := range SupportedLanguages {
			msg := Message(kind, tag)
			assert.NotEmpty(t, msg)
			assert.NotEqual(t, string(kind), msg, "missing %s text for %s", tag, kind)
		}
	}
}

func TestMessageLocalized(t *testing.T) {
	assert.Equal(t, "This key has already been used.", Message(KindAlreadyUsed, language.English))
	assert.Equal(t, "Этот ключ уже использован.", Message(KindAlreadyUsed, language.Russian))
	assert.Equal(t, "Доступ активирован.", SuccessMessage(language.Russian))
	assert.Equal(t, "Key not found.", Message(KindKeyNotFound, language.German))
}
