package accessgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMessageCoversEveryLockedReason(t *testing.T) {
	for _, tag := range []language.Tag{language.English, language.Russian} {
		for _, reason := range []Reason{ReasonAuthLoading, ReasonUnauthenticated, ReasonInactiveSubscription} {
			assert.NotEmpty(t, Message(reason, tag), "%s/%s", tag, reason)
		}
	}
}

func TestMessageFallsBackToEnglish(t *testing.T) {
	assert.Equal(t, "Sign in to continue.", Message(ReasonUnauthenticated, language.German))
	assert.Equal(t, "Войдите, чтобы продолжить.", Message(ReasonUnauthenticated, language.Russian))
}
