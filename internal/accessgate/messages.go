package accessgate

import "golang.org/x/text/language"

var reasonTexts = map[language.Tag]map[Reason]string{
	language.English: {
		ReasonAuthLoading:          "Checking your session. Try again in a moment.",
		ReasonUnauthenticated:      "Sign in to continue.",
		ReasonInactiveSubscription: "Your access is not active. Activate a key to continue.",
	},
	language.Russian: {
		ReasonAuthLoading:          "Проверяем сессию. Повторите попытку через мгновение.",
		ReasonUnauthenticated:      "Войдите, чтобы продолжить.",
		ReasonInactiveSubscription: "Доступ не активен. Активируйте ключ, чтобы продолжить.",
	},
}

// Message returns the display text explaining why the gate is locked.
// Unknown languages fall back to English.
func Message(reason Reason, tag language.Tag) string {
	texts, ok := reasonTexts[tag]
	if !ok {
		texts = reasonTexts[language.English]
	}
	if text, ok := texts[reason]; ok {
		return text
	}
	return reasonTexts[language.English][reason]
}
