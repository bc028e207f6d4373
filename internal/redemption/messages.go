package redemption

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// SupportedLanguages are the display languages for redemption messages.
// The first entry is the fallback.
var SupportedLanguages = []language.Tag{language.English, language.Russian}

const messageSuccess = "success"

var (
	messageCatalog  = buildCatalog()
	languageMatcher = language.NewMatcher(SupportedLanguages)
)

var messageTexts = map[language.Tag]map[string]string{
	language.English: {
		string(KindInvalidFormat):           "The key format is invalid.",
		string(KindNotAuthenticated):        "Sign in to activate a key.",
		string(KindRateLimited):             "Too many attempts. Try again later.",
		string(KindKeyNotFound):             "Key not found.",
		string(KindAlreadyUsed):             "This key has already been used.",
		string(KindInvalidKeyConfiguration): "This key cannot be activated. Contact support.",
		string(KindSubscriptionWriteFailed): "Activation failed. Contact support.",
		messageSuccess:                      "Access activated.",
	},
	language.Russian: {
		string(KindInvalidFormat):           "Неверный формат ключа.",
		string(KindNotAuthenticated):        "Войдите, чтобы активировать ключ.",
		string(KindRateLimited):             "Слишком много попыток. Попробуйте позже.",
		string(KindKeyNotFound):             "Ключ не найден.",
		string(KindAlreadyUsed):             "Этот ключ уже использован.",
		string(KindInvalidKeyConfiguration): "Этот ключ нельзя активировать. Обратитесь в поддержку.",
		string(KindSubscriptionWriteFailed): "Не удалось активировать доступ. Обратитесь в поддержку.",
		messageSuccess:                      "Доступ активирован.",
	},
}

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(SupportedLanguages[0]))
	for tag, texts := range messageTexts {
		for key, text := range texts {
			if err := b.SetString(tag, key, text); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// MatchLanguage picks the best supported language for an Accept-Language header.
func MatchLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return SupportedLanguages[0]
	}
	_, index, confidence := languageMatcher.Match(tags...)
	if confidence == language.No {
		return SupportedLanguages[0]
	}
	return SupportedLanguages[index]
}

// Message returns the display text for kind in tag.
func Message(kind Kind, tag language.Tag) string {
	return printer(tag).Sprintf(string(kind))
}

// SuccessMessage returns the display text for a successful activation.
func SuccessMessage(tag language.Tag) string {
	return printer(tag).Sprintf(messageSuccess)
}

func printer(tag language.Tag) *message.Printer {
	if _, ok := messageTexts[tag]; !ok {
		tag = SupportedLanguages[0]
	}
	return message.NewPrinter(tag, message.Catalog(messageCatalog))
}
