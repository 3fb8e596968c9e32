// Package i18n picks a message printer for CLI output. The printer's
// locale decides how counter values are grouped ("1,234" vs "1.234").
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the locales whose number formatting we honour.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
	language.French,
}

var matcher = language.NewMatcher(SupportedLangs)

// MatchLanguage returns the best supported language for a POSIX locale
// such as "de_DE.UTF-8" or a BCP 47 tag list such as "en-US,en;q=0.9".
func MatchLanguage(locale string) language.Tag {
	// Strip encoding and modifier (e.g. .UTF-8, @euro)
	if i := strings.IndexAny(locale, ".@"); i != -1 {
		locale = locale[:i]
	}
	locale = strings.ReplaceAll(locale, "_", "-")
	if locale == "" || locale == "C" || locale == "POSIX" {
		return DefaultLang
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return DefaultLang
	}
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// LangFromEnv reads the locale the way libc does: LC_ALL, then
// LC_NUMERIC, then LANG.
func LangFromEnv() language.Tag {
	for _, key := range []string{"LC_ALL", "LC_NUMERIC", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return MatchLanguage(v)
		}
	}
	return DefaultLang
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(LangFromEnv())
}
