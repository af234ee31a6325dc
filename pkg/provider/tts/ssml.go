package tts

import (
	"strings"

	"github.com/MrWong99/babelcast/pkg/provider"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeXML escapes the five XML metacharacters.
func EscapeXML(s string) string { return xmlEscaper.Replace(s) }

// SSMLLang returns the xml:lang value for lang. A tag with a region is used
// as is; a bare language becomes "xx-XX" (e.g. "de" → "de-DE").
func SSMLLang(lang string) string {
	if strings.Contains(lang, "-") {
		return lang
	}
	base := provider.BaseLanguage(lang)
	if base == "" {
		return "en-US"
	}
	return base + "-" + strings.ToUpper(base)
}

// BuildSSML renders a single-voice SSML document for text.
func BuildSSML(text, lang, voice string) string {
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="`)
	b.WriteString(EscapeXML(SSMLLang(lang)))
	b.WriteString(`"><voice name="`)
	b.WriteString(EscapeXML(voice))
	b.WriteString(`">`)
	b.WriteString(EscapeXML(text))
	b.WriteString(`</voice></speak>`)
	return b.String()
}
