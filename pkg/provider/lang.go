package provider

import "strings"

// BaseLanguage reduces a BCP-47 tag to its primary subtag, lower-cased:
// "en-US" → "en", "zh_Hans" → "zh". An empty tag stays empty.
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
