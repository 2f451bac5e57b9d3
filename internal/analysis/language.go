package analysis

import (
	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DetectLanguage votes per page and returns the most frequent language.
func DetectLanguage(pages []string) language.Tag {
	if len(pages) == 0 {
		return language.Und
	}

	votes := make(map[string]int)
	for _, page := range pages {
		info := whatlanggo.Detect(page)
		code := info.Lang.Iso6391()
		if !info.IsReliable() || code == "" {
			continue
		}
		votes[code]++
	}

	var topLang string
	var topCount int
	for lang, count := range votes {
		if count > topCount || (count == topCount && lang < topLang) {
			topLang = lang
			topCount = count
		}
	}
	if topLang == "" {
		return language.Und
	}

	tag, err := language.Parse(topLang)
	if err != nil {
		return language.Und
	}
	return tag
}
