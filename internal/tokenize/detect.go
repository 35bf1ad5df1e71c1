package tokenize

import (
	"strings"
	"unicode"
)

// latinMarkers are high-frequency function words used to tell Latin-script
// languages apart. Checked word-for-word against the sample, most hits wins.
var latinMarkers = map[string][]string{
	"es": {"el", "la", "los", "las", "es", "de", "que", "y", "un", "una", "por", "como"},
	"fr": {"le", "la", "les", "est", "et", "un", "une", "des", "dans", "que", "pour"},
	"de": {"der", "die", "das", "und", "ist", "ein", "eine", "nicht", "mit", "für", "von"},
	"en": {"the", "is", "and", "a", "an", "of", "to", "in", "that", "it", "for"},
}

// detectSampleRunes caps how much of the blob detection inspects.
const detectSampleRunes = 2048

// DetectLanguage guesses the ISO 2-letter code from the text. Script ranges
// decide CJK/Thai/Cyrillic; Latin scripts fall back to marker-word counting,
// with "en" as the default.
func DetectLanguage(text string) string {
	var han, kana, thai, cyrillic, latin, seen int
	for _, r := range text {
		seen++
		if seen > detectSampleRunes {
			break
		}
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Thai, r):
			thai++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}

	switch {
	case kana > 0:
		return "ja"
	case han > 0:
		return "zh"
	case thai > 0 && thai >= latin:
		return "th"
	case cyrillic > 0 && cyrillic >= latin:
		return "ru"
	}

	return detectLatin(text)
}

func detectLatin(text string) string {
	sample := strings.ToLower(text)
	if len(sample) > detectSampleRunes {
		sample = sample[:detectSampleRunes]
	}
	words := strings.FieldsFunc(sample, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}

	best, bestHits := "en", 0
	for lang, markers := range latinMarkers {
		hits := 0
		for _, m := range markers {
			if _, ok := set[m]; ok {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && lang == "en") {
			best, bestHits = lang, hits
		}
	}
	return best
}
