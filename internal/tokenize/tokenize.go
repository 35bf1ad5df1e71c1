// Package tokenize implements the normalization pipeline feeding the TF-IDF
// engine: segmentation, punctuation stripping, locale lowercasing, stop-word
// removal, stemming, and optional vocabulary-backed spell correction.
//
// The pipeline is deterministic for a given (text, language, vocabulary
// snapshot, stop-list snapshot).
package tokenize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Config controls one tokenization run. StopWords and Vocabulary are
// immutable snapshots owned by the caller; the pipeline never mutates them.
type Config struct {
	// Lang is the ISO 2-letter code. Empty means autodetect from the text.
	Lang string

	// NoStemming disables the stemming stage.
	NoStemming bool

	// Autocorrect enables spell correction (English only). A correction is
	// accepted only if the corrected word exists in Vocabulary.
	Autocorrect bool

	// StopWords is the stop list for the resolved language.
	StopWords map[string]struct{}

	// Vocabulary is the local shard vocabulary used by spell correction.
	Vocabulary map[string]struct{}
}

// Tokenize normalizes text into an ordered sequence of stems and returns the
// resolved language code.
func Tokenize(text string, cfg Config) ([]string, string) {
	lang := cfg.Lang
	if lang == "" {
		lang = DetectLanguage(text)
	}

	words := segmentWords(text, lang)

	caser := cases.Lower(languageTag(lang))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimFunc(w, isPunctOrSymbol)
		if w == "" {
			continue
		}
		w = caser.String(w)

		if _, stop := cfg.StopWords[w]; stop {
			continue
		}
		if !cfg.NoStemming {
			w = Stem(w, lang)
		}
		if cfg.Autocorrect && lang == "en" {
			w = correct(w, cfg.Vocabulary)
		}
		if w != "" {
			out = append(out, w)
		}
	}
	return out, lang
}

func isPunctOrSymbol(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// languageTag maps an ISO code to an x/text tag, falling back to Und.
func languageTag(lang string) language.Tag {
	tag, err := language.Parse(lang)
	if err != nil {
		return language.Und
	}
	return tag
}
