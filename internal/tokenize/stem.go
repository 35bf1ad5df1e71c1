package tokenize

import (
	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/english"
	"github.com/blevesearch/snowballstem/french"
	"github.com/blevesearch/snowballstem/german"
	"github.com/blevesearch/snowballstem/russian"
	"github.com/blevesearch/snowballstem/spanish"
)

// stemFunc is the snowball per-language entry point signature.
type stemFunc func(env *snowballstem.Env) bool

// stemmers maps supported ISO codes to their snowball stemmer.
// Other languages pass through unchanged (identity stemmer).
var stemmers = map[string]stemFunc{
	"en": english.Stem,
	"es": spanish.Stem,
	"ru": russian.Stem,
	"fr": french.Stem,
	"de": german.Stem,
}

// Stem reduces word to its stem for the given language.
func Stem(word string, lang string) string {
	fn, ok := stemmers[lang]
	if !ok {
		return word
	}
	env := snowballstem.NewEnv(word)
	fn(env)
	return env.Current()
}
