package tokenize

import (
	"github.com/blevesearch/segment"
)

// segmentWords splits text into words for the given language.
//
// ja/zh/th get dedicated handling: the UAX#29 segmenter emits ideographs one
// rune at a time, so consecutive ideograph and kana tokens are gathered back
// into a run and re-joined as overlapping bigrams (a lone character stands
// alone). Punctuation and any other token type end the run. Everything else
// relies on UAX#29 word boundaries, which also cover whitespace/comma/period
// splitting for Latin scripts.
func segmentWords(text string, lang string) []string {
	seg := segment.NewWordSegmenterDirect([]byte(text))

	cjk := lang == "ja" || lang == "zh" || lang == "th"
	var words []string
	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		words = append(words, bigrams(string(run))...)
		run = run[:0]
	}
	for seg.Segment() {
		if seg.Type() == segment.None {
			flush()
			continue
		}
		tok := seg.Text()
		if cjk && (seg.Type() == segment.Ideo || seg.Type() == segment.Kana) {
			run = append(run, []rune(tok)...)
			continue
		}
		flush()
		// Thai has no script-level word breaks, so a phrase arrives as one
		// multi-rune token; shingle it the same way.
		if lang == "th" && multiRune(tok) {
			words = append(words, bigrams(tok)...)
			continue
		}
		words = append(words, tok)
	}
	flush()
	return words
}

// multiRune reports whether s holds more than one rune.
func multiRune(s string) bool {
	n := 0
	for range s {
		n++
		if n > 1 {
			return true
		}
	}
	return false
}

// bigrams produces overlapping two-character shingles from a run, the same
// scheme CJK analyzers use when no dictionary segmenter is available.
func bigrams(run string) []string {
	runes := []rune(run)
	if len(runes) < 2 {
		return []string{run}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}
