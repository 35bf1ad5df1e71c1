package tokenize

// correct returns the word unchanged when it is already in vocabulary, or an
// edit-distance-1 candidate that is. Unknown words with no in-vocabulary
// candidate pass through untouched so they still rank as ordinary terms.
func correct(word string, vocabulary map[string]struct{}) string {
	if len(vocabulary) == 0 || word == "" {
		return word
	}
	if _, ok := vocabulary[word]; ok {
		return word
	}
	for _, cand := range edits1(word) {
		if _, ok := vocabulary[cand]; ok {
			return cand
		}
	}
	return word
}

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// edits1 generates all strings one edit away from word: deletions,
// transpositions, replacements, and insertions, in that order. Order matters:
// earlier candidate classes are preferred by correct().
func edits1(word string) []string {
	runes := []rune(word)
	n := len(runes)
	out := make([]string, 0, 2*n*len(alphabet)+2*n)

	for i := 0; i < n; i++ {
		out = append(out, string(runes[:i])+string(runes[i+1:]))
	}
	for i := 0; i+1 < n; i++ {
		swapped := make([]rune, n)
		copy(swapped, runes)
		swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
		out = append(out, string(swapped))
	}
	for i := 0; i < n; i++ {
		for _, c := range alphabet {
			if c == runes[i] {
				continue
			}
			out = append(out, string(runes[:i])+string(c)+string(runes[i+1:]))
		}
	}
	for i := 0; i <= n; i++ {
		for _, c := range alphabet {
			out = append(out, string(runes[:i])+string(c)+string(runes[i:]))
		}
	}
	return out
}
