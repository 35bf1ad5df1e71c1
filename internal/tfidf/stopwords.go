package tfidf

// stopListLocked returns the immutable stop-word snapshot for a language.
// Externally supplied lists win; otherwise the learned list (possibly nil).
// Caller must hold at least the read lock.
func (e *Engine) stopListLocked(lang string) map[string]struct{} {
	if list, ok := e.cfg.StopWords[lang]; ok {
		set := make(map[string]struct{}, len(list))
		for _, w := range list {
			set[w] = struct{}{}
		}
		return set
	}
	return e.autoStop[lang]
}

// maybeLearnStopWordsLocked derives the stop list for lang by scanning the
// inverted index, once the shard holds enough documents. Runs as an explicit
// phase before tokenizing a new document; tokenization then reads the
// resulting immutable snapshot. Caller must hold the write lock.
//
// The document being ingested already has its placeholder in e.docs but no
// postings yet, so the count and threshold use the prior documents only. An
// empty scan leaves autoStop unset so learning retries on the next ingest.
func (e *Engine) maybeLearnStopWordsLocked(lang string) {
	if _, external := e.cfg.StopWords[lang]; external {
		return
	}
	if e.autoStop[lang] != nil {
		return
	}
	prior := len(e.docs) - 1
	if prior < stopLearnMinDocs {
		return
	}

	threshold := float64(prior) * stopLearnRatio
	learned := make(map[string]struct{})
	for word, posting := range e.iindex {
		if float64(len(posting.Docs)) >= threshold {
			learned[word] = struct{}{}
		}
	}
	if len(learned) > 0 {
		e.autoStop[lang] = learned
	}
}

// StopWords returns the active stop list for a language, for inspection.
func (e *Engine) StopWords(lang string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := e.stopListLocked(lang)
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	return out
}
