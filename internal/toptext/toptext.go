// Package toptext extracts the top_terms summary spec.md's SUPPLEMENTED
// FEATURES section (SPEC_FULL.md §2) adds to Cluster: a small, weighted
// list of the words that most distinguish a cluster's articles, grounded
// on original_source/utils.py's extract_top_terms word-frequency approach
// and reusing internal/fingerprint's tokenizer instead of re-splitting text.
package toptext

import (
	"sort"

	"horse.fit/simcluster/internal/fingerprint"
	"horse.fit/simcluster/internal/langdetect"
	"horse.fit/simcluster/internal/language"
)

// Term is one entry of a cluster's top_terms list, weight normalized to the
// most frequent term in the cluster (1.0) and rounded to 3 decimals.
type Term struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// MaxTerms bounds how many terms Extract returns per cluster.
const MaxTerms = 12

// Extract computes the top terms across a cluster's normalized article
// texts. It detects the language from the first text (its first 2000
// bytes) and filters that language's stop words before ranking by the
// number of articles each term appears in; if no
// language clears langdetect.MinConfidence, stop words are left in rather
// than risk filtering out real content in the wrong language's list.
func Extract(normalizedTexts []string) []Term {
	if len(normalizedTexts) == 0 {
		return nil
	}

	sample := normalizedTexts[0]
	if len(sample) > 2000 {
		sample = sample[:2000]
	}
	iso6391, _ := langdetect.Detect(sample)
	stop := stopWords[language.NormalizeCode(iso6391)]

	counts := make(map[string]int)
	for _, text := range normalizedTexts {
		seen := make(map[string]bool)
		for _, term := range fingerprint.TopTerms(text) {
			if len(term) < 3 || stop[term] {
				continue
			}
			if seen[term] {
				continue // count each term once per article, not once per occurrence
			}
			seen[term] = true
			counts[term]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > MaxTerms {
		terms = terms[:MaxTerms]
	}

	maxCount := float64(counts[terms[0]])
	out := make([]Term, len(terms))
	for i, term := range terms {
		out[i] = Term{Term: term, Weight: round3(float64(counts[term]) / maxCount)}
	}
	return out
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

// stopWords holds a small built-in list per language; article/cluster
// content is news prose, so a short high-frequency-word list is enough to
// keep top_terms from filling up with "the", "said", "on" and similar.
var stopWords = map[string]map[string]bool{
	"en": setOf("the", "and", "for", "that", "with", "was", "are", "this", "have", "has",
		"from", "not", "but", "they", "will", "said", "its", "his", "her", "their",
		"you", "your", "our", "who", "what", "when", "where", "how", "all", "more",
		"one", "two", "new", "after", "over", "into", "out", "than", "also", "been"),
	"es": setOf("que", "los", "las", "por", "para", "con", "una", "del", "se", "su",
		"como", "más", "pero", "sus", "fue", "ser", "está", "han", "este", "esta"),
	"fr": setOf("les", "des", "que", "pour", "dans", "une", "sur", "avec", "son", "ses",
		"est", "elle", "plus", "mais", "ont", "été", "cette", "leur", "sont"),
	"de": setOf("und", "der", "die", "das", "mit", "für", "auf", "ist", "sich", "dem",
		"den", "eine", "einen", "nach", "auch", "sind", "wird", "wurde", "über"),
}

func setOf(words ...string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}
