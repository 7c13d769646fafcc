// Package textnorm normalizes article text and source labels before they
// reach the Fingerprinter or the store, following the teacher's
// lowercase/collapse-whitespace/strip-control approach but retaining CJK
// runes and folding full-width forms so shingles computed downstream are
// stable regardless of which width variant a source publishes.
package textnorm

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var trackingQueryKeys = map[string]struct{}{
	"gclid": {}, "fbclid": {}, "ref": {}, "ref_src": {}, "mc_cid": {}, "mc_eid": {},
	"igshid": {}, "spm": {}, "from": {},
}

// Content lowercases, NFC-normalizes, folds full-width runes to their
// half-width equivalent, collapses runs of whitespace to a single space,
// strips control characters, and strips punctuation used only for
// typography. CJK letters are never stripped: unicode.IsLetter is true for
// them and they pass through unchanged aside from width folding.
func Content(input string) string {
	folded := width.Fold.String(norm.NFC.String(input))
	trimmed := strings.TrimSpace(strings.ToLower(folded))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			// dropped
		case isTypographicPunctuation(r):
			// dropped, but does not collapse into a space: "U.S." and "US"
			// should shingle the same way as "us"
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isTypographicPunctuation(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return false
	}
	switch r {
	case '.', ',', '!', '?', ';', ':', '"', '\'', '`', '(', ')', '[', ']',
		'{', '}', '<', '>', '/', '\\', '|', '~', '*', '-', '_', '=', '+',
		'“', '”', '‘', '’', '、', '。', '「', '」', '『', '』', '，', '！', '？', '；', '：':
		return true
	}
	return false
}

// Source canonicalizes a free-text publisher label the way the teacher's
// normalizeCollectionLabel does (lowercase, trimmed). Nothing in the
// service calls it: source is stored and filtered as submitted.
func Source(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}

// CanonicalURL strips utm_*/tracking parameters, lowercases the host,
// drops default ports, and sorts remaining query keys, mirroring the
// teacher's normalizeURL. Nothing in the service calls it; the core spec
// does not require it.
func CanonicalURL(raw string) (canonical string, host string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			parsed.Host = parsed.Host + ":" + port
		}
	}
	parsed.Fragment = ""

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	if len(q) > 0 {
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		reordered := url.Values{}
		for _, key := range keys {
			values := q[key]
			sort.Strings(values)
			for _, v := range values {
				reordered.Add(key, v)
			}
		}
		parsed.RawQuery = reordered.Encode()
	} else {
		parsed.RawQuery = ""
	}

	return parsed.String(), parsed.Hostname()
}
