package normalize

import (
	"sort"
	"strings"
)

const maxKeyTokens = 10

// CanonicalKey builds the exact-match grouping key for a signal set. The result does not
// depend on signal order or duplicates. It returns nil when no signal survives, and also
// for bare styling requests ("make it blue"): a color/style signal combined with a
// styling verb in text only produces a key when a UI component or object is present.
func CanonicalKey(signals []string, text string) *string {
	tokens := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		if n := NormalizeSignal(s); n != "" {
			tokens[n] = struct{}{}
		}
	}
	if len(tokens) == 0 {
		return nil
	}

	if hasStyleCue(tokens) && hasStyleVerb(text) && !hasSubject(tokens) {
		return nil
	}

	sorted := make([]string, 0, len(tokens))
	for t := range tokens {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)
	if len(sorted) > maxKeyTokens {
		sorted = sorted[:maxKeyTokens]
	}

	key := strings.Join(sorted, "|")
	return &key
}

func hasStyleCue(tokens map[string]struct{}) bool {
	for t := range tokens {
		if _, ok := colorWords[t]; ok {
			return true
		}
	}
	return false
}

func hasStyleVerb(text string) bool {
	if text == "" {
		return false
	}
	doc := newDocument(strings.ToLower(text))
	for _, v := range styleVerbs {
		if doc.has(v) {
			return true
		}
	}
	return false
}

func hasSubject(tokens map[string]struct{}) bool {
	for _, list := range [][]string{uiComponents, objectKeywords} {
		for _, kw := range list {
			if _, ok := tokens[NormalizeSignal(kw)]; ok {
				return true
			}
		}
	}
	return false
}
