// Package normalize turns raw chat text into the deterministic features the grouper
// matches on: a signal set, a canonical grouping key and an intent fingerprint.
package normalize

import (
	"sort"
	"strings"
)

// NormalizedMessage is derived from a message's text and never persisted.
type NormalizedMessage struct {
	Text    string
	Signals []string
}

// Normalize lowercases and trims text and extracts its signals. Every detector runs
// independently and the results are unioned; the returned signals are deduplicated and
// sorted only so output is stable.
func Normalize(text string) NormalizedMessage {
	lowered := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	doc := newDocument(lowered)

	signals := newSignalSet()

	for _, code := range errorCodePattern.FindAllString(lowered, -1) {
		signals.add(code)
	}

	for _, phrase := range errorPhrases {
		if !doc.has(phrase) {
			continue
		}
		for _, word := range strings.Fields(phrase) {
			if len(word) < 3 {
				continue
			}
			if _, stop := stopWords[word]; stop {
				continue
			}
			signals.add(word)
		}
	}

	for _, list := range [][]string{roleKeywords, permissionVerbs, objectKeywords, authTerms} {
		for _, kw := range list {
			if doc.has(kw) {
				signals.add(kw)
			}
		}
	}

	for _, kw := range platformKeywords {
		if doc.has(kw) {
			signals.add(platformPrefix + underscore(kw))
		}
	}

	for _, kw := range featureKeywords {
		if doc.has(kw) {
			signals.add(featurePrefix + underscore(kw))
		}
	}

	for _, ep := range endpointPattern.FindAllString(lowered, -1) {
		ep = strings.Trim(strings.ReplaceAll(ep, "/", "_"), "_")
		if ep != "" {
			signals.add(ep)
		}
	}

	for _, tok := range doc.tokens {
		if len(tok) < 4 || numericPattern.MatchString(tok) {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		word := Stem(tok)
		if len(word) < 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if signals.subsumes(word) {
			continue
		}
		signals.add(word)
	}

	return NormalizedMessage{Text: lowered, Signals: signals.list()}
}

// Stem strips one light English suffix: -ing, -ed or a trailing -s.
func Stem(word string) string {
	switch {
	case strings.HasSuffix(word, "ing") && len(word)-3 >= 3:
		return word[:len(word)-3]
	case strings.HasSuffix(word, "ed") && len(word)-2 >= 3:
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && len(word)-1 >= 3:
		return word[:len(word)-1]
	}
	return word
}

// StripPrefix removes the platform_/feature_ marker from a signal.
func StripPrefix(signal string) string {
	for _, prefix := range []string{platformPrefix, featurePrefix} {
		if strings.HasPrefix(signal, prefix) {
			return signal[len(prefix):]
		}
	}
	return signal
}

// NormalizeSignal maps a signal onto its canonical spelling: synonyms are resolved and
// detector prefixes stripped.
func NormalizeSignal(signal string) string {
	s := strings.TrimSpace(strings.ToLower(signal))
	if mapped, ok := synonyms[s]; ok {
		s = mapped
	}
	s = StripPrefix(s)
	if mapped, ok := synonyms[s]; ok {
		s = mapped
	}
	return underscore(s)
}

func underscore(s string) string {
	return strings.Join(strings.Fields(s), "_")
}

// document indexes lowercased text for whole-word and phrase lookups.
type document struct {
	tokens []string
	padded string
}

func newDocument(lowered string) document {
	tokens := tokenPattern.FindAllString(lowered, -1)
	return document{
		tokens: tokens,
		padded: " " + strings.Join(tokens, " ") + " ",
	}
}

func (d document) has(phrase string) bool {
	return strings.Contains(d.padded, " "+phrase+" ")
}

type signalSet struct {
	seen  map[string]struct{}
	order []string
}

func newSignalSet() *signalSet {
	return &signalSet{seen: map[string]struct{}{}}
}

func (s *signalSet) add(signal string) {
	if signal == "" {
		return
	}
	if _, ok := s.seen[signal]; ok {
		return
	}
	s.seen[signal] = struct{}{}
	s.order = append(s.order, signal)
}

// subsumes reports whether word is already represented by a signal, comparing against
// the un-prefixed form.
func (s *signalSet) subsumes(word string) bool {
	for _, existing := range s.order {
		if strings.Contains(StripPrefix(existing), word) {
			return true
		}
	}
	return false
}

func (s *signalSet) list() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	sort.Strings(out)
	return out
}
