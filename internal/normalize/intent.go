package normalize

import "strings"

type Action string

const (
	ActionBug           Action = "bug"
	ActionAccessControl Action = "access_control"
	ActionAddFeature    Action = "add_feature"
	ActionStyleChange   Action = "style_change"
)

// IntentFingerprint is a coarse "what is being asked about what" summary. Key is only
// set when both an action and an object resolved, so a request can never be grouped on
// a bare color or adjective.
type IntentFingerprint struct {
	Action *Action `json:"action"`
	Object *string `json:"object"`
	Value  *string `json:"value"`
	Key    *string `json:"key"`
}

// ComputeIntentFingerprint derives the fingerprint from text and its signals. The action
// is chosen by priority bug > access_control > add_feature > style_change.
func ComputeIntentFingerprint(text string, signals []string) IntentFingerprint {
	lowered := strings.ToLower(text)
	doc := newDocument(lowered)
	signalSet := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		signalSet[s] = struct{}{}
		signalSet[StripPrefix(s)] = struct{}{}
	}

	var fp IntentFingerprint

	action := detectAction(doc, lowered, signalSet)
	if action != "" {
		fp.Action = &action
	}

	if object := detectObject(doc, signals, signalSet); object != "" {
		fp.Object = &object
	}

	switch action {
	case ActionStyleChange:
		if v := detectColor(doc, lowered); v != "" {
			fp.Value = &v
		}
	case ActionAccessControl:
		for _, role := range roleKeywords {
			if doc.has(role) {
				v := NormalizeSignal(role)
				fp.Value = &v
				break
			}
		}
	}

	if fp.Action != nil && fp.Object != nil {
		value := "*"
		if fp.Value != nil {
			value = *fp.Value
		}
		key := string(*fp.Action) + "|" + *fp.Object + "|" + value
		fp.Key = &key
	}

	return fp
}

func detectAction(doc document, lowered string, signals map[string]struct{}) Action {
	if containsAny(doc, bugCues) || errorCodePattern.MatchString(lowered) {
		return ActionBug
	}
	if containsAny(doc, accessCues) {
		return ActionAccessControl
	}
	for _, role := range roleKeywords {
		if _, ok := signals[role]; ok && containsAny(doc, permissionVerbs) {
			return ActionAccessControl
		}
	}
	if containsAny(doc, featureCues) {
		return ActionAddFeature
	}
	if containsAny(doc, styleVerbs) && hasStyleToken(doc, lowered) {
		return ActionStyleChange
	}
	return ""
}

func detectObject(doc document, signals []string, signalSet map[string]struct{}) string {
	for _, list := range [][]string{uiComponents, objectKeywords} {
		for _, kw := range list {
			if _, ok := signalSet[kw]; ok || doc.has(kw) {
				return NormalizeSignal(kw)
			}
		}
	}
	for _, s := range signals {
		plain := StripPrefix(s)
		if _, stop := stopWords[plain]; stop {
			continue
		}
		if _, verb := crudVerbs[plain]; verb {
			continue
		}
		if _, color := colorWords[plain]; color {
			continue
		}
		return NormalizeSignal(plain)
	}
	return ""
}

func detectColor(doc document, lowered string) string {
	if hex := hexColorPattern.FindString(lowered); hex != "" {
		return hex
	}
	for _, tok := range doc.tokens {
		if _, ok := colorWords[tok]; !ok {
			continue
		}
		if tok == "color" || tok == "colour" || tok == "style" || tok == "theme" || tok == "font" {
			continue
		}
		return NormalizeSignal(tok)
	}
	return ""
}

func hasStyleToken(doc document, lowered string) bool {
	if hexColorPattern.MatchString(lowered) {
		return true
	}
	for _, tok := range doc.tokens {
		if _, ok := colorWords[tok]; ok {
			return true
		}
	}
	return false
}

func containsAny(doc document, phrases []string) bool {
	for _, p := range phrases {
		if doc.has(p) {
			return true
		}
	}
	return false
}
